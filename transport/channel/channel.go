// Package channel provides an in-process Go channel publisher, used for
// local development and tests.
package channel

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/tenantbus/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "channel"

// Factory allows overriding the channel creation for testing.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) *gochannel.GoChannel {
	return gochannel.NewGoChannel(cfg, logger)
}

func init() {
	transport.Register(TransportName, Build)
}

// Build returns a GoChannel. Callers that need to read what was published can
// type-assert the result to message.Subscriber.
func Build(_ context.Context, _ transport.Config, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return Factory(gochannel.Config{Persistent: true}, logger), nil
}
