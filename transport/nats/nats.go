// Package nats provides a NATS Core publisher.
package nats

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/tenantbus/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "nats"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return nats.NewPublisher(cfg, logger)
}

// Register adds the NATS transport to the default registry.
func Register() {
	transport.Register(TransportName, Build)
}

// Build publishes with plain NATS Core semantics; JetStream is disabled.
func Build(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (message.Publisher, error) {
	url := cfg.GetNATSURL()
	if url == "" {
		return nil, errors.New("nats: URL is required")
	}
	return PublisherFactory(
		nats.PublisherConfig{
			URL:       url,
			Marshaler: &nats.NATSMarshaler{},
			JetStream: nats.JetStreamConfig{Disabled: true},
		},
		logger,
	)
}
