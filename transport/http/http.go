// Package http provides a publisher that POSTs messages to {url}{topic}. The
// tenant of an audit record travels in the X-Okapi-Tenant header so the
// receiving side can route it without parsing the body.
package http

import (
	"context"
	"errors"
	nethttp "net/http"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-http/v2/pkg/http"
	"github.com/ThreeDotsLabs/watermill/message"

	metadatapkg "github.com/drblury/tenantbus/internal/runtime/metadata"
	"github.com/drblury/tenantbus/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "http"

const tenantHeader = "X-Okapi-Tenant"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(config http.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return http.NewPublisher(config, logger)
}

func init() {
	transport.Register(TransportName, Build)
}

// Build creates the publisher for cfg.GetHTTPPublisherURL.
func Build(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (message.Publisher, error) {
	publisherURL := cfg.GetHTTPPublisherURL()
	if publisherURL == "" {
		return nil, errors.New("http: publisher URL is required")
	}
	return PublisherFactory(
		http.PublisherConfig{
			MarshalMessageFunc: func(topic string, msg *message.Message) (*nethttp.Request, error) {
				req, err := http.DefaultMarshalMessageFunc(publisherURL+topic, msg)
				if err != nil {
					return nil, err
				}
				if tenant := msg.Metadata.Get(metadatapkg.TenantID); tenant != "" {
					req.Header.Set(tenantHeader, tenant)
				}
				return req, nil
			},
		},
		logger,
	)
}
