// Package transport builds the Watermill publishers the broker forwards
// records to. Each backend lives in its own sub-package and registers a
// Builder under its name.
package transport

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Builder creates a publisher from config.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (message.Publisher, error)

// Config is the subset of the broker configuration transports read.
type Config interface {
	// GetAuditTransport names the registered builder to use.
	GetAuditTransport() string

	GetKafkaBrokers() []string
	GetRabbitMQURL() string
	GetNATSURL() string
	GetHTTPPublisherURL() string

	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string
}

// StaticConfig is a plain-value Config, handy for embedding the broker and
// for tests.
type StaticConfig struct {
	Transport          string
	KafkaBrokers       []string
	RabbitMQURL        string
	NATSURL            string
	HTTPPublisherURL   string
	AWSRegion          string
	AWSAccountID       string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSEndpoint        string
}

func (c StaticConfig) GetAuditTransport() string     { return c.Transport }
func (c StaticConfig) GetKafkaBrokers() []string     { return c.KafkaBrokers }
func (c StaticConfig) GetRabbitMQURL() string        { return c.RabbitMQURL }
func (c StaticConfig) GetNATSURL() string            { return c.NATSURL }
func (c StaticConfig) GetHTTPPublisherURL() string   { return c.HTTPPublisherURL }
func (c StaticConfig) GetAWSRegion() string          { return c.AWSRegion }
func (c StaticConfig) GetAWSAccountID() string       { return c.AWSAccountID }
func (c StaticConfig) GetAWSAccessKeyID() string     { return c.AWSAccessKeyID }
func (c StaticConfig) GetAWSSecretAccessKey() string { return c.AWSSecretAccessKey }
func (c StaticConfig) GetAWSEndpoint() string        { return c.AWSEndpoint }
