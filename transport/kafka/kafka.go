// Package kafka provides the Kafka publisher the broker writes events and
// resends with, and topic provisioning for published event types.
package kafka

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/tenantbus/internal/runtime/metadata"
	"github.com/drblury/tenantbus/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "kafka"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return kafka.NewPublisher(cfg, logger)
}

func init() {
	transport.Register(TransportName, Build)
}

// Build creates a Kafka publisher from the shared broker list.
func Build(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return NewPublisher(cfg.GetKafkaBrokers(), logger)
}

// NewPublisher returns a publisher whose records are keyed by the
// metadata.RecordKey value of each message, so keyed records land on the
// same partition when republished.
func NewPublisher(brokers []string, logger watermill.LoggerAdapter) (message.Publisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka: brokers are required")
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return PublisherFactory(
		kafka.PublisherConfig{
			Brokers:   brokers,
			Marshaler: Marshaler(),
		},
		logger,
	)
}

// Marshaler writes metadata as record headers and metadata.RecordKey as the key.
func Marshaler() kafka.MarshalerUnmarshaler {
	return kafka.NewWithPartitioningMarshaler(RecordKey)
}

// RecordKey extracts the partition key of msg.
func RecordKey(_ string, msg *message.Message) (string, error) {
	return msg.Metadata.Get(metadata.RecordKey), nil
}
