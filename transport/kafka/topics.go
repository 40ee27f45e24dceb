package kafka

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	kafkago "github.com/segmentio/kafka-go"

	loggingpkg "github.com/drblury/tenantbus/internal/runtime/logging"
)

// Admin is the part of a kafka-go connection TopicCreator uses.
type Admin interface {
	Controller() (kafkago.Broker, error)
	CreateTopics(topics ...kafkago.TopicConfig) error
	Close() error
}

// Dialer allows overriding the broker connection for testing.
var Dialer = func(ctx context.Context, addr string) (Admin, error) {
	return kafkago.DialContext(ctx, "tcp", addr)
}

// TopicCreator creates topics on the cluster controller. Topics it created
// or found existing are remembered and not requested again.
type TopicCreator struct {
	brokers     []string
	partitions  int
	replication int
	logger      loggingpkg.ServiceLogger

	mu    sync.Mutex
	known map[string]struct{}
}

func NewTopicCreator(brokers []string, partitions, replication int, logger loggingpkg.ServiceLogger) *TopicCreator {
	if partitions < 1 {
		partitions = 1
	}
	if replication < 1 {
		replication = 1
	}
	return &TopicCreator{
		brokers:     brokers,
		partitions:  partitions,
		replication: replication,
		logger:      loggingpkg.OrNop(logger),
		known:       make(map[string]struct{}),
	}
}

// EnsureTopics creates every topic not known yet.
func (c *TopicCreator) EnsureTopics(ctx context.Context, topics ...string) error {
	missing := c.unknown(topics)
	if len(missing) == 0 {
		return nil
	}

	admin, err := c.controller(ctx)
	if err != nil {
		return err
	}
	defer admin.Close()

	var errs []error
	for _, topic := range missing {
		err := admin.CreateTopics(kafkago.TopicConfig{
			Topic:             topic,
			NumPartitions:     c.partitions,
			ReplicationFactor: c.replication,
		})
		switch {
		case err == nil:
			c.logger.Info("Topic created", loggingpkg.LogFields{"topic": topic, "partitions": c.partitions})
		case errors.Is(err, kafkago.TopicAlreadyExists):
		default:
			errs = append(errs, fmt.Errorf("create topic %s: %w", topic, err))
			continue
		}
		c.remember(topic)
	}
	return errors.Join(errs...)
}

func (c *TopicCreator) unknown(topics []string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	seen := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		if _, ok := c.known[t]; ok {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func (c *TopicCreator) remember(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.known[topic] = struct{}{}
}

// controller connects to any seed broker, then to the controller it names.
func (c *TopicCreator) controller(ctx context.Context) (Admin, error) {
	if len(c.brokers) == 0 {
		return nil, errors.New("kafka: brokers are required")
	}

	var seed Admin
	var dialErrs []error
	for _, addr := range c.brokers {
		conn, err := Dialer(ctx, addr)
		if err == nil {
			seed = conn
			break
		}
		dialErrs = append(dialErrs, err)
	}
	if seed == nil {
		return nil, fmt.Errorf("dial kafka: %w", errors.Join(dialErrs...))
	}

	broker, err := seed.Controller()
	if err != nil {
		seed.Close()
		return nil, fmt.Errorf("find controller: %w", err)
	}
	seed.Close()

	admin, err := Dialer(ctx, net.JoinHostPort(broker.Host, strconv.Itoa(broker.Port)))
	if err != nil {
		return nil, fmt.Errorf("dial controller: %w", err)
	}
	return admin, nil
}
