package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAdmin struct {
	addr    string
	cluster *fakeCluster
}

type fakeCluster struct {
	mu         sync.Mutex
	controller kafkago.Broker
	dialed     []string
	created    []kafkago.TopicConfig
	existing   map[string]bool
	failTopic  string
	closed     int
}

func (a *fakeAdmin) Controller() (kafkago.Broker, error) { return a.cluster.controller, nil }

func (a *fakeAdmin) CreateTopics(topics ...kafkago.TopicConfig) error {
	c := a.cluster
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		if t.Topic == c.failTopic {
			return errors.New("not authorized")
		}
		if c.existing[t.Topic] {
			return kafkago.TopicAlreadyExists
		}
		c.created = append(c.created, t)
	}
	return nil
}

func (a *fakeAdmin) Close() error {
	a.cluster.mu.Lock()
	defer a.cluster.mu.Unlock()
	a.cluster.closed++
	return nil
}

func withCluster(t *testing.T, c *fakeCluster) {
	t.Helper()
	original := Dialer
	t.Cleanup(func() { Dialer = original })
	Dialer = func(_ context.Context, addr string) (Admin, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.dialed = append(c.dialed, addr)
		if addr == "down:9092" {
			return nil, errors.New("connection refused")
		}
		return &fakeAdmin{addr: addr, cluster: c}, nil
	}
}

func TestEnsureTopicsCreatesOnController(t *testing.T) {
	c := &fakeCluster{controller: kafkago.Broker{Host: "ctrl", Port: 9093}}
	withCluster(t, c)

	creator := NewTopicCreator([]string{"down:9092", "seed:9092"}, 3, 2, nil)
	require.NoError(t, creator.EnsureTopics(context.Background(), "folio.Default.diku.A", "folio.Default.diku.A", "folio.Default.diku.B"))

	assert.Equal(t, []string{"down:9092", "seed:9092", "ctrl:9093"}, c.dialed)
	require.Len(t, c.created, 2)
	assert.Equal(t, kafkago.TopicConfig{Topic: "folio.Default.diku.A", NumPartitions: 3, ReplicationFactor: 2}, c.created[0])
	assert.Equal(t, 2, c.closed)
}

func TestEnsureTopicsRemembersKnownTopics(t *testing.T) {
	c := &fakeCluster{
		controller: kafkago.Broker{Host: "ctrl", Port: 9093},
		existing:   map[string]bool{"exists": true},
	}
	withCluster(t, c)

	creator := NewTopicCreator([]string{"seed:9092"}, 0, 0, nil)
	require.NoError(t, creator.EnsureTopics(context.Background(), "exists", "fresh"))
	dials := len(c.dialed)

	require.NoError(t, creator.EnsureTopics(context.Background(), "exists", "fresh"))
	assert.Equal(t, dials, len(c.dialed), "known topics need no connection")
	require.Len(t, c.created, 1)
	assert.Equal(t, 1, c.created[0].NumPartitions)
}

func TestEnsureTopicsReportsFailuresAndRetriesLater(t *testing.T) {
	c := &fakeCluster{
		controller: kafkago.Broker{Host: "ctrl", Port: 9093},
		failTopic:  "forbidden",
	}
	withCluster(t, c)

	creator := NewTopicCreator([]string{"seed:9092"}, 1, 1, nil)
	err := creator.EnsureTopics(context.Background(), "forbidden", "ok")
	assert.ErrorContains(t, err, "create topic forbidden: not authorized")

	c.failTopic = ""
	require.NoError(t, creator.EnsureTopics(context.Background(), "forbidden"))
	assert.Len(t, c.created, 2)
}

func TestEnsureTopicsWithoutReachableBroker(t *testing.T) {
	withCluster(t, &fakeCluster{})

	err := NewTopicCreator([]string{"down:9092"}, 1, 1, nil).EnsureTopics(context.Background(), "x")
	assert.ErrorContains(t, err, "connection refused")

	err = NewTopicCreator(nil, 1, 1, nil).EnsureTopics(context.Background(), "x")
	assert.ErrorContains(t, err, "brokers are required")
}
