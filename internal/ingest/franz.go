package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	loggingpkg "github.com/drblury/tenantbus/internal/runtime/logging"
)

const (
	defaultCommitInterval = time.Second
	commitFlushTimeout    = 5 * time.Second
)

// FranzConfig configures the franz-go backed consumer.
type FranzConfig struct {
	Brokers  []string
	ClientID string
	// CommitInterval is how often marked offsets are committed; one second
	// when zero.
	CommitInterval time.Duration
	// Opts are appended after the options FranzConsumer sets itself.
	Opts []kgo.Opt
}

// FranzConsumer implements Consumer on a franz-go client: regex topic
// consumption, topic-level fetch pausing, and offsets that are marked per
// record and committed in the background.
type FranzConsumer struct {
	cfg    FranzConfig
	logger loggingpkg.ServiceLogger

	mu     sync.Mutex
	hooks  *franzHooks
	topics map[string]struct{}
	paused bool
}

// franzHooks are the client calls FranzConsumer makes, swappable in tests.
type franzHooks struct {
	poll           func(context.Context) kgo.Fetches
	allowRebalance func()
	markCommit     func(*kgo.Record)
	commitMarked   func(context.Context) error
	pauseFetch     func(...string) []string
	resumeFetch    func(...string)
	leaveGroup     func()
	closeClient    func()
}

// NewFranzConsumer returns an unsubscribed consumer; the client is created by Subscribe.
func NewFranzConsumer(cfg FranzConfig, logger loggingpkg.ServiceLogger) *FranzConsumer {
	return &FranzConsumer{
		cfg:    cfg,
		logger: loggingpkg.OrNop(logger),
		topics: make(map[string]struct{}),
	}
}

func (f *FranzConsumer) Subscribe(_ context.Context, group, pattern string) error {
	if len(f.cfg.Brokers) == 0 {
		return errors.New("kafka: brokers are required")
	}
	interval := f.cfg.CommitInterval
	if interval <= 0 {
		interval = defaultCommitInterval
	}
	opts := []kgo.Opt{
		kgo.SeedBrokers(f.cfg.Brokers...),
		kgo.ConsumerGroup(group),
		kgo.ConsumeRegex(),
		kgo.ConsumeTopics(pattern),
		kgo.AutoCommitMarks(),
		kgo.AutoCommitInterval(interval),
		kgo.BlockRebalanceOnPoll(),
		kgo.OnPartitionsAssigned(func(_ context.Context, _ *kgo.Client, assigned map[string][]int32) {
			f.assigned(assigned)
		}),
	}
	if f.cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(f.cfg.ClientID))
	}
	opts = append(opts, f.cfg.Opts...)

	cl, err := kgo.NewClient(opts...)
	if err != nil {
		return fmt.Errorf("new kafka client: %w", err)
	}
	f.bind(cl)
	f.logger.Info("Kafka consumer subscribed", loggingpkg.LogFields{"group": group, "pattern": pattern})
	return nil
}

func (f *FranzConsumer) bind(cl *kgo.Client) {
	f.setHooks(&franzHooks{
		poll:           func(ctx context.Context) kgo.Fetches { return cl.PollFetches(ctx) },
		allowRebalance: cl.AllowRebalance,
		markCommit:     func(r *kgo.Record) { cl.MarkCommitRecords(r) },
		commitMarked:   func(ctx context.Context) error { return cl.CommitMarkedOffsets(ctx) },
		pauseFetch:     cl.PauseFetchTopics,
		resumeFetch:    cl.ResumeFetchTopics,
		leaveGroup:     cl.LeaveGroup,
		closeClient:    cl.Close,
	})
}

func (f *FranzConsumer) setHooks(h *franzHooks) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hooks = h
}

// current returns the bound hooks, or nil before Subscribe and after Close.
func (f *FranzConsumer) current() *franzHooks {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hooks
}

func (f *FranzConsumer) Poll(ctx context.Context) ([]*Record, error) {
	h := f.current()
	if h == nil {
		return nil, ErrConsumerClosed
	}
	fetches := h.poll(ctx)
	defer h.allowRebalance()

	if fetches.IsClientClosed() {
		return nil, ErrConsumerClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var records []*Record
	fetches.EachRecord(func(r *kgo.Record) {
		records = append(records, fromKgo(r))
	})
	f.remember(records)

	if errs := fetches.Errors(); len(errs) > 0 && len(records) == 0 {
		fe := errs[0]
		return nil, fmt.Errorf("fetch %s[%d]: %w", fe.Topic, fe.Partition, fe.Err)
	}
	return records, nil
}

func (f *FranzConsumer) remember(records []*Record) {
	if len(records) == 0 {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range records {
		f.topics[r.Topic] = struct{}{}
	}
}

// assigned records the topics of a new assignment. Topics that appear while
// the consumer is paused are paused right away, so a tenant topic created
// during a pause does not start fetching.
func (f *FranzConsumer) assigned(assignment map[string][]int32) {
	f.mu.Lock()
	var fresh []string
	for topic := range assignment {
		if _, ok := f.topics[topic]; !ok {
			f.topics[topic] = struct{}{}
			fresh = append(fresh, topic)
		}
	}
	pause := f.paused && len(fresh) > 0
	h := f.hooks
	f.mu.Unlock()

	if pause && h != nil {
		h.pauseFetch(fresh...)
	}
}

// Pause stops fetching every assigned or consumed topic, and every topic
// assigned until Resume.
func (f *FranzConsumer) Pause() {
	f.mu.Lock()
	f.paused = true
	h := f.hooks
	topics := make([]string, 0, len(f.topics))
	for t := range f.topics {
		topics = append(topics, t)
	}
	f.mu.Unlock()

	if h != nil && len(topics) > 0 {
		h.pauseFetch(topics...)
	}
}

// Resume restarts fetching of every paused topic.
func (f *FranzConsumer) Resume() {
	f.mu.Lock()
	f.paused = false
	h := f.hooks
	f.mu.Unlock()

	if h != nil {
		h.resumeFetch(h.pauseFetch()...)
	}
}

// Commit marks rec; the client commits marked offsets every CommitInterval
// and when the consumer leaves its group.
func (f *FranzConsumer) Commit(_ context.Context, rec *Record) error {
	h := f.current()
	if h == nil {
		return ErrConsumerClosed
	}
	// marking commits Offset+1
	h.markCommit(&kgo.Record{
		Topic:       rec.Topic,
		Partition:   rec.Partition,
		Offset:      rec.Offset,
		LeaderEpoch: rec.LeaderEpoch,
	})
	return nil
}

// Unsubscribe flushes marked offsets and leaves the group. A failed flush is
// returned after leaving; those records are consumed again by the next member.
func (f *FranzConsumer) Unsubscribe() error {
	h := f.current()
	if h == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), commitFlushTimeout)
	defer cancel()
	err := h.commitMarked(ctx)
	h.leaveGroup()
	if err != nil {
		return fmt.Errorf("commit marked offsets: %w", err)
	}
	return nil
}

func (f *FranzConsumer) Close() error {
	f.mu.Lock()
	h := f.hooks
	f.hooks = nil
	f.mu.Unlock()

	if h != nil {
		h.closeClient()
	}
	return nil
}

func fromKgo(r *kgo.Record) *Record {
	headers := make([]Header, 0, len(r.Headers))
	for _, h := range r.Headers {
		headers = append(headers, Header{Key: h.Key, Value: h.Value})
	}
	return &Record{
		Topic:       r.Topic,
		Partition:   r.Partition,
		Offset:      r.Offset,
		LeaderEpoch: r.LeaderEpoch,
		Key:         r.Key,
		Value:       r.Value,
		Headers:     headers,
	}
}
