package runtime

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/drblury/tenantbus/internal/domain"
	"github.com/drblury/tenantbus/internal/ingest"
	"github.com/drblury/tenantbus/internal/registry"
	configpkg "github.com/drblury/tenantbus/internal/runtime/config"
	loggingpkg "github.com/drblury/tenantbus/internal/runtime/logging"
	"github.com/drblury/tenantbus/internal/security"
)

type logEntry struct {
	level string
	msg   string
}

// recordingLogger keeps every entry; With returns the same logger.
type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *recordingLogger) add(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, logEntry{level: level, msg: msg})
}

func (l *recordingLogger) With(loggingpkg.LogFields) loggingpkg.ServiceLogger { return l }
func (l *recordingLogger) Debug(msg string, _ loggingpkg.LogFields)          { l.add("debug", msg) }
func (l *recordingLogger) Info(msg string, _ loggingpkg.LogFields)           { l.add("info", msg) }
func (l *recordingLogger) Error(msg string, _ error, _ loggingpkg.LogFields) { l.add("error", msg) }
func (l *recordingLogger) Trace(msg string, _ loggingpkg.LogFields)          { l.add("trace", msg) }

func (l *recordingLogger) level(level string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, e := range l.entries {
		if e.level == level {
			out = append(out, e.msg)
		}
	}
	return out
}

func (l *recordingLogger) debugs() []string { return l.level("debug") }
func (l *recordingLogger) errors() []string { return l.level("error") }

type publishedMessage struct {
	topic string
	msg   *message.Message
}

type testPublisher struct {
	mu        sync.Mutex
	published []publishedMessage
	err       error
	closed    int
}

func (p *testPublisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	for _, m := range messages {
		p.published = append(p.published, publishedMessage{topic: topic, msg: m})
	}
	return nil
}

func (p *testPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	return nil
}

func (p *testPublisher) messages() []publishedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]publishedMessage(nil), p.published...)
}

type fakeIdentity struct {
	mu           sync.Mutex
	tokenErr     error
	provisionErr error
	provisioned  []security.ConnectionParams
	logins       []security.ConnectionParams
	invalidated  []string
}

func (f *fakeIdentity) AccessToken(_ context.Context, params security.ConnectionParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logins = append(f.logins, params)
	if f.tokenErr != nil {
		return "", f.tokenErr
	}
	return "token-" + params.TenantID, nil
}

func (f *fakeIdentity) Invalidate(tenant string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, tenant)
}

func (f *fakeIdentity) CreatePubSubUser(_ context.Context, params security.ConnectionParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.provisioned = append(f.provisioned, params)
	return f.provisionErr
}

type fakeTopics struct {
	mu     sync.Mutex
	topics []string
	err    error
}

func (f *fakeTopics) EnsureTopics(_ context.Context, topics ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.topics = append(f.topics, topics...)
	return nil
}

func (f *fakeTopics) created() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.topics...)
}

// fakeConsumer feeds records pushed through deliver to the governor.
type fakeConsumer struct {
	batches chan []*ingest.Record
	closed  chan struct{}

	mu        sync.Mutex
	group     string
	pattern   string
	committed []int64
	closeOnce sync.Once
}

func newFakeConsumer() *fakeConsumer {
	return &fakeConsumer{
		batches: make(chan []*ingest.Record, 8),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConsumer) Subscribe(_ context.Context, group, pattern string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.group, c.pattern = group, pattern
	return nil
}

func (c *fakeConsumer) Poll(ctx context.Context) ([]*ingest.Record, error) {
	select {
	case recs := <-c.batches:
		return recs, nil
	case <-c.closed:
		return nil, ingest.ErrConsumerClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConsumer) Pause()  {}
func (c *fakeConsumer) Resume() {}

func (c *fakeConsumer) Commit(_ context.Context, rec *ingest.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.committed = append(c.committed, rec.Offset)
	return nil
}

func (c *fakeConsumer) Unsubscribe() error { return nil }

func (c *fakeConsumer) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConsumer) deliver(recs ...*ingest.Record) {
	c.batches <- recs
}

func (c *fakeConsumer) commits() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int64(nil), c.committed...)
}

func (c *fakeConsumer) subscription() (string, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.group, c.pattern
}

// memorySink collects audit records and answers queries about them.
type memorySink struct {
	mu   sync.Mutex
	msgs []domain.AuditMessage
}

func (s *memorySink) Record(_ context.Context, msg domain.AuditMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
}

func (s *memorySink) AuditMessages(_ context.Context, filter domain.AuditFilter) ([]domain.AuditMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AuditMessage
	for _, m := range s.msgs {
		if filter.TenantID != "" && m.TenantID != filter.TenantID {
			continue
		}
		if filter.EventID != "" && m.EventID != filter.EventID {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *memorySink) states(eventID string) []domain.AuditState {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AuditState
	for _, m := range s.msgs {
		if m.EventID == eventID {
			out = append(out, m.State)
		}
	}
	return out
}

// inlineScheduler runs resend callbacks right away.
type inlineScheduler struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *inlineScheduler) AfterFunc(d time.Duration, f func()) {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	f()
}

// fixture bundles a Service built entirely from fakes.
type fixture struct {
	svc       *Service
	conf      *configpkg.Config
	publisher *testPublisher
	identity  *fakeIdentity
	topics    *fakeTopics
	sink      *memorySink
	scheduler *inlineScheduler
	logger    *recordingLogger

	mu        sync.Mutex
	consumers map[string]*fakeConsumer
}

func testConfig(okapiURL string) *configpkg.Config {
	return &configpkg.Config{
		Env:                    "folio",
		KafkaNamespace:         "Default",
		KafkaBrokers:           []string{"localhost:9092"},
		KafkaPartitions:        1,
		KafkaReplicationFactor: 1,
		ModuleIdentity:         "mod-pubsub",
		LoadLimit:              5,
		MaxResendNumber:        2,
		ResendDelayQuantumMS:   1,
		HTTPTimeoutMS:          1000,
		DeliveryMaxAuthRetries: 1,
		OkapiURL:               okapiURL,
		SystemUserName:         "pub-sub",
		RegistryStore:          configpkg.StoreMemory,
		AuditSink:              configpkg.AuditSinkLog,
		MetricsEnabled:         true,
	}
}

func newFixture(t *testing.T, mutate ...func(*configpkg.Config, *ServiceDependencies)) *fixture {
	t.Helper()
	return newFixtureWithOkapi(t, "http://okapi:9130", mutate...)
}

func newFixtureWithOkapi(t *testing.T, okapiURL string, mutate ...func(*configpkg.Config, *ServiceDependencies)) *fixture {
	t.Helper()

	f := &fixture{
		conf:      testConfig(okapiURL),
		publisher: &testPublisher{},
		identity:  &fakeIdentity{},
		topics:    &fakeTopics{},
		sink:      &memorySink{},
		scheduler: &inlineScheduler{},
		logger:    &recordingLogger{},
		consumers: make(map[string]*fakeConsumer),
	}
	deps := ServiceDependencies{
		Store:       registry.NewMemoryStore(),
		AuditSink:   f.sink,
		AuditReader: f.sink,
		Identity:    f.identity,
		ConsumerFactory: func(eventType string) (ingest.Consumer, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			c := newFakeConsumer()
			f.consumers[eventType] = c
			return c, nil
		},
		PublisherFactory: func() (message.Publisher, error) { return f.publisher, nil },
		Topics:           f.topics,
		Scheduler:        f.scheduler,
		Registerer:       prometheus.NewRegistry(),
	}
	for _, m := range mutate {
		m(f.conf, &deps)
	}

	svc, err := NewService(context.Background(), f.conf, f.logger, deps)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Stop(ctx)
	})
	f.svc = svc
	return f
}

func (f *fixture) consumer(eventType string) *fakeConsumer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.consumers[eventType]
}

// registerPair registers mod-inventory as publisher and mod-search as
// subscriber of eventType in tenant diku.
func (f *fixture) registerPair(t *testing.T, eventType, callback string) {
	t.Helper()
	ctx := context.Background()
	_, err := f.svc.RegisterModule(ctx, registry.Descriptor{
		TenantID:     "diku",
		ModuleID:     "mod-inventory",
		Publications: []string{eventType},
	})
	require.NoError(t, err)
	_, err = f.svc.RegisterModule(ctx, registry.Descriptor{
		TenantID:      "diku",
		ModuleID:      "mod-search",
		Subscriptions: []registry.Subscription{{EventType: eventType, Callback: callback}},
	})
	require.NoError(t, err)
}

func testEvent(id, eventType string) domain.Event {
	return domain.Event{
		ID:        id,
		EventType: eventType,
		EventMetadata: domain.EventMetadata{
			TenantID:    "diku",
			PublishedBy: "mod-inventory",
		},
		EventPayload: `{"hrid":"in00001"}`,
	}
}

// callbackServer answers every request with status and records the bodies.
type callbackServer struct {
	*httptest.Server
	mu      sync.Mutex
	tokens  []string
	bodies  [][]byte
	status  int
	arrived chan struct{}
}

func newCallbackServer(t *testing.T, status int) *callbackServer {
	t.Helper()
	cs := &callbackServer{status: status, arrived: make(chan struct{}, 16)}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		cs.mu.Lock()
		cs.tokens = append(cs.tokens, r.Header.Get(security.HeaderToken))
		cs.bodies = append(cs.bodies, body)
		cs.mu.Unlock()
		w.WriteHeader(cs.status)
		cs.arrived <- struct{}{}
	}))
	t.Cleanup(cs.Close)
	return cs
}

func (cs *callbackServer) wait(t *testing.T) {
	t.Helper()
	select {
	case <-cs.arrived:
	case <-time.After(5 * time.Second):
		t.Fatal("callback was not called")
	}
}

func (cs *callbackServer) seenTokens() []string {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return append([]string(nil), cs.tokens...)
}
