package delivery

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/tenantbus/internal/domain"
	jsonpkg "github.com/drblury/tenantbus/internal/runtime/jsoncodec"
	"github.com/drblury/tenantbus/internal/security"
)

type fakeTokens struct {
	mu          sync.Mutex
	generation  int
	logins      int
	invalidated int
	err         error
}

func (f *fakeTokens) AccessToken(_ context.Context, params security.ConnectionParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	if f.generation == 0 {
		f.generation = f.logins + 1
		f.logins++
	}
	return params.TenantID + "-token-" + string(rune('0'+f.generation)), nil
}

func (f *fakeTokens) Invalidate(string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated++
	f.generation = 0
}

func (f *fakeTokens) counts() (logins, invalidated int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logins, f.invalidated
}

type staticSubscribers struct {
	modules []domain.MessagingModule
	err     error
}

func (s staticSubscribers) Subscribers(context.Context, string, string) ([]domain.MessagingModule, error) {
	return s.modules, s.err
}

type memorySink struct {
	mu   sync.Mutex
	msgs []domain.AuditMessage
}

func (s *memorySink) Record(_ context.Context, msg domain.AuditMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
}

func (s *memorySink) states() []domain.AuditState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.AuditState, 0, len(s.msgs))
	for _, m := range s.msgs {
		out = append(out, m.State)
	}
	return out
}

type countingObserver struct {
	mu       sync.Mutex
	outcomes map[domain.AuditState]int
	retries  int
}

func (o *countingObserver) Outcome(_ string, state domain.AuditState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.outcomes == nil {
		o.outcomes = make(map[domain.AuditState]int)
	}
	o.outcomes[state]++
}

func (o *countingObserver) AuthRetry(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.retries++
}

func testEvent() domain.Event {
	return domain.Event{
		ID:        "e1",
		EventType: "ITEM_CREATED",
		EventMetadata: domain.EventMetadata{
			TenantID:    "diku",
			PublishedBy: "mod-inventory",
		},
		EventPayload: `{"id":"i1"}`,
	}
}

func subscriber(moduleID, callback string) domain.MessagingModule {
	return domain.MessagingModule{
		EventType:          "ITEM_CREATED",
		ModuleID:           moduleID,
		TenantID:           "diku",
		Role:               domain.RoleSubscriber,
		Activated:          true,
		SubscriberCallback: callback,
	}
}

func newEngine(cfg Config, tokens TokenProvider, subs SubscriberSource, sink *memorySink, obs Observer) *Engine {
	return New(cfg, Dependencies{
		Tokens:      tokens,
		Subscribers: subs,
		Audit:       sink,
		Observer:    obs,
	})
}

func TestDeliverRetriesWithFreshTokenAfterForbidden(t *testing.T) {
	var calls atomic.Int32
	var seenTokens []string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seenTokens = append(seenTokens, r.Header.Get(security.HeaderToken))
		mu.Unlock()
		assert.Equal(t, "diku", r.Header.Get(security.HeaderTenant))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		var ev domain.Event
		assert.NoError(t, jsonpkg.Decode(r.Body, &ev))
		assert.Equal(t, "e1", ev.ID)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	tokens := &fakeTokens{}
	sink := &memorySink{}
	obs := &countingObserver{}
	e := newEngine(Config{MaxAuthRetries: 1}, tokens, staticSubscribers{modules: []domain.MessagingModule{
		subscriber("mod-search", "/search/events"),
	}}, sink, obs)

	e.Deliver(context.Background(), testEvent(), security.ConnectionParams{OkapiURL: srv.URL})

	assert.Equal(t, []domain.AuditState{domain.AuditDelivered}, sink.states())
	logins, invalidated := tokens.counts()
	assert.Equal(t, 2, logins)
	assert.Equal(t, 1, invalidated)
	assert.Equal(t, []string{"diku-token-1", "diku-token-2"}, seenTokens)
	assert.Equal(t, 1, obs.retries)
	assert.Equal(t, 1, obs.outcomes[domain.AuditDelivered])
}

func TestDeliverRejectsWhenAuthRetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	tokens := &fakeTokens{}
	sink := &memorySink{}
	e := newEngine(Config{MaxAuthRetries: 2}, tokens, staticSubscribers{modules: []domain.MessagingModule{
		subscriber("mod-search", srv.URL+"/events"),
	}}, sink, nil)

	e.Deliver(context.Background(), testEvent(), security.ConnectionParams{OkapiURL: "http://unused"})

	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []domain.AuditState{domain.AuditRejected}, sink.states())
	assert.Contains(t, sink.msgs[0].ErrorMessage, "returned 401")
}

func TestDeliverDoesNotRetryServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	tokens := &fakeTokens{}
	sink := &memorySink{}
	e := newEngine(Config{MaxAuthRetries: 3}, tokens, staticSubscribers{modules: []domain.MessagingModule{
		subscriber("mod-search", "/events"),
	}}, sink, nil)

	e.Deliver(context.Background(), testEvent(), security.ConnectionParams{OkapiURL: srv.URL})

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, []domain.AuditState{domain.AuditRejected}, sink.states())
	_, invalidated := tokens.counts()
	assert.Zero(t, invalidated)
}

func TestDeliverOneAuditPerSubscriber(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ok.Close()
	closed := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	closedURL := closed.URL
	closed.Close()

	sink := &memorySink{}
	e := newEngine(Config{}, &fakeTokens{}, staticSubscribers{modules: []domain.MessagingModule{
		subscriber("mod-a", ok.URL+"/a"),
		subscriber("mod-b", ok.URL+"/b"),
		subscriber("mod-c", closedURL+"/c"),
	}}, sink, nil)

	e.Deliver(context.Background(), testEvent(), security.ConnectionParams{OkapiURL: ok.URL})

	assert.ElementsMatch(t, []domain.AuditState{
		domain.AuditDelivered, domain.AuditDelivered, domain.AuditRejected,
	}, sink.states())
}

func TestDeliverTokenFailureRejects(t *testing.T) {
	sink := &memorySink{}
	e := newEngine(Config{}, &fakeTokens{err: errors.New("login refused")}, staticSubscribers{modules: []domain.MessagingModule{
		subscriber("mod-a", "/a"),
	}}, sink, nil)

	e.Deliver(context.Background(), testEvent(), security.ConnectionParams{OkapiURL: "http://okapi"})

	require.Len(t, sink.states(), 1)
	assert.Equal(t, domain.AuditRejected, sink.msgs[0].State)
	assert.Equal(t, "login refused", sink.msgs[0].ErrorMessage)
}

func TestDeliverWithoutSubscribersAuditsNothing(t *testing.T) {
	sink := &memorySink{}
	e := newEngine(Config{}, &fakeTokens{}, staticSubscribers{}, sink, nil)

	e.Deliver(context.Background(), testEvent(), security.ConnectionParams{})

	assert.Empty(t, sink.states())
}

func TestDeliverLookupFailureRejects(t *testing.T) {
	sink := &memorySink{}
	e := newEngine(Config{}, &fakeTokens{}, staticSubscribers{err: errors.New("store down")}, sink, nil)

	e.Deliver(context.Background(), testEvent(), security.ConnectionParams{})

	assert.Equal(t, []domain.AuditState{domain.AuditRejected}, sink.states())
	assert.Contains(t, sink.msgs[0].ErrorMessage, "store down")
}

func TestCallbackURL(t *testing.T) {
	tests := []struct {
		okapi, callback, want string
	}{
		{"http://okapi:9130", "/search/events", "http://okapi:9130/search/events"},
		{"http://okapi:9130/", "search/events", "http://okapi:9130/search/events"},
		{"http://okapi:9130", "https://hooks.example.org/x", "https://hooks.example.org/x"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CallbackURL(tt.okapi, tt.callback))
	}
}
