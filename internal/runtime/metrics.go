package runtime

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/drblury/tenantbus/internal/delivery"
	"github.com/drblury/tenantbus/internal/domain"
	"github.com/drblury/tenantbus/internal/ingest"
	"github.com/drblury/tenantbus/internal/resend"
	"github.com/drblury/tenantbus/internal/security"
)

// BrokerMetrics observes the governors, the resend policy, the security
// manager and the delivery engine, exporting Prometheus collectors and
// keeping a per event type summary for the admin API.
type BrokerMetrics struct {
	mu        sync.RWMutex
	eventsMap map[string]*EventTypeMetrics

	inFlight      *prometheus.GaugeVec
	accepted      *prometheus.CounterVec
	failed        *prometheus.CounterVec
	pauses        *prometheus.CounterVec
	resumes       *prometheus.CounterVec
	resends       *prometheus.CounterVec
	resendDelay   *prometheus.HistogramVec
	deliveries    *prometheus.CounterVec
	authRetries   *prometheus.CounterVec
	tokenRequests *prometheus.CounterVec

	registerer prometheus.Registerer
	registered bool
}

var (
	_ ingest.Observer   = (*BrokerMetrics)(nil)
	_ resend.Observer   = (*BrokerMetrics)(nil)
	_ security.Observer = (*BrokerMetrics)(nil)
	_ delivery.Observer = (*BrokerMetrics)(nil)
)

// EventTypeMetrics summarises one event type.
type EventTypeMetrics struct {
	InFlight        int64     `json:"in_flight"`
	Accepted        uint64    `json:"accepted"`
	Failed          uint64    `json:"failed"`
	Paused          uint64    `json:"paused"`
	Resumed         uint64    `json:"resumed"`
	ResendScheduled uint64    `json:"resend_scheduled"`
	ResendDropped   uint64    `json:"resend_dropped"`
	ResendFailed    uint64    `json:"resend_failed"`
	Delivered       uint64    `json:"delivered"`
	Rejected        uint64    `json:"rejected"`
	AuthRetries     uint64    `json:"auth_retries"`
	LastUpdatedAt   time.Time `json:"last_updated_at"`
}

// MetricsSnapshot is a copy of every event type summary.
type MetricsSnapshot struct {
	EventTypes  map[string]EventTypeMetrics `json:"event_types"`
	CollectedAt time.Time                   `json:"collected_at"`
}

func newCounterVec(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tenantbus",
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, labels)
}

// NewBrokerMetrics creates the collectors; Register exports them.
func NewBrokerMetrics(registerer prometheus.Registerer) *BrokerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &BrokerMetrics{
		eventsMap:  make(map[string]*EventTypeMetrics),
		registerer: registerer,
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tenantbus",
			Subsystem: "ingest",
			Name:      "in_flight",
			Help:      "Records currently being handled per event type",
		}, []string{"event_type"}),
		accepted: newCounterVec("ingest", "accepted_total", "Records handed to the business handler", "event_type"),
		failed:   newCounterVec("ingest", "failed_total", "Records whose business handling failed", "event_type"),
		pauses:   newCounterVec("ingest", "pauses_total", "Times intake was paused", "event_type"),
		resumes:  newCounterVec("ingest", "resumes_total", "Times intake was resumed", "event_type"),
		resends:  newCounterVec("resend", "decisions_total", "Resend decisions by outcome", "event_type", "outcome"),
		resendDelay: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tenantbus",
			Subsystem: "resend",
			Name:      "delay_seconds",
			Help:      "Delay before a record is republished",
			Buckets:   []float64{0.25, 0.75, 2, 5, 14, 37, 100},
		}, []string{"event_type"}),
		deliveries:    newCounterVec("delivery", "outcomes_total", "Callback deliveries by audit state", "event_type", "state"),
		authRetries:   newCounterVec("delivery", "auth_retries_total", "Deliveries retried after an authorization failure", "event_type"),
		tokenRequests: newCounterVec("security", "token_requests_total", "Logins and refreshes against the identity provider", "kind", "result"),
	}
}

// Register exports the collectors. Collectors already registered by another
// instance are tolerated.
func (m *BrokerMetrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.registered {
		return nil
	}

	collectors := []prometheus.Collector{
		m.inFlight, m.accepted, m.failed, m.pauses, m.resumes,
		m.resends, m.resendDelay, m.deliveries, m.authRetries, m.tokenRequests,
	}
	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	m.registered = true
	return nil
}

func (m *BrokerMetrics) Accepted(eventType string, local int64) {
	m.accepted.WithLabelValues(eventType).Inc()
	m.inFlight.WithLabelValues(eventType).Set(float64(local))
	m.update(eventType, func(e *EventTypeMetrics) {
		e.Accepted++
		e.InFlight = local
	})
}

func (m *BrokerMetrics) Completed(eventType string, local int64, err error) {
	m.inFlight.WithLabelValues(eventType).Set(float64(local))
	if err != nil {
		m.failed.WithLabelValues(eventType).Inc()
	}
	m.update(eventType, func(e *EventTypeMetrics) {
		e.InFlight = local
		if err != nil {
			e.Failed++
		}
	})
}

func (m *BrokerMetrics) Paused(eventType string) {
	m.pauses.WithLabelValues(eventType).Inc()
	m.update(eventType, func(e *EventTypeMetrics) { e.Paused++ })
}

func (m *BrokerMetrics) Resumed(eventType string) {
	m.resumes.WithLabelValues(eventType).Inc()
	m.update(eventType, func(e *EventTypeMetrics) { e.Resumed++ })
}

func (m *BrokerMetrics) Scheduled(eventType string, _ int, delay time.Duration) {
	m.resends.WithLabelValues(eventType, "scheduled").Inc()
	m.resendDelay.WithLabelValues(eventType).Observe(delay.Seconds())
	m.update(eventType, func(e *EventTypeMetrics) { e.ResendScheduled++ })
}

func (m *BrokerMetrics) Dropped(eventType string, _ int) {
	m.resends.WithLabelValues(eventType, "dropped").Inc()
	m.update(eventType, func(e *EventTypeMetrics) { e.ResendDropped++ })
}

func (m *BrokerMetrics) Failed(eventType string) {
	m.resends.WithLabelValues(eventType, "failed").Inc()
	m.update(eventType, func(e *EventTypeMetrics) { e.ResendFailed++ })
}

func (m *BrokerMetrics) Outcome(eventType string, state domain.AuditState) {
	m.deliveries.WithLabelValues(eventType, string(state)).Inc()
	m.update(eventType, func(e *EventTypeMetrics) {
		switch state {
		case domain.AuditDelivered:
			e.Delivered++
		case domain.AuditRejected:
			e.Rejected++
		}
	})
}

func (m *BrokerMetrics) AuthRetry(eventType string) {
	m.authRetries.WithLabelValues(eventType).Inc()
	m.update(eventType, func(e *EventTypeMetrics) { e.AuthRetries++ })
}

func (m *BrokerMetrics) LoggedIn(_ string, err error) {
	m.tokenRequests.WithLabelValues("login", result(err)).Inc()
}

func (m *BrokerMetrics) Refreshed(_ string, err error) {
	m.tokenRequests.WithLabelValues("refresh", result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *BrokerMetrics) update(eventType string, fn func(*EventTypeMetrics)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.eventsMap[eventType]
	if !ok {
		e = &EventTypeMetrics{}
		m.eventsMap[eventType] = e
	}
	fn(e)
	e.LastUpdatedAt = time.Now()
}

// Snapshot copies the per event type summaries.
func (m *BrokerMetrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := MetricsSnapshot{
		EventTypes:  make(map[string]EventTypeMetrics, len(m.eventsMap)),
		CollectedAt: time.Now(),
	}
	for k, v := range m.eventsMap {
		out.EventTypes[k] = *v
	}
	return out
}

// EventType returns the summary of eventType, or nil when nothing was observed.
func (m *BrokerMetrics) EventType(eventType string) *EventTypeMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.eventsMap[eventType]
	if !ok {
		return nil
	}
	cp := *e
	return &cp
}

// Reset clears the summaries. Prometheus collectors keep their values.
func (m *BrokerMetrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.eventsMap = make(map[string]*EventTypeMetrics)
}
