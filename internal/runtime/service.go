package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/drblury/tenantbus/internal/audit"
	"github.com/drblury/tenantbus/internal/delivery"
	"github.com/drblury/tenantbus/internal/domain"
	"github.com/drblury/tenantbus/internal/ingest"
	"github.com/drblury/tenantbus/internal/registry"
	"github.com/drblury/tenantbus/internal/resend"
	configpkg "github.com/drblury/tenantbus/internal/runtime/config"
	errspkg "github.com/drblury/tenantbus/internal/runtime/errors"
	loggingpkg "github.com/drblury/tenantbus/internal/runtime/logging"
	"github.com/drblury/tenantbus/internal/security"
	kafkatransport "github.com/drblury/tenantbus/transport/kafka"
)

const shutdownTimeout = 10 * time.Second

// IdentityProvider issues system user tokens per tenant and provisions the
// system user. *security.Manager implements it.
type IdentityProvider interface {
	delivery.TokenProvider
	CreatePubSubUser(ctx context.Context, params security.ConnectionParams) error
}

// TopicEnsurer creates topics that do not exist yet.
type TopicEnsurer interface {
	EnsureTopics(ctx context.Context, topics ...string) error
}

// ConsumerFactory returns a fresh, unsubscribed consumer for eventType.
type ConsumerFactory func(eventType string) (ingest.Consumer, error)

// PublisherFactory returns a publisher writing to the event log.
type PublisherFactory func() (message.Publisher, error)

// ServiceDependencies overrides the collaborators NewService would otherwise
// build from configuration. Every field is optional.
type ServiceDependencies struct {
	Store       registry.Store
	AuditSink   audit.Sink
	AuditReader audit.Reader
	Identity    IdentityProvider

	ConsumerFactory  ConsumerFactory
	PublisherFactory PublisherFactory
	Topics           TopicEnsurer

	// GlobalLoad is shared by every governor; nil installs a fresh sensor.
	GlobalLoad *ingest.LoadSensor
	Gauge      ingest.Gauge
	Scheduler  resend.Scheduler
	HTTPClient *http.Client

	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer

	Middlewares               []MiddlewareRegistration
	DisableDefaultMiddlewares bool
	JobHooks                  JobHooks
}

// Service wires the registry, the consumers, the resend policy and the
// delivery engine together and serves the admin API.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	registry    *registry.Registry
	identity    IdentityProvider
	engine      *delivery.Engine
	policy      *resend.Policy
	producers   *producerPool
	topics      TopicEnsurer
	consumers   ConsumerFactory
	globalLoad  *ingest.LoadSensor
	gauge       ingest.Gauge
	audit       audit.Sink
	auditReader audit.Reader

	metrics    *BrokerMetrics
	registerer prometheus.Registerer
	gatherer   prometheus.Gatherer

	mwMu        sync.RWMutex
	middlewares []message.HandlerMiddleware

	govMu     sync.Mutex
	governors map[string]*ingest.Governor
	runCtx    context.Context

	closers  []func(context.Context) error
	api      *echo.Echo
	stopOnce sync.Once
}

// NewService validates conf and assembles a Service. Nothing connects to
// Kafka until Start.
func NewService(ctx context.Context, conf *configpkg.Config, log loggingpkg.ServiceLogger, deps ServiceDependencies) (*Service, error) {
	if err := configpkg.ValidateConfig(conf); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}

	s := &Service{
		Conf:        conf,
		Logger:      log,
		globalLoad:  deps.GlobalLoad,
		gauge:       deps.Gauge,
		registerer:  deps.Registerer,
		gatherer:    deps.Gatherer,
		auditReader: deps.AuditReader,
		governors:   make(map[string]*ingest.Governor),
	}
	if s.globalLoad == nil {
		s.globalLoad = ingest.NewLoadSensor()
	}
	if s.registerer == nil {
		s.registerer = prometheus.DefaultRegisterer
	}
	if s.gatherer == nil {
		if g, ok := s.registerer.(prometheus.Gatherer); ok {
			s.gatherer = g
		} else {
			s.gatherer = prometheus.DefaultGatherer
		}
	}

	s.metrics = NewBrokerMetrics(s.registerer)
	if conf.MetricsEnabled {
		if err := s.metrics.Register(); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	store := deps.Store
	if store == nil {
		var err error
		if store, err = s.openStore(ctx); err != nil {
			return nil, err
		}
	}
	s.registry = registry.New(store, conf.RegistryCacheTTL, log)

	sink, err := s.buildAuditSink(ctx, deps.AuditSink, store)
	if err != nil {
		_ = s.closeAll(ctx)
		return nil, err
	}
	s.audit = sink

	s.identity = deps.Identity
	if s.identity == nil {
		manager := security.NewManager(security.ManagerConfig{
			SystemUser: security.Credentials{
				Username: conf.SystemUserName,
				Password: conf.SystemUserPassword,
			},
			Permissions:   conf.SystemUserPermissions,
			DefaultMaxAge: conf.TokenDefaultMaxAge,
			Timeout:       conf.HTTPTimeout(),
		}, security.ManagerDependencies{
			HTTPClient: deps.HTTPClient,
			Logger:     log,
			Observer:   s.metrics,
		})
		s.identity = manager
		s.addCloser(func(context.Context) error {
			manager.Close()
			return nil
		})
	}

	s.engine = delivery.New(delivery.Config{
		MaxAuthRetries: conf.DeliveryMaxAuthRetries,
		Timeout:        conf.HTTPTimeout(),
	}, delivery.Dependencies{
		Tokens:      s.identity,
		Subscribers: s.registry,
		Audit:       s.audit,
		HTTPClient:  deps.HTTPClient,
		Logger:      log,
		Observer:    s.metrics,
	})

	publishers := deps.PublisherFactory
	if publishers == nil {
		wmLogger := loggingpkg.ToWatermill(log)
		publishers = func() (message.Publisher, error) {
			return kafkatransport.NewPublisher(conf.KafkaBrokers, wmLogger)
		}
	}
	s.producers = newProducerPool(publishers, log)
	s.addCloser(func(context.Context) error { return s.producers.Close() })

	s.policy = resend.New(resend.Config{
		MaxResend: conf.MaxResendNumber,
		Quantum:   conf.ResendDelayQuantum(),
	}, resend.Dependencies{
		Producers: s.producers,
		Scheduler: deps.Scheduler,
		Logger:    log,
		Observer:  s.metrics,
	})

	s.topics = deps.Topics
	if s.topics == nil {
		s.topics = kafkatransport.NewTopicCreator(conf.KafkaBrokers, conf.KafkaPartitions, conf.KafkaReplicationFactor, log)
	}

	s.consumers = deps.ConsumerFactory
	if s.consumers == nil {
		s.consumers = func(string) (ingest.Consumer, error) {
			return ingest.NewFranzConsumer(ingest.FranzConfig{
				Brokers:  conf.KafkaBrokers,
				ClientID: conf.KafkaClientID,
			}, log), nil
		}
	}

	if err := s.installMiddlewares(deps); err != nil {
		_ = s.closeAll(ctx)
		return nil, err
	}

	s.api = s.newAPI()
	return s, nil
}

func (s *Service) installMiddlewares(deps ServiceDependencies) error {
	var regs []MiddlewareRegistration
	if !deps.DisableDefaultMiddlewares {
		regs = append(regs, DefaultMiddlewares()...)
	}
	regs = append(regs, deps.Middlewares...)
	if !deps.JobHooks.empty() {
		regs = append(regs, JobHooksMiddleware(deps.JobHooks))
	}
	for _, reg := range regs {
		if err := s.RegisterMiddleware(reg); err != nil {
			return fmt.Errorf("middleware %s: %w", reg.Name, err)
		}
	}
	return nil
}

func (s *Service) addCloser(fn func(context.Context) error) {
	s.closers = append(s.closers, fn)
}

// Start launches a consumer per subscribed event type and serves the admin
// API until ctx ends, then shuts everything down.
func (s *Service) Start(ctx context.Context) error {
	if err := s.StartConsumers(ctx); err != nil {
		return err
	}

	serveErr := make(chan error, 1)
	if s.Conf.HTTPPort > 0 {
		go func() {
			addr := fmt.Sprintf(":%d", s.Conf.HTTPPort)
			s.Logger.Info("Admin API listening", loggingpkg.LogFields{"addr": addr})
			if err := s.api.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serveErr:
		s.Logger.Error("Admin API failed", runErr, nil)
	}

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	return errors.Join(runErr, s.Stop(stopCtx))
}

// StartConsumers starts a governor for every event type that has an
// activated subscriber. Event types subscribed later get their governor
// from RegisterModule.
func (s *Service) StartConsumers(ctx context.Context) error {
	s.govMu.Lock()
	s.runCtx = context.WithoutCancel(ctx)
	s.govMu.Unlock()

	subs, err := s.registry.Modules(ctx, domain.ModuleFilter{
		Role:      domain.RoleSubscriber,
		Activated: domain.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("load subscriptions: %w", err)
	}

	seen := make(map[string]struct{})
	var errs []error
	for _, m := range subs {
		if _, ok := seen[m.EventType]; ok {
			continue
		}
		seen[m.EventType] = struct{}{}
		if err := s.ensureConsumer(m.EventType); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ensureConsumer starts the governor of eventType unless it already runs.
// Before StartConsumers it does nothing.
func (s *Service) ensureConsumer(eventType string) error {
	s.govMu.Lock()
	defer s.govMu.Unlock()

	if s.runCtx == nil {
		return nil
	}
	if _, ok := s.governors[eventType]; ok {
		return nil
	}

	consumer, err := s.consumers(eventType)
	if err != nil {
		return fmt.Errorf("create consumer for %s: %w", eventType, err)
	}
	gov := ingest.NewGovernor(consumer, ingest.Config{
		Definition: ingest.NewSubscriptionDefinition(s.Conf.Env, s.Conf.KafkaNamespace, eventType),
		LoadLimit:  s.Conf.LoadLimit,
	}, ingest.Dependencies{
		Gauge:      s.gauge,
		GlobalLoad: s.globalLoad,
		Failure:    s.policy,
		Logger:     s.Logger,
		Observer:   s.metrics,
	})
	if err := gov.Start(s.runCtx, s.chain(s.handleEvent), s.moduleIdentity()); err != nil {
		return fmt.Errorf("start consumer for %s: %w", eventType, err)
	}
	s.governors[eventType] = gov
	return nil
}

func (s *Service) moduleIdentity() string {
	if s.Conf.ModuleIdentity != "" {
		return s.Conf.ModuleIdentity
	}
	return "mod-pubsub"
}

// Consumers describes every running governor, ordered by event type.
func (s *Service) Consumers() []ingest.Snapshot {
	s.govMu.Lock()
	defer s.govMu.Unlock()
	out := make([]ingest.Snapshot, 0, len(s.governors))
	for _, g := range s.governors {
		out = append(out, g.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventType < out[j].EventType })
	return out
}

// GlobalLoad reports the records in flight across every governor.
func (s *Service) GlobalLoad() int64 {
	return s.globalLoad.Current()
}

// Metrics exposes the broker's counters.
func (s *Service) Metrics() *BrokerMetrics {
	return s.metrics
}

// Stop halts the governors and releases every resource. Teardown errors of
// individual resources are logged; the joined error is returned.
func (s *Service) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		s.govMu.Lock()
		govs := s.governors
		s.governors = make(map[string]*ingest.Governor)
		s.runCtx = nil
		s.govMu.Unlock()

		for _, g := range govs {
			_ = g.Stop()
		}
		if shutdownErr := s.api.Shutdown(ctx); shutdownErr != nil {
			s.Logger.Error("Admin API shutdown failed", shutdownErr, nil)
		}
		err = s.closeAll(ctx)
	})
	return err
}

// closeAll runs the closers in reverse order of registration.
func (s *Service) closeAll(ctx context.Context) error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			s.Logger.Error("Closing resource failed", err, nil)
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
