// Package delivery fans an event out to every subscriber callback registered
// for its tenant and type, recording one terminal audit state per subscriber.
package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/tenantbus/internal/audit"
	"github.com/drblury/tenantbus/internal/domain"
	jsonpkg "github.com/drblury/tenantbus/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/tenantbus/internal/runtime/logging"
	"github.com/drblury/tenantbus/internal/security"
)

const (
	defaultTimeout = 2 * time.Second
	tracerName     = "github.com/drblury/tenantbus/internal/delivery"
)

// TokenProvider supplies tenant tokens and forgets them on rejection.
type TokenProvider interface {
	AccessToken(ctx context.Context, params security.ConnectionParams) (string, error)
	Invalidate(tenant string)
}

// SubscriberSource resolves the activated subscribers of an event type.
type SubscriberSource interface {
	Subscribers(ctx context.Context, tenant, eventType string) ([]domain.MessagingModule, error)
}

// Observer is told how each delivery ended.
type Observer interface {
	Outcome(eventType string, state domain.AuditState)
	AuthRetry(eventType string)
}

type nopObserver struct{}

func (nopObserver) Outcome(string, domain.AuditState) {}
func (nopObserver) AuthRetry(string)                  {}

// Config tunes the engine.
type Config struct {
	// MaxAuthRetries is how often a subscriber is retried after 400/401/403.
	MaxAuthRetries int
	Timeout        time.Duration
}

// Dependencies of an Engine. Tokens, Subscribers and Audit are required.
type Dependencies struct {
	Tokens      TokenProvider
	Subscribers SubscriberSource
	Audit       audit.Sink
	HTTPClient  *http.Client
	Logger      loggingpkg.ServiceLogger
	Observer    Observer
	Tracer      trace.Tracer
}

// Engine posts events to subscriber callbacks.
type Engine struct {
	maxAuthRetries int
	tokens         TokenProvider
	subscribers    SubscriberSource
	audit          audit.Sink
	http           *http.Client
	logger         loggingpkg.ServiceLogger
	observer       Observer
	tracer         trace.Tracer
}

func New(cfg Config, deps Dependencies) *Engine {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxAuthRetries < 0 {
		cfg.MaxAuthRetries = 0
	}
	e := &Engine{
		maxAuthRetries: cfg.MaxAuthRetries,
		tokens:         deps.Tokens,
		subscribers:    deps.Subscribers,
		audit:          deps.Audit,
		http:           deps.HTTPClient,
		logger:         loggingpkg.OrNop(deps.Logger).With(loggingpkg.LogFields{"component": "delivery"}),
		observer:       deps.Observer,
		tracer:         deps.Tracer,
	}
	if e.http == nil {
		e.http = &http.Client{Timeout: cfg.Timeout}
	}
	if e.observer == nil {
		e.observer = nopObserver{}
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(tracerName)
	}
	return e
}

// Deliver posts ev to each subscriber concurrently and returns once every
// subscriber reached a terminal state. Failures end up in the audit trail,
// never in the return value.
func (e *Engine) Deliver(ctx context.Context, ev domain.Event, params security.ConnectionParams) {
	tenant := ev.EventMetadata.TenantID
	log := e.logger.With(loggingpkg.LogFields{"event_id": ev.ID, "event_type": ev.EventType, "tenant": tenant})
	params.TenantID = tenant

	subs, err := e.subscribers.Subscribers(ctx, tenant, ev.EventType)
	if err != nil {
		log.Error("Resolving subscribers failed", err, nil)
		e.finish(ctx, ev, domain.AuditRejected, fmt.Errorf("resolve subscribers: %w", err))
		return
	}
	if len(subs) == 0 {
		log.Info("No subscribers for event", nil)
		return
	}

	body, err := jsonpkg.Marshal(ev)
	if err != nil {
		log.Error("Encoding event failed", err, nil)
		e.finish(ctx, ev, domain.AuditRejected, err)
		return
	}

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(sub domain.MessagingModule) {
			defer wg.Done()
			e.deliverOne(ctx, ev, sub, params, body, log)
		}(sub)
	}
	wg.Wait()
}

func (e *Engine) deliverOne(ctx context.Context, ev domain.Event, sub domain.MessagingModule, params security.ConnectionParams, body []byte, log loggingpkg.ServiceLogger) {
	target := CallbackURL(params.OkapiURL, sub.SubscriberCallback)
	log = log.With(loggingpkg.LogFields{"module_id": sub.ModuleID, "callback": target})

	ctx, span := e.tracer.Start(ctx, "tenantbus.deliver", trace.WithAttributes(
		attribute.String("tenantbus.event_id", ev.ID),
		attribute.String("tenantbus.event_type", ev.EventType),
		attribute.String("tenantbus.tenant", params.TenantID),
		attribute.String("tenantbus.module_id", sub.ModuleID),
	))
	defer span.End()

	for attempt := 0; ; attempt++ {
		token, err := e.tokens.AccessToken(ctx, params)
		if err != nil {
			log.Error("Obtaining token failed", err, nil)
			e.reject(ctx, span, ev, err)
			return
		}

		status, err := e.post(ctx, target, body, params.WithToken(token))
		if err != nil {
			log.Error("Callback unreachable", err, nil)
			e.reject(ctx, span, ev, err)
			return
		}
		span.SetAttributes(attribute.Int("http.response.status_code", status))

		switch {
		case status >= 200 && status <= 299:
			log.Debug("Event delivered", loggingpkg.LogFields{"status": status})
			e.finish(ctx, ev, domain.AuditDelivered, nil)
			return
		case isAuthFailure(status):
			e.tokens.Invalidate(params.TenantID)
			if attempt < e.maxAuthRetries {
				log.Debug("Callback refused token, retrying with a fresh one", loggingpkg.LogFields{"status": status, "attempt": attempt + 1})
				e.observer.AuthRetry(ev.EventType)
				continue
			}
		}

		err = fmt.Errorf("callback %s returned %d", target, status)
		log.Error("Delivery rejected", err, loggingpkg.LogFields{"status": status})
		e.reject(ctx, span, ev, err)
		return
	}
}

func (e *Engine) post(ctx context.Context, target string, body []byte, params security.ConnectionParams) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	params.Apply(req.Header)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/plain")

	resp, err := e.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func (e *Engine) reject(ctx context.Context, span trace.Span, ev domain.Event, cause error) {
	span.RecordError(cause)
	span.SetStatus(codes.Error, cause.Error())
	e.finish(ctx, ev, domain.AuditRejected, cause)
}

func (e *Engine) finish(ctx context.Context, ev domain.Event, state domain.AuditState, cause error) {
	audit.Emit(ctx, e.audit, ev, state, cause)
	e.observer.Outcome(ev.EventType, state)
}

func isAuthFailure(status int) bool {
	return status == http.StatusBadRequest || status == http.StatusUnauthorized || status == http.StatusForbidden
}

// CallbackURL resolves a subscriber callback: absolute URLs are used as is,
// anything else is appended to the gateway URL.
func CallbackURL(okapiURL, callback string) string {
	if strings.HasPrefix(callback, "http://") || strings.HasPrefix(callback, "https://") {
		return callback
	}
	if !strings.HasPrefix(callback, "/") {
		callback = "/" + callback
	}
	return strings.TrimRight(okapiURL, "/") + callback
}
