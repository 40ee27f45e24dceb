package runtime

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/tenantbus/internal/ingest"
	loggingpkg "github.com/drblury/tenantbus/internal/runtime/logging"
	metadatapkg "github.com/drblury/tenantbus/internal/runtime/metadata"
)

// JobContext describes one run of the business handler for a consumed record.
type JobContext struct {
	// EventType and Tenant are derived from the topic the record came from.
	EventType string
	Tenant    string
	Topic     string
	// MessageUUID identifies the in-process message, not the event.
	MessageUUID string
	Metadata    message.Metadata
	Context     context.Context
	StartedAt   time.Time
	// Duration is only set for OnJobDone and OnJobError.
	Duration time.Duration
	// ResendCount is the value of the resend counter header; zero on first delivery.
	ResendCount int
}

// JobHooks are optional callbacks around business handling. Nil hooks are skipped.
type JobHooks struct {
	OnJobStart func(ctx JobContext)
	OnJobDone  func(ctx JobContext)
	OnJobError func(ctx JobContext, err error)
}

// Merge returns hooks that call h first and then other.
func (h JobHooks) Merge(other JobHooks) JobHooks {
	return JobHooks{
		OnJobStart: chainHooks(h.OnJobStart, other.OnJobStart),
		OnJobDone:  chainHooks(h.OnJobDone, other.OnJobDone),
		OnJobError: chainErrorHooks(h.OnJobError, other.OnJobError),
	}
}

func (h JobHooks) empty() bool {
	return h.OnJobStart == nil && h.OnJobDone == nil && h.OnJobError == nil
}

func chainHooks(a, b func(JobContext)) func(JobContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx JobContext) {
		a(ctx)
		b(ctx)
	}
}

func chainErrorHooks(a, b func(JobContext, error)) func(JobContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx JobContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

// JobHooksMiddleware registers hooks on the business handler chain.
func JobHooksMiddleware(hooks JobHooks) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "job_hooks",
		Builder: func(*Service) (message.HandlerMiddleware, error) {
			return jobHooksMiddleware(hooks), nil
		},
	}
}

func jobHooksMiddleware(hooks JobHooks) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			jobCtx := newJobContext(msg)

			if hooks.OnJobStart != nil {
				hooks.OnJobStart(jobCtx)
			}

			msgs, err := h(msg)
			jobCtx.Duration = time.Since(jobCtx.StartedAt)

			if err != nil {
				if hooks.OnJobError != nil {
					hooks.OnJobError(jobCtx, err)
				}
			} else if hooks.OnJobDone != nil {
				hooks.OnJobDone(jobCtx)
			}
			return msgs, err
		}
	}
}

func newJobContext(msg *message.Message) JobContext {
	topic := msg.Metadata.Get(metadatapkg.KafkaTopic)
	return JobContext{
		EventType:   ingest.EventTypeFromTopic(topic),
		Tenant:      ingest.TenantFromTopic(topic),
		Topic:       topic,
		MessageUUID: msg.UUID,
		Metadata:    msg.Metadata,
		Context:     msg.Context(),
		StartedAt:   time.Now(),
		ResendCount: metadatapkg.ParseCounter(msg.Metadata.Get(metadatapkg.ResendCounter)),
	}
}

// LoggingHooks logs every job transition.
func LoggingHooks(logger loggingpkg.ServiceLogger) JobHooks {
	logger = loggingpkg.OrNop(logger)
	fields := func(ctx JobContext) loggingpkg.LogFields {
		return loggingpkg.LogFields{
			"event_type":   ctx.EventType,
			"tenant":       ctx.Tenant,
			"topic":        ctx.Topic,
			"message_uuid": ctx.MessageUUID,
			"resend_count": ctx.ResendCount,
		}
	}
	return JobHooks{
		OnJobStart: func(ctx JobContext) {
			logger.Debug("Job started", fields(ctx))
		},
		OnJobDone: func(ctx JobContext) {
			f := fields(ctx)
			f["duration_ms"] = ctx.Duration.Milliseconds()
			logger.Debug("Job completed", f)
		},
		OnJobError: func(ctx JobContext, err error) {
			f := fields(ctx)
			f["duration_ms"] = ctx.Duration.Milliseconds()
			logger.Error("Job failed", err, f)
		},
	}
}

// MetricsHooks forwards job transitions to plain counters keyed by event type and tenant.
func MetricsHooks(onStart, onDone, onError func(eventType, tenant string)) JobHooks {
	call := func(f func(string, string), ctx JobContext) {
		if f != nil {
			f(ctx.EventType, ctx.Tenant)
		}
	}
	return JobHooks{
		OnJobStart: func(ctx JobContext) { call(onStart, ctx) },
		OnJobDone:  func(ctx JobContext) { call(onDone, ctx) },
		OnJobError: func(ctx JobContext, _ error) { call(onError, ctx) },
	}
}

// AlertingHooks only reacts to failures.
func AlertingHooks(alertFunc func(ctx JobContext, err error)) JobHooks {
	return JobHooks{OnJobError: alertFunc}
}
