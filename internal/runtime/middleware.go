package runtime

import (
	"errors"

	"github.com/ThreeDotsLabs/watermill/components/metrics"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	idspkg "github.com/drblury/tenantbus/internal/runtime/ids"
	loggingpkg "github.com/drblury/tenantbus/internal/runtime/logging"
	metadatapkg "github.com/drblury/tenantbus/internal/runtime/metadata"
)

const tracerName = "github.com/drblury/tenantbus/internal/runtime"

// MiddlewareBuilder constructs a handler middleware using the provided service instance.
type MiddlewareBuilder func(*Service) (message.HandlerMiddleware, error)

// MiddlewareRegistration describes a middleware wrapped around the business
// handler of every consumer. Exactly one of Middleware and Builder is set.
type MiddlewareRegistration struct {
	Name       string
	Middleware message.HandlerMiddleware
	Builder    MiddlewareBuilder
}

// DefaultMiddlewares returns the chain installed by NewService. The first
// entry is the outermost wrapper.
func DefaultMiddlewares() []MiddlewareRegistration {
	return []MiddlewareRegistration{
		CorrelationIDMiddleware(),
		LogMessagesMiddleware(nil),
		TracerMiddleware(),
		MetricsMiddleware(),
		RecovererMiddleware(),
	}
}

// MetricsMiddleware records handler execution time with Watermill's Prometheus builder.
func MetricsMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "metrics",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			if !s.Conf.MetricsEnabled {
				return nil, nil
			}
			builder := metrics.NewPrometheusMetricsBuilder(s.registerer, "tenantbus", "handler")
			return builder.NewRouterMiddleware().Middleware, nil
		},
	}
}

// CorrelationIDMiddleware ensures each processed message carries a correlation identifier.
func CorrelationIDMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "correlation_id",
		Middleware: correlationIDMiddleware,
	}
}

// LogMessagesMiddleware logs where each handled record came from at debug
// level. Payloads are not logged; they belong to the tenant.
func LogMessagesMiddleware(logger loggingpkg.ServiceLogger) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "log_messages",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			l := logger
			if l == nil {
				l = s.Logger
			}
			if l == nil {
				return nil, errors.New("log messages middleware requires a logger")
			}
			return logMessagesMiddleware(l), nil
		},
	}
}

// TracerMiddleware wraps handler execution in an OpenTelemetry span.
func TracerMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "tracer",
		Middleware: tracerMiddleware,
	}
}

// RecovererMiddleware turns handler panics into errors, which the resend policy then handles.
func RecovererMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "recoverer",
		Middleware: middleware.Recoverer,
	}
}

// RegisterMiddleware appends a middleware to the business handler chain.
// Consumers started afterwards pick it up; running ones keep their chain.
func (s *Service) RegisterMiddleware(cfg MiddlewareRegistration) error {
	var mw message.HandlerMiddleware
	switch {
	case cfg.Middleware != nil:
		mw = cfg.Middleware
	case cfg.Builder != nil:
		var err error
		mw, err = cfg.Builder(s)
		if err != nil {
			return err
		}
	default:
		return errors.New("middleware registration requires Middleware or Builder")
	}

	if mw == nil {
		return nil
	}

	s.mwMu.Lock()
	s.middlewares = append(s.middlewares, mw)
	s.mwMu.Unlock()
	return nil
}

// chain wraps handler in the registered middlewares.
func (s *Service) chain(handler message.NoPublishHandlerFunc) message.NoPublishHandlerFunc {
	s.mwMu.RLock()
	mws := append([]message.HandlerMiddleware(nil), s.middlewares...)
	s.mwMu.RUnlock()

	h := func(msg *message.Message) ([]*message.Message, error) {
		return nil, handler(msg)
	}
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return func(msg *message.Message) error {
		_, err := h(msg)
		return err
	}
}

func correlationIDMiddleware(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		if msg.Metadata.Get(metadatapkg.CorrelationID) == "" {
			msg.Metadata.Set(metadatapkg.CorrelationID, idspkg.CreateULID())
		}
		return h(msg)
	}
}

func logMessagesMiddleware(logger loggingpkg.ServiceLogger) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			logger.Debug("Processing message", loggingpkg.LogFields{
				"message_uuid":   msg.UUID,
				"topic":          msg.Metadata.Get(metadatapkg.KafkaTopic),
				"offset":         msg.Metadata.Get(metadatapkg.KafkaOffset),
				"resend_counter": metadatapkg.ParseCounter(msg.Metadata.Get(metadatapkg.ResendCounter)),
				"payload_bytes":  len(msg.Payload),
			})
			return h(msg)
		}
	}
}

func tracerMiddleware(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		ctx, span := otel.Tracer(tracerName).Start(msg.Context(), "tenantbus.handle")
		defer span.End()
		msg.SetContext(ctx)

		span.SetAttributes(
			attribute.String("message.uuid", msg.UUID),
			attribute.String("messaging.destination", msg.Metadata.Get(metadatapkg.KafkaTopic)),
			attribute.String("tenantbus.correlation_id", msg.Metadata.Get(metadatapkg.CorrelationID)),
			attribute.Int("tenantbus.resend_counter", metadatapkg.ParseCounter(msg.Metadata.Get(metadatapkg.ResendCounter))),
		)
		msgs, err := h(msg)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "handler failed, record will be resent")
		}
		return msgs, err
	}
}
