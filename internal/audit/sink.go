// Package audit records the journey of every event. Records are handed to a
// Sink without waiting; writers persist or forward them in the background.
package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/drblury/tenantbus/internal/domain"
	loggingpkg "github.com/drblury/tenantbus/internal/runtime/logging"
)

var errQueueFull = errors.New("audit: queue full")

// Sink accepts audit records. Record never blocks on I/O and never fails.
type Sink interface {
	Record(ctx context.Context, msg domain.AuditMessage)
}

// Writer persists or forwards one record.
type Writer interface {
	SaveAuditMessage(ctx context.Context, msg domain.AuditMessage) error
}

// WriterFunc adapts a function to Writer.
type WriterFunc func(ctx context.Context, msg domain.AuditMessage) error

func (f WriterFunc) SaveAuditMessage(ctx context.Context, msg domain.AuditMessage) error {
	return f(ctx, msg)
}

// Reader lists stored audit records.
type Reader interface {
	AuditMessages(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditMessage, error)
}

// Emit records ev in state with a fresh id and the current time. cause, when
// set, becomes the error message.
func Emit(ctx context.Context, sink Sink, ev domain.Event, state domain.AuditState, cause error) {
	if sink == nil {
		return
	}
	msg := domain.NewAuditMessage(uuid.NewString(), ev, state, time.Now())
	if cause != nil {
		msg.ErrorMessage = cause.Error()
	}
	sink.Record(ctx, msg)
}

const defaultBuffer = 1024

// AsyncSink queues records for a single background writer. When the queue is
// full the record is dropped and logged.
type AsyncSink struct {
	writer Writer
	logger loggingpkg.ServiceLogger
	queue  chan domain.AuditMessage

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewAsyncSink starts the writer goroutine. buffer <= 0 uses 1024.
func NewAsyncSink(writer Writer, buffer int, logger loggingpkg.ServiceLogger) *AsyncSink {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	s := &AsyncSink{
		writer: writer,
		logger: loggingpkg.OrNop(logger).With(loggingpkg.LogFields{"component": "audit"}),
		queue:  make(chan domain.AuditMessage, buffer),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *AsyncSink) Record(_ context.Context, msg domain.AuditMessage) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.logger.Debug("Audit record after close dropped", fields(msg))
		return
	}
	select {
	case s.queue <- msg:
	default:
		s.logger.Error("Audit record dropped", errQueueFull, fields(msg))
	}
}

// Close stops accepting records and waits until queued ones are written or
// ctx ends.
func (s *AsyncSink) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *AsyncSink) run() {
	defer close(s.done)
	for msg := range s.queue {
		if err := s.writer.SaveAuditMessage(context.Background(), msg); err != nil {
			s.logger.Error("Writing audit record failed", err, fields(msg))
		}
	}
}

// LogWriter writes each record as a structured log line.
type LogWriter struct {
	Logger loggingpkg.ServiceLogger
}

func (w LogWriter) SaveAuditMessage(_ context.Context, msg domain.AuditMessage) error {
	f := fields(msg)
	f["audit_id"] = msg.ID
	f["audit_date"] = msg.AuditDate
	if msg.ErrorMessage != "" {
		f["error"] = msg.ErrorMessage
	}
	loggingpkg.OrNop(w.Logger).Info("Audit", f)
	return nil
}

// MultiWriter writes to every writer and joins their errors.
type MultiWriter []Writer

func (m MultiWriter) SaveAuditMessage(ctx context.Context, msg domain.AuditMessage) error {
	var errs []error
	for _, w := range m {
		if err := w.SaveAuditMessage(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func fields(msg domain.AuditMessage) loggingpkg.LogFields {
	return loggingpkg.LogFields{
		"event_id":   msg.EventID,
		"event_type": msg.EventType,
		"tenant":     msg.TenantID,
		"state":      string(msg.State),
	}
}
