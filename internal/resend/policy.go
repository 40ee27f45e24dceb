// Package resend republishes records whose business handling failed, with an
// exponential delay and a bounded number of attempts.
package resend

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/tenantbus/internal/ingest"
	idspkg "github.com/drblury/tenantbus/internal/runtime/ids"
	loggingpkg "github.com/drblury/tenantbus/internal/runtime/logging"
	metadatapkg "github.com/drblury/tenantbus/internal/runtime/metadata"
)

// DefaultQuantum is the backoff unit used when Config.Quantum is not set.
const DefaultQuantum = 250 * time.Millisecond

// Scheduler runs f once after d without blocking the caller.
type Scheduler interface {
	AfterFunc(d time.Duration, f func())
}

// TimerScheduler schedules on time.AfterFunc.
type TimerScheduler struct{}

func (TimerScheduler) AfterFunc(d time.Duration, f func()) {
	time.AfterFunc(d, f)
}

// Producer is a publisher leased from a ProducerSource. Release must be
// called exactly once per lease; failed retires the underlying publisher once
// no other lease holds it.
type Producer interface {
	Publish(topic string, messages ...*message.Message) error
	Release(failed bool)
}

// ProducerSource leases publishers per event type.
type ProducerSource interface {
	Acquire(ctx context.Context, eventType string) (Producer, error)
}

// Observer is told about every resend decision.
type Observer interface {
	Scheduled(eventType string, attempt int, delay time.Duration)
	Dropped(eventType string, attempts int)
	Failed(eventType string)
}

type nopObserver struct{}

func (nopObserver) Scheduled(string, int, time.Duration) {}
func (nopObserver) Dropped(string, int)                  {}
func (nopObserver) Failed(string)                        {}

// Config bounds the policy.
type Config struct {
	// MaxResend is the number of republish attempts per record; zero disables resending.
	MaxResend int
	Quantum   time.Duration
}

// Dependencies are the collaborators of a Policy. Producers is required;
// the rest default to a real timer, a discarding logger, and no observer.
type Dependencies struct {
	Producers ProducerSource
	Scheduler Scheduler
	Logger    loggingpkg.ServiceLogger
	Observer  Observer
}

// Policy implements ingest.FailureHandler.
type Policy struct {
	maxResend int
	quantum   time.Duration
	producers ProducerSource
	scheduler Scheduler
	logger    loggingpkg.ServiceLogger
	observer  Observer
}

var _ ingest.FailureHandler = (*Policy)(nil)

func New(cfg Config, deps Dependencies) *Policy {
	p := &Policy{
		maxResend: cfg.MaxResend,
		quantum:   cfg.Quantum,
		producers: deps.Producers,
		scheduler: deps.Scheduler,
		logger:    loggingpkg.OrNop(deps.Logger),
		observer:  deps.Observer,
	}
	if p.quantum <= 0 {
		p.quantum = DefaultQuantum
	}
	if p.scheduler == nil {
		p.scheduler = TimerScheduler{}
	}
	if p.observer == nil {
		p.observer = nopObserver{}
	}
	return p
}

// Delay is round(e^attempt) quanta.
func Delay(attempt int, quantum time.Duration) time.Duration {
	return time.Duration(math.Round(math.Exp(float64(attempt)))) * quantum
}

// Handle schedules a republish of rec to its origin topic, or drops it once
// the resend counter header has reached the limit. It never blocks on the
// publish and never panics into the caller.
func (p *Policy) Handle(ctx context.Context, cause error, rec *ingest.Record) {
	if rec == nil {
		return
	}
	eventType := ingest.EventTypeFromTopic(rec.Topic)
	fields := loggingpkg.LogFields{
		"topic":      rec.Topic,
		"partition":  rec.Partition,
		"offset":     rec.Offset,
		"event_type": eventType,
	}

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Resend aborted", fmt.Errorf("panic: %v", r), fields)
		}
	}()

	raw, _ := rec.Header(metadatapkg.ResendCounter)
	counter := metadatapkg.ParseCounter(raw)
	if counter >= p.maxResend {
		p.logger.Info("Resend limit reached, dropping record", loggingpkg.LogFields{
			"topic":     rec.Topic,
			"offset":    rec.Offset,
			"attempts":  counter,
			"cause":     errString(cause),
			"max":       p.maxResend,
			"partition": rec.Partition,
		})
		p.observer.Dropped(eventType, counter)
		return
	}

	attempt := counter + 1
	delay := Delay(attempt, p.quantum)
	msg := envelope(context.WithoutCancel(ctx), rec, attempt)

	p.logger.Debug("Resend scheduled", loggingpkg.LogFields{
		"topic":   rec.Topic,
		"attempt": attempt,
		"delay":   delay.String(),
		"cause":   errString(cause),
	})
	p.observer.Scheduled(eventType, attempt, delay)

	p.scheduler.AfterFunc(delay, func() {
		p.publish(msg.Context(), rec.Topic, eventType, msg)
	})
}

func (p *Policy) publish(ctx context.Context, topic, eventType string, msg *message.Message) {
	fields := loggingpkg.LogFields{"topic": topic, "event_type": eventType}
	if p.producers == nil {
		p.logger.Error("Resend publish skipped", fmt.Errorf("no producer source"), fields)
		p.observer.Failed(eventType)
		return
	}

	pub, err := p.producers.Acquire(ctx, eventType)
	if err != nil {
		p.logger.Error("Acquiring producer failed", err, fields)
		p.observer.Failed(eventType)
		return
	}
	err = pub.Publish(topic, msg)
	pub.Release(err != nil)
	if err != nil {
		p.logger.Error("Resend publish failed", err, fields)
		p.observer.Failed(eventType)
	}
}

// envelope copies the record with exactly one resend counter header.
func envelope(ctx context.Context, rec *ingest.Record, attempt int) *message.Message {
	md := rec.Metadata().
		Without(metadatapkg.ResendCounter, metadatapkg.WatermillUUID).
		With(metadatapkg.ResendCounter, metadatapkg.FormatCounter(attempt)).
		With(metadatapkg.RecordKey, string(rec.Key))

	msg := message.NewMessage(idspkg.CreateULID(), append([]byte(nil), rec.Value...))
	msg.Metadata = metadatapkg.ToWatermill(md)
	msg.SetContext(ctx)
	return msg
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
