package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/tenantbus/internal/runtime/errors"
	loggingpkg "github.com/drblury/tenantbus/internal/runtime/logging"
)

const pollRetryDelay = 100 * time.Millisecond

// State is the lifecycle position of a Governor.
type State int32

const (
	StateCreated State = iota
	StateSubscribing
	StateRunning
	StatePaused
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateSubscribing:
		return "subscribing"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Config holds the per-governor settings.
type Config struct {
	Definition SubscriptionDefinition
	// LoadLimit is the in-flight count above which intake pauses. Intake
	// resumes once load falls back under LoadLimit/2.
	LoadLimit int
}

// FailureHandler receives records whose business handler failed. It is
// invoked on its own goroutine and its outcome is never awaited.
type FailureHandler interface {
	Handle(ctx context.Context, cause error, rec *Record)
}

// FailureHandlerFunc adapts a function to FailureHandler.
type FailureHandlerFunc func(ctx context.Context, cause error, rec *Record)

func (f FailureHandlerFunc) Handle(ctx context.Context, cause error, rec *Record) {
	f(ctx, cause, rec)
}

// Observer is notified about load transitions, mostly for metrics.
type Observer interface {
	Accepted(eventType string, local int64)
	Completed(eventType string, local int64, err error)
	Paused(eventType string)
	Resumed(eventType string)
}

// NopObserver ignores every notification.
type NopObserver struct{}

func (NopObserver) Accepted(string, int64)          {}
func (NopObserver) Completed(string, int64, error) {}
func (NopObserver) Paused(string)                  {}
func (NopObserver) Resumed(string)                 {}

// Dependencies are the collaborators injected into a Governor. Everything is
// optional: Gauge defaults to DefaultGauge, a nil GlobalLoad means global load
// is reported as GlobalLoadUnknown.
type Dependencies struct {
	Gauge      Gauge
	GlobalLoad *LoadSensor
	Failure    FailureHandler
	Logger     loggingpkg.ServiceLogger
	Observer   Observer
}

// Snapshot is a point-in-time view of a governor, served by the admin API.
type Snapshot struct {
	EventType     string `json:"eventType"`
	Group         string `json:"group"`
	Pattern       string `json:"pattern"`
	State         string `json:"state"`
	LocalLoad     int64  `json:"localLoad"`
	LoadLimit     int    `json:"loadLimit"`
	PauseRequests int64  `json:"pauseRequests"`
}

// Governor consumes one subscription definition, dispatching each record to a
// business handler while keeping in-flight load under the configured limit.
// A single loop goroutine owns pause and resume decisions.
type Governor struct {
	consumer Consumer
	cfg      Config
	gauge    Gauge
	global   *LoadSensor
	local    *LoadSensor
	failure  FailureHandler
	logger   loggingpkg.ServiceLogger
	observer Observer

	state         atomic.Int32
	pauseRequests atomic.Int64

	mu       sync.Mutex
	group    string
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

type completion struct {
	rec *Record
	err error
}

// NewGovernor wires a governor around consumer. Configuration problems are
// reported by Start, not here.
func NewGovernor(consumer Consumer, cfg Config, deps Dependencies) *Governor {
	g := &Governor{
		consumer: consumer,
		cfg:      cfg,
		gauge:    deps.Gauge,
		global:   deps.GlobalLoad,
		local:    NewLoadSensor(),
		failure:  deps.Failure,
		observer: deps.Observer,
	}
	if g.gauge == nil {
		g.gauge = DefaultGauge
	}
	if g.observer == nil {
		g.observer = NopObserver{}
	}
	g.logger = loggingpkg.OrNop(deps.Logger).With(loggingpkg.LogFields{
		"event_type": cfg.Definition.EventType,
	})
	return g
}

// Start validates the configuration, subscribes, and launches the event loop.
// moduleIdentity becomes part of the consumer group name.
func (g *Governor) Start(ctx context.Context, handler message.NoPublishHandlerFunc, moduleIdentity string) error {
	if handler == nil {
		return errspkg.ErrHandlerRequired
	}
	if err := g.cfg.Definition.Validate(); err != nil {
		return err
	}
	if g.cfg.LoadLimit < 1 {
		return fmt.Errorf("%w: got %d", errspkg.ErrInvalidLoadLimit, g.cfg.LoadLimit)
	}
	if g.consumer == nil {
		return errspkg.ErrConsumerRequired
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.state.CompareAndSwap(int32(StateCreated), int32(StateSubscribing)) {
		return errspkg.ErrGovernorStarted
	}

	group := GroupName(g.cfg.Definition.EventType, moduleIdentity)
	if err := g.consumer.Subscribe(ctx, group, g.cfg.Definition.SubscriptionPattern); err != nil {
		g.state.Store(int32(StateStopped))
		return fmt.Errorf("subscribe %s: %w", group, err)
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	g.group = group
	g.cancel = cancel
	g.done = make(chan struct{})
	g.state.Store(int32(StateRunning))

	batches := make(chan []*Record)
	go g.poll(loopCtx, batches)
	go g.loop(loopCtx, handler, batches, g.done)

	g.logger.Info("Governor started", loggingpkg.LogFields{
		"group":      group,
		"pattern":    g.cfg.Definition.SubscriptionPattern,
		"load_limit": g.cfg.LoadLimit,
	})
	return nil
}

// Stop ends the loop, unsubscribes, and closes the consumer. In-flight
// handlers are not cancelled. Teardown errors are logged, never returned.
func (g *Governor) Stop() error {
	g.stopOnce.Do(func() {
		g.mu.Lock()
		cancel, done := g.cancel, g.done
		g.mu.Unlock()

		if cancel == nil {
			g.state.Store(int32(StateStopped))
			return
		}

		g.state.Store(int32(StateStopping))
		cancel()
		<-done

		if err := g.consumer.Unsubscribe(); err != nil {
			g.logger.Error("Unsubscribe failed", err, nil)
		}
		if err := g.consumer.Close(); err != nil {
			g.logger.Error("Closing consumer failed", err, nil)
		}
		g.state.Store(int32(StateStopped))
		g.logger.Info("Governor stopped", nil)
	})
	return nil
}

// State reports the current lifecycle state.
func (g *Governor) State() State {
	return State(g.state.Load())
}

// LocalLoad reports how many records this governor has in flight.
func (g *Governor) LocalLoad() int64 {
	return g.local.Current()
}

func (g *Governor) Snapshot() Snapshot {
	g.mu.Lock()
	group := g.group
	g.mu.Unlock()
	return Snapshot{
		EventType:     g.cfg.Definition.EventType,
		Group:         group,
		Pattern:       g.cfg.Definition.SubscriptionPattern,
		State:         g.State().String(),
		LocalLoad:     g.local.Current(),
		LoadLimit:     g.cfg.LoadLimit,
		PauseRequests: g.pauseRequests.Load(),
	}
}

func (g *Governor) poll(ctx context.Context, out chan<- []*Record) {
	defer close(out)
	for {
		records, err := g.consumer.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrConsumerClosed) {
				return
			}
			g.logger.Error("Polling failed", err, nil)
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollRetryDelay):
			}
			continue
		}
		if len(records) == 0 {
			continue
		}
		select {
		case out <- records:
		case <-ctx.Done():
			return
		}
	}
}

// loop accepts records while not paused and processes completions. Records
// of a batch that arrive after a pause are held until the resume.
func (g *Governor) loop(ctx context.Context, handler message.NoPublishHandlerFunc, batches <-chan []*Record, done chan struct{}) {
	defer close(done)

	completions := make(chan completion)
	var pending []*Record

	for {
		if len(pending) > 0 && g.pauseRequests.Load() == 0 {
			rec := pending[0]
			pending = pending[1:]
			g.accept(ctx, handler, rec, completions, done)
			continue
		}

		var in <-chan []*Record
		if len(pending) == 0 {
			in = batches
		}

		select {
		case <-ctx.Done():
			return
		case recs, ok := <-in:
			if !ok {
				batches = nil
				continue
			}
			pending = recs
		case c := <-completions:
			g.complete(ctx, c)
		}
	}
}

func (g *Governor) accept(ctx context.Context, handler message.NoPublishHandlerFunc, rec *Record, completions chan<- completion, done <-chan struct{}) {
	global := GlobalLoadUnknown
	if g.global != nil {
		global = g.global.Increment()
	}
	local := g.local.Increment()
	g.observer.Accepted(g.cfg.Definition.EventType, local)

	if g.gauge.Exceeded(global, local, g.cfg.LoadLimit) && g.pauseRequests.Add(1) == 1 {
		g.consumer.Pause()
		g.state.CompareAndSwap(int32(StateRunning), int32(StatePaused))
		g.observer.Paused(g.cfg.Definition.EventType)
		g.logger.Debug("Intake paused", loggingpkg.LogFields{"local_load": local, "global_load": global})
	}

	msg := rec.Message(context.WithoutCancel(ctx))
	go func() {
		c := completion{rec: rec, err: invoke(handler, msg)}
		select {
		case completions <- c:
		case <-done:
			// loop is gone; keep the sensors honest
			g.release()
		}
	}()
}

func (g *Governor) complete(ctx context.Context, c completion) {
	if err := g.consumer.Commit(ctx, c.rec); err != nil {
		g.logger.Error("Commit failed", err, loggingpkg.LogFields{
			"topic":     c.rec.Topic,
			"partition": c.rec.Partition,
			"offset":    c.rec.Offset,
		})
	}

	global, local := g.release()
	g.observer.Completed(g.cfg.Definition.EventType, local, c.err)

	if !g.gauge.Exceeded(global, local, g.cfg.LoadLimit/2) && g.pauseRequests.Swap(0) > 0 {
		g.consumer.Resume()
		g.state.CompareAndSwap(int32(StatePaused), int32(StateRunning))
		g.observer.Resumed(g.cfg.Definition.EventType)
		g.logger.Debug("Intake resumed", loggingpkg.LogFields{"local_load": local, "global_load": global})
	}

	if c.err != nil && g.failure != nil {
		go g.failure.Handle(context.WithoutCancel(ctx), c.err, c.rec)
	}
}

func (g *Governor) release() (global, local int64) {
	global = GlobalLoadUnknown
	if g.global != nil {
		global = g.global.Decrement()
	}
	return global, g.local.Decrement()
}

func invoke(handler message.NoPublishHandlerFunc, msg *message.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(msg)
}
