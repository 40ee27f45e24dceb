package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/tenantbus/internal/resend"
	loggingpkg "github.com/drblury/tenantbus/internal/runtime/logging"
)

// producerPool keeps one publisher per event type, shared by the publish
// path and the resend policy through leases. A lease released as failed
// retires its publisher: new leases get a fresh one, and the retired one is
// closed when its last lease comes back.
type producerPool struct {
	factory PublisherFactory
	logger  loggingpkg.ServiceLogger

	mu      sync.Mutex
	current map[string]*pooledPublisher
	closed  bool
}

type pooledPublisher struct {
	eventType string
	pub       message.Publisher
	leases    int
	retired   bool
}

var _ resend.ProducerSource = (*producerPool)(nil)

func newProducerPool(factory PublisherFactory, logger loggingpkg.ServiceLogger) *producerPool {
	return &producerPool{
		factory: factory,
		logger:  loggingpkg.OrNop(logger),
		current: make(map[string]*pooledPublisher),
	}
}

// Acquire leases the publisher of eventType, building one if needed.
func (p *producerPool) Acquire(_ context.Context, eventType string) (resend.Producer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, errors.New("producer pool closed")
	}
	entry, ok := p.current[eventType]
	if !ok {
		pub, err := p.factory()
		if err != nil {
			return nil, fmt.Errorf("create publisher for %s: %w", eventType, err)
		}
		entry = &pooledPublisher{eventType: eventType, pub: pub}
		p.current[eventType] = entry
	}
	entry.leases++
	return &producerLease{pool: p, entry: entry}, nil
}

func (p *producerPool) release(entry *pooledPublisher, failed bool) {
	p.mu.Lock()
	entry.leases--
	if failed && !entry.retired {
		p.retireLocked(entry)
	}
	closeNow := entry.retired && entry.leases == 0
	p.mu.Unlock()

	if closeNow {
		if err := entry.pub.Close(); err != nil {
			p.logger.Error("Closing publisher failed", err, loggingpkg.LogFields{"event_type": entry.eventType})
		}
	}
}

func (p *producerPool) retireLocked(entry *pooledPublisher) {
	entry.retired = true
	if p.current[entry.eventType] == entry {
		delete(p.current, entry.eventType)
	}
}

// Close retires every publisher. Idle ones are closed now, leased ones when
// their last lease is released.
func (p *producerPool) Close() error {
	p.mu.Lock()
	p.closed = true
	var idle []*pooledPublisher
	for _, entry := range p.current {
		p.retireLocked(entry)
		if entry.leases == 0 {
			idle = append(idle, entry)
		}
	}
	p.mu.Unlock()

	var errs []error
	for _, entry := range idle {
		if err := entry.pub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close publisher for %s: %w", entry.eventType, err))
		}
	}
	return errors.Join(errs...)
}

// producerLease is one holder's claim on a pooled publisher.
type producerLease struct {
	pool  *producerPool
	entry *pooledPublisher
	once  sync.Once
}

func (l *producerLease) Publish(topic string, messages ...*message.Message) error {
	return l.entry.pub.Publish(topic, messages...)
}

func (l *producerLease) Release(failed bool) {
	l.once.Do(func() { l.pool.release(l.entry, failed) })
}
