package ingest

import (
	"context"
	"strconv"
	"sync"
)

type fakeConsumer struct {
	mu      sync.Mutex
	pending []*Record
	paused  bool
	closed  bool
	wake    chan struct{}

	subscribeErr error
	commitErr    error

	group, pattern string
	pauses         int
	resumes        int
	commits        []*Record
	unsubscribed   bool
}

func newFakeConsumer() *fakeConsumer {
	return &fakeConsumer{wake: make(chan struct{}, 1)}
}

func (f *fakeConsumer) Subscribe(_ context.Context, group, pattern string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.group, f.pattern = group, pattern
	return f.subscribeErr
}

func (f *fakeConsumer) Poll(ctx context.Context) ([]*Record, error) {
	for {
		f.mu.Lock()
		if f.closed {
			f.mu.Unlock()
			return nil, ErrConsumerClosed
		}
		if !f.paused && len(f.pending) > 0 {
			recs := f.pending
			f.pending = nil
			f.mu.Unlock()
			return recs, nil
		}
		f.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-f.wake:
		}
	}
}

func (f *fakeConsumer) Pause() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paused = true
	f.pauses++
}

func (f *fakeConsumer) Resume() {
	f.mu.Lock()
	f.paused = false
	f.resumes++
	f.mu.Unlock()
	f.signal()
}

func (f *fakeConsumer) Commit(_ context.Context, rec *Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits = append(f.commits, rec)
	return f.commitErr
}

func (f *fakeConsumer) Unsubscribe() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = true
	return nil
}

func (f *fakeConsumer) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.signal()
	return nil
}

func (f *fakeConsumer) enqueue(recs ...*Record) {
	f.mu.Lock()
	f.pending = append(f.pending, recs...)
	f.mu.Unlock()
	f.signal()
}

func (f *fakeConsumer) signal() {
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

func (f *fakeConsumer) counts() (pauses, resumes, commits int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pauses, f.resumes, len(f.commits)
}

func records(topic string, from, to int) []*Record {
	out := make([]*Record, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, &Record{
			Topic:  topic,
			Offset: int64(i),
			Key:    []byte(strconv.Itoa(i)),
			Value:  []byte(`{}`),
		})
	}
	return out
}
