package ingest

import (
	"context"
	"errors"
)

// ErrConsumerClosed is returned by Poll once the consumer has been closed.
var ErrConsumerClosed = errors.New("tenantbus: consumer closed")

// Consumer is the log client driven by a Governor. Pause and Resume are only
// ever called from the governor's loop goroutine; Poll runs on its own.
type Consumer interface {
	// Subscribe joins group and consumes every topic matching pattern.
	Subscribe(ctx context.Context, group, pattern string) error
	// Poll blocks until records are available, ctx ends, or the consumer closes.
	Poll(ctx context.Context) ([]*Record, error)
	Pause()
	Resume()
	// Commit stores rec.Offset+1 for the record's partition.
	Commit(ctx context.Context, rec *Record) error
	Unsubscribe() error
	Close() error
}
