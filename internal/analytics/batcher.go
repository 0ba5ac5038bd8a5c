// Package analytics implements the telemetry batcher described in
// SPEC_FULL.md §10: it buffers AnalyticsEvents and flushes them to a
// pluggable Backend either when the buffer reaches MaxBatchSize or
// FlushInterval elapses, whichever comes first. Grounded on the
// reference implementation's store/batcher.rs.
package analytics

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// MaxBatchSize is the event count that triggers an immediate flush.
const MaxBatchSize = 1000

// FlushInterval is the maximum time an event waits before being
// flushed even if the batch hasn't filled up.
const FlushInterval = 2 * time.Second

// Event is a single analytics record.
type Event struct {
	ID         string
	Timestamp  time.Time
	Tenant     string
	NodeUUID   string
	WorkflowID string
	Type       string
	Payload    map[string]any
	DurationMS int64
	Status     string
}

// Backend persists a flushed batch of events.
type Backend interface {
	WriteBatch(ctx context.Context, events []Event) error
}

// Batcher buffers events in memory and flushes them to a Backend on a
// size-or-time trigger. Callers invoke Record from any goroutine;
// timed flushing runs in Run's ticker loop, on whichever goroutine
// calls Run.
type Batcher struct {
	backend Backend

	mu     sync.Mutex
	buffer []Event
}

// New returns a Batcher that flushes to backend.
func New(backend Backend) *Batcher {
	return &Batcher{backend: backend}
}

// Record appends an event to the buffer, assigning it a ULID-based ID
// and timestamp if unset, and flushes immediately if the buffer has
// reached MaxBatchSize.
func (b *Batcher) Record(ctx context.Context, e Event) {
	if e.ID == "" {
		e.ID = ulid.Make().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.Lock()
	b.buffer = append(b.buffer, e)
	shouldFlush := len(b.buffer) >= MaxBatchSize
	b.mu.Unlock()

	if shouldFlush {
		b.Flush(ctx)
	}
}

// Flush drains the buffer and writes it to the backend. It is a no-op
// if the buffer is empty.
func (b *Batcher) Flush(ctx context.Context) error {
	b.mu.Lock()
	batch := b.buffer
	b.buffer = nil
	b.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	return b.backend.WriteBatch(ctx, batch)
}

// Run blocks, flushing the buffer every FlushInterval, until ctx is
// canceled. A final flush runs before returning so no buffered events
// are lost on shutdown.
func (b *Batcher) Run(ctx context.Context) {
	ticker := time.NewTicker(FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = b.Flush(context.Background())
			return
		case <-ticker.C:
			_ = b.Flush(ctx)
		}
	}
}
