package manipulation

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rakunlabs/ferroflux/internal/ecs"
	"github.com/rakunlabs/ferroflux/internal/workers"
)

// Aggregator buffers inbox items per node until either BatchSize items
// have accumulated or MaxAge has elapsed since the first buffered item,
// then flushes the batch as a single {"items": [...]} outbox ticket.
// Grounded on the reference implementation's aggregator.rs buffer/flush
// state machine; the loader builds one Aggregator per node, and its
// buffer state lives in a mutex-guarded map keyed by entity ID.
type Aggregator struct {
	BatchSize int
	MaxAge    time.Duration

	mu      sync.Mutex
	buffers map[ecs.EntityID]*aggBuffer
}

type aggBuffer struct {
	items     []any
	metadata  map[string]string
	traceID   string
	startedAt time.Time
}

// NewAggregator constructs an Aggregator from a node's raw configuration.
// batch_size defaults to 100, timeout_seconds to 30.
func NewAggregator(config map[string]any) (*Aggregator, error) {
	batchSize := 100
	if v, ok := config["batch_size"].(float64); ok && v > 0 {
		batchSize = int(v)
	}

	maxAge := 30 * time.Second
	if v, ok := config["timeout_seconds"].(float64); ok && v > 0 {
		maxAge = time.Duration(v) * time.Second
	}

	return &Aggregator{
		BatchSize: batchSize,
		MaxAge:    maxAge,
		buffers:   make(map[ecs.EntityID]*aggBuffer),
	}, nil
}

func (a *Aggregator) NodeType() string { return "aggregator" }

func (a *Aggregator) Tick(ctx context.Context, world *ecs.World, id ecs.EntityID, deps workers.Deps) error {
	if workers.RunPinnedShortCircuit(world, id) {
		return nil
	}

	inbox := world.Inbox(id)
	items := inbox.Drain()

	a.mu.Lock()
	buf, ok := a.buffers[id]
	if !ok {
		buf = &aggBuffer{metadata: map[string]string{}}
		a.buffers[id] = buf
	}
	a.mu.Unlock()

	for _, item := range items {
		data, _, err := workers.ClaimJSON(ctx, deps.Blob, item.Ticket)
		if err != nil {
			reportError(deps, world, id, item.Ticket.TraceID, err)
			continue
		}

		a.mu.Lock()
		if len(buf.items) == 0 {
			buf.startedAt = time.Now()
			buf.traceID = item.Ticket.TraceID
		}
		buf.items = append(buf.items, data)
		for k, v := range item.Ticket.Metadata {
			buf.metadata[k] = v
		}
		a.mu.Unlock()
	}

	a.mu.Lock()
	shouldFlush := len(buf.items) > 0 && (len(buf.items) >= a.BatchSize || time.Since(buf.startedAt) >= a.MaxAge)
	var flushed []any
	var traceID string
	var metadata map[string]string
	if shouldFlush {
		flushed = buf.items
		traceID = buf.traceID
		metadata = buf.metadata
		buf.items = nil
		buf.metadata = map[string]string{}
	}
	a.mu.Unlock()

	if !shouldFlush {
		return nil
	}

	payload, err := json.Marshal(map[string]any{"items": flushed, "count": len(flushed)})
	if err != nil {
		return fmt.Errorf("aggregator: marshal batch: %w", err)
	}

	blobID, err := deps.Blob.CheckInWithMetadata(ctx, payload, metadata)
	if err != nil {
		return fmt.Errorf("aggregator: check in batch: %w", err)
	}

	world.Outbox(id).Push("", ecs.Ticket{BlobID: blobID.String(), TraceID: traceID, Metadata: metadata})

	if deps.Bus != nil {
		deps.Bus.NodeTelemetry(workers.NodeUUID(world, id), traceID, map[string]any{"flushed": len(flushed)})
	}

	return nil
}
