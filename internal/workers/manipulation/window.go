package manipulation

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/jmespath/go-jmespath"

	"github.com/rakunlabs/ferroflux/internal/ecs"
	"github.com/rakunlabs/ferroflux/internal/workers"
)

// Window maintains a bounded per-node deque of the last Size numeric
// values seen at Path and emits rolling aggregates (mean, sum, min,
// max, variance) on every tick. Grounded on window.rs's VecDeque-backed
// sliding window; the Go port keeps one deque per entity in a
// mutex-guarded map for the same reason Aggregator does.
type Window struct {
	Path string
	Size int

	mu      sync.Mutex
	windows map[ecs.EntityID][]float64
}

// NewWindow constructs a Window worker from a node's raw configuration.
// size defaults to 10.
func NewWindow(config map[string]any) (*Window, error) {
	path, _ := config["path"].(string)
	if path == "" {
		return nil, fmt.Errorf("window: 'path' is required")
	}

	size := 10
	if v, ok := config["size"].(float64); ok && v > 0 {
		size = int(v)
	}

	return &Window{Path: path, Size: size, windows: make(map[ecs.EntityID][]float64)}, nil
}

func (w *Window) NodeType() string { return "window" }

func (w *Window) Tick(ctx context.Context, world *ecs.World, id ecs.EntityID, deps workers.Deps) error {
	if workers.RunPinnedShortCircuit(world, id) {
		return nil
	}

	inbox := world.Inbox(id)
	items := inbox.Drain()
	outbox := world.Outbox(id)

	for _, item := range items {
		data, payload, err := workers.ClaimJSON(ctx, deps.Blob, item.Ticket)
		if err != nil {
			reportError(deps, world, id, item.Ticket.TraceID, err)
			continue
		}

		result, err := jmespath.Search(w.Path, data)
		if err != nil {
			reportError(deps, world, id, item.Ticket.TraceID, fmt.Errorf("window: jmespath: %w", err))
			continue
		}

		v, ok := result.(float64)
		if !ok {
			reportError(deps, world, id, item.Ticket.TraceID, fmt.Errorf("window: expected a number, got %T", result))
			continue
		}

		w.mu.Lock()
		buf := append(w.windows[id], v)
		if len(buf) > w.Size {
			buf = buf[len(buf)-w.Size:]
		}
		w.windows[id] = buf
		snapshot := append([]float64(nil), buf...)
		w.mu.Unlock()

		merged, err := workers.Merge(payload, "", rollingSummary(snapshot))
		if err != nil {
			reportError(deps, world, id, item.Ticket.TraceID, err)
			continue
		}

		blobID, err := deps.Blob.CheckInWithMetadata(ctx, merged, item.Ticket.Metadata)
		if err != nil {
			reportError(deps, world, id, item.Ticket.TraceID, err)
			continue
		}

		outbox.Push("", ecs.Ticket{BlobID: blobID.String(), TraceID: item.Ticket.TraceID, Metadata: item.Ticket.Metadata})
	}

	return nil
}

func rollingSummary(values []float64) map[string]any {
	if len(values) == 0 {
		return map[string]any{"window": []float64{}, "count": 0, "mean": 0, "sum": 0, "min": 0, "max": 0, "variance": 0}
	}

	sum, min, max := 0.0, values[0], values[0]
	for _, v := range values {
		sum += v
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	mean := sum / float64(len(values))

	var sqDiff float64
	for _, v := range values {
		d := v - mean
		sqDiff += d * d
	}
	variance := sqDiff / float64(len(values))

	return map[string]any{
		"window":   values,
		"count":    len(values),
		"mean":     mean,
		"sum":      sum,
		"min":      min,
		"max":      max,
		"variance": variance,
		"stddev":   math.Sqrt(variance),
	}
}
