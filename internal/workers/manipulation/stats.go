package manipulation

import (
	"context"
	"fmt"
	"math"

	"github.com/jmespath/go-jmespath"

	"github.com/rakunlabs/ferroflux/internal/ecs"
	"github.com/rakunlabs/ferroflux/internal/workers"
)

// Stats evaluates Path against the inbox payload expecting a numeric
// array, and computes a two-pass mean/variance/stddev summary plus a
// per-element z-score and outlier flag (|z| > OutlierThreshold).
// Grounded on stats.rs's two-pass (mean, then variance) algorithm,
// chosen over a running/Welford accumulator since this worker is
// stateless across ticks (each inbox item carries its own full array).
type Stats struct {
	Path             string
	ResultKey        string
	OutlierThreshold float64
}

// NewStats constructs a Stats worker from a node's raw configuration.
// outlier_threshold defaults to 2.0 standard deviations.
func NewStats(config map[string]any) (*Stats, error) {
	path, _ := config["path"].(string)
	if path == "" {
		return nil, fmt.Errorf("stats: 'path' is required")
	}

	resultKey, _ := config["result_key"].(string)

	threshold := 2.0
	if v, ok := config["outlier_threshold"].(float64); ok && v > 0 {
		threshold = v
	}

	return &Stats{Path: path, ResultKey: resultKey, OutlierThreshold: threshold}, nil
}

func (s *Stats) NodeType() string { return "stats" }

func (s *Stats) Tick(ctx context.Context, world *ecs.World, id ecs.EntityID, deps workers.Deps) error {
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

		result, err := jmespath.Search(s.Path, data)
		if err != nil {
			reportError(deps, world, id, item.Ticket.TraceID, fmt.Errorf("stats: jmespath: %w", err))
			continue
		}

		values, err := toFloatSlice(result)
		if err != nil {
			reportError(deps, world, id, item.Ticket.TraceID, fmt.Errorf("stats: %w", err))
			continue
		}

		summary := s.summarize(values)

		merged, err := workers.Merge(payload, s.ResultKey, summary)
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

func (s *Stats) summarize(values []float64) map[string]any {
	if len(values) == 0 {
		return map[string]any{"count": 0, "mean": 0, "variance": 0, "stddev": 0, "outliers": []int{}}
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var sqDiff float64
	for _, v := range values {
		d := v - mean
		sqDiff += d * d
	}
	variance := sqDiff / float64(len(values))
	stddev := math.Sqrt(variance)

	zScores := make([]float64, len(values))
	var outliers []int
	for i, v := range values {
		z := 0.0
		if stddev > 0 {
			z = (v - mean) / stddev
		}
		zScores[i] = z
		if math.Abs(z) > s.OutlierThreshold {
			outliers = append(outliers, i)
		}
	}
	if outliers == nil {
		outliers = []int{}
	}

	return map[string]any{
		"count":    len(values),
		"mean":     mean,
		"variance": variance,
		"stddev":   stddev,
		"z_scores": zScores,
		"outliers": outliers,
	}
}

func toFloatSlice(v any) ([]float64, error) {
	arr, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("expected a numeric array, got %T", v)
	}

	out := make([]float64, 0, len(arr))
	for _, elem := range arr {
		f, ok := elem.(float64)
		if !ok {
			return nil, fmt.Errorf("non-numeric element %v", elem)
		}
		out = append(out, f)
	}
	return out, nil
}
