package manipulation

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rakunlabs/ferroflux/internal/blob"
	"github.com/rakunlabs/ferroflux/internal/ecs"
	"github.com/rakunlabs/ferroflux/internal/workers"
)

func newTestDeps() workers.Deps {
	return workers.Deps{Blob: blob.New(blob.NewMemoryProvider())}
}

func pushJSON(t *testing.T, ctx context.Context, world *ecs.World, id ecs.EntityID, store *blob.Store, v any) {
	t.Helper()
	payload, err := json.Marshal(v)
	require.NoError(t, err)
	blobID, err := store.CheckIn(ctx, payload)
	require.NoError(t, err)
	world.Inbox(id).Push("", ecs.Ticket{BlobID: blobID.String(), TraceID: "trace-1"})
}

func drainJSON(t *testing.T, ctx context.Context, world *ecs.World, id ecs.EntityID, store *blob.Store) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, item := range world.Outbox(id).Drain() {
		blobID, err := workers.ParseBlobID(item.Ticket.BlobID)
		require.NoError(t, err)
		payload, err := store.Claim(ctx, blobID)
		require.NoError(t, err)
		var m map[string]any
		require.NoError(t, json.Unmarshal(payload, &m))
		out = append(out, m)
	}
	return out
}

func TestSplitterFansOutArray(t *testing.T) {
	ctx := context.Background()
	deps := newTestDeps()
	world := ecs.NewWorld()
	id := world.Spawn()

	s, err := NewSplitter(map[string]any{"path": "items"})
	require.NoError(t, err)

	pushJSON(t, ctx, world, id, deps.Blob, map[string]any{
		"items": []any{
			map[string]any{"name": "a"},
			map[string]any{"name": "b"},
		},
	})

	require.NoError(t, s.Tick(ctx, world, id, deps))

	out := drainJSON(t, ctx, world, id, deps.Blob)
	require.Len(t, out, 2)
	require.Equal(t, "a", out[0]["name"])
	require.Equal(t, "b", out[1]["name"])
}

func TestSplitterNullResultProducesNoOutput(t *testing.T) {
	ctx := context.Background()
	deps := newTestDeps()
	world := ecs.NewWorld()
	id := world.Spawn()

	s, err := NewSplitter(map[string]any{"path": "missing"})
	require.NoError(t, err)

	pushJSON(t, ctx, world, id, deps.Blob, map[string]any{"items": []any{1, 2}})
	require.NoError(t, s.Tick(ctx, world, id, deps))

	require.Empty(t, world.Outbox(id).Drain())
}

func TestAggregatorFlushesAtBatchSize(t *testing.T) {
	ctx := context.Background()
	deps := newTestDeps()
	world := ecs.NewWorld()
	id := world.Spawn()

	a, err := NewAggregator(map[string]any{"batch_size": float64(2)})
	require.NoError(t, err)

	pushJSON(t, ctx, world, id, deps.Blob, map[string]any{"v": 1.0})
	require.NoError(t, a.Tick(ctx, world, id, deps))
	require.Empty(t, world.Outbox(id).Drain(), "should not flush below batch_size")

	pushJSON(t, ctx, world, id, deps.Blob, map[string]any{"v": 2.0})
	require.NoError(t, a.Tick(ctx, world, id, deps))

	out := drainJSON(t, ctx, world, id, deps.Blob)
	require.Len(t, out, 1)
	require.Equal(t, float64(2), out[0]["count"])
}

func TestTransformEnrichesAtResultKey(t *testing.T) {
	ctx := context.Background()
	deps := newTestDeps()
	world := ecs.NewWorld()
	id := world.Spawn()

	tr, err := NewTransform(map[string]any{"path": "user.name", "result_key": "extracted"})
	require.NoError(t, err)

	pushJSON(t, ctx, world, id, deps.Blob, map[string]any{"user": map[string]any{"name": "ada"}})
	require.NoError(t, tr.Tick(ctx, world, id, deps))

	out := drainJSON(t, ctx, world, id, deps.Blob)
	require.Len(t, out, 1)
	require.Equal(t, "ada", out[0]["extracted"])
	require.NotNil(t, out[0]["user"], "original payload keys survive an enrich merge")
}

func TestStatsComputesMeanAndFlagsOutliers(t *testing.T) {
	ctx := context.Background()
	deps := newTestDeps()
	world := ecs.NewWorld()
	id := world.Spawn()

	s, err := NewStats(map[string]any{"path": "values", "outlier_threshold": float64(1.0)})
	require.NoError(t, err)

	pushJSON(t, ctx, world, id, deps.Blob, map[string]any{"values": []any{1.0, 1.0, 1.0, 100.0}})
	require.NoError(t, s.Tick(ctx, world, id, deps))

	out := drainJSON(t, ctx, world, id, deps.Blob)
	require.Len(t, out, 1)
	require.Equal(t, float64(4), out[0]["count"])
	outliers, _ := out[0]["outliers"].([]any)
	require.NotEmpty(t, outliers)
}

func TestWindowKeepsBoundedRollingSet(t *testing.T) {
	ctx := context.Background()
	deps := newTestDeps()
	world := ecs.NewWorld()
	id := world.Spawn()

	w, err := NewWindow(map[string]any{"path": "v", "size": float64(2)})
	require.NoError(t, err)

	for _, v := range []float64{1, 2, 3} {
		pushJSON(t, ctx, world, id, deps.Blob, map[string]any{"v": v})
		require.NoError(t, w.Tick(ctx, world, id, deps))
	}

	out := drainJSON(t, ctx, world, id, deps.Blob)
	require.Len(t, out, 3)
	last := out[2]
	require.Equal(t, float64(2), last["count"])
	window, _ := last["window"].([]any)
	require.Equal(t, []any{2.0, 3.0}, window)
}

func TestExpressionEvaluatesArithmeticWithHelpers(t *testing.T) {
	ctx := context.Background()
	deps := newTestDeps()
	world := ecs.NewWorld()
	id := world.Spawn()

	e, err := NewExpression(map[string]any{"expression": "sqrt(a*a + b*b)", "result_key": "hypotenuse"})
	require.NoError(t, err)

	pushJSON(t, ctx, world, id, deps.Blob, map[string]any{"a": 3.0, "b": 4.0})
	require.NoError(t, e.Tick(ctx, world, id, deps))

	out := drainJSON(t, ctx, world, id, deps.Blob)
	require.Len(t, out, 1)
	require.Equal(t, 5.0, out[0]["hypotenuse"])
}
