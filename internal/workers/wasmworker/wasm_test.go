package wasmworker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rakunlabs/ferroflux/internal/blob"
	"github.com/rakunlabs/ferroflux/internal/ecs"
	"github.com/rakunlabs/ferroflux/internal/events"
	"github.com/rakunlabs/ferroflux/internal/workers"
)

func drainNodeError(t *testing.T, ch <-chan events.Event) events.Event {
	t.Helper()
	for {
		select {
		case e := <-ch:
			if e.Kind == events.KindNodeError {
				return e
			}
		default:
			t.Fatal("expected a NodeError to be published")
		}
	}
}

func TestParseWasmConfigRequiresModulePath(t *testing.T) {
	_, err := parseWasmConfig(map[string]any{})
	require.Error(t, err)
}

func TestParseWasmConfigDefaults(t *testing.T) {
	cfg, err := parseWasmConfig(map[string]any{"module_path": "testdata/does-not-exist.wasm"})
	require.NoError(t, err)
	require.Equal(t, DefaultTimeoutSeconds, cfg.TimeoutSeconds)
	require.Equal(t, "", cfg.ResultKey)
}

func TestParseWasmConfigOverrides(t *testing.T) {
	cfg, err := parseWasmConfig(map[string]any{
		"module_path":     "adapters/quickjs.wasm",
		"timeout_seconds": float64(5),
		"result_key":      "computed",
		"args":            []any{"-e", "1+1"},
	})
	require.NoError(t, err)
	require.Equal(t, 5, cfg.TimeoutSeconds)
	require.Equal(t, "computed", cfg.ResultKey)
	require.Equal(t, []string{"-e", "1+1"}, cfg.Args)
}

// TestWorkerReportsMissingModuleAsNodeError exercises the Tick error path
// when a node's configured module_path does not exist on disk. It does
// not cover actual WASI execution, since no compiled .wasm fixture ships
// with the retrieval pack; no test in this package runs a module.
func TestWorkerReportsMissingModuleAsNodeError(t *testing.T) {
	ctx := context.Background()
	worker, err := New(ctx)
	require.NoError(t, err)
	defer worker.Close(ctx)

	store := blob.New(blob.NewMemoryProvider())
	bus := events.NewBus()
	deps := workers.Deps{Blob: store, Bus: bus}

	world := ecs.NewWorld()
	id := world.Spawn()
	world.SetNodeDefinition(id, &ecs.NodeDefinition{
		UUID:   "node-compute",
		Type:   "compute",
		Config: map[string]any{"module_path": "testdata/does-not-exist.wasm"},
	})

	blobID, err := store.CheckIn(ctx, []byte(`{"n":1}`))
	require.NoError(t, err)
	world.Inbox(id).Push("", ecs.Ticket{BlobID: blobID.String(), TraceID: "trace-compute"})

	errs, unsubscribe := bus.Subscribe(8)
	defer unsubscribe()

	require.NoError(t, worker.Tick(ctx, world, id, deps))
	require.Empty(t, world.Outbox(id).Drain())

	e := drainNodeError(t, errs)
	require.Equal(t, "node-compute", e.NodeUUID)
}
