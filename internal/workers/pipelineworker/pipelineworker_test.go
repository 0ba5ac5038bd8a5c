package pipelineworker

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/rakunlabs/ferroflux/internal/blob"
	"github.com/rakunlabs/ferroflux/internal/ecs"
	"github.com/rakunlabs/ferroflux/internal/events"
	"github.com/rakunlabs/ferroflux/internal/pipeline"
	"github.com/rakunlabs/ferroflux/internal/pipeline/tools"
	"github.com/rakunlabs/ferroflux/internal/workers"
)

func TestTickRunsDefinitionAndEmitsOutputs(t *testing.T) {
	world := ecs.NewWorld()
	store := blob.New(blob.NewMemoryProvider())
	bus := events.NewBus()

	engine := pipeline.NewEngine(tools.NewDefaultRegistry(nil), tools.NewMemoryStore())
	def := pipeline.Definition{
		ID: "double_count",
		Steps: []pipeline.StepDef{
			{
				ID:      "calc",
				Tool:    "math",
				Params:  map[string]any{"expression": "n * 2", "vars": map[string]any{"n": "{{inputs.count}}"}},
				Returns: map[string]string{"result": "doubled"},
			},
			{
				ID:     "out",
				Tool:   "emit",
				Params: map[string]any{"port": "count", "value": "{{doubled}}"},
			},
		},
	}

	w := New("double_count", def, engine)

	id := world.Spawn()
	world.TagTopology(id)
	world.SetWorkflowTag(id, "wf-1")
	world.SetNodeDefinition(id, &ecs.NodeDefinition{UUID: "n1", Type: "double_count"})

	payload, err := json.Marshal(map[string]any{"count": float64(3)})
	require.NoError(t, err)
	blobID, err := store.CheckIn(t.Context(), payload)
	require.NoError(t, err)

	world.Inbox(id).Push("in", ecs.Ticket{BlobID: blobID.String(), TraceID: "trace-1"})

	err = w.Tick(t.Context(), world, id, workers.Deps{Blob: store, Bus: bus})
	require.NoError(t, err)

	outbox := world.Outbox(id).Drain()
	require.Len(t, outbox, 1)
	require.Equal(t, "count", outbox[0].Port)

	out, err := store.Claim(t.Context(), mustParse(t, outbox[0].Ticket.BlobID))
	require.NoError(t, err)

	var got float64
	require.NoError(t, json.Unmarshal(out, &got))
	require.Equal(t, float64(6), got)
}

func mustParse(t *testing.T, s string) uuid.UUID {
	t.Helper()
	parsed, err := workers.ParseBlobID(s)
	require.NoError(t, err)
	return parsed
}
