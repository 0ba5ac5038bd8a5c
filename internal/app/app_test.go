package app

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rakunlabs/ferroflux/internal/apiworker"
	"github.com/rakunlabs/ferroflux/internal/blob"
	"github.com/rakunlabs/ferroflux/internal/ecs"
	"github.com/rakunlabs/ferroflux/internal/events"
	"github.com/rakunlabs/ferroflux/internal/loader"
	"github.com/rakunlabs/ferroflux/internal/registry"
	"github.com/rakunlabs/ferroflux/internal/transport"
)

// passthroughWorker is a minimal registry.Worker used only to exercise
// App's scheduling (entity table bookkeeping, despawn cleanup) without
// pulling in a concrete node worker package.
type passthroughWorker struct{ nodeType string }

func (p passthroughWorker) NodeType() string { return p.nodeType }

func newTestApp(t *testing.T) (*App, *apiworker.Worker, map[ecs.EntityID]registry.Worker, *loader.Router) {
	t.Helper()

	world := ecs.NewWorld()
	workerTable := make(map[ecs.EntityID]registry.Worker)
	topology := transport.NewTopology()
	bus := events.NewBus()
	store := blob.New(blob.NewMemoryProvider())
	router := loader.NewRouter()

	nodes := registry.NewNodeRegistry()
	nodes.Register("log_sink", func(map[string]any) (registry.Worker, error) {
		return passthroughWorker{nodeType: "log_sink"}, nil
	})

	deps := apiworker.Deps{
		World:       world,
		Router:      router,
		Loader:      loader.NewLoader(nodes, registry.NewIntegrationRegistry()),
		Blob:        store,
		Bus:         bus,
		Topology:    topology,
		Workers:     workerTable,
		Nodes:       nodes,
		Definitions: registry.NewDefinitionRegistry(),
	}
	apiWorker := apiworker.NewWorker(deps, 8)

	a := New(world, workerTable, topology, apiWorker, store, bus, 0)
	return a, apiWorker, workerTable, router
}

const testBlueprint = `
id: wf-1
nodes:
  - id: n1
    name: start
    type: log_sink
  - id: n2
    name: sink
    type: log_sink
edges:
  - source_id: n1
    target_id: n2
    source_port: none
    target_port: in
`

func TestUpdateAppliesLoadGraphAndPopulatesWorkerTable(t *testing.T) {
	a, apiWorker, workerTable, _ := newTestApp(t)

	reply := make(chan error, 1)
	apiWorker.Submit(apiworker.Command{Kind: apiworker.KindLoadGraph, YAML: testBlueprint, Reply: reply})

	workDone := a.Update(t.Context())
	require.True(t, workDone)
	require.NoError(t, <-reply)
	require.Len(t, workerTable, 2)
}

func TestUpdateDeliversOutboxAcrossTransportAfterLoad(t *testing.T) {
	a, apiWorker, _, router := newTestApp(t)

	apiWorker.Submit(apiworker.Command{Kind: apiworker.KindLoadGraph, YAML: testBlueprint})
	a.Update(t.Context())

	id, ok := router.Lookup("n1")
	require.True(t, ok)
	a.World.Outbox(id).Push(ecs.NonePort, ecs.Ticket{BlobID: "blob-1"})

	workDone := a.Update(t.Context())
	require.True(t, workDone)

	target, ok := router.Lookup("n2")
	require.True(t, ok)
	require.Len(t, a.World.Inbox(target).Drain(), 1)
}

func TestTickWorkersDropsDespawnedEntities(t *testing.T) {
	a, _, workerTable, _ := newTestApp(t)

	id := a.World.Spawn()
	a.World.TagTopology(id)
	workerTable[id] = passthroughWorker{nodeType: "log_sink"}

	a.World.Despawn(id)
	a.tickWorkers(t.Context(), false)

	_, stillThere := workerTable[id]
	require.False(t, stillThere)
}
