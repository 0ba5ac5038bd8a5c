package apiworker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rakunlabs/ferroflux/internal/blob"
	"github.com/rakunlabs/ferroflux/internal/ecs"
	"github.com/rakunlabs/ferroflux/internal/events"
	"github.com/rakunlabs/ferroflux/internal/loader"
	"github.com/rakunlabs/ferroflux/internal/registry"
	"github.com/rakunlabs/ferroflux/internal/store"
	"github.com/rakunlabs/ferroflux/internal/workers/control"
)

func newTestWorker(t *testing.T) (*Worker, Deps) {
	t.Helper()

	nodes := registry.NewNodeRegistry()
	nodes.Register("webhook", func(map[string]any) (registry.Worker, error) {
		return stubWorker{nodeType: "webhook"}, nil
	})
	nodes.Register("log_sink", func(map[string]any) (registry.Worker, error) {
		return stubWorker{nodeType: "log_sink"}, nil
	})

	deps := Deps{
		World:           ecs.NewWorld(),
		Router:          loader.NewRouter(),
		Loader:          loader.NewLoader(nodes, registry.NewIntegrationRegistry()),
		Blob:            blob.New(blob.NewMemoryProvider()),
		Bus:             events.NewBus(),
		Nodes:           nodes,
		Definitions:     registry.NewDefinitionRegistry(),
		CheckpointStore: newFakeCheckpointStore(),
	}
	return NewWorker(deps, 8), deps
}

type stubWorker struct{ nodeType string }

func (s stubWorker) NodeType() string { return s.nodeType }

type fakeCheckpointStore struct {
	recs map[string]control.CheckpointRecord
}

func newFakeCheckpointStore() *fakeCheckpointStore {
	return &fakeCheckpointStore{recs: make(map[string]control.CheckpointRecord)}
}

func (f *fakeCheckpointStore) key(tenant, token string) string { return tenant + "/" + token }

func (f *fakeCheckpointStore) SaveCheckpoint(_ context.Context, rec control.CheckpointRecord) error {
	f.recs[f.key(rec.Tenant, rec.Token)] = rec
	return nil
}

func (f *fakeCheckpointStore) GetCheckpoint(_ context.Context, tenant, token string) (*control.CheckpointRecord, error) {
	rec, ok := f.recs[f.key(tenant, token)]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (f *fakeCheckpointStore) DeleteCheckpoint(_ context.Context, tenant, token string) error {
	delete(f.recs, f.key(tenant, token))
	return nil
}

type fakeWorkflowStore struct {
	saved map[string]store.Workflow
}

func newFakeWorkflowStore() *fakeWorkflowStore {
	return &fakeWorkflowStore{saved: make(map[string]store.Workflow)}
}

func (f *fakeWorkflowStore) SaveWorkflow(_ context.Context, w store.Workflow) error {
	f.saved[w.ID] = w
	return nil
}

const blueprintYAML = `
id: wf-1
nodes:
  - id: n1
    name: start
    type: webhook
  - id: n2
    name: sink
    type: log_sink
edges:
  - source_id: n1
    target_id: n2
    source_port: out
    target_port: in
`

func TestLoadGraphSpawnsEntitiesAndUpdatesRouter(t *testing.T) {
	w, deps := newTestWorker(t)

	err := w.apply(t.Context(), Command{Kind: KindLoadGraph, YAML: blueprintYAML})
	require.NoError(t, err)

	id, ok := deps.Router.Lookup("n1")
	require.True(t, ok)
	require.True(t, deps.World.Alive(id))
}

func TestLoadGraphPersistsToWorkflowStoreWhenConfigured(t *testing.T) {
	w, deps := newTestWorker(t)
	wfStore := newFakeWorkflowStore()
	deps.WorkflowStore = wfStore
	w = NewWorker(deps, 8)

	err := w.apply(t.Context(), Command{Kind: KindLoadGraph, Tenant: "acme", YAML: blueprintYAML})
	require.NoError(t, err)

	saved, ok := wfStore.saved["wf-1"]
	require.True(t, ok)
	require.Equal(t, "acme", saved.Tenant)
	require.Equal(t, blueprintYAML, saved.YAML)
}

func TestTriggerNodeDeliversToSourceKindOutbox(t *testing.T) {
	w, deps := newTestWorker(t)
	require.NoError(t, w.apply(t.Context(), Command{Kind: KindLoadGraph, YAML: blueprintYAML}))

	err := w.apply(t.Context(), Command{Kind: KindTriggerNode, NodeUUID: "n1", Payload: map[string]any{"hello": "world"}})
	require.NoError(t, err)

	id, _ := deps.Router.Lookup("n1")
	out := deps.World.Outbox(id).Drain()
	require.Len(t, out, 1)
}

func TestTriggerNodeDeliversToNonSourceKindInbox(t *testing.T) {
	w, deps := newTestWorker(t)
	require.NoError(t, w.apply(t.Context(), Command{Kind: KindLoadGraph, YAML: blueprintYAML}))

	err := w.apply(t.Context(), Command{Kind: KindTriggerNode, NodeUUID: "n2", Payload: map[string]any{"hello": "world"}})
	require.NoError(t, err)

	id, _ := deps.Router.Lookup("n2")
	in := deps.World.Inbox(id).Drain()
	require.Len(t, in, 1)
}

func TestTriggerWorkflowFindsSourceKindStartNode(t *testing.T) {
	w, deps := newTestWorker(t)
	require.NoError(t, w.apply(t.Context(), Command{Kind: KindLoadGraph, YAML: blueprintYAML}))

	err := w.apply(t.Context(), Command{Kind: KindTriggerWorkflow, WorkflowID: "wf-1", Payload: map[string]any{"a": 1}})
	require.NoError(t, err)

	id, _ := deps.Router.Lookup("n1")
	require.Len(t, deps.World.Outbox(id).Drain(), 1)
}

func TestTriggerNodeUnknownUUIDErrors(t *testing.T) {
	w, _ := newTestWorker(t)
	err := w.apply(t.Context(), Command{Kind: KindTriggerNode, NodeUUID: "missing"})
	require.Error(t, err)
}

func TestResumeWithoutCheckpointStoreErrors(t *testing.T) {
	deps := Deps{
		World:  ecs.NewWorld(),
		Router: loader.NewRouter(),
		Blob:   blob.New(blob.NewMemoryProvider()),
	}
	w := NewWorker(deps, 8)
	err := w.apply(t.Context(), Command{Kind: KindResume, Tenant: "t1", Token: "missing"})
	require.Error(t, err)
}

func TestResumeRoutesCheckpointBackToInbox(t *testing.T) {
	w, deps := newTestWorker(t)
	require.NoError(t, w.apply(t.Context(), Command{Kind: KindLoadGraph, YAML: blueprintYAML}))

	require.NoError(t, deps.CheckpointStore.SaveCheckpoint(t.Context(), control.CheckpointRecord{
		Tenant:   "t1",
		Token:    "tok-1",
		NodeUUID: "n2",
		Payload:  []byte(`{"resumed":true}`),
	}))

	err := w.apply(t.Context(), Command{Kind: KindResume, Tenant: "t1", Token: "tok-1"})
	require.NoError(t, err)

	id, _ := deps.Router.Lookup("n2")
	require.Len(t, deps.World.Inbox(id).Drain(), 1)
}

func TestReloadDefinitionsWithoutDirErrors(t *testing.T) {
	w, _ := newTestWorker(t)
	err := w.apply(t.Context(), Command{Kind: KindReloadDefinitions})
	require.Error(t, err)
}

func TestDrainAppliesQueuedCommandsAndReplies(t *testing.T) {
	w, deps := newTestWorker(t)

	reply := make(chan error, 1)
	w.Submit(Command{Kind: KindLoadGraph, YAML: blueprintYAML, Reply: reply})
	w.Drain(t.Context())

	require.NoError(t, <-reply)
	_, ok := deps.Router.Lookup("n1")
	require.True(t, ok)
}
