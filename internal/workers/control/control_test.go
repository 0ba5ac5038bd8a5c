package control

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rakunlabs/ferroflux/internal/blob"
	"github.com/rakunlabs/ferroflux/internal/ecs"
	"github.com/rakunlabs/ferroflux/internal/workers"
)

type fakeCheckpointStore struct {
	mu      sync.Mutex
	records map[string]CheckpointRecord
}

func newFakeCheckpointStore() *fakeCheckpointStore {
	return &fakeCheckpointStore{records: make(map[string]CheckpointRecord)}
}

func (f *fakeCheckpointStore) SaveCheckpoint(_ context.Context, rec CheckpointRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[rec.Tenant+"/"+rec.Token] = rec
	return nil
}

func (f *fakeCheckpointStore) GetCheckpoint(_ context.Context, tenant, token string) (*CheckpointRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[tenant+"/"+token]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (f *fakeCheckpointStore) DeleteCheckpoint(_ context.Context, tenant, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.records, tenant+"/"+token)
	return nil
}

func (f *fakeCheckpointStore) onlyToken() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range f.records {
		return rec.Token
	}
	return ""
}

func TestCheckpointWorkerHibernatesWithoutOutboxPush(t *testing.T) {
	ctx := context.Background()
	store := blob.New(blob.NewMemoryProvider())
	deps := workers.Deps{Blob: store}
	world := ecs.NewWorld()
	id := world.Spawn()
	world.SetNodeDefinition(id, &ecs.NodeDefinition{UUID: "node-cp", Type: "checkpoint"})

	blobID, err := store.CheckIn(ctx, []byte(`{"pending":true}`))
	require.NoError(t, err)
	world.Inbox(id).Push("", ecs.Ticket{BlobID: blobID.String(), TraceID: "trace-1", Metadata: map[string]string{"k": "v"}})

	cpStore := newFakeCheckpointStore()
	worker := NewCheckpointWorker(cpStore, "default_tenant")

	require.NoError(t, worker.Tick(ctx, world, id, deps))

	require.Eventually(t, func() bool {
		return cpStore.onlyToken() != ""
	}, time.Second, 5*time.Millisecond)

	require.Empty(t, world.Outbox(id).Drain(), "checkpoint worker must not push to the outbox")
}

func TestResumeCheckpointRoutesToOriginatingInbox(t *testing.T) {
	ctx := context.Background()
	store := blob.New(blob.NewMemoryProvider())
	world := ecs.NewWorld()
	id := world.Spawn()
	world.SetNodeDefinition(id, &ecs.NodeDefinition{UUID: "node-resume", Type: "checkpoint"})

	cpStore := newFakeCheckpointStore()
	require.NoError(t, cpStore.SaveCheckpoint(ctx, CheckpointRecord{
		Tenant:   "default_tenant",
		Token:    "tok-1",
		NodeUUID: "node-resume",
		Payload:  []byte(`{"resumed":true}`),
		Metadata: map[string]string{"trace_id": "trace-2"},
	}))

	lookup := func(nodeUUID string) (ecs.EntityID, bool) {
		if nodeUUID == "node-resume" {
			return id, true
		}
		return 0, false
	}

	require.NoError(t, ResumeCheckpoint(ctx, world, store, cpStore, lookup, "default_tenant", "tok-1"))

	items := world.Inbox(id).Drain()
	require.Len(t, items, 1)
	require.Equal(t, "trace-2", items[0].Ticket.TraceID)

	rec, err := cpStore.GetCheckpoint(ctx, "default_tenant", "tok-1")
	require.NoError(t, err)
	require.Nil(t, rec, "checkpoint must be consumed on resume")
}

func TestCronWorkerFrequencyOnceFiresExactlyOnce(t *testing.T) {
	ctx := context.Background()
	store := blob.New(blob.NewMemoryProvider())
	deps := workers.Deps{Blob: store}
	world := ecs.NewWorld()
	id := world.Spawn()
	world.SetNodeDefinition(id, &ecs.NodeDefinition{
		UUID: "node-cron",
		Type: "cron_trigger",
		Config: map[string]any{
			"frequency": "once",
			"start_at":  time.Now().Add(-time.Minute).Format(time.RFC3339),
		},
	})

	worker := NewCronWorker()

	require.NoError(t, worker.Tick(ctx, world, id, deps)) // init NextRun
	require.NoError(t, worker.Tick(ctx, world, id, deps)) // fires (start_at already past)
	require.NoError(t, worker.Tick(ctx, world, id, deps)) // must not fire again

	items := world.Outbox(id).Drain()
	require.Len(t, items, 1)
	require.Equal(t, "cron", items[0].Ticket.Metadata["trigger"])

	state, ok := world.CronState(id)
	require.True(t, ok)
	require.True(t, state.Done)
}

func TestPinNodeAttachesPinnedOutputAndBlocksRealWork(t *testing.T) {
	ctx := context.Background()
	store := blob.New(blob.NewMemoryProvider())
	world := ecs.NewWorld()
	id := world.Spawn()

	blobID, err := store.CheckIn(ctx, []byte(`{"v":1}`))
	require.NoError(t, err)
	ticket := ecs.Ticket{BlobID: blobID.String(), TraceID: "trace-3"}

	require.NoError(t, PinNode(ctx, world, store, id, ticket, ""))

	world.Inbox(id).Push("", ecs.Ticket{BlobID: blobID.String(), TraceID: "trace-4"})
	require.True(t, workers.RunPinnedShortCircuit(world, id))

	items := world.Outbox(id).Drain()
	require.Len(t, items, 1)
	require.Equal(t, "trace-3", items[0].Ticket.TraceID, "pinned output replaces the live ticket")

	UnpinNode(world, id)
	_, ok := world.Pinned(id)
	require.False(t, ok)
}
