package transport

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rakunlabs/ferroflux/internal/ecs"
	"github.com/rakunlabs/ferroflux/internal/events"
)

func TestTopologyRebuildOnDirty(t *testing.T) {
	world := ecs.NewWorld()
	a := world.Spawn()
	b := world.Spawn()
	world.TagTopology(a)
	world.TagTopology(b)
	world.SetEdges(a, []ecs.Edge{{Target: b, SourceHandle: "output", TargetHandle: "input"}})

	topo := NewTopology()
	topo.Rebuild(world)
	require.Len(t, topo.adjacency[a], 1)

	// Adding another edge without marking dirty should not appear yet.
	world.AddEdge(a, ecs.Edge{Target: b, SourceHandle: "other", TargetHandle: "input2"})
	topo.Rebuild(world)
	require.Len(t, topo.adjacency[a], 1, "rebuild should be a no-op until MarkDirty")

	topo.MarkDirty()
	topo.Rebuild(world)
	require.Len(t, topo.adjacency[a], 2)
}

func TestTransportDeliversOnExactPortMatch(t *testing.T) {
	world := ecs.NewWorld()
	a := world.Spawn()
	b := world.Spawn()
	world.TagTopology(a)
	world.TagTopology(b)
	world.SetEdges(a, []ecs.Edge{{Target: b, SourceHandle: "success", TargetHandle: "in"}})

	topo := NewTopology()
	worker := New(topo, events.NewBus())

	world.Outbox(a).Push("success", ecs.Ticket{BlobID: "blob-1"})
	world.Outbox(a).Push("error", ecs.Ticket{BlobID: "blob-2"})

	workDone := worker.Tick(world)
	require.True(t, workDone)

	items := world.Inbox(b).Drain()
	require.Len(t, items, 1)
	require.Equal(t, "blob-1", items[0].Ticket.BlobID)
}

func TestTransportBroadcastsNonePort(t *testing.T) {
	world := ecs.NewWorld()
	a := world.Spawn()
	b := world.Spawn()
	c := world.Spawn()
	world.TagTopology(a)
	world.TagTopology(b)
	world.TagTopology(c)
	world.SetEdges(a, []ecs.Edge{
		{Target: b, SourceHandle: "x", TargetHandle: "in"},
		{Target: c, SourceHandle: "y", TargetHandle: "in"},
	})

	topo := NewTopology()
	worker := New(topo, events.NewBus())

	world.Outbox(a).Push(ecs.NonePort, ecs.Ticket{BlobID: "broadcast"})

	worker.Tick(world)

	require.Len(t, world.Inbox(b).Drain(), 1)
	require.Len(t, world.Inbox(c).Drain(), 1)
}
