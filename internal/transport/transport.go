// Package transport implements the GraphTopology cache and the
// TransportWorker tick pass, grounded directly on the reference
// implementation's systems/transport.rs: update_graph_topology rebuilds
// an adjacency index whenever an Edge is added, changed, or removed, and
// transport_worker drains every tagged entity's Outbox once per tick,
// routing each item to every edge whose source handle exact-matches the
// item's port label (or to every edge when the label is "none").
package transport

import (
	"github.com/rakunlabs/ferroflux/internal/ecs"
	"github.com/rakunlabs/ferroflux/internal/events"
)

// Topology is the cached adjacency view of the graph: for each source
// entity, the list of (edge) deliveries to attempt.
type Topology struct {
	adjacency map[ecs.EntityID][]ecs.Edge
	dirty     bool
}

// NewTopology returns an empty, dirty Topology (forcing a rebuild on
// the first maintenance pass).
func NewTopology() *Topology {
	return &Topology{adjacency: make(map[ecs.EntityID][]ecs.Edge), dirty: true}
}

// MarkDirty flags the topology for rebuild on the next maintenance
// pass. The graph loader calls this after spawning/despawning entities
// or edges.
func (t *Topology) MarkDirty() {
	t.dirty = true
}

// Rebuild recomputes the adjacency cache from the World's current edge
// components. It is a no-op unless the topology has been marked dirty,
// matching the "rebuild on any Edge Added/Changed/RemovedComponents"
// semantics of the reference system.
func (t *Topology) Rebuild(w *ecs.World) {
	if !t.dirty {
		return
	}

	t.adjacency = w.AllEdges()
	t.dirty = false
}

// Worker drains every topology-tagged entity's Outbox once per tick and
// delivers each item to the matching downstream Inbox(es).
type Worker struct {
	topology *Topology
	bus      *events.Bus
}

// New returns a transport Worker using topology for routing and bus for
// EdgeTraversal notifications.
func New(topology *Topology, bus *events.Bus) *Worker {
	return &Worker{topology: topology, bus: bus}
}

// Tick performs one transport pass: rebuild the topology if dirty, then
// drain every tagged entity's outbox and deliver. It returns true if any
// work was done, for the scheduler's idle-sleep "work done" flag.
func (w *Worker) Tick(world *ecs.World) bool {
	w.topology.Rebuild(world)

	workDone := false

	for _, source := range world.TopologyEntities() {
		outbox := world.Outbox(source)
		items := outbox.Drain()
		if len(items) == 0 {
			continue
		}

		edges := w.topology.adjacency[source]

		for _, item := range items {
			for _, edge := range edges {
				if !portMatches(item.Port, edge.SourceHandle) {
					continue
				}

				target := world.Inbox(edge.Target)
				target.Push(edge.TargetHandle, item.Ticket)
				workDone = true

				if w.bus != nil {
					w.bus.EdgeTraversal(sourceUUID(world, source), sourceUUID(world, edge.Target))
				}
			}
		}
	}

	return workDone
}

// portMatches implements the exact-match-or-broadcast routing rule:
// an item labeled "" or ecs.NonePort goes to every outgoing edge
// regardless of that edge's own source handle; otherwise the labels
// must match exactly.
func portMatches(itemPort, edgePort string) bool {
	if itemPort == "" || itemPort == ecs.NonePort {
		return true
	}
	return itemPort == edgePort
}

func sourceUUID(w *ecs.World, id ecs.EntityID) string {
	if def, ok := w.NodeDefinition(id); ok {
		return def.UUID
	}
	return ""
}
