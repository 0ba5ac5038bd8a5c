// Package ecs implements the tick-driven entity/component world that
// backs the FerroFlux runtime. Entities are opaque handles; components
// are plain Go structs held in typed maps keyed by EntityID. The World
// is not safe for concurrent access from more than one tick goroutine at
// a time — the scheduler loop (internal/app) owns it exclusively and any
// I/O-bound worker must hand results back onto a channel polled from the
// tick loop rather than mutate the World directly from another goroutine.
package ecs

import (
	"sync"
	"sync/atomic"
)

// EntityID is an opaque, process-local handle for an entity. It is not
// stable across process restarts; persisted references use the entity's
// NodeUUID component instead.
type EntityID uint64

// World owns every component table and the entity allocator. All
// exported methods take the World's mutex, so it is safe to call them
// from worker goroutines that only read/write through the accessor
// methods (never through a raw map handed out by reference across tick
// boundaries).
type World struct {
	mu       sync.Mutex
	nextID   atomic.Uint64
	entities map[EntityID]struct{}

	nodeDefs     map[EntityID]*NodeDefinition
	topologyTags map[EntityID]struct{} // entities participating in transport (have Inbox/Outbox/Edges)
	inboxes      map[EntityID]*Inbox
	outboxes     map[EntityID]*Outbox
	edgesOut     map[EntityID][]Edge
	pinned       map[EntityID]*PinnedOutput
	checkpoints  map[EntityID]*Checkpoint
	ready        map[EntityID]*ReadyToExecute
	execResults  map[EntityID]*ExecutionResult
	cronState    map[EntityID]*CronState
	workflowTag  map[EntityID]string // which workflow (by ID) spawned this entity, for cleanup-before-respawn
}

// NewWorld returns an empty World.
func NewWorld() *World {
	return &World{
		entities:     make(map[EntityID]struct{}),
		nodeDefs:     make(map[EntityID]*NodeDefinition),
		topologyTags: make(map[EntityID]struct{}),
		inboxes:      make(map[EntityID]*Inbox),
		outboxes:     make(map[EntityID]*Outbox),
		edgesOut:     make(map[EntityID][]Edge),
		pinned:       make(map[EntityID]*PinnedOutput),
		checkpoints:  make(map[EntityID]*Checkpoint),
		ready:        make(map[EntityID]*ReadyToExecute),
		execResults:  make(map[EntityID]*ExecutionResult),
		cronState:    make(map[EntityID]*CronState),
		workflowTag:  make(map[EntityID]string),
	}
}

// Spawn allocates a fresh EntityID and registers it as live.
func (w *World) Spawn() EntityID {
	id := EntityID(w.nextID.Add(1))

	w.mu.Lock()
	w.entities[id] = struct{}{}
	w.mu.Unlock()

	return id
}

// Despawn removes an entity and every component attached to it.
func (w *World) Despawn(id EntityID) {
	w.mu.Lock()
	defer w.mu.Unlock()

	delete(w.entities, id)
	delete(w.nodeDefs, id)
	delete(w.topologyTags, id)
	delete(w.inboxes, id)
	delete(w.outboxes, id)
	delete(w.edgesOut, id)
	delete(w.pinned, id)
	delete(w.checkpoints, id)
	delete(w.ready, id)
	delete(w.execResults, id)
	delete(w.cronState, id)
	delete(w.workflowTag, id)
}

// Alive reports whether id still refers to a live entity.
func (w *World) Alive(id EntityID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	_, ok := w.entities[id]
	return ok
}

// Entities returns a snapshot slice of every live entity ID. Ordering is
// not guaranteed.
func (w *World) Entities() []EntityID {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]EntityID, 0, len(w.entities))
	for id := range w.entities {
		out = append(out, id)
	}
	return out
}

// EntitiesInWorkflow returns every entity tagged with the given workflow
// ID, used by the graph loader's cleanup-before-respawn pass.
func (w *World) EntitiesInWorkflow(workflowID string) []EntityID {
	w.mu.Lock()
	defer w.mu.Unlock()

	var out []EntityID
	for id, wf := range w.workflowTag {
		if wf == workflowID {
			out = append(out, id)
		}
	}
	return out
}

// SetWorkflowTag tags an entity with the workflow ID that spawned it.
func (w *World) SetWorkflowTag(id EntityID, workflowID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.workflowTag[id] = workflowID
}

// WorkflowOf returns the workflow ID id was tagged with, if any. Used by
// pipelineworker to scope set_var/get_var memory to the owning workflow.
func (w *World) WorkflowOf(id EntityID) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	wf, ok := w.workflowTag[id]
	return wf, ok
}

// NodeDefinition returns the NodeDefinition component of id, if any.
func (w *World) NodeDefinition(id EntityID) (*NodeDefinition, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	d, ok := w.nodeDefs[id]
	return d, ok
}

// SetNodeDefinition attaches or replaces the NodeDefinition component.
func (w *World) SetNodeDefinition(id EntityID, def *NodeDefinition) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nodeDefs[id] = def
}

// TagTopology marks an entity as a transport participant (it will be
// indexed by the GraphTopology cache).
func (w *World) TagTopology(id EntityID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.topologyTags[id] = struct{}{}
	if _, ok := w.inboxes[id]; !ok {
		w.inboxes[id] = &Inbox{}
	}
	if _, ok := w.outboxes[id]; !ok {
		w.outboxes[id] = &Outbox{}
	}
}

// TopologyEntities returns every entity tagged for transport.
func (w *World) TopologyEntities() []EntityID {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]EntityID, 0, len(w.topologyTags))
	for id := range w.topologyTags {
		out = append(out, id)
	}
	return out
}

// Inbox returns the Inbox component for id, creating it lazily.
func (w *World) Inbox(id EntityID) *Inbox {
	w.mu.Lock()
	defer w.mu.Unlock()

	ib, ok := w.inboxes[id]
	if !ok {
		ib = &Inbox{}
		w.inboxes[id] = ib
	}
	return ib
}

// Outbox returns the Outbox component for id, creating it lazily.
func (w *World) Outbox(id EntityID) *Outbox {
	w.mu.Lock()
	defer w.mu.Unlock()

	ob, ok := w.outboxes[id]
	if !ok {
		ob = &Outbox{}
		w.outboxes[id] = ob
	}
	return ob
}

// Edges returns the outgoing Edge components for id.
func (w *World) Edges(id EntityID) []Edge {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Edge(nil), w.edgesOut[id]...)
}

// SetEdges replaces the outgoing edges for id.
func (w *World) SetEdges(id EntityID, edges []Edge) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.edgesOut[id] = edges
}

// AddEdge appends a single outgoing edge to id.
func (w *World) AddEdge(id EntityID, e Edge) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.edgesOut[id] = append(w.edgesOut[id], e)
}

// AllEdges returns a snapshot of every edge in the world keyed by source
// entity, used to rebuild the GraphTopology adjacency cache.
func (w *World) AllEdges() map[EntityID][]Edge {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make(map[EntityID][]Edge, len(w.edgesOut))
	for id, edges := range w.edgesOut {
		out[id] = append([]Edge(nil), edges...)
	}
	return out
}

// Pinned returns the PinnedOutput component for id, if any.
func (w *World) Pinned(id EntityID) (*PinnedOutput, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.pinned[id]
	return p, ok
}

// SetPinned attaches a PinnedOutput component to id.
func (w *World) SetPinned(id EntityID, p *PinnedOutput) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pinned[id] = p
}

// ClearPinned removes the PinnedOutput component from id, if present.
func (w *World) ClearPinned(id EntityID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.pinned, id)
}

// Checkpoint returns the Checkpoint component for id, if any.
func (w *World) Checkpoint(id EntityID) (*Checkpoint, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	c, ok := w.checkpoints[id]
	return c, ok
}

// SetCheckpoint attaches a Checkpoint component to id.
func (w *World) SetCheckpoint(id EntityID, c *Checkpoint) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.checkpoints[id] = c
}

// ClearCheckpoint removes the Checkpoint component from id, if present.
func (w *World) ClearCheckpoint(id EntityID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.checkpoints, id)
}

// ReadyToExecute returns the ReadyToExecute component for id, if any.
func (w *World) ReadyToExecute(id EntityID) (*ReadyToExecute, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.ready[id]
	return r, ok
}

// SetReadyToExecute attaches a ReadyToExecute component to id.
func (w *World) SetReadyToExecute(id EntityID, r *ReadyToExecute) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ready[id] = r
}

// ClearReadyToExecute removes the ReadyToExecute component from id.
func (w *World) ClearReadyToExecute(id EntityID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.ready, id)
}

// ExecutionResult returns the ExecutionResult component for id, if any.
func (w *World) ExecutionResult(id EntityID) (*ExecutionResult, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	r, ok := w.execResults[id]
	return r, ok
}

// SetExecutionResult attaches an ExecutionResult component to id.
func (w *World) SetExecutionResult(id EntityID, r *ExecutionResult) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.execResults[id] = r
}

// ClearExecutionResult removes the ExecutionResult component from id.
func (w *World) ClearExecutionResult(id EntityID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.execResults, id)
}

// CronState returns the CronState component for id, if any.
func (w *World) CronState(id EntityID) (*CronState, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	c, ok := w.cronState[id]
	return c, ok
}

// SetCronState attaches or replaces the CronState component on id.
func (w *World) SetCronState(id EntityID, c *CronState) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cronState[id] = c
}

// ClearCronState removes the CronState component from id, if present.
func (w *World) ClearCronState(id EntityID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.cronState, id)
}
