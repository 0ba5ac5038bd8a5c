package apiworker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/rakunlabs/ferroflux/internal/blob"
	"github.com/rakunlabs/ferroflux/internal/ecs"
	"github.com/rakunlabs/ferroflux/internal/events"
	"github.com/rakunlabs/ferroflux/internal/loader"
	"github.com/rakunlabs/ferroflux/internal/pipeline"
	"github.com/rakunlabs/ferroflux/internal/registry"
	"github.com/rakunlabs/ferroflux/internal/store"
	"github.com/rakunlabs/ferroflux/internal/transport"
	"github.com/rakunlabs/ferroflux/internal/workers"
	"github.com/rakunlabs/ferroflux/internal/workers/control"
	"github.com/rakunlabs/ferroflux/internal/workers/pipelineworker"
)

// Deps bundles the collaborators the API command worker applies
// commands against. CheckpointStore, DefinitionsDir, WorkflowStore,
// RegisterCore, Workers, Topology and Bus may be left nil or empty (each
// use is nil-checked); Resume and ReloadDefinitions commands fail cleanly when
// their dependency is absent rather than panicking, since both are
// optional deployment features (spec.md's checkpoint/resume path and
// the on-disk YAML definition catalog).
type Deps struct {
	World    *ecs.World
	Router   *loader.Router
	Loader   *loader.Loader
	Blob     *blob.Store
	Bus      *events.Bus
	Topology *transport.Topology

	// Workers is the scheduler's live entity -> Worker table, owned by
	// internal/app and mutated only from the tick goroutine (the same
	// goroutine that calls Drain). loadGraph merges newly spawned
	// entities' workers into it directly instead of handing the table
	// back through a return value, since ReloadDefinitions must be able
	// to do the same without going through Load.
	Workers map[ecs.EntityID]registry.Worker

	Nodes       *registry.NodeRegistry
	Definitions *registry.DefinitionRegistry
	Engine      *pipeline.Engine

	CheckpointStore control.CheckpointStore
	WorkflowStore   WorkflowStore
	DefinitionsDir  string
	RegisterCore    func(*registry.NodeRegistry)
}

// WorkflowStore persists a LoadGraph command's blueprint YAML so a
// restarted instance can respawn it without an operator resubmitting
// it. Satisfied by internal/store/sqlite3.SQLite; nil disables
// persistence, leaving LoadGraph's in-memory effect unchanged.
type WorkflowStore interface {
	SaveWorkflow(ctx context.Context, w store.Workflow) error
}

// Worker queues Commands from any goroutine and applies them against
// Deps's ECS world when Drain is called from the scheduler tick loop —
// the only place exclusive world access is safe. Grounded on
// original_source/.../systems/api_worker.rs's drain-while-try_recv loop,
// adapted from an async_channel::Receiver to a buffered Go channel.
type Worker struct {
	queue chan Command
	deps  Deps
}

// NewWorker constructs a Worker with a queue of the given capacity
// (defaulting to 64 when non-positive).
func NewWorker(deps Deps, queueSize int) *Worker {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Worker{queue: make(chan Command, queueSize), deps: deps}
}

// Submit enqueues cmd for the next Drain call. It never blocks the
// caller on ECS world access; it blocks only if the queue itself is
// full, matching the async_channel's backpressure behavior.
func (w *Worker) Submit(cmd Command) {
	w.queue <- cmd
}

// Drain applies every command currently queued, in FIFO order, and
// returns once the queue is empty — it does not wait for new commands
// to arrive. Called once per scheduler tick. The returned count lets
// the scheduler's idle-sleep treat an applied command as work done even
// when it produced no ticket traffic of its own (ReloadDefinitions).
func (w *Worker) Drain(ctx context.Context) int {
	applied := 0
	for {
		select {
		case cmd := <-w.queue:
			applied++
			err := w.apply(ctx, cmd)
			if cmd.Reply != nil {
				cmd.Reply <- err
			}
		default:
			return applied
		}
	}
}

func (w *Worker) apply(ctx context.Context, cmd Command) error {
	switch cmd.Kind {
	case KindLoadGraph:
		return w.loadGraph(ctx, cmd)
	case KindTriggerNode:
		return w.triggerNode(ctx, cmd)
	case KindTriggerWorkflow:
		return w.triggerWorkflow(ctx, cmd)
	case KindPinNode:
		return w.pinNode(ctx, cmd)
	case KindReloadDefinitions:
		return w.reloadDefinitions()
	case KindResume:
		return w.resume(ctx, cmd)
	default:
		return fmt.Errorf("apiworker: unknown command kind %q", cmd.Kind)
	}
}

func (w *Worker) loadGraph(ctx context.Context, cmd Command) error {
	bp, err := loader.ParseBlueprintYAML([]byte(cmd.YAML))
	if err != nil {
		return fmt.Errorf("apiworker: load graph: %w", err)
	}

	result, err := w.deps.Loader.Load(w.deps.World, w.deps.Router, bp)
	if err != nil {
		return fmt.Errorf("apiworker: load graph: %w", err)
	}

	if w.deps.Workers != nil {
		for id, worker := range result.Workers {
			w.deps.Workers[id] = worker
		}
	}
	if w.deps.Topology != nil {
		w.deps.Topology.MarkDirty()
	}

	if w.deps.WorkflowStore != nil && bp.WorkflowID != "" {
		if err := w.deps.WorkflowStore.SaveWorkflow(ctx, store.Workflow{
			ID:     bp.WorkflowID,
			Tenant: cmd.Tenant,
			YAML:   cmd.YAML,
		}); err != nil {
			return fmt.Errorf("apiworker: persist workflow %q: %w", bp.WorkflowID, err)
		}
	}

	return nil
}

func (w *Worker) triggerNode(ctx context.Context, cmd Command) error {
	id, ok := w.deps.Router.Lookup(cmd.NodeUUID)
	if !ok {
		return fmt.Errorf("apiworker: trigger node: node %q not found", cmd.NodeUUID)
	}
	return w.deliver(ctx, id, cmd.Payload)
}

func (w *Worker) triggerWorkflow(ctx context.Context, cmd Command) error {
	entities := w.deps.World.EntitiesInWorkflow(cmd.WorkflowID)
	if len(entities) == 0 {
		return fmt.Errorf("apiworker: trigger workflow: workflow %q not found", cmd.WorkflowID)
	}

	var target ecs.EntityID
	found := false

	for _, id := range entities {
		def, ok := w.deps.World.NodeDefinition(id)
		if !ok {
			continue
		}
		if strings.EqualFold(def.Type, "webhook") {
			target, found = id, true
			break
		}
		if !found && isSourceKind(def.Type) {
			target = id
			found = true
		}
	}
	if !found {
		return fmt.Errorf("apiworker: trigger workflow: no start node found for workflow %q", cmd.WorkflowID)
	}

	return w.deliver(ctx, target, cmd.Payload)
}

// deliver checks payload into the blob store and routes the resulting
// ticket to id's outbox (source-kind nodes, so transport delivers it
// downstream on the next tick) or inbox (every other node type), per
// spec.md §4.14's TriggerNode/TriggerWorkflow rule.
func (w *Worker) deliver(ctx context.Context, id ecs.EntityID, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("apiworker: marshal trigger payload: %w", err)
	}

	blobID, err := w.deps.Blob.CheckIn(ctx, body)
	if err != nil {
		return fmt.Errorf("apiworker: check in trigger payload: %w", err)
	}

	ticket := ecs.Ticket{BlobID: blobID.String(), TraceID: uuid.NewString()}

	def, _ := w.deps.World.NodeDefinition(id)
	if def != nil && isSourceKind(def.Type) {
		w.deps.World.Outbox(id).Push(ecs.NonePort, ticket)
	} else {
		w.deps.World.Inbox(id).Push("in", ticket)
	}

	if w.deps.Bus != nil {
		w.deps.Bus.NodeTelemetry(workers.NodeUUID(w.deps.World, id), ticket.TraceID, map[string]any{"event": "api_trigger"})
	}

	return nil
}

// isSourceKind reports whether nodeType is one of the kinds spec.md
// §4.14 names as "source" nodes — ones the transport worker reads from
// rather than delivers to, so a trigger must land in the outbox instead
// of the inbox. "webhook" has no dedicated worker package yet (see
// DESIGN.md); it is still recognized here since operators may register
// custom YAML definitions under that type name.
func isSourceKind(nodeType string) bool {
	t := strings.ToLower(nodeType)
	return t == "webhook" || t == "cron_trigger"
}

func (w *Worker) pinNode(ctx context.Context, cmd Command) error {
	id, ok := w.deps.Router.Lookup(cmd.NodeUUID)
	if !ok {
		return fmt.Errorf("apiworker: pin node: node %q not found", cmd.NodeUUID)
	}

	ticketUUID, err := uuid.Parse(cmd.TicketUUID)
	if err != nil {
		return fmt.Errorf("apiworker: pin node: invalid ticket uuid: %w", err)
	}

	if _, err := w.deps.Blob.RecoverTicket(ctx, ticketUUID); err != nil {
		return fmt.Errorf("apiworker: pin node: %w", err)
	}

	ticket := ecs.Ticket{BlobID: ticketUUID.String()}
	if err := control.PinNode(ctx, w.deps.World, w.deps.Blob, id, ticket, ecs.NonePort); err != nil {
		return fmt.Errorf("apiworker: pin node: %w", err)
	}
	return nil
}

func (w *Worker) resume(ctx context.Context, cmd Command) error {
	if w.deps.CheckpointStore == nil {
		return fmt.Errorf("apiworker: resume: no checkpoint store configured")
	}
	if err := control.ResumeCheckpoint(ctx, w.deps.World, w.deps.Blob, w.deps.CheckpointStore, w.deps.Router.Lookup, cmd.Tenant, cmd.Token); err != nil {
		return fmt.Errorf("apiworker: resume: %w", err)
	}
	return nil
}

// reloadDefinitions rebuilds the schema catalog from disk, clears the
// node factory registry, re-registers the fixed core factories, and
// registers one pipelineworker-backed factory per YAML definition —
// spec.md §4.14's ReloadDefinitions steps, grounded on
// original_source/.../systems/api_worker.rs's ApiCommand::ReloadDefinitions
// arm (refresh DefinitionRegistry, re-register core nodes, re-bridge
// YAML factories).
func (w *Worker) reloadDefinitions() error {
	if w.deps.DefinitionsDir == "" {
		return fmt.Errorf("apiworker: reload definitions: no definitions directory configured")
	}

	schemas, pipelines, err := loadDefinitionDir(w.deps.DefinitionsDir)
	if err != nil {
		return fmt.Errorf("apiworker: reload definitions: %w", err)
	}

	w.deps.Definitions.Reload(schemas)

	w.deps.Nodes.Clear()
	if w.deps.RegisterCore != nil {
		w.deps.RegisterCore(w.deps.Nodes)
	}

	for defID, def := range pipelines {
		defID, def := defID, def
		w.deps.Nodes.Register(defID, func(map[string]any) (registry.Worker, error) {
			return pipelineworker.New(defID, def, w.deps.Engine), nil
		})
	}

	return nil
}
