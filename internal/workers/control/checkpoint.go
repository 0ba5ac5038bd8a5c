// Package control implements the control-plane node workers: durable
// checkpoint/resume suspension, cron-driven scheduling, and API-command
// output pinning. Grounded on
// original_source/.../systems/control.rs and
// original_source/.../systems/scheduler.rs, plus the teacher's
// workflow.Scheduler (hardloop-based cron runner) and blob.Store's
// pinned-metadata convention.
package control

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rakunlabs/ferroflux/internal/blob"
	"github.com/rakunlabs/ferroflux/internal/ecs"
	"github.com/rakunlabs/ferroflux/internal/workers"
)

// CheckpointRecord is a durably persisted checkpoint row.
type CheckpointRecord struct {
	Tenant    string
	Token     string
	NodeUUID  string
	Payload   []byte
	Metadata  map[string]string
	CreatedAt time.Time
}

// CheckpointStore is the persistence contract a checkpoint worker saves
// to and a resume command reads from. Implemented by internal/store's
// checkpoints table.
type CheckpointStore interface {
	SaveCheckpoint(ctx context.Context, rec CheckpointRecord) error
	GetCheckpoint(ctx context.Context, tenant, token string) (*CheckpointRecord, error)
	DeleteCheckpoint(ctx context.Context, tenant, token string) error
}

// CheckpointWorker claims every queued ticket and hibernates it: the
// payload is persisted out-of-band with a fresh resume token and the
// flow stops — no outbox push. Grounded on control.rs's checkpoint_worker,
// which spawns an async save and emits NodeTelemetry + CheckpointCreated
// from inside that task rather than from the tick loop, since both the
// store and the event bus are already safe for concurrent use.
type CheckpointWorker struct {
	store  CheckpointStore
	tenant string
}

// NewCheckpointWorker constructs a CheckpointWorker bound to store and a
// default tenant used when a node carries none of its own.
func NewCheckpointWorker(store CheckpointStore, tenant string) *CheckpointWorker {
	return &CheckpointWorker{store: store, tenant: tenant}
}

func (c *CheckpointWorker) NodeType() string { return "checkpoint" }

func (c *CheckpointWorker) Tick(ctx context.Context, world *ecs.World, id ecs.EntityID, deps workers.Deps) error {
	inbox := world.Inbox(id)
	items := inbox.Drain()
	if len(items) == 0 {
		return nil
	}

	nodeUUID := workers.NodeUUID(world, id)
	tenant := c.tenant
	if def, ok := world.NodeDefinition(id); ok {
		if t, _ := def.Config["tenant"].(string); t != "" {
			tenant = t
		}
	}

	for _, item := range items {
		ticket := item.Ticket

		blobID, err := workers.ParseBlobID(ticket.BlobID)
		if err != nil {
			c.reportError(deps, nodeUUID, ticket.TraceID, err)
			continue
		}

		payload, err := deps.Blob.Claim(ctx, blobID)
		if err != nil {
			c.reportError(deps, nodeUUID, ticket.TraceID, err)
			continue
		}

		token := uuid.NewString()

		go c.persist(nodeUUID, tenant, token, ticket.TraceID, payload, ticket.Metadata, deps)
	}

	return nil
}

func (c *CheckpointWorker) persist(nodeUUID, tenant, token, traceID string, payload []byte, metadata map[string]string, deps workers.Deps) {
	ctx := context.Background()

	rec := CheckpointRecord{
		Tenant:    tenant,
		Token:     token,
		NodeUUID:  nodeUUID,
		Payload:   payload,
		Metadata:  metadata,
		CreatedAt: time.Now(),
	}

	if err := c.store.SaveCheckpoint(ctx, rec); err != nil {
		if deps.Bus != nil {
			deps.Bus.NodeError(nodeUUID, traceID, fmt.Errorf("checkpoint: save: %w", err))
		}
		return
	}

	if deps.Bus == nil {
		return
	}

	deps.Bus.NodeTelemetry(nodeUUID, traceID, map[string]any{
		"action": "hibernated",
		"token":  token,
	})
	deps.Bus.CheckpointCreated(token, nodeUUID, traceID)
}

func (c *CheckpointWorker) reportError(deps workers.Deps, nodeUUID, traceID string, err error) {
	if deps.Bus == nil {
		return
	}
	deps.Bus.NodeError(nodeUUID, traceID, fmt.Errorf("checkpoint: %w", err))
}

// EntityLookup resolves a node's stable UUID back to its live EntityID,
// used by ResumeCheckpoint to route a resumed ticket to its originating
// node's inbox.
type EntityLookup func(nodeUUID string) (ecs.EntityID, bool)

// ResumeCheckpoint fetches and deletes a checkpoint row (consume-on-read),
// re-checks its payload into the blob store under a fresh ticket, and
// delivers it to the originating node's inbox. Invoked by the API
// command worker's Resume command, not by the tick loop.
func ResumeCheckpoint(ctx context.Context, world *ecs.World, blobStore *blob.Store, store CheckpointStore, lookup EntityLookup, tenant, token string) error {
	rec, err := store.GetCheckpoint(ctx, tenant, token)
	if err != nil {
		return fmt.Errorf("control: resume: get checkpoint: %w", err)
	}
	if rec == nil {
		return fmt.Errorf("control: resume: checkpoint %q not found", token)
	}

	if err := store.DeleteCheckpoint(ctx, tenant, token); err != nil {
		return fmt.Errorf("control: resume: delete checkpoint: %w", err)
	}

	target, ok := lookup(rec.NodeUUID)
	if !ok {
		return fmt.Errorf("control: resume: node %q no longer live", rec.NodeUUID)
	}

	blobID, err := blobStore.CheckInWithMetadata(ctx, rec.Payload, rec.Metadata)
	if err != nil {
		return fmt.Errorf("control: resume: check in: %w", err)
	}

	traceID := ""
	if rec.Metadata != nil {
		traceID = rec.Metadata["trace_id"]
	}

	world.Inbox(target).Push("", ecs.Ticket{BlobID: blobID.String(), TraceID: traceID, Metadata: rec.Metadata})

	return nil
}
