// Package workers defines the node-worker tick contract every concrete
// worker (httpworker, agentworker, switchworker, scriptworker,
// manipulation, control, connectors, wasmworker) implements, plus the
// shared §4.4 result-merge helper. Grounded on the teacher's
// workflow.Noder/NodeResult pattern (internal/service/workflow/node.go),
// generalized from "run once per graph execution" to "drain this tick's
// inbox".
package workers

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/rakunlabs/ferroflux/internal/blob"
	"github.com/rakunlabs/ferroflux/internal/ecs"
	"github.com/rakunlabs/ferroflux/internal/events"
)

var jsonUnmarshal = json.Unmarshal

// ParseBlobID parses a ticket's BlobID string into the uuid.UUID the
// blob store keys entries by. Every worker goes through this instead of
// calling uuid.Parse directly so a malformed/empty blob ID degrades to
// a recognizable error rather than a panic.
func ParseBlobID(s string) (uuid.UUID, error) {
	return uuid.Parse(s)
}

// Deps bundles the shared runtime collaborators every node worker may
// need: the blob store for claiming/checking in payloads and the event
// bus for telemetry/error notification. Concrete workers embed this
// rather than accepting a long parameter list, matching the teacher's
// workflow.Registry aggregation role.
type Deps struct {
	Blob *blob.Store
	Bus  *events.Bus
}

// Tick is implemented by every node worker. It is called once per
// scheduler tick for a given node entity; the worker is responsible for
// draining world.Inbox(id) (FIFO), propagating TraceID, and pushing
// results onto world.Outbox(id). A PinnedOutput is honored only by
// workers that call RunPinnedShortCircuit at the top of their Tick.
type Tick interface {
	Tick(ctx context.Context, world *ecs.World, id ecs.EntityID, deps Deps) error
}

// ClaimJSON resolves a ticket's blob ID and unmarshals its payload into
// a generic JSON value. An invalid blob ID or a failed claim returns the
// error; an empty or non-JSON payload decodes to a nil value rather
// than erroring, mirroring the teacher's lenient
// input-coercion convention (e.g. nodes/http-request.go's buildTemplateContext).
func ClaimJSON(ctx context.Context, store *blob.Store, ticket ecs.Ticket) (any, []byte, error) {
	id, err := ParseBlobID(ticket.BlobID)
	if err != nil {
		return nil, nil, err
	}

	payload, err := store.Claim(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	if len(payload) == 0 {
		return nil, payload, nil
	}

	var v any
	if err := jsonUnmarshal(payload, &v); err != nil {
		return nil, payload, nil
	}

	return v, payload, nil
}

// NodeUUID returns the stable UUID of id, or "" if it has no
// NodeDefinition component.
func NodeUUID(world *ecs.World, id ecs.EntityID) string {
	if def, ok := world.NodeDefinition(id); ok {
		return def.UUID
	}
	return ""
}

// RunPinnedShortCircuit re-emits a node's pinned ticket for every
// pending inbox item instead of running the worker proper. Workers call
// it at the top of their own Tick method and return when it reports true; see
// SPEC_FULL.md §4.10 Pinning.
func RunPinnedShortCircuit(world *ecs.World, id ecs.EntityID) bool {
	pinned, ok := world.Pinned(id)
	if !ok {
		return false
	}

	inbox := world.Inbox(id)
	items := inbox.Drain()
	if len(items) == 0 {
		return false
	}

	outbox := world.Outbox(id)
	for range items {
		outbox.Push(pinned.Port, pinned.Ticket)
	}
	return true
}
