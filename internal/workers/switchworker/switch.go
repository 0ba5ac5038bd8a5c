// Package switchworker implements the port-based branching node
// described in SPEC_FULL.md §4.7: a Goja expression is evaluated
// against the inbox payload and the result (boolean or string) selects
// which outgoing port label the ticket is re-emitted on. Grounded on
// the teacher's conditional node (internal/service/workflow/nodes/conditional.go),
// generalized from a fixed true/false pair to arbitrary string-labeled
// ports since spec.md's Switch contract is wider than the teacher's
// boolean-only conditional.
package switchworker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rakunlabs/ferroflux/internal/ecs"
	"github.com/rakunlabs/ferroflux/internal/workers"
	"github.com/rakunlabs/ferroflux/internal/workers/scripting"
)

// Worker evaluates Expression against each inbox item's JSON payload.
// A boolean result routes to port "true" or "false"; a string result
// routes to that literal string as the port label.
type Worker struct {
	Expression string
}

// New constructs a Worker from a node's raw configuration.
func New(config map[string]any) (*Worker, error) {
	expr, _ := config["expression"].(string)
	if expr == "" {
		return nil, fmt.Errorf("switchworker: 'expression' is required")
	}
	return &Worker{Expression: expr}, nil
}

func (w *Worker) NodeType() string { return "switch" }

// Tick drains the node's inbox in FIFO order, evaluates Expression
// against each item's decoded JSON payload, and re-emits the same
// ticket on the resulting port label.
func (w *Worker) Tick(ctx context.Context, world *ecs.World, id ecs.EntityID, deps workers.Deps) error {
	if workers.RunPinnedShortCircuit(world, id) {
		return nil
	}

	inbox := world.Inbox(id)
	items := inbox.Drain()
	outbox := world.Outbox(id)

	for _, item := range items {
		blobID, err := workers.ParseBlobID(item.Ticket.BlobID)
		if err != nil {
			if deps.Bus != nil {
				deps.Bus.NodeError(nodeUUID(world, id), item.Ticket.TraceID, err)
			}
			continue
		}

		payload, err := deps.Blob.Claim(ctx, blobID)
		if err != nil {
			if deps.Bus != nil {
				deps.Bus.NodeError(nodeUUID(world, id), item.Ticket.TraceID, err)
			}
			continue
		}

		var data map[string]any
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &data); err != nil {
				data = map[string]any{}
			}
		}

		raw, err := scripting.EvalValue(w.Expression, data)
		if err != nil {
			if deps.Bus != nil {
				deps.Bus.NodeError(nodeUUID(world, id), item.Ticket.TraceID, err)
			}
			continue
		}

		port := portLabel(raw)
		outbox.Push(port, item.Ticket)

		if deps.Bus != nil {
			deps.Bus.NodeTelemetry(nodeUUID(world, id), item.Ticket.TraceID, map[string]any{"port": port})
		}
	}

	return nil
}

func portLabel(v any) string {
	switch val := v.(type) {
	case bool:
		if val {
			return "true"
		}
		return "false"
	case string:
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}

func nodeUUID(w *ecs.World, id ecs.EntityID) string {
	if def, ok := w.NodeDefinition(id); ok {
		return def.UUID
	}
	return ""
}
