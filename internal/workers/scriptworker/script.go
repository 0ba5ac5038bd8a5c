// Package scriptworker implements the Script node described in
// SPEC_FULL.md §4.8: a Goja script returns a string, which is merged
// into the upstream payload via the §4.4 result_key rule and re-emitted
// on the node's single, unlabeled output port. Grounded on the
// teacher's script node (internal/service/workflow/nodes/script.go),
// trimmed from its 3-port truthy/falsy/always selection (that behavior
// belongs to switchworker, spec.md's Switch) down to spec's simpler
// single-output contract.
package scriptworker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rakunlabs/ferroflux/internal/ecs"
	"github.com/rakunlabs/ferroflux/internal/workers"
	"github.com/rakunlabs/ferroflux/internal/workers/scripting"
)

// Worker executes Script against each inbox item's decoded JSON payload
// and merges the string result at ResultKey (or replaces the payload
// entirely when ResultKey is empty).
type Worker struct {
	Script    string
	ResultKey string
}

// New constructs a Worker from a node's raw configuration.
func New(config map[string]any) (*Worker, error) {
	script, _ := config["script"].(string)
	if script == "" {
		return nil, fmt.Errorf("scriptworker: 'script' is required")
	}

	resultKey, _ := config["result_key"].(string)

	return &Worker{Script: script, ResultKey: resultKey}, nil
}

func (w *Worker) NodeType() string { return "script" }

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
			w.reportError(world, id, deps, item, err)
			continue
		}

		payload, err := deps.Blob.Claim(ctx, blobID)
		if err != nil {
			w.reportError(world, id, deps, item, err)
			continue
		}

		var data map[string]any
		if len(payload) > 0 {
			_ = json.Unmarshal(payload, &data)
		}

		result, err := scripting.EvalString(w.Script, data)
		if err != nil {
			w.reportError(world, id, deps, item, err)
			continue
		}

		merged, err := workers.Merge(payload, w.ResultKey, result)
		if err != nil {
			w.reportError(world, id, deps, item, err)
			continue
		}

		newBlobID, err := deps.Blob.CheckIn(ctx, merged)
		if err != nil {
			w.reportError(world, id, deps, item, err)
			continue
		}

		outbox.Push("", ecs.Ticket{BlobID: newBlobID.String(), TraceID: item.Ticket.TraceID})
	}

	return nil
}

func (w *Worker) reportError(world *ecs.World, id ecs.EntityID, deps workers.Deps, item ecs.InboxItem, err error) {
	if deps.Bus == nil {
		return
	}
	uuidStr := ""
	if def, ok := world.NodeDefinition(id); ok {
		uuidStr = def.UUID
	}
	deps.Bus.NodeError(uuidStr, item.Ticket.TraceID, err)
}
