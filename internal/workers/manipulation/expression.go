package manipulation

import (
	"context"
	"fmt"

	"github.com/rakunlabs/ferroflux/internal/ecs"
	"github.com/rakunlabs/ferroflux/internal/workers"
	"github.com/rakunlabs/ferroflux/internal/workers/scripting"
)

// Expression evaluates an arithmetic Goja expression against the inbox
// payload, with sqrt/abs/floor/ceil/min/max registered as additional VM
// globals beyond scripting.NewVM's defaults, and merges the numeric
// result at ResultKey. Grounded on expression.rs's arithmetic
// evaluator; reuses internal/workers/scripting rather than a bespoke
// arithmetic parser since Goja already supplies one.
type Expression struct {
	Script    string
	ResultKey string
}

// NewExpression constructs an Expression worker from a node's raw
// configuration.
func NewExpression(config map[string]any) (*Expression, error) {
	script, _ := config["expression"].(string)
	if script == "" {
		return nil, fmt.Errorf("expression: 'expression' is required")
	}
	resultKey, _ := config["result_key"].(string)
	return &Expression{Script: script, ResultKey: resultKey}, nil
}

func (e *Expression) NodeType() string { return "expression" }

func (e *Expression) Tick(ctx context.Context, world *ecs.World, id ecs.EntityID, deps workers.Deps) error {
	if workers.RunPinnedShortCircuit(world, id) {
		return nil
	}

	inbox := world.Inbox(id)
	items := inbox.Drain()
	outbox := world.Outbox(id)

	for _, item := range items {
		data, payload, err := workers.ClaimJSON(ctx, deps.Blob, item.Ticket)
		if err != nil {
			reportError(deps, world, id, item.Ticket.TraceID, err)
			continue
		}

		dataMap, _ := data.(map[string]any)

		result, err := e.eval(dataMap)
		if err != nil {
			reportError(deps, world, id, item.Ticket.TraceID, err)
			continue
		}

		merged, err := workers.Merge(payload, e.ResultKey, result)
		if err != nil {
			reportError(deps, world, id, item.Ticket.TraceID, err)
			continue
		}

		blobID, err := deps.Blob.CheckInWithMetadata(ctx, merged, item.Ticket.Metadata)
		if err != nil {
			reportError(deps, world, id, item.Ticket.TraceID, err)
			continue
		}

		outbox.Push("", ecs.Ticket{BlobID: blobID.String(), TraceID: item.Ticket.TraceID, Metadata: item.Ticket.Metadata})
	}

	return nil
}

func (e *Expression) eval(data map[string]any) (float64, error) {
	vm, err := scripting.NewVM(data)
	if err != nil {
		return 0, err
	}

	if err := scripting.RegisterMathHelpers(vm); err != nil {
		return 0, err
	}

	val, err := vm.RunString(e.Script)
	if err != nil {
		return 0, fmt.Errorf("expression: eval: %w", err)
	}

	return val.ToFloat(), nil
}
