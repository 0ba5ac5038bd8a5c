// Package manipulation implements the data-shaping node workers
// described in SPEC_FULL.md §4.9: Splitter, Aggregator, Transform,
// Stats, Window, Expression. Grounded on the reference implementation's
// systems/manipulation/*.rs, with JMESPath evaluation (Splitter,
// Transform) via github.com/jmespath/go-jmespath — see DESIGN.md for why
// this out-of-pack dependency was named instead of a bespoke evaluator.
package manipulation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmespath/go-jmespath"

	"github.com/rakunlabs/ferroflux/internal/ecs"
	"github.com/rakunlabs/ferroflux/internal/workers"
)

// Splitter evaluates a JMESPath expression against each inbox item and
// fans the resulting array out into one outbox ticket per element. A
// null or non-array result produces no output (the branch silently
// stops, matching the teacher's loop node ErrStopBranch convention for
// an empty fan-out). Non-object elements are wrapped as {"item": v,
// "index": i} so downstream nodes always see an object.
type Splitter struct {
	Path string
}

// NewSplitter constructs a Splitter from a node's raw configuration.
func NewSplitter(config map[string]any) (*Splitter, error) {
	path, _ := config["path"].(string)
	if path == "" {
		return nil, fmt.Errorf("splitter: 'path' is required")
	}
	return &Splitter{Path: path}, nil
}

func (s *Splitter) NodeType() string { return "splitter" }

func (s *Splitter) Tick(ctx context.Context, world *ecs.World, id ecs.EntityID, deps workers.Deps) error {
	if workers.RunPinnedShortCircuit(world, id) {
		return nil
	}

	inbox := world.Inbox(id)
	items := inbox.Drain()
	outbox := world.Outbox(id)

	for _, item := range items {
		data, _, err := workers.ClaimJSON(ctx, deps.Blob, item.Ticket)
		if err != nil {
			reportError(deps, world, id, item.Ticket.TraceID, err)
			continue
		}

		result, err := jmespath.Search(s.Path, data)
		if err != nil {
			reportError(deps, world, id, item.Ticket.TraceID, fmt.Errorf("splitter: jmespath: %w", err))
			continue
		}

		arr, ok := result.([]any)
		if !ok || arr == nil {
			continue // null/scalar/non-array result: stop this branch, no output
		}

		for i, elem := range arr {
			m, ok := elem.(map[string]any)
			if !ok {
				m = map[string]any{"item": elem, "index": i}
			}

			payload, err := json.Marshal(m)
			if err != nil {
				reportError(deps, world, id, item.Ticket.TraceID, err)
				continue
			}

			blobID, err := deps.Blob.CheckInWithMetadata(ctx, payload, item.Ticket.Metadata)
			if err != nil {
				reportError(deps, world, id, item.Ticket.TraceID, err)
				continue
			}

			outbox.Push("", ecs.Ticket{BlobID: blobID.String(), TraceID: item.Ticket.TraceID, Metadata: item.Ticket.Metadata})
		}
	}

	return nil
}

func reportError(deps workers.Deps, world *ecs.World, id ecs.EntityID, traceID string, err error) {
	if deps.Bus == nil {
		return
	}
	deps.Bus.NodeError(workers.NodeUUID(world, id), traceID, err)
}
