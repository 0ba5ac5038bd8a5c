package manipulation

import (
	"context"
	"fmt"

	"github.com/jmespath/go-jmespath"

	"github.com/rakunlabs/ferroflux/internal/ecs"
	"github.com/rakunlabs/ferroflux/internal/workers"
)

// Transform evaluates a JMESPath expression against the inbox payload
// and merges the result at ResultKey using the shared §4.4 rule (or
// replaces the payload entirely when ResultKey is empty). Grounded on
// transform.rs, the reference implementation's thin jmespath-evaluate-
// then-merge node.
type Transform struct {
	Path      string
	ResultKey string
}

// NewTransform constructs a Transform from a node's raw configuration.
func NewTransform(config map[string]any) (*Transform, error) {
	path, _ := config["path"].(string)
	if path == "" {
		return nil, fmt.Errorf("transform: 'path' is required")
	}
	resultKey, _ := config["result_key"].(string)
	return &Transform{Path: path, ResultKey: resultKey}, nil
}

func (t *Transform) NodeType() string { return "transform" }

func (t *Transform) Tick(ctx context.Context, world *ecs.World, id ecs.EntityID, deps workers.Deps) error {
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

		result, err := jmespath.Search(t.Path, data)
		if err != nil {
			reportError(deps, world, id, item.Ticket.TraceID, fmt.Errorf("transform: jmespath: %w", err))
			continue
		}

		merged, err := workers.Merge(payload, t.ResultKey, result)
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
