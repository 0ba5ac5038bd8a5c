package agentworker

import (
	"context"
	"encoding/json"

	"github.com/jmespath/go-jmespath"

	"github.com/rakunlabs/ferroflux/internal/ecs"
	"github.com/rakunlabs/ferroflux/internal/workers"
)

// PostWorker merges a completed provider call's result into the
// original ticket's payload and emits it on the outbox. Grounded on
// spec.md §4.6's Post stage: "consider the call successful if the
// status is 2xx... apply output_transform... merge per §4.4".
type PostWorker struct{}

// NewPostWorker constructs a PostWorker.
func NewPostWorker() *PostWorker { return &PostWorker{} }

func (p *PostWorker) NodeType() string { return "agent_call" }

func (p *PostWorker) Tick(ctx context.Context, world *ecs.World, id ecs.EntityID, deps workers.Deps) error {
	res, ok := world.ExecutionResult(id)
	if !ok {
		return nil
	}
	world.ClearExecutionResult(id)

	resultKey, _ := res.Context["result_key"].(string)
	outputTransform, _ := res.Context["output_transform"].(string)
	sourceBlobID, _ := res.Context["source_blob_id"].(string)
	metadata, _ := res.Context["metadata"].(map[string]string)

	var upstream []byte
	if sourceBlobID != "" {
		if blobID, err := workers.ParseBlobID(sourceBlobID); err == nil {
			upstream, _ = deps.Blob.Claim(ctx, blobID)
		}
	}

	var result any = res.RawBody
	if res.Status >= 200 && res.Status < 300 && outputTransform != "" {
		var parsed any
		if err := json.Unmarshal([]byte(res.RawBody), &parsed); err == nil {
			if transformed, err := jmespath.Search(outputTransform, parsed); err == nil {
				result = transformed
			}
		}
	}

	merged, err := workers.Merge(upstream, resultKey, result)
	if err != nil {
		if deps.Bus != nil {
			deps.Bus.NodeError(workers.NodeUUID(world, id), res.TraceID, err)
		}
		return nil
	}

	blobID, err := deps.Blob.CheckInWithMetadata(ctx, merged, metadata)
	if err != nil {
		if deps.Bus != nil {
			deps.Bus.NodeError(workers.NodeUUID(world, id), res.TraceID, err)
		}
		return nil
	}

	world.Outbox(id).Push("", ecs.Ticket{BlobID: blobID.String(), TraceID: res.TraceID, Metadata: metadata})

	if deps.Bus != nil {
		deps.Bus.NodeTelemetry(workers.NodeUUID(world, id), res.TraceID, map[string]any{
			"provider":    res.Provider,
			"model":       res.Model,
			"status_code": res.Status,
		})
	}

	return nil
}
