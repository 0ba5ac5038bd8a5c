// Package pipelineworker bridges a YAML-defined node (spec.md §4.12's
// PipelineNode) into the registry.Worker/workers.Tick contract every
// other node type satisfies. Grounded on
// original_source/.../nodes/yaml_factory.rs's YamlNodeFactory, which
// plays the same bridging role for bevy_ecs: instead of building a
// fixed Go type per node behavior, it hands every inbox item to the
// shared pipeline.Engine against one definition ID.
package pipelineworker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rakunlabs/ferroflux/internal/ecs"
	"github.com/rakunlabs/ferroflux/internal/pipeline"
	"github.com/rakunlabs/ferroflux/internal/workers"
)

// Worker runs every inbox item of a YAML-defined node through the
// shared pipeline.Engine against one fixed definition ID. The factory
// registered per definition at ReloadDefinitions time (internal/apiworker)
// builds a new Worker for each node whose type names that definition's
// ID, matching the Category A per-node-instance shape (every such Worker
// holds the same Definition; only the inbox payload and the node's own
// settings config differ).
type Worker struct {
	DefinitionID string
	Definition   pipeline.Definition
	Engine       *pipeline.Engine
}

// New constructs a Worker bound to defID/def. It takes no node config
// (the factory in internal/apiworker discards the config it receives): a
// pipeline node's per-instance settings live in its
// NodeDefinition.Config, re-read fresh on every Tick rather than baked
// in at build time.
func New(defID string, def pipeline.Definition, engine *pipeline.Engine) *Worker {
	return &Worker{DefinitionID: defID, Definition: def, Engine: engine}
}

func (w *Worker) NodeType() string { return w.DefinitionID }

// Tick drains the node's inbox, runs each item's decoded JSON payload
// through the pipeline engine as `inputs`, and re-emits every output
// port the run's _outputs map collected. Per spec.md §4.12 step 5, an
// empty _outputs produces no emission for that item.
func (w *Worker) Tick(ctx context.Context, world *ecs.World, id ecs.EntityID, deps workers.Deps) error {
	if workers.RunPinnedShortCircuit(world, id) {
		return nil
	}

	inbox := world.Inbox(id)
	items := inbox.Drain()
	if len(items) == 0 {
		return nil
	}

	nodeUUID := workers.NodeUUID(world, id)
	workflowID, _ := world.WorkflowOf(id)

	var settings map[string]any
	if def, ok := world.NodeDefinition(id); ok {
		settings = def.Config
	}

	outbox := world.Outbox(id)

	for _, item := range items {
		inputs, _, err := workers.ClaimJSON(ctx, deps.Blob, item.Ticket)
		if err != nil {
			if deps.Bus != nil {
				deps.Bus.NodeError(nodeUUID, item.Ticket.TraceID, err)
			}
			continue
		}

		inputsMap, _ := inputs.(map[string]any)

		result, err := w.Engine.Run(ctx, w.Definition, workflowID, inputsMap, settings, nil)
		if err != nil {
			if deps.Bus != nil {
				deps.Bus.NodeError(nodeUUID, item.Ticket.TraceID, err)
			}
			continue
		}

		for port, value := range result.Outputs {
			payload, err := json.Marshal(value)
			if err != nil {
				return fmt.Errorf("pipelineworker: marshal output %q: %w", port, err)
			}

			blobID, err := deps.Blob.CheckIn(ctx, payload)
			if err != nil {
				return fmt.Errorf("pipelineworker: check in output %q: %w", port, err)
			}

			outbox.Push(port, ecs.Ticket{BlobID: blobID.String(), TraceID: item.Ticket.TraceID, Metadata: item.Ticket.Metadata})
		}

		if deps.Bus != nil {
			deps.Bus.NodeTelemetry(nodeUUID, item.Ticket.TraceID, map[string]any{"outputs": len(result.Outputs)})
		}
	}

	return nil
}
