package agentworker

import (
	"context"
	"fmt"
	"strings"

	"github.com/rakunlabs/ferroflux/internal/ecs"
	"github.com/rakunlabs/ferroflux/internal/secrets"
	"github.com/rakunlabs/ferroflux/internal/workers"
)

// PrepWorker renders the provider request for the next queued ticket on
// an agent node, then attaches a ReadyToExecute component for ExecWorker
// to pick up. While a ReadyToExecute or an ExecutionResult not yet
// handled by Post exists on the entity, Prep leaves the remaining inbox
// items queued rather than over-preparing, matching spec.md §4.6's
// one-ReadyToExecute-per-entity model. A call Exec has already
// dispatched does not hold Prep back.
type PrepWorker struct {
	secretStore secrets.Store
	tenant      string
}

// NewPrepWorker constructs a PrepWorker. secretStore may be nil: Tick
// never reads it, and a node's connection_slug is not resolved to an
// API key here.
func NewPrepWorker(secretStore secrets.Store, tenant string) *PrepWorker {
	return &PrepWorker{secretStore: secretStore, tenant: tenant}
}

func (p *PrepWorker) NodeType() string { return "agent_call" }

func (p *PrepWorker) Tick(ctx context.Context, world *ecs.World, id ecs.EntityID, deps workers.Deps) error {
	if _, busy := world.ReadyToExecute(id); busy {
		return nil
	}
	if _, busy := world.ExecutionResult(id); busy {
		return nil
	}

	inbox := world.Inbox(id)
	items := inbox.Drain()
	if len(items) == 0 {
		return nil
	}

	item := items[0]
	for _, rest := range items[1:] {
		inbox.Push(rest.Port, rest.Ticket)
	}

	def, _ := world.NodeDefinition(id)
	var rawConfig map[string]any
	if def != nil {
		rawConfig = def.Config
	}
	cfg := parseAgentConfig(rawConfig)

	data, _, err := workers.ClaimJSON(ctx, deps.Blob, item.Ticket)
	if err != nil {
		p.reportError(world, id, deps, item.Ticket.TraceID, err)
		return nil
	}

	dataMap, _ := data.(map[string]any)

	system := cfg.SystemPrompt
	if len(cfg.ExpectedOutput) > 0 {
		system = strings.TrimSpace(system + "\nEnsure output matches JSON schema keys: [" + strings.Join(cfg.ExpectedOutput, ", ") + "]")
	}

	renderedSystem, err := renderPrompt(system, dataMap)
	if err != nil {
		p.reportError(world, id, deps, item.Ticket.TraceID, err)
		return nil
	}

	renderedUser, err := renderPrompt(cfg.UserPromptTmpl, dataMap)
	if err != nil {
		p.reportError(world, id, deps, item.Ticket.TraceID, err)
		return nil
	}

	messages := []Message{}
	if renderedSystem != "" {
		messages = append(messages, Message{Role: "system", Content: renderedSystem})
	}
	messages = append(messages, historyMessages(dataMap[cfg.HistoryKey])...)
	messages = append(messages, Message{Role: "user", Content: renderedUser})

	// No HTTP request is dispatched here: the Provider interface (not a
	// rendered HTTP body) is what Exec drives, so ReadyToExecute carries
	// only TraceID and Context — Method/URL/Headers/Body stay unset,
	// unlike httpworker's use of the same component.
	world.SetReadyToExecute(id, &ecs.ReadyToExecute{
		TraceID: item.Ticket.TraceID,
		Context: map[string]any{
			"provider":         cfg.ProviderSlug,
			"model":            cfg.Model,
			"messages":         messages,
			"tools":            cfg.Tools,
			"tool_choice":      cfg.ToolChoice,
			"result_key":       cfg.ResultKey,
			"output_transform": cfg.OutputTransform,
			"source_blob_id":   item.Ticket.BlobID,
			"metadata":         item.Ticket.Metadata,
		},
	})

	return nil
}

// historyMessages converts an input field's history array
// ({"role":..., "content":...} objects) into provider Messages, skipping
// malformed entries. Grounded on
// original_source/.../systems/agent/prep.rs, which appends a history
// array read from the input JSON's "history" field.
func historyMessages(raw any) []Message {
	arr, ok := raw.([]any)
	if !ok {
		return nil
	}

	messages := make([]Message, 0, len(arr))
	for _, v := range arr {
		m, ok := v.(map[string]any)
		if !ok {
			continue
		}
		role, _ := m["role"].(string)
		content, _ := m["content"].(string)
		if role == "" {
			continue
		}
		messages = append(messages, Message{Role: role, Content: content})
	}
	return messages
}

func (p *PrepWorker) reportError(world *ecs.World, id ecs.EntityID, deps workers.Deps, traceID string, err error) {
	if deps.Bus == nil {
		return
	}
	deps.Bus.NodeError(workers.NodeUUID(world, id), traceID, fmt.Errorf("agentworker prep: %w", err))
}
