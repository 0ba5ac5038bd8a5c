// Package agentworker implements the three-stage agent (LLM) pipeline
// described in SPEC_FULL.md §4.6: Prep renders the request, Exec
// dispatches it asynchronously and polls for completion, Post merges
// the result into the outbox. Grounded on the teacher's
// nodes/agent-call.go and nodes/llm-call.go, and on the LLMProvider/
// Message/Tool types of internal/service/at.go, trimmed to the fields
// an executing pipeline (rather than a full chat gateway) needs.
package agentworker

import (
	"context"
)

// Message is one entry in a provider conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToolCall is a single function-call request from a provider response.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// Tool describes a single callable function the provider may invoke,
// passed through unchanged from AgentConfig.Tools. Grounded on
// service.Tool (internal/service/at.go), the wire shape the kept
// OpenAIProvider adapter already converts to and from.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Response is a provider's reply to a Chat call.
type Response struct {
	Content   string
	ToolCalls []ToolCall
	Finished  bool
}

// Provider is implemented by each supported LLM backend. Grounded on
// service.LLMProvider, narrowed to the synchronous, non-streaming
// surface this pipeline drives. tools is passed through unmodified from
// AgentConfig.Tools; tool-choice policy travels in ReadyToExecute's
// Context instead of this signature, since service.LLMProvider.Chat
// (what every concrete provider ultimately wraps) has no tool_choice
// parameter of its own.
type Provider interface {
	Chat(ctx context.Context, model string, messages []Message, tools []Tool) (*Response, error)
}

// ProviderRegistry resolves a provider slug (e.g. "openai", "anthropic")
// to its Provider implementation. The map is fixed when the registry is
// constructed and only read afterwards.
type ProviderRegistry struct {
	providers map[string]Provider
}

// NewProviderRegistry returns a ProviderRegistry seeded with providers.
func NewProviderRegistry(providers map[string]Provider) *ProviderRegistry {
	if providers == nil {
		providers = map[string]Provider{}
	}
	return &ProviderRegistry{providers: providers}
}

// Resolve looks up a provider by slug.
func (r *ProviderRegistry) Resolve(slug string) (Provider, bool) {
	p, ok := r.providers[slug]
	return p, ok
}

// AgentConfig is a node's static configuration, read once at Prep time
// from its ecs.NodeDefinition.Config.
type AgentConfig struct {
	ProviderSlug    string
	Model           string
	SystemPrompt    string
	UserPromptTmpl  string
	ResultKey       string
	OutputTransform string // JMESPath expression applied to the raw response body
	ConnectionSlug  string
	ExpectedOutput  []string // schema field names propagated by the schema propagator (§4.11)
	MaxConcurrency  int

	Tools      []Tool // passed through to the provider call unmodified
	ToolChoice string // provider tool-choice policy, e.g. "auto", "none", or a tool name

	// HistoryKey names the input field holding prior conversation turns
	// ({"role":..., "content":...} objects) spliced into messages between
	// the system and user messages. Defaults to "history".
	HistoryKey string
}

func parseAgentConfig(raw map[string]any) AgentConfig {
	cfg := AgentConfig{MaxConcurrency: 4, HistoryKey: "history"}

	cfg.ProviderSlug, _ = raw["provider"].(string)
	cfg.Model, _ = raw["model"].(string)
	cfg.SystemPrompt, _ = raw["system_prompt"].(string)
	cfg.UserPromptTmpl, _ = raw["user_prompt"].(string)
	cfg.ResultKey, _ = raw["result_key"].(string)
	cfg.OutputTransform, _ = raw["output_transform"].(string)
	cfg.ConnectionSlug, _ = raw["connection_slug"].(string)
	cfg.ToolChoice, _ = raw["tool_choice"].(string)

	if v, ok := raw["max_concurrency"].(float64); ok && v > 0 {
		cfg.MaxConcurrency = int(v)
	}

	if arr, ok := raw["expected_output"].([]any); ok {
		for _, v := range arr {
			if s, ok := v.(string); ok {
				cfg.ExpectedOutput = append(cfg.ExpectedOutput, s)
			}
		}
	}

	if arr, ok := raw["tools"].([]any); ok {
		for _, v := range arr {
			m, ok := v.(map[string]any)
			if !ok {
				continue
			}
			tool := Tool{}
			tool.Name, _ = m["name"].(string)
			tool.Description, _ = m["description"].(string)
			tool.InputSchema, _ = m["inputSchema"].(map[string]any)
			if tool.Name != "" {
				cfg.Tools = append(cfg.Tools, tool)
			}
		}
	}

	if key, ok := raw["history_key"].(string); ok && key != "" {
		cfg.HistoryKey = key
	}

	return cfg
}
