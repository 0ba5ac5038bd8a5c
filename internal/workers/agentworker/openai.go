package agentworker

import (
	"context"

	atservice "github.com/rakunlabs/ferroflux/internal/service"
	"github.com/rakunlabs/ferroflux/internal/service/llm/openai"
)

// OpenAIProvider adapts the teacher's openai.Provider (a full
// OpenAI-compatible chat-completions client, shared by every
// OpenAI-compatible backend the gateway supported) to this package's
// narrower synchronous Provider interface — the agent pipeline neither
// streams nor proxies raw requests, so only Chat is exercised.
type OpenAIProvider struct {
	client *openai.Provider
}

// NewOpenAIProvider wraps an already-constructed openai.Provider (see
// openai.New) for use as an agentworker.Provider.
func NewOpenAIProvider(client *openai.Provider) *OpenAIProvider {
	return &OpenAIProvider{client: client}
}

func (p *OpenAIProvider) Chat(ctx context.Context, model string, messages []Message, tools []Tool) (*Response, error) {
	svcMessages := make([]atservice.Message, len(messages))
	for i, m := range messages {
		svcMessages[i] = atservice.Message{Role: m.Role, Content: m.Content}
	}

	var svcTools []atservice.Tool
	if len(tools) > 0 {
		svcTools = make([]atservice.Tool, len(tools))
		for i, t := range tools {
			svcTools[i] = atservice.Tool{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema}
		}
	}

	resp, err := p.client.Chat(ctx, model, svcMessages, svcTools)
	if err != nil {
		return nil, err
	}

	toolCalls := make([]ToolCall, len(resp.ToolCalls))
	for i, tc := range resp.ToolCalls {
		toolCalls[i] = ToolCall{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments}
	}

	return &Response{
		Content:   resp.Content,
		ToolCalls: toolCalls,
		Finished:  resp.Finished,
	}, nil
}
