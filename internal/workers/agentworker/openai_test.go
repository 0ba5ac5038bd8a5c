package agentworker

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rakunlabs/ferroflux/internal/service/llm/openai"
)

func TestOpenAIProviderChatAdaptsResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"choices": [
				{"message": {"role": "assistant", "content": "hi there", "tool_calls": [
					{"id": "call-1", "type": "function", "function": {"name": "lookup", "arguments": "{\"q\":\"x\"}"}}
				]}, "finish_reason": "tool_calls"}
			]
		}`))
	}))
	defer srv.Close()

	client, err := openai.New("test-key", "gpt-test", srv.URL, "", false, nil)
	require.NoError(t, err)

	provider := NewOpenAIProvider(client)

	resp, err := provider.Chat(t.Context(), "gpt-test", []Message{{Role: "user", Content: "hello"}}, nil)
	require.NoError(t, err)
	require.Equal(t, "hi there", resp.Content)
	require.Len(t, resp.ToolCalls, 1)
	require.Equal(t, "lookup", resp.ToolCalls[0].Name)
	require.Equal(t, "x", resp.ToolCalls[0].Arguments["q"])
}
