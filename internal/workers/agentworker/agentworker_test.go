package agentworker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rakunlabs/ferroflux/internal/blob"
	"github.com/rakunlabs/ferroflux/internal/ecs"
	"github.com/rakunlabs/ferroflux/internal/workers"
)

type stubProvider struct {
	content string
}

func (s stubProvider) Chat(_ context.Context, _ string, _ []Message, _ []Tool) (*Response, error) {
	return &Response{Content: s.content, Finished: true}, nil
}

func TestAgentPipelinePrepExecPost(t *testing.T) {
	ctx := context.Background()
	store := blob.New(blob.NewMemoryProvider())
	deps := workers.Deps{Blob: store}
	world := ecs.NewWorld()
	id := world.Spawn()

	world.SetNodeDefinition(id, &ecs.NodeDefinition{
		UUID: "node-1",
		Type: "agent_call",
		Config: map[string]any{
			"provider":      "stub",
			"model":         "test-model",
			"system_prompt": "You are a bot.",
			"user_prompt":   "{{.question}}",
			"result_key":    "answer",
		},
	})

	payload, _ := json.Marshal(map[string]any{"question": "hello"})
	blobID, err := store.CheckIn(ctx, payload)
	require.NoError(t, err)
	world.Inbox(id).Push("", ecs.Ticket{BlobID: blobID.String(), TraceID: "trace-1"})

	prep := NewPrepWorker(nil, "")
	registry := NewProviderRegistry(map[string]Provider{"stub": stubProvider{content: `{"text":"world"}`}})
	exec := NewExecWorker(registry, 2)
	post := NewPostWorker()

	require.NoError(t, prep.Tick(ctx, world, id, deps))
	_, ready := world.ReadyToExecute(id)
	require.True(t, ready)

	require.NoError(t, exec.Tick(ctx, world, id, deps))

	require.Eventually(t, func() bool {
		require.NoError(t, exec.Tick(ctx, world, id, deps))
		_, has := world.ExecutionResult(id)
		return has
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, post.Tick(ctx, world, id, deps))

	items := world.Outbox(id).Drain()
	require.Len(t, items, 1)

	out, err := workers.ParseBlobID(items[0].Ticket.BlobID)
	require.NoError(t, err)
	resultPayload, err := store.Claim(ctx, out)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(resultPayload, &m))
	require.Equal(t, `{"text":"world"}`, m["answer"])
	require.Equal(t, "hello", m["question"], "original payload survives the merge")
}

func TestPrepSplicesHistoryAndPassesToolsThrough(t *testing.T) {
	ctx := context.Background()
	store := blob.New(blob.NewMemoryProvider())
	deps := workers.Deps{Blob: store}
	world := ecs.NewWorld()
	id := world.Spawn()

	world.SetNodeDefinition(id, &ecs.NodeDefinition{
		UUID: "node-1",
		Type: "agent_call",
		Config: map[string]any{
			"provider":      "stub",
			"model":         "test-model",
			"system_prompt": "You are a bot.",
			"user_prompt":   "{{.question}}",
			"result_key":    "answer",
			"tool_choice":   "auto",
			"tools": []any{
				map[string]any{"name": "lookup", "description": "looks things up"},
			},
		},
	})

	payload, _ := json.Marshal(map[string]any{
		"question": "hello",
		"history": []any{
			map[string]any{"role": "user", "content": "earlier question"},
			map[string]any{"role": "assistant", "content": "earlier answer"},
		},
	})
	blobID, err := store.CheckIn(ctx, payload)
	require.NoError(t, err)
	world.Inbox(id).Push("", ecs.Ticket{BlobID: blobID.String(), TraceID: "trace-2"})

	prep := NewPrepWorker(nil, "")
	require.NoError(t, prep.Tick(ctx, world, id, deps))

	ready, ok := world.ReadyToExecute(id)
	require.True(t, ok)
	require.Empty(t, ready.Method, "Provider interface drives the call, not a rendered HTTP request")
	require.Empty(t, ready.URL)
	require.Empty(t, ready.Body)

	messages, _ := ready.Context["messages"].([]Message)
	require.Equal(t, []Message{
		{Role: "system", Content: "You are a bot."},
		{Role: "user", Content: "earlier question"},
		{Role: "assistant", Content: "earlier answer"},
		{Role: "user", Content: "hello"},
	}, messages)

	tools, _ := ready.Context["tools"].([]Tool)
	require.Len(t, tools, 1)
	require.Equal(t, "lookup", tools[0].Name)
	require.Equal(t, "auto", ready.Context["tool_choice"])
}
