package agentworker

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/rakunlabs/ferroflux/internal/ecs"
	"github.com/rakunlabs/ferroflux/internal/workers"
)

// execResult is what a spawned provider call reports back to ExecWorker.
type execResult struct {
	node     ecs.EntityID
	status   int
	body     string
	provider string
	model    string
	traceID  string
	context  map[string]any
}

// ExecWorker polls completed provider calls and attaches them as
// ExecutionResult components; for entities newly carrying a
// ReadyToExecute component it spawns an async provider call bounded by
// a global semaphore (spec.md §4.6's "global semaphore caps concurrent
// agent calls").
type ExecWorker struct {
	registry *ProviderRegistry
	sem      *semaphore.Weighted
	timeout  time.Duration

	resultCh chan execResult
}

// NewExecWorker constructs an ExecWorker. maxConcurrency bounds
// in-flight provider calls across every agent node sharing this
// worker instance.
func NewExecWorker(registry *ProviderRegistry, maxConcurrency int) *ExecWorker {
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	return &ExecWorker{
		registry: registry,
		sem:      semaphore.NewWeighted(int64(maxConcurrency)),
		timeout:  60 * time.Second,
		resultCh: make(chan execResult, 256),
	}
}

func (e *ExecWorker) NodeType() string { return "agent_call" }

func (e *ExecWorker) Tick(ctx context.Context, world *ecs.World, id ecs.EntityID, deps workers.Deps) error {
	e.pollCompletions(world)

	ready, ok := world.ReadyToExecute(id)
	if !ok {
		return nil
	}
	world.ClearReadyToExecute(id)

	provider, _ := ready.Context["provider"].(string)
	model, _ := ready.Context["model"].(string)
	messages, _ := ready.Context["messages"].([]Message)
	tools, _ := ready.Context["tools"].([]Tool)

	p, found := e.registry.Resolve(provider)
	if !found {
		e.resultCh <- execResult{node: id, status: 0, body: fmt.Sprintf("provider %q not registered", provider), provider: provider, model: model, traceID: ready.TraceID, context: ready.Context}
		return nil
	}

	e.dispatch(p, provider, model, messages, tools, ready.TraceID, ready.Context, id)

	return nil
}

func (e *ExecWorker) dispatch(p Provider, provider, model string, messages []Message, tools []Tool, traceID string, ctxData map[string]any, id ecs.EntityID) {
	go func() {
		acquireCtx, cancel := context.WithTimeout(context.Background(), e.timeout)
		defer cancel()

		if err := e.sem.Acquire(acquireCtx, 1); err != nil {
			e.resultCh <- execResult{node: id, status: 0, body: "Error: concurrency limit: " + err.Error(), provider: provider, model: model, traceID: traceID, context: ctxData}
			return
		}
		defer e.sem.Release(1)

		callCtx, cancel := context.WithTimeout(context.Background(), e.timeout)
		defer cancel()

		resp, err := p.Chat(callCtx, model, messages, tools)
		if err != nil {
			e.resultCh <- execResult{node: id, status: 0, body: "Error: " + err.Error(), provider: provider, model: model, traceID: traceID, context: ctxData}
			return
		}

		e.resultCh <- execResult{node: id, status: 200, body: resp.Content, provider: provider, model: model, traceID: traceID, context: ctxData}
	}()
}

func (e *ExecWorker) pollCompletions(world *ecs.World) {
	for {
		select {
		case res := <-e.resultCh:
			world.SetExecutionResult(res.node, &ecs.ExecutionResult{
				Status:   res.status,
				RawBody:  res.body,
				Provider: res.provider,
				Model:    res.model,
				TraceID:  res.traceID,
				Context:  res.context,
			})
		default:
			return
		}
	}
}
