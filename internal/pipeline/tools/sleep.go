package tools

import (
	"context"
	"time"
)

// SleepTool implements "sleep": pauses for the requested duration,
// honoring ctx cancellation so a node shutdown doesn't leave a step
// blocked.
type SleepTool struct{}

func (SleepTool) Name() string { return "sleep" }

func (SleepTool) Invoke(ctx context.Context, _ *Context, params map[string]any) (map[string]any, error) {
	ms, _ := params["duration_ms"].(float64)
	if ms <= 0 {
		if secs, ok := params["seconds"].(float64); ok {
			ms = secs * 1000
		}
	}

	timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return map[string]any{"slept_ms": ms}, nil
	}
}
