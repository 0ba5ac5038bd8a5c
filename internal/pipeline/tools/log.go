package tools

import (
	"context"

	"github.com/rakunlabs/logi"
)

// LogTool implements "log": writes a structured message through the
// ambient slog logger at the requested level. Grounded on the teacher's
// logi.Ctx(ctx).Info/.Error usage (server/triggers.go, server/workflows.go).
type LogTool struct{}

func (LogTool) Name() string { return "log" }

func (LogTool) Invoke(ctx context.Context, _ *Context, params map[string]any) (map[string]any, error) {
	level, _ := params["level"].(string)
	message, _ := params["message"].(string)

	args := make([]any, 0, 2*len(params))
	if fields, ok := params["fields"].(map[string]any); ok {
		for k, v := range fields {
			args = append(args, k, v)
		}
	}

	logger := logi.Ctx(ctx)
	switch level {
	case "debug":
		logger.Debug(message, args...)
	case "warn", "warning":
		logger.Warn(message, args...)
	case "error":
		logger.Error(message, args...)
	default:
		logger.Info(message, args...)
	}

	return map[string]any{"logged": true}, nil
}
