package tools

import (
	"context"
	"fmt"
)

// EmitTool implements "emit": writes a value into a named port of the
// node's _outputs map. The tool itself is stateless — it only validates
// params and echoes them back; internal/pipeline's Engine is what
// actually merges the result into the local context's _outputs, since
// that mutation belongs to the run's local state, not to the tool.
type EmitTool struct{}

func (EmitTool) Name() string { return "emit" }

func (EmitTool) Invoke(_ context.Context, _ *Context, params map[string]any) (map[string]any, error) {
	port, _ := params["port"].(string)
	if port == "" {
		return nil, fmt.Errorf("emit: 'port' is required")
	}
	return map[string]any{"port": port, "value": params["value"]}, nil
}
