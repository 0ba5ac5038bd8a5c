package tools

import (
	"context"
	"fmt"
)

// SetVarTool implements "set_var": writes a value into the workflow's
// shared Memory, keyed by tctx.WorkflowID.
type SetVarTool struct{}

func (SetVarTool) Name() string { return "set_var" }

func (SetVarTool) Invoke(_ context.Context, tctx *Context, params map[string]any) (map[string]any, error) {
	key, _ := params["key"].(string)
	if key == "" {
		return nil, fmt.Errorf("set_var: 'key' is required")
	}
	if tctx == nil || tctx.Memory == nil {
		return nil, fmt.Errorf("set_var: no workflow memory available")
	}

	tctx.Memory.Set(tctx.WorkflowID, key, params["value"])
	return map[string]any{"key": key, "value": params["value"]}, nil
}

// GetVarTool implements "get_var": reads a value previously written by
// set_var, scoped to the same workflow.
type GetVarTool struct{}

func (GetVarTool) Name() string { return "get_var" }

func (GetVarTool) Invoke(_ context.Context, tctx *Context, params map[string]any) (map[string]any, error) {
	key, _ := params["key"].(string)
	if key == "" {
		return nil, fmt.Errorf("get_var: 'key' is required")
	}
	if tctx == nil || tctx.Memory == nil {
		return map[string]any{"value": nil, "found": false}, nil
	}

	value, found := tctx.Memory.Get(tctx.WorkflowID, key)
	return map[string]any{"value": value, "found": found}, nil
}
