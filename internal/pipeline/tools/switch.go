package tools

import "context"

// SwitchTool implements "switch": a string case match against
// params["value"] with a "default" sentinel, per SPEC_FULL.md §4.12's
// tool catalog.
type SwitchTool struct{}

func (SwitchTool) Name() string { return "switch" }

func (SwitchTool) Invoke(_ context.Context, _ *Context, params map[string]any) (map[string]any, error) {
	value, _ := params["value"].(string)
	cases, _ := params["cases"].(map[string]any)

	if result, ok := cases[value]; ok {
		return map[string]any{"result": result, "matched": value}, nil
	}
	if result, ok := cases["default"]; ok {
		return map[string]any{"result": result, "matched": "default"}, nil
	}
	return map[string]any{"result": nil, "matched": ""}, nil
}
