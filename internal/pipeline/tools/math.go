package tools

import (
	"context"
	"fmt"

	"github.com/rakunlabs/ferroflux/internal/workers/scripting"
)

// MathTool implements "math": evaluates a Goja arithmetic expression
// against params["vars"], reusing the exact VM setup the expression
// node uses (internal/workers/scripting.RegisterMathHelpers) rather than
// a third copy of the same helper logic.
type MathTool struct{}

func (MathTool) Name() string { return "math" }

func (MathTool) Invoke(_ context.Context, _ *Context, params map[string]any) (map[string]any, error) {
	expr, _ := params["expression"].(string)
	if expr == "" {
		return nil, fmt.Errorf("math: 'expression' is required")
	}
	vars, _ := params["vars"].(map[string]any)

	vm, err := scripting.NewVM(vars)
	if err != nil {
		return nil, fmt.Errorf("math: %w", err)
	}
	if err := scripting.RegisterMathHelpers(vm); err != nil {
		return nil, fmt.Errorf("math: %w", err)
	}

	val, err := vm.RunString(expr)
	if err != nil {
		return nil, fmt.Errorf("math: eval: %w", err)
	}

	return map[string]any{"result": val.ToFloat()}, nil
}
