// Package scripting provides the shared Goja VM setup used by the
// switch, script, and expression workers. Grounded on
// internal/service/workflow/goja.go's SetupGojaVM/registerGojaHelpers
// (the teacher's expression/script nodes all share this setup), trimmed
// to the subset those workers need: JSON helpers plus every input value
// exposed as a VM global.
package scripting

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"

	"github.com/dop251/goja"
)

// NewVM returns a Goja runtime with jsonParse/jsonStringify/btoa/atob
// helpers registered and every key of data set as a VM global.
func NewVM(data map[string]any) (*goja.Runtime, error) {
	vm := goja.New()

	if err := registerHelpers(vm); err != nil {
		return nil, err
	}

	for k, v := range data {
		if err := vm.Set(k, v); err != nil {
			return nil, fmt.Errorf("scripting: set %q: %w", k, err)
		}
	}

	return vm, nil
}

func registerHelpers(vm *goja.Runtime) error {
	if err := vm.Set("jsonParse", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			return goja.Undefined()
		}
		var parsed any
		if err := json.Unmarshal([]byte(call.Arguments[0].String()), &parsed); err != nil {
			panic(vm.NewGoError(fmt.Errorf("jsonParse: %w", err)))
		}
		return vm.ToValue(parsed)
	}); err != nil {
		return err
	}

	if err := vm.Set("jsonStringify", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			return vm.ToValue("")
		}
		out, err := json.Marshal(call.Arguments[0].Export())
		if err != nil {
			panic(vm.NewGoError(fmt.Errorf("jsonStringify: %w", err)))
		}
		return vm.ToValue(string(out))
	}); err != nil {
		return err
	}

	if err := vm.Set("btoa", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			return vm.ToValue("")
		}
		return vm.ToValue(base64.StdEncoding.EncodeToString([]byte(call.Arguments[0].String())))
	}); err != nil {
		return err
	}

	return vm.Set("atob", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			return vm.ToValue("")
		}
		decoded, err := base64.StdEncoding.DecodeString(call.Arguments[0].String())
		if err != nil {
			panic(vm.NewGoError(fmt.Errorf("atob: %w", err)))
		}
		return vm.ToValue(string(decoded))
	})
}

// EvalBool runs expression against data and returns its truthiness.
func EvalBool(expression string, data map[string]any) (bool, error) {
	vm, err := NewVM(data)
	if err != nil {
		return false, err
	}

	val, err := vm.RunString(expression)
	if err != nil {
		return false, fmt.Errorf("scripting: eval: %w", err)
	}

	return val.ToBoolean(), nil
}

// EvalString runs expression (wrapped as an IIFE so multi-statement
// scripts with a return work, matching the teacher's script-node
// convention) and coerces the result to a string.
func EvalString(script string, data map[string]any) (string, error) {
	vm, err := NewVM(data)
	if err != nil {
		return "", err
	}

	wrapped := "(function(){" + script + "})()"

	val, err := vm.RunString(wrapped)
	if err != nil {
		return "", fmt.Errorf("scripting: eval: %w", err)
	}

	return val.String(), nil
}

// EvalValue runs expression and returns the raw exported Go value
// (string, float64, bool, map[string]any, []any, or nil).
func EvalValue(expression string, data map[string]any) (any, error) {
	vm, err := NewVM(data)
	if err != nil {
		return nil, err
	}

	val, err := vm.RunString(expression)
	if err != nil {
		return nil, fmt.Errorf("scripting: eval: %w", err)
	}

	return val.Export(), nil
}

// RegisterMathHelpers adds sqrt/abs/floor/ceil/min/max globals to vm, on
// top of NewVM's JSON/base64 helpers. Shared by the expression node and
// the pipeline executor's math tool, both of which evaluate arithmetic
// expressions via Goja rather than a bespoke parser.
func RegisterMathHelpers(vm *goja.Runtime) error {
	helpers := map[string]func(float64) float64{
		"sqrt":  math.Sqrt,
		"abs":   math.Abs,
		"floor": math.Floor,
		"ceil":  math.Ceil,
	}
	for name, fn := range helpers {
		fn := fn
		if err := vm.Set(name, func(call goja.FunctionCall) goja.Value {
			if len(call.Arguments) == 0 {
				return vm.ToValue(math.NaN())
			}
			return vm.ToValue(fn(call.Arguments[0].ToFloat()))
		}); err != nil {
			return err
		}
	}

	if err := vm.Set("min", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(variadicFloat(call, math.Min, math.Inf(1)))
	}); err != nil {
		return err
	}

	return vm.Set("max", func(call goja.FunctionCall) goja.Value {
		return vm.ToValue(variadicFloat(call, math.Max, math.Inf(-1)))
	})
}

func variadicFloat(call goja.FunctionCall, reduce func(a, b float64) float64, seed float64) float64 {
	acc := seed
	for _, arg := range call.Arguments {
		acc = reduce(acc, arg.ToFloat())
	}
	return acc
}
