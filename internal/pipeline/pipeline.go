// Package pipeline implements the unified pipeline executor described
// in SPEC_FULL.md §4.12: a YAML-defined sequence of tool invocations
// over a templated local context, with an optional routing block and a
// reserved _outputs map. Grounded on the teacher's workflow.Engine/
// Noder/Registry machinery (internal/service/workflow/engine.go,
// node.go) as the closest analog — "a sequence of steps executed over a
// shared run context, each step's result feeding the next" — adapted
// from the teacher's fixed node-type dispatch to a flat tool catalog
// (internal/pipeline/tools) invoked by name.
package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/rakunlabs/ferroflux/internal/pipeline/tools"
	"github.com/rakunlabs/ferroflux/internal/render"
)

// StepDef is one execution step of a pipeline Definition.
type StepDef struct {
	ID      string
	Tool    string
	Params  map[string]any
	Returns map[string]string // result key -> local context key
}

// Routing is the optional post-steps branch: match is template-rendered
// against the local context, the resulting string selects a case from
// Cases (falling back to "default"), and that case's steps run in turn.
type Routing struct {
	Match string
	Cases map[string][]StepDef
}

// Definition is a loaded pipeline node's blueprint: per spec.md §4.12,
// a local context (inputs/settings/platform plus named context
// bindings), an ordered list of steps, and an optional routing block.
type Definition struct {
	ID      string
	Context map[string]string // binding name -> template source
	Steps   []StepDef
	Routing *Routing
}

// Result is what a pipeline run produces: the node's output dictionary
// (written via the emit tool) plus every step's raw result, kept around
// for diagnostics and for steps[...] lookups in the routing match.
type Result struct {
	Outputs map[string]any
	Steps   map[string]map[string]any
}

// Engine executes Definitions against a tool Registry and shared
// workflow Memory.
type Engine struct {
	tools  *tools.Registry
	memory tools.Memory
}

// NewEngine constructs an Engine. memory may be nil if no pipeline in
// this Engine's scope uses set_var/get_var.
func NewEngine(registry *tools.Registry, memory tools.Memory) *Engine {
	return &Engine{tools: registry, memory: memory}
}

// dottedPathRe matches a param value that is exactly "{{ path }}" with
// path a single dotted identifier chain — per spec.md §4.12 step 3.1,
// these become a direct JSON-value lookup (type preserved) rather than
// a template render, so a param bound to "{{inputs.count}}" stays an
// int/float instead of being stringified.
var dottedPathRe = regexp.MustCompile(`^\{\{\s*([a-zA-Z0-9_]+(?:\.[a-zA-Z0-9_]+)*)\s*\}\}$`)

// Run builds the local context from inputs/settings/platform, resolves
// and runs def.Steps, follows def.Routing if present, and returns the
// collected _outputs.
func (e *Engine) Run(ctx context.Context, def Definition, workflowID string, inputs, settings, platform map[string]any) (*Result, error) {
	local := map[string]any{
		"inputs":       inputs,
		"settings":     settings,
		"platform":     platform,
		"steps":        map[string]any{},
		"_outputs":     map[string]any{},
		"_workflow_id": workflowID,
	}

	for name, tmpl := range def.Context {
		rendered, err := e.renderTemplate(tmpl, local)
		if err != nil {
			return nil, fmt.Errorf("pipeline: context %q: %w", name, err)
		}
		local[name] = rendered
	}

	if err := e.runSteps(ctx, def.Steps, local, workflowID); err != nil {
		return nil, err
	}

	if def.Routing != nil {
		matched, err := e.renderTemplate(def.Routing.Match, local)
		if err != nil {
			return nil, fmt.Errorf("pipeline: routing match: %w", err)
		}

		caseSteps, ok := def.Routing.Cases[matched]
		if !ok {
			caseSteps, ok = def.Routing.Cases["default"]
		}
		if ok {
			if err := e.runSteps(ctx, caseSteps, local, workflowID); err != nil {
				return nil, err
			}
		}
	}

	outputs, _ := local["_outputs"].(map[string]any)
	stepsRaw, _ := local["steps"].(map[string]any)
	stepResults := make(map[string]map[string]any, len(stepsRaw))
	for k, v := range stepsRaw {
		if m, ok := v.(map[string]any); ok {
			stepResults[k] = m
		}
	}

	return &Result{Outputs: outputs, Steps: stepResults}, nil
}

func (e *Engine) runSteps(ctx context.Context, steps []StepDef, local map[string]any, workflowID string) error {
	for _, step := range steps {
		resolved, err := e.resolveParams(step.Params, local)
		if err != nil {
			return fmt.Errorf("pipeline: step %q: %w", step.ID, err)
		}

		tctx := &tools.Context{WorkflowID: workflowID, Local: local, Memory: e.memory}

		result, err := e.tools.Invoke(ctx, step.Tool, tctx, resolved)
		if err != nil {
			return fmt.Errorf("pipeline: step %q: tool %q: %w", step.ID, step.Tool, err)
		}

		stepsMap, _ := local["steps"].(map[string]any)
		stepsMap[step.ID] = result
		local["steps"] = stepsMap

		for resultKey, localKey := range step.Returns {
			if val, ok := result[resultKey]; ok {
				local[localKey] = val
			}
		}

		if step.Tool == "emit" {
			port, _ := result["port"].(string)
			if port != "" {
				outputs, _ := local["_outputs"].(map[string]any)
				outputs[port] = result["value"]
				local["_outputs"] = outputs
			}
		}
	}

	return nil
}

// resolveParams resolves every value in params per spec.md §4.12 step
// 3.1: dotted-path passthrough for a bare "{{path}}" string, template
// rendering otherwise, recursing into nested maps/slices.
func (e *Engine) resolveParams(params map[string]any, local map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(params))
	for k, v := range params {
		resolved, err := e.resolveValue(v, local)
		if err != nil {
			return nil, fmt.Errorf("param %q: %w", k, err)
		}
		out[k] = resolved
	}
	return out, nil
}

func (e *Engine) resolveValue(v any, local map[string]any) (any, error) {
	switch val := v.(type) {
	case string:
		if m := dottedPathRe.FindStringSubmatch(val); m != nil {
			resolved, _ := lookupPath(local, m[1])
			return resolved, nil
		}
		return e.renderTemplate(val, local)
	case map[string]any:
		return e.resolveParams(val, local)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			r, err := e.resolveValue(item, local)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return v, nil
	}
}

func (e *Engine) renderTemplate(tmpl string, local map[string]any) (string, error) {
	if tmpl == "" {
		return "", nil
	}

	extraFuncs := map[string]any{
		"getVar": func(key string) any {
			if e.memory == nil {
				return nil
			}
			workflowID, _ := local["_workflow_id"].(string)
			v, _ := e.memory.Get(workflowID, key)
			return v
		},
	}

	rendered, err := render.ExecuteWithFuncs(tmpl, local, extraFuncs)
	if err != nil {
		return "", err
	}
	return string(rendered), nil
}

// lookupPath resolves a dotted path ("steps.fetch.body") against nested
// map[string]any values.
func lookupPath(data map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = data
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
