package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rakunlabs/ferroflux/internal/pipeline/tools"
)

func newEngine() *Engine {
	return NewEngine(tools.NewDefaultRegistry(nil), tools.NewMemoryStore())
}

func TestRunResolvesDottedPathParamsWithTypePreserved(t *testing.T) {
	engine := newEngine()

	def := Definition{
		ID: "p1",
		Steps: []StepDef{
			{
				ID:     "s1",
				Tool:   "emit",
				Params: map[string]any{"port": "count", "value": "{{inputs.count}}"},
			},
		},
	}

	result, err := engine.Run(t.Context(), def, "wf-1", map[string]any{"count": float64(7)}, nil, nil)
	require.NoError(t, err)
	require.EqualValues(t, 7, result.Outputs["count"])
}

func TestRunStoresStepResultsAndCopiesReturns(t *testing.T) {
	engine := newEngine()

	def := Definition{
		ID: "p2",
		Steps: []StepDef{
			{
				ID:      "query",
				Tool:    "json_query",
				Params:  map[string]any{"data": "{{inputs.payload}}", "path": "user.name"},
				Returns: map[string]string{"value": "user_name"},
			},
			{
				ID:     "out",
				Tool:   "emit",
				Params: map[string]any{"port": "name", "value": "{{user_name}}"},
			},
		},
	}

	inputs := map[string]any{"payload": map[string]any{"user": map[string]any{"name": "ada"}}}

	result, err := engine.Run(t.Context(), def, "wf-1", inputs, nil, nil)
	require.NoError(t, err)
	require.Equal(t, "ada", result.Outputs["name"])
	require.Equal(t, true, result.Steps["query"]["found"])
}

func TestRunFollowsRoutingDefaultCase(t *testing.T) {
	engine := newEngine()

	def := Definition{
		ID: "p3",
		Routing: &Routing{
			Match: "{{.inputs.status}}",
			Cases: map[string][]StepDef{
				"open": {{ID: "a", Tool: "emit", Params: map[string]any{"port": "route", "value": "open-path"}}},
				"default": {{ID: "b", Tool: "emit", Params: map[string]any{"port": "route", "value": "default-path"}}},
			},
		},
	}

	result, err := engine.Run(t.Context(), def, "wf-1", map[string]any{"status": "unknown"}, nil, nil)
	require.NoError(t, err)
	require.Equal(t, "default-path", result.Outputs["route"])
}

func TestRunSetVarGetVarPersistAcrossSteps(t *testing.T) {
	engine := newEngine()

	def := Definition{
		ID: "p4",
		Steps: []StepDef{
			{ID: "save", Tool: "set_var", Params: map[string]any{"key": "total", "value": float64(10)}},
			{ID: "load", Tool: "get_var", Params: map[string]any{"key": "total"}, Returns: map[string]string{"value": "loaded"}},
			{ID: "out", Tool: "emit", Params: map[string]any{"port": "total", "value": "{{loaded}}"}},
		},
	}

	result, err := engine.Run(t.Context(), def, "wf-vars", nil, nil, nil)
	require.NoError(t, err)
	require.EqualValues(t, 10, result.Outputs["total"])
}

func TestRunMathToolFeedsRoutingDecision(t *testing.T) {
	engine := newEngine()

	def := Definition{
		ID: "p5",
		Steps: []StepDef{
			{
				ID:      "calc",
				Tool:    "math",
				Params:  map[string]any{"expression": "a + b", "vars": map[string]any{"a": float64(2), "b": float64(3)}},
				Returns: map[string]string{"result": "sum"},
			},
		},
		Routing: &Routing{
			Match: "{{.sum}}",
			Cases: map[string][]StepDef{
				"5": {{ID: "yes", Tool: "emit", Params: map[string]any{"port": "label", "value": "five"}}},
			},
		},
	}

	result, err := engine.Run(t.Context(), def, "wf-1", nil, nil, nil)
	require.NoError(t, err)
	require.Equal(t, "five", result.Outputs["label"])
}
