package tools

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeDoer struct {
	status int
	body   string
}

func (f *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	return &http.Response{
		StatusCode: f.status,
		Body:       http.NoBody,
		Header:     http.Header{},
	}, nil
}

func TestHTTPClientToolShadowModeInterceptsBeforeRealCall(t *testing.T) {
	tool := NewHTTPClientTool(&fakeDoer{status: 500})
	tool.SetMock("GET", "https://example.com/widgets", MockResponse{Status: 200, Body: `{"ok":true}`})

	out, err := tool.Invoke(t.Context(), &Context{}, map[string]any{
		"method": "get",
		"url":    "https://example.com/widgets",
	})
	require.NoError(t, err)
	require.Equal(t, 200, out["status"])
	require.Equal(t, `{"ok":true}`, out["body"])
	require.Equal(t, true, out["shadowed"])
}

func TestHTTPClientToolRejectsMissingURL(t *testing.T) {
	tool := NewHTTPClientTool(nil)
	_, err := tool.Invoke(t.Context(), &Context{}, map[string]any{})
	require.Error(t, err)
}

func TestSwitchToolMatchesCaseOrFallsBackToDefault(t *testing.T) {
	tool := SwitchTool{}

	out, err := tool.Invoke(t.Context(), nil, map[string]any{
		"value": "b",
		"cases": map[string]any{"a": 1, "b": 2, "default": 0},
	})
	require.NoError(t, err)
	require.Equal(t, "b", out["matched"])
	require.EqualValues(t, 2, out["result"])

	out, err = tool.Invoke(t.Context(), nil, map[string]any{
		"value": "z",
		"cases": map[string]any{"a": 1, "default": 0},
	})
	require.NoError(t, err)
	require.Equal(t, "default", out["matched"])
}

func TestJSONQueryToolLooksUpNestedPath(t *testing.T) {
	tool := JSONQueryTool{}

	out, err := tool.Invoke(t.Context(), nil, map[string]any{
		"data": map[string]any{"user": map[string]any{"name": "ada"}},
		"path": "user.name",
	})
	require.NoError(t, err)
	require.Equal(t, true, out["found"])
	require.Equal(t, "ada", out["value"])

	out, err = tool.Invoke(t.Context(), nil, map[string]any{
		"data": map[string]any{"user": map[string]any{}},
		"path": "user.missing",
	})
	require.NoError(t, err)
	require.Equal(t, false, out["found"])
}

func TestEmitToolRequiresPort(t *testing.T) {
	tool := EmitTool{}

	out, err := tool.Invoke(t.Context(), nil, map[string]any{"port": "result", "value": 42})
	require.NoError(t, err)
	require.Equal(t, "result", out["port"])
	require.EqualValues(t, 42, out["value"])

	_, err = tool.Invoke(t.Context(), nil, map[string]any{"value": 42})
	require.Error(t, err)
}

func TestLogicToolFirstMatchWinsOverNestedGroups(t *testing.T) {
	tool := LogicTool{}

	cases := []any{
		map[string]any{
			"when": map[string]any{
				"all": []any{
					map[string]any{"field": "status", "operator": "==", "value": "open"},
					map[string]any{"field": "priority", "operator": ">=", "value": float64(3)},
				},
			},
			"then": "escalate",
		},
		map[string]any{
			"when": map[string]any{
				"any": []any{
					map[string]any{"field": "status", "operator": "==", "value": "closed"},
				},
			},
			"then": "archive",
		},
	}

	out, err := tool.Invoke(t.Context(), nil, map[string]any{
		"data":  map[string]any{"status": "open", "priority": float64(5)},
		"cases": cases,
	})
	require.NoError(t, err)
	require.Equal(t, true, out["matched"])
	require.Equal(t, "escalate", out["result"])

	out, err = tool.Invoke(t.Context(), nil, map[string]any{
		"data":  map[string]any{"status": "closed", "priority": float64(1)},
		"cases": cases,
	})
	require.NoError(t, err)
	require.Equal(t, "archive", out["result"])

	out, err = tool.Invoke(t.Context(), nil, map[string]any{
		"data":  map[string]any{"status": "pending", "priority": float64(1)},
		"cases": cases,
	})
	require.NoError(t, err)
	require.Equal(t, false, out["matched"])
}

func TestLogicToolStringOperators(t *testing.T) {
	tool := LogicTool{}

	out, err := tool.Invoke(t.Context(), nil, map[string]any{
		"data": map[string]any{"name": "widget-42"},
		"cases": []any{
			map[string]any{
				"when": map[string]any{"field": "name", "operator": "starts_with", "value": "widget"},
				"then": "matched",
			},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "matched", out["result"])
}

func TestSetVarGetVarRoundTripThroughMemory(t *testing.T) {
	mem := NewMemoryStore()
	tctx := &Context{WorkflowID: "wf-1", Memory: mem}

	_, err := SetVarTool{}.Invoke(t.Context(), tctx, map[string]any{"key": "count", "value": float64(3)})
	require.NoError(t, err)

	out, err := GetVarTool{}.Invoke(t.Context(), tctx, map[string]any{"key": "count"})
	require.NoError(t, err)
	require.Equal(t, true, out["found"])
	require.EqualValues(t, 3, out["value"])

	other := &Context{WorkflowID: "wf-2", Memory: mem}
	out, err = GetVarTool{}.Invoke(t.Context(), other, map[string]any{"key": "count"})
	require.NoError(t, err)
	require.Equal(t, false, out["found"])
}

func TestMathToolEvaluatesExpressionWithVars(t *testing.T) {
	tool := MathTool{}

	out, err := tool.Invoke(t.Context(), nil, map[string]any{
		"expression": "sqrt(a*a + b*b)",
		"vars":       map[string]any{"a": float64(3), "b": float64(4)},
	})
	require.NoError(t, err)
	require.InDelta(t, 5.0, out["result"], 0.0001)
}

func TestSleepToolHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := SleepTool{}.Invoke(ctx, nil, map[string]any{"duration_ms": float64(1000)})
	require.Error(t, err)
}
