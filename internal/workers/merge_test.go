package workers

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMergeReplacesWhenNoResultKey(t *testing.T) {
	out, err := Merge([]byte(`{"a":1}`), "", map[string]any{"b": 2})
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(out, &got))
	require.Equal(t, map[string]any{"b": float64(2)}, got)
}

func TestMergeEnrichesAtResultKey(t *testing.T) {
	out, err := Merge([]byte(`{"a":1}`), "stats", map[string]any{"mean": 2.5})
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(out, &got))
	require.Equal(t, float64(1), got["a"])
	require.Equal(t, map[string]any{"mean": 2.5}, got["stats"])
}

func TestMergeNonObjectUpstreamFallsBackToReplacement(t *testing.T) {
	out, err := Merge([]byte(`[1,2,3]`), "result", "done")
	require.NoError(t, err)

	var got string
	require.NoError(t, json.Unmarshal(out, &got))
	require.Equal(t, "done", got)
}

func TestMergeScalarUpstreamFallsBackToReplacement(t *testing.T) {
	out, err := Merge([]byte(`42`), "result", map[string]any{"x": 1})
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(out, &got))
	require.Equal(t, map[string]any{"x": float64(1)}, got)
}
