package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// JSONQueryTool implements "json_query": a key/path lookup into a JSON
// value, distinct from the JMESPath engine splitter/transform/agent use
// for output_transform — SPEC_FULL.md §4.12 names this one as simple
// pointer/key lookup. Uses github.com/tidwall/gjson, already an indirect
// teacher dependency, promoted to direct here.
type JSONQueryTool struct{}

func (JSONQueryTool) Name() string { return "json_query" }

func (JSONQueryTool) Invoke(_ context.Context, _ *Context, params map[string]any) (map[string]any, error) {
	data, ok := params["data"]
	if !ok {
		return nil, fmt.Errorf("json_query: 'data' is required")
	}
	path, _ := params["path"].(string)
	if path == "" {
		return nil, fmt.Errorf("json_query: 'path' is required")
	}

	raw, err := toJSONBytes(data)
	if err != nil {
		return nil, fmt.Errorf("json_query: %w", err)
	}

	result := gjson.GetBytes(raw, path)
	if !result.Exists() {
		return map[string]any{"value": nil, "found": false}, nil
	}
	return map[string]any{"value": result.Value(), "found": true}, nil
}

func toJSONBytes(v any) ([]byte, error) {
	if s, ok := v.(string); ok {
		return []byte(s), nil
	}
	return json.Marshal(v)
}
