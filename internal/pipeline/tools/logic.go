package tools

import (
	"context"
	"fmt"
	"strings"
)

// LogicTool implements "logic": a first-match rule evaluator over
// nested AND/OR groups with leaf {field, operator, value} conditions,
// per SPEC_FULL.md §4.12. params shape:
//
//	{
//	  "data": {...},
//	  "cases": [
//	    {"when": {"all": [{"field": "status", "operator": "==", "value": "open"}]}, "then": "route_a"},
//	    {"when": {"any": [...]}, "then": "route_b"}
//	  ]
//	}
//
// The first case whose "when" group evaluates true wins; its "then"
// value is returned as "result". No match returns matched=false.
type LogicTool struct{}

func (LogicTool) Name() string { return "logic" }

func (LogicTool) Invoke(_ context.Context, _ *Context, params map[string]any) (map[string]any, error) {
	data, _ := params["data"].(map[string]any)

	casesRaw, _ := params["cases"].([]any)
	for i, raw := range casesRaw {
		caseMap, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		whenRaw, _ := caseMap["when"].(map[string]any)
		node := parseLogicNode(whenRaw)
		matched, err := node.eval(data)
		if err != nil {
			return nil, fmt.Errorf("logic: case %d: %w", i, err)
		}
		if matched {
			return map[string]any{"matched": true, "index": i, "result": caseMap["then"]}, nil
		}
	}

	return map[string]any{"matched": false, "index": -1, "result": nil}, nil
}

// logicNode is either a leaf condition or an AND/OR group of child
// nodes; exactly one of the two forms is populated.
type logicNode struct {
	// leaf
	field    string
	operator string
	value    any
	isLeaf   bool

	// group
	all []logicNode
	any []logicNode
}

func parseLogicNode(raw map[string]any) logicNode {
	if raw == nil {
		return logicNode{}
	}

	if allRaw, ok := raw["all"].([]any); ok {
		n := logicNode{}
		for _, c := range allRaw {
			if m, ok := c.(map[string]any); ok {
				n.all = append(n.all, parseLogicNode(m))
			}
		}
		return n
	}

	if anyRaw, ok := raw["any"].([]any); ok {
		n := logicNode{}
		for _, c := range anyRaw {
			if m, ok := c.(map[string]any); ok {
				n.any = append(n.any, parseLogicNode(m))
			}
		}
		return n
	}

	field, _ := raw["field"].(string)
	operator, _ := raw["operator"].(string)
	return logicNode{field: field, operator: operator, value: raw["value"], isLeaf: true}
}

func (n logicNode) eval(data map[string]any) (bool, error) {
	if len(n.all) > 0 {
		for _, child := range n.all {
			ok, err := child.eval(data)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	}

	if len(n.any) > 0 {
		for _, child := range n.any {
			ok, err := child.eval(data)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}

	if !n.isLeaf {
		return false, nil
	}

	return evalLeaf(n.field, n.operator, n.value, data)
}

func evalLeaf(field, operator string, expected any, data map[string]any) (bool, error) {
	actual := lookupField(data, field)

	switch operator {
	case "==":
		return compareEqual(actual, expected), nil
	case "!=":
		return !compareEqual(actual, expected), nil
	case "<", "<=", ">", ">=":
		af, aok := toFloat(actual)
		ef, eok := toFloat(expected)
		if !aok || !eok {
			return false, nil
		}
		switch operator {
		case "<":
			return af < ef, nil
		case "<=":
			return af <= ef, nil
		case ">":
			return af > ef, nil
		case ">=":
			return af >= ef, nil
		}
	case "contains":
		as, aok := actual.(string)
		es, eok := expected.(string)
		return aok && eok && strings.Contains(as, es), nil
	case "starts_with":
		as, aok := actual.(string)
		es, eok := expected.(string)
		return aok && eok && strings.HasPrefix(as, es), nil
	case "ends_with":
		as, aok := actual.(string)
		es, eok := expected.(string)
		return aok && eok && strings.HasSuffix(as, es), nil
	}

	return false, fmt.Errorf("unknown operator %q", operator)
}

// lookupField resolves a dotted path ("a.b.c") into nested maps.
func lookupField(data map[string]any, path string) any {
	if data == nil || path == "" {
		return nil
	}

	parts := strings.Split(path, ".")
	var cur any = data
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = m[p]
		if !ok {
			return nil
		}
	}
	return cur
}

func compareEqual(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
