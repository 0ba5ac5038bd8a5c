package workers

import "encoding/json"

// Merge implements the universal result-merging rule described in
// SPEC_FULL.md §4.4: when resultKey is empty, result replaces the
// upstream payload entirely; otherwise result is attached onto the
// upstream JSON object at resultKey, enriching rather than replacing it.
//
// upstream must be a JSON object (a map) for the enrich path to apply;
// if it isn't, Merge falls back to replacement, same as the
// resultKey == "" case.
func Merge(upstream []byte, resultKey string, result any) ([]byte, error) {
	if resultKey == "" {
		return json.Marshal(result)
	}

	var obj map[string]any
	if len(upstream) > 0 {
		if err := json.Unmarshal(upstream, &obj); err != nil || obj == nil {
			return json.Marshal(result)
		}
	}
	if obj == nil {
		obj = make(map[string]any)
	}

	obj[resultKey] = result

	return json.Marshal(obj)
}
