package agentworker

import (
	"encoding/json"
	"fmt"

	"github.com/rytsh/mugo/templatex"

	"github.com/rakunlabs/ferroflux/internal/render"
)

// renderPrompt renders tmplText as a Go text/template against data, with
// the json/is_string/is_array helpers spec.md §4.6 requires registered
// alongside mugo/fstore's builtins. Templates use Go syntax ({{.var}},
// {{if}}, {{range}}, builtin eq); handlebars forms such as {{var}},
// {{#if}} and {{#each}} are not translated and fail to parse.
func renderPrompt(tmplText string, data map[string]any) (string, error) {
	if tmplText == "" {
		return "", nil
	}

	out, err := render.ExecuteWithData(tmplText, data, templatex.WithExecFuncMap(promptFuncMap))
	if err != nil {
		return "", fmt.Errorf("agentworker: render: %w", err)
	}
	return string(out), nil
}

var promptFuncMap = map[string]any{
	"json": func(v any) (string, error) {
		b, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(b), nil
	},
	"is_string": func(v any) bool {
		_, ok := v.(string)
		return ok
	},
	"is_array": func(v any) bool {
		_, ok := v.([]any)
		return ok
	},
}
