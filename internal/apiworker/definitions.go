package apiworker

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rakunlabs/ferroflux/internal/pipeline"
	"github.com/rakunlabs/ferroflux/internal/registry"
)

// yamlDefinition mirrors the on-disk YAML node-definition format.
// Grounded on original_source/.../nodes/definition.rs's NodeDefinition/
// NodeMeta/Interface/PipelineStep/RoutingLogic — translated from serde's
// derive macros to explicit yaml tags, and trimmed to the fields the
// runtime actually consumes (category/description/settings metadata
// exist in the original for the editor UI, a non-goal here).
type yamlDefinition struct {
	Meta struct {
		ID string `yaml:"id"`
	} `yaml:"meta"`
	Interface struct {
		Inputs  []yamlPort `yaml:"inputs"`
		Outputs []yamlPort `yaml:"outputs"`
	} `yaml:"interface"`
	Context   map[string]string `yaml:"context"`
	Execution []yamlStep        `yaml:"execution"`
	Routing   *yamlRouting      `yaml:"routing"`
}

type yamlPort struct {
	Name string `yaml:"name"`
}

type yamlStep struct {
	ID      string            `yaml:"id"`
	Tool    string            `yaml:"tool"`
	Params  map[string]any    `yaml:"params"`
	Returns map[string]string `yaml:"returns"`
}

type yamlRouting struct {
	Match string                `yaml:"match"`
	Cases map[string][]yamlStep `yaml:"cases"`
}

// loadDefinitionDir reads every *.yaml/*.yml file in dir and decodes it
// into a schema catalog entry (for the UI/validation-facing
// registry.DefinitionRegistry) plus a runnable pipeline.Definition,
// keyed by the definition's meta.id.
func loadDefinitionDir(dir string) ([]registry.NodeDefinition, map[string]pipeline.Definition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("read definitions dir %q: %w", dir, err)
	}

	var schemas []registry.NodeDefinition
	pipelines := make(map[string]pipeline.Definition)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, nil, fmt.Errorf("read %s: %w", name, err)
		}

		var doc yamlDefinition
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, nil, fmt.Errorf("parse %s: %w", name, err)
		}
		if doc.Meta.ID == "" {
			return nil, nil, fmt.Errorf("%s: meta.id is required", name)
		}

		outputPorts := make([]string, 0, len(doc.Interface.Outputs))
		for _, p := range doc.Interface.Outputs {
			outputPorts = append(outputPorts, p.Name)
		}
		requiredKeys := make([]string, 0, len(doc.Interface.Inputs))
		for _, p := range doc.Interface.Inputs {
			requiredKeys = append(requiredKeys, p.Name)
		}

		schemas = append(schemas, registry.NodeDefinition{
			Type:         doc.Meta.ID,
			RequiredKeys: requiredKeys,
			OutputPorts:  outputPorts,
		})

		pipelines[doc.Meta.ID] = pipeline.Definition{
			ID:      doc.Meta.ID,
			Context: doc.Context,
			Steps:   convertSteps(doc.Execution),
			Routing: convertRouting(doc.Routing),
		}
	}

	return schemas, pipelines, nil
}

func convertSteps(steps []yamlStep) []pipeline.StepDef {
	out := make([]pipeline.StepDef, 0, len(steps))
	for _, s := range steps {
		out = append(out, pipeline.StepDef{ID: s.ID, Tool: s.Tool, Params: s.Params, Returns: s.Returns})
	}
	return out
}

func convertRouting(r *yamlRouting) *pipeline.Routing {
	if r == nil {
		return nil
	}
	cases := make(map[string][]pipeline.StepDef, len(r.Cases))
	for k, steps := range r.Cases {
		cases[k] = convertSteps(steps)
	}
	return &pipeline.Routing{Match: r.Match, Cases: cases}
}
