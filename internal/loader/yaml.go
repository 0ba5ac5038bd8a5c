package loader

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// yamlEdge mirrors one edge entry of the on-disk workflow blueprint
// format. Grounded on original_source/.../graph_loader.rs's
// EdgeBlueprint.
type yamlEdge struct {
	SourceUUID string `yaml:"source_id"`
	TargetUUID string `yaml:"target_id"`
	SourcePort string `yaml:"source_port"`
	TargetPort string `yaml:"target_port"`
}

// ParseBlueprintYAML decodes a workflow blueprint document into the
// loader's Blueprint shape. The node's declared id/name/type/secret
// keys are pulled out of its map and everything else is carried as the
// node's raw factory config, the Go analog of serde's #[serde(flatten)].
func ParseBlueprintYAML(data []byte) (Blueprint, error) {
	var doc struct {
		ID    string           `yaml:"id"`
		Nodes []map[string]any `yaml:"nodes"`
		Edges []yamlEdge       `yaml:"edges"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Blueprint{}, fmt.Errorf("loader: parse blueprint yaml: %w", err)
	}

	bp := Blueprint{
		WorkflowID: doc.ID,
		Edges:      make([]BlueprintEdge, 0, len(doc.Edges)),
	}

	for _, raw := range doc.Nodes {
		n := BlueprintNode{Config: make(map[string]any, len(raw))}
		for k, v := range raw {
			switch k {
			case "id":
				n.UUID, _ = v.(string)
			case "name":
				n.Name, _ = v.(string)
			case "type":
				n.Type, _ = v.(string)
			case "secret":
				n.Secret, _ = v.(string)
			default:
				n.Config[k] = v
			}
		}
		if n.UUID == "" {
			return Blueprint{}, fmt.Errorf("loader: node %q: missing id", n.Name)
		}
		bp.Nodes = append(bp.Nodes, n)
	}

	for _, e := range doc.Edges {
		bp.Edges = append(bp.Edges, BlueprintEdge{
			SourceUUID: e.SourceUUID,
			TargetUUID: e.TargetUUID,
			SourcePort: e.SourcePort,
			TargetPort: e.TargetPort,
		})
	}

	return bp, nil
}
