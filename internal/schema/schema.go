// Package schema implements the reverse-topological schema propagator:
// for every node, ExpectedOutput = own Requirements ∪ the union of every
// downstream child's ExpectedOutput. The result is written back onto
// each node's NodeDefinition.Config["expected_output"], the same key
// agentworker's Prep phase reads to append its "ensure output matches
// JSON schema keys" system-prompt clause. Grounded on
// original_source/.../schema.rs for the propagation rule, and the
// teacher's topoSort (Kahn's algorithm, internal/service/workflow/engine.go)
// reused directly as the topological-ordering primitive — run here in
// reverse, since propagation flows from sinks toward sources rather than
// execution order's sources-toward-sinks.
package schema

import (
	"fmt"

	"github.com/rakunlabs/ferroflux/internal/ecs"
)

// ErrCycle is returned when the graph built from the world's edges
// contains a cycle. Propagate returns before writing anything in this
// case, leaving every node's previous expected_output intact.
var ErrCycle = fmt.Errorf("schema: graph contains a cycle")

// Propagate recomputes ExpectedOutput for every transport-tagged entity
// in world and writes the result back onto each node's
// NodeDefinition.Config["expected_output"].
func Propagate(world *ecs.World) error {
	entities := world.TopologyEntities()
	edgesByNode := world.AllEdges()

	order, err := topoSort(entities, edgesByNode)
	if err != nil {
		return err
	}

	children := make(map[ecs.EntityID][]ecs.EntityID, len(entities))
	for src, edges := range edgesByNode {
		for _, e := range edges {
			children[src] = append(children[src], e.Target)
		}
	}

	expected := make(map[ecs.EntityID]map[string]struct{}, len(entities))

	// Walk the topological order back to front: a node's children
	// (targets of its outgoing edges) always follow it in forward order,
	// so they have already been resolved by the time we reach it here.
	for i := len(order) - 1; i >= 0; i-- {
		id := order[i]

		fields := make(map[string]struct{})
		for _, req := range requirements(world, id) {
			fields[req] = struct{}{}
		}
		for _, child := range children[id] {
			for f := range expected[child] {
				fields[f] = struct{}{}
			}
		}
		expected[id] = fields
	}

	for id, fields := range expected {
		writeExpectedOutput(world, id, fields)
	}

	return nil
}

// requirements returns a node's own declared required fields, read from
// NodeDefinition.Config["required_fields"] — a contract any node type
// may declare for fields it itself consumes, independent of what its
// children require. A node with no declaration contributes nothing of
// its own, only what it inherits from downstream.
func requirements(world *ecs.World, id ecs.EntityID) []string {
	def, ok := world.NodeDefinition(id)
	if !ok || def.Config == nil {
		return nil
	}

	raw, ok := def.Config["required_fields"].([]any)
	if !ok {
		return nil
	}

	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func writeExpectedOutput(world *ecs.World, id ecs.EntityID, fields map[string]struct{}) {
	def, ok := world.NodeDefinition(id)
	if !ok {
		return
	}

	out := make([]any, 0, len(fields))
	for f := range fields {
		out = append(out, f)
	}

	if def.Config == nil {
		def.Config = make(map[string]any)
	}
	def.Config["expected_output"] = out
	world.SetNodeDefinition(id, def)
}

// topoSort orders entities via Kahn's algorithm — the same primitive the
// teacher's workflow engine uses for execution ordering
// (internal/service/workflow/engine.go's topoSort), adapted from
// string-keyed workflow node IDs to ecs.EntityID and from "execute in
// this order" to "resolve expected_output in the reverse of this order".
func topoSort(entities []ecs.EntityID, edgesByNode map[ecs.EntityID][]ecs.Edge) ([]ecs.EntityID, error) {
	inDegree := make(map[ecs.EntityID]int, len(entities))
	for _, id := range entities {
		inDegree[id] = 0
	}

	for _, edges := range edgesByNode {
		for _, e := range edges {
			if _, ok := inDegree[e.Target]; ok {
				inDegree[e.Target]++
			}
		}
	}

	var queue []ecs.EntityID
	for _, id := range entities {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	order := make([]ecs.EntityID, 0, len(entities))
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		order = append(order, current)

		for _, e := range edgesByNode[current] {
			if _, ok := inDegree[e.Target]; !ok {
				continue
			}
			inDegree[e.Target]--
			if inDegree[e.Target] == 0 {
				queue = append(queue, e.Target)
			}
		}
	}

	if len(order) != len(entities) {
		return nil, ErrCycle
	}

	return order, nil
}
