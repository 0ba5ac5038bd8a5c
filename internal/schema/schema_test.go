package schema

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rakunlabs/ferroflux/internal/ecs"
)

func node(t *testing.T, world *ecs.World, uuid string, requiredFields ...string) ecs.EntityID {
	t.Helper()

	id := world.Spawn()
	world.TagTopology(id)

	var req []any
	for _, f := range requiredFields {
		req = append(req, f)
	}

	world.SetNodeDefinition(id, &ecs.NodeDefinition{
		UUID:   uuid,
		Type:   "noop",
		Config: map[string]any{"required_fields": req},
	})
	return id
}

func expectedOutputOf(t *testing.T, world *ecs.World, id ecs.EntityID) []string {
	t.Helper()

	def, ok := world.NodeDefinition(id)
	require.True(t, ok)

	raw, _ := def.Config["expected_output"].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		out = append(out, v.(string))
	}
	return out
}

func TestPropagateUnionsRequirementsUpThroughChain(t *testing.T) {
	world := ecs.NewWorld()

	a := node(t, world, "a")
	b := node(t, world, "b", "b_field")
	c := node(t, world, "c", "c_field")

	world.AddEdge(a, ecs.Edge{Target: b})
	world.AddEdge(b, ecs.Edge{Target: c})

	require.NoError(t, Propagate(world))

	require.ElementsMatch(t, []string{"c_field"}, expectedOutputOf(t, world, c))
	require.ElementsMatch(t, []string{"b_field", "c_field"}, expectedOutputOf(t, world, b))
	require.ElementsMatch(t, []string{"b_field", "c_field"}, expectedOutputOf(t, world, a))
}

func TestPropagateFanInUnionsAllChildren(t *testing.T) {
	world := ecs.NewWorld()

	a := node(t, world, "a")
	b := node(t, world, "b", "b_field")
	c := node(t, world, "c", "c_field")

	world.AddEdge(a, ecs.Edge{Target: b})
	world.AddEdge(a, ecs.Edge{Target: c})

	require.NoError(t, Propagate(world))

	require.ElementsMatch(t, []string{"b_field", "c_field"}, expectedOutputOf(t, world, a))
}

func TestPropagateDetectsCycleAndLeavesPreviousOutputIntact(t *testing.T) {
	world := ecs.NewWorld()

	a := node(t, world, "a", "a_field")
	b := node(t, world, "b", "b_field")

	world.AddEdge(a, ecs.Edge{Target: b})
	world.AddEdge(b, ecs.Edge{Target: a})

	err := Propagate(world)
	require.ErrorIs(t, err, ErrCycle)

	defA, _ := world.NodeDefinition(a)
	_, hasOutput := defA.Config["expected_output"]
	require.False(t, hasOutput)
}
