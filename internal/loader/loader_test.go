package loader

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rakunlabs/ferroflux/internal/ecs"
	"github.com/rakunlabs/ferroflux/internal/registry"
)

func testRegistry() *registry.NodeRegistry {
	nodes := registry.NewNodeRegistry()
	nodes.Register("switch", func(config map[string]any) (registry.Worker, error) {
		return stubWorker{nodeType: "switch"}, nil
	})
	nodes.Register("http_request", func(config map[string]any) (registry.Worker, error) {
		return stubWorker{nodeType: "http_request"}, nil
	})
	return nodes
}

type stubWorker struct {
	nodeType string
}

func (s stubWorker) NodeType() string { return s.nodeType }

func TestLoadSpawnsNodesAndWiresEdges(t *testing.T) {
	world := ecs.NewWorld()
	router := NewRouter()
	l := NewLoader(testRegistry(), registry.NewIntegrationRegistry())

	bp := Blueprint{
		WorkflowID: "wf-1",
		Nodes: []BlueprintNode{
			{UUID: "a", Type: "switch", Config: map[string]any{"expression": "true"}},
			{UUID: "b", Type: "http_request", Config: map[string]any{"url": "https://example.com"}},
		},
		Edges: []BlueprintEdge{
			{SourceUUID: "a", TargetUUID: "b", SourcePort: "true"},
		},
	}

	result, err := l.Load(world, router, bp)
	require.NoError(t, err)
	require.Len(t, result.EntitiesByUUID, 2)

	idA := result.EntitiesByUUID["a"]
	idB := result.EntitiesByUUID["b"]

	edges := world.Edges(idA)
	require.Len(t, edges, 1)
	require.Equal(t, idB, edges[0].Target)
	require.Equal(t, "true", edges[0].SourceHandle)

	routedA, ok := router.Lookup("a")
	require.True(t, ok)
	require.Equal(t, idA, routedA)
}

func TestLoadRejectsUnknownEdgeEndpoint(t *testing.T) {
	world := ecs.NewWorld()
	router := NewRouter()
	l := NewLoader(testRegistry(), registry.NewIntegrationRegistry())

	bp := Blueprint{
		Nodes: []BlueprintNode{{UUID: "a", Type: "switch", Config: map[string]any{"expression": "true"}}},
		Edges: []BlueprintEdge{{SourceUUID: "a", TargetUUID: "ghost"}},
	}

	_, err := l.Load(world, router, bp)
	require.Error(t, err)
}

func TestLoadCleansUpPriorWorkflowEntitiesAndDanglingEdges(t *testing.T) {
	world := ecs.NewWorld()
	router := NewRouter()
	l := NewLoader(testRegistry(), registry.NewIntegrationRegistry())

	first := Blueprint{
		WorkflowID: "wf-1",
		Nodes: []BlueprintNode{
			{UUID: "a", Type: "switch", Config: map[string]any{"expression": "true"}},
			{UUID: "b", Type: "http_request", Config: map[string]any{"url": "https://example.com"}},
		},
		Edges: []BlueprintEdge{{SourceUUID: "a", TargetUUID: "b"}},
	}
	_, err := l.Load(world, router, first)
	require.NoError(t, err)

	outsider := Blueprint{
		Nodes: []BlueprintNode{{UUID: "keep", Type: "switch", Config: map[string]any{"expression": "true"}}},
	}
	outsiderResult, err := l.Load(world, router, outsider)
	require.NoError(t, err)
	keepID := outsiderResult.EntitiesByUUID["keep"]

	idB := result0EntityB(t, router)
	world.AddEdge(keepID, ecs.Edge{Target: idB})

	second := Blueprint{
		WorkflowID: "wf-1",
		Nodes:      []BlueprintNode{{UUID: "c", Type: "switch", Config: map[string]any{"expression": "true"}}},
	}
	secondResult, err := l.Load(world, router, second)
	require.NoError(t, err)

	_, stillRoutedA := router.Lookup("a")
	require.False(t, stillRoutedA)
	require.Contains(t, secondResult.EntitiesByUUID, "c")

	_, stillRoutedKeep := router.Lookup("keep")
	require.True(t, stillRoutedKeep)

	require.Empty(t, world.Edges(keepID))
}

func result0EntityB(t *testing.T, router *Router) ecs.EntityID {
	t.Helper()
	id, ok := router.Lookup("b")
	require.True(t, ok)
	return id
}

func TestLoadResolvesIntegrationBridgeIntoHTTPRequest(t *testing.T) {
	world := ecs.NewWorld()
	router := NewRouter()
	integrations := registry.NewIntegrationRegistry()
	integrations.Set(registry.IntegrationDef{
		Name:           "widgets-api",
		BaseURL:        "https://api.widgets.test",
		DefaultHeaders: map[string]string{"X-Api-Version": "2"},
		ConnectionSlug: "widgets-conn",
	})

	var capturedConfig map[string]any
	nodes := registry.NewNodeRegistry()
	nodes.Register("http_request", func(config map[string]any) (registry.Worker, error) {
		capturedConfig = config
		return stubWorker{nodeType: "http_request"}, nil
	})

	l := NewLoader(nodes, integrations)

	bp := Blueprint{
		Nodes: []BlueprintNode{
			{UUID: "a", Type: "integration", Config: map[string]any{"integration": "widgets-api", "path": "/v1/items"}},
		},
	}

	_, err := l.Load(world, router, bp)
	require.NoError(t, err)
	require.Equal(t, "https://api.widgets.test/v1/items", capturedConfig["url"])
	require.Equal(t, "widgets-conn", capturedConfig["connection_slug"])

	headers, _ := capturedConfig["headers"].(map[string]any)
	require.Equal(t, "2", headers["X-Api-Version"])
}
