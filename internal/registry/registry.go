// Package registry holds the process-wide catalogs the graph loader and
// pipeline executor consult when spawning node workers: a NodeFactory
// registry (grounded on the teacher's workflow.RegisterNodeType/
// nodeFactories pattern in internal/service/workflow/node.go), a
// NodeDefinition catalog, and an IntegrationRegistry for the
// integration-bridge loader factory described in SPEC_FULL.md §4.13.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Worker is implemented by every concrete node worker package
// (httpworker, agentworker, switchworker, ...). NodeFactory constructs
// one from a raw node configuration blob.
type Worker interface {
	NodeType() string
}

// NodeFactory builds a Worker from a node's raw configuration (the
// "Data" map carried on a blueprint node).
type NodeFactory func(config map[string]any) (Worker, error)

// NodeRegistry is a case-insensitive catalog of factories keyed by node
// type string, matching the teacher's init()-time RegisterNodeType
// convention (internal/service/workflow/nodes/register.go) generalized
// from a package-level global to an instantiable registry so tests can
// run with an isolated catalog.
type NodeRegistry struct {
	mu        sync.RWMutex
	factories map[string]NodeFactory
}

// NewNodeRegistry returns an empty NodeRegistry.
func NewNodeRegistry() *NodeRegistry {
	return &NodeRegistry{factories: make(map[string]NodeFactory)}
}

// Register adds or replaces the factory for nodeType (case-insensitive).
func (r *NodeRegistry) Register(nodeType string, factory NodeFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[strings.ToLower(nodeType)] = factory
}

// Lookup returns the factory registered for nodeType, if any.
func (r *NodeRegistry) Lookup(nodeType string) (NodeFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[strings.ToLower(nodeType)]
	return f, ok
}

// Build constructs a Worker for nodeType, returning an error naming the
// unknown type if no factory is registered.
func (r *NodeRegistry) Build(nodeType string, config map[string]any) (Worker, error) {
	factory, ok := r.Lookup(nodeType)
	if !ok {
		return nil, fmt.Errorf("registry: unknown node type %q", nodeType)
	}
	return factory(config)
}

// Clear removes every registered factory, used by ReloadDefinitions
// before re-registering the core factories plus one per YAML
// definition.
func (r *NodeRegistry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories = make(map[string]NodeFactory)
}

// RegisteredTypes returns every registered node type, sorted.
func (r *NodeRegistry) RegisteredTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.factories))
	for t := range r.factories {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// NodeDefinition is a catalog entry describing a node type's schema for
// UI/validation purposes: required config keys and the
// output ports it can emit on. Populated by ReloadDefinitions.
type NodeDefinition struct {
	Type         string
	RequiredKeys []string
	OutputPorts  []string
}

// DefinitionRegistry holds the NodeDefinition catalog, reloadable at
// runtime via the API command worker's ReloadDefinitions command.
type DefinitionRegistry struct {
	mu    sync.RWMutex
	defs  map[string]NodeDefinition
}

// NewDefinitionRegistry returns an empty DefinitionRegistry.
func NewDefinitionRegistry() *DefinitionRegistry {
	return &DefinitionRegistry{defs: make(map[string]NodeDefinition)}
}

// Reload atomically replaces the entire catalog.
func (r *DefinitionRegistry) Reload(defs []NodeDefinition) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.defs = make(map[string]NodeDefinition, len(defs))
	for _, d := range defs {
		r.defs[strings.ToLower(d.Type)] = d
	}
}

// Get returns the NodeDefinition for nodeType, if cataloged.
func (r *DefinitionRegistry) Get(nodeType string) (NodeDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[strings.ToLower(nodeType)]
	return d, ok
}

// IntegrationDef is a generic integration the "integration" bridge
// factory can instantiate into an http-backed node: a base URL, default
// headers, and an auth config reference shared across many graph nodes
// without repeating the connection detail per node. Grounded on
// original_source/.../integrations/registry.rs.
type IntegrationDef struct {
	Name          string
	BaseURL       string
	DefaultHeaders map[string]string
	ConnectionSlug string // resolved against internal/secrets at node build time
}

// IntegrationRegistry catalogs IntegrationDefs by name.
type IntegrationRegistry struct {
	mu    sync.RWMutex
	items map[string]IntegrationDef
}

// NewIntegrationRegistry returns an empty IntegrationRegistry.
func NewIntegrationRegistry() *IntegrationRegistry {
	return &IntegrationRegistry{items: make(map[string]IntegrationDef)}
}

// Set registers or replaces an integration definition.
func (r *IntegrationRegistry) Set(def IntegrationDef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[def.Name] = def
}

// Get returns the IntegrationDef for name, if registered.
func (r *IntegrationRegistry) Get(name string) (IntegrationDef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.items[name]
	return d, ok
}
