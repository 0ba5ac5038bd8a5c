package loader

import (
	"context"

	"github.com/rakunlabs/ferroflux/internal/ecs"
	"github.com/rakunlabs/ferroflux/internal/registry"
	"github.com/rakunlabs/ferroflux/internal/secrets"
	"github.com/rakunlabs/ferroflux/internal/workers"
	"github.com/rakunlabs/ferroflux/internal/workers/agentworker"
	"github.com/rakunlabs/ferroflux/internal/workers/connectors"
	"github.com/rakunlabs/ferroflux/internal/workers/control"
	"github.com/rakunlabs/ferroflux/internal/workers/httpworker"
	"github.com/rakunlabs/ferroflux/internal/workers/manipulation"
	"github.com/rakunlabs/ferroflux/internal/workers/scriptworker"
	"github.com/rakunlabs/ferroflux/internal/workers/switchworker"
	"github.com/rakunlabs/ferroflux/internal/workers/wasmworker"
)

// BuiltinDeps bundles the shared collaborators the builtin node
// factories need at registration time. WasmWorker is constructed
// separately (it needs a context and a wazero runtime to set up) and
// may be nil, in which case the "compute" type is left unregistered.
type BuiltinDeps struct {
	SecretStore      secrets.Store
	CheckpointStore  control.CheckpointStore
	ProviderRegistry *agentworker.ProviderRegistry
	MaxConcurrency   int
	WasmWorker       *wasmworker.Worker
	Tenant           string
}

// agentCallWorker bridges the agent pipeline's three independent
// systems (Prep/Exec/Post) into the single registry.Worker-with-Tick
// shape every other node type satisfies, running them in the fixed
// Prep->Exec->Post order spec.md §4.6 requires every tick. Each phase
// already implements the same Tick(ctx, world, id, deps) signature; the
// only thing missing was something to sequence them per entity.
type agentCallWorker struct {
	prep *agentworker.PrepWorker
	exec *agentworker.ExecWorker
	post *agentworker.PostWorker
}

func (a *agentCallWorker) NodeType() string { return "agent_call" }

func (a *agentCallWorker) Tick(ctx context.Context, world *ecs.World, id ecs.EntityID, deps workers.Deps) error {
	if err := a.prep.Tick(ctx, world, id, deps); err != nil {
		return err
	}
	if err := a.exec.Tick(ctx, world, id, deps); err != nil {
		return err
	}
	return a.post.Tick(ctx, world, id, deps)
}

// RegisterBuiltins registers every node type named in SPEC_FULL.md's
// NodeWorkers list against nodes. Node types fall into two shapes:
//
//   - Per-node instances (http_request, switch, script, expression,
//     aggregator, splitter, stats, transform, window): the factory
//     constructs a fresh worker from that node's own config.
//   - Shared systems (rss_feed, xml_transform, ssh_command,
//     ftp_connector, compute, cron_trigger, checkpoint, agent_call):
//     one instance is constructed here and every factory call for that
//     type returns the same pointer; the shared instance re-reads its
//     config from ecs.NodeDefinition at Tick time, since many entities
//     route through it.
func RegisterBuiltins(nodes *registry.NodeRegistry, deps BuiltinDeps) {
	nodes.Register("http_request", func(config map[string]any) (registry.Worker, error) {
		return httpworker.New(config, deps.SecretStore, deps.Tenant)
	})

	nodes.Register("switch", func(config map[string]any) (registry.Worker, error) {
		return switchworker.New(config)
	})

	nodes.Register("script", func(config map[string]any) (registry.Worker, error) {
		return scriptworker.New(config)
	})

	nodes.Register("expression", func(config map[string]any) (registry.Worker, error) {
		return manipulation.NewExpression(config)
	})

	nodes.Register("aggregator", func(config map[string]any) (registry.Worker, error) {
		return manipulation.NewAggregator(config)
	})

	nodes.Register("splitter", func(config map[string]any) (registry.Worker, error) {
		return manipulation.NewSplitter(config)
	})

	nodes.Register("stats", func(config map[string]any) (registry.Worker, error) {
		return manipulation.NewStats(config)
	})

	nodes.Register("transform", func(config map[string]any) (registry.Worker, error) {
		return manipulation.NewTransform(config)
	})

	nodes.Register("window", func(config map[string]any) (registry.Worker, error) {
		return manipulation.NewWindow(config)
	})

	rss := connectors.NewRssWorker()
	nodes.Register("rss_feed", func(map[string]any) (registry.Worker, error) { return rss, nil })

	xmlWorker := connectors.NewXmlWorker()
	nodes.Register("xml_transform", func(map[string]any) (registry.Worker, error) { return xmlWorker, nil })

	ssh := connectors.NewSshWorker(deps.SecretStore, deps.Tenant)
	nodes.Register("ssh_command", func(map[string]any) (registry.Worker, error) { return ssh, nil })

	ftp := connectors.NewFtpWorker(deps.SecretStore, deps.Tenant)
	nodes.Register("ftp_connector", func(map[string]any) (registry.Worker, error) { return ftp, nil })

	if deps.WasmWorker != nil {
		nodes.Register("compute", func(map[string]any) (registry.Worker, error) { return deps.WasmWorker, nil })
	}

	cron := control.NewCronWorker()
	nodes.Register("cron_trigger", func(map[string]any) (registry.Worker, error) { return cron, nil })

	if deps.CheckpointStore != nil {
		checkpoint := control.NewCheckpointWorker(deps.CheckpointStore, deps.Tenant)
		nodes.Register("checkpoint", func(map[string]any) (registry.Worker, error) { return checkpoint, nil })
	}

	if deps.ProviderRegistry != nil {
		agent := &agentCallWorker{
			prep: agentworker.NewPrepWorker(deps.SecretStore, deps.Tenant),
			exec: agentworker.NewExecWorker(deps.ProviderRegistry, deps.MaxConcurrency),
			post: agentworker.NewPostWorker(),
		}
		nodes.Register("agent_call", func(map[string]any) (registry.Worker, error) { return agent, nil })
	}
}
