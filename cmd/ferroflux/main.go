package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/rakunlabs/into"
	"github.com/rakunlabs/logi"

	"github.com/rakunlabs/ferroflux/internal/analytics"
	"github.com/rakunlabs/ferroflux/internal/apiworker"
	"github.com/rakunlabs/ferroflux/internal/app"
	"github.com/rakunlabs/ferroflux/internal/blob"
	"github.com/rakunlabs/ferroflux/internal/cluster"
	"github.com/rakunlabs/ferroflux/internal/config"
	"github.com/rakunlabs/ferroflux/internal/crypto"
	"github.com/rakunlabs/ferroflux/internal/ecs"
	"github.com/rakunlabs/ferroflux/internal/events"
	"github.com/rakunlabs/ferroflux/internal/loader"
	"github.com/rakunlabs/ferroflux/internal/pipeline"
	"github.com/rakunlabs/ferroflux/internal/pipeline/tools"
	"github.com/rakunlabs/ferroflux/internal/registry"
	"github.com/rakunlabs/ferroflux/internal/secrets"
	"github.com/rakunlabs/ferroflux/internal/service/llm/openai"
	"github.com/rakunlabs/ferroflux/internal/store/sqlite3"
	"github.com/rakunlabs/ferroflux/internal/transport"
	"github.com/rakunlabs/ferroflux/internal/workers/agentworker"
	"github.com/rakunlabs/ferroflux/internal/workers/wasmworker"
)

var (
	name    = "ferroflux"
	version = "v0.0.0"
)

func main() {
	config.Service = name + "/" + version

	into.Init(run,
		into.WithLogger(logi.InitializeLog(logi.WithCaller(false))),
		into.WithMsgf("%s [%s]", name, version),
	)
}

// ///////////////////////////////////////////////////////////////////

// run assembles every collaborator SPEC_FULL.md names and drives the
// tick loop until ctx is cancelled. Grounded on cmd/at/main.go's
// into.Init(run, ...) entrypoint shape, replacing the teacher's
// conversational REPL body with FerroFlux's scheduler bootstrap.
func run(ctx context.Context) error {
	cfg, err := config.Load(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	world := ecs.NewWorld()
	bus := events.NewBus()
	blobStore := blob.New(blob.NewMemoryProvider())
	topology := transport.NewTopology()
	workerTable := make(map[ecs.EntityID]registry.Worker)

	masterKey := resolveMasterKey()

	storeDatasource := cfg.Store.SQLite.Datasource
	if storeDatasource == "" {
		storeDatasource = os.Getenv("DATABASE_URL")
	}
	sqliteCfg := cfg.Store.SQLite
	sqliteCfg.Datasource = storeDatasource

	db, err := sqlite3.New(ctx, &sqliteCfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer db.Close()

	var connLookup secrets.Store = secrets.NewEnvStore()
	if masterKey != nil {
		connLookup = secrets.NewDatabaseStore(db, masterKey)
	}

	nodes := registry.NewNodeRegistry()
	definitions := registry.NewDefinitionRegistry()
	integrations := registry.NewIntegrationRegistry()

	wasm, err := wasmworker.New(ctx)
	if err != nil {
		slog.Warn("wasm worker unavailable, \"compute\" node type disabled", "error", err)
	}

	providerRegistry := newProviderRegistry()

	registerCore := func(nodes *registry.NodeRegistry) {
		loader.RegisterBuiltins(nodes, loader.BuiltinDeps{
			SecretStore:      connLookup,
			CheckpointStore:  db,
			ProviderRegistry: providerRegistry,
			MaxConcurrency:   8,
			WasmWorker:       wasm,
			Tenant:           "default",
		})
	}
	registerCore(nodes)

	router := loader.NewRouter()
	graphLoader := loader.NewLoader(nodes, integrations)

	toolRegistry := tools.NewDefaultRegistry(http.DefaultClient)
	memory := tools.NewMemoryStore()
	engine := pipeline.NewEngine(toolRegistry, memory)

	apiDeps := apiworker.Deps{
		World:           world,
		Router:          router,
		Loader:          graphLoader,
		Blob:            blobStore,
		Bus:             bus,
		Topology:        topology,
		Workers:         workerTable,
		Nodes:           nodes,
		Definitions:     definitions,
		Engine:          engine,
		CheckpointStore: db,
		WorkflowStore:   db,
		DefinitionsDir:  cfg.DefinitionsDir,
		RegisterCore:    registerCore,
	}
	apiWorker := apiworker.NewWorker(apiDeps, cfg.Server.CommandQueueSize)
	apiServer := apiworker.NewServer(apiWorker, "default")

	if err := reloadPersistedWorkflows(ctx, db, apiWorker); err != nil {
		slog.Error("failed to reload persisted workflows", "error", err)
	}

	clust, err := cluster.New(cfg.Server.Alan)
	if err != nil {
		return fmt.Errorf("failed to create cluster: %w", err)
	}
	if clust != nil {
		go func() {
			if err := clust.Start(ctx, func([]byte) {}); err != nil && ctx.Err() == nil {
				slog.Error("cluster stopped unexpectedly", "error", err)
			}
		}()
		defer clust.Stop() //nolint:errcheck
	}

	runAnalytics(ctx)

	a := app.New(world, workerTable, topology, apiWorker, blobStore, bus, cfg.GCInterval)
	a.Cluster = clust

	httpSrv := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.Port,
		Handler: apiServer,
	}
	go func() {
		slog.Info("listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server stopped", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpSrv.Shutdown(shutdownCtx) //nolint:errcheck
	}()

	a.Run(ctx)

	return nil
}

// resolveMasterKey derives the database-backed secure-connection
// resolver's key from FERROFLUX_MASTER_KEY per spec.md §9. An unset
// passphrase, or one crypto.DeriveKey rejects, falls back to nil, which run interprets as
// "use EnvStore instead", matching the reference implementation's
// "no master key configured" behavior.
func resolveMasterKey() []byte {
	passphrase := os.Getenv("FERROFLUX_MASTER_KEY")
	if passphrase == "" {
		return nil
	}

	key, err := crypto.DeriveKey(passphrase)
	if err != nil {
		slog.Error("failed to derive master key, falling back to environment secrets", "error", err)
		return nil
	}
	return key
}

// newProviderRegistry wires the agent pipeline's LLM provider, if
// FERROFLUX_OPENAI_API_KEY is configured. spec.md lists concrete
// per-vendor bindings as a non-goal beyond the abstraction itself, so
// only OpenAI (the teacher's kept, most-standard binding) is wired; an
// unconfigured key leaves "agent_call" unregistered (see
// loader.RegisterBuiltins's ProviderRegistry nil check).
func newProviderRegistry() *agentworker.ProviderRegistry {
	apiKey := os.Getenv("FERROFLUX_OPENAI_API_KEY")
	if apiKey == "" {
		return nil
	}

	model := os.Getenv("FERROFLUX_OPENAI_MODEL")
	if model == "" {
		model = "gpt-4o-mini"
	}

	client, err := openai.New(apiKey, model, "", "", false, nil)
	if err != nil {
		slog.Error("failed to create openai provider, agent_call disabled", "error", err)
		return nil
	}

	return agentworker.NewProviderRegistry(map[string]agentworker.Provider{
		"openai": agentworker.NewOpenAIProvider(client),
	})
}

// runAnalytics starts the analytics batcher against ANALYTICS_DRIVER's
// backend (spec.md §10): "file" appends newline-delimited JSON to
// ANALYTICS_FILE_PATH, anything else is a no-op.
func runAnalytics(ctx context.Context) {
	var backend analytics.Backend = analytics.NoopBackend{}

	if os.Getenv("ANALYTICS_DRIVER") == "file" {
		path := os.Getenv("ANALYTICS_FILE_PATH")
		if path == "" {
			path = "./analytics.ndjson"
		}
		fb, err := analytics.NewFileBackend(path)
		if err != nil {
			slog.Error("failed to open analytics file backend, falling back to noop", "error", err)
		} else {
			backend = fb
		}
	}

	batcher := analytics.New(backend)
	go batcher.Run(ctx)
}

// reloadPersistedWorkflows respawns every blueprint saved by a prior
// LoadGraph command, so a restarted instance doesn't lose previously
// deployed graphs. Submitted through the same command queue every
// other LoadGraph goes through, applied on the tick loop's first Drain.
func reloadPersistedWorkflows(ctx context.Context, db *sqlite3.SQLite, worker *apiworker.Worker) error {
	workflows, err := db.ListWorkflows(ctx)
	if err != nil {
		return fmt.Errorf("list persisted workflows: %w", err)
	}

	for _, wf := range workflows {
		slog.Info("respawning persisted workflow", "workflow_id", wf.ID)
		worker.Submit(apiworker.Command{Kind: apiworker.KindLoadGraph, Tenant: wf.Tenant, YAML: wf.YAML})
	}

	return nil
}
