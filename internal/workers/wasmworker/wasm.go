// Package wasmworker implements the compute node: it executes a
// user-supplied WebAssembly module in a WASI sandbox once per ticket,
// piping the claimed payload to the module's stdin and capturing its
// stdout as the result. Grounded on
// original_source/.../systems/compute/wasm.rs's wasm_worker system,
// generalized from wasmtime's adapter-file-plus-fuel model to wazero's
// pure-Go WASI runtime — the same library
// _examples/teranos-QNTX/ats/wasm/engine.go uses to embed a WASM module
// and call into it from Go, avoiding a wasmtime/CGO dependency nothing
// else in the stack needs.
//
// wazero has no public fuel-accounting API equivalent to wasmtime's
// consume_fuel/set_fuel; execution is instead bounded by a context
// deadline combined with wazero.NewRuntimeConfig().WithCloseOnContextDone,
// the documented wazero idiom for interrupting a runaway module.
package wasmworker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/rakunlabs/ferroflux/internal/ecs"
	"github.com/rakunlabs/ferroflux/internal/workers"
)

// DefaultTimeoutSeconds bounds a compute node's execution when its
// config omits timeout_seconds.
const DefaultTimeoutSeconds = 2

// WasmConfig is a compute node's static configuration.
type WasmConfig struct {
	ModulePath     string // filesystem path to a compiled .wasm module
	Args           []string
	TimeoutSeconds int
	ResultKey      string // "" replaces the payload wholly with the module's stdout
}

func parseWasmConfig(raw map[string]any) (WasmConfig, error) {
	cfg := WasmConfig{TimeoutSeconds: DefaultTimeoutSeconds}

	cfg.ModulePath, _ = raw["module_path"].(string)
	if cfg.ModulePath == "" {
		return cfg, fmt.Errorf("wasmworker: 'module_path' is required")
	}

	if v, ok := raw["timeout_seconds"].(float64); ok && v > 0 {
		cfg.TimeoutSeconds = int(v)
	}
	cfg.ResultKey, _ = raw["result_key"].(string)

	if rawArgs, ok := raw["args"].([]any); ok {
		for _, a := range rawArgs {
			if s, ok := a.(string); ok {
				cfg.Args = append(cfg.Args, s)
			}
		}
	}

	return cfg, nil
}

// Worker runs compute nodes against a single shared wazero runtime,
// caching compiled modules by file path — the Go analog of the
// original's WasmRuntime.module_cache — so repeat executions skip
// recompilation.
type Worker struct {
	runtime  wazero.Runtime
	wasiStop func(ctx context.Context) error

	mu    sync.Mutex
	cache map[string]wazero.CompiledModule
}

// New constructs a Worker with its own wazero runtime and registers the
// WASI preview1 host imports once, shared across every module instance.
// Close must be called on shutdown to release the runtime.
func New(ctx context.Context) (*Worker, error) {
	runtimeCfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	runtime := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)

	wasiModule, err := wasi_snapshot_preview1.Instantiate(ctx, runtime)
	if err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("wasmworker: instantiate wasi: %w", err)
	}

	return &Worker{
		runtime:  runtime,
		wasiStop: wasiModule.Close,
		cache:    make(map[string]wazero.CompiledModule),
	}, nil
}

func (w *Worker) NodeType() string { return "compute" }

// Close releases the wazero runtime, its WASI host module, and every
// cached compiled module.
func (w *Worker) Close(ctx context.Context) error {
	if w.wasiStop != nil {
		_ = w.wasiStop(ctx)
	}
	return w.runtime.Close(ctx)
}

func (w *Worker) Tick(ctx context.Context, world *ecs.World, id ecs.EntityID, deps workers.Deps) error {
	inbox := world.Inbox(id)
	items := inbox.Drain()
	if len(items) == 0 {
		return nil
	}

	def, _ := world.NodeDefinition(id)
	var rawConfig map[string]any
	if def != nil {
		rawConfig = def.Config
	}
	nodeUUID := workers.NodeUUID(world, id)

	cfg, err := parseWasmConfig(rawConfig)
	if err != nil {
		w.reportAll(deps, nodeUUID, items, err)
		return nil
	}

	module, err := w.compiled(ctx, cfg.ModulePath)
	if err != nil {
		w.reportAll(deps, nodeUUID, items, err)
		return nil
	}

	for _, item := range items {
		if err := w.run(ctx, world, id, deps, item.Ticket, cfg, module); err != nil && deps.Bus != nil {
			deps.Bus.NodeError(nodeUUID, item.Ticket.TraceID, fmt.Errorf("compute: %w", err))
		}
	}

	return nil
}

func (w *Worker) reportAll(deps workers.Deps, nodeUUID string, items []ecs.InboxItem, err error) {
	if deps.Bus == nil {
		return
	}
	for _, item := range items {
		deps.Bus.NodeError(nodeUUID, item.Ticket.TraceID, err)
	}
}

func (w *Worker) compiled(ctx context.Context, path string) (wazero.CompiledModule, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if m, ok := w.cache[path]; ok {
		return m, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("wasmworker: read module %q: %w", path, err)
	}

	module, err := w.runtime.CompileModule(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("wasmworker: compile %q: %w", path, err)
	}

	w.cache[path] = module
	return module, nil
}

func (w *Worker) run(ctx context.Context, world *ecs.World, id ecs.EntityID, deps workers.Deps, ticket ecs.Ticket, cfg WasmConfig, module wazero.CompiledModule) error {
	blobID, err := workers.ParseBlobID(ticket.BlobID)
	if err != nil {
		return err
	}

	payload, err := deps.Blob.Claim(ctx, blobID)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.TimeoutSeconds)*time.Second)
	defer cancel()

	var stdout, stderr bytes.Buffer
	args := append([]string{"module"}, cfg.Args...)

	modCfg := wazero.NewModuleConfig().
		WithStdin(bytes.NewReader(payload)).
		WithStdout(&stdout).
		WithStderr(&stderr).
		WithArgs(args...)

	instance, err := w.runtime.InstantiateModule(runCtx, module, modCfg)
	if err != nil {
		return fmt.Errorf("instantiate: %w (stderr: %s)", err, stderr.String())
	}
	defer instance.Close(ctx)

	final, err := w.buildResult(stdout.Bytes(), payload, cfg.ResultKey)
	if err != nil {
		return err
	}

	newBlobID, err := deps.Blob.CheckInWithMetadata(ctx, final, ticket.Metadata)
	if err != nil {
		return fmt.Errorf("check in: %w", err)
	}

	world.Outbox(id).Push("", ecs.Ticket{BlobID: newBlobID.String(), TraceID: ticket.TraceID, Metadata: ticket.Metadata})
	return nil
}

func (w *Worker) buildResult(stdout, upstream []byte, resultKey string) ([]byte, error) {
	if resultKey == "" {
		return stdout, nil
	}

	var parsed any
	if len(stdout) > 0 {
		if err := json.Unmarshal(stdout, &parsed); err != nil {
			parsed = string(stdout)
		}
	}

	return workers.Merge(upstream, resultKey, parsed)
}
