// Package app implements the scheduler tick loop described in
// SPEC_FULL.md §4.15: a single-threaded cooperative scheduler that
// drives the ECS world through a fixed per-tick system order. Grounded
// on original_source/.../app.rs's AppBuilder/App (the Rust bevy_ecs
// Schedule the original runs each tick), adapted from a bevy Schedule
// of statically-registered systems to a plain Go loop over a live
// entity->Worker table, since Go has no compile-time ECS query
// dispatch to lean on.
package app

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"github.com/rakunlabs/ferroflux/internal/apiworker"
	"github.com/rakunlabs/ferroflux/internal/blob"
	"github.com/rakunlabs/ferroflux/internal/cluster"
	"github.com/rakunlabs/ferroflux/internal/ecs"
	"github.com/rakunlabs/ferroflux/internal/events"
	"github.com/rakunlabs/ferroflux/internal/registry"
	"github.com/rakunlabs/ferroflux/internal/transport"
	"github.com/rakunlabs/ferroflux/internal/workers"
)

// lockRetryInterval is how long runWithLeaderElection waits after a
// failed LockScheduler attempt before retrying, matching the teacher's
// scheduler.go runLockLoop.
const lockRetryInterval = 5 * time.Second

// idleSleep is the fixed quantum the loop sleeps for when a tick did no
// work, matching spec.md §4.15's "~10ms" idle-sleep figure.
const idleSleep = 10 * time.Millisecond

// sourceKinds are the node types spec.md §4.15 ticks before the rest of
// the workers each cycle ("source/producer workers (cron, RSS)") —
// they originate tickets rather than only reacting to them.
var sourceKinds = map[string]bool{
	"cron_trigger": true,
	"rss_feed":     true,
}

// App owns the ECS world and every live collaborator the tick loop
// touches. Workers is the same map apiworker.Deps.Workers points at —
// LoadGraph commands merge newly spawned entities' workers into it
// directly, so App never needs its own copy-and-swap step.
type App struct {
	World     *ecs.World
	Workers   map[ecs.EntityID]registry.Worker
	Topology  *transport.Topology
	Transport *transport.Worker
	APIWorker *apiworker.Worker
	Blob      *blob.Store
	Bus       *events.Bus

	// GCInterval is how often RunGarbageCollection runs, the janitor
	// pass at the end of each tick. Zero disables it.
	GCInterval time.Duration

	// Cluster, if set, gates Run behind scheduler leader election so
	// exactly one FerroFlux instance ticks a given store at a time. Nil
	// means single-instance mode: Run starts ticking immediately.
	Cluster *cluster.Cluster

	deps   workers.Deps
	lastGC time.Time
}

// New wires an App around its collaborators. world, bus, and blobStore
// are required; workerTable should be the same map passed as
// apiworker.Deps.Workers so newly loaded graphs become live immediately.
func New(world *ecs.World, workerTable map[ecs.EntityID]registry.Worker, topology *transport.Topology, apiWorker *apiworker.Worker, blobStore *blob.Store, bus *events.Bus, gcInterval time.Duration) *App {
	return &App{
		World:      world,
		Workers:    workerTable,
		Topology:   topology,
		Transport:  transport.New(topology, bus),
		APIWorker:  apiWorker,
		Blob:       blobStore,
		Bus:        bus,
		GCInterval: gcInterval,
		deps:       workers.Deps{Blob: blobStore, Bus: bus},
	}
}

// Update runs exactly one tick: topology maintenance, API command
// drain, source/producer workers, every other worker ("compute"),
// transport delivery, then the janitor pass. It returns whether any
// work happened, so Run's idle-sleep can skip ticks that did nothing.
func (a *App) Update(ctx context.Context) bool {
	workDone := false

	a.Topology.Rebuild(a.World)

	if a.APIWorker != nil && a.APIWorker.Drain(ctx) > 0 {
		workDone = true
	}

	if a.tickWorkers(ctx, true) {
		workDone = true
	}
	if a.tickWorkers(ctx, false) {
		workDone = true
	}

	if a.Transport.Tick(a.World) {
		workDone = true
	}

	a.janitor(ctx)

	return workDone
}

// tickWorkers runs every live worker whose NodeType is (or is not, per
// wantSource) a source kind, dropping table entries for entities the
// world has since despawned (loader cleanup removes the entity but has
// no reach into this scheduler-owned table). A tick counts as "work
// done" if the entity had anything queued to process, or produced
// anything to process next — Inbox/Outbox lengths are read directly
// (non-destructively; Drain is reserved for the worker/transport calls
// that actually consume the queue) rather than by probing with Drain.
func (a *App) tickWorkers(ctx context.Context, wantSource bool) bool {
	workDone := false

	for id, worker := range a.Workers {
		if !a.World.Alive(id) {
			delete(a.Workers, id)
			continue
		}
		if sourceKinds[worker.NodeType()] != wantSource {
			continue
		}

		ticker, ok := worker.(workers.Tick)
		if !ok {
			continue
		}

		if len(a.World.Inbox(id).Items) > 0 {
			workDone = true
		}

		if err := ticker.Tick(ctx, a.World, id, a.deps); err != nil && a.Bus != nil {
			a.Bus.NodeError(workers.NodeUUID(a.World, id), "", err)
		}

		if len(a.World.Outbox(id).Items) > 0 {
			workDone = true
		}
	}

	return workDone
}

// janitor runs the blob-store GC pass on a coarse timer, per spec.md
// §4.15's end-of-tick janitor step.
func (a *App) janitor(ctx context.Context) {
	if a.GCInterval <= 0 || a.Blob == nil {
		return
	}
	if a.lastGC.IsZero() {
		a.lastGC = time.Now()
		return
	}
	if time.Since(a.lastGC) < a.GCInterval {
		return
	}
	a.lastGC = time.Now()
	a.Blob.RunGarbageCollection(ctx)
}

// Run drives Update in a loop until ctx is cancelled. If Cluster is set,
// it first blocks behind scheduler leader election (runWithLeaderElection);
// otherwise it ticks immediately in single-instance mode.
func (a *App) Run(ctx context.Context) {
	if a.Cluster != nil {
		a.runWithLeaderElection(ctx)
		return
	}
	a.tickLoop(ctx)
}

// runWithLeaderElection blocks on Cluster.LockScheduler, retrying on a
// fixed interval on failure, and ticks only while holding the lock.
// Grounded on the teacher's scheduler.go runLockLoop: LockScheduler
// blocks until acquired (or ctx is cancelled), so acquiring it once
// means this instance is the sole leader until shutdown — there is no
// separate signal for losing the lock mid-run.
func (a *App) runWithLeaderElection(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := a.Cluster.LockScheduler(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("app: failed to acquire scheduler leader lock, retrying", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(lockRetryInterval):
			}
			continue
		}

		slog.Info("app: acquired scheduler leader lock")
		a.tickLoop(ctx)

		slog.Info("app: releasing scheduler leader lock")
		if err := a.Cluster.UnlockScheduler(); err != nil {
			slog.Error("app: failed to release scheduler leader lock", "error", err)
		}
		return
	}
}

// tickLoop drives Update until ctx is cancelled, yielding to the Go
// scheduler every tick (the analog of the original's
// tokio::task::yield_now().await) and sleeping idleSleep whenever a
// tick did no work.
func (a *App) tickLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		workDone := a.Update(ctx)

		runtime.Gosched()

		if !workDone {
			select {
			case <-ctx.Done():
				return
			case <-time.After(idleSleep):
			}
		}
	}
}
