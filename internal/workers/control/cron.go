package control

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/worldline-go/hardloop"

	"github.com/rakunlabs/ferroflux/internal/ecs"
	"github.com/rakunlabs/ferroflux/internal/workers"
)

// Frequency is the simple recurring cadence a cron_trigger node can
// declare instead of a raw cron expression. Grounded on scheduler.rs's
// Frequency enum (Once/Minutes/Hourly/Daily/Weekly).
type Frequency string

const (
	FrequencyOnce    Frequency = "once"
	FrequencyMinutes Frequency = "minutes"
	FrequencyHourly  Frequency = "hourly"
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
)

// CronConfig is a cron_trigger node's static configuration.
type CronConfig struct {
	Frequency Frequency
	Schedule  string // raw 5-field cron expression; when set, takes priority over Frequency
	StartAt   time.Time
}

func parseCronConfig(raw map[string]any) CronConfig {
	cfg := CronConfig{Frequency: FrequencyOnce}

	if f, ok := raw["frequency"].(string); ok && f != "" {
		cfg.Frequency = Frequency(f)
	}
	cfg.Schedule, _ = raw["schedule"].(string)

	if s, ok := raw["start_at"].(string); ok && s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			cfg.StartAt = t
		}
	}

	return cfg
}

// cronRunner is satisfied by hardloop's unexported cron-job type
// returned by hardloop.NewCron, matching the teacher's Scheduler.
type cronRunner interface {
	Start(ctx context.Context) error
	Stop()
}

// CronWorker advances per-node scheduling state and emits a trigger
// ticket when a node's schedule fires. Two firing models coexist:
//
//   - Frequency-based (no raw Schedule): NextRun is tracked directly on
//     the node's CronState component and advanced by a fixed step each
//     time it fires, mirroring scheduler.rs exactly.
//   - Schedule-based (raw cron expression set): a real hardloop.Cron
//     runner is started once per node and reports firings onto a shared
//     channel that Tick drains, generalizing the teacher's
//     workflow.Scheduler from "run the whole engine on a schedule" down
//     to "advance a single node".
type CronWorker struct {
	mu      sync.Mutex
	runners map[ecs.EntityID]cronRunner

	fired chan ecs.EntityID
}

// NewCronWorker constructs a CronWorker.
func NewCronWorker() *CronWorker {
	return &CronWorker{
		runners: make(map[ecs.EntityID]cronRunner),
		fired:   make(chan ecs.EntityID, 256),
	}
}

func (c *CronWorker) NodeType() string { return "cron_trigger" }

func (c *CronWorker) Tick(ctx context.Context, world *ecs.World, id ecs.EntityID, deps workers.Deps) error {
	c.drainFired(ctx, world, deps)

	def, _ := world.NodeDefinition(id)
	var rawConfig map[string]any
	if def != nil {
		rawConfig = def.Config
	}
	cfg := parseCronConfig(rawConfig)

	state, ok := world.CronState(id)
	if !ok {
		state = &ecs.CronState{}
		if cfg.Schedule != "" {
			if err := c.startManaged(id, cfg); err != nil {
				if deps.Bus != nil {
					deps.Bus.NodeError(workers.NodeUUID(world, id), "", fmt.Errorf("cron: start schedule: %w", err))
				}
				return nil
			}
			state.Managed = true
		} else {
			state.NextRun = cfg.StartAt
			if state.NextRun.IsZero() {
				state.NextRun = time.Now()
			}
		}
		world.SetCronState(id, state)
		return nil
	}

	if state.Managed || state.Done {
		return nil
	}

	if time.Now().Before(state.NextRun) {
		return nil
	}

	c.fire(ctx, world, id, deps)

	switch cfg.Frequency {
	case FrequencyMinutes:
		state.NextRun = state.NextRun.Add(time.Minute)
	case FrequencyHourly:
		state.NextRun = state.NextRun.Add(time.Hour)
	case FrequencyDaily:
		state.NextRun = state.NextRun.Add(24 * time.Hour)
	case FrequencyWeekly:
		state.NextRun = state.NextRun.Add(7 * 24 * time.Hour)
	default: // FrequencyOnce or unset
		state.Done = true
	}
	world.SetCronState(id, state)

	return nil
}

// startManaged starts a hardloop.Cron runner for id's raw schedule,
// whose Func only signals the shared fired channel; it never touches
// the World directly since hardloop runs it off the tick goroutine.
func (c *CronWorker) startManaged(id ecs.EntityID, cfg CronConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.runners[id]; ok {
		return nil
	}

	cron := hardloop.Cron{
		Name:  fmt.Sprintf("cron-trigger-%d", id),
		Specs: []string{cfg.Schedule},
		Func: func(context.Context) error {
			select {
			case c.fired <- id:
			default:
			}
			return nil
		},
	}

	job, err := hardloop.NewCron(cron)
	if err != nil {
		return err
	}

	if err := job.Start(context.Background()); err != nil {
		return err
	}

	c.runners[id] = job
	return nil
}

// Stop stops every hardloop runner this worker started. Nothing in this
// module calls it.
func (c *CronWorker) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, r := range c.runners {
		r.Stop()
		delete(c.runners, id)
	}
}

func (c *CronWorker) drainFired(ctx context.Context, world *ecs.World, deps workers.Deps) {
	for {
		select {
		case id := <-c.fired:
			c.fire(ctx, world, id, deps)
		default:
			return
		}
	}
}

func (c *CronWorker) fire(ctx context.Context, world *ecs.World, id ecs.EntityID, deps workers.Deps) {
	metadata := map[string]string{"trigger": "cron"}

	blobID, err := deps.Blob.CheckInWithMetadata(ctx, []byte("CRON_TRIGGER"), metadata)
	if err != nil {
		if deps.Bus != nil {
			deps.Bus.NodeError(workers.NodeUUID(world, id), "", fmt.Errorf("cron: check in: %w", err))
		}
		return
	}

	world.Outbox(id).Push("", ecs.Ticket{BlobID: blobID.String(), Metadata: metadata})

	if deps.Bus != nil {
		deps.Bus.NodeTelemetry(workers.NodeUUID(world, id), "", map[string]any{"action": "cron_fired"})
	}
}
