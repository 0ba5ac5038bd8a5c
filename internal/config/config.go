package config

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rakunlabs/alan"
	_ "github.com/rakunlabs/chu/loader/external/loaderconsul"
	_ "github.com/rakunlabs/chu/loader/external/loadervault"
	"github.com/rakunlabs/chu/loader/loaderenv"
	"github.com/rakunlabs/logi"

	"github.com/rakunlabs/chu"
	"github.com/rakunlabs/tell"
)

var Service = ""

// Config is FerroFlux's layered config surface, loaded via rakunlabs/chu
// the way the teacher's internal/config/config.go loads its own Config,
// with FERROFLUX_ prefixed env vars instead of the teacher's AT_ prefix.
// A handful of security- and secret-sensitive settings (master key,
// database datasource, the internal-IP SSRF bypass, the analytics
// driver) are deliberately read directly from their own named
// environment variables rather than through this struct — see
// internal/security, internal/secrets, internal/analytics, and
// cmd/ferroflux/main.go — so that rotating a secret never requires
// touching the YAML config file those settings would otherwise live in.
type Config struct {
	LogLevel string `cfg:"log_level,no_prefix" default:"info"`

	Server Server `cfg:"server"`
	Store  Store  `cfg:"store"`

	// GCInterval is how often the janitor pass runs blob-store garbage
	// collection (internal/app.App.GCInterval).
	GCInterval time.Duration `cfg:"gc_interval" default:"5m"`

	// DefinitionsDir is the directory of YAML node definitions loaded on
	// a ReloadDefinitions command (internal/apiworker); startup does not
	// read it.
	DefinitionsDir string `cfg:"definitions_dir" default:"./definitions"`

	Telemetry tell.Config `cfg:"telemetry,noprefix"`
}

type Server struct {
	Port string `cfg:"port" default:"8080"`
	Host string `cfg:"host"`

	// CommandQueueSize bounds the apiworker.Worker's inbound command
	// queue (apiworker.NewWorker's queueSize argument).
	CommandQueueSize int `cfg:"command_queue_size" default:"64"`

	// Alan, if set, enables distributed clustering via UDP peer
	// discovery: scheduler leader election and master-key-rotation
	// broadcast across multiple FerroFlux instances.
	Alan *alan.Config `cfg:"alan"`
}

type Store struct {
	SQLite StoreSQLite `cfg:"sqlite"`
}

type StoreSQLite struct {
	TablePrefix *string `cfg:"table_prefix"`

	// Datasource defaults to the DATABASE_URL environment variable
	// (read in cmd/ferroflux/main.go) when left empty here, matching
	// spec.md §6's named environment variables.
	Datasource string `cfg:"datasource"`

	Migrate Migrate `cfg:"migrate"`
}

type Migrate struct {
	Datasource string            `cfg:"datasource"`
	Schema     string            `cfg:"schema"`
	Table      string            `cfg:"table"`
	Values     map[string]string `cfg:"values"`
}

func Load(ctx context.Context, path string) (*Config, error) {
	var cfg Config
	if err := chu.Load(ctx, path, &cfg, chu.WithLoaderOption(loaderenv.New(loaderenv.WithPrefix("FERROFLUX_")))); err != nil {
		return nil, err
	}

	if err := logi.SetLogLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("set log level %s: %w", cfg.LogLevel, err)
	}

	slog.Info("loaded configuration", "config", chu.MarshalMap(cfg))

	return &cfg, nil
}
