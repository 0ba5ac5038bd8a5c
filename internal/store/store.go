// Package store defines the persistence shapes FerroFlux's sqlite3
// backend (internal/store/sqlite3) fills in: workflow blueprints kept
// for restart survival, checkpoints (internal/workers/control's
// CheckpointStore), and secure connections (internal/secrets'
// ConnectionLookup). Grounded on the teacher's internal/store package,
// trimmed to spec.md §6's minimal schema — no generic StorerClose
// dispatcher over multiple backends, since only sqlite3 is carried.
package store

import "time"

// Workflow is a persisted blueprint: the raw YAML text last submitted
// via a LoadGraph command, kept so a restarted instance can respawn
// every previously loaded graph without an operator resubmitting it.
type Workflow struct {
	ID        string
	Tenant    string
	YAML      string
	CreatedAt time.Time
	UpdatedAt time.Time
}
