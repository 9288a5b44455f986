package migration

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// Conn is the database handle a migration runs against. During a run it is
// always the transaction that also carries the ledger write for the unit.
type Conn = sqlx.ExtContext

// MigrateFunc applies or reverts a schema change.
type MigrateFunc func(ctx context.Context, conn Conn) error

// AppliedFunc reports whether a schema change is present by inspecting the
// live schema.
type AppliedFunc func(ctx context.Context, conn Conn) (bool, error)

// Migration represents one versioned schema change
type Migration struct {
	Version  int    // Positive, unique version number
	Name     string // Slug describing the change
	Source   string // File path or registry location the unit was loaded from
	Checksum string // Optional content hash recorded in the ledger

	Up      MigrateFunc // Required
	Down    MigrateFunc // Nil when the change cannot be reverted
	Applied AppliedFunc // Optional structural self-check
}

// Reversible reports whether the migration can be reverted.
func (m Migration) Reversible() bool {
	return m.Down != nil
}

// IsApplied reports whether the migration is applied. Unless the unit carries
// its own structural check, the answer comes from the ledger.
func (m Migration) IsApplied(ctx context.Context, conn Conn, ledger *Ledger) (bool, error) {
	if m.Applied != nil {
		return m.Applied(ctx, conn)
	}
	applied, err := ledger.Applied(ctx, conn)
	if err != nil {
		return false, err
	}
	_, ok := applied[m.Version]
	return ok, nil
}

// Entry is a row of the ledger table.
type Entry struct {
	Version         int       `db:"version"`
	Name            string    `db:"name"`
	AppliedAt       time.Time `db:"-"`
	Checksum        string    `db:"checksum"`
	ExecutionTimeMs int64     `db:"execution_time_ms"`
	Notes           string    `db:"notes"`
}

// Direction of a migration step.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// Record describes one unit applied or reverted during a run.
type Record struct {
	Version   int
	Name      string
	Direction Direction
	Duration  time.Duration
	DryRun    bool
}

// RunResult is returned by Migrate and Rollback. On failure it still lists the
// units that completed before the failing one.
type RunResult struct {
	RunID      string
	Records    []Record
	Duration   time.Duration
	Success    bool
	DryRun     bool
	BackupPath string
}

// StatusEntry merges a catalog unit with its ledger state.
type StatusEntry struct {
	Version   int
	Name      string
	Applied   bool
	AppliedAt *time.Time
	// Orphaned is set for ledger versions no source knows about.
	Orphaned bool
}

// ValidationReport lists structural defects found in the catalog.
type ValidationReport struct {
	IsValid bool
	Issues  []string
	// Warnings are advisory findings that do not affect IsValid, such as a
	// checksum that drifted after the migration was applied.
	Warnings []string
}

// MigrateOptions controls a Migrate call.
type MigrateOptions struct {
	// Target limits the run to versions <= Target. Zero means no limit.
	Target int
	// DryRun computes the plan without touching the database.
	DryRun bool
}
