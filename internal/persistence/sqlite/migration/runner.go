package migration

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// ReopenFunc opens a fresh handle on the target database.
type ReopenFunc func(ctx context.Context) (*sqlx.DB, error)

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger. The default discards output.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// WithClock replaces the time source used for ledger timestamps and durations.
func WithClock(c clock.Clock) Option {
	return func(r *Runner) { r.clock = c }
}

// WithRunIDs replaces the generator of run IDs, which default to random UUIDs.
func WithRunIDs(next func() string) Option {
	return func(r *Runner) {
		r.newRunID = next
	}
}

// WithLedgerTable stores the ledger in table instead of schema_migrations.
func WithLedgerTable(table string) Option {
	return func(r *Runner) { r.ledgerTable = table }
}

// WithBackup snapshots the database file at dbPath before any run that
// changes the schema.
func WithBackup(s *BackupService, dbPath string) Option {
	return func(r *Runner) {
		r.backup = s
		r.dbPath = dbPath
	}
}

// WithLockFile makes every mutating run hold the advisory lock at path. See
// DefaultLockPath.
func WithLockFile(path string) Option {
	return func(r *Runner) { r.lockPath = path }
}

// WithReopen makes the runner close and reopen the database between units so
// the driver drops any schema it has cached. The ledger table is ensured again
// after every reopen.
func WithReopen(fn ReopenFunc) Option {
	return func(r *Runner) { r.reopen = fn }
}

// Runner applies and reverts migrations against one database. Calls on a
// Runner are serialized; separate processes are kept apart by the lock file
// enabled with WithLockFile.
type Runner struct {
	mu sync.Mutex

	db          *sqlx.DB
	discovery   *Discovery
	ledger      *Ledger
	ledgerTable string
	logger      *zap.Logger
	clock       clock.Clock
	backup      *BackupService
	dbPath      string
	lockPath    string
	reopen      ReopenFunc
	newRunID    func() string
}

// NewRunner returns a Runner for db using the migrations found by discovery.
func NewRunner(db *sqlx.DB, discovery *Discovery, opts ...Option) (*Runner, error) {
	r := &Runner{
		db:        db,
		discovery: discovery,
		logger:    zap.NewNop(),
		clock:     clock.New(),
		newRunID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}

	ledger, err := NewLedger(r.ledgerTable)
	if err != nil {
		return nil, err
	}
	r.ledger = ledger
	return r, nil
}

// DB returns the handle the runner currently uses. It differs from the one
// passed to NewRunner once the runner has reopened the database.
func (r *Runner) DB() *sqlx.DB {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.db
}

// Ledger returns the runner's ledger.
func (r *Runner) Ledger() *Ledger {
	return r.ledger
}

// Migrate applies every pending migration in ascending version order, each in
// its own transaction together with its ledger row. It stops at the first
// failure: the failing unit is not recorded, later units are not attempted and
// the returned result lists the units applied before it.
//
// For example, given:
// 001 create documents   | (applied)
// 002 create transitions | (pending)
// 003 add story points   | (pending)
//
// Migrate would apply 002 and then 003.
func (r *Runner) Migrate(ctx context.Context, opts MigrateOptions) (RunResult, error) {
	if opts.Target < 0 {
		return RunResult{}, fmt.Errorf("%w: target version must not be negative, got %d", ErrInvalidArgument, opts.Target)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	start := r.clock.Now()
	result := RunResult{RunID: r.newRunID(), DryRun: opts.DryRun}
	log := r.logger.With(zap.String("run_id", result.RunID))
	finish := func(err error) (RunResult, error) {
		result.Duration = r.clock.Since(start)
		result.Success = err == nil
		return result, err
	}

	if !opts.DryRun {
		unlock, err := r.lock()
		if err != nil {
			return finish(err)
		}
		defer unlock()
	}

	catalog, err := r.discovery.Load(ctx)
	if err != nil {
		return finish(err)
	}
	r.discovery.logSkipped(catalog)

	applied, err := r.appliedEntries(ctx)
	if err != nil {
		return finish(err)
	}

	pending := lo.Filter(catalog.Migrations, func(m Migration, _ int) bool {
		if _, ok := applied[m.Version]; ok {
			return false
		}
		return opts.Target == 0 || m.Version <= opts.Target
	})

	if blocker := blockingFailure(catalog.Failures, applied, pending, opts.Target); blocker != nil {
		log.Error("Pending migration failed to load, refusing to run past it",
			zap.Int("migration_version", blocker.Version),
			zap.Error(blocker))
		return finish(blocker)
	}

	if opts.DryRun {
		result.Records = lo.Map(pending, func(m Migration, _ int) Record {
			return Record{Version: m.Version, Name: m.Name, Direction: DirectionUp, DryRun: true}
		})
		log.Info("Planned migrations", zap.Int("migration_count", len(pending)))
		return finish(nil)
	}

	if len(pending) > 0 {
		if result.BackupPath, err = r.snapshot(ctx); err != nil {
			return finish(err)
		}
	}

	// the ledger table is the first schema change, so it follows the snapshot
	if err := r.ledger.EnsureTable(ctx, r.db); err != nil {
		return finish(err)
	}

	if len(pending) == 0 {
		log.Debug("No pending migrations", zap.Int("applied_count", len(applied)))
		return finish(nil)
	}

	log.Info("Bringing up migrations", zap.Int("migration_count", len(pending)))

	for i, m := range pending {
		if i > 0 && r.reopen != nil {
			if err := r.reopenDB(ctx); err != nil {
				return finish(&ApplyError{Version: m.Version, Name: m.Name, Succeeded: len(result.Records), Err: err})
			}
		}

		rec, err := r.apply(ctx, log, result.RunID, m)
		if err != nil {
			log.Error("Migration failed, stopping run",
				zap.Int("migration_version", m.Version),
				zap.String("migration_name", m.Name),
				zap.Int("applied_count", len(result.Records)),
				zap.Error(err))
			return finish(&ApplyError{Version: m.Version, Name: m.Name, Succeeded: len(result.Records), Err: err})
		}
		result.Records = append(result.Records, rec)
	}

	return finish(nil)
}

// Rollback reverts the steps most recently applied migrations, newest first.
// Asking for more steps than are applied reverts everything that is applied.
// A unit without a Down function stops the rollback at that unit; units
// reverted before it stay reverted.
//
// For example, given:
// 001 create documents   | (applied)
// 002 create transitions | (applied)
// 003 add story points   | (applied)
//
// Rollback(ctx, 2) would revert 003 and then 002.
func (r *Runner) Rollback(ctx context.Context, steps int) (RunResult, error) {
	if steps < 1 {
		return RunResult{}, fmt.Errorf("%w: rollback steps must be at least 1, got %d", ErrInvalidArgument, steps)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	start := r.clock.Now()
	result := RunResult{RunID: r.newRunID()}
	log := r.logger.With(zap.String("run_id", result.RunID))
	finish := func(err error) (RunResult, error) {
		result.Duration = r.clock.Since(start)
		result.Success = err == nil
		return result, err
	}

	unlock, err := r.lock()
	if err != nil {
		return finish(err)
	}
	defer unlock()

	applied, err := r.appliedEntries(ctx)
	if err != nil {
		return finish(err)
	}
	entries := lo.Values(applied)
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Version < entries[j].Version
	})
	if len(entries) == 0 {
		log.Debug("Nothing to roll back")
		return finish(nil)
	}
	if steps > len(entries) {
		steps = len(entries)
	}
	targets := lo.Reverse(entries[len(entries)-steps:])

	catalog, err := r.discovery.Discover(ctx)
	if err != nil {
		return finish(err)
	}
	byVersion := lo.KeyBy(catalog, func(m Migration) int { return m.Version })

	if result.BackupPath, err = r.snapshot(ctx); err != nil {
		return finish(err)
	}

	log.Info("Tearing down migrations", zap.Int("migration_count", len(targets)))

	for i, entry := range targets {
		if i > 0 && r.reopen != nil {
			if err := r.reopenDB(ctx); err != nil {
				return finish(&ReversalError{Version: entry.Version, Name: entry.Name, Reverted: len(result.Records), Err: err})
			}
		}

		m, ok := byVersion[entry.Version]
		if !ok {
			_, lookupErr := r.discovery.Lookup(ctx, entry.Version)
			return finish(&ReversalError{Version: entry.Version, Name: entry.Name, Reverted: len(result.Records), Err: lookupErr})
		}
		if !m.Reversible() {
			log.Error("Migration cannot be reverted, stopping rollback",
				zap.Int("migration_version", m.Version),
				zap.String("migration_name", m.Name))
			return finish(&ReversalError{Version: m.Version, Name: m.Name, Reverted: len(result.Records), Err: ErrReversalUnsupported})
		}

		rec, err := r.revert(ctx, log, m)
		if err != nil {
			log.Error("Revert failed, stopping rollback",
				zap.Int("migration_version", m.Version),
				zap.String("migration_name", m.Name),
				zap.Int("reverted_count", len(result.Records)),
				zap.Error(err))
			return finish(&ReversalError{Version: m.Version, Name: m.Name, Reverted: len(result.Records), Err: err})
		}
		result.Records = append(result.Records, rec)
	}

	return finish(nil)
}

// Status lists every known migration with its ledger state, ascending by
// version. Ledger versions no source provides are included and flagged as
// orphaned. It does not create the ledger table.
func (r *Runner) Status(ctx context.Context) ([]StatusEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	catalog, err := r.discovery.Discover(ctx)
	if err != nil {
		return nil, err
	}
	applied, err := r.appliedEntries(ctx)
	if err != nil {
		return nil, err
	}

	status := make([]StatusEntry, 0, len(catalog))
	known := make(map[int]bool, len(catalog))
	for _, m := range catalog {
		known[m.Version] = true
		entry := StatusEntry{Version: m.Version, Name: m.Name}
		if e, ok := applied[m.Version]; ok {
			appliedAt := e.AppliedAt
			entry.Applied = true
			entry.AppliedAt = &appliedAt
		}
		status = append(status, entry)
	}
	for version, e := range applied {
		if known[version] {
			continue
		}
		appliedAt := e.AppliedAt
		status = append(status, StatusEntry{
			Version:   version,
			Name:      e.Name,
			Applied:   true,
			AppliedAt: &appliedAt,
			Orphaned:  true,
		})
	}

	sort.Slice(status, func(i, j int) bool {
		return status[i].Version < status[j].Version
	})
	return status, nil
}

// CurrentVersion returns the highest applied version. ok is false when
// nothing is applied or the ledger table does not exist yet.
func (r *Runner) CurrentVersion(ctx context.Context) (version int, ok bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	exists, err := r.ledger.Exists(ctx, r.db)
	if err != nil || !exists {
		return 0, false, err
	}
	return r.ledger.CurrentVersion(ctx, r.db)
}

// Validate reports structural defects of the catalog and, when the ledger
// exists, applied versions no source provides. Checksums that changed after a
// migration was applied, and structural checks that disagree with the ledger,
// are reported as warnings and don't make the report invalid. Validate never
// writes to the database.
func (r *Runner) Validate(ctx context.Context) (ValidationReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	report, err := r.discovery.ValidateCatalog(ctx)
	if err != nil {
		return ValidationReport{}, err
	}

	catalog, err := r.discovery.Load(ctx)
	if err != nil {
		return ValidationReport{}, err
	}
	byVersion := lo.KeyBy(catalog.Migrations, func(m Migration) int { return m.Version })
	failed := make(map[int]bool)
	for _, f := range catalog.Failures {
		failed[f.Version] = true
	}

	applied, err := r.appliedEntries(ctx)
	if err != nil {
		return ValidationReport{}, err
	}
	versions := lo.Keys(applied)
	sort.Ints(versions)
	for _, v := range versions {
		e := applied[v]
		m, ok := byVersion[v]
		if !ok {
			if !failed[v] {
				report.Issues = append(report.Issues, fmt.Sprintf(
					"applied version %03d (%s) is recorded in %s but no source provides it",
					e.Version, e.Name, r.ledger.Table()))
			}
			continue
		}
		if e.Checksum != "" && m.Checksum != "" && e.Checksum != m.Checksum {
			report.Warnings = append(report.Warnings, fmt.Sprintf(
				"checksum of %03d_%s changed after it was applied", m.Version, m.Name))
		}
	}

	// the ledger stays authoritative; a disagreeing structural check is a warning
	for _, m := range catalog.Migrations {
		if m.Applied == nil {
			continue
		}
		present, err := m.IsApplied(ctx, r.db, r.ledger)
		if err != nil {
			return ValidationReport{}, err
		}
		_, recorded := applied[m.Version]
		switch {
		case present && !recorded:
			report.Warnings = append(report.Warnings, fmt.Sprintf(
				"schema of %03d_%s is present but %s records it as pending", m.Version, m.Name, r.ledger.Table()))
		case !present && recorded:
			report.Warnings = append(report.Warnings, fmt.Sprintf(
				"%03d_%s is recorded in %s but its schema is missing", m.Version, m.Name, r.ledger.Table()))
		}
	}

	report.IsValid = len(report.Issues) == 0
	return report, nil
}

// blockingFailure returns the lowest-versioned entry that failed to load, has
// no usable unit, is not applied and falls inside the run: at or below target,
// or below the highest pending version when there is no target.
func blockingFailure(failures []*DiscoveryError, applied map[int]Entry, pending []Migration, target int) *DiscoveryError {
	limit := target
	if limit == 0 {
		if len(pending) == 0 {
			return nil
		}
		limit = pending[len(pending)-1].Version - 1
	}
	usable := lo.Associate(pending, func(m Migration) (int, bool) { return m.Version, true })

	var lowest *DiscoveryError
	for _, f := range failures {
		if f.Version <= 0 || f.Version > limit || usable[f.Version] {
			continue
		}
		if _, ok := applied[f.Version]; ok {
			continue
		}
		if lowest == nil || f.Version < lowest.Version {
			lowest = f
		}
	}
	return lowest
}

func (r *Runner) apply(ctx context.Context, log *zap.Logger, runID string, m Migration) (Record, error) {
	started := r.clock.Now()
	logMigrationEvent(log, DirectionUp, m, "started")

	err := r.inUnitTx(ctx, func(tx *sqlx.Tx) error {
		if err := m.Up(ctx, tx); err != nil {
			return err
		}
		return r.ledger.RecordApplied(ctx, tx, Entry{
			Version:         m.Version,
			Name:            m.Name,
			AppliedAt:       r.clock.Now(),
			Checksum:        m.Checksum,
			ExecutionTimeMs: r.clock.Since(started).Milliseconds(),
			Notes:           "run " + runID,
		})
	})
	if err != nil {
		return Record{}, NewMigrationError(m.Version, m.Source, "apply", err)
	}

	rec := Record{Version: m.Version, Name: m.Name, Direction: DirectionUp, Duration: r.clock.Since(started)}
	logMigrationEvent(log, DirectionUp, m, "completed", zap.Duration("duration", rec.Duration))
	return rec, nil
}

func (r *Runner) revert(ctx context.Context, log *zap.Logger, m Migration) (Record, error) {
	started := r.clock.Now()
	logMigrationEvent(log, DirectionDown, m, "started")

	err := r.inUnitTx(ctx, func(tx *sqlx.Tx) error {
		if err := m.Down(ctx, tx); err != nil {
			return err
		}
		return r.ledger.RecordReverted(ctx, tx, m.Version)
	})
	if err != nil {
		return Record{}, NewMigrationError(m.Version, m.Source, "revert", err)
	}

	rec := Record{Version: m.Version, Name: m.Name, Direction: DirectionDown, Duration: r.clock.Since(started)}
	logMigrationEvent(log, DirectionDown, m, "completed", zap.Duration("duration", rec.Duration))
	return rec, nil
}

// inUnitTx runs fn in a transaction on a dedicated connection. Foreign key
// enforcement is switched off for the duration, as SQLite requires for table
// rebuilds, and the constraints are checked before commit.
func (r *Runner) inUnitTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	conn, err := r.db.Connx(ctx)
	if err != nil {
		return NewDatabaseError(0, "", "acquire connection", err)
	}
	defer conn.Close()

	var foreignKeys int
	if err := sqlx.GetContext(ctx, conn, &foreignKeys, "PRAGMA foreign_keys"); err != nil {
		return NewDatabaseError(0, "PRAGMA foreign_keys", "read foreign key setting", err)
	}
	if foreignKeys == 1 {
		if _, err := conn.ExecContext(ctx, "PRAGMA foreign_keys = OFF"); err != nil {
			return NewDatabaseError(0, "PRAGMA foreign_keys = OFF", "disable foreign keys", err)
		}
		defer func() {
			if _, err := conn.ExecContext(context.Background(), "PRAGMA foreign_keys = ON"); err != nil {
				r.logger.Error("Failed to re-enable foreign keys", zap.Error(err))
			}
		}()
	}

	tx, err := conn.BeginTxx(ctx, nil)
	if err != nil {
		return NewDatabaseError(0, "", "begin transaction", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			r.logger.Error("Failed to roll back transaction", zap.Error(rbErr))
		}
		return err
	}

	if foreignKeys == 1 {
		var violations int
		const check = "SELECT COUNT(*) FROM pragma_foreign_key_check"
		if err := sqlx.GetContext(ctx, tx, &violations, check); err != nil {
			tx.Rollback()
			return NewDatabaseError(0, check, "check foreign keys", err)
		}
		if violations > 0 {
			tx.Rollback()
			return fmt.Errorf("foreign key check found %d violations", violations)
		}
	}

	if err := tx.Commit(); err != nil {
		return NewDatabaseError(0, "", "commit transaction", err)
	}
	return nil
}

// appliedEntries reads the ledger, treating a missing ledger table as empty.
func (r *Runner) appliedEntries(ctx context.Context) (map[int]Entry, error) {
	exists, err := r.ledger.Exists(ctx, r.db)
	if err != nil {
		return nil, err
	}
	if !exists {
		return map[int]Entry{}, nil
	}
	return r.ledger.Applied(ctx, r.db)
}

func (r *Runner) lock() (func(), error) {
	if r.lockPath == "" {
		return func() {}, nil
	}
	l, err := acquireLock(r.lockPath)
	if err != nil {
		return nil, err
	}
	return func() {
		if err := l.release(); err != nil {
			r.logger.Error("Failed to release migration lock", zap.Error(err))
		}
	}, nil
}

func (r *Runner) snapshot(ctx context.Context) (string, error) {
	if r.backup == nil {
		return "", nil
	}
	// fold the WAL into the main file so the copy is complete
	if _, err := r.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		r.logger.Warn("WAL checkpoint before snapshot failed", zap.Error(err))
	}
	return r.backup.Snapshot(ctx, r.dbPath)
}

func (r *Runner) reopenDB(ctx context.Context) error {
	if err := r.db.Close(); err != nil {
		r.logger.Warn("Closing database before reopen failed", zap.Error(err))
	}
	db, err := r.reopen(ctx)
	if err != nil {
		return fmt.Errorf("reopen database: %w", err)
	}
	r.db = db
	return r.ledger.EnsureTable(ctx, r.db)
}

func logMigrationEvent(log *zap.Logger, direction Direction, m Migration, event string, fields ...zap.Field) {
	log.Info(
		"Executing migration",
		append([]zap.Field{
			zap.Int("migration_version", m.Version),
			zap.String("migration_name", m.Name),
			zap.String("direction", string(direction)),
			zap.String("migration_event", event),
		}, fields...)...,
	)
}
