package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-isatty"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/schema-migrator/internal/config"
	"github.com/example/schema-migrator/internal/logging"
	"github.com/example/schema-migrator/internal/persistence/sqlite"
	"github.com/example/schema-migrator/internal/persistence/sqlite/migration"
	_ "github.com/example/schema-migrator/internal/persistence/sqlite/migrations"
)

// app carries the state shared by every subcommand once flags are parsed.
type app struct {
	ctx    context.Context
	in     io.Reader
	out    io.Writer
	errOut io.Writer

	cfg config.Config
}

func newRootCommand(ctx context.Context, in io.Reader, out, errOut io.Writer) *cobra.Command {
	a := &app{ctx: ctx, in: in, out: out, errOut: errOut}

	cmd := &cobra.Command{
		Use:   "schemamigrate",
		Short: "Evolve the schema of an embedded SQLite database",
		Long: `schemamigrate applies, reverts and inspects versioned schema migrations of a
SQLite database. Migrations come from the compiled track selected with --track
and, optionally, from {version}_{slug}.sql files in --migrations-dir.

Every flag can also be set with an environment variable such as
SCHEMA_MIGRATE_DB, or in the YAML file given by --config.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}
	cmd.SetIn(in)
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(
		a.newMigrateCommand(),
		a.newRollbackCommand(),
		a.newStatusCommand(),
		a.newValidateCommand(),
		a.newCreateCommand(),
	)
	return cmd
}

func (a *app) setup(cmd *cobra.Command) error {
	v, err := config.NewViper(cmd.Flags())
	if err != nil {
		return err
	}
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	logger, err := logging.New(a.errOut, cfg.Logging())
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.ctx = logging.NewContextWithLogger(a.ctx, logger)
	return nil
}

func (a *app) discovery() (*migration.Discovery, error) {
	logger := logging.FromContext(a.ctx)
	var sources []migration.Source
	if a.cfg.Track != "" {
		if !lo.Contains(migration.DefaultRegistry.Tracks(), a.cfg.Track) {
			return nil, fmt.Errorf("unknown migration track %q, available: %v", a.cfg.Track, migration.DefaultRegistry.Tracks())
		}
		sources = append(sources, migration.DefaultRegistry.Source(a.cfg.Track))
	}
	if a.cfg.MigrationsDir != "" {
		sources = append(sources, migration.NewFileSource(os.DirFS(a.cfg.MigrationsDir), "."))
	}
	return migration.NewDiscovery(logger.With(zap.String("service", "discovery")), sources...), nil
}

// openRunner opens the database and returns a runner over it. The returned
// func closes whichever handle the runner ends up holding.
func (a *app) openRunner() (*migration.Runner, func(), error) {
	logger := logging.FromContext(a.ctx)
	discovery, err := a.discovery()
	if err != nil {
		return nil, nil, err
	}

	dbConfig := sqlite.DefaultConfig(a.cfg.DatabasePath)
	dbConfig.BusyTimeout = a.cfg.BusyTimeout
	dbLogger := logger.With(zap.String("service", "sqlite"))

	db, err := sqlite.Open(a.ctx, dbConfig, dbLogger)
	if err != nil {
		return nil, nil, err
	}

	opts := []migration.Option{
		migration.WithLogger(logger.With(zap.String("service", "migrator"))),
		migration.WithLedgerTable(a.cfg.LedgerTable),
		migration.WithReopen(func(ctx context.Context) (*sqlx.DB, error) {
			return sqlite.Open(ctx, dbConfig, dbLogger)
		}),
	}
	if !a.cfg.NoBackup && !dbConfig.IsMemory() {
		backups := migration.NewBackupService(a.cfg.BackupDir, a.cfg.BackupKeep, logger.With(zap.String("service", "backup")))
		opts = append(opts, migration.WithBackup(backups, a.cfg.DatabasePath))
	}
	if !a.cfg.NoLock {
		lockPath := a.cfg.LockFile
		if lockPath == "" {
			lockPath = migration.DefaultLockPath(a.cfg.DatabasePath)
		}
		opts = append(opts, migration.WithLockFile(lockPath))
	}

	return a.newRunner(db, discovery, opts...)
}

// openReadOnlyRunner opens the database for inspection only. The file is
// never created or modified; a database that doesn't exist yet is inspected
// as an empty in-memory one, so every migration reports as pending.
func (a *app) openReadOnlyRunner() (*migration.Runner, func(), error) {
	logger := logging.FromContext(a.ctx)
	discovery, err := a.discovery()
	if err != nil {
		return nil, nil, err
	}

	dbConfig := sqlite.DefaultConfig(a.cfg.DatabasePath)
	dbConfig.BusyTimeout = a.cfg.BusyTimeout
	dbConfig.ReadOnly = true
	dbLogger := logger.With(zap.String("service", "sqlite"))

	db, err := sqlite.Open(a.ctx, dbConfig, dbLogger)
	if errors.Is(err, sqlite.ErrDatabaseNotFound) {
		logger.Info("Database does not exist yet, inspecting an empty schema",
			zap.String("database", a.cfg.DatabasePath))
		db, err = sqlite.Open(a.ctx, sqlite.DefaultConfig(":memory:"), dbLogger)
	}
	if err != nil {
		return nil, nil, err
	}

	return a.newRunner(db, discovery,
		migration.WithLogger(logger.With(zap.String("service", "migrator"))),
		migration.WithLedgerTable(a.cfg.LedgerTable),
	)
}

func (a *app) newRunner(db *sqlx.DB, discovery *migration.Discovery, opts ...migration.Option) (*migration.Runner, func(), error) {
	logger := logging.FromContext(a.ctx)
	runner, err := migration.NewRunner(db, discovery, opts...)
	if err != nil {
		db.Close()
		return nil, nil, err
	}

	closeFn := func() {
		if err := runner.DB().Close(); err != nil {
			logger.Error("Failed to close database", zap.Error(err))
		}
	}
	return runner, closeFn, nil
}

// interactive reports whether prompts can be answered on the input stream.
func (a *app) interactive() bool {
	f, ok := a.in.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
