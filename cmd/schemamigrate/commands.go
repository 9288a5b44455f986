package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/example/schema-migrator/internal/persistence/sqlite/migration"
)

var errRollbackAborted = errors.New("rollback aborted")

func (a *app) newMigrateCommand() *cobra.Command {
	var opts migration.MigrateOptions

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending migrations in ascending version order",
		Long: `Apply every pending migration, each in its own transaction, stopping at the
first failure. Units applied before a failure stay applied. A snapshot of the
database is written first unless --no-backup is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, closeDB, err := a.openRunner()
			if err != nil {
				return err
			}
			defer closeDB()

			result, err := runner.Migrate(a.ctx, opts)
			renderRun(a.out, result)
			return err
		},
	}
	cmd.Flags().IntVar(&opts.Target, "target", 0, "apply only versions up to and including this one (0 applies all)")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "list the migrations that would run without applying them")
	return cmd
}

func (a *app) newRollbackCommand() *cobra.Command {
	var (
		steps   int
		confirm bool
	)

	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Revert the most recently applied migrations",
		Long: `Revert the newest applied migrations in descending version order. Without
--confirm the command asks for confirmation on an interactive terminal and
refuses to run otherwise.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if steps < 1 {
				return fmt.Errorf("%w: --steps must be at least 1, got %d", migration.ErrInvalidArgument, steps)
			}
			if !confirm {
				ok, err := a.confirm(fmt.Sprintf("Revert the last %d migration(s) of %s?", steps, a.cfg.DatabasePath))
				if err != nil {
					return err
				}
				if !ok {
					return errRollbackAborted
				}
			}

			runner, closeDB, err := a.openRunner()
			if err != nil {
				return err
			}
			defer closeDB()

			result, err := runner.Rollback(a.ctx, steps)
			renderRun(a.out, result)
			return err
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 1, "number of migrations to revert")
	cmd.Flags().BoolVarP(&confirm, "confirm", "y", false, "revert without asking for confirmation")
	return cmd
}

func (a *app) newStatusCommand() *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "List every known migration and whether it is applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, closeDB, err := a.openReadOnlyRunner()
			if err != nil {
				return err
			}
			defer closeDB()

			status, err := runner.Status(a.ctx)
			if err != nil {
				return err
			}
			current, ok, err := runner.CurrentVersion(a.ctx)
			if err != nil {
				return err
			}
			return renderStatus(a.out, status, current, ok, verbose)
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "show exact application timestamps")
	return cmd
}

func (a *app) newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the migration catalog for gaps, duplicates and unreadable files",
		Long: `Check the migration catalog for structural defects and report applied versions
that no source provides. Checksums that changed after a migration was applied
are printed as warnings. The command exits non-zero when issues are found.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, closeDB, err := a.openReadOnlyRunner()
			if err != nil {
				return err
			}
			defer closeDB()

			report, err := runner.Validate(a.ctx)
			if err != nil {
				return err
			}
			renderValidation(a.out, report)
			if !report.IsValid {
				return fmt.Errorf("validation found %d issue(s)", len(report.Issues))
			}
			return nil
		},
	}
}

func (a *app) newCreateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "create <name>",
		Short: "Write an empty migration file with the next free version",
		Long: `Write {version}_{slug}.sql into --migrations-dir with empty up and down
sections. The version follows the highest version known to any source.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.MigrationsDir == "" {
				return fmt.Errorf("%w: create needs --migrations-dir", migration.ErrInvalidArgument)
			}
			discovery, err := a.discovery()
			if err != nil {
				return err
			}
			catalog, err := discovery.Load(a.ctx)
			if err != nil {
				return err
			}

			// files that failed to load still hold their version
			existing := catalog.Migrations
			for _, f := range catalog.Failures {
				existing = append(existing, migration.Migration{Version: f.Version})
			}

			path, err := migration.CreateFile(a.cfg.MigrationsDir, strings.Join(args, " "), existing)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Created %s\n", path)
			return nil
		},
	}
}

// confirm asks question on the input stream. Non-interactive input is
// refused rather than read.
func (a *app) confirm(question string) (bool, error) {
	if !a.interactive() {
		return false, errors.New("refusing to roll back without --confirm when stdin is not a terminal")
	}
	fmt.Fprintf(a.out, "%s [y/N]: ", question)
	answer, err := bufio.NewReader(a.in).ReadString('\n')
	if err != nil && answer == "" {
		return false, nil
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes", nil
}
