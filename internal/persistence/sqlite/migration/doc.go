// Package migration evolves the schema of an embedded SQLite database.
//
// A migration is a versioned unit with an Up function, an optional Down
// function and an optional structural self-check. Units are discovered from
// one or more sources:
//
//   - a Registry populated at init time by compiled Go packages
//   - a FileSource reading {version}_{slug}.sql files from an fs.FS
//
// The Runner applies pending units in ascending version order, each inside its
// own transaction together with its ledger row, and stops at the first
// failure. Rollback reverts the most recently applied tail in descending order.
//
// SQLite cannot drop a column in place, so units that add columns revert with
// RebuildTable, which recreates the table with its previous column set and
// re-creates the indexes and triggers that existed before the migration.
//
// The ledger lives in a schema_migrations table inside the target database and
// is the only source of truth for whether a version is applied.
//
// Example usage:
//
//	discovery := migration.NewDiscovery(logger, migration.DefaultRegistry.Source("documents"))
//	runner, err := migration.NewRunner(db, discovery, migration.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//	result, err := runner.Migrate(ctx, migration.MigrateOptions{})
package migration
