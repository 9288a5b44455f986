package migrations

import (
	"github.com/example/schema-migrator/internal/persistence/sqlite/migration"
)

func init() {
	migration.MustRegister(Track, migration.Migration{
		Version: 3,
		Name:    "add_document_estimates",
		Up: migration.AddColumns("documents",
			"story_points INTEGER",
			"estimate_hours REAL",
			"actual_hours REAL",
			"complexity_score NUMERIC",
		),
		// SQLite can't drop the columns in place. The rebuild drops the
		// status trigger along with the table, so it is restored afterwards.
		Down: migration.RebuildTable(migration.TableRebuild{
			Table:      "documents",
			Definition: documentsDefinition,
			Columns:    documentsColumns,
			Restore:    []string{statusTransitionTrigger},
		}),
		Applied: migration.ColumnsPresent("documents", "story_points", "estimate_hours", "actual_hours", "complexity_score"),
	})
}
