package migrations

import (
	"github.com/example/schema-migrator/internal/persistence/sqlite/migration"
)

func init() {
	migration.MustRegister(Track, migration.Migration{
		Version: 2,
		Name:    "create_document_transitions",
		Up: migration.Exec(
			`CREATE TABLE document_transitions (
				id INTEGER PRIMARY KEY,
				document_id INTEGER NOT NULL REFERENCES documents (id) ON DELETE CASCADE,
				from_status TEXT,
				to_status TEXT NOT NULL,
				transitioned_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
			)`,
			`CREATE INDEX idx_document_transitions_document ON document_transitions (document_id)`,
			statusTransitionTrigger,
		),
		Down: migration.DropObjects(
			migration.Table("document_transitions"),
			migration.Index("idx_document_transitions_document"),
			migration.Trigger("trg_documents_status_transition"),
		),
		Applied: migration.TablesPresent("document_transitions"),
	})
}
