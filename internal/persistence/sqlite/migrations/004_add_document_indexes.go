package migrations

import (
	"github.com/example/schema-migrator/internal/persistence/sqlite/migration"
)

func init() {
	migration.MustRegister(Track, migration.Migration{
		Version: 4,
		Name:    "add_document_indexes",
		Up: migration.Exec(
			`CREATE INDEX idx_documents_status ON documents (status)`,
			`CREATE TRIGGER trg_documents_touch
AFTER UPDATE OF title, body ON documents
BEGIN
  UPDATE documents SET updated_at = CURRENT_TIMESTAMP WHERE id = NEW.id;
END`,
		),
		Down: migration.DropObjects(
			migration.Index("idx_documents_status"),
			migration.Trigger("trg_documents_touch"),
		),
	})
}
