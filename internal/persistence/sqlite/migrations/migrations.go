// Package migrations holds the schema of the documents track. Each unit
// registers itself with migration.DefaultRegistry from init, so importing the
// package is enough to make the track available to a Runner.
package migrations

import (
	"github.com/example/schema-migrator/internal/persistence/sqlite/migration"
)

// Track is the registry namespace of the units in this package.
const Track = "documents"

// LedgerTable records the applied units of this track.
const LedgerTable = "schema_migrations"

// Source returns the compiled units of the documents track.
func Source() migration.Source {
	return migration.DefaultRegistry.Source(Track)
}

// DDL shared between a unit and the later units that have to restore it when
// rebuilding a table.
const (
	documentsDefinition = `id INTEGER PRIMARY KEY,
		title TEXT NOT NULL,
		body TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'draft',
		created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP`

	statusTransitionTrigger = `CREATE TRIGGER trg_documents_status_transition
AFTER UPDATE OF status ON documents
WHEN OLD.status IS NOT NEW.status
BEGIN
  INSERT INTO document_transitions (document_id, from_status, to_status)
  VALUES (NEW.id, OLD.status, NEW.status);
END`
)

var documentsColumns = []string{"id", "title", "body", "status", "created_at", "updated_at"}
