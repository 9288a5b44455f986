package migrations

import (
	"github.com/example/schema-migrator/internal/persistence/sqlite/migration"
)

func init() {
	migration.MustRegister(Track, migration.Migration{
		Version: 1,
		Name:    "create_documents",
		Up:      migration.Exec("CREATE TABLE documents (" + documentsDefinition + ")"),
		Down:    migration.DropObjects(migration.Table("documents")),
		Applied: migration.TablesPresent("documents"),
	})
}
