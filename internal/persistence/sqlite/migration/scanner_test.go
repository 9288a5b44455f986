package migration

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/schema-migrator/internal/testfixtures"
)

func TestParseIdentifier(t *testing.T) {
	tests := []struct {
		identifier  string
		wantVersion int
		wantSlug    string
		wantErr     error
	}{
		{identifier: "003_add_story_points", wantVersion: 3, wantSlug: "add_story_points"},
		{identifier: "1_init", wantVersion: 1, wantSlug: "init"},
		{identifier: "120_add-index", wantVersion: 120, wantSlug: "add-index"},
		{identifier: "noversion", wantErr: ErrInvalidMigrationFile},
		{identifier: "abc_slug", wantErr: ErrInvalidVersion},
		{identifier: "000_zero", wantErr: ErrInvalidVersion},
		{identifier: "-1_negative", wantErr: ErrInvalidVersion},
		{identifier: "001_", wantErr: ErrInvalidMigrationFile},
		{identifier: "001_bad slug", wantErr: ErrInvalidMigrationFile},
	}

	for _, tt := range tests {
		t.Run(tt.identifier, func(t *testing.T) {
			version, slug, err := ParseIdentifier(tt.identifier)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "expected %v, got %v", tt.wantErr, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantVersion, version)
			assert.Equal(t, tt.wantSlug, slug)
		})
	}
}

func TestFileSource_Load(t *testing.T) {
	createDocuments := `-- +migrate Up
CREATE TABLE documents (id INTEGER PRIMARY KEY, title TEXT NOT NULL);

-- +migrate Down
DROP TABLE documents;
`
	fsys := testfixtures.MigrationFS("migrations", map[string]string{
		"001_create_documents.sql": createDocuments,
		"002_add_index.sql":        "CREATE INDEX idx_documents_title ON documents (title);",
		"003_down_only.sql":        "-- +migrate Down\nDROP TABLE documents;",
		"README.md":                "# Migrations",
		"bad_name.sql":             "SELECT 1;",
	})

	src := NewFileSource(fsys, "migrations")
	assert.Equal(t, "files:migrations", src.Name())

	migrations, err := src.Load(context.Background())
	require.Len(t, migrations, 2)

	assert.Equal(t, 1, migrations[0].Version)
	assert.Equal(t, "create_documents", migrations[0].Name)
	assert.Equal(t, "migrations/001_create_documents.sql", migrations[0].Source)
	assert.Equal(t, Checksum([]byte(createDocuments)), migrations[0].Checksum)
	assert.True(t, migrations[0].Reversible())

	assert.Equal(t, 2, migrations[1].Version)
	assert.False(t, migrations[1].Reversible(), "a file without markers has no down section")

	var merr *multierror.Error
	require.True(t, errors.As(err, &merr), "expected a multierror, got %v", err)
	require.Len(t, merr.Errors, 2)

	failedVersions := map[int]bool{}
	for _, e := range merr.Errors {
		var de *DiscoveryError
		require.True(t, errors.As(e, &de))
		failedVersions[de.Version] = true
	}
	assert.Equal(t, map[int]bool{3: true, 0: true}, failedVersions)
}

func TestFileSource_LoadAppliesStatements(t *testing.T) {
	h := testfixtures.NewSQLiteHarness(t)
	dir := testfixtures.WriteMigrationFiles(t, map[string]string{
		"001_create_documents.sql": `-- +migrate Up
CREATE TABLE documents (id INTEGER PRIMARY KEY, title TEXT NOT NULL);
INSERT INTO documents (title) VALUES ('semi;colon');
-- +migrate Down
DROP TABLE documents;`,
	})

	migrations, err := NewFileSource(os.DirFS(dir), ".").Load(context.Background())
	require.NoError(t, err)
	require.Len(t, migrations, 1)

	ctx := context.Background()
	require.NoError(t, migrations[0].Up(ctx, h.DB))

	var title string
	require.NoError(t, h.DB.Get(&title, "SELECT title FROM documents"))
	assert.Equal(t, "semi;colon", title)

	require.NoError(t, migrations[0].Down(ctx, h.DB))
	assert.Empty(t, h.Objects("table"))
}

func TestFileSource_MissingDirectory(t *testing.T) {
	fsys := testfixtures.MigrationFS("elsewhere", nil)

	migrations, err := NewFileSource(fsys, "migrations").Load(context.Background())
	assert.NoError(t, err)
	assert.Empty(t, migrations)
}

func TestSplitSections(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		wantUp   string
		wantDown string
		wantErr  bool
	}{
		{
			name:    "no markers is all up",
			content: "CREATE TABLE a (id INTEGER);",
			wantUp:  "CREATE TABLE a (id INTEGER);",
		},
		{
			name:     "markers are case insensitive",
			content:  "-- +MIGRATE UP\nCREATE TABLE a (id INTEGER);\n-- +Migrate Down\nDROP TABLE a;",
			wantUp:   "CREATE TABLE a (id INTEGER);",
			wantDown: "DROP TABLE a;",
		},
		{
			name:    "comment preamble is allowed",
			content: "-- creates a\n\n-- +migrate Up\nCREATE TABLE a (id INTEGER);",
			wantUp:  "CREATE TABLE a (id INTEGER);",
		},
		{
			name:    "statement before first marker",
			content: "SELECT 1;\n-- +migrate Up\nCREATE TABLE a (id INTEGER);",
			wantErr: true,
		},
		{
			name:    "repeated up marker",
			content: "-- +migrate Up\nSELECT 1;\n-- +migrate Up\nSELECT 2;",
			wantErr: true,
		},
		{
			name:    "down without up",
			content: "-- +migrate Down\nDROP TABLE a;",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up, down, err := splitSections(tt.content)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrInvalidMigrationFile), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantUp, strings.TrimSpace(up))
			assert.Equal(t, tt.wantDown, strings.TrimSpace(down))
		})
	}
}

func TestChecksum(t *testing.T) {
	a := Checksum([]byte("CREATE TABLE a (id INTEGER);"))
	b := Checksum([]byte("CREATE TABLE a (id INTEGER); "))

	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, Checksum([]byte("CREATE TABLE a (id INTEGER);")))
}
