package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cli struct {
	t    *testing.T
	dir  string
	base []string
}

func newCLI(t *testing.T) *cli {
	dir := t.TempDir()
	return &cli{
		t:   t,
		dir: dir,
		base: []string{
			"--db", filepath.Join(dir, "app.db"),
			"--backup-dir", filepath.Join(dir, "backups"),
			"--log-format", "json",
		},
	}
}

func (c *cli) run(args ...string) (string, error) {
	c.t.Helper()

	var out, errOut bytes.Buffer
	cmd := newRootCommand(context.Background(), strings.NewReader(""), &out, &errOut)
	cmd.SetArgs(append(append([]string{}, c.base...), args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestMigrateAndStatus(t *testing.T) {
	c := newCLI(t)

	out, err := c.run("migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "Applied 001_create_documents")
	assert.Contains(t, out, "Applied 004_add_document_indexes")
	assert.Contains(t, out, "4 migration(s) done")
	assert.Contains(t, out, "Backup written to "+filepath.Join(c.dir, "backups"))

	out, err = c.run("migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "Nothing to do")

	out, err = c.run("status", "--verbose")
	require.NoError(t, err)
	assert.Contains(t, out, "VERSION")
	assert.Equal(t, 4, strings.Count(out, "applied"))
	assert.Contains(t, out, "Current version: 004")

	_, err = os.Stat(filepath.Join(c.dir, "app.db.migrate.lock"))
	assert.True(t, os.IsNotExist(err), "lock file must be released")
}

func TestMigrate_DryRunAndTarget(t *testing.T) {
	c := newCLI(t)

	out, err := c.run("migrate", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "Would apply 001_create_documents")
	assert.Contains(t, out, "Would apply 004_add_document_indexes")

	out, err = c.run("status")
	require.NoError(t, err)
	assert.Equal(t, 4, strings.Count(out, "pending"))
	assert.Contains(t, out, "Current version: none")

	_, err = c.run("migrate", "--target", "2", "--no-backup")
	require.NoError(t, err)

	out, err = c.run("status")
	require.NoError(t, err)
	assert.Contains(t, out, "Current version: 002")
	assert.Equal(t, 2, strings.Count(out, "pending"))
}

func TestRollback(t *testing.T) {
	c := newCLI(t)
	_, err := c.run("migrate", "--no-backup")
	require.NoError(t, err)

	_, err = c.run("rollback", "--steps", "2")
	require.Error(t, err, "rollback without --confirm must not run on non-interactive input")
	assert.Contains(t, err.Error(), "--confirm")

	_, err = c.run("rollback", "--confirm", "--steps", "0")
	require.Error(t, err)

	out, err := c.run("rollback", "--confirm", "--steps", "2", "--no-backup")
	require.NoError(t, err)
	assert.Contains(t, out, "Reverted 004_add_document_indexes")
	assert.Contains(t, out, "Reverted 003_add_document_estimates")
	assert.Less(t, strings.Index(out, "Reverted 004"), strings.Index(out, "Reverted 003"))

	out, err = c.run("status")
	require.NoError(t, err)
	assert.Contains(t, out, "Current version: 002")
}

func TestValidateAndCreate(t *testing.T) {
	c := newCLI(t)
	migrationsDir := filepath.Join(c.dir, "migrations")

	out, err := c.run("validate")
	require.NoError(t, err)
	assert.Contains(t, out, "Catalog is valid")

	out, err = c.run("--migrations-dir", migrationsDir, "create", "add", "tags")
	require.NoError(t, err)
	created := filepath.Join(migrationsDir, "005_add_tags.sql")
	assert.Contains(t, out, "Created "+created)

	// the skeleton has no statements yet
	out, err = c.run("--migrations-dir", migrationsDir, "validate")
	require.Error(t, err)
	assert.Contains(t, out, "ERROR")
	assert.Contains(t, out, "005_add_tags.sql")

	require.NoError(t, os.WriteFile(created, []byte(`-- +migrate Up
CREATE TABLE tags (id INTEGER PRIMARY KEY, label TEXT NOT NULL);
-- +migrate Down
DROP TABLE tags;
`), 0o644))

	out, err = c.run("--migrations-dir", migrationsDir, "migrate", "--no-backup")
	require.NoError(t, err)
	assert.Contains(t, out, "Applied 005_add_tags")

	_, err = c.run("create", "missing dir")
	require.Error(t, err)
}

func TestUnknownTrack(t *testing.T) {
	c := newCLI(t)

	_, err := c.run("--track", "nope", "status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown migration track "nope"`)
}

func TestInspectionCommandsDoNotCreateDatabase(t *testing.T) {
	c := newCLI(t)
	nested := filepath.Join(c.dir, "nested")
	c.base[1] = filepath.Join(nested, "absent.db")

	out, err := c.run("validate")
	require.NoError(t, err)
	assert.Contains(t, out, "Catalog is valid")

	out, err = c.run("status")
	require.NoError(t, err)
	assert.Equal(t, 4, strings.Count(out, "pending"))
	assert.Contains(t, out, "Current version: none")

	assert.NoDirExists(t, nested)
}

func TestInspectionCommandsLeaveDatabaseUntouched(t *testing.T) {
	c := newCLI(t)
	_, err := c.run("migrate", "--target", "2", "--no-backup")
	require.NoError(t, err)

	dbPath := filepath.Join(c.dir, "app.db")
	before, err := os.ReadFile(dbPath)
	require.NoError(t, err)

	_, err = c.run("validate")
	require.NoError(t, err)
	_, err = c.run("status")
	require.NoError(t, err)

	after, err := os.ReadFile(dbPath)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	_, err = os.Stat(filepath.Join(c.dir, "app.db.migrate.lock"))
	assert.True(t, os.IsNotExist(err))
}
