package testfixtures

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"

	"github.com/example/schema-migrator/internal/persistence/sqlite"
)

// SQLiteHarness provides a real SQLite database in a temporary directory for
// integration-style tests.
type SQLiteHarness struct {
	DB     *sqlx.DB
	Path   string
	Config sqlite.Config

	tb testing.TB
}

// NewSQLiteHarness opens an empty database file with foreign keys enabled.
// The database is closed when the test finishes.
func NewSQLiteHarness(tb testing.TB) *SQLiteHarness {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), "app.db")
	h := &SQLiteHarness{Path: path, Config: sqlite.TestConfig(path), tb: tb}

	db, err := sqlite.Open(context.Background(), h.Config, nil)
	if err != nil {
		tb.Fatalf("failed to open database: %v", err)
	}
	h.DB = db

	tb.Cleanup(func() {
		_ = h.DB.Close()
	})
	return h
}

// Reopen opens a fresh handle on the same file. It matches the signature the
// migration runner expects for reopening between units. The harness tracks
// the newest handle so cleanup closes it.
func (h *SQLiteHarness) Reopen(ctx context.Context) (*sqlx.DB, error) {
	db, err := sqlite.Open(ctx, h.Config, nil)
	if err != nil {
		return nil, err
	}
	h.DB = db
	return db, nil
}

// Columns returns the columns of table in declaration order.
func (h *SQLiteHarness) Columns(table string) []string {
	h.tb.Helper()

	var columns []string
	if err := h.DB.Select(&columns, `SELECT name FROM pragma_table_info(?) ORDER BY cid`, table); err != nil {
		h.tb.Fatalf("failed to read columns of %s: %v", table, err)
	}
	return columns
}

// Objects returns the names of schema objects of the given type, e.g.
// "table" or "trigger", ordered by name.
func (h *SQLiteHarness) Objects(kind string) []string {
	h.tb.Helper()

	var names []string
	const query = `SELECT name FROM sqlite_master WHERE type = ? AND name NOT GLOB 'sqlite_*' ORDER BY name`
	if err := h.DB.Select(&names, query, kind); err != nil {
		h.tb.Fatalf("failed to list %s objects: %v", kind, err)
	}
	return names
}

// Exec runs statements and fails the test on error.
func (h *SQLiteHarness) Exec(statements ...string) {
	h.tb.Helper()

	for _, stmt := range statements {
		if _, err := h.DB.Exec(stmt); err != nil {
			h.tb.Fatalf("failed to execute %q: %v", stmt, err)
		}
	}
}
