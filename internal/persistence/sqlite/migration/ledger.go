package migration

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
)

// DefaultLedgerTable is the table recording applied versions.
const DefaultLedgerTable = "schema_migrations"

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// timestamp layouts accepted when reading applied_at. The first one is what
// the ledger writes; the second is SQLite's CURRENT_TIMESTAMP format.
var appliedAtLayouts = []string{time.RFC3339Nano, "2006-01-02 15:04:05"}

// Ledger records which versions are applied. Every method takes the Conn to
// use so that ledger writes share the transaction of the unit they describe.
type Ledger struct {
	table string
}

// NewLedger returns a ledger stored in the named table.
func NewLedger(table string) (*Ledger, error) {
	if table == "" {
		table = DefaultLedgerTable
	}
	if !identifierPattern.MatchString(table) {
		return nil, fmt.Errorf("%w: ledger table name %q", ErrInvalidArgument, table)
	}
	return &Ledger{table: table}, nil
}

// Table returns the ledger table name.
func (l *Ledger) Table() string {
	return l.table
}

// EnsureTable creates the ledger table if it doesn't exist
func (l *Ledger) EnsureTable(ctx context.Context, conn Conn) error {
	createTableSQL := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TEXT NOT NULL,
			checksum TEXT,
			execution_time_ms INTEGER,
			notes TEXT
		)`, quoteIdent(l.table))

	if _, err := conn.ExecContext(ctx, createTableSQL); err != nil {
		return NewDatabaseError(0, createTableSQL, "create ledger table", err)
	}
	return nil
}

// Exists reports whether the ledger table is present. It never creates it.
func (l *Ledger) Exists(ctx context.Context, conn Conn) (bool, error) {
	query, args, err := sq.Select("COUNT(*)").
		From("sqlite_master").
		Where(sq.Eq{"type": "table", "name": l.table}).
		ToSql()
	if err != nil {
		return false, err
	}

	var n int
	if err := sqlx.GetContext(ctx, conn, &n, query, args...); err != nil {
		return false, NewDatabaseError(0, query, "check ledger table", err)
	}
	return n > 0, nil
}

type ledgerRow struct {
	Version         int    `db:"version"`
	Name            string `db:"name"`
	AppliedAt       string `db:"applied_at"`
	Checksum        string `db:"checksum"`
	ExecutionTimeMs int64  `db:"execution_time_ms"`
	Notes           string `db:"notes"`
}

// Entries returns every ledger row ordered by ascending version.
func (l *Ledger) Entries(ctx context.Context, conn Conn) ([]Entry, error) {
	query, args, err := sq.Select(
		"version",
		"name",
		"applied_at",
		"COALESCE(checksum, '') AS checksum",
		"COALESCE(execution_time_ms, 0) AS execution_time_ms",
		"COALESCE(notes, '') AS notes",
	).From(quoteIdent(l.table)).OrderBy("version ASC").ToSql()
	if err != nil {
		return nil, err
	}

	var rows []ledgerRow
	if err := sqlx.SelectContext(ctx, conn, &rows, query, args...); err != nil {
		return nil, NewDatabaseError(0, query, "read ledger", err)
	}

	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		appliedAt, err := parseAppliedAt(row.AppliedAt)
		if err != nil {
			return nil, NewDatabaseError(row.Version, query, "parse applied_at", err)
		}
		entries = append(entries, Entry{
			Version:         row.Version,
			Name:            row.Name,
			AppliedAt:       appliedAt,
			Checksum:        row.Checksum,
			ExecutionTimeMs: row.ExecutionTimeMs,
			Notes:           row.Notes,
		})
	}
	return entries, nil
}

// Applied returns the applied versions keyed by version.
func (l *Ledger) Applied(ctx context.Context, conn Conn) (map[int]Entry, error) {
	entries, err := l.Entries(ctx, conn)
	if err != nil {
		return nil, err
	}
	applied := make(map[int]Entry, len(entries))
	for _, e := range entries {
		applied[e.Version] = e
	}
	return applied, nil
}

// RecordApplied inserts or replaces the ledger row for entry.Version. It must
// only be called after the unit's Up succeeded.
func (l *Ledger) RecordApplied(ctx context.Context, conn Conn, entry Entry) error {
	if entry.AppliedAt.IsZero() {
		return fmt.Errorf("%w: applied_at is required", ErrInvalidArgument)
	}

	query, args, err := sq.Insert(quoteIdent(l.table)).
		Options("OR REPLACE").
		Columns("version", "name", "applied_at", "checksum", "execution_time_ms", "notes").
		Values(
			entry.Version,
			entry.Name,
			entry.AppliedAt.UTC().Format(time.RFC3339Nano),
			nullString(entry.Checksum),
			entry.ExecutionTimeMs,
			nullString(entry.Notes),
		).ToSql()
	if err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx, query, args...); err != nil {
		return NewDatabaseError(entry.Version, query, "record migration", err)
	}
	return nil
}

// RecordReverted deletes the ledger row for version. It must only be called
// after the unit's Down succeeded.
func (l *Ledger) RecordReverted(ctx context.Context, conn Conn, version int) error {
	query, args, err := sq.Delete(quoteIdent(l.table)).Where(sq.Eq{"version": version}).ToSql()
	if err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx, query, args...); err != nil {
		return NewDatabaseError(version, query, "unrecord migration", err)
	}
	return nil
}

// CurrentVersion returns the highest applied version. ok is false when the
// ledger is empty.
func (l *Ledger) CurrentVersion(ctx context.Context, conn Conn) (version int, ok bool, err error) {
	query, args, err := sq.Select("MAX(version)").From(quoteIdent(l.table)).ToSql()
	if err != nil {
		return 0, false, err
	}

	var current sql.NullInt64
	if err := sqlx.GetContext(ctx, conn, &current, query, args...); err != nil {
		return 0, false, NewDatabaseError(0, query, "read current version", err)
	}
	if !current.Valid {
		return 0, false, nil
	}
	return int(current.Int64), true, nil
}

func parseAppliedAt(value string) (time.Time, error) {
	var lastErr error
	for _, layout := range appliedAtLayouts {
		t, err := time.Parse(layout, value)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
