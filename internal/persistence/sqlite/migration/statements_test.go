package migration

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSplitStatements(t *testing.T) {
	tests := []struct {
		name    string
		sql     string
		want    []string
		wantErr error
	}{
		{
			name: "two statements",
			sql:  "CREATE TABLE a (x TEXT); CREATE TABLE b (y TEXT);",
			want: []string{"CREATE TABLE a (x TEXT);", "CREATE TABLE b (y TEXT);"},
		},
		{
			name: "trailing statement without semicolon",
			sql:  "CREATE TABLE a (x TEXT)",
			want: []string{"CREATE TABLE a (x TEXT)"},
		},
		{
			name: "semicolon inside string literal",
			sql:  "INSERT INTO a VALUES ('x;y'); INSERT INTO a VALUES ('it''s');",
			want: []string{"INSERT INTO a VALUES ('x;y');", "INSERT INTO a VALUES ('it''s');"},
		},
		{
			name: "semicolon inside quoted identifier",
			sql:  `CREATE TABLE "odd;name" (x TEXT);`,
			want: []string{`CREATE TABLE "odd;name" (x TEXT);`},
		},
		{
			name: "comments are kept but do not split",
			sql:  "-- header; not a split\nCREATE TABLE a (x TEXT); /* ; */",
			want: []string{"-- header; not a split\nCREATE TABLE a (x TEXT);"},
		},
		{
			name: "comment only",
			sql:  "-- nothing here\n/* still nothing */\n",
			want: nil,
		},
		{
			name: "trigger body stays whole",
			sql: `CREATE TRIGGER trg_documents_touch AFTER UPDATE ON documents
BEGIN
  UPDATE documents SET updated_at = CURRENT_TIMESTAMP WHERE id = NEW.id;
  SELECT CASE WHEN NEW.id < 0 THEN RAISE(ABORT, 'negative id') END;
END;
CREATE INDEX idx_documents_title ON documents (title);`,
			want: []string{
				`CREATE TRIGGER trg_documents_touch AFTER UPDATE ON documents
BEGIN
  UPDATE documents SET updated_at = CURRENT_TIMESTAMP WHERE id = NEW.id;
  SELECT CASE WHEN NEW.id < 0 THEN RAISE(ABORT, 'negative id') END;
END;`,
				"CREATE INDEX idx_documents_title ON documents (title);",
			},
		},
		{
			name: "temporary trigger",
			sql:  "CREATE TEMP TRIGGER t AFTER INSERT ON a BEGIN DELETE FROM b; END; SELECT 1;",
			want: []string{"CREATE TEMP TRIGGER t AFTER INSERT ON a BEGIN DELETE FROM b; END;", "SELECT 1;"},
		},
		{
			name:    "unterminated string",
			sql:     "INSERT INTO a VALUES ('oops);",
			wantErr: ErrInvalidMigrationFile,
		},
		{
			name:    "unterminated block comment",
			sql:     "SELECT 1; /* never closed",
			wantErr: ErrInvalidMigrationFile,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SplitStatements(tt.sql)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("SplitStatements failed: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("statements mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
