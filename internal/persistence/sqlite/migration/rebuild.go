package migration

import (
	"context"
	"fmt"
	"strings"
)

// DropObjects reverts an additive change by dropping the given objects. The
// objects are listed in creation order and dropped in reverse.
func DropObjects(objects ...Object) MigrateFunc {
	return func(ctx context.Context, conn Conn) error {
		for i := len(objects) - 1; i >= 0; i-- {
			obj := objects[i]
			stmt := fmt.Sprintf("DROP %s IF EXISTS %s", strings.ToUpper(string(obj.Kind)), quoteIdent(obj.Name))
			if _, err := conn.ExecContext(ctx, stmt); err != nil {
				return NewDatabaseError(0, stmt, fmt.Sprintf("drop %s %s", obj.Kind, obj.Name), err)
			}
		}
		return nil
	}
}

// TableRebuild describes the state a table is rebuilt into.
type TableRebuild struct {
	// Table is the live table name.
	Table string
	// Definition is the body of the pre-migration CREATE TABLE statement, the
	// part between the parentheses: columns and table constraints.
	Definition string
	// Columns are the pre-migration columns whose values are copied over.
	Columns []string
	// Restore holds the CREATE INDEX and CREATE TRIGGER statements that existed
	// before the migration. Dropping the live table removes them, so they are
	// executed again after the rename.
	Restore []string
}

func (r TableRebuild) shadow() string {
	return r.Table + "__rebuild"
}

func (r TableRebuild) validate() error {
	if r.Table == "" || strings.TrimSpace(r.Definition) == "" {
		return fmt.Errorf("%w: table rebuild needs a table and a definition", ErrInvalidArgument)
	}
	if len(r.Columns) == 0 {
		return fmt.Errorf("%w: table rebuild of %s preserves no columns", ErrInvalidArgument, r.Table)
	}
	return nil
}

// RebuildTable reverts a change SQLite cannot undo in place, such as an added
// column, by recreating the table with its previous shape:
//
//  1. create a shadow table with the pre-migration definition
//  2. copy the preserved columns from the live table
//  3. drop the live table
//  4. rename the shadow table to the live name
//  5. re-create the pre-migration indexes and triggers
//
// Foreign key enforcement must be off while this runs; the Runner takes care
// of that and checks the constraints before committing.
func RebuildTable(r TableRebuild) MigrateFunc {
	return func(ctx context.Context, conn Conn) error {
		if err := r.validate(); err != nil {
			return err
		}

		columns := make([]string, len(r.Columns))
		for i, c := range r.Columns {
			columns[i] = quoteIdent(c)
		}
		columnList := strings.Join(columns, ", ")

		statements := []string{
			fmt.Sprintf("DROP TABLE IF EXISTS %s", quoteIdent(r.shadow())),
			fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(r.shadow()), r.Definition),
			fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s", quoteIdent(r.shadow()), columnList, columnList, quoteIdent(r.Table)),
			fmt.Sprintf("DROP TABLE %s", quoteIdent(r.Table)),
			fmt.Sprintf("ALTER TABLE %s RENAME TO %s", quoteIdent(r.shadow()), quoteIdent(r.Table)),
		}
		statements = append(statements, r.Restore...)

		for i, stmt := range statements {
			if _, err := conn.ExecContext(ctx, stmt); err != nil {
				return NewDatabaseError(0, stmt, fmt.Sprintf("rebuild %s step %d", r.Table, i+1), err)
			}
		}
		return nil
	}
}

// Compose runs steps in the order given. A unit mixing additive objects and
// added columns lists its reversal steps in the reverse of the order the
// forward changes were made.
func Compose(steps ...MigrateFunc) MigrateFunc {
	return func(ctx context.Context, conn Conn) error {
		for _, step := range steps {
			if err := step(ctx, conn); err != nil {
				return err
			}
		}
		return nil
	}
}

// AddColumns adds each column definition, e.g. "story_points INTEGER", to table.
func AddColumns(table string, definitions ...string) MigrateFunc {
	statements := make([]string, len(definitions))
	for i, def := range definitions {
		statements[i] = fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", quoteIdent(table), def)
	}
	return Exec(statements...)
}

// ColumnsPresent is a structural applied check that holds once every column
// exists on table.
func ColumnsPresent(table string, columns ...string) AppliedFunc {
	return func(ctx context.Context, conn Conn) (bool, error) {
		for _, c := range columns {
			ok, err := ColumnExists(ctx, conn, table, c)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	}
}

// TablesPresent is a structural applied check that holds once every table exists.
func TablesPresent(tables ...string) AppliedFunc {
	return func(ctx context.Context, conn Conn) (bool, error) {
		for _, t := range tables {
			ok, err := TableExists(ctx, conn, t)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	}
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
