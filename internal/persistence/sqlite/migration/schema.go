package migration

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
)

// ObjectKind is the type of a schema object as stored in sqlite_master.
type ObjectKind string

const (
	KindTable   ObjectKind = "table"
	KindIndex   ObjectKind = "index"
	KindTrigger ObjectKind = "trigger"
	KindView    ObjectKind = "view"
)

// Object names a schema object.
type Object struct {
	Kind ObjectKind
	Name string
}

func Table(name string) Object   { return Object{Kind: KindTable, Name: name} }
func Index(name string) Object   { return Object{Kind: KindIndex, Name: name} }
func Trigger(name string) Object { return Object{Kind: KindTrigger, Name: name} }
func View(name string) Object    { return Object{Kind: KindView, Name: name} }

// ObjectNames lists objects of the given kind, optionally restricted to one
// table, ordered by name. SQLite's internal objects are excluded.
func ObjectNames(ctx context.Context, conn Conn, kind ObjectKind, table string) ([]string, error) {
	q := sq.Select("name").
		From("sqlite_master").
		Where(sq.Eq{"type": string(kind)}).
		Where("name NOT GLOB 'sqlite_*'").
		OrderBy("name")
	if table != "" {
		q = q.Where(sq.Eq{"tbl_name": table})
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}

	var names []string
	if err := sqlx.SelectContext(ctx, conn, &names, query, args...); err != nil {
		return nil, NewDatabaseError(0, query, "list schema objects", err)
	}
	return names, nil
}

// IndexNames lists the explicitly created indexes on table.
func IndexNames(ctx context.Context, conn Conn, table string) ([]string, error) {
	return ObjectNames(ctx, conn, KindIndex, table)
}

// TriggerNames lists the triggers on table.
func TriggerNames(ctx context.Context, conn Conn, table string) ([]string, error) {
	return ObjectNames(ctx, conn, KindTrigger, table)
}

// TableExists reports whether table exists.
func TableExists(ctx context.Context, conn Conn, table string) (bool, error) {
	names, err := ObjectNames(ctx, conn, KindTable, "")
	if err != nil {
		return false, err
	}
	for _, name := range names {
		if name == table {
			return true, nil
		}
	}
	return false, nil
}

// ColumnNames returns the columns of table in declaration order.
func ColumnNames(ctx context.Context, conn Conn, table string) ([]string, error) {
	const query = `SELECT name FROM pragma_table_info(?) ORDER BY cid`

	var columns []string
	if err := sqlx.SelectContext(ctx, conn, &columns, query, table); err != nil {
		return nil, NewDatabaseError(0, query, "list columns", err)
	}
	return columns, nil
}

// ColumnExists reports whether table has the named column.
func ColumnExists(ctx context.Context, conn Conn, table, column string) (bool, error) {
	columns, err := ColumnNames(ctx, conn, table)
	if err != nil {
		return false, err
	}
	for _, c := range columns {
		if c == column {
			return true, nil
		}
	}
	return false, nil
}

// ObjectSQL returns the stored DDL for every index and trigger attached to
// table. Automatic indexes created for constraints have no SQL and are
// skipped.
func ObjectSQL(ctx context.Context, conn Conn, table string) ([]string, error) {
	query, args, err := sq.Select("sql").
		From("sqlite_master").
		Where(sq.Eq{"tbl_name": table, "type": []string{string(KindIndex), string(KindTrigger)}}).
		Where(sq.NotEq{"sql": nil}).
		OrderBy("type", "name").
		ToSql()
	if err != nil {
		return nil, err
	}

	var ddl []string
	if err := sqlx.SelectContext(ctx, conn, &ddl, query, args...); err != nil {
		return nil, NewDatabaseError(0, query, "read object ddl", err)
	}
	return ddl, nil
}
