package lbsql

import (
	"fmt"
	"strings"

	"github.com/frankframework/ladybug/lbstore"
)

// Dialect captures the differences in SQL between databases.
type Dialect interface {
	// Name of the dialect, e.g. "sqlite".
	Name() string

	// Placeholder for the i-th parameter of a statement, starting at 1.
	Placeholder(i int) string

	// Quote an identifier.
	Quote(ident string) string

	// KeyColumn is the column definition of the generated storage ID.
	KeyColumn(column string) string

	// ColumnType of a metadata column.
	ColumnType(kind lbstore.FieldKind, length int) string

	// BlobType and TextType are the types of the report and reportxml
	// columns.
	BlobType() string
	TextType() string

	// CastText converts an expression to text.
	CastText(expr string) string

	// LikeEscape is the ESCAPE clause for a backslash escape character.
	LikeEscape() string

	// Paging clause for limit and offset.
	Paging(limit, offset int) string

	// Returning is the clause appended to an INSERT to return the generated
	// key, or the empty string if the driver supports LastInsertId.
	Returning(column string) string
}

// Dialects by name.
var (
	SQLite   Dialect = sqliteDialect{}
	Postgres Dialect = postgresDialect{}
	MySQL    Dialect = mysqlDialect{}
)

// DialectByName returns the dialect with the given name.
func DialectByName(name string) (Dialect, error) {
	for _, d := range []Dialect{SQLite, Postgres, MySQL} {
		if d.Name() == name {
			return d, nil
		}
	}
	return nil, fmt.Errorf("unknown SQL dialect %q", name)
}

func columnType(kind lbstore.FieldKind, length int, str, bigint string) string {
	switch kind {
	case lbstore.KindInt:
		return "INTEGER"
	case lbstore.KindSize, lbstore.KindDuration:
		return bigint
	case lbstore.KindTime:
		return fmt.Sprintf("%s(%d)", str, len(timeFormat))
	default:
		return fmt.Sprintf("%s(%d)", str, length)
	}
}

//
//
//

type sqliteDialect struct{}

func (sqliteDialect) Name() string {
	return "sqlite"
}

func (sqliteDialect) Placeholder(int) string {
	return "?"
}

func (sqliteDialect) Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func (sqliteDialect) BlobType() string {
	return "BLOB"
}

func (sqliteDialect) TextType() string {
	return "TEXT"
}

func (sqliteDialect) CastText(expr string) string {
	return "CAST(" + expr + " AS TEXT)"
}

func (sqliteDialect) LikeEscape() string {
	return `ESCAPE '\'`
}

func (sqliteDialect) Returning(column string) string {
	return ""
}

func (d sqliteDialect) KeyColumn(column string) string {
	return d.Quote(column) + " INTEGER PRIMARY KEY AUTOINCREMENT"
}

func (sqliteDialect) ColumnType(kind lbstore.FieldKind, length int) string {
	return columnType(kind, length, "VARCHAR", "BIGINT")
}

func (sqliteDialect) Paging(limit, offset int) string {
	return fmt.Sprintf("LIMIT %d OFFSET %d", limit, offset)
}

//
//
//

type postgresDialect struct{}

func (postgresDialect) Name() string {
	return "postgres"
}

func (postgresDialect) Placeholder(i int) string {
	return fmt.Sprintf("$%d", i)
}

func (postgresDialect) Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func (postgresDialect) BlobType() string {
	return "BYTEA"
}

func (postgresDialect) TextType() string {
	return "TEXT"
}

func (postgresDialect) CastText(expr string) string {
	return "CAST(" + expr + " AS TEXT)"
}

func (postgresDialect) LikeEscape() string {
	return `ESCAPE '\'`
}

func (d postgresDialect) KeyColumn(column string) string {
	return d.Quote(column) + " SERIAL PRIMARY KEY"
}

func (postgresDialect) ColumnType(kind lbstore.FieldKind, length int) string {
	return columnType(kind, length, "VARCHAR", "BIGINT")
}

func (postgresDialect) Paging(limit, offset int) string {
	return fmt.Sprintf("LIMIT %d OFFSET %d", limit, offset)
}

func (d postgresDialect) Returning(column string) string {
	return "RETURNING " + d.Quote(column)
}

//
//
//

type mysqlDialect struct{}

func (mysqlDialect) Name() string {
	return "mysql"
}

func (mysqlDialect) Placeholder(int) string {
	return "?"
}

func (mysqlDialect) Quote(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}

func (mysqlDialect) BlobType() string {
	return "LONGBLOB"
}

func (mysqlDialect) TextType() string {
	return "LONGTEXT"
}

func (mysqlDialect) CastText(expr string) string {
	return "CAST(" + expr + " AS CHAR)"
}

func (mysqlDialect) LikeEscape() string {
	return `ESCAPE '\\'`
}

func (mysqlDialect) Returning(column string) string {
	return ""
}

func (d mysqlDialect) KeyColumn(column string) string {
	return d.Quote(column) + " INTEGER AUTO_INCREMENT PRIMARY KEY"
}

func (mysqlDialect) ColumnType(kind lbstore.FieldKind, length int) string {
	return columnType(kind, length, "VARCHAR", "BIGINT")
}

func (mysqlDialect) Paging(limit, offset int) string {
	return fmt.Sprintf("LIMIT %d OFFSET %d", limit, offset)
}
