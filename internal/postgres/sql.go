package postgres

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/pspoerri/eovpipes/internal/frame"
)

// tableIdent splits "schema.table" into an identifier.
func tableIdent(table string) pgx.Identifier {
	return pgx.Identifier(strings.Split(table, "."))
}

func quoteTable(table string) string {
	return tableIdent(table).Sanitize()
}

// createTableSQL returns a CREATE TABLE statement for the columns of f.
func createTableSQL(table string, f *frame.Frame, ifNotExists bool) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	if ifNotExists {
		b.WriteString("IF NOT EXISTS ")
	}
	b.WriteString(quoteTable(table))
	b.WriteString(" (")
	for i, col := range f.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgx.Identifier{col}.Sanitize())
		b.WriteByte(' ')
		b.WriteString(columnType(f, i))
	}
	b.WriteString(")")
	return b.String()
}

// columnType infers the SQL type of column i from its first non-nil cell.
// All-nil columns become text.
func columnType(f *frame.Frame, i int) string {
	for _, row := range f.Rows {
		if row[i] != nil {
			return pgType(row[i])
		}
	}
	return "text"
}

func pgType(v any) string {
	switch v.(type) {
	case bool:
		return "boolean"
	case int16:
		return "smallint"
	case int32:
		return "integer"
	case int, int64:
		return "bigint"
	case float32:
		return "real"
	case float64:
		return "double precision"
	case pgtype.Numeric:
		return "numeric"
	case time.Time:
		return "timestamptz"
	case []byte:
		return "bytea"
	default:
		return "text"
	}
}

// deleteSQL builds a DELETE with one equality term per filter key, joined
// with AND. Keys are sorted so the statement is stable.
func deleteSQL(table string, filter map[string]any) (string, []any, error) {
	if len(filter) == 0 {
		return "", nil, ErrEmptyFilter
	}

	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	terms := make([]string, len(keys))
	args := make([]any, len(keys))
	for i, k := range keys {
		terms[i] = fmt.Sprintf("%s = $%d", pgx.Identifier{k}.Sanitize(), i+1)
		args[i] = filter[k]
	}
	return fmt.Sprintf("DELETE FROM %s WHERE %s", quoteTable(table), strings.Join(terms, " AND ")), args, nil
}
