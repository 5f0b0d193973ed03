package mysql

import (
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/pspoerri/eovpipes/internal/frame"
)

func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// quoteTable quotes "db.table" or "table".
func quoteTable(table string) string {
	parts := strings.Split(table, ".")
	for i, p := range parts {
		parts[i] = quoteIdent(p)
	}
	return strings.Join(parts, ".")
}

// selectSQL reads limit rows of table starting at offset. limit <= 0 reads
// everything from offset on.
func selectSQL(table string, offset, limit int) string {
	q := "SELECT * FROM " + quoteTable(table)
	switch {
	case limit > 0 && offset > 0:
		q += " LIMIT " + strconv.Itoa(offset) + ", " + strconv.Itoa(limit)
	case limit > 0:
		q += " LIMIT " + strconv.Itoa(limit)
	}
	return q
}

func countSQL(table string) string {
	return "SELECT COUNT(*) FROM " + quoteTable(table)
}

// chunks splits a read of total rows into (offset, limit) pages of at most
// size rows.
func chunks(total, size int) [][2]int {
	var out [][2]int
	for off := 0; off < total; off += size {
		out = append(out, [2]int{off, min(size, total-off)})
	}
	return out
}

// createTableSQL returns a CREATE TABLE statement for the columns of f.
func createTableSQL(table string, f *frame.Frame) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	b.WriteString(quoteTable(table))
	b.WriteString(" (")
	for i, col := range f.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(quoteIdent(col))
		b.WriteByte(' ')
		b.WriteString(columnType(f, i))
	}
	b.WriteString(")")
	return b.String()
}

// columnType infers the SQL type of column i from its first non-nil cell.
// All-nil columns become TEXT.
func columnType(f *frame.Frame, i int) string {
	for _, row := range f.Rows {
		if row[i] != nil {
			return mysqlType(row[i])
		}
	}
	return "TEXT"
}

func mysqlType(v any) string {
	switch v.(type) {
	case bool:
		return "BOOLEAN"
	case int16:
		return "SMALLINT"
	case int32:
		return "INT"
	case int, int64:
		return "BIGINT"
	case float32:
		return "FLOAT"
	case float64, pgtype.Numeric:
		return "DOUBLE"
	case time.Time:
		return "DATETIME(6)"
	case []byte:
		return "LONGBLOB"
	default:
		return "TEXT"
	}
}

// insertSQL returns a multi-row INSERT with placeholders for rows rows.
func insertSQL(table string, columns []string, rows int) string {
	cols := make([]string, len(columns))
	for i, c := range columns {
		cols[i] = quoteIdent(c)
	}
	tuple := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ") + ")"

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(quoteTable(table))
	b.WriteString(" (")
	b.WriteString(strings.Join(cols, ", "))
	b.WriteString(") VALUES ")
	for i := 0; i < rows; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(tuple)
	}
	return b.String()
}

// binaryType reports whether a column of this database type holds raw bytes.
// Other []byte results are text and become strings.
func binaryType(name string) bool {
	switch strings.ToUpper(name) {
	case "BLOB", "TINYBLOB", "MEDIUMBLOB", "LONGBLOB", "BINARY", "VARBINARY", "BIT", "GEOMETRY":
		return true
	}
	return false
}

// scanValue converts a scanned cell to the types the other pipes handle.
func scanValue(v any, dbType string) any {
	if b, ok := v.([]byte); ok && !binaryType(dbType) {
		return string(b)
	}
	return v
}
