// Package frame holds the column-ordered tables passed between pipes.
package frame

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"

	"github.com/jackc/pgx/v5/pgtype"
)

// ErrNoColumn is returned when a named column does not exist.
var ErrNoColumn = errors.New("no such column")

// Frame is a small in-memory table. Every row has exactly len(Columns) cells.
// Cells hold whatever the source produced: strings from CSV, typed values
// from Postgres.
type Frame struct {
	Columns []string
	Rows    [][]any
}

// New returns an empty frame with the given columns.
func New(columns ...string) *Frame {
	return &Frame{Columns: append([]string(nil), columns...)}
}

// Shape returns (rows, columns).
func (f *Frame) Shape() (int, int) {
	return len(f.Rows), len(f.Columns)
}

// Len returns the number of rows.
func (f *Frame) Len() int { return len(f.Rows) }

// Index returns the position of the named column.
func (f *Frame) Index(name string) (int, error) {
	for i, c := range f.Columns {
		if c == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: %q", ErrNoColumn, name)
}

// Append adds a row. The row length must match the column count.
func (f *Frame) Append(row ...any) error {
	if len(row) != len(f.Columns) {
		return fmt.Errorf("row has %d cells, frame has %d columns", len(row), len(f.Columns))
	}
	f.Rows = append(f.Rows, row)
	return nil
}

// AddColumn appends a column filled with the values produced by fn.
// Replaces the column in place if it already exists.
func (f *Frame) AddColumn(name string, fn func(row int) any) {
	idx, err := f.Index(name)
	if err != nil {
		f.Columns = append(f.Columns, name)
		for i := range f.Rows {
			f.Rows[i] = append(f.Rows[i], fn(i))
		}
		return
	}
	for i := range f.Rows {
		f.Rows[i][idx] = fn(i)
	}
}

// Column returns the values of the named column.
func (f *Frame) Column(name string) ([]any, error) {
	idx, err := f.Index(name)
	if err != nil {
		return nil, err
	}
	out := make([]any, len(f.Rows))
	for i, r := range f.Rows {
		out[i] = r[idx]
	}
	return out, nil
}

// Unique returns the distinct values of the named column in first-seen order.
func (f *Frame) Unique(name string) ([]any, error) {
	vals, err := f.Column(name)
	if err != nil {
		return nil, err
	}
	seen := make(map[any]bool, len(vals))
	var out []any
	for _, v := range vals {
		key := v
		switch k := v.(type) {
		case nil:
		case []byte:
			key = string(k)
		default:
			// json and array cells from Postgres cannot be map keys.
			if !reflect.ValueOf(v).Comparable() {
				key = fmt.Sprintf("%T:%v", v, v)
			}
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
	}
	return out, nil
}

// float64Valuer is implemented by pgtype.Numeric and the other pgx number
// types that can hold a non-float value.
type float64Valuer interface {
	Float64Value() (pgtype.Float8, error)
}

// Float converts a cell to float64. Strings are parsed, numeric types widened.
func Float(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int8:
		return float64(n), nil
	case int16:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint32:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case float64Valuer:
		f, err := n.Float64Value()
		if err != nil {
			return 0, err
		}
		if !f.Valid {
			return 0, errors.New("null value")
		}
		return f.Float64, nil
	case string:
		return strconv.ParseFloat(n, 64)
	case []byte:
		return strconv.ParseFloat(string(n), 64)
	case nil:
		return 0, errors.New("nil value")
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}
