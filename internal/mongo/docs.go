package mongo

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/pspoerri/eovpipes/internal/frame"
)

func filterOrAll(filter bson.D) bson.D {
	if filter == nil {
		return bson.D{}
	}
	return filter
}

func findOptions(ro ReadOptions) *options.FindOptions {
	opts := options.Find()
	if ro.Limit > 0 {
		opts.SetLimit(ro.Limit)
	}
	if len(ro.Sort) > 0 {
		opts.SetSort(ro.Sort)
	}
	return opts
}

func medianOptions(field string, count int64) *options.FindOneOptions {
	return options.FindOne().
		SetSort(bson.D{{Key: field, Value: 1}}).
		SetSkip(count / 2)
}

// medianValue reads the median field as a number. Embedded documents such
// as {"$numberDecimal": "1.5"} yield their first value.
func medianValue(v any) (float64, error) {
	switch t := v.(type) {
	case bson.M:
		for _, inner := range t {
			return medianValue(inner)
		}
		return 0, fmt.Errorf("empty document")
	case bson.D:
		if len(t) == 0 {
			return 0, fmt.Errorf("empty document")
		}
		return medianValue(t[0].Value)
	default:
		return frame.Float(cell(v))
	}
}

// docsToFrame lays documents out as rows. Columns are the fields in order of
// first appearance.
func docsToFrame(docs []bson.D, keepID bool) *frame.Frame {
	index := map[string]int{}
	var cols []string
	for _, d := range docs {
		for _, e := range d {
			if e.Key == "_id" && !keepID {
				continue
			}
			if _, ok := index[e.Key]; !ok {
				index[e.Key] = len(cols)
				cols = append(cols, e.Key)
			}
		}
	}

	f := frame.New(cols...)
	f.Rows = make([][]any, 0, len(docs))
	for _, d := range docs {
		row := make([]any, len(cols))
		for _, e := range d {
			if i, ok := index[e.Key]; ok {
				row[i] = cell(e.Value)
			}
		}
		f.Rows = append(f.Rows, row)
	}
	return f
}

// cell converts driver values to the plain types the other pipes handle.
func cell(v any) any {
	switch t := v.(type) {
	case primitive.DateTime:
		return t.Time()
	case primitive.Decimal128:
		return t.String()
	case primitive.ObjectID:
		return t.Hex()
	default:
		return v
	}
}

type float64Valuer interface {
	Float64Value() (pgtype.Float8, error)
}

// frameToDocs builds one document per row, fields in column order. Nil
// cells are stored as null.
func frameToDocs(f *frame.Frame) ([]any, error) {
	docs := make([]any, 0, f.Len())
	for r, row := range f.Rows {
		d := make(bson.D, len(f.Columns))
		for i, col := range f.Columns {
			v, err := docValue(row[i])
			if err != nil {
				return nil, fmt.Errorf("row %d column %q: %w", r, col, err)
			}
			d[i] = bson.E{Key: col, Value: v}
		}
		docs = append(docs, d)
	}
	return docs, nil
}

func docValue(v any) (any, error) {
	switch t := v.(type) {
	case time.Time:
		return primitive.NewDateTimeFromTime(t), nil
	case float64Valuer:
		// pgtype.Numeric and friends from a Postgres read.
		f, err := t.Float64Value()
		if err != nil || !f.Valid {
			return nil, err
		}
		return f.Float64, nil
	default:
		return v, nil
	}
}
