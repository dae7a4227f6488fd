// Package ovsdb holds the transactional in-memory replica of the switch
// database: row storage, undo-logged transactions with row-level change
// tracking, on-demand column fetching and the connection manager that drives
// change ticks and pending commits.
package ovsdb

import (
	"github.com/google/uuid"
)

// Row is one database row. Scalar values are int64, float64, bool, string or
// uuid.UUID; lists are []any, maps map[string]any. Reference columns hold
// uuid.UUID, []uuid.UUID or map[string]uuid.UUID. Mutations go through a Txn.
type Row struct {
	UUID   uuid.UUID
	fields map[string]any
}

func newRow(id uuid.UUID) *Row {
	return &Row{UUID: id, fields: make(map[string]any)}
}

// Get returns a column's value, or nil when unset (or not yet fetched for
// on-demand columns).
func (r *Row) Get(column string) any {
	return r.fields[column]
}

// Has reports whether the column carries a value.
func (r *Row) Has(column string) bool {
	_, ok := r.fields[column]
	return ok
}

// Columns lists the columns currently carrying values.
func (r *Row) Columns() []string {
	cols := make([]string, 0, len(r.fields))
	for name := range r.fields {
		cols = append(cols, name)
	}
	return cols
}

func (r *Row) set(column string, value any) {
	if value == nil {
		delete(r.fields, column)
		return
	}
	r.fields[column] = value
}

func (r *Row) clone() *Row {
	c := newRow(r.UUID)
	for k, v := range r.fields {
		c.fields[k] = cloneValue(v)
	}
	return c
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case []any:
		out := make([]any, len(val))
		copy(out, val)
		return out
	case []uuid.UUID:
		out := make([]uuid.UUID, len(val))
		copy(out, val)
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = item
		}
		return out
	case map[string]uuid.UUID:
		out := make(map[string]uuid.UUID, len(val))
		for k, item := range val {
			out[k] = item
		}
		return out
	default:
		return v
	}
}
