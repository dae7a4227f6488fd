package notify

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/openswitch/restd/internal/ovsdb"
	"github.com/openswitch/restd/internal/query"
	"github.com/openswitch/restd/internal/resolver"
)

// rowValues serializes the row behind a resource URI into one flat
// column-to-value map, with the category buckets merged away.
func (h *Handler) rowValues(v *ovsdb.View, uri string) (map[string]any, error) {
	chain, err := resolver.Parse(h.schema, v, uri)
	if err != nil {
		return nil, err
	}
	doc, err := h.reader.Get(context.Background(), v, chain, uri, query.Options{})
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if buckets, ok := doc.(map[string]any); ok {
		for _, bucket := range buckets {
			if columns, ok := bucket.(map[string]any); ok {
				for name, value := range columns {
					out[name] = value
				}
			}
		}
	}
	return out, nil
}

// columnValues serializes the changed columns of a row subscription.
// Reference columns become URIs of the referenced rows, everything else is
// the raw column value.
func (h *Handler) columnValues(v *ovsdb.View, sub *subscription, columns []string) map[string]any {
	table := h.schema.Table(sub.table)
	row := v.Row(sub.table, sub.row)
	if table == nil || row == nil {
		return nil
	}

	out := map[string]any{}
	for _, column := range columns {
		if _, isRef := table.References[column]; isRef {
			out[column] = h.referenceURIs(v, table.References[column].RefTable, row.Get(column))
			continue
		}
		if table.Column(column) == nil {
			continue
		}
		out[column] = row.Get(column)
	}
	return out
}

// referenceURIs maps a reference column value to the URIs of the rows it
// points at, preserving list order and sorting map entries by key.
func (h *Handler) referenceURIs(v *ovsdb.View, refTable string, value any) any {
	uri := func(id uuid.UUID) string {
		row := v.Row(refTable, id)
		if row == nil {
			return ""
		}
		return resolver.RowToURI(h.schema, v, refTable, row)
	}

	switch refs := value.(type) {
	case uuid.UUID:
		return uri(refs)
	case []uuid.UUID:
		out := make([]string, 0, len(refs))
		for _, id := range refs {
			out = append(out, uri(id))
		}
		return out
	case map[string]uuid.UUID:
		keys := make([]string, 0, len(refs))
		for key := range refs {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		out := make([]string, 0, len(keys))
		for _, key := range keys {
			out = append(out, uri(refs[key]))
		}
		return out
	}
	return nil
}
