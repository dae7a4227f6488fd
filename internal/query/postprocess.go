package query

import (
	"fmt"
	"sort"
	"strings"

	"github.com/openswitch/restd/internal/schema"
	apperrors "github.com/openswitch/restd/pkg/errors"
)

var categoryOrder = []schema.Category{
	schema.CategoryConfiguration,
	schema.CategoryStatistics,
	schema.CategoryStatus,
}

// postProcess filters, sorts, projects and paginates a depth > 0 collection
// result of categorized row objects, in that order.
func postProcess(list []any, table *schema.Table, opts Options) (any, error) {
	if len(opts.Filters) > 0 {
		list = filterResults(list, table, opts.Filters)
	}
	if len(opts.Sort) > 0 {
		sortResults(list, opts.Sort, opts.SortReverse)
	}
	if len(opts.Keys) > 0 {
		projectKeys(list, opts.Keys)
	}
	return paginate(list, opts.Offset, opts.Limit)
}

// categorizedValue looks a column up across the category buckets of one row
// object.
func categorizedValue(item any, key string) (any, bool) {
	row, ok := item.(map[string]any)
	if !ok {
		return nil, false
	}
	for _, cat := range categoryOrder {
		if bucket, ok := row[string(cat)].(map[string]any); ok {
			if value, ok := bucket[key]; ok {
				return value, true
			}
		}
	}
	return nil, false
}

// filterResults keeps the rows matching every filter. A row without a usable
// value for a filtered column is dropped.
func filterResults(list []any, table *schema.Table, filters map[string][]string) []any {
	out := make([]any, 0, len(list))
	for _, item := range list {
		keep := true
		for column, wanted := range filters {
			value, ok := categorizedValue(item, column)
			if !ok || !truthy(value) {
				keep = false
				break
			}
			if !matchFilter(value, wanted, columnType(table, column)) {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, item)
		}
	}
	return out
}

// matchFilter coerces the filter strings to the column type and accepts the
// row when any coerced value matches the column value, any member for set
// columns.
func matchFilter(value any, wanted []string, colType schema.BaseType) bool {
	filterSet := map[string]bool{}
	for _, raw := range wanted {
		coerced, err := schema.CoerceValue(colType, raw)
		if err != nil {
			continue
		}
		filterSet[schema.CanonicalKey(coerced)] = true
	}
	if len(filterSet) == 0 {
		return false
	}
	if members, ok := value.([]any); ok {
		for _, member := range members {
			if filterSet[schema.CanonicalKey(member)] {
				return true
			}
		}
		return false
	}
	return filterSet[schema.CanonicalKey(value)]
}

func columnType(table *schema.Table, column string) schema.BaseType {
	if col := table.Column(column); col != nil {
		return col.Type
	}
	// References serialize as URI strings.
	return schema.TypeString
}

// sortResults orders rows by the given columns. String comparison is case
// insensitive, a row missing the column sorts as the empty string.
func sortResults(list []any, columns []string, reverse bool) {
	sort.SliceStable(list, func(i, j int) bool {
		for _, column := range columns {
			left, _ := categorizedValue(list[i], column)
			right, _ := categorizedValue(list[j], column)
			cmp := compareValues(left, right)
			if cmp == 0 {
				continue
			}
			if reverse {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
}

func compareValues(left, right any) int {
	if ln, lok := numeric(left); lok {
		if rn, rok := numeric(right); rok {
			switch {
			case ln < rn:
				return -1
			case ln > rn:
				return 1
			default:
				return 0
			}
		}
	}
	return strings.Compare(sortString(left), sortString(right))
}

func numeric(value any) (float64, bool) {
	switch v := value.(type) {
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}

func sortString(value any) string {
	if value == nil {
		return ""
	}
	if s, ok := value.(string); ok {
		return strings.ToLower(s)
	}
	return strings.ToLower(fmt.Sprint(value))
}

// projectKeys removes every column not named from each row's category
// buckets.
func projectKeys(list []any, keys []string) {
	wanted := map[string]bool{}
	for _, key := range keys {
		wanted[key] = true
	}
	for _, item := range list {
		row, ok := item.(map[string]any)
		if !ok {
			continue
		}
		for _, cat := range categoryOrder {
			bucket, ok := row[string(cat)].(map[string]any)
			if !ok {
				continue
			}
			for key := range bucket {
				if !wanted[key] {
					delete(bucket, key)
				}
			}
		}
	}
}

// paginate slices the result. limit counts rows from offset.
func paginate(list []any, offset, limit *int) (any, error) {
	if offset == nil && limit == nil {
		return list, nil
	}
	start := 0
	if offset != nil {
		start = *offset
	}
	end := len(list)
	if limit != nil {
		end = start + *limit
	}

	switch {
	case start < 0 || start > len(list):
		return nil, apperrors.NewDataValidationFailed("Pagination index out of range").
			WithFields(map[string]any{"field": ParamOffset})
	case end < 0:
		return nil, apperrors.NewDataValidationFailed("Pagination index out of range").
			WithFields(map[string]any{"field": ParamLimit})
	case start >= end:
		return nil, apperrors.NewDataValidationFailed(
			"Pagination offset can't be equal or greater than offset + limit")
	}
	if end > len(list) {
		end = len(list)
	}
	return list[start:end], nil
}

func truthy(value any) bool {
	switch v := value.(type) {
	case nil:
		return false
	case string:
		return v != ""
	case bool:
		return v
	case int64:
		return v != 0
	case int:
		return v != 0
	case float64:
		return v != 0
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	}
	return true
}
