package query

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/openswitch/restd/internal/schema"
	apperrors "github.com/openswitch/restd/pkg/errors"
)

// Depth bounds for recursive serialization.
const (
	DepthMin = 0
	DepthMax = 10
)

// Reserved query parameter names. Every other parameter is a per-column
// filter.
const (
	ParamDepth    = "depth"
	ParamSelector = "selector"
	ParamSort     = "sort"
	ParamOffset   = "offset"
	ParamLimit    = "limit"
	ParamKeys     = "keys"
)

// Options are the serialization knobs of one read request.
type Options struct {
	Depth           int
	Selector        schema.Category
	Sort            []string
	SortReverse     bool
	Filters         map[string][]string
	Offset          *int
	Limit           *int
	Keys            []string
	WithEmptyValues bool
}

// ParseOptions validates the query arguments of a GET against the terminal
// table. Sort, filter, key projection and pagination apply only to
// collections serialized with depth > 0.
func ParseOptions(args url.Values, table *schema.Table, isCollection bool) (Options, error) {
	opts := Options{Filters: map[string][]string{}}

	if raw := args.Get(ParamSelector); raw != "" {
		selector := schema.Category(raw)
		switch selector {
		case schema.CategoryConfiguration, schema.CategoryStatus, schema.CategoryStatistics:
			opts.Selector = selector
		default:
			return opts, apperrors.NewDataValidationFailed(
				fmt.Sprintf("Invalid selector: %s", raw))
		}
	}

	depth, err := parseDepth(args)
	if err != nil {
		return opts, err
	}
	opts.Depth = depth

	if !isCollection {
		return opts, validateNonPluralArgs(args)
	}

	valid := validKeys(table)

	sortValues := paramList(args, ParamSort)
	if len(sortValues) > 0 {
		if strings.HasPrefix(sortValues[0], "-") {
			opts.SortReverse = true
			sortValues[0] = strings.TrimPrefix(sortValues[0], "-")
		}
		for _, column := range sortValues {
			if !valid[column] {
				return opts, apperrors.NewDataValidationFailed(
					fmt.Sprintf("Invalid key: %s", column))
			}
		}
		opts.Sort = sortValues
	}

	for _, column := range paramList(args, ParamKeys) {
		if !valid[column] {
			return opts, apperrors.NewDataValidationFailed(
				fmt.Sprintf("Invalid key: %s", column))
		}
		opts.Keys = append(opts.Keys, column)
	}

	for key := range args {
		switch key {
		case ParamDepth, ParamSelector, ParamSort, ParamOffset, ParamLimit, ParamKeys:
			continue
		}
		if !valid[key] {
			return opts, apperrors.NewDataValidationFailed(
				fmt.Sprintf("Invalid filter column: %s", key))
		}
		opts.Filters[key] = paramList(args, key)
	}

	if raw := args.Get(ParamOffset); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil {
			return opts, apperrors.NewDataValidationFailed("Pagination indexes must be numbers")
		}
		opts.Offset = &offset
	}
	if raw := args.Get(ParamLimit); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return opts, apperrors.NewDataValidationFailed("Pagination indexes must be numbers")
		}
		opts.Limit = &limit
	}

	if opts.Depth == 0 && (len(opts.Sort) > 0 || len(opts.Filters) > 0 ||
		len(opts.Keys) > 0 || opts.Offset != nil || opts.Limit != nil) {
		return opts, apperrors.NewDataValidationFailed(
			"Sort, filter, keys and pagination parameters are only supported for depth > 0")
	}

	return opts, nil
}

func parseDepth(args url.Values) (int, error) {
	raw := args.Get(ParamDepth)
	if raw == "" {
		return 0, nil
	}
	depth, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperrors.NewDataValidationFailed("Depth parameter must be a number")
	}
	if depth < DepthMin || depth > DepthMax {
		return 0, apperrors.NewDataValidationFailed(fmt.Sprintf(
			"Depth parameter must be greater or equal than %d and lower or equal than %d",
			DepthMin, DepthMax))
	}
	return depth, nil
}

// validateNonPluralArgs rejects collection-only parameters on a single
// resource. Only selector and depth pass.
func validateNonPluralArgs(args url.Values) error {
	for key := range args {
		switch key {
		case ParamSelector, ParamDepth:
		default:
			return apperrors.NewDataValidationFailed(
				"Sort, filter, pagination and keys parameters are only supported for resource collections")
		}
	}
	return nil
}

// paramList gathers the values of a repeatable, comma-separable parameter.
func paramList(args url.Values, name string) []string {
	var out []string
	for _, raw := range args[name] {
		out = append(out, strings.Split(raw, ",")...)
	}
	return out
}

// validKeys collects the column names a sort, filter or keys argument may
// name.
func validKeys(table *schema.Table) map[string]bool {
	valid := map[string]bool{}
	for name := range table.Config {
		valid[name] = true
	}
	for name := range table.Status {
		valid[name] = true
	}
	for name := range table.Stats {
		valid[name] = true
	}
	for name := range table.References {
		valid[name] = true
	}
	return valid
}
