// Package query serializes resolved resources to JSON documents: single rows
// with category buckets, collections as URI lists at depth 0 or embedded row
// objects at depth > 0, with sort, filter, key projection and pagination over
// collection results.
package query

import (
	"context"
	"net/url"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openswitch/restd/internal/ovsdb"
	"github.com/openswitch/restd/internal/resolver"
	"github.com/openswitch/restd/internal/schema"
	apperrors "github.com/openswitch/restd/pkg/errors"
)

// Fetcher pulls on-demand columns into the replica before they are read.
type Fetcher interface {
	FetchRows(ctx context.Context, table string, ids []uuid.UUID) error
	FetchTable(ctx context.Context, table string) error
}

// Engine executes read requests against a database replica.
type Engine struct {
	schema  *schema.Schema
	fetcher Fetcher
	logger  *zap.Logger
}

// New builds a read engine. fetcher may be nil when no table is fetched on
// demand.
func New(s *schema.Schema, fetcher Fetcher, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{schema: s, fetcher: fetcher, logger: logger}
}

// Get serializes the resource addressed by chain. A single row yields a
// category-bucketed object, a collection yields a list of URIs (depth 0) or
// of row objects (depth > 0) with post-processing applied.
func (e *Engine) Get(ctx context.Context, r ovsdb.Reader, chain *resolver.Resource, requestURI string, opts Options) (any, error) {
	terminal := chain.Terminal()
	requestURI = strings.TrimRight(requestURI, "/")
	e.logger.Debug("serializing resource",
		zap.String("table", terminal.Table),
		zap.String("uri", requestURI),
		zap.Int("depth", opts.Depth))

	sr := &serializer{
		s:       e.schema,
		r:       r,
		fetcher: e.fetcher,
		opts:    opts,
		cache:   make(map[rowKey]map[string]any),
		fetched: make(map[string]map[uuid.UUID]bool),
	}

	if !chain.IsCollection() {
		if err := sr.fetchRows(ctx, terminal.Table, []uuid.UUID{terminal.Row}); err != nil {
			return nil, err
		}
		return sr.row(ctx, terminal.Table, terminal.Row, requestURI, opts.Depth)
	}

	parent := chain.Parent()
	if parent == nil {
		return nil, apperrors.NewInternal("collection resource without a parent")
	}

	var result any
	var err error
	switch parent.Relation {
	case resolver.RelationTopLevel:
		result, err = sr.table(ctx, terminal.Table, requestURI)
	case resolver.RelationBackReference:
		result, err = sr.backReferences(ctx, parent, terminal.Table, requestURI)
	default:
		result, err = sr.childColumn(ctx, parent, terminal.Table, requestURI)
	}
	if err != nil {
		return nil, err
	}

	if opts.Depth > 0 {
		if list, ok := result.([]any); ok {
			return postProcess(list, e.schema.Table(terminal.Table), opts)
		}
	}
	return result, nil
}

// rowKey identifies one unit of serialization work. The counter grows by one
// per nesting level, so a key can never reappear below itself.
type rowKey struct {
	table   string
	id      uuid.UUID
	uri     string
	depth   int
	counter int
}

type serializer struct {
	s       *schema.Schema
	r       ovsdb.Reader
	fetcher Fetcher
	opts    Options
	cache   map[rowKey]map[string]any
	fetched map[string]map[uuid.UUID]bool
}

// row serializes one row with an explicit work list: an item whose embedded
// children are not serialized yet pushes them and retries, completed items
// land in the cache.
func (sr *serializer) row(ctx context.Context, table string, id uuid.UUID, uri string, depth int) (map[string]any, error) {
	root := rowKey{table: table, id: id, uri: uri, depth: depth}
	stack := []rowKey{root}
	for len(stack) > 0 {
		item := stack[len(stack)-1]
		if _, ok := sr.cache[item]; ok {
			stack = stack[:len(stack)-1]
			continue
		}
		if err := sr.fetchRows(ctx, item.table, []uuid.UUID{item.id}); err != nil {
			return nil, err
		}
		missing, err := sr.process(item)
		if err != nil {
			return nil, err
		}
		if len(missing) == 0 {
			stack = stack[:len(stack)-1]
			continue
		}
		stack = append(stack, missing...)
	}
	return sr.cache[root], nil
}

// process attempts to serialize one work item. It returns the child items
// still missing from the cache, or caches the categorized result.
func (sr *serializer) process(item rowKey) ([]rowKey, error) {
	row := sr.r.Row(item.table, item.id)
	if row == nil {
		// Dangling reference, serialize as absent.
		sr.cache[item] = nil
		return nil, nil
	}
	table := sr.s.Table(item.table)
	counter := item.counter + 1

	config := map[string]any{}
	status := map[string]any{}
	stats := map[string]any{}

	for _, name := range table.Columns {
		col := table.Column(name)
		if col == nil {
			continue
		}
		bucket := sr.bucket(table.EffectiveCategory(name, row.Get), config, status, stats)
		if bucket == nil {
			continue
		}
		value := row.Get(name)
		if isEmptyValue(value) {
			if !sr.opts.WithEmptyValues {
				continue
			}
			value = emptyFor(col)
		}
		bucket[name] = jsonValue(value)
	}

	var missing []rowKey
	for _, name := range sortedRefNames(table) {
		ref := table.References[name]
		// The parent column of a back-referenced child stays out of its
		// own document.
		if ref.RefTable == table.Parent {
			continue
		}
		bucket := sr.bucket(table.EffectiveCategory(name, row.Get), config, status, stats)
		if bucket == nil {
			continue
		}

		childDepth := item.depth
		if counter >= item.depth {
			childDepth = 0
		}
		colURI := item.uri + "/" + name
		value := row.Get(name)

		if childDepth == 0 {
			if data := sr.columnURIs(ref, value, colURI, row); !isEmptyColumn(data) {
				bucket[name] = data
			}
			continue
		}

		data, miss := sr.columnRows(ref, value, colURI, childDepth, counter)
		if len(miss) > 0 {
			missing = append(missing, miss...)
			continue
		}
		if !isEmptyColumn(data) {
			bucket[name] = data
		}
	}
	if len(missing) > 0 {
		return missing, nil
	}

	sr.cache[item] = categorize(config, stats, status, sr.opts.Selector)
	return nil, nil
}

// columnURIs renders a reference column at depth 0: canonical URIs for plain
// references, request-relative URIs for children.
func (sr *serializer) columnURIs(ref *schema.Reference, value any, uri string, parentRow *ovsdb.Row) any {
	if ref.Relation == schema.RelationReference {
		switch v := value.(type) {
		case uuid.UUID:
			if row := sr.r.Row(ref.RefTable, v); row != nil {
				return resolver.RowToURI(sr.s, sr.r, ref.RefTable, row)
			}
		case []uuid.UUID:
			out := make([]any, 0, len(v))
			for _, id := range v {
				if row := sr.r.Row(ref.RefTable, id); row != nil {
					out = append(out, resolver.RowToURI(sr.s, sr.r, ref.RefTable, row))
				}
			}
			sortURIs(out)
			return out
		case map[string]uuid.UUID:
			out := map[string]any{}
			for k, id := range v {
				if row := sr.r.Row(ref.RefTable, id); row != nil {
					out[k] = resolver.RowToURI(sr.s, sr.r, ref.RefTable, row)
				}
			}
			return out
		}
		return nil
	}

	switch v := value.(type) {
	case uuid.UUID:
		if v == uuid.Nil {
			return nil
		}
		if ref.NMax == 1 {
			return uri
		}
		if row := sr.r.Row(ref.RefTable, v); row != nil {
			return uri + "/" + resolver.RowToIndex(sr.s, sr.r, ref.RefTable, row, parentRow)
		}
	case []uuid.UUID:
		if ref.NMax == 1 && len(v) > 0 {
			return uri
		}
		out := make([]any, 0, len(v))
		for _, id := range v {
			if row := sr.r.Row(ref.RefTable, id); row != nil {
				out = append(out, uri+"/"+resolver.RowToIndex(sr.s, sr.r, ref.RefTable, row, parentRow))
			}
		}
		sortURIs(out)
		return out
	case map[string]uuid.UUID:
		out := map[string]any{}
		for k := range v {
			out[k] = uri + "/" + url.PathEscape(k)
		}
		return out
	}
	return nil
}

// columnRows renders a reference column at depth > 0 from cached child
// documents, reporting the ones not serialized yet.
func (sr *serializer) columnRows(ref *schema.Reference, value any, uri string, depth, counter int) (any, []rowKey) {
	child := func(id uuid.UUID) (map[string]any, *rowKey) {
		key := rowKey{table: ref.RefTable, id: id, uri: uri, depth: depth, counter: counter}
		if data, ok := sr.cache[key]; ok {
			return data, nil
		}
		return nil, &key
	}

	var missing []rowKey
	switch v := value.(type) {
	case uuid.UUID:
		if v == uuid.Nil {
			return nil, nil
		}
		data, miss := child(v)
		if miss != nil {
			return nil, []rowKey{*miss}
		}
		return data, nil
	case []uuid.UUID:
		out := make([]any, 0, len(v))
		for _, id := range v {
			data, miss := child(id)
			if miss != nil {
				missing = append(missing, *miss)
				continue
			}
			if data != nil {
				out = append(out, data)
			}
		}
		if len(missing) > 0 {
			return nil, missing
		}
		return out, nil
	case map[string]uuid.UUID:
		out := map[string]any{}
		for k, id := range v {
			data, miss := child(id)
			if miss != nil {
				missing = append(missing, *miss)
				continue
			}
			if data != nil {
				out[k] = data
			}
		}
		if len(missing) > 0 {
			return nil, missing
		}
		return out, nil
	}
	return nil, nil
}

// table serializes a top-level collection.
func (sr *serializer) table(ctx context.Context, table, uri string) (any, error) {
	rows := sr.sortedRows(table, sr.r.Rows(table))
	if sr.opts.Depth == 0 {
		out := make([]any, 0, len(rows))
		for _, row := range rows {
			out = append(out, uri+"/"+resolver.RowToIndex(sr.s, sr.r, table, row, nil))
		}
		return out, nil
	}
	if err := sr.fetchTable(ctx, table); err != nil {
		return nil, err
	}
	return sr.rowList(ctx, table, rows, uri)
}

// backReferences serializes the rows of a back-referenced child collection.
func (sr *serializer) backReferences(ctx context.Context, parent *resolver.Resource, table, uri string) (any, error) {
	rows := sr.sortedRows(table, rowsByUUID(resolver.BackReferenceChildren(sr.s, sr.r, parent.Table, parent.Row, table)))
	if sr.opts.Depth == 0 {
		out := make([]any, 0, len(rows))
		for _, row := range rows {
			out = append(out, uri+"/"+resolver.RowToIndex(sr.s, sr.r, table, row, nil))
		}
		return out, nil
	}
	ids := make([]uuid.UUID, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.UUID)
	}
	if err := sr.fetchRows(ctx, table, ids); err != nil {
		return nil, err
	}
	return sr.rowList(ctx, table, rows, uri)
}

// childColumn serializes a forward child collection held by a parent column.
func (sr *serializer) childColumn(ctx context.Context, parent *resolver.Resource, childTable, uri string) (any, error) {
	row := sr.r.Row(parent.Table, parent.Row)
	if row == nil {
		return nil, apperrors.NewNotFound(uri)
	}
	ref := sr.s.Table(parent.Table).References[parent.Column]
	if ref == nil {
		return nil, apperrors.NewNotFound(uri)
	}
	value := row.Get(parent.Column)

	if sr.opts.Depth == 0 {
		data := sr.columnURIs(ref, value, uri, row)
		if data == nil {
			if ref.KVType {
				return map[string]any{}, nil
			}
			return []any{}, nil
		}
		return data, nil
	}

	if err := sr.fetchRows(ctx, childTable, referenceIDs(value)); err != nil {
		return nil, err
	}
	if members, ok := value.(map[string]uuid.UUID); ok {
		out := map[string]any{}
		for k, id := range members {
			data, err := sr.row(ctx, childTable, id, uri, sr.opts.Depth)
			if err != nil {
				return nil, err
			}
			if data != nil {
				out[k] = data
			}
		}
		return out, nil
	}
	rows := make([]*ovsdb.Row, 0)
	for _, id := range referenceIDs(value) {
		if member := sr.r.Row(childTable, id); member != nil {
			rows = append(rows, member)
		}
	}
	return sr.rowList(ctx, childTable, rows, uri)
}

func (sr *serializer) rowList(ctx context.Context, table string, rows []*ovsdb.Row, uri string) ([]any, error) {
	out := make([]any, 0, len(rows))
	for _, row := range rows {
		data, err := sr.row(ctx, table, row.UUID, uri, sr.opts.Depth)
		if err != nil {
			return nil, err
		}
		if data != nil {
			out = append(out, data)
		}
	}
	return out, nil
}

// sortedRows orders rows by their URI index so collection output, and with it
// pagination, is stable.
func (sr *serializer) sortedRows(table string, rows map[uuid.UUID]*ovsdb.Row) []*ovsdb.Row {
	out := make([]*ovsdb.Row, 0, len(rows))
	for _, row := range rows {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool {
		left := resolver.RowToIndex(sr.s, sr.r, table, out[i], nil)
		right := resolver.RowToIndex(sr.s, sr.r, table, out[j], nil)
		if left == right {
			return out[i].UUID.String() < out[j].UUID.String()
		}
		return left < right
	})
	return out
}

func (sr *serializer) fetchRows(ctx context.Context, table string, ids []uuid.UUID) error {
	if sr.fetcher == nil || sr.s.Table(table).FetchKind == schema.FetchNone {
		return nil
	}
	seen := sr.fetched[table]
	if seen == nil {
		seen = make(map[uuid.UUID]bool)
		sr.fetched[table] = seen
	}
	pending := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			pending = append(pending, id)
			seen[id] = true
		}
	}
	if len(pending) == 0 {
		return nil
	}
	return sr.fetcher.FetchRows(ctx, table, pending)
}

func (sr *serializer) fetchTable(ctx context.Context, table string) error {
	if sr.fetcher == nil || sr.s.Table(table).FetchKind == schema.FetchNone {
		return nil
	}
	if seen, ok := sr.fetched[table]; ok && seen[uuid.Nil] {
		return nil
	}
	if sr.fetched[table] == nil {
		sr.fetched[table] = make(map[uuid.UUID]bool)
	}
	sr.fetched[table][uuid.Nil] = true
	return sr.fetcher.FetchTable(ctx, table)
}

// bucket selects the output map for a category, or nil when the selector
// excludes it.
func (sr *serializer) bucket(cat schema.Category, config, status, stats map[string]any) map[string]any {
	if sr.opts.Selector != "" && sr.opts.Selector != cat {
		return nil
	}
	switch cat {
	case schema.CategoryConfiguration:
		return config
	case schema.CategoryStatus:
		return status
	case schema.CategoryStatistics:
		return stats
	}
	return nil
}

func categorize(config, stats, status map[string]any, selector schema.Category) map[string]any {
	switch selector {
	case schema.CategoryConfiguration:
		return map[string]any{string(schema.CategoryConfiguration): config}
	case schema.CategoryStatistics:
		return map[string]any{string(schema.CategoryStatistics): stats}
	case schema.CategoryStatus:
		return map[string]any{string(schema.CategoryStatus): status}
	default:
		return map[string]any{
			string(schema.CategoryConfiguration): config,
			string(schema.CategoryStatistics):    stats,
			string(schema.CategoryStatus):        status,
		}
	}
}

func sortedRefNames(t *schema.Table) []string {
	names := make([]string, 0, len(t.References))
	for name := range t.References {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sortURIs(list []any) {
	sort.Slice(list, func(i, j int) bool {
		left, _ := list[i].(string)
		right, _ := list[j].(string)
		return left < right
	})
}

func rowsByUUID(rows []*ovsdb.Row) map[uuid.UUID]*ovsdb.Row {
	out := make(map[uuid.UUID]*ovsdb.Row, len(rows))
	for _, row := range rows {
		out[row.UUID] = row
	}
	return out
}

func referenceIDs(value any) []uuid.UUID {
	switch v := value.(type) {
	case uuid.UUID:
		if v == uuid.Nil {
			return nil
		}
		return []uuid.UUID{v}
	case []uuid.UUID:
		return v
	case map[string]uuid.UUID:
		out := make([]uuid.UUID, 0, len(v))
		for _, id := range v {
			out = append(out, id)
		}
		return out
	}
	return nil
}

// isEmptyValue reports whether a stored value serializes to nothing: absent,
// or an empty set.
func isEmptyValue(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case []any:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	case []uuid.UUID:
		return len(v) == 0
	case map[string]uuid.UUID:
		return len(v) == 0
	case uuid.UUID:
		return v == uuid.Nil
	}
	return false
}

func isEmptyColumn(value any) bool {
	if s, ok := value.(string); ok {
		return s == ""
	}
	return isEmptyValue(value)
}

// emptyFor yields the explicit empty value of a column, falling back to the
// zero of its type.
func emptyFor(col *schema.Column) any {
	if col.EmptyValue != nil {
		return col.EmptyValue
	}
	if col.IsMap {
		return map[string]any{}
	}
	if col.IsList {
		return []any{}
	}
	switch col.Type {
	case schema.TypeInteger:
		return int64(0)
	case schema.TypeReal:
		return 0.0
	case schema.TypeBoolean:
		return false
	default:
		return ""
	}
}

func jsonValue(value any) any {
	switch v := value.(type) {
	case uuid.UUID:
		return v.String()
	case []uuid.UUID:
		out := make([]any, 0, len(v))
		for _, id := range v {
			out = append(out, id.String())
		}
		return out
	case map[string]uuid.UUID:
		out := make(map[string]any, len(v))
		for k, id := range v {
			out[k] = id.String()
		}
		return out
	default:
		return v
	}
}
