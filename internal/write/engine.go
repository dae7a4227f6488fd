// Package write implements the mutating side of the REST surface: POST, PUT,
// PATCH and DELETE over resolved resources, plus the declarative
// full-configuration document. All mutations of one request run inside one
// transaction; table validators are recorded along the way and executed
// before the caller commits.
package write

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openswitch/restd/internal/ovsdb"
	"github.com/openswitch/restd/internal/query"
	"github.com/openswitch/restd/internal/resolver"
	"github.com/openswitch/restd/internal/schema"
	"github.com/openswitch/restd/internal/validator"
)

// Engine executes write requests against a database replica.
type Engine struct {
	schema   *schema.Schema
	registry *validator.Registry
	reader   *query.Engine
	logger   *zap.Logger
}

// New builds a write engine. reader serves the current configuration view
// for PATCH; registry may come from validator.DefaultRegistry or carry
// additional plugins.
func New(s *schema.Schema, registry *validator.Registry, reader *query.Engine, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if registry == nil {
		registry = validator.NewRegistry(logger)
	}
	return &Engine{schema: s, registry: registry, reader: reader, logger: logger}
}

func (e *Engine) adapter(txn *ovsdb.Txn) *validator.Adapter {
	return validator.NewAdapter(e.registry, e.schema, txn)
}

// parentOf returns the chain node preceding the terminal, or nil when the
// chain is the System row alone.
func parentOf(chain *resolver.Resource) *resolver.Resource {
	if chain.Next == nil {
		return nil
	}
	node := chain
	for node.Next.Next != nil {
		node = node.Next
	}
	return node
}

// rowMutable decides whether REST may create or delete this particular row.
// Static tables answer from the schema alone; a table with dynamic
// categories additionally needs at least one URI index column in effective
// configuration category, otherwise the row cannot be named by writable
// state.
func rowMutable(table *schema.Table, get func(string) any) bool {
	if !table.Mutable {
		return false
	}
	if len(table.Dynamic) == 0 {
		return true
	}
	for _, index := range table.Indexes {
		if index == "uuid" {
			continue
		}
		if table.EffectiveCategory(index, get) == schema.CategoryConfiguration {
			return true
		}
	}
	return false
}

// referenceIDs flattens a reference column value into row UUIDs.
func referenceIDs(value any) []uuid.UUID {
	switch refs := value.(type) {
	case uuid.UUID:
		if refs != uuid.Nil {
			return []uuid.UUID{refs}
		}
	case []uuid.UUID:
		return refs
	case map[string]uuid.UUID:
		out := make([]uuid.UUID, 0, len(refs))
		for _, id := range refs {
			out = append(out, id)
		}
		return out
	}
	return nil
}

// addReference inserts id into a reference column, preserving the column's
// shape. Key/value columns need the map key.
func addReference(txn *ovsdb.Txn, table string, row *ovsdb.Row, column string, key string, id uuid.UUID, ref *schema.Reference) {
	switch {
	case ref.KVType:
		members := map[string]uuid.UUID{}
		if existing, ok := row.Get(column).(map[string]uuid.UUID); ok {
			for k, v := range existing {
				members[k] = v
			}
		}
		members[key] = id
		txn.Set(table, row, column, members)
	case ref.NMax == 1:
		txn.Set(table, row, column, id)
	default:
		existing, _ := row.Get(column).([]uuid.UUID)
		members := make([]uuid.UUID, 0, len(existing)+1)
		members = append(members, existing...)
		members = append(members, id)
		txn.Set(table, row, column, members)
	}
}

// removeReference drops id from one reference column of one row.
func removeReference(txn *ovsdb.Txn, table string, row *ovsdb.Row, column string, id uuid.UUID) {
	switch refs := row.Get(column).(type) {
	case uuid.UUID:
		if refs == id {
			txn.Set(table, row, column, nil)
		}
	case []uuid.UUID:
		out := make([]uuid.UUID, 0, len(refs))
		for _, item := range refs {
			if item != id {
				out = append(out, item)
			}
		}
		if len(out) == len(refs) {
			return
		}
		if len(out) == 0 {
			txn.Set(table, row, column, nil)
			return
		}
		txn.Set(table, row, column, out)
	case map[string]uuid.UUID:
		out := make(map[string]uuid.UUID, len(refs))
		for key, item := range refs {
			if item != id {
				out[key] = item
			}
		}
		if len(out) == len(refs) {
			return
		}
		if len(out) == 0 {
			txn.Set(table, row, column, nil)
			return
		}
		txn.Set(table, row, column, out)
	}
}

// scrubReferences removes every reference held anywhere in the database to a
// row about to be deleted.
func (e *Engine) scrubReferences(txn *ovsdb.Txn, tableName string, id uuid.UUID) {
	for holderTable, columns := range e.schema.ReferencedBy[tableName] {
		for _, row := range txn.Rows(holderTable) {
			for _, column := range columns {
				removeReference(txn, holderTable, row, column, id)
			}
		}
	}
}
