package write

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/openswitch/restd/internal/ovsdb"
	"github.com/openswitch/restd/internal/resolver"
	"github.com/openswitch/restd/internal/schema"
	"github.com/openswitch/restd/internal/validator"
	apperrors "github.com/openswitch/restd/pkg/errors"
)

// Delete removes a resource and its deletable children, children first. On a
// collection URI every deletable member goes; on an instance the row itself
// must be deletable. Every removed row is scrubbed from all reference
// columns before the deletion validators run.
func (e *Engine) Delete(ctx context.Context, txn *ovsdb.Txn, chain *resolver.Resource) error {
	terminal := chain.Terminal()
	parent := parentOf(chain)
	table := e.schema.Table(terminal.Table)
	a := e.adapter(txn)

	if chain.IsCollection() {
		if parent.Relation == resolver.RelationTopLevel {
			return apperrors.NewMethodNotAllowed("DELETE is not allowed on top-level collections")
		}
		parentRow := txn.Row(parent.Table, parent.Row)
		if parentRow == nil {
			return apperrors.NewNotFound(parent.Table)
		}
		seen := map[uuid.UUID]bool{}
		for _, row := range e.collectionMembers(txn, parent, parentRow, table) {
			if !rowMutable(table, row.Get) {
				continue
			}
			e.cascade(txn, a, table, row, parent.Table, parentRow, seen)
		}
		return a.Exec()
	}

	row := txn.Row(terminal.Table, terminal.Row)
	if row == nil {
		return apperrors.NewNotFound(terminal.Table)
	}
	if !rowMutable(table, row.Get) {
		return apperrors.NewMethodNotAllowed(
			fmt.Sprintf("%s resources cannot be deleted", table.PluralName))
	}
	parentTable, parentRow := parentContext(txn, chain)
	if !e.cascade(txn, a, table, row, parentTable, parentRow, map[uuid.UUID]bool{}) {
		return apperrors.NewMethodNotAllowed("Resource has children that cannot be deleted")
	}
	return a.Exec()
}

func (e *Engine) collectionMembers(txn *ovsdb.Txn, parent *resolver.Resource, parentRow *ovsdb.Row, table *schema.Table) []*ovsdb.Row {
	if parent.Relation == resolver.RelationChild {
		var out []*ovsdb.Row
		for _, id := range referenceIDs(parentRow.Get(parent.Column)) {
			if row := txn.Row(table.Name, id); row != nil {
				out = append(out, row)
			}
		}
		return out
	}
	return resolver.BackReferenceChildren(e.schema, txn, parent.Table, parentRow.UUID, table.Name)
}

// cascade records a row and its deletable children for deletion, children
// first. It reports false when a required forward child could not be
// deleted, in which case the row is retained. seen keeps a row from being
// recorded twice when reachable over more than one edge.
func (e *Engine) cascade(txn *ovsdb.Txn, a *validator.Adapter, table *schema.Table, row *ovsdb.Row, parentTable string, parentRow *ovsdb.Row, seen map[uuid.UUID]bool) bool {
	if result, visited := seen[row.UUID]; visited {
		return result
	}
	seen[row.UUID] = true
	retained := false

	for _, name := range childColumns(table) {
		ref := table.References[name]
		childTable := e.schema.Table(ref.RefTable)
		required := ref.NMin >= 1
		deletable := ref.Column.Category.Is(schema.CategoryConfiguration) && childTable.Mutable

		for _, id := range referenceIDs(row.Get(name)) {
			child := txn.Row(ref.RefTable, id)
			if child == nil {
				continue
			}
			if !deletable || !rowMutable(childTable, child.Get) ||
				!e.cascade(txn, a, childTable, child, table.Name, row, seen) {
				if required {
					retained = true
				}
			}
		}
	}

	for _, childName := range table.Children {
		if _, forward := table.References[childName]; forward {
			continue
		}
		childTable := e.schema.Table(childName)
		if childTable == nil || !childTable.Mutable {
			continue
		}
		for _, child := range resolver.BackReferenceChildren(e.schema, txn, table.Name, row.UUID, childName) {
			if !rowMutable(childTable, child.Get) {
				continue
			}
			e.cascade(txn, a, childTable, child, table.Name, row, seen)
		}
	}

	if retained {
		seen[row.UUID] = false
		return false
	}
	e.scrubReferences(txn, table.Name, row.UUID)
	a.Record(validator.OpDelete, table.Name, row, parentTable, parentRow)
	return true
}

// childColumns lists the forward child reference columns in stable order.
func childColumns(table *schema.Table) []string {
	var out []string
	for name, ref := range table.References {
		if ref.Relation == schema.RelationChild {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
