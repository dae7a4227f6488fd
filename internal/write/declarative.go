package write

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/openswitch/restd/internal/ovsdb"
	"github.com/openswitch/restd/internal/resolver"
	"github.com/openswitch/restd/internal/schema"
	"github.com/openswitch/restd/internal/validator"
	apperrors "github.com/openswitch/restd/pkg/errors"
)

// The declarative configuration document nests the System row under its
// table name and every parentless table under its plural name as
// {index: row}. Row documents hold configuration columns, forward children
// under their column name, back-referenced children under the child table's
// plural name, and reference columns as URI index strings.

type pendingRefs struct {
	table *schema.Table
	row   *ovsdb.Row
	doc   map[string]any
}

type applyState struct {
	txn   *ovsdb.Txn
	a     *validator.Adapter
	seen  map[uuid.UUID]bool
	refs  map[string]map[string]*ovsdb.Row
	pass2 []pendingRefs
}

func (st *applyState) register(table string, key string, row *ovsdb.Row) {
	if st.refs[table] == nil {
		st.refs[table] = map[string]*ovsdb.Row{}
	}
	st.refs[table][key] = row
}

// DumpConfig captures the writable state of the database as a declarative
// configuration document. Rows REST could not recreate are left out.
func (e *Engine) DumpConfig(r ovsdb.Reader) map[string]any {
	out := map[string]any{}
	if system := e.systemRow(r); system != nil {
		out[resolver.SystemTable] = e.dumpRow(r, e.schema.Table(resolver.SystemTable), system)
	}
	for name, table := range e.schema.Tables {
		if name == resolver.SystemTable || table.Parent != "" {
			continue
		}
		rows := map[string]any{}
		for _, row := range r.Rows(name) {
			if !rowMutable(table, row.Get) {
				continue
			}
			rows[resolver.RowToIndex(e.schema, r, name, row, nil)] = e.dumpRow(r, table, row)
		}
		if len(rows) > 0 {
			out[table.PluralName] = rows
		}
	}
	return out
}

func (e *Engine) dumpRow(r ovsdb.Reader, table *schema.Table, row *ovsdb.Row) map[string]any {
	doc := map[string]any{}

	for name := range table.Config {
		if table.EffectiveCategory(name, row.Get) != schema.CategoryConfiguration {
			continue
		}
		if value := row.Get(name); value != nil {
			doc[name] = value
		}
	}
	// Index columns name the row regardless of category.
	for _, index := range table.Indexes {
		if index == "uuid" {
			continue
		}
		if _, ok := doc[index]; ok {
			continue
		}
		if _, isRef := table.References[index]; isRef {
			continue
		}
		if value := row.Get(index); value != nil {
			doc[index] = value
		}
	}

	for name, ref := range table.References {
		if !ref.Column.Category.Is(schema.CategoryConfiguration) {
			continue
		}
		switch ref.Relation {
		case schema.RelationReference:
			var indexes []string
			for _, id := range referenceIDs(row.Get(name)) {
				target := r.Row(ref.RefTable, id)
				if target == nil {
					continue
				}
				indexes = append(indexes, resolver.RowToIndex(e.schema, r, ref.RefTable, target, nil))
			}
			if len(indexes) == 0 {
				continue
			}
			if ref.NMax == 1 {
				doc[name] = indexes[0]
			} else {
				doc[name] = indexes
			}

		case schema.RelationChild:
			childTable := e.schema.Table(ref.RefTable)
			children := map[string]any{}
			switch members := row.Get(name).(type) {
			case map[string]uuid.UUID:
				for key, id := range members {
					if child := r.Row(ref.RefTable, id); child != nil {
						children[key] = e.dumpRow(r, childTable, child)
					}
				}
			default:
				for _, id := range referenceIDs(members) {
					child := r.Row(ref.RefTable, id)
					if child == nil {
						continue
					}
					key := resolver.RowToIndex(e.schema, r, ref.RefTable, child, row)
					children[key] = e.dumpRow(r, childTable, child)
				}
			}
			if len(children) > 0 {
				doc[name] = children
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
		rows := map[string]any{}
		for _, child := range resolver.BackReferenceChildren(e.schema, r, table.Name, row.UUID, childName) {
			if !rowMutable(childTable, child.Get) {
				continue
			}
			rows[resolver.RowToIndex(e.schema, r, childName, child, row)] = e.dumpRow(r, childTable, child)
		}
		if len(rows) > 0 {
			doc[childTable.PluralName] = rows
		}
	}
	return doc
}

// ApplyConfig replaces the writable state of the database with a declarative
// configuration document. Rows are created or updated in a first pass and
// reference columns resolved in a second, so references between rows created
// by the same document always bind.
func (e *Engine) ApplyConfig(ctx context.Context, txn *ovsdb.Txn, doc map[string]any) error {
	system := e.systemRow(txn)
	if system == nil {
		return apperrors.NewInternal("System row is not present")
	}
	st := &applyState{
		txn:  txn,
		a:    e.adapter(txn),
		seen: map[uuid.UUID]bool{},
		refs: map[string]map[string]*ovsdb.Row{},
	}

	sysTable := e.schema.Table(resolver.SystemTable)
	sysDoc, _ := doc[resolver.SystemTable].(map[string]any)
	if sysDoc == nil {
		sysDoc = map[string]any{}
	}
	if err := e.applyColumns(st, sysTable, system, sysDoc, false); err != nil {
		return err
	}
	st.a.Record(validator.OpUpdate, sysTable.Name, system, "", nil)
	if err := e.applyChildren(st, sysTable, system, sysDoc); err != nil {
		return err
	}

	for name, table := range e.schema.Tables {
		if name == resolver.SystemTable || table.Parent != "" || !table.Mutable {
			continue
		}
		rows, _ := doc[table.PluralName].(map[string]any)
		if err := e.syncTopLevel(st, table, rows); err != nil {
			return err
		}
	}

	if err := e.resolvePass2(st); err != nil {
		return err
	}
	return st.a.Exec()
}

// applyColumns writes the configuration columns of one row and queues its
// reference columns for the second pass.
func (e *Engine) applyColumns(st *applyState, table *schema.Table, row *ovsdb.Row, doc map[string]any, isNew bool) error {
	for name, col := range table.Config {
		raw, ok := doc[name]
		if ok {
			if !col.Mutable && !isNew {
				continue
			}
			value, err := verifyColumnValue(col, raw)
			if err != nil {
				return err
			}
			st.txn.Set(table.Name, row, name, value)
		} else if !isNew && col.Mutable && !table.IsIndexColumn(name) {
			st.txn.Set(table.Name, row, name, nil)
		}
	}
	if isNew {
		// Identity columns outside the configuration category still name
		// new rows.
		for _, index := range table.Indexes {
			if index == "uuid" {
				continue
			}
			if _, ok := table.Config[index]; ok {
				continue
			}
			col := table.Column(index)
			if col == nil {
				continue
			}
			raw, ok := doc[index]
			if !ok {
				return apperrors.NewDataValidationFailed(
					fmt.Sprintf("Attribute is missing from request: %s", index))
			}
			value, err := verifyColumnValue(col, raw)
			if err != nil {
				return err
			}
			st.txn.Set(table.Name, row, index, value)
		}
	}
	st.pass2 = append(st.pass2, pendingRefs{table: table, row: row, doc: doc})
	return nil
}

// applyChildren synchronizes the child collections of one row against the
// document: present children are created or updated, absent ones deleted.
func (e *Engine) applyChildren(st *applyState, table *schema.Table, row *ovsdb.Row, doc map[string]any) error {
	for name, ref := range table.References {
		if ref.Relation != schema.RelationChild || !ref.Column.Category.Is(schema.CategoryConfiguration) {
			continue
		}
		desired, _ := doc[name].(map[string]any)
		if err := e.syncForwardChildren(st, table, row, name, ref, desired); err != nil {
			return err
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
		desired, _ := doc[childTable.PluralName].(map[string]any)
		if err := e.syncBackRefChildren(st, table, row, childTable, desired); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) syncForwardChildren(st *applyState, parentTable *schema.Table, parentRow *ovsdb.Row, column string, ref *schema.Reference, desired map[string]any) error {
	childTable := e.schema.Table(ref.RefTable)

	existing := map[string]*ovsdb.Row{}
	switch members := parentRow.Get(column).(type) {
	case map[string]uuid.UUID:
		for key, id := range members {
			if row := st.txn.Row(ref.RefTable, id); row != nil {
				existing[key] = row
			}
		}
	default:
		for _, id := range referenceIDs(members) {
			if row := st.txn.Row(ref.RefTable, id); row != nil {
				existing[resolver.RowToIndex(e.schema, st.txn, ref.RefTable, row, parentRow)] = row
			}
		}
	}

	for key, raw := range desired {
		docRow, ok := raw.(map[string]any)
		if !ok {
			return apperrors.NewDataValidationFailed(fmt.Sprintf("Invalid row data: %s", key))
		}
		row := existing[key]
		isNew := row == nil
		if isNew {
			if !childTable.Mutable {
				continue
			}
			inserted, err := st.txn.Insert(ref.RefTable)
			if err != nil {
				return apperrors.NewTransactionFailed("", err)
			}
			row = inserted
		}
		if err := e.applyColumns(st, childTable, row, docRow, isNew); err != nil {
			return err
		}
		if isNew {
			if !rowMutable(childTable, row.Get) {
				if err := st.txn.Delete(ref.RefTable, row.UUID); err != nil {
					return apperrors.NewTransactionFailed("", err)
				}
				continue
			}
			addReference(st.txn, parentTable.Name, parentRow, column, key, row.UUID, ref)
			st.a.Record(validator.OpCreate, childTable.Name, row, parentTable.Name, parentRow)
		} else {
			st.a.Record(validator.OpUpdate, childTable.Name, row, parentTable.Name, parentRow)
		}
		st.register(childTable.Name, parentRow.UUID.String()+"/"+key, row)
		if err := e.applyChildren(st, childTable, row, docRow); err != nil {
			return err
		}
	}

	for key, row := range existing {
		if _, keep := desired[key]; keep {
			continue
		}
		if !rowMutable(childTable, row.Get) {
			continue
		}
		e.cascade(st.txn, st.a, childTable, row, parentTable.Name, parentRow, st.seen)
	}
	return nil
}

func (e *Engine) syncBackRefChildren(st *applyState, parentTable *schema.Table, parentRow *ovsdb.Row, childTable *schema.Table, desired map[string]any) error {
	parentColumn := childTable.ParentColumn()

	existing := map[string]*ovsdb.Row{}
	for _, row := range resolver.BackReferenceChildren(e.schema, st.txn, parentTable.Name, parentRow.UUID, childTable.Name) {
		existing[resolver.RowToIndex(e.schema, st.txn, childTable.Name, row, parentRow)] = row
	}

	for key, raw := range desired {
		docRow, ok := raw.(map[string]any)
		if !ok {
			return apperrors.NewDataValidationFailed(fmt.Sprintf("Invalid row data: %s", key))
		}
		row := existing[key]
		isNew := row == nil
		if isNew {
			inserted, err := st.txn.Insert(childTable.Name)
			if err != nil {
				return apperrors.NewTransactionFailed("", err)
			}
			row = inserted
		}
		if err := e.applyColumns(st, childTable, row, docRow, isNew); err != nil {
			return err
		}
		if isNew {
			if !rowMutable(childTable, row.Get) {
				if err := st.txn.Delete(childTable.Name, row.UUID); err != nil {
					return apperrors.NewTransactionFailed("", err)
				}
				continue
			}
			st.txn.Set(childTable.Name, row, parentColumn, parentRow.UUID)
			st.a.Record(validator.OpCreate, childTable.Name, row, parentTable.Name, parentRow)
		} else {
			st.a.Record(validator.OpUpdate, childTable.Name, row, parentTable.Name, parentRow)
		}
		st.register(childTable.Name, parentRow.UUID.String()+"/"+key, row)
		if err := e.applyChildren(st, childTable, row, docRow); err != nil {
			return err
		}
	}

	for key, row := range existing {
		if _, keep := desired[key]; keep {
			continue
		}
		if !rowMutable(childTable, row.Get) {
			continue
		}
		e.cascade(st.txn, st.a, childTable, row, parentTable.Name, parentRow, st.seen)
	}
	return nil
}

func (e *Engine) syncTopLevel(st *applyState, table *schema.Table, desired map[string]any) error {
	existing := map[string]*ovsdb.Row{}
	for _, row := range st.txn.Rows(table.Name) {
		existing[resolver.RowToIndex(e.schema, st.txn, table.Name, row, nil)] = row
	}

	for key, raw := range desired {
		docRow, ok := raw.(map[string]any)
		if !ok {
			return apperrors.NewDataValidationFailed(fmt.Sprintf("Invalid row data: %s", key))
		}
		row := existing[key]
		isNew := row == nil
		if isNew {
			inserted, err := st.txn.Insert(table.Name)
			if err != nil {
				return apperrors.NewTransactionFailed("", err)
			}
			row = inserted
		}
		if err := e.applyColumns(st, table, row, docRow, isNew); err != nil {
			return err
		}
		if isNew {
			if !rowMutable(table, row.Get) {
				if err := st.txn.Delete(table.Name, row.UUID); err != nil {
					return apperrors.NewTransactionFailed("", err)
				}
				continue
			}
			st.a.Record(validator.OpCreate, table.Name, row, "", nil)
		} else {
			st.a.Record(validator.OpUpdate, table.Name, row, "", nil)
		}
		st.register(table.Name, key, row)
		if err := e.applyChildren(st, table, row, docRow); err != nil {
			return err
		}
	}

	for key, row := range existing {
		if _, keep := desired[key]; keep {
			continue
		}
		if !rowMutable(table, row.Get) {
			continue
		}
		e.cascade(st.txn, st.a, table, row, "", nil, st.seen)
	}
	return nil
}

// resolvePass2 binds reference columns once every row of the document
// exists. Absent reference columns are cleared, matching the replace
// semantics of the document.
func (e *Engine) resolvePass2(st *applyState) error {
	for _, pending := range st.pass2 {
		for name, ref := range pending.table.References {
			if ref.Relation != schema.RelationReference || !ref.Column.Category.Is(schema.CategoryConfiguration) {
				continue
			}
			raw, ok := pending.doc[name]
			if !ok {
				if !ref.Column.Mutable {
					continue
				}
				st.txn.Set(pending.table.Name, pending.row, name, nil)
				continue
			}
			value, err := e.resolveIndexColumn(st, ref, raw)
			if err != nil {
				return err
			}
			st.txn.Set(pending.table.Name, pending.row, name, value)
		}
	}
	return nil
}

func (e *Engine) resolveIndexColumn(st *applyState, ref *schema.Reference, raw any) (any, error) {
	var indexes []string
	switch value := raw.(type) {
	case string:
		indexes = []string{value}
	case []string:
		indexes = value
	case []any:
		for _, item := range value {
			index, ok := item.(string)
			if !ok {
				return nil, invalidValue(ref.Name)
			}
			indexes = append(indexes, index)
		}
	default:
		return nil, invalidValue(ref.Name)
	}

	ids := make([]uuid.UUID, 0, len(indexes))
	for _, index := range indexes {
		row, err := e.resolveIndexRef(st, ref.RefTable, index)
		if err != nil {
			return nil, err
		}
		ids = append(ids, row.UUID)
	}
	if ref.NMax == 1 {
		if len(ids) != 1 {
			return nil, invalidValue(ref.Name)
		}
		return ids[0], nil
	}
	return ids, nil
}

func (e *Engine) resolveIndexRef(st *applyState, tableName string, index string) (*ovsdb.Row, error) {
	if row := st.refs[tableName][index]; row != nil {
		return row, nil
	}
	for _, row := range st.txn.Rows(tableName) {
		if resolver.RowToIndex(e.schema, st.txn, tableName, row, nil) == index {
			return row, nil
		}
	}
	return nil, apperrors.NewDataValidationFailed(fmt.Sprintf("Invalid reference: %s", index))
}

func (e *Engine) systemRow(r ovsdb.Reader) *ovsdb.Row {
	for _, row := range r.Rows(resolver.SystemTable) {
		return row
	}
	return nil
}
