package write

import (
	"context"

	"github.com/openswitch/restd/internal/ovsdb"
	"github.com/openswitch/restd/internal/resolver"
	"github.com/openswitch/restd/internal/schema"
	"github.com/openswitch/restd/internal/validator"
	apperrors "github.com/openswitch/restd/pkg/errors"
)

// Put replaces the configuration category of one row: present columns are
// set, absent mutable columns reset to empty. URI index columns name the row
// and are left untouched.
func (e *Engine) Put(ctx context.Context, txn *ovsdb.Txn, chain *resolver.Resource, body []byte) error {
	if chain.IsCollection() {
		return apperrors.NewMethodNotAllowed("PUT is only allowed on resource instances")
	}
	terminal := chain.Terminal()
	table := e.schema.Table(terminal.Table)
	row := txn.Row(terminal.Table, terminal.Row)
	if row == nil {
		return apperrors.NewNotFound(terminal.Table)
	}

	v, err := e.verifyBody(txn, table, nil, body, false, false)
	if err != nil {
		return err
	}
	e.applyConfig(txn, table, row, v)

	a := e.adapter(txn)
	parentTable, parentRow := parentContext(txn, chain)
	a.Record(validator.OpUpdate, table.Name, row, parentTable, parentRow)
	return a.Exec()
}

// applyConfig writes the verified configuration onto a row as a full
// replacement of the configuration category.
func (e *Engine) applyConfig(txn *ovsdb.Txn, table *schema.Table, row *ovsdb.Row, v *verified) {
	for name, col := range table.Config {
		if !col.Mutable || table.IsIndexColumn(name) {
			continue
		}
		if value, ok := v.columns[name]; ok {
			txn.Set(table.Name, row, name, value)
		} else {
			txn.Set(table.Name, row, name, nil)
		}
	}
	for name, ref := range table.References {
		if ref.Relation != schema.RelationReference || !ref.Column.Category.Is(schema.CategoryConfiguration) {
			continue
		}
		if value, ok := v.references[name]; ok {
			txn.Set(table.Name, row, name, value)
		} else {
			txn.Set(table.Name, row, name, nil)
		}
	}
}

func parentContext(txn *ovsdb.Txn, chain *resolver.Resource) (string, *ovsdb.Row) {
	parent := parentOf(chain)
	if parent == nil {
		return "", nil
	}
	return parent.Table, txn.Row(parent.Table, parent.Row)
}
