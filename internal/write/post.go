package write

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openswitch/restd/internal/ovsdb"
	"github.com/openswitch/restd/internal/resolver"
	"github.com/openswitch/restd/internal/schema"
	"github.com/openswitch/restd/internal/validator"
	apperrors "github.com/openswitch/restd/pkg/errors"
)

// Post creates one row under a collection URI, links it to its parent and
// runs the creation validators. It returns the new resource's URI index for
// the Location header.
func (e *Engine) Post(ctx context.Context, txn *ovsdb.Txn, chain *resolver.Resource, body []byte) (string, error) {
	if !chain.IsCollection() {
		return "", apperrors.NewMethodNotAllowed("POST is only allowed on resource collections")
	}
	terminal := chain.Terminal()
	parent := parentOf(chain)
	table := e.schema.Table(terminal.Table)
	if !table.Mutable {
		return "", apperrors.NewMethodNotAllowed(
			fmt.Sprintf("%s resources cannot be created", table.PluralName))
	}

	parentRow := txn.Row(parent.Table, parent.Row)
	if parentRow == nil {
		return "", apperrors.NewNotFound(parent.Table)
	}

	var childRef *schema.Reference
	if parent.Relation == resolver.RelationChild {
		childRef = e.schema.Table(parent.Table).References[parent.Column]
		if !childRef.Column.Category.Is(schema.CategoryConfiguration) {
			return "", apperrors.NewMethodNotAllowed(
				fmt.Sprintf("%s resources cannot be created", table.PluralName))
		}
	}

	v, err := e.verifyBody(txn, table, childRef, body, true, parent.Relation == resolver.RelationTopLevel)
	if err != nil {
		return "", err
	}
	if e.indexExists(txn, table, parent, parentRow, childRef, v) {
		return "", apperrors.NewDataValidationFailed("Resource already exists")
	}

	row, err := txn.Insert(table.Name)
	if err != nil {
		return "", apperrors.NewTransactionFailed("", err)
	}
	for name, value := range v.columns {
		txn.Set(table.Name, row, name, value)
	}
	for name, value := range v.references {
		txn.Set(table.Name, row, name, value)
	}
	if parent.Relation == resolver.RelationBackReference {
		txn.Set(table.Name, row, table.ParentColumn(), parentRow.UUID)
	}

	// The declared categories allowed the insert; the effective ones may
	// still mark the row unwritable once its values are known.
	if !rowMutable(table, row.Get) {
		if err := txn.Delete(table.Name, row.UUID); err != nil {
			return "", apperrors.NewTransactionFailed("", err)
		}
		return "", apperrors.NewMethodNotAllowed(
			fmt.Sprintf("%s resources of this kind cannot be created", table.PluralName))
	}

	switch parent.Relation {
	case resolver.RelationChild:
		addReference(txn, parent.Table, parentRow, parent.Column, v.kvKey, row.UUID, childRef)
	case resolver.RelationTopLevel:
		for _, entry := range v.refBy {
			for _, column := range entry.columns {
				addReference(txn, entry.table, entry.row, column, "", row.UUID, entry.ref[column])
			}
		}
	}

	a := e.adapter(txn)
	a.Record(validator.OpCreate, table.Name, row, parent.Table, parentRow)
	if err := a.Exec(); err != nil {
		return "", err
	}

	index := resolver.IndexFromData(e.schema, parent, table.Name, v.raw, row)
	e.logger.Debug("created resource",
		zap.String("table", table.Name),
		zap.String("index", index))
	return index, nil
}

// indexExists reports whether the collection already holds a member with the
// new row's URI index.
func (e *Engine) indexExists(txn *ovsdb.Txn, table *schema.Table, parent *resolver.Resource, parentRow *ovsdb.Row, childRef *schema.Reference, v *verified) bool {
	if childRef != nil && childRef.KVType {
		members, _ := parentRow.Get(parent.Column).(map[string]uuid.UUID)
		_, taken := members[v.kvKey]
		return taken
	}
	if len(table.Indexes) == 1 && table.Indexes[0] == "uuid" {
		return false
	}

	parentColumn := table.ParentColumn()
	for _, row := range txn.Rows(table.Name) {
		if parent.Relation == resolver.RelationBackReference {
			id, ok := row.Get(parentColumn).(uuid.UUID)
			if !ok || id != parent.Row {
				continue
			}
		}
		matched := true
		for _, index := range table.Indexes {
			if schema.CanonicalKey(row.Get(index)) != schema.CanonicalKey(v.columns[index]) {
				matched = false
				break
			}
		}
		if matched {
			return true
		}
	}
	return false
}
