package write

import (
	"context"
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/openswitch/restd/internal/ovsdb"
	"github.com/openswitch/restd/internal/query"
	"github.com/openswitch/restd/internal/resolver"
	"github.com/openswitch/restd/internal/schema"
	"github.com/openswitch/restd/internal/validator"
	apperrors "github.com/openswitch/restd/pkg/errors"
)

// Patch applies an RFC 6902 document to the configuration view of one row
// and stores the outcome as a full configuration replacement. A failing test
// operation surfaces as a validation error.
func (e *Engine) Patch(ctx context.Context, txn *ovsdb.Txn, chain *resolver.Resource, requestURI string, body []byte) error {
	if chain.IsCollection() {
		return apperrors.NewMethodNotAllowed("PATCH is only allowed on resource instances")
	}
	terminal := chain.Terminal()
	table := e.schema.Table(terminal.Table)
	row := txn.Row(terminal.Table, terminal.Row)
	if row == nil {
		return apperrors.NewNotFound(terminal.Table)
	}

	patch, err := jsonpatch.DecodePatch(body)
	if err != nil {
		return apperrors.NewDataValidationFailed("Malformed JSON patch in request body")
	}

	// Patch against the configuration view with empty values materialized,
	// so remove and test operations see every column.
	doc, err := e.reader.Get(ctx, txn, chain, requestURI, query.Options{
		Selector:        schema.CategoryConfiguration,
		WithEmptyValues: true,
	})
	if err != nil {
		return err
	}
	current := map[string]any{}
	if buckets, ok := doc.(map[string]any); ok {
		if config, ok := buckets[string(schema.CategoryConfiguration)].(map[string]any); ok {
			current = config
		}
	}

	base, err := json.Marshal(current)
	if err != nil {
		return apperrors.NewInternal("serializing configuration").WithCause(err)
	}
	patched, err := patch.Apply(base)
	if err != nil {
		return apperrors.NewDataValidationFailed(fmt.Sprintf("Patch cannot be applied: %v", err))
	}

	next, err := json.Marshal(map[string]json.RawMessage{keyConfiguration: patched})
	if err != nil {
		return apperrors.NewInternal("serializing configuration").WithCause(err)
	}
	v, err := e.verifyBody(txn, table, nil, next, false, false)
	if err != nil {
		return err
	}
	e.applyConfig(txn, table, row, v)

	a := e.adapter(txn)
	parentTable, parentRow := parentContext(txn, chain)
	a.Record(validator.OpUpdate, table.Name, row, parentTable, parentRow)
	return a.Exec()
}
