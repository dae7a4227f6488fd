package server

import (
	"context"

	"github.com/google/uuid"

	"github.com/openswitch/restd/internal/ovsdb"
	"github.com/openswitch/restd/internal/schema"
)

// txnFetcher resolves on-demand columns into the transaction serving the
// current request. The serializer sees the values on its next read because
// both share the same replica view.
type txnFetcher struct {
	schema *schema.Schema
	txn    *ovsdb.Txn
}

func (f *txnFetcher) FetchRows(ctx context.Context, table string, ids []uuid.UUID) error {
	t := f.schema.Table(table)
	if t == nil || len(t.ReadonlyColumns) == 0 {
		return nil
	}
	for _, id := range ids {
		f.txn.Fetch(table, id, t.ReadonlyColumns...)
	}
	return f.txn.ResolveFetches(ctx)
}

func (f *txnFetcher) FetchTable(ctx context.Context, table string) error {
	t := f.schema.Table(table)
	if t == nil || len(t.ReadonlyColumns) == 0 {
		return nil
	}
	f.txn.FetchTable(table, t.ReadonlyColumns...)
	return f.txn.ResolveFetches(ctx)
}
