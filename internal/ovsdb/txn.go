package ovsdb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the state of a transaction.
type Status int

const (
	StatusOpen Status = iota
	StatusSuccess
	StatusIncomplete
	StatusAborted
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusSuccess:
		return "success"
	case StatusIncomplete:
		return "incomplete"
	case StatusAborted:
		return "aborted"
	case StatusError:
		return "error"
	}
	return "unknown"
}

type fetchRequest struct {
	table  string
	row    uuid.UUID
	column string
}

// Txn is an undo-logged transaction. It holds the database's exclusive lock
// from creation until it reaches a terminal state, so writes are visible to
// its own reads and no other task ever observes a partial transaction.
//
// An incomplete transaction is driven by two goroutines at once, the request
// handler aborting on timeout and the manager's watchdog re-committing; mu
// serializes the state transitions so exactly one of them wins.
type Txn struct {
	db *Database

	mu     sync.Mutex
	status Status
	err    error
	done   chan struct{}

	undo    []func()
	fetches []fetchRequest

	created map[string]map[uuid.UUID]bool
	updated map[string]map[uuid.UUID]map[string]bool
	deleted map[string]map[uuid.UUID]bool
}

// NewTxn opens a transaction, blocking until the write lock is available.
func (db *Database) NewTxn() *Txn {
	db.mu.Lock()
	return &Txn{
		db:      db,
		status:  StatusOpen,
		done:    make(chan struct{}),
		created: make(map[string]map[uuid.UUID]bool),
		updated: make(map[string]map[uuid.UUID]map[string]bool),
		deleted: make(map[string]map[uuid.UUID]bool),
	}
}

// Row returns a row by table and UUID, or nil.
func (t *Txn) Row(table string, id uuid.UUID) *Row {
	return t.db.tables[table][id]
}

// Rows returns the live row map of a table. Callers must not mutate it.
func (t *Txn) Rows(table string) map[uuid.UUID]*Row {
	return t.db.tables[table]
}

// Insert creates a new row with a fresh UUID.
func (t *Txn) Insert(table string) (*Row, error) {
	rows, ok := t.db.tables[table]
	if !ok {
		return nil, fmt.Errorf("ovsdb: unknown table %q", table)
	}
	row := newRow(uuid.New())
	rows[row.UUID] = row
	t.undo = append(t.undo, func() {
		delete(rows, row.UUID)
	})
	if t.created[table] == nil {
		t.created[table] = make(map[uuid.UUID]bool)
	}
	t.created[table][row.UUID] = true
	return row, nil
}

// Set writes one column of a row. A nil value clears the column.
func (t *Txn) Set(table string, row *Row, column string, value any) {
	old, had := row.fields[column]
	oldCopy := cloneValue(old)
	t.undo = append(t.undo, func() {
		if had {
			row.fields[column] = oldCopy
		} else {
			delete(row.fields, column)
		}
	})
	row.set(column, value)

	if t.created[table][row.UUID] {
		return
	}
	cols, ok := t.updated[table]
	if !ok {
		cols = make(map[uuid.UUID]map[string]bool)
		t.updated[table] = cols
	}
	if cols[row.UUID] == nil {
		cols[row.UUID] = make(map[string]bool)
	}
	cols[row.UUID][column] = true
}

// Delete removes a row.
func (t *Txn) Delete(table string, id uuid.UUID) error {
	rows, ok := t.db.tables[table]
	if !ok {
		return fmt.Errorf("ovsdb: unknown table %q", table)
	}
	row, ok := rows[id]
	if !ok {
		return fmt.Errorf("ovsdb: no row %s in table %q", id, table)
	}
	delete(rows, id)
	t.undo = append(t.undo, func() {
		rows[id] = row
	})
	if t.created[table][id] {
		delete(t.created[table], id)
		return nil
	}
	if t.deleted[table] == nil {
		t.deleted[table] = make(map[uuid.UUID]bool)
	}
	t.deleted[table][id] = true
	return nil
}

// Fetch schedules an on-demand read of columns of one row. The values become
// visible after the commit succeeds.
func (t *Txn) Fetch(table string, id uuid.UUID, columns ...string) {
	for _, column := range columns {
		t.fetches = append(t.fetches, fetchRequest{table: table, row: id, column: column})
	}
}

// FetchTable schedules an on-demand read of columns for every current row of
// a table.
func (t *Txn) FetchTable(table string, columns ...string) {
	for id := range t.db.tables[table] {
		t.Fetch(table, id, columns...)
	}
}

// resolveFetches drains the scheduled fetch queue against the column source.
// The ErrNotReady of a not-yet-available column is passed through unwrapped.
// Requires mu.
func (t *Txn) resolveFetches() error {
	if t.db.source == nil {
		t.fetches = nil
		return nil
	}
	for len(t.fetches) > 0 {
		req := t.fetches[0]
		value, err := t.db.source.FetchColumn(req.table, req.row, req.column)
		if err == ErrNotReady {
			return err
		}
		if err != nil {
			return fmt.Errorf("ovsdb: fetch %s.%s: %w", req.table, req.column, err)
		}
		if row := t.db.tables[req.table][req.row]; row != nil {
			row.set(req.column, value)
		}
		t.fetches = t.fetches[1:]
	}
	return nil
}

// ResolveFetches drives the scheduled fetches to completion without
// committing, so a read request sees on-demand columns before it serializes.
// While the source reports ErrNotReady the call retries until ctx expires.
func (t *Txn) ResolveFetches(ctx context.Context) error {
	for {
		t.mu.Lock()
		err := t.resolveFetches()
		t.mu.Unlock()
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrNotReady) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// Commit drives the transaction towards a terminal state. It returns
// StatusIncomplete when an on-demand fetch is not yet ready; the connection
// manager re-invokes Commit until the transaction completes or times out.
func (t *Txn) Commit() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != StatusOpen && t.status != StatusIncomplete {
		return t.status
	}

	// Resolve scheduled fetches first. Values land in the row without a
	// tracking record, a fetch is a read.
	if err := t.resolveFetches(); err != nil {
		if errors.Is(err, ErrNotReady) {
			t.status = StatusIncomplete
			return t.status
		}
		t.finish(StatusError, err, true)
		return t.status
	}

	t.db.trackMu.Lock()
	t.db.seqno++
	seqno := t.db.seqno
	for table, rows := range t.created {
		for id := range rows {
			rec := t.db.trackRecord(table, id)
			rec.CreateSeqno = seqno
			if row := t.db.tables[table][id]; row != nil {
				for _, col := range row.Columns() {
					rec.Columns[col] = true
				}
			}
		}
	}
	for table, rows := range t.updated {
		for id, cols := range rows {
			rec := t.db.trackRecord(table, id)
			rec.UpdateSeqno = seqno
			for col := range cols {
				rec.Columns[col] = true
			}
		}
	}
	for table, rows := range t.deleted {
		for id := range rows {
			rec := t.db.trackRecord(table, id)
			rec.DeleteSeqno = seqno
		}
	}
	t.db.trackMu.Unlock()

	t.finish(StatusSuccess, nil, false)
	t.db.notifyCommit()
	return t.status
}

// Abort rolls back every applied mutation and releases the lock.
func (t *Txn) Abort() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != StatusOpen && t.status != StatusIncomplete {
		return
	}
	t.finish(StatusAborted, nil, true)
}

func (t *Txn) fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != StatusOpen && t.status != StatusIncomplete {
		return
	}
	t.finish(StatusError, err, true)
}

// finish requires mu and a non-terminal status.
func (t *Txn) finish(status Status, err error, rollback bool) {
	if rollback {
		for i := len(t.undo) - 1; i >= 0; i-- {
			t.undo[i]()
		}
	}
	t.undo = nil
	t.status = status
	t.err = err
	close(t.done)
	t.db.mu.Unlock()
}

// Done is closed when the transaction reaches a terminal state.
func (t *Txn) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until the transaction completes or ctx is cancelled.
func (t *Txn) Wait(ctx context.Context) (Status, error) {
	select {
	case <-t.done:
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.status, t.err
	case <-ctx.Done():
		return t.State(), ctx.Err()
	}
}

// State returns the current state without blocking.
func (t *Txn) State() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Err returns the terminal error, if any.
func (t *Txn) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}
