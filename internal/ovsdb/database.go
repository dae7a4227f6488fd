package ovsdb

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/openswitch/restd/internal/schema"
)

// ErrNotReady is returned by a ColumnSource whose data is not yet available.
// A commit carrying such a fetch stays incomplete and is re-driven by the
// connection manager.
var ErrNotReady = errors.New("ovsdb: column data not ready")

// ColumnSource supplies on-demand column values that are excluded from the
// replica until fetched.
type ColumnSource interface {
	FetchColumn(table string, row uuid.UUID, column string) (any, error)
}

// ColumnSourceFunc adapts a function to a ColumnSource.
type ColumnSourceFunc func(table string, row uuid.UUID, column string) (any, error)

func (f ColumnSourceFunc) FetchColumn(table string, row uuid.UUID, column string) (any, error) {
	return f(table, row, column)
}

// RowTrack is the change-tracking record of one row within the current
// tracking window.
type RowTrack struct {
	CreateSeqno int64
	UpdateSeqno int64
	DeleteSeqno int64
	Columns     map[string]bool
}

// Reader is read access to the replica, implemented by View and Txn.
type Reader interface {
	Row(table string, id uuid.UUID) *Row
	Rows(table string) map[uuid.UUID]*Row
}

// Database is the in-memory replica. One writer at a time; a Txn holds the
// write lock from creation to commit or abort.
type Database struct {
	mu     sync.RWMutex
	tables map[string]map[uuid.UUID]*Row

	// trackMu guards seqno and track separately from mu, so the manager's
	// tick can snapshot and clear the tracking window while a transaction
	// still holds the write lock.
	trackMu sync.Mutex
	seqno   int64
	track   map[string]map[uuid.UUID]*RowTrack

	// excluded lists on-demand columns per table, absent until fetched.
	excluded map[string]map[string]bool
	source   ColumnSource

	commitCh chan struct{}
}

// NewDatabase builds a replica with one (empty) table per schema table and
// the schema's on-demand columns registered as excluded.
func NewDatabase(s *schema.Schema, source ColumnSource) *Database {
	db := &Database{
		tables:   make(map[string]map[uuid.UUID]*Row, len(s.Tables)),
		track:    make(map[string]map[uuid.UUID]*RowTrack),
		excluded: make(map[string]map[string]bool),
		source:   source,
		commitCh: make(chan struct{}, 1),
	}
	for name, table := range s.Tables {
		db.tables[name] = make(map[uuid.UUID]*Row)
		if len(table.ReadonlyColumns) > 0 {
			set := make(map[string]bool, len(table.ReadonlyColumns))
			for _, col := range table.ReadonlyColumns {
				set[col] = true
			}
			db.excluded[name] = set
		}
	}
	return db
}

// Seqno returns the current change sequence number.
func (db *Database) Seqno() int64 {
	db.trackMu.Lock()
	defer db.trackMu.Unlock()
	return db.seqno
}

// View runs fn with shared read access to the replica.
func (db *Database) View(fn func(v *View) error) error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return fn(&View{db: db})
}

// View is a read-only snapshot handle, valid only inside Database.View.
type View struct {
	db *Database
}

// Row returns a row by table and UUID, or nil.
func (v *View) Row(table string, id uuid.UUID) *Row {
	return v.db.tables[table][id]
}

// Rows returns the live row map of a table. Callers must not mutate it.
func (v *View) Rows(table string) map[uuid.UUID]*Row {
	return v.db.tables[table]
}

// Track returns a copy of the change-tracking records accumulated since the
// last clear.
func (db *Database) Track() map[string]map[uuid.UUID]*RowTrack {
	db.trackMu.Lock()
	defer db.trackMu.Unlock()
	return db.copyTrack()
}

// TrackSnapshot returns the tracking copy together with the seqno it covers.
func (db *Database) TrackSnapshot() (map[string]map[uuid.UUID]*RowTrack, int64) {
	db.trackMu.Lock()
	defer db.trackMu.Unlock()
	return db.copyTrack(), db.seqno
}

// copyTrack requires trackMu.
func (db *Database) copyTrack() map[string]map[uuid.UUID]*RowTrack {
	out := make(map[string]map[uuid.UUID]*RowTrack, len(db.track))
	for table, rows := range db.track {
		tableOut := make(map[uuid.UUID]*RowTrack, len(rows))
		for id, rec := range rows {
			cols := make(map[string]bool, len(rec.Columns))
			for col := range rec.Columns {
				cols[col] = true
			}
			tableOut[id] = &RowTrack{
				CreateSeqno: rec.CreateSeqno,
				UpdateSeqno: rec.UpdateSeqno,
				DeleteSeqno: rec.DeleteSeqno,
				Columns:     cols,
			}
		}
		out[table] = tableOut
	}
	return out
}

// TrackClear drops the accumulated change-tracking state.
func (db *Database) TrackClear() {
	db.trackMu.Lock()
	defer db.trackMu.Unlock()
	db.track = make(map[string]map[uuid.UUID]*RowTrack)
}

// TrackClearThrough drops the records a tick at seqno has delivered. Records
// a commit added while the tick was running carry a higher seqno and stay
// for the next tick.
func (db *Database) TrackClearThrough(seqno int64) {
	db.trackMu.Lock()
	defer db.trackMu.Unlock()
	for table, rows := range db.track {
		for id, rec := range rows {
			if rec.CreateSeqno <= seqno && rec.UpdateSeqno <= seqno && rec.DeleteSeqno <= seqno {
				delete(rows, id)
			}
		}
		if len(rows) == 0 {
			delete(db.track, table)
		}
	}
}

// CommitNotify returns a channel that receives after every successful commit.
func (db *Database) CommitNotify() <-chan struct{} {
	return db.commitCh
}

func (db *Database) isExcluded(table, column string) bool {
	return db.excluded[table][column]
}

// trackRecord requires trackMu.
func (db *Database) trackRecord(table string, id uuid.UUID) *RowTrack {
	rows, ok := db.track[table]
	if !ok {
		rows = make(map[uuid.UUID]*RowTrack)
		db.track[table] = rows
	}
	rec, ok := rows[id]
	if !ok {
		rec = &RowTrack{Columns: make(map[string]bool)}
		rows[id] = rec
	}
	return rec
}

func (db *Database) notifyCommit() {
	select {
	case db.commitCh <- struct{}{}:
	default:
	}
}
