package ovsdb

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Dialer establishes the session to the database server. The embedded
// replica needs no wire session; the production daemon plugs the monitor
// connection in here.
type Dialer interface {
	Dial(ctx context.Context) error
}

// NopDialer always succeeds.
type NopDialer struct{}

func (NopDialer) Dial(context.Context) error { return nil }

// ChangeFunc receives the change-tracking snapshot of one tick together with
// the seqno of the previous tick. Records with a seqno greater than lastSeqno
// are new in this tick.
type ChangeFunc func(track map[string]map[uuid.UUID]*RowTrack, lastSeqno int64)

// ManagerConfig tunes the connection manager.
type ManagerConfig struct {
	// TxnTimeout bounds how long an incomplete transaction is re-driven
	// before it fails.
	TxnTimeout time.Duration
	// RetryInterval is the watchdog period for pending transactions.
	RetryInterval time.Duration
}

// Manager owns the database lifecycle: the dial/reconnect loop, the change
// tick fan-out to registered callbacks and the re-commit of incomplete
// transactions.
type Manager struct {
	db     *Database
	dialer Dialer
	logger *zap.Logger
	cfg    ManagerConfig

	mu        sync.Mutex
	pending   []*pendingTxn
	lastSeqno int64

	changeCallbacks      []ChangeFunc
	establishedCallbacks []func()
}

type pendingTxn struct {
	txn      *Txn
	deadline time.Time
}

// NewManager builds a manager over db. A nil dialer means no wire session.
func NewManager(db *Database, dialer Dialer, cfg ManagerConfig, logger *zap.Logger) *Manager {
	if dialer == nil {
		dialer = NopDialer{}
	}
	if cfg.TxnTimeout <= 0 {
		cfg.TxnTimeout = 5 * time.Second
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 250 * time.Millisecond
	}
	return &Manager{
		db:     db,
		dialer: dialer,
		logger: logger,
		cfg:    cfg,
	}
}

// Database returns the managed replica.
func (m *Manager) Database() *Database {
	return m.db
}

// OnChange registers a change-tick callback. Registration happens at startup
// only.
func (m *Manager) OnChange(cb ChangeFunc) {
	m.changeCallbacks = append(m.changeCallbacks, cb)
}

// OnEstablished registers a callback run after each successful dial.
func (m *Manager) OnEstablished(cb func()) {
	m.establishedCallbacks = append(m.establishedCallbacks, cb)
}

// Commit commits a transaction, registering it for re-drive when the commit
// stays incomplete. Callers block on txn.Wait for the terminal state.
func (m *Manager) Commit(txn *Txn) Status {
	status := txn.Commit()
	if status == StatusIncomplete {
		m.mu.Lock()
		m.pending = append(m.pending, &pendingTxn{
			txn:      txn,
			deadline: time.Now().Add(m.cfg.TxnTimeout),
		})
		m.mu.Unlock()
	}
	return status
}

// Run drives the manager until ctx is cancelled: dial with exponential
// backoff, then serve change ticks and the pending-transaction watchdog.
// A dial failure schedules a reconnect indefinitely.
func (m *Manager) Run(ctx context.Context) error {
	for {
		dial := func() error { return m.dialer.Dial(ctx) }
		if err := backoff.Retry(dial, backoff.WithContext(backoff.NewExponentialBackOff(), ctx)); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.logger.Warn("database dial failed, retrying", zap.Error(err))
			continue
		}
		m.logger.Info("database session established")
		for _, cb := range m.establishedCallbacks {
			m.runCallback(func() { cb() })
		}

		err := m.serve(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m.logger.Warn("database session lost, reconnecting", zap.Error(err))
	}
}

// serve pumps commit notifications into change ticks. The pending-transaction
// watchdog runs on its own goroutine: a tick can block behind the write lock
// of an open transaction, and only the watchdog can drive that transaction to
// the terminal state that releases it.
func (m *Manager) serve(ctx context.Context) error {
	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go m.watch(watchCtx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.db.CommitNotify():
			m.Tick()
		}
	}
}

func (m *Manager) watch(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.RetryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.retryPending()
		}
	}
}

// Tick re-drives pending transactions, runs the change callbacks over the
// current tracking snapshot and clears the delivered records. Callback panics
// are logged and swallowed so a bad callback cannot break the loop.
//
// While an incomplete transaction still holds the write lock the delivery is
// skipped; the watchdog re-drives it and the next commit carries the
// accumulated changes. The snapshot and the clear never take the write lock,
// so a tick racing an open transaction cannot wedge the serve loop.
func (m *Manager) Tick() {
	if m.retryPending() > 0 {
		return
	}

	track, seqno := m.db.TrackSnapshot()
	m.mu.Lock()
	last := m.lastSeqno
	m.mu.Unlock()

	if len(track) > 0 {
		for _, cb := range m.changeCallbacks {
			cb := cb
			m.runCallback(func() { cb(track, last) })
		}
	}

	m.db.TrackClearThrough(seqno)
	m.mu.Lock()
	if seqno > m.lastSeqno {
		m.lastSeqno = seqno
	}
	m.mu.Unlock()
}

// LastSeqno returns the seqno of the previous change tick.
func (m *Manager) LastSeqno() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSeqno
}

func (m *Manager) retryPending() int {
	m.mu.Lock()
	pending := m.pending
	m.pending = nil
	m.mu.Unlock()

	var still []*pendingTxn
	for _, p := range pending {
		status := p.txn.Commit()
		if status != StatusIncomplete {
			continue
		}
		if time.Now().After(p.deadline) {
			p.txn.fail(context.DeadlineExceeded)
			m.logger.Error("transaction timed out in incomplete state")
			continue
		}
		still = append(still, p)
	}
	m.mu.Lock()
	m.pending = append(m.pending, still...)
	remaining := len(m.pending)
	m.mu.Unlock()
	return remaining
}

func (m *Manager) runCallback(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("change callback panicked", zap.Any("panic", r))
		}
	}()
	fn()
}
