// Package validator runs table-scoped validation plugins over the mutations
// of one write transaction. Mutations are recorded while the write engine
// assembles changes; validators execute afterwards, deletions first so they
// observe the pre-state of removed rows, then creations and updates.
package validator

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openswitch/restd/internal/ovsdb"
	"github.com/openswitch/restd/internal/schema"
	apperrors "github.com/openswitch/restd/pkg/errors"
)

// Op classifies a recorded mutation.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Error is a validation failure with a business error code.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("validation failed (%d): %s", e.Code, e.Message)
}

// NewError builds a validation failure.
func NewError(code int, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Context carries one recorded mutation to a validator.
type Context struct {
	Schema *schema.Schema
	Txn    *ovsdb.Txn

	Table string
	Row   *ovsdb.Row
	IsNew bool

	ParentTable string
	ParentRow   *ovsdb.Row
}

// Validator is a plugin validating one table's mutations.
type Validator interface {
	Table() string
	ValidateModification(ctx *Context) error
	ValidateDeletion(ctx *Context) error
}

// Registry holds validators by table name. Populated at startup, read-only
// afterwards.
type Registry struct {
	byTable map[string][]Validator
	logger  *zap.Logger
}

// NewRegistry builds an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{byTable: make(map[string][]Validator), logger: logger}
}

// Register adds a validator plugin.
func (r *Registry) Register(v Validator) {
	r.byTable[v.Table()] = append(r.byTable[v.Table()], v)
}

// For returns the validators registered for a table.
func (r *Registry) For(table string) []Validator {
	return r.byTable[table]
}

// DefaultRegistry returns a registry with the built-in validators installed.
func DefaultRegistry(logger *zap.Logger) *Registry {
	r := NewRegistry(logger)
	r.Register(&subscriberValidator{})
	r.Register(&subscriptionValidator{})
	return r
}

type recordedOp struct {
	op          Op
	table       string
	row         *ovsdb.Row
	parentTable string
	parentRow   *ovsdb.Row
}

// Adapter collects the mutations of one transaction and executes the
// registered validators over them.
type Adapter struct {
	registry *Registry
	schema   *schema.Schema
	txn      *ovsdb.Txn

	ops    map[Op][]recordedOp
	errors []*Error
}

// NewAdapter builds an adapter bound to one open transaction.
func NewAdapter(registry *Registry, s *schema.Schema, txn *ovsdb.Txn) *Adapter {
	return &Adapter{
		registry: registry,
		schema:   s,
		txn:      txn,
		ops: map[Op][]recordedOp{
			OpCreate: nil,
			OpUpdate: nil,
			OpDelete: nil,
		},
	}
}

// Record registers one mutation for later validation. Deleted rows stay in
// the transaction until their validators pass.
func (a *Adapter) Record(op Op, table string, row *ovsdb.Row, parentTable string, parentRow *ovsdb.Row) {
	a.ops[op] = append(a.ops[op], recordedOp{
		op:          op,
		table:       table,
		row:         row,
		parentTable: parentTable,
		parentRow:   parentRow,
	})
}

// Deletes returns the rows recorded for deletion, in record order.
func (a *Adapter) Deletes() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(a.ops[OpDelete]))
	for _, rec := range a.ops[OpDelete] {
		out = append(out, rec.row.UUID)
	}
	return out
}

// HasErrors reports whether any validator failed.
func (a *Adapter) HasErrors() bool {
	return len(a.errors) > 0
}

// Errors returns every accumulated validation failure.
func (a *Adapter) Errors() []*Error {
	return a.errors
}

// Exec runs the validators: deletions first, each validated row is then
// physically removed; creations and updates after. The first failure is
// returned as a data-validation error, the transaction is left to the caller
// to abort.
func (a *Adapter) Exec() error {
	for _, rec := range a.ops[OpDelete] {
		if a.run(rec) {
			if err := a.txn.Delete(rec.table, rec.row.UUID); err != nil {
				a.errors = append(a.errors, NewError(apperrors.CodeVerificationFailed, "%s", err.Error()))
			}
		}
	}
	for _, rec := range a.ops[OpCreate] {
		a.run(rec)
	}
	for _, rec := range a.ops[OpUpdate] {
		a.run(rec)
	}

	if len(a.errors) == 0 {
		return nil
	}
	first := a.errors[0]
	return apperrors.NewDataValidationFailed(first.Message).WithCode(first.Code)
}

func (a *Adapter) run(rec recordedOp) bool {
	ctx := &Context{
		Schema:      a.schema,
		Txn:         a.txn,
		Table:       rec.table,
		Row:         rec.row,
		IsNew:       rec.op == OpCreate,
		ParentTable: rec.parentTable,
		ParentRow:   rec.parentRow,
	}
	for _, v := range a.registry.For(rec.table) {
		var err error
		if rec.op == OpDelete {
			err = v.ValidateDeletion(ctx)
		} else {
			err = v.ValidateModification(ctx)
		}
		if err == nil {
			continue
		}
		if verr, ok := err.(*Error); ok {
			a.errors = append(a.errors, verr)
		} else {
			a.errors = append(a.errors, NewError(apperrors.CodeVerificationFailed, "%s", err.Error()))
		}
		a.registry.logger.Debug("validator rejected operation",
			zap.String("table", rec.table),
			zap.String("op", string(rec.op)),
			zap.Error(err))
		return false
	}
	return true
}
