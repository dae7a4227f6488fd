package validator_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openswitch/restd/internal/ovsdb"
	"github.com/openswitch/restd/internal/schema"
	"github.com/openswitch/restd/internal/schema/schematest"
	"github.com/openswitch/restd/internal/validator"
	apperrors "github.com/openswitch/restd/pkg/errors"
)

type fixture struct {
	s      *schema.Schema
	db     *ovsdb.Database
	seeded schematest.Seeded
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := schematest.Sample()
	db := ovsdb.NewDatabase(s, nil)
	return &fixture{s: s, db: db, seeded: schematest.Seed(db)}
}

func (f *fixture) adapter(txn *ovsdb.Txn) *validator.Adapter {
	return validator.NewAdapter(validator.DefaultRegistry(nil), f.s, txn)
}

func newSubscriber(t *testing.T, txn *ovsdb.Txn, name string) *ovsdb.Row {
	t.Helper()
	row, err := txn.Insert("Notification_Subscriber")
	require.NoError(t, err)
	txn.Set("Notification_Subscriber", row, "name", name)
	txn.Set("Notification_Subscriber", row, "type", "ws")
	return row
}

func newSubscription(t *testing.T, txn *ovsdb.Txn, resource string) *ovsdb.Row {
	t.Helper()
	row, err := txn.Insert("Notification_Subscription")
	require.NoError(t, err)
	txn.Set("Notification_Subscription", row, "resource", resource)
	return row
}

func TestExecRemovesValidatedDeletes(t *testing.T) {
	f := newFixture(t)

	txn := f.db.NewTxn()
	defer txn.Abort()

	port := txn.Row("Port", f.seeded.Port2)
	require.NotNil(t, port)

	a := f.adapter(txn)
	a.Record(validator.OpDelete, "Port", port, "System", txn.Row("System", f.seeded.System))
	require.NoError(t, a.Exec())

	assert.Nil(t, txn.Row("Port", f.seeded.Port2))
	assert.Equal(t, []uuid.UUID{f.seeded.Port2}, a.Deletes())
}

func TestSubscriberCreateProhibited(t *testing.T) {
	f := newFixture(t)

	txn := f.db.NewTxn()
	defer txn.Abort()

	row := newSubscriber(t, txn, "client-1")

	a := f.adapter(txn)
	a.Record(validator.OpCreate, "Notification_Subscriber", row, "", nil)
	err := a.Exec()

	require.Error(t, err)
	assert.True(t, apperrors.IsDataValidationFailed(err))
	assert.Equal(t, apperrors.CodeMethodProhibited, apperrors.GetAppError(err).Code)
}

func TestSubscriberDeleteProhibited(t *testing.T) {
	f := newFixture(t)

	setup := f.db.NewTxn()
	row := newSubscriber(t, setup, "client-1")
	id := row.UUID
	require.Equal(t, ovsdb.StatusSuccess, setup.Commit())

	txn := f.db.NewTxn()
	defer txn.Abort()

	a := f.adapter(txn)
	a.Record(validator.OpDelete, "Notification_Subscriber", txn.Row("Notification_Subscriber", id), "", nil)
	err := a.Exec()

	require.Error(t, err)
	assert.Equal(t, apperrors.CodeMethodProhibited, apperrors.GetAppError(err).Code)
	// The rejected delete must leave the row in place.
	assert.NotNil(t, txn.Row("Notification_Subscriber", id))
}

func TestSubscriberUpdateAllowed(t *testing.T) {
	f := newFixture(t)

	setup := f.db.NewTxn()
	row := newSubscriber(t, setup, "client-1")
	id := row.UUID
	require.Equal(t, ovsdb.StatusSuccess, setup.Commit())

	txn := f.db.NewTxn()
	defer txn.Abort()

	a := f.adapter(txn)
	a.Record(validator.OpUpdate, "Notification_Subscriber", txn.Row("Notification_Subscriber", id), "", nil)
	assert.NoError(t, a.Exec())
}

func TestSubscriptionResourceMustResolve(t *testing.T) {
	f := newFixture(t)

	txn := f.db.NewTxn()
	defer txn.Abort()

	subscriber := newSubscriber(t, txn, "client-1")
	sub := newSubscription(t, txn, "/rest/v1/system/ports/99")
	txn.Set("Notification_Subscriber", subscriber, "notification_subscriptions",
		map[string]uuid.UUID{"watch-port": sub.UUID})

	a := f.adapter(txn)
	a.Record(validator.OpCreate, "Notification_Subscription", sub,
		"Notification_Subscriber", subscriber)
	err := a.Exec()

	require.Error(t, err)
	assert.Equal(t, apperrors.CodeVerificationFailed, apperrors.GetAppError(err).Code)
}

func TestSubscriptionResourceRequired(t *testing.T) {
	f := newFixture(t)

	txn := f.db.NewTxn()
	defer txn.Abort()

	subscriber := newSubscriber(t, txn, "client-1")
	sub, err := txn.Insert("Notification_Subscription")
	require.NoError(t, err)

	a := f.adapter(txn)
	a.Record(validator.OpCreate, "Notification_Subscription", sub,
		"Notification_Subscriber", subscriber)
	require.Error(t, a.Exec())
}

func TestSubscriptionValid(t *testing.T) {
	f := newFixture(t)

	txn := f.db.NewTxn()
	defer txn.Abort()

	subscriber := newSubscriber(t, txn, "client-1")
	sub := newSubscription(t, txn, "/rest/v1/system/ports/1")
	txn.Set("Notification_Subscriber", subscriber, "notification_subscriptions",
		map[string]uuid.UUID{"watch-port": sub.UUID})

	a := f.adapter(txn)
	a.Record(validator.OpCreate, "Notification_Subscription", sub,
		"Notification_Subscriber", subscriber)
	assert.NoError(t, a.Exec())
}

func TestDuplicateSubscriptionRejected(t *testing.T) {
	f := newFixture(t)

	txn := f.db.NewTxn()
	defer txn.Abort()

	subscriber := newSubscriber(t, txn, "client-1")
	first := newSubscription(t, txn, "/rest/v1/system/ports/1")
	second := newSubscription(t, txn, "/rest/v1/system/ports/1")
	txn.Set("Notification_Subscriber", subscriber, "notification_subscriptions",
		map[string]uuid.UUID{"a": first.UUID, "b": second.UUID})

	a := f.adapter(txn)
	a.Record(validator.OpCreate, "Notification_Subscription", second,
		"Notification_Subscriber", subscriber)
	err := a.Exec()

	require.Error(t, err)
	assert.Equal(t, apperrors.CodeDuplicateResource, apperrors.GetAppError(err).Code)
}

func TestDistinctSubscriptionsAllowed(t *testing.T) {
	f := newFixture(t)

	txn := f.db.NewTxn()
	defer txn.Abort()

	subscriber := newSubscriber(t, txn, "client-1")
	first := newSubscription(t, txn, "/rest/v1/system/ports/1")
	second := newSubscription(t, txn, "/rest/v1/system/ports/2")
	txn.Set("Notification_Subscriber", subscriber, "notification_subscriptions",
		map[string]uuid.UUID{"a": first.UUID, "b": second.UUID})

	a := f.adapter(txn)
	a.Record(validator.OpCreate, "Notification_Subscription", second,
		"Notification_Subscriber", subscriber)
	assert.NoError(t, a.Exec())
}

func TestErrorsAccumulate(t *testing.T) {
	f := newFixture(t)

	txn := f.db.NewTxn()
	defer txn.Abort()

	one := newSubscriber(t, txn, "client-1")
	two := newSubscriber(t, txn, "client-2")

	a := f.adapter(txn)
	a.Record(validator.OpCreate, "Notification_Subscriber", one, "", nil)
	a.Record(validator.OpCreate, "Notification_Subscriber", two, "", nil)
	err := a.Exec()

	require.Error(t, err)
	assert.True(t, a.HasErrors())
	assert.Len(t, a.Errors(), 2)
	assert.Equal(t, apperrors.CodeMethodProhibited, apperrors.GetAppError(err).Code)
}
