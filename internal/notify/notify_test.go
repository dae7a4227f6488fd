package notify_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openswitch/restd/internal/notify"
	"github.com/openswitch/restd/internal/ovsdb"
	"github.com/openswitch/restd/internal/query"
	"github.com/openswitch/restd/internal/schema"
	"github.com/openswitch/restd/internal/schema/schematest"
)

type sent struct {
	subscriber string
	message    notify.Message
}

type recordingSender struct {
	messages []sent
}

func (r *recordingSender) Send(subscriber string, message notify.Message) error {
	r.messages = append(r.messages, sent{subscriber: subscriber, message: message})
	return nil
}

type fixture struct {
	s       *schema.Schema
	db      *ovsdb.Database
	seeded  schematest.Seeded
	sender  *recordingSender
	handler *notify.Handler
	last    int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := schematest.Sample()
	db := ovsdb.NewDatabase(s, nil)
	seeded := schematest.Seed(db)
	sender := &recordingSender{}
	handler := notify.New(s, db, query.New(s, nil, nil), sender, nil)
	return &fixture{s: s, db: db, seeded: seeded, sender: sender, handler: handler, last: db.Seqno()}
}

// tick delivers the accumulated changes the way the connection manager does.
func (f *fixture) tick() {
	f.handler.HandleChanges(f.db.Track(), f.last)
	f.db.TrackClear()
	f.last = f.db.Seqno()
}

func (f *fixture) commit(t *testing.T, fn func(txn *ovsdb.Txn)) {
	t.Helper()
	txn := f.db.NewTxn()
	fn(txn)
	require.Equal(t, ovsdb.StatusSuccess, txn.Commit())
}

// subscribe creates a websocket subscriber with one subscription and runs
// the tick that establishes it.
func (f *fixture) subscribe(t *testing.T, subscriber, key, resource string) uuid.UUID {
	t.Helper()
	var id uuid.UUID
	f.commit(t, func(txn *ovsdb.Txn) {
		owner, err := txn.Insert("Notification_Subscriber")
		require.NoError(t, err)
		txn.Set("Notification_Subscriber", owner, "name", subscriber)
		txn.Set("Notification_Subscriber", owner, "type", "ws")

		sub, err := txn.Insert("Notification_Subscription")
		require.NoError(t, err)
		txn.Set("Notification_Subscription", sub, "resource", resource)
		txn.Set("Notification_Subscriber", owner, "notification_subscriptions",
			map[string]uuid.UUID{key: sub.UUID})
		id = sub.UUID
	})
	f.tick()
	return id
}

// updates unpacks the messages of one update group across everything sent
// so far.
func (f *fixture) updates(t *testing.T, group string) []notify.Message {
	t.Helper()
	var out []notify.Message
	for _, s := range f.sender.messages {
		notifications, ok := s.message["notifications"].(notify.Message)
		require.True(t, ok)
		if entries, ok := notifications[group].([]notify.Message); ok {
			out = append(out, entries...)
		}
	}
	return out
}

func TestRowSubscriptionInitialValues(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, "client-1", "sub-1", "/rest/v1/system/ports/1")

	require.Len(t, f.sender.messages, 1)
	assert.Equal(t, "client-1", f.sender.messages[0].subscriber)

	added := f.updates(t, "added")
	require.Len(t, added, 1)
	assert.Equal(t, "/rest/v1/system/ports/1", added[0]["resource"])
	assert.Equal(t,
		"/rest/v1/system/notification_subscribers/client-1/notification_subscriptions/sub-1",
		added[0]["subscription"])

	values, ok := added[0]["values"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "1", values["name"])
	assert.Equal(t, "10.0.10.1/24", values["ip4_address"])
}

func TestRowSubscriptionModified(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, "client-1", "sub-1", "/rest/v1/system/ports/1")
	f.sender.messages = nil

	f.commit(t, func(txn *ovsdb.Txn) {
		row := txn.Row("Port", f.seeded.Port1)
		txn.Set("Port", row, "ip4_address", "10.0.0.9/24")
	})
	f.tick()

	modified := f.updates(t, "modified")
	require.Len(t, modified, 1)
	assert.Equal(t, "/rest/v1/system/ports/1", modified[0]["resource"])
	values, ok := modified[0]["new_values"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "10.0.0.9/24", values["ip4_address"])
}

func TestRowSubscriptionReferenceChange(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, "client-1", "sub-1", "/rest/v1/system/ports/1")
	f.sender.messages = nil

	f.commit(t, func(txn *ovsdb.Txn) {
		row := txn.Row("Port", f.seeded.Port1)
		txn.Set("Port", row, "interfaces", nil)
	})
	f.tick()

	modified := f.updates(t, "modified")
	require.Len(t, modified, 1)
	values := modified[0]["new_values"].(map[string]any)
	assert.Contains(t, values, "interfaces")
}

func TestRowSubscriptionDeleted(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, "client-1", "sub-1", "/rest/v1/system/ports/2")
	f.sender.messages = nil

	f.commit(t, func(txn *ovsdb.Txn) {
		require.NoError(t, txn.Delete("Port", f.seeded.Port2))
	})
	f.tick()

	deleted := f.updates(t, "deleted")
	require.Len(t, deleted, 1)
	assert.Equal(t, "/rest/v1/system/ports/2", deleted[0]["resource"])
	assert.NotContains(t, deleted[0], "values")
}

func TestCollectionSubscription(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, "client-1", "sub-1", "/rest/v1/system/ports")

	added := f.updates(t, "added")
	require.Len(t, added, 2)
	assert.Equal(t, "/rest/v1/system/ports/1", added[0]["resource"])
	assert.Equal(t, "/rest/v1/system/ports/2", added[1]["resource"])
	f.sender.messages = nil

	f.commit(t, func(txn *ovsdb.Txn) {
		port, err := txn.Insert("Port")
		require.NoError(t, err)
		txn.Set("Port", port, "name", "3")
	})
	f.tick()

	added = f.updates(t, "added")
	require.Len(t, added, 1)
	assert.Equal(t, "/rest/v1/system/ports/3", added[0]["resource"])
	values := added[0]["values"].(map[string]any)
	assert.Equal(t, "3", values["name"])
	f.sender.messages = nil

	f.commit(t, func(txn *ovsdb.Txn) {
		require.NoError(t, txn.Delete("Port", f.seeded.Port2))
	})
	f.tick()

	deleted := f.updates(t, "deleted")
	require.Len(t, deleted, 1)
	assert.Equal(t, "/rest/v1/system/ports/2", deleted[0]["resource"])
}

func TestChildCollectionSubscription(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, "client-1", "sub-1", "/rest/v1/system/vrfs/vrf_default/routes")

	added := f.updates(t, "added")
	assert.Len(t, added, 2)
}

func TestUnrelatedChangeNotDelivered(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, "client-1", "sub-1", "/rest/v1/system/ports/1")
	f.sender.messages = nil

	f.commit(t, func(txn *ovsdb.Txn) {
		row := txn.Row("Interface", f.seeded.Eth0)
		txn.Set("Interface", row, "link_state", "down")
	})
	f.tick()

	assert.Empty(t, f.sender.messages)
}

func TestSubscriptionRemoval(t *testing.T) {
	f := newFixture(t)
	id := f.subscribe(t, "client-1", "sub-1", "/rest/v1/system/ports/1")
	assert.Equal(t, 1, f.handler.SubscriptionCount())
	f.sender.messages = nil

	f.commit(t, func(txn *ovsdb.Txn) {
		require.NoError(t, txn.Delete("Notification_Subscription", id))
	})
	f.tick()
	assert.Equal(t, 0, f.handler.SubscriptionCount())

	f.commit(t, func(txn *ovsdb.Txn) {
		row := txn.Row("Port", f.seeded.Port1)
		txn.Set("Port", row, "ip4_address", "10.0.0.9/24")
	})
	f.tick()
	assert.Empty(t, f.sender.messages)
}

func TestInvalidResourceRejected(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, "client-1", "sub-1", "/rest/v1/system/ports/99")

	assert.Equal(t, 0, f.handler.SubscriptionCount())
	assert.Empty(t, f.sender.messages)
}
