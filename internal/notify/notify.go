// Package notify turns database change ticks into push notifications for
// subscribed clients. Subscriptions live in the database itself: a
// Notification_Subscriber row per connected client, with one
// Notification_Subscription child per watched resource URI. The handler
// processes subscription-table changes first, so a subscription created in a
// tick starts watching from that same tick.
package notify

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openswitch/restd/internal/ovsdb"
	"github.com/openswitch/restd/internal/query"
	"github.com/openswitch/restd/internal/schema"
)

const (
	subscriberTable      = "Notification_Subscriber"
	subscriptionTable    = "Notification_Subscription"
	columnSubscriberName = "name"
	columnSubscriberType = "type"
	columnResource       = "resource"
	subscriberTypeWS     = "ws"

	updateAdded    = "added"
	updateModified = "modified"
	updateDeleted  = "deleted"

	keyNotifications = "notifications"
	keySubscription  = "subscription"
	keyResource      = "resource"
	keyValues        = "values"
	keyNewValues     = "new_values"
)

// Message is one JSON-serializable notification payload.
type Message map[string]any

// Sender delivers a notification message to one subscriber. Implementations
// must not call back into the Handler.
type Sender interface {
	Send(subscriber string, message Message) error
}

// Handler maintains the active subscriptions and fans database changes out
// to their subscribers.
type Handler struct {
	schema *schema.Schema
	db     *ovsdb.Database
	reader *query.Engine
	sender Sender
	logger *zap.Logger

	mu      sync.Mutex
	byTable map[string]map[uuid.UUID]*subscription
	subs    map[uuid.UUID]*subscription
}

// New builds a notification handler. reader serializes resource values into
// notification payloads.
func New(s *schema.Schema, db *ovsdb.Database, reader *query.Engine, sender Sender, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		schema:  s,
		db:      db,
		reader:  reader,
		sender:  sender,
		logger:  logger,
		byTable: make(map[string]map[uuid.UUID]*subscription),
		subs:    make(map[uuid.UUID]*subscription),
	}
}

// Register hooks the handler into the manager's change ticks.
func (h *Handler) Register(m *ovsdb.Manager) {
	m.OnChange(h.HandleChanges)
}

// HandleChanges processes one change tick: subscription lifecycle first,
// then notification fan-out for the subscribed tables.
func (h *Handler) HandleChanges(track map[string]map[uuid.UUID]*ovsdb.RowTrack, lastSeqno int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	_ = h.db.View(func(v *ovsdb.View) error {
		h.processSubscriptionChanges(v, track, lastSeqno)
		h.fanOut(v, track, lastSeqno)
		return nil
	})
}

// SubscriptionCount reports the number of active subscriptions.
func (h *Handler) SubscriptionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Handler) processSubscriptionChanges(v *ovsdb.View, track map[string]map[uuid.UUID]*ovsdb.RowTrack, lastSeqno int64) {
	for id, rec := range track[subscriptionTable] {
		switch {
		case rec.CreateSeqno > lastSeqno:
			row := v.Row(subscriptionTable, id)
			if row == nil {
				continue
			}
			sub, err := h.createSubscription(v, id, row)
			if err != nil {
				h.logger.Error("subscription rejected", zap.Error(err))
				continue
			}
			h.add(id, sub)
			h.logger.Debug("subscription added",
				zap.String("subscriber", sub.subscriberName),
				zap.String("resource", sub.resourceURI))
			if initial := h.initialValues(v, sub); len(initial) > 0 {
				h.notify(v, sub.subscriberName, Message{updateAdded: initial})
			}
		case rec.DeleteSeqno > lastSeqno:
			h.remove(id)
		}
	}
}

// fanOut collects the changes of every subscribed table, batched per
// subscriber into one message.
func (h *Handler) fanOut(v *ovsdb.View, track map[string]map[uuid.UUID]*ovsdb.RowTrack, lastSeqno int64) {
	bySubscriber := map[string]Message{}

	for table, subs := range h.byTable {
		recs := track[table]
		if len(recs) == 0 {
			continue
		}
		for _, sub := range subs {
			added, modified, deleted := h.changes(v, sub, recs, lastSeqno)
			changes := bySubscriber[sub.subscriberName]
			if changes == nil {
				changes = Message{}
				bySubscriber[sub.subscriberName] = changes
			}
			appendUpdates(changes, updateAdded, added)
			appendUpdates(changes, updateModified, modified)
			appendUpdates(changes, updateDeleted, deleted)
		}
	}

	names := make([]string, 0, len(bySubscriber))
	for name := range bySubscriber {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		h.notify(v, name, bySubscriber[name])
	}
}

// notify delivers the accumulated changes of one tick to one subscriber.
func (h *Handler) notify(v *ovsdb.View, subscriber string, changes Message) {
	if len(changes) == 0 {
		return
	}
	row := h.subscriberByName(v, subscriber)
	if row == nil {
		h.logger.Debug("subscriber row gone, dropping notification",
			zap.String("subscriber", subscriber))
		return
	}
	if kind, _ := row.Get(columnSubscriberType).(string); kind != subscriberTypeWS {
		h.logger.Error("unsupported subscriber type",
			zap.String("subscriber", subscriber),
			zap.String("type", kind))
		return
	}
	if err := h.sender.Send(subscriber, Message{keyNotifications: changes}); err != nil {
		h.logger.Warn("notification delivery failed",
			zap.String("subscriber", subscriber),
			zap.Error(err))
	}
}

func (h *Handler) add(id uuid.UUID, sub *subscription) {
	if h.byTable[sub.table] == nil {
		h.byTable[sub.table] = make(map[uuid.UUID]*subscription)
	}
	h.byTable[sub.table][id] = sub
	h.subs[id] = sub
}

func (h *Handler) remove(id uuid.UUID) {
	sub, ok := h.subs[id]
	if !ok {
		return
	}
	delete(h.subs, id)
	delete(h.byTable[sub.table], id)
	if len(h.byTable[sub.table]) == 0 {
		delete(h.byTable, sub.table)
	}
	h.logger.Debug("subscription removed",
		zap.String("subscriber", sub.subscriberName),
		zap.String("resource", sub.resourceURI))
}

// subscriberOf finds the subscriber row holding a subscription in its child
// map, together with its key there.
func (h *Handler) subscriberOf(v *ovsdb.View, subscription uuid.UUID) (*ovsdb.Row, string) {
	for _, row := range v.Rows(subscriberTable) {
		for _, column := range h.schema.ReferencedBy[subscriptionTable][subscriberTable] {
			members, _ := row.Get(column).(map[string]uuid.UUID)
			for key, id := range members {
				if id == subscription {
					return row, key
				}
			}
		}
	}
	return nil, ""
}

func (h *Handler) subscriberByName(v *ovsdb.View, name string) *ovsdb.Row {
	for _, row := range v.Rows(subscriberTable) {
		if row.Get(columnSubscriberName) == name {
			return row
		}
	}
	return nil
}

func appendUpdates(changes Message, updateType string, updates []Message) {
	if len(updates) == 0 {
		return
	}
	existing, _ := changes[updateType].([]Message)
	changes[updateType] = append(existing, updates...)
}

func constructAdded(subscriptionURI, resourceURI string, values map[string]any) Message {
	return Message{keySubscription: subscriptionURI, keyResource: resourceURI, keyValues: values}
}

func constructModified(subscriptionURI, resourceURI string, values map[string]any) Message {
	return Message{keySubscription: subscriptionURI, keyResource: resourceURI, keyNewValues: values}
}

func constructDeleted(subscriptionURI, resourceURI string) Message {
	return Message{keySubscription: subscriptionURI, keyResource: resourceURI}
}

func errInvalidResource(uri string) error {
	return fmt.Errorf("invalid subscription resource %q", uri)
}
