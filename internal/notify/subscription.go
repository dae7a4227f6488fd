package notify

import (
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openswitch/restd/internal/ovsdb"
	"github.com/openswitch/restd/internal/resolver"
)

// subscription watches either one row or one collection. A collection
// subscription tracks its current member rows so deletions can still be
// reported by URI after the row is gone.
type subscription struct {
	table           string
	subscriberName  string
	subscriptionURI string
	resourceURI     string

	// row subscription
	row uuid.UUID

	// collection subscription
	collection  bool
	uriSegments []string
	rowsToURI   map[uuid.UUID]string
}

// createSubscription resolves a subscription row's resource URI into a row
// or collection watch.
func (h *Handler) createSubscription(v *ovsdb.View, id uuid.UUID, row *ovsdb.Row) (*subscription, error) {
	resourceURI, _ := row.Get(columnResource).(string)
	chain, err := resolver.Parse(h.schema, v, resourceURI)
	if err != nil {
		return nil, errInvalidResource(resourceURI)
	}

	subscriber, _ := h.subscriberOf(v, id)
	if subscriber == nil {
		return nil, errInvalidResource(resourceURI)
	}
	name, _ := subscriber.Get(columnSubscriberName).(string)

	var parent *resolver.Resource
	terminal := chain
	for terminal.Next != nil {
		parent = terminal
		terminal = terminal.Next
	}

	sub := &subscription{
		table:           terminal.Table,
		subscriberName:  name,
		subscriptionURI: resolver.RowToURI(h.schema, v, subscriptionTable, row),
		resourceURI:     resourceURI,
	}

	if chain.IsCollection() {
		sub.collection = true
		sub.uriSegments = resolver.SplitPath(resourceURI)
		sub.rowsToURI = h.collectionRows(v, parent, terminal)
		return sub, nil
	}
	sub.row = terminal.Row
	return sub, nil
}

// collectionRows maps the current member rows of a collection to their
// canonical URIs.
func (h *Handler) collectionRows(v *ovsdb.View, parent, terminal *resolver.Resource) map[uuid.UUID]string {
	out := map[uuid.UUID]string{}
	record := func(id uuid.UUID) {
		if row := v.Row(terminal.Table, id); row != nil {
			out[id] = resolver.RowToURI(h.schema, v, terminal.Table, row)
		}
	}

	switch parent.Relation {
	case resolver.RelationChild:
		parentRow := v.Row(parent.Table, parent.Row)
		if parentRow == nil {
			return out
		}
		switch members := parentRow.Get(parent.Column).(type) {
		case uuid.UUID:
			record(members)
		case []uuid.UUID:
			for _, id := range members {
				record(id)
			}
		case map[string]uuid.UUID:
			for _, id := range members {
				record(id)
			}
		}

	case resolver.RelationBackReference:
		for _, row := range resolver.BackReferenceChildren(h.schema, v, parent.Table, parent.Row, terminal.Table) {
			record(row.UUID)
		}

	case resolver.RelationTopLevel:
		for id := range v.Rows(terminal.Table) {
			record(id)
		}
	}
	return out
}

// initialValues builds the added messages sent right after a subscription is
// established, carrying the current state of the watched resource.
func (h *Handler) initialValues(v *ovsdb.View, sub *subscription) []Message {
	if !sub.collection {
		values, err := h.rowValues(v, sub.resourceURI)
		if err != nil {
			h.logger.Error("initial values unavailable",
				zap.String("resource", sub.resourceURI), zap.Error(err))
			return nil
		}
		return []Message{constructAdded(sub.subscriptionURI, sub.resourceURI, values)}
	}

	uris := make([]string, 0, len(sub.rowsToURI))
	for _, uri := range sub.rowsToURI {
		uris = append(uris, uri)
	}
	sort.Strings(uris)

	var out []Message
	for _, uri := range uris {
		values, err := h.rowValues(v, uri)
		if err != nil {
			continue
		}
		out = append(out, constructAdded(sub.subscriptionURI, uri, values))
	}
	return out
}

// changes maps one tick's tracking records onto one subscription.
func (h *Handler) changes(v *ovsdb.View, sub *subscription, recs map[uuid.UUID]*ovsdb.RowTrack, lastSeqno int64) (added, modified, deleted []Message) {
	if !sub.collection {
		rec := recs[sub.row]
		if rec == nil {
			return nil, nil, nil
		}
		switch {
		case rec.DeleteSeqno > lastSeqno:
			deleted = append(deleted, constructDeleted(sub.subscriptionURI, sub.resourceURI))
		case rec.UpdateSeqno > lastSeqno:
			values := h.columnValues(v, sub, changedColumns(rec))
			modified = append(modified, constructModified(sub.subscriptionURI, sub.resourceURI, values))
		}
		return added, modified, deleted
	}

	for id, rec := range recs {
		switch {
		case rec.CreateSeqno > lastSeqno:
			row := v.Row(sub.table, id)
			if row == nil {
				continue
			}
			uri := resolver.RowToURI(h.schema, v, sub.table, row)
			if !sub.matches(uri) {
				continue
			}
			sub.rowsToURI[id] = uri
			values, err := h.rowValues(v, uri)
			if err != nil {
				continue
			}
			added = append(added, constructAdded(sub.subscriptionURI, uri, values))

		case rec.DeleteSeqno > lastSeqno:
			uri, tracked := sub.rowsToURI[id]
			if !tracked {
				continue
			}
			delete(sub.rowsToURI, id)
			deleted = append(deleted, constructDeleted(sub.subscriptionURI, uri))
		}
	}
	return added, modified, deleted
}

// matches reports whether a resource URI lies under the subscribed
// collection URI.
func (sub *subscription) matches(uri string) bool {
	segments := resolver.SplitPath(uri)
	if len(segments) <= len(sub.uriSegments) {
		return false
	}
	for i, segment := range sub.uriSegments {
		if segments[i] != segment {
			return false
		}
	}
	return true
}

func changedColumns(rec *ovsdb.RowTrack) []string {
	out := make([]string, 0, len(rec.Columns))
	for column := range rec.Columns {
		out = append(out, column)
	}
	sort.Strings(out)
	return out
}
