package server

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/openswitch/restd/internal/notify"
	"github.com/openswitch/restd/internal/ovsdb"
	"github.com/openswitch/restd/internal/resolver"
)

const (
	subscriberTable    = "Notification_Subscriber"
	subscriptionTable  = "Notification_Subscription"
	sendQueueLength    = 64
	subscriberOpenFail = "Unable to create a new subscriber."
)

// Hub owns the open websocket sessions and delivers notification messages to
// them. It is the notify.Sender of the daemon.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu       sync.Mutex
	sessions map[string]*wsSession
}

type wsSession struct {
	conn *websocket.Conn
	send chan notify.Message
}

// NewHub builds an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger:   logger,
		sessions: make(map[string]*wsSession),
	}
}

// Send queues one notification message for a subscriber. Must not block: it
// runs inside the database change tick. The mutex is held across the queue
// send so a concurrent unregister cannot close the channel mid-send.
func (h *Hub) Send(subscriber string, message notify.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	session := h.sessions[subscriber]
	if session == nil {
		return fmt.Errorf("ws: no session for subscriber %q", subscriber)
	}
	select {
	case session.send <- message:
		return nil
	default:
		return fmt.Errorf("ws: send queue full for subscriber %q", subscriber)
	}
}

// SessionCount returns the number of open sessions.
func (h *Hub) SessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// CloseAll tears down every open session, used at shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	sessions := h.sessions
	h.sessions = make(map[string]*wsSession)
	for _, session := range sessions {
		close(session.send)
	}
	h.mu.Unlock()
	for _, session := range sessions {
		session.conn.Close()
	}
}

func (h *Hub) register(subscriber string, session *wsSession) {
	h.mu.Lock()
	h.sessions[subscriber] = session
	h.mu.Unlock()
}

func (h *Hub) unregister(subscriber string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if session, ok := h.sessions[subscriber]; ok {
		delete(h.sessions, subscriber)
		close(session.send)
	}
}

// handleWS upgrades the connection, creates the backing subscriber row and
// pumps notification messages until the peer disconnects. Inbound frames are
// read for connection liveness only and otherwise ignored.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	conn, err := s.hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	id, uri, err := s.createSubscriber(r)
	if err != nil {
		s.logger.Error("subscriber creation failed", zap.Error(err))
		conn.WriteJSON(map[string]any{
			"notification_subscriber": map[string]any{"error": subscriberOpenFail},
		})
		conn.Close()
		return
	}

	session := &wsSession{conn: conn, send: make(chan notify.Message, sendQueueLength)}
	s.hub.register(id, session)
	s.metrics.wsOpen.Inc()
	s.logger.Info("websocket session opened",
		zap.String("subscriber", id),
		zap.String("remote", r.RemoteAddr))

	conn.WriteJSON(map[string]any{
		"notification_subscriber": map[string]any{"resource": uri},
	})

	go func() {
		for message := range session.send {
			if err := conn.WriteJSON(message); err != nil {
				conn.Close()
				return
			}
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	s.hub.unregister(id)
	s.metrics.wsOpen.Dec()
	conn.Close()
	if err := s.deleteSubscriber(r, id); err != nil {
		s.logger.Error("subscriber cleanup failed",
			zap.String("subscriber", id), zap.Error(err))
	}
	s.logger.Info("websocket session closed", zap.String("subscriber", id))
}

// createSubscriber inserts the websocket subscriber row under a fresh
// collision-checked identifier and returns its REST URI.
func (s *Server) createSubscriber(r *http.Request) (string, string, error) {
	txn := s.db.NewTxn()
	defer txn.Abort()

	var id string
	for {
		id = uuid.NewString()
		if s.subscriberByName(txn, id) == uuid.Nil {
			break
		}
	}
	row, err := txn.Insert(subscriberTable)
	if err != nil {
		return "", "", err
	}
	txn.Set(subscriberTable, row, "name", id)
	txn.Set(subscriberTable, row, "type", "ws")
	uri := resolver.RowToURI(s.schema, txn, subscriberTable, row)
	if err := s.commit(r, txn); err != nil {
		return "", "", err
	}
	return id, uri, nil
}

// deleteSubscriber removes the subscriber row and its subscriptions.
func (s *Server) deleteSubscriber(r *http.Request, id string) error {
	txn := s.db.NewTxn()
	defer txn.Abort()

	subscriber := s.subscriberByName(txn, id)
	if subscriber == uuid.Nil {
		return nil
	}
	row := txn.Row(subscriberTable, subscriber)
	if subs, ok := row.Get("notification_subscriptions").(map[string]uuid.UUID); ok {
		for _, sub := range subs {
			if err := txn.Delete(subscriptionTable, sub); err != nil {
				return err
			}
		}
	}
	if err := txn.Delete(subscriberTable, subscriber); err != nil {
		return err
	}
	return s.commit(r, txn)
}

// subscriberByName scans the subscriber table for a row carrying name.
func (s *Server) subscriberByName(r ovsdb.Reader, name string) uuid.UUID {
	for id, row := range r.Rows(subscriberTable) {
		if row.Get("name") == name {
			return id
		}
	}
	return uuid.Nil
}
