package server_test

import (
	"net/http"
	"path"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openswitch/restd/internal/notify"
	"github.com/openswitch/restd/internal/ovsdb"
)

func dialWS(t *testing.T, f *fixture) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/rest/v1/ws/notifications"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	return conn
}

func subscriberCount(f *fixture) int {
	count := 0
	f.db.View(func(v *ovsdb.View) error {
		count = len(v.Rows("Notification_Subscriber"))
		return nil
	})
	return count
}

func TestWebSocketNotifications(t *testing.T) {
	f := newFixture(t, false)
	// Flush the seed changes so later ticks carry request changes only.
	f.manager.Tick()

	conn := dialWS(t, f)

	var open map[string]map[string]string
	require.NoError(t, conn.ReadJSON(&open))
	resource := open["notification_subscriber"]["resource"]
	require.True(t, strings.HasPrefix(resource, "/rest/v1/system/notification_subscribers/"))
	id := path.Base(resource)
	_, err := uuid.Parse(id)
	assert.NoError(t, err)
	assert.Equal(t, 1, f.hub.SessionCount())
	assert.Equal(t, 1, subscriberCount(f))

	// Subscribe to one port through the REST surface.
	resp := f.do(t, http.MethodPost, resource+"/notification_subscriptions",
		`{"configuration": {"name": "sub-1", "resource": "/rest/v1/system/ports/1"}}`, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	f.manager.Tick()

	var initial map[string]any
	require.NoError(t, conn.ReadJSON(&initial))
	notifications := initial["notifications"].(map[string]any)
	added := notifications["added"].([]any)
	require.Len(t, added, 1)
	first := added[0].(map[string]any)
	assert.Equal(t, "/rest/v1/system/ports/1", first["resource"])
	assert.Equal(t, resource+"/notification_subscriptions/sub-1", first["subscription"])
	values := first["values"].(map[string]any)
	assert.Equal(t, "10.0.10.1/24", values["ip4_address"])

	// A configuration change on the watched row arrives as a modified update.
	resp = f.do(t, http.MethodPatch, "/rest/v1/system/ports/1",
		`[{"op": "replace", "path": "/ip4_address", "value": "10.0.0.9/24"}]`, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	f.manager.Tick()

	var update map[string]any
	require.NoError(t, conn.ReadJSON(&update))
	notifications = update["notifications"].(map[string]any)
	modified := notifications["modified"].([]any)
	require.Len(t, modified, 1)
	entry := modified[0].(map[string]any)
	assert.Equal(t, "/rest/v1/system/ports/1", entry["resource"])
	newValues := entry["new_values"].(map[string]any)
	assert.Equal(t, "10.0.0.9/24", newValues["ip4_address"])

	// Closing the channel removes the subscriber and its subscriptions.
	conn.Close()
	require.Eventually(t, func() bool {
		return subscriberCount(f) == 0 && f.hub.SessionCount() == 0
	}, 5*time.Second, 20*time.Millisecond)
}

// Deliveries racing a client disconnect must not panic on the closed send
// queue; they fail with an error once the session is gone.
func TestHubSendRacesDisconnect(t *testing.T) {
	f := newFixture(t, false)
	f.manager.Tick()

	conn := dialWS(t, f)
	var open map[string]map[string]string
	require.NoError(t, conn.ReadJSON(&open))
	id := path.Base(open["notification_subscriber"]["resource"])

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					f.hub.Send(id, notify.Message{"notifications": map[string]any{}})
				}
			}
		}()
	}

	time.Sleep(10 * time.Millisecond)
	conn.Close()
	require.Eventually(t, func() bool { return f.hub.SessionCount() == 0 },
		5*time.Second, 10*time.Millisecond)
	close(stop)
	wg.Wait()

	assert.Error(t, f.hub.Send(id, notify.Message{}))
}

func TestWebSocketSubscriberRowShape(t *testing.T) {
	f := newFixture(t, false)
	f.manager.Tick()

	conn := dialWS(t, f)
	var open map[string]map[string]string
	require.NoError(t, conn.ReadJSON(&open))
	resource := open["notification_subscriber"]["resource"]

	resp := f.get(t, resource)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	row := decodeJSON[map[string]any](t, resp)
	configuration := row["configuration"].(map[string]any)
	assert.Equal(t, "ws", configuration["type"])
}
