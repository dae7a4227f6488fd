package server_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openswitch/restd/internal/auth"
	"github.com/openswitch/restd/internal/config"
	"github.com/openswitch/restd/internal/notify"
	"github.com/openswitch/restd/internal/ovsdb"
	"github.com/openswitch/restd/internal/query"
	"github.com/openswitch/restd/internal/schema/schematest"
	"github.com/openswitch/restd/internal/server"
)

type fixture struct {
	db      *ovsdb.Database
	manager *ovsdb.Manager
	seeded  schematest.Seeded
	hub     *server.Hub
	ts      *httptest.Server
	client  *http.Client
}

func newFixture(t *testing.T, authEnabled bool, opts ...server.Option) *fixture {
	t.Helper()
	s := schematest.Sample()
	db := ovsdb.NewDatabase(s, nil)
	seeded := schematest.Seed(db)
	manager := ovsdb.NewManager(db, nil, ovsdb.ManagerConfig{}, zap.NewNop())

	hub := server.NewHub(nil)
	notifier := notify.New(s, db, query.New(s, nil, nil), hub, nil)
	notifier.Register(manager)

	cfg := &config.Config{
		ListenAddress:     ":0",
		Environment:       "development",
		BasePath:          "/rest/v1",
		AuthEnabled:       authEnabled,
		JWTSecret:         "0123456789abcdef",
		JWTIssuer:         "restd",
		SessionMaxAge:     3600,
		Users:             map[string]string{"netop": "secret"},
		TxnTimeoutSeconds: 5,
		LogLevel:          "info",
		EnableMetrics:     true,
	}

	srv, err := server.New(cfg, s, manager, hub, zap.NewNop(), opts...)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	return &fixture{
		db:      db,
		manager: manager,
		seeded:  seeded,
		hub:     hub,
		ts:      ts,
		client:  &http.Client{Jar: jar},
	}
}

func (f *fixture) do(t *testing.T, method, path, body string, header map[string]string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.ts.URL+path, reader)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range header {
		req.Header.Set(key, value)
	}
	resp, err := f.client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *fixture) get(t *testing.T, path string) *http.Response {
	return f.do(t, http.MethodGet, path, "", nil)
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (f *fixture) login(t *testing.T, username, password string) *http.Response {
	t.Helper()
	form := url.Values{"username": {username}, "password": {password}}
	resp, err := f.client.PostForm(f.ts.URL+"/login", form)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestGetSystem(t *testing.T) {
	f := newFixture(t, false)

	resp := f.get(t, "/rest/v1/system")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))
	assert.NotEmpty(t, resp.Header.Get("Etag"))

	body := decodeJSON[map[string]any](t, resp)
	configuration, ok := body["configuration"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "switch", configuration["hostname"])
}

func TestGetNotFound(t *testing.T) {
	f := newFixture(t, false)

	resp := f.get(t, "/rest/v1/system/ports/99")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPathNormalization(t *testing.T) {
	f := newFixture(t, false)

	resp := f.get(t, "/rest/v1//system/ports/")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decodeJSON[[]any](t, resp)
	assert.Contains(t, list, "/rest/v1/system/ports/1")
	assert.Contains(t, list, "/rest/v1/system/ports/2")
}

func TestIfNoneMatch(t *testing.T) {
	f := newFixture(t, false)

	resp := f.get(t, "/rest/v1/system/ports/1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	etag := resp.Header.Get("Etag")
	require.NotEmpty(t, etag)

	resp = f.do(t, http.MethodGet, "/rest/v1/system/ports/1", "", map[string]string{"If-None-Match": etag})
	assert.Equal(t, http.StatusNotModified, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/rest/v1/system/ports/1", "", map[string]string{"If-None-Match": `"stale"`})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestResourceLifecycle(t *testing.T) {
	f := newFixture(t, false)

	body := `{"configuration": {
		"asn": 6004,
		"router_id": "10.10.0.4",
		"networks": ["10.0.0.0/8"],
		"maximum_paths": 2
	}}`
	resp := f.do(t, http.MethodPost, "/rest/v1/system/vrfs/vrf_default/bgp_routers", body, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	location := resp.Header.Get("Location")
	assert.Equal(t, "/rest/v1/system/vrfs/vrf_default/bgp_routers/6004", location)

	resp = f.get(t, location)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	row := decodeJSON[map[string]any](t, resp)
	configuration := row["configuration"].(map[string]any)
	assert.Equal(t, "10.10.0.4", configuration["router_id"])

	resp = f.do(t, http.MethodDelete, location, "", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = f.get(t, location)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPostValidationError(t *testing.T) {
	f := newFixture(t, false)

	resp := f.do(t, http.MethodPost, "/rest/v1/system/vrfs/vrf_default/bgp_routers",
		`{"configuration": {"asn": 6004, "maximum_paths": 999}}`, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decodeJSON[map[string]any](t, resp)
	errObj := body["error"].(map[string]any)
	assert.Equal(t, "DATA_VALIDATION_FAILED", errObj["type"])
}

func TestPutIfMatch(t *testing.T) {
	f := newFixture(t, false)

	resp := f.get(t, "/rest/v1/system/ports/1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	etag := resp.Header.Get("Etag")
	row := decodeJSON[map[string]any](t, resp)
	configuration := row["configuration"].(map[string]any)

	current, err := json.Marshal(map[string]any{"configuration": configuration})
	require.NoError(t, err)

	// Stale tag with a different configuration fails the precondition.
	configuration["ip4_address"] = "10.0.0.9/24"
	changed, err := json.Marshal(map[string]any{"configuration": configuration})
	require.NoError(t, err)
	resp = f.do(t, http.MethodPut, "/rest/v1/system/ports/1", string(changed),
		map[string]string{"If-Match": `"stale"`})
	assert.Equal(t, http.StatusPreconditionFailed, resp.StatusCode)

	// Stale tag with the running configuration is a successful no-op.
	resp = f.do(t, http.MethodPut, "/rest/v1/system/ports/1", string(current),
		map[string]string{"If-Match": `"stale"`})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Matching tag applies the change.
	resp = f.do(t, http.MethodPut, "/rest/v1/system/ports/1", string(changed),
		map[string]string{"If-Match": etag})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.get(t, "/rest/v1/system/ports/1")
	row = decodeJSON[map[string]any](t, resp)
	assert.Equal(t, "10.0.0.9/24", row["configuration"].(map[string]any)["ip4_address"])
}

func TestWriteParamGating(t *testing.T) {
	f := newFixture(t, false)

	resp := f.do(t, http.MethodPost, "/rest/v1/system/vrfs/vrf_default/bgp_routers?depth=1",
		`{"configuration": {"asn": 6004}}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// A selector is only meaningful together with If-Match.
	resp = f.do(t, http.MethodDelete, "/rest/v1/system/ports/2?selector=configuration", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUnsupportedMediaType(t *testing.T) {
	f := newFixture(t, false)

	resp := f.do(t, http.MethodPut, "/rest/v1/system/ports/1",
		`{"configuration": {}}`, map[string]string{"Content-Type": "text/plain"})
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t, false)

	req, err := http.NewRequest("TRACE", f.ts.URL+"/rest/v1/system", nil)
	require.NoError(t, err)
	resp, err := f.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestAuthFlow(t *testing.T) {
	f := newFixture(t, true)

	resp := f.get(t, "/rest/v1/system")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Link"))

	resp = f.get(t, "/login")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = f.login(t, "netop", "wrong")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = f.login(t, "netop", "secret")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.get(t, "/login")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.get(t, "/rest/v1/system")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/logout", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.get(t, "/rest/v1/system")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLoginThrottle(t *testing.T) {
	f := newFixture(t, true, server.WithLoginLimiter(auth.NewLoginLimiter(2, time.Minute)))

	assert.Equal(t, http.StatusUnauthorized, f.login(t, "netop", "wrong").StatusCode)
	assert.Equal(t, http.StatusUnauthorized, f.login(t, "netop", "wrong").StatusCode)
	assert.Equal(t, http.StatusTooManyRequests, f.login(t, "netop", "secret").StatusCode)
}

func TestAccount(t *testing.T) {
	f := newFixture(t, true)

	require.Equal(t, http.StatusOK, f.login(t, "netop", "secret").StatusCode)

	resp := f.get(t, "/account")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeJSON[map[string]any](t, resp)
	assert.Equal(t, "netop", body["username"])

	resp = f.do(t, http.MethodPut, "/account", `{"configuration": {"wrong": true}}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPut, "/account", `{"configuration": {"password": "rotated"}}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, http.StatusUnauthorized, f.login(t, "netop", "secret").StatusCode)
	assert.Equal(t, http.StatusOK, f.login(t, "netop", "rotated").StatusCode)
}

type stubLogSource struct {
	entries []map[string]any
	lastOpt server.LogOptions
}

func (s *stubLogSource) Read(_ context.Context, opts server.LogOptions) ([]map[string]any, error) {
	s.lastOpt = opts
	return s.entries, nil
}

func TestLogs(t *testing.T) {
	src := &stubLogSource{entries: []map[string]any{
		{"MESSAGE": "one", "PRIORITY": "3"},
		{"MESSAGE": "two", "PRIORITY": "6"},
		{"MESSAGE": "three", "PRIORITY": "6"},
	}}
	f := newFixture(t, false, server.WithLogSource(src))

	resp := f.get(t, "/logs?priority=6&offset=1&limit=1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	entries := decodeJSON[[]map[string]any](t, resp)
	require.Len(t, entries, 1)
	assert.Equal(t, "two", entries[0]["MESSAGE"])
	assert.Equal(t, 6, src.lastOpt.Priority)

	resp = f.get(t, "/logs?priority=9")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.get(t, "/logs?bogus=1")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestFullConfiguration(t *testing.T) {
	f := newFixture(t, false)

	resp := f.get(t, "/rest/v1/system/full-configuration?type=running")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	doc := decodeJSON[map[string]any](t, resp)
	require.NotEmpty(t, doc)
	raw, err := json.Marshal(doc)
	require.NoError(t, err)

	resp = f.do(t, http.MethodPut, "/rest/v1/system/full-configuration?type=running", string(raw), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.get(t, "/rest/v1/system/full-configuration")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, doc, decodeJSON[map[string]any](t, resp))

	resp = f.get(t, "/rest/v1/system/full-configuration?type=startup")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, false)

	f.get(t, "/rest/v1/system")
	resp := f.get(t, "/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), "restd_requests_total")
}
