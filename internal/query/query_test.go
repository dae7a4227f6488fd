package query_test

import (
	"context"
	"net/url"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openswitch/restd/internal/ovsdb"
	"github.com/openswitch/restd/internal/query"
	"github.com/openswitch/restd/internal/resolver"
	"github.com/openswitch/restd/internal/schema"
	"github.com/openswitch/restd/internal/schema/schematest"
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

func (f *fixture) get(e *query.Engine, path, rawQuery string) (any, error) {
	var result any
	err := f.db.View(func(v *ovsdb.View) error {
		chain, err := resolver.Parse(f.s, v, path)
		if err != nil {
			return err
		}
		args, err := url.ParseQuery(rawQuery)
		if err != nil {
			return err
		}
		opts, err := query.ParseOptions(args, f.s.Table(chain.Terminal().Table), chain.IsCollection())
		if err != nil {
			return err
		}
		result, err = e.Get(context.Background(), v, chain, path, opts)
		return err
	})
	return result, err
}

func mustGet(t *testing.T, f *fixture, e *query.Engine, path, rawQuery string) any {
	t.Helper()
	result, err := f.get(e, path, rawQuery)
	require.NoError(t, err, "%s?%s", path, rawQuery)
	return result
}

func rowObject(t *testing.T, v any) map[string]any {
	t.Helper()
	row, ok := v.(map[string]any)
	require.True(t, ok, "expected a row object, got %T", v)
	return row
}

func category(t *testing.T, row map[string]any, name string) map[string]any {
	t.Helper()
	bucket, ok := row[name].(map[string]any)
	require.True(t, ok, "missing %s bucket", name)
	return bucket
}

func TestRowDepthZero(t *testing.T) {
	f := newFixture(t)
	e := query.New(f.s, nil, nil)

	row := rowObject(t, mustGet(t, f, e, "/rest/v1/system/ports/1", ""))
	config := category(t, row, "configuration")
	assert.Equal(t, "1", config["name"])
	assert.Equal(t, "10.0.10.1/24", config["ip4_address"])
	assert.Equal(t, "up", config["admin"])
	assert.Equal(t, []any{"/rest/v1/system/interfaces/eth0"}, config["interfaces"])

	stats := category(t, row, "statistics")
	assert.Equal(t, map[string]any{"rx_packets": int64(120), "tx_packets": int64(48)}, stats["statistics"])

	// Empty columns are omitted.
	assert.Empty(t, category(t, row, "status"))
}

func TestSystemRow(t *testing.T) {
	f := newFixture(t)
	e := query.New(f.s, nil, nil)

	row := rowObject(t, mustGet(t, f, e, "/rest/v1/system", ""))
	config := category(t, row, "configuration")
	assert.Equal(t, "switch", config["hostname"])
	assert.Equal(t, []any{"/rest/v1/system/vrfs/vrf_default"}, config["vrfs"])
	assert.ElementsMatch(t, []any{"/rest/v1/system/ports/1", "/rest/v1/system/ports/2"}, config["ports"])
	assert.NotContains(t, config, "other_config")

	status := category(t, row, "status")
	assert.Equal(t, "1.0.0", status["software_version"])
	assert.Equal(t, map[string]any{"base": "/rest/v1/system/subsystems/base"}, status["subsystems"])

	stats := category(t, row, "statistics")
	assert.Equal(t, int64(1700000000), stats["boot_time"])
}

func TestRowSelector(t *testing.T) {
	f := newFixture(t)
	e := query.New(f.s, nil, nil)

	row := rowObject(t, mustGet(t, f, e, "/rest/v1/system/interfaces/eth0", "selector=status"))
	assert.Len(t, row, 1)
	status := category(t, row, "status")
	assert.Equal(t, "up", status["admin_state"])
	assert.Equal(t, "up", status["link_state"])

	_, err := f.get(e, "/rest/v1/system/interfaces/eth0", "selector=invalid")
	assert.True(t, apperrors.IsDataValidationFailed(err))
}

func TestDynamicRouteCategories(t *testing.T) {
	f := newFixture(t)
	e := query.New(f.s, nil, nil)

	// A connected route carries its columns under status.
	connected := rowObject(t, mustGet(t, f, e,
		"/rest/v1/system/vrfs/vrf_default/routes/connected/192.168.2.0%2F16", ""))
	status := category(t, connected, "status")
	assert.Equal(t, "connected", status["from"])
	assert.Equal(t, "192.168.2.0/16", status["prefix"])
	assert.Equal(t, int64(0), status["metric"])
	assert.NotContains(t, category(t, connected, "configuration"), "prefix")

	// A static route keeps them under configuration.
	static := rowObject(t, mustGet(t, f, e,
		"/rest/v1/system/vrfs/vrf_default/routes/static/10.1.0.0%2F16", ""))
	config := category(t, static, "configuration")
	assert.Equal(t, "static", config["from"])
	assert.Equal(t, "10.1.0.0/16", config["prefix"])
	assert.Equal(t, int64(3), config["metric"])
}

func TestCollectionDepthZero(t *testing.T) {
	f := newFixture(t)
	e := query.New(f.s, nil, nil)

	assert.Equal(t, []any{"/rest/v1/system/interfaces/eth0"},
		mustGet(t, f, e, "/rest/v1/system/interfaces", ""))

	assert.Equal(t, []any{"/rest/v1/system/ports/1", "/rest/v1/system/ports/2"},
		mustGet(t, f, e, "/rest/v1/system/ports", ""))

	assert.Equal(t, []any{"/rest/v1/system/vrfs/vrf_default"},
		mustGet(t, f, e, "/rest/v1/system/vrfs", ""))

	assert.Equal(t, map[string]any{"base": "/rest/v1/system/subsystems/base"},
		mustGet(t, f, e, "/rest/v1/system/subsystems", ""))

	assert.Equal(t, []any{
		"/rest/v1/system/vrfs/vrf_default/routes/connected/192.168.2.0%2F16",
		"/rest/v1/system/vrfs/vrf_default/routes/static/10.1.0.0%2F16",
	}, mustGet(t, f, e, "/rest/v1/system/vrfs/vrf_default/routes", ""))
}

func TestCollectionDepthOne(t *testing.T) {
	f := newFixture(t)
	e := query.New(f.s, nil, nil)

	list, ok := mustGet(t, f, e, "/rest/v1/system/ports", "depth=1").([]any)
	require.True(t, ok)
	require.Len(t, list, 2)

	first := rowObject(t, list[0])
	assert.Equal(t, "1", category(t, first, "configuration")["name"])
	second := rowObject(t, list[1])
	assert.Equal(t, "2", category(t, second, "configuration")["name"])
}

func TestCollectionSort(t *testing.T) {
	f := newFixture(t)
	e := query.New(f.s, nil, nil)

	list, ok := mustGet(t, f, e, "/rest/v1/system/ports", "depth=1&sort=-name").([]any)
	require.True(t, ok)
	require.Len(t, list, 2)
	assert.Equal(t, "2", category(t, rowObject(t, list[0]), "configuration")["name"])
	assert.Equal(t, "1", category(t, rowObject(t, list[1]), "configuration")["name"])
}

func TestCollectionFilter(t *testing.T) {
	f := newFixture(t)
	e := query.New(f.s, nil, nil)

	list, ok := mustGet(t, f, e, "/rest/v1/system/ports", "depth=1&name=1").([]any)
	require.True(t, ok)
	require.Len(t, list, 1)
	assert.Equal(t, "1", category(t, rowObject(t, list[0]), "configuration")["name"])

	_, err := f.get(e, "/rest/v1/system/ports", "depth=1&bogus=1")
	assert.True(t, apperrors.IsDataValidationFailed(err))
}

func TestCollectionPagination(t *testing.T) {
	f := newFixture(t)
	e := query.New(f.s, nil, nil)

	list, ok := mustGet(t, f, e, "/rest/v1/system/ports", "depth=1&offset=1&limit=5").([]any)
	require.True(t, ok)
	require.Len(t, list, 1)
	assert.Equal(t, "2", category(t, rowObject(t, list[0]), "configuration")["name"])

	_, err := f.get(e, "/rest/v1/system/ports", "depth=1&offset=5")
	assert.True(t, apperrors.IsDataValidationFailed(err))

	_, err = f.get(e, "/rest/v1/system/ports", "depth=1&offset=1&limit=0")
	assert.True(t, apperrors.IsDataValidationFailed(err))
}

func TestCollectionKeysProjection(t *testing.T) {
	f := newFixture(t)
	e := query.New(f.s, nil, nil)

	list, ok := mustGet(t, f, e, "/rest/v1/system/ports", "depth=1&keys=name").([]any)
	require.True(t, ok)
	require.Len(t, list, 2)

	row := rowObject(t, list[0])
	config := category(t, row, "configuration")
	assert.Equal(t, map[string]any{"name": "1"}, config)
	assert.Empty(t, category(t, row, "statistics"))
}

func TestQueryArgValidation(t *testing.T) {
	f := newFixture(t)
	e := query.New(f.s, nil, nil)

	for _, tc := range []struct {
		path  string
		query string
	}{
		{"/rest/v1/system/ports", "sort=name"},
		{"/rest/v1/system/ports", "offset=1"},
		{"/rest/v1/system/ports/1", "sort=name"},
		{"/rest/v1/system/ports/1", "name=1"},
		{"/rest/v1/system/ports", "depth=abc"},
		{"/rest/v1/system/ports", "depth=11"},
		{"/rest/v1/system/ports", "depth=1&sort=bogus"},
		{"/rest/v1/system/ports", "depth=1&offset=x"},
	} {
		_, err := f.get(e, tc.path, tc.query)
		assert.True(t, apperrors.IsDataValidationFailed(err), "%s?%s", tc.path, tc.query)
	}

	// Selector and depth stay legal on single resources.
	_, err := f.get(e, "/rest/v1/system/ports/1", "selector=configuration&depth=1")
	assert.NoError(t, err)
}

func TestNestedDepth(t *testing.T) {
	f := newFixture(t)
	e := query.New(f.s, nil, nil)

	// depth=2 embeds the fans of each subsystem, depth=1 stops at URIs.
	shallow := mustGet(t, f, e, "/rest/v1/system/subsystems", "depth=1").(map[string]any)
	base := rowObject(t, shallow["base"])
	assert.Equal(t, []any{"/rest/v1/system/subsystems/fans/base-1A"},
		category(t, base, "status")["fans"])

	deep := mustGet(t, f, e, "/rest/v1/system/subsystems", "depth=2").(map[string]any)
	base = rowObject(t, deep["base"])
	fans, ok := category(t, base, "status")["fans"].([]any)
	require.True(t, ok)
	require.Len(t, fans, 1)
	fan := rowObject(t, fans[0])
	assert.Equal(t, "base-1A", category(t, fan, "status")["name"])
	assert.Equal(t, "ok", category(t, fan, "status")["status"])
}

type stubFetcher struct {
	tables []string
	rows   map[string][]uuid.UUID
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{rows: map[string][]uuid.UUID{}}
}

func (s *stubFetcher) FetchRows(_ context.Context, table string, ids []uuid.UUID) error {
	s.rows[table] = append(s.rows[table], ids...)
	return nil
}

func (s *stubFetcher) FetchTable(_ context.Context, table string) error {
	s.tables = append(s.tables, table)
	return nil
}

func TestOnDemandFetch(t *testing.T) {
	f := newFixture(t)
	fetcher := newStubFetcher()
	e := query.New(f.s, fetcher, nil)

	// A single row pulls its own readonly columns.
	mustGet(t, f, e, "/rest/v1/system/vrfs/vrf_default/routes/connected/192.168.2.0%2F16", "")
	assert.Equal(t, []uuid.UUID{f.seeded.RouteConnected}, fetcher.rows["Route"])

	// A depth collection pulls every member before serializing.
	fetcher = newStubFetcher()
	e = query.New(f.s, fetcher, nil)
	mustGet(t, f, e, "/rest/v1/system/vrfs/vrf_default/routes", "depth=1")
	assert.ElementsMatch(t, []uuid.UUID{f.seeded.RouteConnected, f.seeded.RouteStatic},
		fetcher.rows["Route"])

	// URI listings read only replicated index columns.
	fetcher = newStubFetcher()
	e = query.New(f.s, fetcher, nil)
	mustGet(t, f, e, "/rest/v1/system/vrfs/vrf_default/routes", "")
	assert.Empty(t, fetcher.rows["Route"])
	assert.Empty(t, fetcher.tables)
}

func TestWithEmptyValues(t *testing.T) {
	f := newFixture(t)
	e := query.New(f.s, nil, nil)

	var result any
	err := f.db.View(func(v *ovsdb.View) error {
		chain, err := resolver.Parse(f.s, v, "/rest/v1/system/ports/2")
		if err != nil {
			return err
		}
		result, err = e.Get(context.Background(), v, chain, "/rest/v1/system/ports/2",
			query.Options{WithEmptyValues: true})
		return err
	})
	require.NoError(t, err)

	config := category(t, rowObject(t, result), "configuration")
	assert.Equal(t, "", config["ip4_address"])
	// Declared empty values substitute for absent columns.
	assert.Equal(t, "up", config["admin"])
}
