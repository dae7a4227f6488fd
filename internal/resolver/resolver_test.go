package resolver_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openswitch/restd/internal/ovsdb"
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

func (f *fixture) parse(t *testing.T, path string) *resolver.Resource {
	t.Helper()
	var chain *resolver.Resource
	err := f.db.View(func(v *ovsdb.View) error {
		var err error
		chain, err = resolver.Parse(f.s, v, path)
		return err
	})
	require.NoError(t, err)
	return chain
}

func (f *fixture) parseErr(t *testing.T, path string) error {
	t.Helper()
	return f.db.View(func(v *ovsdb.View) error {
		_, err := resolver.Parse(f.s, v, path)
		return err
	})
}

func TestParseSystem(t *testing.T) {
	f := newFixture(t)

	chain := f.parse(t, "/rest/v1/system")
	assert.Equal(t, "System", chain.Table)
	assert.Equal(t, f.seeded.System, chain.Row)
	assert.Nil(t, chain.Next)
	assert.False(t, chain.IsCollection())
}

func TestParseForwardChildCollection(t *testing.T) {
	f := newFixture(t)

	chain := f.parse(t, "/rest/v1/system/vrfs")
	assert.Equal(t, resolver.RelationChild, chain.Relation)
	assert.Equal(t, "vrfs", chain.Column)

	terminal := chain.Terminal()
	assert.Equal(t, "VRF", terminal.Table)
	assert.Equal(t, uuid.Nil, terminal.Row)
	assert.True(t, chain.IsCollection())
}

func TestParseForwardChildInstance(t *testing.T) {
	f := newFixture(t)

	chain := f.parse(t, "/rest/v1/system/vrfs/vrf_default")
	terminal := chain.Terminal()
	assert.Equal(t, "VRF", terminal.Table)
	assert.Equal(t, f.seeded.VRFDefault, terminal.Row)
	assert.Equal(t, []string{"vrf_default"}, terminal.Index)
}

func TestParseKVChild(t *testing.T) {
	f := newFixture(t)

	// A BGP router keyed by ASN under the default VRF.
	txn := f.db.NewTxn()
	router, err := txn.Insert("BGP_Router")
	require.NoError(t, err)
	txn.Set("BGP_Router", router, "router_id", "10.10.0.4")
	vrfRow := txn.Row("VRF", f.seeded.VRFDefault)
	txn.Set("VRF", vrfRow, "bgp_routers", map[string]uuid.UUID{"6004": router.UUID})
	require.Equal(t, ovsdb.StatusSuccess, txn.Commit())

	chain := f.parse(t, "/rest/v1/system/vrfs/vrf_default/bgp_routers/6004")
	terminal := chain.Terminal()
	assert.Equal(t, "BGP_Router", terminal.Table)
	assert.Equal(t, router.UUID, terminal.Row)
	assert.Equal(t, []string{"6004"}, terminal.Index)

	// The map key is typed: a non-integer key must not resolve.
	err = f.parseErr(t, "/rest/v1/system/vrfs/vrf_default/bgp_routers/abc")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestParseBackReferenceChild(t *testing.T) {
	f := newFixture(t)

	chain := f.parse(t, "/rest/v1/system/vrfs/vrf_default/routes/connected/192.168.2.0%2F16")
	terminal := chain.Terminal()
	assert.Equal(t, "Route", terminal.Table)
	assert.Equal(t, f.seeded.RouteConnected, terminal.Row)
	assert.Equal(t, []string{"connected", "192.168.2.0/16"}, terminal.Index)

	parent := chain.Parent()
	require.NotNil(t, parent)
	assert.Equal(t, resolver.RelationBackReference, parent.Relation)
	assert.Equal(t, "VRF", parent.Table)
}

func TestParseTopLevel(t *testing.T) {
	f := newFixture(t)

	chain := f.parse(t, "/rest/v1/system/ports/1")
	terminal := chain.Terminal()
	assert.Equal(t, "Port", terminal.Table)
	assert.Equal(t, f.seeded.Port1, terminal.Row)
	assert.Equal(t, resolver.RelationTopLevel, chain.Relation)

	collection := f.parse(t, "/rest/v1/system/interfaces")
	assert.True(t, collection.IsCollection())
}

func TestParseNotFound(t *testing.T) {
	f := newFixture(t)

	for _, path := range []string{
		"/rest/v1/system/vrfs/missing",
		"/rest/v1/system/bogus",
		"/rest/v1/system/vrfs/vrf_default/routes/connected",
		"/rest/v2/system",
		"/rest/v1/ports",
	} {
		err := f.parseErr(t, path)
		assert.True(t, apperrors.IsNotFound(err), "path %s", path)
	}
}

func TestURIRoundTrip(t *testing.T) {
	f := newFixture(t)

	paths := []string{
		"/rest/v1/system/vrfs/vrf_default",
		"/rest/v1/system/ports/1",
		"/rest/v1/system/interfaces/eth0",
		"/rest/v1/system/vrfs/vrf_default/routes/connected/192.168.2.0%2F16",
		"/rest/v1/system/vrfs/vrf_default/routes/static/10.1.0.0%2F16",
	}
	err := f.db.View(func(v *ovsdb.View) error {
		for _, path := range paths {
			chain, err := resolver.Parse(f.s, v, path)
			require.NoError(t, err, path)
			terminal := chain.Terminal()
			row := v.Row(terminal.Table, terminal.Row)
			require.NotNil(t, row, path)

			uri := resolver.RowToURI(f.s, v, terminal.Table, row)
			assert.Equal(t, path, uri, "uri of resolved row")

			again, err := resolver.Parse(f.s, v, uri)
			require.NoError(t, err, uri)
			assert.Equal(t, terminal.Row, again.Terminal().Row)
		}
		return nil
	})
	require.NoError(t, err)
}

func TestRowToURIKVChild(t *testing.T) {
	f := newFixture(t)

	txn := f.db.NewTxn()
	router, err := txn.Insert("BGP_Router")
	require.NoError(t, err)
	vrfRow := txn.Row("VRF", f.seeded.VRFDefault)
	txn.Set("VRF", vrfRow, "bgp_routers", map[string]uuid.UUID{"6004": router.UUID})
	require.Equal(t, ovsdb.StatusSuccess, txn.Commit())

	err = f.db.View(func(v *ovsdb.View) error {
		uri := resolver.RowToURI(f.s, v, "BGP_Router", v.Row("BGP_Router", router.UUID))
		assert.Equal(t, "/rest/v1/system/vrfs/vrf_default/bgp_routers/6004", uri)
		return nil
	})
	require.NoError(t, err)
}

func TestRowToIndex(t *testing.T) {
	f := newFixture(t)

	err := f.db.View(func(v *ovsdb.View) error {
		route := v.Row("Route", f.seeded.RouteConnected)
		assert.Equal(t, "connected/192.168.2.0%2F16",
			resolver.RowToIndex(f.s, v, "Route", route, nil))

		port := v.Row("Port", f.seeded.Port1)
		assert.Equal(t, "1", resolver.RowToIndex(f.s, v, "Port", port, nil))
		return nil
	})
	require.NoError(t, err)
}

func TestBackReferenceChildren(t *testing.T) {
	f := newFixture(t)

	err := f.db.View(func(v *ovsdb.View) error {
		rows := resolver.BackReferenceChildren(f.s, v, "VRF", f.seeded.VRFDefault, "Route")
		assert.Len(t, rows, 2)
		return nil
	})
	require.NoError(t, err)
}
