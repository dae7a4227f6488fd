package schema_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openswitch/restd/internal/schema"
	"github.com/openswitch/restd/internal/schema/schematest"
)

func TestParseSampleSchema(t *testing.T) {
	s := schematest.Sample()

	assert.Equal(t, "SwitchTest", s.Name)
	assert.Equal(t, "1.0.0", s.Version)
	require.NotNil(t, s.Table("System"))
	require.NotNil(t, s.Table("VRF"))
	require.NotNil(t, s.Table("Route"))
}

func TestPluralNames(t *testing.T) {
	s := schematest.Sample()

	assert.Equal(t, "vrfs", s.Table("VRF").PluralName)
	assert.Equal(t, "bgp_routers", s.Table("BGP_Router").PluralName)
	assert.Equal(t, "notification_subscribers", s.Table("Notification_Subscriber").PluralName)
	assert.Equal(t, "subsystems", s.Table("Subsystem").PluralName)
	assert.Equal(t, "fans", s.Table("Fan").PluralName)

	assert.Equal(t, s.Table("Port"), s.TableByPlural("ports"))
	assert.Nil(t, s.TableByPlural("nonexistent"))
}

func TestParentChildBackfill(t *testing.T) {
	s := schematest.Sample()

	assert.Equal(t, "System", s.Table("VRF").Parent)
	assert.Equal(t, "VRF", s.Table("BGP_Router").Parent)
	assert.Equal(t, "BGP_Router", s.Table("BGP_Neighbor").Parent)
	assert.Equal(t, "VRF", s.Table("Route").Parent)
	assert.Equal(t, "System", s.Table("Subsystem").Parent)
	assert.Equal(t, "", s.Table("Port").Parent)

	// Forward children are column names, back-referenced children table names.
	assert.Contains(t, s.Table("System").Children, "vrfs")
	assert.Contains(t, s.Table("VRF").Children, "bgp_routers")
	assert.Contains(t, s.Table("VRF").Children, "Route")
	assert.NotContains(t, s.Table("VRF").Children, "ports")
}

func TestResourceIndexes(t *testing.T) {
	s := schematest.Sample()

	// Parent references are dropped from the URI index.
	assert.Equal(t, []string{"from", "prefix"}, s.Table("Route").Indexes)
	assert.Equal(t, []string{"name"}, s.Table("VRF").Indexes)
	// No declared index falls back to the row UUID.
	assert.Equal(t, []string{"uuid"}, s.Table("BGP_Router").Indexes)
	assert.Equal(t, []string{"uuid"}, s.Table("System").Indexes)
}

func TestMutability(t *testing.T) {
	s := schematest.Sample()

	assert.True(t, s.Table("VRF").Mutable)
	assert.True(t, s.Table("Port").Mutable)
	assert.True(t, s.Table("Route").Mutable)
	assert.True(t, s.Table("Notification_Subscriber").Mutable)
	assert.True(t, s.Table("Notification_Subscription").Mutable)

	// Root without a configuration index.
	assert.False(t, s.Table("System").Mutable)
	// Children reached through non-configuration references.
	assert.False(t, s.Table("Subsystem").Mutable)
	assert.False(t, s.Table("Fan").Mutable)
}

func TestKVReferences(t *testing.T) {
	s := schematest.Sample()

	routers := s.Table("VRF").References["bgp_routers"]
	require.NotNil(t, routers)
	assert.True(t, routers.KVType)
	assert.Equal(t, schema.TypeInteger, routers.KVKeyType)
	assert.Equal(t, "asn", routers.Keyname)
	assert.Equal(t, "BGP_Router", routers.RefTable)
	assert.Equal(t, schema.RelationChild, routers.Relation)

	neighbors := s.Table("BGP_Router").References["bgp_neighbors"]
	require.NotNil(t, neighbors)
	assert.True(t, neighbors.KVType)
	assert.Equal(t, schema.TypeString, neighbors.KVKeyType)
}

func TestReferencedByMap(t *testing.T) {
	s := schematest.Sample()

	byTable := s.ReferencedBy["Port"]
	require.NotNil(t, byTable)
	assert.Equal(t, []string{"ports"}, byTable["System"])
	assert.Equal(t, []string{"ports"}, byTable["VRF"])

	assert.Contains(t, s.ReferencedBy["Interface"]["Port"], "interfaces")
}

func TestOnDemandClassification(t *testing.T) {
	s := schematest.Sample()

	route := s.Table("Route")
	assert.Equal(t, schema.FetchPartial, route.FetchKind)
	// Index columns stay replicated, other status columns do not.
	assert.Contains(t, route.ReadonlyColumns, "distance")
	assert.Contains(t, route.ReadonlyColumns, "selected")
	assert.NotContains(t, route.ReadonlyColumns, "from")
	assert.NotContains(t, route.ReadonlyColumns, "prefix")

	assert.Equal(t, schema.FetchNone, s.Table("Port").FetchKind)
	assert.Empty(t, s.Table("Port").ReadonlyColumns)
}

func TestEffectiveCategoryDynamic(t *testing.T) {
	s := schematest.Sample()
	route := s.Table("Route")

	connected := func(col string) any {
		if col == "from" {
			return "connected"
		}
		return nil
	}
	static := func(col string) any {
		if col == "from" {
			return "static"
		}
		return nil
	}
	unknown := func(col string) any {
		if col == "from" {
			return "ospf"
		}
		return nil
	}

	assert.Equal(t, schema.CategoryStatus, route.EffectiveCategory("from", connected))
	assert.Equal(t, schema.CategoryStatus, route.EffectiveCategory("prefix", connected))
	assert.Equal(t, schema.CategoryStatus, route.EffectiveCategory("metric", connected))

	assert.Equal(t, schema.CategoryConfiguration, route.EffectiveCategory("from", static))
	assert.Equal(t, schema.CategoryConfiguration, route.EffectiveCategory("prefix", static))

	// Values without a per-value rule fall back to configuration.
	assert.Equal(t, schema.CategoryConfiguration, route.EffectiveCategory("prefix", unknown))

	// Static columns are unaffected by the source column.
	assert.Equal(t, schema.CategoryStatus, route.EffectiveCategory("distance", connected))
}

func TestEffectiveCategoryStatic(t *testing.T) {
	s := schematest.Sample()
	port := s.Table("Port")

	get := func(string) any { return nil }
	assert.Equal(t, schema.CategoryConfiguration, port.EffectiveCategory("name", get))
	assert.Equal(t, schema.CategoryStatistics, port.EffectiveCategory("statistics", get))
	assert.Equal(t, schema.CategoryReference, port.EffectiveCategory("interfaces", get))
}

func TestCategoryOf(t *testing.T) {
	s := schematest.Sample()
	vrf := s.Table("VRF")

	cat, ok := vrf.CategoryOf("name")
	require.True(t, ok)
	assert.Equal(t, schema.CategoryConfiguration, cat)

	cat, ok = vrf.CategoryOf("bgp_routers")
	require.True(t, ok)
	assert.Equal(t, schema.CategoryReference, cat)

	_, ok = vrf.CategoryOf("bogus")
	assert.False(t, ok)
}

func TestParseErrors(t *testing.T) {
	cases := map[string]string{
		"unknown category": `{"name":"X","tables":{"T":{"columns":{
			"a":{"category":"bogus","type":{"key":{"type":"string"}}}}}}}`,
		"unknown relationship": `{"name":"X","tables":{"T":{"columns":{
			"a":{"category":"configuration","relationship":"n:m",
			"type":{"key":{"type":"uuid","refTable":"T"}}}}}}}`,
		"follows unknown column": `{"name":"X","tables":{"T":{"columns":{
			"a":{"category":{"follows":"missing"},"type":{"key":{"type":"string"}}}}}}}`,
		"bad member count": `{"name":"X","tables":{"T":{"columns":{
			"a":{"category":"configuration","type":{"key":{"type":"string"},"min":2,"max":1}}}}}}`,
		"bad version": `{"name":"X","version":"1.2","tables":{"T":{"columns":{
			"a":{"category":"configuration","type":{"key":{"type":"string"}}}}}}}`,
		"no columns": `{"name":"X","tables":{"T":{"columns":{}}}}`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := schema.Parse([]byte(doc))
			require.Error(t, err)
			var schemaErr *schema.SchemaError
			assert.ErrorAs(t, err, &schemaErr)
		})
	}
}

func TestCoerceValue(t *testing.T) {
	v, err := schema.CoerceValue(schema.TypeInteger, "6004")
	require.NoError(t, err)
	assert.Equal(t, int64(6004), v)

	v, err = schema.CoerceValue(schema.TypeBoolean, "true")
	require.NoError(t, err)
	assert.Equal(t, true, v)

	v, err = schema.CoerceValue(schema.TypeString, "vrf_default")
	require.NoError(t, err)
	assert.Equal(t, "vrf_default", v)

	_, err = schema.CoerceValue(schema.TypeInteger, "abc")
	assert.Error(t, err)
}
