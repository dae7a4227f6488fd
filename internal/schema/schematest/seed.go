package schematest

import (
	"github.com/google/uuid"

	"github.com/openswitch/restd/internal/ovsdb"
)

// Seeded carries the row UUIDs created by Seed.
type Seeded struct {
	System         uuid.UUID
	VRFDefault     uuid.UUID
	Port1          uuid.UUID
	Port2          uuid.UUID
	Eth0           uuid.UUID
	Subsystem      uuid.UUID
	Fan            uuid.UUID
	RouteConnected uuid.UUID
	RouteStatic    uuid.UUID
}

// Seed populates a replica with a small switch state: the System row, the
// default VRF, two ports, one interface, one subsystem with a fan, and one
// connected plus one static route. The tracking window is cleared so tests
// observe only their own changes.
func Seed(db *ovsdb.Database) Seeded {
	txn := db.NewTxn()

	system, err := txn.Insert("System")
	must(err)
	vrf, err := txn.Insert("VRF")
	must(err)
	port1, err := txn.Insert("Port")
	must(err)
	port2, err := txn.Insert("Port")
	must(err)
	eth0, err := txn.Insert("Interface")
	must(err)
	subsystem, err := txn.Insert("Subsystem")
	must(err)
	fan, err := txn.Insert("Fan")
	must(err)
	routeConnected, err := txn.Insert("Route")
	must(err)
	routeStatic, err := txn.Insert("Route")
	must(err)

	txn.Set("System", system, "hostname", "switch")
	txn.Set("System", system, "software_version", "1.0.0")
	txn.Set("System", system, "boot_time", int64(1700000000))
	txn.Set("System", system, "vrfs", []uuid.UUID{vrf.UUID})
	txn.Set("System", system, "subsystems", map[string]uuid.UUID{"base": subsystem.UUID})
	txn.Set("System", system, "ports", []uuid.UUID{port1.UUID, port2.UUID})
	txn.Set("System", system, "interfaces", []uuid.UUID{eth0.UUID})

	txn.Set("VRF", vrf, "name", "vrf_default")
	txn.Set("VRF", vrf, "ports", []uuid.UUID{port1.UUID})

	txn.Set("Port", port1, "name", "1")
	txn.Set("Port", port1, "interfaces", []uuid.UUID{eth0.UUID})
	txn.Set("Port", port1, "ip4_address", "10.0.10.1/24")
	txn.Set("Port", port1, "admin", "up")
	txn.Set("Port", port1, "statistics", map[string]any{"rx_packets": int64(120), "tx_packets": int64(48)})
	txn.Set("Port", port2, "name", "2")

	txn.Set("Interface", eth0, "name", "eth0")
	txn.Set("Interface", eth0, "type", "system")
	txn.Set("Interface", eth0, "admin_state", "up")
	txn.Set("Interface", eth0, "link_state", "up")

	txn.Set("Subsystem", subsystem, "name", "base")
	txn.Set("Subsystem", subsystem, "fans", []uuid.UUID{fan.UUID})

	txn.Set("Fan", fan, "name", "base-1A")
	txn.Set("Fan", fan, "status", "ok")

	txn.Set("Route", routeConnected, "vrf", vrf.UUID)
	txn.Set("Route", routeConnected, "from", "connected")
	txn.Set("Route", routeConnected, "prefix", "192.168.2.0/16")
	txn.Set("Route", routeConnected, "address_family", "ipv4")
	txn.Set("Route", routeConnected, "sub_address_family", "unicast")
	txn.Set("Route", routeConnected, "metric", int64(0))

	txn.Set("Route", routeStatic, "vrf", vrf.UUID)
	txn.Set("Route", routeStatic, "from", "static")
	txn.Set("Route", routeStatic, "prefix", "10.1.0.0/16")
	txn.Set("Route", routeStatic, "address_family", "ipv4")
	txn.Set("Route", routeStatic, "metric", int64(3))

	if txn.Commit() != ovsdb.StatusSuccess {
		panic("schematest: seed commit failed")
	}
	db.TrackClear()

	return Seeded{
		System:         system.UUID,
		VRFDefault:     vrf.UUID,
		Port1:          port1.UUID,
		Port2:          port2.UUID,
		Eth0:           eth0.UUID,
		Subsystem:      subsystem.UUID,
		Fan:            fan.UUID,
		RouteConnected: routeConnected.UUID,
		RouteStatic:    routeStatic.UUID,
	}
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
