// Package schematest provides a sample extended schema used by tests across
// the daemon. It models a small switch database: the singleton System table,
// VRFs with key/value BGP router children, back-referenced routes with
// dynamic categories, top-level ports and interfaces, immutable subsystems
// and fans, and the notification subscriber/subscription tables.
package schematest

import (
	"github.com/openswitch/restd/internal/schema"
)

// Sample parses the sample schema. The fixture is constant, a parse failure
// is a bug in the fixture itself.
func Sample() *schema.Schema {
	s, err := schema.Parse([]byte(JSON))
	if err != nil {
		panic(err)
	}
	return s
}

// JSON is the sample extended schema document.
const JSON = `{
  "name": "SwitchTest",
  "version": "1.0.0",
  "tables": {
    "System": {
      "isRoot": true,
      "maxRows": 1,
      "columns": {
        "hostname": {
          "category": "configuration",
          "type": {"key": {"type": "string"}, "min": 0, "max": 1}
        },
        "software_version": {
          "category": "status",
          "type": {"key": {"type": "string"}, "min": 0, "max": 1}
        },
        "boot_time": {
          "category": "statistics",
          "type": {"key": {"type": "integer"}, "min": 0, "max": 1}
        },
        "other_config": {
          "category": "configuration",
          "type": {"key": {"type": "string"}, "value": {"type": "string"}, "min": 0, "max": "unlimited"}
        },
        "vrfs": {
          "category": "configuration",
          "relationship": "1:m",
          "type": {"key": {"type": "uuid", "refTable": "VRF"}, "min": 0, "max": "unlimited"}
        },
        "subsystems": {
          "category": "status",
          "relationship": "1:m",
          "keyname": "name",
          "type": {"key": {"type": "string"}, "value": {"type": "uuid", "refTable": "Subsystem"}, "min": 0, "max": "unlimited"}
        },
        "ports": {
          "category": "configuration",
          "relationship": "reference",
          "type": {"key": {"type": "uuid", "refTable": "Port"}, "min": 0, "max": "unlimited"}
        },
        "interfaces": {
          "category": "configuration",
          "relationship": "reference",
          "type": {"key": {"type": "uuid", "refTable": "Interface"}, "min": 0, "max": "unlimited"}
        }
      }
    },
    "VRF": {
      "indexes": [["name"]],
      "columns": {
        "name": {
          "category": "configuration",
          "mutable": false,
          "type": {"key": {"type": "string", "maxLength": 64}}
        },
        "status": {
          "category": "status",
          "type": {"key": {"type": "string"}, "value": {"type": "string"}, "min": 0, "max": "unlimited"}
        },
        "bgp_routers": {
          "category": "configuration",
          "relationship": "1:m",
          "keyname": "asn",
          "type": {"key": {"type": "integer", "minInteger": 1, "maxInteger": 4294967295}, "value": {"type": "uuid", "refTable": "BGP_Router"}, "min": 0, "max": 128}
        },
        "ports": {
          "category": "configuration",
          "relationship": "reference",
          "type": {"key": {"type": "uuid", "refTable": "Port"}, "min": 0, "max": "unlimited"}
        }
      }
    },
    "BGP_Router": {
      "columns": {
        "router_id": {
          "category": "configuration",
          "type": {"key": {"type": "string"}, "min": 0, "max": 1}
        },
        "networks": {
          "category": "configuration",
          "type": {"key": {"type": "string"}, "min": 0, "max": "unlimited"}
        },
        "maximum_paths": {
          "category": "configuration",
          "type": {"key": {"type": "integer", "minInteger": 0, "maxInteger": 255}, "min": 0, "max": 1}
        },
        "gr_stale_timer": {
          "category": "configuration",
          "type": {"key": {"type": "integer", "minInteger": 0, "maxInteger": 3600}, "min": 0, "max": 1}
        },
        "deterministic_med": {
          "category": "configuration",
          "type": {"key": {"type": "boolean"}, "min": 0, "max": 1}
        },
        "always_compare_med": {
          "category": "configuration",
          "type": {"key": {"type": "boolean"}, "min": 0, "max": 1}
        },
        "fast_external_failover": {
          "category": "configuration",
          "type": {"key": {"type": "boolean"}, "min": 0, "max": 1}
        },
        "log_neighbor_changes": {
          "category": "configuration",
          "type": {"key": {"type": "boolean"}, "min": 0, "max": 1}
        },
        "bgp_neighbors": {
          "category": "configuration",
          "relationship": "1:m",
          "keyname": "ip_or_group_name",
          "type": {"key": {"type": "string"}, "value": {"type": "uuid", "refTable": "BGP_Neighbor"}, "min": 0, "max": "unlimited"}
        }
      }
    },
    "BGP_Neighbor": {
      "columns": {
        "remote_as": {
          "category": "configuration",
          "type": {"key": {"type": "integer", "minInteger": 1, "maxInteger": 4294967295}, "min": 0, "max": 1}
        },
        "local_as": {
          "category": "configuration",
          "type": {"key": {"type": "integer", "minInteger": 1, "maxInteger": 4294967295}, "min": 0, "max": 1}
        },
        "allow_as_in": {
          "category": "configuration",
          "type": {"key": {"type": "integer", "minInteger": 0, "maxInteger": 10}, "min": 0, "max": 1}
        },
        "advertisement_interval": {
          "category": "configuration",
          "type": {"key": {"type": "integer", "minInteger": 0, "maxInteger": 600}, "min": 0, "max": 1}
        },
        "maximum_prefix_limit": {
          "category": "configuration",
          "type": {"key": {"type": "integer", "minInteger": 1, "maxInteger": 4294967295}, "min": 0, "max": 1}
        },
        "ttl_security_hops": {
          "category": "configuration",
          "type": {"key": {"type": "integer", "minInteger": 1, "maxInteger": 254}, "min": 0, "max": 1}
        },
        "inbound_soft_reconfiguration": {
          "category": "configuration",
          "type": {"key": {"type": "boolean"}, "min": 0, "max": 1}
        },
        "passive": {
          "category": "configuration",
          "type": {"key": {"type": "boolean"}, "min": 0, "max": 1}
        },
        "description": {
          "category": "configuration",
          "type": {"key": {"type": "string"}, "min": 0, "max": 1}
        },
        "password": {
          "category": "configuration",
          "type": {"key": {"type": "string"}, "min": 0, "max": 1}
        },
        "statistics": {
          "category": "statistics",
          "type": {"key": {"type": "string"}, "value": {"type": "integer"}, "min": 0, "max": "unlimited"}
        }
      }
    },
    "Route": {
      "indexes": [["vrf", "from", "prefix"]],
      "columns": {
        "vrf": {
          "category": "configuration",
          "relationship": "m:1",
          "type": {"key": {"type": "uuid", "refTable": "VRF"}}
        },
        "from": {
          "category": {"per-value": [
            {"value": "connected", "category": "status"},
            {"value": "static", "category": "configuration"}
          ]},
          "type": {"key": {"type": "string", "enum": ["connected", "static", "bgp", "ospf"]}}
        },
        "prefix": {
          "category": {"follows": "from"},
          "type": {"key": {"type": "string", "maxLength": 49}}
        },
        "address_family": {
          "category": {"follows": "from"},
          "type": {"key": {"type": "string", "enum": ["ipv4", "ipv6"]}, "min": 0, "max": 1}
        },
        "sub_address_family": {
          "category": {"follows": "from"},
          "type": {"key": {"type": "string", "enum": ["unicast", "multicast"]}, "min": 0, "max": 1}
        },
        "metric": {
          "category": {"follows": "from"},
          "type": {"key": {"type": "integer", "minInteger": 0, "maxInteger": 4294967295}, "min": 0, "max": 1}
        },
        "distance": {
          "category": "status",
          "type": {"key": {"type": "integer", "minInteger": 0, "maxInteger": 255}, "min": 0, "max": 1}
        },
        "selected": {
          "category": "status",
          "type": {"key": {"type": "boolean"}, "min": 0, "max": 1}
        }
      }
    },
    "Port": {
      "indexes": [["name"]],
      "columns": {
        "name": {
          "category": "configuration",
          "mutable": false,
          "type": {"key": {"type": "string", "maxLength": 256}}
        },
        "interfaces": {
          "category": "configuration",
          "relationship": "reference",
          "type": {"key": {"type": "uuid", "refTable": "Interface"}, "min": 0, "max": "unlimited"}
        },
        "ip4_address": {
          "category": "configuration",
          "type": {"key": {"type": "string"}, "min": 0, "max": 1}
        },
        "admin": {
          "category": "configuration",
          "emptyValue": "up",
          "type": {"key": {"type": "string", "enum": ["up", "down"]}, "min": 0, "max": 1}
        },
        "statistics": {
          "category": "statistics",
          "type": {"key": {"type": "string"}, "value": {"type": "integer"}, "min": 0, "max": "unlimited"}
        },
        "status": {
          "category": "status",
          "type": {"key": {"type": "string"}, "value": {"type": "string"}, "min": 0, "max": "unlimited"}
        }
      }
    },
    "Interface": {
      "indexes": [["name"]],
      "columns": {
        "name": {
          "category": "configuration",
          "mutable": false,
          "type": {"key": {"type": "string", "maxLength": 256}}
        },
        "type": {
          "category": "configuration",
          "type": {"key": {"type": "string", "enum": ["system", "internal", "loopback"]}, "min": 0, "max": 1}
        },
        "admin_state": {
          "category": "status",
          "type": {"key": {"type": "string", "enum": ["up", "down"]}, "min": 0, "max": 1}
        },
        "link_state": {
          "category": "status",
          "type": {"key": {"type": "string", "enum": ["up", "down"]}, "min": 0, "max": 1}
        },
        "user_config": {
          "category": "configuration",
          "type": {"key": {"type": "string"}, "value": {"type": "string"}, "min": 0, "max": "unlimited"}
        },
        "statistics": {
          "category": "statistics",
          "type": {"key": {"type": "string"}, "value": {"type": "integer"}, "min": 0, "max": "unlimited"}
        }
      }
    },
    "Subsystem": {
      "columns": {
        "name": {
          "category": "status",
          "type": {"key": {"type": "string"}, "min": 0, "max": 1}
        },
        "asset_tag_number": {
          "category": "configuration",
          "type": {"key": {"type": "string"}, "min": 0, "max": 1}
        },
        "fans": {
          "category": "status",
          "relationship": "1:m",
          "type": {"key": {"type": "uuid", "refTable": "Fan"}, "min": 0, "max": "unlimited"}
        }
      }
    },
    "Fan": {
      "indexes": [["name"]],
      "columns": {
        "name": {
          "category": "status",
          "type": {"key": {"type": "string"}}
        },
        "status": {
          "category": "status",
          "type": {"key": {"type": "string", "enum": ["ok", "fault", "uninitialized"]}, "min": 0, "max": 1}
        },
        "rpm": {
          "category": "statistics",
          "type": {"key": {"type": "integer"}, "min": 0, "max": 1}
        },
        "speed": {
          "category": "configuration",
          "emptyValue": "normal",
          "type": {"key": {"type": "string", "enum": ["slow", "normal", "fast", "max"]}, "min": 0, "max": 1}
        }
      }
    },
    "Notification_Subscriber": {
      "isRoot": true,
      "indexes": [["name"]],
      "columns": {
        "name": {
          "category": "configuration",
          "mutable": false,
          "type": {"key": {"type": "string", "maxLength": 64}}
        },
        "type": {
          "category": "configuration",
          "mutable": false,
          "type": {"key": {"type": "string", "enum": ["ws"]}}
        },
        "notification_subscriptions": {
          "category": "configuration",
          "relationship": "1:m",
          "keyname": "name",
          "type": {"key": {"type": "string"}, "value": {"type": "uuid", "refTable": "Notification_Subscription"}, "min": 0, "max": "unlimited"}
        }
      }
    },
    "Notification_Subscription": {
      "columns": {
        "resource": {
          "category": "configuration",
          "type": {"key": {"type": "string"}}
        }
      }
    }
  }
}`
