package swarmnet

import (
	g "github.com/anacrolix/generics"

	"github.com/relaycast/relaycast/scheduler"
)

// Role is a peer's or the local node's swarm role (spec §3 Peer.role).
type Role uint8

const (
	RoleViewer Role = iota
	RoleBroadcaster
)

func (r Role) String() string {
	if r == RoleBroadcaster {
		return "broadcaster"
	}
	return "viewer"
}

// ParseRole accepts the two wire strings a HANDSHAKE/PEER_LIST payload uses;
// anything unrecognized falls back to viewer, the least-privileged role.
func ParseRole(s string) Role {
	if s == "broadcaster" {
		return RoleBroadcaster
	}
	return RoleViewer
}

func (r Role) toScheduler() scheduler.Role {
	if r == RoleBroadcaster {
		return scheduler.RoleBroadcaster
	}
	return scheduler.RoleViewer
}

func noRole() g.Option[Role] { return g.None[Role]() }

func someRole(r Role) g.Option[Role] { return g.Some(r) }
