// Package scheduler defines the pluggable chunk-scheduling strategies (spec
// §4.5) as a narrow interface plus five concrete implementations. The package
// never imports swarmnet: a Node is the only client of Algorithm, and it
// satisfies Host itself. This resolves spec §9's "lazy imports between node
// and algorithms" note — instead of a Python-style deferred import, the
// dependency is inverted by defining the seam in the leaf package.
package scheduler

import (
	"net/netip"
	"time"

	"github.com/RoaringBitmap/roaring"

	"github.com/relaycast/relaycast/protocol"
)

// Role mirrors swarmnet.Role without creating an import cycle back to it.
type Role uint8

const (
	RoleViewer Role = iota
	RoleBroadcaster
)

// PeerView is the read-only slice of peer state an Algorithm can see.
type PeerView struct {
	Addr         netip.AddrPort
	Role         Role
	RemoteBitmap *roaring.Bitmap
}

// Host is everything an Algorithm needs from its owning Node: state reads and
// the two outbound actions (DATA push, REQUEST pull). Node implements it.
type Host interface {
	Now() time.Time
	LocalBitmap() *roaring.Bitmap
	ActivePeers() map[netip.AddrPort]PeerView
	ChunkPayload(chunkID uint32) ([]byte, bool)
	SendData(to netip.AddrPort, chunkID uint32, payload []byte)
	SendRequest(to netip.AddrPort, chunkID uint32)
}

// Algorithm is the strategy surface every scheduler variant implements (spec
// §4.5, §9 "dynamic strategy dispatch").
type Algorithm interface {
	// OnStart runs once, when the owning Node is constructed.
	OnStart(h Host)
	// OnTick runs on the scheduler-tick timer (spec: every 0.1s).
	OnTick(h Host)
	// HandlePacket lets a strategy intercept a message ahead of the Node's
	// default handling. Returning true suppresses that default handling.
	HandlePacket(h Host, msgType protocol.MsgType, payload []byte, from netip.AddrPort) (handled bool)
	// OnChunkReceived runs after a new (non-duplicate) DATA chunk is stored.
	OnChunkReceived(h Host, chunkID uint32, payload []byte, from netip.AddrPort)
	// OnPeerDiscovered runs when a peer completes a handshake.
	OnPeerDiscovered(h Host, addr netip.AddrPort)
}

// BroadcasterAlgorithm additionally reacts to locally generated chunks. Only
// the broadcaster-side Splitter implements this; Node type-asserts for it
// after every locally injected chunk.
type BroadcasterAlgorithm interface {
	Algorithm
	OnChunkGenerated(h Host, chunkID uint32, payload []byte)
}
