package swarmnet

import (
	"net/netip"
	"time"

	"github.com/RoaringBitmap/roaring"
	g "github.com/anacrolix/generics"
	"github.com/anacrolix/sync"
	"github.com/elliotchance/orderedmap"
)

// LivenessTimeout is how long a peer can go without any received packet
// before the prune loop considers it dead (spec §3, 5s timeout).
const LivenessTimeout = 5 * time.Second

// rttAlpha is the EWMA smoothing factor applied to sampled round-trip times.
// spec.md leaves the smoothing function to the implementer ("may use EWMA");
// the original source takes the last sample verbatim. EWMA is used here to
// damp a single slow PONG from skewing the stats-report average.
const rttAlpha = 0.125

// Peer is one swarm member's known state (spec §3).
type Peer struct {
	Addr         netip.AddrPort
	Role         Role
	LastSeen     time.Time
	RTT          time.Duration
	RemoteBitmap *roaring.Bitmap
}

// PeerTable indexes Peers by (host, port) and keeps them in arrival order
// (spec §3: "mutation order consistent with the arrival order of packets").
// Guarded by an RWMutex only because an external stats reader or test may
// observe it from outside the Node's single owning event-loop goroutine.
type PeerTable struct {
	mu    sync.RWMutex
	peers *orderedmap.OrderedMap
}

func NewPeerTable() *PeerTable {
	return &PeerTable{peers: orderedmap.NewOrderedMap()}
}

// Touch records a received packet from addr, creating the Peer on first
// sight. role is applied only when present (HANDSHAKE/PEER_LIST carry a role;
// every other message type leaves the existing role untouched).
func (pt *PeerTable) Touch(addr netip.AddrPort, role g.Option[Role], now time.Time) *Peer {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	if v, ok := pt.peers.Get(addr); ok {
		p := v.(*Peer)
		p.LastSeen = now
		if role.Ok {
			p.Role = role.Value
		}
		return p
	}
	p := &Peer{Addr: addr, Role: RoleViewer, LastSeen: now, RemoteBitmap: roaring.New()}
	if role.Ok {
		p.Role = role.Value
	}
	pt.peers.Set(addr, p)
	return p
}

// Get returns the peer at addr, if known.
func (pt *PeerTable) Get(addr netip.AddrPort) (*Peer, bool) {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	v, ok := pt.peers.Get(addr)
	if !ok {
		return nil, false
	}
	return v.(*Peer), true
}

// UpdateBitmap replaces a peer's remote_bitmap wholesale (BITMAP carries the
// sender's full bitmap, not a delta), creating the peer if unseen.
func (pt *PeerTable) UpdateBitmap(addr netip.AddrPort, bm *roaring.Bitmap) {
	p := pt.Touch(addr, g.None[Role](), time.Now())
	pt.mu.Lock()
	defer pt.mu.Unlock()
	p.RemoteBitmap = bm
}

// UpdateRTT folds a fresh round-trip sample into a peer's smoothed RTT.
func (pt *PeerTable) UpdateRTT(addr netip.AddrPort, sample time.Duration) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	v, ok := pt.peers.Get(addr)
	if !ok {
		return
	}
	p := v.(*Peer)
	if p.RTT == 0 {
		p.RTT = sample
		return
	}
	p.RTT = time.Duration(float64(p.RTT)*(1-rttAlpha) + float64(sample)*rttAlpha)
}

// Active returns a snapshot of every currently known peer, keyed by address.
func (pt *PeerTable) Active() map[netip.AddrPort]*Peer {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	out := make(map[netip.AddrPort]*Peer, pt.peers.Len())
	for el := pt.peers.Front(); el != nil; el = el.Next() {
		out[el.Key.(netip.AddrPort)] = el.Value.(*Peer)
	}
	return out
}

// FirstBroadcaster returns the arrival-order-first known peer with
// Role == RoleBroadcaster, used to gate the viewer stats-report loop.
func (pt *PeerTable) FirstBroadcaster() (netip.AddrPort, bool) {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	for el := pt.peers.Front(); el != nil; el = el.Next() {
		p := el.Value.(*Peer)
		if p.Role == RoleBroadcaster {
			return el.Key.(netip.AddrPort), true
		}
	}
	return netip.AddrPort{}, false
}

// Prune removes peers whose LastSeen is older than timeout and returns their
// addresses, for logging.
func (pt *PeerTable) Prune(now time.Time, timeout time.Duration) []netip.AddrPort {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	var dead []netip.AddrPort
	for el := pt.peers.Front(); el != nil; el = el.Next() {
		p := el.Value.(*Peer)
		if now.Sub(p.LastSeen) > timeout {
			dead = append(dead, el.Key.(netip.AddrPort))
		}
	}
	for _, addr := range dead {
		pt.peers.Delete(addr)
	}
	return dead
}

// Len reports the number of currently known peers.
func (pt *PeerTable) Len() int {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	return pt.peers.Len()
}
