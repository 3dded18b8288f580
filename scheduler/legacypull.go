package scheduler

import (
	"math/rand"
	"net/netip"

	"github.com/RoaringBitmap/roaring"

	"github.com/relaycast/relaycast/protocol"
)

// legacyPullBatch caps how many distinct chunks LegacyPull requests in a
// single tick, mirroring the original P2PScheduler's bounded scan.
const legacyPullBatch = 100

// LegacyPull is the standalone probabilistic-backoff pull strategy ported
// from the original's scheduler.py/P2PScheduler. It is never combined with
// Splitter/DefaultPush/RarestFirst/EDF on the same Node (spec §9 Open
// Question a) — a deployment picks one taxonomy at construction time.
//
// Each tick it considers every chunk any active peer has that the local node
// lacks, preferring viewer sources over the broadcaster; when only the
// broadcaster holds a chunk, the request is skipped with probability
// BackoffProbability to spare it from being everyone's single point of pull.
type LegacyPull struct {
	// BackoffProbability is 0.3 in the original's default configuration and
	// 0.9 in its "conservative" one (scheduler.py BROADCASTER_BACKOFF).
	BackoffProbability float64
}

func NewLegacyPull(backoffProbability float64) *LegacyPull {
	return &LegacyPull{BackoffProbability: backoffProbability}
}

func (l *LegacyPull) OnStart(Host) {}

func (l *LegacyPull) HandlePacket(Host, protocol.MsgType, []byte, netip.AddrPort) bool {
	return false
}

func (l *LegacyPull) OnChunkReceived(Host, uint32, []byte, netip.AddrPort) {}
func (l *LegacyPull) OnPeerDiscovered(Host, netip.AddrPort)                {}

func (l *LegacyPull) OnTick(h Host) {
	peers := h.ActivePeers()
	if len(peers) == 0 {
		return
	}
	local := h.LocalBitmap()

	owners := make(map[uint32][]netip.AddrPort)
	available := roaring.New()
	for addr, pv := range peers {
		missing := roaring.AndNot(pv.RemoteBitmap, local)
		it := missing.Iterator()
		for it.HasNext() {
			c := it.Next()
			available.Add(c)
			owners[c] = append(owners[c], addr)
		}
	}
	if available.IsEmpty() {
		return
	}
	chunks := available.ToArray()
	// Newest-first: closest to the live edge matters most for a viewer.
	for i, j := 0, len(chunks)-1; i < j; i, j = i+1, j-1 {
		chunks[i], chunks[j] = chunks[j], chunks[i]
	}
	if len(chunks) > legacyPullBatch {
		chunks = chunks[:legacyPullBatch]
	}

	for _, c := range chunks {
		var viewers, broadcasters []netip.AddrPort
		for _, addr := range owners[c] {
			if peers[addr].Role == RoleBroadcaster {
				broadcasters = append(broadcasters, addr)
			} else {
				viewers = append(viewers, addr)
			}
		}
		switch {
		case len(viewers) > 0:
			h.SendRequest(viewers[rand.Intn(len(viewers))], c)
		case len(broadcasters) > 0:
			if rand.Float64() < l.BackoffProbability {
				continue
			}
			h.SendRequest(broadcasters[rand.Intn(len(broadcasters))], c)
		}
	}
}

var _ Algorithm = (*LegacyPull)(nil)
