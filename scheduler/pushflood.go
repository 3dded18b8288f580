package scheduler

import (
	"net/netip"
	"sort"

	list "github.com/bahlo/generic-list-go"
	"github.com/bradfitz/iter"

	"github.com/relaycast/relaycast/protocol"
)

// defaultPushBatch is how many send actions OnTick drains per call (spec
// §4.5: "drains up to 5 send actions per tick").
const defaultPushBatch = 5

// DefaultPush is the flood strategy: every newly received chunk is queued for
// forwarding to every other currently-active peer, via an ordered per-chunk
// target list (spec §3's "ordered list of target endpoints to drain").
// RarestFirst and EDF embed it to add a pull side on top of the same flood.
type DefaultPush struct {
	pending map[uint32]*list.List[netip.AddrPort]
}

func NewDefaultPush() *DefaultPush {
	return &DefaultPush{pending: make(map[uint32]*list.List[netip.AddrPort])}
}

func (d *DefaultPush) OnStart(Host) {}

func (d *DefaultPush) HandlePacket(Host, protocol.MsgType, []byte, netip.AddrPort) bool {
	return false
}

func (d *DefaultPush) OnPeerDiscovered(Host, netip.AddrPort) {}

func (d *DefaultPush) OnChunkReceived(h Host, chunkID uint32, _ []byte, source netip.AddrPort) {
	peers := h.ActivePeers()
	targets := list.New[netip.AddrPort]()
	for addr := range peers {
		if addr != source {
			targets.PushBack(addr)
		}
	}
	if targets.Len() > 0 {
		d.pending[chunkID] = targets
	}
}

func (d *DefaultPush) OnTick(h Host) {
	if len(d.pending) == 0 {
		return
	}
	ids := make([]uint32, 0, len(d.pending))
	for id := range d.pending {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	idx := 0
	for range iter.N(defaultPushBatch) {
		for idx < len(ids) {
			id := ids[idx]
			idx++
			targets, ok := d.pending[id]
			if !ok {
				continue
			}
			front := targets.Front()
			if front == nil {
				delete(d.pending, id)
				continue
			}
			target := front.Value
			targets.Remove(front)
			if payload, ok := h.ChunkPayload(id); ok {
				h.SendData(target, id, payload)
			}
			if targets.Len() == 0 {
				delete(d.pending, id)
			}
			break
		}
	}
}

// dedupPendingPush removes a requester from a chunk's pending push list so a
// pulled REQUEST doesn't race a still-queued flood push to the same peer
// (spec §9 pull-dedup invariant). RarestFirst and EDF call this from
// HandlePacket before falling through to the Node's default REQUEST handling.
func dedupPendingPush(d *DefaultPush, chunkID uint32, addr netip.AddrPort) {
	targets, ok := d.pending[chunkID]
	if !ok {
		return
	}
	for e := targets.Front(); e != nil; e = e.Next() {
		if e.Value == addr {
			targets.Remove(e)
			break
		}
	}
	if targets.Len() == 0 {
		delete(d.pending, chunkID)
	}
}

var _ Algorithm = (*DefaultPush)(nil)
