package scheduler

import (
	"net/netip"
	"sort"

	"github.com/relaycast/relaycast/protocol"
)

// Splitter is the broadcaster-only round-robin unicast strategy (spec §4.5):
// every locally generated chunk goes to exactly one peer, rotating through
// the active set in address order. It never pulls and never reacts to
// received chunks — a broadcaster is the source of truth, not a consumer.
type Splitter struct {
	next int
}

func NewSplitter() *Splitter { return &Splitter{} }

func (s *Splitter) OnStart(Host) {}
func (s *Splitter) OnTick(Host)  {}

func (s *Splitter) HandlePacket(Host, protocol.MsgType, []byte, netip.AddrPort) bool {
	return false
}

func (s *Splitter) OnChunkReceived(Host, uint32, []byte, netip.AddrPort) {}
func (s *Splitter) OnPeerDiscovered(Host, netip.AddrPort)                {}

func (s *Splitter) OnChunkGenerated(h Host, chunkID uint32, payload []byte) {
	peers := h.ActivePeers()
	if len(peers) == 0 {
		return
	}
	addrs := make([]netip.AddrPort, 0, len(peers))
	for addr := range peers {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].String() < addrs[j].String() })
	if s.next >= len(addrs) {
		s.next = 0
	}
	target := addrs[s.next]
	s.next = (s.next + 1) % len(addrs)
	h.SendData(target, chunkID, payload)
}

var _ BroadcasterAlgorithm = (*Splitter)(nil)
