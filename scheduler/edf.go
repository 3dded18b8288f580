package scheduler

import (
	"math/rand"
	"net/netip"

	"github.com/relaycast/relaycast/protocol"
)

// edfWindow and edfLookahead mirror RarestFirst's scan window but EDF only
// ever requests the single earliest (lowest chunk id) missing chunk per
// tick, trading throughput for minimal playback latency (spec §4.5: window
// is [max(local_bitmap)-W, max(local_bitmap)+10]).
const (
	edfWindow    = 50
	edfLookahead = 10
)

// EDF embeds DefaultPush for its flood side and adds an earliest-deadline
// pull: each tick it requests the single lowest missing chunk id in its
// window, from whichever active peer advertises it.
type EDF struct {
	*DefaultPush
}

func NewEDF() *EDF { return &EDF{DefaultPush: NewDefaultPush()} }

func (e *EDF) HandlePacket(h Host, msgType protocol.MsgType, payload []byte, from netip.AddrPort) bool {
	if msgType == protocol.Request {
		if chunkID, err := parseChunkID(payload); err == nil {
			dedupPendingPush(e.DefaultPush, chunkID, from)
		}
	}
	return false
}

func (e *EDF) OnTick(h Host) {
	e.DefaultPush.OnTick(h)

	peers := h.ActivePeers()
	if len(peers) == 0 {
		return
	}
	local := h.LocalBitmap()
	if local.IsEmpty() {
		return
	}
	high := local.Maximum()
	start := uint32(0)
	if high > edfWindow {
		start = high - edfWindow
	}
	end := high + edfLookahead
	for c := start; c <= end; c++ {
		if local.Contains(c) {
			continue
		}
		var owners []netip.AddrPort
		for addr, pv := range peers {
			if pv.RemoteBitmap.Contains(c) {
				owners = append(owners, addr)
			}
		}
		if len(owners) == 0 {
			continue
		}
		target := owners[rand.Intn(len(owners))]
		h.SendRequest(target, c)
		return
	}
}

var _ Algorithm = (*EDF)(nil)
