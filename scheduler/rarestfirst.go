package scheduler

import (
	"math/rand"
	"net/netip"
	"sort"

	"github.com/anacrolix/multiless"

	"github.com/relaycast/relaycast/protocol"
)

// rarityWindow is how far back from the local high-water chunk RarestFirst
// looks for missing chunks, rarityLookahead how far past it (catching up to
// chunks peers already have at the live edge), and rarityTopK how many of
// the rarest it requests per tick (spec §4.5: window is
// [max(local_bitmap)-W, max(local_bitmap)+10]).
const (
	rarityWindow    = 50
	rarityLookahead = 10
	rarityTopK      = 5
)

// RarestFirst embeds DefaultPush for its flood side and adds a pull side:
// each tick it scans a window of recent chunk ids, ranks the missing ones by
// how few active peers advertise them, and requests the rarest few.
type RarestFirst struct {
	*DefaultPush
}

func NewRarestFirst() *RarestFirst {
	return &RarestFirst{DefaultPush: NewDefaultPush()}
}

func (r *RarestFirst) HandlePacket(h Host, msgType protocol.MsgType, payload []byte, from netip.AddrPort) bool {
	if msgType == protocol.Request {
		if chunkID, err := parseChunkID(payload); err == nil {
			dedupPendingPush(r.DefaultPush, chunkID, from)
		}
	}
	return false
}

func (r *RarestFirst) OnTick(h Host) {
	r.DefaultPush.OnTick(h)

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
	if high > rarityWindow {
		start = high - rarityWindow
	}
	end := high + rarityLookahead

	type candidate struct {
		chunk  uint32
		owners []netip.AddrPort
	}
	var rarest []candidate
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
		if len(owners) > 0 {
			rarest = append(rarest, candidate{chunk: c, owners: owners})
		}
	}
	if len(rarest) == 0 {
		return
	}
	sort.Slice(rarest, func(i, j int) bool {
		return multiless.New().
			Int64(int64(len(rarest[i].owners)), int64(len(rarest[j].owners))).
			OrderingInt() < 0
	})
	if len(rarest) > rarityTopK {
		rarest = rarest[:rarityTopK]
	}
	for _, c := range rarest {
		target := c.owners[rand.Intn(len(c.owners))]
		h.SendRequest(target, c.chunk)
	}
}

var _ Algorithm = (*RarestFirst)(nil)
