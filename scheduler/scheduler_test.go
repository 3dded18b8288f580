package scheduler

import (
	"net/netip"
	"testing"
	"time"

	"github.com/RoaringBitmap/roaring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycast/relaycast/protocol"
)

type fakeHost struct {
	now     time.Time
	local   *roaring.Bitmap
	peers   map[netip.AddrPort]PeerView
	store   map[uint32][]byte
	sent    []sentData
	pulled  []sentRequest
}

type sentData struct {
	to      netip.AddrPort
	chunkID uint32
}

type sentRequest struct {
	to      netip.AddrPort
	chunkID uint32
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		now:   time.Unix(0, 0),
		local: roaring.New(),
		peers: map[netip.AddrPort]PeerView{},
		store: map[uint32][]byte{},
	}
}

func (f *fakeHost) Now() time.Time                                  { return f.now }
func (f *fakeHost) LocalBitmap() *roaring.Bitmap                    { return f.local }
func (f *fakeHost) ActivePeers() map[netip.AddrPort]PeerView        { return f.peers }
func (f *fakeHost) ChunkPayload(chunkID uint32) ([]byte, bool)       { b, ok := f.store[chunkID]; return b, ok }
func (f *fakeHost) SendData(to netip.AddrPort, chunkID uint32, _ []byte) {
	f.sent = append(f.sent, sentData{to, chunkID})
}
func (f *fakeHost) SendRequest(to netip.AddrPort, chunkID uint32) {
	f.pulled = append(f.pulled, sentRequest{to, chunkID})
}

func addr(port uint16) netip.AddrPort {
	return netip.AddrPortFrom(netip.AddrFrom4([4]byte{127, 0, 0, 1}), port)
}

func TestDefaultPushFloodsAllPeersExceptSource(t *testing.T) {
	h := newFakeHost()
	h.peers[addr(1)] = PeerView{Addr: addr(1)}
	h.peers[addr(2)] = PeerView{Addr: addr(2)}
	h.peers[addr(3)] = PeerView{Addr: addr(3)}
	h.store[42] = []byte("chunk")

	d := NewDefaultPush()
	d.OnChunkReceived(h, 42, []byte("chunk"), addr(1))
	// Each tick pops one target per pending chunk, so two targets take two ticks.
	d.OnTick(h)
	d.OnTick(h)

	require.Len(t, h.sent, 2)
	var targets []netip.AddrPort
	for _, s := range h.sent {
		assert.Equal(t, uint32(42), s.chunkID)
		targets = append(targets, s.to)
	}
	assert.ElementsMatch(t, []netip.AddrPort{addr(2), addr(3)}, targets)
}

func TestDefaultPushDrainsAtMostFivePerTick(t *testing.T) {
	h := newFakeHost()
	for p := uint16(1); p <= 3; p++ {
		h.peers[addr(p)] = PeerView{Addr: addr(p)}
	}
	d := NewDefaultPush()
	// One send per pending chunk per tick, so more than five chunks are needed
	// for the batch cap to bind.
	for c := uint32(0); c < 6; c++ {
		h.store[c] = []byte("x")
		d.OnChunkReceived(h, c, []byte("x"), addr(0)) // source not in peers: all 3 peers queued per chunk
	}
	d.OnTick(h)
	assert.Len(t, h.sent, defaultPushBatch)
}

func TestDedupPendingPushRemovesRequester(t *testing.T) {
	h := newFakeHost()
	h.peers[addr(1)] = PeerView{Addr: addr(1)}
	h.peers[addr(2)] = PeerView{Addr: addr(2)}
	h.store[7] = []byte("x")

	rf := NewRarestFirst()
	rf.OnChunkReceived(h, 7, []byte("x"), addr(9))

	handled := rf.HandlePacket(h, protocol.Request, []byte("7"), addr(1))
	assert.False(t, handled)

	rf.OnTick(h)
	for _, s := range h.sent {
		assert.NotEqual(t, addr(1), s.to, "requester should have been dropped from the pending push list")
	}
}

func TestRarestFirstRequestsRarestChunksFirst(t *testing.T) {
	h := newFakeHost()
	h.local.AddRange(0, 10)

	common := roaring.New()
	common.AddRange(0, 15)
	rare := roaring.New()
	rare.Add(15)

	h.peers[addr(1)] = PeerView{Addr: addr(1), RemoteBitmap: common}
	h.peers[addr(2)] = PeerView{Addr: addr(2), RemoteBitmap: common}
	h.peers[addr(3)] = PeerView{Addr: addr(3), RemoteBitmap: rare}

	rf := NewRarestFirst()
	rf.OnTick(h)

	require.NotEmpty(t, h.pulled)
	assert.Equal(t, uint32(15), h.pulled[0].chunkID, "the chunk only one peer has should be requested first")
	assert.Equal(t, addr(3), h.pulled[0].to)
}

func TestEDFRequestsSingleEarliestMissingChunk(t *testing.T) {
	h := newFakeHost()
	h.local.Add(0)
	h.local.Add(1)
	h.local.Add(3)

	remote := roaring.New()
	remote.AddRange(0, 5)
	h.peers[addr(1)] = PeerView{Addr: addr(1), RemoteBitmap: remote}

	e := NewEDF()
	e.OnTick(h)

	require.Len(t, h.pulled, 1)
	assert.Equal(t, uint32(2), h.pulled[0].chunkID)
}

func TestSplitterRoundRobinsAcrossPeers(t *testing.T) {
	h := newFakeHost()
	h.peers[addr(1)] = PeerView{Addr: addr(1)}
	h.peers[addr(2)] = PeerView{Addr: addr(2)}

	s := NewSplitter()
	s.OnChunkGenerated(h, 1, []byte("a"))
	s.OnChunkGenerated(h, 2, []byte("b"))
	s.OnChunkGenerated(h, 3, []byte("c"))

	require.Len(t, h.sent, 3)
	assert.NotEqual(t, h.sent[0].to, h.sent[1].to, "consecutive chunks should alternate targets")
	assert.Equal(t, h.sent[0].to, h.sent[2].to, "round robin should wrap back to the first peer")
}

func TestLegacyPullPrefersViewersOverBroadcaster(t *testing.T) {
	h := newFakeHost()
	remote := roaring.New()
	remote.Add(0)
	h.peers[addr(1)] = PeerView{Addr: addr(1), Role: RoleBroadcaster, RemoteBitmap: remote}
	h.peers[addr(2)] = PeerView{Addr: addr(2), Role: RoleViewer, RemoteBitmap: remote}

	lp := NewLegacyPull(0.3)
	lp.OnTick(h)

	require.Len(t, h.pulled, 1)
	assert.Equal(t, addr(2), h.pulled[0].to, "a viewer source should always be preferred over the broadcaster")
}

func TestLegacyPullBacksOffFromBroadcasterOnlySource(t *testing.T) {
	h := newFakeHost()
	remote := roaring.New()
	remote.Add(0)
	h.peers[addr(1)] = PeerView{Addr: addr(1), Role: RoleBroadcaster, RemoteBitmap: remote}

	lp := NewLegacyPull(1.0) // always back off
	lp.OnTick(h)

	assert.Empty(t, h.pulled, "backoff probability 1.0 should skip every broadcaster-only request")
}
