package swarmnet

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAddr(port uint16) netip.AddrPort {
	return netip.AddrPortFrom(netip.AddrFrom4([4]byte{127, 0, 0, 1}), port)
}

func TestPeerTableTouchCreatesThenUpdates(t *testing.T) {
	pt := NewPeerTable()
	t0 := time.Now()
	p := pt.Touch(testAddr(1), noRole(), t0)
	assert.Equal(t, RoleViewer, p.Role)

	t1 := t0.Add(time.Second)
	p2 := pt.Touch(testAddr(1), someRole(RoleBroadcaster), t1)
	assert.Equal(t, RoleBroadcaster, p2.Role)
	assert.Equal(t, t1, p2.LastSeen)
	assert.Equal(t, 1, pt.Len(), "touching the same address twice must not duplicate the peer")
}

func TestPeerTablePruneRemovesStalePeers(t *testing.T) {
	pt := NewPeerTable()
	now := time.Now()
	pt.Touch(testAddr(1), noRole(), now.Add(-10*time.Second))
	pt.Touch(testAddr(2), noRole(), now)

	removed := pt.Prune(now, LivenessTimeout)
	require.Len(t, removed, 1)
	assert.Equal(t, testAddr(1), removed[0])
	assert.Equal(t, 1, pt.Len())
}

func TestPeerTableFirstBroadcaster(t *testing.T) {
	pt := NewPeerTable()
	_, ok := pt.FirstBroadcaster()
	assert.False(t, ok)

	pt.Touch(testAddr(1), someRole(RoleViewer), time.Now())
	pt.Touch(testAddr(2), someRole(RoleBroadcaster), time.Now())

	addr, ok := pt.FirstBroadcaster()
	require.True(t, ok)
	assert.Equal(t, testAddr(2), addr)
}

func TestPeerTableUpdateRTTSmooths(t *testing.T) {
	pt := NewPeerTable()
	pt.Touch(testAddr(1), noRole(), time.Now())
	pt.UpdateRTT(testAddr(1), 100*time.Millisecond)
	p, _ := pt.Get(testAddr(1))
	assert.Equal(t, 100*time.Millisecond, p.RTT)

	pt.UpdateRTT(testAddr(1), 200*time.Millisecond)
	p, _ = pt.Get(testAddr(1))
	assert.Greater(t, p.RTT, 100*time.Millisecond)
	assert.Less(t, p.RTT, 200*time.Millisecond)
}
