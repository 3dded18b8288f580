package swarmnet

import (
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaycast/relaycast/protocol"
)

// dumpStoreOnFailure is the debugging aid SPEC_FULL.md's test-tooling section
// calls for: a spew dump of a ChunkStore's bitmap/payload state, logged only
// when the invariant assertion it guards actually fails.
func dumpStoreOnFailure(t *testing.T, s *ChunkStore) {
	t.Helper()
	if t.Failed() {
		t.Log(spew.Sdump(s.Bitmap().ToArray()))
	}
}

func TestChunkStorePutAndGet(t *testing.T) {
	s := NewChunkStore()
	assert.False(t, s.Has(5))

	s.Put(5, []byte("hello"))
	assert.True(t, s.Has(5))
	payload, ok := s.Get(5)
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), payload)
	assert.True(t, s.Bitmap().Contains(5))
}

func TestChunkStoreDuplicatePutIsNoOp(t *testing.T) {
	s := NewChunkStore()
	s.Put(1, []byte("first"))
	s.Put(1, []byte("second"))
	payload, _ := s.Get(1)
	assert.Equal(t, []byte("first"), payload, "a chunk's payload is immutable once stored")
}

func TestChunkStoreEvictsOutsideRetentionWindow(t *testing.T) {
	s := NewChunkStore()
	oldChunk := protocol.ChunkID(0, 0)
	s.Put(oldChunk, []byte("old"))

	newFrame := uint32(RetentionFrames + 5)
	newChunk := protocol.ChunkID(newFrame, 0)
	s.Put(newChunk, []byte("new"))

	assert.False(t, s.Has(oldChunk), "frame 0 should be evicted once the retention window has passed")
	assert.True(t, s.Has(newChunk))
	assert.False(t, s.Bitmap().Contains(oldChunk), "local_bitmap must stay consistent with eviction")
}

func TestChunkStoreBitmapStoreInvariant(t *testing.T) {
	s := NewChunkStore()
	defer dumpStoreOnFailure(t, s)
	for i := uint32(0); i < 20; i++ {
		s.Put(i, []byte{byte(i)})
	}
	bm := s.Bitmap()
	for i := uint32(0); i < 20; i++ {
		_, haveData := s.Get(i)
		assert.Equal(t, bm.Contains(i), haveData)
	}
}
