package swarmnet

import (
	"github.com/RoaringBitmap/roaring"
	"github.com/anacrolix/missinggo/v2/panicif"
	"github.com/google/btree"

	"github.com/relaycast/relaycast/protocol"
)

// RetentionFrames bounds how many of the most recent frames ChunkStore keeps
// payloads for (spec §3: "~1000-frame retention window"); chunks belonging to
// older frames are evicted as soon as a newer frame arrives.
const RetentionFrames = 1000

// ChunkStore holds every chunk payload the node currently has, plus the
// local_bitmap view of which chunk ids that covers. local_bitmap and the
// payload map are kept in lockstep: chunk_id is a member of one iff it is a
// member of the other (spec §8 property 4).
//
// Not safe for concurrent use; it is owned exclusively by Node's single event
// loop goroutine, matching the cooperative single-threaded model in spec §5.
type ChunkStore struct {
	bitmap      *roaring.Bitmap
	payloads    map[uint32][]byte
	byID        *btree.BTreeG[uint32]
	newestFrame int64
}

func NewChunkStore() *ChunkStore {
	return &ChunkStore{
		bitmap:      roaring.New(),
		payloads:    make(map[uint32][]byte),
		byID:        btree.NewG[uint32](32, func(a, b uint32) bool { return a < b }),
		newestFrame: -1,
	}
}

// Has reports whether chunkID is already stored.
func (s *ChunkStore) Has(chunkID uint32) bool { return s.bitmap.Contains(chunkID) }

// Get returns a chunk's payload and whether it was present.
func (s *ChunkStore) Get(chunkID uint32) ([]byte, bool) {
	b, ok := s.payloads[chunkID]
	return b, ok
}

// Put stores a new chunk's payload, evicting any frames that fall outside the
// retention window as a side effect. Re-storing a chunk id that is already
// present is a no-op: chunk payloads are immutable once received.
func (s *ChunkStore) Put(chunkID uint32, payload []byte) {
	if s.bitmap.Contains(chunkID) {
		return
	}
	s.bitmap.Add(chunkID)
	s.payloads[chunkID] = payload
	s.byID.ReplaceOrInsert(chunkID)

	frame := int64(chunkID / protocol.FragmentCap)
	if frame > s.newestFrame {
		s.newestFrame = frame
		s.evictBefore(frame - RetentionFrames)
	}
	s.checkInvariant(chunkID)
}

func (s *ChunkStore) evictBefore(thresholdFrame int64) {
	if thresholdFrame <= 0 {
		return
	}
	thresholdChunk := uint32(thresholdFrame) * protocol.FragmentCap
	var stale []uint32
	s.byID.Ascend(func(chunkID uint32) bool {
		if chunkID >= thresholdChunk {
			return false
		}
		stale = append(stale, chunkID)
		return true
	})
	for _, id := range stale {
		delete(s.payloads, id)
		s.bitmap.Remove(id)
		s.byID.Delete(id)
	}
}

func (s *ChunkStore) checkInvariant(chunkID uint32) {
	_, haveData := s.payloads[chunkID]
	panicif.False(s.bitmap.Contains(chunkID) == haveData)
}

// Bitmap returns a snapshot copy of the store's local_bitmap; callers must
// not assume it stays live as the store mutates.
func (s *ChunkStore) Bitmap() *roaring.Bitmap { return s.bitmap.Clone() }

// Len reports how many chunks are currently retained.
func (s *ChunkStore) Len() int { return s.byID.Len() }
