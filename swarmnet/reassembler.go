package swarmnet

import (
	"bytes"

	"github.com/relaycast/relaycast/protocol"
)

// FrameReassembler rebuilds frames from ChunkPayload fragments (spec §4.6).
// Fragments for a frame may arrive out of order and from different peers;
// a frame is emitted exactly once, the instant its last fragment lands, and
// frame ids are emitted in strictly increasing order. Fragments belonging to
// a frame at or before the last completed one are stale and discarded
// immediately, since the decoder never rewinds.
type FrameReassembler struct {
	buffers       map[uint32]*frameBuffer
	lastCompleted uint32
	haveCompleted bool
}

type frameBuffer struct {
	totalFrags uint16
	frags      map[uint16][]byte
}

func NewFrameReassembler() *FrameReassembler {
	return &FrameReassembler{buffers: make(map[uint32]*frameBuffer)}
}

// Add ingests one fragment. It returns the frame's reassembled bytes and true
// exactly once, when frag completes that frame's last missing piece.
func (r *FrameReassembler) Add(frag protocol.ChunkPayload) ([]byte, bool) {
	if r.haveCompleted && frag.FrameID <= r.lastCompleted {
		return nil, false
	}
	buf, ok := r.buffers[frag.FrameID]
	if !ok {
		buf = &frameBuffer{totalFrags: frag.TotalFrags, frags: make(map[uint16][]byte)}
		r.buffers[frag.FrameID] = buf
	}
	buf.frags[frag.FragIndex] = frag.Data
	if uint16(len(buf.frags)) < buf.totalFrags {
		return nil, false
	}

	var out bytes.Buffer
	for i := uint16(0); i < buf.totalFrags; i++ {
		out.Write(buf.frags[i])
	}
	r.lastCompleted = frag.FrameID
	r.haveCompleted = true
	r.evictUpTo(frag.FrameID)
	return out.Bytes(), true
}

// evictUpTo drops every buffered (necessarily incomplete) frame at or before
// completedFrameID: the stream has moved past them and they will never
// complete, matching the original's "drop anything older than the frame we
// just finished" eviction.
func (r *FrameReassembler) evictUpTo(completedFrameID uint32) {
	for id := range r.buffers {
		if id <= completedFrameID {
			delete(r.buffers, id)
		}
	}
}
