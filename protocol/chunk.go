package protocol

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// FragmentCap is the compile-time upper bound on fragments per frame (spec
// §3: chunk_id = frame_id*F + frag_index, F = 1000). frag_index must stay
// below FragmentCap so chunk_id stays collision-free across frames.
const FragmentCap = 1000

// MaxFragmentPayload is the largest slice of raw frame bytes a single
// ChunkPayload carries, chosen so header+payload clears a safe UDP MTU.
const MaxFragmentPayload = 1000

// ChunkHeaderSize is frame_id(4) + total_frags(2) + frag_index(2), big-endian.
const ChunkHeaderSize = 4 + 2 + 2

// ErrTooManyFragments signals a frame that would need FragmentCap or more
// fragments, violating the frag_index < F invariant.
var ErrTooManyFragments = errors.New("frame requires too many fragments")

// ChunkPayload is the Layer-2 payload carried inside a DATA packet's bytes:
// a small fixed header plus the raw fragment of frame data.
type ChunkPayload struct {
	FrameID    uint32
	TotalFrags uint16
	FragIndex  uint16
	Data       []byte
}

// ChunkID computes the spec's chunk_id = frame_id*F + frag_index encoding.
func ChunkID(frameID uint32, fragIndex uint16) uint32 {
	return frameID*FragmentCap + uint32(fragIndex)
}

func (c ChunkPayload) Encode() []byte {
	buf := make([]byte, ChunkHeaderSize+len(c.Data))
	binary.BigEndian.PutUint32(buf[0:4], c.FrameID)
	binary.BigEndian.PutUint16(buf[4:6], c.TotalFrags)
	binary.BigEndian.PutUint16(buf[6:8], c.FragIndex)
	copy(buf[ChunkHeaderSize:], c.Data)
	return buf
}

func DecodeChunkPayload(buf []byte) (ChunkPayload, error) {
	if len(buf) < ChunkHeaderSize {
		return ChunkPayload{}, errors.Wrapf(ErrMalformedPacket, "chunk payload too short: %d bytes", len(buf))
	}
	c := ChunkPayload{
		FrameID:    binary.BigEndian.Uint32(buf[0:4]),
		TotalFrags: binary.BigEndian.Uint16(buf[4:6]),
		FragIndex:  binary.BigEndian.Uint16(buf[6:8]),
	}
	if len(buf) > ChunkHeaderSize {
		c.Data = make([]byte, len(buf)-ChunkHeaderSize)
		copy(c.Data, buf[ChunkHeaderSize:])
	}
	return c, nil
}

// FragmentFrame splits frameData into ≤MaxFragmentPayload-byte slices and
// returns the chunk_id plus packed ChunkPayload bytes for each, ready to hand
// straight to a transport send or a ChunkStore insert. It never returns more
// than FragmentCap-1 fragments; a frame that would need more logs via the
// returned error rather than silently truncating (spec: "implementers must
// enforce frag_index < F").
func FragmentFrame(frameID uint32, frameData []byte) ([]struct {
	ChunkID uint32
	Payload []byte
}, error) {
	numFrags := (len(frameData) + MaxFragmentPayload - 1) / MaxFragmentPayload
	if numFrags == 0 {
		numFrags = 1
	}
	if numFrags >= FragmentCap {
		return nil, errors.Wrapf(ErrTooManyFragments, "frame %d needs %d fragments", frameID, numFrags)
	}
	out := make([]struct {
		ChunkID uint32
		Payload []byte
	}, 0, numFrags)
	for i := 0; i < numFrags; i++ {
		start := i * MaxFragmentPayload
		end := start + MaxFragmentPayload
		if end > len(frameData) {
			end = len(frameData)
		}
		payload := ChunkPayload{
			FrameID:    frameID,
			TotalFrags: uint16(numFrags),
			FragIndex:  uint16(i),
			Data:       frameData[start:end],
		}
		out = append(out, struct {
			ChunkID uint32
			Payload []byte
		}{ChunkID: ChunkID(frameID, uint16(i)), Payload: payload.Encode()})
	}
	return out, nil
}
