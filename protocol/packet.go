// Package protocol defines the wire formats exchanged between swarm nodes:
// the fixed datagram header (Packet) and the video chunk fragmentation header
// (ChunkPayload). Both are pure codecs; neither knows about peers, sockets, or
// scheduling.
package protocol

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// MsgType enumerates the datagram kinds a Node can send or receive.
type MsgType uint8

const (
	Handshake   MsgType = 1
	Heartbeat   MsgType = 2
	Bitmap      MsgType = 3
	Request     MsgType = 4
	Data        MsgType = 5
	PeerList    MsgType = 6
	Ping        MsgType = 7
	Pong        MsgType = 8
	StatsReport MsgType = 9
)

func (t MsgType) String() string {
	switch t {
	case Handshake:
		return "HANDSHAKE"
	case Heartbeat:
		return "HEARTBEAT"
	case Bitmap:
		return "BITMAP"
	case Request:
		return "REQUEST"
	case Data:
		return "DATA"
	case PeerList:
		return "PEER_LIST"
	case Ping:
		return "PING"
	case Pong:
		return "PONG"
	case StatsReport:
		return "STATS_REPORT"
	default:
		return "UNKNOWN"
	}
}

// CurrentVersion is the only header version this module emits.
const CurrentVersion = 1

// HeaderSize is the fixed-width prefix of every datagram: ver(1) + msg_type(1)
// + seq(4) + timestamp(8, float64) + payload_len(2), big-endian.
const HeaderSize = 1 + 1 + 4 + 8 + 2

// ErrMalformedPacket is returned when a received datagram is shorter than its
// declared header or payload. Per spec §4.1/§7 this is recoverable: the
// datagram is dropped and logged, the transport keeps running.
var ErrMalformedPacket = errors.New("malformed packet")

// Packet is a decoded datagram. Seq carries the chunk_id for Data messages and
// is zero otherwise.
type Packet struct {
	Version   uint8
	Type      MsgType
	Seq       uint32
	Timestamp float64
	Payload   []byte
}

// Encode serializes p into a single datagram's worth of bytes. Callers are
// responsible for keeping the result under a safe MTU (spec suggests 1400B);
// Encode itself never fragments or truncates.
func (p Packet) Encode() []byte {
	buf := make([]byte, HeaderSize+len(p.Payload))
	buf[0] = p.Version
	buf[1] = byte(p.Type)
	binary.BigEndian.PutUint32(buf[2:6], p.Seq)
	binary.BigEndian.PutUint64(buf[6:14], math.Float64bits(p.Timestamp))
	binary.BigEndian.PutUint16(buf[14:16], uint16(len(p.Payload)))
	copy(buf[HeaderSize:], p.Payload)
	return buf
}

// Decode parses a datagram's bytes into a Packet. It returns ErrMalformedPacket
// (wrapped with the specific shortfall) if the buffer is shorter than the
// fixed header or shorter than the header plus its declared payload length.
func Decode(data []byte) (Packet, error) {
	if len(data) < HeaderSize {
		return Packet{}, errors.Wrapf(ErrMalformedPacket, "need %d header bytes, got %d", HeaderSize, len(data))
	}
	payloadLen := int(binary.BigEndian.Uint16(data[14:16]))
	if len(data) < HeaderSize+payloadLen {
		return Packet{}, errors.Wrapf(ErrMalformedPacket, "need %d bytes for payload, got %d", HeaderSize+payloadLen, len(data))
	}
	p := Packet{
		Version:   data[0],
		Type:      MsgType(data[1]),
		Seq:       binary.BigEndian.Uint32(data[2:6]),
		Timestamp: math.Float64frombits(binary.BigEndian.Uint64(data[6:14])),
	}
	if payloadLen > 0 {
		p.Payload = make([]byte, payloadLen)
		copy(p.Payload, data[HeaderSize:HeaderSize+payloadLen])
	}
	return p, nil
}
