package protocol

import (
	"testing"

	"github.com/frankban/quicktest"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketEncodeDecodeRoundTrip(t *testing.T) {
	c := quicktest.New(t)
	cases := []Packet{
		{Version: CurrentVersion, Type: Handshake, Timestamp: 1.5},
		{Version: CurrentVersion, Type: Data, Seq: 12345, Timestamp: 123456.789, Payload: []byte("some chunk bytes")},
		{Version: CurrentVersion, Type: Ping, Timestamp: 0, Payload: []byte{}},
	}
	for _, want := range cases {
		got, err := Decode(want.Encode())
		c.Assert(err, quicktest.IsNil)
		if len(want.Payload) == 0 {
			want.Payload = nil
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("round trip mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestDecodeRejectsShortHeader(t *testing.T) {
	_, err := Decode([]byte{1, 2, 3})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedPacket)
}

func TestDecodeRejectsTruncatedPayload(t *testing.T) {
	pkt := Packet{Version: CurrentVersion, Type: Data, Payload: []byte("hello world")}
	encoded := pkt.Encode()
	_, err := Decode(encoded[:len(encoded)-5])
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedPacket)
}

func TestMsgTypeString(t *testing.T) {
	assert.Equal(t, "HANDSHAKE", Handshake.String())
	assert.Equal(t, "DATA", Data.String())
	assert.Equal(t, "UNKNOWN", MsgType(200).String())
}
