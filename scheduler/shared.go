package scheduler

import (
	"strconv"
	"strings"
)

// parseChunkID recovers the chunk_id a REQUEST packet's payload carries. Node
// encodes requests as a decimal ASCII string (spec §4.1 leaves REQUEST's
// payload format to the implementer; a small integer string keeps the
// handshake/PEX JSON convention from bleeding into every message type).
func parseChunkID(payload []byte) (uint32, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(string(payload)), 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}
