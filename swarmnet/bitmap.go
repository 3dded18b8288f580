package swarmnet

import (
	"encoding/json"
	"strconv"

	"github.com/RoaringBitmap/roaring"
	"github.com/pkg/errors"
)

// MaxBitmapRanges bounds how many RLE ranges a BITMAP payload carries: when a
// bitmap merges into more ranges than this, only the most-recent (highest
// chunk_id) ones are kept (spec §4.4/§8 property 3).
const MaxBitmapRanges = 50

type bitmapRange [2]uint32

// EncodeBitmap serializes bm as JSON-encoded ascending [start,end] inclusive
// ranges, truncated to the MaxBitmapRanges most recent ranges.
func EncodeBitmap(bm *roaring.Bitmap) ([]byte, error) {
	ranges := toRanges(bm)
	if len(ranges) > MaxBitmapRanges {
		ranges = ranges[len(ranges)-MaxBitmapRanges:]
	}
	data, err := json.Marshal(ranges)
	if err != nil {
		return nil, errors.Wrap(err, "encode bitmap ranges")
	}
	return data, nil
}

func toRanges(bm *roaring.Bitmap) []bitmapRange {
	if bm.IsEmpty() {
		return nil
	}
	var ranges []bitmapRange
	it := bm.Iterator()
	start := it.Next()
	prev := start
	for it.HasNext() {
		next := it.Next()
		if next == prev+1 {
			prev = next
			continue
		}
		ranges = append(ranges, bitmapRange{start, prev})
		start, prev = next, next
	}
	ranges = append(ranges, bitmapRange{start, prev})
	return ranges
}

// DecodeBitmap parses a BITMAP payload. It accepts either the RLE range
// format EncodeBitmap produces, or a flat JSON array of chunk ids, so a peer
// running an older build's flat encoding still interoperates (spec §4.4 notes
// the wire format as "implementer's choice of compact encoding").
func DecodeBitmap(data []byte) (*roaring.Bitmap, error) {
	bm := roaring.New()
	if len(data) == 0 {
		return bm, nil
	}
	var elements []json.RawMessage
	if err := json.Unmarshal(data, &elements); err != nil {
		return nil, errors.Wrap(err, "decode bitmap: not a json array")
	}
	if len(elements) == 0 {
		return bm, nil
	}

	var probe [2]int64
	if err := json.Unmarshal(elements[0], &probe); err == nil {
		for _, raw := range elements {
			var pair [2]int64
			if err := json.Unmarshal(raw, &pair); err != nil {
				return nil, errors.Wrap(err, "decode bitmap: malformed range")
			}
			if pair[0] < 0 || pair[1] < pair[0] {
				return nil, errors.Errorf("decode bitmap: invalid range [%d,%d]", pair[0], pair[1])
			}
			bm.AddRange(uint64(pair[0]), uint64(pair[1])+1)
		}
		return bm, nil
	}

	var flat []uint32
	if err := json.Unmarshal(data, &flat); err != nil {
		return nil, errors.Wrap(err, "decode bitmap: neither ranges nor flat list")
	}
	bm.AddMany(flat)
	return bm, nil
}

// summarizeBitmap renders a short human-readable summary ("105 chunks
// (101-205)") for the stats sink, matching stats_manager.py's update_bitmap.
func summarizeBitmap(bm *roaring.Bitmap) string {
	if bm.IsEmpty() {
		return "0 chunks"
	}
	ranges := toRanges(bm)
	first, last := ranges[0][0], ranges[len(ranges)-1][1]
	return strconv.FormatUint(bm.GetCardinality(), 10) + " chunks (" +
		strconv.FormatUint(uint64(first), 10) + "-" + strconv.FormatUint(uint64(last), 10) + ")"
}
