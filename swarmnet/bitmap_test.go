package swarmnet

import (
	"testing"

	"github.com/RoaringBitmap/roaring"
	"github.com/frankban/quicktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBitmapRoundTrip(t *testing.T) {
	c := quicktest.New(t)
	bm := roaring.New()
	bm.AddRange(0, 50)
	bm.AddRange(100, 110)
	bm.Add(500)

	data, err := EncodeBitmap(bm)
	c.Assert(err, quicktest.IsNil)

	decoded, err := DecodeBitmap(data)
	c.Assert(err, quicktest.IsNil)
	c.Assert(decoded.Equals(bm), quicktest.IsTrue)
}

func TestBitmapEncodeTruncatesToMostRecentRanges(t *testing.T) {
	bm := roaring.New()
	for i := uint32(0); i < 120; i++ {
		bm.Add(i * 2) // 120 disjoint singleton chunks, scenario S5
	}

	data, err := EncodeBitmap(bm)
	require.NoError(t, err)

	decoded, err := DecodeBitmap(data)
	require.NoError(t, err)

	assert.Equal(t, uint64(MaxBitmapRanges), decoded.GetCardinality())
	assert.True(t, decoded.Contains(238), "the 120th (most recent) chunk must survive truncation")
	assert.False(t, decoded.Contains(0), "the oldest chunk must be dropped by truncation")
}

func TestDecodeBitmapAcceptsFlatList(t *testing.T) {
	decoded, err := DecodeBitmap([]byte(`[1,2,3,10]`))
	require.NoError(t, err)
	assert.True(t, decoded.Contains(1))
	assert.True(t, decoded.Contains(10))
	assert.False(t, decoded.Contains(5))
}

func TestDecodeBitmapEmpty(t *testing.T) {
	decoded, err := DecodeBitmap(nil)
	require.NoError(t, err)
	assert.True(t, decoded.IsEmpty())

	decoded, err = DecodeBitmap([]byte(`[]`))
	require.NoError(t, err)
	assert.True(t, decoded.IsEmpty())
}

func TestSummarizeBitmap(t *testing.T) {
	bm := roaring.New()
	bm.AddRange(101, 206)
	assert.Equal(t, "105 chunks (101-205)", summarizeBitmap(bm))
	assert.Equal(t, "0 chunks", summarizeBitmap(roaring.New()))
}
