package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeBatchShapeAndSentinels(t *testing.T) {
	codec := NewResidueCodec()

	enc, err := codec.EncodeBatch([]string{"ACD", "WY"}, 8, true, true)
	require.NoError(t, err)
	require.Len(t, enc.IDs, 2)

	for i, row := range enc.IDs {
		assert.Len(t, row, 8)
		assert.Len(t, enc.AttentionMask[i], 8)
		assert.Equal(t, BosID, row[0])
	}

	// "ACD" -> bos A C D eos pad pad pad
	assert.Equal(t, []int{BosID, 5, 6, 7, EosID, PadID, PadID, PadID}, enc.IDs[0])
	assert.Equal(t, []bool{true, true, true, true, true, false, false, false}, enc.AttentionMask[0])
}

func TestEncodeMaskFalseIffPad(t *testing.T) {
	codec := NewStructuralCodec()
	enc, err := codec.EncodeBatch([]string{"AC"}, 10, true, true)
	require.NoError(t, err)

	for j, id := range enc.IDs[0] {
		assert.Equal(t, id != PadID, enc.AttentionMask[0][j], "position %d", j)
	}
}

func TestTruncationKeepsEndSentinel(t *testing.T) {
	codec := NewResidueCodec()
	enc, err := codec.EncodeBatch([]string{"ACDEFGHIKL"}, 6, true, true)
	require.NoError(t, err)

	row := enc.IDs[0]
	assert.Len(t, row, 6)
	assert.Equal(t, BosID, row[0])
	assert.Equal(t, EosID, row[5])
	for _, m := range enc.AttentionMask[0] {
		assert.True(t, m)
	}
}

func TestEncodeErrorsWhenPolicyDisabled(t *testing.T) {
	codec := NewResidueCodec()

	_, err := codec.EncodeBatch([]string{"ACDEFGHIKL"}, 6, true, false)
	assert.Error(t, err, "overflow without truncation")

	_, err = codec.EncodeBatch([]string{"AC"}, 10, false, true)
	assert.Error(t, err, "underflow without padding")
}

func TestDecodeRoundTrip(t *testing.T) {
	codec := NewStructuralCodec()
	seq := "ACDWYK"

	enc, err := codec.EncodeBatch([]string{seq}, 12, true, true)
	require.NoError(t, err)

	got, err := codec.Decode(enc.IDs[0], true)
	require.NoError(t, err)
	assert.Equal(t, seq, got)
}

func TestDecodeRejectsOutOfRangeID(t *testing.T) {
	codec := NewResidueCodec()
	_, err := codec.Decode([]int{BosID, codec.VocabSize(), EosID}, true)
	assert.Error(t, err)
}

func TestUnknownSymbolMapsToUnk(t *testing.T) {
	codec := NewResidueCodec()
	enc, err := codec.EncodeBatch([]string{"AXA"}, 8, true, true)
	require.NoError(t, err)
	assert.Equal(t, UnkID, enc.IDs[0][2])
}

func TestVocabSize(t *testing.T) {
	// 5 special tokens plus the 20-letter alphabet.
	assert.Equal(t, 25, NewResidueCodec().VocabSize())
	assert.Equal(t, 25, NewStructuralCodec().VocabSize())
}

func TestMaxLenTooSmall(t *testing.T) {
	codec := NewResidueCodec()
	_, err := codec.EncodeBatch([]string{"A"}, 2, true, true)
	assert.Error(t, err)
}
