package masking

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	padID  = 0
	bosID  = 1
	eosID  = 2
	maskID = 3
)

// bos + 10 interior tokens + eos + 2 pads.
func tokenRow() []int {
	return []int{bosID, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, eosID, padID, padID}
}

func newGen(t *testing.T, ratio float64, seed int64) *Generator {
	t.Helper()
	g, err := NewGenerator(maskID, eosID, ratio, rand.New(rand.NewSource(seed)))
	require.NoError(t, err)
	return g
}

func TestNewGeneratorValidation(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	_, err := NewGenerator(maskID, eosID, 0, rng)
	assert.Error(t, err)
	_, err = NewGenerator(maskID, eosID, 1.1, rng)
	assert.Error(t, err)
	_, err = NewGenerator(maskID, eosID, 0.5, nil)
	assert.Error(t, err)
}

func TestMaskCountAndInterior(t *testing.T) {
	g := newGen(t, 0.25, 1)
	row := tokenRow()

	masked, positions, err := g.Mask(row)
	require.NoError(t, err)

	// validLen 10, ratio 0.25 -> round(2.5) rounds away from zero to 3.
	assert.Len(t, positions, 3)
	for _, p := range positions {
		assert.GreaterOrEqual(t, p, 1)
		assert.LessOrEqual(t, p, 10)
		assert.Equal(t, maskID, masked[p])
	}
	assert.IsIncreasing(t, positions)
}

func TestMaskPreservesUnmaskedPositions(t *testing.T) {
	g := newGen(t, 0.3, 2)
	row := tokenRow()

	masked, positions, err := g.Mask(row)
	require.NoError(t, err)

	maskedSet := make(map[int]bool)
	for _, p := range positions {
		maskedSet[p] = true
	}
	for i, id := range row {
		if maskedSet[i] {
			continue
		}
		assert.Equal(t, id, masked[i], "position %d", i)
	}
	// Input row is untouched.
	assert.Equal(t, tokenRow(), row)
}

func TestMaskAtLeastOne(t *testing.T) {
	g := newGen(t, 0.01, 3)
	_, positions, err := g.Mask(tokenRow())
	require.NoError(t, err)
	assert.Len(t, positions, 1)
}

func TestMaskFullRatio(t *testing.T) {
	g := newGen(t, 1.0, 4)
	masked, positions, err := g.Mask(tokenRow())
	require.NoError(t, err)
	assert.Len(t, positions, 10)
	for p := 1; p <= 10; p++ {
		assert.Equal(t, maskID, masked[p])
	}
}

func TestMaskDeterministicPerSeed(t *testing.T) {
	_, first, err := newGen(t, 0.4, 9).Mask(tokenRow())
	require.NoError(t, err)
	_, second, err := newGen(t, 0.4, 9).Mask(tokenRow())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestMaskMalformedRows(t *testing.T) {
	g := newGen(t, 0.5, 5)

	_, _, err := g.Mask([]int{bosID, 5, 6, 7})
	assert.Error(t, err, "row without end sentinel")

	_, _, err = g.Mask([]int{bosID, eosID, padID})
	assert.Error(t, err, "row with empty interior")
}

func TestBuildLabels(t *testing.T) {
	row := tokenRow()
	labels := BuildLabels(row, []int{2, 5})

	for i, label := range labels {
		switch i {
		case 2, 5:
			assert.Equal(t, row[i], label)
		default:
			assert.Equal(t, IgnoreLabel, label)
		}
	}
	assert.Len(t, labels, len(row))
}
