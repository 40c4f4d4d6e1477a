package autodiff

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tensorFrom(t *testing.T, rows [][]float64, requires bool) *Tensor {
	t.Helper()
	m, err := NewMatrix(len(rows), len(rows[0]))
	require.NoError(t, err)
	for i, row := range rows {
		copy(m.Data[i], row)
	}
	tensor, err := NewTensor(m, &TensorConfig{RequiresGrad: requires})
	require.NoError(t, err)
	return tensor
}

func TestMatMulValueAndGradient(t *testing.T) {
	a := tensorFrom(t, [][]float64{{1, 2}, {3, 4}}, true)
	b := tensorFrom(t, [][]float64{{5, 6}, {7, 8}}, true)

	c, err := MatMul(a, b)
	require.NoError(t, err)
	assert.Equal(t, 19.0, c.Data.Data[0][0])
	assert.Equal(t, 22.0, c.Data.Data[0][1])
	assert.Equal(t, 43.0, c.Data.Data[1][0])
	assert.Equal(t, 50.0, c.Data.Data[1][1])

	m, err := Mean(c)
	require.NoError(t, err)
	require.NoError(t, m.Backward())

	// d mean / dA = (1/4) * ones * B^T: each row of A's grad is the row sums
	// of B scaled by 1/4.
	assert.InDelta(t, (5+6)/4.0, a.Grad.Data[0][0], 1e-12)
	assert.InDelta(t, (7+8)/4.0, a.Grad.Data[0][1], 1e-12)
	assert.InDelta(t, (1+3)/4.0, b.Grad.Data[0][0], 1e-12)
	assert.InDelta(t, (2+4)/4.0, b.Grad.Data[1][1], 1e-12)
}

func TestMatMulDimensionMismatch(t *testing.T) {
	a := tensorFrom(t, [][]float64{{1, 2, 3}}, false)
	b := tensorFrom(t, [][]float64{{1, 2}}, false)
	_, err := MatMul(a, b)
	assert.Error(t, err)
}

func TestMeanGradientSpreadsEvenly(t *testing.T) {
	x := tensorFrom(t, [][]float64{{1, 2}, {3, 4}}, true)
	m, err := Mean(x)
	require.NoError(t, err)
	assert.Equal(t, 2.5, m.Data.Data[0][0])

	require.NoError(t, m.Backward())
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			assert.Equal(t, 0.25, x.Grad.Data[i][j])
		}
	}
}

// A node feeding the same input twice must accumulate both contributions
// exactly once each.
func TestBackwardSharedInputAccumulatesOnce(t *testing.T) {
	x := tensorFrom(t, [][]float64{{1, 2}}, true)

	doubled, err := Add(x, x)
	require.NoError(t, err)
	m, err := Mean(doubled)
	require.NoError(t, err)
	require.NoError(t, m.Backward())

	// d mean(x+x) / dx = 2/n with n = 2.
	assert.Equal(t, 1.0, x.Grad.Data[0][0])
	assert.Equal(t, 1.0, x.Grad.Data[0][1])
}

func TestBackwardRequiresScalar(t *testing.T) {
	x := tensorFrom(t, [][]float64{{1, 2}}, true)
	assert.Error(t, x.Backward())
}

func TestSoftmaxRowsSumToOne(t *testing.T) {
	x := tensorFrom(t, [][]float64{{1, 2, 3}, {-5, 0, 5}}, false)
	y, err := Softmax(x)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		sum := 0.0
		for j := 0; j < 3; j++ {
			sum += y.Data.Data[i][j]
			assert.Positive(t, y.Data.Data[i][j])
		}
		assert.InDelta(t, 1.0, sum, 1e-12)
	}
	assert.Greater(t, y.Data.Data[0][2], y.Data.Data[0][0])
}

func TestGELU(t *testing.T) {
	x := tensorFrom(t, [][]float64{{0, 3, -3}}, false)
	y, err := GELU(x)
	require.NoError(t, err)

	assert.Zero(t, y.Data.Data[0][0])
	assert.InDelta(t, 3.0, y.Data.Data[0][1], 1e-2)
	assert.InDelta(t, 0.0, y.Data.Data[0][2], 1e-2)
}

func TestAddRowVectorBroadcast(t *testing.T) {
	x := tensorFrom(t, [][]float64{{1, 2}, {3, 4}}, true)
	bias := tensorFrom(t, [][]float64{{10, 20}}, true)

	y, err := AddRowVector(x, bias)
	require.NoError(t, err)
	assert.Equal(t, 11.0, y.Data.Data[0][0])
	assert.Equal(t, 24.0, y.Data.Data[1][1])

	m, err := Mean(y)
	require.NoError(t, err)
	require.NoError(t, m.Backward())
	// The bias gradient sums over the broadcast rows.
	assert.Equal(t, 0.5, bias.Grad.Data[0][0])
}

func TestMaskKeysBlocksAndPassesGradient(t *testing.T) {
	scores := tensorFrom(t, [][]float64{{1, 2, 3}}, true)
	masked, err := MaskKeys(scores, []bool{true, false, true})
	require.NoError(t, err)

	assert.Equal(t, 1.0, masked.Data.Data[0][0])
	assert.Equal(t, -1e9, masked.Data.Data[0][1])
	assert.Equal(t, 3.0, masked.Data.Data[0][2])

	m, err := Mean(masked)
	require.NoError(t, err)
	require.NoError(t, m.Backward())
	assert.NotZero(t, scores.Grad.Data[0][0])
	assert.Zero(t, scores.Grad.Data[0][1], "blocked key must receive no gradient")
}

func TestDropoutEvalPassthrough(t *testing.T) {
	x := tensorFrom(t, [][]float64{{1, 2, 3}}, false)

	y, err := Dropout(x, 0.5, false, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.Same(t, x, y)

	y, err = Dropout(x, 0, true, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.Same(t, x, y)
}

func TestDropoutTrainingScalesSurvivors(t *testing.T) {
	x := tensorFrom(t, [][]float64{{1, 1, 1, 1, 1, 1, 1, 1}}, false)
	y, err := Dropout(x, 0.5, true, rand.New(rand.NewSource(7)))
	require.NoError(t, err)

	for j := 0; j < 8; j++ {
		v := y.Data.Data[0][j]
		assert.True(t, v == 0 || v == 2, "survivor must be rescaled by 1/(1-rate), got %v", v)
	}
}

func TestLayerNormNormalizesRows(t *testing.T) {
	x := tensorFrom(t, [][]float64{{1, 2, 3, 4}}, false)
	gain := tensorFrom(t, [][]float64{{1, 1, 1, 1}}, false)
	bias := tensorFrom(t, [][]float64{{0, 0, 0, 0}}, false)

	y, err := LayerNorm(x, gain, bias, 1e-5)
	require.NoError(t, err)

	mean := 0.0
	for j := 0; j < 4; j++ {
		mean += y.Data.Data[0][j]
	}
	mean /= 4
	assert.InDelta(t, 0, mean, 1e-9)

	variance := 0.0
	for j := 0; j < 4; j++ {
		variance += y.Data.Data[0][j] * y.Data.Data[0][j]
	}
	assert.InDelta(t, 1.0, variance/4, 1e-4)
}

func TestEmbeddingLookupGatherAndScatter(t *testing.T) {
	table := tensorFrom(t, [][]float64{{1, 2}, {3, 4}, {5, 6}}, true)

	out, err := EmbeddingLookup(table, []int{2, 0, 2})
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 6}, out.Data.Data[0])
	assert.Equal(t, []float64{1, 2}, out.Data.Data[1])

	m, err := Mean(out)
	require.NoError(t, err)
	require.NoError(t, m.Backward())

	// Row 2 was gathered twice, row 1 never.
	n := 1.0 / 6.0
	assert.InDelta(t, 2*n, table.Grad.Data[2][0], 1e-12)
	assert.InDelta(t, n, table.Grad.Data[0][0], 1e-12)
	assert.Zero(t, table.Grad.Data[1][0])

	_, err = EmbeddingLookup(table, []int{3})
	assert.Error(t, err, "id out of range")
}

func TestConcatCols(t *testing.T) {
	a := tensorFrom(t, [][]float64{{1, 2}}, false)
	b := tensorFrom(t, [][]float64{{3}}, false)

	c, err := ConcatCols(a, b)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, c.Data.Data[0])

	bad := tensorFrom(t, [][]float64{{1}, {2}}, false)
	_, err = ConcatCols(a, bad)
	assert.Error(t, err)
}

func TestTransposeGradient(t *testing.T) {
	x := tensorFrom(t, [][]float64{{1, 2, 3}}, true)
	y, err := Transpose(x)
	require.NoError(t, err)
	require.Equal(t, 3, y.Data.Rows)
	require.Equal(t, 1, y.Data.Cols)

	m, err := Mean(y)
	require.NoError(t, err)
	require.NoError(t, m.Backward())
	for j := 0; j < 3; j++ {
		assert.InDelta(t, 1.0/3.0, x.Grad.Data[0][j], 1e-12)
	}
}

// Finite differences against the analytic gradient of a small composite
// graph catch sign and scaling mistakes that single-op checks miss.
func TestGradientNumericalCheck(t *testing.T) {
	build := func(vals [][]float64) float64 {
		x := tensorFrom(t, vals, false)
		w := tensorFrom(t, [][]float64{{0.5, -0.2}, {0.1, 0.3}}, false)
		h, err := MatMul(x, w)
		require.NoError(t, err)
		g, err := GELU(h)
		require.NoError(t, err)
		m, err := Mean(g)
		require.NoError(t, err)
		return m.Data.Data[0][0]
	}

	vals := [][]float64{{0.7, -1.1}, {0.4, 0.9}}
	x := tensorFrom(t, vals, true)
	w := tensorFrom(t, [][]float64{{0.5, -0.2}, {0.1, 0.3}}, false)
	h, err := MatMul(x, w)
	require.NoError(t, err)
	g, err := GELU(h)
	require.NoError(t, err)
	m, err := Mean(g)
	require.NoError(t, err)
	require.NoError(t, m.Backward())

	const eps = 1e-6
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			plus := [][]float64{{vals[0][0], vals[0][1]}, {vals[1][0], vals[1][1]}}
			minus := [][]float64{{vals[0][0], vals[0][1]}, {vals[1][0], vals[1][1]}}
			plus[i][j] += eps
			minus[i][j] -= eps
			numeric := (build(plus) - build(minus)) / (2 * eps)
			assert.InDelta(t, numeric, x.Grad.Data[i][j], 1e-5, "grad at (%d,%d)", i, j)
		}
	}
}

func TestMatrixHelpers(t *testing.T) {
	m3, err := NewMatrix(2, 3)
	require.NoError(t, err)
	m3.Data[0] = []float64{1, 5, 2}

	argmax, err := m3.RowArgmax(0)
	require.NoError(t, err)
	assert.Equal(t, 1, argmax)

	max, err := m3.RowMax(0)
	require.NoError(t, err)
	assert.Equal(t, 5.0, max)

	_, err = m3.RowArgmax(5)
	assert.Error(t, err)

	_, err = NewMatrix(0, 3)
	assert.Error(t, err)
}
