package autodiff

import (
	"fmt"
	"math"
	"math/rand"
)

// MatMul performs matrix multiplication with gradient tracking.
func MatMul(a, b *Tensor) (*Tensor, error) {
	if a == nil || b == nil {
		return nil, fmt.Errorf("input tensors cannot be nil")
	}
	if a.Data.Cols != b.Data.Rows {
		return nil, fmt.Errorf("matrix dimensions don't match for multiplication: a(%dx%d), b(%dx%d)",
			a.Data.Rows, a.Data.Cols, b.Data.Rows, b.Data.Cols)
	}

	result, err := NewZerosTensor(a.Data.Rows, b.Data.Cols, resultConfig("matmul", a, b))
	if err != nil {
		return nil, err
	}

	for i := 0; i < a.Data.Rows; i++ {
		for j := 0; j < b.Data.Cols; j++ {
			sum := 0.0
			for k := 0; k < a.Data.Cols; k++ {
				sum += a.Data.Data[i][k] * b.Data.Data[k][j]
			}
			result.Data.Data[i][j] = sum
		}
	}

	err = result.wire(func() error {
		if a.Requires {
			// dL/dA = dL/dC * B^T
			for i := 0; i < a.Data.Rows; i++ {
				for k := 0; k < a.Data.Cols; k++ {
					sum := 0.0
					for j := 0; j < b.Data.Cols; j++ {
						sum += result.Grad.Data[i][j] * b.Data.Data[k][j]
					}
					a.Grad.Data[i][k] += sum
				}
			}
		}
		if b.Requires {
			// dL/dB = A^T * dL/dC
			for k := 0; k < b.Data.Rows; k++ {
				for j := 0; j < b.Data.Cols; j++ {
					sum := 0.0
					for i := 0; i < a.Data.Rows; i++ {
						sum += a.Data.Data[i][k] * result.Grad.Data[i][j]
					}
					b.Grad.Data[k][j] += sum
				}
			}
		}
		return nil
	}, a, b)
	if err != nil {
		return nil, err
	}

	return result, nil
}

// Add performs element-wise addition with gradient tracking.
func Add(a, b *Tensor) (*Tensor, error) {
	if a == nil || b == nil {
		return nil, fmt.Errorf("input tensors cannot be nil")
	}
	if a.Data.Rows != b.Data.Rows || a.Data.Cols != b.Data.Cols {
		return nil, fmt.Errorf("matrix dimensions don't match for addition: a(%dx%d), b(%dx%d)",
			a.Data.Rows, a.Data.Cols, b.Data.Rows, b.Data.Cols)
	}

	result, err := NewZerosTensor(a.Data.Rows, a.Data.Cols, resultConfig("add", a, b))
	if err != nil {
		return nil, err
	}

	for i := 0; i < a.Data.Rows; i++ {
		for j := 0; j < a.Data.Cols; j++ {
			result.Data.Data[i][j] = a.Data.Data[i][j] + b.Data.Data[i][j]
		}
	}

	err = result.wire(func() error {
		for i := 0; i < a.Data.Rows; i++ {
			for j := 0; j < a.Data.Cols; j++ {
				if a.Requires {
					a.Grad.Data[i][j] += result.Grad.Data[i][j]
				}
				if b.Requires {
					b.Grad.Data[i][j] += result.Grad.Data[i][j]
				}
			}
		}
		return nil
	}, a, b)
	if err != nil {
		return nil, err
	}

	return result, nil
}

// AddRowVector adds a 1xC bias row to every row of a with gradient tracking.
func AddRowVector(a, bias *Tensor) (*Tensor, error) {
	if a == nil || bias == nil {
		return nil, fmt.Errorf("input tensors cannot be nil")
	}
	if bias.Data.Rows != 1 || bias.Data.Cols != a.Data.Cols {
		return nil, fmt.Errorf("bias must be 1x%d, got %dx%d", a.Data.Cols, bias.Data.Rows, bias.Data.Cols)
	}

	result, err := NewZerosTensor(a.Data.Rows, a.Data.Cols, resultConfig("add_row_vector", a, bias))
	if err != nil {
		return nil, err
	}

	for i := 0; i < a.Data.Rows; i++ {
		for j := 0; j < a.Data.Cols; j++ {
			result.Data.Data[i][j] = a.Data.Data[i][j] + bias.Data.Data[0][j]
		}
	}

	err = result.wire(func() error {
		for i := 0; i < a.Data.Rows; i++ {
			for j := 0; j < a.Data.Cols; j++ {
				if a.Requires {
					a.Grad.Data[i][j] += result.Grad.Data[i][j]
				}
				if bias.Requires {
					bias.Grad.Data[0][j] += result.Grad.Data[i][j]
				}
			}
		}
		return nil
	}, a, bias)
	if err != nil {
		return nil, err
	}

	return result, nil
}

// ScalarMultiply multiplies a tensor by a scalar value with gradient tracking.
func ScalarMultiply(a *Tensor, scalar float64) (*Tensor, error) {
	if a == nil {
		return nil, fmt.Errorf("input tensor cannot be nil")
	}

	result, err := NewZerosTensor(a.Data.Rows, a.Data.Cols, resultConfig("scalar_multiply", a))
	if err != nil {
		return nil, err
	}

	for i := 0; i < a.Data.Rows; i++ {
		for j := 0; j < a.Data.Cols; j++ {
			result.Data.Data[i][j] = a.Data.Data[i][j] * scalar
		}
	}

	err = result.wire(func() error {
		if !a.Requires {
			return nil
		}
		for i := 0; i < a.Data.Rows; i++ {
			for j := 0; j < a.Data.Cols; j++ {
				a.Grad.Data[i][j] += result.Grad.Data[i][j] * scalar
			}
		}
		return nil
	}, a)
	if err != nil {
		return nil, err
	}

	return result, nil
}

// Transpose returns the transpose of a tensor with gradient tracking.
func Transpose(a *Tensor) (*Tensor, error) {
	if a == nil {
		return nil, fmt.Errorf("input tensor cannot be nil")
	}

	result, err := NewZerosTensor(a.Data.Cols, a.Data.Rows, resultConfig("transpose", a))
	if err != nil {
		return nil, err
	}

	for i := 0; i < a.Data.Rows; i++ {
		for j := 0; j < a.Data.Cols; j++ {
			result.Data.Data[j][i] = a.Data.Data[i][j]
		}
	}

	err = result.wire(func() error {
		if !a.Requires {
			return nil
		}
		for i := 0; i < a.Data.Rows; i++ {
			for j := 0; j < a.Data.Cols; j++ {
				a.Grad.Data[i][j] += result.Grad.Data[j][i]
			}
		}
		return nil
	}, a)
	if err != nil {
		return nil, err
	}

	return result, nil
}

// Softmax applies a row-wise softmax with gradient tracking.
func Softmax(a *Tensor) (*Tensor, error) {
	if a == nil {
		return nil, fmt.Errorf("input tensor cannot be nil")
	}

	result, err := NewZerosTensor(a.Data.Rows, a.Data.Cols, resultConfig("softmax", a))
	if err != nil {
		return nil, err
	}

	for i := 0; i < a.Data.Rows; i++ {
		max := a.Data.Data[i][0]
		for j := 1; j < a.Data.Cols; j++ {
			if a.Data.Data[i][j] > max {
				max = a.Data.Data[i][j]
			}
		}

		sum := 0.0
		for j := 0; j < a.Data.Cols; j++ {
			expVal := math.Exp(a.Data.Data[i][j] - max)
			result.Data.Data[i][j] = expVal
			sum += expVal
		}
		for j := 0; j < a.Data.Cols; j++ {
			result.Data.Data[i][j] /= sum
		}
	}

	err = result.wire(func() error {
		if !a.Requires {
			return nil
		}
		// dx_j = y_j * (dy_j - sum_k dy_k * y_k)
		for i := 0; i < a.Data.Rows; i++ {
			dot := 0.0
			for k := 0; k < a.Data.Cols; k++ {
				dot += result.Grad.Data[i][k] * result.Data.Data[i][k]
			}
			for j := 0; j < a.Data.Cols; j++ {
				a.Grad.Data[i][j] += result.Data.Data[i][j] * (result.Grad.Data[i][j] - dot)
			}
		}
		return nil
	}, a)
	if err != nil {
		return nil, err
	}

	return result, nil
}

// GELU applies the GELU activation function with gradient tracking.
func GELU(a *Tensor) (*Tensor, error) {
	if a == nil {
		return nil, fmt.Errorf("input tensor cannot be nil")
	}

	result, err := NewZerosTensor(a.Data.Rows, a.Data.Cols, resultConfig("gelu", a))
	if err != nil {
		return nil, err
	}

	sqrt2OverPi := math.Sqrt(2.0 / math.Pi)
	coeff := 0.044715

	for i := 0; i < a.Data.Rows; i++ {
		for j := 0; j < a.Data.Cols; j++ {
			x := a.Data.Data[i][j]
			tanhArg := sqrt2OverPi * (x + coeff*x*x*x)
			result.Data.Data[i][j] = 0.5 * x * (1.0 + math.Tanh(tanhArg))
		}
	}

	err = result.wire(func() error {
		if !a.Requires {
			return nil
		}
		for i := 0; i < a.Data.Rows; i++ {
			for j := 0; j < a.Data.Cols; j++ {
				x := a.Data.Data[i][j]
				tanhArg := sqrt2OverPi * (x + coeff*x*x*x)
				tanhVal := math.Tanh(tanhArg)
				dtanh := 1.0 - tanhVal*tanhVal
				innerDeriv := sqrt2OverPi * (1.0 + 3.0*coeff*x*x)
				geluGrad := 0.5*(1.0+tanhVal) + 0.5*x*dtanh*innerDeriv
				a.Grad.Data[i][j] += result.Grad.Data[i][j] * geluGrad
			}
		}
		return nil
	}, a)
	if err != nil {
		return nil, err
	}

	return result, nil
}

// Mean returns the mean of all elements as a scalar tensor.
func Mean(a *Tensor) (*Tensor, error) {
	if a == nil {
		return nil, fmt.Errorf("input tensor cannot be nil")
	}

	result, err := NewZerosTensor(1, 1, resultConfig("mean", a))
	if err != nil {
		return nil, err
	}

	n := float64(a.Data.Rows * a.Data.Cols)
	sum := 0.0
	for i := 0; i < a.Data.Rows; i++ {
		for j := 0; j < a.Data.Cols; j++ {
			sum += a.Data.Data[i][j]
		}
	}
	result.Data.Data[0][0] = sum / n

	err = result.wire(func() error {
		if !a.Requires {
			return nil
		}
		g := result.Grad.Data[0][0] / n
		for i := 0; i < a.Data.Rows; i++ {
			for j := 0; j < a.Data.Cols; j++ {
				a.Grad.Data[i][j] += g
			}
		}
		return nil
	}, a)
	if err != nil {
		return nil, err
	}

	return result, nil
}

// ConcatCols concatenates tensors with equal row counts along the column
// axis, with gradient tracking back into each input.
func ConcatCols(tensors ...*Tensor) (*Tensor, error) {
	if len(tensors) == 0 {
		return nil, fmt.Errorf("need at least one tensor to concatenate")
	}
	rows := tensors[0].Data.Rows
	cols := 0
	for _, t := range tensors {
		if t == nil {
			return nil, fmt.Errorf("input tensors cannot be nil")
		}
		if t.Data.Rows != rows {
			return nil, fmt.Errorf("row counts disagree for concatenation: %d vs %d", rows, t.Data.Rows)
		}
		cols += t.Data.Cols
	}

	result, err := NewZerosTensor(rows, cols, resultConfig("concat_cols", tensors...))
	if err != nil {
		return nil, err
	}

	offset := 0
	for _, t := range tensors {
		for i := 0; i < rows; i++ {
			copy(result.Data.Data[i][offset:offset+t.Data.Cols], t.Data.Data[i])
		}
		offset += t.Data.Cols
	}

	err = result.wire(func() error {
		off := 0
		for _, t := range tensors {
			if t.Requires {
				for i := 0; i < rows; i++ {
					for j := 0; j < t.Data.Cols; j++ {
						t.Grad.Data[i][j] += result.Grad.Data[i][off+j]
					}
				}
			}
			off += t.Data.Cols
		}
		return nil
	}, tensors...)
	if err != nil {
		return nil, err
	}

	return result, nil
}

// EmbeddingLookup gathers the rows of the embedding table selected by ids,
// scattering gradients back into the table on the backward pass.
func EmbeddingLookup(table *Tensor, ids []int) (*Tensor, error) {
	if table == nil {
		return nil, fmt.Errorf("embedding table cannot be nil")
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("ids cannot be empty")
	}
	for _, id := range ids {
		if id < 0 || id >= table.Data.Rows {
			return nil, fmt.Errorf("embedding id %d out of range [0,%d)", id, table.Data.Rows)
		}
	}

	result, err := NewZerosTensor(len(ids), table.Data.Cols, resultConfig("embedding_lookup", table))
	if err != nil {
		return nil, err
	}

	for i, id := range ids {
		copy(result.Data.Data[i], table.Data.Data[id])
	}

	err = result.wire(func() error {
		if !table.Requires {
			return nil
		}
		for i, id := range ids {
			for j := 0; j < table.Data.Cols; j++ {
				table.Grad.Data[id][j] += result.Grad.Data[i][j]
			}
		}
		return nil
	}, table)
	if err != nil {
		return nil, err
	}

	return result, nil
}

// MaskKeys blocks attention to key positions where allowed is false by
// forcing their scores to a large negative value. allowed indexes the
// columns of the score matrix.
func MaskKeys(scores *Tensor, allowed []bool) (*Tensor, error) {
	if scores == nil {
		return nil, fmt.Errorf("score tensor cannot be nil")
	}
	if len(allowed) != scores.Data.Cols {
		return nil, fmt.Errorf("mask length %d does not match key count %d", len(allowed), scores.Data.Cols)
	}

	result, err := NewZerosTensor(scores.Data.Rows, scores.Data.Cols, resultConfig("mask_keys", scores))
	if err != nil {
		return nil, err
	}

	for i := 0; i < scores.Data.Rows; i++ {
		for j := 0; j < scores.Data.Cols; j++ {
			if allowed[j] {
				result.Data.Data[i][j] = scores.Data.Data[i][j]
			} else {
				result.Data.Data[i][j] = -1e9
			}
		}
	}

	err = result.wire(func() error {
		if !scores.Requires {
			return nil
		}
		for i := 0; i < scores.Data.Rows; i++ {
			for j := 0; j < scores.Data.Cols; j++ {
				if allowed[j] {
					scores.Grad.Data[i][j] += result.Grad.Data[i][j]
				}
			}
		}
		return nil
	}, scores)
	if err != nil {
		return nil, err
	}

	return result, nil
}

// Dropout zeroes elements with probability rate and rescales the survivors,
// so eval-mode activations need no adjustment. With training false (or a
// zero rate) the input passes through untouched.
func Dropout(a *Tensor, rate float64, training bool, rng *rand.Rand) (*Tensor, error) {
	if a == nil {
		return nil, fmt.Errorf("input tensor cannot be nil")
	}
	if rate < 0 || rate >= 1 {
		return nil, fmt.Errorf("dropout rate must be in [0,1), got %v", rate)
	}
	if !training || rate == 0 {
		return a, nil
	}

	result, err := NewZerosTensor(a.Data.Rows, a.Data.Cols, resultConfig("dropout", a))
	if err != nil {
		return nil, err
	}

	keep := make([][]bool, a.Data.Rows)
	scale := 1.0 / (1.0 - rate)
	for i := 0; i < a.Data.Rows; i++ {
		keep[i] = make([]bool, a.Data.Cols)
		for j := 0; j < a.Data.Cols; j++ {
			if rng.Float64() >= rate {
				keep[i][j] = true
				result.Data.Data[i][j] = a.Data.Data[i][j] * scale
			}
		}
	}

	err = result.wire(func() error {
		if !a.Requires {
			return nil
		}
		for i := 0; i < a.Data.Rows; i++ {
			for j := 0; j < a.Data.Cols; j++ {
				if keep[i][j] {
					a.Grad.Data[i][j] += result.Grad.Data[i][j] * scale
				}
			}
		}
		return nil
	}, a)
	if err != nil {
		return nil, err
	}

	return result, nil
}

// LayerNorm normalizes each row to zero mean and unit variance, then applies
// a learned per-column gain and bias.
func LayerNorm(a, gain, bias *Tensor, epsilon float64) (*Tensor, error) {
	if a == nil || gain == nil || bias == nil {
		return nil, fmt.Errorf("input tensors cannot be nil")
	}
	if gain.Data.Rows != 1 || gain.Data.Cols != a.Data.Cols || bias.Data.Rows != 1 || bias.Data.Cols != a.Data.Cols {
		return nil, fmt.Errorf("gain/bias must be 1x%d", a.Data.Cols)
	}

	result, err := NewZerosTensor(a.Data.Rows, a.Data.Cols, resultConfig("layer_norm", a, gain, bias))
	if err != nil {
		return nil, err
	}

	n := float64(a.Data.Cols)
	normed := make([][]float64, a.Data.Rows)
	invStd := make([]float64, a.Data.Rows)
	for i := 0; i < a.Data.Rows; i++ {
		mean := 0.0
		for j := 0; j < a.Data.Cols; j++ {
			mean += a.Data.Data[i][j]
		}
		mean /= n

		variance := 0.0
		for j := 0; j < a.Data.Cols; j++ {
			d := a.Data.Data[i][j] - mean
			variance += d * d
		}
		variance /= n

		invStd[i] = 1.0 / math.Sqrt(variance+epsilon)
		normed[i] = make([]float64, a.Data.Cols)
		for j := 0; j < a.Data.Cols; j++ {
			normed[i][j] = (a.Data.Data[i][j] - mean) * invStd[i]
			result.Data.Data[i][j] = gain.Data.Data[0][j]*normed[i][j] + bias.Data.Data[0][j]
		}
	}

	err = result.wire(func() error {
		for i := 0; i < a.Data.Rows; i++ {
			// Gradients through the normalized activations.
			var sumDx, sumDxX float64
			dxhat := make([]float64, a.Data.Cols)
			for j := 0; j < a.Data.Cols; j++ {
				g := result.Grad.Data[i][j]
				if gain.Requires {
					gain.Grad.Data[0][j] += g * normed[i][j]
				}
				if bias.Requires {
					bias.Grad.Data[0][j] += g
				}
				dxhat[j] = g * gain.Data.Data[0][j]
				sumDx += dxhat[j]
				sumDxX += dxhat[j] * normed[i][j]
			}
			if a.Requires {
				for j := 0; j < a.Data.Cols; j++ {
					a.Grad.Data[i][j] += invStd[i] * (dxhat[j] - sumDx/n - normed[i][j]*sumDxX/n)
				}
			}
		}
		return nil
	}, a, gain, bias)
	if err != nil {
		return nil, err
	}

	return result, nil
}
