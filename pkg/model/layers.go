package model

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/strucformer/pkg/autodiff"
)

const layerNormEpsilon = 1e-5

func paramTensor(rows, cols int, scale float64, rng *rand.Rand, name string) (*autodiff.Tensor, error) {
	return autodiff.NewRandomTensor(rows, cols, scale, rng, &autodiff.TensorConfig{RequiresGrad: true, Name: name})
}

// multiHeadAttention projects queries/keys/values per head, applies scaled
// dot-product attention restricted by the key padding mask, and merges the
// heads through an output projection.
type multiHeadAttention struct {
	wq, wk, wv []*autodiff.Tensor
	wo         *autodiff.Tensor
	headDim    int
	dropout    float64
}

func newMultiHeadAttention(dim, numHeads int, dropout float64, rng *rand.Rand, params map[string]*autodiff.Tensor, prefix string) (*multiHeadAttention, error) {
	if dim%numHeads != 0 {
		return nil, fmt.Errorf("model dimension %d not divisible by %d heads", dim, numHeads)
	}
	headDim := dim / numHeads
	scale := 1.0 / math.Sqrt(float64(dim))

	a := &multiHeadAttention{headDim: headDim, dropout: dropout}
	for h := 0; h < numHeads; h++ {
		wq, err := paramTensor(dim, headDim, scale, rng, fmt.Sprintf("%s_q%d", prefix, h))
		if err != nil {
			return nil, err
		}
		wk, err := paramTensor(dim, headDim, scale, rng, fmt.Sprintf("%s_k%d", prefix, h))
		if err != nil {
			return nil, err
		}
		wv, err := paramTensor(dim, headDim, scale, rng, fmt.Sprintf("%s_v%d", prefix, h))
		if err != nil {
			return nil, err
		}
		a.wq = append(a.wq, wq)
		a.wk = append(a.wk, wk)
		a.wv = append(a.wv, wv)
		params[wq.Name] = wq
		params[wk.Name] = wk
		params[wv.Name] = wv
	}

	wo, err := paramTensor(dim, dim, scale, rng, prefix+"_out")
	if err != nil {
		return nil, err
	}
	a.wo = wo
	params[wo.Name] = wo
	return a, nil
}

// forward attends query positions over context positions. keyMask marks
// which context positions may be attended to.
func (a *multiHeadAttention) forward(query, context *autodiff.Tensor, keyMask []bool, training bool, rng *rand.Rand) (*autodiff.Tensor, error) {
	heads := make([]*autodiff.Tensor, len(a.wq))
	invSqrt := 1.0 / math.Sqrt(float64(a.headDim))

	for h := range a.wq {
		q, err := autodiff.MatMul(query, a.wq[h])
		if err != nil {
			return nil, fmt.Errorf("query projection head %d: %w", h, err)
		}
		k, err := autodiff.MatMul(context, a.wk[h])
		if err != nil {
			return nil, fmt.Errorf("key projection head %d: %w", h, err)
		}
		v, err := autodiff.MatMul(context, a.wv[h])
		if err != nil {
			return nil, fmt.Errorf("value projection head %d: %w", h, err)
		}

		kt, err := autodiff.Transpose(k)
		if err != nil {
			return nil, err
		}
		scores, err := autodiff.MatMul(q, kt)
		if err != nil {
			return nil, fmt.Errorf("attention scores head %d: %w", h, err)
		}
		scores, err = autodiff.ScalarMultiply(scores, invSqrt)
		if err != nil {
			return nil, err
		}
		scores, err = autodiff.MaskKeys(scores, keyMask)
		if err != nil {
			return nil, fmt.Errorf("masking head %d: %w", h, err)
		}

		attn, err := autodiff.Softmax(scores)
		if err != nil {
			return nil, err
		}
		attn, err = autodiff.Dropout(attn, a.dropout, training, rng)
		if err != nil {
			return nil, err
		}

		heads[h], err = autodiff.MatMul(attn, v)
		if err != nil {
			return nil, fmt.Errorf("attention output head %d: %w", h, err)
		}
	}

	merged, err := autodiff.ConcatCols(heads...)
	if err != nil {
		return nil, err
	}
	return autodiff.MatMul(merged, a.wo)
}

// feedForward is the position-wise two-layer GELU network.
type feedForward struct {
	w1, b1, w2, b2 *autodiff.Tensor
	dropout        float64
}

func newFeedForward(dim, hidden int, dropout float64, rng *rand.Rand, params map[string]*autodiff.Tensor, prefix string) (*feedForward, error) {
	scale := 1.0 / math.Sqrt(float64(dim))
	w1, err := paramTensor(dim, hidden, scale, rng, prefix+"_w1")
	if err != nil {
		return nil, err
	}
	b1, err := autodiff.NewZerosTensor(1, hidden, &autodiff.TensorConfig{RequiresGrad: true, Name: prefix + "_b1"})
	if err != nil {
		return nil, err
	}
	w2, err := paramTensor(hidden, dim, 1.0/math.Sqrt(float64(hidden)), rng, prefix+"_w2")
	if err != nil {
		return nil, err
	}
	b2, err := autodiff.NewZerosTensor(1, dim, &autodiff.TensorConfig{RequiresGrad: true, Name: prefix + "_b2"})
	if err != nil {
		return nil, err
	}
	for _, p := range []*autodiff.Tensor{w1, b1, w2, b2} {
		params[p.Name] = p
	}
	return &feedForward{w1: w1, b1: b1, w2: w2, b2: b2, dropout: dropout}, nil
}

func (f *feedForward) forward(x *autodiff.Tensor, training bool, rng *rand.Rand) (*autodiff.Tensor, error) {
	h, err := autodiff.MatMul(x, f.w1)
	if err != nil {
		return nil, err
	}
	h, err = autodiff.AddRowVector(h, f.b1)
	if err != nil {
		return nil, err
	}
	h, err = autodiff.GELU(h)
	if err != nil {
		return nil, err
	}
	h, err = autodiff.Dropout(h, f.dropout, training, rng)
	if err != nil {
		return nil, err
	}
	h, err = autodiff.MatMul(h, f.w2)
	if err != nil {
		return nil, err
	}
	return autodiff.AddRowVector(h, f.b2)
}

// layerNorm holds the learned gain and bias of one normalization site.
type layerNorm struct {
	gain, bias *autodiff.Tensor
}

func newLayerNorm(dim int, params map[string]*autodiff.Tensor, prefix string) (*layerNorm, error) {
	gain, err := autodiff.NewZerosTensor(1, dim, &autodiff.TensorConfig{RequiresGrad: true, Name: prefix + "_gain"})
	if err != nil {
		return nil, err
	}
	for j := 0; j < dim; j++ {
		gain.Data.Data[0][j] = 1.0
	}
	bias, err := autodiff.NewZerosTensor(1, dim, &autodiff.TensorConfig{RequiresGrad: true, Name: prefix + "_bias"})
	if err != nil {
		return nil, err
	}
	params[gain.Name] = gain
	params[bias.Name] = bias
	return &layerNorm{gain: gain, bias: bias}, nil
}

// apply adds the sublayer output to its input and normalizes the sum.
func (l *layerNorm) apply(x, sublayer *autodiff.Tensor) (*autodiff.Tensor, error) {
	sum, err := autodiff.Add(x, sublayer)
	if err != nil {
		return nil, err
	}
	return autodiff.LayerNorm(sum, l.gain, l.bias, layerNormEpsilon)
}

// sinusoidalPositions builds the fixed positional-encoding table.
func sinusoidalPositions(maxLen, dim int) (*autodiff.Matrix, error) {
	pe, err := autodiff.NewMatrix(maxLen, dim)
	if err != nil {
		return nil, err
	}
	for pos := 0; pos < maxLen; pos++ {
		for i := 0; i < dim; i++ {
			angle := float64(pos) / math.Pow(10000, float64(2*(i/2))/float64(dim))
			if i%2 == 0 {
				pe.Data[pos][i] = math.Sin(angle)
			} else {
				pe.Data[pos][i] = math.Cos(angle)
			}
		}
	}
	return pe, nil
}
