package autodiff

import (
	"fmt"
	"math"
)

// MaskedCrossEntropy computes the summed categorical cross-entropy of one
// sample's logits against labels, skipping every position whose label equals
// ignore. It returns the scalar sum tensor and the number of supervised
// positions; a fully-ignored sample yields (nil, 0, nil) so callers can
// distinguish it from a genuine failure.
//
// Each position's logit vector is first normalized by dividing by its
// maximum plus epsilon. That is the operative contract of this loss, not the
// usual subtract-max stabilization; the normalizer is treated as a constant
// in the backward pass, the same convention subtract-max uses.
func MaskedCrossEntropy(logits *Tensor, labels []int, ignore int, epsilon float64) (*Tensor, int, error) {
	if logits == nil {
		return nil, 0, fmt.Errorf("logits tensor cannot be nil")
	}
	if len(labels) != logits.Data.Rows {
		return nil, 0, fmt.Errorf("label count %d does not match position count %d", len(labels), logits.Data.Rows)
	}
	if epsilon <= 0 {
		return nil, 0, fmt.Errorf("epsilon must be positive, got %v", epsilon)
	}

	vocab := logits.Data.Cols
	supervised := make([]int, 0, len(labels))
	for i, label := range labels {
		if label == ignore {
			continue
		}
		if label < 0 || label >= vocab {
			return nil, 0, fmt.Errorf("label %d at position %d out of vocabulary range [0,%d)", label, i, vocab)
		}
		supervised = append(supervised, i)
	}
	if len(supervised) == 0 {
		return nil, 0, nil
	}

	result, err := NewZerosTensor(1, 1, resultConfig("masked_cross_entropy", logits))
	if err != nil {
		return nil, 0, err
	}

	// Per-position normalizers and softmax over the normalized logits,
	// reused by the backward pass.
	denoms := make([]float64, len(supervised))
	probs := make([][]float64, len(supervised))

	total := 0.0
	for s, i := range supervised {
		max := logits.Data.Data[i][0]
		for j := 1; j < vocab; j++ {
			if logits.Data.Data[i][j] > max {
				max = logits.Data.Data[i][j]
			}
		}
		denom := max + epsilon
		if denom == 0 {
			denom = epsilon
		}
		denoms[s] = denom

		z := make([]float64, vocab)
		zMax := math.Inf(-1)
		for j := 0; j < vocab; j++ {
			z[j] = logits.Data.Data[i][j] / denom
			if z[j] > zMax {
				zMax = z[j]
			}
		}

		sum := 0.0
		p := make([]float64, vocab)
		for j := 0; j < vocab; j++ {
			p[j] = math.Exp(z[j] - zMax)
			sum += p[j]
		}
		for j := 0; j < vocab; j++ {
			p[j] /= sum
		}
		probs[s] = p

		// -log softmax(z)[target] = log(sum exp(z - zMax)) + zMax - z[target]
		total += math.Log(sum) + zMax - z[labels[i]]
	}
	result.Data.Data[0][0] = total

	err = result.wire(func() error {
		if !logits.Requires {
			return nil
		}
		upstream := result.Grad.Data[0][0]
		for s, i := range supervised {
			target := labels[i]
			for j := 0; j < vocab; j++ {
				grad := probs[s][j]
				if j == target {
					grad -= 1.0
				}
				logits.Grad.Data[i][j] += grad * upstream / denoms[s]
			}
		}
		return nil
	}, logits)
	if err != nil {
		return nil, 0, err
	}

	return result, len(supervised), nil
}
