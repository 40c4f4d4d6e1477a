package training

import (
	"errors"
	"fmt"

	"github.com/strucformer/pkg/autodiff"
)

// ErrAllIgnored reports a degenerate batch in which no position carries a
// supervision label; averaging over it would be undefined.
var ErrAllIgnored = errors.New("all labels in batch are ignored: no supervised positions")

// MaskedLoss computes batch losses restricted to labeled positions.
type MaskedLoss struct {
	ignore  int
	epsilon float64
}

// NewMaskedLoss returns a loss computer using the given ignore label and the
// epsilon of the logit normalization.
func NewMaskedLoss(ignore int, epsilon float64) (*MaskedLoss, error) {
	if epsilon <= 0 {
		return nil, fmt.Errorf("epsilon must be positive, got %v", epsilon)
	}
	return &MaskedLoss{ignore: ignore, epsilon: epsilon}, nil
}

// Compute returns the mean cross-entropy over every supervised position of
// the batch: per-row sums are accumulated and divided by the total
// supervised count, so rows contribute proportionally to how many positions
// they supervise. logits[i] holds row i's [seq, vocab] tensor; labels[i] its
// supervision row.
func (l *MaskedLoss) Compute(logits []*autodiff.Tensor, labels [][]int) (*autodiff.Tensor, error) {
	if len(logits) == 0 || len(logits) != len(labels) {
		return nil, fmt.Errorf("logits/labels row counts disagree: %d vs %d", len(logits), len(labels))
	}

	var total *autodiff.Tensor
	count := 0
	for i := range logits {
		rowLoss, n, err := autodiff.MaskedCrossEntropy(logits[i], labels[i], l.ignore, l.epsilon)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		if n == 0 {
			continue
		}
		count += n
		if total == nil {
			total = rowLoss
			continue
		}
		if total, err = autodiff.Add(total, rowLoss); err != nil {
			return nil, fmt.Errorf("accumulating row %d: %w", i, err)
		}
	}
	if count == 0 {
		return nil, ErrAllIgnored
	}
	return autodiff.ScalarMultiply(total, 1.0/float64(count))
}
