// Package masking implements the decoder-side masking of the self-supervised
// objective: which structural positions are hidden from the model and which
// positions carry supervision labels.
package masking

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// IgnoreLabel marks positions excluded from loss and metrics.
const IgnoreLabel = -100

// Generator draws mask plans for tokenized structural sequences. The random
// source is supplied at construction so masking is reproducible given a
// seed; one generator is not safe for concurrent use.
type Generator struct {
	maskID int
	eosID  int
	ratio  float64
	rng    *rand.Rand
}

// NewGenerator validates the masking ratio and returns a generator.
func NewGenerator(maskID, eosID int, ratio float64, rng *rand.Rand) (*Generator, error) {
	if ratio <= 0 || ratio > 1 {
		return nil, fmt.Errorf("masking ratio must be in (0,1], got %v", ratio)
	}
	if rng == nil {
		return nil, fmt.Errorf("random source cannot be nil")
	}
	return &Generator{maskID: maskID, eosID: eosID, ratio: ratio, rng: rng}, nil
}

// Mask returns a masked copy of row plus the sorted set of masked positions.
// The valid interior excludes position 0 (the begin sentinel), the end
// sentinel and everything after it. max(1, round(ratio*validLen)) distinct
// interior positions are drawn uniformly without replacement.
//
// A row without an end sentinel is malformed input; an interior of length
// zero cannot satisfy the at-least-one-mask contract. Both fail loudly.
func (g *Generator) Mask(row []int) (masked []int, positions []int, err error) {
	eosPos := -1
	for i, id := range row {
		if id == g.eosID {
			eosPos = i
			break
		}
	}
	if eosPos < 0 {
		return nil, nil, fmt.Errorf("structural sequence has no end sentinel (id %d): malformed input", g.eosID)
	}

	validLen := eosPos - 1
	if validLen <= 0 {
		return nil, nil, fmt.Errorf("structural sequence has no maskable interior (end sentinel at position %d)", eosPos)
	}

	numToMask := int(math.Round(g.ratio * float64(validLen)))
	if numToMask < 1 {
		numToMask = 1
	}

	positions = make([]int, 0, numToMask)
	for _, p := range g.rng.Perm(validLen)[:numToMask] {
		positions = append(positions, p+1)
	}
	sort.Ints(positions)

	masked = make([]int, len(row))
	copy(masked, row)
	for _, p := range positions {
		masked[p] = g.maskID
	}
	return masked, positions, nil
}

// BuildLabels returns the supervision row for one sample: the original id at
// every masked position and IgnoreLabel everywhere else, padding included.
func BuildLabels(original []int, positions []int) []int {
	labels := make([]int, len(original))
	for i := range labels {
		labels[i] = IgnoreLabel
	}
	for _, p := range positions {
		labels[p] = original[p]
	}
	return labels
}
