package dataset

import (
	"fmt"
	"math/rand"
)

// Sample is one (amino-acid sequence, structural sequence) pair with 1:1
// residue correspondence before tokenization.
type Sample struct {
	Name     string
	AASeq    string
	StrucSeq string
}

// SampleSet is a finite, restartable source of samples. A fresh cursor is
// required for each pass over the data.
type SampleSet struct {
	samples []Sample
}

// New wraps samples in a SampleSet without copying.
func New(samples []Sample) *SampleSet {
	return &SampleSet{samples: samples}
}

func (s *SampleSet) Len() int { return len(s.samples) }

// Samples returns the backing slice; callers must not mutate it.
func (s *SampleSet) Samples() []Sample { return s.samples }

// Split partitions the set into train and test subsets. The split is drawn
// from a shuffled copy so the original ordering is preserved.
func (s *SampleSet) Split(testFraction float64, rng *rand.Rand) (train, test *SampleSet, err error) {
	if testFraction <= 0 || testFraction >= 1 {
		return nil, nil, fmt.Errorf("test fraction must be in (0,1), got %v", testFraction)
	}
	if len(s.samples) < 2 {
		return nil, nil, fmt.Errorf("need at least 2 samples to split, have %d", len(s.samples))
	}

	shuffled := make([]Sample, len(s.samples))
	copy(shuffled, s.samples)
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	testSize := int(testFraction * float64(len(shuffled)))
	if testSize < 1 {
		testSize = 1
	}
	if testSize >= len(shuffled) {
		testSize = len(shuffled) - 1
	}

	return New(shuffled[testSize:]), New(shuffled[:testSize]), nil
}

// Shuffle reorders the set in place.
func (s *SampleSet) Shuffle(rng *rand.Rand) {
	rng.Shuffle(len(s.samples), func(i, j int) {
		s.samples[i], s.samples[j] = s.samples[j], s.samples[i]
	})
}

// Shard returns the subset owned by one worker of a replicated run:
// every stride-th sample starting at offset.
func (s *SampleSet) Shard(offset, stride int) *SampleSet {
	if stride <= 1 {
		return s
	}
	var shard []Sample
	for i := offset; i < len(s.samples); i += stride {
		shard = append(shard, s.samples[i])
	}
	return New(shard)
}

// Batches returns a fresh cursor over the set in its current order.
func (s *SampleSet) Batches(batchSize int) (*Cursor, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	return &Cursor{samples: s.samples, batchSize: batchSize}, nil
}

// Cursor walks a SampleSet once in batch-sized steps. Reset rewinds it for
// another pass.
type Cursor struct {
	samples   []Sample
	batchSize int
	next      int
}

// Next returns the next batch, or false when the pass is complete. The final
// batch may be smaller than the batch size.
func (c *Cursor) Next() ([]Sample, bool) {
	if c.next >= len(c.samples) {
		return nil, false
	}
	end := c.next + c.batchSize
	if end > len(c.samples) {
		end = len(c.samples)
	}
	batch := c.samples[c.next:end]
	c.next = end
	return batch, true
}

// Reset rewinds the cursor to the start of the set.
func (c *Cursor) Reset() { c.next = 0 }

// Count is the number of batches a full pass produces.
func (c *Cursor) Count() int {
	return (len(c.samples) + c.batchSize - 1) / c.batchSize
}
