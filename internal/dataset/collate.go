package dataset

import (
	"fmt"

	"github.com/strucformer/internal/tokenizer"
)

// Batch holds one collated batch: encoder ids/mask from the amino-acid codec
// and decoder ids/mask from the structural codec, all [batch, maxLen].
type Batch struct {
	EncoderIDs  [][]int
	EncoderMask [][]bool
	DecoderIDs  [][]int
	DecoderMask [][]bool
}

func (b *Batch) Size() int { return len(b.EncoderIDs) }

// Collate tokenizes the two sides of samples independently through their
// codecs. Row order matches input order; any shuffling is a property of the
// upstream sample sequence.
func Collate(samples []Sample, aaCodec, strucCodec tokenizer.Codec, maxLen int) (*Batch, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("collate: empty batch")
	}

	aaSeqs := make([]string, len(samples))
	strucSeqs := make([]string, len(samples))
	for i, s := range samples {
		aaSeqs[i] = s.AASeq
		strucSeqs[i] = s.StrucSeq
	}

	enc, err := aaCodec.EncodeBatch(aaSeqs, maxLen, true, true)
	if err != nil {
		return nil, fmt.Errorf("collate: encoder side: %w", err)
	}
	dec, err := strucCodec.EncodeBatch(strucSeqs, maxLen, true, true)
	if err != nil {
		return nil, fmt.Errorf("collate: decoder side: %w", err)
	}

	b := &Batch{
		EncoderIDs:  enc.IDs,
		EncoderMask: enc.AttentionMask,
		DecoderIDs:  dec.IDs,
		DecoderMask: dec.AttentionMask,
	}
	if err := b.check(maxLen); err != nil {
		return nil, fmt.Errorf("collate: %w", err)
	}
	return b, nil
}

// check enforces the tokenized-sequence invariants for every row. A
// violation fails the whole batch.
func (b *Batch) check(maxLen int) error {
	for i := range b.EncoderIDs {
		if len(b.EncoderIDs[i]) != maxLen || len(b.EncoderMask[i]) != maxLen {
			return fmt.Errorf("row %d: encoder ids/mask lengths %d/%d, want %d",
				i, len(b.EncoderIDs[i]), len(b.EncoderMask[i]), maxLen)
		}
		if len(b.DecoderIDs[i]) != maxLen || len(b.DecoderMask[i]) != maxLen {
			return fmt.Errorf("row %d: decoder ids/mask lengths %d/%d, want %d",
				i, len(b.DecoderIDs[i]), len(b.DecoderMask[i]), maxLen)
		}
	}
	return nil
}
