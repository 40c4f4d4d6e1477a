package tokenizer

import (
	"fmt"
	"strings"
)

// Special token ids, shared by both codecs. Position 0 of every encoded
// sequence is the begin sentinel and the sequence is always terminated by
// the end sentinel, even under truncation.
const (
	PadID = iota
	BosID
	EosID
	MaskID
	UnkID
)

const (
	padToken  = "<pad>"
	bosToken  = "<bos>"
	eosToken  = "<eos>"
	maskToken = "<mask>"
	unkToken  = "<unk>"
)

// The 20 canonical amino-acid one-letter codes.
const residueAlphabet = "ACDEFGHIKLMNPQRSTVWY"

// The 20 FoldSeek 3Di states describing local backbone geometry. The state
// alphabet reuses the residue letters but lives in a distinct vocabulary.
const structuralAlphabet = "ACDEFGHIKLMNPQRSTVWY"

// Encoded is a batch of tokenized sequences. Every row has exactly maxLen
// ids; AttentionMask[i][j] is false iff IDs[i][j] is the pad token.
type Encoded struct {
	IDs           [][]int
	AttentionMask [][]bool
}

// Codec converts raw sequences to fixed-length id/mask batches and back.
type Codec interface {
	EncodeBatch(seqs []string, maxLen int, padding, truncation bool) (*Encoded, error)
	Decode(ids []int, skipSpecial bool) (string, error)
	VocabSize() int
	PadID() int
	BosID() int
	EosID() int
	MaskID() int
}

// AlphabetCodec is a character-level codec over a fixed symbol alphabet
// preceded by the shared special tokens.
type AlphabetCodec struct {
	name      string
	idToToken []string
	tokenToID map[rune]int
}

func newAlphabetCodec(name, alphabet string) *AlphabetCodec {
	c := &AlphabetCodec{
		name:      name,
		idToToken: []string{padToken, bosToken, eosToken, maskToken, unkToken},
		tokenToID: make(map[rune]int, len(alphabet)),
	}
	for _, r := range alphabet {
		c.tokenToID[r] = len(c.idToToken)
		c.idToToken = append(c.idToToken, string(r))
	}
	return c
}

// NewResidueCodec returns the codec for amino-acid sequences.
func NewResidueCodec() *AlphabetCodec {
	return newAlphabetCodec("residue", residueAlphabet)
}

// NewStructuralCodec returns the codec for 3Di structural sequences.
func NewStructuralCodec() *AlphabetCodec {
	return newAlphabetCodec("structural", structuralAlphabet)
}

func (c *AlphabetCodec) VocabSize() int { return len(c.idToToken) }
func (c *AlphabetCodec) PadID() int     { return PadID }
func (c *AlphabetCodec) BosID() int     { return BosID }
func (c *AlphabetCodec) EosID() int     { return EosID }
func (c *AlphabetCodec) MaskID() int    { return MaskID }

// encode tokenizes one sequence as bos + symbols + eos and pads or truncates
// it to maxLen. Truncation keeps the end sentinel as the final token.
func (c *AlphabetCodec) encode(seq string, maxLen int, padding, truncation bool) ([]int, []bool, error) {
	if maxLen < 3 {
		return nil, nil, fmt.Errorf("%s codec: max_len must be at least 3 to hold sentinels and one symbol, got %d", c.name, maxLen)
	}

	ids := make([]int, 0, maxLen)
	ids = append(ids, BosID)
	for _, r := range strings.ToUpper(seq) {
		id, ok := c.tokenToID[r]
		if !ok {
			id = UnkID
		}
		ids = append(ids, id)
	}
	ids = append(ids, EosID)

	if len(ids) > maxLen {
		if !truncation {
			return nil, nil, fmt.Errorf("%s codec: sequence of %d tokens exceeds max_len %d and truncation is disabled", c.name, len(ids), maxLen)
		}
		ids = ids[:maxLen]
		ids[maxLen-1] = EosID
	}

	mask := make([]bool, len(ids))
	for i := range mask {
		mask[i] = true
	}

	if len(ids) < maxLen {
		if !padding {
			return nil, nil, fmt.Errorf("%s codec: sequence of %d tokens is shorter than max_len %d and padding is disabled", c.name, len(ids), maxLen)
		}
		for len(ids) < maxLen {
			ids = append(ids, PadID)
			mask = append(mask, false)
		}
	}

	return ids, mask, nil
}

// EncodeBatch tokenizes seqs independently; row order matches input order.
func (c *AlphabetCodec) EncodeBatch(seqs []string, maxLen int, padding, truncation bool) (*Encoded, error) {
	if len(seqs) == 0 {
		return nil, fmt.Errorf("%s codec: empty batch", c.name)
	}
	out := &Encoded{
		IDs:           make([][]int, len(seqs)),
		AttentionMask: make([][]bool, len(seqs)),
	}
	for i, seq := range seqs {
		ids, mask, err := c.encode(seq, maxLen, padding, truncation)
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
		out.IDs[i] = ids
		out.AttentionMask[i] = mask
	}
	return out, nil
}

// Decode maps ids back to their symbols. With skipSpecial the pad and the
// begin/end sentinels are dropped, reproducing the original (possibly
// truncated) sequence.
func (c *AlphabetCodec) Decode(ids []int, skipSpecial bool) (string, error) {
	var b strings.Builder
	for _, id := range ids {
		if id < 0 || id >= len(c.idToToken) {
			return "", fmt.Errorf("%s codec: id %d out of vocabulary range [0,%d)", c.name, id, len(c.idToToken))
		}
		if skipSpecial && (id == PadID || id == BosID || id == EosID) {
			continue
		}
		b.WriteString(c.idToToken[id])
	}
	return b.String(), nil
}
