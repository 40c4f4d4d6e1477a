// Package model implements the encoder-decoder network that maps amino-acid
// token sequences to per-position distributions over the structural
// vocabulary. The training core drives it purely through its forward call
// and parameter map; nothing here is specific to the masking objective.
package model

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/strucformer/pkg/autodiff"
)

// Config holds the architecture hyperparameters.
type Config struct {
	EncoderVocab int
	DecoderVocab int
	DimModel     int
	NumHeads     int
	NumLayers    int
	FFHidden     int
	Dropout      float64
	MaxLen       int
}

func (c Config) validate() error {
	if c.EncoderVocab <= 0 || c.DecoderVocab <= 0 {
		return fmt.Errorf("vocabulary sizes must be positive: encoder=%d decoder=%d", c.EncoderVocab, c.DecoderVocab)
	}
	if c.DimModel <= 0 || c.NumHeads <= 0 || c.NumLayers <= 0 || c.FFHidden <= 0 || c.MaxLen <= 0 {
		return fmt.Errorf("dimensions must be positive: dim=%d heads=%d layers=%d ff=%d max_len=%d",
			c.DimModel, c.NumHeads, c.NumLayers, c.FFHidden, c.MaxLen)
	}
	if c.DimModel%c.NumHeads != 0 {
		return fmt.Errorf("dim_model %d not divisible by num_heads %d", c.DimModel, c.NumHeads)
	}
	if c.Dropout < 0 || c.Dropout >= 1 {
		return fmt.Errorf("dropout must be in [0,1), got %v", c.Dropout)
	}
	return nil
}

type encoderLayer struct {
	selfAttn *multiHeadAttention
	ffn      *feedForward
	norm1    *layerNorm
	norm2    *layerNorm
}

type decoderLayer struct {
	selfAttn  *multiHeadAttention
	crossAttn *multiHeadAttention
	ffn       *feedForward
	norm1     *layerNorm
	norm2     *layerNorm
	norm3     *layerNorm
}

// Transformer is a bidirectional encoder-decoder. The decoder attends over
// all non-pad decoder positions (no causal mask): the masked-token objective
// supervises in-place reconstruction, not left-to-right generation.
type Transformer struct {
	cfg Config

	encEmbedding *autodiff.Tensor
	decEmbedding *autodiff.Tensor
	positions    *autodiff.Matrix

	encLayers []*encoderLayer
	decLayers []*decoderLayer

	outWeight *autodiff.Tensor
	outBias   *autodiff.Tensor

	params map[string]*autodiff.Tensor
	rng    *rand.Rand
}

// New builds a transformer with freshly initialized parameters drawn from
// rng, which is also used for dropout during training.
func New(cfg Config, rng *rand.Rand) (*Transformer, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("model config: %w", err)
	}

	t := &Transformer{
		cfg:    cfg,
		params: make(map[string]*autodiff.Tensor),
		rng:    rng,
	}

	scale := 1.0 / math.Sqrt(float64(cfg.DimModel))
	var err error
	t.encEmbedding, err = paramTensor(cfg.EncoderVocab, cfg.DimModel, scale, rng, "encoder_embedding")
	if err != nil {
		return nil, err
	}
	t.decEmbedding, err = paramTensor(cfg.DecoderVocab, cfg.DimModel, scale, rng, "decoder_embedding")
	if err != nil {
		return nil, err
	}
	t.params["encoder_embedding"] = t.encEmbedding
	t.params["decoder_embedding"] = t.decEmbedding

	t.positions, err = sinusoidalPositions(cfg.MaxLen, cfg.DimModel)
	if err != nil {
		return nil, err
	}

	for i := 0; i < cfg.NumLayers; i++ {
		enc := &encoderLayer{}
		prefix := fmt.Sprintf("encoder_%d", i)
		if enc.selfAttn, err = newMultiHeadAttention(cfg.DimModel, cfg.NumHeads, cfg.Dropout, rng, t.params, prefix+"_attn"); err != nil {
			return nil, err
		}
		if enc.ffn, err = newFeedForward(cfg.DimModel, cfg.FFHidden, cfg.Dropout, rng, t.params, prefix+"_ffn"); err != nil {
			return nil, err
		}
		if enc.norm1, err = newLayerNorm(cfg.DimModel, t.params, prefix+"_norm1"); err != nil {
			return nil, err
		}
		if enc.norm2, err = newLayerNorm(cfg.DimModel, t.params, prefix+"_norm2"); err != nil {
			return nil, err
		}
		t.encLayers = append(t.encLayers, enc)

		dec := &decoderLayer{}
		prefix = fmt.Sprintf("decoder_%d", i)
		if dec.selfAttn, err = newMultiHeadAttention(cfg.DimModel, cfg.NumHeads, cfg.Dropout, rng, t.params, prefix+"_self"); err != nil {
			return nil, err
		}
		if dec.crossAttn, err = newMultiHeadAttention(cfg.DimModel, cfg.NumHeads, cfg.Dropout, rng, t.params, prefix+"_cross"); err != nil {
			return nil, err
		}
		if dec.ffn, err = newFeedForward(cfg.DimModel, cfg.FFHidden, cfg.Dropout, rng, t.params, prefix+"_ffn"); err != nil {
			return nil, err
		}
		if dec.norm1, err = newLayerNorm(cfg.DimModel, t.params, prefix+"_norm1"); err != nil {
			return nil, err
		}
		if dec.norm2, err = newLayerNorm(cfg.DimModel, t.params, prefix+"_norm2"); err != nil {
			return nil, err
		}
		if dec.norm3, err = newLayerNorm(cfg.DimModel, t.params, prefix+"_norm3"); err != nil {
			return nil, err
		}
		t.decLayers = append(t.decLayers, dec)
	}

	t.outWeight, err = paramTensor(cfg.DimModel, cfg.DecoderVocab, scale, rng, "output_weight")
	if err != nil {
		return nil, err
	}
	t.outBias, err = autodiff.NewZerosTensor(1, cfg.DecoderVocab, &autodiff.TensorConfig{RequiresGrad: true, Name: "output_bias"})
	if err != nil {
		return nil, err
	}
	t.params["output_weight"] = t.outWeight
	t.params["output_bias"] = t.outBias

	return t, nil
}

// Parameters returns the named learnable tensors. The map is shared, not
// copied; optimizers mutate the tensors through it.
func (t *Transformer) Parameters() map[string]*autodiff.Tensor { return t.params }

// embed gathers token embeddings and adds the fixed positional encodings.
func (t *Transformer) embed(table *autodiff.Tensor, ids []int, training bool) (*autodiff.Tensor, error) {
	x, err := autodiff.EmbeddingLookup(table, ids)
	if err != nil {
		return nil, err
	}

	pos := &autodiff.Matrix{Rows: len(ids), Cols: t.cfg.DimModel, Data: t.positions.Data[:len(ids)]}
	posTensor, err := autodiff.NewTensor(pos, &autodiff.TensorConfig{Name: "positions"})
	if err != nil {
		return nil, err
	}
	x, err = autodiff.Add(x, posTensor)
	if err != nil {
		return nil, err
	}
	return autodiff.Dropout(x, t.cfg.Dropout, training, t.rng)
}

// Forward runs one sample through the network and returns per-position
// logits over the structural vocabulary, shaped [len(decIDs), DecoderVocab].
// The attention masks mark non-pad positions.
func (t *Transformer) Forward(encIDs, decIDs []int, encMask, decMask []bool, training bool) (*autodiff.Tensor, error) {
	if len(encIDs) == 0 || len(decIDs) == 0 {
		return nil, fmt.Errorf("empty input sequence")
	}
	if len(encIDs) > t.cfg.MaxLen || len(decIDs) > t.cfg.MaxLen {
		return nil, fmt.Errorf("sequence length exceeds max_len %d", t.cfg.MaxLen)
	}
	if len(encMask) != len(encIDs) || len(decMask) != len(decIDs) {
		return nil, fmt.Errorf("attention mask length does not match sequence length")
	}

	enc, err := t.embed(t.encEmbedding, encIDs, training)
	if err != nil {
		return nil, fmt.Errorf("encoder embedding: %w", err)
	}
	for i, layer := range t.encLayers {
		attnOut, err := layer.selfAttn.forward(enc, enc, encMask, training, t.rng)
		if err != nil {
			return nil, fmt.Errorf("encoder layer %d self-attention: %w", i, err)
		}
		if enc, err = layer.norm1.apply(enc, attnOut); err != nil {
			return nil, err
		}
		ffnOut, err := layer.ffn.forward(enc, training, t.rng)
		if err != nil {
			return nil, fmt.Errorf("encoder layer %d feed-forward: %w", i, err)
		}
		if enc, err = layer.norm2.apply(enc, ffnOut); err != nil {
			return nil, err
		}
	}

	dec, err := t.embed(t.decEmbedding, decIDs, training)
	if err != nil {
		return nil, fmt.Errorf("decoder embedding: %w", err)
	}
	for i, layer := range t.decLayers {
		attnOut, err := layer.selfAttn.forward(dec, dec, decMask, training, t.rng)
		if err != nil {
			return nil, fmt.Errorf("decoder layer %d self-attention: %w", i, err)
		}
		if dec, err = layer.norm1.apply(dec, attnOut); err != nil {
			return nil, err
		}
		crossOut, err := layer.crossAttn.forward(dec, enc, encMask, training, t.rng)
		if err != nil {
			return nil, fmt.Errorf("decoder layer %d cross-attention: %w", i, err)
		}
		if dec, err = layer.norm2.apply(dec, crossOut); err != nil {
			return nil, err
		}
		ffnOut, err := layer.ffn.forward(dec, training, t.rng)
		if err != nil {
			return nil, fmt.Errorf("decoder layer %d feed-forward: %w", i, err)
		}
		if dec, err = layer.norm3.apply(dec, ffnOut); err != nil {
			return nil, err
		}
	}

	logits, err := autodiff.MatMul(dec, t.outWeight)
	if err != nil {
		return nil, fmt.Errorf("output projection: %w", err)
	}
	return autodiff.AddRowVector(logits, t.outBias)
}
