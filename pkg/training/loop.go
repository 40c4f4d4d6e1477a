// Package training implements the masked train/eval engine: loss restricted
// to masked positions, epoch metric aggregation, and the loop driving both.
package training

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/strucformer/internal/dataset"
	"github.com/strucformer/internal/telemetry"
	"github.com/strucformer/internal/tokenizer"
	"github.com/strucformer/pkg/autodiff"
	"github.com/strucformer/pkg/masking"
)

// Model is the seq2seq network consumed (not owned) by the loop. Forward
// maps one sample's encoder/decoder ids and padding masks to a
// [seq, vocab] logits tensor.
type Model interface {
	Forward(encIDs, decIDs []int, encMask, decMask []bool, training bool) (*autodiff.Tensor, error)
	Parameters() map[string]*autodiff.Tensor
}

// Config holds the loop's hyperparameters.
type Config struct {
	Epochs       int
	BatchSize    int
	MaxLen       int
	MaskingRatio float64
	Epsilon      float64
	ClipNorm     float64
	Seed         int64
}

func (c Config) validate() error {
	if c.Epochs <= 0 {
		return fmt.Errorf("epochs must be positive, got %d", c.Epochs)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.MaxLen <= 0 {
		return fmt.Errorf("max_len must be positive, got %d", c.MaxLen)
	}
	return nil
}

// EpochResult is the outcome of one completed epoch.
type EpochResult struct {
	Epoch        int
	TrainLoss    float64
	TrainBatches int
	Eval         EpochMetrics
	EvalBatches  int
	Duration     time.Duration
}

// Loop runs the two-phase epoch cycle: train then evaluate, for a fixed
// number of epochs. There is no early stopping; every epoch completes,
// win or lose. A batch that fails is never retried.
type Loop struct {
	model      Model
	optimizer  autodiff.Optimizer
	strategy   Strategy
	aaCodec    tokenizer.Codec
	strucCodec tokenizer.Codec
	loss       *MaskedLoss

	// Train and eval draw from independent generators so evaluation
	// re-masks each sample on its own schedule every epoch.
	trainMasker *masking.Generator
	evalMasker  *masking.Generator
	shuffleRng  *rand.Rand

	reporter telemetry.Reporter
	logger   zerolog.Logger
	cfg      Config
}

// NewLoop wires a loop from its collaborators.
func NewLoop(model Model, optimizer autodiff.Optimizer, strategy Strategy,
	aaCodec, strucCodec tokenizer.Codec, reporter telemetry.Reporter,
	logger zerolog.Logger, cfg Config) (*Loop, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("loop config: %w", err)
	}

	trainMasker, err := masking.NewGenerator(strucCodec.MaskID(), strucCodec.EosID(),
		cfg.MaskingRatio, rand.New(rand.NewSource(cfg.Seed)))
	if err != nil {
		return nil, fmt.Errorf("train masker: %w", err)
	}
	evalMasker, err := masking.NewGenerator(strucCodec.MaskID(), strucCodec.EosID(),
		cfg.MaskingRatio, rand.New(rand.NewSource(cfg.Seed+1)))
	if err != nil {
		return nil, fmt.Errorf("eval masker: %w", err)
	}
	loss, err := NewMaskedLoss(masking.IgnoreLabel, cfg.Epsilon)
	if err != nil {
		return nil, err
	}

	return &Loop{
		model:       model,
		optimizer:   optimizer,
		strategy:    strategy,
		aaCodec:     aaCodec,
		strucCodec:  strucCodec,
		loss:        loss,
		trainMasker: trainMasker,
		evalMasker:  evalMasker,
		shuffleRng:  rand.New(rand.NewSource(cfg.Seed + 2)),
		reporter:    reporter,
		logger:      logger,
		cfg:         cfg,
	}, nil
}

// Run executes the configured number of epochs over the two splits and
// returns the per-epoch results.
func (l *Loop) Run(trainSet, testSet *dataset.SampleSet) ([]EpochResult, error) {
	offset, stride := l.strategy.Shard()
	trainSet = trainSet.Shard(offset, stride)
	if trainSet.Len() == 0 {
		return nil, fmt.Errorf("training shard (offset %d, stride %d) is empty", offset, stride)
	}
	if testSet.Len() == 0 {
		return nil, fmt.Errorf("test split is empty")
	}

	l.logger.Info().
		Int("epochs", l.cfg.Epochs).
		Int("train_samples", trainSet.Len()).
		Int("test_samples", testSet.Len()).
		Msg("training started")
	start := time.Now()

	results := make([]EpochResult, 0, l.cfg.Epochs)
	for epoch := 1; epoch <= l.cfg.Epochs; epoch++ {
		epochStart := time.Now()

		trainLoss, trainBatches, err := l.trainEpoch(trainSet)
		if err != nil {
			return results, fmt.Errorf("epoch %d train phase: %w", epoch, err)
		}

		metrics, evalBatches, err := l.evalEpoch(testSet)
		if err != nil {
			return results, fmt.Errorf("epoch %d eval phase: %w", epoch, err)
		}

		result := EpochResult{
			Epoch:        epoch,
			TrainLoss:    trainLoss,
			TrainBatches: trainBatches,
			Eval:         metrics,
			EvalBatches:  evalBatches,
			Duration:     time.Since(epochStart),
		}
		results = append(results, result)

		l.logger.Info().
			Int("epoch", epoch).
			Float64("train_loss", trainLoss).
			Float64("eval_loss", metrics.AvgLoss).
			Float64("accuracy", metrics.Accuracy).
			Float64("f1", metrics.F1).
			Dur("duration", result.Duration).
			Msg("epoch complete")
		l.reporter.LogEpoch(telemetry.EpochRecord{
			Epoch:     epoch,
			TrainLoss: trainLoss,
			AvgLoss:   metrics.AvgLoss,
			Accuracy:  metrics.Accuracy,
			Precision: metrics.Precision,
			Recall:    metrics.Recall,
			F1:        metrics.F1,
			Duration:  result.Duration,
		})
	}

	l.logger.Info().Dur("duration", time.Since(start)).Msg("training ended")
	return results, nil
}

// trainEpoch makes one optimizing pass over the training split and returns
// the average batch loss.
func (l *Loop) trainEpoch(trainSet *dataset.SampleSet) (float64, int, error) {
	trainSet.Shuffle(l.shuffleRng)
	cursor, err := trainSet.Batches(l.cfg.BatchSize)
	if err != nil {
		return 0, 0, err
	}

	totalLoss := 0.0
	batches := 0
	for {
		samples, ok := cursor.Next()
		if !ok {
			break
		}
		batch, err := dataset.Collate(samples, l.aaCodec, l.strucCodec, l.cfg.MaxLen)
		if err != nil {
			return 0, batches, fmt.Errorf("batch %d: %w", batches, err)
		}
		loss, err := l.trainStep(batch)
		if err != nil {
			return 0, batches, fmt.Errorf("batch %d: %w", batches, err)
		}
		totalLoss += loss
		batches++
		l.logger.Debug().Int("batch", batches).Float64("loss", loss).Msg("train step")
	}
	if batches == 0 {
		return 0, 0, fmt.Errorf("training split produced no batches")
	}
	return totalLoss / float64(batches), batches, nil
}

// trainStep runs mask, forward, loss, backward and the optimizer update for
// one batch. By the time the optimizer steps, gradients are synchronized by
// the strategy; the batch is discarded when the step completes.
func (l *Loop) trainStep(batch *dataset.Batch) (float64, error) {
	logits := make([]*autodiff.Tensor, 0, batch.Size())
	labels := make([][]int, 0, batch.Size())
	for i := 0; i < batch.Size(); i++ {
		maskedRow, positions, err := l.trainMasker.Mask(batch.DecoderIDs[i])
		if err != nil {
			return 0, fmt.Errorf("row %d: %w", i, err)
		}
		rowLogits, err := l.model.Forward(batch.EncoderIDs[i], maskedRow, batch.EncoderMask[i], batch.DecoderMask[i], true)
		if err != nil {
			return 0, fmt.Errorf("row %d forward: %w", i, err)
		}
		logits = append(logits, rowLogits)
		labels = append(labels, masking.BuildLabels(batch.DecoderIDs[i], positions))
	}

	loss, err := l.loss.Compute(logits, labels)
	if err != nil {
		return 0, err
	}
	if err := loss.Backward(); err != nil {
		return 0, fmt.Errorf("backward: %w", err)
	}

	params := l.model.Parameters()
	if err := l.strategy.SyncGradients(params); err != nil {
		return 0, fmt.Errorf("gradient sync: %w", err)
	}
	autodiff.ClipGradients(params, l.cfg.ClipNorm)
	l.optimizer.Step(params)
	autodiff.ZeroGradients(params)

	return loss.Data.Data[0][0], nil
}

// evalEpoch makes one scoring pass over the test split: the same masking
// and forward path as training, but with dropout disabled, no gradient
// computation and no parameter update. Its masking draws are independent of
// the training phase by design.
func (l *Loop) evalEpoch(testSet *dataset.SampleSet) (EpochMetrics, int, error) {
	cursor, err := testSet.Batches(l.cfg.BatchSize)
	if err != nil {
		return EpochMetrics{}, 0, err
	}
	aggregator := NewMetricAggregator(masking.IgnoreLabel, l.logger)

	totalLoss := 0.0
	batches := 0
	for {
		samples, ok := cursor.Next()
		if !ok {
			break
		}
		batch, err := dataset.Collate(samples, l.aaCodec, l.strucCodec, l.cfg.MaxLen)
		if err != nil {
			return EpochMetrics{}, batches, fmt.Errorf("batch %d: %w", batches, err)
		}

		logits := make([]*autodiff.Tensor, 0, batch.Size())
		labels := make([][]int, 0, batch.Size())
		for i := 0; i < batch.Size(); i++ {
			maskedRow, positions, err := l.evalMasker.Mask(batch.DecoderIDs[i])
			if err != nil {
				return EpochMetrics{}, batches, fmt.Errorf("batch %d row %d: %w", batches, i, err)
			}
			rowLogits, err := l.model.Forward(batch.EncoderIDs[i], maskedRow, batch.EncoderMask[i], batch.DecoderMask[i], false)
			if err != nil {
				return EpochMetrics{}, batches, fmt.Errorf("batch %d row %d forward: %w", batches, i, err)
			}
			rowLabels := masking.BuildLabels(batch.DecoderIDs[i], positions)
			if err := aggregator.Accumulate(rowLogits.Data, rowLabels); err != nil {
				return EpochMetrics{}, batches, fmt.Errorf("batch %d row %d metrics: %w", batches, i, err)
			}
			logits = append(logits, rowLogits)
			labels = append(labels, rowLabels)
		}

		loss, err := l.loss.Compute(logits, labels)
		if err != nil {
			return EpochMetrics{}, batches, fmt.Errorf("batch %d: %w", batches, err)
		}
		totalLoss += loss.Data.Data[0][0]
		batches++
	}
	if batches == 0 {
		return EpochMetrics{}, 0, fmt.Errorf("test split produced no batches")
	}

	return aggregator.Finalize(totalLoss / float64(batches)), batches, nil
}
