package training

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/strucformer/pkg/autodiff"
)

// EpochMetrics summarizes one evaluation pass. All scores are computed only
// over supervised (non-ignored) positions. Metrics live for the epoch that
// produced them; persistence is out of scope.
type EpochMetrics struct {
	AvgLoss    float64
	Accuracy   float64
	Precision  float64
	Recall     float64
	F1         float64
	Supervised int
}

// MetricAggregator accumulates predictions over an epoch. Created empty at
// epoch start, fed once per row, finalized once; updated serially by the
// loop that owns it.
type MetricAggregator struct {
	ignore  int
	correct int
	total   int
	preds   []int
	labels  []int
	logger  zerolog.Logger
}

// NewMetricAggregator returns an empty aggregator for one epoch.
func NewMetricAggregator(ignore int, logger zerolog.Logger) *MetricAggregator {
	return &MetricAggregator{ignore: ignore, logger: logger}
}

// Accumulate takes the arg-max prediction at every supervised position of
// one row and folds it into the running counts.
func (a *MetricAggregator) Accumulate(logits *autodiff.Matrix, labels []int) error {
	if logits == nil {
		return fmt.Errorf("logits matrix cannot be nil")
	}
	if len(labels) != logits.Rows {
		return fmt.Errorf("label count %d does not match position count %d", len(labels), logits.Rows)
	}
	for i, label := range labels {
		if label == a.ignore {
			continue
		}
		pred, err := logits.RowArgmax(i)
		if err != nil {
			return err
		}
		if pred == label {
			a.correct++
		}
		a.total++
		a.preds = append(a.preds, pred)
		a.labels = append(a.labels, label)
	}
	return nil
}

// Finalize computes the epoch scores. An epoch with no supervised positions
// finalizes to all-zero scores; that sentinel is logged so it remains
// distinguishable from a genuinely zero result.
func (a *MetricAggregator) Finalize(avgLoss float64) EpochMetrics {
	m := EpochMetrics{AvgLoss: avgLoss, Supervised: a.total}
	if a.total == 0 {
		a.logger.Warn().Msg("metric aggregator finalized with zero supervised positions; reporting zero scores")
		return m
	}
	m.Accuracy = float64(a.correct) / float64(a.total)
	m.Precision, m.Recall, m.F1 = a.weightedScores()
	return m
}

// weightedScores computes precision, recall and F1 as per-class scores
// weighted by class support. A class with a zero denominator contributes 0
// rather than an error.
func (a *MetricAggregator) weightedScores() (precision, recall, f1 float64) {
	tp := make(map[int]float64)
	fp := make(map[int]float64)
	fn := make(map[int]float64)
	support := make(map[int]float64)

	for i, label := range a.labels {
		pred := a.preds[i]
		support[label]++
		if pred == label {
			tp[label]++
		} else {
			fp[pred]++
			fn[label]++
		}
	}

	classes := make([]int, 0, len(support))
	for c := range support {
		classes = append(classes, c)
	}
	sort.Ints(classes)

	precisions := make([]float64, len(classes))
	recalls := make([]float64, len(classes))
	f1s := make([]float64, len(classes))
	weights := make([]float64, len(classes))
	for i, c := range classes {
		weights[i] = support[c]
		if denom := tp[c] + fp[c]; denom > 0 {
			precisions[i] = tp[c] / denom
		}
		if denom := tp[c] + fn[c]; denom > 0 {
			recalls[i] = tp[c] / denom
		}
		if precisions[i]+recalls[i] > 0 {
			f1s[i] = 2 * precisions[i] * recalls[i] / (precisions[i] + recalls[i])
		}
	}

	if floats.Sum(weights) == 0 {
		return 0, 0, 0
	}
	return stat.Mean(precisions, weights), stat.Mean(recalls, weights), stat.Mean(f1s, weights)
}
