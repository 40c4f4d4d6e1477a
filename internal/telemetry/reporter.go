package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// EpochRecord is one finalized epoch of a training run.
type EpochRecord struct {
	Run       string        `json:"run"`
	Project   string        `json:"project,omitempty"`
	Epoch     int           `json:"epoch"`
	TrainLoss float64       `json:"train_loss"`
	AvgLoss   float64       `json:"avg_loss"`
	Accuracy  float64       `json:"accuracy"`
	Precision float64       `json:"precision"`
	Recall    float64       `json:"recall"`
	F1        float64       `json:"f1"`
	Duration  time.Duration `json:"duration_ns"`
}

// Reporter receives one record per completed epoch. Metrics are not
// persisted beyond the run; the reporter is a log sink, not a store.
type Reporter interface {
	LogEpoch(rec EpochRecord)
	RunID() string
	Close() error
}

// NewNop returns a reporter that drops everything, used when external
// telemetry is disabled.
func NewNop() Reporter { return nopReporter{} }

type nopReporter struct{}

func (nopReporter) LogEpoch(EpochRecord) {}
func (nopReporter) RunID() string        { return "" }
func (nopReporter) Close() error         { return nil }

// jsonlReporter appends epoch records to a per-run JSONL file and mirrors
// them through the logger.
type jsonlReporter struct {
	runID   string
	project string
	file    *os.File
	enc     *json.Encoder
	logger  zerolog.Logger
}

// NewRun opens a run-scoped JSONL sink under dir, tagged with project and a
// fresh run id.
func NewRun(project, dir string, logger zerolog.Logger) (Reporter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating telemetry dir %s: %w", dir, err)
	}
	runID := uuid.New().String()
	path := filepath.Join(dir, runID+".jsonl")
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating telemetry file %s: %w", path, err)
	}
	logger.Info().Str("run", runID).Str("project", project).Str("path", path).Msg("telemetry run started")
	return &jsonlReporter{
		runID:   runID,
		project: project,
		file:    f,
		enc:     json.NewEncoder(f),
		logger:  logger,
	}, nil
}

func (r *jsonlReporter) RunID() string { return r.runID }

func (r *jsonlReporter) LogEpoch(rec EpochRecord) {
	rec.Run = r.runID
	rec.Project = r.project
	if err := r.enc.Encode(rec); err != nil {
		r.logger.Error().Err(err).Int("epoch", rec.Epoch).Msg("failed to write telemetry record")
	}
	r.logger.Info().
		Int("epoch", rec.Epoch).
		Float64("train_loss", rec.TrainLoss).
		Float64("avg_loss", rec.AvgLoss).
		Float64("accuracy", rec.Accuracy).
		Float64("f1", rec.F1).
		Dur("duration", rec.Duration).
		Msg("epoch telemetry")
}

func (r *jsonlReporter) Close() error { return r.file.Close() }
