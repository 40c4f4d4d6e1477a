package telemetry

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNopReporter(t *testing.T) {
	r := NewNop()
	r.LogEpoch(EpochRecord{Epoch: 1})
	assert.Empty(t, r.RunID())
	assert.NoError(t, r.Close())
}

func TestRunReporterWritesJSONL(t *testing.T) {
	dir := t.TempDir()
	r, err := NewRun("strucformer-test", dir, zerolog.Nop())
	require.NoError(t, err)
	require.NotEmpty(t, r.RunID())

	r.LogEpoch(EpochRecord{Epoch: 1, TrainLoss: 2.5, Accuracy: 0.4, Duration: time.Second})
	r.LogEpoch(EpochRecord{Epoch: 2, TrainLoss: 2.1, Accuracy: 0.5, Duration: time.Second})
	require.NoError(t, r.Close())

	f, err := os.Open(filepath.Join(dir, r.RunID()+".jsonl"))
	require.NoError(t, err)
	defer f.Close()

	var records []EpochRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec EpochRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		records = append(records, rec)
	}
	require.NoError(t, scanner.Err())

	require.Len(t, records, 2)
	assert.Equal(t, r.RunID(), records[0].Run)
	assert.Equal(t, "strucformer-test", records[0].Project)
	assert.Equal(t, 1, records[0].Epoch)
	assert.Equal(t, 2.5, records[0].TrainLoss)
	assert.Equal(t, 0.5, records[1].Accuracy)
}

func TestRunReporterRejectsUnwritableDir(t *testing.T) {
	_, err := NewRun("p", filepath.Join(t.TempDir(), "file-not-dir", "\x00bad"), zerolog.Nop())
	assert.Error(t, err)
}
