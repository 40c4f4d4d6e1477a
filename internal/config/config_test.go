package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validConfig = `{
	"data_path": "/data/pdb",
	"foldseek_path": "/usr/local/bin/foldseek",
	"test_split": 0.2,
	"batch_size": 4,
	"max_len": 128,
	"epochs": 3,
	"learning_rate": 0.0001,
	"masking_ratio": 0.15,
	"dim_model": 64,
	"num_heads": 4,
	"num_layers": 2,
	"ff_hidden_layer": 128
}`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	assert.Equal(t, "/data/pdb", cfg.DataPath)
	assert.Equal(t, 4, cfg.BatchSize)
	assert.Equal(t, 128, cfg.MaxLen)
	assert.Equal(t, 0.15, cfg.MaskingRatio)

	// Defaults fill the optional fields.
	assert.Equal(t, 1e-8, cfg.Epsilon)
	assert.Equal(t, 1.0, cfg.ClipNorm)
	assert.Equal(t, 0.1, cfg.Dropout)
	assert.Equal(t, int64(42), cfg.Seed)
	assert.False(t, cfg.GetWandb)
}

func TestLoadMissingRequiredField(t *testing.T) {
	body := `{"data_path": "/data/pdb", "foldseek_path": "/usr/bin/foldseek"}`
	_, err := Load(writeConfig(t, body))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required field")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}

func TestLoadMalformedJSON(t *testing.T) {
	_, err := Load(writeConfig(t, `{"data_path": `))
	assert.Error(t, err)
}

func TestValidateRanges(t *testing.T) {
	base := func() *Config {
		return &Config{
			DataPath:      "/data",
			FoldseekPath:  "/bin/foldseek",
			TestSplit:     0.2,
			BatchSize:     4,
			MaxLen:        64,
			Epochs:        1,
			LearningRate:  1e-4,
			MaskingRatio:  0.15,
			Epsilon:       1e-8,
			ClipNorm:      1.0,
			DimModel:      64,
			NumHeads:      4,
			NumLayers:     2,
			FFHiddenLayer: 128,
			Dropout:       0.1,
			Seed:          42,
		}
	}
	require.NoError(t, base().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero test split", func(c *Config) { c.TestSplit = 0 }},
		{"test split of one", func(c *Config) { c.TestSplit = 1 }},
		{"negative batch size", func(c *Config) { c.BatchSize = -1 }},
		{"zero epochs", func(c *Config) { c.Epochs = 0 }},
		{"zero learning rate", func(c *Config) { c.LearningRate = 0 }},
		{"masking ratio above one", func(c *Config) { c.MaskingRatio = 1.5 }},
		{"zero epsilon", func(c *Config) { c.Epsilon = 0 }},
		{"negative clip norm", func(c *Config) { c.ClipNorm = -1 }},
		{"heads not dividing dim", func(c *Config) { c.NumHeads = 3 }},
		{"dropout of one", func(c *Config) { c.Dropout = 1 }},
		{"wandb without project", func(c *Config) { c.GetWandb = true; c.WandbProject = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
