package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config holds the flat configuration document driving a training run.
// The values are read by viper from a JSON config file.
type Config struct {
	DataPath     string  `mapstructure:"data_path"`
	FoldseekPath string  `mapstructure:"foldseek_path"`
	TestSplit    float64 `mapstructure:"test_split"`
	BatchSize    int     `mapstructure:"batch_size"`
	MaxLen       int     `mapstructure:"max_len"`
	Epochs       int     `mapstructure:"epochs"`
	LearningRate float64 `mapstructure:"learning_rate"`
	MaskingRatio float64 `mapstructure:"masking_ratio"`
	Epsilon      float64 `mapstructure:"epsilon"`
	ClipNorm     float64 `mapstructure:"clip_norm"`

	// Model hyperparameters, opaque to the training core.
	DimModel      int     `mapstructure:"dim_model"`
	NumHeads      int     `mapstructure:"num_heads"`
	NumLayers     int     `mapstructure:"num_layers"`
	FFHiddenLayer int     `mapstructure:"ff_hidden_layer"`
	Dropout       float64 `mapstructure:"dropout"`

	Verbose      bool   `mapstructure:"verbose"`
	GetWandb     bool   `mapstructure:"get_wandb"`
	WandbProject string `mapstructure:"wandb_project"`
	Seed         int64  `mapstructure:"seed"`
}

// requiredKeys must be present in the document; absence is a startup failure.
var requiredKeys = []string{
	"data_path",
	"foldseek_path",
	"test_split",
	"batch_size",
	"max_len",
	"epochs",
	"learning_rate",
	"masking_ratio",
	"dim_model",
	"num_heads",
	"num_layers",
	"ff_hidden_layer",
}

// Load reads and validates the configuration document at path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	v.SetDefault("epsilon", 1e-8)
	v.SetDefault("clip_norm", 1.0)
	v.SetDefault("dropout", 0.1)
	v.SetDefault("seed", 42)
	v.SetDefault("verbose", false)
	v.SetDefault("get_wandb", false)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	for _, key := range requiredKeys {
		if !v.IsSet(key) {
			return nil, fmt.Errorf("config %s: required field %q is missing", path, key)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks value ranges. It does not touch the filesystem; existence
// of data_path and foldseek_path is checked where they are used.
func (c *Config) Validate() error {
	if c.DataPath == "" {
		return fmt.Errorf("data_path must not be empty")
	}
	if c.FoldseekPath == "" {
		return fmt.Errorf("foldseek_path must not be empty")
	}
	if c.TestSplit <= 0 || c.TestSplit >= 1 {
		return fmt.Errorf("test_split must be in (0,1), got %v", c.TestSplit)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", c.BatchSize)
	}
	if c.MaxLen <= 0 {
		return fmt.Errorf("max_len must be positive, got %d", c.MaxLen)
	}
	if c.Epochs <= 0 {
		return fmt.Errorf("epochs must be positive, got %d", c.Epochs)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("learning_rate must be positive, got %v", c.LearningRate)
	}
	if c.MaskingRatio <= 0 || c.MaskingRatio > 1 {
		return fmt.Errorf("masking_ratio must be in (0,1], got %v", c.MaskingRatio)
	}
	if c.Epsilon <= 0 {
		return fmt.Errorf("epsilon must be positive, got %v", c.Epsilon)
	}
	if c.ClipNorm < 0 {
		return fmt.Errorf("clip_norm must not be negative, got %v", c.ClipNorm)
	}
	if c.DimModel <= 0 || c.NumHeads <= 0 || c.NumLayers <= 0 || c.FFHiddenLayer <= 0 {
		return fmt.Errorf("model hyperparameters must be positive: dim_model=%d num_heads=%d num_layers=%d ff_hidden_layer=%d",
			c.DimModel, c.NumHeads, c.NumLayers, c.FFHiddenLayer)
	}
	if c.DimModel%c.NumHeads != 0 {
		return fmt.Errorf("dim_model (%d) must be divisible by num_heads (%d)", c.DimModel, c.NumHeads)
	}
	if c.Dropout < 0 || c.Dropout >= 1 {
		return fmt.Errorf("dropout must be in [0,1), got %v", c.Dropout)
	}
	if c.GetWandb && c.WandbProject == "" {
		return fmt.Errorf("wandb_project is required when get_wandb is enabled")
	}
	return nil
}
