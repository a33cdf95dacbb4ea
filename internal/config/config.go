package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"iceberg-inception/internal/model"
	"iceberg-inception/internal/optim"
)

// Config captures the runtime knobs for a training run.
type Config struct {
	ImagesPath string `yaml:"images_path"`
	LabelsPath string `yaml:"labels_path"`
	DataDir    string `yaml:"data_dir"`

	Epochs         int  `yaml:"epochs"`
	BatchSize      int  `yaml:"batch_size"`
	EvalSize       int  `yaml:"eval_size"`
	EvalFixedStart bool `yaml:"eval_fixed_start"`

	NumWorkers int   `yaml:"num_workers"`
	Seed       int64 `yaml:"seed"`
	LogEvery   int   `yaml:"log_every"`

	CheckpointPath string `yaml:"checkpoint_path"`
	PlotPath       string `yaml:"plot_path"`

	Optimizer optim.Settings `yaml:"optimizer"`
	Topology  model.Topology `yaml:"topology"`
}

// Overrides captures CLI supplied values.
type Overrides struct {
	ImagesPath     string
	LabelsPath     string
	DataDir        string
	Epochs         int
	BatchSize      int
	NumWorkers     int
	Seed           int64
	LogEvery       int
	CheckpointPath string
	PlotPath       string
}

// Default returns the built-in configuration: 15 epochs of batch 128,
// a 600 example evaluation slice and AMSGrad at 1e-3.
func Default() *Config {
	return &Config{
		DataDir:        ".",
		Epochs:         15,
		BatchSize:      128,
		EvalSize:       600,
		CheckpointPath: "./model_save/CK",
		Optimizer:      optim.DefaultSettings(),
		Topology:       model.DefaultTopology(),
	}
}

// Load reads a Config from YAML on top of the defaults. An empty path
// returns the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg, err := parseYAML(f)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// ApplyOverrides updates cfg using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.ImagesPath != "" {
		c.ImagesPath = o.ImagesPath
	}
	if o.LabelsPath != "" {
		c.LabelsPath = o.LabelsPath
	}
	if o.DataDir != "" {
		c.DataDir = o.DataDir
	}
	if o.Epochs > 0 {
		c.Epochs = o.Epochs
	}
	if o.BatchSize > 0 {
		c.BatchSize = o.BatchSize
	}
	if o.NumWorkers > 0 {
		c.NumWorkers = o.NumWorkers
	}
	if o.Seed != 0 {
		c.Seed = o.Seed
	}
	if o.LogEvery > 0 {
		c.LogEvery = o.LogEvery
	}
	if o.CheckpointPath != "" {
		c.CheckpointPath = o.CheckpointPath
	}
	if o.PlotPath != "" {
		c.PlotPath = o.PlotPath
	}
}

// Validate verifies the config is runnable.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if (c.ImagesPath == "") != (c.LabelsPath == "") {
		return errors.New("images_path and labels_path must be set together")
	}
	if c.ImagesPath == "" && c.DataDir == "" {
		return errors.New("either images_path/labels_path or data_dir must be set")
	}
	if c.Epochs <= 0 {
		return fmt.Errorf("epochs must be > 0 (got %d)", c.Epochs)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be > 0 (got %d)", c.BatchSize)
	}
	if c.EvalSize < 0 {
		return fmt.Errorf("eval_size must be >= 0 (got %d)", c.EvalSize)
	}
	if c.NumWorkers < 0 {
		return fmt.Errorf("num_workers must be >= 0 (got %d)", c.NumWorkers)
	}
	if c.LogEvery < 0 {
		return fmt.Errorf("log_every must be >= 0 (got %d)", c.LogEvery)
	}
	if c.CheckpointPath == "" {
		return errors.New("checkpoint_path must be set")
	}
	if err := c.Optimizer.Validate(); err != nil {
		return err
	}
	return c.Topology.Validate()
}

func parseYAML(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return cfg, nil
}
