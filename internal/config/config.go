// Package config holds the knobs of a training run. Values come from
// Default, are overlaid by an optional YAML file, then by command-line
// overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config captures the runtime knobs for a training run.
type Config struct {
	DataDir           string  `yaml:"data_dir"`
	TrainImages       string  `yaml:"train_images"`
	TrainLabels       string  `yaml:"train_labels"`
	TestImages        string  `yaml:"test_images"`
	TestLabels        string  `yaml:"test_labels"`
	Pretrained        string  `yaml:"pretrained"`
	RequirePretrained bool    `yaml:"require_pretrained"`
	Output            string  `yaml:"output"`
	Epochs            int     `yaml:"epochs"`
	LearningRate      float64 `yaml:"learning_rate"`
	Momentum          float64 `yaml:"momentum"`
	WeightDecay       float64 `yaml:"weight_decay"`
	BatchSize         int     `yaml:"batch_size"`
	TestBatchSize     int     `yaml:"test_batch_size"`
	Shuffle           bool    `yaml:"shuffle"`
	Seed              int64   `yaml:"seed"`
	NumClasses        int     `yaml:"num_classes"`
	PrintSplits       int     `yaml:"print_splits"`
	NumWorkers        int     `yaml:"num_workers"`
	MaxTrainSamples   int     `yaml:"max_train_samples"`
	MaxTestSamples    int     `yaml:"max_test_samples"`
}

// Overrides captures CLI supplied values. Zero values leave the config alone.
type Overrides struct {
	DataDir         string
	Pretrained      string
	Output          string
	Epochs          int
	LearningRate    float64
	BatchSize       int
	Seed            int64
	NumWorkers      int
	MaxTrainSamples int
	MaxTestSamples  int
}

// Default returns the settings of the reference FashionMNIST run.
func Default() *Config {
	return &Config{
		DataDir:       filepath.Join("FashionMNIST", "raw"),
		TrainImages:   "train-images-idx3-ubyte",
		TrainLabels:   "train-labels-idx1-ubyte",
		TestImages:    "t10k-images-idx3-ubyte",
		TestLabels:    "t10k-labels-idx1-ubyte",
		Pretrained:    "/model.born",
		Output:        "model.born",
		Epochs:        5,
		LearningRate:  1e-3,
		BatchSize:     64,
		TestBatchSize: 64,
		Shuffle:       true,
		NumClasses:    10,
		PrintSplits:   5,
	}
}

// Load reads a YAML file on top of Default and validates the result.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open: %w", err)
	}
	defer func() { _ = f.Close() }()

	cfg, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML from r on top of Default. Unknown keys are rejected.
func Parse(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyOverrides updates c using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.DataDir != "" {
		c.DataDir = o.DataDir
	}
	if o.Pretrained != "" {
		c.Pretrained = o.Pretrained
	}
	if o.Output != "" {
		c.Output = o.Output
	}
	if o.Epochs > 0 {
		c.Epochs = o.Epochs
	}
	if o.LearningRate > 0 {
		c.LearningRate = o.LearningRate
	}
	if o.BatchSize > 0 {
		c.BatchSize = o.BatchSize
		c.TestBatchSize = o.BatchSize
	}
	if o.Seed != 0 {
		c.Seed = o.Seed
	}
	if o.NumWorkers > 0 {
		c.NumWorkers = o.NumWorkers
	}
	if o.MaxTrainSamples > 0 {
		c.MaxTrainSamples = o.MaxTrainSamples
	}
	if o.MaxTestSamples > 0 {
		c.MaxTestSamples = o.MaxTestSamples
	}
}

// Validate verifies the config is runnable.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	switch {
	case c.TrainImages == "" || c.TrainLabels == "" || c.TestImages == "" || c.TestLabels == "":
		return errors.New("config: all four archive names must be set")
	case c.Output == "":
		return errors.New("config: output must be set")
	case c.Epochs <= 0:
		return fmt.Errorf("config: epochs must be > 0 (got %d)", c.Epochs)
	case c.LearningRate <= 0:
		return fmt.Errorf("config: learning_rate must be > 0 (got %g)", c.LearningRate)
	case c.Momentum < 0 || c.Momentum >= 1:
		return fmt.Errorf("config: momentum must be in [0, 1) (got %g)", c.Momentum)
	case c.WeightDecay < 0:
		return fmt.Errorf("config: weight_decay must be >= 0 (got %g)", c.WeightDecay)
	case c.BatchSize <= 0:
		return fmt.Errorf("config: batch_size must be > 0 (got %d)", c.BatchSize)
	case c.TestBatchSize <= 0:
		return fmt.Errorf("config: test_batch_size must be > 0 (got %d)", c.TestBatchSize)
	case c.NumClasses <= 0:
		return fmt.Errorf("config: num_classes must be > 0 (got %d)", c.NumClasses)
	case c.PrintSplits <= 0:
		return fmt.Errorf("config: print_splits must be > 0 (got %d)", c.PrintSplits)
	case c.NumWorkers < 0:
		return fmt.Errorf("config: num_workers must be >= 0 (got %d)", c.NumWorkers)
	case c.MaxTrainSamples < 0 || c.MaxTestSamples < 0:
		return errors.New("config: sample limits must be >= 0")
	}
	return nil
}

// Path joins name onto DataDir unless name is already absolute.
func (c *Config) Path(name string) string {
	if filepath.IsAbs(name) || c.DataDir == "" {
		return name
	}
	return filepath.Join(c.DataDir, name)
}
