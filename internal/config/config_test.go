package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/resnet/internal/config"
)

func TestDefault(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 5, cfg.Epochs)
	assert.Equal(t, 1e-3, cfg.LearningRate)
	assert.Equal(t, 64, cfg.BatchSize)
	assert.Equal(t, 64, cfg.TestBatchSize)
	assert.True(t, cfg.Shuffle)
	assert.Equal(t, 10, cfg.NumClasses)
	assert.Equal(t, filepath.Join("FashionMNIST", "raw", "t10k-images-idx3-ubyte"), cfg.Path(cfg.TestImages))
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
data_dir: /data/fashion
epochs: 2
learning_rate: 0.01
momentum: 0.9
shuffle: false
max_train_samples: 1000
`), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/data/fashion", cfg.DataDir)
	assert.Equal(t, 2, cfg.Epochs)
	assert.Equal(t, 0.01, cfg.LearningRate)
	assert.Equal(t, 0.9, cfg.Momentum)
	assert.False(t, cfg.Shuffle)
	assert.Equal(t, 1000, cfg.MaxTrainSamples)
	// untouched keys keep their defaults
	assert.Equal(t, 64, cfg.BatchSize)
	assert.Equal(t, "/data/fashion/train-labels-idx1-ubyte", cfg.Path(cfg.TrainLabels))
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"unknown key", "epoch: 3\n", "field epoch not found"},
		{"bad type", "epochs: many\n", "parse"},
		{"zero epochs", "epochs: 0\n", "epochs must be > 0"},
		{"momentum", "momentum: 1\n", "momentum"},
		{"batch", "batch_size: -4\n", "batch_size"},
		{"no output", "output: \"\"\n", "output"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Parse(strings.NewReader(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParse_Empty(t *testing.T) {
	cfg, err := config.Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestApplyOverrides(t *testing.T) {
	cfg := config.Default()
	cfg.ApplyOverrides(config.Overrides{
		Epochs:    1,
		BatchSize: 16,
		Output:    "out.born",
	})

	assert.Equal(t, 1, cfg.Epochs)
	assert.Equal(t, 16, cfg.BatchSize)
	assert.Equal(t, 16, cfg.TestBatchSize)
	assert.Equal(t, "out.born", cfg.Output)
	assert.Equal(t, 1e-3, cfg.LearningRate)
	assert.Equal(t, "/model.born", cfg.Pretrained)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
