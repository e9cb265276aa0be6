package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/resnet/internal/config"
	"github.com/born-ml/resnet/internal/dataset"
)

// writeArchives writes a train and a test split of n tiny images each into dir.
func writeArchives(t *testing.T, dir string, n, rows, cols int) {
	t.Helper()
	images := func(name string) {
		var buf bytes.Buffer
		require.NoError(t, binary.Write(&buf, binary.BigEndian, []uint32{dataset.ImagesMagic, uint32(n), uint32(rows), uint32(cols)}))
		for i := 0; i < n*rows*cols; i++ {
			buf.WriteByte(byte(i * 7))
		}
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), buf.Bytes(), 0o600))
	}
	labels := func(name string) {
		var buf bytes.Buffer
		require.NoError(t, binary.Write(&buf, binary.BigEndian, []uint32{dataset.LabelsMagic, uint32(n)}))
		for i := 0; i < n; i++ {
			buf.WriteByte(byte(i % 10))
		}
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), buf.Bytes(), 0o600))
	}
	cfg := config.Default()
	images(cfg.TrainImages)
	labels(cfg.TrainLabels)
	images(cfg.TestImages)
	labels(cfg.TestLabels)
}

func testConfig(dir string) *config.Config {
	cfg := config.Default()
	cfg.DataDir = dir
	cfg.Pretrained = filepath.Join(dir, "missing.born")
	cfg.Output = filepath.Join(dir, "model.born")
	cfg.Epochs = 1
	cfg.BatchSize = 4
	cfg.TestBatchSize = 4
	cfg.Seed = 1
	return cfg
}

func TestLoadSplit(t *testing.T) {
	dir := t.TempDir()
	writeArchives(t, dir, 6, 4, 4)
	cfg := testConfig(dir)

	ds, err := loadSplit(cfg, cfg.TrainImages, cfg.TrainLabels, 0)
	require.NoError(t, err)
	assert.Equal(t, 6, ds.Len())
	assert.Equal(t, 4, ds.Rows())

	ds, err = loadSplit(cfg, cfg.TrainImages, cfg.TrainLabels, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, ds.Len())

	cfg.NumClasses = 2
	_, err = loadSplit(cfg, cfg.TrainImages, cfg.TrainLabels, 0)
	assert.Error(t, err)
}

func TestRun_MissingData(t *testing.T) {
	err := run(context.Background(), testConfig(t.TempDir()), &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "training data")
}

func TestRun_RequirePretrained(t *testing.T) {
	dir := t.TempDir()
	writeArchives(t, dir, 4, 28, 28)
	cfg := testConfig(dir)
	cfg.RequirePretrained = true

	err := run(context.Background(), cfg, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pretrained")
	assert.NoFileExists(t, cfg.Output)
}

func TestRun_TrainsAndResumes(t *testing.T) {
	if testing.Short() {
		t.Skip("trains a full ResNet-18")
	}
	dir := t.TempDir()
	writeArchives(t, dir, 4, 28, 28)
	cfg := testConfig(dir)

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), cfg, &out))
	assert.True(t, strings.HasPrefix(out.String(), "Epoch 1\n"))
	assert.Contains(t, out.String(), "Test Error:\n Accuracy: ")
	assert.True(t, strings.HasSuffix(out.String(), "Done!\n"))
	require.FileExists(t, cfg.Output)

	// The second run starts from the first run's weights.
	cfg.Pretrained = cfg.Output
	cfg.RequirePretrained = true
	cfg.Output = filepath.Join(dir, "resumed.born")
	out.Reset()
	require.NoError(t, run(context.Background(), cfg, &out))
	assert.FileExists(t, cfg.Output)
}
