package nn_test

import (
	"errors"
	"io/fs"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/resnet/internal/backend/cpu"
	"github.com/born-ml/resnet/internal/nn"
)

func newBlock(seed int64) *nn.Sequential[*cpu.CPUBackend] {
	backend := cpu.New()
	rng := rand.New(rand.NewSource(seed))
	return nn.NewSequential[*cpu.CPUBackend](
		nn.NewConv2D(1, 2, 3, 1, 1, true, rng, backend),
		nn.NewBatchNorm2D(2, backend),
		nn.NewReLU[*cpu.CPUBackend](),
		nn.NewGlobalAvgPool2D[*cpu.CPUBackend](),
		nn.NewFlatten[*cpu.CPUBackend](),
		nn.NewLinear(2, 3, rng, backend),
	)
}

func TestSaveLoadModel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.born")

	src := newBlock(1)
	src.Module(1).(*nn.BatchNorm2D[*cpu.CPUBackend]).RunningMean().Data()[1] = 0.25

	saved, err := nn.SaveModel(path, src, "Tiny", map[string]string{"epochs": "3"})
	require.NoError(t, err)
	assert.NotEmpty(t, saved.RunID)

	dst := newBlock(2)
	loaded, err := nn.LoadModel(path, dst)
	require.NoError(t, err)

	assert.Equal(t, saved.RunID, loaded.RunID)
	assert.Equal(t, "Tiny", loaded.Arch)
	assert.Equal(t, "3", loaded.Metadata["epochs"])

	want := src.StateDict()
	for k, v := range dst.StateDict() {
		assert.Equal(t, want[k].AsFloat32(), v.AsFloat32(), k)
	}
}

func TestSaveModel_NewRunIDEachTime(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.born")
	model := newBlock(1)

	a, err := nn.SaveModel(path, model, "Tiny", nil)
	require.NoError(t, err)
	b, err := nn.SaveModel(path, model, "Tiny", nil)
	require.NoError(t, err)
	assert.NotEqual(t, a.RunID, b.RunID)
}

func TestLoadModel_Mismatch(t *testing.T) {
	dir := t.TempDir()
	backend := cpu.New()
	rng := rand.New(rand.NewSource(1))

	linearPath := filepath.Join(dir, "linear.born")
	_, err := nn.SaveModel(linearPath, nn.NewLinear(2, 3, rng, backend), "Linear", nil)
	require.NoError(t, err)

	tests := []struct {
		name    string
		model   nn.Stateful
		wantErr string
	}{
		{"shape", nn.NewLinear(2, 4, rng, backend), "shape mismatch"},
		{"keys", newBlock(1), "does not match model"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := nn.LoadModel(linearPath, tt.model)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadModel_MissingFile(t *testing.T) {
	_, err := nn.LoadModel(filepath.Join(t.TempDir(), "absent.born"), newBlock(1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}
