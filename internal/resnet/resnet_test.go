package resnet_test

import (
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/resnet/internal/autodiff"
	"github.com/born-ml/resnet/internal/backend/cpu"
	"github.com/born-ml/resnet/internal/nn"
	"github.com/born-ml/resnet/internal/optim"
	"github.com/born-ml/resnet/internal/resnet"
	"github.com/born-ml/resnet/internal/tensor"
)

func tinyConfig(numClasses int) resnet.Config {
	return resnet.Config{
		Name:         "TinyResNet",
		InChannels:   1,
		NumClasses:   numClasses,
		StemChannels: 4,
		Arch:         []resnet.Stage{{Blocks: 2, Channels: 4}, {Blocks: 1, Channels: 8}},
	}
}

func images[B tensor.Backend](n int, seed int64, backend B) *tensor.Tensor[float32, B] {
	return tensor.Uniform[float32](tensor.Shape{n, 1, 28, 28}, 0, 1, rand.New(rand.NewSource(seed)), backend)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*resnet.Config)
	}{
		{"in channels", func(c *resnet.Config) { c.InChannels = 0 }},
		{"classes", func(c *resnet.Config) { c.NumClasses = 0 }},
		{"stem", func(c *resnet.Config) { c.StemChannels = -1 }},
		{"no stages", func(c *resnet.Config) { c.Arch = nil }},
		{"empty stage", func(c *resnet.Config) { c.Arch[1].Blocks = 0 }},
	}

	require.NoError(t, tinyConfig(10).Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tinyConfig(10)
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestForward_OutputMatchesClassCount(t *testing.T) {
	backend := cpu.New()
	for _, classes := range []int{1, 3, 10} {
		model, err := resnet.New(tinyConfig(classes), rand.New(rand.NewSource(1)), backend)
		require.NoError(t, err)

		out := model.Forward(images(3, 2, backend))
		assert.Equal(t, tensor.Shape{3, classes}, out.Shape())
	}
}

func TestResNet18_Layout(t *testing.T) {
	backend := cpu.New()
	model, err := resnet.NewResNet18(10, rand.New(rand.NewSource(1)), backend)
	require.NoError(t, err)

	assert.Equal(t, 11182538, nn.CountParameters(model.Parameters()))

	state := model.StateDict()
	for _, key := range []string{
		"conv1.weight", "conv1.bias",
		"bn1.weight", "bn1.running_var",
		"layers.0.0.conv3.weight",
		"layers.3.1.bn2.running_mean",
		"fc.weight", "fc.bias",
	} {
		assert.Contains(t, state, key)
	}
	assert.NotContains(t, state, "layers.0.1.conv3.weight")
	assert.Equal(t, tensor.Shape{10, 512}, state["fc.weight"].Shape())
	assert.Equal(t, tensor.Shape{128, 64, 1, 1}, state["layers.1.0.conv3.weight"].Shape())
}

func TestTrainEvalPropagates(t *testing.T) {
	backend := cpu.New()
	model, err := resnet.New(tinyConfig(10), rand.New(rand.NewSource(1)), backend)
	require.NoError(t, err)

	assert.True(t, model.Training())
	model.Eval()
	assert.False(t, model.Training())

	// Evaluation is deterministic per sample: a batch of one gives the
	// same scores as the same image inside a larger batch.
	batch := images(2, 3, backend)
	single, err := tensor.FromSlice(batch.Data()[:28*28], tensor.Shape{1, 1, 28, 28}, backend)
	require.NoError(t, err)

	full := model.Forward(batch).Data()
	one := model.Forward(single).Data()
	assert.InDeltaSlice(t, full[:10], one, 1e-5)
}

func TestSaveLoad_ReproducesPredictions(t *testing.T) {
	backend := cpu.New()
	path := filepath.Join(t.TempDir(), "model.born")

	src, err := resnet.New(tinyConfig(10), rand.New(rand.NewSource(1)), backend)
	require.NoError(t, err)
	src.Forward(images(4, 5, backend)) // moves the running statistics
	src.Eval()

	_, err = nn.SaveModel(path, src, src.Config().Name, nil)
	require.NoError(t, err)

	dst, err := resnet.New(tinyConfig(10), rand.New(rand.NewSource(99)), backend)
	require.NoError(t, err)
	info, err := nn.LoadModel(path, dst)
	require.NoError(t, err)
	assert.Equal(t, "TinyResNet", info.Arch)
	dst.Eval()

	x := images(5, 6, backend)
	assert.Equal(t, src.Forward(x).Data(), dst.Forward(x).Data())
	assert.Equal(t, src.Predict(x), dst.Predict(x))
}

func TestLoad_RejectsDifferentArchitecture(t *testing.T) {
	backend := cpu.New()
	path := filepath.Join(t.TempDir(), "model.born")

	src, err := resnet.New(tinyConfig(10), rand.New(rand.NewSource(1)), backend)
	require.NoError(t, err)
	_, err = nn.SaveModel(path, src, "TinyResNet", nil)
	require.NoError(t, err)

	other, err := resnet.New(tinyConfig(5), rand.New(rand.NewSource(1)), backend)
	require.NoError(t, err)
	_, err = nn.LoadModel(path, other)
	assert.Error(t, err)
}

func TestBackward_ReachesEveryParameter(t *testing.T) {
	backend := autodiff.New(cpu.New())
	model, err := resnet.New(tinyConfig(10), rand.New(rand.NewSource(1)), backend)
	require.NoError(t, err)

	labels, err := tensor.FromSlice([]int64{0, 3, 7}, tensor.Shape{3}, backend)
	require.NoError(t, err)

	backend.Tape().StartRecording()
	loss := nn.NewCrossEntropyLoss(backend).Forward(model.Forward(images(3, 2, backend)), labels)
	grads := autodiff.Backward(loss, backend)

	for i, p := range model.Parameters() {
		g, ok := grads[p.Raw()]
		require.True(t, ok, "parameter %d (%s) has no gradient", i, p.Name())
		assert.Equal(t, p.Tensor().Shape(), g.Shape())
	}
}

func TestSGD_ReducesLossOnFixedBatch(t *testing.T) {
	backend := autodiff.New(cpu.New())
	model, err := resnet.New(tinyConfig(10), rand.New(rand.NewSource(1)), backend)
	require.NoError(t, err)
	criterion := nn.NewCrossEntropyLoss(backend)
	opt := optim.NewSGD(model.Parameters(), optim.SGDConfig{LR: 0.05}, backend)

	x := images(8, 2, backend)
	y, err := tensor.FromSlice([]int64{0, 1, 2, 3, 4, 5, 6, 7}, tensor.Shape{8}, backend)
	require.NoError(t, err)

	var first, last float32
	for step := range 20 {
		backend.Tape().StartRecording()
		loss := criterion.Forward(model.Forward(x), y)
		grads := autodiff.Backward(loss, backend)
		backend.Tape().Clear()
		backend.Tape().StopRecording()
		opt.Step(grads)
		opt.ZeroGrad()

		if step == 0 {
			first = loss.Item()
		}
		last = loss.Item()
	}
	assert.Less(t, last, first)
}
