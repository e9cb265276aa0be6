package nn_test

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/resnet/internal/autodiff"
	"github.com/born-ml/resnet/internal/backend/cpu"
	"github.com/born-ml/resnet/internal/nn"
	"github.com/born-ml/resnet/internal/tensor"
)

func fromSlice[T tensor.DType, B tensor.Backend](t *testing.T, data []T, shape tensor.Shape, backend B) *tensor.Tensor[T, B] {
	t.Helper()
	x, err := tensor.FromSlice(data, shape, backend)
	require.NoError(t, err)
	return x
}

func TestParameter(t *testing.T) {
	backend := cpu.New()
	data := fromSlice(t, []float32{1, 2, 3}, tensor.Shape{3}, backend)
	param := nn.NewParameter("test_param", data)

	assert.Equal(t, "test_param", param.Name())
	assert.Same(t, data.Raw(), param.Raw())
	assert.Nil(t, param.Grad())
	assert.Equal(t, 3, param.NumElements())

	param.SetGrad(data)
	assert.NotNil(t, param.Grad())
	param.ZeroGrad()
	assert.Nil(t, param.Grad())
}

func TestKaimingUniform_Bounds(t *testing.T) {
	backend := cpu.New()
	w := nn.KaimingUniform(16, math.Sqrt(5), tensor.Shape{8, 16}, rand.New(rand.NewSource(1)), backend)

	bound := float32(1 / math.Sqrt(16))
	for _, v := range w.Data() {
		assert.LessOrEqual(t, v, bound)
		assert.GreaterOrEqual(t, v, -bound)
	}
}

func TestLinear_Forward(t *testing.T) {
	backend := cpu.New()
	layer := nn.NewLinear(3, 2, rand.New(rand.NewSource(1)), backend)
	copy(layer.Weight().Tensor().Data(), []float32{1, 0, -1, 2, 1, 0})
	copy(layer.Bias().Tensor().Data(), []float32{0.5, -1})

	x := fromSlice(t, []float32{1, 2, 3, 0, 1, 0}, tensor.Shape{2, 3}, backend)
	y := layer.Forward(x)

	assert.Equal(t, tensor.Shape{2, 2}, y.Shape())
	assert.InDeltaSlice(t, []float32{-1.5, 3, 0.5, 0}, y.Data(), 1e-6)
	assert.Len(t, layer.Parameters(), 2)
}

func TestLinear_WrongFeaturesPanics(t *testing.T) {
	backend := cpu.New()
	layer := nn.NewLinear(3, 2, rand.New(rand.NewSource(1)), backend)
	x := tensor.Zeros[float32](tensor.Shape{1, 4}, backend)
	assert.Panics(t, func() { layer.Forward(x) })
}

func TestLinear_Gradients(t *testing.T) {
	backend := autodiff.New(cpu.New())
	layer := nn.NewLinear(3, 2, rand.New(rand.NewSource(2)), backend)
	criterion := nn.NewCrossEntropyLoss(backend)

	x := tensor.Randn[float32](tensor.Shape{4, 3}, rand.New(rand.NewSource(3)), backend)
	y := fromSlice(t, []int64{0, 1, 1, 0}, tensor.Shape{4}, backend)

	backend.Tape().StartRecording()
	loss := criterion.Forward(layer.Forward(x), y)
	grads := autodiff.Backward(loss, backend)

	for _, p := range layer.Parameters() {
		g, ok := grads[p.Raw()]
		require.True(t, ok, p.Name())
		assert.Equal(t, p.Tensor().Shape(), g.Shape(), p.Name())
	}
}

func TestConv2D_ForwardAddsBias(t *testing.T) {
	backend := cpu.New()
	conv := nn.NewConv2D(1, 2, 3, 1, 1, true, rand.New(rand.NewSource(1)), backend)
	for i := range conv.Weight().Tensor().Data() {
		conv.Weight().Tensor().Data()[i] = 0
	}
	copy(conv.Bias().Tensor().Data(), []float32{1, -2})

	x := tensor.Ones[float32](tensor.Shape{2, 1, 4, 4}, backend)
	y := conv.Forward(x)

	assert.Equal(t, tensor.Shape{2, 2, 4, 4}, y.Shape())
	assert.Equal(t, conv.OutputShape(x.Shape()), y.Shape())
	assert.Equal(t, float32(1), y.At(1, 0, 2, 3))
	assert.Equal(t, float32(-2), y.At(0, 1, 0, 0))
}

func TestConv2D_Stride2OutputShape(t *testing.T) {
	backend := cpu.New()
	stem := nn.NewConv2D(1, 4, 7, 2, 3, true, rand.New(rand.NewSource(1)), backend)
	y := stem.Forward(tensor.Zeros[float32](tensor.Shape{1, 1, 28, 28}, backend))
	assert.Equal(t, tensor.Shape{1, 4, 14, 14}, y.Shape())
}

func TestConv2D_NoBias(t *testing.T) {
	conv := nn.NewConv2D(2, 2, 1, 2, 0, false, rand.New(rand.NewSource(1)), cpu.New())
	assert.Nil(t, conv.Bias())
	assert.Len(t, conv.Parameters(), 1)
	assert.NotContains(t, conv.StateDict(), "bias")
}

func TestMaxPool2D_Forward(t *testing.T) {
	backend := cpu.New()
	pool := nn.NewMaxPool2D[*cpu.CPUBackend](3, 2, 1)

	x := tensor.Zeros[float32](tensor.Shape{1, 1, 14, 14}, backend)
	assert.Equal(t, tensor.Shape{1, 1, 7, 7}, pool.Forward(x).Shape())
}

func TestBatchNorm2D_TrainUpdatesRunningStats(t *testing.T) {
	backend := cpu.New()
	bn := nn.NewBatchNorm2D(1, backend)
	require.True(t, bn.Training())

	x := fromSlice(t, []float32{1, 3, 5, 7}, tensor.Shape{2, 1, 1, 2}, backend)
	y := bn.Forward(x)

	std := float32(math.Sqrt(5 + 1e-5))
	assert.InDeltaSlice(t, []float32{-3 / std, -1 / std, 1 / std, 3 / std}, y.Data(), 1e-5)

	// mean 4; unbiased variance 20/3
	assert.InDelta(t, 0.4, bn.RunningMean().Data()[0], 1e-6)
	assert.InDelta(t, 0.9+0.1*20.0/3.0, bn.RunningVar().Data()[0], 1e-5)
}

func TestBatchNorm2D_EvalUsesRunningStats(t *testing.T) {
	backend := cpu.New()
	bn := nn.NewBatchNorm2D(1, backend)
	bn.RunningMean().Data()[0] = 2
	bn.RunningVar().Data()[0] = 4
	bn.Eval()

	x := fromSlice(t, []float32{2, 6}, tensor.Shape{1, 1, 1, 2}, backend)
	y := bn.Forward(x)

	assert.InDeltaSlice(t, []float32{0, 2}, y.Data(), 1e-4)
	assert.Equal(t, float32(2), bn.RunningMean().Data()[0])
}

func TestBatchNorm2D_SingleValueTrainingPanics(t *testing.T) {
	backend := cpu.New()
	bn := nn.NewBatchNorm2D(2, backend)
	x := tensor.Ones[float32](tensor.Shape{1, 2, 1, 1}, backend)
	assert.Panics(t, func() { bn.Forward(x) })

	bn.Eval()
	assert.NotPanics(t, func() { bn.Forward(x) })
}

func TestGlobalAvgPoolAndFlatten(t *testing.T) {
	backend := cpu.New()
	x := fromSlice(t, []float32{
		1, 2, 3, 4,
		10, 20, 30, 40,
	}, tensor.Shape{1, 2, 2, 2}, backend)

	pooled := nn.NewGlobalAvgPool2D[*cpu.CPUBackend]().Forward(x)
	assert.Equal(t, tensor.Shape{1, 2, 1, 1}, pooled.Shape())

	flat := nn.NewFlatten[*cpu.CPUBackend]().Forward(pooled)
	assert.Equal(t, tensor.Shape{1, 2}, flat.Shape())
	assert.InDeltaSlice(t, []float32{2.5, 25}, flat.Data(), 1e-6)
}

func TestSequential_StateDictAndModes(t *testing.T) {
	backend := cpu.New()
	rng := rand.New(rand.NewSource(1))
	bn := nn.NewBatchNorm2D(2, backend)
	seq := nn.NewSequential[*cpu.CPUBackend](
		nn.NewConv2D(1, 2, 3, 1, 1, true, rng, backend),
		bn,
		nn.NewReLU[*cpu.CPUBackend](),
	)

	keys := make([]string, 0)
	for k := range seq.StateDict() {
		keys = append(keys, k)
	}
	assert.ElementsMatch(t, []string{
		"0.weight", "0.bias",
		"1.weight", "1.bias", "1.running_mean", "1.running_var",
	}, keys)
	assert.Len(t, seq.Parameters(), 4)
	assert.Equal(t, 2*9+2+2+2, nn.CountParameters(seq.Parameters()))

	seq.Eval()
	assert.False(t, bn.Training())
	assert.False(t, seq.Training())
	seq.Train()
	assert.True(t, bn.Training())
}

func TestCrossEntropyLoss(t *testing.T) {
	backend := cpu.New()
	criterion := nn.NewCrossEntropyLoss(backend)

	logits := tensor.Zeros[float32](tensor.Shape{2, 3}, backend)
	targets := fromSlice(t, []int64{0, 2}, tensor.Shape{2}, backend)

	loss := criterion.Forward(logits, targets)
	assert.InDelta(t, math.Log(3), loss.Item(), 1e-6)
}

func TestCrossEntropyLoss_TargetShapePanics(t *testing.T) {
	backend := cpu.New()
	criterion := nn.NewCrossEntropyLoss(backend)
	logits := tensor.Zeros[float32](tensor.Shape{2, 3}, backend)
	targets := tensor.Zeros[int64](tensor.Shape{3}, backend)
	assert.Panics(t, func() { criterion.Forward(logits, targets) })
}

func TestCorrectCountAndAccuracy(t *testing.T) {
	backend := cpu.New()
	logits := fromSlice(t, []float32{
		1, 5, 0,
		3, 0, 1,
	}, tensor.Shape{2, 3}, backend)
	targets := fromSlice(t, []int64{1, 1}, tensor.Shape{2}, backend)

	assert.Equal(t, 1, nn.CorrectCount(logits, targets))
	assert.InDelta(t, 0.5, nn.Accuracy(logits, targets), 1e-12)
}
