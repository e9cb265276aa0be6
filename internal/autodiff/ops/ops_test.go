package ops_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/resnet/internal/autodiff/ops"
	"github.com/born-ml/resnet/internal/backend/cpu"
	"github.com/born-ml/resnet/internal/tensor"
)

func raw(t *testing.T, shape tensor.Shape, data []float32) *tensor.RawTensor {
	t.Helper()
	r, err := tensor.NewRaw(shape, tensor.Float32, tensor.CPU)
	require.NoError(t, err)
	copy(r.AsFloat32(), data)
	return r
}

func TestAddOp_BroadcastBackward(t *testing.T) {
	backend := cpu.New()

	// per-channel bias [1, 2, 1, 1] added to [2, 2, 1, 2]
	x := raw(t, tensor.Shape{2, 2, 1, 2}, make([]float32, 8))
	bias := raw(t, tensor.Shape{1, 2, 1, 1}, []float32{1, 2})
	op := ops.NewAddOp(x, bias, backend.Add(x.Copy(), bias))

	grad := raw(t, tensor.Shape{2, 2, 1, 2}, []float32{1, 2, 3, 4, 5, 6, 7, 8})
	grads := op.Backward(grad, backend)

	assert.Equal(t, grad.AsFloat32(), grads[0].AsFloat32())
	assert.Equal(t, tensor.Shape{1, 2, 1, 1}, grads[1].Shape())
	// channel 0: 1+2+5+6, channel 1: 3+4+7+8
	assert.Equal(t, []float32{14, 22}, grads[1].AsFloat32())
}

func TestAddOp_GradientsDoNotAlias(t *testing.T) {
	backend := cpu.New()
	a := raw(t, tensor.Shape{2}, []float32{1, 2})
	b := raw(t, tensor.Shape{2}, []float32{3, 4})
	op := ops.NewAddOp(a, b, backend.Add(a.Copy(), b))

	grads := op.Backward(raw(t, tensor.Shape{2}, []float32{1, 1}), backend)
	assert.False(t, grads[0].IsUnique())

	// accumulating into one gradient must leave the other untouched
	backend.Add(grads[0], raw(t, tensor.Shape{2}, []float32{10, 10}))
	assert.Equal(t, []float32{1, 1}, grads[1].AsFloat32())
}

func TestSubMulDivOp_Backward(t *testing.T) {
	backend := cpu.New()
	one := func() *tensor.RawTensor { return raw(t, tensor.Shape{2}, []float32{1, 1}) }

	a := raw(t, tensor.Shape{2}, []float32{2, 6})
	b := raw(t, tensor.Shape{2}, []float32{4, 3})

	sub := ops.NewSubOp(a, b, backend.Sub(a.Copy(), b)).Backward(one(), backend)
	assert.Equal(t, []float32{1, 1}, sub[0].AsFloat32())
	assert.Equal(t, []float32{-1, -1}, sub[1].AsFloat32())

	mul := ops.NewMulOp(a, b, backend.Mul(a.Copy(), b)).Backward(one(), backend)
	assert.Equal(t, []float32{4, 3}, mul[0].AsFloat32())
	assert.Equal(t, []float32{2, 6}, mul[1].AsFloat32())

	div := ops.NewDivOp(a, b, backend.Div(a.Copy(), b)).Backward(one(), backend)
	assert.InDeltaSlice(t, []float32{0.25, 1.0 / 3}, div[0].AsFloat32(), 1e-6)
	// -a/b²
	assert.InDeltaSlice(t, []float32{-0.125, -6.0 / 9}, div[1].AsFloat32(), 1e-6)
}

func TestMatMulOp_Backward(t *testing.T) {
	backend := cpu.New()

	a := raw(t, tensor.Shape{1, 2}, []float32{1, 2})
	b := raw(t, tensor.Shape{2, 3}, []float32{1, 2, 3, 4, 5, 6})
	op := ops.NewMatMulOp(a, b, backend.MatMul(a, b))

	grads := op.Backward(raw(t, tensor.Shape{1, 3}, []float32{1, 1, 1}), backend)
	assert.Equal(t, []float32{6, 15}, grads[0].AsFloat32())
	assert.Equal(t, tensor.Shape{2, 3}, grads[1].Shape())
	assert.Equal(t, []float32{1, 1, 1, 2, 2, 2}, grads[1].AsFloat32())
}

func TestTransposeOp_InversePermutation(t *testing.T) {
	backend := cpu.New()

	x := raw(t, tensor.Shape{1, 2, 3}, []float32{1, 2, 3, 4, 5, 6})
	y := backend.Transpose(x, 2, 0, 1)
	op := ops.NewTransposeOp(x, y, []int{2, 0, 1})

	grads := op.Backward(y.Copy(), backend)
	assert.Equal(t, x.Shape(), grads[0].Shape())
	assert.Equal(t, x.AsFloat32(), grads[0].AsFloat32())
}

func TestMeanDimOp_Backward(t *testing.T) {
	backend := cpu.New()

	x := raw(t, tensor.Shape{2, 4}, make([]float32, 8))
	op := ops.NewMeanDimOp(x, backend.MeanDim(x, -1, false), -1)

	grads := op.Backward(raw(t, tensor.Shape{2}, []float32{4, 8}), backend)
	assert.Equal(t, tensor.Shape{2, 4}, grads[0].Shape())
	assert.Equal(t, []float32{1, 1, 1, 1, 2, 2, 2, 2}, grads[0].AsFloat32())
}

func TestReLUOp_Backward(t *testing.T) {
	backend := cpu.New()

	x := raw(t, tensor.Shape{4}, []float32{-1, 0, 2, 3})
	op := ops.NewReLUOp(x, backend.ReLU(x))

	grads := op.Backward(raw(t, tensor.Shape{4}, []float32{5, 6, 7, 8}), backend)
	assert.Equal(t, []float32{0, 0, 7, 8}, grads[0].AsFloat32())
}

func TestMaxPool2DOp_PaddingNeverSelected(t *testing.T) {
	backend := cpu.New()

	x := raw(t, tensor.Shape{1, 1, 2, 2}, []float32{-4, -3, -2, -1})
	y := backend.MaxPool2D(x, 3, 2, 1)
	require.Equal(t, tensor.Shape{1, 1, 1, 1}, y.Shape())

	op := ops.NewMaxPool2DOp(x, y, 3, 2, 1)
	grads := op.Backward(raw(t, tensor.Shape{1, 1, 1, 1}, []float32{1}), backend)
	assert.Equal(t, []float32{0, 0, 0, 1}, grads[0].AsFloat32())
}

func TestCrossEntropyOp_Backward(t *testing.T) {
	backend := cpu.New()

	logits := raw(t, tensor.Shape{2, 2}, []float32{0, 0, 3, 1})
	targets, err := tensor.NewRaw(tensor.Shape{2}, tensor.Int64, tensor.CPU)
	require.NoError(t, err)
	targets.AsInt64()[0] = 1
	targets.AsInt64()[1] = 0

	op := ops.NewCrossEntropyOp(logits, targets, backend.CrossEntropy(logits, targets))
	grads := op.Backward(raw(t, tensor.Shape{}, []float32{1}), backend)
	g := grads[0].AsFloat32()

	// uniform row: (0.5 - [0, 1]) / 2
	assert.InDeltaSlice(t, []float32{0.25, -0.25}, g[:2], 1e-6)
	// every row of softmax - onehot sums to zero
	assert.InDelta(t, 0, g[2]+g[3], 1e-6)
	assert.Less(t, g[2], float32(0))
}

func TestBatchNormOp_AffineGradients(t *testing.T) {
	backend := cpu.New()

	x := raw(t, tensor.Shape{1, 1, 1, 2}, []float32{1, 3})
	gamma := raw(t, tensor.Shape{1}, []float32{2})
	beta := raw(t, tensor.Shape{1}, []float32{0})
	mean := raw(t, tensor.Shape{1}, []float32{2})
	variance := raw(t, tensor.Shape{1}, []float32{1})

	y := backend.BatchNorm2D(x, gamma, beta, mean, variance, 0)
	op := ops.NewBatchNormOp(x, gamma, beta, mean, variance, y, 0)
	grads := op.Backward(raw(t, tensor.Shape{1, 1, 1, 2}, []float32{1, 1}), backend)
	require.Len(t, grads, 5)

	// dx = gamma * invstd; xhat = -1, 1 so dgamma cancels
	assert.Equal(t, []float32{2, 2}, grads[0].AsFloat32())
	assert.InDeltaSlice(t, []float32{0}, grads[1].AsFloat32(), 1e-6)
	assert.Equal(t, []float32{2}, grads[2].AsFloat32())
	assert.Equal(t, []float32{-4}, grads[3].AsFloat32())
	assert.InDeltaSlice(t, []float32{0}, grads[4].AsFloat32(), 1e-6)
}

func TestBatchMomentsOp_BackwardMulti(t *testing.T) {
	backend := cpu.New()

	x := raw(t, tensor.Shape{1, 1, 1, 2}, []float32{1, 3})
	mean, variance := backend.BatchMoments2D(x)
	op := ops.NewBatchMomentsOp(x, mean, variance)
	assert.Len(t, op.Outputs(), 2)

	grads := op.BackwardMulti([]*tensor.RawTensor{
		raw(t, tensor.Shape{1}, []float32{2}),
		raw(t, tensor.Shape{1}, []float32{1}),
	}, backend)

	// dmean/2 + dvar * (x - 2)
	assert.InDeltaSlice(t, []float32{0, 2}, grads[0].AsFloat32(), 1e-6)
}
