package ops

import (
	"fmt"
	"math"

	"github.com/born-ml/resnet/internal/tensor"
)

// BatchMomentsOp records the per-channel batch statistics of an NCHW tensor.
//
// Forward:
//
//	mean[c] = Σ x[n,c,h,w] / M
//	var[c]  = Σ (x[n,c,h,w] - mean[c])² / M,  M = N*H*W
//
// Backward:
//
//	dx = dmean/M + dvar * 2(x - mean)/M
type BatchMomentsOp struct {
	input    *tensor.RawTensor
	mean     *tensor.RawTensor
	variance *tensor.RawTensor
}

// NewBatchMomentsOp creates a new BatchMomentsOp.
func NewBatchMomentsOp(input, mean, variance *tensor.RawTensor) *BatchMomentsOp {
	return &BatchMomentsOp{input: input, mean: mean, variance: variance}
}

// Inputs returns the input tensor.
func (op *BatchMomentsOp) Inputs() []*tensor.RawTensor {
	return []*tensor.RawTensor{op.input}
}

// Output returns the mean.
func (op *BatchMomentsOp) Output() *tensor.RawTensor {
	return op.mean
}

// Outputs returns [mean, variance].
func (op *BatchMomentsOp) Outputs() []*tensor.RawTensor {
	return []*tensor.RawTensor{op.mean, op.variance}
}

// Backward treats outputGrad as the gradient of the mean alone.
func (op *BatchMomentsOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	zero := tensor.MustNewRaw(op.variance.Shape(), op.variance.DType(), backend.Device())
	return op.BackwardMulti([]*tensor.RawTensor{outputGrad, zero}, backend)
}

// BackwardMulti combines the mean and variance gradients into the input gradient.
func (op *BatchMomentsOp) BackwardMulti(outputGrads []*tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	n, c, hw := planeGeometry("batch_moments2d", op.input)
	count := float32(n * hw)

	grad := tensor.MustNewRaw(op.input.Shape(), tensor.Float32, backend.Device())
	x := op.input.AsFloat32()
	dx := grad.AsFloat32()
	mean := op.mean.AsFloat32()
	dMean := outputGrads[0].AsFloat32()
	dVar := outputGrads[1].AsFloat32()

	for plane := 0; plane < n*c; plane++ {
		ch := plane % c
		a := dMean[ch] / count
		b := 2 * dVar[ch] / count
		for i := plane * hw; i < (plane+1)*hw; i++ {
			dx[i] = a + b*(x[i]-mean[ch])
		}
	}
	return []*tensor.RawTensor{grad}
}

// BatchNormOp records y = gamma * (x - mean) / sqrt(var + eps) + beta with
// per-channel gamma, beta, mean and var.
//
// Backward, with invstd = (var + eps)^(-1/2) and sums over N, H, W:
//
//	dx     = g * gamma * invstd
//	dgamma = Σ g * (x - mean) * invstd
//	dbeta  = Σ g
//	dmean  = -Σ g * gamma * invstd
//	dvar   = -½ Σ g * gamma * (x - mean) * invstd³
type BatchNormOp struct {
	inputs []*tensor.RawTensor // [x, gamma, beta, mean, var]
	output *tensor.RawTensor
	eps    float32
}

// NewBatchNormOp creates a new BatchNormOp.
func NewBatchNormOp(x, gamma, beta, mean, variance, output *tensor.RawTensor, eps float32) *BatchNormOp {
	return &BatchNormOp{
		inputs: []*tensor.RawTensor{x, gamma, beta, mean, variance},
		output: output,
		eps:    eps,
	}
}

// Inputs returns [x, gamma, beta, mean, var].
func (op *BatchNormOp) Inputs() []*tensor.RawTensor {
	return op.inputs
}

// Output returns the normalized tensor.
func (op *BatchNormOp) Output() *tensor.RawTensor {
	return op.output
}

// Backward computes gradients for all five inputs.
func (op *BatchNormOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	xRaw := op.inputs[0]
	n, c, hw := planeGeometry("batchnorm2d", xRaw)
	device := backend.Device()

	gradX := tensor.MustNewRaw(xRaw.Shape(), tensor.Float32, device)
	gradGamma := tensor.MustNewRaw(tensor.Shape{c}, tensor.Float32, device)
	gradBeta := tensor.MustNewRaw(tensor.Shape{c}, tensor.Float32, device)
	gradMean := tensor.MustNewRaw(tensor.Shape{c}, tensor.Float32, device)
	gradVar := tensor.MustNewRaw(tensor.Shape{c}, tensor.Float32, device)

	x := xRaw.AsFloat32()
	g := outputGrad.AsFloat32()
	gamma := op.inputs[1].AsFloat32()
	mean := op.inputs[3].AsFloat32()
	variance := op.inputs[4].AsFloat32()
	dx := gradX.AsFloat32()

	invstd := make([]float64, c)
	for ch := range invstd {
		invstd[ch] = 1 / math.Sqrt(float64(variance[ch]+op.eps))
	}

	sumG := make([]float64, c)
	sumGX := make([]float64, c) // Σ g * (x - mean)
	for plane := 0; plane < n*c; plane++ {
		ch := plane % c
		scale := float32(float64(gamma[ch]) * invstd[ch])
		mu := mean[ch]
		for i := plane * hw; i < (plane+1)*hw; i++ {
			dx[i] = g[i] * scale
			sumG[ch] += float64(g[i])
			sumGX[ch] += float64(g[i]) * float64(x[i]-mu)
		}
	}

	dGamma := gradGamma.AsFloat32()
	dBeta := gradBeta.AsFloat32()
	dMean := gradMean.AsFloat32()
	dVar := gradVar.AsFloat32()
	for ch := 0; ch < c; ch++ {
		is := invstd[ch]
		gm := float64(gamma[ch])
		dGamma[ch] = float32(sumGX[ch] * is)
		dBeta[ch] = float32(sumG[ch])
		dMean[ch] = float32(-sumG[ch] * gm * is)
		dVar[ch] = float32(-0.5 * sumGX[ch] * gm * is * is * is)
	}

	return []*tensor.RawTensor{gradX, gradGamma, gradBeta, gradMean, gradVar}
}

func planeGeometry(op string, x *tensor.RawTensor) (n, c, hw int) {
	shape := x.Shape()
	if len(shape) != 4 || x.DType() != tensor.Float32 {
		panic(fmt.Sprintf("%s: expected float32 [N, C, H, W], got %s %v", op, x.DType(), shape))
	}
	return shape[0], shape[1], shape[2] * shape[3]
}
