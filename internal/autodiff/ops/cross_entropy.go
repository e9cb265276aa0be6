package ops

import (
	"fmt"
	"math"

	"github.com/born-ml/resnet/internal/tensor"
)

// CrossEntropyOp represents the mean cross-entropy of integer targets under
// softmax(logits).
//
// Forward:
//
//	Loss = mean_b(logsumexp(logits[b]) - logits[b, targets[b]])
//
// Backward:
//
//	∂L/∂logits = (softmax(logits) - y_one_hot) / batch_size
//
// Shapes: logits [batch_size, num_classes], targets [batch_size] of int32 or
// int64 class indices, output a single element.
type CrossEntropyOp struct {
	logits  *tensor.RawTensor
	targets *tensor.RawTensor
	output  *tensor.RawTensor
}

// NewCrossEntropyOp creates a new cross-entropy operation.
func NewCrossEntropyOp(logits, targets, output *tensor.RawTensor) *CrossEntropyOp {
	return &CrossEntropyOp{
		logits:  logits,
		targets: targets,
		output:  output,
	}
}

// Inputs returns the logits. Targets are constants and get no gradient.
func (op *CrossEntropyOp) Inputs() []*tensor.RawTensor {
	return []*tensor.RawTensor{op.logits}
}

// Output returns the loss tensor.
func (op *CrossEntropyOp) Output() *tensor.RawTensor {
	return op.output
}

// Backward computes the gradient with respect to the logits, scaled by the
// upstream gradient of the loss.
func (op *CrossEntropyOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	shape := op.logits.Shape()
	if len(shape) != 2 {
		panic(fmt.Sprintf("cross_entropy: expected 2D logits, got %v", shape))
	}
	batch, classes := shape[0], shape[1]
	grad := tensor.MustNewRaw(shape, op.logits.DType(), backend.Device())

	switch op.logits.DType() {
	case tensor.Float32:
		softmaxGrad(grad.AsFloat32(), op.logits.AsFloat32(), op.targetAt, outputGrad.AsFloat32()[0], batch, classes)
	case tensor.Float64:
		softmaxGrad(grad.AsFloat64(), op.logits.AsFloat64(), op.targetAt, outputGrad.AsFloat64()[0], batch, classes)
	default:
		panic(fmt.Sprintf("cross_entropy: unsupported dtype %s", op.logits.DType()))
	}
	return []*tensor.RawTensor{grad}
}

func (op *CrossEntropyOp) targetAt(i int) int {
	switch op.targets.DType() {
	case tensor.Int64:
		return int(op.targets.AsInt64()[i])
	case tensor.Int32:
		return int(op.targets.AsInt32()[i])
	default:
		panic(fmt.Sprintf("cross_entropy: targets must be int32 or int64, got %s", op.targets.DType()))
	}
}

func softmaxGrad[T float32 | float64](dst, logits []T, target func(int) int, upstream T, batch, classes int) {
	scale := float64(upstream) / float64(batch)
	for b := 0; b < batch; b++ {
		row := logits[b*classes : (b+1)*classes]
		out := dst[b*classes : (b+1)*classes]

		maxVal := float64(row[0])
		for _, v := range row[1:] {
			maxVal = math.Max(maxVal, float64(v))
		}
		var sum float64
		for i, v := range row {
			e := math.Exp(float64(v) - maxVal)
			out[i] = T(e)
			sum += e
		}
		t := target(b)
		for i := range out {
			p := float64(out[i]) / sum
			if i == t {
				p--
			}
			out[i] = T(p * scale)
		}
	}
}
