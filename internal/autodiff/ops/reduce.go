package ops

import "github.com/born-ml/resnet/internal/tensor"

// SumDimOp represents a sum along one dimension.
//
// Backward: outputGrad is broadcast back over the reduced dimension.
type SumDimOp struct {
	input  *tensor.RawTensor
	output *tensor.RawTensor
	dim    int
}

// NewSumDimOp creates a new SumDimOp. dim may be negative.
func NewSumDimOp(input, output *tensor.RawTensor, dim int) *SumDimOp {
	return &SumDimOp{input: input, output: output, dim: input.Shape().NormalizeDim(dim)}
}

// Backward broadcasts outputGrad to the input shape.
func (op *SumDimOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{spread(outputGrad, op.input.Shape(), op.dim, backend)}
}

// Inputs returns the input tensor.
func (op *SumDimOp) Inputs() []*tensor.RawTensor {
	return []*tensor.RawTensor{op.input}
}

// Output returns the reduced tensor.
func (op *SumDimOp) Output() *tensor.RawTensor {
	return op.output
}

// MeanDimOp represents a mean along one dimension.
//
// Backward: outputGrad / size, broadcast back over the reduced dimension.
type MeanDimOp struct {
	input  *tensor.RawTensor
	output *tensor.RawTensor
	dim    int
}

// NewMeanDimOp creates a new MeanDimOp. dim may be negative.
func NewMeanDimOp(input, output *tensor.RawTensor, dim int) *MeanDimOp {
	return &MeanDimOp{input: input, output: output, dim: input.Shape().NormalizeDim(dim)}
}

// Backward broadcasts outputGrad / size to the input shape.
func (op *MeanDimOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	size := op.input.Shape()[op.dim]
	grad := spread(outputGrad, op.input.Shape(), op.dim, backend)
	return []*tensor.RawTensor{backend.MulScalar(grad, 1.0/float64(size))}
}

// Inputs returns the input tensor.
func (op *MeanDimOp) Inputs() []*tensor.RawTensor {
	return []*tensor.RawTensor{op.input}
}

// Output returns the reduced tensor.
func (op *MeanDimOp) Output() *tensor.RawTensor {
	return op.output
}

// spread restores the reduced dimension as size 1 and broadcasts to shape.
func spread(grad *tensor.RawTensor, shape tensor.Shape, dim int, backend tensor.Backend) *tensor.RawTensor {
	kept := shape.Clone()
	kept[dim] = 1
	if !grad.Shape().Equal(kept) {
		grad = backend.Reshape(grad, kept)
	}
	return backend.Expand(grad, shape)
}
