package ops

import "github.com/born-ml/resnet/internal/tensor"

// DivOp represents element-wise division: output = a / b.
//
// Backward:
//   - grad_a = outputGrad / b
//   - grad_b = -outputGrad * a / b^2
type DivOp struct {
	inputs []*tensor.RawTensor // [a, b]
	output *tensor.RawTensor
}

// NewDivOp creates a new DivOp.
func NewDivOp(a, b, output *tensor.RawTensor) *DivOp {
	return &DivOp{
		inputs: []*tensor.RawTensor{a, b},
		output: output,
	}
}

// Backward computes input gradients for division.
func (op *DivOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	a, b := op.inputs[0], op.inputs[1]
	defer outputGrad.ForceNonUnique()()

	gradA := backend.Div(outputGrad, b)

	// -grad * (a/b) / b, reusing the forward output a/b.
	gradB := backend.Div(backend.Mul(outputGrad, op.output), b)
	gradB = backend.MulScalar(gradB, -1.0)

	return []*tensor.RawTensor{
		reduceBroadcast(gradA, a.Shape(), backend),
		reduceBroadcast(gradB, b.Shape(), backend),
	}
}

// Inputs returns the input tensors [a, b].
func (op *DivOp) Inputs() []*tensor.RawTensor {
	return op.inputs
}

// Output returns the output tensor a / b.
func (op *DivOp) Output() *tensor.RawTensor {
	return op.output
}
