// Package ops defines the differentiable operations recorded on a gradient tape.
//
// Each operation keeps references to its inputs and output from the forward
// pass and turns an output gradient into input gradients using backend kernels.
//
// Supported operations:
//   - AddOp, SubOp, MulOp, DivOp: element-wise arithmetic with broadcasting
//   - MatMulOp: 2D matrix product (dA = grad@B^T, dB = A^T@grad)
//   - Conv2DOp, MaxPool2DOp: spatial layers over NCHW tensors
//   - BatchMomentsOp, BatchNormOp: batch normalization split into statistics and affine normalization
//   - ReLUOp, MulScalarOp, AddScalarOp
//   - ReshapeOp, TransposeOp, ExpandOp
//   - SumDimOp, MeanDimOp
//   - CrossEntropyOp: fused log-softmax and negative log-likelihood
package ops

import "github.com/born-ml/resnet/internal/tensor"

// Operation represents a differentiable operation in the computation graph.
type Operation interface {
	// Backward returns one gradient per input, in the order of Inputs.
	// A nil entry means no gradient flows to that input.
	Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor

	// Inputs returns the input tensors for this operation.
	Inputs() []*tensor.RawTensor

	// Output returns the output tensor produced by this operation.
	Output() *tensor.RawTensor
}

// MultiOutputOperation represents an operation that produces several outputs,
// such as the mean and variance of BatchMomentsOp.
//
// The tape collects gradients for all outputs before calling BackwardMulti;
// outputs that received no gradient are passed as zeros.
type MultiOutputOperation interface {
	Operation

	// Outputs returns all output tensors produced by this operation.
	Outputs() []*tensor.RawTensor

	// BackwardMulti computes input gradients from the gradients of every output.
	BackwardMulti(outputGrads []*tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor
}
