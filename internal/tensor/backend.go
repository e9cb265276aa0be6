package tensor

// Backend is the set of kernels a compute device provides.
//
// Implementations:
//   - cpu.CPUBackend: pure Go kernels with BLAS-backed matrix products
//   - autodiff.AutodiffBackend: decorator that records operations for backprop
//
// Images are NCHW throughout. Kernel methods panic on shape or dtype misuse.
type Backend interface {
	// Element-wise binary operations with broadcasting.
	Add(a, b *RawTensor) *RawTensor
	Sub(a, b *RawTensor) *RawTensor
	Mul(a, b *RawTensor) *RawTensor
	Div(a, b *RawTensor) *RawTensor

	// MatMul multiplies 2D matrices: [M, K] @ [K, N] -> [M, N].
	MatMul(a, b *RawTensor) *RawTensor

	// Convolution over [N, C, H, W] input with [COut, CIn, KH, KW] kernels.
	Conv2D(input, kernel *RawTensor, stride, padding int) *RawTensor
	Conv2DInputBackward(input, kernel, grad *RawTensor, stride, padding int) *RawTensor
	Conv2DKernelBackward(input, kernel, grad *RawTensor, stride, padding int) *RawTensor

	// Max pooling with square windows; padded cells never win the max.
	MaxPool2D(input *RawTensor, kernelSize, stride, padding int) *RawTensor
	MaxPool2DBackward(input, grad *RawTensor, maxIndices []int, kernelSize, stride, padding int) *RawTensor

	// BatchMoments2D returns per-channel mean and biased variance over N, H and W, each shaped [C].
	BatchMoments2D(x *RawTensor) (mean, variance *RawTensor)
	// BatchNorm2D computes gamma*(x-mean)/sqrt(variance+eps)+beta per channel.
	BatchNorm2D(x, gamma, beta, mean, variance *RawTensor, eps float32) *RawTensor

	ReLU(x *RawTensor) *RawTensor

	// CrossEntropy returns the mean negative log-likelihood of integer targets
	// under softmax(logits) as a one-element tensor.
	CrossEntropy(logits, targets *RawTensor) *RawTensor

	// Shape operations.
	Reshape(t *RawTensor, newShape Shape) *RawTensor
	Transpose(t *RawTensor, axes ...int) *RawTensor
	Expand(x *RawTensor, shape Shape) *RawTensor

	// Scalar operations.
	MulScalar(x *RawTensor, scalar any) *RawTensor
	AddScalar(x *RawTensor, scalar any) *RawTensor

	// Reductions.
	SumDim(x *RawTensor, dim int, keepDim bool) *RawTensor
	MeanDim(x *RawTensor, dim int, keepDim bool) *RawTensor
	Argmax(x *RawTensor, dim int) *RawTensor

	Name() string
	Device() Device
}
