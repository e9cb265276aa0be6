package ops

import "github.com/born-ml/resnet/internal/tensor"

// reduceBroadcast sums a gradient back down to the shape of an input that was
// broadcast in the forward pass.
//
// Example:
//
//	Forward: a[1,C,1,1] + b[N,C,H,W] -> c[N,C,H,W]
//	Backward: grad_c[N,C,H,W] -> grad_a[1,C,1,1] (sum over 0, 2 and 3)
func reduceBroadcast(grad *tensor.RawTensor, targetShape tensor.Shape, backend tensor.Backend) *tensor.RawTensor {
	if grad.Shape().Equal(targetShape) {
		// Clone bumps the buffer refcount so accumulation never writes
		// through a gradient shared with another input.
		return grad.Clone()
	}

	result := grad
	for len(result.Shape()) > len(targetShape) {
		result = backend.SumDim(result, 0, false)
	}
	for i, dim := range targetShape {
		if dim == 1 && result.Shape()[i] != 1 {
			result = backend.SumDim(result, i, true)
		}
	}
	if !result.Shape().Equal(targetShape) {
		result = backend.Reshape(result, targetShape)
	}
	return result
}
