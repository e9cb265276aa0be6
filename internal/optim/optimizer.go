// Package optim implements optimization algorithms for training neural networks.
//
// Example usage:
//
//	optimizer := optim.NewSGD(model.Parameters(), optim.SGDConfig{LR: 1e-3}, backend)
//
//	for _, batch := range batches {
//	    backend.Tape().StartRecording()
//	    loss := criterion.Forward(model.Forward(batch.Images), batch.Labels)
//	    grads := autodiff.Backward(loss, backend)
//	    backend.Tape().Clear()
//
//	    optimizer.Step(grads)
//	    optimizer.ZeroGrad()
//	}
package optim

import (
	"github.com/born-ml/resnet/internal/nn"
	"github.com/born-ml/resnet/internal/tensor"
)

// Optimizer is the base interface for all optimization algorithms.
type Optimizer interface {
	// Step applies gradient updates to all parameters.
	//
	// grads is the map returned by autodiff.Backward, keyed by the
	// parameter's RawTensor. Parameters absent from the map are left alone.
	Step(grads map[*tensor.RawTensor]*tensor.RawTensor)

	// ZeroGrad clears all parameter gradients.
	ZeroGrad()

	// GetLR returns the current learning rate.
	GetLR() float32
}

// getGradient returns the gradient for param, or nil if it took no part in
// the forward pass.
func getGradient[B tensor.Backend](param *nn.Parameter[B], grads map[*tensor.RawTensor]*tensor.RawTensor) *tensor.RawTensor {
	if param == nil {
		return nil
	}
	return grads[param.Raw()]
}
