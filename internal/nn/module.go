// Package nn implements the neural network layers used by the ResNet models.
//
// This package provides:
//   - Module interface: Forward, Parameters and state dict access
//   - Parameter: trainable tensors with gradient slots
//   - Layers: Conv2D, Linear, BatchNorm2D, ReLU, MaxPool2D, GlobalAvgPool2D, Flatten
//   - Sequential: container for stacking layers
//   - CrossEntropyLoss and accuracy helpers
//   - SaveModel / LoadModel for .born checkpoints
//
// All layers compute in float32 over NCHW images.
package nn

import (
	"github.com/born-ml/resnet/internal/tensor"
)

// Module is the base interface for all neural network components.
//
// Modules compose into larger networks:
//
//	block := nn.NewSequential[B](
//	    nn.NewConv2D(1, 64, 3, 1, 1, true, rng, backend),
//	    nn.NewBatchNorm2D(64, backend),
//	    nn.NewReLU[B](),
//	)
type Module[B tensor.Backend] interface {
	// Forward computes the output of the module given an input tensor.
	Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B]

	// Parameters returns all trainable parameters, including those of
	// nested modules. Stateless modules return nil.
	Parameters() []*Parameter[B]

	// StateDict returns parameters and buffers keyed by dotted names.
	// The tensors are shared with the module, not copied.
	StateDict() map[string]*tensor.RawTensor

	// LoadStateDict copies values into the module. Every key the module
	// owns must be present with a matching shape.
	LoadStateDict(stateDict map[string]*tensor.RawTensor) error
}

// TrainEvaler is implemented by modules whose forward pass differs between
// training and evaluation, such as BatchNorm2D and any container holding one.
type TrainEvaler interface {
	Train()
	Eval()
	Training() bool
}

// SetTraining switches m into training or evaluation mode if it supports modes.
func SetTraining(m any, training bool) {
	te, ok := m.(TrainEvaler)
	if !ok {
		return
	}
	if training {
		te.Train()
	} else {
		te.Eval()
	}
}
