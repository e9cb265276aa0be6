package nn

import (
	"fmt"

	"github.com/born-ml/resnet/internal/tensor"
)

// GlobalAvgPool2D averages each channel over its spatial extent:
// [N, C, H, W] -> [N, C, 1, 1].
type GlobalAvgPool2D[B tensor.Backend] struct{}

// NewGlobalAvgPool2D creates an adaptive average pool with output size 1x1.
func NewGlobalAvgPool2D[B tensor.Backend]() *GlobalAvgPool2D[B] {
	return &GlobalAvgPool2D[B]{}
}

// Forward averages over W, then H.
func (g *GlobalAvgPool2D[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	if len(input.Shape()) != 4 {
		panic(fmt.Sprintf("GlobalAvgPool2D.Forward: expected 4D input, got shape %v", input.Shape()))
	}
	return input.MeanDim(3, true).MeanDim(2, true)
}

// Parameters returns nil.
func (g *GlobalAvgPool2D[B]) Parameters() []*Parameter[B] { return nil }

// StateDict returns an empty map.
func (g *GlobalAvgPool2D[B]) StateDict() map[string]*tensor.RawTensor {
	return map[string]*tensor.RawTensor{}
}

// LoadStateDict is a no-op.
func (g *GlobalAvgPool2D[B]) LoadStateDict(map[string]*tensor.RawTensor) error { return nil }

// Flatten keeps the batch dimension and collapses the rest.
type Flatten[B tensor.Backend] struct{}

// NewFlatten creates a Flatten layer.
func NewFlatten[B tensor.Backend]() *Flatten[B] {
	return &Flatten[B]{}
}

// Forward reshapes [N, ...] to [N, prod(...)].
func (f *Flatten[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	return input.Reshape(input.Shape()[0], -1)
}

// Parameters returns nil.
func (f *Flatten[B]) Parameters() []*Parameter[B] { return nil }

// StateDict returns an empty map.
func (f *Flatten[B]) StateDict() map[string]*tensor.RawTensor {
	return map[string]*tensor.RawTensor{}
}

// LoadStateDict is a no-op.
func (f *Flatten[B]) LoadStateDict(map[string]*tensor.RawTensor) error { return nil }
