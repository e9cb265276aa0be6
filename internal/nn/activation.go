package nn

import "github.com/born-ml/resnet/internal/tensor"

// ReLU applies max(0, x) element-wise.
type ReLU[B tensor.Backend] struct{}

// NewReLU creates a ReLU activation.
func NewReLU[B tensor.Backend]() *ReLU[B] {
	return &ReLU[B]{}
}

// Forward applies ReLU to input.
func (r *ReLU[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	b := input.Backend()
	return tensor.New[float32](b.ReLU(input.Raw()), b)
}

// Parameters returns nil.
func (r *ReLU[B]) Parameters() []*Parameter[B] { return nil }

// StateDict returns an empty map.
func (r *ReLU[B]) StateDict() map[string]*tensor.RawTensor {
	return map[string]*tensor.RawTensor{}
}

// LoadStateDict is a no-op.
func (r *ReLU[B]) LoadStateDict(map[string]*tensor.RawTensor) error { return nil }
