package nn

import (
	"fmt"

	"github.com/born-ml/resnet/internal/tensor"
)

// MaxPool2D takes the maximum over square windows. Padded cells never win.
//
// Example:
//
//	pool := nn.NewMaxPool2D[B](3, 2, 1)
//	out := pool.Forward(x) // [N, C, 14, 14] -> [N, C, 7, 7]
type MaxPool2D[B tensor.Backend] struct {
	kernelSize int
	stride     int
	padding    int
}

// NewMaxPool2D creates a max pooling layer.
func NewMaxPool2D[B tensor.Backend](kernelSize, stride, padding int) *MaxPool2D[B] {
	if kernelSize <= 0 || stride <= 0 {
		panic(fmt.Sprintf("maxpool2d: invalid kernel %d or stride %d", kernelSize, stride))
	}
	if padding < 0 || 2*padding > kernelSize {
		panic(fmt.Sprintf("maxpool2d: padding %d must be in [0, kernel/2]", padding))
	}
	return &MaxPool2D[B]{kernelSize: kernelSize, stride: stride, padding: padding}
}

// Forward pools input of shape [N, C, H, W].
func (m *MaxPool2D[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	b := input.Backend()
	return tensor.New[float32](b.MaxPool2D(input.Raw(), m.kernelSize, m.stride, m.padding), b)
}

// Parameters returns nil.
func (m *MaxPool2D[B]) Parameters() []*Parameter[B] { return nil }

// StateDict returns an empty map.
func (m *MaxPool2D[B]) StateDict() map[string]*tensor.RawTensor {
	return map[string]*tensor.RawTensor{}
}

// LoadStateDict is a no-op.
func (m *MaxPool2D[B]) LoadStateDict(map[string]*tensor.RawTensor) error { return nil }
