package cpu

import (
	"fmt"

	"github.com/born-ml/resnet/internal/tensor"
)

// Reshape returns a view of t with a new shape. The buffer is shared, so
// neither tensor is eligible for in-place updates afterwards.
func (cpu *CPUBackend) Reshape(t *tensor.RawTensor, newShape tensor.Shape) *tensor.RawTensor {
	if err := newShape.Validate(); err != nil {
		panic(fmt.Sprintf("reshape: invalid shape: %v", err))
	}
	if t.NumElements() != newShape.NumElements() {
		panic(fmt.Sprintf("reshape: incompatible shapes: %v -> %v (different number of elements)",
			t.Shape(), newShape))
	}
	return t.WithShape(newShape)
}

// Transpose permutes dimensions. With no axes, all dimensions are reversed.
func (cpu *CPUBackend) Transpose(t *tensor.RawTensor, axes ...int) *tensor.RawTensor {
	shape := t.Shape()
	ndim := len(shape)

	if len(axes) == 0 {
		axes = make([]int, ndim)
		for i := range axes {
			axes[i] = ndim - 1 - i
		}
	}
	if len(axes) != ndim {
		panic(fmt.Sprintf("transpose: axes length %d != ndim %d", len(axes), ndim))
	}

	seen := make([]bool, ndim)
	newShape := make(tensor.Shape, ndim)
	for i, ax := range axes {
		if ax < 0 || ax >= ndim || seen[ax] {
			panic(fmt.Sprintf("transpose: invalid axes %v for %dD tensor", axes, ndim))
		}
		seen[ax] = true
		newShape[i] = shape[ax]
	}

	result := tensor.MustNewRaw(newShape, t.DType(), cpu.device)

	// srcStrides[i] is the input stride of output dimension i.
	inStrides := t.Strides()
	srcStrides := make([]int, ndim)
	for i, ax := range axes {
		srcStrides[i] = inStrides[ax]
	}
	outStrides := newShape.ComputeStrides()

	switch t.DType() {
	case tensor.Float32:
		permute(result.AsFloat32(), t.AsFloat32(), outStrides, srcStrides)
	case tensor.Float64:
		permute(result.AsFloat64(), t.AsFloat64(), outStrides, srcStrides)
	case tensor.Int32:
		permute(result.AsInt32(), t.AsInt32(), outStrides, srcStrides)
	case tensor.Int64:
		permute(result.AsInt64(), t.AsInt64(), outStrides, srcStrides)
	default:
		panic(fmt.Sprintf("transpose: unsupported dtype %s", t.DType()))
	}
	return result
}

func permute[T number](dst, src []T, outStrides, srcStrides []int) {
	for i := range dst {
		dst[i] = src[computeFlatIndex(i, outStrides, srcStrides)]
	}
}

// Expand broadcasts x to newShape, materializing the repeated values.
func (cpu *CPUBackend) Expand(x *tensor.RawTensor, newShape tensor.Shape) *tensor.RawTensor {
	outShape, _, err := tensor.BroadcastShapes(x.Shape(), newShape)
	if err != nil || !outShape.Equal(newShape) {
		panic(fmt.Sprintf("expand: cannot expand %v to %v", x.Shape(), newShape))
	}

	result := tensor.MustNewRaw(newShape, x.DType(), cpu.device)
	outStrides := newShape.ComputeStrides()
	inStrides := computeBroadcastStridesForShape(x.Shape(), newShape)

	switch x.DType() {
	case tensor.Float32:
		permute(result.AsFloat32(), x.AsFloat32(), outStrides, inStrides)
	case tensor.Float64:
		permute(result.AsFloat64(), x.AsFloat64(), outStrides, inStrides)
	case tensor.Int32:
		permute(result.AsInt32(), x.AsInt32(), outStrides, inStrides)
	case tensor.Int64:
		permute(result.AsInt64(), x.AsInt64(), outStrides, inStrides)
	default:
		panic(fmt.Sprintf("expand: unsupported dtype %s", x.DType()))
	}
	return result
}
