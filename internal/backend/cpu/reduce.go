package cpu

import (
	"fmt"

	"github.com/born-ml/resnet/internal/tensor"
)

// SumDim sums along dim. With keepDim the reduced dimension stays as size 1.
func (cpu *CPUBackend) SumDim(x *tensor.RawTensor, dim int, keepDim bool) *tensor.RawTensor {
	return cpu.reduceDim("sumdim", x, dim, keepDim, false)
}

// MeanDim averages along dim. With keepDim the reduced dimension stays as size 1.
func (cpu *CPUBackend) MeanDim(x *tensor.RawTensor, dim int, keepDim bool) *tensor.RawTensor {
	return cpu.reduceDim("meandim", x, dim, keepDim, true)
}

func (cpu *CPUBackend) reduceDim(op string, x *tensor.RawTensor, dim int, keepDim, mean bool) *tensor.RawTensor {
	shape := x.Shape()
	dim = shape.NormalizeDim(dim)
	outer, size, inner := splitAt(shape, dim)

	result := tensor.MustNewRaw(reducedShape(shape, dim, keepDim), x.DType(), cpu.device)
	switch x.DType() {
	case tensor.Float32:
		sumAxis(result.AsFloat32(), x.AsFloat32(), outer, size, inner, mean)
	case tensor.Float64:
		sumAxis(result.AsFloat64(), x.AsFloat64(), outer, size, inner, mean)
	default:
		panic(fmt.Sprintf("%s: unsupported dtype %s", op, x.DType()))
	}
	return result
}

func sumAxis[T float32 | float64](dst, src []T, outer, size, inner int, mean bool) {
	for o := 0; o < outer; o++ {
		out := dst[o*inner : (o+1)*inner]
		for s := 0; s < size; s++ {
			row := src[(o*size+s)*inner : (o*size+s+1)*inner]
			for i, v := range row {
				out[i] += v
			}
		}
		if mean {
			for i := range out {
				out[i] /= T(size)
			}
		}
	}
}

// Argmax returns int32 indices of the maximum along dim, removing that dimension.
// Ties resolve to the lowest index.
func (cpu *CPUBackend) Argmax(x *tensor.RawTensor, dim int) *tensor.RawTensor {
	shape := x.Shape()
	dim = shape.NormalizeDim(dim)
	outer, size, inner := splitAt(shape, dim)

	outShape := reducedShape(shape, dim, false)
	if len(outShape) == 0 {
		outShape = tensor.Shape{1}
	}
	result := tensor.MustNewRaw(outShape, tensor.Int32, cpu.device)

	switch x.DType() {
	case tensor.Float32:
		argmaxAxis(result.AsInt32(), x.AsFloat32(), outer, size, inner)
	case tensor.Float64:
		argmaxAxis(result.AsInt32(), x.AsFloat64(), outer, size, inner)
	default:
		panic(fmt.Sprintf("argmax: unsupported dtype %s", x.DType()))
	}
	return result
}

func argmaxAxis[T float32 | float64](dst []int32, src []T, outer, size, inner int) {
	for o := 0; o < outer; o++ {
		for i := 0; i < inner; i++ {
			best := 0
			bestVal := src[o*size*inner+i]
			for s := 1; s < size; s++ {
				if v := src[(o*size+s)*inner+i]; v > bestVal {
					best, bestVal = s, v
				}
			}
			dst[o*inner+i] = int32(best)
		}
	}
}

// splitAt views shape as [outer, shape[dim], inner].
func splitAt(shape tensor.Shape, dim int) (outer, size, inner int) {
	outer, inner = 1, 1
	for i := 0; i < dim; i++ {
		outer *= shape[i]
	}
	for i := dim + 1; i < len(shape); i++ {
		inner *= shape[i]
	}
	return outer, shape[dim], inner
}

func reducedShape(shape tensor.Shape, dim int, keepDim bool) tensor.Shape {
	out := make(tensor.Shape, 0, len(shape))
	for i, d := range shape {
		switch {
		case i != dim:
			out = append(out, d)
		case keepDim:
			out = append(out, 1)
		}
	}
	return out
}
