package cpu

import (
	"github.com/born-ml/resnet/internal/tensor"
)

type number interface {
	~float32 | ~float64 | ~int32 | ~int64
}

type binaryOp int

const (
	opAdd binaryOp = iota
	opSub
	opMul
	opDiv
)

func apply[T number](op binaryOp, x, y T) T {
	switch op {
	case opAdd:
		return x + y
	case opSub:
		return x - y
	case opMul:
		return x * y
	default:
		return x / y
	}
}

// applySame handles operands of identical shape. dst may alias a.
func applySame[T number](op binaryOp, dst, a, b []T) {
	switch op {
	case opAdd:
		for i := range dst {
			dst[i] = a[i] + b[i]
		}
	case opSub:
		for i := range dst {
			dst[i] = a[i] - b[i]
		}
	case opMul:
		for i := range dst {
			dst[i] = a[i] * b[i]
		}
	default:
		for i := range dst {
			dst[i] = a[i] / b[i]
		}
	}
}

// applyBroadcast handles operands whose shapes broadcast to outShape.
func applyBroadcast[T number](op binaryOp, dst, a, b []T, aShape, bShape, outShape tensor.Shape) {
	outStrides := outShape.ComputeStrides()
	aStrides := computeBroadcastStridesForShape(aShape, outShape)
	bStrides := computeBroadcastStridesForShape(bShape, outShape)

	for i := range dst {
		ai := computeFlatIndex(i, outStrides, aStrides)
		bi := computeFlatIndex(i, outStrides, bStrides)
		dst[i] = apply(op, a[ai], b[bi])
	}
}

// computeBroadcastStridesForShape returns strides that map an index in outShape
// onto inShape. Broadcast and left-padded dimensions get stride 0.
func computeBroadcastStridesForShape(inShape, outShape tensor.Shape) []int {
	strides := make([]int, len(outShape))
	offset := len(outShape) - len(inShape)
	inStrides := inShape.ComputeStrides()

	for i := range outShape {
		j := i - offset
		if j < 0 || inShape[j] == 1 {
			continue
		}
		strides[i] = inStrides[j]
	}
	return strides
}

// computeFlatIndex converts a flat output index to the matching input offset.
func computeFlatIndex(outIdx int, outStrides, inStrides []int) int {
	flat := 0
	for i, s := range outStrides {
		coord := outIdx / s
		outIdx %= s
		flat += coord * inStrides[i]
	}
	return flat
}
