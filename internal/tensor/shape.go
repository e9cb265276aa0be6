package tensor

import "fmt"

// Shape represents the dimensions of a tensor, outermost first.
type Shape []int

// NumElements returns the product of all dimensions (1 for a scalar).
func (s Shape) NumElements() int {
	n := 1
	for _, dim := range s {
		n *= dim
	}
	return n
}

// Validate checks that every dimension is positive.
func (s Shape) Validate() error {
	for i, dim := range s {
		if dim <= 0 {
			return fmt.Errorf("invalid dimension at index %d: %d (must be > 0)", i, dim)
		}
	}
	return nil
}

// Equal reports whether two shapes have identical dimensions.
func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy of the shape.
func (s Shape) Clone() Shape {
	return append(Shape(nil), s...)
}

// ComputeStrides returns row-major strides for the shape.
func (s Shape) ComputeStrides() []int {
	strides := make([]int, len(s))
	acc := 1
	for i := len(s) - 1; i >= 0; i-- {
		strides[i] = acc
		acc *= s[i]
	}
	return strides
}

// NormalizeDim resolves a possibly negative dimension index against the rank.
func (s Shape) NormalizeDim(dim int) int {
	if dim < 0 {
		dim += len(s)
	}
	if dim < 0 || dim >= len(s) {
		panic(fmt.Sprintf("dimension %d out of range for shape %v", dim, s))
	}
	return dim
}

// BroadcastShapes applies NumPy broadcasting rules to a and b.
//
// Shapes are aligned from the right; a missing dimension counts as 1, and two
// dimensions are compatible when they are equal or one of them is 1.
// The boolean result reports whether either operand has to be expanded.
//
//	(3, 1) + (3, 5) -> (3, 5), true
//	(64,)  + (8, 64) -> (8, 64), true
//	(3, 4) + (3, 5) -> error
func BroadcastShapes(a, b Shape) (Shape, bool, error) {
	rank := max(len(a), len(b))
	result := make(Shape, rank)
	expanded := len(a) != len(b)

	for i := 1; i <= rank; i++ {
		aDim, bDim := 1, 1
		if i <= len(a) {
			aDim = a[len(a)-i]
		}
		if i <= len(b) {
			bDim = b[len(b)-i]
		}

		switch {
		case aDim == bDim:
			result[rank-i] = aDim
		case aDim == 1:
			result[rank-i] = bDim
			expanded = true
		case bDim == 1:
			result[rank-i] = aDim
			expanded = true
		default:
			return nil, false, fmt.Errorf("shapes not compatible for broadcasting: %v vs %v (dimension %d: %d vs %d)",
				a, b, rank-i, aDim, bDim)
		}
	}

	return result, expanded, nil
}
