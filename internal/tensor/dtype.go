// Package tensor provides the tensor types shared by the backends, autodiff and nn layers.
package tensor

import "fmt"

// DType is a constraint for supported tensor element types.
type DType interface {
	~float32 | ~float64 | ~int32 | ~int64 | ~uint8
}

// DataType is the runtime element type of a RawTensor.
type DataType int

// Supported data types.
const (
	Float32 DataType = iota
	Float64
	Int32
	Int64
	Uint8
)

// Size returns the byte size of one element.
func (dt DataType) Size() int {
	switch dt {
	case Float32, Int32:
		return 4
	case Float64, Int64:
		return 8
	case Uint8:
		return 1
	default:
		panic(fmt.Sprintf("unknown data type %d", int(dt)))
	}
}

// String returns the lowercase name used in checkpoint headers.
func (dt DataType) String() string {
	switch dt {
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Uint8:
		return "uint8"
	default:
		return "unknown"
	}
}

// ParseDataType is the inverse of DataType.String.
func ParseDataType(name string) (DataType, error) {
	for _, dt := range []DataType{Float32, Float64, Int32, Int64, Uint8} {
		if dt.String() == name {
			return dt, nil
		}
	}
	return 0, fmt.Errorf("unknown dtype %q", name)
}

// dataTypeOf maps the generic element type to its runtime tag.
func dataTypeOf[T DType]() DataType {
	var zero T
	switch any(zero).(type) {
	case float32:
		return Float32
	case float64:
		return Float64
	case int32:
		return Int32
	case int64:
		return Int64
	case uint8:
		return Uint8
	default:
		panic("unsupported element type")
	}
}
