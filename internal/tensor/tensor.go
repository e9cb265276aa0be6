package tensor

import "fmt"

// Tensor is a typed tensor bound to a compute backend.
//
// Example:
//
//	backend := cpu.New()
//	x := tensor.Zeros[float32](tensor.Shape{64, 1, 28, 28}, backend)
//	y := x.Reshape(64, 784)
type Tensor[T DType, B Backend] struct {
	raw     *RawTensor
	backend B
}

// New wraps an existing RawTensor.
func New[T DType, B Backend](raw *RawTensor, b B) *Tensor[T, B] {
	return &Tensor[T, B]{raw: raw, backend: b}
}

// FromSlice copies data into a new tensor of the given shape.
func FromSlice[T DType, B Backend](data []T, shape Shape, b B) (*Tensor[T, B], error) {
	if shape.NumElements() != len(data) {
		return nil, fmt.Errorf("shape %v requires %d elements, but got %d", shape, shape.NumElements(), len(data))
	}
	raw, err := NewRaw(shape, dataTypeOf[T](), b.Device())
	if err != nil {
		return nil, err
	}
	t := New[T, B](raw, b)
	copy(t.Data(), data)
	return t, nil
}

// Shape returns the tensor's dimensions.
func (t *Tensor[T, B]) Shape() Shape { return t.raw.Shape() }

// DType returns the element type.
func (t *Tensor[T, B]) DType() DataType { return t.raw.DType() }

// Device returns the device holding the data.
func (t *Tensor[T, B]) Device() Device { return t.raw.Device() }

// NumElements returns the number of elements.
func (t *Tensor[T, B]) NumElements() int { return t.raw.NumElements() }

// Raw returns the underlying RawTensor for backend calls.
func (t *Tensor[T, B]) Raw() *RawTensor { return t.raw }

// Backend returns the backend the tensor computes on.
func (t *Tensor[T, B]) Backend() B { return t.backend }

// Data returns a zero-copy typed view of the elements.
// Writing to the slice writes to the tensor.
func (t *Tensor[T, B]) Data() []T {
	switch t.raw.DType() {
	case Float32:
		return any(t.raw.AsFloat32()).([]T)
	case Float64:
		return any(t.raw.AsFloat64()).([]T)
	case Int32:
		return any(t.raw.AsInt32()).([]T)
	case Int64:
		return any(t.raw.AsInt64()).([]T)
	case Uint8:
		return any(t.raw.AsUint8()).([]T)
	default:
		panic("unsupported type")
	}
}

// Item returns the single value of a one-element tensor.
func (t *Tensor[T, B]) Item() T {
	if t.NumElements() != 1 {
		panic(fmt.Sprintf("Item() requires a single element, got shape %v", t.Shape()))
	}
	return t.Data()[0]
}

// At returns the element at the given indices.
func (t *Tensor[T, B]) At(indices ...int) T {
	return t.Data()[t.offset(indices)]
}

// Set writes value at the given indices.
func (t *Tensor[T, B]) Set(value T, indices ...int) {
	t.Data()[t.offset(indices)] = value
}

func (t *Tensor[T, B]) offset(indices []int) int {
	shape := t.Shape()
	if len(indices) != len(shape) {
		panic(fmt.Sprintf("expected %d indices, got %d", len(shape), len(indices)))
	}
	offset := 0
	for i, idx := range indices {
		if idx < 0 || idx >= shape[i] {
			panic(fmt.Sprintf("index %d out of bounds for dimension %d (size %d)", idx, i, shape[i]))
		}
		offset += idx * t.raw.Strides()[i]
	}
	return offset
}

// Detach returns a tensor with its own copy of the data, unconnected to any
// recorded computation.
func (t *Tensor[T, B]) Detach() *Tensor[T, B] {
	return New[T, B](t.raw.Copy(), t.backend)
}

// String returns a short description such as "Tensor[float32][64 10] on CPU".
func (t *Tensor[T, B]) String() string {
	return fmt.Sprintf("Tensor[%s]%v on %s", t.raw.DType(), t.raw.Shape(), t.raw.Device())
}
