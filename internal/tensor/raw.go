package tensor

import (
	"fmt"
	"sync/atomic"
	"unsafe"
)

// Device identifies where tensor memory lives.
type Device int

// Supported devices.
const (
	CPU Device = iota
)

// String returns a human-readable device name.
func (d Device) String() string {
	if d == CPU {
		return "CPU"
	}
	return "Unknown"
}

// buffer is the reference-counted storage shared between RawTensor clones.
// Backends may write in place only while a single RawTensor references it.
type buffer struct {
	data []byte
	refs atomic.Int32
}

func newBuffer(size int) *buffer {
	b := &buffer{data: make([]byte, size)}
	b.refs.Store(1)
	return b
}

// RawTensor is the untyped tensor representation passed to backends.
type RawTensor struct {
	buf    *buffer
	shape  Shape
	stride []int
	dtype  DataType
	device Device
}

// NewRaw allocates a zero-filled RawTensor.
func NewRaw(shape Shape, dtype DataType, device Device) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}
	return &RawTensor{
		buf:    newBuffer(shape.NumElements() * dtype.Size()),
		shape:  shape.Clone(),
		stride: shape.ComputeStrides(),
		dtype:  dtype,
		device: device,
	}, nil
}

// MustNewRaw is NewRaw for shapes computed by kernels, where an invalid shape is a bug.
func MustNewRaw(shape Shape, dtype DataType, device Device) *RawTensor {
	r, err := NewRaw(shape, dtype, device)
	if err != nil {
		panic(err)
	}
	return r
}

// Shape returns the tensor's dimensions.
func (r *RawTensor) Shape() Shape { return r.shape }

// Strides returns the row-major memory strides.
func (r *RawTensor) Strides() []int { return r.stride }

// DType returns the element type.
func (r *RawTensor) DType() DataType { return r.dtype }

// Device returns the device holding the data.
func (r *RawTensor) Device() Device { return r.device }

// NumElements returns the number of elements.
func (r *RawTensor) NumElements() int { return r.shape.NumElements() }

// ByteSize returns the payload size in bytes.
func (r *RawTensor) ByteSize() int { return r.NumElements() * r.dtype.Size() }

// Data returns the raw little-endian payload. Writes are visible to every clone.
func (r *RawTensor) Data() []byte { return r.buf.data }

// AsFloat32 returns a zero-copy []float32 view of the data.
func (r *RawTensor) AsFloat32() []float32 {
	r.mustBe(Float32)
	//nolint:gosec // length bounded by NumElements
	return unsafe.Slice((*float32)(unsafe.Pointer(&r.buf.data[0])), r.NumElements())
}

// AsFloat64 returns a zero-copy []float64 view of the data.
func (r *RawTensor) AsFloat64() []float64 {
	r.mustBe(Float64)
	//nolint:gosec // length bounded by NumElements
	return unsafe.Slice((*float64)(unsafe.Pointer(&r.buf.data[0])), r.NumElements())
}

// AsInt32 returns a zero-copy []int32 view of the data.
func (r *RawTensor) AsInt32() []int32 {
	r.mustBe(Int32)
	//nolint:gosec // length bounded by NumElements
	return unsafe.Slice((*int32)(unsafe.Pointer(&r.buf.data[0])), r.NumElements())
}

// AsInt64 returns a zero-copy []int64 view of the data.
func (r *RawTensor) AsInt64() []int64 {
	r.mustBe(Int64)
	//nolint:gosec // length bounded by NumElements
	return unsafe.Slice((*int64)(unsafe.Pointer(&r.buf.data[0])), r.NumElements())
}

// AsUint8 returns the data as bytes.
func (r *RawTensor) AsUint8() []uint8 {
	r.mustBe(Uint8)
	return r.buf.data
}

func (r *RawTensor) mustBe(dt DataType) {
	if r.dtype != dt {
		panic(fmt.Sprintf("tensor dtype is %s, not %s", r.dtype, dt))
	}
}

// Clone returns a RawTensor sharing this buffer. The shared buffer is no longer
// unique, so neither tensor will be modified in place afterwards.
func (r *RawTensor) Clone() *RawTensor {
	r.buf.refs.Add(1)
	return &RawTensor{
		buf:    r.buf,
		shape:  r.shape.Clone(),
		stride: append([]int(nil), r.stride...),
		dtype:  r.dtype,
		device: r.device,
	}
}

// Copy returns a RawTensor with its own copy of the data.
func (r *RawTensor) Copy() *RawTensor {
	out := MustNewRaw(r.shape, r.dtype, r.device)
	copy(out.buf.data, r.buf.data)
	return out
}

// WithShape returns a RawTensor that shares the buffer under a new shape
// with the same element count.
func (r *RawTensor) WithShape(shape Shape) *RawTensor {
	if shape.NumElements() != r.NumElements() {
		panic(fmt.Sprintf("cannot view shape %v as %v", r.shape, shape))
	}
	view := r.Clone()
	view.shape = shape.Clone()
	view.stride = shape.ComputeStrides()
	return view
}

// Release drops this tensor's reference to the shared buffer.
func (r *RawTensor) Release() {
	if r.buf.refs.Add(-1) == 0 {
		r.buf.data = nil
	}
}

// IsUnique reports whether this is the only reference to the buffer,
// which allows backends to write results in place.
func (r *RawTensor) IsUnique() bool {
	return r.buf.refs.Load() == 1
}

// ForceNonUnique pins the buffer so backends cannot reuse it in place.
// The returned function undoes the pin and is meant to be deferred:
//
//	defer x.ForceNonUnique()()
func (r *RawTensor) ForceNonUnique() func() {
	r.buf.refs.Add(1)
	return func() {
		r.buf.refs.Add(-1)
	}
}
