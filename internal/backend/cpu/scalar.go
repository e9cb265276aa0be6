package cpu

import (
	"fmt"

	"github.com/born-ml/resnet/internal/tensor"
)

// MulScalar multiplies every element by scalar.
func (cpu *CPUBackend) MulScalar(x *tensor.RawTensor, scalar any) *tensor.RawTensor {
	return cpu.scalarOp("mul_scalar", x, scalar, opMul)
}

// AddScalar adds scalar to every element.
func (cpu *CPUBackend) AddScalar(x *tensor.RawTensor, scalar any) *tensor.RawTensor {
	return cpu.scalarOp("add_scalar", x, scalar, opAdd)
}

func (cpu *CPUBackend) scalarOp(name string, x *tensor.RawTensor, scalar any, op binaryOp) *tensor.RawTensor {
	result := tensor.MustNewRaw(x.Shape(), x.DType(), cpu.device)
	switch x.DType() {
	case tensor.Float32:
		applyScalar(op, result.AsFloat32(), x.AsFloat32(), scalarAs[float32](name, scalar))
	case tensor.Float64:
		applyScalar(op, result.AsFloat64(), x.AsFloat64(), scalarAs[float64](name, scalar))
	case tensor.Int32:
		applyScalar(op, result.AsInt32(), x.AsInt32(), scalarAs[int32](name, scalar))
	case tensor.Int64:
		applyScalar(op, result.AsInt64(), x.AsInt64(), scalarAs[int64](name, scalar))
	default:
		panic(fmt.Sprintf("%s: unsupported dtype %s", name, x.DType()))
	}
	return result
}

func applyScalar[T number](op binaryOp, dst, x []T, s T) {
	for i, v := range x {
		dst[i] = apply(op, v, s)
	}
}

// scalarAs converts the untyped scalar argument to the tensor's element type.
func scalarAs[T number](name string, scalar any) T {
	switch v := scalar.(type) {
	case float32:
		return T(v)
	case float64:
		return T(v)
	case int:
		return T(v)
	case int32:
		return T(v)
	case int64:
		return T(v)
	default:
		panic(fmt.Sprintf("%s: unsupported scalar type %T", name, scalar))
	}
}

// ReLU computes max(0, x) element-wise.
func (cpu *CPUBackend) ReLU(x *tensor.RawTensor) *tensor.RawTensor {
	result := tensor.MustNewRaw(x.Shape(), x.DType(), cpu.device)
	switch x.DType() {
	case tensor.Float32:
		relu(result.AsFloat32(), x.AsFloat32())
	case tensor.Float64:
		relu(result.AsFloat64(), x.AsFloat64())
	default:
		panic(fmt.Sprintf("relu: unsupported dtype %s", x.DType()))
	}
	return result
}

func relu[T float32 | float64](dst, x []T) {
	for i, v := range x {
		if v > 0 {
			dst[i] = v
		}
	}
}
