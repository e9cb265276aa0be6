// Package cpu implements tensor.Backend in pure Go, using gonum BLAS for the
// matrix products behind MatMul and convolution.
package cpu

import (
	"fmt"

	"github.com/born-ml/resnet/internal/parallel"
	"github.com/born-ml/resnet/internal/tensor"
)

var _ tensor.Backend = (*CPUBackend)(nil)

// CPUBackend runs kernels on the host CPU.
type CPUBackend struct {
	device tensor.Device
	par    parallel.Config
}

// New creates a CPU backend using every physical core.
func New() *CPUBackend {
	return NewWithConfig(parallel.DefaultConfig())
}

// NewWithConfig creates a CPU backend with an explicit worker configuration.
func NewWithConfig(cfg parallel.Config) *CPUBackend {
	return &CPUBackend{
		device: tensor.CPU,
		par:    cfg,
	}
}

// Name returns the backend name.
func (cpu *CPUBackend) Name() string {
	return "CPU"
}

// Device returns the compute device.
func (cpu *CPUBackend) Device() tensor.Device {
	return cpu.device
}

// Parallel returns the worker configuration used by the kernels.
func (cpu *CPUBackend) Parallel() parallel.Config {
	return cpu.par
}

// Add performs element-wise addition with NumPy-style broadcasting.
func (cpu *CPUBackend) Add(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binary("add", a, b, opAdd)
}

// Sub performs element-wise subtraction with broadcasting.
func (cpu *CPUBackend) Sub(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binary("sub", a, b, opSub)
}

// Mul performs element-wise multiplication with broadcasting.
func (cpu *CPUBackend) Mul(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binary("mul", a, b, opMul)
}

// Div performs element-wise division with broadcasting.
func (cpu *CPUBackend) Div(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binary("div", a, b, opDiv)
}

// binary dispatches an element-wise op. When shapes match and a holds the only
// reference to its buffer, the result is written into a.
func (cpu *CPUBackend) binary(name string, a, b *tensor.RawTensor, op binaryOp) *tensor.RawTensor {
	if a.DType() != b.DType() {
		panic(fmt.Sprintf("%s: dtype mismatch %s vs %s", name, a.DType(), b.DType()))
	}
	outShape, needsBroadcast, err := tensor.BroadcastShapes(a.Shape(), b.Shape())
	if err != nil {
		panic(fmt.Sprintf("%s: %v", name, err))
	}

	if !needsBroadcast && a.Shape().Equal(b.Shape()) {
		result := a
		if !a.IsUnique() {
			result = tensor.MustNewRaw(outShape, a.DType(), cpu.device)
		}
		switch a.DType() {
		case tensor.Float32:
			applySame(op, result.AsFloat32(), a.AsFloat32(), b.AsFloat32())
		case tensor.Float64:
			applySame(op, result.AsFloat64(), a.AsFloat64(), b.AsFloat64())
		case tensor.Int32:
			applySame(op, result.AsInt32(), a.AsInt32(), b.AsInt32())
		case tensor.Int64:
			applySame(op, result.AsInt64(), a.AsInt64(), b.AsInt64())
		default:
			panic(fmt.Sprintf("%s: unsupported dtype %s", name, a.DType()))
		}
		return result
	}

	result := tensor.MustNewRaw(outShape, a.DType(), cpu.device)
	switch a.DType() {
	case tensor.Float32:
		applyBroadcast(op, result.AsFloat32(), a.AsFloat32(), b.AsFloat32(), a.Shape(), b.Shape(), outShape)
	case tensor.Float64:
		applyBroadcast(op, result.AsFloat64(), a.AsFloat64(), b.AsFloat64(), a.Shape(), b.Shape(), outShape)
	case tensor.Int32:
		applyBroadcast(op, result.AsInt32(), a.AsInt32(), b.AsInt32(), a.Shape(), b.Shape(), outShape)
	case tensor.Int64:
		applyBroadcast(op, result.AsInt64(), a.AsInt64(), b.AsInt64(), a.Shape(), b.Shape(), outShape)
	default:
		panic(fmt.Sprintf("%s: unsupported dtype %s", name, a.DType()))
	}
	return result
}
