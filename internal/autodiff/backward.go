package autodiff

import (
	"fmt"

	"github.com/born-ml/resnet/internal/tensor"
)

// BackwardCapable is implemented by backends that own a gradient tape.
type BackwardCapable interface {
	tensor.Backend
	GetTape() *GradientTape
}

// GetTape returns the gradient tape (implements BackwardCapable).
func (b *AutodiffBackend[B]) GetTape() *GradientTape {
	return b.tape
}

// Backward seeds t with ones and returns the gradient of every tensor reached
// from it, keyed by RawTensor.
//
// Example:
//
//	backend := autodiff.New(cpu.New())
//	backend.Tape().StartRecording()
//	y := x.Mul(x)
//	grads := autodiff.Backward(y, backend)
//	dx := grads[x.Raw()] // 2x
func Backward[T tensor.DType, B BackwardCapable](t *tensor.Tensor[T, B], backend B) map[*tensor.RawTensor]*tensor.RawTensor {
	tape := backend.GetTape()
	if tape.NumOps() == 0 {
		panic("backward: no operations recorded (did you forget to call Tape().StartRecording()?)")
	}

	outputGrad := tensor.MustNewRaw(t.Shape(), t.DType(), backend.Device())
	switch t.DType() {
	case tensor.Float32:
		data := outputGrad.AsFloat32()
		for i := range data {
			data[i] = 1
		}
	case tensor.Float64:
		data := outputGrad.AsFloat64()
		for i := range data {
			data[i] = 1
		}
	default:
		panic(fmt.Sprintf("backward: unsupported dtype %s", t.DType()))
	}

	return tape.Backward(outputGrad, backend)
}

// NoGrad runs fn with recording paused when backend owns a tape. Evaluation
// and running-statistics updates go through here so they never reach the tape.
func NoGrad(backend tensor.Backend, fn func()) {
	bc, ok := backend.(BackwardCapable)
	if !ok {
		fn()
		return
	}
	tape := bc.GetTape()
	was := tape.IsRecording()
	tape.StopRecording()
	defer func() {
		if was {
			tape.StartRecording()
		}
	}()
	fn()
}
