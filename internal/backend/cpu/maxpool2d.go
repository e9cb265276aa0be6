package cpu

import (
	"fmt"
	"math"

	"github.com/born-ml/resnet/internal/parallel"
	"github.com/born-ml/resnet/internal/tensor"
)

// MaxPool2D performs 2D max pooling over [N, C, H, W] input.
//
// Output size is (H + 2*padding - kernelSize)/stride + 1 per spatial dimension.
// Padding behaves as negative infinity, so padded cells never win.
func (cpu *CPUBackend) MaxPool2D(input *tensor.RawTensor, kernelSize, stride, padding int) *tensor.RawTensor {
	n, c, h, w, hOut, wOut := poolGeometry("maxpool2d", input, kernelSize, stride, padding)

	output := tensor.MustNewRaw(tensor.Shape{n, c, hOut, wOut}, tensor.Float32, cpu.device)
	in := input.AsFloat32()
	out := output.AsFloat32()

	parallel.For(n*c, func(plane int) {
		src := in[plane*h*w : (plane+1)*h*w]
		dst := out[plane*hOut*wOut : (plane+1)*hOut*wOut]
		for oy := 0; oy < hOut; oy++ {
			for ox := 0; ox < wOut; ox++ {
				best := float32(math.Inf(-1))
				for ky := 0; ky < kernelSize; ky++ {
					iy := oy*stride - padding + ky
					if iy < 0 || iy >= h {
						continue
					}
					for kx := 0; kx < kernelSize; kx++ {
						ix := ox*stride - padding + kx
						if ix < 0 || ix >= w {
							continue
						}
						if v := src[iy*w+ix]; v > best {
							best = v
						}
					}
				}
				dst[oy*wOut+ox] = best
			}
		}
	}, cpu.par)

	return output
}

// MaxPool2DBackward routes each output gradient to the input cell that held the
// window maximum. maxIndices holds one flat input index per output element.
func (cpu *CPUBackend) MaxPool2DBackward(input, grad *tensor.RawTensor, maxIndices []int, kernelSize, stride, padding int) *tensor.RawTensor {
	n, c, _, _, hOut, wOut := poolGeometry("maxpool2d_backward", input, kernelSize, stride, padding)
	checkGradShape("maxpool2d_backward", grad, tensor.Shape{n, c, hOut, wOut})
	if len(maxIndices) != grad.NumElements() {
		panic(fmt.Sprintf("maxpool2d_backward: %d indices for %d gradients", len(maxIndices), grad.NumElements()))
	}

	inputGrad := tensor.MustNewRaw(input.Shape(), tensor.Float32, cpu.device)
	dIn := inputGrad.AsFloat32()
	for i, g := range grad.AsFloat32() {
		dIn[maxIndices[i]] += g
	}
	return inputGrad
}

func poolGeometry(op string, input *tensor.RawTensor, kernelSize, stride, padding int) (n, c, h, w, hOut, wOut int) {
	shape := input.Shape()
	if len(shape) != 4 {
		panic(fmt.Sprintf("%s: expected 4D input [N, C, H, W], got %v", op, shape))
	}
	if input.DType() != tensor.Float32 {
		panic(fmt.Sprintf("%s: only float32 supported, got %s", op, input.DType()))
	}
	if kernelSize <= 0 || stride <= 0 || padding < 0 || 2*padding > kernelSize {
		panic(fmt.Sprintf("%s: invalid kernel %d, stride %d, padding %d", op, kernelSize, stride, padding))
	}
	n, c, h, w = shape[0], shape[1], shape[2], shape[3]
	hOut = (h+2*padding-kernelSize)/stride + 1
	wOut = (w+2*padding-kernelSize)/stride + 1
	if hOut <= 0 || wOut <= 0 {
		panic(fmt.Sprintf("%s: kernel %d larger than padded input %dx%d", op, kernelSize, h+2*padding, w+2*padding))
	}
	return n, c, h, w, hOut, wOut
}
