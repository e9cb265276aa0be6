package ops

import (
	"fmt"
	"math"

	"github.com/born-ml/resnet/internal/tensor"
)

// MaxPool2DOp records a max pooling operation for autodiff.
//
// Forward:
//
//	output[n,c,h,w] = max over the window starting at (h*stride-padding, w*stride-padding)
//
// Backward: each output gradient goes to the single input position that held
// the window maximum. Padded cells are never selected.
//
// Example (2x2 pool, stride=2):
//
//	Input:  [[1, 2],  Output: [4]  Input Grad: [[0, 0],
//	         [3, 4]]                             [0, grad]]
type MaxPool2DOp struct {
	input      *tensor.RawTensor
	output     *tensor.RawTensor
	maxIndices []int // flat input index of each output's maximum
	kernelSize int
	stride     int
	padding    int
}

// NewMaxPool2DOp creates a new MaxPool2D operation and records the argmax of
// every window, which the backward pass needs to route gradients.
func NewMaxPool2DOp(input, output *tensor.RawTensor, kernelSize, stride, padding int) *MaxPool2DOp {
	return &MaxPool2DOp{
		input:      input,
		output:     output,
		maxIndices: computeMaxIndices(input, output, kernelSize, stride, padding),
		kernelSize: kernelSize,
		stride:     stride,
		padding:    padding,
	}
}

func computeMaxIndices(input, output *tensor.RawTensor, kernelSize, stride, padding int) []int {
	if input.DType() != tensor.Float32 {
		panic(fmt.Sprintf("maxpool2d: unsupported dtype %s", input.DType()))
	}
	inShape, outShape := input.Shape(), output.Shape()
	planes, h, w := inShape[0]*inShape[1], inShape[2], inShape[3]
	hOut, wOut := outShape[2], outShape[3]

	data := input.AsFloat32()
	maxIndices := make([]int, planes*hOut*wOut)

	outIdx := 0
	for p := 0; p < planes; p++ {
		base := p * h * w
		for oy := 0; oy < hOut; oy++ {
			for ox := 0; ox < wOut; ox++ {
				best := float32(math.Inf(-1))
				bestPos := -1
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
						pos := base + iy*w + ix
						if bestPos < 0 || data[pos] > best {
							best = data[pos]
							bestPos = pos
						}
					}
				}
				maxIndices[outIdx] = bestPos
				outIdx++
			}
		}
	}
	return maxIndices
}

// Inputs returns the input tensor.
func (op *MaxPool2DOp) Inputs() []*tensor.RawTensor {
	return []*tensor.RawTensor{op.input}
}

// Output returns the output tensor.
func (op *MaxPool2DOp) Output() *tensor.RawTensor {
	return op.output
}

// Backward routes outputGrad to the recorded maxima.
func (op *MaxPool2DOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	inputGrad := backend.MaxPool2DBackward(op.input, outputGrad, op.maxIndices, op.kernelSize, op.stride, op.padding)
	return []*tensor.RawTensor{inputGrad}
}
