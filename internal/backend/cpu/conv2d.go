package cpu

import (
	"fmt"

	"github.com/born-ml/resnet/internal/parallel"
	"github.com/born-ml/resnet/internal/tensor"
)

// convGeometry holds the sizes shared by the forward and backward kernels.
type convGeometry struct {
	n, cIn, h, w      int
	cOut, kh, kw      int
	hOut, wOut        int
	stride, padding   int
	colRows, colCols  int // im2col matrix is colRows x colCols
	inPlane, outPlane int // elements per image in input and output
}

func newConvGeometry(op string, input, kernel *tensor.RawTensor, stride, padding int) convGeometry {
	in := input.Shape()
	k := kernel.Shape()
	if len(in) != 4 || len(k) != 4 {
		panic(fmt.Sprintf("%s: expected 4D input and kernel, got %v and %v", op, in, k))
	}
	if in[1] != k[1] {
		panic(fmt.Sprintf("%s: input has %d channels, kernel expects %d", op, in[1], k[1]))
	}
	if input.DType() != tensor.Float32 || kernel.DType() != tensor.Float32 {
		panic(fmt.Sprintf("%s: only float32 supported, got %s", op, input.DType()))
	}
	if stride <= 0 || padding < 0 {
		panic(fmt.Sprintf("%s: invalid stride %d or padding %d", op, stride, padding))
	}

	g := convGeometry{
		n: in[0], cIn: in[1], h: in[2], w: in[3],
		cOut: k[0], kh: k[2], kw: k[3],
		stride: stride, padding: padding,
	}
	g.hOut = (g.h+2*padding-g.kh)/stride + 1
	g.wOut = (g.w+2*padding-g.kw)/stride + 1
	if g.hOut <= 0 || g.wOut <= 0 {
		panic(fmt.Sprintf("%s: kernel %dx%d larger than padded input %dx%d", op, g.kh, g.kw, g.h+2*padding, g.w+2*padding))
	}
	g.colRows = g.cIn * g.kh * g.kw
	g.colCols = g.hOut * g.wOut
	g.inPlane = g.cIn * g.h * g.w
	g.outPlane = g.cOut * g.colCols
	return g
}

// Conv2D performs 2D convolution.
//
// Input: [N, CIn, H, W], kernel: [COut, CIn, KH, KW], output: [N, COut, HOut, WOut]
// with HOut = (H + 2*padding - KH)/stride + 1.
//
// Each image is unfolded with im2col and multiplied by the kernel matrix
// [COut, CIn*KH*KW] with a single SGEMM. Images run in parallel.
func (cpu *CPUBackend) Conv2D(input, kernel *tensor.RawTensor, stride, padding int) *tensor.RawTensor {
	g := newConvGeometry("conv2d", input, kernel, stride, padding)
	output := tensor.MustNewRaw(tensor.Shape{g.n, g.cOut, g.hOut, g.wOut}, tensor.Float32, cpu.device)

	in := input.AsFloat32()
	k := kernel.AsFloat32()
	out := output.AsFloat32()

	parallel.For(g.n, func(n int) {
		col := make([]float32, g.colRows*g.colCols)
		im2col(col, in[n*g.inPlane:(n+1)*g.inPlane], g)
		gemm32(false, false, g.cOut, g.colCols, g.colRows, k, col, 0, out[n*g.outPlane:(n+1)*g.outPlane])
	}, cpu.par.Coarse())

	return output
}

// Conv2DInputBackward computes dL/dInput = col2im(K^T @ dL/dOutput) per image.
func (cpu *CPUBackend) Conv2DInputBackward(input, kernel, grad *tensor.RawTensor, stride, padding int) *tensor.RawTensor {
	g := newConvGeometry("conv2d_input_backward", input, kernel, stride, padding)
	checkGradShape("conv2d_input_backward", grad, tensor.Shape{g.n, g.cOut, g.hOut, g.wOut})

	inputGrad := tensor.MustNewRaw(input.Shape(), tensor.Float32, cpu.device)
	k := kernel.AsFloat32()
	gr := grad.AsFloat32()
	dIn := inputGrad.AsFloat32()

	parallel.For(g.n, func(n int) {
		col := make([]float32, g.colRows*g.colCols)
		gemm32(true, false, g.colRows, g.colCols, g.cOut, k, gr[n*g.outPlane:(n+1)*g.outPlane], 0, col)
		col2im(dIn[n*g.inPlane:(n+1)*g.inPlane], col, g)
	}, cpu.par.Coarse())

	return inputGrad
}

// Conv2DKernelBackward computes dL/dKernel = sum_n dL/dOutput_n @ im2col(input_n)^T.
// The batch is split across workers, each accumulating a private partial sum.
func (cpu *CPUBackend) Conv2DKernelBackward(input, kernel, grad *tensor.RawTensor, stride, padding int) *tensor.RawTensor {
	g := newConvGeometry("conv2d_kernel_backward", input, kernel, stride, padding)
	checkGradShape("conv2d_kernel_backward", grad, tensor.Shape{g.n, g.cOut, g.hOut, g.wOut})

	kernelGrad := tensor.MustNewRaw(kernel.Shape(), tensor.Float32, cpu.device)
	in := input.AsFloat32()
	gr := grad.AsFloat32()
	dK := kernelGrad.AsFloat32()

	workers := 1
	if cpu.par.Enabled {
		workers = max(1, min(cpu.par.NumWorkers, g.n))
	}
	partials := make([][]float32, workers)

	parallel.For(workers, func(wi int) {
		acc := dK
		if wi > 0 {
			acc = make([]float32, len(dK))
		}
		col := make([]float32, g.colRows*g.colCols)
		for n := wi; n < g.n; n += workers {
			im2col(col, in[n*g.inPlane:(n+1)*g.inPlane], g)
			gemm32(false, true, g.cOut, g.colRows, g.colCols, gr[n*g.outPlane:(n+1)*g.outPlane], col, 1, acc)
		}
		partials[wi] = acc
	}, cpu.par.Coarse())

	for _, p := range partials[1:] {
		for i, v := range p {
			dK[i] += v
		}
	}

	return kernelGrad
}

// im2col unfolds one image [CIn, H, W] into col [CIn*KH*KW, HOut*WOut].
// Cells that fall into the zero padding are written as 0.
func im2col(col, img []float32, g convGeometry) {
	for c := 0; c < g.cIn; c++ {
		for ky := 0; ky < g.kh; ky++ {
			for kx := 0; kx < g.kw; kx++ {
				row := ((c*g.kh+ky)*g.kw + kx) * g.colCols
				for oy := 0; oy < g.hOut; oy++ {
					dst := col[row+oy*g.wOut : row+(oy+1)*g.wOut]
					iy := oy*g.stride - g.padding + ky
					if iy < 0 || iy >= g.h {
						clear(dst)
						continue
					}
					src := img[(c*g.h+iy)*g.w : (c*g.h+iy+1)*g.w]
					for ox := range dst {
						ix := ox*g.stride - g.padding + kx
						if ix < 0 || ix >= g.w {
							dst[ox] = 0
						} else {
							dst[ox] = src[ix]
						}
					}
				}
			}
		}
	}
}

// col2im is the adjoint of im2col: it scatter-adds col back into img.
func col2im(img, col []float32, g convGeometry) {
	for c := 0; c < g.cIn; c++ {
		for ky := 0; ky < g.kh; ky++ {
			for kx := 0; kx < g.kw; kx++ {
				row := ((c*g.kh+ky)*g.kw + kx) * g.colCols
				for oy := 0; oy < g.hOut; oy++ {
					iy := oy*g.stride - g.padding + ky
					if iy < 0 || iy >= g.h {
						continue
					}
					src := col[row+oy*g.wOut : row+(oy+1)*g.wOut]
					dst := img[(c*g.h+iy)*g.w : (c*g.h+iy+1)*g.w]
					for ox, v := range src {
						ix := ox*g.stride - g.padding + kx
						if ix >= 0 && ix < g.w {
							dst[ix] += v
						}
					}
				}
			}
		}
	}
}

func checkGradShape(op string, grad *tensor.RawTensor, want tensor.Shape) {
	if !grad.Shape().Equal(want) {
		panic(fmt.Sprintf("%s: gradient shape %v, expected %v", op, grad.Shape(), want))
	}
}
