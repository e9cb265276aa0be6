package cpu

import (
	"fmt"
	"math"

	"github.com/born-ml/resnet/internal/parallel"
	"github.com/born-ml/resnet/internal/tensor"
)

// BatchMoments2D returns the per-channel mean and biased variance of an NCHW
// tensor, reduced over N, H and W. Both results have shape [C].
func (cpu *CPUBackend) BatchMoments2D(x *tensor.RawTensor) (mean, variance *tensor.RawTensor) {
	n, c, hw := channelGeometry("batch_moments2d", x)

	mean = tensor.MustNewRaw(tensor.Shape{c}, tensor.Float32, cpu.device)
	variance = tensor.MustNewRaw(tensor.Shape{c}, tensor.Float32, cpu.device)
	data := x.AsFloat32()
	m := mean.AsFloat32()
	v := variance.AsFloat32()
	count := float64(n * hw)

	parallel.For(c, func(ch int) {
		var sum float64
		for i := 0; i < n; i++ {
			for _, val := range data[(i*c+ch)*hw : (i*c+ch+1)*hw] {
				sum += float64(val)
			}
		}
		mu := sum / count

		var sq float64
		for i := 0; i < n; i++ {
			for _, val := range data[(i*c+ch)*hw : (i*c+ch+1)*hw] {
				d := float64(val) - mu
				sq += d * d
			}
		}
		m[ch] = float32(mu)
		v[ch] = float32(sq / count)
	}, cpu.par.Coarse())

	return mean, variance
}

// BatchNorm2D normalizes every channel of an NCHW tensor with the given
// statistics: y = gamma * (x - mean) / sqrt(variance + eps) + beta.
func (cpu *CPUBackend) BatchNorm2D(x, gamma, beta, mean, variance *tensor.RawTensor, eps float32) *tensor.RawTensor {
	n, c, hw := channelGeometry("batchnorm2d", x)
	for _, p := range []*tensor.RawTensor{gamma, beta, mean, variance} {
		if p.NumElements() != c {
			panic(fmt.Sprintf("batchnorm2d: per-channel tensor has %d elements, input has %d channels", p.NumElements(), c))
		}
	}

	result := tensor.MustNewRaw(x.Shape(), tensor.Float32, cpu.device)
	in := x.AsFloat32()
	out := result.AsFloat32()
	g := gamma.AsFloat32()
	b := beta.AsFloat32()
	m := mean.AsFloat32()
	v := variance.AsFloat32()

	parallel.For(n*c, func(plane int) {
		ch := plane % c
		scale := g[ch] / float32(math.Sqrt(float64(v[ch]+eps)))
		shift := b[ch] - m[ch]*scale
		src := in[plane*hw : (plane+1)*hw]
		dst := out[plane*hw : (plane+1)*hw]
		for i, val := range src {
			dst[i] = val*scale + shift
		}
	}, cpu.par)

	return result
}

func channelGeometry(op string, x *tensor.RawTensor) (n, c, hw int) {
	shape := x.Shape()
	if len(shape) != 4 {
		panic(fmt.Sprintf("%s: expected 4D input [N, C, H, W], got %v", op, shape))
	}
	if x.DType() != tensor.Float32 {
		panic(fmt.Sprintf("%s: only float32 supported, got %s", op, x.DType()))
	}
	return shape[0], shape[1], shape[2] * shape[3]
}
