package nn

import (
	"math"
	"math/rand"

	"github.com/born-ml/resnet/internal/tensor"
)

// KaimingUniform draws weights from U(-b, b) with b = sqrt(6 / ((1 + a²) * fanIn)).
//
// With a = √5, the default for Conv2D and Linear, the bound reduces to
// 1/sqrt(fanIn), which matches the usual initialization of these layers.
func KaimingUniform[B tensor.Backend](fanIn int, a float64, shape tensor.Shape, rng *rand.Rand, backend B) *tensor.Tensor[float32, B] {
	bound := math.Sqrt(6.0 / ((1 + a*a) * float64(fanIn)))
	return tensor.Uniform[float32](shape, -bound, bound, rng, backend)
}

// fanInBias draws a bias vector from U(-1/sqrt(fanIn), 1/sqrt(fanIn)).
func fanInBias[B tensor.Backend](fanIn, size int, rng *rand.Rand, backend B) *tensor.Tensor[float32, B] {
	bound := 1 / math.Sqrt(float64(fanIn))
	return tensor.Uniform[float32](tensor.Shape{size}, -bound, bound, rng, backend)
}
