package tensor

import (
	"math/rand"
)

// Zeros creates a zero-filled tensor.
func Zeros[T DType, B Backend](shape Shape, b B) *Tensor[T, B] {
	return New[T, B](MustNewRaw(shape, dataTypeOf[T](), b.Device()), b)
}

// Full creates a tensor with every element set to value.
func Full[T DType, B Backend](shape Shape, value T, b B) *Tensor[T, B] {
	t := Zeros[T, B](shape, b)
	data := t.Data()
	for i := range data {
		data[i] = value
	}
	return t
}

// Ones creates a tensor filled with ones.
func Ones[T DType, B Backend](shape Shape, b B) *Tensor[T, B] {
	return Full[T, B](shape, T(1), b)
}

// Randn fills a float tensor with standard normal samples drawn from rng.
// Passing the same seeded source reproduces the same weights.
func Randn[T DType, B Backend](shape Shape, rng *rand.Rand, b B) *Tensor[T, B] {
	t := Zeros[T, B](shape, b)
	switch data := any(t.Data()).(type) {
	case []float32:
		for i := range data {
			data[i] = float32(rng.NormFloat64())
		}
	case []float64:
		for i := range data {
			data[i] = rng.NormFloat64()
		}
	default:
		panic("Randn only supports float32 and float64 types")
	}
	return t
}

// Uniform fills a float tensor with samples from U(low, high).
func Uniform[T DType, B Backend](shape Shape, low, high float64, rng *rand.Rand, b B) *Tensor[T, B] {
	t := Zeros[T, B](shape, b)
	span := high - low
	switch data := any(t.Data()).(type) {
	case []float32:
		for i := range data {
			data[i] = float32(low + span*rng.Float64())
		}
	case []float64:
		for i := range data {
			data[i] = low + span*rng.Float64()
		}
	default:
		panic("Uniform only supports float32 and float64 types")
	}
	return t
}
