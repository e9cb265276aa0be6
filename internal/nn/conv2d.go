package nn

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/born-ml/resnet/internal/tensor"
)

// Conv2D is a 2D convolutional layer with a square kernel.
//
// Input shape:  [batch, in_channels, height, width]
// Weight shape: [out_channels, in_channels, kernel, kernel]
// Bias shape:   [out_channels]
// Output shape: [batch, out_channels, out_h, out_w]
//
// Where:
//
//	out_h = (height + 2*padding - kernel) / stride + 1
//	out_w = (width + 2*padding - kernel) / stride + 1
//
// Example:
//
//	stem := nn.NewConv2D(1, 64, 7, 2, 3, true, rng, backend)
//	out := stem.Forward(images) // [N, 64, 14, 14] for 28x28 input
type Conv2D[B tensor.Backend] struct {
	inChannels  int
	outChannels int
	kernelSize  int
	stride      int
	padding     int

	weight *Parameter[B] // [out_channels, in_channels, kernel, kernel]
	bias   *Parameter[B] // [out_channels] or nil

	backend B
}

// NewConv2D creates a new 2D convolutional layer.
//
// Weights (and the bias, when useBias is set) are drawn from
// U(-1/sqrt(fan_in), 1/sqrt(fan_in)) with fan_in = in_channels * kernel².
func NewConv2D[B tensor.Backend](
	inChannels, outChannels int,
	kernelSize, stride, padding int,
	useBias bool,
	rng *rand.Rand,
	backend B,
) *Conv2D[B] {
	if inChannels <= 0 || outChannels <= 0 {
		panic(fmt.Sprintf("conv2d: invalid channels in=%d, out=%d", inChannels, outChannels))
	}
	if kernelSize <= 0 {
		panic(fmt.Sprintf("conv2d: invalid kernel size %d", kernelSize))
	}
	if stride <= 0 {
		panic(fmt.Sprintf("conv2d: invalid stride %d", stride))
	}
	if padding < 0 {
		panic(fmt.Sprintf("conv2d: invalid padding %d", padding))
	}

	fanIn := inChannels * kernelSize * kernelSize
	weightShape := tensor.Shape{outChannels, inChannels, kernelSize, kernelSize}
	c := &Conv2D[B]{
		inChannels:  inChannels,
		outChannels: outChannels,
		kernelSize:  kernelSize,
		stride:      stride,
		padding:     padding,
		weight:      NewParameter("weight", KaimingUniform(fanIn, math.Sqrt(5), weightShape, rng, backend)),
		backend:     backend,
	}
	if useBias {
		c.bias = NewParameter("bias", fanInBias(fanIn, outChannels, rng, backend))
	}
	return c
}

// Forward convolves input with the kernel and adds the bias per channel.
func (c *Conv2D[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	shape := input.Shape()
	if len(shape) != 4 {
		panic(fmt.Sprintf("Conv2D.Forward: expected 4D input [N, C, H, W], got shape %v", shape))
	}
	if shape[1] != c.inChannels {
		panic(fmt.Sprintf("Conv2D.Forward: expected %d input channels, got %d", c.inChannels, shape[1]))
	}

	out := tensor.New[float32](c.backend.Conv2D(input.Raw(), c.weight.Raw(), c.stride, c.padding), c.backend)
	if c.bias == nil {
		return out
	}
	return out.Add(c.bias.Tensor().Reshape(1, c.outChannels, 1, 1))
}

// OutputShape returns the output shape for an input of the given shape.
func (c *Conv2D[B]) OutputShape(inputShape tensor.Shape) tensor.Shape {
	outH := (inputShape[2]+2*c.padding-c.kernelSize)/c.stride + 1
	outW := (inputShape[3]+2*c.padding-c.kernelSize)/c.stride + 1
	return tensor.Shape{inputShape[0], c.outChannels, outH, outW}
}

// Parameters returns [weight] or [weight, bias].
func (c *Conv2D[B]) Parameters() []*Parameter[B] {
	if c.bias != nil {
		return []*Parameter[B]{c.weight, c.bias}
	}
	return []*Parameter[B]{c.weight}
}

// Weight returns the kernel parameter.
func (c *Conv2D[B]) Weight() *Parameter[B] {
	return c.weight
}

// Bias returns the bias parameter, or nil if the layer has none.
func (c *Conv2D[B]) Bias() *Parameter[B] {
	return c.bias
}

// StateDict returns weight and, when present, bias.
func (c *Conv2D[B]) StateDict() map[string]*tensor.RawTensor {
	state := map[string]*tensor.RawTensor{"weight": c.weight.Raw()}
	if c.bias != nil {
		state["bias"] = c.bias.Raw()
	}
	return state
}

// LoadStateDict copies weight and bias from stateDict.
func (c *Conv2D[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	if err := loadInto(c.weight.Raw(), stateDict, "weight"); err != nil {
		return err
	}
	if c.bias != nil {
		return loadInto(c.bias.Raw(), stateDict, "bias")
	}
	return nil
}

func (c *Conv2D[B]) String() string {
	return fmt.Sprintf("Conv2D(%d, %d, kernel_size=%d, stride=%d, padding=%d, bias=%t)",
		c.inChannels, c.outChannels, c.kernelSize, c.stride, c.padding, c.bias != nil)
}
