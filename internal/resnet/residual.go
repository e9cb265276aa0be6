package resnet

import (
	"math/rand"

	"github.com/born-ml/resnet/internal/nn"
	"github.com/born-ml/resnet/internal/tensor"
)

// Residual is the basic two-convolution residual block:
//
//	y = relu(bn1(conv1(x)))
//	y = bn2(conv2(y))
//	out = relu(y + shortcut(x))
//
// The shortcut is the identity, or a 1x1 convolution (conv3) with the block
// stride when the block changes channels or resolution.
type Residual[B tensor.Backend] struct {
	conv1 *nn.Conv2D[B]
	bn1   *nn.BatchNorm2D[B]
	conv2 *nn.Conv2D[B]
	bn2   *nn.BatchNorm2D[B]
	conv3 *nn.Conv2D[B] // nil for an identity shortcut

	backend B
}

// NewResidual creates a residual block. With useProjection unset, inChannels
// must equal outChannels and stride must be 1.
func NewResidual[B tensor.Backend](inChannels, outChannels int, useProjection bool, stride int, rng *rand.Rand, backend B) *Residual[B] {
	r := &Residual[B]{
		conv1:   nn.NewConv2D(inChannels, outChannels, 3, stride, 1, true, rng, backend),
		bn1:     nn.NewBatchNorm2D(outChannels, backend),
		conv2:   nn.NewConv2D(outChannels, outChannels, 3, 1, 1, true, rng, backend),
		bn2:     nn.NewBatchNorm2D(outChannels, backend),
		backend: backend,
	}
	if useProjection {
		r.conv3 = nn.NewConv2D(inChannels, outChannels, 1, stride, 0, true, rng, backend)
	}
	return r
}

// Forward runs the block on x of shape [N, C_in, H, W].
func (r *Residual[B]) Forward(x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	y := relu(r.bn1.Forward(r.conv1.Forward(x)))
	y = r.bn2.Forward(r.conv2.Forward(y))

	shortcut := x
	if r.conv3 != nil {
		shortcut = r.conv3.Forward(x)
	}
	// y is freshly computed, so it is the side that may be overwritten.
	return relu(y.Add(shortcut))
}

// Parameters returns the parameters of every layer in the block.
func (r *Residual[B]) Parameters() []*nn.Parameter[B] {
	var params []*nn.Parameter[B]
	params = append(params, r.conv1.Parameters()...)
	params = append(params, r.bn1.Parameters()...)
	params = append(params, r.conv2.Parameters()...)
	params = append(params, r.bn2.Parameters()...)
	if r.conv3 != nil {
		params = append(params, r.conv3.Parameters()...)
	}
	return params
}

// Train switches both batch norms to batch statistics.
func (r *Residual[B]) Train() {
	r.bn1.Train()
	r.bn2.Train()
}

// Eval switches both batch norms to running statistics.
func (r *Residual[B]) Eval() {
	r.bn1.Eval()
	r.bn2.Eval()
}

// Training reports whether the block is in training mode.
func (r *Residual[B]) Training() bool { return r.bn1.Training() }

// StateDict returns conv1, bn1, conv2, bn2 and, when present, conv3 state.
func (r *Residual[B]) StateDict() map[string]*tensor.RawTensor {
	return nn.StateDictOf(r.named())
}

// LoadStateDict loads every layer of the block.
func (r *Residual[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	return nn.LoadStateDictOf(r.named(), stateDict)
}

func (r *Residual[B]) named() []nn.NamedState {
	named := []nn.NamedState{
		{Name: "conv1", Module: r.conv1},
		{Name: "bn1", Module: r.bn1},
		{Name: "conv2", Module: r.conv2},
		{Name: "bn2", Module: r.bn2},
	}
	if r.conv3 != nil {
		named = append(named, nn.NamedState{Name: "conv3", Module: r.conv3})
	}
	return named
}

func relu[B tensor.Backend](x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	b := x.Backend()
	return tensor.New[float32](b.ReLU(x.Raw()), b)
}
