// Package resnet defines residual networks for single-channel image
// classification, sized for 28x28 inputs such as FashionMNIST.
//
// Network layout:
//
//	conv1 7x7/2 -> bn1 -> relu -> maxpool 3x3/2
//	-> layers (one Sequential of Residual blocks per stage)
//	-> global average pool -> flatten -> fc
//
// The first block of every stage projects its shortcut with a 1x1 conv.
// Stage 0 keeps the resolution; every later stage halves it.
//
// State dict keys follow the layer names: conv1.weight, bn1.running_mean,
// layers.2.0.conv3.weight, fc.bias and so on.
package resnet

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/born-ml/resnet/internal/nn"
	"github.com/born-ml/resnet/internal/tensor"
)

// Stage describes one group of residual blocks sharing a channel width.
type Stage struct {
	Blocks   int
	Channels int
}

// Config describes a ResNet.
type Config struct {
	Name         string // recorded as the checkpoint model type
	InChannels   int
	NumClasses   int
	StemChannels int
	Arch         []Stage
}

// ResNet18Config returns the ResNet-18 layout: four stages of two blocks
// with 64, 128, 256 and 512 channels.
func ResNet18Config(numClasses int) Config {
	return Config{
		Name:         "ResNet18",
		InChannels:   1,
		NumClasses:   numClasses,
		StemChannels: 64,
		Arch:         []Stage{{2, 64}, {2, 128}, {2, 256}, {2, 512}},
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	switch {
	case c.InChannels <= 0:
		return fmt.Errorf("resnet: in_channels must be positive, got %d", c.InChannels)
	case c.NumClasses <= 0:
		return fmt.Errorf("resnet: num_classes must be positive, got %d", c.NumClasses)
	case c.StemChannels <= 0:
		return fmt.Errorf("resnet: stem_channels must be positive, got %d", c.StemChannels)
	case len(c.Arch) == 0:
		return errors.New("resnet: arch must have at least one stage")
	}
	for i, s := range c.Arch {
		if s.Blocks <= 0 || s.Channels <= 0 {
			return fmt.Errorf("resnet: stage %d needs positive blocks and channels, got %+v", i, s)
		}
	}
	return nil
}

// ResNet is a residual network classifier.
type ResNet[B tensor.Backend] struct {
	config Config

	conv1   *nn.Conv2D[B]
	bn1     *nn.BatchNorm2D[B]
	maxpool *nn.MaxPool2D[B]
	layers  *nn.Sequential[B]
	avgpool *nn.GlobalAvgPool2D[B]
	flatten *nn.Flatten[B]
	fc      *nn.Linear[B]
}

// New builds a network from config, drawing initial weights from rng.
func New[B tensor.Backend](config Config, rng *rand.Rand, backend B) (*ResNet[B], error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	m := &ResNet[B]{
		config:  config,
		conv1:   nn.NewConv2D(config.InChannels, config.StemChannels, 7, 2, 3, true, rng, backend),
		bn1:     nn.NewBatchNorm2D(config.StemChannels, backend),
		maxpool: nn.NewMaxPool2D[B](3, 2, 1),
		layers:  nn.NewSequential[B](),
		avgpool: nn.NewGlobalAvgPool2D[B](),
		flatten: nn.NewFlatten[B](),
	}

	inChannels := config.StemChannels
	for i, stage := range config.Arch {
		stride := 2
		if i == 0 {
			stride = 1
		}
		blocks := nn.NewSequential[B](NewResidual(inChannels, stage.Channels, true, stride, rng, backend))
		inChannels = stage.Channels
		for range stage.Blocks - 1 {
			blocks.Add(NewResidual(inChannels, stage.Channels, false, 1, rng, backend))
		}
		m.layers.Add(blocks)
	}

	m.fc = nn.NewLinear(inChannels, config.NumClasses, rng, backend)
	return m, nil
}

// NewResNet18 builds ResNet-18 for single-channel images.
func NewResNet18[B tensor.Backend](numClasses int, rng *rand.Rand, backend B) (*ResNet[B], error) {
	return New(ResNet18Config(numClasses), rng, backend)
}

// Config returns the configuration the network was built from.
func (m *ResNet[B]) Config() Config { return m.config }

// Forward maps images [N, C, H, W] to class scores [N, num_classes].
func (m *ResNet[B]) Forward(x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	x = relu(m.bn1.Forward(m.conv1.Forward(x)))
	x = m.maxpool.Forward(x)
	x = m.layers.Forward(x)
	x = m.avgpool.Forward(x)
	x = m.flatten.Forward(x)
	return m.fc.Forward(x)
}

// Predict returns the highest-scoring class of every image.
func (m *ResNet[B]) Predict(x *tensor.Tensor[float32, B]) []int {
	predictions := m.Forward(x).Argmax(1).Data()
	classes := make([]int, len(predictions))
	for i, p := range predictions {
		classes[i] = int(p)
	}
	return classes
}

// Parameters returns all trainable parameters in layer order.
func (m *ResNet[B]) Parameters() []*nn.Parameter[B] {
	var params []*nn.Parameter[B]
	params = append(params, m.conv1.Parameters()...)
	params = append(params, m.bn1.Parameters()...)
	params = append(params, m.layers.Parameters()...)
	params = append(params, m.fc.Parameters()...)
	return params
}

// Train puts every batch norm into training mode.
func (m *ResNet[B]) Train() {
	m.bn1.Train()
	m.layers.Train()
}

// Eval puts every batch norm into evaluation mode.
func (m *ResNet[B]) Eval() {
	m.bn1.Eval()
	m.layers.Eval()
}

// Training reports whether the network is in training mode.
func (m *ResNet[B]) Training() bool { return m.bn1.Training() }

// StateDict returns every parameter and running statistic by dotted name.
func (m *ResNet[B]) StateDict() map[string]*tensor.RawTensor {
	return nn.StateDictOf(m.named())
}

// LoadStateDict copies stateDict into the network.
func (m *ResNet[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	return nn.LoadStateDictOf(m.named(), stateDict)
}

func (m *ResNet[B]) named() []nn.NamedState {
	return []nn.NamedState{
		{Name: "conv1", Module: m.conv1},
		{Name: "bn1", Module: m.bn1},
		{Name: "layers", Module: m.layers},
		{Name: "fc", Module: m.fc},
	}
}
