package nn

import (
	"fmt"

	"github.com/born-ml/resnet/internal/tensor"
)

// BatchNorm2D normalizes each channel of an NCHW tensor.
//
// In training mode the batch mean and biased variance normalize the input and
// are folded into the running statistics:
//
//	running_mean = (1 - momentum) * running_mean + momentum * mean
//	running_var  = (1 - momentum) * running_var + momentum * var * M / (M - 1)
//
// where M = N * H * W. In evaluation mode the running statistics are used
// and the layer is a fixed per-channel affine map.
//
// State dict keys: weight (gamma), bias (beta), running_mean, running_var.
type BatchNorm2D[B tensor.Backend] struct {
	numFeatures int
	eps         float32
	momentum    float32
	training    bool

	gamma *Parameter[B] // [C]
	beta  *Parameter[B] // [C]

	runningMean *tensor.Tensor[float32, B] // [C]
	runningVar  *tensor.Tensor[float32, B] // [C]

	backend B
}

// NewBatchNorm2D creates a batch norm layer with eps=1e-5 and momentum=0.1,
// starting in training mode.
func NewBatchNorm2D[B tensor.Backend](numFeatures int, backend B) *BatchNorm2D[B] {
	if numFeatures <= 0 {
		panic(fmt.Sprintf("batchnorm2d: invalid number of features %d", numFeatures))
	}
	shape := tensor.Shape{numFeatures}
	return &BatchNorm2D[B]{
		numFeatures: numFeatures,
		eps:         1e-5,
		momentum:    0.1,
		training:    true,
		gamma:       NewParameter("weight", tensor.Ones[float32](shape, backend)),
		beta:        NewParameter("bias", tensor.Zeros[float32](shape, backend)),
		runningMean: tensor.Zeros[float32](shape, backend),
		runningVar:  tensor.Ones[float32](shape, backend),
		backend:     backend,
	}
}

// Forward normalizes input of shape [N, C, H, W].
func (bn *BatchNorm2D[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	shape := input.Shape()
	if len(shape) != 4 || shape[1] != bn.numFeatures {
		panic(fmt.Sprintf("BatchNorm2D.Forward: expected [N, %d, H, W], got shape %v", bn.numFeatures, shape))
	}

	x := input.Raw()
	gamma, beta := bn.gamma.Raw(), bn.beta.Raw()

	if !bn.training {
		out := bn.backend.BatchNorm2D(x, gamma, beta, bn.runningMean.Raw(), bn.runningVar.Raw(), bn.eps)
		return tensor.New[float32](out, bn.backend)
	}

	count := shape[0] * shape[2] * shape[3]
	if count < 2 {
		panic(fmt.Sprintf("BatchNorm2D.Forward: expected more than 1 value per channel when training, got input shape %v", shape))
	}

	mean, variance := bn.backend.BatchMoments2D(x)
	out := bn.backend.BatchNorm2D(x, gamma, beta, mean, variance, bn.eps)
	bn.updateRunningStats(mean.AsFloat32(), variance.AsFloat32(), count)
	return tensor.New[float32](out, bn.backend)
}

func (bn *BatchNorm2D[B]) updateRunningStats(mean, variance []float32, count int) {
	rm := bn.runningMean.Data()
	rv := bn.runningVar.Data()
	unbias := float32(count) / float32(count-1)
	for c := range rm {
		rm[c] = (1-bn.momentum)*rm[c] + bn.momentum*mean[c]
		rv[c] = (1-bn.momentum)*rv[c] + bn.momentum*variance[c]*unbias
	}
}

// Train switches to batch statistics.
func (bn *BatchNorm2D[B]) Train() { bn.training = true }

// Eval switches to running statistics.
func (bn *BatchNorm2D[B]) Eval() { bn.training = false }

// Training reports whether the layer is in training mode.
func (bn *BatchNorm2D[B]) Training() bool { return bn.training }

// RunningMean returns the running mean buffer.
func (bn *BatchNorm2D[B]) RunningMean() *tensor.Tensor[float32, B] { return bn.runningMean }

// RunningVar returns the running variance buffer.
func (bn *BatchNorm2D[B]) RunningVar() *tensor.Tensor[float32, B] { return bn.runningVar }

// Parameters returns [gamma, beta].
func (bn *BatchNorm2D[B]) Parameters() []*Parameter[B] {
	return []*Parameter[B]{bn.gamma, bn.beta}
}

// StateDict returns the affine parameters and the running statistics.
func (bn *BatchNorm2D[B]) StateDict() map[string]*tensor.RawTensor {
	return map[string]*tensor.RawTensor{
		"weight":       bn.gamma.Raw(),
		"bias":         bn.beta.Raw(),
		"running_mean": bn.runningMean.Raw(),
		"running_var":  bn.runningVar.Raw(),
	}
}

// LoadStateDict copies all four tensors from stateDict.
func (bn *BatchNorm2D[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	state := bn.StateDict()
	for _, key := range []string{"weight", "bias", "running_mean", "running_var"} {
		if err := loadInto(state[key], stateDict, key); err != nil {
			return err
		}
	}
	return nil
}
