package optim

import (
	"fmt"

	"github.com/born-ml/resnet/internal/nn"
	"github.com/born-ml/resnet/internal/tensor"
)

// SGD implements stochastic gradient descent with optional momentum and
// L2 weight decay.
//
//	d = grad + weight_decay * param
//	velocity = momentum * velocity + d   (when momentum > 0)
//	param = param - lr * velocity        (or lr * d without momentum)
//
// Updates are written directly into the parameter buffers and never reach a
// gradient tape.
//
// Example:
//
//	optimizer := optim.NewSGD(model.Parameters(), optim.SGDConfig{
//	    LR:       1e-3,
//	    Momentum: 0.9,
//	}, backend)
type SGD[B tensor.Backend] struct {
	params      []*nn.Parameter[B]
	lr          float32
	momentum    float32
	weightDecay float32
	velocities  map[*nn.Parameter[B]]*tensor.Tensor[float32, B]
	backend     B
}

// SGDConfig holds configuration for SGD optimizer.
type SGDConfig struct {
	LR          float32 // Learning rate (default: 0.01)
	Momentum    float32 // Momentum factor, range [0, 1)
	WeightDecay float32 // L2 penalty
}

// NewSGD creates a new SGD optimizer.
func NewSGD[B tensor.Backend](params []*nn.Parameter[B], config SGDConfig, backend B) *SGD[B] {
	if config.LR == 0 {
		config.LR = 0.01
	}

	return &SGD[B]{
		params:      params,
		lr:          config.LR,
		momentum:    config.Momentum,
		weightDecay: config.WeightDecay,
		velocities:  make(map[*nn.Parameter[B]]*tensor.Tensor[float32, B]),
		backend:     backend,
	}
}

// Step performs a single optimization step.
// Parameters with no gradient are skipped.
func (s *SGD[B]) Step(grads map[*tensor.RawTensor]*tensor.RawTensor) {
	for _, param := range s.params {
		grad := getGradient(param, grads)
		if grad == nil {
			continue
		}
		if !grad.Shape().Equal(param.Tensor().Shape()) {
			panic(fmt.Sprintf("sgd: gradient shape %v does not match parameter %s %v",
				grad.Shape(), param.Name(), param.Tensor().Shape()))
		}
		param.SetGrad(tensor.New[float32](grad, s.backend))
		s.update(param, grad.AsFloat32())
	}
}

func (s *SGD[B]) update(param *nn.Parameter[B], grad []float32) {
	p := param.Tensor().Data()

	if s.momentum == 0 {
		for i, g := range grad {
			p[i] -= s.lr * (g + s.weightDecay*p[i])
		}
		return
	}

	velocity, exists := s.velocities[param]
	if !exists {
		velocity = tensor.Zeros[float32](param.Tensor().Shape(), s.backend)
		s.velocities[param] = velocity
	}
	v := velocity.Data()
	for i, g := range grad {
		v[i] = s.momentum*v[i] + g + s.weightDecay*p[i]
		p[i] -= s.lr * v[i]
	}
}

// ZeroGrad clears gradients for all parameters.
func (s *SGD[B]) ZeroGrad() {
	for _, param := range s.params {
		param.ZeroGrad()
	}
}

// GetLR returns the current learning rate.
func (s *SGD[B]) GetLR() float32 {
	return s.lr
}

// SetLR updates the learning rate.
func (s *SGD[B]) SetLR(lr float32) {
	s.lr = lr
}

// StateDict returns the velocity buffers keyed "velocity.{param_index}".
// Without momentum, or before the first step, the map is empty.
func (s *SGD[B]) StateDict() map[string]*tensor.RawTensor {
	stateDict := make(map[string]*tensor.RawTensor)
	if s.momentum == 0 {
		return stateDict
	}

	for i, param := range s.params {
		velocity, exists := s.velocities[param]
		if !exists {
			continue
		}
		stateDict[fmt.Sprintf("velocity.%d", i)] = velocity.Raw()
	}
	return stateDict
}

// LoadStateDict restores velocity buffers. Entries are copied, so the
// optimizer never shares memory with stateDict.
func (s *SGD[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	if s.momentum == 0 {
		return nil
	}

	velocities := make(map[*nn.Parameter[B]]*tensor.Tensor[float32, B])
	for i, param := range s.params {
		key := fmt.Sprintf("velocity.%d", i)
		raw, exists := stateDict[key]
		if !exists {
			continue
		}
		if !raw.Shape().Equal(param.Tensor().Shape()) {
			return fmt.Errorf("velocity shape mismatch for parameter %d: expected %v, got %v",
				i, param.Tensor().Shape(), raw.Shape())
		}
		if raw.DType() != tensor.Float32 {
			return fmt.Errorf("velocity dtype mismatch for parameter %d: expected float32, got %s", i, raw.DType())
		}
		velocities[param] = tensor.New[float32](raw.Copy(), s.backend)
	}
	s.velocities = velocities
	return nil
}
