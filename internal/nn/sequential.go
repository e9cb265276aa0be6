package nn

import (
	"fmt"

	"github.com/born-ml/resnet/internal/tensor"
)

// Sequential chains modules so that each output feeds the next module.
//
// Example:
//
//	stem := nn.NewSequential[B](
//	    nn.NewConv2D(1, 64, 7, 2, 3, true, rng, backend),
//	    nn.NewBatchNorm2D(64, backend),
//	    nn.NewReLU[B](),
//	    nn.NewMaxPool2D[B](3, 2, 1),
//	)
//
// State dict keys are prefixed with the module index ("0.weight", "1.running_mean").
type Sequential[B tensor.Backend] struct {
	modules  []Module[B]
	training bool
}

// NewSequential creates a new Sequential container.
func NewSequential[B tensor.Backend](modules ...Module[B]) *Sequential[B] {
	return &Sequential[B]{
		modules:  modules,
		training: true,
	}
}

// Forward applies all modules in sequence.
func (s *Sequential[B]) Forward(input *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	output := input
	for _, module := range s.modules {
		output = module.Forward(output)
	}
	return output
}

// Parameters returns the parameters of all modules in order.
func (s *Sequential[B]) Parameters() []*Parameter[B] {
	var params []*Parameter[B]
	for _, module := range s.modules {
		params = append(params, module.Parameters()...)
	}
	return params
}

// Add appends a module to the sequence.
func (s *Sequential[B]) Add(module Module[B]) {
	s.modules = append(s.modules, module)
}

// Len returns the number of modules in the sequence.
func (s *Sequential[B]) Len() int {
	return len(s.modules)
}

// Module returns the module at the given index.
//
// Panics if index is out of bounds.
func (s *Sequential[B]) Module(index int) Module[B] {
	if index < 0 || index >= len(s.modules) {
		panic("Sequential.Module: index out of bounds")
	}
	return s.modules[index]
}

// Train puts every mode-aware child into training mode.
func (s *Sequential[B]) Train() {
	s.training = true
	for _, m := range s.modules {
		SetTraining(m, true)
	}
}

// Eval puts every mode-aware child into evaluation mode.
func (s *Sequential[B]) Eval() {
	s.training = false
	for _, m := range s.modules {
		SetTraining(m, false)
	}
}

// Training reports the mode last set with Train or Eval.
func (s *Sequential[B]) Training() bool {
	return s.training
}

// StateDict returns child state prefixed with the module index.
func (s *Sequential[B]) StateDict() map[string]*tensor.RawTensor {
	return StateDictOf(s.named())
}

// LoadStateDict loads each child from its indexed slice of stateDict.
func (s *Sequential[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	return LoadStateDictOf(s.named(), stateDict)
}

func (s *Sequential[B]) named() []NamedState {
	named := make([]NamedState, len(s.modules))
	for i, m := range s.modules {
		named[i] = NamedState{Name: fmt.Sprint(i), Module: m}
	}
	return named
}
