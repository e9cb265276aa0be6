package autodiff

import (
	"github.com/born-ml/resnet/internal/autodiff/ops"
	"github.com/born-ml/resnet/internal/tensor"
)

// GradientTape records operations during the forward pass and computes
// gradients during the backward pass using reverse-mode automatic differentiation.
//
// Usage:
//
//	tape := NewGradientTape()
//	tape.StartRecording()
//	loss := model.Forward(batch) // ops are recorded by AutodiffBackend
//	grads := tape.Backward(ones, backend)
type GradientTape struct {
	operations []ops.Operation // Recorded operations (in execution order)
	recording  bool            // Whether tape is currently recording
}

// NewGradientTape creates a new gradient tape.
func NewGradientTape() *GradientTape {
	// a ResNet-18 step records a few hundred ops
	return &GradientTape{
		operations: make([]ops.Operation, 0, 256),
	}
}

// StartRecording enables operation recording.
func (t *GradientTape) StartRecording() {
	t.recording = true
}

// StopRecording disables operation recording.
func (t *GradientTape) StopRecording() {
	t.recording = false
}

// IsRecording returns true if the tape is currently recording operations.
func (t *GradientTape) IsRecording() bool {
	return t.recording
}

// Record adds an operation to the tape.
// Only records if the tape is currently recording.
func (t *GradientTape) Record(op ops.Operation) {
	if t.recording {
		t.operations = append(t.operations, op)
	}
}

// Clear resets the tape, removing all recorded operations.
// Recording state is preserved.
func (t *GradientTape) Clear() {
	clear(t.operations)
	t.operations = t.operations[:0]
}

// Backward walks the tape in reverse, seeding the output of the last recorded
// operation with outputGrad. Gradients of tensors used more than once are
// summed. The result maps every tensor reached to its gradient.
func (t *GradientTape) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) map[*tensor.RawTensor]*tensor.RawTensor {
	if len(t.operations) == 0 {
		return make(map[*tensor.RawTensor]*tensor.RawTensor)
	}

	wasRecording := t.recording
	t.recording = false
	defer func() {
		t.recording = wasRecording
	}()

	grads := make(map[*tensor.RawTensor]*tensor.RawTensor)
	lastOp := t.operations[len(t.operations)-1]
	grads[lastOp.Output()] = outputGrad

	for i := len(t.operations) - 1; i >= 0; i-- {
		op := t.operations[i]
		inputGrads := t.computeInputGrads(op, grads, backend)
		if inputGrads == nil {
			continue
		}
		t.accumulateGrads(op, inputGrads, grads, backend)
	}

	return grads
}

// computeInputGrads returns nil if no gradient reached op.
func (t *GradientTape) computeInputGrads(
	op ops.Operation,
	grads map[*tensor.RawTensor]*tensor.RawTensor,
	backend tensor.Backend,
) []*tensor.RawTensor {
	multiOp, isMulti := op.(ops.MultiOutputOperation)
	if isMulti {
		return t.computeMultiOutputGrads(multiOp, grads, backend)
	}
	return t.computeSingleOutputGrads(op, grads, backend)
}

// computeMultiOutputGrads runs BackwardMulti once any output has a gradient,
// substituting zeros for outputs nothing consumed.
func (t *GradientTape) computeMultiOutputGrads(
	multiOp ops.MultiOutputOperation,
	grads map[*tensor.RawTensor]*tensor.RawTensor,
	backend tensor.Backend,
) []*tensor.RawTensor {
	outputs := multiOp.Outputs()
	outputGrads, hasAnyGrad := t.collectOutputGrads(outputs, grads)
	if !hasAnyGrad {
		return nil
	}
	t.fillMissingGradsWithZeros(outputs, outputGrads, backend)
	return multiOp.BackwardMulti(outputGrads, backend)
}

func (t *GradientTape) computeSingleOutputGrads(
	op ops.Operation,
	grads map[*tensor.RawTensor]*tensor.RawTensor,
	backend tensor.Backend,
) []*tensor.RawTensor {
	opOutput := op.Output()
	opOutputGrad, hasGrad := grads[opOutput]
	if !hasGrad {
		return nil
	}
	return op.Backward(opOutputGrad, backend)
}

func (t *GradientTape) collectOutputGrads(
	outputs []*tensor.RawTensor,
	grads map[*tensor.RawTensor]*tensor.RawTensor,
) ([]*tensor.RawTensor, bool) {
	outputGrads := make([]*tensor.RawTensor, len(outputs))
	hasAnyGrad := false
	for j, out := range outputs {
		if grad, exists := grads[out]; exists {
			outputGrads[j] = grad
			hasAnyGrad = true
		}
	}
	return outputGrads, hasAnyGrad
}

func (t *GradientTape) fillMissingGradsWithZeros(
	outputs []*tensor.RawTensor,
	outputGrads []*tensor.RawTensor,
	backend tensor.Backend,
) {
	for j, out := range outputs {
		if outputGrads[j] != nil {
			continue
		}
		outputGrads[j] = tensor.MustNewRaw(out.Shape(), out.DType(), backend.Device())
	}
}

// accumulateGrads adds inputGrads into grads. backend.Add may write into the
// existing gradient in place when it holds the only reference.
func (t *GradientTape) accumulateGrads(
	op ops.Operation,
	inputGrads []*tensor.RawTensor,
	grads map[*tensor.RawTensor]*tensor.RawTensor,
	backend tensor.Backend,
) {
	inputs := op.Inputs()
	for j, input := range inputs {
		if j >= len(inputGrads) {
			break
		}
		inputGrad := inputGrads[j]
		if inputGrad == nil {
			continue
		}
		if existing, ok := grads[input]; ok {
			grads[input] = backend.Add(existing, inputGrad)
		} else {
			grads[input] = inputGrad
		}
	}
}

// NumOps returns the number of recorded operations.
func (t *GradientTape) NumOps() int {
	return len(t.operations)
}
