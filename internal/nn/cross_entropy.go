package nn

import (
	"fmt"

	"github.com/born-ml/resnet/internal/tensor"
)

// CrossEntropyLoss computes the mean cross-entropy between raw logits and
// integer class targets.
//
//	Loss = mean_i(logsumexp(logits_i) - logits_i[target_i])
//
// The backend kernel shifts each row by its maximum, so large logits do not
// overflow. On an autodiff backend the loss is recorded on the tape.
//
// Usage:
//
//	criterion := nn.NewCrossEntropyLoss(backend)
//	logits := model.Forward(images)            // [batch, classes]
//	loss := criterion.Forward(logits, labels)  // scalar
type CrossEntropyLoss[B tensor.Backend] struct {
	backend B
}

// NewCrossEntropyLoss creates a new cross-entropy loss function.
func NewCrossEntropyLoss[B tensor.Backend](backend B) *CrossEntropyLoss[B] {
	return &CrossEntropyLoss[B]{
		backend: backend,
	}
}

// Forward returns the scalar mean loss.
//
// logits has shape [batch, classes]; targets has shape [batch] with values in
// [0, classes).
func (c *CrossEntropyLoss[B]) Forward(
	logits *tensor.Tensor[float32, B],
	targets *tensor.Tensor[int64, B],
) *tensor.Tensor[float32, B] {
	checkLogits("CrossEntropyLoss", logits.Shape(), targets.Shape())
	return tensor.New[float32](c.backend.CrossEntropy(logits.Raw(), targets.Raw()), c.backend)
}

// CorrectCount returns how many rows of logits have their argmax at the target.
func CorrectCount[B tensor.Backend](logits *tensor.Tensor[float32, B], targets *tensor.Tensor[int64, B]) int {
	checkLogits("CorrectCount", logits.Shape(), targets.Shape())
	predictions := logits.Argmax(1).Data()
	labels := targets.Data()

	correct := 0
	for i, p := range predictions {
		if int64(p) == labels[i] {
			correct++
		}
	}
	return correct
}

// Accuracy returns the fraction of rows classified correctly.
func Accuracy[B tensor.Backend](logits *tensor.Tensor[float32, B], targets *tensor.Tensor[int64, B]) float64 {
	n := logits.Shape()[0]
	if n == 0 {
		return 0
	}
	return float64(CorrectCount(logits, targets)) / float64(n)
}

func checkLogits(op string, logits, targets tensor.Shape) {
	if len(logits) != 2 {
		panic(fmt.Sprintf("%s: logits must be 2D [batch, classes], got %v", op, logits))
	}
	if len(targets) != 1 || targets[0] != logits[0] {
		panic(fmt.Sprintf("%s: targets must have shape [%d], got %v", op, logits[0], targets))
	}
}
