package cpu

import (
	"fmt"
	"math"

	"github.com/born-ml/resnet/internal/tensor"
)

// CrossEntropy computes mean(-log_softmax(logits)[target]) over the batch.
//
// logits: [batch, classes] float32; targets: [batch] int32 or int64.
// The log-sum-exp is shifted by the row maximum for numerical stability.
func (cpu *CPUBackend) CrossEntropy(logits, targets *tensor.RawTensor) *tensor.RawTensor {
	batch, classes := logitsGeometry("cross_entropy", logits, targets)
	data := logits.AsFloat32()

	var total float64
	for i := 0; i < batch; i++ {
		row := data[i*classes : (i+1)*classes]
		target := targetAt(targets, i)
		if target < 0 || target >= classes {
			panic(fmt.Sprintf("cross_entropy: target %d out of range [0, %d)", target, classes))
		}
		total += logSumExp(row) - float64(row[target])
	}

	result := tensor.MustNewRaw(tensor.Shape{}, tensor.Float32, cpu.device)
	result.AsFloat32()[0] = float32(total / float64(batch))
	return result
}

// logitsGeometry validates a [batch, classes] logits tensor against its targets.
func logitsGeometry(op string, logits, targets *tensor.RawTensor) (batch, classes int) {
	shape := logits.Shape()
	if len(shape) != 2 {
		panic(fmt.Sprintf("%s: logits must be [batch, classes], got %v", op, shape))
	}
	if logits.DType() != tensor.Float32 {
		panic(fmt.Sprintf("%s: logits must be float32, got %s", op, logits.DType()))
	}
	if targets.NumElements() != shape[0] {
		panic(fmt.Sprintf("%s: %d targets for batch of %d", op, targets.NumElements(), shape[0]))
	}
	return shape[0], shape[1]
}

// targetAt reads the i-th class index from an int32 or int64 tensor.
func targetAt(targets *tensor.RawTensor, i int) int {
	switch targets.DType() {
	case tensor.Int32:
		return int(targets.AsInt32()[i])
	case tensor.Int64:
		return int(targets.AsInt64()[i])
	default:
		panic(fmt.Sprintf("targets must be int32 or int64, got %s", targets.DType()))
	}
}

func logSumExp(row []float32) float64 {
	maxVal := float64(row[0])
	for _, v := range row[1:] {
		maxVal = math.Max(maxVal, float64(v))
	}
	var sum float64
	for _, v := range row {
		sum += math.Exp(float64(v) - maxVal)
	}
	return maxVal + math.Log(sum)
}
