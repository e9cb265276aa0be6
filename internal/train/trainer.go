// Package train runs the epoch loop: SGD over the training loader, then an
// evaluation pass over the test loader. Progress goes to Options.Out in a
// fixed line format; throughput goes to the logger.
package train

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"time"

	"github.com/born-ml/resnet/internal/autodiff"
	"github.com/born-ml/resnet/internal/dataset"
	"github.com/born-ml/resnet/internal/metrics"
	"github.com/born-ml/resnet/internal/nn"
	"github.com/born-ml/resnet/internal/optim"
	"github.com/born-ml/resnet/internal/tensor"
)

// Model is a classifier with distinct training and evaluation behaviour.
type Model[B tensor.Backend] interface {
	nn.Module[B]
	nn.TrainEvaler
}

// Options configures a Trainer.
type Options struct {
	Out         io.Writer   // progress lines; defaults to io.Discard
	Logger      *log.Logger // throughput lines; defaults to log.Default()
	PrintSplits int         // loss lines per epoch, roughly; defaults to 5
}

// Result summarizes one evaluation pass.
type Result struct {
	Accuracy float64 // fraction of samples classified correctly
	AvgLoss  float64 // mean of the per-batch losses
	Samples  int
}

// EpochResult is the outcome of one epoch of Fit.
type EpochResult struct {
	Epoch      int
	Test       Result
	Throughput metrics.Snapshot
}

// Trainer owns the training state that outlives a single Fit call.
type Trainer[B autodiff.BackwardCapable] struct {
	model     Model[B]
	criterion *nn.CrossEntropyLoss[B]
	optimizer optim.Optimizer
	backend   B

	out         io.Writer
	logger      *log.Logger
	printSplits int

	// Epochs numbers the epoch headers across Fit calls.
	Epochs EpochCounter
}

// New creates a Trainer using cross-entropy loss.
func New[B autodiff.BackwardCapable](model Model[B], optimizer optim.Optimizer, backend B, opts Options) *Trainer[B] {
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.PrintSplits <= 0 {
		opts.PrintSplits = 5
	}
	return &Trainer[B]{
		model:       model,
		criterion:   nn.NewCrossEntropyLoss(backend),
		optimizer:   optimizer,
		backend:     backend,
		out:         opts.Out,
		logger:      opts.Logger,
		printSplits: opts.PrintSplits,
	}
}

// Fit runs epochs of training and evaluation, then prints "Done!" and
// advances the epoch counter. A cancelled context stops Fit between batches
// and leaves the counter untouched.
func (t *Trainer[B]) Fit(ctx context.Context, trainLoader, testLoader *dataset.Loader[B], epochs int) ([]EpochResult, error) {
	if epochs <= 0 {
		return nil, fmt.Errorf("train: epochs must be > 0 (got %d)", epochs)
	}

	offset := t.Epochs.Value()
	results := make([]EpochResult, 0, epochs)
	for e := range epochs {
		epoch := offset + e + 1
		fmt.Fprintf(t.out, "Epoch %d\n-------------------------------\n", epoch)

		snap, err := t.TrainLoop(ctx, trainLoader)
		if err != nil {
			return results, fmt.Errorf("train: epoch %d: %w", epoch, err)
		}
		t.logger.Printf("epoch=%d images_per_sec=%.1f data_ms=%.2f compute_ms=%.2f loss=%.4f",
			epoch,
			snap.ImagesPerSec,
			snap.AvgDataMS,
			snap.AvgComputeMS,
			snap.LastLoss,
		)

		res, err := t.TestLoop(ctx, testLoader)
		if err != nil {
			return results, fmt.Errorf("train: epoch %d: %w", epoch, err)
		}
		results = append(results, EpochResult{Epoch: epoch, Test: res, Throughput: snap})
	}
	fmt.Fprintln(t.out, "Done!")

	t.Epochs.Advance(epochs)
	return results, nil
}

// TrainLoop runs one pass of SGD over loader in training mode.
//
// Every max(1, batches/PrintSplits) batches it prints
//
//	loss: 2.301585  [    0/60000]
//
// where the bracketed count is batch index times the current batch size.
func (t *Trainer[B]) TrainLoop(ctx context.Context, loader *dataset.Loader[B]) (metrics.Snapshot, error) {
	size := loader.Dataset().Len()
	interval := max(1, loader.Len()/t.printSplits)
	tape := t.backend.GetTape()
	defer func() {
		tape.StopRecording()
		tape.Clear()
	}()

	t.model.Train()
	var window metrics.Window
	it := loader.Iter()
	for batchIdx := 0; ; batchIdx++ {
		if err := ctx.Err(); err != nil {
			return metrics.Snapshot{}, err
		}

		startData := time.Now()
		batch, err := it.Next()
		if errors.Is(err, dataset.ErrExhausted) {
			break
		}
		if err != nil {
			return metrics.Snapshot{}, err
		}
		dataTime := time.Since(startData)

		startCompute := time.Now()
		tape.Clear()
		tape.StartRecording()
		loss := t.criterion.Forward(t.model.Forward(batch.Images), batch.Labels)
		grads := autodiff.Backward(loss, t.backend)
		tape.StopRecording()
		tape.Clear()

		lossValue := loss.Item()
		if math.IsNaN(float64(lossValue)) || math.IsInf(float64(lossValue), 0) {
			return metrics.Snapshot{}, fmt.Errorf("loss diverged to %v at batch %d", lossValue, batchIdx)
		}

		t.optimizer.ZeroGrad()
		t.optimizer.Step(grads)
		window.Record(batch.Size(), dataTime, time.Since(startCompute), float64(lossValue))

		if batchIdx%interval == 0 {
			current := batchIdx * batch.Size()
			fmt.Fprintf(t.out, "loss: %7f  [%5d/%5d]\n", lossValue, current, size)
		}
	}
	return window.Snapshot(), nil
}

// TestLoop evaluates loader in evaluation mode without recording gradients
// and prints
//
//	Test Error:
//	 Accuracy: 84.2%, Avg loss: 0.441230
func (t *Trainer[B]) TestLoop(ctx context.Context, loader *dataset.Loader[B]) (Result, error) {
	size := loader.Dataset().Len()
	numBatches := loader.Len()
	if numBatches == 0 {
		return Result{}, errors.New("test loader is empty")
	}

	t.model.Eval()
	var (
		totalLoss float64
		correct   int
		loopErr   error
	)
	autodiff.NoGrad(t.backend, func() {
		it := loader.Iter()
		for {
			if loopErr = ctx.Err(); loopErr != nil {
				return
			}
			batch, err := it.Next()
			if errors.Is(err, dataset.ErrExhausted) {
				return
			}
			if err != nil {
				loopErr = err
				return
			}

			logits := t.model.Forward(batch.Images)
			totalLoss += float64(t.criterion.Forward(logits, batch.Labels).Item())
			correct += nn.CorrectCount(logits, batch.Labels)
		}
	})
	if loopErr != nil {
		return Result{}, loopErr
	}

	res := Result{
		Accuracy: float64(correct) / float64(size),
		AvgLoss:  totalLoss / float64(numBatches),
		Samples:  size,
	}
	fmt.Fprintf(t.out, "Test Error:\n Accuracy: %.1f%%, Avg loss: %8f\n\n", 100*res.Accuracy, res.AvgLoss)
	return res, nil
}
