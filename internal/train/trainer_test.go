package train_test

import (
	"bytes"
	"context"
	"io"
	"log"
	"math/rand"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/resnet/internal/autodiff"
	"github.com/born-ml/resnet/internal/backend/cpu"
	"github.com/born-ml/resnet/internal/dataset"
	"github.com/born-ml/resnet/internal/nn"
	"github.com/born-ml/resnet/internal/optim"
	"github.com/born-ml/resnet/internal/train"
)

type adBackend = *autodiff.AutodiffBackend[*cpu.CPUBackend]

type fixture struct {
	backend adBackend
	model   *nn.Sequential[adBackend]
	fc      *nn.Linear[adBackend]
	train   *dataset.Loader[adBackend]
	test    *dataset.Loader[adBackend]
	out     *bytes.Buffer
	trainer *train.Trainer[adBackend]
}

// newFixture builds n 2x3 images labelled i%3 and a Flatten+Linear classifier.
func newFixture(t *testing.T, n, batchSize int) *fixture {
	t.Helper()
	backend := autodiff.New(cpu.New())
	rng := rand.New(rand.NewSource(1))

	pixels := make([]float32, n*6)
	labels := make([]int64, n)
	for i := range labels {
		for j := 0; j < 6; j++ {
			pixels[i*6+j] = rng.Float32()
		}
		labels[i] = int64(i % 3)
	}
	ds, err := dataset.New(&dataset.Images{Count: n, Rows: 2, Cols: 3, Pixels: pixels}, labels)
	require.NoError(t, err)

	trainLoader, err := dataset.NewLoader(ds, dataset.LoaderConfig{BatchSize: batchSize, Shuffle: true, Seed: 1}, backend)
	require.NoError(t, err)
	testLoader, err := dataset.NewLoader(ds, dataset.LoaderConfig{BatchSize: batchSize}, backend)
	require.NoError(t, err)

	fc := nn.NewLinear(6, 3, rng, backend)
	model := nn.NewSequential[adBackend](nn.NewFlatten[adBackend](), fc)
	opt := optim.NewSGD(model.Parameters(), optim.SGDConfig{LR: 1e-3}, backend)

	out := &bytes.Buffer{}
	trainer := train.New[adBackend](model, opt, backend, train.Options{
		Out:    out,
		Logger: log.New(io.Discard, "", 0),
	})
	return &fixture{
		backend: backend,
		model:   model,
		fc:      fc,
		train:   trainLoader,
		test:    testLoader,
		out:     out,
		trainer: trainer,
	}
}

func TestEpochCounter(t *testing.T) {
	var c train.EpochCounter
	assert.False(t, c.Started())
	assert.Equal(t, 0, c.Value())

	c.Advance(5)
	assert.True(t, c.Started())
	assert.Equal(t, 5, c.Value())

	c.Advance(5)
	assert.Equal(t, 10, c.Value())
	c.Advance(2)
	assert.Equal(t, 12, c.Value())
}

func TestTrainLoop_PrintsLossLines(t *testing.T) {
	f := newFixture(t, 20, 4)

	snap, err := f.trainer.TrainLoop(context.Background(), f.train)
	require.NoError(t, err)
	assert.Equal(t, 5, snap.Steps)
	assert.Equal(t, 20, snap.Samples)

	lines := strings.Split(strings.TrimSuffix(f.out.String(), "\n"), "\n")
	require.Len(t, lines, 5)
	for i, line := range lines {
		want := regexp.MustCompile(`^loss: \d\.\d{6}  \[ {3,4}\d{1,2}/   20\]$`)
		assert.Regexp(t, want, line)
		assert.True(t, strings.HasSuffix(line, []string{
			"[    0/   20]", "[    4/   20]", "[    8/   20]", "[   12/   20]", "[   16/   20]",
		}[i]), line)
	}
	assert.True(t, f.model.Training())
}

func TestTrainLoop_PrintIntervalAndPartialBatch(t *testing.T) {
	// 23 samples in batches of 2: 12 batches, interval 12/5 = 2.
	f := newFixture(t, 23, 2)

	_, err := f.trainer.TrainLoop(context.Background(), f.train)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSuffix(f.out.String(), "\n"), "\n")
	require.Len(t, lines, 6)
	assert.True(t, strings.HasSuffix(lines[1], "[    4/   23]"), lines[1])
	assert.True(t, strings.HasSuffix(lines[5], "[   20/   23]"), lines[5])
}

func TestTestLoop_ExactOutput(t *testing.T) {
	f := newFixture(t, 6, 4)
	for _, p := range f.fc.Parameters() {
		clear(p.Tensor().Data())
	}

	res, err := f.trainer.TestLoop(context.Background(), f.test)
	require.NoError(t, err)

	// Equal logits: every prediction is class 0, loss is ln 3 per sample.
	assert.InDelta(t, 2.0/6.0, res.Accuracy, 1e-12)
	assert.InDelta(t, 1.098612, res.AvgLoss, 1e-6)
	assert.Equal(t, "Test Error:\n Accuracy: 33.3%, Avg loss: 1.098612\n\n", f.out.String())
	assert.Equal(t, 0, f.backend.Tape().NumOps())
	assert.False(t, f.model.Training())
}

func TestFit_NumbersEpochsAcrossCalls(t *testing.T) {
	f := newFixture(t, 8, 4)
	ctx := context.Background()

	results, err := f.trainer.Fit(ctx, f.train, f.test, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 2, f.trainer.Epochs.Value())

	_, err = f.trainer.Fit(ctx, f.train, f.test, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, f.trainer.Epochs.Value())

	out := f.out.String()
	headers := regexp.MustCompile(`(?m)^Epoch (\d+)\n-{31}$`).FindAllStringSubmatch(out, -1)
	require.Len(t, headers, 3)
	assert.Equal(t, "1", headers[0][1])
	assert.Equal(t, "2", headers[1][1])
	assert.Equal(t, "3", headers[2][1])
	assert.Equal(t, 2, strings.Count(out, "Done!\n"))
	assert.Equal(t, 3, strings.Count(out, "Test Error:\n Accuracy: "))
}

func TestFit_ChangesWeights(t *testing.T) {
	f := newFixture(t, 8, 4)
	before := append([]float32(nil), f.fc.Weight().Tensor().Data()...)

	_, err := f.trainer.Fit(context.Background(), f.train, f.test, 1)
	require.NoError(t, err)
	assert.NotEqual(t, before, f.fc.Weight().Tensor().Data())
}

func TestFit_CancelledContext(t *testing.T) {
	f := newFixture(t, 8, 4)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.trainer.Fit(ctx, f.train, f.test, 1)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, f.trainer.Epochs.Value())
	assert.False(t, f.trainer.Epochs.Started())
	assert.NotContains(t, f.out.String(), "Done!")
}

func TestFit_RejectsZeroEpochs(t *testing.T) {
	f := newFixture(t, 4, 4)
	_, err := f.trainer.Fit(context.Background(), f.train, f.test, 0)
	assert.Error(t, err)
}
