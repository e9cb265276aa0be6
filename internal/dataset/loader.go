package dataset

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/born-ml/resnet/internal/parallel"
	"github.com/born-ml/resnet/internal/tensor"
)

// ErrExhausted is returned by Iterator.Next after the last batch of a pass.
var ErrExhausted = errors.New("dataset: iterator exhausted")

// LoaderConfig configures a Loader.
type LoaderConfig struct {
	BatchSize int
	Shuffle   bool
	Seed      int64 // 0 seeds from the clock
}

// Batch is a group of samples stacked into tensors.
type Batch[B tensor.Backend] struct {
	Images  *tensor.Tensor[float32, B] // [n, 1, rows, cols]
	Labels  *tensor.Tensor[int64, B]   // [n]
	Indices []int                      // dataset index of each row
}

// Size returns the number of samples in the batch.
func (b *Batch[B]) Size() int {
	return len(b.Indices)
}

// Loader yields batches over a Dataset in sequential or shuffled order.
//
// The permutation persists across passes: each Iter reshuffles the previous
// order in place when shuffling is enabled. A Loader serves one consumer at a
// time; starting a new pass invalidates the previous iterator.
type Loader[B tensor.Backend] struct {
	dataset   *Dataset
	batchSize int
	shuffle   bool
	rng       *rand.Rand
	indices   []int
	backend   B
	par       parallel.Config
}

// NewLoader creates a loader over ds.
func NewLoader[B tensor.Backend](ds *Dataset, cfg LoaderConfig, backend B) (*Loader[B], error) {
	if ds == nil {
		return nil, errors.New("dataset: nil dataset")
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("dataset: batch size must be > 0 (got %d)", cfg.BatchSize)
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	indices := make([]int, ds.Len())
	for i := range indices {
		indices[i] = i
	}
	return &Loader[B]{
		dataset:   ds,
		batchSize: cfg.BatchSize,
		shuffle:   cfg.Shuffle,
		rng:       rand.New(rand.NewSource(seed)),
		indices:   indices,
		backend:   backend,
		par:       parallel.DefaultConfig(),
	}, nil
}

// Dataset returns the underlying dataset.
func (l *Loader[B]) Dataset() *Dataset {
	return l.dataset
}

// BatchSize returns the configured batch size.
func (l *Loader[B]) BatchSize() int {
	return l.batchSize
}

// Len returns the number of batches per pass, ceil(N / batch size).
func (l *Loader[B]) Len() int {
	return (l.dataset.Len() + l.batchSize - 1) / l.batchSize
}

// Iter starts a new pass, reshuffling first when shuffling is enabled.
//
//	it := loader.Iter()
//	for {
//	    batch, err := it.Next()
//	    if errors.Is(err, dataset.ErrExhausted) {
//	        break
//	    }
//	    ...
//	}
func (l *Loader[B]) Iter() *Iterator[B] {
	if l.shuffle {
		l.rng.Shuffle(len(l.indices), func(i, j int) {
			l.indices[i], l.indices[j] = l.indices[j], l.indices[i]
		})
	}
	return &Iterator[B]{loader: l}
}

// Iterator is the cursor of one pass over a Loader.
type Iterator[B tensor.Backend] struct {
	loader *Loader[B]
	cursor int
}

// Next returns the next batch, or ErrExhausted once every sample has been
// served. The last batch holds the remainder and may be smaller.
func (it *Iterator[B]) Next() (*Batch[B], error) {
	l := it.loader
	n := len(l.indices)
	if it.cursor >= n {
		return nil, ErrExhausted
	}
	end := min(it.cursor+l.batchSize, n)
	indices := append([]int(nil), l.indices[it.cursor:end]...)
	it.cursor = end

	return l.stack(indices), nil
}

func (l *Loader[B]) stack(indices []int) *Batch[B] {
	ds := l.dataset
	size := ds.imageSize
	images := tensor.Zeros[float32](tensor.Shape{len(indices), 1, ds.rows, ds.cols}, l.backend)
	labels := tensor.Zeros[int64](tensor.Shape{len(indices)}, l.backend)
	pixels := images.Data()
	targets := labels.Data()

	parallel.For(len(indices), func(i int) {
		image, label := ds.Get(indices[i])
		copy(pixels[i*size:(i+1)*size], image)
		targets[i] = label
	}, l.par)

	return &Batch[B]{Images: images, Labels: labels, Indices: indices}
}
