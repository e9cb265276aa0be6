package parallel

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFor(t *testing.T) {
	cfg := DefaultConfig()

	var counter int64
	n := 1000

	For(n, func(_ int) {
		atomic.AddInt64(&counter, 1)
	}, cfg)

	assert.Equal(t, int64(n), counter)
}

func TestFor_VisitsEachIndexOnce(t *testing.T) {
	cfg := Config{Enabled: true, NumWorkers: 4, MinChunkSize: 1}

	seen := make([]int32, 37)
	For(len(seen), func(i int) {
		atomic.AddInt32(&seen[i], 1)
	}, cfg)

	for i, v := range seen {
		assert.Equal(t, int32(1), v, "index %d", i)
	}
}

func TestForBatch(t *testing.T) {
	batch, channels := 4, 8
	results := make([][]bool, batch)
	for b := range results {
		results[b] = make([]bool, channels)
	}

	ForBatch(batch, channels, func(b, c int) {
		results[b][c] = true
	}, DefaultConfig().Coarse())

	for b := 0; b < batch; b++ {
		for c := 0; c < channels; c++ {
			assert.True(t, results[b][c], "missing [%d][%d]", b, c)
		}
	}
}

func TestFor_Sequential(t *testing.T) {
	var order []int
	For(5, func(i int) {
		order = append(order, i)
	}, Config{Enabled: false})

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestConfig_WithWorkers(t *testing.T) {
	cfg := DefaultConfig()

	single := cfg.WithWorkers(1)
	assert.False(t, single.Enabled)
	assert.Equal(t, 1, single.NumWorkers)

	unchanged := cfg.WithWorkers(0)
	assert.Equal(t, cfg, unchanged)

	assert.Equal(t, 1, cfg.Coarse().MinChunkSize)
	assert.Equal(t, 64, cfg.MinChunkSize)
}

func TestHostInfo(t *testing.T) {
	info := HostInfo()
	assert.Contains(t, info, "physical_cores=")
	assert.Contains(t, info, "simd=")
}

func BenchmarkFor(b *testing.B) {
	cfg := DefaultConfig()
	n := 10000

	b.Run("parallel", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			var sum int64
			For(n, func(i int) {
				atomic.AddInt64(&sum, int64(i))
			}, cfg)
		}
	})

	b.Run("sequential", func(b *testing.B) {
		cfgSeq := cfg
		cfgSeq.Enabled = false
		for i := 0; i < b.N; i++ {
			var sum int64
			For(n, func(i int) {
				atomic.AddInt64(&sum, int64(i))
			}, cfgSeq)
		}
	})
}
