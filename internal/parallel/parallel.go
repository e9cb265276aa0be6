// Package parallel fans kernel loops out over the host's cores.
package parallel

import (
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/klauspost/cpuid/v2"
)

// Config controls parallel execution behavior.
type Config struct {
	Enabled      bool // Whether parallel execution is enabled.
	NumWorkers   int  // Number of worker goroutines to use.
	MinChunkSize int  // Minimum items per goroutine to avoid overhead.
}

// DefaultConfig sizes the pool from the physical core count. Hyper-threads
// share FMA units, so they add little to the GEMM-bound kernels.
func DefaultConfig() Config {
	n := cpuid.CPU.PhysicalCores
	if n <= 0 {
		n = runtime.NumCPU()
	}
	return Config{
		Enabled:      n > 1,
		NumWorkers:   n,
		MinChunkSize: 64,
	}
}

// WithWorkers returns a copy of cfg using n workers; n <= 0 keeps the current count.
func (c Config) WithWorkers(n int) Config {
	if n > 0 {
		c.NumWorkers = n
		c.Enabled = n > 1
	}
	return c
}

// Coarse returns a copy of cfg suited to loops with few, expensive iterations
// such as one image of a batch per iteration.
func (c Config) Coarse() Config {
	c.MinChunkSize = 1
	return c
}

// For executes f(i) for i in [0, n), splitting the range into contiguous chunks.
// Falls back to a plain loop when parallelism is disabled or n is too small.
func For(n int, f func(i int), cfg Config) {
	if !cfg.Enabled || cfg.NumWorkers <= 1 || n < 2*cfg.MinChunkSize {
		for i := 0; i < n; i++ {
			f(i)
		}
		return
	}

	var wg sync.WaitGroup
	chunkSize := max((n+cfg.NumWorkers-1)/cfg.NumWorkers, cfg.MinChunkSize)

	for start := 0; start < n; start += chunkSize {
		end := min(start+chunkSize, n)
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			for i := s; i < e; i++ {
				f(i)
			}
		}(start, end)
	}
	wg.Wait()
}

// ForBatch iterates the batch*channels grid common to CNN kernels.
func ForBatch(batch, channels int, f func(b, c int), cfg Config) {
	For(batch*channels, func(k int) {
		f(k/channels, k%channels)
	}, cfg)
}

// HostInfo describes the CPU for the startup log.
func HostInfo() string {
	var features []string
	for _, f := range []struct {
		id   cpuid.FeatureID
		name string
	}{
		{cpuid.AVX2, "avx2"},
		{cpuid.FMA3, "fma3"},
		{cpuid.AVX512F, "avx512f"},
		{cpuid.ASIMD, "neon"},
	} {
		if cpuid.CPU.Supports(f.id) {
			features = append(features, f.name)
		}
	}
	if len(features) == 0 {
		features = append(features, "none")
	}
	return fmt.Sprintf("cpu=%q physical_cores=%d logical_cores=%d simd=%s",
		cpuid.CPU.BrandName, cpuid.CPU.PhysicalCores, cpuid.CPU.LogicalCores, strings.Join(features, ","))
}
