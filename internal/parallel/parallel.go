// Package parallel provides the worker-goroutine loop the optimizer
// uses to update independent parameters concurrently.
package parallel

import (
	"runtime"
	"sync"
)

// Config controls parallel execution behavior.
type Config struct {
	Enabled    bool // Whether parallel execution is enabled.
	NumWorkers int  // Number of worker goroutines to use.
	MinPerGo   int  // Minimum items per goroutine to avoid overhead.
}

// DefaultConfig returns sensible defaults based on CPU count.
//
// MinPerGo of 1 fits the optimizer's use: the unit of work is a whole
// parameter update, which dwarfs goroutine overhead even for a single
// small tensor.
func DefaultConfig() Config {
	n := runtime.NumCPU()
	return Config{
		Enabled:    n > 1,
		NumWorkers: n,
		MinPerGo:   1,
	}
}

// Sequential returns a config that disables parallelism.
func Sequential() Config {
	return Config{Enabled: false, NumWorkers: 1, MinPerGo: 1}
}

// For executes f(i) for i in [0, n) with optional parallelism.
// Every f(i) must be independent of every other: the optimizer
// guarantees this across parameters because each parameter's state is
// exclusively owned by its own update.
//
// Falls back to sequential execution when parallelism is disabled or n
// is too small to split.
func For(n int, cfg Config, f func(i int)) {
	if !cfg.Enabled || cfg.NumWorkers <= 1 || n <= cfg.MinPerGo {
		for i := 0; i < n; i++ {
			f(i)
		}
		return
	}

	chunk := (n + cfg.NumWorkers - 1) / cfg.NumWorkers
	if chunk < cfg.MinPerGo {
		chunk = cfg.MinPerGo
	}

	var wg sync.WaitGroup
	for start := 0; start < n; start += chunk {
		end := min(start+chunk, n)
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
