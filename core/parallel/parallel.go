// Package parallel provides the CPU worker pools used by the host kernels.
package parallel

import (
	"context"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Parallelize divides the specified total number (items) according to the number of CPU cores,
// and executes the specified function (fn) in parallel for each range (start, end)
func Parallelize(items int, fn func(start, end int)) {
	ParallelizeN(items, runtime.NumCPU(), fn)
}

// ParallelizeN is Parallelize with an explicit worker count. workers <= 0
// means one worker per CPU core.
func ParallelizeN(items, workers int, fn func(start, end int)) {
	if items <= 0 {
		return
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > items {
		workers = items
	}
	if workers == 1 {
		fn(0, items)
		return
	}

	// Calculate the number of items each worker handles (ceiling division)
	chunkSize := (items + workers - 1) / workers

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > items {
			end = items
		}
		if start >= end {
			continue
		}

		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			fn(s, e)
		}(start, end)
	}
	wg.Wait()
}

// ParallelizeWithThreshold performs parallelization only when the number of items exceeds the threshold
// If below threshold, normal sequential processing is performed
func ParallelizeWithThreshold(items int, threshold int, fn func(start, end int)) {
	if items <= threshold {
		fn(0, items)
		return
	}
	Parallelize(items, fn)
}

// ForEachChunk runs fn over [0, items) split into at most workers chunks.
// The first error cancels the context passed to the remaining chunks and is
// returned.
func ForEachChunk(ctx context.Context, items, workers int, fn func(ctx context.Context, start, end int) error) error {
	if items <= 0 {
		return nil
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > items {
		workers = items
	}
	chunkSize := (items + workers - 1) / workers

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for start := 0; start < items; start += chunkSize {
		s, e := start, start+chunkSize
		if e > items {
			e = items
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(gctx, s, e)
		})
	}
	return g.Wait()
}

// EffectiveNJobs resolves an n_jobs setting to a worker count.
// 0 means unset and is returned as 0; negative values count back from the
// number of CPUs (-1 is all CPUs, -2 all but one) with a minimum of 1.
func EffectiveNJobs(nJobs int) int {
	switch {
	case nJobs > 0:
		return nJobs
	case nJobs == 0:
		return 0
	default:
		n := runtime.NumCPU() + 1 + nJobs
		if n < 1 {
			n = 1
		}
		return n
	}
}

// Resolve returns EffectiveNJobs(nJobs), falling back to fallback and then to
// the number of CPUs when the setting is unset.
func Resolve(nJobs, fallback int) int {
	if n := EffectiveNJobs(nJobs); n > 0 {
		return n
	}
	if n := EffectiveNJobs(fallback); n > 0 {
		return n
	}
	return runtime.NumCPU()
}
