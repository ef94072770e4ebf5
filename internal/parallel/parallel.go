// Package parallel runs independent, index-addressed tasks across a bounded
// number of goroutines.
package parallel

import (
	"runtime"

	"golang.org/x/sync/errgroup"
)

// For calls fn(i) for every i in [0, n) using at most workers goroutines.
// fn must write its result into storage owned by index i; results therefore
// land in the same place whatever the completion order.
//
// If any call fails, For returns the error of the lowest failing index.
// workers <= 0 selects runtime.NumCPU().
func For(n, workers int, fn func(i int) error) error {
	if n <= 0 {
		return nil
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > n {
		workers = n
	}

	if workers == 1 {
		for i := 0; i < n; i++ {
			if err := fn(i); err != nil {
				return err
			}
		}
		return nil
	}

	// Per-index slots keep the reported error independent of scheduling
	errs := make([]error, n)
	var g errgroup.Group
	g.SetLimit(workers)

	// Contiguous chunks per worker, as the volume assembly splits slices per core
	chunk := (n + workers - 1) / workers
	for start := 0; start < n; start += chunk {
		end := min(start+chunk, n)
		g.Go(func() error {
			for i := start; i < end; i++ {
				errs[i] = fn(i)
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
