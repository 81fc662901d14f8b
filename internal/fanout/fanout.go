// Package fanout runs N independent units of work on a bounded worker pool.
//
// Results are never merged by completion order: each unit owns slot i of
// whatever the caller pre-sized, so fan-in order always equals input order.
package fanout

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// DefaultWorkers is the pool size used when a caller passes workers < 1
const DefaultWorkers = 5

// Run calls fn(ctx, i) for every i in [0, n) with at most workers concurrent
// calls and returns the per-index errors (nil entries for success).
//
// One unit failing never cancels its siblings. When ctx is canceled, units
// already running finish and no new unit is started; skipped units report
// ctx.Err() in their slot.
func Run(ctx context.Context, n, workers int, fn func(ctx context.Context, i int) error) []error {
	errs := make([]error, n)
	if n == 0 {
		return errs
	}
	if workers < 1 {
		workers = DefaultWorkers
	}

	var g errgroup.Group
	g.SetLimit(workers)

	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			for j := i; j < n; j++ {
				errs[j] = err
			}
			break
		}
		i := i
		// Go blocks while the pool is full
		g.Go(func() error {
			errs[i] = fn(ctx, i)
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

// Count returns how many entries of errs are nil
func Count(errs []error) (ok int) {
	for _, err := range errs {
		if err == nil {
			ok++
		}
	}
	return ok
}
