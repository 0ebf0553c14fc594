package scan

import (
	"context"
	"math/rand/v2"
)

// RunBatcher reads discovered files from in, applies the sampling
// pre-filter, and groups the surviving paths into batches of at most size.
// The final batch may be smaller. out is closed when in is exhausted or
// ctx is cancelled.
//
// The pre-filter keeps each path independently with probability rate. At
// rate >= 1 the random source is never consulted, so the filter is a
// strict no-op and rng may be nil. This is distinct from reservoir
// sampling downstream: it reduces how many files are probed at all, not
// how many results are retained.
func RunBatcher(ctx context.Context, size int, rate float64, rng *rand.Rand, progress *Progress, in <-chan FileInfo, out chan<- []string) {
	go func() {
		defer close(out)

		batch := make([]string, 0, size)
		flush := func() bool {
			if len(batch) == 0 {
				return true
			}
			select {
			case out <- batch:
				batch = make([]string, 0, size)
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case fi, ok := <-in:
				if !ok {
					flush()
					return
				}
				if rate < 1 && rng.Float64() >= rate {
					progress.FilesSampledOut.Add(1)
					continue
				}
				batch = append(batch, fi.Path)
				if len(batch) >= size {
					if !flush() {
						return
					}
				}
			}
		}
	}()
}
