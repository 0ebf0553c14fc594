package scan

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/minha12/quilt-1m/internal/stats"
)

// BatchResult carries the outcome of probing one batch: the successful
// measurements in input-path order, plus the number of files that could
// not be measured.
type BatchResult struct {
	Dims     []stats.Dimension
	Failures int
}

// RunProbePool spawns numWorkers goroutines that drain batches from in,
// probe every path in each batch, and send one BatchResult per batch to
// out. A batch is processed to completion by a single worker, and a probe
// failure on one file never discards results already measured for the
// rest of its batch. Completion order is unspecified. out is closed when
// all workers are done.
func RunProbePool(ctx context.Context, numWorkers int, prober Prober, progress *Progress, report ErrorReporter, in <-chan []string, out chan<- BatchResult) {
	go func() {
		defer close(out)

		g, ctx := errgroup.WithContext(ctx)
		for range numWorkers {
			g.Go(func() error {
				for {
					select {
					case <-ctx.Done():
						return ctx.Err()
					case paths, ok := <-in:
						if !ok {
							return nil
						}
						res := probeBatch(prober, progress, report, paths)
						select {
						case out <- res:
						case <-ctx.Done():
							return ctx.Err()
						}
					}
				}
			})
		}
		// The only error a worker returns is ctx cancellation, which the
		// consumer observes through the closed out channel.
		_ = g.Wait()
	}()
}

func probeBatch(prober Prober, progress *Progress, report ErrorReporter, paths []string) BatchResult {
	res := BatchResult{Dims: make([]stats.Dimension, 0, len(paths))}
	for _, path := range paths {
		w, h, err := prober.Probe(path)
		if err != nil {
			res.Failures++
			progress.ProbeErrors.Add(1)
			if report != nil {
				report(path, "probe", err.Error())
			}
			continue
		}
		progress.FilesProbed.Add(1)
		res.Dims = append(res.Dims, stats.Dimension{Width: w, Height: h})
	}
	return res
}
