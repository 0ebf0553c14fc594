// Package scan implements the parallel image-dimension statistics
// pipeline: a concurrent directory walker feeding a batcher, a pool of
// size-probe workers, and a single aggregator goroutine that folds batch
// results into a stats accumulator.
package scan

import (
	"context"
	"log/slog"
	"time"

	"github.com/minha12/quilt-1m/internal/stats"
)

// Config holds the tuning parameters for one statistics run.
type Config struct {
	Root            string
	BatchSize       int
	Workers         int // probe workers; the walker has its own small pool
	Walkers         int
	MemoryEfficient bool
	ReservoirSize   int
	SampleRate      float64 // effective only in memory-efficient mode
	ProbeTimeout    time.Duration
	Seed            uint64 // 0 = time-seeded (non-reproducible sampling)
}

// Runner executes the dimension-statistics pipeline over one directory
// tree. It owns the accumulator for the duration of the run; no other
// goroutine ever touches it.
type Runner struct {
	cfg Config
}

// NewRunner creates a Runner. cfg is assumed validated (config.Validate).
func NewRunner(cfg Config) *Runner {
	return &Runner{cfg: cfg}
}

// Run walks cfg.Root, probes every recognized image, and returns the
// finalized summary. Per-file failures are absorbed into progress counters
// and report; the only error Run returns is stats.ErrNoData, when not a
// single image could be measured.
//
// Cancelling ctx drains the pipeline between batches: the accumulator then
// reflects exactly the batches folded so far and is still finalized into a
// partial summary.
func (r *Runner) Run(ctx context.Context, progress *Progress, report ErrorReporter) (*stats.Summary, error) {
	start := time.Now()

	// Sampling only applies in memory-efficient mode; the exact mode
	// always measures the full file set.
	rate := 1.0
	if r.cfg.MemoryEfficient {
		rate = r.cfg.SampleRate
	}

	// The batcher and the reservoir run on different goroutines, so each
	// gets its own random stream derived from the seed.
	var acc stats.Accumulator
	if r.cfg.MemoryEfficient {
		acc = stats.NewReservoir(r.cfg.ReservoirSize, stats.NewRNG(r.cfg.Seed))
	} else {
		acc = stats.NewExact()
	}
	sampleRNG := stats.NewRNG(nextSeed(r.cfg.Seed))

	// Bounded queues: peak in-flight memory is O(batch_size × workers)
	// measured dimensions, independent of total file count.
	walkOut := make(chan FileInfo, 1000)
	batches := make(chan []string, r.cfg.Workers)
	results := make(chan BatchResult, r.cfg.Workers)

	go Walk(ctx, r.cfg.Root, r.cfg.Walkers, progress, walkOut, report)
	RunBatcher(ctx, r.cfg.BatchSize, rate, sampleRNG, progress, walkOut, batches)
	RunProbePool(ctx, r.cfg.Workers, Prober{Timeout: r.cfg.ProbeTimeout}, progress, report, batches, results)

	// Aggregator: this goroutine is the single consumer, so each fold is
	// atomic with respect to every other fold by construction.
	for res := range results {
		acc.Fold(res.Dims)
		progress.BatchesFolded.Add(1)
	}

	summary, err := acc.Finalize()
	if err != nil {
		return nil, err
	}
	summary.ProcessingTimeSeconds = time.Since(start).Seconds()
	summary.Sampled = rate < 1

	slog.Info("statistics run finished",
		"root", r.cfg.Root,
		"count", summary.Count,
		"probe_errors", progress.ProbeErrors.Load(),
		"duration_seconds", summary.ProcessingTimeSeconds,
		"cancelled", ctx.Err() != nil)

	return summary, nil
}

// nextSeed derives the batcher's seed from the run seed, keeping the two
// random streams distinct while staying reproducible. Zero stays zero so
// an unseeded run keeps both streams time-seeded.
func nextSeed(seed uint64) uint64 {
	if seed == 0 {
		return 0
	}
	return seed + 1
}
