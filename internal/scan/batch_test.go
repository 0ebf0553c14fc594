package scan

import (
	"context"
	"fmt"
	"testing"

	"github.com/minha12/quilt-1m/internal/stats"
)

func feedFiles(n int) <-chan FileInfo {
	in := make(chan FileInfo, n)
	for i := 0; i < n; i++ {
		in <- FileInfo{Path: fmt.Sprintf("img%03d.jpg", i)}
	}
	close(in)
	return in
}

func collectBatches(out <-chan []string) [][]string {
	var batches [][]string
	for b := range out {
		batches = append(batches, b)
	}
	return batches
}

func TestBatcherSplitsWithShortTail(t *testing.T) {
	out := make(chan []string, 10)
	// rate 1.0 must never touch the RNG, so nil is safe here.
	RunBatcher(context.Background(), 4, 1.0, nil, &Progress{}, feedFiles(10), out)

	batches := collectBatches(out)
	if len(batches) != 3 {
		t.Fatalf("got %d batches, want 3", len(batches))
	}
	for i, want := range []int{4, 4, 2} {
		if len(batches[i]) != want {
			t.Errorf("batch %d has %d paths, want %d", i, len(batches[i]), want)
		}
	}
	// Path order must be preserved within and across batches.
	idx := 0
	for _, b := range batches {
		for _, p := range b {
			if want := fmt.Sprintf("img%03d.jpg", idx); p != want {
				t.Errorf("position %d: got %q, want %q", idx, p, want)
			}
			idx++
		}
	}
}

func TestBatcherFullRateIsNoOp(t *testing.T) {
	progress := &Progress{}
	out := make(chan []string, 10)
	RunBatcher(context.Background(), 100, 1.0, nil, progress, feedFiles(25), out)

	total := 0
	for _, b := range collectBatches(out) {
		total += len(b)
	}
	if total != 25 {
		t.Errorf("rate 1.0 passed %d of 25 paths", total)
	}
	if n := progress.FilesSampledOut.Load(); n != 0 {
		t.Errorf("FilesSampledOut = %d, want 0", n)
	}
}

func TestBatcherZeroRateDropsEverything(t *testing.T) {
	progress := &Progress{}
	out := make(chan []string, 10)
	RunBatcher(context.Background(), 100, 0.0, stats.NewRNG(1), progress, feedFiles(25), out)

	if batches := collectBatches(out); len(batches) != 0 {
		t.Errorf("rate 0.0 emitted %d batches, want none", len(batches))
	}
	if n := progress.FilesSampledOut.Load(); n != 25 {
		t.Errorf("FilesSampledOut = %d, want 25", n)
	}
}

func TestBatcherPartialRateIsReproducible(t *testing.T) {
	run := func() int {
		out := make(chan []string, 10)
		RunBatcher(context.Background(), 100, 0.5, stats.NewRNG(99), &Progress{}, feedFiles(200), out)
		total := 0
		for _, b := range collectBatches(out) {
			total += len(b)
		}
		return total
	}

	first := run()
	if first == 0 || first == 200 {
		t.Fatalf("rate 0.5 kept %d of 200 paths", first)
	}
	if again := run(); again != first {
		t.Errorf("same seed kept %d then %d paths", first, again)
	}
}
