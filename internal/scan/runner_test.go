package scan

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/minha12/quilt-1m/internal/stats"
)

func testConfig(root string) Config {
	return Config{
		Root:          root,
		BatchSize:     1000,
		Workers:       4,
		Walkers:       2,
		ReservoirSize: 100,
		SampleRate:    1.0,
		Seed:          1,
	}
}

// scenarioTree writes three valid JPEGs of known sizes plus one corrupt
// file and returns the root.
func scenarioTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeJPEG(t, filepath.Join(root, "a.jpg"), 100, 200)
	writeJPEG(t, filepath.Join(root, "b.jpg"), 200, 200)
	sub := filepath.Join(root, "nested")
	if err := os.Mkdir(sub, 0755); err != nil {
		t.Fatal(err)
	}
	writeJPEG(t, filepath.Join(sub, "c.jpg"), 300, 400)
	if err := os.WriteFile(filepath.Join(root, "broken.jpg"), []byte("not an image"), 0644); err != nil {
		t.Fatal(err)
	}
	return root
}

// TestRunScenarioA: 3 valid JPEGs of (100,200), (200,200), (300,400) and a
// corrupt file — the corrupt file is counted as an error, not a crash.
func TestRunScenarioA(t *testing.T) {
	root := scenarioTree(t)
	progress := &Progress{}

	summary, err := NewRunner(testConfig(root)).Run(context.Background(), progress, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.Count != 3 {
		t.Errorf("count = %d, want 3", summary.Count)
	}
	if summary.Width.Min != 100 || summary.Width.Max != 300 {
		t.Errorf("width extrema = [%d, %d], want [100, 300]", summary.Width.Min, summary.Width.Max)
	}
	if summary.Width.Mean != 200.0 {
		t.Errorf("width mean = %v, want 200.0", summary.Width.Mean)
	}
	if math.Abs(summary.Height.Mean-800.0/3) > 1e-9 {
		t.Errorf("height mean = %v, want %v", summary.Height.Mean, 800.0/3)
	}
	if summary.Sampled || summary.ApproximateMedian {
		t.Errorf("exact full-rate run tagged sampled=%v approximate=%v", summary.Sampled, summary.ApproximateMedian)
	}
	if n := progress.ProbeErrors.Load(); n != 1 {
		t.Errorf("ProbeErrors = %d, want 1 (the corrupt file)", n)
	}
	if n := progress.FilesProbed.Load(); n != 3 {
		t.Errorf("FilesProbed = %d, want 3", n)
	}
}

// TestRunScenarioB: an empty directory yields ErrNoData, not a crash.
func TestRunScenarioB(t *testing.T) {
	summary, err := NewRunner(testConfig(t.TempDir())).Run(context.Background(), &Progress{}, nil)
	if !errors.Is(err, stats.ErrNoData) {
		t.Fatalf("Run error = %v, want ErrNoData", err)
	}
	if summary != nil {
		t.Errorf("Run returned a summary %+v for an empty directory", summary)
	}
}

// TestRunPartitionInvariance: count and scalar statistics do not depend on
// batch size or worker count.
func TestRunPartitionInvariance(t *testing.T) {
	root := t.TempDir()
	widths := []int{64, 128, 256, 512, 100, 300, 222, 90, 1024, 48, 77}
	for i, w := range widths {
		writePNG(t, filepath.Join(root, string(rune('a'+i))+".png"), w, w+10)
	}

	var baseline *stats.Summary
	for _, tc := range []struct{ batch, workers int }{
		{1, 1}, {2, 4}, {3, 2}, {1000, 8},
	} {
		cfg := testConfig(root)
		cfg.BatchSize = tc.batch
		cfg.Workers = tc.workers

		summary, err := NewRunner(cfg).Run(context.Background(), &Progress{}, nil)
		if err != nil {
			t.Fatalf("Run(batch=%d, workers=%d): %v", tc.batch, tc.workers, err)
		}
		summary.ProcessingTimeSeconds = 0 // timing is the one legitimately varying field
		if baseline == nil {
			baseline = summary
			continue
		}
		if *summary != *baseline {
			t.Errorf("batch=%d workers=%d produced %+v, want %+v", tc.batch, tc.workers, summary, baseline)
		}
	}
	if baseline.Count != int64(len(widths)) {
		t.Errorf("count = %d, want %d", baseline.Count, len(widths))
	}
}

// TestRunBoundedFullRateMatchesExactCount: with sample_rate 1.0 the
// memory-efficient mode measures the same file set as exact mode.
func TestRunBoundedFullRateMatchesExactCount(t *testing.T) {
	root := scenarioTree(t)

	exactCfg := testConfig(root)
	exact, err := NewRunner(exactCfg).Run(context.Background(), &Progress{}, nil)
	if err != nil {
		t.Fatal(err)
	}

	boundedCfg := testConfig(root)
	boundedCfg.MemoryEfficient = true
	bounded, err := NewRunner(boundedCfg).Run(context.Background(), &Progress{}, nil)
	if err != nil {
		t.Fatal(err)
	}

	if exact.Count != bounded.Count {
		t.Errorf("counts differ: exact %d, bounded %d", exact.Count, bounded.Count)
	}
	if bounded.Sampled {
		t.Error("rate 1.0 bounded run tagged sampled")
	}
	if !bounded.ApproximateMedian {
		t.Error("bounded run did not tag its median approximate")
	}
	// Reservoir larger than the dataset: medians must agree exactly too.
	if exact.Width.Median != bounded.Width.Median {
		t.Errorf("medians differ: exact %v, bounded %v", exact.Width.Median, bounded.Width.Median)
	}
}

// TestRunCancelledEarly: cancelling before the run starts still drains the
// pipeline cleanly and yields either ErrNoData or a partial summary.
func TestRunCancelledEarly(t *testing.T) {
	root := scenarioTree(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := NewRunner(testConfig(root)).Run(ctx, &Progress{}, nil)
	if err != nil && !errors.Is(err, stats.ErrNoData) {
		t.Fatalf("Run after cancel: %v", err)
	}
	if err == nil && summary.Count > 3 {
		t.Errorf("partial summary counted %d images, more than exist", summary.Count)
	}
}

// TestProbePoolKeepsBatchSurvivors: one bad file inside a batch must not
// lose the measurements of its batch-mates.
func TestProbePoolKeepsBatchSurvivors(t *testing.T) {
	dir := t.TempDir()
	good1 := filepath.Join(dir, "good1.png")
	good2 := filepath.Join(dir, "good2.png")
	bad := filepath.Join(dir, "bad.png")
	writePNG(t, good1, 10, 20)
	writePNG(t, good2, 30, 40)
	if err := os.WriteFile(bad, []byte("junk"), 0644); err != nil {
		t.Fatal(err)
	}

	in := make(chan []string, 1)
	in <- []string{good1, bad, good2}
	close(in)

	out := make(chan BatchResult, 1)
	RunProbePool(context.Background(), 2, Prober{}, &Progress{}, nil, in, out)

	var results []BatchResult
	for res := range out {
		results = append(results, res)
	}
	if len(results) != 1 {
		t.Fatalf("got %d batch results, want 1", len(results))
	}
	res := results[0]
	if res.Failures != 1 {
		t.Errorf("failures = %d, want 1", res.Failures)
	}
	want := []stats.Dimension{{Width: 10, Height: 20}, {Width: 30, Height: 40}}
	if len(res.Dims) != len(want) {
		t.Fatalf("got %d dimensions, want %d", len(res.Dims), len(want))
	}
	for i, d := range res.Dims {
		if d != want[i] {
			t.Errorf("dim %d = %+v, want %+v (in-batch order must hold)", i, d, want[i])
		}
	}
}
