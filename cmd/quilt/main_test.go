package main

import (
	"encoding/json"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/minha12/quilt-1m/internal/stats"
)

func writeTestPNG(t *testing.T, path string, w, h int) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatal(err)
	}
}

// TestRunStatsWritesSummary drives the stats command end to end with only
// the directory argument, the way a user invokes it: flag defaults alone
// must produce a valid config and an output file.
func TestRunStatsWritesSummary(t *testing.T) {
	dir := t.TempDir()
	writeTestPNG(t, filepath.Join(dir, "a.png"), 100, 200)
	writeTestPNG(t, filepath.Join(dir, "b.png"), 300, 400)
	out := filepath.Join(t.TempDir(), "image_stats.json")

	if err := runStats([]string{"-output", out, dir}); err != nil {
		t.Fatalf("runStats: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	var summary stats.Summary
	if err := json.Unmarshal(data, &summary); err != nil {
		t.Fatalf("unmarshal output: %v", err)
	}
	if summary.Count != 2 {
		t.Errorf("count = %d, want 2", summary.Count)
	}
	if summary.Width.Min != 100 || summary.Width.Max != 300 {
		t.Errorf("width extrema = [%d, %d], want [100, 300]", summary.Width.Min, summary.Width.Max)
	}
	if summary.Sampled {
		t.Error("full-rate run tagged sampled")
	}
}

// TestRunStatsWalkersFlag covers the -walkers override.
func TestRunStatsWalkersFlag(t *testing.T) {
	dir := t.TempDir()
	writeTestPNG(t, filepath.Join(dir, "a.png"), 64, 64)
	out := filepath.Join(t.TempDir(), "image_stats.json")

	if err := runStats([]string{"-walkers", "2", "-workers", "1", "-output", out, dir}); err != nil {
		t.Fatalf("runStats: %v", err)
	}
	if _, err := os.Stat(out); err != nil {
		t.Errorf("output not written: %v", err)
	}
}

// TestRunStatsEmptyDirWritesNothing: no measurable images is not an error,
// and no output file appears.
func TestRunStatsEmptyDirWritesNothing(t *testing.T) {
	out := filepath.Join(t.TempDir(), "image_stats.json")
	if err := runStats([]string{"-output", out, t.TempDir()}); err != nil {
		t.Fatalf("runStats on empty dir: %v", err)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Errorf("expected no output file, stat err = %v", err)
	}
}

// TestRunStatsRejectsMissingRoot: a nonexistent directory fails validation
// before any work starts.
func TestRunStatsRejectsMissingRoot(t *testing.T) {
	if err := runStats([]string{filepath.Join(t.TempDir(), "absent")}); err == nil {
		t.Error("expected error for a nonexistent root")
	}
}
