package stats

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
)

// ErrNoData is returned by Finalize when zero images were measured.
// Callers report it as a warning, not a failure, and write no output.
var ErrNoData = errors.New("no valid images processed")

// Axis holds the summary statistics for one dimension axis (width or height).
type Axis struct {
	Min    int     `json:"min"`
	Max    int     `json:"max"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Std    float64 `json:"std"`
}

// Summary is the terminal, immutable result record of one run.
type Summary struct {
	Count                 int64   `json:"count"`
	Width                 Axis    `json:"width"`
	Height                Axis    `json:"height"`
	ProcessingTimeSeconds float64 `json:"processing_time_seconds"`
	Sampled               bool    `json:"sampled"`
	ApproximateMedian     bool    `json:"approximate_median"`
}

// finalize turns the scalar state plus the retained (or sampled) axis
// observations into a Summary.
func (s *scalars) finalize(widths, heights []int, approximate bool) (*Summary, error) {
	if s.count == 0 {
		return nil, ErrNoData
	}
	return &Summary{
		Count:             s.count,
		Width:             axis(s.count, s.widthSum, s.widthSq, s.minW, s.maxW, widths),
		Height:            axis(s.count, s.heightSum, s.heightSq, s.minH, s.maxH, heights),
		ApproximateMedian: approximate,
	}, nil
}

func axis(n int64, sum, sqSum float64, lo, hi int, obs []int) Axis {
	mean := sum / float64(n)
	// Population variance; clamp the tiny negatives floating-point
	// cancellation can produce before taking the root.
	variance := sqSum/float64(n) - mean*mean
	if variance < 0 {
		variance = 0
	}
	return Axis{
		Min:    lo,
		Max:    hi,
		Mean:   mean,
		Median: Median(obs),
		Std:    math.Sqrt(variance),
	}
}

// Median returns the middle value of obs, averaging the two central
// elements when len(obs) is even. Returns NaN for an empty slice.
func Median(obs []int) float64 {
	n := len(obs)
	if n == 0 {
		return math.NaN()
	}
	sorted := make([]int, n)
	copy(sorted, obs)
	sort.Ints(sorted)
	if n%2 == 1 {
		return float64(sorted[n/2])
	}
	return (float64(sorted[n/2-1]) + float64(sorted[n/2])) / 2
}

// WriteFile serialises the summary as indented JSON at path.
func (s *Summary) WriteFile(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write summary %q: %w", path, err)
	}
	return nil
}
