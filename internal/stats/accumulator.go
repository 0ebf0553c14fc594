// Package stats implements online aggregation of image dimensions: running
// sums, extrema, and median estimation either from full retention (exact)
// or from a fixed-capacity reservoir sample (bounded memory).
package stats

import (
	"math/rand/v2"
	"time"
)

// Dimension is one measured image: width and height in pixels.
type Dimension struct {
	Width  int
	Height int
}

// Accumulator folds batches of dimension observations into running summary
// state. Implementations are not safe for concurrent use — the pipeline
// gives each accumulator exactly one owner, and folds never interleave.
type Accumulator interface {
	// Fold offers every observation in dims, in order, exactly once.
	Fold(dims []Dimension)
	// Count returns the number of observations folded so far.
	Count() int64
	// Finalize computes the terminal statistics from the folded state.
	// Returns ErrNoData when no observation was ever folded.
	Finalize() (*Summary, error)
}

// scalars is the summary state shared by both accumulator variants.
// Sums are float64: sums of squared pixel counts overflow int64 long
// before they lose float precision that matters here.
type scalars struct {
	count     int64
	widthSum  float64
	heightSum float64
	widthSq   float64
	heightSq  float64
	minW      int
	maxW      int
	minH      int
	maxH      int
}

func (s *scalars) observe(d Dimension) {
	if s.count == 0 {
		s.minW, s.maxW = d.Width, d.Width
		s.minH, s.maxH = d.Height, d.Height
	} else {
		s.minW = min(s.minW, d.Width)
		s.maxW = max(s.maxW, d.Width)
		s.minH = min(s.minH, d.Height)
		s.maxH = max(s.maxH, d.Height)
	}
	s.count++
	w, h := float64(d.Width), float64(d.Height)
	s.widthSum += w
	s.heightSum += h
	s.widthSq += w * w
	s.heightSq += h * h
}

// Exact retains every observation, so Finalize yields the true median.
// Memory grows linearly with the number of images.
type Exact struct {
	scalars
	widths  []int
	heights []int
}

// NewExact returns an empty exact accumulator.
func NewExact() *Exact {
	return &Exact{}
}

func (e *Exact) Fold(dims []Dimension) {
	for _, d := range dims {
		e.observe(d)
		e.widths = append(e.widths, d.Width)
		e.heights = append(e.heights, d.Height)
	}
}

func (e *Exact) Count() int64 { return e.count }

func (e *Exact) Finalize() (*Summary, error) {
	return e.scalars.finalize(e.widths, e.heights, false)
}

// Reservoir keeps the same running scalars as Exact but bounds memory by
// holding at most size width/height samples, maintained with the classic
// single-pass reservoir algorithm (Algorithm R). The median reported by
// Finalize is therefore an approximation whose accuracy grows with size.
type Reservoir struct {
	scalars
	size    int
	rng     *rand.Rand
	widths  []int
	heights []int
}

// NewReservoir returns a bounded accumulator holding at most size samples
// per axis. rng may be nil, in which case a time-seeded source is used;
// pass a seeded one for reproducible sampling.
func NewReservoir(size int, rng *rand.Rand) *Reservoir {
	if rng == nil {
		rng = NewRNG(0)
	}
	return &Reservoir{
		size:    size,
		rng:     rng,
		widths:  make([]int, 0, size),
		heights: make([]int, 0, size),
	}
}

// Fold offers each observation once, in the order dims lists them. The
// replacement draw ranges over [0, n) where n is the running count after
// including the observation, so every observation seen so far is equally
// likely to be present in the reservoir.
func (r *Reservoir) Fold(dims []Dimension) {
	for _, d := range dims {
		r.observe(d)
		if len(r.widths) < r.size {
			r.widths = append(r.widths, d.Width)
			r.heights = append(r.heights, d.Height)
			continue
		}
		if slot := r.rng.Int64N(r.count); slot < int64(r.size) {
			r.widths[slot] = d.Width
			r.heights[slot] = d.Height
		}
	}
}

func (r *Reservoir) Count() int64 { return r.count }

func (r *Reservoir) Finalize() (*Summary, error) {
	return r.scalars.finalize(r.widths, r.heights, true)
}

// NewRNG builds the deterministic random source used for reservoir
// replacement and sampling pre-filter draws. Seed 0 means "seed from the
// clock" — the bounded mode is then not reproducible across runs.
func NewRNG(seed uint64) *rand.Rand {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}
