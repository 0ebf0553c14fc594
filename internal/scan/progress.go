package scan

import "sync/atomic"

// Progress holds live counters updated by the pipeline stages.
// All fields are atomic so they can be written from worker goroutines and
// read from the HTTP status handler without locks.
type Progress struct {
	FilesDiscovered atomic.Int64 // paths matching the recognized image extensions
	FilesSampledOut atomic.Int64 // paths dropped by the sampling pre-filter
	FilesProbed     atomic.Int64 // successful size probes
	ProbeErrors     atomic.Int64 // unreadable or undecodable image files
	BatchesFolded   atomic.Int64 // batch results folded into the accumulator
	BytesSeen       atomic.Int64 // total on-disk size of discovered files
	WalkErrors      atomic.Int64 // directories that could not be read
}

// ErrorReporter records a per-file pipeline error. Implementations
// typically log the path and bump a counter; the pipeline itself never
// treats these failures as fatal.
type ErrorReporter func(path, stage, errMsg string)
