package scan

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// FileInfo is a candidate image file emitted by the walker.
type FileInfo struct {
	Path  string
	Size  int64
	MTime time.Time
}

// imageExts is the recognized image extension set. Matching is
// case-insensitive on the file extension only; content is not inspected
// until the probe stage.
var imageExts = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {},
	".bmp": {}, ".tiff": {}, ".webp": {},
}

// IsImagePath reports whether path carries a recognized image extension.
func IsImagePath(path string) bool {
	_, ok := imageExts[strings.ToLower(filepath.Ext(path))]
	return ok
}

// dirQueue is an unbounded, concurrency-safe queue of directory paths.
// It tracks a pending counter so that Walk() knows when all work is done.
//
// Termination protocol:
//   - Push increments pending BEFORE enqueuing (caller must own the increment).
//   - Done decrements pending AFTER all children of a directory have been
//     pushed. When pending reaches 0, Done closes the queue and broadcasts.
type dirQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   []string
	head    int // index of the next item to pop; avoids O(n) re-slicing
	pending atomic.Int64
	closed  bool
}

func newDirQueue() *dirQueue {
	q := &dirQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push enqueues a directory. Must be called after incrementing pending.
func (q *dirQueue) Push(dir string) {
	q.mu.Lock()
	q.items = append(q.items, dir)
	q.mu.Unlock()
	q.cond.Signal()
}

// Pop blocks until an item is available or the queue is closed.
// Returns ("", false) when the queue is closed and empty.
func (q *dirQueue) Pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.head >= len(q.items) && !q.closed {
		q.cond.Wait()
	}
	if q.head >= len(q.items) {
		return "", false
	}
	item := q.items[q.head]
	q.items[q.head] = "" // release string reference so GC can collect it
	q.head++
	// Compact once head passes the midpoint of a large backlog so the
	// backing array cannot grow without bound on deep trees.
	if q.head >= 1000 && q.head >= len(q.items)/2 {
		q.items = append(q.items[:0], q.items[q.head:]...)
		q.head = 0
	}
	return item, true
}

// Done must be called once per directory after all its child-directories
// have been pushed. Decrements pending; if pending reaches 0, closes the
// queue.
func (q *dirQueue) Done() {
	if q.pending.Add(-1) == 0 {
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()
		q.cond.Broadcast()
	}
}

// Walk traverses root concurrently using numWalkers goroutines and sends
// every recognized image file to out. Walk closes out when done. The
// traversal is single-pass and not restartable; a fresh call re-walks the
// tree. Symlinks and non-regular files are skipped. Unreadable directories
// are reported and skipped — they never abort the walk.
func Walk(ctx context.Context, root string, numWalkers int, progress *Progress, out chan<- FileInfo, report ErrorReporter) {
	defer close(out)

	q := newDirQueue()
	q.pending.Add(1)
	q.Push(root)

	var wg sync.WaitGroup
	for range numWalkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			walkerWorker(ctx, q, progress, out, report)
		}()
	}
	wg.Wait()
}

// walkerWorker pops directories from q, reads their entries, enqueues
// sub-directories (incrementing pending first), sends recognized image
// files to out, then calls q.Done() to decrement pending.
func walkerWorker(ctx context.Context, q *dirQueue, progress *Progress, out chan<- FileInfo, report ErrorReporter) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		dir, ok := q.Pop()
		if !ok {
			return
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			progress.WalkErrors.Add(1)
			if report != nil {
				report(dir, "walk", err.Error())
			}
			q.Done()
			continue
		}

		for _, entry := range entries {
			path := filepath.Join(dir, entry.Name())

			if entry.IsDir() {
				// Increment BEFORE pushing so pending is never zero prematurely.
				q.pending.Add(1)
				q.Push(path)
				continue
			}

			if entry.Type()&fs.ModeSymlink != 0 {
				continue
			}
			if !entry.Type().IsRegular() {
				continue
			}
			if !IsImagePath(path) {
				continue
			}

			info, err := entry.Info()
			if err != nil {
				if report != nil {
					report(path, "walk", err.Error())
				}
				continue
			}

			progress.FilesDiscovered.Add(1)
			progress.BytesSeen.Add(info.Size())

			select {
			case <-ctx.Done():
				q.Done()
				return
			case out <- FileInfo{Path: path, Size: info.Size(), MTime: info.ModTime()}:
			}
		}

		q.Done()
	}
}
