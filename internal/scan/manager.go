package scan

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/minha12/quilt-1m/internal/stats"
)

// ErrAlreadyRunning is returned when a run is started while one is in progress.
var ErrAlreadyRunning = errors.New("a statistics run is already in progress")

// ErrNoActiveRun is returned when cancel is called with no run in progress.
var ErrNoActiveRun = errors.New("no statistics run is currently in progress")

// ActiveRun holds live information about the running pipeline.
type ActiveRun struct {
	ID          int64
	StartedAt   time.Time
	TriggeredBy string
	Progress    *Progress
}

// Manager enforces a single-active-run invariant for serve mode and
// persists every run to the run_history table. Safe for concurrent use.
type Manager struct {
	mu  sync.Mutex
	db  *sql.DB
	cfg Config

	active   *ActiveRun
	cancelFn context.CancelFunc
}

// NewManager creates a Manager using cfg for every future run.
func NewManager(db *sql.DB, cfg Config) *Manager {
	return &Manager{db: db, cfg: cfg}
}

// Start launches an asynchronous statistics run. Returns an ActiveRun
// snapshot, or ErrAlreadyRunning if one is in progress. The run_history
// row is created before the goroutine starts so the ID is immediately
// available to the HTTP response.
func (m *Manager) Start(parentCtx context.Context, triggeredBy string) (*ActiveRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		return nil, ErrAlreadyRunning
	}

	startedAt := time.Now()
	runID, err := insertRunRecord(m.db, m.cfg, startedAt, triggeredBy)
	if err != nil {
		return nil, fmt.Errorf("create run record: %w", err)
	}

	progress := &Progress{}
	runCtx, cancel := context.WithCancel(parentCtx)

	active := &ActiveRun{
		ID:          runID,
		StartedAt:   startedAt,
		TriggeredBy: triggeredBy,
		Progress:    progress,
	}
	m.active = active
	m.cancelFn = cancel

	runner := NewRunner(m.cfg)
	db := m.db

	go func() {
		defer cancel()

		report := func(path, stage, errMsg string) {
			slog.Warn("file skipped", "run_id", runID, "stage", stage, "path", path, "error", errMsg)
		}

		summary, runErr := runner.Run(runCtx, progress, report)

		status := "completed"
		switch {
		case runCtx.Err() != nil:
			status = "cancelled"
		case runErr != nil && !errors.Is(runErr, stats.ErrNoData):
			status = "failed"
		}
		if errors.Is(runErr, stats.ErrNoData) {
			slog.Warn("no valid images processed", "run_id", runID)
		}

		if err := finalizeRunRecord(db, runID, status, time.Since(active.StartedAt), progress, summary); err != nil {
			slog.Error("finalize run record", "run_id", runID, "error", err)
		}

		m.mu.Lock()
		m.active = nil
		m.cancelFn = nil
		m.mu.Unlock()
	}()

	return active, nil
}

// Cancel stops the currently running pipeline. Returns ErrNoActiveRun when idle.
func (m *Manager) Cancel() (*ActiveRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		return nil, ErrNoActiveRun
	}
	snap := *m.active
	m.cancelFn()
	return &snap, nil
}

// Active returns a snapshot of the running pipeline, or nil when idle.
func (m *Manager) Active() *ActiveRun {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return nil
	}
	snap := *m.active
	return &snap
}

// MarkStaleRunsFailed marks any run_history rows still in 'running' state
// as failed. Called once at startup in case a previous process crashed
// mid-run.
func MarkStaleRunsFailed(db *sql.DB) error {
	res, err := db.Exec(`
		UPDATE run_history
		SET status = 'failed', finished_at = ?
		WHERE status = 'running'`,
		time.Now().Unix())
	if err != nil {
		return fmt.Errorf("mark stale runs failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		slog.Warn("marked stale runs as failed", "count", n)
	}
	return nil
}

// ── DB record helpers ─────────────────────────────────────────────────────────

func insertRunRecord(db *sql.DB, cfg Config, startedAt time.Time, triggeredBy string) (int64, error) {
	now := startedAt.Unix()
	res, err := db.Exec(`
		INSERT INTO run_history
			(started_at, status, triggered_by, root, memory_efficient, sample_rate, created_at)
		VALUES (?, 'running', ?, ?, ?, ?, ?)`,
		now, triggeredBy, cfg.Root, cfg.MemoryEfficient, cfg.SampleRate, now)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// finalizeRunRecord writes the terminal state of a run. summary may be nil
// (no data or failure); the statistics columns then stay NULL.
func finalizeRunRecord(db *sql.DB, runID int64, status string, duration time.Duration, p *Progress, summary *stats.Summary) error {
	args := []any{
		status,
		time.Now().Unix(),
		int64(duration.Seconds()),
		p.FilesDiscovered.Load(),
		p.FilesProbed.Load(),
		p.ProbeErrors.Load(),
	}
	q := `
		UPDATE run_history
		SET status = ?, finished_at = ?, duration_seconds = ?,
		    files_discovered = ?, files_probed = ?, probe_errors = ?`

	if summary != nil {
		q += `,
		    image_count = ?, sampled = ?, approximate_median = ?,
		    width_min = ?, width_max = ?, width_mean = ?, width_median = ?, width_std = ?,
		    height_min = ?, height_max = ?, height_mean = ?, height_median = ?, height_std = ?`
		args = append(args,
			summary.Count, summary.Sampled, summary.ApproximateMedian,
			summary.Width.Min, summary.Width.Max, summary.Width.Mean, summary.Width.Median, summary.Width.Std,
			summary.Height.Min, summary.Height.Max, summary.Height.Mean, summary.Height.Median, summary.Height.Std)
	}

	q += ` WHERE id = ?`
	args = append(args, runID)

	_, err := db.Exec(q, args...)
	return err
}
