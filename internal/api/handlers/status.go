package handlers

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/minha12/quilt-1m/internal/scan"
	"github.com/minha12/quilt-1m/internal/scheduler"
)

// StatusHandler handles GET /api/status.
type StatusHandler struct {
	DB      *sql.DB
	Manager *scan.Manager
	Sched   *scheduler.Scheduler
	Version string
}

type statusResponse struct {
	Version      string           `json:"version"`
	ActiveRun    *activeRunInfo   `json:"active_run"`
	Schedule     scheduleInfo     `json:"schedule"`
	LastFinished *runInfo         `json:"last_finished_run"`
}

type activeRunInfo struct {
	ID          int64        `json:"id"`
	StartedAt   time.Time    `json:"started_at"`
	TriggeredBy string       `json:"triggered_by"`
	Progress    progressInfo `json:"progress"`
}

type progressInfo struct {
	FilesDiscovered int64 `json:"files_discovered"`
	FilesSampledOut int64 `json:"files_sampled_out"`
	FilesProbed     int64 `json:"files_probed"`
	ProbeErrors     int64 `json:"probe_errors"`
	BatchesFolded   int64 `json:"batches_folded"`
	BytesSeen       int64 `json:"bytes_seen"`
	WalkErrors      int64 `json:"walk_errors"`
}

type scheduleInfo struct {
	Cron      string     `json:"cron"`
	NextRunAt *time.Time `json:"next_run_at"`
}

func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Version: h.Version,
		Schedule: scheduleInfo{
			Cron:      h.Sched.CronExpr(),
			NextRunAt: h.Sched.NextRunAt(),
		},
	}

	if active := h.Manager.Active(); active != nil {
		p := active.Progress
		resp.ActiveRun = &activeRunInfo{
			ID:          active.ID,
			StartedAt:   active.StartedAt.UTC(),
			TriggeredBy: active.TriggeredBy,
			Progress: progressInfo{
				FilesDiscovered: p.FilesDiscovered.Load(),
				FilesSampledOut: p.FilesSampledOut.Load(),
				FilesProbed:     p.FilesProbed.Load(),
				ProbeErrors:     p.ProbeErrors.Load(),
				BatchesFolded:   p.BatchesFolded.Load(),
				BytesSeen:       p.BytesSeen.Load(),
				WalkErrors:      p.WalkErrors.Load(),
			},
		}
	}

	last, err := scanRunInfo(h.DB.QueryRowContext(r.Context(),
		`SELECT `+runColumns+` FROM run_history
		 WHERE status != 'running'
		 ORDER BY started_at DESC, id DESC LIMIT 1`))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// no finished runs yet
	case err != nil:
		slog.Error("status: last finished run", "error", err)
	default:
		resp.LastFinished = &last
	}

	writeJSON(w, http.StatusOK, resp)
}
