package handlers

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/minha12/quilt-1m/internal/scan"
)

// RunsHandler handles run-history API endpoints.
type RunsHandler struct {
	DB      *sql.DB
	Manager *scan.Manager
}

// runInfo is the JSON shape of one run_history row. Statistics fields are
// pointers: NULL until the run finishes with data.
type runInfo struct {
	ID              int64     `json:"id"`
	StartedAt       time.Time `json:"started_at"`
	FinishedAt      *int64    `json:"finished_at,omitempty"`
	DurationSeconds *int64    `json:"duration_seconds,omitempty"`
	Status          string    `json:"status"`
	TriggeredBy     string    `json:"triggered_by"`
	Root            string    `json:"root"`
	MemoryEfficient bool      `json:"memory_efficient"`
	SampleRate      float64   `json:"sample_rate"`

	FilesDiscovered int64 `json:"files_discovered"`
	FilesProbed     int64 `json:"files_probed"`
	ProbeErrors     int64 `json:"probe_errors"`

	ImageCount        *int64    `json:"image_count,omitempty"`
	Sampled           *bool     `json:"sampled,omitempty"`
	ApproximateMedian *bool     `json:"approximate_median,omitempty"`
	Width             *axisInfo `json:"width,omitempty"`
	Height            *axisInfo `json:"height,omitempty"`
}

type axisInfo struct {
	Min    int64   `json:"min"`
	Max    int64   `json:"max"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Std    float64 `json:"std"`
}

const runColumns = `
	id, started_at, finished_at, duration_seconds, status, triggered_by,
	root, memory_efficient, sample_rate,
	files_discovered, files_probed, probe_errors,
	image_count, sampled, approximate_median,
	width_min, width_max, width_mean, width_median, width_std,
	height_min, height_max, height_mean, height_median, height_std`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRunInfo(row rowScanner) (runInfo, error) {
	var (
		ri                         runInfo
		startedAt                  int64
		finishedAt, duration       sql.NullInt64
		count                      sql.NullInt64
		sampled, approx            sql.NullBool
		wMin, wMax, hMin, hMax     sql.NullInt64
		wMean, wMedian, wStd       sql.NullFloat64
		hMean, hMedian, hStd       sql.NullFloat64
	)
	err := row.Scan(
		&ri.ID, &startedAt, &finishedAt, &duration, &ri.Status, &ri.TriggeredBy,
		&ri.Root, &ri.MemoryEfficient, &ri.SampleRate,
		&ri.FilesDiscovered, &ri.FilesProbed, &ri.ProbeErrors,
		&count, &sampled, &approx,
		&wMin, &wMax, &wMean, &wMedian, &wStd,
		&hMin, &hMax, &hMean, &hMedian, &hStd,
	)
	if err != nil {
		return ri, err
	}
	ri.StartedAt = time.Unix(startedAt, 0).UTC()
	if finishedAt.Valid {
		ri.FinishedAt = &finishedAt.Int64
	}
	if duration.Valid {
		ri.DurationSeconds = &duration.Int64
	}
	if count.Valid {
		ri.ImageCount = &count.Int64
	}
	if sampled.Valid {
		ri.Sampled = &sampled.Bool
	}
	if approx.Valid {
		ri.ApproximateMedian = &approx.Bool
	}
	if wMin.Valid {
		ri.Width = &axisInfo{Min: wMin.Int64, Max: wMax.Int64, Mean: wMean.Float64, Median: wMedian.Float64, Std: wStd.Float64}
		ri.Height = &axisInfo{Min: hMin.Int64, Max: hMax.Int64, Mean: hMean.Float64, Median: hMedian.Float64, Std: hStd.Float64}
	}
	return ri, nil
}

// Create handles POST /api/runs — triggers a manual statistics run.
func (h *RunsHandler) Create(w http.ResponseWriter, r *http.Request) {
	active, err := h.Manager.Start(context.Background(), "manual")
	if err != nil {
		if errors.Is(err, scan.ErrAlreadyRunning) {
			writeError(w, http.StatusConflict, "RUN_ALREADY_RUNNING", "A statistics run is already in progress")
			return
		}
		slog.Error("runs: start", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to start run")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"id":           active.ID,
		"status":       "running",
		"started_at":   active.StartedAt.UTC().Format(time.RFC3339),
		"triggered_by": active.TriggeredBy,
	})
}

// Cancel handles DELETE /api/runs/current.
func (h *RunsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Manager.Cancel()
	if err != nil {
		if errors.Is(err, scan.ErrNoActiveRun) {
			writeError(w, http.StatusNotFound, "NO_ACTIVE_RUN", "No statistics run is currently in progress")
			return
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":         snap.ID,
		"status":     "cancelled",
		"started_at": snap.StartedAt.UTC().Format(time.RFC3339),
	})
}

// List handles GET /api/runs — run history, newest first.
func (h *RunsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)

	var total int
	if err := h.DB.QueryRowContext(r.Context(), `SELECT COUNT(*) FROM run_history`).Scan(&total); err != nil {
		slog.Error("runs: count", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list runs")
		return
	}

	rows, err := h.DB.QueryContext(r.Context(),
		`SELECT `+runColumns+` FROM run_history ORDER BY started_at DESC, id DESC LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		slog.Error("runs: list", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list runs")
		return
	}
	defer rows.Close()

	items := []runInfo{}
	for rows.Next() {
		ri, err := scanRunInfo(rows)
		if err != nil {
			slog.Error("runs: scan row", "error", err)
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list runs")
			return
		}
		items = append(items, ri)
	}

	writeJSON(w, http.StatusOK, ListResponse[runInfo]{
		Items: items, Total: total, Limit: limit, Offset: offset,
	})
}

// Get handles GET /api/runs/{id}.
func (h *RunsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Run ID must be an integer")
		return
	}

	ri, err := scanRunInfo(h.DB.QueryRowContext(r.Context(),
		`SELECT `+runColumns+` FROM run_history WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "RUN_NOT_FOUND", "No run with that ID")
		return
	}
	if err != nil {
		slog.Error("runs: get", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to fetch run")
		return
	}

	writeJSON(w, http.StatusOK, ri)
}
