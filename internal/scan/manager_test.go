package scan

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/minha12/quilt-1m/internal/db"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "quilt.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.RunMigrations(database); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	return database
}

// waitIdle polls until the manager has no active run.
func waitIdle(t *testing.T, m *Manager) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for m.Active() != nil {
		if time.Now().After(deadline) {
			t.Fatal("run did not finish in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// TestManagerPersistsRun starts a run over a small tree and verifies the
// run_history row carries the finalized statistics.
func TestManagerPersistsRun(t *testing.T) {
	database := openTestDB(t)
	root := scenarioTree(t)

	mgr := NewManager(database, testConfig(root))
	active, err := mgr.Start(context.Background(), "manual")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if active.ID == 0 {
		t.Error("Start returned a zero run ID")
	}
	waitIdle(t, mgr)

	var status string
	var count, probeErrors int64
	var widthMean float64
	err = database.QueryRow(`
		SELECT status, image_count, probe_errors, width_mean
		FROM run_history WHERE id = ?`, active.ID,
	).Scan(&status, &count, &probeErrors, &widthMean)
	if err != nil {
		t.Fatalf("query run row: %v", err)
	}
	if status != "completed" {
		t.Errorf("status = %q, want completed", status)
	}
	if count != 3 {
		t.Errorf("image_count = %d, want 3", count)
	}
	if probeErrors != 1 {
		t.Errorf("probe_errors = %d, want 1", probeErrors)
	}
	if widthMean != 200.0 {
		t.Errorf("width_mean = %v, want 200.0", widthMean)
	}
}

// TestManagerNoDataRunCompletesWithNullStats runs over an empty tree: the
// row finishes 'completed' with NULL statistics, not 'failed'.
func TestManagerNoDataRunCompletesWithNullStats(t *testing.T) {
	database := openTestDB(t)

	mgr := NewManager(database, testConfig(t.TempDir()))
	active, err := mgr.Start(context.Background(), "manual")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitIdle(t, mgr)

	var status string
	var count sql.NullInt64
	if err := database.QueryRow(
		`SELECT status, image_count FROM run_history WHERE id = ?`, active.ID,
	).Scan(&status, &count); err != nil {
		t.Fatalf("query run row: %v", err)
	}
	if status != "completed" {
		t.Errorf("status = %q, want completed", status)
	}
	if count.Valid {
		t.Errorf("image_count = %v, want NULL", count.Int64)
	}
}

// TestManagerSingleActiveRun rejects a second concurrent start.
func TestManagerSingleActiveRun(t *testing.T) {
	database := openTestDB(t)
	mgr := NewManager(database, testConfig(scenarioTree(t)))

	if _, err := mgr.Start(context.Background(), "manual"); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	_, err := mgr.Start(context.Background(), "manual")
	if err != nil && !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start error = %v, want ErrAlreadyRunning", err)
	}
	// The tree is tiny, so the first run may already be done — only a nil
	// error while still active is wrong.
	if err == nil && mgr.Active() != nil {
		t.Error("second Start succeeded while a run was active")
	}
	waitIdle(t, mgr)

	if _, err := mgr.Cancel(); !errors.Is(err, ErrNoActiveRun) {
		t.Errorf("Cancel when idle = %v, want ErrNoActiveRun", err)
	}
}

// TestMarkStaleRunsFailed flips leftover 'running' rows to failed.
func TestMarkStaleRunsFailed(t *testing.T) {
	database := openTestDB(t)
	if _, err := database.Exec(`
		INSERT INTO run_history (started_at, status, triggered_by, root, created_at)
		VALUES (?, 'running', 'manual', '/tmp/x', ?)`,
		time.Now().Unix(), time.Now().Unix()); err != nil {
		t.Fatal(err)
	}

	if err := MarkStaleRunsFailed(database); err != nil {
		t.Fatalf("MarkStaleRunsFailed: %v", err)
	}
	var status string
	if err := database.QueryRow(`SELECT status FROM run_history`).Scan(&status); err != nil {
		t.Fatal(err)
	}
	if status != "failed" {
		t.Errorf("status = %q, want failed", status)
	}
}
