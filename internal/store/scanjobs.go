package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ScanStatus is the state of a scan job.
type ScanStatus string

const (
	ScanPending   ScanStatus = "pending"
	ScanRunning   ScanStatus = "running"
	ScanCompleted ScanStatus = "completed"
	ScanFailed    ScanStatus = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s ScanStatus) Terminal() bool {
	return s == ScanCompleted || s == ScanFailed
}

// ScanJob is a background directory scan and its progress record.
type ScanJob struct {
	ID          string          `json:"id"`
	Folder      string          `json:"folder"`
	Status      ScanStatus      `json:"status"`
	Progress    int             `json:"progress"`
	Message     string          `json:"message"`
	Results     json.RawMessage `json:"results"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// CreateScanJob inserts a pending job with a fresh id.
func (s *SQLiteStore) CreateScanJob(ctx context.Context, folder string) (*ScanJob, error) {
	now := time.Now().UTC()
	job := &ScanJob{
		ID:        uuid.NewString(),
		Folder:    folder,
		Status:    ScanPending,
		Message:   "queued",
		Results:   json.RawMessage("{}"),
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scan_jobs (id, folder, status, progress, message, results, created_at, updated_at)
		 VALUES (?, ?, ?, 0, ?, '{}', ?, ?)`,
		job.ID, job.Folder, job.Status, job.Message, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("creating scan job: %w", err)
	}
	return job, nil
}

// StartScanJob moves a pending job to running.
func (s *SQLiteStore) StartScanJob(ctx context.Context, id, message string) error {
	return s.execScanUpdate(ctx, id,
		`UPDATE scan_jobs SET status = 'running', message = ?, updated_at = ?
		 WHERE id = ? AND status = 'pending'`,
		message, time.Now().UTC(), id)
}

// UpdateScanProgress sets the progress percentage and status message of a
// running job. Progress never moves backwards.
func (s *SQLiteStore) UpdateScanProgress(ctx context.Context, id string, progress int, message string) error {
	if progress > 100 {
		progress = 100
	}
	return s.execScanUpdate(ctx, id,
		`UPDATE scan_jobs SET progress = MAX(progress, ?), message = ?, updated_at = ?
		 WHERE id = ? AND status = 'running'`,
		progress, message, time.Now().UTC(), id)
}

// CompleteScanJob stores the results payload and marks the job completed.
func (s *SQLiteStore) CompleteScanJob(ctx context.Context, id, message string, results any) error {
	raw, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("encoding scan results: %w", err)
	}
	now := time.Now().UTC()
	return s.execScanUpdate(ctx, id,
		`UPDATE scan_jobs SET status = 'completed', progress = 100, message = ?, results = ?,
		        updated_at = ?, completed_at = ?
		 WHERE id = ? AND status IN ('pending', 'running')`,
		message, string(raw), now, now, id)
}

// FailScanJob records the failure message and marks the job failed.
func (s *SQLiteStore) FailScanJob(ctx context.Context, id, errMsg string) error {
	now := time.Now().UTC()
	return s.execScanUpdate(ctx, id,
		`UPDATE scan_jobs SET status = 'failed', message = 'failed', error = ?, updated_at = ?, completed_at = ?
		 WHERE id = ? AND status IN ('pending', 'running')`,
		errMsg, now, now, id)
}

func (s *SQLiteStore) execScanUpdate(ctx context.Context, id, query string, args ...interface{}) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating scan job %s: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		if _, err := s.GetScanJob(ctx, id); err != nil {
			return err
		}
		// Row exists but is not in the expected state; the update is dropped.
	}
	return nil
}

const scanJobSelect = `SELECT id, folder, status, progress, message, results, error,
	created_at, updated_at, completed_at FROM scan_jobs`

// GetScanJob returns a job by id. Returns ErrNotFound if absent.
func (s *SQLiteStore) GetScanJob(ctx context.Context, id string) (*ScanJob, error) {
	row := s.db.QueryRowContext(ctx, scanJobSelect+` WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("scan job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting scan job %s: %w", id, err)
	}
	return job, nil
}

// ListScanJobs returns the most recent jobs first.
func (s *SQLiteStore) ListScanJobs(ctx context.Context, limit int) ([]ScanJob, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, scanJobSelect+` ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing scan jobs: %w", err)
	}
	defer rows.Close()

	var jobs []ScanJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*ScanJob, error) {
	var j ScanJob
	var results string
	var completedAt sql.NullTime
	if err := row.Scan(&j.ID, &j.Folder, &j.Status, &j.Progress, &j.Message, &results, &j.Error,
		&j.CreatedAt, &j.UpdatedAt, &completedAt); err != nil {
		return nil, err
	}
	j.Results = json.RawMessage(results)
	if completedAt.Valid {
		t := completedAt.Time
		j.CompletedAt = &t
	}
	return &j, nil
}
