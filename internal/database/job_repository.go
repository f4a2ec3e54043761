package database

import (
	"database/sql"
	"fmt"
	"time"
)

// JobRepository handles import job state persistence. Every transition is a
// single conditional UPDATE guarded by the current status, so concurrent
// control signals (a stale stop, a duplicate start) lose the race cleanly
// instead of corrupting state. Callers learn whether the transition applied
// from the returned bool.
type JobRepository struct {
	db dbtx
}

type dbtx interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

// NewJobRepository creates a new job repository
func NewJobRepository(db dbtx) *JobRepository {
	return &JobRepository{db: db}
}

// EnsureJob makes sure the singleton row for an import kind exists.
func (r *JobRepository) EnsureJob(kind string) error {
	query := `INSERT INTO import_jobs (kind, status) VALUES (?, 'idle') ON CONFLICT(kind) DO NOTHING`
	if _, err := r.db.Exec(query, kind); err != nil {
		return fmt.Errorf("failed to ensure job row for %s: %w", kind, err)
	}
	return nil
}

// GetJob returns the job state for an import kind, creating the idle row if needed.
func (r *JobRepository) GetJob(kind string) (*ImportJob, error) {
	if err := r.EnsureJob(kind); err != nil {
		return nil, err
	}

	query := `
		SELECT kind, job_id, status, total, current_index, imported, skipped, failed,
		       current_item, last_error, options, started_at, updated_at, completed_at, stopped_at
		FROM import_jobs WHERE kind = ?
	`

	var job ImportJob
	err := r.db.QueryRow(query, kind).Scan(
		&job.Kind, &job.JobID, &job.Status, &job.Total, &job.CurrentIndex,
		&job.Imported, &job.Skipped, &job.Failed, &job.CurrentItem, &job.LastError,
		&job.Options, &job.StartedAt, &job.UpdatedAt, &job.CompletedAt, &job.StoppedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get job for %s: %w", kind, err)
	}

	return &job, nil
}

// StartJob transitions idle -> running with fresh counters and frozen options.
func (r *JobRepository) StartJob(kind, jobID string, total int, optionsJSON string) (bool, error) {
	if err := r.EnsureJob(kind); err != nil {
		return false, err
	}

	now := time.Now().UTC()
	query := `
		UPDATE import_jobs
		SET job_id = ?, status = 'running', total = ?, current_index = 0,
		    imported = 0, skipped = 0, failed = 0, current_item = NULL,
		    last_error = NULL, options = ?, started_at = ?, updated_at = ?,
		    completed_at = NULL, stopped_at = NULL
		WHERE kind = ? AND status = 'idle'
	`

	return r.exec(query, jobID, total, optionsJSON, now, now, kind)
}

// RequestStop transitions running -> stopping.
func (r *JobRepository) RequestStop(kind string) (bool, error) {
	query := `UPDATE import_jobs SET status = 'stopping', updated_at = ? WHERE kind = ? AND status = 'running'`
	return r.exec(query, time.Now().UTC(), kind)
}

// Advance records one processed item: bumps current_index and the outcome
// bucket atomically. Each advance is durable on its own so an interrupted
// batch resumes exactly after the last fully processed item.
func (r *JobRepository) Advance(kind string, bucket OutcomeBucket, currentItem string) (bool, error) {
	var column string
	switch bucket {
	case BucketImported:
		column = "imported"
	case BucketSkipped:
		column = "skipped"
	case BucketFailed:
		column = "failed"
	default:
		return false, fmt.Errorf("unknown outcome bucket: %s", bucket)
	}

	query := fmt.Sprintf(`
		UPDATE import_jobs
		SET current_index = current_index + 1, %s = %s + 1, current_item = ?, updated_at = ?
		WHERE kind = ? AND status IN ('running', 'stopping') AND current_index < total
	`, column, column)

	return r.exec(query, currentItem, time.Now().UTC(), kind)
}

// FinalizeStop transitions stopping -> stopped.
func (r *JobRepository) FinalizeStop(kind string) (bool, error) {
	now := time.Now().UTC()
	query := `UPDATE import_jobs SET status = 'stopped', stopped_at = ?, updated_at = ? WHERE kind = ? AND status = 'stopping'`
	return r.exec(query, now, now, kind)
}

// Complete transitions running/stopping -> completed once all items were seen.
func (r *JobRepository) Complete(kind string) (bool, error) {
	now := time.Now().UTC()
	query := `
		UPDATE import_jobs SET status = 'completed', completed_at = ?, updated_at = ?, current_item = NULL
		WHERE kind = ? AND status IN ('running', 'stopping') AND current_index >= total
	`
	return r.exec(query, now, now, kind)
}

// Fail records an unrecoverable error from any non-idle state.
func (r *JobRepository) Fail(kind, errorMessage string) (bool, error) {
	query := `UPDATE import_jobs SET status = 'error', last_error = ?, updated_at = ? WHERE kind = ? AND status != 'idle'`
	return r.exec(query, errorMessage, time.Now().UTC(), kind)
}

// Reset clears a terminal job back to idle defaults.
func (r *JobRepository) Reset(kind string) (bool, error) {
	query := `
		UPDATE import_jobs
		SET job_id = NULL, status = 'idle', total = 0, current_index = 0,
		    imported = 0, skipped = 0, failed = 0, current_item = NULL,
		    last_error = NULL, options = NULL, started_at = NULL,
		    updated_at = ?, completed_at = NULL, stopped_at = NULL
		WHERE kind = ? AND status IN ('idle', 'stopped', 'completed', 'error')
	`
	return r.exec(query, time.Now().UTC(), kind)
}

func (r *JobRepository) exec(query string, args ...interface{}) (bool, error) {
	result, err := r.db.Exec(query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update job state: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return affected > 0, nil
}

// SetStopFlag raises the durable stop flag for an import kind. The flag is
// deliberately a separate row from the job state so a stop request can never
// be lost to a job-state write race. The TTL is a safety net against flags
// orphaned by a crashed job.
func (r *JobRepository) SetStopFlag(kind string, ttl time.Duration) error {
	now := time.Now().UTC()
	query := `
		INSERT INTO stop_flags (kind, requested_at, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(kind) DO UPDATE SET requested_at = excluded.requested_at, expires_at = excluded.expires_at
	`
	if _, err := r.db.Exec(query, kind, now, now.Add(ttl)); err != nil {
		return fmt.Errorf("failed to set stop flag for %s: %w", kind, err)
	}
	return nil
}

// ClearStopFlag lowers the stop flag for an import kind.
func (r *JobRepository) ClearStopFlag(kind string) error {
	if _, err := r.db.Exec(`DELETE FROM stop_flags WHERE kind = ?`, kind); err != nil {
		return fmt.Errorf("failed to clear stop flag for %s: %w", kind, err)
	}
	return nil
}

// StopRequested reports whether a live (non-expired) stop flag is raised.
func (r *JobRepository) StopRequested(kind string) (bool, error) {
	var expiresAt time.Time
	err := r.db.QueryRow(`SELECT expires_at FROM stop_flags WHERE kind = ?`, kind).Scan(&expiresAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("failed to read stop flag for %s: %w", kind, err)
	}

	if time.Now().UTC().After(expiresAt) {
		// Expired flag: clean it up and treat as not requested
		if err := r.ClearStopFlag(kind); err != nil {
			return false, err
		}
		return false, nil
	}

	return true, nil
}
