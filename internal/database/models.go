package database

import (
	"time"
)

// JobStatus represents the lifecycle state of an import job
type JobStatus string

const (
	JobStatusIdle      JobStatus = "idle"
	JobStatusRunning   JobStatus = "running"
	JobStatusStopping  JobStatus = "stopping"
	JobStatusStopped   JobStatus = "stopped"
	JobStatusCompleted JobStatus = "completed"
	JobStatusError     JobStatus = "error"
)

// Terminal reports whether the status allows a reset.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusIdle, JobStatusStopped, JobStatusCompleted, JobStatusError:
		return true
	}
	return false
}

// Active reports whether a job is currently claiming its import kind.
func (s JobStatus) Active() bool {
	return s == JobStatusRunning || s == JobStatusStopping
}

// ImportJob is the persisted singleton job state for one import kind
type ImportJob struct {
	Kind         string     `db:"kind" json:"kind"`
	JobID        *string    `db:"job_id" json:"job_id"`
	Status       JobStatus  `db:"status" json:"status"`
	Total        int        `db:"total" json:"total"`
	CurrentIndex int        `db:"current_index" json:"current_index"`
	Imported     int        `db:"imported" json:"imported"`
	Skipped      int        `db:"skipped" json:"skipped"`
	Failed       int        `db:"failed" json:"failed"`
	CurrentItem  *string    `db:"current_item" json:"current_item"`
	LastError    *string    `db:"last_error" json:"last_error"`
	Options      *string    `db:"options" json:"-"`
	StartedAt    *time.Time `db:"started_at" json:"started_at"`
	UpdatedAt    *time.Time `db:"updated_at" json:"updated_at"`
	CompletedAt  *time.Time `db:"completed_at" json:"completed_at"`
	StoppedAt    *time.Time `db:"stopped_at" json:"stopped_at"`
}

// Remaining returns the number of remote items not yet considered.
func (j *ImportJob) Remaining() int {
	if j.Total <= j.CurrentIndex {
		return 0
	}
	return j.Total - j.CurrentIndex
}

// OutcomeBucket names the counter an item outcome is recorded against
type OutcomeBucket string

const (
	BucketImported OutcomeBucket = "imported"
	BucketSkipped  OutcomeBucket = "skipped"
	BucketFailed   OutcomeBucket = "failed"
)

// JobLogLine is one appended line in a job's log sink
type JobLogLine struct {
	ID        int64     `db:"id" json:"id"`
	Kind      string    `db:"kind" json:"kind"`
	SessionID string    `db:"session_id" json:"session_id"`
	Level     string    `db:"level" json:"level"`
	Category  string    `db:"category" json:"category"`
	Message   string    `db:"message" json:"message"`
	Fields    *string   `db:"fields" json:"fields,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Record is a materialized local entity produced from a remote item
type Record struct {
	ID        int64     `db:"id" json:"id"`
	Kind      string    `db:"kind" json:"kind"`
	SourceID  string    `db:"source_id" json:"source_id"`
	Slug      string    `db:"slug" json:"slug"`
	Title     string    `db:"title" json:"title"`
	Payload   *string   `db:"payload" json:"-"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// MediaAsset is a side-loaded binary asset stored locally
type MediaAsset struct {
	ID          int64     `db:"id" json:"id"`
	SourceID    string    `db:"source_id" json:"source_id"`
	FileName    string    `db:"file_name" json:"file_name"`
	ContentType string    `db:"content_type" json:"content_type"`
	SizeBytes   int64     `db:"size_bytes" json:"size_bytes"`
	Checksum    *string   `db:"checksum" json:"checksum"`
	LocalPath   string    `db:"local_path" json:"local_path"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}
