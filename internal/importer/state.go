package importer

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sidepull/sidepull/internal/database"
)

// StateManager is the single owner of one import kind's persisted job state.
// All transitions go through the job repository's conditional updates, so an
// invalid transition (a stale stop after completion, a duplicate start) is a
// logged no-op rather than an error or a corruption.
type StateManager struct {
	jobs    *database.JobRepository
	kind    string
	stopTTL time.Duration
	log     *slog.Logger
}

// NewStateManager creates the state manager for one import kind.
func NewStateManager(jobs *database.JobRepository, kind string, stopTTL time.Duration) *StateManager {
	if stopTTL <= 0 {
		stopTTL = time.Hour
	}
	return &StateManager{
		jobs:    jobs,
		kind:    kind,
		stopTTL: stopTTL,
		log:     slog.Default().With("component", "state-manager", "kind", kind),
	}
}

// Kind returns the import kind this manager owns.
func (m *StateManager) Kind() string {
	return m.kind
}

// Job returns the current persisted job state.
func (m *StateManager) Job() (*database.ImportJob, error) {
	return m.jobs.GetJob(m.kind)
}

// Start transitions idle -> running with a fresh job id and frozen options.
// Returns the applied flag; false means another job already claims the kind.
func (m *StateManager) Start(total int, opts Options) (string, bool, error) {
	encoded, err := opts.Encode()
	if err != nil {
		return "", false, err
	}

	jobID := uuid.New().String()
	applied, err := m.jobs.StartJob(m.kind, jobID, total, encoded)
	if err != nil {
		return "", false, err
	}
	if !applied {
		m.log.Info("Ignored start, job is not idle")
		return "", false, nil
	}

	// A leftover flag from a previous job must not stop the new one
	if err := m.jobs.ClearStopFlag(m.kind); err != nil {
		return "", false, err
	}

	m.log.Info("Job started", "job_id", jobID, "total", total)
	return jobID, true, nil
}

// RequestStop raises the durable stop flag and moves running -> stopping.
// The flag goes up first so an in-flight tick observes the request even if
// the status write races with it.
func (m *StateManager) RequestStop() (bool, error) {
	if err := m.jobs.SetStopFlag(m.kind, m.stopTTL); err != nil {
		return false, err
	}

	applied, err := m.jobs.RequestStop(m.kind)
	if err != nil {
		return false, err
	}
	if !applied {
		job, jerr := m.Job()
		if jerr == nil && !job.Status.Active() {
			// Nothing to stop; lower the flag we just raised
			if cerr := m.jobs.ClearStopFlag(m.kind); cerr != nil {
				return false, cerr
			}
		}
		m.log.Info("Ignored stop request, job is not running")
		return false, nil
	}

	m.log.Info("Stop requested")
	return true, nil
}

// StopRequested reports whether the durable stop flag is raised.
func (m *StateManager) StopRequested() (bool, error) {
	return m.jobs.StopRequested(m.kind)
}

// Advance durably records one processed item and its outcome bucket.
func (m *StateManager) Advance(bucket database.OutcomeBucket, currentItem string) error {
	applied, err := m.jobs.Advance(m.kind, bucket, currentItem)
	if err != nil {
		return err
	}
	if !applied {
		m.log.Warn("Ignored advance, job is not active", "bucket", bucket, "item", currentItem)
	}
	return nil
}

// FinalizeStop moves stopping -> stopped and lowers the stop flag.
func (m *StateManager) FinalizeStop() (bool, error) {
	applied, err := m.jobs.FinalizeStop(m.kind)
	if err != nil {
		return false, err
	}
	if !applied {
		m.log.Info("Ignored stop finalization, job is not stopping")
		return false, nil
	}

	if err := m.jobs.ClearStopFlag(m.kind); err != nil {
		return false, err
	}

	m.log.Info("Job stopped")
	return true, nil
}

// Complete moves running/stopping -> completed once every item was seen.
func (m *StateManager) Complete() (bool, error) {
	applied, err := m.jobs.Complete(m.kind)
	if err != nil {
		return false, err
	}
	if !applied {
		m.log.Info("Ignored completion, job is not active or not done")
		return false, nil
	}

	if err := m.jobs.ClearStopFlag(m.kind); err != nil {
		return false, err
	}

	m.log.Info("Job completed")
	return true, nil
}

// Fail records an unrecoverable error.
func (m *StateManager) Fail(errMessage string) (bool, error) {
	applied, err := m.jobs.Fail(m.kind, errMessage)
	if err != nil {
		return false, err
	}
	if !applied {
		m.log.Info("Ignored failure transition, job is idle")
		return false, nil
	}

	m.log.Error("Job failed", "error", errMessage)
	return true, nil
}

// Reset clears a terminal job back to idle defaults and lowers any flag.
func (m *StateManager) Reset() (bool, error) {
	applied, err := m.jobs.Reset(m.kind)
	if err != nil {
		return false, err
	}
	if !applied {
		m.log.Info("Ignored reset, job is still active")
		return false, nil
	}

	if err := m.jobs.ClearStopFlag(m.kind); err != nil {
		return false, err
	}

	m.log.Info("Job state reset")
	return true, nil
}
