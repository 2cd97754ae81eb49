package restore

import "time"

// Phase is a state of the restore state machine
type Phase string

const (
	PhaseIdle              Phase = "idle"
	PhaseExtracting        Phase = "extracting"
	PhaseValidating        Phase = "validating"
	PhaseSnapshotting      Phase = "snapshotting"
	PhaseRestoringDatabase Phase = "restoring_database"
	PhaseRollingBack       Phase = "rolling_back"
	PhaseRestoringFiles    Phase = "restoring_files"
	PhaseFinalizing        Phase = "finalizing"
	PhaseDone              Phase = "done"
	PhaseFailed            Phase = "failed"
)

// Status is the outcome of one restore component
type Status string

const (
	StatusSuccess Status = "success"
	StatusSkipped Status = "skipped"
	// StatusCleaned means the live tree was emptied because the archive had no uploads.
	StatusCleaned Status = "cleaned"
	StatusError   Status = "error"
)

// RollbackStatus records whether the pre-restore database state had to be
// put back
type RollbackStatus string

const (
	RollbackNotNeeded RollbackStatus = "not_needed"
	RollbackSucceeded RollbackStatus = "succeeded"
	RollbackFailed    RollbackStatus = "failed"
)

// ComponentResult is the outcome of the database or files part of a restore
type ComponentResult struct {
	Status Status `json:"status" yaml:"status"`
	Detail string `json:"detail,omitempty" yaml:"detail,omitempty"`
}

// Result is the composite outcome of a restore
type Result struct {
	ID         string          `json:"id" yaml:"id"`
	Archive    string          `json:"archive" yaml:"archive"`
	Database   ComponentResult `json:"database" yaml:"database"`
	Files      ComponentResult `json:"files" yaml:"files"`
	Rollback   RollbackStatus  `json:"rollback" yaml:"rollback"`
	Phases     []Phase         `json:"phases" yaml:"phases"`
	StartedAt  time.Time       `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time       `json:"finished_at" yaml:"finished_at"`
	// SnapshotDir is set only when a failed rollback left the pre-restore
	// snapshot behind for manual recovery.
	SnapshotDir string `json:"snapshot_dir,omitempty" yaml:"snapshot_dir,omitempty"`

	requestedDatabase bool
	requestedFiles    bool
}

// Success reports whether every requested component was restored
func (r *Result) Success() bool {
	if !r.requestedDatabase && !r.requestedFiles {
		return false
	}
	if r.requestedDatabase && r.Database.Status != StatusSuccess {
		return false
	}
	if r.requestedFiles && r.Files.Status != StatusSuccess && r.Files.Status != StatusCleaned {
		return false
	}
	return true
}

// Duration is the wall time of the restore
func (r *Result) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
