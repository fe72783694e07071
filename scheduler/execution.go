package scheduler

import "time"

// Execution outcomes
const (
	OutcomeRunning = "running"
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

// Execution trigger sources
const (
	TriggeredBySchedule = "schedule"
	TriggeredByManual   = "manual"
)

// Execution is one attempt at running a scheduled job. Rows are append-only
// history: an execution is created in the running state when the job is
// dispatched and finalized exactly once when the worker finishes.
type Execution struct {
	ID             string     `json:"id"`
	JobID          string     `json:"job_id"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	Outcome        string     `json:"outcome"`
	RecordsLoaded  int        `json:"records_loaded"`
	RecordsDropped int        `json:"records_dropped"`
	Detail         string     `json:"detail,omitempty"`
	TriggeredBy    string     `json:"triggered_by"`
}

// Finished reports whether the execution has reached a terminal outcome.
func (e *Execution) Finished() bool {
	return e.Outcome != OutcomeRunning
}

// Duration returns the wall-clock run time, or zero while still running.
func (e *Execution) Duration() time.Duration {
	if e.FinishedAt == nil {
		return 0
	}
	return e.FinishedAt.Sub(e.StartedAt)
}
