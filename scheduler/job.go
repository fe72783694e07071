// Package scheduler provides the persistent job scheduler: durable job
// definitions with cron or interval triggers, a dependency freshness gate,
// append-only execution history, and a bounded worker pool that runs
// ingestions through the provider coordinator.
package scheduler

import "time"

// Job is a durable recurring ingestion job.
type Job struct {
	ID              string     `json:"id"`
	Symbol          string     `json:"symbol"`
	AssetType       string     `json:"asset_type"`
	Provider        string     `json:"provider,omitempty"`
	TriggerKind     string     `json:"trigger_kind"`
	TriggerExpr     string     `json:"trigger_expr"`
	Status          string     `json:"status"`
	DependsOn       []string   `json:"depends_on,omitempty"`
	TemplateID      string     `json:"template_id,omitempty"`
	Params          JobParams  `json:"params"`
	NextFireAt      *time.Time `json:"next_fire_at,omitempty"`
	LastRunAt       *time.Time `json:"last_run_at,omitempty"`
	LastSuccessAt   *time.Time `json:"last_success_at,omitempty"`
	LastExecutionID string     `json:"last_execution_id,omitempty"`
	// Version supports optimistic concurrency. Every write must match the
	// version it read; the store bumps it by one on success.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Status constants for scheduled jobs
const (
	StatusActive  = "active"
	StatusPaused  = "paused"
	StatusDeleted = "deleted" // soft delete, excluded from scans and lists
)

// JobParams carries per-job ingestion settings, stored as JSON.
type JobParams struct {
	// LookbackDays is how far back each run's requested range reaches,
	// ending at tomorrow's UTC midnight. 0 selects DefaultLookbackDays.
	LookbackDays int `json:"lookback_days,omitempty"`
	// Mode overrides the configured ingest mode (incremental | full).
	Mode string `json:"mode,omitempty"`
	// Conflict overrides the configured conflict policy.
	Conflict string `json:"conflict,omitempty"`
}

// DefaultLookbackDays is the run window when a job's params do not set one.
const DefaultLookbackDays = 30

// Window returns the closed-open day range a run dispatched at now should
// request: the last LookbackDays days, today included.
func (p JobParams) Window(now time.Time) (start, end time.Time) {
	lookback := p.LookbackDays
	if lookback <= 0 {
		lookback = DefaultLookbackDays
	}
	end = now.UTC().Truncate(24 * time.Hour).AddDate(0, 0, 1)
	return end.AddDate(0, 0, -lookback), end
}
