package scheduler

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/fathomdata/tidemark/errors"
)

// JobStore handles persistence of scheduled jobs.
//
// Every mutation bumps the row's version. Full-record updates additionally
// require the version the caller read; a mismatch means another actor wrote
// in between and surfaces as ErrConflict so the caller can re-read.
type JobStore struct {
	db *sql.DB
}

// NewJobStore creates a new job store
func NewJobStore(db *sql.DB) *JobStore {
	return &JobStore{db: db}
}

const jobColumns = `id, symbol, asset_type, provider, trigger_kind, trigger_expr,
	       status, depends_on, template_id, params,
	       next_fire_at, last_run_at, last_success_at, last_execution_id,
	       version, created_at, updated_at`

// CreateJob persists a new scheduled job at version 1.
func (s *JobStore) CreateJob(ctx context.Context, job *Job) error {
	now := time.Now().UTC()
	job.Version = 1
	job.CreatedAt = now
	job.UpdatedAt = now

	dependsOn, params, err := marshalJobJSON(job)
	if err != nil {
		return err
	}

	var templateID interface{}
	if job.TemplateID != "" {
		templateID = job.TemplateID
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scheduled_jobs (
			id, symbol, asset_type, provider, trigger_kind, trigger_expr,
			status, depends_on, template_id, params,
			next_fire_at, last_run_at, last_success_at, last_execution_id,
			version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		job.Symbol,
		job.AssetType,
		job.Provider,
		job.TriggerKind,
		job.TriggerExpr,
		job.Status,
		dependsOn,
		templateID,
		params,
		optionalTime(job.NextFireAt),
		optionalTime(job.LastRunAt),
		optionalTime(job.LastSuccessAt),
		optionalString(job.LastExecutionID),
		job.Version,
		now.Format(time.RFC3339),
		now.Format(time.RFC3339),
	)
	if err != nil {
		return errors.Mark(errors.Wrap(err, "failed to create scheduled job"), errors.ErrPersistence)
	}

	return nil
}

// GetJob retrieves a scheduled job by ID. Soft-deleted jobs report not
// found like never-created ones.
func (s *JobStore) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+`
		FROM scheduled_jobs
		WHERE id = ? AND status != ?`,
		id, StatusDeleted)

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewNotFoundError("scheduled job not found: %s", id)
		}
		return nil, err
	}
	return job, nil
}

// ListJobs returns all non-deleted jobs, newest first.
func (s *JobStore) ListJobs(ctx context.Context) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM scheduled_jobs
		WHERE status != ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1000`,
		StatusDeleted)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "failed to list scheduled jobs"), errors.ErrPersistence)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}

	return jobs, rows.Err()
}

// ListJobsDue returns active jobs whose next fire is at or before now.
// Ordered by (next_fire_at, id) so equally-due jobs dispatch in a
// deterministic order. Limited to 100 per tick.
func (s *JobStore) ListJobsDue(ctx context.Context, now time.Time) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+`
		FROM scheduled_jobs
		WHERE status = ? AND next_fire_at IS NOT NULL AND next_fire_at <= ?
		ORDER BY next_fire_at ASC, id ASC
		LIMIT 100`,
		StatusActive, now.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "failed to list due jobs"), errors.ErrPersistence)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}

	return jobs, rows.Err()
}

// UpdateJob writes the full mutable record. The write succeeds only if the
// stored version still matches job.Version; on success the job's version
// and updated_at are advanced in place.
func (s *JobStore) UpdateJob(ctx context.Context, job *Job) error {
	now := time.Now().UTC()

	dependsOn, params, err := marshalJobJSON(job)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_jobs
		SET symbol = ?,
		    asset_type = ?,
		    provider = ?,
		    trigger_kind = ?,
		    trigger_expr = ?,
		    depends_on = ?,
		    params = ?,
		    next_fire_at = ?,
		    version = version + 1,
		    updated_at = ?
		WHERE id = ? AND version = ? AND status != ?`,
		job.Symbol,
		job.AssetType,
		job.Provider,
		job.TriggerKind,
		job.TriggerExpr,
		dependsOn,
		params,
		optionalTime(job.NextFireAt),
		now.Format(time.RFC3339),
		job.ID,
		job.Version,
		StatusDeleted,
	)
	if err != nil {
		return errors.Mark(errors.Wrap(err, "failed to update scheduled job"), errors.ErrPersistence)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check rows affected")
	}
	if rows == 0 {
		return s.conflictOrNotFound(ctx, job.ID)
	}

	job.Version++
	job.UpdatedAt = now
	return nil
}

// ReArm advances a due job to its next occurrence at dispatch time. The
// version check makes the claim atomic: exactly one actor per occurrence
// wins, and a job paused or edited since the scan loses cleanly.
func (s *JobStore) ReArm(ctx context.Context, id string, version int64, nextFire, lastRun time.Time, executionID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_jobs
		SET next_fire_at = ?,
		    last_run_at = ?,
		    last_execution_id = ?,
		    version = version + 1,
		    updated_at = ?
		WHERE id = ? AND version = ? AND status = ?`,
		nextFire.UTC().Format(time.RFC3339),
		lastRun.UTC().Format(time.RFC3339),
		executionID,
		time.Now().UTC().Format(time.RFC3339),
		id,
		version,
		StatusActive,
	)
	if err != nil {
		return errors.Mark(errors.Wrap(err, "failed to re-arm scheduled job"), errors.ErrPersistence)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check rows affected")
	}
	if rows == 0 {
		return errors.NewConflictError("job %s changed since the due scan", id)
	}

	return nil
}

// RecordDispatch stores run bookkeeping for an out-of-band dispatch without
// touching the regular next fire.
func (s *JobStore) RecordDispatch(ctx context.Context, id string, lastRun time.Time, executionID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_jobs
		SET last_run_at = ?,
		    last_execution_id = ?,
		    version = version + 1,
		    updated_at = ?
		WHERE id = ? AND status != ?`,
		lastRun.UTC().Format(time.RFC3339),
		executionID,
		time.Now().UTC().Format(time.RFC3339),
		id,
		StatusDeleted,
	)
	if err != nil {
		return errors.Mark(errors.Wrap(err, "failed to record dispatch"), errors.ErrPersistence)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check rows affected")
	}
	if rows == 0 {
		return errors.NewNotFoundError("scheduled job not found: %s", id)
	}

	return nil
}

// RecordSuccess stores the completion time of a successful execution. No
// version precondition: the field is written only by workers and a stale
// failure here would lose dependency-gate freshness for no benefit.
func (s *JobStore) RecordSuccess(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_jobs
		SET last_success_at = ?,
		    version = version + 1,
		    updated_at = ?
		WHERE id = ?`,
		at.UTC().Format(time.RFC3339),
		time.Now().UTC().Format(time.RFC3339),
		id,
	)
	if err != nil {
		return errors.Mark(errors.Wrap(err, "failed to record success"), errors.ErrPersistence)
	}
	return nil
}

// SetStatus transitions a job's lifecycle status and replaces its next
// fire. Deleted jobs cannot transition again.
func (s *JobStore) SetStatus(ctx context.Context, id, status string, nextFire *time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_jobs
		SET status = ?,
		    next_fire_at = ?,
		    version = version + 1,
		    updated_at = ?
		WHERE id = ? AND status != ?`,
		status,
		optionalTime(nextFire),
		time.Now().UTC().Format(time.RFC3339),
		id,
		StatusDeleted,
	)
	if err != nil {
		return errors.Mark(errors.Wrap(err, "failed to update job status"), errors.ErrPersistence)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check rows affected")
	}
	if rows == 0 {
		return errors.NewNotFoundError("scheduled job not found: %s", id)
	}

	return nil
}

// CountByStatus returns non-deleted job counts keyed by status.
func (s *JobStore) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*)
		FROM scheduled_jobs
		WHERE status != ?
		GROUP BY status`,
		StatusDeleted)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "failed to count jobs"), errors.ErrPersistence)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.Wrap(err, "failed to scan job count")
		}
		counts[status] = n
	}

	return counts, rows.Err()
}

// conflictOrNotFound decides why a versioned write matched no rows.
func (s *JobStore) conflictOrNotFound(ctx context.Context, id string) error {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM scheduled_jobs WHERE id = ? AND status != ?`,
		id, StatusDeleted).Scan(&n)
	if err != nil {
		return errors.Wrap(err, "failed to probe job existence")
	}
	if n == 0 {
		return errors.NewNotFoundError("scheduled job not found: %s", id)
	}
	return errors.NewConflictError("job %s was modified concurrently, re-read and retry", id)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var dependsOn, params, createdAt, updatedAt string
	var provider string
	var templateID, nextFireAt, lastRunAt, lastSuccessAt, lastExecutionID sql.NullString

	err := row.Scan(
		&job.ID,
		&job.Symbol,
		&job.AssetType,
		&provider,
		&job.TriggerKind,
		&job.TriggerExpr,
		&job.Status,
		&dependsOn,
		&templateID,
		&params,
		&nextFireAt,
		&lastRunAt,
		&lastSuccessAt,
		&lastExecutionID,
		&job.Version,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errors.Wrap(err, "failed to scan scheduled job")
	}

	job.Provider = provider

	if err := json.Unmarshal([]byte(dependsOn), &job.DependsOn); err != nil {
		return nil, errors.Wrapf(err, "corrupt depends_on for job %s", job.ID)
	}
	if err := json.Unmarshal([]byte(params), &job.Params); err != nil {
		return nil, errors.Wrapf(err, "corrupt params for job %s", job.ID)
	}

	job.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse created_at for job %s", job.ID)
	}
	job.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse updated_at for job %s", job.ID)
	}

	if job.NextFireAt, err = parseOptionalTime(nextFireAt, "next_fire_at", job.ID); err != nil {
		return nil, err
	}
	if job.LastRunAt, err = parseOptionalTime(lastRunAt, "last_run_at", job.ID); err != nil {
		return nil, err
	}
	if job.LastSuccessAt, err = parseOptionalTime(lastSuccessAt, "last_success_at", job.ID); err != nil {
		return nil, err
	}
	if templateID.Valid {
		job.TemplateID = templateID.String
	}
	if lastExecutionID.Valid {
		job.LastExecutionID = lastExecutionID.String
	}

	return &job, nil
}

func marshalJobJSON(job *Job) (dependsOn, params string, err error) {
	deps := job.DependsOn
	if deps == nil {
		deps = []string{}
	}
	depsBytes, err := json.Marshal(deps)
	if err != nil {
		return "", "", errors.Wrap(err, "failed to marshal depends_on")
	}

	paramsBytes, err := json.Marshal(job.Params)
	if err != nil {
		return "", "", errors.Wrap(err, "failed to marshal params")
	}

	return string(depsBytes), string(paramsBytes), nil
}

func parseOptionalTime(v sql.NullString, column, jobID string) (*time.Time, error) {
	if !v.Valid {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v.String)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s for job %s", column, jobID)
	}
	return &t, nil
}

func optionalTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func optionalString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
