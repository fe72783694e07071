package scheduler

import (
	"context"
	"database/sql"
	"time"

	"github.com/fathomdata/tidemark/errors"
)

// ExecutionStore handles persistence of job execution history.
type ExecutionStore struct {
	db *sql.DB
}

// NewExecutionStore creates a new execution store
func NewExecutionStore(db *sql.DB) *ExecutionStore {
	return &ExecutionStore{db: db}
}

// CreateExecution inserts a new execution in the running state.
func (s *ExecutionStore) CreateExecution(ctx context.Context, exec *Execution) error {
	if exec.StartedAt.IsZero() {
		exec.StartedAt = time.Now().UTC()
	}
	if exec.Outcome == "" {
		exec.Outcome = OutcomeRunning
	}
	if exec.TriggeredBy == "" {
		exec.TriggeredBy = TriggeredBySchedule
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_executions (
			id, job_id, started_at, finished_at, outcome,
			records_loaded, records_dropped, detail, triggered_by
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.ID,
		exec.JobID,
		exec.StartedAt.UTC().Format(time.RFC3339),
		optionalTime(exec.FinishedAt),
		exec.Outcome,
		exec.RecordsLoaded,
		exec.RecordsDropped,
		optionalString(exec.Detail),
		exec.TriggeredBy,
	)
	if err != nil {
		return errors.Mark(errors.Wrap(err, "failed to create execution"), errors.ErrPersistence)
	}

	return nil
}

// FinalizeExecution moves a running execution to its terminal outcome.
// The outcome guard makes finalization exactly-once: a second finalize of
// the same execution matches no rows and errors instead of overwriting
// history.
func (s *ExecutionStore) FinalizeExecution(ctx context.Context, id, outcome string, finishedAt time.Time, loaded, dropped int, detail string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE job_executions
		SET outcome = ?,
		    finished_at = ?,
		    records_loaded = ?,
		    records_dropped = ?,
		    detail = ?
		WHERE id = ? AND outcome = ?`,
		outcome,
		finishedAt.UTC().Format(time.RFC3339),
		loaded,
		dropped,
		optionalString(detail),
		id,
		OutcomeRunning,
	)
	if err != nil {
		return errors.Mark(errors.Wrap(err, "failed to finalize execution"), errors.ErrPersistence)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to check rows affected")
	}
	if rows == 0 {
		return errors.NewConflictError("execution %s is not running", id)
	}

	return nil
}

// GetExecution retrieves a single execution by ID.
func (s *ExecutionStore) GetExecution(ctx context.Context, id string) (*Execution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, job_id, started_at, finished_at, outcome,
		       records_loaded, records_dropped, detail, triggered_by
		FROM job_executions
		WHERE id = ?`,
		id)

	exec, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewNotFoundError("execution not found: %s", id)
		}
		return nil, err
	}
	return exec, nil
}

// ListExecutions returns a page of executions for a job, newest first,
// along with the total count matching the filter. An empty outcomeFilter
// matches all outcomes.
func (s *ExecutionStore) ListExecutions(ctx context.Context, jobID string, limit, offset int, outcomeFilter string) ([]*Execution, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	countQuery := `SELECT COUNT(*) FROM job_executions WHERE job_id = ?`
	countArgs := []interface{}{jobID}
	if outcomeFilter != "" {
		countQuery += ` AND outcome = ?`
		countArgs = append(countArgs, outcomeFilter)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, errors.Mark(errors.Wrap(err, "failed to count executions"), errors.ErrPersistence)
	}

	query := `
		SELECT id, job_id, started_at, finished_at, outcome,
		       records_loaded, records_dropped, detail, triggered_by
		FROM job_executions
		WHERE job_id = ?`
	args := []interface{}{jobID}
	if outcomeFilter != "" {
		query += ` AND outcome = ?`
		args = append(args, outcomeFilter)
	}
	query += `
		ORDER BY started_at DESC, id DESC
		LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, errors.Mark(errors.Wrap(err, "failed to list executions"), errors.ErrPersistence)
	}
	defer rows.Close()

	var execs []*Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, 0, err
		}
		execs = append(execs, exec)
	}

	return execs, total, rows.Err()
}

// LatestSuccess returns the most recent successful execution for a job, or
// nil when the job has never succeeded.
func (s *ExecutionStore) LatestSuccess(ctx context.Context, jobID string) (*Execution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, job_id, started_at, finished_at, outcome,
		       records_loaded, records_dropped, detail, triggered_by
		FROM job_executions
		WHERE job_id = ? AND outcome = ?
		ORDER BY started_at DESC, id DESC
		LIMIT 1`,
		jobID, OutcomeSuccess)

	exec, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return exec, nil
}

// RecoverOrphans fails every execution still marked running. Called once at
// startup: a running row at that point belongs to a previous process that
// stopped before finalizing.
func (s *ExecutionStore) RecoverOrphans(ctx context.Context) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE job_executions
		SET outcome = ?,
		    finished_at = ?,
		    detail = ?
		WHERE outcome = ?`,
		OutcomeFailed,
		time.Now().UTC().Format(time.RFC3339),
		"interrupted by shutdown",
		OutcomeRunning,
	)
	if err != nil {
		return 0, errors.Mark(errors.Wrap(err, "failed to recover orphaned executions"), errors.ErrPersistence)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to check rows affected")
	}

	return int(rows), nil
}

// CleanupOldExecutions deletes finished executions older than the retention
// window and returns how many were removed. Running rows are never cleaned.
func (s *ExecutionStore) CleanupOldExecutions(ctx context.Context, retentionDays int) (int, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)

	result, err := s.db.ExecContext(ctx, `
		DELETE FROM job_executions
		WHERE outcome != ? AND started_at < ?`,
		OutcomeRunning,
		cutoff.Format(time.RFC3339),
	)
	if err != nil {
		return 0, errors.Mark(errors.Wrap(err, "failed to clean up executions"), errors.ErrPersistence)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to check rows affected")
	}

	return int(rows), nil
}

// CountSince returns execution counts by outcome for executions started at
// or after the given time.
func (s *ExecutionStore) CountSince(ctx context.Context, since time.Time) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT outcome, COUNT(*)
		FROM job_executions
		WHERE started_at >= ?
		GROUP BY outcome`,
		since.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "failed to count executions"), errors.ErrPersistence)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, errors.Wrap(err, "failed to scan execution count")
		}
		counts[outcome] = n
	}

	return counts, rows.Err()
}

func scanExecution(row rowScanner) (*Execution, error) {
	var exec Execution
	var startedAt string
	var finishedAt, detail sql.NullString

	err := row.Scan(
		&exec.ID,
		&exec.JobID,
		&startedAt,
		&finishedAt,
		&exec.Outcome,
		&exec.RecordsLoaded,
		&exec.RecordsDropped,
		&detail,
		&exec.TriggeredBy,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errors.Wrap(err, "failed to scan execution")
	}

	exec.StartedAt, err = time.Parse(time.RFC3339, startedAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse started_at for execution %s", exec.ID)
	}
	if finishedAt.Valid {
		t, err := time.Parse(time.RFC3339, finishedAt.String)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse finished_at for execution %s", exec.ID)
		}
		exec.FinishedAt = &t
	}
	if detail.Valid {
		exec.Detail = detail.String
	}

	return &exec, nil
}
