package scheduler

import (
	"context"
	"database/sql"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathomdata/tidemark/errors"
	tidetest "github.com/fathomdata/tidemark/internal/testing"
)

type runnerFunc func(ctx context.Context, job *Job) (*RunResult, error)

func (f runnerFunc) Run(ctx context.Context, job *Job) (*RunResult, error) {
	return f(ctx, job)
}

// dispatchJob persists a job plus a running execution and hands back the
// dispatch a tick would have enqueued.
func dispatchJob(t *testing.T, db *sql.DB, jobID, execID string) (*JobStore, *ExecutionStore, dispatch) {
	t.Helper()
	ctx := context.Background()

	jobs := NewJobStore(db)
	execs := NewExecutionStore(db)

	job := testJob(jobID, "AAPL")
	require.NoError(t, jobs.CreateJob(ctx, job))
	require.NoError(t, execs.CreateExecution(ctx, &Execution{ID: execID, JobID: jobID}))

	return jobs, execs, dispatch{Job: job, ExecutionID: execID, TriggeredBy: TriggeredBySchedule}
}

func TestWorkerFinalizesSuccess(t *testing.T) {
	db := tidetest.CreateMigratedTestDB(t)
	jobs, execs, d := dispatchJob(t, db, "job-1", "exec-1")
	ctx := context.Background()

	runner := runnerFunc(func(ctx context.Context, job *Job) (*RunResult, error) {
		assert.Equal(t, "job-1", job.ID)
		return &RunResult{RecordsLoaded: 21, RecordsDropped: 2}, nil
	})

	p := newPool(jobs, execs, newDispatchQueue(), runner, 1, 0)
	p.execute(ctx, d)

	exec, err := execs.GetExecution(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, exec.Outcome)
	assert.Equal(t, 21, exec.RecordsLoaded)
	assert.Equal(t, 2, exec.RecordsDropped)
	assert.Empty(t, exec.Detail)
	require.NotNil(t, exec.FinishedAt)

	job, err := jobs.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, job.LastSuccessAt, "success refreshes the dependency gate")
}

func TestWorkerFinalizesSkipped(t *testing.T) {
	db := tidetest.CreateMigratedTestDB(t)
	jobs, execs, d := dispatchJob(t, db, "job-1", "exec-1")
	ctx := context.Background()

	runner := runnerFunc(func(ctx context.Context, job *Job) (*RunResult, error) {
		return &RunResult{Skipped: true}, nil
	})

	p := newPool(jobs, execs, newDispatchQueue(), runner, 1, 0)
	p.execute(ctx, d)

	exec, err := execs.GetExecution(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, exec.Outcome)

	// A skipped run proved nothing new, so dependents must not see it as
	// fresh upstream data.
	job, err := jobs.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Nil(t, job.LastSuccessAt)
}

func TestWorkerFinalizesFailure(t *testing.T) {
	db := tidetest.CreateMigratedTestDB(t)
	jobs, execs, d := dispatchJob(t, db, "job-1", "exec-1")
	ctx := context.Background()

	runner := runnerFunc(func(ctx context.Context, job *Job) (*RunResult, error) {
		return &RunResult{RecordsLoaded: 9}, errors.Mark(
			errors.New("upstream returned 502"), errors.ErrCollection)
	})

	p := newPool(jobs, execs, newDispatchQueue(), runner, 1, 0)
	p.execute(ctx, d)

	exec, err := execs.GetExecution(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, exec.Outcome)
	assert.Contains(t, exec.Detail, "upstream returned 502")
	assert.Equal(t, 9, exec.RecordsLoaded, "partial progress is recorded on failure")

	job, err := jobs.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Nil(t, job.LastSuccessAt)
}

func TestWorkerTimeoutDetail(t *testing.T) {
	db := tidetest.CreateMigratedTestDB(t)
	jobs, execs, d := dispatchJob(t, db, "job-1", "exec-1")
	ctx := context.Background()

	runner := runnerFunc(func(ctx context.Context, job *Job) (*RunResult, error) {
		<-ctx.Done()
		return nil, errors.Wrap(ctx.Err(), "collector stalled")
	})

	p := newPool(jobs, execs, newDispatchQueue(), runner, 1, 50*time.Millisecond)
	p.execute(ctx, d)

	exec, err := execs.GetExecution(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, exec.Outcome)
	assert.True(t, strings.HasPrefix(exec.Detail, "Timeout: "), "detail %q", exec.Detail)
	require.NotNil(t, exec.FinishedAt, "a timed-out run still finalizes its history row")
}

func TestWorkerPoolDrainsQueue(t *testing.T) {
	db := tidetest.CreateMigratedTestDB(t)
	ctx := context.Background()

	jobs := NewJobStore(db)
	execs := NewExecutionStore(db)
	queue := newDispatchQueue()

	for _, id := range []string{"a", "b", "c"} {
		job := testJob("job-"+id, "AAPL")
		require.NoError(t, jobs.CreateJob(ctx, job))
		require.NoError(t, execs.CreateExecution(ctx, &Execution{ID: "exec-" + id, JobID: job.ID}))
		queue.Push(dispatch{Job: job, ExecutionID: "exec-" + id, TriggeredBy: TriggeredBySchedule})
	}

	var ran atomic.Int32
	runner := runnerFunc(func(ctx context.Context, job *Job) (*RunResult, error) {
		ran.Add(1)
		return &RunResult{RecordsLoaded: 1}, nil
	})

	p := newPool(jobs, execs, queue, runner, 2, 0)
	p.Start(ctx)

	require.Eventually(t, func() bool {
		counts, err := execs.CountSince(ctx, time.Time{})
		return err == nil && counts[OutcomeSuccess] == 3
	}, 2*time.Second, 10*time.Millisecond)

	p.Stop()
	assert.Equal(t, int32(3), ran.Load())
	assert.Zero(t, queue.Len())
	assert.Zero(t, p.Active())
}
