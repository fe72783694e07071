package scheduler

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fathomdata/tidemark/asset"
	"github.com/fathomdata/tidemark/errors"
	"github.com/fathomdata/tidemark/ingest"
	"github.com/fathomdata/tidemark/logger"
)

// RunResult summarizes one job run for the execution record.
type RunResult struct {
	RecordsLoaded  int
	RecordsDropped int
	Skipped        bool
}

// JobRunner executes the work a scheduled job stands for.
type JobRunner interface {
	Run(ctx context.Context, job *Job) (*RunResult, error)
}

// IngestRunner runs scheduled jobs through the ingestion engine. The job's
// params pick the window, mode and conflict policy; empty values fall back
// to the engine's configuration.
type IngestRunner struct {
	engine *ingest.Engine
}

// NewIngestRunner creates a runner backed by an ingestion engine
func NewIngestRunner(engine *ingest.Engine) *IngestRunner {
	return &IngestRunner{engine: engine}
}

// Run ingests the job's lookback window ending today.
func (r *IngestRunner) Run(ctx context.Context, job *Job) (*RunResult, error) {
	start, end := job.Params.Window(time.Now())

	res, err := r.engine.Ingest(ctx, ingest.Request{
		Symbol:    job.Symbol,
		AssetType: asset.Type(job.AssetType),
		Provider:  job.Provider,
		Start:     start,
		End:       end,
		Mode:      ingest.Mode(job.Params.Mode),
		Conflict:  ingest.ConflictPolicy(job.Params.Conflict),
	})
	if res == nil {
		return nil, err
	}

	return &RunResult{
		RecordsLoaded:  res.RecordsLoaded,
		RecordsDropped: res.RecordsDropped,
		Skipped:        res.Status == ingest.LogStatusSkipped,
	}, err
}

// pool runs queued dispatches on a fixed number of workers, each run under
// the configured execution deadline.
type pool struct {
	jobs    *JobStore
	execs   *ExecutionStore
	queue   *dispatchQueue
	runner  JobRunner
	workers int
	timeout time.Duration

	group  *errgroup.Group
	cancel context.CancelFunc
	active chan struct{}
}

func newPool(jobs *JobStore, execs *ExecutionStore, queue *dispatchQueue, runner JobRunner, workers int, timeout time.Duration) *pool {
	if workers <= 0 {
		workers = 4
	}
	return &pool{
		jobs:    jobs,
		execs:   execs,
		queue:   queue,
		runner:  runner,
		workers: workers,
		timeout: timeout,
		active:  make(chan struct{}, workers),
	}
}

// Start launches the workers. They exit when the context is canceled or
// the queue is closed.
func (p *pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.group, ctx = errgroup.WithContext(ctx)

	for i := 0; i < p.workers; i++ {
		p.group.Go(func() error {
			for {
				d, ok := p.queue.Pop(ctx)
				if !ok {
					return nil
				}
				p.execute(ctx, d)
			}
		})
	}

	logger.Infow("Worker pool started", logger.FieldCount, p.workers)
}

// Stop cancels all workers and waits for in-flight runs to finish.
func (p *pool) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()

	done := make(chan struct{})
	go func() {
		_ = p.group.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Debugw("Worker pool stopped")
	case <-time.After(30 * time.Second):
		logger.Warnw("Worker pool stop timed out, some runs may be abandoned")
	}
}

// Active returns the number of workers currently running a job.
func (p *pool) Active() int {
	return len(p.active)
}

func (p *pool) execute(ctx context.Context, d dispatch) {
	p.active <- struct{}{}
	defer func() { <-p.active }()

	// Stamp identity on the run context so log lines deeper in the
	// pipeline carry job_id and execution_id.
	runCtx := logger.WithJobID(ctx, d.Job.ID)
	runCtx = logger.WithExecutionID(runCtx, d.ExecutionID)
	if p.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, p.timeout)
		defer cancel()
	}

	started := time.Now()
	res, err := p.runner.Run(runCtx, d.Job)

	var loaded, dropped int
	if res != nil {
		loaded = res.RecordsLoaded
		dropped = res.RecordsDropped
	}

	outcome := OutcomeSuccess
	detail := ""
	switch {
	case err != nil:
		outcome = OutcomeFailed
		detail = err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			detail = "Timeout: " + detail
		}
	case res != nil && res.Skipped:
		outcome = OutcomeSkipped
	}

	// Bookkeeping runs detached from the execution deadline: a timed-out
	// run must still finalize its history row.
	bkCtx := context.WithoutCancel(ctx)
	finishedAt := time.Now().UTC()

	if ferr := p.execs.FinalizeExecution(bkCtx, d.ExecutionID, outcome, finishedAt, loaded, dropped, detail); ferr != nil {
		logger.Warnw("Failed to finalize execution",
			logger.FieldExecutionID, d.ExecutionID,
			logger.FieldError, ferr)
	}

	// Only real successes refresh the dependency gate. A skipped run
	// proves nothing about data recency.
	if outcome == OutcomeSuccess {
		if serr := p.jobs.RecordSuccess(bkCtx, d.Job.ID, finishedAt); serr != nil {
			logger.Warnw("Failed to record job success",
				logger.FieldJobID, d.Job.ID,
				logger.FieldError, serr)
		}
	}

	fields := []interface{}{
		logger.FieldJobID, d.Job.ID,
		logger.FieldExecutionID, d.ExecutionID,
		logger.FieldSymbol, d.Job.Symbol,
		logger.FieldOutcome, outcome,
		logger.FieldDurationMS, time.Since(started).Milliseconds(),
	}
	if err != nil {
		logger.Warnw("Job run failed", append(fields, logger.FieldError, err)...)
	} else {
		logger.Infow("Job run finished", fields...)
	}
}
