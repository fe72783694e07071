package scheduler

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fathomdata/tidemark/asset"
	"github.com/fathomdata/tidemark/config"
	"github.com/fathomdata/tidemark/errors"
	"github.com/fathomdata/tidemark/ingest"
	"github.com/fathomdata/tidemark/logger"
)

// Stats is a snapshot of scheduler state for the status surface.
type Stats struct {
	Jobs          map[string]int `json:"jobs"`
	Executions24h map[string]int `json:"executions_24h"`
	Ticks         int64          `json:"ticks"`
	LastTickAt    *time.Time     `json:"last_tick_at,omitempty"`
	System        SystemMetrics  `json:"system"`
}

// Scheduler owns the tick loop, the dependency gate, the dispatch queue and
// the worker pool. All job mutations go through it so validation and
// next-fire bookkeeping stay in one place.
type Scheduler struct {
	jobs      *JobStore
	execs     *ExecutionStore
	templates *TemplateStore
	queue     *dispatchQueue
	pool      *pool
	cfg       *config.Config

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	lastTickAt time.Time
	ticks      int64
}

// New creates a scheduler over the given database. The runner is what a
// worker invokes per dispatched job.
func New(db *sql.DB, runner JobRunner, cfg *config.Config) *Scheduler {
	jobs := NewJobStore(db)
	execs := NewExecutionStore(db)
	queue := newDispatchQueue()

	return &Scheduler{
		jobs:      jobs,
		execs:     execs,
		templates: NewTemplateStore(db),
		queue:     queue,
		pool:      newPool(jobs, execs, queue, runner, cfg.Scheduler.Workers, cfg.Scheduler.ExecutionTimeout()),
		cfg:       cfg,
	}
}

// Start recovers orphaned executions, launches the worker pool and, when a
// tick interval is configured, the periodic tick loop.
func (s *Scheduler) Start(ctx context.Context) error {
	recovered, err := s.execs.RecoverOrphans(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to recover orphaned executions")
	}
	if recovered > 0 {
		logger.Warnw("Recovered orphaned executions from previous run", logger.FieldCount, recovered)
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.pool.Start(ctx)

	if s.cfg.Scheduler.TickInterval() > 0 {
		s.wg.Add(1)
		go s.run(ctx)
	} else {
		logger.Debugw("Periodic ticking disabled")
	}

	logger.Infow("Scheduler started",
		"workers", s.cfg.Scheduler.Workers,
		"tick_interval", s.cfg.Scheduler.TickInterval().String())
	return nil
}

// Stop halts ticking, wakes idle workers and waits for in-flight runs.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.queue.Close()
	s.pool.Stop()
	logger.Infow("Scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Scheduler.TickInterval())
	defer ticker.Stop()
	maintenance := time.NewTicker(24 * time.Hour)
	defer maintenance.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := s.Tick(ctx, now); err != nil {
				logger.Errorw("Tick failed", logger.FieldError, err)
			}
		case <-maintenance.C:
			if _, err := s.CleanupExecutions(ctx); err != nil {
				logger.Errorw("Execution cleanup failed", logger.FieldError, err)
			}
		}
	}
}

// Tick scans due jobs and dispatches the ones whose dependencies are
// fresh. A job that loses the re-arm version race is skipped for this
// occurrence; a job with unmet dependencies stays due and is re-checked
// next tick, with no execution recorded. Tick never waits on execution.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) error {
	due, err := s.jobs.ListJobsDue(ctx, now)
	if err != nil {
		return err
	}

	for _, job := range due {
		satisfied, err := s.dependenciesSatisfied(ctx, job)
		if err != nil {
			logger.Errorw("Dependency check failed",
				logger.FieldJobID, job.ID,
				logger.FieldError, err)
			continue
		}
		if !satisfied {
			logger.Debugw("Dependencies unmet, deferring job", logger.FieldJobID, job.ID)
			continue
		}

		next, err := NextFire(job.TriggerKind, job.TriggerExpr, now)
		if err != nil {
			logger.Errorw("Cannot compute next fire",
				logger.FieldJobID, job.ID,
				logger.FieldTrigger, job.TriggerExpr,
				logger.FieldError, err)
			continue
		}

		execID := uuid.New().String()
		if err := s.jobs.ReArm(ctx, job.ID, job.Version, next, now, execID); err != nil {
			if errors.IsConflictError(err) {
				logger.Debugw("Lost re-arm race, skipping occurrence", logger.FieldJobID, job.ID)
			} else {
				logger.Errorw("Failed to re-arm job",
					logger.FieldJobID, job.ID,
					logger.FieldError, err)
			}
			continue
		}

		exec := &Execution{
			ID:          execID,
			JobID:       job.ID,
			StartedAt:   now.UTC(),
			Outcome:     OutcomeRunning,
			TriggeredBy: TriggeredBySchedule,
		}
		if err := s.execs.CreateExecution(ctx, exec); err != nil {
			logger.Errorw("Failed to record execution, occurrence dropped",
				logger.FieldJobID, job.ID,
				logger.FieldError, err)
			continue
		}

		s.queue.Push(dispatch{Job: job, ExecutionID: execID, TriggeredBy: TriggeredBySchedule})
		logger.Debugw("Dispatched job",
			logger.FieldJobID, job.ID,
			logger.FieldExecutionID, execID,
			logger.FieldNextFire, next.Format(time.RFC3339))
	}

	s.mu.Lock()
	s.lastTickAt = now
	s.ticks++
	s.mu.Unlock()

	return nil
}

// dependenciesSatisfied applies the freshness gate: every prerequisite must
// have a successful execution newer than this job's own last success. A
// prerequisite that no longer exists is satisfied, so deleting a job can
// never permanently block its dependents.
func (s *Scheduler) dependenciesSatisfied(ctx context.Context, job *Job) (bool, error) {
	for _, depID := range job.DependsOn {
		if _, err := s.jobs.GetJob(ctx, depID); err != nil {
			if errors.IsNotFoundError(err) {
				logger.Warnw("Dangling dependency treated as satisfied",
					logger.FieldJobID, job.ID,
					"dependency_id", depID)
				continue
			}
			return false, err
		}

		success, err := s.execs.LatestSuccess(ctx, depID)
		if err != nil {
			return false, err
		}
		if success == nil {
			return false, nil
		}
		if job.LastSuccessAt == nil {
			continue
		}

		finished := success.StartedAt
		if success.FinishedAt != nil {
			finished = *success.FinishedAt
		}
		if !finished.After(*job.LastSuccessAt) {
			return false, nil
		}
	}

	return true, nil
}

// CreateJob validates and persists a new job. The caller fills the input
// fields (symbol, asset type, trigger, params, dependencies); identity,
// status and the initial next fire are assigned here.
func (s *Scheduler) CreateJob(ctx context.Context, job *Job) (*Job, error) {
	if err := s.validateJob(ctx, job); err != nil {
		return nil, err
	}

	now := time.Now()
	next, err := NextFire(job.TriggerKind, job.TriggerExpr, now)
	if err != nil {
		return nil, err
	}

	job.ID = uuid.New().String()
	job.Status = StatusActive
	job.NextFireAt = &next
	job.LastRunAt = nil
	job.LastSuccessAt = nil
	job.LastExecutionID = ""

	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	logger.Infow("Job created",
		logger.FieldJobID, job.ID,
		logger.FieldSymbol, job.Symbol,
		logger.FieldAssetType, job.AssetType,
		logger.FieldTrigger, job.TriggerKind+" "+job.TriggerExpr,
		logger.FieldNextFire, next.Format(time.RFC3339))
	return job, nil
}

// CreateJobFromTemplate creates a job pre-filled from a template, resolved
// by id first and name second. Overrides with an empty trigger inherit the
// template's trigger; zero params inherit the template's params. The
// template is copied at creation time, later template edits do not
// propagate.
func (s *Scheduler) CreateJobFromTemplate(ctx context.Context, ref string, overrides *Job) (*Job, error) {
	tmpl, err := s.FindTemplate(ctx, ref)
	if err != nil {
		return nil, err
	}

	job := overrides
	if job == nil {
		job = &Job{}
	}
	if job.TriggerKind == "" && job.TriggerExpr == "" {
		job.TriggerKind = tmpl.TriggerKind
		job.TriggerExpr = tmpl.TriggerExpr
	}
	if (job.Params == JobParams{}) {
		job.Params = tmpl.Params
	}
	job.TemplateID = tmpl.ID

	return s.CreateJob(ctx, job)
}

// GetJob returns a job by id.
func (s *Scheduler) GetJob(ctx context.Context, id string) (*Job, error) {
	return s.jobs.GetJob(ctx, id)
}

// ListJobs returns all non-deleted jobs, newest first.
func (s *Scheduler) ListJobs(ctx context.Context) ([]*Job, error) {
	return s.jobs.ListJobs(ctx)
}

// UpdateJob re-validates and persists a modified job. The job must carry
// the version it was read at; ErrConflict means someone else wrote in
// between and the caller should re-read. The next fire is recomputed only
// when the trigger changed; other edits leave the armed schedule alone.
func (s *Scheduler) UpdateJob(ctx context.Context, job *Job) (*Job, error) {
	current, err := s.jobs.GetJob(ctx, job.ID)
	if err != nil {
		return nil, err
	}

	if err := s.validateJob(ctx, job); err != nil {
		return nil, err
	}

	triggerChanged := current.TriggerKind != job.TriggerKind || current.TriggerExpr != job.TriggerExpr
	if triggerChanged && current.Status == StatusActive {
		next, err := NextFire(job.TriggerKind, job.TriggerExpr, time.Now())
		if err != nil {
			return nil, err
		}
		job.NextFireAt = &next
	} else {
		job.NextFireAt = current.NextFireAt
	}

	if err := s.jobs.UpdateJob(ctx, job); err != nil {
		return nil, err
	}

	logger.Infow("Job updated", logger.FieldJobID, job.ID, "version", job.Version)
	return job, nil
}

// PauseJob stops future dispatches without touching in-flight executions.
// Pausing a paused job is a no-op.
func (s *Scheduler) PauseJob(ctx context.Context, id string) error {
	job, err := s.jobs.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if job.Status == StatusPaused {
		return nil
	}

	if err := s.jobs.SetStatus(ctx, id, StatusPaused, nil); err != nil {
		return err
	}
	logger.Infow("Job paused", logger.FieldJobID, id)
	return nil
}

// ResumeJob re-arms a paused job from now. Occurrences missed while paused
// are not replayed. Resuming an active job is a no-op.
func (s *Scheduler) ResumeJob(ctx context.Context, id string) error {
	job, err := s.jobs.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if job.Status == StatusActive {
		return nil
	}

	next, err := NextFire(job.TriggerKind, job.TriggerExpr, time.Now())
	if err != nil {
		return err
	}
	if err := s.jobs.SetStatus(ctx, id, StatusActive, &next); err != nil {
		return err
	}
	logger.Infow("Job resumed",
		logger.FieldJobID, id,
		logger.FieldNextFire, next.Format(time.RFC3339))
	return nil
}

// DeleteJob soft-deletes a job. History stays; dependents treat the
// deleted job as a satisfied dependency from now on.
func (s *Scheduler) DeleteJob(ctx context.Context, id string) error {
	if err := s.jobs.SetStatus(ctx, id, StatusDeleted, nil); err != nil {
		return err
	}
	logger.Infow("Job deleted", logger.FieldJobID, id)
	return nil
}

// TriggerNow dispatches a job immediately through the normal queue and
// pool, bypassing the trigger and the dependency gate. The regular next
// fire is untouched. Works on paused jobs. Returns the execution id.
func (s *Scheduler) TriggerNow(ctx context.Context, id string) (string, error) {
	job, err := s.jobs.GetJob(ctx, id)
	if err != nil {
		return "", err
	}

	now := time.Now()
	exec := &Execution{
		ID:          uuid.New().String(),
		JobID:       job.ID,
		StartedAt:   now.UTC(),
		Outcome:     OutcomeRunning,
		TriggeredBy: TriggeredByManual,
	}
	if err := s.execs.CreateExecution(ctx, exec); err != nil {
		return "", err
	}
	if err := s.jobs.RecordDispatch(ctx, job.ID, now, exec.ID); err != nil {
		return "", err
	}

	s.queue.Push(dispatch{Job: job, ExecutionID: exec.ID, TriggeredBy: TriggeredByManual})
	logger.Infow("Job triggered manually",
		logger.FieldJobID, job.ID,
		logger.FieldExecutionID, exec.ID)
	return exec.ID, nil
}

// Executions returns a page of a job's execution history, newest first,
// plus the total matching the filter.
func (s *Scheduler) Executions(ctx context.Context, jobID string, limit, offset int, outcomeFilter string) ([]*Execution, int, error) {
	return s.execs.ListExecutions(ctx, jobID, limit, offset, outcomeFilter)
}

// GetExecution returns a single execution by id.
func (s *Scheduler) GetExecution(ctx context.Context, id string) (*Execution, error) {
	return s.execs.GetExecution(ctx, id)
}

// CreateTemplate validates and persists a job template.
func (s *Scheduler) CreateTemplate(ctx context.Context, tmpl *Template) (*Template, error) {
	if tmpl.Name == "" {
		return nil, errors.NewValidationError("template name is required")
	}
	if err := ValidateTrigger(tmpl.TriggerKind, tmpl.TriggerExpr); err != nil {
		return nil, err
	}
	if err := validateParams(tmpl.Params); err != nil {
		return nil, err
	}

	tmpl.ID = uuid.New().String()
	if err := s.templates.CreateTemplate(ctx, tmpl); err != nil {
		return nil, err
	}

	logger.Infow("Template created", logger.FieldTemplateID, tmpl.ID, "name", tmpl.Name)
	return tmpl, nil
}

// GetTemplate returns a template by id.
func (s *Scheduler) GetTemplate(ctx context.Context, id string) (*Template, error) {
	return s.templates.GetTemplate(ctx, id)
}

// FindTemplate resolves a template reference by id first and name second.
func (s *Scheduler) FindTemplate(ctx context.Context, ref string) (*Template, error) {
	tmpl, err := s.templates.GetTemplate(ctx, ref)
	if errors.IsNotFoundError(err) {
		tmpl, err = s.templates.GetTemplateByName(ctx, ref)
	}
	return tmpl, err
}

// ListTemplates returns all templates ordered by name.
func (s *Scheduler) ListTemplates(ctx context.Context) ([]*Template, error) {
	return s.templates.ListTemplates(ctx)
}

// DeleteTemplate removes a template. Jobs created from it are unaffected.
func (s *Scheduler) DeleteTemplate(ctx context.Context, id string) error {
	return s.templates.DeleteTemplate(ctx, id)
}

// CleanupExecutions deletes finished executions older than the configured
// retention window.
func (s *Scheduler) CleanupExecutions(ctx context.Context) (int, error) {
	n, err := s.execs.CleanupOldExecutions(ctx, s.cfg.Scheduler.ExecutionRetentionDays)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logger.Infow("Cleaned up old executions", logger.FieldCount, n)
	}
	return n, nil
}

// Stats reports jobs by status, queue and pool load, execution outcomes
// over the last 24 hours, and host memory.
func (s *Scheduler) Stats(ctx context.Context) (*Stats, error) {
	jobs, err := s.jobs.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	execs, err := s.execs.CountSince(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		Jobs:          jobs,
		Executions24h: execs,
		System: SystemMetrics{
			WorkersActive: s.pool.Active(),
			WorkersTotal:  s.pool.workers,
			QueueDepth:    s.queue.Len(),
		},
	}
	collectMemory(&stats.System)

	s.mu.Lock()
	stats.Ticks = s.ticks
	if !s.lastTickAt.IsZero() {
		t := s.lastTickAt
		stats.LastTickAt = &t
	}
	s.mu.Unlock()

	return stats, nil
}

// validateJob checks the user-supplied fields of a job spec.
func (s *Scheduler) validateJob(ctx context.Context, job *Job) error {
	job.Symbol = asset.NormalizeSymbol(job.Symbol)
	if job.Symbol == "" {
		return errors.NewValidationError("symbol is required")
	}
	if !asset.IsValidType(asset.Type(job.AssetType)) {
		return errors.NewValidationError("unknown asset type %q", job.AssetType)
	}
	if err := ValidateTrigger(job.TriggerKind, job.TriggerExpr); err != nil {
		return err
	}
	if err := validateParams(job.Params); err != nil {
		return err
	}

	for _, depID := range job.DependsOn {
		if depID == job.ID {
			return errors.NewValidationError("job cannot depend on itself")
		}
		if _, err := s.jobs.GetJob(ctx, depID); err != nil {
			if errors.IsNotFoundError(err) {
				return errors.NewValidationError("dependency %s does not exist", depID)
			}
			return err
		}
	}

	return nil
}

func validateParams(p JobParams) error {
	if _, err := ingest.ParseMode(p.Mode); err != nil {
		return err
	}
	if _, err := ingest.ParseConflictPolicy(p.Conflict); err != nil {
		return err
	}
	if p.LookbackDays < 0 {
		return errors.NewValidationError("lookback_days must not be negative")
	}
	return nil
}
