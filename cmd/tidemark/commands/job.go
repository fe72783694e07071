package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/fathomdata/tidemark/errors"
	"github.com/fathomdata/tidemark/scheduler"
)

// JobCmd groups scheduled job management subcommands.
var JobCmd = &cobra.Command{
	Use:   "job",
	Short: "Manage scheduled ingestion jobs",
	Long: `Manage scheduled ingestion jobs.

A job binds a symbol and asset type to a trigger (cron or interval) and an
ingestion window. The daemon scans for due jobs, checks that declared
dependencies have fresher successes, and runs them on the worker pool.

Job references accept a full ID, a unique ID prefix, or a symbol when only
one job exists for it.`,
}

var jobAddCmd = &cobra.Command{
	Use:     "add SYMBOL TYPE",
	Aliases: []string{"create"},
	Short:   "Create a scheduled job",
	Long: `Create a scheduled job for a symbol.

The trigger comes from --cron or --every, or is inherited from a template
via --template. Explicit flags override template values.

Examples:
  tidemark job add AAPL stock --cron "0 6 * * 1-5"
  tidemark job add BTC-USD crypto --every 15m --lookback 7
  tidemark job add SPY etf --template daily-close --depends-on <job>`,
	Args: cobra.ExactArgs(2),
	RunE: runJobAdd,
}

var jobLsCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List scheduled jobs",
	Args:    cobra.NoArgs,
	RunE:    runJobLs,
}

var jobShowCmd = &cobra.Command{
	Use:   "show JOB",
	Short: "Show a job's configuration and recent executions",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobShow,
}

var jobUpdateCmd = &cobra.Command{
	Use:   "update JOB",
	Short: "Update a job's trigger, dependencies or parameters",
	Long: `Update a scheduled job. Only the passed flags change; everything else
keeps its current value. Changing the trigger recomputes the next fire
time from now.

If the job was modified concurrently the update fails with a conflict;
re-run the command to apply the change against the current state.`,
	Args: cobra.ExactArgs(1),
	RunE: runJobUpdate,
}

var jobPauseCmd = &cobra.Command{
	Use:   "pause JOB",
	Short: "Pause a job so the schedule stops firing it",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobPause,
}

var jobResumeCmd = &cobra.Command{
	Use:   "resume JOB",
	Short: "Resume a paused job, anchoring its schedule at now",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobResume,
}

var jobRmCmd = &cobra.Command{
	Use:     "rm JOB",
	Aliases: []string{"delete"},
	Short:   "Delete a job (its execution history is kept)",
	Args:    cobra.ExactArgs(1),
	RunE:    runJobRm,
}

var jobRunCmd = &cobra.Command{
	Use:     "run JOB",
	Aliases: []string{"trigger"},
	Short:   "Run a job immediately and wait for the outcome",
	Long: `Run a job once, right now, outside its schedule. The run bypasses the
trigger and the dependency gate but still goes through the provider rate
limiter. The job's schedule is not changed. Paused jobs can be run.`,
	Args: cobra.ExactArgs(1),
	RunE: runJobRun,
}

var jobHistoryCmd = &cobra.Command{
	Use:     "history JOB",
	Aliases: []string{"executions"},
	Short:   "Show a job's execution history",
	Args:    cobra.ExactArgs(1),
	RunE:    runJobHistory,
}

func init() {
	addTriggerFlags := func(cmd *cobra.Command) {
		cmd.Flags().String("cron", "", "Cron trigger expression (e.g. \"0 6 * * *\", @daily)")
		cmd.Flags().String("every", "", "Interval trigger (e.g. 15m, 6h, or bare seconds)")
		cmd.Flags().String("provider", "", "Data provider (default synthetic)")
		cmd.Flags().StringSlice("depends-on", nil, "Jobs whose fresh success gates each run")
		cmd.Flags().Int("lookback", 0, "Ingestion window in days (0 uses the default)")
		cmd.Flags().String("mode", "", "Ingestion mode: incremental or full")
		cmd.Flags().String("conflict", "", "Conflict policy: do_nothing or upsert")
	}

	addTriggerFlags(jobAddCmd)
	jobAddCmd.Flags().String("template", "", "Template name or ID to inherit trigger and params from")

	addTriggerFlags(jobUpdateCmd)

	jobRunCmd.Flags().Duration("wait", 0, "How long to wait for the outcome (0 = execution timeout plus grace)")

	jobHistoryCmd.Flags().Int("limit", 20, "Executions to show")
	jobHistoryCmd.Flags().Int("offset", 0, "Executions to skip, newest first")
	jobHistoryCmd.Flags().String("outcome", "", "Filter by outcome: success, failed, skipped, running")

	JobCmd.AddCommand(jobAddCmd, jobLsCmd, jobShowCmd, jobUpdateCmd,
		jobPauseCmd, jobResumeCmd, jobRmCmd, jobRunCmd, jobHistoryCmd)
}

func runJobAdd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()
	sched := buildScheduler(cfg, database)

	spec := &scheduler.Job{
		Symbol:    args[0],
		AssetType: args[1],
	}
	if _, err := applyJobFlags(cmd, spec); err != nil {
		return err
	}

	ctx := context.Background()
	var job *scheduler.Job
	if template, _ := cmd.Flags().GetString("template"); template != "" {
		job, err = sched.CreateJobFromTemplate(ctx, template, spec)
	} else {
		if spec.TriggerExpr == "" {
			return errors.NewValidationError("a trigger is required: pass --cron, --every or --template")
		}
		job, err = sched.CreateJob(ctx, spec)
	}
	if err != nil {
		return err
	}

	pterm.Success.Printfln("Job created: %s", job.ID)
	pterm.Printfln("  Symbol:    %s (%s)", job.Symbol, job.AssetType)
	pterm.Printfln("  Trigger:   %s %s", job.TriggerKind, job.TriggerExpr)
	if len(job.DependsOn) > 0 {
		pterm.Printfln("  Depends:   %s", strings.Join(job.DependsOn, ", "))
	}
	pterm.Printfln("  Next fire: %s", fmtTime(job.NextFireAt))
	return nil
}

func runJobLs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()
	sched := buildScheduler(cfg, database)

	jobs, err := sched.ListJobs(context.Background())
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		pterm.Info.Println("No scheduled jobs. Create one with: tidemark job add SYMBOL TYPE --every 1h")
		return nil
	}

	pterm.Printfln("%-36s  %-12s  %-7s  %-20s  %-8s  %-19s  %s",
		"ID", "SYMBOL", "TYPE", "TRIGGER", "STATUS", "NEXT FIRE", "LAST SUCCESS")
	for _, job := range jobs {
		trigger := job.TriggerKind + " " + job.TriggerExpr
		if len(trigger) > 20 {
			trigger = trigger[:17] + "..."
		}
		pterm.Printfln("%-36s  %-12s  %-7s  %-20s  %s  %-19s  %s",
			job.ID, job.Symbol, job.AssetType, trigger,
			colorStatus(job.Status), fmtTime(job.NextFireAt), fmtTime(job.LastSuccessAt))
	}
	pterm.Println()
	pterm.Printfln("%d job(s)", len(jobs))
	return nil
}

func runJobShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()
	sched := buildScheduler(cfg, database)

	ctx := context.Background()
	job, err := resolveJob(ctx, sched, args[0])
	if err != nil {
		return err
	}

	lookback := job.Params.LookbackDays
	if lookback <= 0 {
		lookback = scheduler.DefaultLookbackDays
	}

	pterm.Printfln("Job %s", job.ID)
	pterm.Printfln("  Symbol:         %s (%s)", job.Symbol, job.AssetType)
	pterm.Printfln("  Provider:       %s", orDefault(job.Provider, "synthetic"))
	pterm.Printfln("  Trigger:        %s %s", job.TriggerKind, job.TriggerExpr)
	pterm.Printfln("  Status:         %s", colorStatus(job.Status))
	pterm.Printfln("  Lookback:       %d days", lookback)
	pterm.Printfln("  Mode:           %s", orDefault(job.Params.Mode, "(config default)"))
	pterm.Printfln("  Conflict:       %s", orDefault(job.Params.Conflict, "(config default)"))
	if len(job.DependsOn) > 0 {
		pterm.Printfln("  Depends on:     %s", strings.Join(job.DependsOn, ", "))
	}
	if job.TemplateID != "" {
		pterm.Printfln("  From template:  %s", job.TemplateID)
	}
	pterm.Printfln("  Next fire:      %s", fmtTime(job.NextFireAt))
	pterm.Printfln("  Last run:       %s", fmtTime(job.LastRunAt))
	pterm.Printfln("  Last success:   %s", fmtTime(job.LastSuccessAt))
	pterm.Printfln("  Version:        %d", job.Version)
	pterm.Printfln("  Created:        %s", job.CreatedAt.Local().Format(timeFormat))

	execs, total, err := sched.Executions(ctx, job.ID, 5, 0, "")
	if err != nil {
		return err
	}
	if len(execs) > 0 {
		pterm.Println()
		pterm.Printfln("Recent executions (%d total):", total)
		for _, e := range execs {
			printExecutionLine(e)
		}
	}
	return nil
}

func runJobUpdate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()
	sched := buildScheduler(cfg, database)

	ctx := context.Background()
	job, err := resolveJob(ctx, sched, args[0])
	if err != nil {
		return err
	}

	changed, err := applyJobFlags(cmd, job)
	if err != nil {
		return err
	}
	if !changed {
		return errors.NewValidationError("nothing to update: pass at least one flag")
	}

	updated, err := sched.UpdateJob(ctx, job)
	if err != nil {
		return err
	}

	pterm.Success.Printfln("Job updated: %s (version %d)", updated.ID, updated.Version)
	pterm.Printfln("  Trigger:   %s %s", updated.TriggerKind, updated.TriggerExpr)
	pterm.Printfln("  Next fire: %s", fmtTime(updated.NextFireAt))
	return nil
}

func runJobPause(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()
	sched := buildScheduler(cfg, database)

	ctx := context.Background()
	job, err := resolveJob(ctx, sched, args[0])
	if err != nil {
		return err
	}
	if err := sched.PauseJob(ctx, job.ID); err != nil {
		return err
	}
	pterm.Success.Printfln("Job paused: %s (%s)", job.Symbol, job.ID)
	return nil
}

func runJobResume(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()
	sched := buildScheduler(cfg, database)

	ctx := context.Background()
	job, err := resolveJob(ctx, sched, args[0])
	if err != nil {
		return err
	}
	if err := sched.ResumeJob(ctx, job.ID); err != nil {
		return err
	}

	resumed, err := sched.GetJob(ctx, job.ID)
	if err != nil {
		return err
	}
	pterm.Success.Printfln("Job resumed: %s (%s)", resumed.Symbol, resumed.ID)
	pterm.Printfln("  Next fire: %s", fmtTime(resumed.NextFireAt))
	return nil
}

func runJobRm(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()
	sched := buildScheduler(cfg, database)

	ctx := context.Background()
	job, err := resolveJob(ctx, sched, args[0])
	if err != nil {
		return err
	}
	if err := sched.DeleteJob(ctx, job.ID); err != nil {
		return err
	}
	pterm.Success.Printfln("Job deleted: %s (%s)", job.Symbol, job.ID)
	return nil
}

func runJobRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	// Pool only: a one-shot run must not scan for other due jobs.
	cfg.Scheduler.TickIntervalSeconds = 0

	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()
	sched := buildScheduler(cfg, database)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sched.Start(ctx); err != nil {
		return errors.Wrap(err, "failed to start worker pool")
	}
	defer sched.Stop()

	job, err := resolveJob(ctx, sched, args[0])
	if err != nil {
		return err
	}

	execID, err := sched.TriggerNow(ctx, job.ID)
	if err != nil {
		return err
	}
	pterm.Info.Printfln("Running %s (%s), execution %s", job.Symbol, job.AssetType, execID)

	wait, _ := cmd.Flags().GetDuration("wait")
	if wait <= 0 {
		wait = cfg.Scheduler.ExecutionTimeout() + 30*time.Second
	}

	spinner, _ := pterm.DefaultSpinner.Start("Waiting for the run to finish...")
	exec, err := awaitExecution(ctx, sched, execID, wait)
	if spinner != nil {
		spinner.Stop()
	}
	if err != nil {
		return err
	}

	switch exec.Outcome {
	case scheduler.OutcomeSuccess:
		pterm.Success.Printfln("Run succeeded in %s", exec.Duration().Round(time.Millisecond))
		pterm.Printfln("  Records loaded:  %d", exec.RecordsLoaded)
		pterm.Printfln("  Records dropped: %d", exec.RecordsDropped)
	case scheduler.OutcomeSkipped:
		pterm.Info.Printfln("Run skipped: %s", orDefault(exec.Detail, "nothing to ingest"))
	case scheduler.OutcomeFailed:
		return errors.Newf("run failed: %s", exec.Detail)
	default:
		return errors.Newf("execution %s still %s after %s", execID, exec.Outcome, wait)
	}
	return nil
}

func runJobHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()
	sched := buildScheduler(cfg, database)

	ctx := context.Background()
	job, err := resolveJob(ctx, sched, args[0])
	if err != nil {
		return err
	}

	limit, _ := cmd.Flags().GetInt("limit")
	offset, _ := cmd.Flags().GetInt("offset")
	outcome, _ := cmd.Flags().GetString("outcome")

	execs, total, err := sched.Executions(ctx, job.ID, limit, offset, outcome)
	if err != nil {
		return err
	}
	if total == 0 {
		pterm.Info.Printfln("No executions for %s", job.Symbol)
		return nil
	}

	pterm.Printfln("Executions for %s (%s):", job.Symbol, job.ID)
	for _, e := range execs {
		printExecutionLine(e)
	}
	pterm.Println()
	pterm.Printfln("Showing %d of %d", len(execs), total)
	return nil
}

// applyJobFlags copies the changed job flags onto the job. Used by both
// add (onto a zero job) and update (onto the current row); the bool
// reports whether anything changed.
func applyJobFlags(cmd *cobra.Command, job *scheduler.Job) (bool, error) {
	flags := cmd.Flags()
	changed := false

	cronExpr, _ := flags.GetString("cron")
	every, _ := flags.GetString("every")
	if cronExpr != "" && every != "" {
		return false, errors.NewValidationError("--cron and --every are mutually exclusive")
	}
	if cronExpr != "" {
		job.TriggerKind = scheduler.TriggerCron
		job.TriggerExpr = cronExpr
		changed = true
	}
	if every != "" {
		job.TriggerKind = scheduler.TriggerInterval
		job.TriggerExpr = every
		changed = true
	}

	if flags.Changed("provider") {
		job.Provider, _ = flags.GetString("provider")
		changed = true
	}
	if flags.Changed("depends-on") {
		deps, _ := flags.GetStringSlice("depends-on")
		// --depends-on "" clears the list.
		job.DependsOn = nil
		for _, dep := range deps {
			if dep = strings.TrimSpace(dep); dep != "" {
				job.DependsOn = append(job.DependsOn, dep)
			}
		}
		changed = true
	}
	if flags.Changed("lookback") {
		job.Params.LookbackDays, _ = flags.GetInt("lookback")
		changed = true
	}
	if flags.Changed("mode") {
		job.Params.Mode, _ = flags.GetString("mode")
		changed = true
	}
	if flags.Changed("conflict") {
		job.Params.Conflict, _ = flags.GetString("conflict")
		changed = true
	}
	return changed, nil
}

// resolveJob finds a job by full ID, unique ID prefix, or symbol.
func resolveJob(ctx context.Context, sched *scheduler.Scheduler, ref string) (*scheduler.Job, error) {
	job, err := sched.GetJob(ctx, ref)
	if err == nil {
		return job, nil
	}
	if !errors.IsNotFoundError(err) {
		return nil, err
	}

	jobs, listErr := sched.ListJobs(ctx)
	if listErr != nil {
		return nil, listErr
	}
	var matches []*scheduler.Job
	for _, j := range jobs {
		if strings.HasPrefix(j.ID, ref) || strings.EqualFold(j.Symbol, ref) {
			matches = append(matches, j)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return nil, err
	}
	return nil, errors.NewValidationError("%q matches %d jobs, use the ID", ref, len(matches))
}

// awaitExecution polls until the execution reaches a terminal outcome or
// the wait budget runs out, returning the last row seen either way.
func awaitExecution(ctx context.Context, sched *scheduler.Scheduler, execID string, wait time.Duration) (*scheduler.Execution, error) {
	deadline := time.Now().Add(wait)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		exec, err := sched.GetExecution(ctx, execID)
		if err != nil {
			return nil, err
		}
		if exec.Finished() || time.Now().After(deadline) {
			return exec, nil
		}
		select {
		case <-ctx.Done():
			return exec, nil
		case <-ticker.C:
		}
	}
}

func printExecutionLine(e *scheduler.Execution) {
	line := fmt.Sprintf("  %s  %s  %s",
		e.StartedAt.Local().Format(timeFormat),
		colorOutcome(e.Outcome),
		e.Duration().Round(time.Millisecond))
	if e.Outcome == scheduler.OutcomeSuccess {
		line += fmt.Sprintf("  %d loaded, %d dropped", e.RecordsLoaded, e.RecordsDropped)
	}
	if e.TriggeredBy == scheduler.TriggeredByManual {
		line += "  " + pterm.Gray("(manual)")
	}
	if e.Detail != "" {
		detail := e.Detail
		if len(detail) > 60 {
			detail = detail[:57] + "..."
		}
		line += "  " + pterm.Gray(detail)
	}
	pterm.Println(line)
}

const timeFormat = "2006-01-02 15:04:05"

func fmtTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(timeFormat)
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// colorStatus pads before coloring so ANSI codes don't skew columns.
func colorStatus(status string) string {
	padded := fmt.Sprintf("%-8s", status)
	switch status {
	case scheduler.StatusActive:
		return pterm.Green(padded)
	case scheduler.StatusPaused:
		return pterm.Yellow(padded)
	}
	return padded
}

func colorOutcome(outcome string) string {
	padded := fmt.Sprintf("%-8s", outcome)
	switch outcome {
	case scheduler.OutcomeSuccess:
		return pterm.Green(padded)
	case scheduler.OutcomeFailed:
		return pterm.Red(padded)
	case scheduler.OutcomeSkipped:
		return pterm.Yellow(padded)
	}
	return padded
}
