package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/fathomdata/tidemark/errors"
	"github.com/fathomdata/tidemark/scheduler"
)

// StatusCmd summarizes jobs, recent executions and host load.
var StatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show scheduler status",
	Long: `Show a snapshot of the scheduler: job counts by status, execution
outcomes over the last 24 hours, the next due job, and host memory.

Queue depth and active worker counts live in the daemon process; see its
health log lines for those.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	StatusCmd.Flags().Bool("json", false, "Output as JSON")
}

func runStatus(cmd *cobra.Command, args []string) error {
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
	stats, err := sched.Stats(ctx)
	if err != nil {
		return err
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		out, err := json.MarshalIndent(stats, "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to marshal stats")
		}
		fmt.Println(string(out))
		return nil
	}

	pterm.Printfln("Tidemark status")
	pterm.Println()

	pterm.Printfln("Jobs:")
	total := 0
	for _, status := range []string{scheduler.StatusActive, scheduler.StatusPaused} {
		if n := stats.Jobs[status]; n > 0 {
			pterm.Printfln("  %-8s %d", status+":", n)
			total += n
		}
	}
	if total == 0 {
		pterm.Printfln("  none scheduled")
	}

	pterm.Println()
	pterm.Printfln("Executions (last 24h):")
	ran := 0
	for _, outcome := range []string{
		scheduler.OutcomeSuccess, scheduler.OutcomeFailed,
		scheduler.OutcomeSkipped, scheduler.OutcomeRunning,
	} {
		if n := stats.Executions24h[outcome]; n > 0 {
			pterm.Printfln("  %-8s %d", outcome+":", n)
			ran += n
		}
	}
	if ran == 0 {
		pterm.Printfln("  none")
	}

	if next := nextDueJob(ctx, sched); next != nil {
		pterm.Println()
		pterm.Printfln("Next due: %s (%s) at %s",
			next.Symbol, next.AssetType, fmtTime(next.NextFireAt))
	}

	pterm.Println()
	path := cfg.GetDatabasePath()
	if info, err := os.Stat(path); err == nil {
		pterm.Printfln("Database: %s (%.1f MB)", path, float64(info.Size())/(1024*1024))
	} else {
		pterm.Printfln("Database: %s", path)
	}
	pterm.Printfln("Memory:   %.1f / %.1f GB (%.0f%%)",
		stats.System.MemoryUsedGB, stats.System.MemoryTotalGB, stats.System.MemoryPercent)
	return nil
}

// nextDueJob returns the active job with the soonest fire time, nil when
// nothing is armed.
func nextDueJob(ctx context.Context, sched *scheduler.Scheduler) *scheduler.Job {
	jobs, err := sched.ListJobs(ctx)
	if err != nil {
		return nil
	}
	var next *scheduler.Job
	var at time.Time
	for _, job := range jobs {
		if job.Status != scheduler.StatusActive || job.NextFireAt == nil {
			continue
		}
		if next == nil || job.NextFireAt.Before(at) {
			next = job
			at = *job.NextFireAt
		}
	}
	return next
}
