package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/fathomdata/tidemark/config"
	"github.com/fathomdata/tidemark/errors"
	"github.com/fathomdata/tidemark/logger"
	"github.com/fathomdata/tidemark/provider"
	"github.com/fathomdata/tidemark/scheduler"
)

// DaemonCmd runs the scheduler daemon in the foreground.
var DaemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the scheduler daemon",
	Long: `Run the Tidemark scheduler daemon in foreground mode.

The daemon will:
- Recover executions orphaned by a previous shutdown
- Scan for due jobs on every tick and evaluate dependency freshness
- Run ingestions on a bounded worker pool through the provider rate limiter
- Apply config file changes to live rate limits without a restart
- Run until interrupted (Ctrl+C), finishing in-flight executions first

Examples:
  tidemark daemon                 # Run with configured settings
  tidemark daemon --workers 8     # Override the worker count`,
	RunE: runDaemon,
}

func init() {
	DaemonCmd.Flags().Int("workers", 0, "Concurrent executions (overrides config)")
	DaemonCmd.Flags().Duration("health-interval", time.Minute, "Cadence of the periodic health log line")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	if workers, _ := cmd.Flags().GetInt("workers"); workers > 0 {
		cfg.Scheduler.Workers = workers
	}

	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	sched, _, limiter := buildStack(cfg, database)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sched.Start(ctx); err != nil {
		return errors.Wrap(err, "failed to start scheduler")
	}

	watcher := startConfigWatcher(cmd, limiter)
	if watcher != nil {
		defer watcher.Stop()
	}

	healthInterval, _ := cmd.Flags().GetDuration("health-interval")
	go healthLoop(ctx, sched, healthInterval)

	pterm.Success.Printfln("Tidemark daemon started")
	pterm.Printfln("  Database:      %s", cfg.GetDatabasePath())
	pterm.Printfln("  Workers:       %d", cfg.Scheduler.Workers)
	pterm.Printfln("  Tick interval: %s", cfg.Scheduler.TickInterval())
	pterm.Printfln("  Retention:     %d days of execution history", cfg.Scheduler.ExecutionRetentionDays)
	pterm.Println()
	pterm.Info.Println("Press Ctrl+C for graceful shutdown")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	pterm.Info.Println("Shutting down gracefully (press Ctrl+C again to force)...")

	stopDone := make(chan struct{})
	go func() {
		cancel()
		sched.Stop()
		close(stopDone)
	}()

	select {
	case <-stopDone:
		pterm.Success.Println("Daemon stopped cleanly")
	case <-sigChan:
		pterm.Warning.Println("Forced exit, in-flight executions abandoned")
	}
	return nil
}

// startConfigWatcher wires hot reload of provider rate limits. Missing
// config files simply mean no watching; flags and defaults still apply.
func startConfigWatcher(cmd *cobra.Command, limiter *provider.RateLimiter) *config.ConfigWatcher {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = config.GetUserConfigPath()
	}
	if _, err := os.Stat(path); err != nil {
		logger.Debugw("No config file to watch", logger.FieldPath, path)
		return nil
	}

	watcher, err := config.NewConfigWatcher(path)
	if err != nil {
		logger.Warnw("Config watching disabled", logger.FieldError, err)
		return nil
	}
	watcher.OnReload(func(newCfg *config.Config) error {
		limiter.SetLimits(newCfg)
		return nil
	})
	watcher.Start()
	config.SetGlobalWatcher(watcher)
	logger.Infow("Watching config file", logger.FieldPath, path)
	return watcher
}

// healthLoop logs a periodic one-line load snapshot.
func healthLoop(ctx context.Context, sched *scheduler.Scheduler, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := sched.Stats(ctx)
			if err != nil {
				logger.Warnw("Health snapshot failed", logger.FieldError, err)
				continue
			}
			logger.Infow("Scheduler health",
				"jobs_active", stats.Jobs[scheduler.StatusActive],
				"queue_depth", stats.System.QueueDepth,
				"workers_active", stats.System.WorkersActive,
				"workers_total", stats.System.WorkersTotal,
				"memory_percent", stats.System.MemoryPercent)
		}
	}
}
