package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fathomdata/tidemark/cmd/tidemark/commands"
	"github.com/fathomdata/tidemark/logger"
)

var rootCmd = &cobra.Command{
	Use:   "tidemark",
	Short: "Tidemark - scheduled market data ingestion",
	Long: `Tidemark - persistent job scheduler and incremental market data ingestion.

Tidemark runs recurring, dependency-aware collection jobs against rate-limited
data providers and persists the results incrementally: each run fetches only
the day ranges not already covered, so re-runs are cheap and interrupted runs
resume where they stopped.

Available commands:
  daemon    - Run the scheduler daemon (tick loop + worker pool)
  job       - Manage scheduled jobs
  template  - Manage job templates
  ingest    - Run a one-shot ingestion
  logs      - Show ingestion run history
  status    - Show scheduler and database status
  config    - Manage configuration
  db        - Database operations

Examples:
  tidemark daemon                              # Run the scheduler in foreground
  tidemark job add AAPL stock --cron "0 6 * * *"
  tidemark ingest BTC crypto --from 2024-01-01 --to 2024-02-01
  tidemark job ls                              # List scheduled jobs
  tidemark status                              # Scheduler + database status`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.Initialize(verbosity, jsonLogs); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv)")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit logs as JSON (for daemons under a supervisor)")
	rootCmd.PersistentFlags().String("config", "", "Path to config file (overrides the default cascade)")

	rootCmd.AddCommand(commands.DaemonCmd)
	rootCmd.AddCommand(commands.JobCmd)
	rootCmd.AddCommand(commands.TemplateCmd)
	rootCmd.AddCommand(commands.IngestCmd)
	rootCmd.AddCommand(commands.LogsCmd)
	rootCmd.AddCommand(commands.StatusCmd)
	rootCmd.AddCommand(commands.ConfigCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	defer logger.Cleanup()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
