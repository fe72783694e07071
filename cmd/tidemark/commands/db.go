package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/fathomdata/tidemark/errors"
	"github.com/fathomdata/tidemark/scheduler"
)

// DbCmd groups database maintenance subcommands.
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Database statistics and maintenance",
	Long: `Database statistics and maintenance.

Examples:
  tidemark db stats                  # Show row counts per table
  tidemark db cleanup                # Prune old execution history
  tidemark db cleanup --retention 30 # Override the configured retention`,
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database statistics",
	Args:  cobra.NoArgs,
	RunE:  runDbStats,
}

var dbCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Prune finished executions older than the retention window",
	Args:  cobra.NoArgs,
	RunE:  runDbCleanup,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	Long: `Apply pending schema migrations.

Every command migrates on open, so this exists to create or upgrade the
database explicitly, for provisioning and for checking what version a
database file is at.`,
	Args: cobra.NoArgs,
	RunE: runDbMigrate,
}

func init() {
	dbCleanupCmd.Flags().Int("retention", 0, "Days of execution history to keep (0 uses config)")

	DbCmd.AddCommand(dbStatsCmd)
	DbCmd.AddCommand(dbCleanupCmd)
	DbCmd.AddCommand(dbMigrateCmd)
}

func runDbStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	path := cfg.GetDatabasePath()
	fmt.Println("Database Statistics")
	fmt.Printf("Path: %s", path)
	if info, err := os.Stat(path); err == nil {
		fmt.Printf(" (%.1f MB)", float64(info.Size())/(1024*1024))
	}
	fmt.Println()
	fmt.Println()

	tables := []struct {
		label string
		name  string
	}{
		{"Assets", "assets"},
		{"Coverage ranges", "asset_coverage"},
		{"Market data rows", "market_data"},
		{"Forex rates", "forex_rates"},
		{"Bond rates", "bond_rates"},
		{"Economic data", "economic_data"},
		{"Ingestion logs", "ingestion_logs"},
		{"Scheduled jobs", "scheduled_jobs"},
		{"Job executions", "job_executions"},
		{"Job templates", "job_templates"},
	}
	for _, table := range tables {
		var n int
		if err := database.QueryRow("SELECT COUNT(*) FROM " + table.name).Scan(&n); err != nil {
			return errors.Wrapf(err, "failed to count %s", table.name)
		}
		fmt.Printf("%-18s %d\n", table.label+":", n)
	}
	return nil
}

func runDbMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	var version string
	if err := database.QueryRow("SELECT COALESCE(MAX(version), '000') FROM schema_migrations").Scan(&version); err != nil {
		return errors.Wrap(err, "failed to read schema version")
	}
	pterm.Success.Printfln("Database at %s is at schema version %s", cfg.GetDatabasePath(), version)
	return nil
}

func runDbCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	retention, _ := cmd.Flags().GetInt("retention")
	if retention <= 0 {
		retention = cfg.Scheduler.ExecutionRetentionDays
	}
	if retention <= 0 {
		pterm.Info.Println("Retention is unlimited, nothing to prune")
		return nil
	}

	removed, err := scheduler.NewExecutionStore(database).CleanupOldExecutions(context.Background(), retention)
	if err != nil {
		return err
	}
	if removed == 0 {
		pterm.Info.Printfln("No executions older than %d days", retention)
		return nil
	}
	pterm.Success.Printfln("Removed %d execution(s) older than %d days", removed, retention)
	return nil
}
