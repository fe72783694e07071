package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/fathomdata/tidemark/asset"
	"github.com/fathomdata/tidemark/errors"
	"github.com/fathomdata/tidemark/ingest"
)

// LogsCmd shows the ingestion audit log.
var LogsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show ingestion run records",
	Long: `Show ingestion run records, newest first.

Every ingestion, scheduled or manual, appends one record with the
requested range, the ranges actually fetched, and the row counts.

Examples:
  tidemark logs
  tidemark logs --symbol AAPL --type stock --status failed
  tidemark logs --since 2026-08-01 --limit 100`,
	Args: cobra.NoArgs,
	RunE: runLogs,
}

func init() {
	LogsCmd.Flags().String("symbol", "", "Filter by symbol (requires --type)")
	LogsCmd.Flags().String("type", "", "Asset type for --symbol")
	LogsCmd.Flags().String("status", "", "Filter by status: success, failed, skipped")
	LogsCmd.Flags().String("since", "", "Only records on or after this date, YYYY-MM-DD")
	LogsCmd.Flags().String("until", "", "Only records before this date, YYYY-MM-DD")
	LogsCmd.Flags().Int("limit", ingest.DefaultLogLimit, "Records to show")
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	ctx := context.Background()
	flags := cmd.Flags()

	var filter ingest.LogFilter
	filter.Limit, _ = flags.GetInt("limit")
	if status, _ := flags.GetString("status"); status != "" {
		filter.Status = ingest.LogStatus(status)
	}
	if since, _ := flags.GetString("since"); since != "" {
		filter.Since, err = time.Parse("2006-01-02", since)
		if err != nil {
			return errors.NewValidationError("invalid --since date %q (want YYYY-MM-DD)", since)
		}
	}
	if until, _ := flags.GetString("until"); until != "" {
		filter.Until, err = time.Parse("2006-01-02", until)
		if err != nil {
			return errors.NewValidationError("invalid --until date %q (want YYYY-MM-DD)", until)
		}
	}

	symbol, _ := flags.GetString("symbol")
	assetType, _ := flags.GetString("type")
	if symbol != "" {
		if assetType == "" {
			return errors.NewValidationError("--symbol requires --type")
		}
		a, err := asset.NewManager(database).Get(ctx, symbol, asset.Type(assetType))
		if errors.IsNotFoundError(err) {
			pterm.Info.Printfln("No ingestions recorded for %s (%s)", symbol, assetType)
			return nil
		}
		if err != nil {
			return err
		}
		filter.AssetID = a.ID
	}

	logs, err := ingest.NewLogStore(database).List(ctx, filter)
	if err != nil {
		return err
	}
	if len(logs) == 0 {
		pterm.Info.Println("No ingestion records match")
		return nil
	}

	pterm.Printfln("%-19s  %-12s  %-7s  %-8s  %-23s  %7s  %7s  %s",
		"WHEN", "SYMBOL", "TYPE", "STATUS", "RANGE", "LOADED", "DROPPED", "DETAIL")
	for _, l := range logs {
		rangeStr := fmt.Sprintf("%s to %s",
			l.RequestedStart.Format("2006-01-02"),
			l.RequestedEnd.AddDate(0, 0, -1).Format("2006-01-02"))
		detail := l.Error
		if detail == "" && len(l.FetchedRanges) > 0 {
			detail = fmt.Sprintf("%d range(s) fetched", len(l.FetchedRanges))
		}
		if len(detail) > 48 {
			detail = detail[:45] + "..."
		}
		pterm.Printfln("%-19s  %-12s  %-7s  %s  %-23s  %7d  %7d  %s",
			l.CreatedAt.Local().Format(timeFormat),
			l.Symbol, l.AssetType, colorOutcome(string(l.Status)),
			rangeStr, l.RecordsLoaded, l.RecordsDropped, pterm.Gray(detail))
	}
	pterm.Println()
	pterm.Printfln("%d record(s)", len(logs))
	return nil
}
