package commands

import (
	"context"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/fathomdata/tidemark/asset"
	"github.com/fathomdata/tidemark/errors"
	"github.com/fathomdata/tidemark/ingest"
	"github.com/fathomdata/tidemark/scheduler"
)

// IngestCmd runs a one-shot ingestion without touching the schedule.
var IngestCmd = &cobra.Command{
	Use:   "ingest SYMBOL TYPE",
	Short: "Ingest market data for a symbol right now",
	Long: `Ingest market data for a symbol over a date range, outside any schedule.

In incremental mode only the gaps not yet covered are fetched; pass
--full to refetch the whole range. Dates are inclusive days in UTC.

Examples:
  tidemark ingest AAPL stock --from 2026-01-01 --to 2026-06-30
  tidemark ingest BTC-USD crypto --from 2026-08-01 --full --conflict upsert`,
	Args: cobra.ExactArgs(2),
	RunE: runIngest,
}

func init() {
	IngestCmd.Flags().String("from", "", "Start date, YYYY-MM-DD (default: lookback window)")
	IngestCmd.Flags().String("to", "", "End date, YYYY-MM-DD (default: today)")
	IngestCmd.Flags().String("provider", "", "Data provider (default synthetic)")
	IngestCmd.Flags().String("conflict", "", "Conflict policy: do_nothing or upsert")
	IngestCmd.Flags().Int("lookback", 0, "Days before --to when --from is omitted (0 uses the default)")
	IngestCmd.Flags().Bool("full", false, "Refetch the whole range instead of just the gaps")
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()
	_, engine, _ := buildStack(cfg, database)

	flags := cmd.Flags()
	start, end, err := resolveDateRange(cmd)
	if err != nil {
		return err
	}

	req := ingest.Request{
		Symbol:    args[0],
		AssetType: asset.Type(args[1]),
		Start:     start,
		End:       end,
	}
	req.Provider, _ = flags.GetString("provider")
	if full, _ := flags.GetBool("full"); full {
		req.Mode = ingest.ModeFull
	}
	if conflict, _ := flags.GetString("conflict"); conflict != "" {
		req.Conflict = ingest.ConflictPolicy(conflict)
	}

	pterm.Info.Printfln("Ingesting %s (%s) from %s to %s",
		req.Symbol, req.AssetType,
		start.Format("2006-01-02"), end.AddDate(0, 0, -1).Format("2006-01-02"))

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Scheduler.ExecutionTimeout())
	defer cancel()

	spinner, _ := pterm.DefaultSpinner.Start("Collecting and loading...")
	res, err := engine.Ingest(ctx, req)
	if spinner != nil {
		spinner.Stop()
	}
	if err != nil {
		return err
	}

	switch res.Status {
	case ingest.LogStatusSkipped:
		pterm.Info.Printfln("Nothing to ingest: %s is already covered", req.Symbol)
	case ingest.LogStatusSuccess:
		pterm.Success.Printfln("Ingested %s in %s", req.Symbol, res.Duration.Round(time.Millisecond))
	default:
		pterm.Warning.Printfln("Ingestion finished with status %s", res.Status)
	}

	if len(res.Fetched) > 0 {
		pterm.Printfln("  Ranges fetched:  %d", len(res.Fetched))
		for _, r := range res.Fetched {
			pterm.Printfln("    %s to %s",
				r.Start.Format("2006-01-02"), r.End.AddDate(0, 0, -1).Format("2006-01-02"))
		}
	}
	pterm.Printfln("  Records loaded:  %d", res.RecordsLoaded)
	pterm.Printfln("  Records dropped: %d", res.RecordsDropped)
	return nil
}

// resolveDateRange turns --from/--to/--lookback into the engine's
// closed-open day range. Both flags are inclusive days: --to 2026-06-30
// becomes an exclusive end of 2026-07-01. Missing --to means today;
// missing --from means --to minus the lookback window.
func resolveDateRange(cmd *cobra.Command) (time.Time, time.Time, error) {
	flags := cmd.Flags()
	fromStr, _ := flags.GetString("from")
	toStr, _ := flags.GetString("to")

	lastDay := ingest.TruncateDay(time.Now())
	if toStr != "" {
		var err error
		lastDay, err = time.Parse("2006-01-02", toStr)
		if err != nil {
			return time.Time{}, time.Time{}, errors.NewValidationError("invalid --to date %q (want YYYY-MM-DD)", toStr)
		}
	}
	end := lastDay.AddDate(0, 0, 1)

	var start time.Time
	if fromStr != "" {
		var err error
		start, err = time.Parse("2006-01-02", fromStr)
		if err != nil {
			return time.Time{}, time.Time{}, errors.NewValidationError("invalid --from date %q (want YYYY-MM-DD)", fromStr)
		}
	} else {
		lookback, _ := flags.GetInt("lookback")
		if lookback <= 0 {
			lookback = scheduler.DefaultLookbackDays
		}
		start = end.AddDate(0, 0, -lookback)
	}

	if start.After(lastDay) {
		return time.Time{}, time.Time{}, errors.NewValidationError("--from %s is after --to %s",
			start.Format("2006-01-02"), lastDay.Format("2006-01-02"))
	}
	return start, end, nil
}
