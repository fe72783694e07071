package commands

import (
	"database/sql"

	"github.com/spf13/cobra"

	"github.com/fathomdata/tidemark/asset"
	"github.com/fathomdata/tidemark/config"
	"github.com/fathomdata/tidemark/db"
	"github.com/fathomdata/tidemark/errors"
	"github.com/fathomdata/tidemark/ingest"
	"github.com/fathomdata/tidemark/logger"
	"github.com/fathomdata/tidemark/provider"
	"github.com/fathomdata/tidemark/scheduler"
)

// loadConfig loads configuration, honoring the --config flag when set.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// openDatabase opens and migrates the database at the configured path.
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	path := cfg.GetDatabasePath()
	database, err := db.OpenWithMigrations(path, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", path)
	}
	return database, nil
}

// buildStack wires the provider registry, rate limiter, ingestion engine
// and scheduler on top of an open database. The scheduler comes back
// unstarted; commands that only read or edit job rows never start it.
func buildStack(cfg *config.Config, database *sql.DB) (*scheduler.Scheduler, *ingest.Engine, *provider.RateLimiter) {
	registry := provider.NewRegistry()
	registry.Register(provider.SyntheticName, provider.NewSynthetic())

	limiter := provider.NewRateLimiter(cfg)
	coordinator := provider.NewRequestCoordinator(registry, limiter)

	engine := ingest.NewEngine(
		asset.NewManager(database),
		ingest.NewTracker(database),
		ingest.NewLoader(database, cfg.Ingest.BatchSize),
		ingest.NewLogStore(database),
		coordinator,
		cfg.Ingest,
	)

	sched := scheduler.New(database, scheduler.NewIngestRunner(engine), cfg)
	return sched, engine, limiter
}

// buildScheduler is buildStack for commands that only need job and
// template operations.
func buildScheduler(cfg *config.Config, database *sql.DB) *scheduler.Scheduler {
	sched, _, _ := buildStack(cfg, database)
	return sched
}
