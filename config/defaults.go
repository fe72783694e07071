package config

import (
	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", "tidemark.db")

	// Logging defaults
	v.SetDefault("logging.json", false)
	v.SetDefault("logging.verbosity", 1)

	// Scheduler defaults
	v.SetDefault("scheduler.workers", 4)
	v.SetDefault("scheduler.tick_interval_seconds", 5)
	v.SetDefault("scheduler.execution_timeout_seconds", 600) // 10 minute per-execution deadline
	v.SetDefault("scheduler.execution_retention_days", 90)   // 0 = keep history forever

	// Ingest defaults
	v.SetDefault("ingest.batch_size", 200)
	v.SetDefault("ingest.incremental", true)
	v.SetDefault("ingest.conflict_policy", "do_nothing")

	// Provider rate-limit fallback. Named providers get their own
	// [providers.<name>] section; unnamed ones inherit these.
	v.SetDefault("providers.default.requests_per_minute", 60)
	v.SetDefault("providers.default.burst", 5)
	v.SetDefault("providers.default.acquire_timeout_seconds", 30)
}

// BindSensitiveEnvVars explicitly binds sensitive configuration to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	// Database path
	v.BindEnv("database.path", "TIDEMARK_DATABASE_PATH")
}
