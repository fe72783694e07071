package config

import "github.com/fathomdata/tidemark/errors"

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	// Database path is optional - empty defaults to "tidemark.db" per defaults.go:10
	// No validation needed here

	// Logging verbosity: bounded by the highest level we know how to map
	if c.Logging.Verbosity < 0 {
		return errors.Newf("logging.verbosity must be >= 0, got %d", c.Logging.Verbosity)
	}

	// Scheduler workers: 0 = dispatch disabled, negative = invalid
	if c.Scheduler.Workers < 0 {
		return errors.Newf("scheduler.workers must be >= 0, got %d", c.Scheduler.Workers)
	}

	// Tick interval: 0 = no periodic ticking (manual Tick only), negative = invalid
	if c.Scheduler.TickIntervalSeconds < 0 {
		return errors.Newf("scheduler.tick_interval_seconds must be >= 0, got %d", c.Scheduler.TickIntervalSeconds)
	}

	// Execution timeout: 0 = use default, negative = invalid
	if c.Scheduler.ExecutionTimeoutSeconds < 0 {
		return errors.Newf("scheduler.execution_timeout_seconds must be >= 0, got %d", c.Scheduler.ExecutionTimeoutSeconds)
	}

	// Retention: 0 = keep execution history forever, negative = invalid
	if c.Scheduler.ExecutionRetentionDays < 0 {
		return errors.Newf("scheduler.execution_retention_days must be >= 0, got %d", c.Scheduler.ExecutionRetentionDays)
	}

	// Batch size: 0 = use default, negative = invalid
	if c.Ingest.BatchSize < 0 {
		return errors.Newf("ingest.batch_size must be >= 0, got %d", c.Ingest.BatchSize)
	}

	if c.Ingest.ConflictPolicy != "" && c.Ingest.ConflictPolicy != "do_nothing" && c.Ingest.ConflictPolicy != "upsert" {
		return errors.Newf("ingest.conflict_policy must be \"do_nothing\" or \"upsert\", got %q", c.Ingest.ConflictPolicy)
	}

	// Provider limits: 0 requests_per_minute = provider blocked, negative = invalid
	for name, p := range c.Providers {
		if p.RequestsPerMinute < 0 {
			return errors.Newf("providers.%s.requests_per_minute must be >= 0, got %d", name, p.RequestsPerMinute)
		}
		if p.Burst < 0 {
			return errors.Newf("providers.%s.burst must be >= 0, got %d", name, p.Burst)
		}
		if p.AcquireTimeoutSeconds < 0 {
			return errors.Newf("providers.%s.acquire_timeout_seconds must be >= 0, got %d", name, p.AcquireTimeoutSeconds)
		}
	}

	return nil
}
