package config

import (
	"fmt"
	"time"
)

// Config represents the core tidemark configuration
type Config struct {
	Database  DatabaseConfig             `mapstructure:"database"`
	Logging   LoggingConfig              `mapstructure:"logging"`
	Scheduler SchedulerConfig            `mapstructure:"scheduler"`
	Ingest    IngestConfig               `mapstructure:"ingest"`
	Providers map[string]ProviderConfig  `mapstructure:"providers"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig configures log output
type LoggingConfig struct {
	JSON      bool `mapstructure:"json"`      // JSON output for daemons under a supervisor
	Verbosity int  `mapstructure:"verbosity"` // 0 = warn+, 1 = info, 2+ = debug; CLI -v flags override
}

// SchedulerConfig configures the persistent scheduler
type SchedulerConfig struct {
	Workers                 int `mapstructure:"workers"`                   // Concurrent executions system-wide (default: 4)
	TickIntervalSeconds     int `mapstructure:"tick_interval_seconds"`     // Due-job scan cadence (default: 5, 0 = no periodic ticking)
	ExecutionTimeoutSeconds int `mapstructure:"execution_timeout_seconds"` // Per-execution deadline (default: 600)
	ExecutionRetentionDays  int `mapstructure:"execution_retention_days"`  // Finished-execution history kept (default: 90, 0 = forever)
}

// IngestConfig configures the ingestion pipeline
type IngestConfig struct {
	BatchSize      int    `mapstructure:"batch_size"`      // Rows per bulk-insert batch (default: 200)
	Incremental    bool   `mapstructure:"incremental"`     // Fetch only uncovered gap ranges (default: true)
	ConflictPolicy string `mapstructure:"conflict_policy"` // do_nothing | upsert (default: do_nothing)
}

// ProviderConfig configures rate limiting for one upstream data provider.
// The "default" entry is the fallback for providers without their own section.
type ProviderConfig struct {
	RequestsPerMinute     int `mapstructure:"requests_per_minute"`     // Sustained rate; 0 blocks the provider (default: 60)
	Burst                 int `mapstructure:"burst"`                   // Token-bucket burst (default: 5)
	AcquireTimeoutSeconds int `mapstructure:"acquire_timeout_seconds"` // Max wait for a slot (default: 30)
}

// DefaultProviderKey is the Providers map entry used when a provider has no
// section of its own.
const DefaultProviderKey = "default"

// File system constants
const (
	DefaultDirPermissions  = 0755 // Standard directory permissions (rwxr-xr-x)
	DefaultFilePermissions = 0644 // Standard file permissions (rw-r--r--)
)

// TickInterval returns the due-job scan cadence as a duration
func (s SchedulerConfig) TickInterval() time.Duration {
	return time.Duration(s.TickIntervalSeconds) * time.Second
}

// ExecutionTimeout returns the per-execution deadline as a duration
func (s SchedulerConfig) ExecutionTimeout() time.Duration {
	if s.ExecutionTimeoutSeconds <= 0 {
		return 10 * time.Minute // Fallback default
	}
	return time.Duration(s.ExecutionTimeoutSeconds) * time.Second
}

// GetDatabasePath returns the configured database path
func (c *Config) GetDatabasePath() string {
	if c.Database.Path == "" {
		return "tidemark.db" // Fallback default
	}
	return c.Database.Path
}

// ProviderLimit returns the rate-limit settings for a provider. Providers
// without their own entry get the "default" entry wholesale; a named entry
// inherits burst and acquire timeout from it where unset. RequestsPerMinute
// is honored verbatim: an explicit zero blocks the provider, with Burst as
// the total number of requests ever granted.
func (c *Config) ProviderLimit(name string) ProviderConfig {
	def, hasDefault := c.Providers[DefaultProviderKey]
	if !hasDefault {
		def = ProviderConfig{RequestsPerMinute: 60, Burst: 5, AcquireTimeoutSeconds: 30}
	}

	pc, ok := c.Providers[name]
	if !ok {
		return def
	}
	if pc.RequestsPerMinute > 0 && pc.Burst <= 0 {
		pc.Burst = def.Burst
	}
	if pc.AcquireTimeoutSeconds <= 0 {
		pc.AcquireTimeoutSeconds = def.AcquireTimeoutSeconds
	}
	return pc
}

// AcquireTimeout returns the limiter wait deadline as a duration
func (p ProviderConfig) AcquireTimeout() time.Duration {
	if p.AcquireTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(p.AcquireTimeoutSeconds) * time.Second
}

// String returns a string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf("Config{Database: %s, Scheduler: {Workers: %d, Tick: %ds}, Providers: %d}",
		c.Database.Path, c.Scheduler.Workers, c.Scheduler.TickIntervalSeconds, len(c.Providers))
}
