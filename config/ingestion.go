package config

import "time"

// IngestionConfig contains scheduler, dedup, and runner configuration.
// The cooldown tunables mirror internal/domain/schedule.Policy; they are
// calibration parameters, not constants.
type IngestionConfig struct {
	// CronSpec is the robfig/cron spec for the scheduled trigger loop.
	CronSpec string `env:"CRON_SPEC" envDefault:"@every 5m"`

	// DefaultBaseIntervalMinutes is used for sources created without an
	// explicit base polling interval.
	DefaultBaseIntervalMinutes int `env:"DEFAULT_BASE_INTERVAL_MINUTES" envDefault:"60"`

	// MaxConcurrency bounds simultaneous outbound fetches within one cycle.
	MaxConcurrency int `env:"MAX_CONCURRENCY" envDefault:"4"`

	// FetchTimeout bounds one slice fetch; past it the attempt counts as a
	// failure for that slice without blocking the rest of the cycle.
	FetchTimeout time.Duration `env:"FETCH_TIMEOUT" envDefault:"45s"`

	// BatchSize caps how many eligible slices one cycle may claim.
	BatchSize int `env:"BATCH_SIZE" envDefault:"50"`

	// WidenFactor multiplies a slice's interval on repeated empty runs.
	WidenFactor float64 `env:"WIDEN_FACTOR" envDefault:"1.5"`

	// EmptyRunStep is how many consecutive empty runs trigger one widening.
	EmptyRunStep int `env:"EMPTY_RUN_STEP" envDefault:"3"`

	// FailThreshold is the consecutive-failure count that marks a slice bad.
	FailThreshold int `env:"FAIL_THRESHOLD" envDefault:"5"`

	// MaxIntervalMinutes bounds cooldown widening from above.
	MaxIntervalMinutes int `env:"MAX_INTERVAL_MINUTES" envDefault:"1440"`

	// SeenKeyTTL is the Redis TTL for the seen-key fast path. The Postgres
	// dedup_records table remains the durable source of truth.
	SeenKeyTTL time.Duration `env:"SEEN_KEY_TTL" envDefault:"720h"`
}

// Sanitize applies guardrails to ingestion configuration values.
func (c *IngestionConfig) Sanitize() {
	if c.CronSpec == "" {
		c.CronSpec = "@every 5m"
	}
	if c.DefaultBaseIntervalMinutes <= 0 {
		c.DefaultBaseIntervalMinutes = 60
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 4
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 45 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.WidenFactor <= 1 {
		c.WidenFactor = 1.5
	}
	if c.EmptyRunStep <= 0 {
		c.EmptyRunStep = 3
	}
	if c.FailThreshold <= 0 {
		c.FailThreshold = 5
	}
	if c.MaxIntervalMinutes <= 0 {
		c.MaxIntervalMinutes = 1440
	}
	if c.SeenKeyTTL <= 0 {
		c.SeenKeyTTL = 720 * time.Hour
	}
}

// ReaperConfig contains stale-run recovery configuration.
type ReaperConfig struct {
	// Interval is how often the reaper scans for stale runs.
	Interval time.Duration `env:"INTERVAL" envDefault:"5m"`

	// StaleRunAge is how long a run may stay in running before it is
	// force-finalized as failed.
	StaleRunAge time.Duration `env:"STALE_RUN_AGE" envDefault:"30m"`

	// FinalizedRetention is how long terminal runs are kept before pruning.
	// Zero disables pruning.
	FinalizedRetention time.Duration `env:"FINALIZED_RETENTION" envDefault:"2160h"`
}

// Sanitize applies guardrails to reaper configuration values.
func (c *ReaperConfig) Sanitize() {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Minute
	}
	if c.StaleRunAge <= 0 {
		c.StaleRunAge = 30 * time.Minute
	}
	if c.FinalizedRetention < 0 {
		c.FinalizedRetention = 0
	}
}
