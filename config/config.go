// Package config holds the environment-driven configuration for the jobradar
// ingestion service.
package config

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See individual domain config files for
// the available environment variables:
//   - database.go: Postgres and Redis configuration
//   - http.go: HTTP server and admin auth configuration
//   - ingestion.go: scheduler, dedup, and runner configuration
type AppConfig struct {
	// IsDev controls development mode behavior (verbose logging, relaxed auth).
	IsDev bool `env:"DEV" envDefault:"false"`

	// Database configuration
	Postgres DBConfig    `envPrefix:"DB_"`
	Redis    RedisConfig `envPrefix:"REDIS_"`

	// HTTP server configuration
	HTTP HTTPConfig

	// Service mode configuration, comma-delimited: "http,ingest-runner,run-reaper".
	Services string `env:"SERVICES" envDefault:"http"`

	// Ingestion core configuration
	Ingestion IngestionConfig `envPrefix:"INGEST_"`

	// Reaper configuration for stale-run recovery
	Reaper ReaperConfig `envPrefix:"REAPER_"`

	// Metrics emission configuration
	Metrics MetricsConfig
}

// Sanitize applies guardrails to configuration values loaded from env.
// This should be called after loading configuration from environment variables.
func (c *AppConfig) Sanitize() {
	c.HTTP.Sanitize()
	c.Ingestion.Sanitize()
	c.Reaper.Sanitize()
	c.Metrics.Sanitize()
}

// GetEnabledServices returns the enabled services based on the Services field.
func (c *AppConfig) GetEnabledServices() (map[ServiceMode]bool, error) {
	return ParseServices(c.Services)
}

// IsHTTPServerEnabled returns true if the HTTP server service is enabled.
func (c *AppConfig) IsHTTPServerEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeHTTP]
}

// IsIngestRunnerEnabled returns true if the scheduled ingestion loop is enabled.
func (c *AppConfig) IsIngestRunnerEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeIngestRunner]
}

// IsRunReaperEnabled returns true if the stale-run reaper is enabled.
func (c *AppConfig) IsRunReaperEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeRunReaper]
}
