// Package config handles YAML configuration loading, environment variable
// expansion, and structural validation for chime.
package config

import (
	"log/slog"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/chime/internal/security"
	"github.com/flemzord/chime/internal/telemetry"
)

// Config is the top-level configuration structure.
type Config struct {
	// Version is the config format version. Currently only "1" is supported.
	Version string `yaml:"version"`

	// Log controls the root logger.
	Log LogConfig `yaml:"log,omitempty"`

	// DataDir overrides the default persistent data directory.
	DataDir string `yaml:"data_dir,omitempty"`

	// Credentials holds the credential lifecycle policy.
	Credentials CredentialsConfig `yaml:"credentials,omitempty"`

	// Scheduler holds settings for the reminder scheduler engine.
	Scheduler SchedulerConfig `yaml:"scheduler,omitempty"`

	// Notify holds delivery behavior shared by all notification sinks.
	Notify NotifyConfig `yaml:"notify,omitempty"`

	// Security holds optional rate limit tuning.
	Security *SecurityConfig `yaml:"security,omitempty"`

	// Telemetry controls trace export. Metrics are always on; the
	// gateway decides whether /metrics is reachable.
	Telemetry TelemetryConfig `yaml:"telemetry,omitempty"`

	// Modules maps module IDs to their raw YAML configuration.
	// Keys must match registered module IDs (e.g. "storage.sqlite").
	Modules map[string]yaml.Node `yaml:"modules"`
}

// LogConfig controls log output.
type LogConfig struct {
	// Level is one of debug, info, warn, error. Defaults to info.
	Level string `yaml:"level,omitempty"`

	// Format is text or json. Defaults to text.
	Format string `yaml:"format,omitempty"`
}

// SlogLevel maps the configured level name to a slog.Level.
// Unknown or empty values fall back to info.
func (l LogConfig) SlogLevel() slog.Level {
	switch l.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// CredentialsConfig holds the credential lifecycle policy. Zero values mean
// "use the default"; the defaults are applied by the lifecycle manager.
type CredentialsConfig struct {
	// Provider is the module ID of the OAuth provider module.
	// Defaults to "provider.google".
	Provider string `yaml:"provider,omitempty"`

	// Lookahead is the window before expiry at which a credential is
	// proactively refreshed. Defaults to 5m.
	Lookahead time.Duration `yaml:"lookahead,omitempty"`

	// StaleFallback controls whether a not-yet-expired credential is
	// returned when its refresh fails. Defaults to true.
	StaleFallback *bool `yaml:"stale_fallback,omitempty"`

	// DefaultLifetime is assumed when the provider's token response omits
	// expires_in. Defaults to 1h.
	DefaultLifetime time.Duration `yaml:"default_lifetime,omitempty"`

	// SingleFlight collapses concurrent refreshes of the same identity
	// into one provider call. Off by default; the duplicate-refresh race
	// is harmless and the default keeps failure modes simpler.
	SingleFlight bool `yaml:"single_flight,omitempty"`
}

// SchedulerConfig holds settings for the scheduler engine.
type SchedulerConfig struct {
	// Timezone is an IANA location name (e.g. "Europe/Paris") used to
	// evaluate cron expressions. Defaults to the system local time.
	Timezone string `yaml:"timezone,omitempty"`
}

// NotifyConfig holds delivery behavior shared by all notification sinks.
type NotifyConfig struct {
	// QuietHours is a daily window ("HH:MM-HH:MM", evaluated in the
	// scheduler timezone) during which reminder deliveries are dropped.
	// The window may span midnight ("22:00-07:00"). Empty disables it.
	QuietHours string `yaml:"quiet_hours,omitempty"`
}

// SecurityConfig holds optional security tuning.
type SecurityConfig struct {
	// RateLimits bounds admin API calls and outbound notifications.
	// Zero fields use the built-in defaults.
	RateLimits security.RateLimitConfig `yaml:"rate_limits,omitempty"`
}

// TelemetryConfig controls trace export.
type TelemetryConfig struct {
	// Tracing configures the OTLP span exporter. Off by default.
	Tracing telemetry.TracingConfig `yaml:"tracing,omitempty"`
}
