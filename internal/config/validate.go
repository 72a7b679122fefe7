package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/flemzord/chime/internal/core"
	"github.com/flemzord/chime/internal/notify"
)

// Validate checks the structural validity of a Config.
// It verifies the version field, ensures modules are present, checks that
// all referenced module IDs exist in the registry, and validates the log,
// credential policy, scheduler, notify, and security sections.
// The binary registers every module it ships; only the ones named under
// modules: are loaded, so an absent entry is a choice, not an error.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Version == "" {
		errs = append(errs, errors.New("config: version field is required"))
	} else if cfg.Version != "1" {
		errs = append(errs, fmt.Errorf("config: unsupported version %q (supported: \"1\")", cfg.Version))
	}

	if len(cfg.Modules) == 0 {
		errs = append(errs, errors.New("config: at least one module must be configured"))
	}

	var stores []string
	for id := range cfg.Modules {
		if _, ok := core.GetModule(id); !ok {
			errs = append(errs, fmt.Errorf("config: unknown module %q", id))
		}
		if strings.HasPrefix(id, "storage.") {
			stores = append(stores, id)
		}
	}

	// Storage modules all register the same service; loading two would
	// leave half the data in whichever loaded last.
	if len(stores) > 1 {
		slices.Sort(stores)
		errs = append(errs, fmt.Errorf("config: multiple storage modules configured (%s), pick one", strings.Join(stores, ", ")))
	}

	errs = append(errs, validateLog(cfg.Log)...)
	errs = append(errs, validateCredentials(cfg)...)
	errs = append(errs, validateScheduler(cfg.Scheduler)...)
	errs = append(errs, validateNotify(cfg.Notify)...)
	errs = append(errs, validateSecurity(cfg.Security)...)

	return errors.Join(errs...)
}

func validateLog(log LogConfig) []error {
	var errs []error
	switch log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("config: log.level %q is not one of debug, info, warn, error", log.Level))
	}
	switch log.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("config: log.format %q is not one of text, json", log.Format))
	}
	return errs
}

// validateCredentials checks the credential policy section. A configured
// provider must be one of the modules this config actually loads, otherwise
// the lifecycle manager would resolve nothing at runtime.
func validateCredentials(cfg *Config) []error {
	var errs []error
	c := cfg.Credentials

	if c.Provider != "" {
		if _, exists := cfg.Modules[c.Provider]; !exists {
			errs = append(errs, fmt.Errorf("config: credentials.provider references unknown module %q", c.Provider))
		}
	}
	if c.Lookahead < 0 {
		errs = append(errs, fmt.Errorf("config: credentials.lookahead must not be negative, got %s", c.Lookahead))
	}
	if c.DefaultLifetime < 0 {
		errs = append(errs, fmt.Errorf("config: credentials.default_lifetime must not be negative, got %s", c.DefaultLifetime))
	}

	return errs
}

func validateScheduler(s SchedulerConfig) []error {
	if s.Timezone == "" {
		return nil
	}
	if _, err := time.LoadLocation(s.Timezone); err != nil {
		return []error{fmt.Errorf("config: scheduler.timezone %q: %w", s.Timezone, err)}
	}
	return nil
}

func validateNotify(n NotifyConfig) []error {
	if n.QuietHours == "" {
		return nil
	}
	if _, err := notify.ParseQuietHours(n.QuietHours); err != nil {
		return []error{fmt.Errorf("config: notify.quiet_hours: %w", err)}
	}
	return nil
}

func validateSecurity(s *SecurityConfig) []error {
	if s == nil {
		return nil
	}
	var errs []error
	if s.RateLimits.APIPerMin < 0 {
		errs = append(errs, fmt.Errorf("config: security.rate_limits.api_per_min must not be negative, got %d", s.RateLimits.APIPerMin))
	}
	if s.RateLimits.NotifyPerMin < 0 {
		errs = append(errs, fmt.Errorf("config: security.rate_limits.notify_per_min must not be negative, got %d", s.RateLimits.NotifyPerMin))
	}
	return errs
}
