package google

import (
	"fmt"
	"time"
)

// Config holds the configuration for the Google provider module.
type Config struct {
	// ClientID and ClientSecret identify the OAuth application that the
	// stored grants were issued to. Both come from the Google Cloud console.
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`

	// TokenURL and RevokeURL override Google's endpoints, mainly for tests.
	TokenURL  string `yaml:"token_url"`
	RevokeURL string `yaml:"revoke_url"`

	Timeout string `yaml:"timeout"`
}

// defaults fills zero-valued fields with sensible defaults.
func (c *Config) defaults() {
	if c.TokenURL == "" {
		c.TokenURL = "https://oauth2.googleapis.com/token"
	}
	if c.RevokeURL == "" {
		c.RevokeURL = "https://oauth2.googleapis.com/revoke"
	}
	if c.Timeout == "" {
		c.Timeout = "30s"
	}
}

// parsedTimeout returns the timeout as a time.Duration.
// Assumes the value has been validated by validateTimeout.
func (c *Config) parsedTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// validateTimeout checks that the timeout string is a valid Go duration.
func (c *Config) validateTimeout() error {
	_, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return fmt.Errorf("provider.google: invalid timeout %q: %w", c.Timeout, err)
	}
	return nil
}
