package webhook

import (
	"fmt"
	"time"

	"github.com/flemzord/chime/internal/security"
)

// Config holds the webhook sink configuration. The destination URL comes
// from each owner's identity link, not from config.
type Config struct {
	// Secret enables HMAC-SHA256 signing of the delivery body. Receivers
	// verify the X-Signature-256 header with the same key.
	Secret string `yaml:"secret"`

	// AuthToken is sent as a bearer token when set.
	AuthToken string `yaml:"auth_token"`

	Timeout string `yaml:"timeout"`

	// Endpoints restricts which link addresses deliveries may reach
	// (allow_domains, deny_domains, allow_private). The zero value
	// allows any public http(s) endpoint. The bearer token above goes
	// out with every delivery, so pinning domains here keeps a mistyped
	// or malicious link from capturing it.
	Endpoints security.URLFilterConfig `yaml:",inline"`
}

// defaults applies default values to unset fields.
func (c *Config) defaults() {
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
		return fmt.Errorf("notify.webhook: invalid timeout %q: %w", c.Timeout, err)
	}
	return nil
}
