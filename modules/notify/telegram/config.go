package telegram

import (
	"fmt"
	"net/url"
	"regexp"
)

// tokenPattern matches the Telegram bot token format: <digits>:<alphanum+dash>.
var tokenPattern = regexp.MustCompile(`^\d+:[A-Za-z0-9_-]+$`)

// Config holds the Telegram sink configuration.
type Config struct {
	Token            string `yaml:"token"`
	APIURL           string `yaml:"api_url"`
	MaxMessageLength int    `yaml:"max_message_length"`
	RatePerSec       int    `yaml:"rate_per_sec"`
}

// defaults applies default values to unset fields.
func (c *Config) defaults() {
	if c.APIURL == "" {
		c.APIURL = "https://api.telegram.org"
	}
	if c.MaxMessageLength == 0 {
		c.MaxMessageLength = 4096
	}
	if c.RatePerSec == 0 {
		c.RatePerSec = 3
	}
}

// validate checks configuration field constraints beyond basic presence
// checks. It is called from Telegram.Validate after defaults have been
// applied.
func (c *Config) validate() error {
	if c.Token != "" && !tokenPattern.MatchString(c.Token) {
		return fmt.Errorf("telegram: token format invalid (expected <bot_id>:<hash>)")
	}

	if c.APIURL != "" {
		u, err := url.Parse(c.APIURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("telegram: api_url must be a valid http/https URL, got %q", c.APIURL)
		}
	}

	if c.MaxMessageLength < 1 || c.MaxMessageLength > 4096 {
		return fmt.Errorf("telegram: max_message_length must be 1-4096, got %d", c.MaxMessageLength)
	}

	if c.RatePerSec < 1 || c.RatePerSec > 30 {
		return fmt.Errorf("telegram: rate_per_sec must be 1-30, got %d", c.RatePerSec)
	}

	return nil
}
