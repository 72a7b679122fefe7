package gateway

import "time"

// Config holds the admin API server configuration.
type Config struct {
	// Bind is the listen address. The default is loopback-only;
	// exposing the API beyond localhost is an explicit operator choice
	// and should come with auth configured.
	Bind string `yaml:"bind"`

	Auth AuthConfig `yaml:"auth"`

	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is deliberately generous: an ensure or delete call
	// can trigger a provider round trip (refresh or revoke) before the
	// response body is written.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// ShutdownTimeout bounds how long Stop waits for in-flight requests
	// to drain before the listener is torn down.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

const (
	defaultBind            = "127.0.0.1:8080"
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 30 * time.Second
	defaultShutdownTimeout = 5 * time.Second
)

// defaults applies default values to unset fields.
func (c *Config) defaults() {
	if c.Bind == "" {
		c.Bind = defaultBind
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = defaultReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
}

// AuthConfig configures how admin API callers authenticate. Bearer and
// basic credentials may coexist; either unlocks the same surface.
type AuthConfig struct {
	BearerToken string `yaml:"bearer_token"`
	BasicUser   string `yaml:"basic_user"`
	BasicPass   string `yaml:"basic_pass"`
}

// IsConfigured reports whether at least one complete auth scheme is
// present. Basic auth counts only when both halves are set.
func (a AuthConfig) IsConfigured() bool {
	return a.BearerToken != "" || (a.BasicUser != "" && a.BasicPass != "")
}
