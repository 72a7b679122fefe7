package mcp

import "time"

// Config holds MCP server configuration. The server binds to loopback by
// default; expose it deliberately if external agents live elsewhere.
type Config struct {
	Bind            string        `yaml:"bind"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// defaults fills zero values with sensible defaults.
func (c *Config) defaults() {
	if c.Bind == "" {
		c.Bind = "127.0.0.1:8081"
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
}
