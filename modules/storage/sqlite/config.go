package sqlite

import "fmt"

const (
	defaultBusyTimeout = 5000
	defaultDBFile      = "chime.db"
)

// Config holds the SQLite storage module configuration. The zero value
// is usable: the database lands in the data directory with WAL on and
// token columns stored in plaintext.
type Config struct {
	// Path is the database file path. Defaults to {DataDir}/chime.db.
	Path string `yaml:"path"`

	// WAL selects the journal mode. Left unset it defaults to enabled,
	// which lets the admin API read credentials and jobs while the
	// scheduler writes run-state updates.
	WAL *bool `yaml:"wal"`

	// BusyTimeout is how long a locked statement waits, in
	// milliseconds, before failing with SQLITE_BUSY.
	BusyTimeout int `yaml:"busy_timeout"`

	// EncryptionKey, when non-empty, enables AES-256-GCM encryption of
	// the access_token and refresh_token columns at rest. The key is
	// derived from the passphrase; losing it makes stored tokens
	// unrecoverable.
	EncryptionKey string `yaml:"encryption_key"`
}

func (c *Config) defaults() {
	if c.BusyTimeout == 0 {
		c.BusyTimeout = defaultBusyTimeout
	}
}

// walEnabled is the one place the nil-means-on rule for the WAL knob
// lives.
func (c *Config) walEnabled() bool {
	return c.WAL == nil || *c.WAL
}

func (c *Config) validate() error {
	if c.BusyTimeout < 0 {
		return fmt.Errorf("sqlite: busy_timeout must be non-negative, got %d", c.BusyTimeout)
	}
	return nil
}
