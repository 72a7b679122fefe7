// Package sqlite implements the default persistent storage backend for
// credential records, scheduled jobs, and identity links. It uses
// modernc.org/sqlite (pure Go, no CGO) with WAL mode and a single writer
// connection, and can encrypt token columns at rest with AES-256-GCM.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/flemzord/chime/internal/core"
	"github.com/flemzord/chime/internal/storage"
	"gopkg.in/yaml.v3"

	_ "modernc.org/sqlite" // SQLite driver registration
)

func init() {
	core.RegisterModule(&Module{})
}

// Compile-time interface guards.
var (
	_ storage.Store     = (*sqlStore)(nil)
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
)

// Module implements the SQLite-backed storage module. It registers the
// "storage.store" service consumed by the credential manager, the job
// registry, and the admin gateway.
type Module struct {
	config Config
	db     *sql.DB
	logger *slog.Logger
	store  *sqlStore
}

// sqlStore implements storage.Store backed by SQLite. Token columns pass
// through the cipher on the way in and out; a nil cipher stores plaintext.
type sqlStore struct {
	db     *sql.DB
	cipher *storage.Cipher
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "storage.sqlite",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("sqlite: decode config: %w", err)
	}
	m.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.config.defaults()
	m.logger = ctx.Logger

	if m.config.Path == "" {
		m.config.Path = filepath.Join(ctx.DataDir, defaultDBFile)
	}

	if dir := filepath.Dir(m.config.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("sqlite: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", m.config.Path)
	if err != nil {
		return fmt.Errorf("sqlite: open %s: %w", m.config.Path, err)
	}

	// SQLite handles one writer at a time; limit pool to 1 connection
	// so PRAGMAs apply consistently.
	db.SetMaxOpenConns(1)

	if m.config.walEnabled() {
		if _, err := db.ExecContext(context.TODO(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return fmt.Errorf("sqlite: enable WAL: %w", err)
		}
	}

	if _, err := db.ExecContext(context.TODO(), fmt.Sprintf("PRAGMA busy_timeout=%d", m.config.BusyTimeout)); err != nil {
		_ = db.Close()
		return fmt.Errorf("sqlite: set busy_timeout: %w", err)
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return err
	}

	m.db = db
	m.store = &sqlStore{
		db:     db,
		cipher: storage.NewCipherFromPassphrase(m.config.EncryptionKey),
	}

	ctx.RegisterService("storage.store", m.store)

	m.logger.Info("sqlite storage provisioned",
		"path", m.config.Path,
		"wal", m.config.walEnabled(),
		"encrypted", m.store.cipher != nil,
	)

	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	if err := m.config.validate(); err != nil {
		return err
	}

	if err := m.db.PingContext(context.TODO()); err != nil {
		return fmt.Errorf("sqlite: ping failed: %w", err)
	}

	// Verify the schema was applied.
	var n int
	if err := m.db.QueryRowContext(context.TODO(), "SELECT count(*) FROM credentials").Scan(&n); err != nil {
		return fmt.Errorf("sqlite: schema probe failed: %w", err)
	}

	return nil
}

// Stop implements core.Stopper.
func (m *Module) Stop(_ context.Context) error {
	m.logger.Info("sqlite storage stopping")
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}

// Store returns the storage.Store implementation.
func (m *Module) Store() storage.Store {
	return m.store
}
