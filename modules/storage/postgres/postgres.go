// Package postgres implements the PostgreSQL storage backend for deployments
// that outgrow the embedded SQLite database. It connects through the pgx
// stdlib driver and applies embedded goose migrations on startup.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/flemzord/chime/internal/core"
	"github.com/flemzord/chime/internal/storage"
	"github.com/flemzord/chime/modules/storage/postgres/migrations"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx database/sql driver registration
	"github.com/pressly/goose/v3"
	"gopkg.in/yaml.v3"
)

func init() {
	core.RegisterModule(&Module{})
}

// Compile-time interface guards.
var (
	_ storage.Store     = (*pgStore)(nil)
	_ core.Configurable = (*Module)(nil)
	_ core.Provisioner  = (*Module)(nil)
	_ core.Validator    = (*Module)(nil)
	_ core.Stopper      = (*Module)(nil)
)

// Seams for testing without a live server.
var (
	openDB = func(dsn string) (*sql.DB, error) {
		return sql.Open("pgx", dsn)
	}
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return goose.UpContext(ctx, db, dir, opts...)
	}
)

// Module implements the PostgreSQL-backed storage module. Like the SQLite
// backend it registers the "storage.store" service; exactly one storage
// module should be loaded.
type Module struct {
	config Config
	db     *sql.DB
	logger *slog.Logger
	store  *pgStore
}

// pgStore implements storage.Store backed by PostgreSQL. Token columns pass
// through the cipher on the way in and out; a nil cipher stores plaintext.
type pgStore struct {
	db     *sql.DB
	cipher *storage.Cipher
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "storage.postgres",
		New: func() core.Module { return &Module{} },
	}
}

// Configure implements core.Configurable.
func (m *Module) Configure(node *yaml.Node) error {
	if err := node.Decode(&m.config); err != nil {
		return fmt.Errorf("postgres: decode config: %w", err)
	}
	m.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (m *Module) Provision(ctx *core.AppContext) error {
	m.config.defaults()
	m.logger = ctx.Logger

	if err := m.config.validate(); err != nil {
		return err
	}

	db, err := openDB(m.config.DSN)
	if err != nil {
		return fmt.Errorf("postgres: open: %w", err)
	}

	db.SetMaxOpenConns(m.config.MaxConns)
	db.SetMaxIdleConns(m.config.MaxConns)

	if err := runMigrations(context.TODO(), db); err != nil {
		_ = db.Close()
		return err
	}

	m.db = db
	m.store = &pgStore{
		db:     db,
		cipher: storage.NewCipherFromPassphrase(m.config.EncryptionKey),
	}

	ctx.RegisterService("storage.store", m.store)

	m.logger.Info("postgres storage provisioned",
		"max_conns", m.config.MaxConns,
		"encrypted", m.store.cipher != nil,
	)

	return nil
}

// runMigrations applies the embedded goose migrations.
func runMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return fmt.Errorf("postgres: set dialect: %w", err)
	}
	if err := gooseUpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

// Validate implements core.Validator.
func (m *Module) Validate() error {
	if err := m.config.validate(); err != nil {
		return err
	}

	if err := m.db.PingContext(context.TODO()); err != nil {
		return fmt.Errorf("postgres: ping failed: %w", err)
	}

	// Verify the schema was applied.
	var n int
	if err := m.db.QueryRowContext(context.TODO(), "SELECT count(*) FROM credentials").Scan(&n); err != nil {
		return fmt.Errorf("postgres: schema probe failed: %w", err)
	}

	return nil
}

// Stop implements core.Stopper.
func (m *Module) Stop(_ context.Context) error {
	m.logger.Info("postgres storage stopping")
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}

// Store returns the storage.Store implementation.
func (m *Module) Store() storage.Store {
	return m.store
}
