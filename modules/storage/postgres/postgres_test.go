package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/flemzord/chime/internal/core"
	"github.com/flemzord/chime/internal/storage"
	"github.com/pressly/goose/v3"
	"gopkg.in/yaml.v3"
)

func newStoreWithMock(t *testing.T) (*pgStore, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return &pgStore{db: db}, mock, db
}

func expectationsMet(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// notEqual matches any non-empty string argument except the given plaintext.
type notEqual struct{ plaintext string }

func (n notEqual) Match(v driver.Value) bool {
	s, ok := v.(string)
	return ok && s != "" && s != n.plaintext
}

// --- Module tests ---

func TestModuleInfo(t *testing.T) {
	var m Module

	info := m.ModuleInfo()
	if info.ID != "storage.postgres" {
		t.Errorf("ID = %q, want %q", info.ID, "storage.postgres")
	}
	if info.New == nil {
		t.Fatal("New is nil")
	}
	if _, ok := info.New().(*Module); !ok {
		t.Error("New() did not return a *Module")
	}
}

func TestConfigureDecodesYAML(t *testing.T) {
	var node yaml.Node
	raw := "dsn: postgres://chime@localhost:5432/chime\nmax_conns: 8\nencryption_key: hunter2\n"
	if err := yaml.Unmarshal([]byte(raw), &node); err != nil {
		t.Fatalf("yaml parse: %v", err)
	}

	var m Module
	if err := m.Configure(node.Content[0]); err != nil {
		t.Fatalf("configure: %v", err)
	}

	if m.config.DSN != "postgres://chime@localhost:5432/chime" {
		t.Errorf("DSN = %q", m.config.DSN)
	}
	if m.config.MaxConns != 8 {
		t.Errorf("MaxConns = %d, want 8", m.config.MaxConns)
	}
	if m.config.EncryptionKey != "hunter2" {
		t.Errorf("EncryptionKey = %q", m.config.EncryptionKey)
	}
}

func TestConfigValidateRequiresDSN(t *testing.T) {
	var cfg Config
	cfg.defaults()
	if err := cfg.validate(); err == nil {
		t.Error("expected error for empty dsn")
	}

	cfg.DSN = "postgres://localhost/chime"
	if err := cfg.validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestProvisionRegistersStoreService(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}

	origOpen, origGoose := openDB, gooseUpContext
	openDB = func(string) (*sql.DB, error) { return db, nil }
	gooseUpContext = func(context.Context, *sql.DB, string, ...goose.OptionsFunc) error { return nil }
	defer func() { openDB, gooseUpContext = origOpen, origGoose }()

	m := &Module{config: Config{DSN: "postgres://localhost/chime"}}
	m.config.defaults()

	ctx := core.NewAppContext(slog.Default(), t.TempDir())
	if err := m.Provision(ctx); err != nil {
		t.Fatalf("provision: %v", err)
	}
	t.Cleanup(func() { _ = m.Stop(context.Background()) })

	svc, ok := ctx.Service("storage.store")
	if !ok {
		t.Fatal("storage.store service not registered")
	}
	if _, ok := svc.(storage.Store); !ok {
		t.Errorf("service has type %T, want storage.Store", svc)
	}
}

func TestProvisionRequiresDSN(t *testing.T) {
	m := &Module{}
	m.config.defaults()

	err := m.Provision(core.NewAppContext(slog.Default(), t.TempDir()))
	if err == nil {
		t.Error("expected error for missing dsn")
	}
}

func TestRunMigrationsError(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	defer db.Close()

	orig := gooseUpContext
	gooseUpContext = func(context.Context, *sql.DB, string, ...goose.OptionsFunc) error {
		return errors.New("boom")
	}
	defer func() { gooseUpContext = orig }()

	if err := runMigrations(context.Background(), db); err == nil {
		t.Error("expected migration error to propagate")
	}
}

func TestValidateProbesSchema(t *testing.T) {
	db, mock, err := sqlmock.New(
		sqlmock.MonitorPingsOption(true),
		sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp),
	)
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	defer db.Close()

	mock.ExpectPing()
	mock.ExpectQuery(`SELECT count\(\*\) FROM credentials`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	m := &Module{config: Config{DSN: "postgres://localhost/chime"}, db: db, logger: slog.Default()}
	m.config.defaults()

	if err := m.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	expectationsMet(t, mock)
}

// --- Credential tests ---

func TestCredentialSaveUpsert(t *testing.T) {
	s, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO credentials`).
		WithArgs("alice", "ya29.tok", "1//ref", int64(1767225600), []byte(`{"scope":"calendar"}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.SaveCredential(context.Background(), storage.CredentialRecord{
		IdentityID:   "alice",
		AccessToken:  "ya29.tok",
		RefreshToken: "1//ref",
		ExpiresAt:    1767225600,
		Extra:        map[string]any{"scope": "calendar"},
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	expectationsMet(t, mock)
}

func TestCredentialGet(t *testing.T) {
	s, mock, db := newStoreWithMock(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"access_token", "refresh_token", "expires_at", "extra"}).
		AddRow("ya29.tok", "1//ref", int64(42), []byte(`{"tz":"UTC"}`))
	mock.ExpectQuery(`SELECT access_token, refresh_token, expires_at, extra`).
		WithArgs("alice").
		WillReturnRows(rows)

	got, err := s.Credential(context.Background(), "alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	if got.IdentityID != "alice" || got.AccessToken != "ya29.tok" || got.RefreshToken != "1//ref" {
		t.Errorf("record = %+v", got)
	}
	if got.ExpiresAt != 42 {
		t.Errorf("ExpiresAt = %d, want 42", got.ExpiresAt)
	}
	if got.Extra["tz"] != "UTC" {
		t.Errorf("Extra = %v", got.Extra)
	}
	expectationsMet(t, mock)
}

func TestCredentialNotFound(t *testing.T) {
	s, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT access_token, refresh_token, expires_at, extra`).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	_, err := s.Credential(context.Background(), "ghost")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("got error %v, want %v", err, storage.ErrNotFound)
	}
	expectationsMet(t, mock)
}

func TestCredentialDelete(t *testing.T) {
	s, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectExec(`DELETE FROM credentials WHERE identity_id`).
		WithArgs("alice").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM credentials WHERE identity_id`).
		WithArgs("alice").
		WillReturnResult(sqlmock.NewResult(0, 0))

	existed, err := s.DeleteCredential(context.Background(), "alice")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !existed {
		t.Error("first delete reported existed=false")
	}

	existed, err = s.DeleteCredential(context.Background(), "alice")
	if err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if existed {
		t.Error("second delete reported existed=true")
	}
	expectationsMet(t, mock)
}

func TestListCredentials(t *testing.T) {
	s, mock, db := newStoreWithMock(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"identity_id", "access_token", "refresh_token", "expires_at", "extra"}).
		AddRow("alice", "tok-a", "", int64(0), []byte(`{}`)).
		AddRow("bob", "tok-b", "ref-b", int64(99), []byte(`null`))
	mock.ExpectQuery(`SELECT identity_id, access_token, refresh_token, expires_at, extra`).
		WillReturnRows(rows)

	recs, err := s.ListCredentials(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("got %d records, want 2", len(recs))
	}
	if recs[0].IdentityID != "alice" || recs[1].IdentityID != "bob" {
		t.Errorf("identities = %q %q", recs[0].IdentityID, recs[1].IdentityID)
	}
	if recs[1].ExpiresAt != 99 {
		t.Errorf("ExpiresAt = %d, want 99", recs[1].ExpiresAt)
	}
	expectationsMet(t, mock)
}

// --- Encryption tests ---

func TestEncryptedTokensNotPlaintextAtRest(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	defer db.Close()

	s := &pgStore{db: db, cipher: storage.NewCipherFromPassphrase("passphrase")}

	mock.ExpectExec(`INSERT INTO credentials`).
		WithArgs("alice", notEqual{"ya29.secret"}, notEqual{"1//secret"}, int64(0), []byte(`null`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = s.SaveCredential(context.Background(), storage.CredentialRecord{
		IdentityID:   "alice",
		AccessToken:  "ya29.secret",
		RefreshToken: "1//secret",
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	expectationsMet(t, mock)
}

func TestEncryptedTokensDecryptOnRead(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	defer db.Close()

	cipher := storage.NewCipherFromPassphrase("passphrase")
	s := &pgStore{db: db, cipher: cipher}

	enc, err := cipher.Encrypt("ya29.secret")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	rows := sqlmock.NewRows([]string{"access_token", "refresh_token", "expires_at", "extra"}).
		AddRow(enc, "", int64(0), []byte(`{}`))
	mock.ExpectQuery(`SELECT access_token, refresh_token, expires_at, extra`).
		WithArgs("alice").
		WillReturnRows(rows)

	got, err := s.Credential(context.Background(), "alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.AccessToken != "ya29.secret" {
		t.Error("access token did not decrypt to the original value")
	}
	expectationsMet(t, mock)
}

// --- Job tests ---

func TestAddJobReturnsID(t *testing.T) {
	s, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`INSERT INTO jobs`).
		WithArgs("alice", "0 9 * * *", "standup").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

	id, err := s.AddJob(context.Background(), storage.ScheduledJob{
		OwnerID:  "alice",
		Schedule: "0 9 * * *",
		Payload:  "standup",
	})
	if err != nil {
		t.Fatalf("add job: %v", err)
	}
	if id != 7 {
		t.Errorf("id = %d, want 7", id)
	}
	expectationsMet(t, mock)
}

func TestDeleteJob(t *testing.T) {
	s, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectExec(`DELETE FROM jobs WHERE id`).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM jobs WHERE id`).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	existed, err := s.DeleteJob(context.Background(), 7)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !existed {
		t.Error("first delete reported existed=false")
	}

	existed, err = s.DeleteJob(context.Background(), 7)
	if err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if existed {
		t.Error("second delete reported existed=true")
	}
	expectationsMet(t, mock)
}

func TestListJobs(t *testing.T) {
	s, mock, db := newStoreWithMock(t)
	defer db.Close()

	created := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "owner_id", "schedule", "payload", "created_at"}).
		AddRow(int64(1), "alice", "0 9 * * *", "standup", created).
		AddRow(int64(2), "bob", "*/5 * * * *", "stretch", created)
	mock.ExpectQuery(`SELECT id, owner_id, schedule, payload, created_at`).
		WillReturnRows(rows)

	jobs, err := s.ListJobs(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("got %d jobs, want 2", len(jobs))
	}
	if jobs[0].ID != 1 || jobs[1].ID != 2 {
		t.Errorf("ids = %d %d", jobs[0].ID, jobs[1].ID)
	}
	if jobs[1].OwnerID != "bob" || jobs[1].Payload != "stretch" {
		t.Errorf("job = %+v", jobs[1])
	}
	if !jobs[0].CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", jobs[0].CreatedAt, created)
	}
	expectationsMet(t, mock)
}

// --- Identity link tests ---

func TestSaveLink(t *testing.T) {
	s, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO identity_links`).
		WithArgs("alice", "notify.telegram", "123456", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.SaveLink(context.Background(), storage.IdentityLink{
		IdentityID: "alice",
		Channel:    "notify.telegram",
		Address:    "123456",
	})
	if err != nil {
		t.Fatalf("save link: %v", err)
	}
	expectationsMet(t, mock)
}

func TestLinkGet(t *testing.T) {
	s, mock, db := newStoreWithMock(t)
	defer db.Close()

	created := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT address, created_at`).
		WithArgs("alice", "notify.telegram").
		WillReturnRows(sqlmock.NewRows([]string{"address", "created_at"}).AddRow("123456", created))

	got, err := s.Link(context.Background(), "alice", "notify.telegram")
	if err != nil {
		t.Fatalf("get link: %v", err)
	}
	if got.Address != "123456" || got.IdentityID != "alice" || got.Channel != "notify.telegram" {
		t.Errorf("link = %+v", got)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, created)
	}
	expectationsMet(t, mock)
}

func TestLinkNotFound(t *testing.T) {
	s, mock, db := newStoreWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT address, created_at`).
		WithArgs("alice", "notify.telegram").
		WillReturnError(sql.ErrNoRows)

	_, err := s.Link(context.Background(), "alice", "notify.telegram")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("got error %v, want %v", err, storage.ErrNotFound)
	}
	expectationsMet(t, mock)
}

func TestListLinks(t *testing.T) {
	s, mock, db := newStoreWithMock(t)
	defer db.Close()

	created := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"identity_id", "channel", "address", "created_at"}).
		AddRow("alice", "notify.telegram", "1a", created).
		AddRow("bob", "notify.webhook", "2b", created)
	mock.ExpectQuery(`SELECT identity_id, channel, address, created_at`).
		WillReturnRows(rows)

	links, err := s.ListLinks(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(links) != 2 {
		t.Fatalf("got %d links, want 2", len(links))
	}
	if links[0].Address != "1a" || links[1].Address != "2b" {
		t.Errorf("addresses = %q %q", links[0].Address, links[1].Address)
	}
	expectationsMet(t, mock)
}
