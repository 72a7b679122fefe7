package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/flemzord/chime/internal/storage"
)

// Credential fetches one identity's credential record. Returns
// storage.ErrNotFound if no record exists.
func (s *sqlStore) Credential(ctx context.Context, identityID string) (storage.CredentialRecord, error) {
	var (
		access, refresh, extraJSON string
		expiresAt                  int64
	)

	err := s.db.QueryRowContext(ctx, `
		SELECT access_token, refresh_token, expires_at, extra
		FROM credentials
		WHERE identity_id = ?`, identityID,
	).Scan(&access, &refresh, &expiresAt, &extraJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.CredentialRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.CredentialRecord{}, fmt.Errorf("sqlite: query credential: %w", err)
	}

	return s.decodeCredential(identityID, access, refresh, expiresAt, extraJSON)
}

// SaveCredential inserts or replaces the record keyed by its IdentityID.
// Token columns are encrypted when a cipher is configured.
func (s *sqlStore) SaveCredential(ctx context.Context, rec storage.CredentialRecord) error {
	access, err := s.cipher.Encrypt(rec.AccessToken)
	if err != nil {
		return fmt.Errorf("sqlite: encrypt access token: %w", err)
	}

	refresh, err := s.cipher.Encrypt(rec.RefreshToken)
	if err != nil {
		return fmt.Errorf("sqlite: encrypt refresh token: %w", err)
	}

	extraJSON, err := json.Marshal(rec.Extra)
	if err != nil {
		return fmt.Errorf("sqlite: marshal extra: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO credentials (identity_id, access_token, refresh_token, expires_at, extra, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.IdentityID, access, refresh, rec.ExpiresAt,
		string(extraJSON),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save credential: %w", err)
	}

	return nil
}

// DeleteCredential removes a record, reporting whether it existed.
func (s *sqlStore) DeleteCredential(ctx context.Context, identityID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM credentials WHERE identity_id = ?", identityID)
	if err != nil {
		return false, fmt.Errorf("sqlite: delete credential: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: rows affected: %w", err)
	}

	return n > 0, nil
}

// ListCredentials returns all stored credential records ordered by identity.
func (s *sqlStore) ListCredentials(ctx context.Context) ([]storage.CredentialRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT identity_id, access_token, refresh_token, expires_at, extra
		FROM credentials
		ORDER BY identity_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list credentials: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var recs []storage.CredentialRecord
	for rows.Next() {
		var (
			identityID, access, refresh, extraJSON string
			expiresAt                              int64
		)
		if err := rows.Scan(&identityID, &access, &refresh, &expiresAt, &extraJSON); err != nil {
			return nil, fmt.Errorf("sqlite: scan credential: %w", err)
		}

		rec, err := s.decodeCredential(identityID, access, refresh, expiresAt, extraJSON)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: scan credentials rows: %w", err)
	}

	return recs, nil
}

// AddJob persists a new job and returns the assigned id.
func (s *sqlStore) AddJob(ctx context.Context, job storage.ScheduledJob) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (owner_id, schedule, payload, created_at)
		VALUES (?, ?, ?, ?)`,
		job.OwnerID, job.Schedule, job.Payload,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: add job: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("sqlite: last insert id: %w", err)
	}

	return id, nil
}

// DeleteJob removes a job, reporting whether it existed.
func (s *sqlStore) DeleteJob(ctx context.Context, jobID int64) (bool, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM jobs WHERE id = ?", jobID)
	if err != nil {
		return false, fmt.Errorf("sqlite: delete job: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: rows affected: %w", err)
	}

	return n > 0, nil
}

// ListJobs returns all persisted jobs ordered by id.
func (s *sqlStore) ListJobs(ctx context.Context) ([]storage.ScheduledJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, schedule, payload, created_at
		FROM jobs
		ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanJobs(rows)
}

// SaveLink inserts or replaces an identity link keyed by (identity, channel).
func (s *sqlStore) SaveLink(ctx context.Context, link storage.IdentityLink) error {
	createdAt := link.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO identity_links (identity_id, channel, address, created_at)
		VALUES (?, ?, ?, ?)`,
		link.IdentityID, link.Channel, link.Address,
		createdAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save link: %w", err)
	}

	return nil
}

// Link fetches the link for an identity on one channel. Returns
// storage.ErrNotFound if no link exists.
func (s *sqlStore) Link(ctx context.Context, identityID, channel string) (storage.IdentityLink, error) {
	var (
		link         storage.IdentityLink
		createdAtStr string
	)

	err := s.db.QueryRowContext(ctx, `
		SELECT address, created_at
		FROM identity_links
		WHERE identity_id = ? AND channel = ?`, identityID, channel,
	).Scan(&link.Address, &createdAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.IdentityLink{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.IdentityLink{}, fmt.Errorf("sqlite: query link: %w", err)
	}

	link.IdentityID = identityID
	link.Channel = channel
	if link.CreatedAt, err = parseTimestamp(createdAtStr); err != nil {
		return storage.IdentityLink{}, err
	}

	return link, nil
}

// DeleteLink removes a link, reporting whether it existed.
func (s *sqlStore) DeleteLink(ctx context.Context, identityID, channel string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM identity_links WHERE identity_id = ? AND channel = ?",
		identityID, channel,
	)
	if err != nil {
		return false, fmt.Errorf("sqlite: delete link: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: rows affected: %w", err)
	}

	return n > 0, nil
}

// ListLinks returns all identity links ordered by identity and channel.
func (s *sqlStore) ListLinks(ctx context.Context) ([]storage.IdentityLink, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT identity_id, channel, address, created_at
		FROM identity_links
		ORDER BY identity_id, channel`,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list links: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var links []storage.IdentityLink
	for rows.Next() {
		var (
			link         storage.IdentityLink
			createdAtStr string
		)
		if err := rows.Scan(&link.IdentityID, &link.Channel, &link.Address, &createdAtStr); err != nil {
			return nil, fmt.Errorf("sqlite: scan link: %w", err)
		}
		if link.CreatedAt, err = parseTimestamp(createdAtStr); err != nil {
			return nil, err
		}
		links = append(links, link)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: scan links rows: %w", err)
	}

	return links, nil
}

// decodeCredential turns raw column values back into a CredentialRecord,
// decrypting token columns and unmarshalling the extra bag.
func (s *sqlStore) decodeCredential(identityID, access, refresh string, expiresAt int64, extraJSON string) (storage.CredentialRecord, error) {
	rec := storage.CredentialRecord{
		IdentityID: identityID,
		ExpiresAt:  expiresAt,
	}

	var err error
	if rec.AccessToken, err = s.cipher.Decrypt(access); err != nil {
		return storage.CredentialRecord{}, fmt.Errorf("sqlite: decrypt access token for %s: %w", identityID, err)
	}
	if rec.RefreshToken, err = s.cipher.Decrypt(refresh); err != nil {
		return storage.CredentialRecord{}, fmt.Errorf("sqlite: decrypt refresh token for %s: %w", identityID, err)
	}

	if extraJSON != "" && extraJSON != "{}" && extraJSON != "null" {
		if err := json.Unmarshal([]byte(extraJSON), &rec.Extra); err != nil {
			return storage.CredentialRecord{}, fmt.Errorf("sqlite: unmarshal extra for %s: %w", identityID, err)
		}
	}

	return rec, nil
}

func scanJobs(rows *sql.Rows) ([]storage.ScheduledJob, error) {
	var jobs []storage.ScheduledJob
	for rows.Next() {
		var (
			job          storage.ScheduledJob
			createdAtStr string
		)
		if err := rows.Scan(&job.ID, &job.OwnerID, &job.Schedule, &job.Payload, &createdAtStr); err != nil {
			return nil, fmt.Errorf("sqlite: scan job: %w", err)
		}

		var err error
		if job.CreatedAt, err = parseTimestamp(createdAtStr); err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: scan jobs rows: %w", err)
	}

	return jobs, nil
}

func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: parse created_at %q: %w", s, err)
	}
	return t, nil
}
