package postgres

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
func (s *pgStore) Credential(ctx context.Context, identityID string) (storage.CredentialRecord, error) {
	var (
		access, refresh string
		expiresAt       int64
		extraJSON       []byte
	)

	err := s.db.QueryRowContext(ctx, `
		SELECT access_token, refresh_token, expires_at, extra
		FROM credentials
		WHERE identity_id = $1`, identityID,
	).Scan(&access, &refresh, &expiresAt, &extraJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.CredentialRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.CredentialRecord{}, fmt.Errorf("postgres: query credential: %w", err)
	}

	return s.decodeCredential(identityID, access, refresh, expiresAt, extraJSON)
}

// SaveCredential inserts or replaces the record keyed by its IdentityID.
// Token columns are encrypted when a cipher is configured.
func (s *pgStore) SaveCredential(ctx context.Context, rec storage.CredentialRecord) error {
	access, err := s.cipher.Encrypt(rec.AccessToken)
	if err != nil {
		return fmt.Errorf("postgres: encrypt access token: %w", err)
	}

	refresh, err := s.cipher.Encrypt(rec.RefreshToken)
	if err != nil {
		return fmt.Errorf("postgres: encrypt refresh token: %w", err)
	}

	extraJSON, err := json.Marshal(rec.Extra)
	if err != nil {
		return fmt.Errorf("postgres: marshal extra: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO credentials (identity_id, access_token, refresh_token, expires_at, extra, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (identity_id) DO UPDATE SET
			access_token  = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			expires_at    = EXCLUDED.expires_at,
			extra         = EXCLUDED.extra,
			updated_at    = now()`,
		rec.IdentityID, access, refresh, rec.ExpiresAt, extraJSON,
	)
	if err != nil {
		return fmt.Errorf("postgres: save credential: %w", err)
	}

	return nil
}

// DeleteCredential removes a record, reporting whether it existed.
func (s *pgStore) DeleteCredential(ctx context.Context, identityID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM credentials WHERE identity_id = $1", identityID)
	if err != nil {
		return false, fmt.Errorf("postgres: delete credential: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("postgres: rows affected: %w", err)
	}

	return n > 0, nil
}

// ListCredentials returns all stored credential records ordered by identity.
func (s *pgStore) ListCredentials(ctx context.Context) ([]storage.CredentialRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT identity_id, access_token, refresh_token, expires_at, extra
		FROM credentials
		ORDER BY identity_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list credentials: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var recs []storage.CredentialRecord
	for rows.Next() {
		var (
			identityID, access, refresh string
			expiresAt                   int64
			extraJSON                   []byte
		)
		if err := rows.Scan(&identityID, &access, &refresh, &expiresAt, &extraJSON); err != nil {
			return nil, fmt.Errorf("postgres: scan credential: %w", err)
		}

		rec, err := s.decodeCredential(identityID, access, refresh, expiresAt, extraJSON)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: scan credentials rows: %w", err)
	}

	return recs, nil
}

// AddJob persists a new job and returns the assigned id.
func (s *pgStore) AddJob(ctx context.Context, job storage.ScheduledJob) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO jobs (owner_id, schedule, payload)
		VALUES ($1, $2, $3)
		RETURNING id`,
		job.OwnerID, job.Schedule, job.Payload,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: add job: %w", err)
	}

	return id, nil
}

// DeleteJob removes a job, reporting whether it existed.
func (s *pgStore) DeleteJob(ctx context.Context, jobID int64) (bool, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM jobs WHERE id = $1", jobID)
	if err != nil {
		return false, fmt.Errorf("postgres: delete job: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("postgres: rows affected: %w", err)
	}

	return n > 0, nil
}

// ListJobs returns all persisted jobs ordered by id.
func (s *pgStore) ListJobs(ctx context.Context) ([]storage.ScheduledJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, schedule, payload, created_at
		FROM jobs
		ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []storage.ScheduledJob
	for rows.Next() {
		var job storage.ScheduledJob
		if err := rows.Scan(&job.ID, &job.OwnerID, &job.Schedule, &job.Payload, &job.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan job: %w", err)
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: scan jobs rows: %w", err)
	}

	return jobs, nil
}

// SaveLink inserts or replaces an identity link keyed by (identity, channel).
// The original created_at survives replacement.
func (s *pgStore) SaveLink(ctx context.Context, link storage.IdentityLink) error {
	createdAt := link.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO identity_links (identity_id, channel, address, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (identity_id, channel) DO UPDATE SET
			address = EXCLUDED.address`,
		link.IdentityID, link.Channel, link.Address, createdAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: save link: %w", err)
	}

	return nil
}

// Link fetches the link for an identity on one channel. Returns
// storage.ErrNotFound if no link exists.
func (s *pgStore) Link(ctx context.Context, identityID, channel string) (storage.IdentityLink, error) {
	link := storage.IdentityLink{IdentityID: identityID, Channel: channel}

	err := s.db.QueryRowContext(ctx, `
		SELECT address, created_at
		FROM identity_links
		WHERE identity_id = $1 AND channel = $2`, identityID, channel,
	).Scan(&link.Address, &link.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.IdentityLink{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.IdentityLink{}, fmt.Errorf("postgres: query link: %w", err)
	}

	return link, nil
}

// DeleteLink removes a link, reporting whether it existed.
func (s *pgStore) DeleteLink(ctx context.Context, identityID, channel string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM identity_links WHERE identity_id = $1 AND channel = $2",
		identityID, channel,
	)
	if err != nil {
		return false, fmt.Errorf("postgres: delete link: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("postgres: rows affected: %w", err)
	}

	return n > 0, nil
}

// ListLinks returns all identity links ordered by identity and channel.
func (s *pgStore) ListLinks(ctx context.Context) ([]storage.IdentityLink, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT identity_id, channel, address, created_at
		FROM identity_links
		ORDER BY identity_id, channel`,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list links: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var links []storage.IdentityLink
	for rows.Next() {
		var link storage.IdentityLink
		if err := rows.Scan(&link.IdentityID, &link.Channel, &link.Address, &link.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan link: %w", err)
		}
		links = append(links, link)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: scan links rows: %w", err)
	}

	return links, nil
}

// decodeCredential turns raw column values back into a CredentialRecord,
// decrypting token columns and unmarshalling the extra bag.
func (s *pgStore) decodeCredential(identityID, access, refresh string, expiresAt int64, extraJSON []byte) (storage.CredentialRecord, error) {
	rec := storage.CredentialRecord{
		IdentityID: identityID,
		ExpiresAt:  expiresAt,
	}

	var err error
	if rec.AccessToken, err = s.cipher.Decrypt(access); err != nil {
		return storage.CredentialRecord{}, fmt.Errorf("postgres: decrypt access token for %s: %w", identityID, err)
	}
	if rec.RefreshToken, err = s.cipher.Decrypt(refresh); err != nil {
		return storage.CredentialRecord{}, fmt.Errorf("postgres: decrypt refresh token for %s: %w", identityID, err)
	}

	if len(extraJSON) > 0 && string(extraJSON) != "{}" && string(extraJSON) != "null" {
		if err := json.Unmarshal(extraJSON, &rec.Extra); err != nil {
			return storage.CredentialRecord{}, fmt.Errorf("postgres: unmarshal extra for %s: %w", identityID, err)
		}
	}

	return rec, nil
}
