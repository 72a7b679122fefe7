// Package storage defines the persistence boundary for credential records,
// scheduled jobs, and identity links, together with an in-memory
// implementation used in tests and as a fallback backend.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound indicates the requested record does not exist.
// All Store implementations return it (possibly wrapped) from lookups.
var ErrNotFound = errors.New("storage: not found")

// Store is the durable persistence interface consumed by the credential
// manager and the job registry. Implementations must be safe for
// concurrent use.
type Store interface {
	// Credential fetches one identity's credential record.
	// Returns ErrNotFound if no record exists.
	Credential(ctx context.Context, identityID string) (CredentialRecord, error)

	// SaveCredential inserts or replaces the record keyed by its IdentityID.
	SaveCredential(ctx context.Context, rec CredentialRecord) error

	// DeleteCredential removes a record. The bool reports whether a record
	// existed; deleting a missing record is not an error.
	DeleteCredential(ctx context.Context, identityID string) (bool, error)

	// ListCredentials returns all stored credential records.
	ListCredentials(ctx context.Context) ([]CredentialRecord, error)

	// AddJob persists a new scheduled job and returns the assigned job id.
	// The job's ID and CreatedAt fields are set by the store.
	AddJob(ctx context.Context, job ScheduledJob) (int64, error)

	// DeleteJob removes a job. The bool reports whether the job existed.
	DeleteJob(ctx context.Context, jobID int64) (bool, error)

	// ListJobs returns all persisted jobs, ordered by id.
	ListJobs(ctx context.Context) ([]ScheduledJob, error)

	// SaveLink inserts or replaces an identity link keyed by
	// (IdentityID, Channel).
	SaveLink(ctx context.Context, link IdentityLink) error

	// Link fetches the link for an identity on one channel.
	// Returns ErrNotFound if no link exists.
	Link(ctx context.Context, identityID, channel string) (IdentityLink, error)

	// DeleteLink removes a link. The bool reports whether it existed.
	DeleteLink(ctx context.Context, identityID, channel string) (bool, error)

	// ListLinks returns all identity links.
	ListLinks(ctx context.Context) ([]IdentityLink, error)
}
