package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemStore is a thread-safe, in-memory implementation of Store. It backs
// tests and serves as a non-durable fallback when no storage module is
// configured. Records are cloned on the way in and out so callers never
// share map state with the store.
type MemStore struct {
	mu        sync.RWMutex
	creds     map[string]CredentialRecord
	jobs      map[int64]ScheduledJob
	links     map[linkKey]IdentityLink
	nextJobID int64
	now       func() time.Time
}

type linkKey struct {
	identity string
	channel  string
}

// NewMemStore creates a new empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		creds: make(map[string]CredentialRecord),
		jobs:  make(map[int64]ScheduledJob),
		links: make(map[linkKey]IdentityLink),
		now:   time.Now,
	}
}

// Compile-time interface check.
var _ Store = (*MemStore)(nil)

// Credential fetches one identity's credential record.
func (s *MemStore) Credential(_ context.Context, identityID string) (CredentialRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.creds[identityID]
	if !ok {
		return CredentialRecord{}, ErrNotFound
	}
	return rec.Clone(), nil
}

// SaveCredential inserts or replaces the record keyed by its IdentityID.
func (s *MemStore) SaveCredential(_ context.Context, rec CredentialRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.creds[rec.IdentityID] = rec.Clone()
	return nil
}

// DeleteCredential removes a record, reporting whether it existed.
func (s *MemStore) DeleteCredential(_ context.Context, identityID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.creds[identityID]
	delete(s.creds, identityID)
	return existed, nil
}

// ListCredentials returns all stored credential records.
func (s *MemStore) ListCredentials(_ context.Context) ([]CredentialRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]CredentialRecord, 0, len(s.creds))
	for _, rec := range s.creds {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IdentityID < out[j].IdentityID })
	return out, nil
}

// AddJob persists a new job and returns the assigned id.
func (s *MemStore) AddJob(_ context.Context, job ScheduledJob) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextJobID++
	job.ID = s.nextJobID
	job.CreatedAt = s.now()
	s.jobs[job.ID] = job
	return job.ID, nil
}

// DeleteJob removes a job, reporting whether it existed.
func (s *MemStore) DeleteJob(_ context.Context, jobID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.jobs[jobID]
	delete(s.jobs, jobID)
	return existed, nil
}

// ListJobs returns all persisted jobs ordered by id.
func (s *MemStore) ListJobs(_ context.Context) ([]ScheduledJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ScheduledJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SaveLink inserts or replaces an identity link.
func (s *MemStore) SaveLink(_ context.Context, link IdentityLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if link.CreatedAt.IsZero() {
		link.CreatedAt = s.now()
	}
	s.links[linkKey{link.IdentityID, link.Channel}] = link
	return nil
}

// Link fetches the link for an identity on one channel.
func (s *MemStore) Link(_ context.Context, identityID, channel string) (IdentityLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	link, ok := s.links[linkKey{identityID, channel}]
	if !ok {
		return IdentityLink{}, ErrNotFound
	}
	return link, nil
}

// DeleteLink removes a link, reporting whether it existed.
func (s *MemStore) DeleteLink(_ context.Context, identityID, channel string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := linkKey{identityID, channel}
	_, existed := s.links[key]
	delete(s.links, key)
	return existed, nil
}

// ListLinks returns all identity links.
func (s *MemStore) ListLinks(_ context.Context) ([]IdentityLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]IdentityLink, 0, len(s.links))
	for _, link := range s.links {
		out = append(out, link)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IdentityID != out[j].IdentityID {
			return out[i].IdentityID < out[j].IdentityID
		}
		return out[i].Channel < out[j].Channel
	})
	return out, nil
}
