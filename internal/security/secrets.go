// Package security provides centralized secret management, log redaction,
// request rate limiting, input validation, and the audit trail for
// credential lifecycle events.
package security

import (
	"slices"
	"sync"
)

// SecretStore is a thread-safe store for application secrets: the OAuth
// client secret, notification sink tokens, the gateway bearer token.
// It is the single source of truth for secrets at runtime, and feeds the
// Redactor so stored values never survive into log output.
//
// Secrets here are chime's own configuration material. Per-identity OAuth
// grants live in the credential store, not in this package.
type SecretStore struct {
	mu      sync.RWMutex
	secrets map[string]string
}

// NewSecretStore creates an empty secret store.
func NewSecretStore() *SecretStore {
	return &SecretStore{
		secrets: make(map[string]string),
	}
}

// Set stores a secret. If a secret with the same name already exists,
// it is overwritten.
func (s *SecretStore) Set(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[name] = value
}

// Get returns the secret value and true, or "" and false if not found.
func (s *SecretStore) Get(name string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.secrets[name]
	return v, ok
}

// Has returns true if a secret with the given name exists.
func (s *SecretStore) Has(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.secrets[name]
	return ok
}

// Names returns a sorted list of all secret names.
func (s *SecretStore) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.secrets))
	for name := range s.secrets {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Values returns all non-empty secret values. Order is not guaranteed.
// This is intended for registering values with a Redactor.
func (s *SecretStore) Values() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	values := make([]string, 0, len(s.secrets))
	for _, v := range s.secrets {
		if v != "" {
			values = append(values, v)
		}
	}
	return values
}

// Delete removes a secret by name. It is a no-op if the secret does not exist.
func (s *SecretStore) Delete(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.secrets, name)
}

// Len returns the number of stored secrets.
func (s *SecretStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.secrets)
}
