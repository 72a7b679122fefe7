// Package credential implements the OAuth credential lifecycle: validation,
// proactive refresh inside a lookahead window, revocation, and deletion.
// The Manager is the single path by which any caller obtains an access
// credential.
package credential

import "time"

// Policy holds the tunable lifecycle behavior. The zero value is not
// usable; start from DefaultPolicy.
type Policy struct {
	// Lookahead is the margin before expiry at which a credential is
	// proactively renewed.
	Lookahead time.Duration

	// StaleFallback controls what happens when a refresh fails while the
	// old record is inside the lookahead window but not yet expired: true
	// returns the old record best-effort, false reports it absent.
	StaleFallback bool

	// DefaultLifetime is assumed when the provider's token response omits
	// expires_in.
	DefaultLifetime time.Duration

	// SingleFlight collapses concurrent refreshes of the same identity
	// into one provider call. Off by default; the duplicate-refresh race
	// is harmless and the extra coordination is rarely worth it.
	SingleFlight bool
}

// DefaultPolicy returns the standard lifecycle policy.
func DefaultPolicy() Policy {
	return Policy{
		Lookahead:       5 * time.Minute,
		StaleFallback:   true,
		DefaultLifetime: time.Hour,
	}
}
