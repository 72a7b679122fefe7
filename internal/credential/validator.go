package credential

import (
	"time"

	"github.com/flemzord/chime/internal/storage"
)

// IsValid reports whether the record is currently usable under the strict
// rule: it must carry an access token and a concrete expiry in the future.
// A record expiring exactly now is already expired. Records without an
// expiry are invalid here; the Manager applies its own tolerance for them.
// Pure: no I/O, no side effects.
func IsValid(rec storage.CredentialRecord, now time.Time) bool {
	if rec.AccessToken == "" || !rec.HasExpiry() {
		return false
	}
	return now.Unix() < rec.ExpiresAt
}

// NeedsRenewal reports whether the record's expiry falls inside the
// lookahead window, which unifies the already-expired and expiring-soon
// cases into one branch. Records without an expiry never need renewal.
func NeedsRenewal(rec storage.CredentialRecord, now time.Time, lookahead time.Duration) bool {
	if !rec.HasExpiry() {
		return false
	}
	return rec.Expiry().Before(now.Add(lookahead))
}
