package storage

import "time"

// CredentialRecord is one identity's OAuth grant: the short-lived access
// token, the long-lived refresh token (if any), and expiry metadata.
// Extra carries sidecar fields (granted scopes, identity metadata,
// per-identity timezone) preserved verbatim across refreshes.
type CredentialRecord struct {
	IdentityID   string
	AccessToken  string
	RefreshToken string // empty = terminal record that cannot be renewed
	ExpiresAt    int64  // epoch seconds; zero = no known expiry
	Extra        map[string]any
}

// HasRefreshToken reports whether the record can be renewed.
func (r CredentialRecord) HasRefreshToken() bool {
	return r.RefreshToken != ""
}

// HasExpiry reports whether the record carries a concrete expiry time.
func (r CredentialRecord) HasExpiry() bool {
	return r.ExpiresAt != 0
}

// Expiry returns ExpiresAt as a time.Time. Only meaningful when
// HasExpiry is true.
func (r CredentialRecord) Expiry() time.Time {
	return time.Unix(r.ExpiresAt, 0)
}

// Clone returns a deep copy. The Extra map is copied one level deep, which
// covers the flat string/number bags providers actually send.
func (r CredentialRecord) Clone() CredentialRecord {
	cp := r
	if r.Extra != nil {
		cp.Extra = make(map[string]any, len(r.Extra))
		for k, v := range r.Extra {
			cp.Extra[k] = v
		}
	}
	return cp
}

// ScheduledJob is one recurring notification: a 5-field cron expression and
// the text to deliver to the owning identity when it fires.
type ScheduledJob struct {
	ID        int64  // unique, assigned by the store at creation
	OwnerID   string // identity the job notifies
	Schedule  string // 5-field cron expression
	Payload   string // display text for the notification
	CreatedAt time.Time
}

// IdentityLink maps an identity to a delivery address on one notification
// channel, e.g. a Telegram chat id. Sinks resolve their targets through
// these links.
type IdentityLink struct {
	IdentityID string
	Channel    string // module namespace of the sink, e.g. "notify.telegram"
	Address    string // channel-specific target
	CreatedAt  time.Time
}
