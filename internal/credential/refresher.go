package credential

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/flemzord/chime/internal/oauth"
	"github.com/flemzord/chime/internal/storage"
	"github.com/flemzord/chime/internal/telemetry"
)

// Refresher performs the renewal exchange against the identity provider and
// persists the updated record before returning it.
type Refresher struct {
	store    storage.Store
	provider oauth.Provider
	policy   Policy
	logger   *slog.Logger
	now      func() time.Time
}

// NewRefresher creates a Refresher. A zero policy means DefaultPolicy;
// logger may be nil.
func NewRefresher(store storage.Store, provider oauth.Provider, policy Policy, logger *slog.Logger) *Refresher {
	if policy == (Policy{}) {
		policy = DefaultPolicy()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Refresher{
		store:    store,
		provider: provider,
		policy:   policy,
		logger:   logger,
		now:      time.Now,
	}
}

// Refresh exchanges the record's refresh token for a new access token and
// returns the updated record after persisting it.
//
// The new record keeps the old refresh token unless the provider rotated
// it, recomputes ExpiresAt from the provider-reported lifetime (falling
// back to the policy default when omitted), and passes Extra through
// unchanged. A record without a refresh token fails with
// oauth.ErrNoRefreshToken before any network call.
func (r *Refresher) Refresh(ctx context.Context, rec storage.CredentialRecord) (storage.CredentialRecord, error) {
	if !rec.HasRefreshToken() {
		return storage.CredentialRecord{}, fmt.Errorf("credential: refresh %q: %w", rec.IdentityID, oauth.ErrNoRefreshToken)
	}

	ctx, span := telemetry.StartSpan(ctx, "credential.refresh",
		attribute.String("identity_id", rec.IdentityID))
	defer span.End()

	resp, err := r.provider.Refresh(ctx, rec.RefreshToken)
	if err != nil {
		span.RecordError(err)
		return storage.CredentialRecord{}, fmt.Errorf("credential: refresh %q: %w", rec.IdentityID, err)
	}

	lifetime := time.Duration(resp.ExpiresIn) * time.Second
	if resp.ExpiresIn <= 0 {
		lifetime = r.policy.DefaultLifetime
		r.logger.Warn("provider omitted expires_in, assuming default lifetime",
			"identity_id", rec.IdentityID,
			"default_lifetime", lifetime)
	}

	updated := rec.Clone()
	updated.AccessToken = resp.AccessToken
	updated.ExpiresAt = r.now().Add(lifetime).Unix()
	if resp.RefreshToken != "" {
		updated.RefreshToken = resp.RefreshToken
	}

	if err := r.store.SaveCredential(ctx, updated); err != nil {
		span.RecordError(err)
		return storage.CredentialRecord{}, fmt.Errorf("credential: persist refreshed %q: %w", rec.IdentityID, err)
	}

	r.logger.Info("credential refreshed",
		"identity_id", updated.IdentityID,
		"expires_at", updated.Expiry(),
		"refresh_token_rotated", resp.RefreshToken != "")

	return updated, nil
}
