// Package oauth defines the provider-facing interface for refresh-token
// exchanges and revocation, plus the shared error taxonomy for classifying
// their failures.
package oauth

import "context"

// Provider is the interface for communicating with an OAuth identity
// provider's token endpoints. Concrete implementations live in separate
// packages (e.g., provider.google) and typically also implement core.Module
// for lifecycle management.
type Provider interface {
	// Refresh exchanges a refresh token for a new access token using the
	// provider's token endpoint and the configured client credential pair.
	Refresh(ctx context.Context, refreshToken string) (TokenResponse, error)

	// Revoke invalidates a token at the provider's revocation endpoint.
	// Implementations treat the provider's "already invalid" response as
	// success, making revocation idempotent.
	Revoke(ctx context.Context, token string) error
}

// TokenResponse is the provider's answer to a successful refresh exchange.
type TokenResponse struct {
	AccessToken  string
	ExpiresIn    int64  // lifetime in seconds; zero when the provider omits it
	RefreshToken string // empty when the provider did not rotate the token
}
