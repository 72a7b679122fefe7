package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/flemzord/chime/internal/oauth"
)

// maxResponseSize is the maximum response body size (1 MB). Token endpoint
// responses are a few hundred bytes; the limit protects against malformed
// or huge responses.
const maxResponseSize = 1 * 1024 * 1024

// errorBodySize caps how much of an error response body is kept for
// diagnostics. Google's error payloads are short JSON objects.
const errorBodySize = 2048

// tokenResponse is the wire shape of a successful token exchange.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
}

// Refresh implements oauth.Provider. It posts a grant_type=refresh_token
// exchange to the token endpoint. Provider rejections become
// *oauth.RefreshError; network failures become *oauth.TransportError.
// ExpiresIn is passed through as reported; the caller owns the fallback
// when Google omits it.
func (p *Provider) Refresh(ctx context.Context, refreshToken string) (oauth.TokenResponse, error) {
	form := url.Values{
		"client_id":     {p.config.ClientID},
		"client_secret": {p.config.ClientSecret},
		"refresh_token": {refreshToken},
		"grant_type":    {"refresh_token"},
	}

	body, statusCode, err := p.postForm(ctx, "refresh", p.config.TokenURL, form)
	if err != nil {
		return oauth.TokenResponse{}, err
	}

	if statusCode < 200 || statusCode >= 300 {
		return oauth.TokenResponse{}, &oauth.RefreshError{
			StatusCode: statusCode,
			Body:       trimBody(body),
		}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return oauth.TokenResponse{}, fmt.Errorf("google: unmarshal token response: %w", err)
	}
	if tr.AccessToken == "" {
		return oauth.TokenResponse{}, errors.New("google: token response missing access_token")
	}

	return oauth.TokenResponse{
		AccessToken:  tr.AccessToken,
		ExpiresIn:    tr.ExpiresIn,
		RefreshToken: tr.RefreshToken,
	}, nil
}

// Revoke implements oauth.Provider. The token rides in the form body, never
// in the URL, so transport errors cannot capture it. Google answers 400 for
// tokens that are already expired or revoked; that counts as success,
// keeping revocation idempotent.
func (p *Provider) Revoke(ctx context.Context, token string) error {
	form := url.Values{"token": {token}}

	body, statusCode, err := p.postForm(ctx, "revoke", p.config.RevokeURL, form)
	if err != nil {
		return err
	}

	if (statusCode >= 200 && statusCode < 300) || statusCode == http.StatusBadRequest {
		return nil
	}
	return fmt.Errorf("google: revoke rejected: status %d: %s", statusCode, trimBody(body))
}

// postForm sends a form-encoded POST and returns the response body and
// status code. The request body is replayable, so the retrying transport
// can issue repeat attempts. Network failures are wrapped as
// *oauth.TransportError with the given op; context cancellation passes
// through unchanged.
func (p *Provider) postForm(ctx context.Context, op, rawURL string, form url.Values) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, 0, fmt.Errorf("google: create %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, 0, err
		}
		return nil, 0, &oauth.TransportError{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, resp.StatusCode, &oauth.TransportError{Op: op, Err: err}
	}

	return body, resp.StatusCode, nil
}

// trimBody trims and truncates a response body for inclusion in an error.
func trimBody(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > errorBodySize {
		s = s[:errorBodySize]
	}
	return s
}
