package oauth

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNoRefreshToken indicates the record carries no refresh token and can
// never be renewed. Terminal: the caller should prompt re-authentication.
var ErrNoRefreshToken = errors.New("oauth: no refresh token")

// RefreshError indicates the provider rejected the exchange with a non-2xx
// response. It carries the provider's status and body for diagnosis; the
// body never contains the tokens chime sent.
type RefreshError struct {
	StatusCode int
	Body       string
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("oauth: refresh rejected: status %d: %s", e.StatusCode, e.Body)
}

// TransportError indicates a network-level failure reaching the provider
// after the transport's own retries were exhausted.
type TransportError struct {
	Op  string // "refresh" or "revoke"
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("oauth: %s transport: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether the error is transient: a transport failure,
// or a provider rejection with a 5xx or 429 status. Other 4xx rejections
// (revoked grant, bad client credentials) are permanent.
func IsRetryable(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	var re *RefreshError
	if errors.As(err, &re) {
		return re.StatusCode >= 500 || re.StatusCode == http.StatusTooManyRequests
	}
	return false
}
