package oauth_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/flemzord/chime/internal/oauth"
)

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"no refresh token", oauth.ErrNoRefreshToken, false},
		{"transport", &oauth.TransportError{Op: "refresh", Err: errors.New("dial tcp: timeout")}, true},
		{"wrapped transport", fmt.Errorf("manager: %w", &oauth.TransportError{Op: "refresh", Err: errors.New("eof")}), true},
		{"refresh 400", &oauth.RefreshError{StatusCode: 400, Body: "invalid_grant"}, false},
		{"refresh 401", &oauth.RefreshError{StatusCode: 401, Body: "invalid_client"}, false},
		{"refresh 429", &oauth.RefreshError{StatusCode: 429, Body: "rate limited"}, true},
		{"refresh 500", &oauth.RefreshError{StatusCode: 500, Body: "internal"}, true},
		{"refresh 503", &oauth.RefreshError{StatusCode: 503, Body: "unavailable"}, true},
		{"unrelated", errors.New("something else"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := oauth.IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestRefreshError_Message(t *testing.T) {
	t.Parallel()

	err := &oauth.RefreshError{StatusCode: 400, Body: `{"error":"invalid_grant"}`}
	if !strings.Contains(err.Error(), "400") || !strings.Contains(err.Error(), "invalid_grant") {
		t.Errorf("Error() = %q, want status and body present", err.Error())
	}
}

func TestTransportError_Unwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection refused")
	err := &oauth.TransportError{Op: "revoke", Err: cause}

	if !errors.Is(err, cause) {
		t.Error("TransportError should unwrap to its cause")
	}
	if !strings.Contains(err.Error(), "revoke") {
		t.Errorf("Error() = %q, want op present", err.Error())
	}
}
