package gateway

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/flemzord/chime/internal/security"
)

// authenticator guards the admin API. Every scheme present in AuthConfig
// is accepted on every request, so operators can hand a bearer token to
// scripts and basic credentials to a browser against the same endpoint.
type authenticator struct {
	cfg     AuthConfig
	audit   *security.AuditLogger
	limiter *security.RateLimiter
}

// authMiddleware returns a chi-compatible middleware enforcing rate
// limits and credentials. Rate limiting runs first, so unauthenticated
// garbage is shed before any credential comparison happens. The audit
// logger and rate limiter are both optional.
func authMiddleware(cfg AuthConfig, auditLogger *security.AuditLogger, rateLimiter *security.RateLimiter) func(http.Handler) http.Handler {
	a := &authenticator{cfg: cfg, audit: auditLogger, limiter: rateLimiter}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if a.limiter != nil {
				if err := a.limiter.Allow("api"); err != nil {
					http.Error(w, "too many requests", http.StatusTooManyRequests)
					return
				}
			}

			header := r.Header.Get("Authorization")
			if header == "" {
				a.record(security.EventAuthFailure, r, "missing authorization header")
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			scheme, ok := a.verify(header, r)
			if !ok {
				a.record(security.EventAuthFailure, r, "invalid credentials")
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			a.record(security.EventAuthSuccess, r, scheme)
			next.ServeHTTP(w, r)
		})
	}
}

// verify checks the Authorization header against each configured scheme
// in turn and reports which one matched. Comparisons are constant time
// so response latency never narrows down a partially-guessed secret.
func (a *authenticator) verify(header string, r *http.Request) (string, bool) {
	if a.cfg.BearerToken != "" {
		if token, found := strings.CutPrefix(header, "Bearer "); found && secureCompare(token, a.cfg.BearerToken) {
			return "bearer", true
		}
	}
	if a.cfg.BasicUser != "" && a.cfg.BasicPass != "" {
		if user, pass, found := r.BasicAuth(); found && secureCompare(user, a.cfg.BasicUser) && secureCompare(pass, a.cfg.BasicPass) {
			return "basic", true
		}
	}
	return "", false
}

// record emits an audit event with enough request context to
// reconstruct who knocked. The presented secret is never included.
func (a *authenticator) record(eventType security.EventType, r *http.Request, detail string) {
	if a.audit == nil {
		return
	}
	a.audit.Log(security.AuditEvent{
		Type:   eventType,
		Detail: detail,
		Metadata: map[string]string{
			"remote_addr": r.RemoteAddr,
			"method":      r.Method,
			"path":        r.URL.Path,
		},
	})
}

func secureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
