package security

import (
	"regexp"
	"strings"
	"sync"
)

// RedactPlaceholder is the replacement string for redacted secrets.
const RedactPlaceholder = "***REDACTED***"

// secretKeys matches map keys whose values are presumed secret. Applied
// to config display and credential extra bags before either reaches a
// diagnostic surface.
var secretKeys = regexp.MustCompile(`(?i)(secret|token|password|key|api_key|credential)`)

// Redactor masks secret material in strings and generic maps. Two kinds
// of knowledge drive it: compiled patterns for token shapes that can be
// recognized on sight, and literal values deposited at runtime (client
// secrets, bot tokens, bearer tokens) that have no recognizable shape.
// All methods are safe for concurrent use.
type Redactor struct {
	mu       sync.RWMutex
	patterns []*regexp.Regexp
	literals []string
}

// NewRedactor returns a Redactor armed with DefaultPatterns.
func NewRedactor() *Redactor {
	return &Redactor{patterns: DefaultPatterns()}
}

// DefaultPatterns covers the token formats that flow through the
// credential manager and the sinks.
func DefaultPatterns() []*regexp.Regexp {
	return []*regexp.Regexp{
		// Google OAuth access tokens
		regexp.MustCompile(`ya29\.[a-zA-Z0-9_\-.]{20,}`),
		// Google OAuth refresh tokens
		regexp.MustCompile(`1//[a-zA-Z0-9_\-]{20,}`),
		// Google OAuth client secrets
		regexp.MustCompile(`GOCSPX-[a-zA-Z0-9_\-]{20,}`),
		// Telegram bot tokens: numeric id, colon, 35-char secret
		regexp.MustCompile(`\b\d{8,10}:[a-zA-Z0-9_\-]{35}\b`),
		// Generic bearer credentials in header-ish strings
		regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9\-._~+/]{20,}=*`),
		// GitHub tokens occasionally ride along in extra bags
		regexp.MustCompile(`(ghp_|gho_|ghs_|github_pat_)[a-zA-Z0-9_]{20,}`),
	}
}

// AddPattern registers an additional token-shape pattern.
func (r *Redactor) AddPattern(pattern *regexp.Regexp) {
	r.mu.Lock()
	r.patterns = append(r.patterns, pattern)
	r.mu.Unlock()
}

// AddLiteral registers a literal secret value to be masked on sight.
// Empty strings are ignored.
func (r *Redactor) AddLiteral(secret string) {
	if secret == "" {
		return
	}
	r.mu.Lock()
	r.literals = append(r.literals, secret)
	r.mu.Unlock()
}

// SyncSecrets replaces the literal set with the secret store's current
// values. Called after module load and after every reload, since
// reloaded modules may deposit fresh secrets.
func (r *Redactor) SyncSecrets(store *SecretStore) {
	values := store.Values()
	r.mu.Lock()
	r.literals = values
	r.mu.Unlock()
}

// Redact returns s with every known literal and token shape replaced by
// RedactPlaceholder.
func (r *Redactor) Redact(s string) string {
	if s == "" {
		return s
	}

	r.mu.RLock()
	patterns := r.patterns
	literals := r.literals
	r.mu.RUnlock()

	// Literals first: they are exact and cheap, and a runtime secret may
	// itself look like part of a larger token shape.
	for _, lit := range literals {
		s = strings.ReplaceAll(s, lit, RedactPlaceholder)
	}
	for _, p := range patterns {
		s = p.ReplaceAllString(s, RedactPlaceholder)
	}
	return s
}

// RedactMap masks secrets in a generic map in place: values under
// secret-named keys are replaced wholesale, every other string value is
// scanned like a log line, and nested maps and lists are walked.
func (r *Redactor) RedactMap(m map[string]any) {
	for k, v := range m {
		m[k] = r.redactValue(k, v)
	}
}

func (r *Redactor) redactValue(key string, v any) any {
	switch val := v.(type) {
	case string:
		if secretKeys.MatchString(key) && val != "" {
			return RedactPlaceholder
		}
		return r.Redact(val)
	case map[string]any:
		r.RedactMap(val)
	case []any:
		for _, item := range val {
			if sub, ok := item.(map[string]any); ok {
				r.RedactMap(sub)
			}
		}
	}
	return v
}
