package security

import (
	"errors"
	"sync"
	"time"
)

// ErrRateLimited is returned when a request exceeds the rate limit.
var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimitConfig holds configurable rate limits.
type RateLimitConfig struct {
	// APIPerMin caps authenticated admin API requests per minute.
	APIPerMin int `yaml:"api_per_min"`

	// NotifyPerMin caps outbound notification dispatches per minute,
	// protecting sinks from reminder storms.
	NotifyPerMin int `yaml:"notify_per_min"`
}

// rateLimitConfigDefaults returns a config with sensible defaults.
func rateLimitConfigDefaults() RateLimitConfig {
	return RateLimitConfig{
		APIPerMin:    120,
		NotifyPerMin: 30,
	}
}

// RateLimiter implements sliding window rate limiting using stdlib only.
// Each bucket tracks timestamps of recent events within its window.
type RateLimiter struct {
	mu      sync.Mutex
	config  RateLimitConfig
	buckets map[string]*bucket
	now     func() time.Time
}

type bucket struct {
	window time.Duration
	limit  int
	events []time.Time
}

// NewRateLimiter creates a rate limiter with the given config.
// Zero-value fields in cfg are replaced with defaults.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	defaults := rateLimitConfigDefaults()
	if cfg.APIPerMin <= 0 {
		cfg.APIPerMin = defaults.APIPerMin
	}
	if cfg.NotifyPerMin <= 0 {
		cfg.NotifyPerMin = defaults.NotifyPerMin
	}

	return &RateLimiter{
		now:    time.Now,
		config: cfg,
		buckets: map[string]*bucket{
			"api": {
				window: time.Minute,
				limit:  cfg.APIPerMin,
			},
			"notify": {
				window: time.Minute,
				limit:  cfg.NotifyPerMin,
			},
		},
	}
}

// Allow checks whether an event of the given kind is allowed.
// Returns nil if allowed, ErrRateLimited if the limit is exceeded.
// kind must be one of: "api", "notify".
func (rl *RateLimiter) Allow(kind string) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[kind]
	if !ok {
		// Unknown kind = no limit configured.
		return nil
	}

	now := rl.now()
	b.evict(now)

	if len(b.events) >= b.limit {
		return ErrRateLimited
	}

	b.events = append(b.events, now)
	return nil
}

// AllowN checks whether n events of the given kind are allowed.
// Useful when one trigger fans out into several deliveries.
func (rl *RateLimiter) AllowN(kind string, n int) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[kind]
	if !ok {
		return nil
	}

	now := rl.now()
	b.evict(now)

	if len(b.events)+n > b.limit {
		return ErrRateLimited
	}

	for range n {
		b.events = append(b.events, now)
	}
	return nil
}

// evict removes events outside the sliding window.
func (b *bucket) evict(now time.Time) {
	cutoff := now.Add(-b.window)
	// Find the first event within the window (events are chronologically ordered).
	i := 0
	for i < len(b.events) && b.events[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		b.events = b.events[i:]
	}
}
