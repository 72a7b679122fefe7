// Package retry provides an http.RoundTripper that retries transient
// failures with bounded exponential backoff and jitter. It sits beneath the
// provider and sink HTTP clients so their request code stays retry-free.
package retry

import (
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"time"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = time.Second
	defaultMaxDelay    = 30 * time.Second
	jitterFactor       = 0.2
)

// randFloat64 is stubbed in tests for deterministic delays.
var randFloat64 = rand.Float64

// Transport retries requests that fail at the transport level or return a
// 5xx or 429 status. Other 4xx responses are returned immediately. Requests
// whose body cannot be replayed (Body set but GetBody nil) are never
// retried. 429 and 503 responses carrying a Retry-After hint get the hint
// instead of the computed backoff.
type Transport struct {
	// Base is the underlying round tripper. Defaults to http.DefaultTransport.
	Base http.RoundTripper

	// MaxAttempts is the total number of tries, first included. Defaults to 3.
	MaxAttempts int

	// BaseDelay is the starting backoff, doubled per attempt. Defaults to 1s.
	BaseDelay time.Duration

	// MaxDelay caps the computed backoff. Defaults to 30s.
	MaxDelay time.Duration
}

// Compile-time interface check.
var _ http.RoundTripper = (*Transport)(nil)

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	attempts := t.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}

	replayable := req.Body == nil || req.GetBody != nil
	if !replayable {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("retry: replay request body: %w", err)
				}
				req.Body = body
			}
		}

		resp, err := base.RoundTrip(req)
		if err != nil {
			lastErr = err
			if attempt == attempts-1 {
				break
			}
			if err := t.sleep(req, t.delay(attempt)); err != nil {
				return nil, err
			}
			continue
		}

		if !retryableStatus(resp.StatusCode) || attempt == attempts-1 {
			return resp, nil
		}

		delay := t.delay(attempt)
		if hint, ok := retryAfterHint(resp); ok {
			delay = hint
		}

		// Drain so the connection can be reused for the retry.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		_ = resp.Body.Close()

		if err := t.sleep(req, delay); err != nil {
			return nil, err
		}
	}

	return nil, lastErr
}

// sleep waits for d or until the request's context is done.
func (t *Transport) sleep(req *http.Request, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-req.Context().Done():
		return req.Context().Err()
	case <-timer.C:
		return nil
	}
}

// delay computes the backoff for the given zero-based attempt:
// base doubled per attempt, multiplicative jitter in [1-j, 1+j], capped.
func (t *Transport) delay(attempt int) time.Duration {
	base := t.BaseDelay
	if base <= 0 {
		base = defaultBaseDelay
	}
	maxD := t.MaxDelay
	if maxD <= 0 {
		maxD = defaultMaxDelay
	}

	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d > maxD {
			d = maxD
			break
		}
	}

	r := (randFloat64()*2 - 1) * jitterFactor
	d = time.Duration(float64(d) * (1 + r))
	if d < 0 {
		d = 0
	}
	if d > maxD {
		d = maxD
	}
	return d
}

// retryableStatus reports whether the status warrants a retry:
// 5xx and 429 only. Other 4xx responses are permanent.
func retryableStatus(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests
}

// retryAfterHint extracts a Retry-After value from 429 and 503 responses.
func retryAfterHint(resp *http.Response) (time.Duration, bool) {
	if resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode != http.StatusServiceUnavailable {
		return 0, false
	}
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(header); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(header); err == nil {
		if d := time.Until(at); d > 0 {
			return d, true
		}
	}
	return 0, false
}
