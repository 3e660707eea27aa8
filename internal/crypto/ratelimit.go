package crypto

import (
	"math"
	"sync"
	"time"

	skerrors "github.com/nullmedev/skylock/internal/errors"
)

// KDF brute-force rate limiting parameters.
const (
	kdfFailureWindow = time.Hour
	kdfMaxFailures   = 5
)

// KDFLimiter enforces the password-attempt rate limit: after 5 failures per
// identifier within a 1-hour sliding window, further attempts are rejected
// with exponentially increasing backoff until the caller waits it out.
type KDFLimiter struct {
	mu       sync.Mutex
	failures map[string][]time.Time
}

// NewKDFLimiter creates an empty limiter.
func NewKDFLimiter() *KDFLimiter {
	return &KDFLimiter{failures: make(map[string][]time.Time)}
}

// Check reports whether an attempt for identifier is currently allowed.
// Call it before deriving a key; call RecordFailure after a failed attempt.
func (l *KDFLimiter) Check(identifier string, now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	attempts := l.prune(identifier, now)
	if len(attempts) < kdfMaxFailures {
		return nil
	}

	last := attempts[len(attempts)-1]
	backoff := backoffFor(len(attempts))
	if now.Sub(last) < backoff {
		return skerrors.NewCryptoError("ratelimit", skerrors.ErrRateLimited)
	}
	return nil
}

// RecordFailure records a failed derivation attempt for identifier at now.
func (l *KDFLimiter) RecordFailure(identifier string, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	attempts := l.prune(identifier, now)
	l.failures[identifier] = append(attempts, now)
}

// RecordSuccess clears an identifier's failure history.
func (l *KDFLimiter) RecordSuccess(identifier string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.failures, identifier)
}

// prune drops failures outside the sliding window. Caller must hold l.mu.
func (l *KDFLimiter) prune(identifier string, now time.Time) []time.Time {
	existing := l.failures[identifier]
	kept := existing[:0:0]
	for _, t := range existing {
		if now.Sub(t) <= kdfFailureWindow {
			kept = append(kept, t)
		}
	}
	l.failures[identifier] = kept
	return kept
}

// backoffFor returns 2^(n+1) seconds for n recorded failures, so the 6th
// attempt after 5 failures within the window waits at least 64 s.
func backoffFor(n int) time.Duration {
	seconds := math.Pow(2, float64(n+1))
	return time.Duration(seconds) * time.Second
}
