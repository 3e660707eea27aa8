// Package ratelimit throttles upload bandwidth and clamps the configured
// worker count. It is distinct from the
// KDF brute-force limiter in internal/crypto, which guards authentication
// attempts rather than network throughput.
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// Throttle wraps a token-bucket limiter scoped to bytes per second, used to
// cap upload bandwidth when a backup config sets max_upload_bps.
type Throttle struct {
	limiter *rate.Limiter
}

// Unlimited returns a Throttle that never blocks.
func Unlimited() *Throttle {
	return &Throttle{limiter: rate.NewLimiter(rate.Inf, 0)}
}

// NewThrottle caps throughput at bytesPerSecond, allowing bursts up to one
// second's worth of traffic.
func NewThrottle(bytesPerSecond int) *Throttle {
	if bytesPerSecond <= 0 {
		return Unlimited()
	}
	return &Throttle{limiter: rate.NewLimiter(rate.Limit(bytesPerSecond), bytesPerSecond)}
}

// Wait blocks until n bytes' worth of budget is available or ctx is done.
func (t *Throttle) Wait(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}
	// WaitN's burst ceiling is the limiter's configured burst; split large
	// chunks into burst-sized waits rather than rejecting them outright.
	burst := t.limiter.Burst()
	if burst <= 0 {
		return t.limiter.WaitN(ctx, n)
	}
	for n > 0 {
		step := n
		if step > burst {
			step = burst
		}
		if err := t.limiter.WaitN(ctx, step); err != nil {
			return err
		}
		n -= step
	}
	return nil
}

// Concurrency is a fixed worker count taken from configuration. The engine
// and restore pipelines hand it to storage.Retrying as the base count, and
// Retrying.Concurrency() halves that base while its circuit breaker is
// tripped; this type itself never changes its count.
type Concurrency struct {
	base int
}

// NewConcurrency returns a fixed worker-count source. base is clamped to the
// range [1, 32], so a zero or negative base yields 1 worker; callers apply
// their default of 4 workers before calling.
func NewConcurrency(base int) *Concurrency {
	if base < 1 {
		base = 1
	}
	if base > 32 {
		base = 32
	}
	return &Concurrency{base: base}
}

// Workers returns the configured worker count.
func (c *Concurrency) Workers() int {
	return c.base
}
