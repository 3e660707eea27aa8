package crypto

import "github.com/nullmedev/skylock/internal/util"

// RekeyThreshold is the number of bytes a single block key may encrypt
// before it must be retired in favor of a fresh one, a nonce-overflow
// defense even though XChaCha20-Poly1305's 24-byte nonce space makes
// overflow practically unreachable at this threshold.
const RekeyThreshold = 60 * util.GiB

// Counter tracks bytes processed under one block key and signals when the
// rekey threshold has been crossed.
type Counter struct {
	count     int64
	threshold int64
}

// NewCounter creates a byte counter with the standard 60 GiB threshold.
func NewCounter() *Counter {
	return &Counter{threshold: RekeyThreshold}
}

// Add increments the counter by n bytes and reports whether rekeying is due.
func (c *Counter) Add(n int) bool {
	c.count += int64(n)
	return c.count >= c.threshold
}

// Reset zeros the counter after a rekey.
func (c *Counter) Reset() {
	c.count = 0
}

// Count returns the current byte count.
func (c *Counter) Count() int64 {
	return c.count
}
