package storage

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"
)

// RetryOptions configures the backoff schedule and circuit-breaker
// thresholds wrapped around a Backend.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration

	// ConsecutiveErrorsToHalve is how many back-to-back failures trip the
	// breaker into halved concurrency, restored after RecoveryWindow of
	// clean operation.
	ConsecutiveErrorsToHalve uint32
	RecoveryWindow           time.Duration
}

// DefaultRetryOptions is the standard transport resilience profile.
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		MaxAttempts:              6,
		InitialDelay:             time.Second,
		MaxDelay:                 60 * time.Second,
		ConsecutiveErrorsToHalve: 3,
		RecoveryWindow:           30 * time.Second,
	}
}

// Retrying wraps a Backend with exponential-backoff retries and a circuit
// breaker that halves the caller's allowed concurrency after a run of
// consecutive failures, restoring it once the backend operates cleanly
// for RecoveryWindow.
type Retrying struct {
	inner Backend
	opts  RetryOptions
	cb    *gobreaker.CircuitBreaker[any]

	mu              sync.Mutex
	fullConcurrency int
	halved          bool
}

// NewRetrying wraps inner with retry and circuit-breaker behavior. baseConcurrency
// is the caller's normal worker count; Concurrency() reports half of it while
// the breaker is open.
func NewRetrying(inner Backend, baseConcurrency int, opts RetryOptions) *Retrying {
	settings := gobreaker.Settings{
		Name:        "storage-backend",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     opts.RecoveryWindow,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.ConsecutiveErrorsToHalve
		},
	}
	r := &Retrying{
		inner:           inner,
		opts:            opts,
		fullConcurrency: baseConcurrency,
	}
	settings.OnStateChange = func(name string, from, to gobreaker.State) {
		r.mu.Lock()
		r.halved = to == gobreaker.StateOpen || to == gobreaker.StateHalfOpen
		r.mu.Unlock()
	}
	r.cb = gobreaker.NewCircuitBreaker[any](settings)
	return r
}

// Concurrency returns the worker count callers should use right now: the
// full configured value, or half of it while the breaker is tripped.
func (r *Retrying) Concurrency() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.halved {
		if h := r.fullConcurrency / 2; h > 0 {
			return h
		}
		return 1
	}
	return r.fullConcurrency
}

func (r *Retrying) withRetry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.opts.InitialDelay
	b.MaxInterval = r.opts.MaxDelay
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	bo := backoff.WithMaxRetries(b, uint64(r.opts.MaxAttempts-1))
	bctx := backoff.WithContext(bo, ctx)

	return backoff.Retry(func() error {
		_, err := r.cb.Execute(func() (any, error) {
			return nil, op()
		})
		return err
	}, bctx)
}

// Upload retries only when rd can be rewound between attempts. A one-shot
// stream (the encrypt pipeline's io.Pipe) gets a single attempt through the
// breaker: replaying a partially consumed reader would upload a truncated
// object the backend could not tell apart from a complete one.
func (r *Retrying) Upload(ctx context.Context, remotePath string, rd io.Reader, sizeHint int64, opts Options) (string, error) {
	var etag string

	seeker, rewindable := rd.(io.Seeker)
	if !rewindable {
		_, err := r.cb.Execute(func() (any, error) {
			var innerErr error
			etag, innerErr = r.inner.Upload(ctx, remotePath, rd, sizeHint, opts)
			return nil, innerErr
		})
		return etag, err
	}

	start, err := seeker.Seek(0, io.SeekCurrent)
	if err != nil {
		return "", err
	}
	err = r.withRetry(ctx, func() error {
		if _, serr := seeker.Seek(start, io.SeekStart); serr != nil {
			return backoff.Permanent(serr)
		}
		var innerErr error
		etag, innerErr = r.inner.Upload(ctx, remotePath, rd, sizeHint, opts)
		return innerErr
	})
	return etag, err
}

func (r *Retrying) Download(ctx context.Context, remotePath string, w io.Writer, opts Options) error {
	return r.withRetry(ctx, func() error {
		return r.inner.Download(ctx, remotePath, w, opts)
	})
}

func (r *Retrying) Exists(ctx context.Context, remotePath string) (bool, error) {
	var exists bool
	err := r.withRetry(ctx, func() error {
		var innerErr error
		exists, innerErr = r.inner.Exists(ctx, remotePath)
		return innerErr
	})
	return exists, err
}

func (r *Retrying) Delete(ctx context.Context, remotePath string) error {
	return r.withRetry(ctx, func() error {
		return r.inner.Delete(ctx, remotePath)
	})
}

func (r *Retrying) List(ctx context.Context, prefix string, recursive bool) ([]ObjectMeta, error) {
	var out []ObjectMeta
	err := r.withRetry(ctx, func() error {
		var innerErr error
		out, innerErr = r.inner.List(ctx, prefix, recursive)
		return innerErr
	})
	return out, err
}

func (r *Retrying) Metadata(ctx context.Context, remotePath string) (ObjectMeta, error) {
	var meta ObjectMeta
	err := r.withRetry(ctx, func() error {
		var innerErr error
		meta, innerErr = r.inner.Metadata(ctx, remotePath)
		return innerErr
	})
	return meta, err
}

var _ Backend = (*Retrying)(nil)
