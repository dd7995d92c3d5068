// Package retrypolicy provides a graduated retry policy applied uniformly
// to remote create/delete/verify operations. One policy object replaces
// per-call-site retry loops so attempt ceilings and backoff curves are
// configured in exactly one place.
package retrypolicy

import (
	"context"
	"errors"
	"math"
	"time"
)

// Policy defines how many times an operation is attempted and how the
// delay between attempts grows.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Default returns the policy used for remote mutations: 3 attempts with
// exponential backoff capped at 10s.
func Default() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second}
}

// retryableError marks an error as worth another attempt.
type retryableError struct{ err error }

func (r *retryableError) Error() string { return r.err.Error() }
func (r *retryableError) Unwrap() error { return r.err }

// Retryable wraps err so the policy will attempt the operation again.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

// IsRetryable reports whether err was marked with Retryable.
func IsRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

// Do runs fn up to MaxAttempts times, sleeping between attempts. It stops
// early on success, on a non-retryable error, or on context cancellation.
// The returned attempt count is how many times fn actually ran; it feeds
// the failure ledger's retry_count.
func (p Policy) Do(ctx context.Context, fn func() error) (int, error) {
	max := p.MaxAttempts
	if max <= 0 {
		max = 1
	}

	var err error
	for attempt := 1; attempt <= max; attempt++ {
		if ctx.Err() != nil {
			return attempt - 1, ctx.Err()
		}

		err = fn()
		if err == nil {
			return attempt, nil
		}
		if !IsRetryable(err) {
			return attempt, err
		}
		if attempt == max {
			return attempt, err
		}

		timer := time.NewTimer(p.delay(attempt))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return attempt, ctx.Err()
		}
	}
	return max, err
}

func (p Policy) delay(attempt int) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	d := time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}
