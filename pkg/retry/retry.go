// Package retry retries store writes with capped exponential backoff.
// The progression engine itself never retries; batch callers wrap awards with
// this package because a retried award is deduplicated by its guard record.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Policy describes how often and how patiently an operation is retried.
type Policy struct {
	// Attempts counts the first call. Values below 1 mean a single call.
	Attempts int
	// Base is the wait before the first retry; it doubles per attempt.
	Base time.Duration
	// Cap bounds any single wait.
	Cap time.Duration
	// Jitter spreads each wait by up to ±Jitter of its length.
	Jitter float64
}

// Backoff returns the wait before retry number n (1-based), without jitter.
func (p Policy) Backoff(n int) time.Duration {
	d := p.Base
	for i := 1; i < n; i++ {
		d *= 2
		if p.Cap > 0 && d >= p.Cap {
			return p.Cap
		}
	}
	if p.Cap > 0 && d > p.Cap {
		return p.Cap
	}
	return d
}

func (p Policy) wait(n int) time.Duration {
	d := float64(p.Backoff(n))
	if p.Jitter > 0 {
		d += d * p.Jitter * (rand.Float64()*2 - 1)
	}
	if d < 0 {
		return 0
	}
	return time.Duration(d)
}

type stopError struct{ err error }

func (e stopError) Error() string { return e.err.Error() }
func (e stopError) Unwrap() error { return e.err }

// Stop marks err as final: Do returns it unwrapped without another attempt.
func Stop(err error) error {
	if err == nil {
		return nil
	}
	return stopError{err: err}
}

// Retrier runs an operation under a Policy.
type Retrier struct {
	policy  Policy
	retryIf func(error) bool
	onRetry func(attempt int, err error, delay time.Duration)
}

// New creates a Retrier. retryIf decides which errors are worth another
// attempt; a nil retryIf retries every error. onRetry may be nil.
func New(policy Policy, retryIf func(error) bool, onRetry func(attempt int, err error, delay time.Duration)) *Retrier {
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}
	return &Retrier{policy: policy, retryIf: retryIf, onRetry: onRetry}
}

// StoreRetrier returns the Retrier batch reseeds use for awards.
func StoreRetrier(retryIf func(error) bool, onRetry func(attempt int, err error, delay time.Duration)) *Retrier {
	return New(Policy{
		Attempts: 3,
		Base:     50 * time.Millisecond,
		Cap:      time.Second,
		Jitter:   0.05,
	}, retryIf, onRetry)
}

// Do calls op until it succeeds, returns an error retryIf rejects, or the
// attempts run out. Cancelling ctx stops waiting and returns the last error.
func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context) error) error {
	var last error
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if last != nil {
				return last
			}
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		var stop stopError
		if errors.As(err, &stop) {
			return stop.err
		}
		last = err

		if attempt >= r.policy.Attempts || (r.retryIf != nil && !r.retryIf(err)) {
			return err
		}

		delay := r.policy.wait(attempt)
		if r.onRetry != nil {
			r.onRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return last
		case <-timer.C:
		}
	}
}
