// Package domain defines the analysis entities, the error taxonomy and the retry policy.
package domain

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy decides whether a failed provider attempt is retried and how long to wait first.
type RetryPolicy struct {
	// MaxRetries counts retries after the first attempt.
	MaxRetries int
	// BackoffBase is the delay before the first retry.
	BackoffBase time.Duration
	// BackoffCap bounds every delay.
	BackoffCap time.Duration
	// Jitter is the randomization factor in [0,1).
	Jitter float64
	// TransientFloor is the minimum delay after a timeout or server error.
	TransientFloor time.Duration
	// RateLimitFloor is the minimum delay after a rate limit.
	RateLimitFloor time.Duration
}

// DefaultRetryPolicy returns the standard provider retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     3,
		BackoffBase:    time.Second,
		BackoffCap:     30 * time.Second,
		Jitter:         0.2,
		RateLimitFloor: 5 * time.Second,
	}
}

// Validate checks the policy bounds.
func (p RetryPolicy) Validate() error {
	switch {
	case p.MaxRetries < 0:
		return fmt.Errorf("%w: max retries must not be negative", ErrInvalidArgument)
	case p.BackoffBase <= 0:
		return fmt.Errorf("%w: backoff base must be positive", ErrInvalidArgument)
	case p.BackoffCap < p.BackoffBase:
		return fmt.Errorf("%w: backoff cap below base", ErrInvalidArgument)
	case p.Jitter < 0 || p.Jitter >= 1:
		return fmt.Errorf("%w: jitter must be in [0,1)", ErrInvalidArgument)
	case p.RateLimitFloor > p.BackoffCap || p.TransientFloor > p.BackoffCap:
		return fmt.Errorf("%w: floor above backoff cap", ErrInvalidArgument)
	}
	return nil
}

// WithMaxRetries returns a copy of the policy with a different retry budget.
func (p RetryPolicy) WithMaxRetries(n int) RetryPolicy {
	p.MaxRetries = n
	return p
}

// Retryable reports whether the kind is transient.
func Retryable(kind ErrorKind) bool {
	switch kind {
	case KindTimeout, KindRateLimited, KindServer:
		return true
	default:
		return false
	}
}

// ShouldRetry reports whether another attempt is allowed after retriesSoFar retries.
func (p RetryPolicy) ShouldRetry(kind ErrorKind, retriesSoFar int) bool {
	return Retryable(kind) && retriesSoFar < p.MaxRetries
}

// NewBackOff returns a fresh exponential schedule for one run.
func (p RetryPolicy) NewBackOff() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.BackoffBase,
		RandomizationFactor: p.Jitter,
		Multiplier:          2,
		MaxInterval:         p.BackoffCap,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}

// NextDelay advances the schedule and applies the cap, the provider hint and the per-kind floor.
// The cap is applied before the floor, so a floor always holds.
func (p RetryPolicy) NextDelay(bo backoff.BackOff, kind ErrorKind, retryAfter time.Duration) time.Duration {
	d := bo.NextBackOff()
	if d == backoff.Stop {
		d = p.BackoffCap
	}
	if retryAfter > d {
		d = retryAfter
	}
	if d > p.BackoffCap {
		d = p.BackoffCap
	}
	floor := p.TransientFloor
	if kind == KindRateLimited {
		floor = p.RateLimitFloor
	}
	if d < floor {
		d = floor
	}
	return d
}
