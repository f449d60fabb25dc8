package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRetryPolicyValues(t *testing.T) {
	p := DefaultRetryPolicy()

	assert.Equal(t, 3, p.MaxRetries)
	assert.Equal(t, time.Second, p.BackoffBase)
	assert.Equal(t, 30*time.Second, p.BackoffCap)
	assert.InDelta(t, 0.2, p.Jitter, 1e-9)
	assert.Greater(t, p.RateLimitFloor, p.TransientFloor)
	require.NoError(t, p.Validate())
}

func TestRetryPolicy_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*RetryPolicy)
	}{
		{"negative retries", func(p *RetryPolicy) { p.MaxRetries = -1 }},
		{"zero base", func(p *RetryPolicy) { p.BackoffBase = 0 }},
		{"cap below base", func(p *RetryPolicy) { p.BackoffCap = p.BackoffBase / 2 }},
		{"jitter too large", func(p *RetryPolicy) { p.Jitter = 1 }},
		{"floor above cap", func(p *RetryPolicy) { p.RateLimitFloor = time.Minute }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := DefaultRetryPolicy()
			tt.mutate(&p)
			assert.ErrorIs(t, p.Validate(), ErrInvalidArgument)
		})
	}
}

func TestRetryPolicy_ShouldRetry(t *testing.T) {
	t.Parallel()

	p := DefaultRetryPolicy().WithMaxRetries(2)
	tests := []struct {
		name     string
		kind     ErrorKind
		retries  int
		expected bool
	}{
		{"timeout first retry", KindTimeout, 0, true},
		{"timeout budget left", KindTimeout, 1, true},
		{"timeout budget spent", KindTimeout, 2, false},
		{"rate limited", KindRateLimited, 0, true},
		{"server error", KindServer, 1, true},
		{"auth never retried", KindAuth, 0, false},
		{"malformed never retried", KindMalformed, 0, false},
		{"input never retried", KindInput, 0, false},
		{"canceled never retried", KindCanceled, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, p.ShouldRetry(tt.kind, tt.retries))
		})
	}
}

func TestRetryPolicy_NextDelay_GrowsAndStaysBounded(t *testing.T) {
	t.Parallel()

	p := RetryPolicy{MaxRetries: 10, BackoffBase: 100 * time.Millisecond, BackoffCap: time.Second, Jitter: 0.2}
	bo := p.NewBackOff()

	expectedBase := []time.Duration{100, 200, 400, 800, 1000, 1000}
	for i, base := range expectedBase {
		d := p.NextDelay(bo, KindServer, 0)
		lo := time.Duration(float64(base*time.Millisecond) * 0.8)
		hi := time.Duration(float64(base*time.Millisecond) * 1.2)
		if hi > p.BackoffCap {
			hi = p.BackoffCap
		}
		assert.GreaterOrEqual(t, d, lo, "retry %d", i)
		assert.LessOrEqual(t, d, hi, "retry %d", i)
	}
}

func TestRetryPolicy_NextDelay_NoJitterIsExact(t *testing.T) {
	t.Parallel()

	p := RetryPolicy{MaxRetries: 3, BackoffBase: time.Second, BackoffCap: 30 * time.Second}
	bo := p.NewBackOff()
	assert.Equal(t, time.Second, p.NextDelay(bo, KindTimeout, 0))
	assert.Equal(t, 2*time.Second, p.NextDelay(bo, KindTimeout, 0))
	assert.Equal(t, 4*time.Second, p.NextDelay(bo, KindTimeout, 0))
}

func TestRetryPolicy_NextDelay_RateLimitFloorExceedsTransient(t *testing.T) {
	t.Parallel()

	p := RetryPolicy{
		MaxRetries:     3,
		BackoffBase:    10 * time.Millisecond,
		BackoffCap:     30 * time.Second,
		TransientFloor: 50 * time.Millisecond,
		RateLimitFloor: 5 * time.Second,
	}
	transient := p.NextDelay(p.NewBackOff(), KindTimeout, 0)
	limited := p.NextDelay(p.NewBackOff(), KindRateLimited, 0)

	assert.Equal(t, 50*time.Millisecond, transient)
	assert.Equal(t, 5*time.Second, limited)
	assert.Greater(t, limited, transient)
}

func TestRetryPolicy_NextDelay_HonorsRetryAfterUpToCap(t *testing.T) {
	t.Parallel()

	p := RetryPolicy{MaxRetries: 3, BackoffBase: time.Second, BackoffCap: 10 * time.Second}

	assert.Equal(t, 7*time.Second, p.NextDelay(p.NewBackOff(), KindRateLimited, 7*time.Second))
	assert.Equal(t, 10*time.Second, p.NextDelay(p.NewBackOff(), KindRateLimited, time.Hour))
}
