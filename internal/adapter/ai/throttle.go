package ai

import (
	"log/slog"
	"time"

	"github.com/fairyhunter13/proposal-evaluator/internal/domain"
	"github.com/fairyhunter13/proposal-evaluator/internal/observability"
	"github.com/fairyhunter13/proposal-evaluator/internal/service/ratelimiter"
)

// ThrottledProvider consults a shared token bucket before each call. A denied
// call never reaches the provider and surfaces as a rate limit carrying the
// bucket's retry-after, so the caller's retry policy applies unchanged.
type ThrottledProvider struct {
	next    domain.ProviderClient
	limiter ratelimiter.Limiter
	key     string
}

// BucketKey is the limiter key used for a provider.
func BucketKey(provider string) string { return "provider:" + provider }

// NewThrottledProvider wraps next; a nil limiter disables throttling.
func NewThrottledProvider(next domain.ProviderClient, limiter ratelimiter.Limiter) domain.ProviderClient {
	if limiter == nil {
		return next
	}
	return &ThrottledProvider{next: next, limiter: limiter, key: BucketKey(next.Name())}
}

func (t *ThrottledProvider) Name() string { return t.next.Name() }

// Model reports the wrapped client's model, if it has one.
func (t *ThrottledProvider) Model() string {
	if m, ok := t.next.(modeled); ok {
		return m.Model()
	}
	return ""
}

func (t *ThrottledProvider) Call(ctx domain.Context, prompt domain.Prompt, timeout time.Duration) (string, error) {
	allowed, retryAfter, err := t.limiter.Allow(ctx, t.key, 1)
	if err != nil {
		observability.LoggerFromContext(ctx).Warn("provider throttle unavailable; proceeding",
			slog.String("provider", t.next.Name()), slog.Any("error", err))
	}
	if !allowed {
		return "", &domain.ProviderError{
			Provider:   t.next.Name(),
			Kind:       domain.KindRateLimited,
			RetryAfter: retryAfter,
			Err:        domain.ErrRateLimited,
		}
	}
	return t.next.Call(ctx, prompt, timeout)
}
