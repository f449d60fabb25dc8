package config

import (
	"time"

	"github.com/fairyhunter13/proposal-evaluator/internal/domain"
)

// RetryPolicy returns the provider retry policy appropriate for the current environment.
// In test environments delays are shortened for fast test execution.
func (c Config) RetryPolicy() domain.RetryPolicy {
	if c.IsTest() {
		return domain.RetryPolicy{
			MaxRetries:     c.AnalysisMaxRetries,
			BackoffBase:    10 * time.Millisecond,
			BackoffCap:     100 * time.Millisecond,
			Jitter:         c.BackoffJitter,
			RateLimitFloor: 50 * time.Millisecond,
		}
	}
	return domain.RetryPolicy{
		MaxRetries:     c.AnalysisMaxRetries,
		BackoffBase:    c.BackoffBase,
		BackoffCap:     c.BackoffCap,
		Jitter:         c.BackoffJitter,
		TransientFloor: c.BackoffTransientFloor,
		RateLimitFloor: c.BackoffRateLimitFloor,
	}
}

// CriterionWeightsByID converts configured weights to criterion ids.
// Unknown keys are dropped; missing criteria weigh 1.
func (c Config) CriterionWeightsByID() map[domain.CriterionID]float64 {
	out := make(map[domain.CriterionID]float64, len(domain.CriterionOrder))
	for _, id := range domain.CriterionOrder {
		out[id] = 1
	}
	for k, w := range c.CriterionWeights {
		id := domain.CriterionID(k)
		if id.Valid() {
			out[id] = w
		}
	}
	return out
}
