// Package stub provides a fast, deterministic provider for local development
// and demos. It never contacts the network.
package stub

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"time"

	"github.com/fairyhunter13/proposal-evaluator/internal/domain"
)

// Name is the registry name of this provider.
const Name = "stub"

// Client derives stable scores from a hash of the prompt.
type Client struct {
	latency time.Duration
}

// New returns a stub provider that answers after latency.
func New(latency time.Duration) *Client { return &Client{latency: latency} }

func (c *Client) Name() string { return Name }

// Call returns a schema-complete analysis; identical prompts yield identical output.
func (c *Client) Call(ctx domain.Context, prompt domain.Prompt, timeout time.Duration) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if c.latency > 0 {
		t := time.NewTimer(c.latency)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return "", domain.NewProviderError(Name, domain.ClassifyError(ctx.Err()), ctx.Err())
		case <-t.C:
		}
	}

	sections := make([]map[string]any, 0, len(domain.CriterionOrder))
	total := 0
	for _, id := range domain.CriterionOrder {
		score := 40 + int(hash(prompt.User, string(id))%56)
		total += score
		sections = append(sections, map[string]any{
			"id":              id,
			"score":           score,
			"description":     "Deterministic assessment of " + string(id) + ".",
			"key_findings":    []string{"Evidence for " + string(id) + " located in the proposal."},
			"recommendations": []string{"Clarify " + string(id) + " commitments."},
			"risk_level":      risk(score),
		})
	}
	overall := total / len(domain.CriterionOrder)
	payload := map[string]any{
		"overall_score":     overall,
		"confidence_level":  70,
		"sections":          sections,
		"executive_summary": "Deterministic stub analysis for offline use.",
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", domain.NewProviderError(Name, domain.KindServer, err)
	}
	return string(b), nil
}

func hash(parts ...string) uint32 {
	h := fnv.New32a()
	for _, p := range parts {
		_, _ = h.Write([]byte(p))
		_, _ = h.Write([]byte{0})
	}
	return h.Sum32()
}

func risk(score int) domain.RiskLevel {
	switch {
	case score >= 70:
		return domain.RiskLow
	case score >= 50:
		return domain.RiskMedium
	default:
		return domain.RiskHigh
	}
}
