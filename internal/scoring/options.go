package scoring

import (
	"math"

	"github.com/fairyhunter13/proposal-evaluator/internal/domain"
)

// Options carries the tunables shared by the normalizer and the fallback generator.
type Options struct {
	Rubric                    Rubric
	NeutralScore              float64
	DefaultConfidence         float64
	AcceptThreshold           float64
	ConditionalThreshold      float64
	FallbackConfidenceCeiling float64
	// Weights per criterion for the overall score; missing entries weigh 1.
	Weights map[domain.CriterionID]float64
}

// DefaultOptions returns the conservative defaults: neutral 50, confidence 50,
// accept at 80, conditional at 60 and a fallback confidence ceiling of 30.
func DefaultOptions() Options {
	return Options{
		Rubric:                    DefaultRubric(),
		NeutralScore:              50,
		DefaultConfidence:         50,
		AcceptThreshold:           80,
		ConditionalThreshold:      60,
		FallbackConfidenceCeiling: 30,
	}
}

// Recommend derives a recommendation from an overall score.
func (o Options) Recommend(overall float64) domain.Recommendation {
	switch {
	case overall >= o.AcceptThreshold:
		return domain.RecommendAccept
	case overall >= o.ConditionalThreshold:
		return domain.RecommendConditionalAccept
	default:
		return domain.RecommendReject
	}
}

// OverallScore is the weighted mean of the section scores.
func (o Options) OverallScore(sections []domain.CriterionSection) float64 {
	var sum, total float64
	for _, s := range sections {
		w := 1.0
		if v, ok := o.Weights[s.ID]; ok {
			w = v
		}
		if w <= 0 {
			continue
		}
		sum += s.Score * w
		total += w
	}
	if total == 0 {
		for _, s := range sections {
			sum += s.Score
		}
		if len(sections) == 0 {
			return 0
		}
		return round2(clampScore(sum / float64(len(sections))))
	}
	return round2(clampScore(sum / total))
}

func clampScore(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(100, v))
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
