package scoring

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/fairyhunter13/proposal-evaluator/internal/domain"
)

// FallbackGenerator produces a heuristic analysis without any provider.
// It is a pure function of its inputs and never fails.
type FallbackGenerator struct {
	opts Options
}

// NewFallbackGenerator creates a FallbackGenerator.
func NewFallbackGenerator(opts Options) *FallbackGenerator {
	if len(opts.Rubric.Criteria) == 0 {
		opts.Rubric = DefaultRubric()
	}
	return &FallbackGenerator{opts: opts}
}

// Generate scores each criterion from keyword presence in the proposal, how
// many of the criterion terms used by the specification the proposal also
// covers, and the proposal to specification length ratio.
func (g *FallbackGenerator) Generate(specText, proposalText string) domain.AnalysisResult {
	spec := newWordIndex(specText)
	proposal := newWordIndex(proposalText)
	lengthScore := lengthRatioScore(len(spec.words), len(proposal.words))

	sections := make([]domain.CriterionSection, 0, len(domain.CriterionOrder))
	evidence := 0
	for _, id := range domain.CriterionOrder {
		c, _ := g.opts.Rubric.Criterion(id)
		hits, specTerms, covered := 0, 0, 0
		for _, kw := range c.Keywords {
			inProposal := proposal.has(kw)
			if inProposal {
				hits++
			}
			if spec.has(kw) {
				specTerms++
				if inProposal {
					covered++
				}
			}
		}
		keywordScore := 0.0
		if len(c.Keywords) > 0 {
			keywordScore = math.Min(1, float64(hits)/math.Max(3, float64(len(c.Keywords))/2))
		}
		coverage := keywordScore
		if specTerms > 0 {
			coverage = float64(covered) / float64(specTerms)
		}
		if hits > 0 {
			evidence++
		}

		score := round2(20 + 60*(0.45*keywordScore+0.35*coverage+0.20*lengthScore))
		sections = append(sections, domain.CriterionSection{
			ID:              id,
			Name:            c.Name,
			Score:           score,
			Description:     "Heuristic estimate from keyword presence and document length; no provider analysis was available.",
			KeyFindings:     fallbackFindings(c, hits, specTerms, covered),
			Recommendations: fallbackRecommendations(c, score),
			RiskLevel:       riskFromScore(score),
		})
	}

	overall := g.opts.OverallScore(sections)
	ceiling := clampScore(g.opts.FallbackConfidenceCeiling)
	confidence := round2(ceiling * (0.5 + 0.5*float64(evidence)/float64(len(domain.CriterionOrder))))
	rec := g.opts.Recommend(overall)
	return domain.AnalysisResult{
		OverallScore:    overall,
		ConfidenceLevel: confidence,
		Sections:        sections,
		ExecutiveSummary: fmt.Sprintf("Automated fallback analysis: no provider produced a usable result. "+
			"Heuristic overall score %.0f/100 (%s); treat these scores as low confidence.",
			overall, strings.ReplaceAll(string(rec), "_", " ")),
		FinalRecommendation: rec,
		Provenance:          domain.ProvenanceFallback,
		Attempts:            []domain.ProviderAttempt{},
	}
}

func riskFromScore(score float64) domain.RiskLevel {
	switch {
	case score >= 70:
		return domain.RiskLow
	case score >= 45:
		return domain.RiskMedium
	default:
		return domain.RiskHigh
	}
}

// lengthRatioScore rewards proposals at least as long as the specification
// and mildly penalizes ones more than four times longer.
func lengthRatioScore(specWords, proposalWords int) float64 {
	if specWords == 0 {
		return 0.5
	}
	ratio := float64(proposalWords) / float64(specWords)
	switch {
	case ratio > 4:
		return 0.8
	case ratio >= 1:
		return 1
	default:
		return ratio
	}
}

func fallbackFindings(c Criterion, hits, specTerms, covered int) []string {
	out := []string{fmt.Sprintf("Proposal mentions %d of %d indicative terms for %s.", hits, len(c.Keywords), c.Name)}
	if specTerms > 0 {
		out = append(out, fmt.Sprintf("Covers %d of %d related terms used in the specification.", covered, specTerms))
	}
	return out
}

func fallbackRecommendations(c Criterion, score float64) []string {
	out := []string{"Confirm with a provider-backed analysis before relying on this score."}
	if score < 45 {
		out = append(out, "Request clarification on "+strings.ToLower(c.Name)+" from the bidder.")
	}
	return out
}

// wordIndex is a sorted set of lowercase words supporting prefix lookups.
type wordIndex struct {
	words  []string
	set    map[string]struct{}
	sorted []string
}

func newWordIndex(text string) wordIndex {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	uniq := make([]string, 0, len(set))
	for w := range set {
		uniq = append(uniq, w)
	}
	sort.Strings(uniq)
	return wordIndex{words: fields, set: set, sorted: uniq}
}

// has reports whether kw occurs as a word, or as the prefix of a word when kw
// is long enough for inflections ("test" matches "testing").
func (w wordIndex) has(kw string) bool {
	if _, ok := w.set[kw]; ok {
		return true
	}
	if len(kw) < 4 {
		return false
	}
	i := sort.SearchStrings(w.sorted, kw)
	return i < len(w.sorted) && strings.HasPrefix(w.sorted[i], kw)
}
