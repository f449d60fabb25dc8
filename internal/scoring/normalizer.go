package scoring

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/fairyhunter13/proposal-evaluator/internal/domain"
)

// NormalizeReport lists what the normalizer had to invent.
type NormalizeReport struct {
	// Synthesized holds criteria missing from the response or lacking a
	// usable score, in rubric order.
	Synthesized []domain.CriterionID
	// Defaulted names top-level fields filled with defaults.
	Defaulted []string
}

// Normalizer turns a loosely-typed parsed response into a schema-complete result.
type Normalizer struct {
	opts Options
}

// NewNormalizer creates a Normalizer.
func NewNormalizer(opts Options) *Normalizer {
	if len(opts.Rubric.Criteria) == 0 {
		opts.Rubric = DefaultRubric()
	}
	return &Normalizer{opts: opts}
}

var (
	sectionContainerKeys = []string{"sections", "criteria", "criterion_scores", "scores", "evaluation", "analysis"}
	sectionIDKeys        = []string{"id", "criterion", "criterion_id", "key", "name"}
	scoreKeys            = []string{"score", "rating", "value", "points"}
	descriptionKeys      = []string{"description", "summary", "analysis", "justification", "rationale", "comment"}
	findingsKeys         = []string{"key_findings", "findings", "observations", "strengths"}
	recommendationKeys   = []string{"recommendations", "recommendation", "suggestions", "improvements"}
	riskKeys             = []string{"risk_level", "risk"}
	overallKeys          = []string{"overall_score", "overall", "total_score", "final_score"}
	confidenceKeys       = []string{"confidence_level", "confidence"}
	finalRecKeys         = []string{"final_recommendation", "recommendation", "verdict", "decision"}
	summaryKeys          = []string{"executive_summary", "summary", "overall_summary"}
)

// Normalize maps parsed onto the result schema. Missing sections are
// synthesized with the neutral score; a response with no recognizable
// section at all fails with domain.ErrSchemaInvalid.
func (n *Normalizer) Normalize(parsed domain.ParsedResponse) (domain.AnalysisResult, NormalizeReport, error) {
	var report NormalizeReport
	raw := extractSections(parsed.Fields)
	if len(raw) == 0 {
		return domain.AnalysisResult{}, report, &domain.SchemaError{Reason: "no recognizable criterion sections"}
	}

	sections := make([]domain.CriterionSection, 0, len(domain.CriterionOrder))
	for _, id := range domain.CriterionOrder {
		fields, ok := raw[id]
		if !ok {
			report.Synthesized = append(report.Synthesized, id)
			sections = append(sections, n.neutralSection(id))
			continue
		}
		sec, scored := n.section(id, fields)
		if !scored {
			report.Synthesized = append(report.Synthesized, id)
		}
		sections = append(sections, sec)
	}

	res := domain.AnalysisResult{Sections: sections}
	if v, ok := lookupNumber(parsed.Fields, overallKeys...); ok {
		res.OverallScore = round2(clampScore(v))
	} else {
		res.OverallScore = n.opts.OverallScore(sections)
		report.Defaulted = append(report.Defaulted, "overall_score")
	}
	if v, ok := lookupNumber(parsed.Fields, confidenceKeys...); ok {
		res.ConfidenceLevel = round2(clampScore(v))
	} else {
		res.ConfidenceLevel = n.opts.DefaultConfidence
		report.Defaulted = append(report.Defaulted, "confidence_level")
	}
	if rec, ok := lookupRecommendation(parsed.Fields); ok {
		res.FinalRecommendation = rec
	} else {
		res.FinalRecommendation = n.opts.Recommend(res.OverallScore)
		report.Defaulted = append(report.Defaulted, "final_recommendation")
	}
	if s := lookupString(parsed.Fields, summaryKeys...); s != "" {
		res.ExecutiveSummary = s
	} else {
		res.ExecutiveSummary = summarize(res, n.opts.Rubric)
		report.Defaulted = append(report.Defaulted, "executive_summary")
	}

	res.Provenance = domain.ProvenanceProviderSuccess
	if parsed.Stage == domain.StageRepaired || len(report.Synthesized) > 0 {
		res.Provenance = domain.ProvenanceRepaired
	}
	if err := res.Validate(); err != nil {
		return domain.AnalysisResult{}, report, fmt.Errorf("op=scoring.Normalize: %w", err)
	}
	return res, report, nil
}

func (n *Normalizer) neutralSection(id domain.CriterionID) domain.CriterionSection {
	return domain.CriterionSection{
		ID:              id,
		Name:            n.opts.Rubric.Name(id),
		Score:           clampScore(n.opts.NeutralScore),
		Description:     "Not assessed by the provider.",
		KeyFindings:     []string{},
		Recommendations: []string{},
		RiskLevel:       domain.RiskUnknown,
	}
}

// section builds a CriterionSection from either a bare score or an object.
func (n *Normalizer) section(id domain.CriterionID, v any) (domain.CriterionSection, bool) {
	sec := n.neutralSection(id)
	sec.Description = ""
	if score, ok := toNumber(v); ok {
		sec.Score = round2(clampScore(score))
		return sec, true
	}
	m, _ := v.(map[string]any)
	score, scored := lookupNumber(m, scoreKeys...)
	if scored {
		sec.Score = round2(clampScore(score))
	}
	sec.Description = lookupString(m, descriptionKeys...)
	sec.KeyFindings = lookupStrings(m, findingsKeys...)
	sec.Recommendations = lookupStrings(m, recommendationKeys...)
	sec.RiskLevel = domain.ParseRiskLevel(lookupString(m, riskKeys...))
	return sec, scored
}

// extractSections finds criterion sections in a nested container (object or
// array) or, failing that, among the top-level keys.
func extractSections(fields map[string]any) map[domain.CriterionID]any {
	for _, key := range sectionContainerKeys {
		v, ok := lookup(fields, key)
		if !ok {
			continue
		}
		if out := sectionsFrom(v); len(out) > 0 {
			return out
		}
	}
	return sectionsFromObject(fields)
}

func sectionsFrom(v any) map[domain.CriterionID]any {
	switch t := v.(type) {
	case map[string]any:
		return sectionsFromObject(t)
	case []any:
		out := map[domain.CriterionID]any{}
		for _, item := range t {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			for _, k := range sectionIDKeys {
				if id := CanonicalCriterionID(lookupString(m, k)); id != "" {
					if _, dup := out[id]; !dup {
						out[id] = m
					}
					break
				}
			}
		}
		return out
	}
	return nil
}

func sectionsFromObject(m map[string]any) map[domain.CriterionID]any {
	out := map[domain.CriterionID]any{}
	// Sorted keys make alias collisions resolve the same way every time.
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		id := CanonicalCriterionID(k)
		if id == "" {
			continue
		}
		v := m[k]
		_, isObj := v.(map[string]any)
		_, isNum := toNumber(v)
		if !isObj && !isNum {
			continue
		}
		if _, dup := out[id]; !dup {
			out[id] = v
		}
	}
	return out
}

// lookup finds key in m, tolerating case and separator differences.
func lookup(m map[string]any, key string) (any, bool) {
	if m == nil {
		return nil, false
	}
	if v, ok := m[key]; ok {
		return v, true
	}
	want := squash(key)
	for k, v := range m {
		if squash(k) == want {
			return v, true
		}
	}
	return nil, false
}

func lookupNumber(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := lookup(m, k); ok {
			if f, ok := toNumber(v); ok {
				return f, true
			}
		}
	}
	return 0, false
}

func lookupString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := lookup(m, k); ok {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

func lookupStrings(m map[string]any, keys ...string) []string {
	for _, k := range keys {
		v, ok := lookup(m, k)
		if !ok {
			continue
		}
		if list := toStrings(v); len(list) > 0 {
			return list
		}
	}
	return []string{}
}

func lookupRecommendation(m map[string]any) (domain.Recommendation, bool) {
	for _, k := range finalRecKeys {
		v, ok := lookup(m, k)
		if !ok {
			continue
		}
		if s, ok := v.(string); ok {
			if rec, ok := domain.ParseRecommendation(s); ok {
				return rec, true
			}
		}
	}
	return "", false
}

func toStrings(v any) []string {
	out := []string{}
	switch t := v.(type) {
	case string:
		if s := strings.TrimSpace(t); s != "" {
			out = append(out, s)
		}
	case []any:
		for _, item := range t {
			switch it := item.(type) {
			case string:
				if s := strings.TrimSpace(it); s != "" {
					out = append(out, s)
				}
			case float64, bool, json.Number:
				out = append(out, fmt.Sprint(it))
			}
		}
	}
	return out
}

// toNumber accepts JSON numbers and numeric strings such as "85", "85%" or "8.5/10".
func toNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, !math.IsNaN(t) && !math.IsInf(t, 0)
	case int:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		return parseNumericString(t)
	}
	return 0, false
}

func parseNumericString(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if num, den, ok := strings.Cut(s, "/"); ok {
		n, err1 := strconv.ParseFloat(strings.TrimSpace(num), 64)
		d, err2 := strconv.ParseFloat(strings.TrimSpace(den), 64)
		if err1 != nil || err2 != nil || d <= 0 {
			return 0, false
		}
		return n / d * 100, true
	}
	s = strings.TrimSpace(strings.TrimSuffix(s, "%"))
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// summarize writes an executive summary from the scores alone.
func summarize(res domain.AnalysisResult, rubric Rubric) string {
	best, worst := res.Sections[0], res.Sections[0]
	for _, s := range res.Sections[1:] {
		if s.Score > best.Score {
			best = s
		}
		if s.Score < worst.Score {
			worst = s
		}
	}
	return fmt.Sprintf("Overall score %.0f/100 (%s). Strongest area: %s (%.0f). Weakest area: %s (%.0f).",
		res.OverallScore, strings.ReplaceAll(string(res.FinalRecommendation), "_", " "),
		rubric.Name(best.ID), best.Score, rubric.Name(worst.ID), worst.Score)
}
