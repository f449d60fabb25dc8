// Package scoring holds the evaluation rubric and the pure functions that
// turn it into prompts, normalized results and offline fallback analyses.
package scoring

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fairyhunter13/proposal-evaluator/internal/domain"
)

//go:embed rubric.yaml
var defaultRubricYAML []byte

// Criterion describes one rubric criterion.
type Criterion struct {
	ID          domain.CriterionID `yaml:"id" json:"id"`
	Name        string             `yaml:"name" json:"name"`
	Description string             `yaml:"description" json:"description"`
	Keywords    []string           `yaml:"keywords" json:"keywords"`
}

// Rubric is the ordered set of the ten criteria.
type Rubric struct {
	Version  int         `yaml:"version" json:"version"`
	Criteria []Criterion `yaml:"criteria" json:"criteria"`
}

// ParseRubric decodes a YAML rubric. Every criterion id must be known and
// present exactly once; the result is reordered into canonical order.
func ParseRubric(data []byte) (Rubric, error) {
	var raw Rubric
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Rubric{}, fmt.Errorf("op=scoring.ParseRubric: %w", err)
	}
	byID := make(map[domain.CriterionID]Criterion, len(raw.Criteria))
	for _, c := range raw.Criteria {
		id := CanonicalCriterionID(string(c.ID))
		if id == "" {
			return Rubric{}, fmt.Errorf("op=scoring.ParseRubric: unknown criterion %q: %w", c.ID, domain.ErrInvalidArgument)
		}
		if _, dup := byID[id]; dup {
			return Rubric{}, fmt.Errorf("op=scoring.ParseRubric: duplicate criterion %q: %w", id, domain.ErrInvalidArgument)
		}
		c.ID = id
		if strings.TrimSpace(c.Name) == "" {
			c.Name = string(id)
		}
		for i, k := range c.Keywords {
			c.Keywords[i] = strings.ToLower(strings.TrimSpace(k))
		}
		byID[id] = c
	}
	out := Rubric{Version: raw.Version, Criteria: make([]Criterion, 0, len(domain.CriterionOrder))}
	for _, id := range domain.CriterionOrder {
		c, ok := byID[id]
		if !ok {
			return Rubric{}, fmt.Errorf("op=scoring.ParseRubric: missing criterion %q: %w", id, domain.ErrInvalidArgument)
		}
		out.Criteria = append(out.Criteria, c)
	}
	return out, nil
}

// DefaultRubric returns the embedded rubric.
func DefaultRubric() Rubric {
	r, err := ParseRubric(defaultRubricYAML)
	if err != nil {
		panic(err)
	}
	return r
}

// LoadRubric parses data, or returns the embedded rubric when data is empty.
func LoadRubric(data []byte) (Rubric, error) {
	if len(data) == 0 {
		return DefaultRubric(), nil
	}
	return ParseRubric(data)
}

// Criterion returns the criterion with the given id.
func (r Rubric) Criterion(id domain.CriterionID) (Criterion, bool) {
	for _, c := range r.Criteria {
		if c.ID == id {
			return c, true
		}
	}
	return Criterion{}, false
}

// Name returns the display name for id, falling back to the id itself.
func (r Rubric) Name(id domain.CriterionID) string {
	if c, ok := r.Criterion(id); ok {
		return c.Name
	}
	return string(id)
}

var criterionAliases = map[string]domain.CriterionID{
	"cost":                       domain.CriterionBudget,
	"budgetcost":                 domain.CriterionBudget,
	"timelinemilestones":         domain.CriterionTimeline,
	"securityqualityassurance":   domain.CriterionSecurityQuality,
	"methodologyprocess":         domain.CriterionMethodology,
	"communicationreporting":     domain.CriterionCommunication,
	"pricing":                    domain.CriterionBudget,
	"schedule":                   domain.CriterionTimeline,
	"technicalapproach":          domain.CriterionTechnical,
	"technicalsolution":          domain.CriterionTechnical,
	"teamexperience":             domain.CriterionTeam,
	"teamqualifications":         domain.CriterionTeam,
	"functionalrequirements":     domain.CriterionFunctionalCoverage,
	"requirementscoverage":       domain.CriterionFunctionalCoverage,
	"security":                   domain.CriterionSecurityQuality,
	"qualityassurance":           domain.CriterionSecurityQuality,
	"securityandquality":         domain.CriterionSecurityQuality,
	"process":                    domain.CriterionMethodology,
	"maintainability":            domain.CriterionScalability,
	"scalabilitymaintainability": domain.CriterionScalability,
	"reporting":                  domain.CriterionCommunication,
	"addedvalue":                 domain.CriterionAdditionalValue,
	"valueadd":                   domain.CriterionAdditionalValue,
	"extras":                     domain.CriterionAdditionalValue,
}

// CanonicalCriterionID maps provider spellings such as "functional_coverage",
// "securityQuality" or "budget_analysis" onto a CriterionID. It returns ""
// when s names no criterion.
func CanonicalCriterionID(s string) domain.CriterionID {
	key := squash(s)
	for _, suffix := range []string{"analysis", "assessment", "score", "evaluation", "section"} {
		if trimmed := strings.TrimSuffix(key, suffix); trimmed != "" && trimmed != key {
			if id := lookupCriterion(trimmed); id != "" {
				return id
			}
		}
	}
	return lookupCriterion(key)
}

func lookupCriterion(key string) domain.CriterionID {
	for _, id := range domain.CriterionOrder {
		if squash(string(id)) == key {
			return id
		}
	}
	return criterionAliases[key]
}

// squash lowercases s and drops every non-alphanumeric rune.
func squash(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
