package domain

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"
)

// CriterionID identifies one of the fixed rubric criteria.
type CriterionID string

const (
	CriterionBudget             CriterionID = "budget"
	CriterionTimeline           CriterionID = "timeline"
	CriterionTechnical          CriterionID = "technical"
	CriterionTeam               CriterionID = "team"
	CriterionFunctionalCoverage CriterionID = "functional-coverage"
	CriterionSecurityQuality    CriterionID = "security-quality"
	CriterionMethodology        CriterionID = "methodology"
	CriterionScalability        CriterionID = "scalability"
	CriterionCommunication      CriterionID = "communication"
	CriterionAdditionalValue    CriterionID = "additional-value"
)

// CriterionOrder is the canonical section order of every AnalysisResult.
var CriterionOrder = []CriterionID{
	CriterionBudget,
	CriterionTimeline,
	CriterionTechnical,
	CriterionTeam,
	CriterionFunctionalCoverage,
	CriterionSecurityQuality,
	CriterionMethodology,
	CriterionScalability,
	CriterionCommunication,
	CriterionAdditionalValue,
}

// Valid reports whether c is one of the fixed criteria.
func (c CriterionID) Valid() bool {
	for _, id := range CriterionOrder {
		if id == c {
			return true
		}
	}
	return false
}

type RiskLevel string

const (
	RiskLow     RiskLevel = "low"
	RiskMedium  RiskLevel = "medium"
	RiskHigh    RiskLevel = "high"
	RiskUnknown RiskLevel = "unknown"
)

// ParseRiskLevel maps free-form provider text onto a RiskLevel.
func ParseRiskLevel(s string) RiskLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low", "minimal", "minor":
		return RiskLow
	case "medium", "moderate", "med":
		return RiskMedium
	case "high", "critical", "severe":
		return RiskHigh
	default:
		return RiskUnknown
	}
}

type Recommendation string

const (
	RecommendAccept            Recommendation = "accept"
	RecommendConditionalAccept Recommendation = "conditional_accept"
	RecommendReject            Recommendation = "reject"
)

// ParseRecommendation returns the recommendation and whether s named one.
func ParseRecommendation(s string) (Recommendation, bool) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer("-", "_", " ", "_").Replace(norm)
	switch norm {
	case "accept", "accepted", "approve":
		return RecommendAccept, true
	case "conditional_accept", "conditionally_accept", "conditional", "accept_with_conditions":
		return RecommendConditionalAccept, true
	case "reject", "rejected", "decline":
		return RecommendReject, true
	default:
		return "", false
	}
}

// Provenance records how a result was produced.
type Provenance string

const (
	ProvenanceProviderSuccess Provenance = "provider_success"
	ProvenanceRepaired        Provenance = "repaired"
	ProvenanceFallback        Provenance = "fallback"
)

type AttemptOutcome string

const (
	OutcomeSuccess     AttemptOutcome = "success"
	OutcomeTimeout     AttemptOutcome = "timeout"
	OutcomeRateLimited AttemptOutcome = "rate_limited"
	OutcomeAuthError   AttemptOutcome = "auth_error"
	OutcomeServerError AttemptOutcome = "server_error"
	OutcomeMalformed   AttemptOutcome = "malformed"
)

// AnalysisRequest is one (spec, proposal) pair to analyze.
// Zero PerAttemptTimeout and nil MaxRetries defer to the orchestrator's configuration.
type AnalysisRequest struct {
	ID                string
	SpecText          string
	ProposalText      string
	Providers         []string
	PerAttemptTimeout time.Duration
	MaxRetries        *int
}

// Validate rejects requests that can never be analyzed.
func (r AnalysisRequest) Validate() error {
	if err := validateText("spec_text", r.SpecText); err != nil {
		return err
	}
	if err := validateText("proposal_text", r.ProposalText); err != nil {
		return err
	}
	if r.PerAttemptTimeout < 0 {
		return &InputError{Field: "per_attempt_timeout", Reason: "must not be negative"}
	}
	if r.MaxRetries != nil && *r.MaxRetries < 0 {
		return &InputError{Field: "max_retries", Reason: "must not be negative"}
	}
	return nil
}

func validateText(field, s string) error {
	if !utf8.ValidString(s) {
		return &InputError{Field: field, Reason: "not valid UTF-8"}
	}
	if strings.TrimSpace(s) == "" {
		return &InputError{Field: field, Reason: "empty"}
	}
	return nil
}

// ProviderAttempt is one entry of the append-only attempt log of a run.
type ProviderAttempt struct {
	Number    int            `json:"number"`
	Provider  string         `json:"provider"`
	StartedAt time.Time      `json:"started_at"`
	Duration  time.Duration  `json:"duration_ns"`
	Outcome   AttemptOutcome `json:"outcome"`
	Error     string         `json:"error,omitempty"`
}

type CriterionSection struct {
	ID              CriterionID `json:"id"`
	Name            string      `json:"name"`
	Score           float64     `json:"score"`
	Description     string      `json:"description"`
	KeyFindings     []string    `json:"key_findings"`
	Recommendations []string    `json:"recommendations"`
	RiskLevel       RiskLevel   `json:"risk_level"`
}

// AnalysisResult is the schema-complete analysis of one proposal.
type AnalysisResult struct {
	RequestID           string             `json:"request_id"`
	OverallScore        float64            `json:"overall_score"`
	ConfidenceLevel     float64            `json:"confidence_level"`
	Sections            []CriterionSection `json:"sections"`
	ExecutiveSummary    string             `json:"executive_summary"`
	FinalRecommendation Recommendation     `json:"final_recommendation"`
	Provenance          Provenance         `json:"provenance"`
	Provider            string             `json:"provider,omitempty"`
	Attempts            []ProviderAttempt  `json:"attempts"`
	CompletedAt         time.Time          `json:"completed_at"`
}

// Validate checks the schema-completeness invariant: ten sections in rubric
// order, every score within [0,100] and every enum populated.
func (r AnalysisResult) Validate() error {
	if len(r.Sections) != len(CriterionOrder) {
		return &SchemaError{Reason: "expected 10 sections"}
	}
	for i, s := range r.Sections {
		if s.ID != CriterionOrder[i] {
			return &SchemaError{Reason: "section " + string(s.ID) + " out of order"}
		}
		if !inRange(s.Score) {
			return &SchemaError{Reason: "section " + string(s.ID) + " score out of range"}
		}
		switch s.RiskLevel {
		case RiskLow, RiskMedium, RiskHigh, RiskUnknown:
		default:
			return &SchemaError{Reason: "section " + string(s.ID) + " has invalid risk level"}
		}
		if s.KeyFindings == nil || s.Recommendations == nil {
			return &SchemaError{Reason: "section " + string(s.ID) + " has nil lists"}
		}
	}
	if !inRange(r.OverallScore) || !inRange(r.ConfidenceLevel) {
		return &SchemaError{Reason: "overall or confidence out of range"}
	}
	if _, ok := ParseRecommendation(string(r.FinalRecommendation)); !ok {
		return &SchemaError{Reason: "invalid final recommendation"}
	}
	switch r.Provenance {
	case ProvenanceProviderSuccess, ProvenanceRepaired, ProvenanceFallback:
	default:
		return &SchemaError{Reason: "invalid provenance"}
	}
	return nil
}

func inRange(v float64) bool { return v >= 0 && v <= 100 }

// Prompt is the deterministic provider input built from a request.
type Prompt struct {
	System string
	User   string
}

// Payload joins both prompt parts for providers without a system role.
func (p Prompt) Payload() string {
	if p.System == "" {
		return p.User
	}
	return p.System + "\n\n" + p.User
}

// ParseStage names the parsing strategy that produced a ParsedResponse.
type ParseStage string

const (
	StageStrict   ParseStage = "strict"
	StageFenced   ParseStage = "fenced"
	StageBalanced ParseStage = "balanced"
	StageRepaired ParseStage = "repaired"
)

// RawResponse is provider text before any parsing.
type RawResponse string

// ParsedResponse is a structurally valid JSON object recovered from a RawResponse.
type ParsedResponse struct {
	Fields map[string]any
	Stage  ParseStage
}

// ProviderClient is the port every LLM backend implements.
// Call performs exactly one outbound request bounded by timeout and never retries.
type ProviderClient interface {
	Name() string
	Call(ctx Context, prompt Prompt, timeout time.Duration) (string, error)
}

// AnalysisTaskPayload is the queued form of an AnalysisRequest.
type AnalysisTaskPayload struct {
	RequestID           string   `json:"request_id"`
	SpecText            string   `json:"spec_text"`
	ProposalText        string   `json:"proposal_text"`
	Providers           []string `json:"providers,omitempty"`
	PerAttemptTimeoutMS int64    `json:"per_attempt_timeout_ms,omitempty"`
	MaxRetries          *int     `json:"max_retries,omitempty"`
}

// ToRequest converts the payload into an AnalysisRequest.
func (p AnalysisTaskPayload) ToRequest() AnalysisRequest {
	return AnalysisRequest{
		ID:                p.RequestID,
		SpecText:          p.SpecText,
		ProposalText:      p.ProposalText,
		Providers:         p.Providers,
		PerAttemptTimeout: time.Duration(p.PerAttemptTimeoutMS) * time.Millisecond,
		MaxRetries:        p.MaxRetries,
	}
}

// AnalysisResultPayload is published once a queued request finishes.
type AnalysisResultPayload struct {
	RequestID string          `json:"request_id"`
	Status    string          `json:"status"`
	Error     string          `json:"error,omitempty"`
	Result    *AnalysisResult `json:"result,omitempty"`
}

const (
	ResultStatusCompleted = "completed"
	ResultStatusRejected  = "rejected"
)

// Context is an alias to allow decoupling from std context in domain.
type Context = context.Context
