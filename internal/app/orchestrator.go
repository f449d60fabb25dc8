package app

import (
	"fmt"

	ai "github.com/fairyhunter13/proposal-evaluator/internal/adapter/ai"
	"github.com/fairyhunter13/proposal-evaluator/internal/config"
	"github.com/fairyhunter13/proposal-evaluator/internal/scoring"
	"github.com/fairyhunter13/proposal-evaluator/internal/usecase"
)

// ScoringOptions derives normalizer and fallback tunables from cfg,
// loading the operator rubric when RUBRIC_PATH is set.
func ScoringOptions(cfg config.Config) (scoring.Options, error) {
	raw, err := config.ReadRubricFile(cfg.RubricPath)
	if err != nil {
		return scoring.Options{}, err
	}
	rubric, err := scoring.LoadRubric(raw)
	if err != nil {
		return scoring.Options{}, fmt.Errorf("op=app.ScoringOptions: %w", err)
	}
	return scoring.Options{
		Rubric:                    rubric,
		NeutralScore:              cfg.NeutralScore,
		DefaultConfidence:         cfg.DefaultConfidence,
		AcceptThreshold:           cfg.AcceptThreshold,
		ConditionalThreshold:      cfg.ConditionalThreshold,
		FallbackConfidenceCeiling: cfg.FallbackConfidenceCeiling,
		Weights:                   cfg.CriterionWeightsByID(),
	}, nil
}

// BuildOrchestrator wires the analysis orchestrator over the given providers.
func BuildOrchestrator(cfg config.Config, providers usecase.ProviderResolver) (*usecase.Orchestrator, error) {
	opts, err := ScoringOptions(cfg)
	if err != nil {
		return nil, err
	}
	return usecase.NewOrchestrator(usecase.OrchestratorConfig{
		Policy:            cfg.RetryPolicy(),
		PerAttemptTimeout: cfg.AnalysisPerAttemptTimeout,
		DefaultProviders:  cfg.DefaultProviders,
		Concurrency:       cfg.AnalysisConcurrency,
		Prompt:            scoring.PromptOptions{MaxInputChars: cfg.MaxInputChars},
	}, providers, ai.NewResponseParser(), opts), nil
}
