// Package usecase contains the analysis orchestration service.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/fairyhunter13/proposal-evaluator/internal/domain"
	"github.com/fairyhunter13/proposal-evaluator/internal/observability"
	"github.com/fairyhunter13/proposal-evaluator/internal/scoring"
	"github.com/fairyhunter13/proposal-evaluator/pkg/textx"
)

// ProviderResolver maps provider names to clients.
type ProviderResolver interface {
	Resolve(names []string) ([]domain.ProviderClient, error)
}

// ResponseParser recovers a structured object from raw provider text.
type ResponseParser interface {
	Parse(raw domain.RawResponse) (domain.ParsedResponse, error)
}

// OrchestratorConfig is the immutable run configuration.
type OrchestratorConfig struct {
	Policy            domain.RetryPolicy
	PerAttemptTimeout time.Duration
	DefaultProviders  []string
	Concurrency       int
	Prompt            scoring.PromptOptions
}

// Orchestrator drives one analysis per request through provider calls,
// retries, parsing, normalization and, when nothing else works, the local
// fallback. It always yields a schema-complete result or an *InputError.
type Orchestrator struct {
	cfg        OrchestratorConfig
	providers  ProviderResolver
	parser     ResponseParser
	normalizer *scoring.Normalizer
	fallback   *scoring.FallbackGenerator
	rubric     scoring.Rubric

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithSleeper replaces the backoff timer, mainly for tests.
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) { o.sleep = fn }
}

// WithClock replaces time.Now.
func WithClock(fn func() time.Time) Option {
	return func(o *Orchestrator) { o.now = fn }
}

// NewOrchestrator wires an Orchestrator. Zero-valued configuration falls back
// to the default retry policy, a 60s attempt timeout and a concurrency of 4.
func NewOrchestrator(cfg OrchestratorConfig, providers ProviderResolver, parser ResponseParser, opts scoring.Options, options ...Option) *Orchestrator {
	if cfg.Policy == (domain.RetryPolicy{}) {
		cfg.Policy = domain.DefaultRetryPolicy()
	}
	if cfg.PerAttemptTimeout <= 0 {
		cfg.PerAttemptTimeout = 60 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if len(opts.Rubric.Criteria) == 0 {
		opts.Rubric = scoring.DefaultRubric()
	}
	o := &Orchestrator{
		cfg:        cfg,
		providers:  providers,
		parser:     parser,
		normalizer: scoring.NewNormalizer(opts),
		fallback:   scoring.NewFallbackGenerator(opts),
		rubric:     opts.Rubric,
		now:        time.Now,
		sleep:      sleepContext,
	}
	for _, opt := range options {
		opt(o)
	}
	return o
}

// Rubric returns the rubric prompts are built from.
func (o *Orchestrator) Rubric() scoring.Rubric { return o.rubric }

// Fallback runs only the offline analyzer on a validated request.
func (o *Orchestrator) Fallback(req domain.AnalysisRequest) (domain.AnalysisResult, error) {
	req, err := sanitizeRequest(req)
	if err != nil {
		return domain.AnalysisResult{}, err
	}
	res := o.fallback.Generate(req.SpecText, req.ProposalText)
	res.RequestID = req.ID
	res.CompletedAt = o.now().UTC()
	return res, nil
}

// Run analyzes a single request. The only error it returns is an
// *domain.InputError; every provider or parsing failure ends in a fallback result.
func (o *Orchestrator) Run(ctx context.Context, req domain.AnalysisRequest) (domain.AnalysisResult, error) {
	r, err := o.prepare(req)
	if err != nil {
		return domain.AnalysisResult{}, err
	}
	return r.execute(ctx), nil
}

// RunBatch analyzes reqs with at most limit runs in flight and returns the
// results in submission order. A non-zero deadline bounds the whole batch;
// runs still calling when it passes complete through the fallback. Requests
// are validated up front and any invalid one fails the batch before work starts.
func (o *Orchestrator) RunBatch(ctx context.Context, reqs []domain.AnalysisRequest, limit int, deadline time.Time) ([]domain.AnalysisResult, error) {
	runs := make([]*run, len(reqs))
	var errs []error
	for i, req := range reqs {
		r, err := o.prepare(req)
		if err != nil {
			errs = append(errs, fmt.Errorf("requests[%d]: %w", i, err))
			continue
		}
		runs[i] = r
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if limit <= 0 {
		limit = o.cfg.Concurrency
	}
	if !deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	tracer := otel.Tracer("usecase.orchestrator")
	ctx, span := tracer.Start(ctx, "Orchestrator.RunBatch")
	defer span.End()
	span.SetAttributes(attribute.Int("batch.size", len(reqs)), attribute.Int("batch.limit", limit))

	results := make([]domain.AnalysisResult, len(reqs))
	var g errgroup.Group
	g.SetLimit(limit)
	for i := range runs {
		r := runs[i]
		g.Go(func() error {
			results[i] = r.execute(ctx)
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

// prepare validates and sanitizes req and resolves its providers.
func (o *Orchestrator) prepare(req domain.AnalysisRequest) (*run, error) {
	req, err := sanitizeRequest(req)
	if err != nil {
		return nil, err
	}
	names := req.Providers
	if len(names) == 0 {
		names = o.cfg.DefaultProviders
	}
	var providers []domain.ProviderClient
	if len(names) > 0 {
		providers, err = o.providers.Resolve(names)
		if err != nil {
			return nil, &domain.InputError{Field: "providers", Reason: err.Error()}
		}
	}
	policy := o.cfg.Policy
	if req.MaxRetries != nil {
		policy = policy.WithMaxRetries(*req.MaxRetries)
	}
	timeout := o.cfg.PerAttemptTimeout
	if req.PerAttemptTimeout > 0 {
		timeout = req.PerAttemptTimeout
	}
	return &run{o: o, req: req, providers: providers, policy: policy, timeout: timeout}, nil
}

func sanitizeRequest(req domain.AnalysisRequest) (domain.AnalysisRequest, error) {
	if err := req.Validate(); err != nil {
		return req, err
	}
	req.SpecText = textx.SanitizeText(req.SpecText)
	req.ProposalText = textx.SanitizeText(req.ProposalText)
	if err := req.Validate(); err != nil {
		return req, err
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	return req, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// logger is a small helper to avoid repeating LoggerFromContext.
func logger(ctx context.Context) *slog.Logger { return observability.LoggerFromContext(ctx) }
