package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	obsmetrics "github.com/fairyhunter13/proposal-evaluator/internal/adapter/observability"
	"github.com/fairyhunter13/proposal-evaluator/internal/domain"
	"github.com/fairyhunter13/proposal-evaluator/internal/observability"
	"github.com/fairyhunter13/proposal-evaluator/internal/scoring"
)

// runState is a state of the per-request analysis state machine.
//
//	idle -> calling -> (success) validating | retrying | exhausted
//	retrying -> calling
//	exhausted -> fallback
//	validating -> (valid, repaired) completed | (invalid) fallback
//	fallback -> completed
type runState int

const (
	stateIdle runState = iota
	stateCalling
	stateRetrying
	stateExhausted
	stateValidating
	stateFallback
	stateCompleted
)

func (s runState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateCalling:
		return "calling"
	case stateRetrying:
		return "retrying"
	case stateExhausted:
		return "exhausted"
	case stateValidating:
		return "validating"
	case stateFallback:
		return "fallback"
	case stateCompleted:
		return "completed"
	}
	return "unknown"
}

// run owns everything mutated during one analysis. It is never shared
// between goroutines.
type run struct {
	o         *Orchestrator
	req       domain.AnalysisRequest
	providers []domain.ProviderClient
	policy    domain.RetryPolicy
	timeout   time.Duration

	prompt   domain.Prompt
	bo       *backoff.ExponentialBackOff
	attempts []domain.ProviderAttempt
	retries  int
	lastErr  error
	lastKind domain.ErrorKind
	raw      string
	provider string
	result   domain.AnalysisResult
	lg       *slog.Logger
}

// execute drives the state machine to completion. Completed is the only exit.
func (r *run) execute(ctx context.Context) domain.AnalysisResult {
	tracer := otel.Tracer("usecase.orchestrator")
	ctx, span := tracer.Start(ctx, "Orchestrator.Run", trace.WithAttributes(attribute.String("analysis.id", r.req.ID)))
	defer span.End()

	ctx = observability.ContextWithAnalysis(ctx, r.req.ID)
	r.lg = logger(ctx)
	start := r.o.now()
	obsmetrics.StartAnalysis()

	state := stateIdle
	for state != stateCompleted {
		next := r.step(ctx, state)
		r.lg.Debug("analysis state transition", slog.String("from", state.String()), slog.String("to", next.String()))
		state = next
	}

	res := r.finalize()
	obsmetrics.CompleteAnalysis(string(res.Provenance), res.OverallScore, r.o.now().Sub(start))
	span.SetAttributes(
		attribute.String("analysis.provenance", string(res.Provenance)),
		attribute.Int("analysis.attempts", len(res.Attempts)),
		attribute.Float64("analysis.overall_score", res.OverallScore),
	)
	r.lg.Info("analysis completed",
		slog.String("provenance", string(res.Provenance)),
		slog.String("provider", res.Provider),
		slog.Int("attempts", len(res.Attempts)),
		slog.Float64("overall_score", res.OverallScore),
		slog.Float64("confidence_level", res.ConfidenceLevel))
	return res
}

func (r *run) step(ctx context.Context, s runState) runState {
	switch s {
	case stateIdle:
		return r.stepIdle()
	case stateCalling:
		return r.stepCalling(ctx)
	case stateRetrying:
		return r.stepRetrying(ctx)
	case stateExhausted:
		return r.stepExhausted()
	case stateValidating:
		return r.stepValidating()
	case stateFallback:
		return r.stepFallback()
	}
	return stateCompleted
}

func (r *run) stepIdle() runState {
	r.prompt = scoring.BuildPrompt(r.req.SpecText, r.req.ProposalText, r.o.rubric, r.o.cfg.Prompt)
	r.bo = r.policy.NewBackOff()
	r.attempts = []domain.ProviderAttempt{}
	if len(r.providers) == 0 {
		r.lg.Warn("no providers configured; using fallback analysis")
		return stateFallback
	}
	return stateCalling
}

// stepCalling performs one attempt; attempt n goes to providers[n mod len].
func (r *run) stepCalling(ctx context.Context) runState {
	if ctx.Err() != nil {
		return stateFallback
	}
	p := r.providers[len(r.attempts)%len(r.providers)]

	tracer := otel.Tracer("usecase.orchestrator")
	callCtx, span := tracer.Start(ctx, "Orchestrator.callProvider", trace.WithAttributes(
		attribute.String("provider", p.Name()),
		attribute.Int("attempt", len(r.attempts)+1),
	))
	started := r.o.now()
	raw, err := p.Call(callCtx, r.prompt, r.timeout)
	attempt := domain.ProviderAttempt{
		Number:    len(r.attempts) + 1,
		Provider:  p.Name(),
		StartedAt: started.UTC(),
		Duration:  r.o.now().Sub(started),
		Outcome:   domain.OutcomeSuccess,
	}
	if err != nil {
		r.lastErr, r.lastKind = err, domain.ClassifyError(err)
		attempt.Outcome = r.lastKind.Outcome()
		attempt.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, r.lastKind.String())
	}
	span.End()
	r.attempts = append(r.attempts, attempt)

	if err == nil {
		r.raw, r.provider = raw, p.Name()
		return stateValidating
	}
	r.lg.Warn("provider attempt failed",
		slog.String("provider", p.Name()),
		slog.Int("attempt", attempt.Number),
		slog.String("kind", r.lastKind.String()),
		slog.Any("error", err))
	if ctx.Err() != nil || r.lastKind == domain.KindCanceled {
		return stateFallback
	}
	if r.policy.ShouldRetry(r.lastKind, r.retries) {
		return stateRetrying
	}
	return stateExhausted
}

func (r *run) stepRetrying(ctx context.Context) runState {
	delay := r.policy.NextDelay(r.bo, r.lastKind, domain.RetryAfterOf(r.lastErr))
	obsmetrics.ObserveRetry(string(r.lastKind.Outcome()))
	r.lg.Info("retrying provider call", slog.Duration("delay", delay), slog.Int("retry", r.retries+1))
	if err := r.o.sleep(ctx, delay); err != nil {
		return stateFallback
	}
	r.retries++
	return stateCalling
}

func (r *run) stepExhausted() runState {
	r.lg.Warn("provider attempts exhausted",
		slog.Int("attempts", len(r.attempts)),
		slog.String("last_kind", r.lastKind.String()))
	return stateFallback
}

func (r *run) stepValidating() runState {
	parsed, err := r.o.parser.Parse(domain.RawResponse(r.raw))
	if err != nil {
		r.markMalformed(err)
		return stateFallback
	}
	obsmetrics.ObserveParseStage(string(parsed.Stage))

	res, report, err := r.o.normalizer.Normalize(parsed)
	if err != nil {
		r.markMalformed(err)
		return stateFallback
	}
	if len(report.Synthesized) > 0 || len(report.Defaulted) > 0 {
		r.lg.Info("provider response normalized",
			slog.String("stage", string(parsed.Stage)),
			slog.Any("synthesized", report.Synthesized),
			slog.Any("defaulted", report.Defaulted))
	}
	r.result = res
	return stateCompleted
}

// markMalformed rewrites the outcome of the successful transport attempt
// whose payload could not be used.
func (r *run) markMalformed(err error) {
	last := &r.attempts[len(r.attempts)-1]
	last.Outcome = domain.OutcomeMalformed
	last.Error = err.Error()
	var mre *domain.MalformedResponseError
	if errors.As(err, &mre) {
		r.lg.Warn("provider response unparseable", slog.String("snippet", mre.Snippet))
		return
	}
	r.lg.Warn("provider response failed normalization", slog.Any("error", err))
}

func (r *run) stepFallback() runState {
	r.result = r.o.fallback.Generate(r.req.SpecText, r.req.ProposalText)
	r.provider = ""
	return stateCompleted
}

// finalize stamps run metadata onto the result exactly once.
func (r *run) finalize() domain.AnalysisResult {
	res := r.result
	res.RequestID = r.req.ID
	res.Provider = r.provider
	res.Attempts = make([]domain.ProviderAttempt, len(r.attempts))
	copy(res.Attempts, r.attempts)
	res.CompletedAt = r.o.now().UTC()
	return res
}
