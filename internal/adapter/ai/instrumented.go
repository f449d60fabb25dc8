package ai

import (
	"log/slog"
	"time"

	"github.com/fairyhunter13/proposal-evaluator/internal/adapter/ai/tokencount"
	obs "github.com/fairyhunter13/proposal-evaluator/internal/adapter/observability"
	"github.com/fairyhunter13/proposal-evaluator/internal/domain"
	"github.com/fairyhunter13/proposal-evaluator/internal/observability"
)

type modeled interface {
	Model() string
}

// InstrumentedProvider records metrics, prompt size and a log line for every call.
type InstrumentedProvider struct {
	next    domain.ProviderClient
	counter *tokencount.Counter
	model   string
}

// NewInstrumentedProvider wraps next with call metrics.
func NewInstrumentedProvider(next domain.ProviderClient, counter *tokencount.Counter) *InstrumentedProvider {
	if counter == nil {
		counter = tokencount.DefaultCounter
	}
	model := "gpt-4"
	if m, ok := next.(modeled); ok && m.Model() != "" {
		model = m.Model()
	}
	return &InstrumentedProvider{next: next, counter: counter, model: model}
}

func (p *InstrumentedProvider) Name() string { return p.next.Name() }

func (p *InstrumentedProvider) Call(ctx domain.Context, prompt domain.Prompt, timeout time.Duration) (string, error) {
	name := p.next.Name()
	tokens := p.counter.CountPromptTokens(prompt, p.model)
	obs.ObservePromptTokens(name, tokens)

	start := time.Now()
	out, err := p.next.Call(ctx, prompt, timeout)
	dur := time.Since(start)
	kind := domain.ClassifyError(err)
	obs.ObserveProviderCall(name, string(kind.Outcome()), dur)

	lg := observability.LoggerFromContext(ctx)
	if err != nil {
		lg.Warn("provider call failed",
			slog.String("provider", name),
			slog.String("kind", kind.String()),
			slog.Duration("duration", dur),
			slog.Any("error", err))
		return "", err
	}
	lg.Debug("provider call succeeded",
		slog.String("provider", name),
		slog.String("model", p.model),
		slog.Int("prompt_tokens", tokens),
		slog.Int("completion_tokens", p.counter.CountTokens(out, p.model)),
		slog.Duration("duration", dur))
	return out, nil
}
