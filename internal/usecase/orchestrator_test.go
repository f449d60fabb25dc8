package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/proposal-evaluator/internal/adapter/ai"
	"github.com/fairyhunter13/proposal-evaluator/internal/domain"
	"github.com/fairyhunter13/proposal-evaluator/internal/scoring"
)

type reply struct {
	out string
	err error
}

// scriptedProvider returns its replies in order, repeating the last one.
type scriptedProvider struct {
	name    string
	mu      sync.Mutex
	replies []reply
	calls   int
	block   bool
}

func (p *scriptedProvider) Name() string { return p.name }

func (p *scriptedProvider) Call(ctx context.Context, _ domain.Prompt, _ time.Duration) (string, error) {
	p.mu.Lock()
	i := p.calls
	p.calls++
	p.mu.Unlock()
	if p.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if i >= len(p.replies) {
		i = len(p.replies) - 1
	}
	return p.replies[i].out, p.replies[i].err
}

func (p *scriptedProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func validJSON(score float64) string {
	sections := map[string]any{}
	for _, id := range domain.CriterionOrder {
		sections[string(id)] = map[string]any{
			"score": score, "description": "d", "key_findings": []string{"f"},
			"recommendations": []string{"r"}, "risk_level": "medium",
		}
	}
	b, _ := json.Marshal(map[string]any{
		"overall_score": score, "confidence_level": 80, "sections": sections,
		"executive_summary": "summary", "final_recommendation": "conditional_accept",
	})
	return string(b)
}

func timeoutErr(p string) error {
	return domain.NewProviderError(p, domain.KindTimeout, context.DeadlineExceeded)
}

func newTestOrchestrator(t *testing.T, sr *sleepRecorder, maxRetries int, providers ...domain.ProviderClient) *Orchestrator {
	t.Helper()
	names := make([]string, 0, len(providers))
	for _, p := range providers {
		names = append(names, p.Name())
	}
	policy := domain.RetryPolicy{
		MaxRetries:     maxRetries,
		BackoffBase:    100 * time.Millisecond,
		BackoffCap:     10 * time.Second,
		TransientFloor: 50 * time.Millisecond,
		RateLimitFloor: 2 * time.Second,
	}
	return NewOrchestrator(
		OrchestratorConfig{Policy: policy, PerAttemptTimeout: time.Second, DefaultProviders: names, Concurrency: 2},
		ai.NewRegistry(providers...),
		ai.NewResponseParser(),
		scoring.DefaultOptions(),
		WithSleeper(sr.sleep),
	)
}

func request() domain.AnalysisRequest {
	return domain.AnalysisRequest{
		SpecText:     "Build a secure reporting portal within a fixed budget and six month timeline.",
		ProposalText: "Our senior team proposes a scalable architecture, fixed price, monthly milestones and security testing.",
	}
}

// Three consecutive timeouts exhaust a budget of two retries and fall back.
func TestRun_TimeoutsExhaustRetriesThenFallback(t *testing.T) {
	t.Parallel()

	p := &scriptedProvider{name: "p", replies: []reply{{err: timeoutErr("p")}}}
	sr := &sleepRecorder{}
	o := newTestOrchestrator(t, sr, 2, p)

	res, err := o.Run(context.Background(), request())
	require.NoError(t, err)
	require.NoError(t, res.Validate())

	assert.Equal(t, domain.ProvenanceFallback, res.Provenance)
	assert.LessOrEqual(t, res.ConfidenceLevel, 30.0)
	require.Len(t, res.Attempts, 3)
	for i, a := range res.Attempts {
		assert.Equal(t, i+1, a.Number)
		assert.Equal(t, domain.OutcomeTimeout, a.Outcome)
	}
	assert.Equal(t, 3, p.Calls())
	assert.Len(t, sr.delays, 2)
	assert.Empty(t, res.Provider)
	assert.NotEmpty(t, res.RequestID)
}

// A fenced JSON block is parsed without repair or fallback.
func TestRun_FencedResponseIsProviderSuccess(t *testing.T) {
	t.Parallel()

	p := &scriptedProvider{name: "p", replies: []reply{{out: "Here you go:\n```json\n" + validJSON(72) + "\n```\nThanks"}}}
	o := newTestOrchestrator(t, &sleepRecorder{}, 3, p)

	res, err := o.Run(context.Background(), request())
	require.NoError(t, err)
	require.NoError(t, res.Validate())

	assert.Equal(t, domain.ProvenanceProviderSuccess, res.Provenance)
	assert.Equal(t, 72.0, res.OverallScore)
	assert.Equal(t, 80.0, res.ConfidenceLevel)
	assert.Equal(t, "p", res.Provider)
	require.Len(t, res.Attempts, 1)
	assert.Equal(t, domain.OutcomeSuccess, res.Attempts[0].Outcome)
}

// Rate limited once, then success: two attempts, no fallback and the
// retry waits at least the rate-limit floor.
func TestRun_RateLimitedThenSuccess(t *testing.T) {
	t.Parallel()

	limited := domain.ProviderErrorFromStatus("p", http.StatusTooManyRequests, 0, "slow down")
	p := &scriptedProvider{name: "p", replies: []reply{{err: limited}, {out: validJSON(81)}}}
	sr := &sleepRecorder{}
	o := newTestOrchestrator(t, sr, 3, p)

	res, err := o.Run(context.Background(), request())
	require.NoError(t, err)

	assert.Equal(t, domain.ProvenanceProviderSuccess, res.Provenance)
	require.Len(t, res.Attempts, 2)
	assert.Equal(t, domain.OutcomeRateLimited, res.Attempts[0].Outcome)
	assert.Equal(t, domain.OutcomeSuccess, res.Attempts[1].Outcome)
	require.Len(t, sr.delays, 1)
	assert.GreaterOrEqual(t, sr.delays[0], 2*time.Second)
}

// An auth failure is never retried.
func TestRun_AuthErrorFallsBackWithoutRetry(t *testing.T) {
	t.Parallel()

	p := &scriptedProvider{name: "p", replies: []reply{{err: domain.ProviderErrorFromStatus("p", http.StatusUnauthorized, 0, "")}}}
	sr := &sleepRecorder{}
	o := newTestOrchestrator(t, sr, 3, p)

	res, err := o.Run(context.Background(), request())
	require.NoError(t, err)

	assert.Equal(t, domain.ProvenanceFallback, res.Provenance)
	require.Len(t, res.Attempts, 1)
	assert.Equal(t, domain.OutcomeAuthError, res.Attempts[0].Outcome)
	assert.Empty(t, sr.delays)
	assert.Equal(t, 1, p.Calls())
}

// Missing summary and two sections are synthesized; overall comes from all ten scores.
func TestRun_PartialResponseIsRepaired(t *testing.T) {
	t.Parallel()

	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(validJSON(90)), &m))
	sections := m["sections"].(map[string]any)
	delete(sections, "budget")
	delete(sections, "communication")
	delete(m, "executive_summary")
	delete(m, "overall_score")
	b, err := json.Marshal(m)
	require.NoError(t, err)

	p := &scriptedProvider{name: "p", replies: []reply{{out: string(b)}}}
	res, err := newTestOrchestrator(t, &sleepRecorder{}, 3, p).Run(context.Background(), request())
	require.NoError(t, err)
	require.NoError(t, res.Validate())

	assert.Equal(t, domain.ProvenanceRepaired, res.Provenance)
	assert.Equal(t, domain.RiskUnknown, res.Sections[0].RiskLevel)
	assert.Equal(t, domain.RiskUnknown, res.Sections[8].RiskLevel)
	assert.InDelta(t, (8*90.0+2*50.0)/10, res.OverallScore, 1e-9)
	assert.NotEmpty(t, res.ExecutiveSummary)
}

func TestRun_RepairedJSON(t *testing.T) {
	t.Parallel()

	broken := strings.TrimSuffix(validJSON(64), "}")
	broken = strings.Replace(broken, `"executive_summary"`, `executive_summary`, 1)
	p := &scriptedProvider{name: "p", replies: []reply{{out: broken}}}

	res, err := newTestOrchestrator(t, &sleepRecorder{}, 3, p).Run(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, domain.ProvenanceRepaired, res.Provenance)
	assert.Equal(t, 64.0, res.OverallScore)
}

func TestRun_MalformedFallsBackWithoutRetry(t *testing.T) {
	t.Parallel()

	p := &scriptedProvider{name: "p", replies: []reply{{out: "I'm sorry, I cannot evaluate this proposal."}}}
	sr := &sleepRecorder{}
	res, err := newTestOrchestrator(t, sr, 3, p).Run(context.Background(), request())
	require.NoError(t, err)

	assert.Equal(t, domain.ProvenanceFallback, res.Provenance)
	require.Len(t, res.Attempts, 1)
	assert.Equal(t, domain.OutcomeMalformed, res.Attempts[0].Outcome)
	assert.Empty(t, sr.delays)
}

func TestRun_InputErrorsEscape(t *testing.T) {
	t.Parallel()

	p := &scriptedProvider{name: "p", replies: []reply{{out: validJSON(50)}}}
	o := newTestOrchestrator(t, &sleepRecorder{}, 3, p)

	tests := []struct {
		name  string
		input domain.AnalysisRequest
	}{
		{"empty spec", domain.AnalysisRequest{ProposalText: "x"}},
		{"control chars only", domain.AnalysisRequest{SpecText: "spec", ProposalText: "\x00\x01"}},
		{"unknown provider", domain.AnalysisRequest{SpecText: "spec", ProposalText: "p", Providers: []string{"nope"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := o.Run(context.Background(), tt.input)
			var ie *domain.InputError
			require.ErrorAs(t, err, &ie)
			assert.ErrorIs(t, err, domain.ErrInvalidArgument)
		})
	}
	assert.Zero(t, p.Calls())
}

func TestRun_CancellationFallsBackImmediately(t *testing.T) {
	t.Parallel()

	p := &scriptedProvider{name: "p", block: true}
	o := newTestOrchestrator(t, &sleepRecorder{}, 3, p)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	res, err := o.Run(ctx, request())
	require.NoError(t, err)
	assert.Equal(t, domain.ProvenanceFallback, res.Provenance)
	assert.Len(t, res.Attempts, 1)
}

func TestRun_RotatesProviders(t *testing.T) {
	t.Parallel()

	a := &scriptedProvider{name: "a", replies: []reply{{err: domain.NewProviderError("a", domain.KindServer, errors.New("boom"))}}}
	b := &scriptedProvider{name: "b", replies: []reply{{out: validJSON(66)}}}
	o := newTestOrchestrator(t, &sleepRecorder{}, 3, a, b)

	res, err := o.Run(context.Background(), request())
	require.NoError(t, err)
	require.Len(t, res.Attempts, 2)
	assert.Equal(t, "a", res.Attempts[0].Provider)
	assert.Equal(t, domain.OutcomeServerError, res.Attempts[0].Outcome)
	assert.Equal(t, "b", res.Attempts[1].Provider)
	assert.Equal(t, "b", res.Provider)
}

func TestRun_PerRequestOverrides(t *testing.T) {
	t.Parallel()

	p := &scriptedProvider{name: "p", replies: []reply{{err: timeoutErr("p")}}}
	o := newTestOrchestrator(t, &sleepRecorder{}, 3, p)

	zero := 0
	req := request()
	req.MaxRetries = &zero
	req.ID = "fixed-id"
	res, err := o.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, res.Attempts, 1)
	assert.Equal(t, "fixed-id", res.RequestID)
}

func TestRun_NoProvidersUsesFallback(t *testing.T) {
	t.Parallel()

	o := NewOrchestrator(OrchestratorConfig{}, ai.NewRegistry(), ai.NewResponseParser(), scoring.DefaultOptions())
	res, err := o.Run(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, domain.ProvenanceFallback, res.Provenance)
	assert.NotNil(t, res.Attempts)
	assert.Empty(t, res.Attempts)
}

func TestFallback(t *testing.T) {
	o := NewOrchestrator(OrchestratorConfig{}, ai.NewRegistry(), ai.NewResponseParser(), scoring.DefaultOptions())
	res, err := o.Fallback(request())
	require.NoError(t, err)
	require.NoError(t, res.Validate())
	assert.Equal(t, domain.ProvenanceFallback, res.Provenance)

	_, err = o.Fallback(domain.AnalysisRequest{})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

// concurrencyProbe tracks how many calls are in flight at once.
type concurrencyProbe struct {
	inFlight int32
	peak     int32
}

func (c *concurrencyProbe) Name() string { return "probe" }

func (c *concurrencyProbe) Call(_ context.Context, prompt domain.Prompt, _ time.Duration) (string, error) {
	n := atomic.AddInt32(&c.inFlight, 1)
	defer atomic.AddInt32(&c.inFlight, -1)
	for {
		peak := atomic.LoadInt32(&c.peak)
		if n <= peak || atomic.CompareAndSwapInt32(&c.peak, peak, n) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)
	// Echo a score derived from the proposal so ordering can be checked.
	var score float64
	_, _ = fmt.Sscanf(prompt.User[strings.Index(prompt.User, "PROPOSAL:\nscore ")+len("PROPOSAL:\nscore "):], "%f", &score)
	return validJSON(score), nil
}

func TestRunBatch_OrderAndConcurrencyLimit(t *testing.T) {
	t.Parallel()

	probe := &concurrencyProbe{}
	o := newTestOrchestrator(t, &sleepRecorder{}, 1, probe)

	reqs := make([]domain.AnalysisRequest, 12)
	for i := range reqs {
		reqs[i] = domain.AnalysisRequest{ID: fmt.Sprintf("r%d", i), SpecText: "spec", ProposalText: fmt.Sprintf("score %d", i*5)}
	}
	results, err := o.RunBatch(context.Background(), reqs, 3, time.Time{})
	require.NoError(t, err)
	require.Len(t, results, len(reqs))

	for i, res := range results {
		require.NoError(t, res.Validate())
		assert.Equal(t, fmt.Sprintf("r%d", i), res.RequestID)
		assert.Equal(t, float64(i*5), res.OverallScore)
		assert.Equal(t, domain.ProvenanceProviderSuccess, res.Provenance)
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&probe.peak), int32(3))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&probe.peak), int32(1))
}

// slowFirst answers request i of n after (n-i) steps, so later submissions
// finish first.
type slowFirst struct {
	n    int
	step time.Duration

	mu       sync.Mutex
	finished []int
}

func (s *slowFirst) Name() string { return "slow-first" }

func (s *slowFirst) Call(ctx context.Context, prompt domain.Prompt, _ time.Duration) (string, error) {
	const marker = "PROPOSAL:\nitem "
	var i int
	_, _ = fmt.Sscanf(prompt.User[strings.Index(prompt.User, marker)+len(marker):], "%d", &i)
	select {
	case <-time.After(time.Duration(s.n-i) * s.step):
	case <-ctx.Done():
		return "", ctx.Err()
	}
	s.mu.Lock()
	s.finished = append(s.finished, i)
	s.mu.Unlock()
	return validJSON(float64(i * 10)), nil
}

func TestRunBatch_ReversedCompletionKeepsSubmissionOrder(t *testing.T) {
	t.Parallel()

	const n = 6
	p := &slowFirst{n: n, step: 15 * time.Millisecond}
	o := newTestOrchestrator(t, &sleepRecorder{}, 0, p)

	reqs := make([]domain.AnalysisRequest, n)
	for i := range reqs {
		reqs[i] = domain.AnalysisRequest{ID: fmt.Sprintf("req-%d", i), SpecText: "spec", ProposalText: fmt.Sprintf("item %d", i)}
	}
	results, err := o.RunBatch(context.Background(), reqs, n, time.Time{})
	require.NoError(t, err)
	require.Len(t, results, n)

	for i, res := range results {
		assert.Equal(t, reqs[i].ID, res.RequestID)
		assert.Equal(t, float64(i*10), res.OverallScore)
		assert.Equal(t, domain.ProvenanceProviderSuccess, res.Provenance)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	require.Len(t, p.finished, n)
	pos := map[int]int{}
	for k, i := range p.finished {
		pos[i] = k
	}
	assert.Less(t, pos[n-1], pos[0], "last submission should finish before the first")
}

func TestRunBatch_InvalidRequestFailsWholeBatch(t *testing.T) {
	t.Parallel()

	p := &scriptedProvider{name: "p", replies: []reply{{out: validJSON(50)}}}
	o := newTestOrchestrator(t, &sleepRecorder{}, 1, p)

	_, err := o.RunBatch(context.Background(), []domain.AnalysisRequest{request(), {SpecText: "s"}}, 2, time.Time{})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	assert.Contains(t, err.Error(), "requests[1]")
	assert.Zero(t, p.Calls())
}

func TestRunBatch_DeadlineFallsBackWithoutLeaks(t *testing.T) {
	t.Parallel()

	p := &scriptedProvider{name: "p", block: true}
	o := newTestOrchestrator(t, &sleepRecorder{}, 3, p)

	reqs := []domain.AnalysisRequest{request(), request(), request(), request()}
	start := time.Now()
	results, err := o.RunBatch(context.Background(), reqs, 2, time.Now().Add(50*time.Millisecond))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)

	for _, res := range results {
		require.NoError(t, res.Validate())
		assert.Equal(t, domain.ProvenanceFallback, res.Provenance)
	}
}

func TestRunState_String(t *testing.T) {
	assert.Equal(t, "calling", stateCalling.String())
	assert.Equal(t, "completed", stateCompleted.String())
	assert.Equal(t, "unknown", runState(42).String())
}
