package redpanda

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/fairyhunter13/proposal-evaluator/internal/domain"
	"github.com/fairyhunter13/proposal-evaluator/internal/scoring"
)

type fakeAnalyzer struct {
	mu        sync.Mutex
	batches   [][]domain.AnalysisRequest
	limit     int
	single    int
	failBatch error
}

func (f *fakeAnalyzer) result(req domain.AnalysisRequest) (domain.AnalysisResult, error) {
	for _, p := range req.Providers {
		if p == "nope" {
			return domain.AnalysisResult{}, &domain.InputError{Field: "providers", Reason: "unknown provider nope"}
		}
	}
	res := scoring.NewFallbackGenerator(scoring.DefaultOptions()).Generate(req.SpecText, req.ProposalText)
	res.RequestID = req.ID
	return res, nil
}

func (f *fakeAnalyzer) Run(_ context.Context, req domain.AnalysisRequest) (domain.AnalysisResult, error) {
	f.mu.Lock()
	f.single++
	f.mu.Unlock()
	return f.result(req)
}

func (f *fakeAnalyzer) RunBatch(_ context.Context, reqs []domain.AnalysisRequest, limit int, _ time.Time) ([]domain.AnalysisResult, error) {
	f.mu.Lock()
	f.batches = append(f.batches, reqs)
	f.limit = limit
	f.mu.Unlock()
	if f.failBatch != nil {
		return nil, f.failBatch
	}
	out := make([]domain.AnalysisResult, len(reqs))
	var errs []error
	for i, r := range reqs {
		res, err := f.result(r)
		if err != nil {
			errs = append(errs, fmt.Errorf("requests[%d]: %w", i, err))
			continue
		}
		out[i] = res
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return out, nil
}

type fakePublisher struct {
	mu      sync.Mutex
	topic   string
	results []domain.AnalysisResultPayload
	err     error
}

func (f *fakePublisher) PublishResult(_ context.Context, topic string, res domain.AnalysisResultPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.topic = topic
	f.results = append(f.results, res)
	return nil
}

type fakePoller struct {
	mu      sync.Mutex
	batches []kgo.Fetches
	commits int
	closed  bool
}

func (f *fakePoller) PollFetches(ctx context.Context) kgo.Fetches {
	f.mu.Lock()
	if len(f.batches) > 0 {
		next := f.batches[0]
		f.batches = f.batches[1:]
		f.mu.Unlock()
		return next
	}
	f.mu.Unlock()
	<-ctx.Done()
	return nil
}

func (f *fakePoller) CommitUncommittedOffsets(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits++
	return nil
}

func (f *fakePoller) Close() { f.closed = true }

func fetchesOf(records ...*kgo.Record) kgo.Fetches {
	return kgo.Fetches{{Topics: []kgo.FetchTopic{{
		Topic:      "analysis-requests",
		Partitions: []kgo.FetchPartition{{Partition: 0, Records: records}},
	}}}}
}

func taskRecord(t *testing.T, task domain.AnalysisTaskPayload) *kgo.Record {
	t.Helper()
	b, err := json.Marshal(task)
	require.NoError(t, err)
	return &kgo.Record{Topic: "analysis-requests", Key: []byte(task.RequestID), Value: b}
}

func testConsumerConfig() ConsumerConfig {
	return ConsumerConfig{GroupID: "g", RequestsTopic: "analysis-requests", ResultsTopic: "analysis-results", Concurrency: 3}
}

func TestConsumer_HandleRecords(t *testing.T) {
	t.Parallel()

	an := &fakeAnalyzer{}
	pub := &fakePublisher{}
	c := newConsumer(&fakePoller{}, testConsumerConfig(), an, pub)

	records := []*kgo.Record{
		taskRecord(t, domain.AnalysisTaskPayload{RequestID: "a", SpecText: "spec", ProposalText: "one"}),
		{Key: []byte("broken"), Value: []byte("{not json")},
		taskRecord(t, domain.AnalysisTaskPayload{RequestID: "c", SpecText: "spec", ProposalText: "  "}),
		taskRecord(t, domain.AnalysisTaskPayload{RequestID: "d", SpecText: "spec", ProposalText: "two"}),
	}
	require.NoError(t, c.HandleRecords(context.Background(), records))

	require.Len(t, an.batches, 1)
	assert.Len(t, an.batches[0], 2)
	assert.Equal(t, 3, an.limit)

	assert.Equal(t, "analysis-results", pub.topic)
	require.Len(t, pub.results, 4)
	tests := []struct {
		id     string
		status string
	}{
		{"a", domain.ResultStatusCompleted},
		{"broken", domain.ResultStatusRejected},
		{"c", domain.ResultStatusRejected},
		{"d", domain.ResultStatusCompleted},
	}
	for i, tt := range tests {
		assert.Equal(t, tt.id, pub.results[i].RequestID)
		assert.Equal(t, tt.status, pub.results[i].Status)
	}
	require.NotNil(t, pub.results[0].Result)
	assert.NoError(t, pub.results[0].Result.Validate())
	assert.Contains(t, pub.results[2].Error, "proposal_text")
}

func TestConsumer_HandleRecords_MissingIDGetsOne(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{}
	c := newConsumer(&fakePoller{}, testConsumerConfig(), &fakeAnalyzer{}, pub)
	rec := &kgo.Record{Value: []byte("[]")}
	require.NoError(t, c.HandleRecords(context.Background(), []*kgo.Record{rec}))
	require.Len(t, pub.results, 1)
	assert.NotEmpty(t, pub.results[0].RequestID)
	assert.Equal(t, domain.ResultStatusRejected, pub.results[0].Status)
}

func TestConsumer_HandleRecords_UnknownProviderIsolated(t *testing.T) {
	t.Parallel()

	an := &fakeAnalyzer{}
	pub := &fakePublisher{}
	c := newConsumer(&fakePoller{}, testConsumerConfig(), an, pub)
	records := []*kgo.Record{
		taskRecord(t, domain.AnalysisTaskPayload{RequestID: "ok", SpecText: "s", ProposalText: "p"}),
		taskRecord(t, domain.AnalysisTaskPayload{RequestID: "bad", SpecText: "s", ProposalText: "p", Providers: []string{"nope"}}),
	}
	require.NoError(t, c.HandleRecords(context.Background(), records))

	assert.Equal(t, 2, an.single)
	require.Len(t, pub.results, 2)
	assert.Equal(t, domain.ResultStatusCompleted, pub.results[0].Status)
	assert.Equal(t, domain.ResultStatusRejected, pub.results[1].Status)
	assert.Contains(t, pub.results[1].Error, "providers")
}

func TestConsumer_HandleRecords_Failures(t *testing.T) {
	t.Parallel()

	rec := taskRecord(t, domain.AnalysisTaskPayload{RequestID: "a", SpecText: "s", ProposalText: "p"})

	c := newConsumer(&fakePoller{}, testConsumerConfig(), &fakeAnalyzer{failBatch: context.DeadlineExceeded}, &fakePublisher{})
	assert.ErrorIs(t, c.HandleRecords(context.Background(), []*kgo.Record{rec}), context.DeadlineExceeded)

	pubErr := errors.New("broker down")
	c = newConsumer(&fakePoller{}, testConsumerConfig(), &fakeAnalyzer{}, &fakePublisher{err: pubErr})
	assert.ErrorIs(t, c.HandleRecords(context.Background(), []*kgo.Record{rec}), pubErr)
}

func TestConsumer_Run_CommitsAfterPublish(t *testing.T) {
	t.Parallel()

	poll := &fakePoller{batches: []kgo.Fetches{
		fetchesOf(),
		fetchesOf(taskRecord(t, domain.AnalysisTaskPayload{RequestID: "a", SpecText: "s", ProposalText: "p"})),
	}}
	pub := &fakePublisher{}
	c := newConsumer(poll, testConsumerConfig(), &fakeAnalyzer{}, pub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool {
		poll.mu.Lock()
		defer poll.mu.Unlock()
		return poll.commits == 1
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	pub.mu.Lock()
	assert.Len(t, pub.results, 1)
	pub.mu.Unlock()

	require.NoError(t, c.Close())
	assert.True(t, poll.closed)
}

func TestConsumer_Run_StopsOnPublishFailure(t *testing.T) {
	t.Parallel()

	poll := &fakePoller{batches: []kgo.Fetches{
		fetchesOf(taskRecord(t, domain.AnalysisTaskPayload{RequestID: "a", SpecText: "s", ProposalText: "p"})),
	}}
	c := newConsumer(poll, testConsumerConfig(), &fakeAnalyzer{}, &fakePublisher{err: errors.New("broker down")})
	err := c.Run(context.Background())
	require.Error(t, err)
	assert.Zero(t, poll.commits)
}

func TestNewConsumer_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewConsumer(context.Background(), ConsumerConfig{GroupID: "g", RequestsTopic: "a", ResultsTopic: "b"}, &fakeAnalyzer{}, &fakePublisher{})
	assert.Error(t, err)
	_, err = NewConsumer(context.Background(), ConsumerConfig{Brokers: []string{"x:9092"}, RequestsTopic: "a", ResultsTopic: "b"}, &fakeAnalyzer{}, &fakePublisher{})
	assert.Error(t, err)
	_, err = NewConsumer(context.Background(), ConsumerConfig{Brokers: []string{"x:9092"}, GroupID: "g"}, &fakeAnalyzer{}, &fakePublisher{})
	assert.Error(t, err)
}
