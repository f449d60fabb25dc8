package redpanda

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/fairyhunter13/proposal-evaluator/internal/adapter/observability"
	"github.com/fairyhunter13/proposal-evaluator/internal/domain"
	obsctx "github.com/fairyhunter13/proposal-evaluator/internal/observability"
)

// Analyzer runs analyses for the worker.
type Analyzer interface {
	Run(ctx context.Context, req domain.AnalysisRequest) (domain.AnalysisResult, error)
	RunBatch(ctx context.Context, reqs []domain.AnalysisRequest, limit int, deadline time.Time) ([]domain.AnalysisResult, error)
}

// ResultPublisher publishes per-request outcomes.
type ResultPublisher interface {
	PublishResult(ctx context.Context, topic string, res domain.AnalysisResultPayload) error
}

// poller is the subset of *kgo.Client the Consumer needs.
type poller interface {
	PollFetches(ctx context.Context) kgo.Fetches
	CommitUncommittedOffsets(ctx context.Context) error
	Close()
}

// ConsumerConfig configures the worker.
type ConsumerConfig struct {
	Brokers       []string
	GroupID       string
	RequestsTopic string
	ResultsTopic  string
	Concurrency   int
}

// Consumer polls analysis requests, analyzes each polled batch with bounded
// concurrency and publishes the results before committing offsets.
type Consumer struct {
	client    poller
	analyzer  Analyzer
	publisher ResultPublisher
	cfg       ConsumerConfig
}

// NewConsumer joins the consumer group and makes sure the requests topic exists.
func NewConsumer(ctx context.Context, cfg ConsumerConfig, analyzer Analyzer, publisher ResultPublisher) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("no seed brokers provided")
	}
	if cfg.GroupID == "" {
		return nil, fmt.Errorf("missing required group ID")
	}
	if cfg.RequestsTopic == "" || cfg.ResultsTopic == "" {
		return nil, fmt.Errorf("requests and results topics are required")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(cfg.RequestsTopic),
		kgo.FetchIsolationLevel(kgo.ReadCommitted()),
		kgo.DisableAutoCommit(),
		kgo.RequireStableFetchOffsets(),
		kgo.DialTimeout(10*time.Second),
		kgo.SessionTimeout(30*time.Second),
		kgo.HeartbeatInterval(3*time.Second),
		kgo.RebalanceTimeout(time.Minute),
		kgo.FetchMaxBytes(10*1024*1024),
		kgo.FetchMaxPartitionBytes(2*1024*1024),
		kotelHooks(),
	)
	if err != nil {
		return nil, fmt.Errorf("op=redpanda.NewConsumer: %w", err)
	}
	if err := EnsureTopic(ctx, client, cfg.RequestsTopic, 1, 1); err != nil {
		slog.Warn("failed to ensure topic", slog.String("topic", cfg.RequestsTopic), slog.Any("error", err))
	}
	slog.Info("redpanda consumer created",
		slog.Any("brokers", cfg.Brokers),
		slog.String("group_id", cfg.GroupID),
		slog.String("topic", cfg.RequestsTopic))
	return newConsumer(client, cfg, analyzer, publisher), nil
}

func newConsumer(client poller, cfg ConsumerConfig, analyzer Analyzer, publisher ResultPublisher) *Consumer {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Consumer{client: client, analyzer: analyzer, publisher: publisher, cfg: cfg}
}

// Run polls until ctx is done. It returns nil on shutdown and an error when a
// batch could not be published; uncommitted records are then redelivered.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		fetches := c.client.PollFetches(ctx)
		if ctx.Err() != nil || fetches.IsClientClosed() {
			return nil
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			slog.Error("fetch error",
				slog.String("topic", topic),
				slog.Int("partition", int(partition)),
				slog.Any("error", err))
		})
		records := fetches.Records()
		if len(records) == 0 {
			continue
		}
		if err := c.HandleRecords(ctx, records); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := c.client.CommitUncommittedOffsets(ctx); err != nil {
			slog.Error("offset commit failed", slog.Any("error", err))
		}
	}
}

// HandleRecords analyzes records and publishes one result per record.
// Undecodable or invalid records are published as rejected.
func (c *Consumer) HandleRecords(ctx context.Context, records []*kgo.Record) error {
	ctx, span := otel.Tracer("queue.consumer").Start(ctx, "HandleAnalysisRecords")
	defer span.End()
	span.SetAttributes(attribute.Int("records", len(records)))

	out := make([]domain.AnalysisResultPayload, len(records))
	var (
		reqs []domain.AnalysisRequest
		idx  []int
	)
	for i, rec := range records {
		task, err := decodeTask(rec)
		if err != nil {
			out[i] = rejected(task.RequestID, err)
			continue
		}
		req := task.ToRequest()
		if err := req.Validate(); err != nil {
			out[i] = rejected(task.RequestID, err)
			continue
		}
		reqs = append(reqs, req)
		idx = append(idx, i)
	}

	if len(reqs) > 0 {
		results, err := c.analyze(ctx, reqs)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		for j, i := range idx {
			out[i] = results[j]
		}
	}

	for _, res := range out {
		if err := c.publisher.PublishResult(ctx, c.cfg.ResultsTopic, res); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		observability.ObserveQueueRecord(res.Status)
	}
	return nil
}

// analyze runs reqs as one batch. A batch refused for invalid input (for
// example an unknown provider on one request) is retried request by request
// so only the offending requests are rejected.
func (c *Consumer) analyze(ctx context.Context, reqs []domain.AnalysisRequest) ([]domain.AnalysisResultPayload, error) {
	out := make([]domain.AnalysisResultPayload, len(reqs))
	results, err := c.analyzer.RunBatch(ctx, reqs, c.cfg.Concurrency, time.Time{})
	if err == nil {
		for i := range results {
			out[i] = completed(results[i])
		}
		return out, nil
	}
	if !errors.Is(err, domain.ErrInvalidArgument) {
		return nil, err
	}
	obsctx.LoggerFromContext(ctx).Warn("batch rejected; analyzing requests individually", slog.Any("error", err))
	for i, req := range reqs {
		res, err := c.analyzer.Run(ctx, req)
		switch {
		case err == nil:
			out[i] = completed(res)
		case errors.Is(err, domain.ErrInvalidArgument):
			out[i] = rejected(req.ID, err)
		default:
			return nil, err
		}
	}
	return out, nil
}

// decodeTask decodes a record value. The request id falls back to the record
// key and then to a fresh uuid so every result can be keyed.
func decodeTask(rec *kgo.Record) (domain.AnalysisTaskPayload, error) {
	var task domain.AnalysisTaskPayload
	err := json.Unmarshal(rec.Value, &task)
	if task.RequestID == "" {
		task.RequestID = string(rec.Key)
	}
	if task.RequestID == "" {
		task.RequestID = uuid.NewString()
	}
	if err != nil {
		return task, &domain.InputError{Field: "payload", Reason: "is not valid JSON"}
	}
	return task, nil
}

func completed(res domain.AnalysisResult) domain.AnalysisResultPayload {
	r := res
	return domain.AnalysisResultPayload{RequestID: res.RequestID, Status: domain.ResultStatusCompleted, Result: &r}
}

func rejected(requestID string, err error) domain.AnalysisResultPayload {
	return domain.AnalysisResultPayload{RequestID: requestID, Status: domain.ResultStatusRejected, Error: err.Error()}
}

// Close leaves the group and closes the client.
func (c *Consumer) Close() error {
	if c.client != nil {
		c.client.Close()
	}
	return nil
}
