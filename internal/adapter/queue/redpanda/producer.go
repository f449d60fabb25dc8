// Package redpanda carries analysis requests and results over Redpanda/Kafka.
//
// Requests arrive as JSON AnalysisTaskPayload records; the worker analyzes a
// polled batch, publishes one AnalysisResultPayload per request keyed by its
// request id and only then commits the consumed offsets, so a crash between
// publish and commit redelivers instead of losing work.
package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/proposal-evaluator/internal/domain"
)

const (
	headerRequestID = "request_id"
	headerStatus    = "status"

	publishMaxRetries = 5
)

// syncProducer is the subset of *kgo.Client the Producer needs.
type syncProducer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// Producer publishes analysis tasks and results.
type Producer struct {
	client  syncProducer
	backoff func() backoff.BackOff
}

func kotelHooks() kgo.Opt {
	tracer := kotel.NewTracer(kotel.TracerProvider(otel.GetTracerProvider()))
	return kgo.WithHooks(kotel.NewKotel(kotel.WithTracer(tracer)).Hooks()...)
}

// NewProducer connects to brokers and makes sure every topic in topics exists.
func NewProducer(ctx context.Context, brokers []string, topics ...string) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no seed brokers provided")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.RequestRetries(10),
		kgo.ProducerBatchMaxBytes(1000000),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kotelHooks(),
	)
	if err != nil {
		return nil, fmt.Errorf("op=redpanda.NewProducer: %w", err)
	}
	for _, t := range topics {
		if err := EnsureTopic(ctx, client, t, 1, 1); err != nil {
			slog.Warn("failed to ensure topic", slog.String("topic", t), slog.Any("error", err))
		}
	}
	slog.Info("redpanda producer created", slog.Any("brokers", brokers))
	return newProducer(client), nil
}

func newProducer(client syncProducer) *Producer {
	return &Producer{
		client: client,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			return backoff.WithMaxRetries(b, publishMaxRetries)
		},
	}
}

// PublishTask enqueues an analysis request.
func (p *Producer) PublishTask(ctx context.Context, topic string, task domain.AnalysisTaskPayload) error {
	b, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("op=redpanda.PublishTask: %w", err)
	}
	return p.publish(ctx, &kgo.Record{
		Topic:   topic,
		Key:     []byte(task.RequestID),
		Value:   b,
		Headers: []kgo.RecordHeader{{Key: headerRequestID, Value: []byte(task.RequestID)}},
	})
}

// PublishResult publishes the outcome of one request, keyed by its request id.
func (p *Producer) PublishResult(ctx context.Context, topic string, res domain.AnalysisResultPayload) error {
	b, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("op=redpanda.PublishResult: %w", err)
	}
	return p.publish(ctx, &kgo.Record{
		Topic: topic,
		Key:   []byte(res.RequestID),
		Value: b,
		Headers: []kgo.RecordHeader{
			{Key: headerRequestID, Value: []byte(res.RequestID)},
			{Key: headerStatus, Value: []byte(res.Status)},
		},
	})
}

func (p *Producer) publish(ctx context.Context, rec *kgo.Record) error {
	op := func() error {
		if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			slog.Warn("produce failed; retrying",
				slog.String("topic", rec.Topic),
				slog.String("key", string(rec.Key)),
				slog.Any("error", err))
			return err
		}
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(p.backoff(), ctx)); err != nil {
		return fmt.Errorf("op=redpanda.publish topic=%s: %w", rec.Topic, err)
	}
	return nil
}

// Close flushes and closes the underlying client.
func (p *Producer) Close() error {
	if p.client != nil {
		p.client.Close()
	}
	return nil
}
