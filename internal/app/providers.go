package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	ai "github.com/fairyhunter13/proposal-evaluator/internal/adapter/ai"
	"github.com/fairyhunter13/proposal-evaluator/internal/adapter/ai/openai"
	"github.com/fairyhunter13/proposal-evaluator/internal/adapter/ai/openrouter"
	"github.com/fairyhunter13/proposal-evaluator/internal/adapter/ai/stub"
	"github.com/fairyhunter13/proposal-evaluator/internal/adapter/ai/tokencount"
	"github.com/fairyhunter13/proposal-evaluator/internal/config"
	"github.com/fairyhunter13/proposal-evaluator/internal/domain"
	"github.com/fairyhunter13/proposal-evaluator/internal/service/ratelimiter"
)

// NewRedisClient connects to cfg.RedisURL. It returns nil when Redis is not configured.
func NewRedisClient(ctx context.Context, cfg config.Config) (*redis.Client, error) {
	if cfg.RedisURL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("op=app.NewRedisClient: %w", err)
	}
	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("op=app.NewRedisClient: %w", err)
	}
	return rdb, nil
}

// BuildRegistry registers every provider the configuration knows about.
// Each client is throttled through the shared Redis token bucket when rdb is
// set and instrumented with token counts and call metrics.
func BuildRegistry(cfg config.Config, rdb *redis.Client) *ai.Registry {
	providers := []domain.ProviderClient{
		openrouter.New(openrouter.Config{
			APIKey:      cfg.OpenRouterAPIKey,
			BaseURL:     cfg.OpenRouterBaseURL,
			Model:       cfg.OpenRouterModel,
			Referer:     cfg.OpenRouterReferer,
			Title:       cfg.OpenRouterTitle,
			MaxTokens:   cfg.ProviderMaxTokens,
			Temperature: cfg.ProviderTemperature,
		}),
		openai.New(openai.Config{
			APIKey:      cfg.OpenAIAPIKey,
			BaseURL:     cfg.OpenAIBaseURL,
			Model:       cfg.OpenAIModel,
			MaxTokens:   cfg.ProviderMaxTokens,
			Temperature: cfg.ProviderTemperature,
		}, nil),
	}
	if cfg.OpenRouterAPIKey == "" {
		slog.Warn("OPENROUTER_API_KEY not set; openrouter calls will fail with auth errors")
	}
	if cfg.OpenAIAPIKey == "" {
		slog.Warn("OPENAI_API_KEY not set; openai calls will fail with auth errors")
	}
	if cfg.StubEnabled() {
		providers = append(providers, stub.New(0))
	}

	var limiter ratelimiter.Limiter
	if rdb != nil {
		l := ratelimiter.NewRedisLuaLimiter(rdb, nil)
		for _, p := range providers {
			l.SetBucketConfig(ai.BucketKey(p.Name()), ratelimiter.NewBucketConfigFromPerMinute(cfg.ProviderRateLimitPerMin))
		}
		limiter = l
	}

	reg := ai.NewRegistry()
	for _, p := range providers {
		reg.Register(ai.NewInstrumentedProvider(ai.NewThrottledProvider(p, limiter), tokencount.DefaultCounter))
	}
	slog.Info("providers registered", slog.Any("providers", reg.Names()), slog.Bool("throttled", limiter != nil))
	return reg
}
