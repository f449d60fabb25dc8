// Package config defines configuration parsing and helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/go-playground/validator/v10"
)

// Config holds all application configuration parsed from environment variables.
type Config struct {
	AppEnv           string   `env:"APP_ENV" envDefault:"dev" validate:"oneof=dev test prod"`
	Port             int      `env:"PORT" envDefault:"8080" validate:"min=1,max=65535"`
	DefaultProviders []string `env:"DEFAULT_PROVIDERS" envSeparator:"," envDefault:"openrouter"`
	// OpenRouter speaks the OpenAI chat completions wire format over plain HTTP.
	OpenRouterAPIKey  string `env:"OPENROUTER_API_KEY"`
	OpenRouterBaseURL string `env:"OPENROUTER_BASE_URL" envDefault:"https://openrouter.ai/api/v1"`
	OpenRouterModel   string `env:"OPENROUTER_MODEL" envDefault:"meta-llama/llama-3.1-8b-instruct:free"`
	OpenRouterReferer string `env:"OPENROUTER_REFERER"`
	OpenRouterTitle   string `env:"OPENROUTER_TITLE" envDefault:"Proposal Evaluator"`
	OpenAIAPIKey      string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL     string `env:"OPENAI_BASE_URL" envDefault:"https://api.openai.com/v1"`
	OpenAIModel       string `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	// StubProviderEnabled registers the deterministic local provider; always on in dev.
	StubProviderEnabled bool    `env:"STUB_PROVIDER_ENABLED" envDefault:"false"`
	ProviderMaxTokens   int     `env:"PROVIDER_MAX_TOKENS" envDefault:"2000" validate:"min=1"`
	ProviderTemperature float32 `env:"PROVIDER_TEMPERATURE" envDefault:"0.2" validate:"gte=0,lte=2"`
	// Shared provider throttling; disabled when RedisURL is empty.
	RedisURL                string        `env:"REDIS_URL"`
	ProviderRateLimitPerMin int           `env:"PROVIDER_RATE_LIMIT_PER_MIN" envDefault:"30" validate:"min=1"`
	KafkaBrokers            []string      `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:19092"`
	KafkaRequestsTopic      string        `env:"KAFKA_REQUESTS_TOPIC" envDefault:"analysis-requests"`
	KafkaResultsTopic       string        `env:"KAFKA_RESULTS_TOPIC" envDefault:"analysis-results"`
	KafkaGroupID            string        `env:"KAFKA_GROUP_ID" envDefault:"proposal-evaluator-workers"`
	OTLPEndpoint            string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	OTELServiceName         string        `env:"OTEL_SERVICE_NAME" envDefault:"proposal-evaluator"`
	CORSAllowOrigins        string        `env:"CORS_ALLOW_ORIGINS" envDefault:"*"`
	RateLimitPerMin         int           `env:"RATE_LIMIT_PER_MIN" envDefault:"30" validate:"min=1"`
	MaxRequestKB            int64         `env:"MAX_REQUEST_KB" envDefault:"2048" validate:"min=1"`
	BatchMaxSize            int           `env:"BATCH_MAX_SIZE" envDefault:"50" validate:"min=1"`
	ServerShutdownTimeout   time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	HTTPReadTimeout         time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	HTTPWriteTimeout        time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"10m"`
	HTTPIdleTimeout         time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
	// Analysis retry policy
	AnalysisMaxRetries        int           `env:"ANALYSIS_MAX_RETRIES" envDefault:"3" validate:"gte=0"`
	AnalysisPerAttemptTimeout time.Duration `env:"ANALYSIS_PER_ATTEMPT_TIMEOUT" envDefault:"60s"`
	BackoffBase               time.Duration `env:"BACKOFF_BASE" envDefault:"1s"`
	BackoffCap                time.Duration `env:"BACKOFF_CAP" envDefault:"30s"`
	BackoffJitter             float64       `env:"BACKOFF_JITTER" envDefault:"0.2" validate:"gte=0,lt=1"`
	BackoffTransientFloor     time.Duration `env:"BACKOFF_TRANSIENT_FLOOR" envDefault:"0s"`
	BackoffRateLimitFloor     time.Duration `env:"BACKOFF_RATE_LIMIT_FLOOR" envDefault:"5s"`
	AnalysisConcurrency       int           `env:"ANALYSIS_CONCURRENCY" envDefault:"4" validate:"min=1"`
	// Scoring
	AcceptThreshold           float64            `env:"ACCEPT_THRESHOLD" envDefault:"80" validate:"gte=0,lte=100"`
	ConditionalThreshold      float64            `env:"CONDITIONAL_THRESHOLD" envDefault:"60" validate:"gte=0,lte=100,ltefield=AcceptThreshold"`
	DefaultConfidence         float64            `env:"DEFAULT_CONFIDENCE" envDefault:"50" validate:"gte=0,lte=100"`
	NeutralScore              float64            `env:"NEUTRAL_SCORE" envDefault:"50" validate:"gte=0,lte=100"`
	FallbackConfidenceCeiling float64            `env:"FALLBACK_CONFIDENCE_CEILING" envDefault:"30" validate:"gte=0,lte=100"`
	CriterionWeights          map[string]float64 `env:"CRITERION_WEIGHTS" envSeparator:","`
	MaxInputChars             int                `env:"MAX_INPUT_CHARS" envDefault:"24000" validate:"min=1"`
	RubricPath                string             `env:"RUBRIC_PATH"`
}

// Load parses environment variables into a Config and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	return cfg, nil
}

// Validate checks value ranges and cross-field constraints.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if c.AnalysisPerAttemptTimeout <= 0 {
		return fmt.Errorf("ANALYSIS_PER_ATTEMPT_TIMEOUT must be positive")
	}
	if err := c.RetryPolicy().Validate(); err != nil {
		return err
	}
	for k, w := range c.CriterionWeights {
		if w < 0 {
			return fmt.Errorf("CRITERION_WEIGHTS: negative weight for %q", k)
		}
	}
	return nil
}

// IsDev reports whether the app is running in development mode.
func (c Config) IsDev() bool { return strings.ToLower(c.AppEnv) == "dev" }

// IsProd reports whether the app is running in production mode.
func (c Config) IsProd() bool { return strings.ToLower(c.AppEnv) == "prod" }

// IsTest reports whether the app is running in test mode.
func (c Config) IsTest() bool { return strings.ToLower(c.AppEnv) == "test" }

// StubEnabled reports whether the deterministic local provider is registered.
func (c Config) StubEnabled() bool { return c.StubProviderEnabled || c.IsDev() || c.IsTest() }
