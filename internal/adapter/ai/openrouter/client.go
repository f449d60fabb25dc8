// Package openrouter implements a provider backed by the OpenRouter chat
// completions API over plain HTTP.
package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fairyhunter13/proposal-evaluator/internal/domain"
	"github.com/fairyhunter13/proposal-evaluator/internal/observability"
)

// Name is the registry name of this provider.
const Name = "openrouter"

const (
	maxBodyBytes   = 4 << 20
	maxSnippetSize = 512
)

// Config holds the OpenRouter connection settings.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Referer     string
	Title       string
	MaxTokens   int
	Temperature float32
}

// Client implements domain.ProviderClient. Each Call is exactly one HTTP request.
type Client struct {
	cfg Config
	hc  *http.Client
	now func() time.Time
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the traced default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

// New constructs an OpenRouter provider with a traced transport.
func New(cfg Config, opts ...Option) *Client {
	transport := otelhttp.NewTransport(http.DefaultTransport,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return fmt.Sprintf("OpenRouter %s %s", r.Method, r.URL.Path)
		}),
	)
	c := &Client{
		cfg: cfg,
		hc:  &http.Client{Transport: transport},
		now: time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) Name() string { return Name }

// Model returns the configured model id.
func (c *Client) Model() string { return c.cfg.Model }

type chatRequest struct {
	Model       string        `json:"model"`
	Temperature float32       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Messages    []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Call sends the prompt and returns the first choice's message content.
func (c *Client) Call(ctx domain.Context, prompt domain.Prompt, timeout time.Duration) (string, error) {
	lg := observability.LoggerFromContext(ctx)
	if c.cfg.APIKey == "" {
		return "", domain.NewProviderError(Name, domain.KindAuth, errors.New("OPENROUTER_API_KEY missing"))
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	messages := make([]chatMessage, 0, 2)
	if prompt.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: prompt.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: prompt.User})
	b, err := json.Marshal(chatRequest{
		Model:       c.cfg.Model,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
		Messages:    messages,
	})
	if err != nil {
		return "", domain.NewProviderError(Name, domain.KindServer, err)
	}

	endpoint := c.cfg.BaseURL + "/chat/completions"
	r, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return "", domain.NewProviderError(Name, domain.KindServer, err)
	}
	r.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	r.Header.Set("Content-Type", "application/json")
	if c.cfg.Referer != "" {
		r.Header.Set("HTTP-Referer", c.cfg.Referer)
	}
	if c.cfg.Title != "" {
		r.Header.Set("X-Title", c.cfg.Title)
	}

	resp, err := c.hc.Do(r)
	if err != nil {
		return "", domain.NewProviderError(Name, domain.ClassifyError(err), err)
	}
	defer func() { _ = resp.Body.Close() }()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", domain.NewProviderError(Name, domain.ClassifyError(err), fmt.Errorf("read body: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		retryAfter := domain.ParseRetryAfter(resp.Header.Get("Retry-After"), c.now())
		lg.Warn("ai provider non-2xx",
			slog.String("provider", Name),
			slog.Int("status", resp.StatusCode),
			slog.String("model", c.cfg.Model),
			slog.String("x_request_id", resp.Header.Get("X-Request-Id")),
			slog.Duration("retry_after", retryAfter),
			slog.String("body", bodySnippet(bodyBytes)))
		return "", domain.ProviderErrorFromStatus(Name, resp.StatusCode, retryAfter, bodySnippet(bodyBytes))
	}

	var out chatResponse
	if err := json.Unmarshal(bodyBytes, &out); err != nil {
		lg.Error("ai provider decode error", slog.String("provider", Name), slog.Any("error", err))
		return "", domain.NewProviderError(Name, domain.KindServer, fmt.Errorf("decode: %w", err))
	}
	// OpenRouter reports some upstream failures as a 200 with an error object.
	if out.Error != nil {
		return "", domain.ProviderErrorFromStatus(Name, out.Error.Code, 0, out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return "", domain.NewProviderError(Name, domain.KindServer, errors.New("empty choices"))
	}
	if out.Model != "" && out.Model != c.cfg.Model {
		lg.Warn("model substitution detected",
			slog.String("provider", Name),
			slog.String("requested_model", c.cfg.Model),
			slog.String("actual_model", out.Model))
	}
	return out.Choices[0].Message.Content, nil
}

func bodySnippet(b []byte) string {
	if len(b) > maxSnippetSize {
		b = b[:maxSnippetSize]
	}
	return string(b)
}
