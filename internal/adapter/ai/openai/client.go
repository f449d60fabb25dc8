// Package openai implements a provider on top of the go-openai SDK. Any
// OpenAI-compatible endpoint can be targeted through the base URL.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fairyhunter13/proposal-evaluator/internal/domain"
)

// Name is the registry name of this provider.
const Name = "openai"

// Config holds the OpenAI connection settings.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float32
}

// Client implements domain.ProviderClient.
type Client struct {
	api *openai.Client
	cfg Config
}

// New constructs an OpenAI provider. A nil hc selects a traced default client.
func New(cfg Config, hc *http.Client) *Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	if hc == nil {
		hc = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport,
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return fmt.Sprintf("OpenAI %s %s", r.Method, r.URL.Path)
			}),
		)}
	}
	oc.HTTPClient = hc
	return &Client{api: openai.NewClientWithConfig(oc), cfg: cfg}
}

func (c *Client) Name() string { return Name }

// Model returns the configured model id.
func (c *Client) Model() string { return c.cfg.Model }

// reasoningModel reports whether the model only accepts max_completion_tokens.
func reasoningModel(model string) bool {
	for _, p := range []string{"o1", "o3", "o4", "gpt-5"} {
		if strings.HasPrefix(model, p) {
			return true
		}
	}
	return false
}

// Call performs one chat completion in JSON mode.
func (c *Client) Call(ctx domain.Context, prompt domain.Prompt, timeout time.Duration) (string, error) {
	if c.cfg.APIKey == "" {
		return "", domain.NewProviderError(Name, domain.KindAuth, errors.New("OPENAI_API_KEY missing"))
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req := openai.ChatCompletionRequest{
		Model: c.cfg.Model,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}
	if prompt.System != "" {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: prompt.System})
	}
	req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt.User})
	if reasoningModel(c.cfg.Model) {
		req.MaxCompletionTokens = c.cfg.MaxTokens
	} else {
		req.MaxTokens = c.cfg.MaxTokens
		req.Temperature = c.cfg.Temperature
	}

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", domain.NewProviderError(Name, domain.KindServer, errors.New("empty choices"))
	}
	return resp.Choices[0].Message.Content, nil
}

// classify maps SDK errors onto the provider error taxonomy.
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return domain.ProviderErrorFromStatus(Name, apiErr.HTTPStatusCode, 0, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return domain.ProviderErrorFromStatus(Name, reqErr.HTTPStatusCode, 0, reqErr.Error())
	}
	return domain.NewProviderError(Name, domain.ClassifyError(err), err)
}
