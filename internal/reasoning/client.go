// Package reasoning is the LLM boundary: a chat-completion client with
// retry and circuit breaking, and the goal-evaluation service built on it.
package reasoning

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/parleyhq/parley/internal/resilience"
	"github.com/parleyhq/parley/pkg/schema"
)

// llmTarget is the circuit breaker target name for the completion provider.
const llmTarget = "llm"

// ChatClient is the transport-level completion API. *openai.Client satisfies
// it; tests substitute a scripted fake.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Config carries per-organization provider credentials.
type Config struct {
	APIKey  string
	BaseURL string // empty means the provider default
	Model   string
}

// Client wraps the completion API with retry and a circuit breaker.
type Client struct {
	chat     ChatClient
	model    string
	retry    resilience.RetryConfig
	breakers *resilience.CircuitBreakerRegistry
	logger   *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithRetryConfig overrides the retry policy.
func WithRetryConfig(cfg resilience.RetryConfig) ClientOption {
	return func(c *Client) { c.retry = cfg }
}

// WithBreakers shares a circuit breaker registry across clients.
func WithBreakers(reg *resilience.CircuitBreakerRegistry) ClientOption {
	return func(c *Client) { c.breakers = reg }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// NewClient builds a Client over the hosted completion API.
// Missing credentials are a NOT_CONFIGURED error so callers can map the
// failure to a user-safe reply instead of a stack trace.
func NewClient(cfg Config, opts ...ClientOption) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, schema.NewError(schema.ErrCodeNotConfigured, "no LLM API key configured")
	}
	if cfg.Model == "" {
		return nil, schema.NewError(schema.ErrCodeNotConfigured, "no LLM model configured")
	}

	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}

	return NewClientWithChat(openai.NewClientWithConfig(apiCfg), cfg.Model, opts...), nil
}

// NewClientWithChat builds a Client over an existing transport.
func NewClientWithChat(chat ChatClient, model string, opts ...ClientOption) *Client {
	c := &Client{
		chat:     chat,
		model:    model,
		retry:    resilience.DefaultRetryConfig(),
		breakers: resilience.NewCircuitBreakerRegistry(resilience.DefaultCircuitBreakerConfig()),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Complete sends a chat completion request and returns the first choice's
// content. Transient provider failures are retried with backoff; repeated
// failures open the circuit for the provider.
func (c *Client) Complete(ctx context.Context, messages []openai.ChatCompletionMessage, temperature float32, maxTokens int) (string, error) {
	if err := c.breakers.AllowRequest(llmTarget); err != nil {
		return "", err
	}

	var content string
	err := resilience.Do(ctx, c.retry, func(ctx context.Context) error {
		resp, err := c.chat.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       c.model,
			Messages:    messages,
			Temperature: temperature,
			MaxTokens:   maxTokens,
		})
		if err != nil {
			return classifyProviderError(err)
		}
		if len(resp.Choices) == 0 {
			return resilience.NewTransientError(
				schema.NewError(schema.ErrCodeProvider, "completion returned no choices"))
		}
		content = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		c.breakers.RecordFailure(llmTarget)
		c.logger.ErrorContext(ctx, "completion failed", "error", err)
		return "", err
	}

	c.breakers.RecordSuccess(llmTarget)
	return content, nil
}

// classifyProviderError maps provider API errors to transient or fatal.
// Rate limits and server-side failures are worth retrying; auth and request
// errors are not.
func classifyProviderError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		wrapped := schema.NewErrorf(schema.ErrCodeProvider, "completion API error: %s", apiErr.Message).
			WithDetails(map[string]any{"status": apiErr.HTTPStatusCode}).
			WithCause(err)
		if apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500 {
			return resilience.NewTransientError(wrapped)
		}
		return resilience.NewFatalError(wrapped)
	}
	// Network-level failures fall through to the generic classifier.
	return err
}
