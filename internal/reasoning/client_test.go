package reasoning

import (
	"context"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/internal/resilience"
	"github.com/parleyhq/parley/pkg/schema"
)

// fakeChat returns scripted responses/errors in order; the last entry repeats.
type fakeChat struct {
	responses []string
	errs      []error
	calls     int
	requests  []openai.ChatCompletionRequest
}

func clampIndex(i, length int) int {
	if i >= length {
		return length - 1
	}
	return i
}

func (f *fakeChat) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	call := f.calls
	f.calls++
	f.requests = append(f.requests, req)

	if len(f.errs) > 0 {
		if err := f.errs[clampIndex(call, len(f.errs))]; err != nil {
			return openai.ChatCompletionResponse{}, err
		}
	}

	content := ""
	if len(f.responses) > 0 {
		content = f.responses[clampIndex(call, len(f.responses))]
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: content}},
		},
	}, nil
}

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:       3,
		BackoffBase:       time.Millisecond,
		BackoffMultiplier: 1.0,
		MaxBackoff:        time.Millisecond,
	}
}

func TestNewClient_RequiresCredentials(t *testing.T) {
	_, err := NewClient(Config{Model: "gpt-4o-mini"})
	require.Error(t, err)
	flowErr, ok := err.(*schema.FlowError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeNotConfigured, flowErr.Code)

	_, err = NewClient(Config{APIKey: "sk-test"})
	require.Error(t, err)
}

func TestClient_Complete(t *testing.T) {
	fake := &fakeChat{responses: []string{"hello there"}}
	c := NewClientWithChat(fake, "gpt-4o-mini", WithRetryConfig(fastRetry()))

	out, err := c.Complete(context.Background(), []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleUser, Content: "hi"},
	}, 0.5, 100)
	require.NoError(t, err)
	assert.Equal(t, "hello there", out)
	assert.Equal(t, 1, fake.calls)
	assert.Equal(t, "gpt-4o-mini", fake.requests[0].Model)
}

func TestClient_RetriesTransientFailures(t *testing.T) {
	fake := &fakeChat{
		responses: []string{"", "", "recovered"},
		errs: []error{
			&openai.APIError{HTTPStatusCode: 503, Message: "overloaded"},
			&openai.APIError{HTTPStatusCode: 429, Message: "rate limited"},
			nil,
		},
	}
	c := NewClientWithChat(fake, "gpt-4o-mini", WithRetryConfig(fastRetry()))

	out, err := c.Complete(context.Background(), nil, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "recovered", out)
	assert.Equal(t, 3, fake.calls)
}

func TestClient_FatalErrorNotRetried(t *testing.T) {
	fake := &fakeChat{
		errs: []error{&openai.APIError{HTTPStatusCode: 401, Message: "bad key"}},
	}
	c := NewClientWithChat(fake, "gpt-4o-mini", WithRetryConfig(fastRetry()))

	_, err := c.Complete(context.Background(), nil, 0, 0)
	require.Error(t, err)
	assert.Equal(t, 1, fake.calls)
	assert.True(t, resilience.IsFatal(err))
}

func TestClient_CircuitOpensAfterRepeatedFailures(t *testing.T) {
	fake := &fakeChat{
		errs: []error{&openai.APIError{HTTPStatusCode: 400, Message: "bad request"}},
	}
	breakers := resilience.NewCircuitBreakerRegistry(resilience.CircuitBreakerConfig{
		FailureThreshold: 2,
		Cooldown:         time.Minute,
		HalfOpenMax:      1,
	})
	c := NewClientWithChat(fake, "gpt-4o-mini",
		WithRetryConfig(fastRetry()), WithBreakers(breakers))

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := c.Complete(ctx, nil, 0, 0)
		require.Error(t, err)
	}

	// Third call is rejected without touching the transport.
	callsBefore := fake.calls
	_, err := c.Complete(ctx, nil, 0, 0)
	require.Error(t, err)
	flowErr, ok := err.(*schema.FlowError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeCircuitOpen, flowErr.Code)
	assert.Equal(t, callsBefore, fake.calls)
}

func TestClient_EmptyChoicesIsProviderError(t *testing.T) {
	empty := &emptyChoicesChat{}
	c := NewClientWithChat(empty, "gpt-4o-mini", WithRetryConfig(resilience.RetryConfig{
		MaxAttempts:       1,
		BackoffBase:       time.Millisecond,
		BackoffMultiplier: 1.0,
	}))

	_, err := c.Complete(context.Background(), nil, 0, 0)
	require.Error(t, err)
	var flowErr *schema.FlowError
	require.ErrorAs(t, err, &flowErr)
	assert.Equal(t, schema.ErrCodeProvider, flowErr.Code)
}

type emptyChoicesChat struct{}

func (e *emptyChoicesChat) CreateChatCompletion(context.Context, openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return openai.ChatCompletionResponse{}, nil
}
