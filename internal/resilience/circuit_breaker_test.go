package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/pkg/schema"
)

func TestCircuitBreaker_StartsClosedAllowsRequests(t *testing.T) {
	cbr := NewCircuitBreakerRegistry(DefaultCircuitBreakerConfig())
	err := cbr.AllowRequest("llm:org-1")
	assert.NoError(t, err)
	assert.Equal(t, CircuitClosed, cbr.GetState("llm:org-1"))
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cfg := CircuitBreakerConfig{
		FailureThreshold: 3,
		Cooldown:         10 * time.Second,
		HalfOpenMax:      1,
	}
	cbr := NewCircuitBreakerRegistry(cfg)

	// Record 2 failures — still closed.
	cbr.RecordFailure("crm")
	cbr.RecordFailure("crm")
	assert.Equal(t, CircuitClosed, cbr.GetState("crm"))

	// 3rd failure — opens the circuit.
	state := cbr.RecordFailure("crm")
	assert.Equal(t, CircuitOpen, state)
	assert.Equal(t, CircuitOpen, cbr.GetState("crm"))

	// Requests should now be rejected.
	err := cbr.AllowRequest("crm")
	require.Error(t, err)
	var flowErr *schema.FlowError
	require.ErrorAs(t, err, &flowErr)
	assert.Equal(t, schema.ErrCodeCircuitOpen, flowErr.Code)
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cfg := CircuitBreakerConfig{
		FailureThreshold: 3,
		Cooldown:         10 * time.Second,
		HalfOpenMax:      1,
	}
	cbr := NewCircuitBreakerRegistry(cfg)

	cbr.RecordFailure("llm")
	cbr.RecordFailure("llm")
	// 2 failures, then success resets.
	cbr.RecordSuccess("llm")
	assert.Equal(t, CircuitClosed, cbr.GetState("llm"))

	// Need 3 more failures to open.
	cbr.RecordFailure("llm")
	cbr.RecordFailure("llm")
	assert.Equal(t, CircuitClosed, cbr.GetState("llm"))

	cbr.RecordFailure("llm")
	assert.Equal(t, CircuitOpen, cbr.GetState("llm"))
}

func TestCircuitBreaker_HalfOpenAfterCooldown(t *testing.T) {
	cfg := CircuitBreakerConfig{
		FailureThreshold: 2,
		Cooldown:         50 * time.Millisecond,
		HalfOpenMax:      1,
	}
	cbr := NewCircuitBreakerRegistry(cfg)

	cbr.RecordFailure("webhook")
	cbr.RecordFailure("webhook")
	assert.Equal(t, CircuitOpen, cbr.GetState("webhook"))

	// Wait for cooldown.
	time.Sleep(60 * time.Millisecond)

	// Should transition to half-open.
	assert.Equal(t, CircuitHalfOpen, cbr.GetState("webhook"))

	// Allow one test request.
	err := cbr.AllowRequest("webhook")
	assert.NoError(t, err)
}

func TestCircuitBreaker_HalfOpenLimitsTestRequests(t *testing.T) {
	cfg := CircuitBreakerConfig{
		FailureThreshold: 1,
		Cooldown:         10 * time.Millisecond,
		HalfOpenMax:      1,
	}
	cbr := NewCircuitBreakerRegistry(cfg)

	cbr.RecordFailure("llm")
	time.Sleep(20 * time.Millisecond)

	// First test request allowed, second rejected.
	assert.NoError(t, cbr.AllowRequest("llm"))
	err := cbr.AllowRequest("llm")
	require.Error(t, err)
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cfg := CircuitBreakerConfig{
		FailureThreshold: 1,
		Cooldown:         10 * time.Millisecond,
		HalfOpenMax:      1,
	}
	cbr := NewCircuitBreakerRegistry(cfg)

	cbr.RecordFailure("llm")
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, cbr.AllowRequest("llm"))

	state := cbr.RecordFailure("llm")
	assert.Equal(t, CircuitOpen, state)
}

func TestCircuitBreaker_HalfOpenSuccessCloses(t *testing.T) {
	cfg := CircuitBreakerConfig{
		FailureThreshold: 1,
		Cooldown:         10 * time.Millisecond,
		HalfOpenMax:      1,
	}
	cbr := NewCircuitBreakerRegistry(cfg)

	cbr.RecordFailure("llm")
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, cbr.AllowRequest("llm"))

	cbr.RecordSuccess("llm")
	assert.Equal(t, CircuitClosed, cbr.GetState("llm"))
	assert.NoError(t, cbr.AllowRequest("llm"))
}

func TestCircuitBreaker_TargetsAreIndependent(t *testing.T) {
	cfg := CircuitBreakerConfig{
		FailureThreshold: 1,
		Cooldown:         time.Minute,
		HalfOpenMax:      1,
	}
	cbr := NewCircuitBreakerRegistry(cfg)

	cbr.RecordFailure("llm:org-1")
	assert.Equal(t, CircuitOpen, cbr.GetState("llm:org-1"))
	assert.Equal(t, CircuitClosed, cbr.GetState("llm:org-2"))
	assert.NoError(t, cbr.AllowRequest("llm:org-2"))
}

func TestCircuitBreaker_GetStats(t *testing.T) {
	cbr := NewCircuitBreakerRegistry(DefaultCircuitBreakerConfig())
	cbr.RecordFailure("crm")

	stats := cbr.GetStats("crm")
	assert.Equal(t, "crm", stats["target"])
	assert.Equal(t, "closed", stats["state"])
	assert.Equal(t, 1, stats["consecutive_failures"])
}
