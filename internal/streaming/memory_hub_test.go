package streaming

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/internal/engine"
	"github.com/parleyhq/parley/pkg/schema"
)

func TestPublishSubscribe(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancel()

	event := StreamEvent{
		SessionID: "sess-1",
		NodeID:    "greet",
		EventType: schema.EventMessage,
		Payload:   map[string]any{"content": "hello"},
	}

	err = hub.Publish(ctx, event)
	require.NoError(t, err)

	select {
	case got := <-ch:
		assert.Equal(t, event.SessionID, got.SessionID)
		assert.Equal(t, event.NodeID, got.NodeID)
		assert.Equal(t, event.EventType, got.EventType)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestFilterBySessionID(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{SessionID: "sess-1"})
	require.NoError(t, err)
	defer cancel()

	// Should be received (matching session)
	err = hub.Publish(ctx, StreamEvent{SessionID: "sess-1", EventType: schema.EventNodeExecution})
	require.NoError(t, err)

	// Should be dropped (different session)
	err = hub.Publish(ctx, StreamEvent{SessionID: "sess-2", EventType: schema.EventNodeExecution})
	require.NoError(t, err)

	select {
	case got := <-ch:
		assert.Equal(t, "sess-1", got.SessionID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	// Channel should be empty -- the sess-2 event was filtered out.
	select {
	case evt := <-ch:
		t.Fatalf("unexpected event: %+v", evt)
	case <-time.After(50 * time.Millisecond):
		// expected
	}
}

func TestFilterByEventType(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{
		EventTypes: []string{schema.EventMessage, schema.EventComplete},
	})
	require.NoError(t, err)
	defer cancel()

	// Should be received
	err = hub.Publish(ctx, StreamEvent{SessionID: "sess-1", EventType: schema.EventMessage})
	require.NoError(t, err)

	// Should be dropped
	err = hub.Publish(ctx, StreamEvent{SessionID: "sess-1", EventType: schema.EventNodeExecution})
	require.NoError(t, err)

	// Should be received
	err = hub.Publish(ctx, StreamEvent{SessionID: "sess-1", EventType: schema.EventComplete})
	require.NoError(t, err)

	var received []string
	for i := 0; i < 2; i++ {
		select {
		case got := <-ch:
			received = append(received, got.EventType)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
	assert.Equal(t, []string{schema.EventMessage, schema.EventComplete}, received)

	// No more events
	select {
	case evt := <-ch:
		t.Fatalf("unexpected event: %+v", evt)
	case <-time.After(50 * time.Millisecond):
		// expected
	}
}

func TestMultipleSubscribers(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch1, cancel1, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancel1()

	ch2, cancel2, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancel2()

	event := StreamEvent{SessionID: "sess-1", EventType: schema.EventMessage}
	err = hub.Publish(ctx, event)
	require.NoError(t, err)

	for _, ch := range []<-chan StreamEvent{ch1, ch2} {
		select {
		case got := <-ch:
			assert.Equal(t, "sess-1", got.SessionID)
			assert.Equal(t, schema.EventMessage, got.EventType)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestCancelSubscription(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)

	// Cancel removes the subscriber
	cancel()

	err = hub.Publish(ctx, StreamEvent{SessionID: "sess-1", EventType: schema.EventMessage})
	require.NoError(t, err)

	select {
	case evt := <-ch:
		t.Fatalf("unexpected event after cancel: %+v", evt)
	case <-time.After(50 * time.Millisecond):
		// expected: subscriber was removed
	}

	// Verify the watcher registry is empty
	hub.mu.RLock()
	assert.Empty(t, hub.firehose)
	assert.Empty(t, hub.sessions)
	hub.mu.RUnlock()
}

func TestCancelReleasesSessionBucket(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	_, cancel1, err := hub.Subscribe(ctx, EventFilter{SessionID: "sess-1"})
	require.NoError(t, err)
	_, cancel2, err := hub.Subscribe(ctx, EventFilter{SessionID: "sess-1"})
	require.NoError(t, err)

	cancel1()
	hub.mu.RLock()
	assert.Len(t, hub.sessions["sess-1"], 1)
	hub.mu.RUnlock()

	// The last watcher leaving removes the session's bucket entirely.
	cancel2()
	hub.mu.RLock()
	assert.Empty(t, hub.sessions)
	hub.mu.RUnlock()
}

func TestBackpressure(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancel()

	// Fill the channel buffer (64) then publish one more.
	// None of these should block.
	for i := 0; i < subscriberBuffer+10; i++ {
		err = hub.Publish(ctx, StreamEvent{
			SessionID: "sess-1",
			EventType: "tick",
		})
		require.NoError(t, err)
	}

	// We should be able to drain exactly subscriberBuffer events.
	drained := 0
	for {
		select {
		case <-ch:
			drained++
		default:
			goto done
		}
	}
done:
	assert.Equal(t, subscriberBuffer, drained)
}

func TestConcurrentAccess(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()
	const goroutines = 20
	const eventsPerGoroutine = 50

	var wg sync.WaitGroup

	// Start subscribers
	channels := make([]<-chan StreamEvent, goroutines)
	cancels := make([]func(), goroutines)
	for i := 0; i < goroutines; i++ {
		ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
		require.NoError(t, err)
		channels[i] = ch
		cancels[i] = cancel
	}
	defer func() {
		for _, c := range cancels {
			c()
		}
	}()

	// Concurrent publishers
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < eventsPerGoroutine; j++ {
				_ = hub.Publish(ctx, StreamEvent{
					SessionID: "sess-concurrent",
					EventType: "tick",
				})
			}
		}()
	}

	// Concurrent subscribers being added/removed
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
			if err != nil {
				return
			}
			// drain a few then cancel
			for range 5 {
				select {
				case <-ch:
				case <-time.After(10 * time.Millisecond):
				}
			}
			cancel()
		}()
	}

	wg.Wait()
}

func TestPublishCancelledContext(t *testing.T) {
	hub := NewMemoryHub()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := hub.Publish(ctx, StreamEvent{SessionID: "sess-1", EventType: "tick"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSubscribeCancelledContext(t *testing.T) {
	hub := NewMemoryHub()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := hub.Subscribe(ctx, EventFilter{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSinkBridgesEngineEvents(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{SessionID: "sess-1"})
	require.NoError(t, err)
	defer cancel()

	sink := Sink(hub)
	sink.Emit(engine.Event{
		Type:      schema.EventMessage,
		SessionID: "sess-1",
		NodeID:    "greet",
		Data:      map[string]any{"content": "hi"},
		Timestamp: time.Now(),
	})

	select {
	case got := <-ch:
		assert.Equal(t, schema.EventMessage, got.EventType)
		assert.Equal(t, "greet", got.NodeID)
		assert.Equal(t, "hi", got.Payload["content"])
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for bridged event")
	}
}
