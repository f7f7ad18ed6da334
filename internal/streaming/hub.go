// Package streaming provides pub/sub fan-out of conversation events for
// SSE clients and the debug harness.
package streaming

import (
	"context"
	"time"
)

// StreamEvent is a real-time event emitted while a conversation turn runs.
type StreamEvent struct {
	SessionID string         `json:"session_id"`
	NodeID    string         `json:"node_id,omitempty"`
	EventType string         `json:"event_type"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// EventFilter specifies which events a subscriber wants to receive.
type EventFilter struct {
	SessionID  string   `json:"session_id,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

// EventHub provides pub/sub for real-time conversation events.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}
