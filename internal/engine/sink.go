package engine

import (
	"time"
)

// Event is one observable occurrence during a turn, published to the
// session's event stream.
type Event struct {
	Type      string         `json:"type"` // schema.Event* constants
	SessionID string         `json:"session_id"`
	NodeID    string         `json:"node_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// EventSink receives turn events. The synchronous request path uses NopSink;
// the streaming debug surface bridges to the hub.
type EventSink interface {
	Emit(e Event)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Emit(Event) {}

// SinkFunc adapts a function to an EventSink.
type SinkFunc func(e Event)

func (f SinkFunc) Emit(e Event) { f(e) }
