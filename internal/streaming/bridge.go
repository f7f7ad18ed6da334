package streaming

import (
	"context"

	"github.com/parleyhq/parley/internal/engine"
)

// Sink adapts an EventHub into an engine event sink so turn events reach
// SSE subscribers. Publish failures are dropped; streaming is best effort.
func Sink(hub EventHub) engine.EventSink {
	return engine.SinkFunc(func(e engine.Event) {
		_ = hub.Publish(context.Background(), StreamEvent{
			SessionID: e.SessionID,
			NodeID:    e.NodeID,
			EventType: e.Type,
			Payload:   e.Data,
			Timestamp: e.Timestamp,
		})
	})
}
