package streaming

import (
	"context"
	"sync"
)

// subscriberBuffer is the per-watcher channel depth. A debug page that stops
// reading loses events rather than stalling the turn that produced them.
const subscriberBuffer = 64

// subscriber is one attached watcher. types is nil when the watcher takes
// every event type.
type subscriber struct {
	ch    chan StreamEvent
	types map[string]struct{}
}

// offer delivers the event if the watcher wants its type and has buffer room.
func (s *subscriber) offer(event StreamEvent) {
	if s.types != nil {
		if _, ok := s.types[event.EventType]; !ok {
			return
		}
	}
	select {
	case s.ch <- event:
	default:
		// slow watcher: drop rather than stall the publishing turn
	}
}

// MemoryHub fans turn events out to in-process watchers. Subscribers are
// bucketed by session so a publish only touches the watchers of the
// conversation that produced the event; watchers with no session filter sit
// in the firehose bucket and see every conversation.
type MemoryHub struct {
	mu       sync.RWMutex
	nextID   uint64
	sessions map[string]map[uint64]*subscriber
	firehose map[uint64]*subscriber
}

// NewMemoryHub creates an empty hub.
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{
		sessions: make(map[string]map[uint64]*subscriber),
		firehose: make(map[uint64]*subscriber),
	}
}

// Publish delivers an event to the session's watchers and the firehose.
// Never blocks; watchers with full buffers miss the event.
func (h *MemoryHub) Publish(ctx context.Context, event StreamEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.sessions[event.SessionID] {
		sub.offer(event)
	}
	for _, sub := range h.firehose {
		sub.offer(event)
	}
	return nil
}

// Subscribe attaches a watcher. The cancel function detaches it; the channel
// is never closed by the hub, so a detached watcher simply stops receiving.
func (h *MemoryHub) Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	sub := &subscriber{ch: make(chan StreamEvent, subscriberBuffer)}
	if len(filter.EventTypes) > 0 {
		sub.types = make(map[string]struct{}, len(filter.EventTypes))
		for _, t := range filter.EventTypes {
			sub.types[t] = struct{}{}
		}
	}

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	if filter.SessionID == "" {
		h.firehose[id] = sub
	} else {
		bucket := h.sessions[filter.SessionID]
		if bucket == nil {
			bucket = make(map[uint64]*subscriber)
			h.sessions[filter.SessionID] = bucket
		}
		bucket[id] = sub
	}
	h.mu.Unlock()

	sessionID := filter.SessionID
	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sessionID == "" {
			delete(h.firehose, id)
			return
		}
		delete(h.sessions[sessionID], id)
		if len(h.sessions[sessionID]) == 0 {
			delete(h.sessions, sessionID)
		}
	}

	return sub.ch, cancel, nil
}
