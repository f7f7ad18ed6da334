package engine

import (
	"context"
	"sync"

	"github.com/parleyhq/parley/pkg/schema"
)

// Handler executes one node type.
type Handler interface {
	Execute(ctx context.Context, ec *ExecContext) (*NodeResult, error)
}

// HandlerFunc adapts a function to a Handler.
type HandlerFunc func(ctx context.Context, ec *ExecContext) (*NodeResult, error)

func (f HandlerFunc) Execute(ctx context.Context, ec *ExecContext) (*NodeResult, error) {
	return f(ctx, ec)
}

// Registry maps node types to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[schema.NodeType]Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[schema.NodeType]Handler)}
}

// Register binds a handler to a node type, replacing any previous binding.
func (r *Registry) Register(t schema.NodeType, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[t] = h
}

// Get returns the handler for a node type.
func (r *Registry) Get(t schema.NodeType) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[t]
	return h, ok
}
