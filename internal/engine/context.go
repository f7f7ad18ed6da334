package engine

import (
	"context"

	"github.com/parleyhq/parley/internal/graph"
	"github.com/parleyhq/parley/internal/reasoning"
	"github.com/parleyhq/parley/internal/store"
	"github.com/parleyhq/parley/pkg/schema"
)

// ExecContext carries everything a node handler needs for one dispatch.
// Variables is the working copy for the turn; handlers report changes through
// NodeResult.VariableUpdates rather than mutating it.
type ExecContext struct {
	Session   *store.Session
	Bot       *store.Bot
	Graph     *graph.Graph
	Node      *schema.NodeDefinition
	Message   string           // the user message driving this turn
	History   []reasoning.Turn // full conversation so far, user message included
	Variables map[string]any
	Sink      EventSink
}

// SideEffect is a deferred external call (tagging, webhook) scheduled by a
// handler and run fire-and-forget after dispatch.
type SideEffect struct {
	Name string
	Run  func(ctx context.Context) error
}

// NodeResult is what a handler returns from one dispatch.
type NodeResult struct {
	// Reply to concatenate into the turn's response. Empty means silent.
	Reply string
	// NextNodeID jumps directly to a node, overriding edge resolution.
	NextNodeID string
	// EdgeTag selects the outgoing edge to follow. Empty means stay.
	EdgeTag string
	// VariableUpdates are merged into the session variables.
	VariableUpdates map[string]any
	// SideEffects run asynchronously after dispatch; failures are logged only.
	SideEffects []SideEffect
	// Continue chains into the next node within the same turn. Conversational
	// nodes leave it false so the turn ends awaiting the customer.
	Continue bool
	// EndSession terminates the session after this dispatch.
	EndSession bool
}
