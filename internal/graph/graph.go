package graph

import (
	"encoding/json"
	"fmt"

	"github.com/parleyhq/parley/pkg/schema"
)

// Graph is the parsed, traversal-ready form of a GraphDefinition. Outgoing
// edges preserve declared order; resolution takes the first match.
type Graph struct {
	def      *schema.GraphDefinition
	nodes    map[string]*schema.NodeDefinition
	outgoing map[string][]schema.EdgeDefinition

	entryID string
	// entryImplicit is set when no node carries the entry marker and the
	// entry was picked by the fallback chain.
	entryImplicit bool
}

// ParseGraph builds a Graph from a definition. It enforces only what the
// engine cannot run without: non-empty node set, unique node IDs, edges
// whose endpoints exist, and an unambiguous entry node. Everything else is
// left to the validation pipeline.
func ParseGraph(def *schema.GraphDefinition) (*Graph, error) {
	if def == nil || len(def.Nodes) == 0 {
		return nil, schema.NewError(schema.ErrCodeGraph, "graph has no nodes")
	}

	g := &Graph{
		def:      def,
		nodes:    make(map[string]*schema.NodeDefinition, len(def.Nodes)),
		outgoing: make(map[string][]schema.EdgeDefinition, len(def.Nodes)),
	}

	for i := range def.Nodes {
		n := &def.Nodes[i]
		if n.ID == "" {
			return nil, schema.NewErrorf(schema.ErrCodeGraph, "node at index %d has no id", i)
		}
		if _, exists := g.nodes[n.ID]; exists {
			return nil, schema.NewErrorf(schema.ErrCodeGraph, "duplicate node id %q", n.ID)
		}
		g.nodes[n.ID] = n
	}

	for i, e := range def.Edges {
		if _, ok := g.nodes[e.Source]; !ok {
			return nil, schema.NewErrorf(schema.ErrCodeGraph,
				"edge at index %d references unknown source %q", i, e.Source)
		}
		if _, ok := g.nodes[e.Target]; !ok {
			return nil, schema.NewErrorf(schema.ErrCodeGraph,
				"edge at index %d references unknown target %q", i, e.Target)
		}
		g.outgoing[e.Source] = append(g.outgoing[e.Source], e)
	}

	if err := g.resolveEntry(); err != nil {
		return nil, err
	}

	return g, nil
}

// resolveEntry picks the entry node: the explicit marker when present, or
// the first milestone, start, or ai node in declared order, or the first
// declared node as a last resort.
func (g *Graph) resolveEntry() error {
	for _, n := range g.def.Nodes {
		if !n.Entry {
			continue
		}
		if g.entryID != "" {
			return schema.NewErrorf(schema.ErrCodeGraph,
				"multiple entry nodes: %q and %q", g.entryID, n.ID)
		}
		g.entryID = n.ID
	}
	if g.entryID != "" {
		return nil
	}

	g.entryImplicit = true
	for _, typ := range []schema.NodeType{schema.NodeTypeMilestone, schema.NodeTypeStart, schema.NodeTypeAI} {
		for _, n := range g.def.Nodes {
			if n.Type == typ {
				g.entryID = n.ID
				return nil
			}
		}
	}
	g.entryID = g.def.Nodes[0].ID
	return nil
}

// Entry returns the entry node.
func (g *Graph) Entry() *schema.NodeDefinition {
	return g.nodes[g.entryID]
}

// EntryImplicit reports whether the entry node was chosen by fallback
// rather than an explicit marker. Callers log a warning when true.
func (g *Graph) EntryImplicit() bool {
	return g.entryImplicit
}

// Node looks up a node by ID.
func (g *Graph) Node(id string) (*schema.NodeDefinition, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Outgoing returns the outgoing edges of a node in declared order.
func (g *Graph) Outgoing(id string) []schema.EdgeDefinition {
	return g.outgoing[id]
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// ResolveEdge returns the first outgoing edge of nodeID matching tag.
// Untagged edges match any tag. Duplicate tags are rejected by validation,
// but resolution stays deterministic regardless: declared order wins.
func (g *Graph) ResolveEdge(nodeID, tag string) (*schema.EdgeDefinition, bool) {
	for i, e := range g.outgoing[nodeID] {
		if e.Tag == "" || e.Tag == tag {
			return &g.outgoing[nodeID][i], true
		}
	}
	return nil, false
}

// DecodeConfig unmarshals a node's config block into T. A missing config
// yields the zero value.
func DecodeConfig[T any](node *schema.NodeDefinition) (*T, error) {
	var cfg T
	if len(node.Config) == 0 {
		return &cfg, nil
	}
	if err := json.Unmarshal(node.Config, &cfg); err != nil {
		return nil, schema.NewError(schema.ErrCodeGraph,
			fmt.Sprintf("invalid %s config", node.Type)).
			WithNode(node.ID).WithCause(err)
	}
	return &cfg, nil
}
