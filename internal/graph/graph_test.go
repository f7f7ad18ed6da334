package graph

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/pkg/schema"
)

func rawConfig(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func linearGraph(t *testing.T) *schema.GraphDefinition {
	t.Helper()
	return &schema.GraphDefinition{
		Nodes: []schema.NodeDefinition{
			{ID: "greet", Type: schema.NodeTypeMilestone, Entry: true,
				Config: rawConfig(t, schema.MilestoneConfig{Goal: "greet the contact"})},
			{ID: "thanks", Type: schema.NodeTypeMessage,
				Config: rawConfig(t, schema.MessageConfig{Text: "thanks for reaching out"})},
			{ID: "done", Type: schema.NodeTypeEnd},
		},
		Edges: []schema.EdgeDefinition{
			{Source: "greet", Target: "thanks", Tag: schema.EdgeTagGoalAchieved},
			{Source: "thanks", Target: "done"},
		},
	}
}

func TestParseGraph_Linear(t *testing.T) {
	g, err := ParseGraph(linearGraph(t))
	require.NoError(t, err)

	assert.Equal(t, 3, g.Len())
	assert.Equal(t, "greet", g.Entry().ID)
	assert.False(t, g.EntryImplicit())

	n, ok := g.Node("thanks")
	require.True(t, ok)
	assert.Equal(t, schema.NodeTypeMessage, n.Type)

	_, ok = g.Node("missing")
	assert.False(t, ok)
}

func TestParseGraph_EmptyGraph(t *testing.T) {
	_, err := ParseGraph(&schema.GraphDefinition{})
	require.Error(t, err)

	_, err = ParseGraph(nil)
	require.Error(t, err)
}

func TestParseGraph_DuplicateNodeID(t *testing.T) {
	def := linearGraph(t)
	def.Nodes = append(def.Nodes, schema.NodeDefinition{ID: "greet", Type: schema.NodeTypeEnd})

	_, err := ParseGraph(def)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate node id")
}

func TestParseGraph_UnknownEdgeEndpoint(t *testing.T) {
	def := linearGraph(t)
	def.Edges = append(def.Edges, schema.EdgeDefinition{Source: "thanks", Target: "ghost"})

	_, err := ParseGraph(def)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown target")
}

func TestParseGraph_MultipleEntries(t *testing.T) {
	def := linearGraph(t)
	def.Nodes[1].Entry = true

	_, err := ParseGraph(def)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "multiple entry nodes")
}

func TestParseGraph_EntryFallbackChain(t *testing.T) {
	tests := []struct {
		name  string
		nodes []schema.NodeDefinition
		want  string
	}{
		{
			name: "milestone preferred",
			nodes: []schema.NodeDefinition{
				{ID: "m1", Type: schema.NodeTypeMessage},
				{ID: "ms1", Type: schema.NodeTypeMilestone},
				{ID: "s1", Type: schema.NodeTypeStart},
			},
			want: "ms1",
		},
		{
			name: "start when no milestone",
			nodes: []schema.NodeDefinition{
				{ID: "m1", Type: schema.NodeTypeMessage},
				{ID: "s1", Type: schema.NodeTypeStart},
			},
			want: "s1",
		},
		{
			name: "ai when no milestone or start",
			nodes: []schema.NodeDefinition{
				{ID: "m1", Type: schema.NodeTypeMessage},
				{ID: "a1", Type: schema.NodeTypeAI},
			},
			want: "a1",
		},
		{
			name: "first declared as last resort",
			nodes: []schema.NodeDefinition{
				{ID: "m1", Type: schema.NodeTypeMessage},
				{ID: "m2", Type: schema.NodeTypeMessage},
			},
			want: "m1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := ParseGraph(&schema.GraphDefinition{Nodes: tt.nodes})
			require.NoError(t, err)
			assert.Equal(t, tt.want, g.Entry().ID)
			assert.True(t, g.EntryImplicit())
		})
	}
}

func TestParseGraph_ExplicitEntryBeatsFallback(t *testing.T) {
	g, err := ParseGraph(&schema.GraphDefinition{
		Nodes: []schema.NodeDefinition{
			{ID: "ms1", Type: schema.NodeTypeMilestone},
			{ID: "m1", Type: schema.NodeTypeMessage, Entry: true},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "m1", g.Entry().ID)
	assert.False(t, g.EntryImplicit())
}

func TestResolveEdge_TagMatch(t *testing.T) {
	g, err := ParseGraph(&schema.GraphDefinition{
		Nodes: []schema.NodeDefinition{
			{ID: "cond", Type: schema.NodeTypeCondition, Entry: true},
			{ID: "yes", Type: schema.NodeTypeMessage},
			{ID: "no", Type: schema.NodeTypeMessage},
		},
		Edges: []schema.EdgeDefinition{
			{Source: "cond", Target: "yes", Tag: schema.EdgeTagTrue},
			{Source: "cond", Target: "no", Tag: schema.EdgeTagFalse},
		},
	})
	require.NoError(t, err)

	e, ok := g.ResolveEdge("cond", schema.EdgeTagFalse)
	require.True(t, ok)
	assert.Equal(t, "no", e.Target)

	_, ok = g.ResolveEdge("cond", "maybe")
	assert.False(t, ok)
}

func TestResolveEdge_UntaggedMatchesAny(t *testing.T) {
	g, err := ParseGraph(&schema.GraphDefinition{
		Nodes: []schema.NodeDefinition{
			{ID: "a", Type: schema.NodeTypeMessage, Entry: true},
			{ID: "b", Type: schema.NodeTypeEnd},
		},
		Edges: []schema.EdgeDefinition{
			{Source: "a", Target: "b"},
		},
	})
	require.NoError(t, err)

	e, ok := g.ResolveEdge("a", schema.EdgeTagGoalAchieved)
	require.True(t, ok)
	assert.Equal(t, "b", e.Target)
}

// Duplicate tags are a validation error, but the parser stays lenient and
// resolution must still be deterministic: first declared edge wins.
func TestResolveEdge_DuplicateTagFirstMatchWins(t *testing.T) {
	g, err := ParseGraph(&schema.GraphDefinition{
		Nodes: []schema.NodeDefinition{
			{ID: "a", Type: schema.NodeTypeMilestone, Entry: true},
			{ID: "b", Type: schema.NodeTypeMessage},
			{ID: "c", Type: schema.NodeTypeMessage},
		},
		Edges: []schema.EdgeDefinition{
			{Source: "a", Target: "b", Tag: schema.EdgeTagGoalAchieved},
			{Source: "a", Target: "c", Tag: schema.EdgeTagGoalAchieved},
		},
	})
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		e, ok := g.ResolveEdge("a", schema.EdgeTagGoalAchieved)
		require.True(t, ok)
		assert.Equal(t, "b", e.Target)
	}
}

func TestResolveEdge_NoOutgoing(t *testing.T) {
	g, err := ParseGraph(linearGraph(t))
	require.NoError(t, err)

	_, ok := g.ResolveEdge("done", schema.EdgeTagStandard)
	assert.False(t, ok)
}

func TestDecodeConfig(t *testing.T) {
	n := &schema.NodeDefinition{
		ID:     "greet",
		Type:   schema.NodeTypeMilestone,
		Config: rawConfig(t, schema.MilestoneConfig{Goal: "collect the contact's name"}),
	}

	cfg, err := DecodeConfig[schema.MilestoneConfig](n)
	require.NoError(t, err)
	assert.Equal(t, "collect the contact's name", cfg.Goal)
}

func TestDecodeConfig_Missing(t *testing.T) {
	n := &schema.NodeDefinition{ID: "done", Type: schema.NodeTypeEnd}

	cfg, err := DecodeConfig[schema.EndConfig](n)
	require.NoError(t, err)
	assert.Empty(t, cfg.ClosingMessage)
}

func TestDecodeConfig_Invalid(t *testing.T) {
	n := &schema.NodeDefinition{
		ID:     "greet",
		Type:   schema.NodeTypeMessage,
		Config: json.RawMessage(`{"text": 42}`),
	}

	_, err := DecodeConfig[schema.MessageConfig](n)
	require.Error(t, err)

	flowErr, ok := err.(*schema.FlowError)
	require.True(t, ok)
	assert.Equal(t, "greet", flowErr.NodeID)
}
