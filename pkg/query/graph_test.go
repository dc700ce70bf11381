package query

import (
	"context"
	"testing"

	"github.com/liliang-cn/sqdata/pkg/core"
	"github.com/liliang-cn/sqdata/pkg/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupChain builds f->a->b->c->d->a, a->e and an isolated g
func setupChain(t testing.TB) *graph.Graph {
	t.Helper()
	ctx := context.Background()

	g, err := graph.Create(ctx, setupTestStore(t), "chain")
	require.NoError(t, err)

	_, err = g.AddNodes(ctx, []graph.Node{
		{ID: "a", Properties: map[string]any{"age": 60, "team": "red"}},
		{ID: "b", Properties: map[string]any{"age": 20, "team": "blue"}},
		{ID: "c", Properties: map[string]any{"age": 40, "team": "red"}},
		{ID: "d", Properties: map[string]any{"age": 50}},
		{ID: "e", Properties: map[string]any{"age": 10, "team": "blue"}},
		{ID: "f", Properties: map[string]any{"age": 30, "team": "green"}},
		{ID: "g"},
	})
	require.NoError(t, err)

	_, err = g.AddEdges(ctx, []graph.Edge{
		{From: "a", To: "b"},
		{From: "a", To: "e"},
		{From: "b", To: "c"},
		{From: "c", To: "d"},
		{From: "d", To: "a"},
		{From: "f", To: "a"},
	})
	require.NoError(t, err)
	return g
}

func TestGraphQueryScan(t *testing.T) {
	g := setupChain(t)
	ctx := context.Background()

	ids, err := Graph(g).Where(Eq("team", "red")).ToNodeIds(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, ids)

	ids, err = Graph(g).Where(IsNull("team")).OrderByDescending(NodeIDField).ToNodeIds(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"g", "d"}, ids)

	ids, err = Graph(g).OrderBy("age").Limit(3).ToNodeIds(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"e", "b", "f"}, ids)

	n, err := Graph(g).Filter("age BETWEEN 20 AND 50").Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestGraphQueryTraversal(t *testing.T) {
	g := setupChain(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		query *GraphQuery
		want  []string
	}{
		{"out", Graph(g).From("a").TraverseOut(), []string{"b", "e", "c", "d"}},
		{"out depth 1", Graph(g).From("a").TraverseOut().MaxDepth(1), []string{"b", "e"}},
		{"out depth 0", Graph(g).From("a").TraverseOut().MaxDepth(0), []string{}},
		{"in", Graph(g).From("a").TraverseIn(), []string{"d", "f", "c", "b"}},
		{"both by default", Graph(g).From("a").MaxDepth(1), []string{"b", "e", "d", "f"}},
		{"explicit both", Graph(g).From("b").TraverseOut().TraverseIn().MaxDepth(1), []string{"c", "a"}},
		{"isolated", Graph(g).From("g"), []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.query.ToNodeIds(ctx)
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.want, got)
			assert.NotContains(t, got, "g")
		})
	}
}

func TestGraphQueryFiltersDoNotPruneTraversal(t *testing.T) {
	g := setupChain(t)
	ctx := context.Background()

	// b fails the filter but c and d are still reached through it
	ids, err := Graph(g).From("a").TraverseOut().Where(Gte("age", 40)).ToNodeIds(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"c", "d"}, ids)

	ids, err = Graph(g).From("a").TraverseOut().Where(Ne(NodeIDField, "b")).MaxDepth(1).ToNodeIds(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"e"}, ids)
}

func TestGraphQueryTerminals(t *testing.T) {
	g := setupChain(t)
	ctx := context.Background()

	node, found, err := Graph(g).Where(Eq("team", "green")).FirstOrDefault(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "f", node.ID)
	assert.Equal(t, "green", node.Properties["team"])

	ok, err := Graph(g).From("f").TraverseIn().Any(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	records, err := Graph(g).Where(Eq(NodeIDField, "e")).ToRecords(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "e", records[0][NodeIDField])
	assert.Equal(t, "blue", records[0]["team"])

	nodes, err := Graph(g).From("a").TraverseOut().MaxDepth(1).OrderBy("age").ToNodes(ctx)
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, "e", nodes[0].ID)

	var seen []string
	for n, err := range Graph(g).Where(Eq("team", "blue")).Nodes(ctx) {
		require.NoError(t, err)
		seen = append(seen, n.ID)
	}
	assert.Equal(t, []string{"b", "e"}, seen)

	sum, err := Graph(g).Sum(ctx, "age")
	require.NoError(t, err)
	assert.InDelta(t, 210.0, sum, 1e-9)

	avg, err := Graph(g).Where(Eq("team", "blue")).Average(ctx, "age")
	require.NoError(t, err)
	assert.InDelta(t, 15.0, avg, 1e-9)

	lo, err := Graph(g).From("a").TraverseOut().Min(ctx, "age")
	require.NoError(t, err)
	assert.Equal(t, 10.0, lo)

	hi, err := Graph(g).From("a").TraverseOut().Max(ctx, "age")
	require.NoError(t, err)
	assert.Equal(t, 50.0, hi)

	teams, err := Graph(g).Distinct(ctx, "team")
	require.NoError(t, err)
	assert.Equal(t, []any{"red", "blue", nil, "green"}, teams)
}

func TestGraphQueryErrors(t *testing.T) {
	g := setupChain(t)
	ctx := context.Background()

	_, err := Graph(g).From("zed").ToNodeIds(ctx)
	assert.ErrorIs(t, err, core.ErrNodeNotFound)
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = Graph(g).From("").Count(ctx)
	assert.ErrorIs(t, err, core.ErrInvalidArgument)

	_, err = Graph(g).From("a").MaxDepth(-1).Count(ctx)
	assert.ErrorIs(t, err, core.ErrInvalidArgument)

	_, err = Graph(g).Where(Gt("age", nil)).Count(ctx)
	assert.ErrorIs(t, err, core.ErrInvalidArgument)

	_, err = Graph(nil).Count(ctx)
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
}

func TestGraphQueryEmitsQueried(t *testing.T) {
	g := setupChain(t)
	emitter := core.NewEmitter()
	g.SetEmitter(emitter)
	events, cancel := emitter.Channel(4)
	defer cancel()

	_, err := Graph(g).From("zed").Count(context.Background())
	require.Error(t, err)

	ev := <-events
	assert.Equal(t, core.EventDatasetQueried, ev.Type)
	assert.Equal(t, core.KindGraph, ev.Kind)
	assert.False(t, ev.Success)
	assert.ErrorIs(t, ev.Err, core.ErrNodeNotFound)
}
