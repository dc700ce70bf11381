package graph

import (
	"bytes"
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/liliang-cn/sqdata/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t testing.TB) *core.Store {
	t.Helper()

	store, err := core.New(filepath.Join(t.TempDir(), "graph.db"))
	require.NoError(t, err)
	require.NoError(t, store.Init(context.Background()))

	t.Cleanup(func() { _ = store.Close() })
	return store
}

func setupTestGraph(t testing.TB, opts ...Option) *Graph {
	t.Helper()

	g, err := Create(context.Background(), setupTestStore(t), "social", opts...)
	require.NoError(t, err)
	return g
}

func nodeIDs(t *testing.T, g *Graph) []string {
	t.Helper()

	var ids []string
	for id, err := range g.GetNodeIds(context.Background()) {
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func TestGraphLifecycle(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	_, err := Create(ctx, store, " ")
	assert.ErrorIs(t, err, core.ErrInvalidName)

	g, err := Create(ctx, store, "roads")
	require.NoError(t, err)
	_, err = Create(ctx, store, "roads")
	assert.ErrorIs(t, err, core.ErrAlreadyExists)

	require.NoError(t, g.AddNode(ctx, "a", nil))
	require.NoError(t, g.AddNode(ctx, "b", nil))
	require.NoError(t, g.AddEdge(ctx, "a", "b", nil))

	reopened, err := Open(ctx, store, "roads")
	require.NoError(t, err)
	assert.Equal(t, 2, reopened.NodeCount())
	assert.Equal(t, 1, reopened.EdgeCount())

	ok, err := Exists(ctx, store, "roads")
	require.NoError(t, err)
	assert.True(t, ok)

	names, err := List(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, []string{"roads"}, names)

	dropped, err := Drop(ctx, store, "roads")
	require.NoError(t, err)
	assert.True(t, dropped)

	ok, err = Exists(ctx, store, "roads")
	require.NoError(t, err)
	assert.False(t, ok)

	collections, err := store.ListCollections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{MetaCollection}, collections)
}

func TestNodeOperations(t *testing.T) {
	ctx := context.Background()
	g := setupTestGraph(t)

	require.NoError(t, g.AddNode(ctx, "alice", map[string]any{"age": 30, "city": "Oslo"}))

	err := g.AddNode(ctx, "alice", nil)
	assert.ErrorIs(t, err, core.ErrAlreadyExists)
	assert.Equal(t, 1, g.NodeCount())

	err = g.AddNode(ctx, "", nil)
	assert.ErrorIs(t, err, core.ErrInvalidName)

	n, err := g.AddNodes(ctx, []Node{{ID: "bob"}, {ID: "carol"}})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = g.AddNodes(ctx, []Node{{ID: "dave"}, {ID: "alice"}})
	assert.ErrorIs(t, err, core.ErrAlreadyExists)
	assert.Equal(t, 3, g.NodeCount(), "batch is all or nothing")

	has, err := g.HasNode(ctx, "dave")
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, g.UpdateNodeProperties(ctx, "alice", map[string]any{"age": 31, "city": nil, "role": "admin"}))
	props, err := g.GetNodeProperties(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"age": int64(31), "role": "admin"}, props)

	err = g.UpdateNodeProperties(ctx, "nobody", map[string]any{"x": 1})
	assert.ErrorIs(t, err, core.ErrNodeNotFound)

	_, err = g.GetNodeProperties(ctx, "nobody")
	assert.ErrorIs(t, err, core.ErrNotFound)

	assert.Equal(t, []string{"alice", "bob", "carol"}, nodeIDs(t, g))
}

func TestSetNodeValues(t *testing.T) {
	ctx := context.Background()
	g := setupTestGraph(t)

	_, err := g.AddNodes(ctx, []Node{{ID: "a", Properties: map[string]any{"k": "v"}}, {ID: "b"}})
	require.NoError(t, err)

	require.NoError(t, g.SetNodeValues(ctx, "score", map[string]any{"a": 0.25, "b": 0.75}))
	props, err := g.GetNodeProperties(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"k": "v", "score": 0.25}, props)

	err = g.SetNodeValues(ctx, "score", map[string]any{"a": 1.5, "zed": 1.0})
	assert.ErrorIs(t, err, core.ErrNodeNotFound)
	props, err = g.GetNodeProperties(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 0.25, props["score"], "failed update is rolled back")

	assert.ErrorIs(t, g.SetNodeValues(ctx, "", map[string]any{"a": 1}), core.ErrInvalidArgument)
}

func TestAddEdgeWithMissingEndpointLeavesCountsUnchanged(t *testing.T) {
	ctx := context.Background()
	g := setupTestGraph(t)

	require.NoError(t, g.AddNode(ctx, "a", nil))

	err := g.AddEdge(ctx, "a", "ghost", nil)
	assert.ErrorIs(t, err, core.ErrNodeNotFound)
	assert.Equal(t, 1, g.NodeCount())
	assert.Equal(t, 0, g.EdgeCount())

	_, err = g.AddEdges(ctx, []Edge{{From: "a", To: "a"}, {From: "ghost", To: "a"}})
	assert.ErrorIs(t, err, core.ErrNodeNotFound)
	assert.Equal(t, 0, g.EdgeCount())

	has, err := g.HasEdge(ctx, "a", "a")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestEdgeOperations(t *testing.T) {
	ctx := context.Background()
	g := setupTestGraph(t)

	_, err := g.AddNodes(ctx, []Node{{ID: "a"}, {ID: "b"}, {ID: "c"}})
	require.NoError(t, err)

	require.NoError(t, g.AddEdge(ctx, "a", "b", map[string]any{"kind": "friend"}))
	require.NoError(t, g.AddWeightedEdge(ctx, "b", "c", 2.5, nil))

	err = g.AddEdge(ctx, "a", "b", nil)
	assert.ErrorIs(t, err, core.ErrAlreadyExists)

	n, err := g.AddEdges(ctx, []Edge{{From: "c", To: "a"}, {From: "b", To: "a", Weight: 0.5}})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 4, g.EdgeCount())

	e, err := g.GetEdge(ctx, "a", "b")
	require.NoError(t, err)
	assert.Equal(t, DefaultWeight, e.Weight)
	assert.Equal(t, "friend", e.Properties["kind"])

	e, err = g.GetEdge(ctx, "c", "a")
	require.NoError(t, err)
	assert.Equal(t, DefaultWeight, e.Weight)

	e, err = g.GetEdge(ctx, "b", "c")
	require.NoError(t, err)
	assert.Equal(t, 2.5, e.Weight)

	require.NoError(t, g.UpdateEdgeProperties(ctx, "a", "b", map[string]any{"since": 2020, "kind": nil}))
	props, err := g.GetEdgeProperties(ctx, "a", "b")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"since": int64(2020)}, props)

	_, err = g.GetEdgeProperties(ctx, "a", "c")
	assert.ErrorIs(t, err, core.ErrEdgeNotFound)

	removed, err := g.RemoveEdge(ctx, "a", "b")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = g.RemoveEdge(ctx, "a", "b")
	require.NoError(t, err)
	assert.False(t, removed)
	assert.Equal(t, 3, g.EdgeCount())

	var count int
	for _, err := range g.GetEdges(ctx) {
		require.NoError(t, err)
		count++
	}
	assert.Equal(t, 3, count)
}

func TestRemoveNodeCascadesEdges(t *testing.T) {
	ctx := context.Background()
	g := setupTestGraph(t)

	_, err := g.AddNodes(ctx, []Node{{ID: "a"}, {ID: "b"}, {ID: "c"}})
	require.NoError(t, err)
	_, err = g.AddEdges(ctx, []Edge{
		{From: "a", To: "b"}, {From: "b", To: "a"}, {From: "b", To: "b"}, {From: "b", To: "c"}, {From: "a", To: "c"},
	})
	require.NoError(t, err)

	removed, err := g.RemoveNode(ctx, "b")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, 2, g.NodeCount())
	assert.Equal(t, 1, g.EdgeCount())

	has, err := g.HasEdge(ctx, "a", "c")
	require.NoError(t, err)
	assert.True(t, has)

	removed, err = g.RemoveNode(ctx, "b")
	require.NoError(t, err)
	assert.False(t, removed)

	reopened, err := Open(ctx, g.Store(), "social")
	require.NoError(t, err)
	assert.Equal(t, 2, reopened.NodeCount())
	assert.Equal(t, 1, reopened.EdgeCount())
}

func TestNeighborsAndDegrees(t *testing.T) {
	ctx := context.Background()
	g := setupTestGraph(t)

	_, err := g.AddNodes(ctx, []Node{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}})
	require.NoError(t, err)
	_, err = g.AddEdges(ctx, []Edge{
		{From: "a", To: "b"}, {From: "a", To: "c"}, {From: "c", To: "a"}, {From: "d", To: "a"},
	})
	require.NoError(t, err)

	out, err := g.GetOutNeighbors(ctx, "a")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"b", "c"}, out)

	in, err := g.GetInNeighbors(ctx, "a")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"c", "d"}, in)

	all, err := g.GetNeighbors(ctx, "a")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"b", "c", "d"}, all)

	none, err := g.GetNeighbors(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, none)

	deg, err := g.GetOutDegree(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 2, deg)

	deg, err = g.GetInDegree(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 2, deg)

	_, err = g.GetOutNeighbors(ctx, "zz")
	assert.ErrorIs(t, err, core.ErrNodeNotFound)

	stats, err := g.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.NodeCount)
	assert.Equal(t, 4, stats.EdgeCount)
	assert.Equal(t, 1.0, stats.AverageDegree, "edges per node, counted once")
	assert.Equal(t, 2, stats.MaxOutDegree)
	assert.Equal(t, 2, stats.MaxInDegree)
	assert.InDelta(t, 4.0/12.0, stats.Density, 1e-12)
}

func TestClearAndCopy(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	src, err := Create(ctx, store, "src")
	require.NoError(t, err)
	_, err = src.AddNodes(ctx, []Node{{ID: "x", Properties: map[string]any{"w": 1.5}}, {ID: "y"}})
	require.NoError(t, err)
	require.NoError(t, src.AddWeightedEdge(ctx, "x", "y", 3, map[string]any{"t": "r"}))

	dst, err := Create(ctx, store, "dst")
	require.NoError(t, err)
	require.NoError(t, dst.AddNode(ctx, "stale", nil))

	require.NoError(t, src.CopyTo(ctx, dst))
	assert.Equal(t, 2, dst.NodeCount())
	assert.Equal(t, 1, dst.EdgeCount())

	e, err := dst.GetEdge(ctx, "x", "y")
	require.NoError(t, err)
	assert.Equal(t, 3.0, e.Weight)
	assert.Equal(t, map[string]any{"t": "r"}, e.Properties)

	require.NoError(t, src.Clear(ctx))
	assert.Zero(t, src.NodeCount())
	assert.Zero(t, src.EdgeCount())
	assert.Empty(t, nodeIDs(t, src))
	assert.Equal(t, 2, dst.NodeCount())
}

func TestJSONDumpRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	src, err := Create(ctx, store, "src")
	require.NoError(t, err)
	_, err = src.AddNodes(ctx, []Node{
		{ID: "a", Properties: map[string]any{"score": math.NaN(), "label": "first"}},
		{ID: "b"},
	})
	require.NoError(t, err)
	require.NoError(t, src.AddWeightedEdge(ctx, "a", "b", 0.25, nil))

	var buf bytes.Buffer
	require.NoError(t, src.ExportJSON(ctx, &buf))
	assert.Contains(t, buf.String(), DumpFormat)

	dst, err := Create(ctx, store, "dst")
	require.NoError(t, err)
	require.NoError(t, dst.ImportJSON(ctx, &buf))

	assert.Equal(t, 2, dst.NodeCount())
	props, err := dst.GetNodeProperties(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "first", props["label"])
	assert.True(t, math.IsNaN(props["score"].(float64)))

	e, err := dst.GetEdge(ctx, "a", "b")
	require.NoError(t, err)
	assert.Equal(t, 0.25, e.Weight)

	err = dst.ImportJSON(ctx, bytes.NewBufferString(`{"kind":"tabular"}`))
	assert.ErrorIs(t, err, core.ErrKindMismatch)
}

func TestGraphModificationEvents(t *testing.T) {
	ctx := context.Background()
	events := core.NewEmitter()
	ch, cancel := events.Channel(8)
	defer cancel()

	g := setupTestGraph(t, WithEmitter(events))
	require.NoError(t, g.AddNode(ctx, "a", nil))

	ev := <-ch
	assert.Equal(t, core.EventDatasetModified, ev.Type)
	assert.Equal(t, core.KindGraph, ev.Kind)
	assert.Equal(t, "social", ev.Dataset)
}
