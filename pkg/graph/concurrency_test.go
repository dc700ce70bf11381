package graph

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/liliang-cn/sqdata/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestConcurrentEdgesAndRemovalsKeepCounts(t *testing.T) {
	ctx := context.Background()
	g := setupTestGraph(t)

	const n = 30
	nodes := make([]Node, n)
	for i := range nodes {
		nodes[i] = Node{ID: fmt.Sprintf("n%d", i)}
	}
	_, err := g.AddNodes(ctx, nodes)
	require.NoError(t, err)

	var eg errgroup.Group
	for offset := 1; offset <= 4; offset++ {
		eg.Go(func() error {
			for i := 0; i < n; i++ {
				from, to := fmt.Sprintf("n%d", i), fmt.Sprintf("n%d", (i+offset)%n)
				err := g.AddEdge(ctx, from, to, nil)
				if err != nil && !errors.Is(err, core.ErrNodeNotFound) {
					return err
				}
			}
			return nil
		})
	}
	for i := 0; i < 5; i++ {
		eg.Go(func() error {
			_, err := g.RemoveNode(ctx, fmt.Sprintf("n%d", i))
			return err
		})
	}
	require.NoError(t, eg.Wait())

	assert.Equal(t, n-5, g.NodeCount())
	live := make(map[string]bool)
	for _, id := range nodeIDs(t, g) {
		live[id] = true
	}
	assert.Len(t, live, n-5)

	edges := 0
	for e, err := range g.GetEdges(ctx) {
		require.NoError(t, err)
		assert.True(t, live[e.From], "edge from removed node %s", e.From)
		assert.True(t, live[e.To], "edge to removed node %s", e.To)
		edges++
	}
	assert.Equal(t, g.EdgeCount(), edges)

	reopened, err := Open(ctx, g.Store(), "social")
	require.NoError(t, err)
	assert.Equal(t, g.NodeCount(), reopened.NodeCount())
	assert.Equal(t, edges, reopened.EdgeCount())
}

func TestListenerCanReadGraph(t *testing.T) {
	ctx := context.Background()
	events := core.NewEmitter()
	g := setupTestGraph(t, WithEmitter(events))

	var counts [][2]int
	events.Subscribe(func(ev core.Event) {
		if ev.Type == core.EventDatasetModified {
			counts = append(counts, [2]int{g.NodeCount(), g.EdgeCount()})
		}
	})

	done := make(chan error, 1)
	go func() {
		done <- func() error {
			if err := g.AddNode(ctx, "a", nil); err != nil {
				return err
			}
			if err := g.AddNode(ctx, "b", nil); err != nil {
				return err
			}
			if err := g.AddEdge(ctx, "a", "b", nil); err != nil {
				return err
			}
			_, err := g.RemoveNode(ctx, "a")
			return err
		}()
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("listener reading the graph blocked the mutation")
	}
	assert.Equal(t, [][2]int{{1, 0}, {2, 0}, {2, 1}, {1, 0}}, counts)
}
