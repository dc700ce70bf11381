package graph

import (
	"context"
	"fmt"

	"github.com/liliang-cn/sqdata/pkg/core"
)

// Statistics summarises a graph's shape
type Statistics struct {
	NodeCount     int     `json:"node_count"`
	EdgeCount     int     `json:"edge_count"`
	AverageDegree float64 `json:"average_degree"` // mean out-degree, E/N; equals the mean in-degree
	Density       float64 `json:"density"`
	MaxOutDegree  int     `json:"max_out_degree"`
	MaxInDegree   int     `json:"max_in_degree"`
	SelfLoops     int     `json:"self_loops"`
}

// GetOutNeighbors returns the targets of id's outgoing edges
func (g *Graph) GetOutNeighbors(ctx context.Context, id string) ([]string, error) {
	return g.neighbors(ctx, "out_neighbors", id, true, false)
}

// GetInNeighbors returns the sources of id's incoming edges
func (g *Graph) GetInNeighbors(ctx context.Context, id string) ([]string, error) {
	return g.neighbors(ctx, "in_neighbors", id, false, true)
}

// GetNeighbors returns the union of out- and in-neighbors without duplicates,
// out-neighbors first
func (g *Graph) GetNeighbors(ctx context.Context, id string) ([]string, error) {
	return g.neighbors(ctx, "neighbors", id, true, true)
}

// GetOutDegree returns the number of edges leaving id
func (g *Graph) GetOutDegree(ctx context.Context, id string) (int, error) {
	return g.degree(ctx, "out_degree", id, fromField)
}

// GetInDegree returns the number of edges entering id
func (g *Graph) GetInDegree(ctx context.Context, id string) (int, error) {
	return g.degree(ctx, "in_degree", id, toField)
}

// Stats computes node and edge counts, degree extremes and density
func (g *Graph) Stats(ctx context.Context) (Statistics, error) {
	stats := Statistics{NodeCount: g.NodeCount(), EdgeCount: g.EdgeCount()}
	if stats.NodeCount == 0 {
		return stats, nil
	}

	out := make(map[string]int)
	in := make(map[string]int)
	for e, err := range g.GetEdges(ctx) {
		if err != nil {
			return Statistics{}, err
		}
		out[e.From]++
		in[e.To]++
		if e.From == e.To {
			stats.SelfLoops++
		}
	}
	for _, d := range out {
		stats.MaxOutDegree = max(stats.MaxOutDegree, d)
	}
	for _, d := range in {
		stats.MaxInDegree = max(stats.MaxInDegree, d)
	}

	stats.AverageDegree = float64(stats.EdgeCount) / float64(stats.NodeCount)
	if maxEdges := float64(stats.NodeCount) * float64(stats.NodeCount-1); maxEdges > 0 {
		stats.Density = float64(stats.EdgeCount) / maxEdges
	}
	return stats, nil
}

func (g *Graph) neighbors(ctx context.Context, op, id string, out, in bool) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if err := g.requireNode(ctx, id); err != nil {
		return nil, core.WrapError(op, err)
	}

	edges := g.store.Collection(g.edgesName())
	seen := make(map[string]bool)
	result := []string{}

	collect := func(field, other string) error {
		recs, err := edges.FindBy(ctx, field, id)
		if err != nil {
			return err
		}
		for _, rec := range recs {
			n, _ := rec.Doc[other].(string)
			if !seen[n] {
				seen[n] = true
				result = append(result, n)
			}
		}
		return nil
	}

	if out {
		if err := collect(fromField, toField); err != nil {
			return nil, core.WrapError(op, err)
		}
	}
	if in {
		if err := collect(toField, fromField); err != nil {
			return nil, core.WrapError(op, err)
		}
	}
	return result, nil
}

func (g *Graph) degree(ctx context.Context, op, id, field string) (int, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if err := g.requireNode(ctx, id); err != nil {
		return 0, core.WrapError(op, err)
	}
	n, err := g.store.Collection(g.edgesName()).CountBy(ctx, field, id)
	if err != nil {
		return 0, core.WrapError(op, err)
	}
	return n, nil
}

func (g *Graph) requireNode(ctx context.Context, id string) error {
	n, err := g.store.Collection(g.nodesName()).CountBy(ctx, nodeIDField, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("'%s': %w", id, core.ErrNodeNotFound)
	}
	return nil
}
