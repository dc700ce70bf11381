package algorithm

import (
	"context"
	"fmt"
	"math"

	"github.com/liliang-cn/sqdata/pkg/core"
	"github.com/liliang-cn/sqdata/pkg/dataset"
	"github.com/liliang-cn/sqdata/pkg/graph"
)

// PageRank defaults
const (
	DefaultDampingFactor = 0.85
	DefaultMaxIterations = 100
	DefaultTolerance     = 1e-6

	// PageRankProperty is the node property the scores are written to
	PageRankProperty = "pagerank"
)

// PageRank ranks graph nodes with the power method. Rank held by nodes
// without outgoing edges is spread evenly over all nodes, so the scores
// always sum to 1. Edge weights are ignored.
type PageRank struct{}

// NewPageRank creates the PageRank algorithm
func NewPageRank() *PageRank {
	return &PageRank{}
}

// Descriptor describes PageRank
func (p *PageRank) Descriptor() Descriptor {
	return Descriptor{
		Name:        "PageRank",
		Description: "Iterative rank propagation; writes a pagerank property on every node",
		Kind:        InputGraph,
		Params: append([]Param{
			{Name: "dampingFactor", Description: "Probability of following an edge, in (0, 1)", Type: ParamNumber, Default: DefaultDampingFactor},
			{Name: "maxIterations", Description: "Upper bound on iterations", Type: ParamInt, Default: DefaultMaxIterations},
			{Name: "tolerance", Description: "Stop when the L1 change between iterations falls below this", Type: ParamNumber, Default: DefaultTolerance},
		}, outputParams...),
	}
}

// Run computes the ranks and writes them to the output graph
func (p *PageRank) Run(ctx context.Context, input dataset.Dataset, actx *Context) (Result, error) {
	damping, err := actx.Float("dampingFactor", DefaultDampingFactor)
	if err != nil {
		return Result{}, err
	}
	maxIter, err := actx.Int("maxIterations", DefaultMaxIterations)
	if err != nil {
		return Result{}, err
	}
	tol, err := actx.Float("tolerance", DefaultTolerance)
	if err != nil {
		return Result{}, err
	}
	if damping <= 0 || damping >= 1 {
		return Result{}, fmt.Errorf("%w: dampingFactor must be in (0, 1), got %v", core.ErrInvalidArgument, damping)
	}
	if maxIter <= 0 {
		return Result{}, fmt.Errorf("%w: maxIterations must be positive, got %d", core.ErrInvalidArgument, maxIter)
	}
	if tol <= 0 {
		return Result{}, fmt.Errorf("%w: tolerance must be positive, got %v", core.ErrInvalidArgument, tol)
	}

	g, err := input.AsGraph()
	if err != nil {
		return Result{}, err
	}

	topo, err := loadTopology(ctx, g)
	if err != nil {
		return Result{}, err
	}
	if len(topo.ids) == 0 {
		return MetricsOnly(Metrics{"converged": true, "iterations": 0, "nodeCount": 0}), nil
	}

	scores, iterations, delta, converged := rank(topo, damping, maxIter, tol)
	actx.logger().Debug("pagerank finished", "nodes", len(topo.ids), "iterations", iterations, "converged", converged)

	out, err := prepareOutput(ctx, input, "PageRank", actx)
	if err != nil {
		return Result{}, err
	}
	og, err := out.AsGraph()
	if err != nil {
		return Result{}, err
	}

	values := make(map[string]any, len(topo.ids))
	maxScore := 0.0
	for i, id := range topo.ids {
		values[id] = scores[i]
		maxScore = math.Max(maxScore, scores[i])
	}
	if err := og.SetNodeValues(ctx, PageRankProperty, values); err != nil {
		return Result{}, err
	}

	return WithOutput(out, Metrics{
		"converged":  converged,
		"iterations": iterations,
		"delta":      delta,
		"nodeCount":  len(topo.ids),
		"maxRank":    maxScore,
	}), nil
}

// rank runs the power iteration over topo
func rank(topo topology, damping float64, maxIter int, tol float64) (scores []float64, iterations int, delta float64, converged bool) {
	n := len(topo.ids)
	nf := float64(n)
	scores = make([]float64, n)
	next := make([]float64, n)
	for i := range scores {
		scores[i] = 1 / nf
	}

	for iterations < maxIter {
		dangling := 0.0
		for i, deg := range topo.outDegree {
			if deg == 0 {
				dangling += scores[i]
			}
		}
		base := (1-damping)/nf + damping*dangling/nf

		for i := range next {
			sum := 0.0
			for _, j := range topo.inLinks[i] {
				sum += scores[j] / float64(topo.outDegree[j])
			}
			next[i] = base + damping*sum
		}

		delta = 0
		for i := range next {
			delta += math.Abs(next[i] - scores[i])
		}
		scores, next = next, scores
		iterations++

		if delta < tol {
			converged = true
			break
		}
	}
	return scores, iterations, delta, converged
}

// topology is the index form of a graph used by the graph algorithms
type topology struct {
	ids       []string
	index     map[string]int
	outDegree []int
	inLinks   [][]int
	edges     [][2]int
}

func loadTopology(ctx context.Context, g *graph.Graph) (topology, error) {
	t := topology{index: make(map[string]int)}
	for id, err := range g.GetNodeIds(ctx) {
		if err != nil {
			return topology{}, err
		}
		t.index[id] = len(t.ids)
		t.ids = append(t.ids, id)
	}

	t.outDegree = make([]int, len(t.ids))
	t.inLinks = make([][]int, len(t.ids))
	for e, err := range g.GetEdges(ctx) {
		if err != nil {
			return topology{}, err
		}
		u, ok1 := t.index[e.From]
		v, ok2 := t.index[e.To]
		if !ok1 || !ok2 {
			continue
		}
		t.outDegree[u]++
		t.inLinks[v] = append(t.inLinks[v], u)
		t.edges = append(t.edges, [2]int{u, v})
	}
	return t, nil
}
