package algorithm

import (
	"context"

	"github.com/liliang-cn/sqdata/pkg/dataset"
)

// ComponentProperty is the node property holding the component id
const ComponentProperty = "componentId"

// ConnectedComponents labels the weakly connected components of a graph.
// Component ids are assigned 0, 1, ... in node order.
type ConnectedComponents struct{}

// NewConnectedComponents creates the ConnectedComponents algorithm
func NewConnectedComponents() *ConnectedComponents {
	return &ConnectedComponents{}
}

// Descriptor describes ConnectedComponents
func (c *ConnectedComponents) Descriptor() Descriptor {
	return Descriptor{
		Name:        "ConnectedComponents",
		Description: "Union-find over edges ignoring direction; writes a componentId property on every node",
		Kind:        InputGraph,
		Params:      append([]Param(nil), outputParams...),
	}
}

// Run labels the components and writes them to the output graph
func (c *ConnectedComponents) Run(ctx context.Context, input dataset.Dataset, actx *Context) (Result, error) {
	g, err := input.AsGraph()
	if err != nil {
		return Result{}, err
	}
	topo, err := loadTopology(ctx, g)
	if err != nil {
		return Result{}, err
	}
	if len(topo.ids) == 0 {
		return MetricsOnly(Metrics{"componentCount": 0, "largestComponentSize": 0}), nil
	}

	uf := newUnionFind(len(topo.ids))
	for _, e := range topo.edges {
		uf.union(e[0], e[1])
	}

	labels := make(map[int]int)
	sizes := make(map[int]int)
	values := make(map[string]any, len(topo.ids))
	largest := 0
	for i, id := range topo.ids {
		root := uf.find(i)
		label, ok := labels[root]
		if !ok {
			label = len(labels)
			labels[root] = label
		}
		values[id] = label
		sizes[label]++
		largest = max(largest, sizes[label])
	}

	out, err := prepareOutput(ctx, input, "ConnectedComponents", actx)
	if err != nil {
		return Result{}, err
	}
	og, err := out.AsGraph()
	if err != nil {
		return Result{}, err
	}
	if err := og.SetNodeValues(ctx, ComponentProperty, values); err != nil {
		return Result{}, err
	}

	return WithOutput(out, Metrics{
		"componentCount":       len(labels),
		"largestComponentSize": largest,
	}), nil
}

// unionFind is a disjoint-set forest with path halving and union by size
type unionFind struct {
	parent []int
	size   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n), size: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
		uf.size[i] = 1
	}
	return uf
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if u.size[ra] < u.size[rb] {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
	u.size[ra] += u.size[rb]
}
