package query

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/liliang-cn/sqdata/pkg/core"
	"github.com/liliang-cn/sqdata/pkg/graph"
)

// GraphQuery is a lazily evaluated query over a graph's nodes. With From set
// it walks the graph breadth-first from the start node; otherwise it scans
// every node.
type GraphQuery struct {
	graph    *graph.Graph
	plan     plan
	start    string
	hasStart bool
	out      bool
	in       bool
	maxDepth int
}

// Graph starts a query over g
func Graph(g *graph.Graph) *GraphQuery {
	return &GraphQuery{graph: g, plan: newPlan(), maxDepth: -1}
}

// Where adds conditions on node properties (NodeIDField for the id)
func (q *GraphQuery) Where(conds ...Condition) *GraphQuery {
	q.plan.where(conds)
	return q
}

// Filter parses expr with ParseFilter and adds the result
func (q *GraphQuery) Filter(expr string) *GraphQuery {
	conds, err := ParseFilter(expr)
	if err != nil {
		q.plan.fail(err)
		return q
	}
	return q.Where(conds...)
}

// From switches the query to traversal mode starting at nodeID. The start
// node itself is not part of the result.
func (q *GraphQuery) From(nodeID string) *GraphQuery {
	if nodeID == "" {
		q.plan.fail(fmt.Errorf("%w: empty start node", core.ErrInvalidArgument))
		return q
	}
	q.start, q.hasStart = nodeID, true
	return q
}

// TraverseOut follows outgoing edges
func (q *GraphQuery) TraverseOut() *GraphQuery {
	q.out = true
	return q
}

// TraverseIn follows incoming edges
func (q *GraphQuery) TraverseIn() *GraphQuery {
	q.in = true
	return q
}

// MaxDepth bounds the traversal to n hops from the start node. The default
// is unbounded.
func (q *GraphQuery) MaxDepth(n int) *GraphQuery {
	if n < 0 {
		q.plan.fail(fmt.Errorf("%w: negative depth %d", core.ErrInvalidArgument, n))
		return q
	}
	q.maxDepth = n
	return q
}

// OrderBy sorts ascending by a node property
func (q *GraphQuery) OrderBy(field string) *GraphQuery {
	q.plan.orderBy(field, false)
	return q
}

// OrderByDescending sorts descending by a node property
func (q *GraphQuery) OrderByDescending(field string) *GraphQuery {
	q.plan.orderBy(field, true)
	return q
}

// Skip drops the first n matches
func (q *GraphQuery) Skip(n int) *GraphQuery {
	q.plan.setSkip(n)
	return q
}

// Limit keeps at most n matches
func (q *GraphQuery) Limit(n int) *GraphQuery {
	q.plan.setLimit(n)
	return q
}

// Page selects the 1-based page number of the given size
func (q *GraphQuery) Page(number, size int) *GraphQuery {
	q.plan.page(number, size)
	return q
}

// WithEpsilon sets the numeric equality tolerance for this query
func (q *GraphQuery) WithEpsilon(eps float64) *GraphQuery {
	q.plan.setEpsilon(eps)
	return q
}

// Nodes returns the matching nodes as a lazy sequence
func (q *GraphQuery) Nodes(ctx context.Context) iter.Seq2[graph.Node, error] {
	return func(yield func(graph.Node, error) bool) {
		if err := q.check(); err != nil {
			yield(graph.Node{}, err)
			return
		}
		for it, err := range q.plan.apply(q.source(ctx)) {
			if err != nil {
				yield(graph.Node{}, err)
				return
			}
			if !yield(graph.Node{ID: it.id, Properties: it.values}, nil) {
				return
			}
		}
	}
}

// Count returns the number of matching nodes after paging
func (q *GraphQuery) Count(ctx context.Context) (n int, err error) {
	defer q.observe(time.Now(), &err)
	items, err := q.items(ctx)
	return len(items), err
}

// Any reports whether at least one node matches
func (q *GraphQuery) Any(ctx context.Context) (ok bool, err error) {
	defer q.observe(time.Now(), &err)
	if err := q.check(); err != nil {
		return false, err
	}
	for _, err := range q.plan.apply(q.source(ctx)) {
		if err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// ToNodeIds returns the ids of the matching nodes
func (q *GraphQuery) ToNodeIds(ctx context.Context) (ids []string, err error) {
	defer q.observe(time.Now(), &err)
	items, err := q.items(ctx)
	if err != nil {
		return nil, err
	}
	ids = make([]string, len(items))
	for i, it := range items {
		ids[i] = it.id
	}
	return ids, nil
}

// ToNodes returns the matching nodes
func (q *GraphQuery) ToNodes(ctx context.Context) (nodes []graph.Node, err error) {
	defer q.observe(time.Now(), &err)
	items, err := q.items(ctx)
	if err != nil {
		return nil, err
	}
	nodes = make([]graph.Node, len(items))
	for i, it := range items {
		nodes[i] = graph.Node{ID: it.id, Properties: it.values}
	}
	return nodes, nil
}

// ToRecords returns each matching node's properties plus its id under NodeIDField
func (q *GraphQuery) ToRecords(ctx context.Context) (records []map[string]any, err error) {
	defer q.observe(time.Now(), &err)
	items, err := q.items(ctx)
	if err != nil {
		return nil, err
	}
	records = make([]map[string]any, len(items))
	for i, it := range items {
		rec := core.CloneProperties(it.values)
		rec[NodeIDField] = it.id
		records[i] = rec
	}
	return records, nil
}

// FirstOrDefault returns the first matching node, or false when none match
func (q *GraphQuery) FirstOrDefault(ctx context.Context) (node graph.Node, found bool, err error) {
	defer q.observe(time.Now(), &err)
	if err := q.check(); err != nil {
		return graph.Node{}, false, err
	}
	for it, err := range q.plan.apply(q.source(ctx)) {
		if err != nil {
			return graph.Node{}, false, err
		}
		return graph.Node{ID: it.id, Properties: it.values}, true, nil
	}
	return graph.Node{}, false, nil
}

// Sum adds a numeric property over the matching nodes
func (q *GraphQuery) Sum(ctx context.Context, field string) (float64, error) {
	agg, err := q.aggregate(ctx, field)
	return agg.sum, err
}

// Average returns the mean of a property, NaN when no node has it
func (q *GraphQuery) Average(ctx context.Context, field string) (float64, error) {
	agg, err := q.aggregate(ctx, field)
	return agg.mean(), err
}

// Min returns the smallest value of a property, NaN when no node has it
func (q *GraphQuery) Min(ctx context.Context, field string) (float64, error) {
	agg, err := q.aggregate(ctx, field)
	return agg.minimum(), err
}

// Max returns the largest value of a property, NaN when no node has it
func (q *GraphQuery) Max(ctx context.Context, field string) (float64, error) {
	agg, err := q.aggregate(ctx, field)
	return agg.maximum(), err
}

// Distinct returns the distinct values of a property in first-appearance order
func (q *GraphQuery) Distinct(ctx context.Context, field string) (values []any, err error) {
	defer q.observe(time.Now(), &err)
	items, err := q.items(ctx)
	if err != nil {
		return nil, err
	}
	all := make([]any, len(items))
	for i, it := range items {
		all[i], _ = it.get(field)
	}
	return distinct(all), nil
}

func (q *GraphQuery) aggregate(ctx context.Context, field string) (agg aggregate, err error) {
	defer q.observe(time.Now(), &err)
	items, err := q.items(ctx)
	if err != nil {
		return agg, err
	}
	for _, it := range items {
		v, _ := it.get(field)
		agg.add(v)
	}
	return agg, nil
}

func (q *GraphQuery) items(ctx context.Context) ([]item, error) {
	if err := q.check(); err != nil {
		return nil, err
	}
	return collectItems(ctx, q.plan.apply(q.source(ctx)))
}

func (q *GraphQuery) check() error {
	if q.graph == nil {
		return fmt.Errorf("%w: query without graph", core.ErrInvalidArgument)
	}
	return q.plan.err
}

func (q *GraphQuery) source(ctx context.Context) iter.Seq2[item, error] {
	if q.hasStart {
		return q.traverse(ctx)
	}
	return func(yield func(item, error) bool) {
		for n, err := range q.graph.Nodes(ctx) {
			if !yield(item{id: n.ID, values: n.Properties}, err) || err != nil {
				return
			}
		}
	}
}

// traverse walks breadth-first from the start node, visiting every node at
// most once. Conditions are applied later by the plan, so a node that fails
// them is still expanded.
func (q *GraphQuery) traverse(ctx context.Context) iter.Seq2[item, error] {
	out, in := q.out, q.in
	if !out && !in {
		out, in = true, true
	}

	return func(yield func(item, error) bool) {
		if ok, err := q.graph.HasNode(ctx, q.start); err != nil {
			yield(item{}, err)
			return
		} else if !ok {
			yield(item{}, core.WrapError("traverse", fmt.Errorf("'%s': %w", q.start, core.ErrNodeNotFound)))
			return
		}

		type entry struct {
			id    string
			depth int
		}
		visited := map[string]bool{q.start: true}
		queue := []entry{{q.start, 0}}

		for len(queue) > 0 {
			if err := ctx.Err(); err != nil {
				yield(item{}, err)
				return
			}
			current := queue[0]
			queue = queue[1:]

			if q.maxDepth >= 0 && current.depth >= q.maxDepth {
				continue
			}

			next, err := q.expand(ctx, current.id, out, in)
			if err != nil {
				yield(item{}, err)
				return
			}
			for _, id := range next {
				if visited[id] {
					continue
				}
				visited[id] = true
				queue = append(queue, entry{id, current.depth + 1})

				props, err := q.graph.GetNodeProperties(ctx, id)
				if err != nil {
					yield(item{}, err)
					return
				}
				if !yield(item{id: id, values: props}, nil) {
					return
				}
			}
		}
	}
}

func (q *GraphQuery) expand(ctx context.Context, id string, out, in bool) ([]string, error) {
	switch {
	case out && in:
		return q.graph.GetNeighbors(ctx, id)
	case out:
		return q.graph.GetOutNeighbors(ctx, id)
	default:
		return q.graph.GetInNeighbors(ctx, id)
	}
}

func (q *GraphQuery) observe(start time.Time, err *error) {
	if q.graph == nil {
		return
	}
	emitQueried(q.graph.Events(), q.graph.Name(), core.KindGraph, start, *err)
}
