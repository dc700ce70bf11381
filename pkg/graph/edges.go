package graph

import (
	"context"
	"fmt"
	"iter"

	"github.com/liliang-cn/sqdata/pkg/core"
)

// AddEdge adds an edge of DefaultWeight. Both endpoints must exist.
func (g *Graph) AddEdge(ctx context.Context, from, to string, props map[string]any) error {
	return g.AddWeightedEdge(ctx, from, to, DefaultWeight, props)
}

// AddWeightedEdge adds an edge with an explicit weight
func (g *Graph) AddWeightedEdge(ctx context.Context, from, to string, weight float64, props map[string]any) error {
	_, err := g.addEdges(ctx, "add_edge", []Edge{{From: from, To: to, Weight: weight, Properties: props}}, false)
	return err
}

// AddEdges adds every edge or none and returns how many were added. A zero
// Weight becomes DefaultWeight.
func (g *Graph) AddEdges(ctx context.Context, edges []Edge) (int, error) {
	return g.addEdges(ctx, "add_edges", edges, true)
}

func (g *Graph) addEdges(ctx context.Context, op string, edges []Edge, defaultWeight bool) (int, error) {
	defer g.lock()()

	if len(edges) == 0 {
		return 0, nil
	}
	if defaultWeight {
		edges = append([]Edge(nil), edges...)
		for i := range edges {
			if edges[i].Weight == 0 {
				edges[i].Weight = DefaultWeight
			}
		}
	}

	docs, err := buildEdgeDocs(edges, nil, nil)
	if err != nil {
		return 0, core.WrapError(op, err)
	}

	next := g.nextMeta()
	next.EdgeCount += len(docs)

	err = g.mutate(ctx, op, next, func(tx *core.Tx) error {
		nodes := tx.Collection(g.nodesName())
		checked := make(map[string]bool)
		for _, e := range edges {
			for _, id := range [2]string{e.From, e.To} {
				if checked[id] {
					continue
				}
				n, err := nodes.CountBy(ctx, nodeIDField, id)
				if err != nil {
					return err
				}
				if n == 0 {
					return fmt.Errorf("edge %s->%s endpoint '%s': %w", e.From, e.To, id, core.ErrNodeNotFound)
				}
				checked[id] = true
			}
		}
		_, err := tx.Collection(g.edgesName()).InsertBulk(ctx, docs)
		return err
	})
	if err != nil {
		return 0, err
	}
	return len(docs), nil
}

// RemoveEdge removes the edge from -> to, reporting false when absent
func (g *Graph) RemoveEdge(ctx context.Context, from, to string) (bool, error) {
	defer g.lock()()

	rec, found, err := g.findEdge(ctx, g.store.Collection(g.edgesName()), from, to)
	if err != nil {
		return false, core.WrapError("remove_edge", err)
	}
	if !found {
		return false, nil
	}

	next := g.nextMeta()
	next.EdgeCount--
	err = g.mutate(ctx, "remove_edge", next, func(tx *core.Tx) error {
		_, err := tx.Collection(g.edgesName()).Delete(ctx, rec.ID)
		return err
	})
	return err == nil, err
}

// HasEdge reports whether the edge from -> to exists
func (g *Graph) HasEdge(ctx context.Context, from, to string) (bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	_, found, err := g.findEdge(ctx, g.store.Collection(g.edgesName()), from, to)
	if err != nil {
		return false, core.WrapError("has_edge", err)
	}
	return found, nil
}

// GetEdge returns the edge from -> to
func (g *Graph) GetEdge(ctx context.Context, from, to string) (Edge, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	rec, found, err := g.findEdge(ctx, g.store.Collection(g.edgesName()), from, to)
	if err != nil {
		return Edge{}, core.WrapError("get_edge", err)
	}
	if !found {
		return Edge{}, core.WrapError("get_edge", fmt.Errorf("%s->%s: %w", from, to, core.ErrEdgeNotFound))
	}
	return decodeEdge(rec.Doc), nil
}

// GetEdgeProperties returns a copy of the edge's properties
func (g *Graph) GetEdgeProperties(ctx context.Context, from, to string) (map[string]any, error) {
	e, err := g.GetEdge(ctx, from, to)
	if err != nil {
		return nil, err
	}
	return e.Properties, nil
}

// UpdateEdgeProperties merges props into the edge's properties. A nil value
// removes the key.
func (g *Graph) UpdateEdgeProperties(ctx context.Context, from, to string, props map[string]any) error {
	defer g.lock()()

	return g.mutate(ctx, "update_edge", g.nextMeta(), func(tx *core.Tx) error {
		coll := tx.Collection(g.edgesName())
		rec, found, err := g.findEdge(ctx, coll, from, to)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%s->%s: %w", from, to, core.ErrEdgeNotFound)
		}
		e := decodeEdge(rec.Doc)
		e.Properties = mergeProps(e.Properties, props)
		return coll.Update(ctx, rec.ID, edgeDoc(e))
	})
}

// GetEdges returns a lazy sequence of every edge in insertion order
func (g *Graph) GetEdges(ctx context.Context) iter.Seq2[Edge, error] {
	return func(yield func(Edge, error) bool) {
		var after int64
		for {
			recs, err := g.scan(ctx, g.edgesName, after)
			if err != nil {
				yield(Edge{}, core.WrapError("edges", err))
				return
			}
			for _, rec := range recs {
				if !yield(decodeEdge(rec.Doc), nil) {
					return
				}
			}
			if len(recs) < scanPageSize {
				return
			}
			after = recs[len(recs)-1].ID
		}
	}
}

func (g *Graph) findEdge(ctx context.Context, coll *core.Collection, from, to string) (core.Record, bool, error) {
	recs, err := coll.FindMatch(ctx, core.Document{fromField: from, toField: to})
	if err != nil || len(recs) == 0 {
		return core.Record{}, false, err
	}
	return recs[0], true, nil
}

// buildEdgeDocs validates a batch. known, when non-nil, is the set of node
// ids the endpoints must come from.
func buildEdgeDocs(edges []Edge, known map[string]bool, seen map[[2]string]bool) ([]core.Document, error) {
	if seen == nil {
		seen = make(map[[2]string]bool, len(edges))
	}
	docs := make([]core.Document, 0, len(edges))
	for _, e := range edges {
		if e.From == "" || e.To == "" {
			return nil, fmt.Errorf("%w: edge endpoints cannot be empty", core.ErrInvalidName)
		}
		if known != nil {
			for _, id := range [2]string{e.From, e.To} {
				if !known[id] {
					return nil, fmt.Errorf("edge %s->%s endpoint '%s': %w", e.From, e.To, id, core.ErrNodeNotFound)
				}
			}
		}
		key := [2]string{e.From, e.To}
		if seen[key] {
			return nil, fmt.Errorf("edge %s->%s %w", e.From, e.To, core.ErrAlreadyExists)
		}
		seen[key] = true
		docs = append(docs, edgeDoc(e))
	}
	return docs, nil
}

func edgeDoc(e Edge) core.Document {
	return core.Document{
		fromField:   e.From,
		toField:     e.To,
		weightField: e.Weight,
		propsField:  cleanProps(e.Properties),
	}
}

func decodeEdge(doc core.Document) Edge {
	e := Edge{Weight: DefaultWeight, Properties: propsOf(doc)}
	e.From, _ = doc[fromField].(string)
	e.To, _ = doc[toField].(string)
	if w, ok := core.ToFloat64(doc[weightField]); ok {
		e.Weight = w
	}
	return e
}
