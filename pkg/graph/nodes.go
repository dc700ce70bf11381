package graph

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/liliang-cn/sqdata/pkg/core"
)

// AddNode adds a node. A duplicate id fails with core.ErrAlreadyExists.
func (g *Graph) AddNode(ctx context.Context, id string, props map[string]any) error {
	_, err := g.AddNodes(ctx, []Node{{ID: id, Properties: props}})
	return err
}

// AddNodes adds every node or none and returns how many were added
func (g *Graph) AddNodes(ctx context.Context, nodes []Node) (int, error) {
	defer g.lock()()

	if len(nodes) == 0 {
		return 0, nil
	}

	docs, err := buildNodeDocs(nodes, nil)
	if err != nil {
		return 0, core.WrapError("add_nodes", err)
	}

	next := g.nextMeta()
	next.NodeCount += len(docs)

	err = g.mutate(ctx, "add_nodes", next, func(tx *core.Tx) error {
		_, err := tx.Collection(g.nodesName()).InsertBulk(ctx, docs)
		return err
	})
	if err != nil {
		return 0, err
	}
	return len(docs), nil
}

// UpdateNodeProperties merges props into the node's properties. A nil value
// removes the key.
func (g *Graph) UpdateNodeProperties(ctx context.Context, id string, props map[string]any) error {
	defer g.lock()()

	return g.mutate(ctx, "update_node", g.nextMeta(), func(tx *core.Tx) error {
		coll := tx.Collection(g.nodesName())
		rec, found, err := coll.FindOne(ctx, nodeIDField, id)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("'%s': %w", id, core.ErrNodeNotFound)
		}
		merged := mergeProps(propsOf(rec.Doc), props)
		return coll.Update(ctx, rec.ID, nodeDoc(id, merged))
	})
}

// SetNodeProperty sets a single property on a node
func (g *Graph) SetNodeProperty(ctx context.Context, id, key string, value any) error {
	return g.UpdateNodeProperties(ctx, id, map[string]any{key: value})
}

// SetNodeValues sets property key on every node in values, keyed by node id,
// in one transaction. An unknown id aborts the whole update.
func (g *Graph) SetNodeValues(ctx context.Context, key string, values map[string]any) error {
	if key == "" {
		return core.WrapError("set_node_values", fmt.Errorf("%w: empty property name", core.ErrInvalidArgument))
	}
	if len(values) == 0 {
		return nil
	}

	defer g.lock()()

	return g.mutate(ctx, "set_node_values", g.nextMeta(), func(tx *core.Tx) error {
		coll := tx.Collection(g.nodesName())
		for id, v := range values {
			rec, found, err := coll.FindOne(ctx, nodeIDField, id)
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("'%s': %w", id, core.ErrNodeNotFound)
			}
			merged := mergeProps(propsOf(rec.Doc), map[string]any{key: v})
			if err := coll.Update(ctx, rec.ID, nodeDoc(id, merged)); err != nil {
				return err
			}
		}
		return nil
	})
}

// RemoveNode removes a node and every edge touching it in one transaction.
// It reports false when the node does not exist.
func (g *Graph) RemoveNode(ctx context.Context, id string) (bool, error) {
	defer g.lock()()

	exists, err := g.store.Collection(g.nodesName()).CountBy(ctx, nodeIDField, id)
	if err != nil {
		return false, core.WrapError("remove_node", err)
	}
	if exists == 0 {
		return false, nil
	}

	next := g.nextMeta()
	err = g.store.RunInTx(ctx, func(tx *core.Tx) error {
		edges := tx.Collection(g.edgesName())
		out, err := edges.DeleteBy(ctx, fromField, id)
		if err != nil {
			return err
		}
		in, err := edges.DeleteBy(ctx, toField, id)
		if err != nil {
			return err
		}
		removed, err := tx.Collection(g.nodesName()).DeleteBy(ctx, nodeIDField, id)
		if err != nil {
			return err
		}

		next.NodeCount -= removed
		next.EdgeCount -= out + in
		return tx.Collection(MetaCollection).Update(ctx, g.metaID, encodeMeta(next))
	})
	if err != nil {
		return false, core.WrapError("remove_node", err)
	}

	g.meta = next
	g.modified = true
	return true, nil
}

// HasNode reports whether the node exists
func (g *Graph) HasNode(ctx context.Context, id string) (bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, err := g.store.Collection(g.nodesName()).CountBy(ctx, nodeIDField, id)
	if err != nil {
		return false, core.WrapError("has_node", err)
	}
	return n > 0, nil
}

// GetNode returns the node with the given id
func (g *Graph) GetNode(ctx context.Context, id string) (Node, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	rec, found, err := g.store.Collection(g.nodesName()).FindOne(ctx, nodeIDField, id)
	if err != nil {
		return Node{}, core.WrapError("get_node", err)
	}
	if !found {
		return Node{}, core.WrapError("get_node", fmt.Errorf("'%s': %w", id, core.ErrNodeNotFound))
	}
	return decodeNode(rec.Doc), nil
}

// GetNodeProperties returns a copy of the node's properties
func (g *Graph) GetNodeProperties(ctx context.Context, id string) (map[string]any, error) {
	n, err := g.GetNode(ctx, id)
	if err != nil {
		return nil, err
	}
	return n.Properties, nil
}

// GetNodeIds returns a lazy sequence of node ids in insertion order
func (g *Graph) GetNodeIds(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for n, err := range g.Nodes(ctx) {
			if !yield(n.ID, err) || err != nil {
				return
			}
		}
	}
}

// Nodes returns a lazy sequence of nodes in insertion order, fetched a page
// at a time
func (g *Graph) Nodes(ctx context.Context) iter.Seq2[Node, error] {
	return func(yield func(Node, error) bool) {
		var after int64
		for {
			recs, err := g.scan(ctx, g.nodesName, after)
			if err != nil {
				yield(Node{}, core.WrapError("nodes", err))
				return
			}
			for _, rec := range recs {
				if !yield(decodeNode(rec.Doc), nil) {
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

// scan reads one page under the read lock so callers can mutate between pages
func (g *Graph) scan(ctx context.Context, name func() string, after int64) ([]core.Record, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.store.Collection(name()).Scan(ctx, after, scanPageSize)
}

func buildNodeDocs(nodes []Node, seen map[string]bool) ([]core.Document, error) {
	if seen == nil {
		seen = make(map[string]bool, len(nodes))
	}
	docs := make([]core.Document, 0, len(nodes))
	for _, n := range nodes {
		if strings.TrimSpace(n.ID) == "" {
			return nil, fmt.Errorf("%w: node id cannot be empty", core.ErrInvalidName)
		}
		if seen[n.ID] {
			return nil, fmt.Errorf("node '%s' %w", n.ID, core.ErrAlreadyExists)
		}
		seen[n.ID] = true
		docs = append(docs, nodeDoc(n.ID, n.Properties))
	}
	return docs, nil
}

func nodeDoc(id string, props map[string]any) core.Document {
	return core.Document{nodeIDField: id, propsField: cleanProps(props)}
}

func decodeNode(doc core.Document) Node {
	id, _ := doc[nodeIDField].(string)
	return Node{ID: id, Properties: propsOf(doc)}
}

func propsOf(doc core.Document) map[string]any {
	props, _ := doc[propsField].(map[string]any)
	if props == nil {
		return map[string]any{}
	}
	return props
}

// mergeProps overlays update on base; nil values delete keys
func mergeProps(base, update map[string]any) map[string]any {
	out := core.CloneProperties(base)
	for k, v := range update {
		if v == nil {
			delete(out, k)
		} else {
			out[k] = v
		}
	}
	return out
}

func cleanProps(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		if v != nil {
			out[k] = v
		}
	}
	return out
}
