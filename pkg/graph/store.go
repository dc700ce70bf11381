package graph

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/liliang-cn/sqdata/pkg/core"
)

// MetaCollection holds one metadata document per graph dataset
const MetaCollection = "graph_meta"

const (
	nodeIDField = "node_id"
	propsField  = "props"
	fromField   = "from"
	toField     = "to"
	weightField = "weight"

	scanPageSize = 512
)

// DefaultWeight is the weight of an edge added without one
const DefaultWeight = 1.0

// Metadata describes a graph dataset
type Metadata struct {
	Name       string    `json:"name"`
	DatasetID  string    `json:"dataset_id"`
	NodeCount  int       `json:"node_count"`
	EdgeCount  int       `json:"edge_count"`
	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
}

// Node is a graph node and its property bag
type Node struct {
	ID         string         `json:"id"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Edge is a directed, weighted edge. At most one edge exists per ordered
// (From, To) pair.
type Edge struct {
	From       string         `json:"from"`
	To         string         `json:"to"`
	Weight     float64        `json:"weight"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Graph is a named directed graph backed by a metadata document, a node
// collection and an edge collection. Mutations on one Graph are serialised.
type Graph struct {
	store    *core.Store
	mu       sync.RWMutex
	meta     Metadata
	metaID   int64
	modified bool
	events   *core.Emitter
	logger   core.Logger
}

// Option configures a Graph handle
type Option func(*Graph)

// WithEmitter routes modification notifications to e
func WithEmitter(e *core.Emitter) Option {
	return func(g *Graph) {
		g.events = e
	}
}

func newGraph(store *core.Store, meta Metadata, metaID int64, opts []Option) *Graph {
	g := &Graph{
		store:  store,
		meta:   meta,
		metaID: metaID,
		logger: store.Logger().With("dataset", meta.Name),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Create creates an empty graph dataset
func Create(ctx context.Context, store *core.Store, name string, opts ...Option) (*Graph, error) {
	if strings.TrimSpace(name) == "" {
		return nil, core.WrapError("create_graph", fmt.Errorf("%w: dataset name cannot be empty", core.ErrInvalidName))
	}

	now := time.Now().UTC()
	meta := Metadata{
		Name:       name,
		DatasetID:  strings.ReplaceAll(uuid.NewString(), "-", ""),
		CreatedAt:  now,
		ModifiedAt: now,
	}

	var metaID int64
	err := store.RunInTx(ctx, func(tx *core.Tx) error {
		if err := tx.EnsureCollection(ctx, MetaCollection); err != nil {
			return err
		}
		if err := tx.EnsureIndex(ctx, MetaCollection, true, "name"); err != nil {
			return err
		}
		if _, found, err := tx.Collection(MetaCollection).FindOne(ctx, "name", name); err != nil {
			return err
		} else if found {
			return fmt.Errorf("dataset '%s' %w", name, core.ErrAlreadyExists)
		}

		nodes, edges := nodesCollection(meta.DatasetID), edgesCollection(meta.DatasetID)
		if err := tx.CreateCollection(ctx, nodes); err != nil {
			return err
		}
		if err := tx.EnsureIndex(ctx, nodes, true, nodeIDField); err != nil {
			return err
		}
		if err := tx.CreateCollection(ctx, edges); err != nil {
			return err
		}
		if err := tx.EnsureIndex(ctx, edges, true, fromField, toField); err != nil {
			return err
		}
		if err := tx.EnsureIndex(ctx, edges, false, toField); err != nil {
			return err
		}

		id, err := tx.Collection(MetaCollection).Insert(ctx, encodeMeta(meta))
		metaID = id
		return err
	})
	if err != nil {
		return nil, core.WrapError("create_graph", err)
	}

	return newGraph(store, meta, metaID, opts), nil
}

// Open opens an existing graph dataset, repairing counts that disagree with
// the node and edge collections
func Open(ctx context.Context, store *core.Store, name string, opts ...Option) (*Graph, error) {
	rec, err := findMeta(ctx, store, name)
	if err != nil {
		return nil, core.WrapError("open_graph", err)
	}
	meta, err := decodeMeta(rec.Doc)
	if err != nil {
		return nil, core.WrapError("open_graph", err)
	}

	g := newGraph(store, meta, rec.ID, opts)

	nodes, err := store.Collection(g.nodesName()).Count(ctx)
	if err != nil {
		return nil, core.WrapError("open_graph", err)
	}
	edges, err := store.Collection(g.edgesName()).Count(ctx)
	if err != nil {
		return nil, core.WrapError("open_graph", err)
	}
	if nodes != meta.NodeCount || edges != meta.EdgeCount {
		g.logger.Warn("repairing stale graph counts", "nodes", nodes, "edges", edges)
		g.meta.NodeCount, g.meta.EdgeCount = nodes, edges
		if err := store.Collection(MetaCollection).Update(ctx, g.metaID, encodeMeta(g.meta)); err != nil {
			return nil, core.WrapError("open_graph", err)
		}
	}
	return g, nil
}

// Exists reports whether a graph dataset called name exists
func Exists(ctx context.Context, store *core.Store, name string) (bool, error) {
	_, err := findMeta(ctx, store, name)
	if errors.Is(err, core.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// List returns the names of all graph datasets
func List(ctx context.Context, store *core.Store) ([]string, error) {
	ok, err := store.HasCollection(ctx, MetaCollection)
	if err != nil || !ok {
		return nil, err
	}
	recs, err := store.Collection(MetaCollection).All(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(recs))
	for _, rec := range recs {
		if name, ok := rec.Doc["name"].(string); ok {
			names = append(names, name)
		}
	}
	return names, nil
}

// Drop deletes a graph's collections and metadata document
func Drop(ctx context.Context, store *core.Store, name string) (bool, error) {
	return drop(ctx, store, name, "")
}

// Drop deletes the dataset this handle was opened on. A newer dataset
// stored under the same name is left alone.
func (g *Graph) Drop(ctx context.Context) (bool, error) {
	g.mu.RLock()
	name, id := g.meta.Name, g.meta.DatasetID
	g.mu.RUnlock()
	return drop(ctx, g.store, name, id)
}

// drop removes the named dataset. A non-empty id restricts it to the
// dataset with that id.
func drop(ctx context.Context, store *core.Store, name, id string) (bool, error) {
	dropped := false
	err := store.RunInTx(ctx, func(tx *core.Tx) error {
		ok, err := tx.HasCollection(ctx, MetaCollection)
		if err != nil || !ok {
			return err
		}
		rec, found, err := tx.Collection(MetaCollection).FindOne(ctx, "name", name)
		if err != nil || !found {
			return err
		}
		meta, err := decodeMeta(rec.Doc)
		if err != nil {
			return err
		}
		if id != "" && meta.DatasetID != id {
			return nil
		}

		for _, coll := range []string{nodesCollection(meta.DatasetID), edgesCollection(meta.DatasetID)} {
			exists, err := tx.HasCollection(ctx, coll)
			if err != nil {
				return err
			}
			if exists {
				if err := tx.DropCollection(ctx, coll); err != nil {
					return err
				}
			}
		}
		if _, err := tx.Collection(MetaCollection).Delete(ctx, rec.ID); err != nil {
			return err
		}
		dropped = true
		return nil
	})
	if err != nil {
		return false, core.WrapError("drop_graph", err)
	}
	return dropped, nil
}

// Name returns the dataset name
func (g *Graph) Name() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.meta.Name
}

// ID returns the dataset's internal identifier
func (g *Graph) ID() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.meta.DatasetID
}

// Metadata returns a copy of the current metadata
func (g *Graph) Metadata() Metadata {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.meta
}

// NodeCount returns the number of nodes
func (g *Graph) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.meta.NodeCount
}

// EdgeCount returns the number of edges
func (g *Graph) EdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.meta.EdgeCount
}

// Store returns the backing store
func (g *Graph) Store() *core.Store {
	return g.store
}

// Events returns the emitter notified of modifications, possibly nil
func (g *Graph) Events() *core.Emitter {
	return g.events
}

// SetEmitter replaces the modification emitter
func (g *Graph) SetEmitter(e *core.Emitter) {
	g.mu.Lock()
	g.events = e
	g.mu.Unlock()
}

// Clear removes every node and edge
func (g *Graph) Clear(ctx context.Context) error {
	defer g.lock()()

	next := g.nextMeta()
	next.NodeCount, next.EdgeCount = 0, 0

	return g.mutate(ctx, "clear", next, func(tx *core.Tx) error {
		if _, err := tx.Collection(g.edgesName()).DeleteAll(ctx); err != nil {
			return err
		}
		_, err := tx.Collection(g.nodesName()).DeleteAll(ctx)
		return err
	})
}

// CopyTo replaces dst's nodes and edges with a copy of g
func (g *Graph) CopyTo(ctx context.Context, dst *Graph) error {
	if dst == g {
		return nil
	}

	var nodes []Node
	for n, err := range g.Nodes(ctx) {
		if err != nil {
			return core.WrapError("copy_graph", err)
		}
		nodes = append(nodes, n)
	}
	var edges []Edge
	for e, err := range g.GetEdges(ctx) {
		if err != nil {
			return core.WrapError("copy_graph", err)
		}
		edges = append(edges, e)
	}

	return dst.replace(ctx, nodes, edges)
}

// replace swaps in a complete node and edge set with two bulk inserts
func (g *Graph) replace(ctx context.Context, nodes []Node, edges []Edge) error {
	defer g.lock()()

	nodeDocs, err := buildNodeDocs(nodes, nil)
	if err != nil {
		return core.WrapError("replace_graph", err)
	}
	known := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		known[n.ID] = true
	}
	edgeDocs, err := buildEdgeDocs(edges, known, nil)
	if err != nil {
		return core.WrapError("replace_graph", err)
	}

	next := g.nextMeta()
	next.NodeCount, next.EdgeCount = len(nodeDocs), len(edgeDocs)

	return g.mutate(ctx, "replace_graph", next, func(tx *core.Tx) error {
		if _, err := tx.Collection(g.edgesName()).DeleteAll(ctx); err != nil {
			return err
		}
		if _, err := tx.Collection(g.nodesName()).DeleteAll(ctx); err != nil {
			return err
		}
		if _, err := tx.Collection(g.nodesName()).InsertBulk(ctx, nodeDocs); err != nil {
			return err
		}
		_, err := tx.Collection(g.edgesName()).InsertBulk(ctx, edgeDocs)
		return err
	})
}

func (g *Graph) nextMeta() Metadata {
	next := g.meta
	next.ModifiedAt = time.Now().UTC()
	return next
}

// mutate runs fn and the metadata write in one transaction and installs next
// once it commits
func (g *Graph) mutate(ctx context.Context, op string, next Metadata, fn func(tx *core.Tx) error) error {
	err := g.store.RunInTx(ctx, func(tx *core.Tx) error {
		if err := fn(tx); err != nil {
			return err
		}
		return tx.Collection(MetaCollection).Update(ctx, g.metaID, encodeMeta(next))
	})
	if err != nil {
		return core.WrapError(op, err)
	}

	g.meta = next
	g.modified = true
	return nil
}

// lock takes the write lock. The returned func releases it and then reports
// a modification queued by a mutation, so listeners may read the graph.
func (g *Graph) lock() (unlock func()) {
	g.mu.Lock()
	return func() {
		modified, name, events := g.modified, g.meta.Name, g.events
		g.modified = false
		g.mu.Unlock()
		if modified {
			events.EmitDataset(core.EventDatasetModified, name, core.KindGraph)
		}
	}
}

func (g *Graph) nodesName() string {
	return nodesCollection(g.meta.DatasetID)
}

func (g *Graph) edgesName() string {
	return edgesCollection(g.meta.DatasetID)
}

func nodesCollection(datasetID string) string {
	return "nodes_" + datasetID
}

func edgesCollection(datasetID string) string {
	return "edges_" + datasetID
}

func findMeta(ctx context.Context, store *core.Store, name string) (core.Record, error) {
	ok, err := store.HasCollection(ctx, MetaCollection)
	if err != nil {
		return core.Record{}, err
	}
	if !ok {
		return core.Record{}, fmt.Errorf("graph dataset '%s': %w", name, core.ErrDatasetNotFound)
	}
	rec, found, err := store.Collection(MetaCollection).FindOne(ctx, "name", name)
	if err != nil {
		return core.Record{}, err
	}
	if !found {
		return core.Record{}, fmt.Errorf("graph dataset '%s': %w", name, core.ErrDatasetNotFound)
	}
	return rec, nil
}

func encodeMeta(m Metadata) core.Document {
	return core.Document{
		"name":        m.Name,
		"dataset_id":  m.DatasetID,
		"node_count":  m.NodeCount,
		"edge_count":  m.EdgeCount,
		"created_at":  m.CreatedAt.Format(time.RFC3339Nano),
		"modified_at": m.ModifiedAt.Format(time.RFC3339Nano),
	}
}

func decodeMeta(doc core.Document) (Metadata, error) {
	var m Metadata
	m.Name, _ = doc["name"].(string)
	m.DatasetID, _ = doc["dataset_id"].(string)
	if m.Name == "" || m.DatasetID == "" {
		return m, fmt.Errorf("%w: malformed graph metadata", core.ErrInvalidArgument)
	}
	if n, ok := core.ToFloat64(doc["node_count"]); ok && !math.IsNaN(n) {
		m.NodeCount = int(n)
	}
	if n, ok := core.ToFloat64(doc["edge_count"]); ok && !math.IsNaN(n) {
		m.EdgeCount = int(n)
	}
	if s, ok := doc["created_at"].(string); ok {
		m.CreatedAt, _ = time.Parse(time.RFC3339Nano, s)
	}
	if s, ok := doc["modified_at"].(string); ok {
		m.ModifiedAt, _ = time.Parse(time.RFC3339Nano, s)
	}
	return m, nil
}
