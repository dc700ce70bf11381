package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/liliang-cn/sqdata/internal/encoding"
	"github.com/liliang-cn/sqdata/pkg/core"
)

// DumpFormat tags graph JSON dumps
const DumpFormat = "sqdata-graph-v1"

type dumpNode struct {
	ID         string `json:"id"`
	Properties any    `json:"properties,omitempty"`
}

type dumpEdge struct {
	From       string  `json:"from"`
	To         string  `json:"to"`
	Weight     float64 `json:"weight"`
	Properties any     `json:"properties,omitempty"`
}

type dump struct {
	Format string     `json:"format"`
	Kind   core.Kind  `json:"kind"`
	Name   string     `json:"name"`
	Nodes  []dumpNode `json:"nodes"`
	Edges  []dumpEdge `json:"edges"`
}

// ExportJSON writes every node and edge as one JSON document
func (g *Graph) ExportJSON(ctx context.Context, w io.Writer) error {
	d := dump{Format: DumpFormat, Kind: core.KindGraph, Name: g.Name(), Nodes: []dumpNode{}, Edges: []dumpEdge{}}

	for n, err := range g.Nodes(ctx) {
		if err != nil {
			return core.WrapError("export_json", err)
		}
		d.Nodes = append(d.Nodes, dumpNode{ID: n.ID, Properties: encoding.WrapValue(n.Properties)})
	}
	for e, err := range g.GetEdges(ctx) {
		if err != nil {
			return core.WrapError("export_json", err)
		}
		d.Edges = append(d.Edges, dumpEdge{From: e.From, To: e.To, Weight: e.Weight, Properties: encoding.WrapValue(e.Properties)})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(d); err != nil {
		return core.WrapError("export_json", fmt.Errorf("failed to encode JSON: %w", err))
	}
	return nil
}

// ImportJSON replaces the graph's contents with a dump written by ExportJSON
func (g *Graph) ImportJSON(ctx context.Context, r io.Reader) error {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var d dump
	if err := dec.Decode(&d); err != nil {
		return core.WrapError("import_json", fmt.Errorf("%w: failed to decode JSON: %v", core.ErrInvalidArgument, err))
	}
	if d.Kind != core.KindGraph {
		return core.WrapError("import_json", fmt.Errorf("%w: dump holds a %s dataset", core.ErrKindMismatch, d.Kind))
	}

	nodes := make([]Node, len(d.Nodes))
	for i, n := range d.Nodes {
		props, _ := encoding.UnwrapValue(n.Properties).(map[string]any)
		nodes[i] = Node{ID: n.ID, Properties: props}
	}
	edges := make([]Edge, len(d.Edges))
	for i, e := range d.Edges {
		props, _ := encoding.UnwrapValue(e.Properties).(map[string]any)
		edges[i] = Edge{From: e.From, To: e.To, Weight: e.Weight, Properties: props}
	}

	return g.replace(ctx, nodes, edges)
}
