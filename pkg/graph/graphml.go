package graph

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/liliang-cn/sqdata/pkg/core"
)

// GraphML export/import structures

// GraphMLDocument represents a GraphML document
type GraphMLDocument struct {
	XMLName xml.Name     `xml:"graphml"`
	XMLNS   string       `xml:"xmlns,attr"`
	Keys    []GraphMLKey `xml:"key"`
	Graph   GraphMLGraph `xml:"graph"`
}

// GraphMLKey represents a GraphML key definition
type GraphMLKey struct {
	ID       string `xml:"id,attr"`
	For      string `xml:"for,attr"`
	AttrName string `xml:"attr.name,attr"`
	AttrType string `xml:"attr.type,attr"`
}

// GraphMLGraph represents a GraphML graph
type GraphMLGraph struct {
	ID          string        `xml:"id,attr"`
	EdgeDefault string        `xml:"edgedefault,attr"`
	Nodes       []GraphMLNode `xml:"node"`
	Edges       []GraphMLEdge `xml:"edge"`
}

// GraphMLNode represents a GraphML node
type GraphMLNode struct {
	ID   string        `xml:"id,attr"`
	Data []GraphMLData `xml:"data"`
}

// GraphMLEdge represents a GraphML edge
type GraphMLEdge struct {
	ID     string        `xml:"id,attr,omitempty"`
	Source string        `xml:"source,attr"`
	Target string        `xml:"target,attr"`
	Data   []GraphMLData `xml:"data"`
}

// GraphMLData represents GraphML data
type GraphMLData struct {
	Key   string `xml:"key,attr"`
	Value string `xml:",chardata"`
}

const (
	graphMLNamespace = "http://graphml.graphdrawing.org/xmlns"
	weightKey        = "weight"
)

// ExportGraphML writes the graph as directed GraphML. Every property name
// gets its own key typed double, boolean or string; nested values are
// written as JSON text.
func (g *Graph) ExportGraphML(ctx context.Context, w io.Writer) error {
	var nodes []Node
	for n, err := range g.Nodes(ctx) {
		if err != nil {
			return core.WrapError("export_graphml", err)
		}
		nodes = append(nodes, n)
	}
	var edges []Edge
	for e, err := range g.GetEdges(ctx) {
		if err != nil {
			return core.WrapError("export_graphml", err)
		}
		edges = append(edges, e)
	}

	nodeProps := make([]map[string]any, len(nodes))
	for i, n := range nodes {
		nodeProps[i] = n.Properties
	}
	edgeProps := make([]map[string]any, len(edges))
	for i, e := range edges {
		edgeProps[i] = e.Properties
	}
	nodeKeys := propertyKeys("node", "n_", nodeProps)
	edgeKeys := propertyKeys("edge", "e_", edgeProps)

	doc := GraphMLDocument{
		XMLNS: graphMLNamespace,
		Keys:  []GraphMLKey{{ID: weightKey, For: "edge", AttrName: "weight", AttrType: "double"}},
		Graph: GraphMLGraph{
			ID:          g.Name(),
			EdgeDefault: "directed",
			Nodes:       make([]GraphMLNode, 0, len(nodes)),
			Edges:       make([]GraphMLEdge, 0, len(edges)),
		},
	}
	doc.Keys = append(doc.Keys, nodeKeys.list...)
	doc.Keys = append(doc.Keys, edgeKeys.list...)

	for _, n := range nodes {
		doc.Graph.Nodes = append(doc.Graph.Nodes, GraphMLNode{ID: n.ID, Data: nodeKeys.data(n.Properties)})
	}
	for i, e := range edges {
		data := []GraphMLData{{Key: weightKey, Value: strconv.FormatFloat(e.Weight, 'g', -1, 64)}}
		doc.Graph.Edges = append(doc.Graph.Edges, GraphMLEdge{
			ID:     "e" + strconv.Itoa(i),
			Source: e.From,
			Target: e.To,
			Data:   append(data, edgeKeys.data(e.Properties)...),
		})
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return core.WrapError("export_graphml", err)
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return core.WrapError("export_graphml", fmt.Errorf("failed to encode GraphML: %w", err))
	}
	return nil
}

// ImportGraphML replaces the graph's contents with a GraphML document. Data
// elements are typed by their key's attr.type; edges without a weight get
// the default weight.
func (g *Graph) ImportGraphML(ctx context.Context, r io.Reader) error {
	var doc GraphMLDocument
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return core.WrapError("import_graphml", fmt.Errorf("%w: failed to decode GraphML: %v", core.ErrInvalidArgument, err))
	}

	keys := make(map[string]GraphMLKey, len(doc.Keys))
	for _, k := range doc.Keys {
		keys[k.ID] = k
	}

	nodes := make([]Node, len(doc.Graph.Nodes))
	for i, n := range doc.Graph.Nodes {
		props, _, err := decodeGraphMLData(keys, n.Data)
		if err != nil {
			return core.WrapError("import_graphml", fmt.Errorf("node '%s': %w", n.ID, err))
		}
		nodes[i] = Node{ID: n.ID, Properties: props}
	}

	edges := make([]Edge, len(doc.Graph.Edges))
	for i, e := range doc.Graph.Edges {
		props, weight, err := decodeGraphMLData(keys, e.Data)
		if err != nil {
			return core.WrapError("import_graphml", fmt.Errorf("edge %s->%s: %w", e.Source, e.Target, err))
		}
		edges[i] = Edge{From: e.Source, To: e.Target, Weight: weight, Properties: props}
	}

	return g.replace(ctx, nodes, edges)
}

// graphMLKeys assigns key ids to property names
type graphMLKeys struct {
	ids  map[string]string
	list []GraphMLKey
}

func propertyKeys(target, prefix string, bags []map[string]any) graphMLKeys {
	types := make(map[string]string)
	for _, props := range bags {
		for name, v := range props {
			if v == nil {
				continue
			}
			t := graphMLType(v)
			if prev, ok := types[name]; ok && prev != t {
				t = "string"
			}
			types[name] = t
		}
	}

	names := make([]string, 0, len(types))
	for name := range types {
		names = append(names, name)
	}
	sort.Strings(names)

	keys := graphMLKeys{ids: make(map[string]string, len(names))}
	for i, name := range names {
		id := prefix + strconv.Itoa(i)
		keys.ids[name] = id
		keys.list = append(keys.list, GraphMLKey{ID: id, For: target, AttrName: name, AttrType: types[name]})
	}
	return keys
}

func (k graphMLKeys) data(props map[string]any) []GraphMLData {
	var out []GraphMLData
	for _, key := range k.list {
		v, ok := props[key.AttrName]
		if !ok || v == nil {
			continue
		}
		out = append(out, GraphMLData{Key: key.ID, Value: graphMLText(v)})
	}
	return out
}

func graphMLType(v any) string {
	switch v.(type) {
	case bool:
		return "boolean"
	case string, map[string]any, []any:
		return "string"
	}
	if core.IsNumeric(v) {
		return "double"
	}
	return "string"
}

func graphMLText(v any) string {
	switch v.(type) {
	case map[string]any, []any:
		data, err := json.Marshal(v)
		if err == nil {
			return string(data)
		}
	}
	return core.FormatValue(v)
}

func decodeGraphMLData(keys map[string]GraphMLKey, data []GraphMLData) (map[string]any, float64, error) {
	weight := DefaultWeight
	var props map[string]any
	for _, d := range data {
		key, ok := keys[d.Key]
		if !ok {
			return nil, 0, fmt.Errorf("%w: undeclared key %q", core.ErrInvalidArgument, d.Key)
		}
		v, err := parseGraphMLValue(key.AttrType, d.Value)
		if err != nil {
			return nil, 0, fmt.Errorf("key %q: %w", key.AttrName, err)
		}
		if d.Key == weightKey {
			f, ok := core.ToFloat64(v)
			if !ok {
				return nil, 0, fmt.Errorf("%w: weight %q", core.ErrInvalidArgument, d.Value)
			}
			weight = f
			continue
		}
		if props == nil {
			props = make(map[string]any)
		}
		props[key.AttrName] = v
	}
	return props, weight, nil
}

func parseGraphMLValue(attrType, text string) (any, error) {
	switch attrType {
	case "double", "float":
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a number", core.ErrInvalidArgument, text)
		}
		return f, nil
	case "int", "long":
		n, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not an integer", core.ErrInvalidArgument, text)
		}
		return n, nil
	case "boolean":
		b, err := strconv.ParseBool(text)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a boolean", core.ErrInvalidArgument, text)
		}
		return b, nil
	default:
		return text, nil
	}
}
