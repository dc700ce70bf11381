// Package dataset defines the closed variant over the two dataset shapes.
package dataset

import (
	"context"
	"fmt"
	"io"

	"github.com/liliang-cn/sqdata/pkg/core"
	"github.com/liliang-cn/sqdata/pkg/graph"
	"github.com/liliang-cn/sqdata/pkg/tabular"
)

// Dataset holds either a table or a graph. The zero value holds neither and
// stands for "no dataset", e.g. the output of a metrics-only algorithm.
type Dataset struct {
	kind  core.Kind
	table *tabular.Table
	graph *graph.Graph
}

// FromTable wraps a table
func FromTable(t *tabular.Table) Dataset {
	if t == nil {
		return Dataset{}
	}
	return Dataset{kind: core.KindTabular, table: t}
}

// FromGraph wraps a graph
func FromGraph(g *graph.Graph) Dataset {
	if g == nil {
		return Dataset{}
	}
	return Dataset{kind: core.KindGraph, graph: g}
}

// IsZero reports whether d holds no dataset
func (d Dataset) IsZero() bool {
	return d.table == nil && d.graph == nil
}

// Kind returns the dataset kind. Check IsZero first; the zero Dataset
// reports KindTabular.
func (d Dataset) Kind() core.Kind {
	return d.kind
}

// Name returns the dataset name, or "" for the zero Dataset
func (d Dataset) Name() string {
	switch {
	case d.table != nil:
		return d.table.Name()
	case d.graph != nil:
		return d.graph.Name()
	default:
		return ""
	}
}

// Table returns the table when d holds one
func (d Dataset) Table() (*tabular.Table, bool) {
	return d.table, d.table != nil
}

// Graph returns the graph when d holds one
func (d Dataset) Graph() (*graph.Graph, bool) {
	return d.graph, d.graph != nil
}

// AsTable returns the table or core.ErrKindMismatch
func (d Dataset) AsTable() (*tabular.Table, error) {
	if d.table == nil {
		return nil, d.mismatch(core.KindTabular)
	}
	return d.table, nil
}

// AsGraph returns the graph or core.ErrKindMismatch
func (d Dataset) AsGraph() (*graph.Graph, error) {
	if d.graph == nil {
		return nil, d.mismatch(core.KindGraph)
	}
	return d.graph, nil
}

// Size returns the row count of a table or the node count of a graph
func (d Dataset) Size() int {
	return Match(d,
		func(t *tabular.Table) int { return t.RowCount() },
		func(g *graph.Graph) int { return g.NodeCount() },
		func() int { return 0 })
}

// Events returns the emitter attached to the underlying dataset
func (d Dataset) Events() *core.Emitter {
	return Match(d,
		func(t *tabular.Table) *core.Emitter { return t.Events() },
		func(g *graph.Graph) *core.Emitter { return g.Events() },
		func() *core.Emitter { return nil })
}

// SetEmitter attaches e to the underlying dataset
func (d Dataset) SetEmitter(e *core.Emitter) {
	switch {
	case d.table != nil:
		d.table.SetEmitter(e)
	case d.graph != nil:
		d.graph.SetEmitter(e)
	}
}

// Flush writes any batched metadata
func (d Dataset) Flush(ctx context.Context) error {
	if d.table != nil {
		return d.table.Flush(ctx)
	}
	return nil
}

// Drop deletes the stored dataset behind d
func (d Dataset) Drop(ctx context.Context) (bool, error) {
	switch {
	case d.table != nil:
		return d.table.Drop(ctx)
	case d.graph != nil:
		return d.graph.Drop(ctx)
	default:
		return false, nil
	}
}

// ExportJSON writes the dataset's JSON dump
func (d Dataset) ExportJSON(ctx context.Context, w io.Writer) error {
	return Match(d,
		func(t *tabular.Table) error { return t.ExportJSON(ctx, w) },
		func(g *graph.Graph) error { return g.ExportJSON(ctx, w) },
		func() error { return fmt.Errorf("%w: empty dataset", core.ErrInvalidArgument) })
}

// CopyTo copies d's contents into dst, which must be of the same kind
func (d Dataset) CopyTo(ctx context.Context, dst Dataset) error {
	switch {
	case d.table != nil:
		t, err := dst.AsTable()
		if err != nil {
			return err
		}
		return d.table.CopyTo(ctx, t)
	case d.graph != nil:
		g, err := dst.AsGraph()
		if err != nil {
			return err
		}
		return d.graph.CopyTo(ctx, g)
	default:
		return fmt.Errorf("%w: empty dataset", core.ErrInvalidArgument)
	}
}

func (d Dataset) mismatch(want core.Kind) error {
	if d.IsZero() {
		return fmt.Errorf("%w: expected %s dataset, got none", core.ErrKindMismatch, want)
	}
	return fmt.Errorf("%w: dataset '%s' is %s, expected %s", core.ErrKindMismatch, d.Name(), d.kind, want)
}

// Match dispatches on the dataset kind. onNone handles the zero Dataset.
func Match[R any](d Dataset, onTable func(*tabular.Table) R, onGraph func(*graph.Graph) R, onNone func() R) R {
	switch {
	case d.table != nil:
		return onTable(d.table)
	case d.graph != nil:
		return onGraph(d.graph)
	default:
		return onNone()
	}
}

// Factory creates datasets, replacing any existing dataset of the same name
type Factory interface {
	NewTabular(ctx context.Context, name string) (*tabular.Table, error)
	NewGraph(ctx context.Context, name string) (*graph.Graph, error)
}
