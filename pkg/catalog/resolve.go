package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/liliang-cn/sqdata/pkg/core"
	"github.com/liliang-cn/sqdata/pkg/dataset"
	"github.com/liliang-cn/sqdata/pkg/graph"
	"github.com/liliang-cn/sqdata/pkg/tabular"
)

// TryGet returns the dataset called name, materializing it on first access.
// A dataset that fails to load is logged and reported as absent.
func (c *Catalog) TryGet(ctx context.Context, name string) (dataset.Dataset, bool) {
	d, err := c.resolve(ctx, name)
	if err != nil {
		if !errors.Is(err, core.ErrDatasetNotFound) {
			c.logger.Error("failed to load dataset", "dataset", name, "error", err)
		}
		return dataset.Dataset{}, false
	}
	return d, true
}

// Get is TryGet with the failure reason
func (c *Catalog) Get(ctx context.Context, name string) (dataset.Dataset, error) {
	d, err := c.resolve(ctx, name)
	if err != nil {
		return dataset.Dataset{}, core.WrapError("get", err)
	}
	return d, nil
}

// GetTabular resolves name as a table. A graph of that name is a kind mismatch.
func (c *Catalog) GetTabular(ctx context.Context, name string) (*tabular.Table, error) {
	if err := c.expectKind(name, core.KindTabular); err != nil {
		return nil, core.WrapError("get_tabular", err)
	}
	d, err := c.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	return d.AsTable()
}

// GetGraph resolves name as a graph. A table of that name is a kind mismatch.
func (c *Catalog) GetGraph(ctx context.Context, name string) (*graph.Graph, error) {
	if err := c.expectKind(name, core.KindGraph); err != nil {
		return nil, core.WrapError("get_graph", err)
	}
	d, err := c.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	return d.AsGraph()
}

// PreloadAll materializes every registered dataset that is not loaded yet and
// returns how many were loaded. Failures are joined into the returned error;
// the remaining datasets are still loaded.
func (c *Catalog) PreloadAll(ctx context.Context) (int, error) {
	var pending []string
	c.mu.RLock()
	for name, e := range c.entries {
		if !e.record.IsLoaded {
			pending = append(pending, name)
		}
	}
	c.mu.RUnlock()

	var (
		mu     sync.Mutex
		loaded int
		errs   []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Concurrency)
	for _, name := range pending {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			_, err := c.resolve(gctx, name)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				c.logger.Error("failed to preload dataset", "dataset", name, "error", err)
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return nil
			}
			loaded++
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return loaded, core.WrapError("preload", err)
	}
	if len(errs) > 0 {
		return loaded, core.WrapError("preload", errors.Join(errs...))
	}
	return loaded, nil
}

// resolve returns the materialized dataset, loading it at most once across
// concurrent callers. The catalog lock is not held during the load. Once
// materialized, a name keeps one handle until it is deleted.
func (c *Catalog) resolve(ctx context.Context, name string) (dataset.Dataset, error) {
	c.mu.Lock()
	e, ok := c.entries[name]
	switch {
	case c.closed:
		c.mu.Unlock()
		return dataset.Dataset{}, core.ErrStoreClosed
	case !ok:
		c.mu.Unlock()
		return dataset.Dataset{}, fmt.Errorf("'%s': %w", name, core.ErrDatasetNotFound)
	case !e.data.IsZero():
		e.lastAccess = time.Now()
		d, reloaded := e.data, !e.record.IsLoaded
		e.record.IsLoaded = true
		kind := e.record.Kind
		c.mu.Unlock()
		if reloaded {
			c.events.EmitDataset(core.EventDatasetLoaded, name, kind)
		}
		return d, nil
	}
	rec := e.record
	c.mu.Unlock()

	v, err, _ := c.group.Do(name, func() (any, error) {
		start := time.Now()
		d, err := c.materialize(ctx, rec)
		observeResolve(start, err)
		if err != nil {
			return nil, err
		}
		return c.install(ctx, name, d)
	})
	if err != nil {
		return dataset.Dataset{}, err
	}
	return v.(dataset.Dataset), nil
}

// install caches d for name. If another caller got there first, the cached
// dataset wins. If name was deleted meanwhile, d's collections are dropped.
func (c *Catalog) install(ctx context.Context, name string, d dataset.Dataset) (dataset.Dataset, error) {
	c.mu.Lock()
	e, ok := c.entries[name]
	if !ok {
		c.mu.Unlock()
		if _, err := d.Drop(ctx); err != nil {
			c.logger.Warn("failed to drop dataset deleted while loading", "dataset", name, "error", err)
		}
		return dataset.Dataset{}, fmt.Errorf("'%s' was deleted while loading: %w", name, core.ErrDatasetNotFound)
	}
	if !e.data.IsZero() {
		e.lastAccess = time.Now()
		cached := e.data
		c.mu.Unlock()
		return cached, nil
	}

	e.data = d
	e.lastAccess = time.Now()
	e.record.IsLoaded = true
	kind := e.record.Kind
	c.mu.Unlock()

	c.logger.Debug("dataset loaded", "dataset", name, "kind", kind)
	c.events.EmitDataset(core.EventDatasetLoaded, name, kind)
	return d, nil
}

// materialize opens the stored dataset, or creates it and fills it from the
// record's file. Data already in the store wins over the file.
func (c *Catalog) materialize(ctx context.Context, rec Record) (dataset.Dataset, error) {
	switch rec.Kind {
	case core.KindTabular:
		ok, err := tabular.Exists(ctx, c.store, rec.Name)
		if err != nil {
			return dataset.Dataset{}, err
		}
		if ok {
			t, err := tabular.Open(ctx, c.store, rec.Name, c.tableOptions()...)
			return dataset.FromTable(t), err
		}
		t, err := tabular.Create(ctx, c.store, rec.Name, c.tableOptions()...)
		if err != nil {
			return dataset.Dataset{}, err
		}
		return c.fill(ctx, dataset.FromTable(t), rec.FilePath)

	case core.KindGraph:
		ok, err := graph.Exists(ctx, c.store, rec.Name)
		if err != nil {
			return dataset.Dataset{}, err
		}
		if ok {
			g, err := graph.Open(ctx, c.store, rec.Name, graph.WithEmitter(c.events))
			return dataset.FromGraph(g), err
		}
		g, err := graph.Create(ctx, c.store, rec.Name, graph.WithEmitter(c.events))
		if err != nil {
			return dataset.Dataset{}, err
		}
		return c.fill(ctx, dataset.FromGraph(g), rec.FilePath)

	default:
		return dataset.Dataset{}, fmt.Errorf("%w: unknown kind %s", core.ErrInvalidArgument, rec.Kind)
	}
}

// fill imports path into a freshly created dataset, dropping it again when
// the import fails so a retry starts clean
func (c *Catalog) fill(ctx context.Context, d dataset.Dataset, path string) (dataset.Dataset, error) {
	if path == "" {
		return d, nil
	}
	if err := importFile(ctx, d, path); err != nil {
		if _, dropErr := dropStored(ctx, c.store, d.Name(), d.Kind()); dropErr != nil {
			c.logger.Warn("failed to drop partially loaded dataset", "dataset", d.Name(), "error", dropErr)
		}
		return dataset.Dataset{}, err
	}
	return d, nil
}

func (c *Catalog) expectKind(name string, kind core.Kind) error {
	rec, ok := c.GetMetadata(name)
	if !ok {
		return fmt.Errorf("'%s': %w", name, core.ErrDatasetNotFound)
	}
	if rec.Kind != kind {
		return fmt.Errorf("%w: dataset '%s' is %s, expected %s", core.ErrKindMismatch, name, rec.Kind, kind)
	}
	return nil
}

func (c *Catalog) tableOptions() []tabular.Option {
	return []tabular.Option{tabular.WithFlushEvery(c.opts.FlushEvery), tabular.WithEmitter(c.events)}
}

func dropStored(ctx context.Context, store *core.Store, name string, kind core.Kind) (bool, error) {
	if kind == core.KindGraph {
		return graph.Drop(ctx, store, name)
	}
	return tabular.Drop(ctx, store, name)
}
