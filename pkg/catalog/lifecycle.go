package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/liliang-cn/sqdata/pkg/core"
	"github.com/liliang-cn/sqdata/pkg/dataset"
	"github.com/liliang-cn/sqdata/pkg/graph"
	"github.com/liliang-cn/sqdata/pkg/tabular"
)

var _ dataset.Factory = (*Catalog)(nil)

// CreateTabular creates and registers an empty table
func (c *Catalog) CreateTabular(ctx context.Context, name string) (*tabular.Table, error) {
	if err := c.reserve(name); err != nil {
		return nil, core.WrapError("create_tabular", err)
	}
	t, err := tabular.Create(ctx, c.store, name, c.tableOptions()...)
	if err != nil {
		return nil, err
	}
	if err := c.adopt(ctx, dataset.FromTable(t)); err != nil {
		return nil, core.WrapError("create_tabular", err)
	}
	return t, nil
}

// CreateGraph creates and registers an empty graph
func (c *Catalog) CreateGraph(ctx context.Context, name string) (*graph.Graph, error) {
	if err := c.reserve(name); err != nil {
		return nil, core.WrapError("create_graph", err)
	}
	g, err := graph.Create(ctx, c.store, name, graph.WithEmitter(c.events))
	if err != nil {
		return nil, err
	}
	if err := c.adopt(ctx, dataset.FromGraph(g)); err != nil {
		return nil, core.WrapError("create_graph", err)
	}
	return g, nil
}

// NewTabular creates an empty table called name, deleting any dataset that
// already has that name
func (c *Catalog) NewTabular(ctx context.Context, name string) (*tabular.Table, error) {
	if _, err := c.Delete(ctx, name); err != nil {
		return nil, err
	}
	return c.CreateTabular(ctx, name)
}

// NewGraph creates an empty graph called name, deleting any dataset that
// already has that name
func (c *Catalog) NewGraph(ctx context.Context, name string) (*graph.Graph, error) {
	if _, err := c.Delete(ctx, name); err != nil {
		return nil, err
	}
	return c.CreateGraph(ctx, name)
}

// Delete removes the dataset's data, its catalog record and any cached
// instance. It reports false when name is unknown.
func (c *Catalog) Delete(ctx context.Context, name string) (bool, error) {
	c.mu.Lock()
	e, ok := c.entries[name]
	if !ok {
		c.mu.Unlock()
		return false, nil
	}
	delete(c.entries, name)
	c.mu.Unlock()

	kind := e.record.Kind
	if _, err := dropStored(ctx, c.store, name, kind); err != nil {
		return false, core.WrapError("delete", err)
	}
	if _, err := c.store.Collection(Collection).Delete(ctx, e.recID); err != nil {
		return false, core.WrapError("delete", err)
	}

	c.logger.Info("dataset deleted", "dataset", name, "kind", kind)
	c.events.EmitDataset(core.EventDatasetDeleted, name, kind)
	return true, nil
}

// Copy duplicates src into a new dataset dst of the same kind, replacing dst
// if it exists
func (c *Catalog) Copy(ctx context.Context, src, dst string) (dataset.Dataset, error) {
	if src == dst {
		return dataset.Dataset{}, core.WrapError("copy", fmt.Errorf("%w: source and destination are both '%s'", core.ErrInvalidArgument, src))
	}
	from, err := c.resolve(ctx, src)
	if err != nil {
		return dataset.Dataset{}, core.WrapError("copy", err)
	}

	var to dataset.Dataset
	switch from.Kind() {
	case core.KindTabular:
		t, err := c.NewTabular(ctx, dst)
		if err != nil {
			return dataset.Dataset{}, err
		}
		to = dataset.FromTable(t)
	default:
		g, err := c.NewGraph(ctx, dst)
		if err != nil {
			return dataset.Dataset{}, err
		}
		to = dataset.FromGraph(g)
	}

	if err := from.CopyTo(ctx, to); err != nil {
		return dataset.Dataset{}, core.WrapError("copy", err)
	}
	return to, nil
}

// Flush writes the batched metadata of every materialized dataset
func (c *Catalog) Flush(ctx context.Context) error {
	var errs []error
	for _, d := range c.loaded() {
		if err := d.Flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.Name(), err))
		}
	}
	if len(errs) > 0 {
		return core.WrapError("flush", errors.Join(errs...))
	}
	return nil
}

// Evict flushes the batched metadata of name and marks it unloaded. The
// handle itself is kept: callers may still hold it, and a second handle
// over the same collections would keep its own lock and row count. The next
// access reports the dataset as loaded again through the same handle.
func (c *Catalog) Evict(ctx context.Context, name string) (bool, error) {
	c.mu.Lock()
	e, ok := c.entries[name]
	if !ok || e.data.IsZero() || !e.record.IsLoaded {
		c.mu.Unlock()
		return false, nil
	}
	d := e.data
	e.record.IsLoaded = false
	c.mu.Unlock()

	if err := d.Flush(ctx); err != nil {
		return true, core.WrapError("evict", err)
	}
	c.logger.Debug("dataset evicted", "dataset", name)
	return true, nil
}

// SweepIdle evicts datasets not accessed within IdleTimeout of now and
// returns how many were evicted
func (c *Catalog) SweepIdle(ctx context.Context, now time.Time) int {
	if c.opts.IdleTimeout <= 0 {
		return 0
	}

	var idle []string
	c.mu.RLock()
	for name, e := range c.entries {
		if e.record.IsLoaded && !e.data.IsZero() && now.Sub(e.lastAccess) >= c.opts.IdleTimeout {
			idle = append(idle, name)
		}
	}
	c.mu.RUnlock()

	evicted := 0
	for _, name := range idle {
		ok, err := c.Evict(ctx, name)
		if err != nil {
			c.logger.Warn("idle eviction failed", "dataset", name, "error", err)
		}
		if ok {
			evicted++
		}
	}
	return evicted
}

// Close stops the idle sweeper and flushes every materialized dataset. The
// store itself is left open.
func (c *Catalog) Close(ctx context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		if c.stop != nil {
			close(c.stop)
			<-c.done
		}
		err = c.Flush(ctx)

		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
	})
	return err
}

func (c *Catalog) startSweeper() {
	interval := c.opts.SweepInterval
	if interval <= 0 {
		interval = c.opts.IdleTimeout / 2
	}
	if interval <= 0 {
		interval = time.Second
	}

	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-c.stop:
				return
			case now := <-ticker.C:
				if n := c.SweepIdle(context.Background(), now); n > 0 {
					c.logger.Debug("idle sweep", "evicted", n)
				}
			}
		}
	}()
}

// reserve fails when name is taken
func (c *Catalog) reserve(name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	if c.HasDataset(name) {
		return fmt.Errorf("dataset '%s' %w", name, core.ErrAlreadyExists)
	}
	return nil
}

// adopt registers a freshly created dataset as loaded; on failure the
// dataset is dropped again
func (c *Catalog) adopt(ctx context.Context, d dataset.Dataset) error {
	rec := Record{Name: d.Name(), Kind: d.Kind(), LastModified: time.Now().UTC()}
	if _, err := c.insert(ctx, rec, d); err != nil {
		if _, dropErr := dropStored(ctx, c.store, d.Name(), d.Kind()); dropErr != nil {
			c.logger.Warn("failed to drop unregistered dataset", "dataset", d.Name(), "error", dropErr)
		}
		return err
	}
	c.logger.Debug("dataset created", "dataset", d.Name(), "kind", d.Kind())
	c.events.EmitDataset(core.EventDatasetCreated, d.Name(), d.Kind())
	return nil
}

func (c *Catalog) loaded() []dataset.Dataset {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]dataset.Dataset, 0, len(c.entries))
	for _, e := range c.entries {
		if !e.data.IsZero() {
			out = append(out, e.data)
		}
	}
	return out
}
