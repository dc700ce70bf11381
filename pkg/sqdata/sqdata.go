// Package sqdata provides an embedded, single-file data engine for tabular
// and graph datasets, with queries and analytics algorithms on top
package sqdata

import (
	"context"
	"errors"
	"fmt"

	"github.com/liliang-cn/sqdata/pkg/algorithm"
	"github.com/liliang-cn/sqdata/pkg/catalog"
	"github.com/liliang-cn/sqdata/pkg/core"
	"github.com/liliang-cn/sqdata/pkg/dataset"
	"github.com/liliang-cn/sqdata/pkg/query"
)

// DB represents an open data engine: one store, its catalog and the
// algorithms that run over it
type DB struct {
	store      *core.Store
	catalog    *catalog.Catalog
	algorithms *algorithm.Registry
	config     Config
	logger     core.Logger
}

// Option is a functional option for configuring the DB.
type Option func(*DB)

// WithRegistry runs algorithms from r instead of the process-wide registry
func WithRegistry(r *algorithm.Registry) Option {
	return func(db *DB) {
		if r != nil {
			db.algorithms = r
		}
	}
}

// Open opens or creates a database.
// With Preload set every registered dataset is materialized before Open
// returns; datasets that fail to load are logged and left unloaded.
func Open(ctx context.Context, config Config, opts ...Option) (*DB, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	if config.QueryEpsilon == 0 {
		config.QueryEpsilon = query.Epsilon
	}
	logger, err := config.logger()
	if err != nil {
		return nil, err
	}

	storeConfig := core.DefaultConfig()
	storeConfig.Path = config.Path
	storeConfig.Logger = logger
	store, err := core.Open(ctx, storeConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	catOpts := catalog.DefaultOptions()
	catOpts.IdleTimeout = config.IdleTimeout
	catOpts.FlushEvery = config.FlushEvery
	catOpts.Logger = logger
	cat, err := catalog.New(ctx, store, catOpts)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}

	db := &DB{
		store:      store,
		catalog:    cat,
		algorithms: algorithm.Default(),
		config:     config,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(db)
	}

	if config.Preload {
		n, err := cat.PreloadAll(ctx)
		if err != nil {
			logger.Warn("preload incomplete", "loaded", n, "error", err)
		} else {
			logger.Info("preloaded datasets", "count", n)
		}
	}
	return db, nil
}

// Store returns the underlying document store
func (db *DB) Store() *core.Store {
	return db.store
}

// Catalog returns the dataset catalog
func (db *DB) Catalog() *catalog.Catalog {
	return db.catalog
}

// Algorithms returns the registry Run resolves names in
func (db *DB) Algorithms() *algorithm.Registry {
	return db.algorithms
}

// Config returns the configuration the DB was opened with
func (db *DB) Config() Config {
	return db.config
}

// Events returns the emitter every dataset, algorithm and pipeline of this DB
// reports to
func (db *DB) Events() *core.Emitter {
	return db.catalog.Events()
}

// Subscribe registers l for all notifications of this DB
func (db *DB) Subscribe(l core.Listener) (unsubscribe func()) {
	return db.catalog.Subscribe(l)
}

// Import loads a .csv or .json file as a dataset. An empty name uses the
// file's base name.
func (db *DB) Import(ctx context.Context, path, name string) (dataset.Dataset, error) {
	return db.catalog.Load(ctx, path, name)
}

// Export writes a dataset to a .csv or .json file
func (db *DB) Export(ctx context.Context, name, path string) error {
	return db.catalog.Save(ctx, name, path)
}

// Dataset resolves a dataset by name, loading it on first access
func (db *DB) Dataset(ctx context.Context, name string) (dataset.Dataset, error) {
	return db.catalog.Get(ctx, name)
}

// QueryTable starts a query over the named tabular dataset
func (db *DB) QueryTable(ctx context.Context, name string) (*query.TableQuery, error) {
	t, err := db.catalog.GetTabular(ctx, name)
	if err != nil {
		return nil, err
	}
	return query.Table(t).WithEpsilon(db.config.QueryEpsilon), nil
}

// QueryGraph starts a query over the named graph dataset
func (db *DB) QueryGraph(ctx context.Context, name string) (*query.GraphQuery, error) {
	g, err := db.catalog.GetGraph(ctx, name)
	if err != nil {
		return nil, err
	}
	return query.Graph(g).WithEpsilon(db.config.QueryEpsilon), nil
}

// Run executes a registered algorithm over the named dataset. The error
// reports a dataset or algorithm that could not be found; failures of the
// algorithm itself are in Result.Err.
func (db *DB) Run(ctx context.Context, algorithmName, datasetName string, params map[string]any) (algorithm.Result, error) {
	alg, ok := db.algorithms.Get(algorithmName)
	if !ok {
		return algorithm.Result{}, fmt.Errorf("algorithm '%s': %w", algorithmName, core.ErrNotFound)
	}
	input, err := db.catalog.Get(ctx, datasetName)
	if err != nil {
		return algorithm.Result{}, err
	}
	return algorithm.Execute(ctx, alg, input, db.newContext(params)), nil
}

// RunPipeline runs p over the named dataset. params are shared by every step
// and step parameters override them.
func (db *DB) RunPipeline(ctx context.Context, p *algorithm.Pipeline, datasetName string, params map[string]any) (algorithm.PipelineResult, error) {
	if p == nil {
		return algorithm.PipelineResult{}, fmt.Errorf("%w: nil pipeline", core.ErrInvalidArgument)
	}
	input, err := db.catalog.Get(ctx, datasetName)
	if err != nil {
		return algorithm.PipelineResult{}, err
	}
	return p.Run(ctx, input, db.newContext(params)), nil
}

// RunPipelineFile loads a YAML pipeline and runs it over the named dataset
func (db *DB) RunPipelineFile(ctx context.Context, path, datasetName string, params map[string]any) (algorithm.PipelineResult, error) {
	p, err := algorithm.LoadPipeline(path, db.algorithms)
	if err != nil {
		return algorithm.PipelineResult{}, err
	}
	return db.RunPipeline(ctx, p, datasetName, params)
}

// Stats returns storage statistics
func (db *DB) Stats(ctx context.Context) (core.StoreStats, error) {
	return db.store.Stats(ctx)
}

// Compact flushes pending dataset metadata and reclaims free pages
func (db *DB) Compact(ctx context.Context) error {
	if err := db.catalog.Flush(ctx); err != nil {
		return err
	}
	return db.store.Compact(ctx)
}

// Close flushes the catalog and closes the database
func (db *DB) Close() error {
	return errors.Join(
		db.catalog.Close(context.Background()),
		db.store.Close(),
	)
}

func (db *DB) newContext(params map[string]any) *algorithm.Context {
	actx := algorithm.NewContext(db.catalog, params)
	actx.Logger = db.logger
	actx.Events = db.catalog.Events()
	return actx
}
