package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/liliang-cn/sqdata/pkg/core"
	"github.com/liliang-cn/sqdata/pkg/dataset"
	"github.com/liliang-cn/sqdata/pkg/graph"
	"github.com/liliang-cn/sqdata/pkg/tabular"
)

// Collection holds one document per registered dataset
const Collection = "catalog"

// Record describes a dataset independently of whether it is materialized
type Record struct {
	Name         string    `json:"name"`
	Kind         core.Kind `json:"kind"`
	FilePath     string    `json:"filePath,omitempty"`
	FileSize     int64     `json:"fileSize"`
	LastModified time.Time `json:"lastModified"`
	IsLoaded     bool      `json:"isLoaded"`
}

// Options configures a Catalog
type Options struct {
	// IdleTimeout evicts materialized datasets not accessed for this long.
	// Zero disables eviction.
	IdleTimeout time.Duration
	// SweepInterval is how often the idle sweeper runs; defaults to IdleTimeout/2
	SweepInterval time.Duration
	// FlushEvery is passed to tables as their metadata batch size
	FlushEvery int
	// Concurrency bounds PreloadAll; defaults to 4
	Concurrency int
	Logger      core.Logger
	Emitter     *core.Emitter
}

// DefaultOptions returns options with eviction disabled
func DefaultOptions() Options {
	return Options{
		FlushEvery:  tabular.DefaultFlushEvery,
		Concurrency: 4,
	}
}

type entry struct {
	record     Record
	recID      int64
	data       dataset.Dataset
	lastAccess time.Time
}

// Catalog tracks datasets by name and materializes them on first access
type Catalog struct {
	store   *core.Store
	opts    Options
	logger  core.Logger
	events  *core.Emitter
	mu      sync.RWMutex
	entries map[string]*entry
	group   singleflight.Group

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	closed    bool
}

// New opens the catalog stored in store. Datasets present in the store but
// missing from the catalog are registered as unloaded entries.
func New(ctx context.Context, store *core.Store, opts Options) (*Catalog, error) {
	if store == nil {
		return nil, core.WrapError("open_catalog", fmt.Errorf("%w: nil store", core.ErrInvalidArgument))
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.FlushEvery <= 0 {
		opts.FlushEvery = tabular.DefaultFlushEvery
	}
	logger := opts.Logger
	if logger == nil {
		logger = store.Logger()
	}
	events := opts.Emitter
	if events == nil {
		events = core.NewEmitter()
	}

	c := &Catalog{
		store:   store,
		opts:    opts,
		logger:  logger.With("component", "catalog"),
		events:  events,
		entries: make(map[string]*entry),
	}

	if err := c.loadRecords(ctx); err != nil {
		return nil, core.WrapError("open_catalog", err)
	}
	if err := c.adoptOrphans(ctx); err != nil {
		return nil, core.WrapError("open_catalog", err)
	}

	if opts.IdleTimeout > 0 {
		c.startSweeper()
	}
	return c, nil
}

// Store returns the backing store
func (c *Catalog) Store() *core.Store {
	return c.store
}

// Events returns the catalog's emitter. Every dataset it materializes
// reports through it.
func (c *Catalog) Events() *core.Emitter {
	return c.events
}

// Subscribe registers l for catalog and dataset notifications
func (c *Catalog) Subscribe(l core.Listener) (unsubscribe func()) {
	return c.events.Subscribe(l)
}

// Names returns the registered dataset names in lexical order
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.entries))
	for name := range c.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Records returns every catalog record ordered by name
func (c *Catalog) Records() []Record {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Record, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.record)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// HasDataset reports whether name is registered, loaded or not
func (c *Catalog) HasDataset(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[name]
	return ok
}

// GetMetadata returns the record for name
func (c *Catalog) GetMetadata(name string) (Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[name]
	if !ok {
		return Record{}, false
	}
	return e.record, true
}

// RegisterMetadata records an unmaterialized dataset. With a path, the first
// access loads the file; without one it opens the stored dataset or creates
// an empty one.
func (c *Catalog) RegisterMetadata(ctx context.Context, name string, kind core.Kind, path string) error {
	if err := validateName(name); err != nil {
		return core.WrapError("register", err)
	}
	if !kind.Valid() {
		return core.WrapError("register", fmt.Errorf("%w: unknown kind %s", core.ErrInvalidArgument, kind))
	}

	rec := Record{Name: name, Kind: kind, FilePath: path, LastModified: time.Now().UTC()}
	if path != "" {
		size, mod, err := statFile(path)
		if err != nil {
			c.logger.Warn("registered file is not readable yet", "dataset", name, "path", path, "error", err)
		} else {
			rec.FileSize, rec.LastModified = size, mod
		}
	}

	_, err := c.insert(ctx, rec, dataset.Dataset{})
	return err
}

// insert persists rec and adds it to the in-memory index
func (c *Catalog) insert(ctx context.Context, rec Record, data dataset.Dataset) (*entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, core.WrapError("register", core.ErrStoreClosed)
	}
	if _, ok := c.entries[rec.Name]; ok {
		return nil, core.WrapError("register", fmt.Errorf("dataset '%s' %w", rec.Name, core.ErrAlreadyExists))
	}

	rec.IsLoaded = !data.IsZero()
	id, err := c.store.Collection(Collection).Insert(ctx, encodeRecord(rec))
	if err != nil {
		return nil, core.WrapError("register", err)
	}

	e := &entry{record: rec, recID: id, data: data, lastAccess: time.Now()}
	c.entries[rec.Name] = e
	return e, nil
}

// updateRecord persists the record of an existing entry; c.mu must be held
func (c *Catalog) updateRecord(ctx context.Context, e *entry) error {
	return c.store.Collection(Collection).Update(ctx, e.recID, encodeRecord(e.record))
}

func (c *Catalog) loadRecords(ctx context.Context) error {
	if err := c.store.EnsureCollection(ctx, Collection); err != nil {
		return err
	}
	if err := c.store.EnsureIndex(ctx, Collection, true, "name"); err != nil {
		return err
	}

	recs, err := c.store.Collection(Collection).All(ctx)
	if err != nil {
		return err
	}
	for _, r := range recs {
		rec, err := decodeRecord(r.Doc)
		if err != nil {
			c.logger.Warn("skipping unreadable catalog record", "id", r.ID, "error", err)
			continue
		}
		c.entries[rec.Name] = &entry{record: rec, recID: r.ID}
	}
	return nil
}

func (c *Catalog) adoptOrphans(ctx context.Context) error {
	tables, err := tabular.List(ctx, c.store)
	if err != nil {
		return err
	}
	graphs, err := graph.List(ctx, c.store)
	if err != nil {
		return err
	}

	adopt := func(name string, kind core.Kind) error {
		if _, ok := c.entries[name]; ok {
			return nil
		}
		c.logger.Debug("adopting unregistered dataset", "dataset", name, "kind", kind)
		_, err := c.insert(ctx, Record{Name: name, Kind: kind, LastModified: time.Now().UTC()}, dataset.Dataset{})
		return err
	}
	for _, name := range tables {
		if err := adopt(name, core.KindTabular); err != nil {
			return err
		}
	}
	for _, name := range graphs {
		if err := adopt(name, core.KindGraph); err != nil {
			return err
		}
	}
	return nil
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: dataset name cannot be empty", core.ErrInvalidName)
	}
	return nil
}

func encodeRecord(r Record) core.Document {
	return core.Document{
		"name":     r.Name,
		"kind":     r.Kind.String(),
		"path":     r.FilePath,
		"size":     r.FileSize,
		"modified": r.LastModified.UTC().Format(time.RFC3339Nano),
	}
}

func decodeRecord(doc core.Document) (Record, error) {
	name, _ := doc["name"].(string)
	if name == "" {
		return Record{}, errors.New("record without name")
	}
	kindText, _ := doc["kind"].(string)
	kind, err := core.ParseKind(kindText)
	if err != nil {
		return Record{}, err
	}

	rec := Record{Name: name, Kind: kind}
	rec.FilePath, _ = doc["path"].(string)
	if size, ok := core.ToFloat64(doc["size"]); ok {
		rec.FileSize = int64(size)
	}
	if s, ok := doc["modified"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			rec.LastModified = t
		}
	}
	return rec, nil
}
