package tabular

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

const (
	// MetaCollection holds one metadata document per tabular dataset
	MetaCollection = "tabular_meta"

	// DefaultFlushEvery is how many single-row mutations may pass before row
	// count and modified time are written back
	DefaultFlushEvery = 100

	rowField  = "_row"
	dataField = "data"
)

// ErrRowNotFound is returned for row indices outside [0, rowCount)
var ErrRowNotFound = fmt.Errorf("row %w", core.ErrNotFound)

// ColumnType is the logical type of a column
type ColumnType int

const (
	Numeric ColumnType = iota
	String
)

// String returns the string representation of the column type
func (c ColumnType) String() string {
	switch c {
	case Numeric:
		return "numeric"
	case String:
		return "string"
	default:
		return "unknown"
	}
}

// ParseColumnType parses "numeric" or "string"
func ParseColumnType(s string) (ColumnType, error) {
	switch strings.ToLower(s) {
	case "numeric", "number", "float":
		return Numeric, nil
	case "string", "text":
		return String, nil
	default:
		return 0, fmt.Errorf("%w: unknown column type %q", core.ErrInvalidArgument, s)
	}
}

// ColumnMeta describes one column
type ColumnMeta struct {
	Name    string     `json:"name"`
	Type    ColumnType `json:"type"`
	Ordinal int        `json:"ordinal"`
}

// Metadata describes a tabular dataset
type Metadata struct {
	Name       string       `json:"name"`
	DatasetID  string       `json:"dataset_id"`
	Columns    []ColumnMeta `json:"columns"`
	RowCount   int          `json:"row_count"`
	CreatedAt  time.Time    `json:"created_at"`
	ModifiedAt time.Time    `json:"modified_at"`
}

// Row is one table row. A column absent from Data is null.
type Row struct {
	Index int            `json:"index"`
	Data  map[string]any `json:"data"`
}

// Table is a named tabular dataset backed by a metadata document and a row
// collection. All mutations on one Table are serialised; different tables do
// not contend.
type Table struct {
	store      *core.Store
	mu         sync.RWMutex
	meta       Metadata
	metaID     int64
	flushEvery int
	pending    int
	modified   bool
	events     *core.Emitter
	logger     core.Logger
}

// Option configures a Table handle
type Option func(*Table)

// WithFlushEvery sets how many single-row mutations are batched before the
// metadata document is rewritten. Values below 1 write on every mutation.
func WithFlushEvery(n int) Option {
	return func(t *Table) {
		if n < 1 {
			n = 1
		}
		t.flushEvery = n
	}
}

// WithEmitter routes modification notifications to e
func WithEmitter(e *core.Emitter) Option {
	return func(t *Table) {
		t.events = e
	}
}

func newTable(store *core.Store, meta Metadata, metaID int64, opts []Option) *Table {
	t := &Table{
		store:      store,
		meta:       meta,
		metaID:     metaID,
		flushEvery: DefaultFlushEvery,
		logger:     store.Logger().With("dataset", meta.Name),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Create creates an empty tabular dataset
func Create(ctx context.Context, store *core.Store, name string, opts ...Option) (*Table, error) {
	if strings.TrimSpace(name) == "" {
		return nil, core.WrapError("create_table", fmt.Errorf("%w: dataset name cannot be empty", core.ErrInvalidName))
	}

	now := time.Now().UTC()
	meta := Metadata{
		Name:       name,
		DatasetID:  strings.ReplaceAll(uuid.NewString(), "-", ""),
		RowCount:   0,
		CreatedAt:  now,
		ModifiedAt: now,
	}

	var metaID int64
	err := store.RunInTx(ctx, func(tx *core.Tx) error {
		if err := ensureMetaCollection(ctx, tx); err != nil {
			return err
		}
		if _, found, err := tx.Collection(MetaCollection).FindOne(ctx, "name", name); err != nil {
			return err
		} else if found {
			return fmt.Errorf("dataset '%s' %w", name, core.ErrAlreadyExists)
		}

		rows := rowsCollection(meta.DatasetID)
		if err := tx.CreateCollection(ctx, rows); err != nil {
			return err
		}
		if err := tx.EnsureIndex(ctx, rows, false, rowField); err != nil {
			return err
		}

		id, err := tx.Collection(MetaCollection).Insert(ctx, encodeMeta(meta))
		metaID = id
		return err
	})
	if err != nil {
		return nil, core.WrapError("create_table", err)
	}

	return newTable(store, meta, metaID, opts), nil
}

// Open opens an existing tabular dataset. A persisted row count that lags the
// row collection (batched metadata writes not flushed before exit) is repaired.
func Open(ctx context.Context, store *core.Store, name string, opts ...Option) (*Table, error) {
	rec, err := findMeta(ctx, store, name)
	if err != nil {
		return nil, core.WrapError("open_table", err)
	}

	meta, err := decodeMeta(rec.Doc)
	if err != nil {
		return nil, core.WrapError("open_table", err)
	}

	t := newTable(store, meta, rec.ID, opts)

	actual, err := store.Collection(t.rowsName()).Count(ctx)
	if err != nil {
		return nil, core.WrapError("open_table", err)
	}
	if actual != meta.RowCount {
		t.logger.Warn("repairing stale row count", "stored", meta.RowCount, "actual", actual)
		t.meta.RowCount = actual
		if err := store.Collection(MetaCollection).Update(ctx, t.metaID, encodeMeta(t.meta)); err != nil {
			return nil, core.WrapError("open_table", err)
		}
	}

	return t, nil
}

// Exists reports whether a tabular dataset called name exists
func Exists(ctx context.Context, store *core.Store, name string) (bool, error) {
	_, err := findMeta(ctx, store, name)
	if errors.Is(err, core.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// List returns the names of all tabular datasets
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

// Drop deletes the dataset's row collection and metadata document
func Drop(ctx context.Context, store *core.Store, name string) (bool, error) {
	return drop(ctx, store, name, "")
}

// Drop deletes the dataset this handle was opened on. A newer dataset
// stored under the same name is left alone.
func (t *Table) Drop(ctx context.Context) (bool, error) {
	t.mu.RLock()
	name, id := t.meta.Name, t.meta.DatasetID
	t.mu.RUnlock()
	return drop(ctx, t.store, name, id)
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

		rows := rowsCollection(meta.DatasetID)
		if exists, err := tx.HasCollection(ctx, rows); err != nil {
			return err
		} else if exists {
			if err := tx.DropCollection(ctx, rows); err != nil {
				return err
			}
		}
		if _, err := tx.Collection(MetaCollection).Delete(ctx, rec.ID); err != nil {
			return err
		}
		dropped = true
		return nil
	})
	if err != nil {
		return false, core.WrapError("drop_table", err)
	}
	return dropped, nil
}

// Name returns the dataset name
func (t *Table) Name() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.meta.Name
}

// ID returns the dataset's internal identifier
func (t *Table) ID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.meta.DatasetID
}

// Metadata returns a copy of the current metadata
func (t *Table) Metadata() Metadata {
	t.mu.RLock()
	defer t.mu.RUnlock()
	meta := t.meta
	meta.Columns = append([]ColumnMeta(nil), t.meta.Columns...)
	return meta
}

// RowCount returns the number of rows
func (t *Table) RowCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.meta.RowCount
}

// Columns returns the columns in ordinal order
func (t *Table) Columns() []ColumnMeta {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]ColumnMeta(nil), t.meta.Columns...)
}

// Column looks a column up by name
func (t *Table) Column(name string) (ColumnMeta, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.columnLocked(name)
}

// Store returns the backing store
func (t *Table) Store() *core.Store {
	return t.store
}

// Events returns the emitter notified of modifications, possibly nil
func (t *Table) Events() *core.Emitter {
	return t.events
}

// SetEmitter replaces the modification emitter
func (t *Table) SetEmitter(e *core.Emitter) {
	t.mu.Lock()
	t.events = e
	t.mu.Unlock()
}

// Flush writes row count and modified time immediately
func (t *Table) Flush(ctx context.Context) error {
	defer t.lock()()

	if t.pending == 0 {
		return nil
	}
	if err := t.store.Collection(MetaCollection).Update(ctx, t.metaID, encodeMeta(t.meta)); err != nil {
		return core.WrapError("flush", err)
	}
	t.pending = 0
	return nil
}

// CopyTo replaces dst's columns and rows with a copy of t
func (t *Table) CopyTo(ctx context.Context, dst *Table) error {
	if dst == t {
		return nil
	}

	cols := t.Columns()
	var data []map[string]any
	for row, err := range t.GetRows(ctx, 0, -1) {
		if err != nil {
			return core.WrapError("copy_table", err)
		}
		data = append(data, row.Data)
	}

	return dst.replace(ctx, cols, data)
}

// replace swaps in a complete set of columns and rows with one bulk insert
func (t *Table) replace(ctx context.Context, cols []ColumnMeta, data []map[string]any) error {
	defer t.lock()()

	next := t.cloneMeta()
	next.Columns = make([]ColumnMeta, len(cols))
	for i, c := range cols {
		next.Columns[i] = ColumnMeta{Name: c.Name, Type: c.Type, Ordinal: i}
	}
	next.RowCount = len(data)

	docs := make([]core.Document, len(data))
	for i, values := range data {
		docs[i] = rowDoc(i, values)
	}

	return t.mutate(ctx, "replace", next, true, func(tx *core.Tx) error {
		rows := tx.Collection(t.rowsName())
		if _, err := rows.DeleteAll(ctx); err != nil {
			return err
		}
		_, err := rows.InsertBulk(ctx, docs)
		return err
	})
}

func (t *Table) rowsName() string {
	return rowsCollection(t.meta.DatasetID)
}

func (t *Table) columnLocked(name string) (ColumnMeta, bool) {
	for _, c := range t.meta.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnMeta{}, false
}

func (t *Table) cloneMeta() Metadata {
	next := t.meta
	next.Columns = append([]ColumnMeta(nil), t.meta.Columns...)
	next.ModifiedAt = time.Now().UTC()
	return next
}

// shouldFlush reports whether the next mutation fills the metadata batch
func (t *Table) shouldFlush(force bool) bool {
	return force || t.pending+1 >= t.flushEvery
}

// mutate runs fn in one transaction and installs next as the current
// metadata once it commits. The metadata document is rewritten in the same
// transaction when force is set or the batch is full.
func (t *Table) mutate(ctx context.Context, op string, next Metadata, force bool, fn func(tx *core.Tx) error) error {
	flush := t.shouldFlush(force)
	err := t.store.RunInTx(ctx, func(tx *core.Tx) error {
		if err := fn(tx); err != nil {
			return err
		}
		if !flush {
			return nil
		}
		return tx.Collection(MetaCollection).Update(ctx, t.metaID, encodeMeta(next))
	})
	if err != nil {
		return core.WrapError(op, err)
	}

	t.meta = next
	if flush {
		t.pending = 0
	} else {
		t.pending++
	}
	t.modified = true
	return nil
}

// lock takes the write lock. The returned func releases it and then reports
// a modification queued by mutate, so listeners may read the table.
func (t *Table) lock() (unlock func()) {
	t.mu.Lock()
	return func() {
		modified, name, events := t.modified, t.meta.Name, t.events
		t.modified = false
		t.mu.Unlock()
		if modified {
			events.EmitDataset(core.EventDatasetModified, name, core.KindTabular)
		}
	}
}

func rowsCollection(datasetID string) string {
	return "rows_" + datasetID
}

func rowDoc(index int, values map[string]any) core.Document {
	data := make(map[string]any, len(values))
	for k, v := range values {
		if v != nil {
			data[k] = v
		}
	}
	return core.Document{rowField: index, dataField: data}
}

func ensureMetaCollection(ctx context.Context, tx *core.Tx) error {
	if err := tx.EnsureCollection(ctx, MetaCollection); err != nil {
		return err
	}
	return tx.EnsureIndex(ctx, MetaCollection, true, "name")
}

func findMeta(ctx context.Context, store *core.Store, name string) (core.Record, error) {
	ok, err := store.HasCollection(ctx, MetaCollection)
	if err != nil {
		return core.Record{}, err
	}
	if !ok {
		return core.Record{}, fmt.Errorf("tabular dataset '%s': %w", name, core.ErrDatasetNotFound)
	}
	rec, found, err := store.Collection(MetaCollection).FindOne(ctx, "name", name)
	if err != nil {
		return core.Record{}, err
	}
	if !found {
		return core.Record{}, fmt.Errorf("tabular dataset '%s': %w", name, core.ErrDatasetNotFound)
	}
	return rec, nil
}

func encodeMeta(m Metadata) core.Document {
	cols := make([]any, len(m.Columns))
	for i, c := range m.Columns {
		cols[i] = map[string]any{"name": c.Name, "type": c.Type.String(), "ordinal": c.Ordinal}
	}
	return core.Document{
		"name":        m.Name,
		"dataset_id":  m.DatasetID,
		"columns":     cols,
		"row_count":   m.RowCount,
		"created_at":  m.CreatedAt.Format(time.RFC3339Nano),
		"modified_at": m.ModifiedAt.Format(time.RFC3339Nano),
	}
}

func decodeMeta(doc core.Document) (Metadata, error) {
	var m Metadata
	m.Name, _ = doc["name"].(string)
	m.DatasetID, _ = doc["dataset_id"].(string)
	if m.Name == "" || m.DatasetID == "" {
		return m, fmt.Errorf("%w: malformed tabular metadata", core.ErrInvalidArgument)
	}
	if n, ok := core.ToFloat64(doc["row_count"]); ok && !math.IsNaN(n) {
		m.RowCount = int(n)
	}
	if s, ok := doc["created_at"].(string); ok {
		m.CreatedAt, _ = time.Parse(time.RFC3339Nano, s)
	}
	if s, ok := doc["modified_at"].(string); ok {
		m.ModifiedAt, _ = time.Parse(time.RFC3339Nano, s)
	}

	raw, _ := doc["columns"].([]any)
	for i, item := range raw {
		c, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name, _ := c["name"].(string)
		typeName, _ := c["type"].(string)
		typ, err := ParseColumnType(typeName)
		if err != nil {
			return m, err
		}
		m.Columns = append(m.Columns, ColumnMeta{Name: name, Type: typ, Ordinal: i})
	}
	return m, nil
}
