package catalog

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/liliang-cn/sqdata/pkg/core"
	"github.com/liliang-cn/sqdata/pkg/dataset"
	"github.com/liliang-cn/sqdata/pkg/graph"
	"github.com/liliang-cn/sqdata/pkg/tabular"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func setupTestStore(t testing.TB, path string) *core.Store {
	t.Helper()

	store, err := core.New(path)
	require.NoError(t, err)
	require.NoError(t, store.Init(context.Background()))

	t.Cleanup(func() { _ = store.Close() })
	return store
}

func setupTestCatalog(t testing.TB) *Catalog {
	t.Helper()

	store := setupTestStore(t, filepath.Join(t.TempDir(), "catalog.db"))
	c, err := New(context.Background(), store, DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestCreateAndLookup(t *testing.T) {
	c := setupTestCatalog(t)
	ctx := context.Background()

	_, err := c.CreateTabular(ctx, "sales")
	require.NoError(t, err)
	_, err = c.CreateGraph(ctx, "network")
	require.NoError(t, err)

	assert.Equal(t, []string{"network", "sales"}, c.Names())
	assert.True(t, c.HasDataset("sales"))
	assert.False(t, c.HasDataset("missing"))

	rec, ok := c.GetMetadata("sales")
	require.True(t, ok)
	assert.Equal(t, core.KindTabular, rec.Kind)
	assert.True(t, rec.IsLoaded)

	_, err = c.CreateGraph(ctx, "sales")
	assert.ErrorIs(t, err, core.ErrAlreadyExists)

	_, err = c.CreateTabular(ctx, " ")
	assert.ErrorIs(t, err, core.ErrInvalidName)

	d, ok := c.TryGet(ctx, "network")
	require.True(t, ok)
	assert.Equal(t, core.KindGraph, d.Kind())

	_, ok = c.TryGet(ctx, "missing")
	assert.False(t, ok)

	_, err = c.Get(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrDatasetNotFound)
}

func TestGetKindMismatch(t *testing.T) {
	c := setupTestCatalog(t)
	ctx := context.Background()

	_, err := c.CreateTabular(ctx, "sales")
	require.NoError(t, err)
	_, err = c.CreateGraph(ctx, "network")
	require.NoError(t, err)

	_, err = c.GetGraph(ctx, "sales")
	assert.ErrorIs(t, err, core.ErrKindMismatch)
	_, err = c.GetTabular(ctx, "network")
	assert.ErrorIs(t, err, core.ErrKindMismatch)

	table, err := c.GetTabular(ctx, "sales")
	require.NoError(t, err)
	assert.Equal(t, "sales", table.Name())

	_, err = c.GetTabular(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestRegisterMetadataResolvesLazily(t *testing.T) {
	c := setupTestCatalog(t)
	ctx := context.Background()
	path := writeFile(t, "scores.csv", "name,score\nann,3\nben,5\n")

	require.NoError(t, c.RegisterMetadata(ctx, "scores", core.KindTabular, path))
	require.NoError(t, c.RegisterMetadata(ctx, "blank", core.KindGraph, ""))

	rec, ok := c.GetMetadata("scores")
	require.True(t, ok)
	assert.False(t, rec.IsLoaded)
	assert.Equal(t, path, rec.FilePath)
	assert.Greater(t, rec.FileSize, int64(0))

	err := c.RegisterMetadata(ctx, "scores", core.KindTabular, "")
	assert.ErrorIs(t, err, core.ErrAlreadyExists)

	d, ok := c.TryGet(ctx, "scores")
	require.True(t, ok)
	table, err := d.AsTable()
	require.NoError(t, err)
	assert.Equal(t, 2, table.RowCount())

	rec, _ = c.GetMetadata("scores")
	assert.True(t, rec.IsLoaded)

	again, ok := c.TryGet(ctx, "scores")
	require.True(t, ok)
	same, _ := again.Table()
	assert.Same(t, table, same)

	g, err := c.GetGraph(ctx, "blank")
	require.NoError(t, err)
	assert.Zero(t, g.NodeCount())
}

func TestLoadFailureIsReportedAsNotFound(t *testing.T) {
	c := setupTestCatalog(t)
	ctx := context.Background()

	require.NoError(t, c.RegisterMetadata(ctx, "ghost", core.KindTabular, filepath.Join(t.TempDir(), "nope.csv")))
	require.NoError(t, c.RegisterMetadata(ctx, "good", core.KindTabular, ""))

	_, ok := c.TryGet(ctx, "ghost")
	assert.False(t, ok)

	rec, _ := c.GetMetadata("ghost")
	assert.False(t, rec.IsLoaded)

	_, ok = c.TryGet(ctx, "good")
	assert.True(t, ok, "one bad dataset does not block others")

	exists, err := tabular.Exists(ctx, c.Store(), "ghost")
	require.NoError(t, err)
	assert.False(t, exists, "partial load is dropped")
}

func TestConcurrentResolveLoadsOnce(t *testing.T) {
	c := setupTestCatalog(t)
	ctx := context.Background()
	require.NoError(t, c.RegisterMetadata(ctx, "shared", core.KindGraph, ""))

	var loads int
	var mu sync.Mutex
	defer c.Subscribe(func(ev core.Event) {
		if ev.Type == core.EventDatasetLoaded {
			mu.Lock()
			loads++
			mu.Unlock()
		}
	})()

	var wg sync.WaitGroup
	results := make([]*graph.Graph, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g, err := c.GetGraph(ctx, "shared")
			assert.NoError(t, err)
			results[i] = g
		}()
	}
	wg.Wait()

	for _, g := range results {
		assert.Same(t, results[0], g)
	}
	assert.Equal(t, 1, loads)
}

func TestPreloadAll(t *testing.T) {
	c := setupTestCatalog(t)
	ctx := context.Background()

	require.NoError(t, c.RegisterMetadata(ctx, "a", core.KindTabular, ""))
	require.NoError(t, c.RegisterMetadata(ctx, "b", core.KindGraph, ""))
	require.NoError(t, c.RegisterMetadata(ctx, "bad", core.KindTabular, filepath.Join(t.TempDir(), "missing.csv")))

	n, err := c.PreloadAll(ctx)
	assert.Equal(t, 2, n)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")

	for _, name := range []string{"a", "b"} {
		rec, _ := c.GetMetadata(name)
		assert.True(t, rec.IsLoaded, name)
	}
}

func TestDelete(t *testing.T) {
	c := setupTestCatalog(t)
	ctx := context.Background()

	g, err := c.CreateGraph(ctx, "net")
	require.NoError(t, err)
	require.NoError(t, g.AddNode(ctx, "a", nil))

	events, cancel := c.Events().Channel(8)
	defer cancel()

	ok, err := c.Delete(ctx, "net")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, c.HasDataset("net"))

	ev := <-events
	assert.Equal(t, core.EventDatasetDeleted, ev.Type)
	assert.Equal(t, "net", ev.Dataset)
	assert.Equal(t, core.KindGraph, ev.Kind)

	exists, err := graph.Exists(ctx, c.Store(), "net")
	require.NoError(t, err)
	assert.False(t, exists)

	ok, err = c.Delete(ctx, "net")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRecordsSurviveReopen(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t, filepath.Join(t.TempDir(), "reopen.db"))

	c, err := New(ctx, store, DefaultOptions())
	require.NoError(t, err)
	table, err := c.CreateTabular(ctx, "people")
	require.NoError(t, err)
	require.NoError(t, table.AddStringColumn(ctx, "name", []string{"ann", "bob"}))
	require.NoError(t, c.RegisterMetadata(ctx, "later", core.KindGraph, ""))
	require.NoError(t, c.Close(ctx))

	// a dataset created behind the catalog's back is adopted
	_, err = graph.Create(ctx, store, "stray")
	require.NoError(t, err)

	reopened, err := New(ctx, store, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, []string{"later", "people", "stray"}, reopened.Names())

	rec, _ := reopened.GetMetadata("people")
	assert.False(t, rec.IsLoaded)

	got, err := reopened.GetTabular(ctx, "people")
	require.NoError(t, err)
	assert.Equal(t, 2, got.RowCount())
}

func TestSaveAndLoad(t *testing.T) {
	c := setupTestCatalog(t)
	ctx := context.Background()
	dir := t.TempDir()

	table, err := c.CreateTabular(ctx, "people")
	require.NoError(t, err)
	_, err = table.ImportFromCSV(ctx, "name,age\nann,31\nbob,42\n", true, ',')
	require.NoError(t, err)

	g, err := c.CreateGraph(ctx, "net")
	require.NoError(t, err)
	require.NoError(t, g.AddNode(ctx, "a", map[string]any{"w": 1.5}))
	require.NoError(t, g.AddNode(ctx, "b", nil))
	require.NoError(t, g.AddEdge(ctx, "a", "b", nil))

	csvPath := filepath.Join(dir, "people.csv")
	require.NoError(t, c.Save(ctx, "people", csvPath))
	rec, _ := c.GetMetadata("people")
	assert.Equal(t, csvPath, rec.FilePath)
	assert.Greater(t, rec.FileSize, int64(0))

	jsonPath := filepath.Join(dir, "net.json")
	require.NoError(t, c.Save(ctx, "net", jsonPath))

	err = c.Save(ctx, "net", filepath.Join(dir, "net.csv"))
	assert.ErrorIs(t, err, core.ErrKindMismatch)

	d, err := c.Load(ctx, csvPath, "people_copy")
	require.NoError(t, err)
	loaded, err := d.AsTable()
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.RowCount())
	assert.Len(t, loaded.Columns(), 2)

	d, err = c.Load(ctx, jsonPath, "")
	require.NoError(t, err)
	assert.Equal(t, "net", d.Name())
	net, err := d.AsGraph()
	require.NoError(t, err)
	assert.Equal(t, 2, net.NodeCount())
	assert.Equal(t, 1, net.EdgeCount())

	_, err = c.Load(ctx, writeFile(t, "x.txt", "hi"), "x")
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
}

func TestSaveAndLoadGraphML(t *testing.T) {
	c := setupTestCatalog(t)
	ctx := context.Background()
	dir := t.TempDir()

	g, err := c.CreateGraph(ctx, "net")
	require.NoError(t, err)
	require.NoError(t, g.AddNode(ctx, "a", map[string]any{"label": "start"}))
	require.NoError(t, g.AddNode(ctx, "b", nil))
	require.NoError(t, g.AddWeightedEdge(ctx, "a", "b", 3, nil))

	path := filepath.Join(dir, "net.graphml")
	require.NoError(t, c.Save(ctx, "net", path))

	d, err := c.Load(ctx, path, "net_copy")
	require.NoError(t, err)
	assert.Equal(t, core.KindGraph, d.Kind())
	loaded, err := d.AsGraph()
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.NodeCount())
	e, err := loaded.GetEdge(ctx, "a", "b")
	require.NoError(t, err)
	assert.Equal(t, 3.0, e.Weight)

	table, err := c.CreateTabular(ctx, "rows")
	require.NoError(t, err)
	require.NoError(t, table.AddNumericColumn(ctx, "x", []float64{1}))
	err = c.Save(ctx, "rows", filepath.Join(dir, "rows.graphml"))
	assert.ErrorIs(t, err, core.ErrKindMismatch)
}

func TestCopy(t *testing.T) {
	c := setupTestCatalog(t)
	ctx := context.Background()

	table, err := c.CreateTabular(ctx, "src")
	require.NoError(t, err)
	require.NoError(t, table.AddNumericColumn(ctx, "x", []float64{1, 2, 3}))

	d, err := c.Copy(ctx, "src", "dst")
	require.NoError(t, err)
	dst, err := d.AsTable()
	require.NoError(t, err)
	assert.Equal(t, 3, dst.RowCount())

	_, err = c.Copy(ctx, "src", "src")
	assert.ErrorIs(t, err, core.ErrInvalidArgument)

	_, err = c.Copy(ctx, "missing", "dst2")
	assert.ErrorIs(t, err, core.ErrDatasetNotFound)
}

func TestNewReplacesExisting(t *testing.T) {
	c := setupTestCatalog(t)
	ctx := context.Background()

	table, err := c.CreateTabular(ctx, "out")
	require.NoError(t, err)
	require.NoError(t, table.AddNumericColumn(ctx, "x", []float64{1}))

	var factory dataset.Factory = c
	g, err := factory.NewGraph(ctx, "out")
	require.NoError(t, err)
	assert.Zero(t, g.NodeCount())

	rec, _ := c.GetMetadata("out")
	assert.Equal(t, core.KindGraph, rec.Kind)

	exists, err := tabular.Exists(ctx, c.Store(), "out")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestEvictAndSweepIdle(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t, filepath.Join(t.TempDir(), "idle.db"))

	opts := DefaultOptions()
	opts.IdleTimeout = time.Hour
	opts.SweepInterval = time.Hour
	c, err := New(ctx, store, opts)
	require.NoError(t, err)
	defer func() { _ = c.Close(ctx) }()

	_, err = c.CreateTabular(ctx, "t")
	require.NoError(t, err)

	assert.Zero(t, c.SweepIdle(ctx, time.Now()))
	assert.Equal(t, 1, c.SweepIdle(ctx, time.Now().Add(2*time.Hour)))

	rec, _ := c.GetMetadata("t")
	assert.False(t, rec.IsLoaded)

	_, ok := c.TryGet(ctx, "t")
	assert.True(t, ok)

	ok, err = c.Evict(ctx, "t")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = c.Evict(ctx, "t")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvictKeepsOneHandlePerName(t *testing.T) {
	c := setupTestCatalog(t)
	ctx := context.Background()

	t1, err := c.CreateTabular(ctx, "t")
	require.NoError(t, err)
	require.NoError(t, t1.AddNumericColumn(ctx, "v", []float64{1, 2, 3}))

	loaded, cancel := c.Events().Channel(16)
	defer cancel()

	ok, err := c.Evict(ctx, "t")
	require.NoError(t, err)
	require.True(t, ok)

	t2, err := c.GetTabular(ctx, "t")
	require.NoError(t, err)
	require.Same(t, t1, t2)
	assert.Equal(t, core.EventDatasetLoaded, (<-loaded).Type)

	rec, _ := c.GetMetadata("t")
	assert.True(t, rec.IsLoaded)

	i1, err := t1.AddRow(ctx, map[string]any{"v": 4})
	require.NoError(t, err)
	i2, err := t2.AddRow(ctx, map[string]any{"v": 5})
	require.NoError(t, err)
	assert.Equal(t, []int{3, 4}, []int{i1, i2})
	assert.Equal(t, 5, t2.RowCount())

	var indices []int
	for row, err := range t2.GetRows(ctx, 0, -1) {
		require.NoError(t, err)
		indices = append(indices, row.Index)
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4}, indices)
}

func TestMutationDuringEviction(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t, filepath.Join(t.TempDir(), "evict.db"))
	opts := DefaultOptions()
	opts.FlushEvery = 3
	c, err := New(ctx, store, opts)
	require.NoError(t, err)
	defer func() { _ = c.Close(ctx) }()

	table, err := c.CreateTabular(ctx, "t")
	require.NoError(t, err)
	require.NoError(t, table.AddNumericColumn(ctx, "v", nil))

	var eg errgroup.Group
	for w := 0; w < 4; w++ {
		eg.Go(func() error {
			for i := 0; i < 10; i++ {
				tb, err := c.GetTabular(ctx, "t")
				if err != nil {
					return err
				}
				if _, err := tb.AddRow(ctx, map[string]any{"v": float64(w*10 + i)}); err != nil {
					return err
				}
			}
			return nil
		})
	}
	eg.Go(func() error {
		for i := 0; i < 20; i++ {
			if _, err := c.Evict(ctx, "t"); err != nil {
				return err
			}
			c.SweepIdle(ctx, time.Now().Add(time.Hour))
		}
		return nil
	})
	require.NoError(t, eg.Wait())

	final, err := c.GetTabular(ctx, "t")
	require.NoError(t, err)
	assert.Same(t, table, final)
	assert.Equal(t, 40, final.RowCount())

	seen := make(map[int]bool)
	for row, err := range final.GetRows(ctx, 0, -1) {
		require.NoError(t, err)
		assert.False(t, seen[row.Index], "duplicate index %d", row.Index)
		seen[row.Index] = true
	}
	assert.Len(t, seen, 40)
}

func TestListenerCanResolveModifiedDataset(t *testing.T) {
	c := setupTestCatalog(t)
	ctx := context.Background()

	_, err := c.CreateTabular(ctx, "t")
	require.NoError(t, err)

	var counts []int
	c.Subscribe(func(ev core.Event) {
		if ev.Type != core.EventDatasetModified {
			return
		}
		tb, err := c.GetTabular(ctx, ev.Dataset)
		if err == nil {
			counts = append(counts, tb.RowCount())
		}
	})

	done := make(chan error, 1)
	go func() {
		tb, err := c.GetTabular(ctx, "t")
		if err != nil {
			done <- err
			return
		}
		done <- tb.AddNumericColumn(ctx, "v", []float64{1, 2, 3})
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("listener resolving the dataset blocked the mutation")
	}
	assert.Equal(t, []int{3}, counts)
	require.NoError(t, c.Close(ctx))
}

func TestInstallAfterDeleteDropsLoadedData(t *testing.T) {
	c := setupTestCatalog(t)
	ctx := context.Background()

	loaded, err := tabular.Create(ctx, c.Store(), "ghost")
	require.NoError(t, err)

	_, err = c.install(ctx, "ghost", dataset.FromTable(loaded))
	assert.ErrorIs(t, err, core.ErrDatasetNotFound)

	exists, err := tabular.Exists(ctx, c.Store(), "ghost")
	require.NoError(t, err)
	assert.False(t, exists)

	names, err := c.Store().ListCollections(ctx)
	require.NoError(t, err)
	for _, name := range names {
		assert.NotContains(t, name, loaded.ID())
	}
}

func TestHandleDropSparesNewerDataset(t *testing.T) {
	c := setupTestCatalog(t)
	ctx := context.Background()

	stale, err := tabular.Create(ctx, c.Store(), "t")
	require.NoError(t, err)
	_, err = tabular.Drop(ctx, c.Store(), "t")
	require.NoError(t, err)
	_, err = tabular.Create(ctx, c.Store(), "t")
	require.NoError(t, err)

	dropped, err := stale.Drop(ctx)
	require.NoError(t, err)
	assert.False(t, dropped)

	exists, err := tabular.Exists(ctx, c.Store(), "t")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestDatasetEventsFlowThroughCatalog(t *testing.T) {
	c := setupTestCatalog(t)
	ctx := context.Background()

	events, cancel := c.Events().Channel(16)
	defer cancel()

	table, err := c.CreateTabular(ctx, "t")
	require.NoError(t, err)
	require.NoError(t, table.AddNumericColumn(ctx, "x", []float64{1}))

	assert.Equal(t, core.EventDatasetCreated, (<-events).Type)
	assert.Equal(t, core.EventDatasetModified, (<-events).Type)
}

func TestClosedCatalog(t *testing.T) {
	c := setupTestCatalog(t)
	ctx := context.Background()
	require.NoError(t, c.Close(ctx))
	require.NoError(t, c.Close(ctx))

	err := c.RegisterMetadata(ctx, "x", core.KindTabular, "")
	assert.ErrorIs(t, err, core.ErrStoreClosed)
	_, err = c.Get(ctx, "x")
	assert.Error(t, err)
}
