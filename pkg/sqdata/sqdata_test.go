package sqdata

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/liliang-cn/sqdata/pkg/algorithm"
	"github.com/liliang-cn/sqdata/pkg/core"
	"github.com/liliang-cn/sqdata/pkg/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scoresCSV = `name,score
alpha,10
beta,20
gamma,30
delta,40
epsilon,50
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func setupTestDB(t *testing.T) (*DB, string) {
	t.Helper()
	dir := t.TempDir()
	db, err := Open(context.Background(), DefaultConfig(filepath.Join(dir, "data.db")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, dir
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("x.db")
	assert.Equal(t, "x.db", cfg.Path)
	assert.Greater(t, cfg.FlushEvery, 0)
	assert.Equal(t, 1e-4, cfg.QueryEpsilon)
	assert.Zero(t, cfg.IdleTimeout)
	assert.NoError(t, cfg.validate())
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "sqdata.yaml", `
path: /var/lib/sqdata/main.db
idle_timeout: 5m
preload: true
log_level: warn
query_epsilon: 0.01
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/sqdata/main.db", cfg.Path)
	assert.Equal(t, 5*time.Minute, cfg.IdleTimeout)
	assert.True(t, cfg.Preload)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 0.01, cfg.QueryEpsilon)
	assert.Equal(t, DefaultConfig("").FlushEvery, cfg.FlushEvery, "unset keys keep defaults")

	bad := writeFile(t, dir, "bad.yaml", "log_level: loud\n")
	_, err = LoadConfig(bad)
	assert.ErrorIs(t, err, core.ErrInvalidArgument)

	garbage := writeFile(t, dir, "garbage.yaml", "path: [\n")
	_, err = LoadConfig(garbage)
	assert.ErrorIs(t, err, core.ErrInvalidArgument)

	_, err = LoadConfig(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestOpenRejectsBadConfig(t *testing.T) {
	_, err := Open(context.Background(), DefaultConfig(""))
	assert.ErrorIs(t, err, core.ErrInvalidArgument)

	cfg := DefaultConfig(filepath.Join(t.TempDir(), "x.db"))
	cfg.QueryEpsilon = -1
	_, err = Open(context.Background(), cfg)
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
}

func TestImportQueryExport(t *testing.T) {
	db, dir := setupTestDB(t)
	ctx := context.Background()

	d, err := db.Import(ctx, writeFile(t, dir, "scores.csv", scoresCSV), "")
	require.NoError(t, err)
	assert.Equal(t, "scores", d.Name())
	assert.Equal(t, core.KindTabular, d.Kind())
	assert.Equal(t, []string{"scores"}, db.Catalog().Names())

	q, err := db.QueryTable(ctx, "scores")
	require.NoError(t, err)
	names, err := q.Where(query.Gte("score", 30)).OrderByDescending("score").ToRecords(ctx)
	require.NoError(t, err)
	require.Len(t, names, 3)
	assert.Equal(t, "epsilon", names[0]["name"])

	_, err = db.QueryGraph(ctx, "scores")
	assert.ErrorIs(t, err, core.ErrKindMismatch)

	out := filepath.Join(dir, "out.json")
	require.NoError(t, db.Export(ctx, "scores", out))
	info, err := os.Stat(out)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestQueryEpsilonFromConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(filepath.Join(dir, "eps.db"))
	cfg.QueryEpsilon = 0.5
	db, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	ctx := context.Background()

	_, err = db.Import(ctx, writeFile(t, dir, "scores.csv", scoresCSV), "")
	require.NoError(t, err)

	q, err := db.QueryTable(ctx, "scores")
	require.NoError(t, err)
	n, err := q.Where(query.Eq("score", 10.3)).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestZeroConfigUsesDefaultEpsilon(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, Config{Path: filepath.Join(t.TempDir(), "zero.db")})
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	assert.Equal(t, query.Epsilon, db.Config().QueryEpsilon)

	table, err := db.Catalog().CreateTabular(ctx, "points")
	require.NoError(t, err)
	require.NoError(t, table.AddNumericColumn(ctx, "x", []float64{0.30005, 0.5}))

	q, err := db.QueryTable(ctx, "points")
	require.NoError(t, err)
	n, err := q.Where(query.Eq("x", 0.3)).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRunAndRunPipeline(t *testing.T) {
	db, dir := setupTestDB(t)
	ctx := context.Background()

	_, err := db.Import(ctx, writeFile(t, dir, "scores.csv", scoresCSV), "")
	require.NoError(t, err)

	res, err := db.Run(ctx, "MinMaxNormalize", "scores", map[string]any{"output": "scaled"})
	require.NoError(t, err)
	require.True(t, res.Success, "%v", res.Err)
	assert.True(t, db.Catalog().HasDataset("scaled"))

	_, err = db.Run(ctx, "Nope", "scores", nil)
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = db.Run(ctx, "PageRank", "missing", nil)
	assert.ErrorIs(t, err, core.ErrNotFound)

	res, err = db.Run(ctx, "PageRank", "scores", nil)
	require.NoError(t, err)
	assert.ErrorIs(t, res.Err, algorithm.ErrNotCompatible)

	g, err := db.Catalog().CreateGraph(ctx, "links")
	require.NoError(t, err)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, g.AddNode(ctx, id, nil))
	}
	require.NoError(t, g.AddEdge(ctx, "a", "b", nil))
	require.NoError(t, g.AddEdge(ctx, "b", "a", nil))

	pipe := writeFile(t, dir, "pipe.yaml", `
name: analyse
steps:
  - algorithm: PageRank
  - algorithm: ConnectedComponents
    name: groups
`)
	pres, err := db.RunPipelineFile(ctx, pipe, "links", nil)
	require.NoError(t, err)
	require.True(t, pres.Success(), "%v", pres.Err())
	assert.Equal(t, 2, pres.AllMetrics()["groups.componentCount"])

	gq, err := db.QueryGraph(ctx, pres.FinalOutput.Name())
	require.NoError(t, err)
	n, err := gq.Where(query.Eq(algorithm.ComponentProperty, 0)).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = db.RunPipeline(ctx, nil, "links", nil)
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
}

func TestSubscribeSeesAlgorithmEvents(t *testing.T) {
	db, dir := setupTestDB(t)
	ctx := context.Background()

	var mu sync.Mutex
	var seen []core.EventType
	unsubscribe := db.Subscribe(func(ev core.Event) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, ev.Type)
	})
	defer unsubscribe()

	_, err := db.Import(ctx, writeFile(t, dir, "scores.csv", scoresCSV), "")
	require.NoError(t, err)
	_, err = db.Run(ctx, "MinMaxNormalize", "scores", map[string]any{"inPlace": true})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, seen, core.EventDatasetLoaded)
	assert.Contains(t, seen, core.EventAlgorithmStarted)
	assert.Contains(t, seen, core.EventAlgorithmCompleted)
}

func TestReopenWithPreload(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	cfg := DefaultConfig(filepath.Join(dir, "persist.db"))

	db, err := Open(ctx, cfg)
	require.NoError(t, err)
	_, err = db.Import(ctx, writeFile(t, dir, "scores.csv", scoresCSV), "")
	require.NoError(t, err)
	require.NoError(t, db.Compact(ctx))
	require.NoError(t, db.Close())
	assert.NoError(t, db.Close(), "second close is a no-op")

	cfg.Preload = true
	reopened, err := Open(ctx, cfg)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	rec, ok := reopened.Catalog().GetMetadata("scores")
	require.True(t, ok)
	assert.True(t, rec.IsLoaded)

	q, err := reopened.QueryTable(ctx, "scores")
	require.NoError(t, err)
	n, err := q.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	stats, err := reopened.Stats(ctx)
	require.NoError(t, err)
	assert.Greater(t, stats.Collections, 0)
}
