package core

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectionLifecycle(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateCollection(ctx, "people"))
	assert.ErrorIs(t, store.CreateCollection(ctx, "people"), ErrAlreadyExists)
	require.NoError(t, store.EnsureCollection(ctx, "people"))

	ok, err := store.HasCollection(ctx, "people")
	require.NoError(t, err)
	assert.True(t, ok)

	assert.ErrorIs(t, store.CreateCollection(ctx, "bad name"), ErrInvalidName)
	assert.ErrorIs(t, store.CreateCollection(ctx, "sqlite_master2"), ErrInvalidName)

	require.NoError(t, store.DropCollection(ctx, "people"))
	assert.ErrorIs(t, store.DropCollection(ctx, "people"), ErrNotFound)

	_, err = store.Collection("people").Count(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCollectionCRUD(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateCollection(ctx, "people"))
	require.NoError(t, store.EnsureIndex(ctx, "people", true, "name"))
	coll := store.Collection("people")

	id, err := coll.Insert(ctx, Document{"name": "ada", "age": 36, "score": math.NaN()})
	require.NoError(t, err)

	_, err = coll.Insert(ctx, Document{"name": "ada"})
	assert.ErrorIs(t, err, ErrAlreadyExists, "unique index rejects duplicates")

	rec, err := coll.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "ada", rec.Doc["name"])
	assert.Equal(t, int64(36), rec.Doc["age"])
	assert.True(t, math.IsNaN(rec.Doc["score"].(float64)), "NaN survives storage")

	found, ok, err := coll.FindOne(ctx, "name", "ada")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, id, found.ID)

	rec.Doc["age"] = 37
	require.NoError(t, coll.Update(ctx, id, rec.Doc))
	byAge, err := coll.FindBy(ctx, "age", 37)
	require.NoError(t, err)
	assert.Len(t, byAge, 1)

	assert.ErrorIs(t, coll.Update(ctx, 9999, Document{}), ErrNotFound)
	_, err = coll.Get(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)

	deleted, err := coll.Delete(ctx, id)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = coll.Delete(ctx, id)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestCollectionQueries(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateCollection(ctx, "rows"))
	require.NoError(t, store.EnsureIndex(ctx, "rows", false, "_row"))
	coll := store.Collection("rows")

	docs := make([]Document, 10)
	for i := range docs {
		docs[i] = Document{"_row": i, "even": i%2 == 0}
	}
	_, err := coll.InsertBulk(ctx, docs)
	require.NoError(t, err)

	page, err := coll.Range(ctx, "_row", 3, 7, 0)
	require.NoError(t, err)
	require.Len(t, page, 4)
	assert.Equal(t, int64(3), page[0].Doc["_row"])

	limited, err := coll.Range(ctx, "_row", 0, 10, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	evens, err := coll.CountBy(ctx, "even", true)
	require.NoError(t, err)
	assert.Equal(t, 5, evens)

	odd, err := coll.Find(ctx, func(d Document) bool { return d["even"] == false })
	require.NoError(t, err)
	assert.Len(t, odd, 5)

	removed, err := coll.DeleteBy(ctx, "_row", 4)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	shifted, err := coll.Shift(ctx, "_row", 4, -1)
	require.NoError(t, err)
	assert.Equal(t, 5, shifted)

	all, err := coll.Range(ctx, "_row", 0, 100, 0)
	require.NoError(t, err)
	require.Len(t, all, 9)
	for i, rec := range all {
		assert.Equal(t, int64(i), rec.Doc["_row"])
	}

	n, err := coll.DeleteWhere(ctx, func(d Document) bool { return d["even"] == true })
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestRunInTxRollsBack(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateCollection(ctx, "tx"))

	boom := errors.New("boom")
	err := store.RunInTx(ctx, func(tx *Tx) error {
		if _, err := tx.Collection("tx").Insert(ctx, Document{"v": 1}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	n, err := store.Collection("tx").Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	assert.Panics(t, func() {
		_ = store.RunInTx(ctx, func(tx *Tx) error {
			_, _ = tx.Collection("tx").Insert(ctx, Document{"v": 2})
			panic("fault")
		})
	})

	n, err = store.Collection("tx").Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "panic rolls back")

	require.NoError(t, store.RunInTx(ctx, func(tx *Tx) error {
		if err := tx.CreateCollection(ctx, "created_in_tx"); err != nil {
			return err
		}
		_, err := tx.Collection("created_in_tx").InsertBulk(ctx, []Document{{"a": 1}, {"a": 2}})
		return err
	}))
	n, err = store.Collection("created_in_tx").Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestTxFinishedTwice(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	assert.ErrorIs(t, tx.Rollback(), ErrTxDone)

	_, err = tx.Collection("x").Count(ctx)
	assert.ErrorIs(t, err, ErrTxDone)
}

func TestFindMatchAndScan(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateCollection(ctx, "edges"))
	edges := store.Collection("edges")
	_, err := edges.InsertBulk(ctx, []Document{
		{"from": "a", "to": "b"},
		{"from": "a", "to": "c"},
		{"from": "b", "to": "c"},
	})
	require.NoError(t, err)

	recs, err := edges.FindMatch(ctx, Document{"from": "a", "to": "c"})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, int64(2), recs[0].ID)

	_, err = edges.FindMatch(ctx, Document{})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	page, err := edges.Scan(ctx, 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)

	page, err = edges.Scan(ctx, page[1].ID, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "b", page[0].Doc["from"])

	_, err = edges.Scan(ctx, 0, 0)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}
