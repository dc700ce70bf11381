package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
)

// ErrTxDone is returned when a committed or rolled back transaction is used
var ErrTxDone = errors.New("transaction already finished")

// Tx is an explicit transaction boundary. While a Tx is open it owns the
// store's connection: code running inside it must use the Tx's collections,
// not the Store's, or it will wait on itself.
type Tx struct {
	store   *Store
	tx      *sql.Tx
	release func()
	mu      sync.Mutex
	done    bool
}

// Begin starts a transaction
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	release, err := s.acquire("begin")
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		release()
		return nil, wrapError("begin", fmt.Errorf("failed to begin transaction: %w", err))
	}

	return &Tx{store: s, tx: tx, release: release}, nil
}

// RunInTx runs fn inside a transaction. The transaction is rolled back when fn
// returns an error or panics; a panic is re-raised after the rollback.
func (s *Store) RunInTx(ctx context.Context, fn func(tx *Tx) error) (err error) {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, ErrTxDone) {
			s.logger.Error("rollback failed", "error", rbErr)
		}
		return err
	}

	return tx.Commit()
}

// Commit commits the transaction
func (t *Tx) Commit() error {
	return t.finish("commit", t.tx.Commit)
}

// Rollback aborts the transaction
func (t *Tx) Rollback() error {
	return t.finish("rollback", t.tx.Rollback)
}

func (t *Tx) finish(op string, fn func() error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done {
		return wrapError(op, ErrTxDone)
	}
	t.done = true
	defer t.release()

	if err := fn(); err != nil {
		return wrapError(op, err)
	}
	return nil
}

func (t *Tx) active(op string) (querier, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil, wrapError(op, ErrTxDone)
	}
	return t.tx, nil
}

// Collection returns a handle whose operations run inside the transaction
func (t *Tx) Collection(name string) *Collection {
	return &Collection{store: t.store, tx: t, name: name}
}

// CreateCollection creates a collection inside the transaction
func (t *Tx) CreateCollection(ctx context.Context, name string) error {
	q, err := t.active("create_collection")
	if err != nil {
		return err
	}
	return wrapError("create_collection", createCollection(ctx, q, name, false))
}

// EnsureCollection creates the collection inside the transaction if it is missing
func (t *Tx) EnsureCollection(ctx context.Context, name string) error {
	q, err := t.active("ensure_collection")
	if err != nil {
		return err
	}
	return wrapError("ensure_collection", createCollection(ctx, q, name, true))
}

// DropCollection drops a collection inside the transaction
func (t *Tx) DropCollection(ctx context.Context, name string) error {
	q, err := t.active("drop_collection")
	if err != nil {
		return err
	}
	return wrapError("drop_collection", dropCollection(ctx, q, name))
}

// HasCollection reports whether the collection exists, as seen by the transaction
func (t *Tx) HasCollection(ctx context.Context, name string) (bool, error) {
	q, err := t.active("has_collection")
	if err != nil {
		return false, err
	}
	ok, err := hasCollection(ctx, q, name)
	return ok, wrapError("has_collection", err)
}

// EnsureIndex creates an index inside the transaction
func (t *Tx) EnsureIndex(ctx context.Context, collection string, unique bool, fields ...string) error {
	q, err := t.active("ensure_index")
	if err != nil {
		return err
	}
	return wrapError("ensure_index", ensureIndex(ctx, q, collection, unique, fields))
}
