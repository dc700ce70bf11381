package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/liliang-cn/sqdata/internal/encoding"
)

// Document is a schemaless record body
type Document = map[string]any

// Record is a stored document and its internal identifier
type Record struct {
	ID  int64    `json:"id"`
	Doc Document `json:"doc"`
}

// Collection is a handle on one named collection, bound either to the store
// or to an open transaction.
type Collection struct {
	store *Store
	tx    *Tx
	name  string
}

// Collection returns a handle on the named collection. The collection is not
// required to exist until an operation runs.
func (s *Store) Collection(name string) *Collection {
	return &Collection{store: s, name: name}
}

// Name returns the collection name
func (c *Collection) Name() string {
	return c.name
}

// run executes fn against the transaction or the store connection
func (c *Collection) run(op string, fn func(q querier) error) error {
	if err := ValidateCollectionName(c.name); err != nil {
		return wrapError(op, err)
	}

	if c.tx != nil {
		q, err := c.tx.active(op)
		if err != nil {
			return err
		}
		return wrapError(op, classifyError(fn(q)))
	}

	release, err := c.store.acquire(op)
	if err != nil {
		return err
	}
	defer release()

	return wrapError(op, classifyError(fn(c.store.db)))
}

// Insert stores doc and returns its identifier
func (c *Collection) Insert(ctx context.Context, doc Document) (int64, error) {
	var id int64
	err := c.run("insert", func(q querier) error {
		body, err := encoding.EncodeDocument(doc)
		if err != nil {
			return err
		}
		res, err := q.ExecContext(ctx, fmt.Sprintf("INSERT INTO %s (doc) VALUES (?)", quoteIdent(c.name)), body)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// InsertBulk stores all docs atomically and returns how many were inserted
func (c *Collection) InsertBulk(ctx context.Context, docs []Document) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}

	bodies := make([]string, len(docs))
	for i, doc := range docs {
		body, err := encoding.EncodeDocument(doc)
		if err != nil {
			return 0, wrapError("insert_bulk", err)
		}
		bodies[i] = body
	}

	err := c.run("insert_bulk", func(q querier) error {
		if c.tx != nil {
			return insertBodies(ctx, q, c.name, bodies)
		}

		tx, err := c.store.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if err := insertBodies(ctx, tx, c.name, bodies); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, err
	}
	return len(docs), nil
}

func insertBodies(ctx context.Context, q querier, name string, bodies []string) error {
	stmt := fmt.Sprintf("INSERT INTO %s (doc) VALUES (?)", quoteIdent(name))
	for _, body := range bodies {
		if _, err := q.ExecContext(ctx, stmt, body); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the record with the given identifier
func (c *Collection) Get(ctx context.Context, id int64) (Record, error) {
	var rec Record
	err := c.run("get", func(q querier) error {
		var body string
		err := q.QueryRowContext(ctx,
			fmt.Sprintf("SELECT id, doc FROM %s WHERE id = ?", quoteIdent(c.name)), id).Scan(&rec.ID, &body)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("record %d %w", id, ErrNotFound)
		}
		if err != nil {
			return err
		}
		rec.Doc, err = encoding.DecodeDocument(body)
		return err
	})
	return rec, err
}

// All returns every record in insertion order
func (c *Collection) All(ctx context.Context) ([]Record, error) {
	var out []Record
	err := c.run("all", func(q querier) error {
		var err error
		out, err = queryRecords(ctx, q, fmt.Sprintf("SELECT id, doc FROM %s ORDER BY id", quoteIdent(c.name)))
		return err
	})
	return out, err
}

// Find scans the collection and returns the records matching pred
func (c *Collection) Find(ctx context.Context, pred func(Document) bool) ([]Record, error) {
	all, err := c.All(ctx)
	if err != nil {
		return nil, err
	}
	if pred == nil {
		return all, nil
	}

	out := all[:0]
	for _, rec := range all {
		if pred(rec.Doc) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// FindBy returns records whose field equals value, using an index when one exists
func (c *Collection) FindBy(ctx context.Context, field string, value any) ([]Record, error) {
	var out []Record
	err := c.run("find_by", func(q querier) error {
		expr, err := fieldExpr(field)
		if err != nil {
			return err
		}
		out, err = queryRecords(ctx, q,
			fmt.Sprintf("SELECT id, doc FROM %s WHERE %s = ? ORDER BY id", quoteIdent(c.name), expr),
			sqlValue(value))
		return err
	})
	return out, err
}

// FindMatch returns records whose fields equal every value in match
func (c *Collection) FindMatch(ctx context.Context, match Document) ([]Record, error) {
	var out []Record
	err := c.run("find_match", func(q querier) error {
		where, args, err := matchClause(match)
		if err != nil {
			return err
		}
		out, err = queryRecords(ctx, q,
			fmt.Sprintf("SELECT id, doc FROM %s WHERE %s ORDER BY id", quoteIdent(c.name), where), args...)
		return err
	})
	return out, err
}

// Scan returns up to limit records with an identifier greater than afterID,
// ordered by identifier. Pass the last identifier seen to fetch the next page.
func (c *Collection) Scan(ctx context.Context, afterID int64, limit int) ([]Record, error) {
	if limit <= 0 {
		return nil, wrapError("scan", fmt.Errorf("%w: limit must be positive", ErrInvalidArgument))
	}

	var out []Record
	err := c.run("scan", func(q querier) error {
		var err error
		out, err = queryRecords(ctx, q,
			fmt.Sprintf("SELECT id, doc FROM %s WHERE id > ? ORDER BY id LIMIT ?", quoteIdent(c.name)),
			afterID, limit)
		return err
	})
	return out, err
}

// FindOne returns the first record whose field equals value
func (c *Collection) FindOne(ctx context.Context, field string, value any) (Record, bool, error) {
	var out []Record
	err := c.run("find_one", func(q querier) error {
		expr, err := fieldExpr(field)
		if err != nil {
			return err
		}
		out, err = queryRecords(ctx, q,
			fmt.Sprintf("SELECT id, doc FROM %s WHERE %s = ? ORDER BY id LIMIT 1", quoteIdent(c.name), expr),
			sqlValue(value))
		return err
	})
	if err != nil || len(out) == 0 {
		return Record{}, false, err
	}
	return out[0], true, nil
}

// Range returns records with lo <= field < hi ordered by field. limit <= 0 means no limit.
func (c *Collection) Range(ctx context.Context, field string, lo, hi int64, limit int) ([]Record, error) {
	var out []Record
	err := c.run("range", func(q querier) error {
		expr, err := fieldExpr(field)
		if err != nil {
			return err
		}
		stmt := fmt.Sprintf("SELECT id, doc FROM %s WHERE %s >= ? AND %s < ? ORDER BY %s",
			quoteIdent(c.name), expr, expr, expr)
		args := []any{lo, hi}
		if limit > 0 {
			stmt += " LIMIT ?"
			args = append(args, limit)
		}
		out, err = queryRecords(ctx, q, stmt, args...)
		return err
	})
	return out, err
}

// Update replaces the document stored under id
func (c *Collection) Update(ctx context.Context, id int64, doc Document) error {
	return c.run("update", func(q querier) error {
		body, err := encoding.EncodeDocument(doc)
		if err != nil {
			return err
		}
		res, err := q.ExecContext(ctx, fmt.Sprintf("UPDATE %s SET doc = ? WHERE id = ?", quoteIdent(c.name)), body, id)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("record %d %w", id, ErrNotFound)
		}
		return nil
	})
}

// Delete removes the record with the given identifier
func (c *Collection) Delete(ctx context.Context, id int64) (bool, error) {
	var n int64
	err := c.run("delete", func(q querier) error {
		res, err := q.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ?", quoteIdent(c.name)), id)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n > 0, err
}

// DeleteBy removes every record whose field equals value
func (c *Collection) DeleteBy(ctx context.Context, field string, value any) (int, error) {
	var n int64
	err := c.run("delete_by", func(q querier) error {
		expr, err := fieldExpr(field)
		if err != nil {
			return err
		}
		res, err := q.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE %s = ?", quoteIdent(c.name), expr), sqlValue(value))
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return int(n), err
}

// DeleteWhere removes every record matching pred
func (c *Collection) DeleteWhere(ctx context.Context, pred func(Document) bool) (int, error) {
	matches, err := c.Find(ctx, pred)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, rec := range matches {
		ok, err := c.Delete(ctx, rec.ID)
		if err != nil {
			return deleted, err
		}
		if ok {
			deleted++
		}
	}
	return deleted, nil
}

// DeleteAll empties the collection and returns the number of removed records
func (c *Collection) DeleteAll(ctx context.Context) (int, error) {
	var n int64
	err := c.run("delete_all", func(q querier) error {
		res, err := q.ExecContext(ctx, "DELETE FROM "+quoteIdent(c.name))
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return int(n), err
}

// Count returns the number of records
func (c *Collection) Count(ctx context.Context) (int, error) {
	var n int
	err := c.run("count", func(q querier) error {
		return q.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quoteIdent(c.name)).Scan(&n)
	})
	return n, err
}

// CountBy returns the number of records whose field equals value
func (c *Collection) CountBy(ctx context.Context, field string, value any) (int, error) {
	var n int
	err := c.run("count_by", func(q querier) error {
		expr, err := fieldExpr(field)
		if err != nil {
			return err
		}
		return q.QueryRowContext(ctx,
			fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = ?", quoteIdent(c.name), expr), sqlValue(value)).Scan(&n)
	})
	return n, err
}

// Shift adds delta to the integer field of every record whose field is
// greater than after, returning the number of records touched.
func (c *Collection) Shift(ctx context.Context, field string, after, delta int64) (int, error) {
	var n int64
	err := c.run("shift", func(q querier) error {
		expr, err := fieldExpr(field)
		if err != nil {
			return err
		}
		stmt := fmt.Sprintf("UPDATE %s SET doc = json_set(doc, '$.%s', %s + ?) WHERE %s > ?",
			quoteIdent(c.name), field, expr, expr)
		res, err := q.ExecContext(ctx, stmt, delta, after)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return int(n), err
}

func queryRecords(ctx context.Context, q querier, stmt string, args ...any) ([]Record, error) {
	rows, err := q.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Record
	for rows.Next() {
		var rec Record
		var body string
		if err := rows.Scan(&rec.ID, &body); err != nil {
			return nil, err
		}
		rec.Doc, err = encoding.DecodeDocument(body)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func matchClause(match Document) (string, []any, error) {
	if len(match) == 0 {
		return "", nil, fmt.Errorf("%w: empty match", ErrInvalidArgument)
	}

	fields := make([]string, 0, len(match))
	for f := range match {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	conds := make([]string, len(fields))
	args := make([]any, len(fields))
	for i, f := range fields {
		expr, err := fieldExpr(f)
		if err != nil {
			return "", nil, err
		}
		conds[i] = expr + " = ?"
		args[i] = sqlValue(match[f])
	}
	return strings.Join(conds, " AND "), args, nil
}

// sqlValue converts a document value into something json_extract compares equal to
func sqlValue(v any) any {
	switch x := encoding.NormalizeValue(v).(type) {
	case bool:
		if x {
			return int64(1)
		}
		return int64(0)
	default:
		return x
	}
}
