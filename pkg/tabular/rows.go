package tabular

import (
	"context"
	"fmt"
	"iter"
	"math"

	"github.com/liliang-cn/sqdata/pkg/core"
)

const rowPageSize = 256

// AddRow appends a row and returns its index. Keys must name existing columns.
func (t *Table) AddRow(ctx context.Context, values map[string]any) (int, error) {
	defer t.lock()()

	data, err := t.coerceRow(values)
	if err != nil {
		return 0, core.WrapError("add_row", err)
	}

	index := t.meta.RowCount
	next := t.cloneMeta()
	next.RowCount++

	err = t.mutate(ctx, "add_row", next, false, func(tx *core.Tx) error {
		_, err := tx.Collection(t.rowsName()).Insert(ctx, rowDoc(index, data))
		return err
	})
	if err != nil {
		return 0, err
	}
	return index, nil
}

// AddRows appends rows with one bulk insert and returns how many were added.
// The metadata is written before returning.
func (t *Table) AddRows(ctx context.Context, rows []map[string]any) (int, error) {
	defer t.lock()()

	if len(rows) == 0 {
		return 0, nil
	}

	base := t.meta.RowCount
	docs := make([]core.Document, len(rows))
	for i, values := range rows {
		data, err := t.coerceRow(values)
		if err != nil {
			return 0, core.WrapError("add_rows", fmt.Errorf("row %d: %w", i, err))
		}
		docs[i] = rowDoc(base+i, data)
	}

	next := t.cloneMeta()
	next.RowCount += len(rows)

	err := t.mutate(ctx, "add_rows", next, true, func(tx *core.Tx) error {
		_, err := tx.Collection(t.rowsName()).InsertBulk(ctx, docs)
		return err
	})
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

// UpdateRow merges values into the row at index. A nil value sets the
// column to null.
func (t *Table) UpdateRow(ctx context.Context, index int, values map[string]any) error {
	defer t.lock()()

	if err := t.checkIndex(index); err != nil {
		return core.WrapError("update_row", err)
	}
	data, err := t.coerceRow(values)
	if err != nil {
		return core.WrapError("update_row", err)
	}

	return t.mutate(ctx, "update_row", t.cloneMeta(), false, func(tx *core.Tx) error {
		coll := tx.Collection(t.rowsName())
		rec, found, err := coll.FindOne(ctx, rowField, index)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%d: %w", index, ErrRowNotFound)
		}

		current, _ := rec.Doc[dataField].(map[string]any)
		merged := make(map[string]any, len(current)+len(values))
		for k, v := range current {
			merged[k] = v
		}
		for k := range values {
			if v, ok := data[k]; ok {
				merged[k] = v
			} else {
				delete(merged, k)
			}
		}
		return coll.Update(ctx, rec.ID, rowDoc(index, merged))
	})
}

// DeleteRow removes the row at index and renumbers the rows after it so
// indices stay dense.
func (t *Table) DeleteRow(ctx context.Context, index int) error {
	defer t.lock()()

	if err := t.checkIndex(index); err != nil {
		return core.WrapError("delete_row", err)
	}

	next := t.cloneMeta()
	next.RowCount--

	return t.mutate(ctx, "delete_row", next, false, func(tx *core.Tx) error {
		coll := tx.Collection(t.rowsName())
		n, err := coll.DeleteBy(ctx, rowField, index)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%d: %w", index, ErrRowNotFound)
		}
		_, err = coll.Shift(ctx, rowField, int64(index), -1)
		return err
	})
}

// GetRow returns the row at index
func (t *Table) GetRow(ctx context.Context, index int) (Row, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if err := t.checkIndex(index); err != nil {
		return Row{}, core.WrapError("get_row", err)
	}

	rec, found, err := t.store.Collection(t.rowsName()).FindOne(ctx, rowField, index)
	if err != nil {
		return Row{}, core.WrapError("get_row", err)
	}
	if !found {
		return Row{}, core.WrapError("get_row", fmt.Errorf("%d: %w", index, ErrRowNotFound))
	}
	return t.decodeRow(rec.Doc), nil
}

// GetRows returns a lazy sequence of up to count rows starting at start. A
// negative count reads to the end. Rows are fetched a page at a time and the
// sequence can be ranged over more than once.
func (t *Table) GetRows(ctx context.Context, start, count int) iter.Seq2[Row, error] {
	return func(yield func(Row, error) bool) {
		if start < 0 {
			yield(Row{}, core.WrapError("get_rows", fmt.Errorf("%w: negative start %d", core.ErrInvalidArgument, start)))
			return
		}

		end := math.MaxInt64
		if count >= 0 {
			end = start + count
		}

		for lo := start; lo < end; {
			hi := min(lo+rowPageSize, end)
			page, err := t.readPage(ctx, lo, hi)
			if err != nil {
				yield(Row{}, err)
				return
			}
			for _, row := range page {
				if !yield(row, nil) {
					return
				}
			}
			if len(page) < hi-lo {
				return
			}
			lo = hi
		}
	}
}

// Clear removes every row and column and returns the number of rows removed
func (t *Table) Clear(ctx context.Context) (int, error) {
	defer t.lock()()

	next := t.cloneMeta()
	next.Columns = nil
	next.RowCount = 0

	removed := 0
	err := t.mutate(ctx, "clear", next, true, func(tx *core.Tx) error {
		n, err := tx.Collection(t.rowsName()).DeleteAll(ctx)
		removed = n
		return err
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// readPage holds the read lock only while the page is fetched
func (t *Table) readPage(ctx context.Context, lo, hi int) ([]Row, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	recs, err := t.store.Collection(t.rowsName()).Range(ctx, rowField, int64(lo), int64(hi), 0)
	if err != nil {
		return nil, core.WrapError("get_rows", err)
	}
	rows := make([]Row, len(recs))
	for i, rec := range recs {
		rows[i] = t.decodeRow(rec.Doc)
	}
	return rows, nil
}

func (t *Table) checkIndex(index int) error {
	if index < 0 || index >= t.meta.RowCount {
		return fmt.Errorf("%d (row count %d): %w", index, t.meta.RowCount, ErrRowNotFound)
	}
	return nil
}

// coerceRow validates keys against the schema and converts values to their
// column type. Nil values are kept so callers can tell "set to null" apart.
func (t *Table) coerceRow(values map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(values))
	for name, v := range values {
		col, ok := t.columnLocked(name)
		if !ok {
			return nil, fmt.Errorf("'%s': %w", name, core.ErrColumnNotFound)
		}
		cv, err := coerceValue(col, v)
		if err != nil {
			return nil, err
		}
		if cv != nil {
			out[name] = cv
		}
	}
	return out, nil
}

func (t *Table) decodeRow(doc core.Document) Row {
	var row Row
	if n, ok := core.ToFloat64(doc[rowField]); ok {
		row.Index = int(n)
	}

	data, _ := doc[dataField].(map[string]any)
	row.Data = make(map[string]any, len(data))
	for k, v := range data {
		if col, ok := t.columnLocked(k); ok && col.Type == Numeric {
			if f, ok := core.ToFloat64(v); ok {
				v = f
			}
		}
		row.Data[k] = v
	}
	return row
}

func coerceValue(col ColumnMeta, v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	switch col.Type {
	case Numeric:
		if f, ok := core.ToFloat64(v); ok {
			return f, nil
		}
		return nil, fmt.Errorf("%w: column '%s' is numeric, got %v", core.ErrInvalidArgument, col.Name, v)
	default:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return core.FormatValue(v), nil
	}
}
