package tabular

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/liliang-cn/sqdata/pkg/core"
)

// AddNumericColumn adds a numeric column. values must be empty or match the
// row count; an empty table grows to len(values) rows.
func (t *Table) AddNumericColumn(ctx context.Context, name string, values []float64) error {
	vals := make([]any, len(values))
	for i, v := range values {
		vals[i] = v
	}
	return t.AddColumn(ctx, name, Numeric, vals)
}

// AddStringColumn adds a string column. Same length rules as AddNumericColumn.
func (t *Table) AddStringColumn(ctx context.Context, name string, values []string) error {
	vals := make([]any, len(values))
	for i, v := range values {
		vals[i] = v
	}
	return t.AddColumn(ctx, name, String, vals)
}

// AddColumn adds a column of the given type. A nil entry is a null cell.
func (t *Table) AddColumn(ctx context.Context, name string, typ ColumnType, values []any) error {
	defer t.lock()()

	if strings.TrimSpace(name) == "" {
		return core.WrapError("add_column", fmt.Errorf("%w: column name cannot be empty", core.ErrInvalidName))
	}
	if _, exists := t.columnLocked(name); exists {
		return core.WrapError("add_column", fmt.Errorf("column '%s' %w", name, core.ErrAlreadyExists))
	}

	rowCount := t.meta.RowCount
	if rowCount > 0 && len(values) != rowCount {
		return core.WrapError("add_column", fmt.Errorf("%w: column '%s' has %d values, table has %d rows",
			core.ErrLengthMismatch, name, len(values), rowCount))
	}

	col := ColumnMeta{Name: name, Type: typ, Ordinal: len(t.meta.Columns)}
	coerced := make([]any, len(values))
	for i, v := range values {
		cv, err := coerceValue(col, v)
		if err != nil {
			return core.WrapError("add_column", fmt.Errorf("row %d: %w", i, err))
		}
		coerced[i] = cv
	}

	next := t.cloneMeta()
	next.Columns = append(next.Columns, col)

	if rowCount == 0 {
		next.RowCount = len(coerced)
		docs := make([]core.Document, len(coerced))
		for i, v := range coerced {
			docs[i] = rowDoc(i, map[string]any{name: v})
		}
		return t.mutate(ctx, "add_column", next, true, func(tx *core.Tx) error {
			_, err := tx.Collection(t.rowsName()).InsertBulk(ctx, docs)
			return err
		})
	}

	return t.mutate(ctx, "add_column", next, true, func(tx *core.Tx) error {
		return t.rewriteColumn(ctx, tx, func(index int, data map[string]any) {
			if v := coerced[index]; v != nil {
				data[name] = v
			}
		})
	})
}

// RemoveColumn drops a column and its values from every row
func (t *Table) RemoveColumn(ctx context.Context, name string) error {
	defer t.lock()()

	if _, ok := t.columnLocked(name); !ok {
		return core.WrapError("remove_column", fmt.Errorf("'%s': %w", name, core.ErrColumnNotFound))
	}

	next := t.cloneMeta()
	next.Columns = next.Columns[:0]
	for _, c := range t.meta.Columns {
		if c.Name != name {
			c.Ordinal = len(next.Columns)
			next.Columns = append(next.Columns, c)
		}
	}

	return t.mutate(ctx, "remove_column", next, true, func(tx *core.Tx) error {
		return t.rewriteColumn(ctx, tx, func(_ int, data map[string]any) {
			delete(data, name)
		})
	})
}

// SetColumnValues replaces every value of an existing column
func (t *Table) SetColumnValues(ctx context.Context, name string, values []any) error {
	defer t.lock()()

	col, ok := t.columnLocked(name)
	if !ok {
		return core.WrapError("set_column", fmt.Errorf("'%s': %w", name, core.ErrColumnNotFound))
	}
	if len(values) != t.meta.RowCount {
		return core.WrapError("set_column", fmt.Errorf("%w: column '%s' has %d values, table has %d rows",
			core.ErrLengthMismatch, name, len(values), t.meta.RowCount))
	}

	coerced := make([]any, len(values))
	for i, v := range values {
		cv, err := coerceValue(col, v)
		if err != nil {
			return core.WrapError("set_column", fmt.Errorf("row %d: %w", i, err))
		}
		coerced[i] = cv
	}

	return t.mutate(ctx, "set_column", t.cloneMeta(), true, func(tx *core.Tx) error {
		return t.rewriteColumn(ctx, tx, func(index int, data map[string]any) {
			if v := coerced[index]; v != nil {
				data[name] = v
			} else {
				delete(data, name)
			}
		})
	})
}

// ColumnValues returns a column's values in row order, nil for null cells
func (t *Table) ColumnValues(ctx context.Context, name string) ([]any, error) {
	if _, ok := t.Column(name); !ok {
		return nil, core.WrapError("column_values", fmt.Errorf("'%s': %w", name, core.ErrColumnNotFound))
	}

	values := make([]any, 0, t.RowCount())
	for row, err := range t.GetRows(ctx, 0, -1) {
		if err != nil {
			return nil, err
		}
		values = append(values, row.Data[name])
	}
	return values, nil
}

// NumericValues returns a numeric column as float64, NaN for null cells
func (t *Table) NumericValues(ctx context.Context, name string) ([]float64, error) {
	col, ok := t.Column(name)
	if !ok {
		return nil, core.WrapError("numeric_values", fmt.Errorf("'%s': %w", name, core.ErrColumnNotFound))
	}
	if col.Type != Numeric {
		return nil, core.WrapError("numeric_values", fmt.Errorf("%w: column '%s' is %s", core.ErrInvalidArgument, name, col.Type))
	}

	values, err := t.ColumnValues(ctx, name)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(values))
	for i, v := range values {
		f, ok := core.ToFloat64(v)
		if !ok {
			f = math.NaN()
		}
		out[i] = f
	}
	return out, nil
}

// rewriteColumn loads every row inside tx, applies fn and writes it back
func (t *Table) rewriteColumn(ctx context.Context, tx *core.Tx, fn func(index int, data map[string]any)) error {
	coll := tx.Collection(t.rowsName())
	recs, err := coll.Range(ctx, rowField, 0, math.MaxInt64, 0)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		row := t.decodeRow(rec.Doc)
		if row.Index < 0 || row.Index >= t.meta.RowCount {
			continue
		}
		fn(row.Index, row.Data)
		if err := coll.Update(ctx, rec.ID, rowDoc(row.Index, row.Data)); err != nil {
			return err
		}
	}
	return nil
}
