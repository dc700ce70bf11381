package query

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/liliang-cn/sqdata/pkg/core"
	"github.com/liliang-cn/sqdata/pkg/tabular"
)

// TableQuery is a lazily evaluated query over a table. Builder methods
// return the receiver; nothing is read until a terminal method runs.
type TableQuery struct {
	table   *tabular.Table
	plan    plan
	columns []string
}

// Table starts a query over t
func Table(t *tabular.Table) *TableQuery {
	return &TableQuery{table: t, plan: newPlan()}
}

// Where adds conditions, ANDed with any already present
func (q *TableQuery) Where(conds ...Condition) *TableQuery {
	q.plan.where(conds)
	return q
}

// Filter parses expr with ParseFilter and adds the result
func (q *TableQuery) Filter(expr string) *TableQuery {
	conds, err := ParseFilter(expr)
	if err != nil {
		q.plan.fail(err)
		return q
	}
	return q.Where(conds...)
}

// OrderBy sorts ascending by column
func (q *TableQuery) OrderBy(column string) *TableQuery {
	q.plan.orderBy(column, false)
	return q
}

// OrderByDescending sorts descending by column
func (q *TableQuery) OrderByDescending(column string) *TableQuery {
	q.plan.orderBy(column, true)
	return q
}

// Skip drops the first n matches
func (q *TableQuery) Skip(n int) *TableQuery {
	q.plan.setSkip(n)
	return q
}

// Limit keeps at most n matches
func (q *TableQuery) Limit(n int) *TableQuery {
	q.plan.setLimit(n)
	return q
}

// Page selects the 1-based page number of the given size
func (q *TableQuery) Page(number, size int) *TableQuery {
	q.plan.page(number, size)
	return q
}

// Select projects records onto columns
func (q *TableQuery) Select(columns ...string) *TableQuery {
	q.columns = append(q.columns, columns...)
	return q
}

// WithEpsilon sets the numeric equality tolerance for this query
func (q *TableQuery) WithEpsilon(eps float64) *TableQuery {
	q.plan.setEpsilon(eps)
	return q
}

// Rows returns the matching rows as a lazy sequence
func (q *TableQuery) Rows(ctx context.Context) iter.Seq2[tabular.Row, error] {
	return func(yield func(tabular.Row, error) bool) {
		if err := q.check(); err != nil {
			yield(tabular.Row{}, err)
			return
		}
		for it, err := range q.plan.apply(q.source(ctx)) {
			if err != nil {
				yield(tabular.Row{}, err)
				return
			}
			if !yield(tabular.Row{Index: it.index, Data: it.values}, nil) {
				return
			}
		}
	}
}

// Count returns the number of matching rows after paging
func (q *TableQuery) Count(ctx context.Context) (n int, err error) {
	defer q.observe(time.Now(), &err)
	items, err := q.items(ctx)
	return len(items), err
}

// Any reports whether at least one row matches
func (q *TableQuery) Any(ctx context.Context) (ok bool, err error) {
	defer q.observe(time.Now(), &err)
	if err := q.check(); err != nil {
		return false, err
	}
	for _, err := range q.plan.apply(q.source(ctx)) {
		if err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// ToRecords returns the matching rows projected onto the selected columns
// (all columns by default). Null cells are present with a nil value.
func (q *TableQuery) ToRecords(ctx context.Context) (records []map[string]any, err error) {
	defer q.observe(time.Now(), &err)
	items, err := q.items(ctx)
	if err != nil {
		return nil, err
	}
	cols := q.projection()
	records = make([]map[string]any, len(items))
	for i, it := range items {
		records[i] = project(it, cols)
	}
	return records, nil
}

// ToRowIndices returns the indices of the matching rows
func (q *TableQuery) ToRowIndices(ctx context.Context) (indices []int, err error) {
	defer q.observe(time.Now(), &err)
	items, err := q.items(ctx)
	if err != nil {
		return nil, err
	}
	indices = make([]int, len(items))
	for i, it := range items {
		indices[i] = it.index
	}
	return indices, nil
}

// FirstOrDefault returns the first matching record, or false when none match
func (q *TableQuery) FirstOrDefault(ctx context.Context) (record map[string]any, found bool, err error) {
	defer q.observe(time.Now(), &err)
	if err := q.check(); err != nil {
		return nil, false, err
	}
	for it, err := range q.plan.apply(q.source(ctx)) {
		if err != nil {
			return nil, false, err
		}
		return project(it, q.projection()), true, nil
	}
	return nil, false, nil
}

// Sum adds the numeric values of column over the matching rows
func (q *TableQuery) Sum(ctx context.Context, column string) (float64, error) {
	agg, err := q.aggregate(ctx, column)
	return agg.sum, err
}

// Average returns the mean of column over the matching rows, NaN when empty
func (q *TableQuery) Average(ctx context.Context, column string) (float64, error) {
	agg, err := q.aggregate(ctx, column)
	return agg.mean(), err
}

// Min returns the smallest value of column, NaN when empty
func (q *TableQuery) Min(ctx context.Context, column string) (float64, error) {
	agg, err := q.aggregate(ctx, column)
	return agg.minimum(), err
}

// Max returns the largest value of column, NaN when empty
func (q *TableQuery) Max(ctx context.Context, column string) (float64, error) {
	agg, err := q.aggregate(ctx, column)
	return agg.maximum(), err
}

// Distinct returns the distinct values of column in first-appearance order
func (q *TableQuery) Distinct(ctx context.Context, column string) (values []any, err error) {
	defer q.observe(time.Now(), &err)
	if err := q.requireColumn(column); err != nil {
		return nil, err
	}
	items, err := q.items(ctx)
	if err != nil {
		return nil, err
	}
	all := make([]any, len(items))
	for i, it := range items {
		all[i], _ = it.get(column)
	}
	return distinct(all), nil
}

func (q *TableQuery) aggregate(ctx context.Context, column string) (agg aggregate, err error) {
	defer q.observe(time.Now(), &err)
	if err := q.requireColumn(column); err != nil {
		return agg, err
	}
	items, err := q.items(ctx)
	if err != nil {
		return agg, err
	}
	for _, it := range items {
		v, _ := it.get(column)
		agg.add(v)
	}
	return agg, nil
}

func (q *TableQuery) items(ctx context.Context) ([]item, error) {
	if err := q.check(); err != nil {
		return nil, err
	}
	return collectItems(ctx, q.plan.apply(q.source(ctx)))
}

func (q *TableQuery) source(ctx context.Context) iter.Seq2[item, error] {
	return func(yield func(item, error) bool) {
		for row, err := range q.table.GetRows(ctx, 0, -1) {
			if !yield(item{index: row.Index, values: row.Data}, err) || err != nil {
				return
			}
		}
	}
}

// check reports builder errors and references to unknown columns
func (q *TableQuery) check() error {
	if q.table == nil {
		return fmt.Errorf("%w: query without table", core.ErrInvalidArgument)
	}
	if q.plan.err != nil {
		return q.plan.err
	}
	for _, c := range q.plan.conds {
		if err := q.requireColumn(c.Field); err != nil {
			return err
		}
	}
	if q.plan.sortBy != "" {
		if err := q.requireColumn(q.plan.sortBy); err != nil {
			return err
		}
	}
	for _, c := range q.columns {
		if err := q.requireColumn(c); err != nil {
			return err
		}
	}
	return nil
}

func (q *TableQuery) requireColumn(name string) error {
	if q.table == nil {
		return fmt.Errorf("%w: query without table", core.ErrInvalidArgument)
	}
	if name == RowIndexField {
		return nil
	}
	if _, ok := q.table.Column(name); !ok {
		return fmt.Errorf("'%s': %w", name, core.ErrColumnNotFound)
	}
	return nil
}

func (q *TableQuery) projection() []string {
	if len(q.columns) > 0 {
		return q.columns
	}
	cols := q.table.Columns()
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}

func (q *TableQuery) observe(start time.Time, err *error) {
	if q.table == nil {
		return
	}
	emitQueried(q.table.Events(), q.table.Name(), core.KindTabular, start, *err)
}

func project(it item, fields []string) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		out[f], _ = it.get(f)
	}
	return out
}
