package algorithm

import (
	"context"
	"fmt"
	"math"

	"github.com/liliang-cn/sqdata/pkg/core"
	"github.com/liliang-cn/sqdata/pkg/dataset"
	"github.com/liliang-cn/sqdata/pkg/tabular"
)

// MinMaxNormalize rescales numeric columns into [rangeMin, rangeMax]. Nulls
// and NaN cells are left as they are; a constant column maps to rangeMin.
type MinMaxNormalize struct{}

// NewMinMaxNormalize creates the MinMaxNormalize algorithm
func NewMinMaxNormalize() *MinMaxNormalize {
	return &MinMaxNormalize{}
}

// Descriptor describes MinMaxNormalize
func (m *MinMaxNormalize) Descriptor() Descriptor {
	return Descriptor{
		Name:        "MinMaxNormalize",
		Description: "Rescales numeric columns into a target range",
		Kind:        InputTabular,
		Params: append([]Param{
			{Name: "columns", Description: "Columns to normalize (default: every numeric column)", Type: ParamStrings},
			{Name: "rangeMin", Description: "Lower bound of the target range", Type: ParamNumber, Default: 0.0},
			{Name: "rangeMax", Description: "Upper bound of the target range", Type: ParamNumber, Default: 1.0},
		}, outputParams...),
	}
}

// Run normalizes the selected columns of the output table
func (m *MinMaxNormalize) Run(ctx context.Context, input dataset.Dataset, actx *Context) (Result, error) {
	lo, err := actx.Float("rangeMin", 0)
	if err != nil {
		return Result{}, err
	}
	hi, err := actx.Float("rangeMax", 1)
	if err != nil {
		return Result{}, err
	}
	if math.IsNaN(lo) || math.IsNaN(hi) || lo > hi {
		return Result{}, fmt.Errorf("%w: invalid range [%v, %v]", core.ErrInvalidArgument, lo, hi)
	}

	t, err := input.AsTable()
	if err != nil {
		return Result{}, err
	}
	columns, err := m.selectColumns(t, actx)
	if err != nil {
		return Result{}, err
	}

	metrics := Metrics{"columnsNormalized": 0, "rangeMin": lo, "rangeMax": hi}
	if t.RowCount() == 0 {
		return MetricsOnly(metrics), nil
	}

	out, err := prepareOutput(ctx, input, "MinMaxNormalize", actx)
	if err != nil {
		return Result{}, err
	}
	ot, err := out.AsTable()
	if err != nil {
		return Result{}, err
	}

	for _, name := range columns {
		values, err := ot.ColumnValues(ctx, name)
		if err != nil {
			return Result{}, err
		}
		if err := ot.SetColumnValues(ctx, name, rescale(values, lo, hi)); err != nil {
			return Result{}, err
		}
	}
	metrics["columnsNormalized"] = len(columns)
	return WithOutput(out, metrics), nil
}

// selectColumns returns the numeric columns to rescale. Requested string
// columns pass through untouched; unknown ones are an error.
func (m *MinMaxNormalize) selectColumns(t *tabular.Table, actx *Context) ([]string, error) {
	requested, err := actx.Strings("columns")
	if err != nil {
		return nil, err
	}

	var out []string
	if len(requested) == 0 {
		for _, c := range t.Columns() {
			if c.Type == tabular.Numeric {
				out = append(out, c.Name)
			}
		}
		return out, nil
	}

	for _, name := range requested {
		col, ok := t.Column(name)
		if !ok {
			return nil, fmt.Errorf("'%s': %w", name, core.ErrColumnNotFound)
		}
		if col.Type != tabular.Numeric {
			actx.logger().Debug("skipping non-numeric column", "column", name)
			continue
		}
		out = append(out, name)
	}
	return out, nil
}

func rescale(values []any, lo, hi float64) []any {
	minV, maxV := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		if f, ok := finite(v); ok {
			minV, maxV = math.Min(minV, f), math.Max(maxV, f)
		}
	}

	out := make([]any, len(values))
	for i, v := range values {
		f, ok := finite(v)
		switch {
		case !ok:
			out[i] = v
		case maxV == minV:
			out[i] = lo
		default:
			out[i] = lo + (f-minV)/(maxV-minV)*(hi-lo)
		}
	}
	return out
}

func finite(v any) (float64, bool) {
	f, ok := core.ToFloat64(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
