package tabular

import (
	"context"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ColumnStats describes the non-null, non-NaN values of a numeric column
type ColumnStats struct {
	Column string  `json:"column"`
	Count  int     `json:"count"`
	Nulls  int     `json:"nulls"`
	Sum    float64 `json:"sum"`
	Mean   float64 `json:"mean"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Std    float64 `json:"std"`
}

// Sum returns the sum of a numeric column
func (t *Table) Sum(ctx context.Context, column string) (float64, error) {
	s, err := t.Describe(ctx, column)
	return s.Sum, err
}

// Mean returns the arithmetic mean, NaN for a column without values
func (t *Table) Mean(ctx context.Context, column string) (float64, error) {
	s, err := t.Describe(ctx, column)
	return s.Mean, err
}

// Min returns the smallest value, NaN for a column without values
func (t *Table) Min(ctx context.Context, column string) (float64, error) {
	s, err := t.Describe(ctx, column)
	return s.Min, err
}

// Max returns the largest value, NaN for a column without values
func (t *Table) Max(ctx context.Context, column string) (float64, error) {
	s, err := t.Describe(ctx, column)
	return s.Max, err
}

// Std returns the sample standard deviation, NaN below two values
func (t *Table) Std(ctx context.Context, column string) (float64, error) {
	s, err := t.Describe(ctx, column)
	return s.Std, err
}

// Describe computes every statistic in one pass over the column
func (t *Table) Describe(ctx context.Context, column string) (ColumnStats, error) {
	values, err := t.NumericValues(ctx, column)
	if err != nil {
		return ColumnStats{Column: column}, err
	}
	return describe(column, values), nil
}

func describe(column string, values []float64) ColumnStats {
	clean := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			clean = append(clean, v)
		}
	}

	s := ColumnStats{
		Column: column,
		Count:  len(clean),
		Nulls:  len(values) - len(clean),
		Mean:   math.NaN(),
		Min:    math.NaN(),
		Max:    math.NaN(),
		Std:    math.NaN(),
	}
	if len(clean) == 0 {
		return s
	}

	s.Sum = floats.Sum(clean)
	s.Mean = stat.Mean(clean, nil)
	s.Min = floats.Min(clean)
	s.Max = floats.Max(clean)
	if len(clean) > 1 {
		s.Std = stat.StdDev(clean, nil)
	}
	return s
}
