package algorithm

import (
	"context"
	"fmt"
	"strings"

	"github.com/liliang-cn/sqdata/pkg/core"
	"github.com/liliang-cn/sqdata/pkg/dataset"
)

// Parameters understood by every algorithm that writes a dataset
const (
	ParamOutput  = "output"
	ParamInPlace = "inPlace"
)

var outputParams = []Param{
	{Name: ParamOutput, Description: "Name of the output dataset (default <input>_<algorithm>)", Type: ParamString},
	{Name: ParamInPlace, Description: "Write results into the input dataset", Type: ParamBool, Default: false},
}

// OutputName returns the dataset name an algorithm run writes to
func OutputName(input dataset.Dataset, algorithm string, actx *Context) (string, error) {
	name, err := actx.String(ParamOutput, "")
	if err != nil {
		return "", err
	}
	if name == "" {
		name = input.Name() + "_" + strings.ToLower(algorithm)
	}
	return name, nil
}

// prepareOutput returns the dataset an algorithm writes into: the input
// itself with inPlace, otherwise a fresh copy of it made through the
// context's factory
func prepareOutput(ctx context.Context, input dataset.Dataset, algorithm string, actx *Context) (dataset.Dataset, error) {
	inPlace, err := actx.Bool(ParamInPlace, false)
	if err != nil {
		return dataset.Dataset{}, err
	}
	if inPlace {
		return input, nil
	}
	if actx.Factory == nil {
		return dataset.Dataset{}, fmt.Errorf("%w: no dataset factory for the output, set %s", core.ErrInvalidArgument, ParamInPlace)
	}

	name, err := OutputName(input, algorithm, actx)
	if err != nil {
		return dataset.Dataset{}, err
	}
	if name == input.Name() {
		return input, nil
	}

	var out dataset.Dataset
	switch input.Kind() {
	case core.KindTabular:
		t, err := actx.Factory.NewTabular(ctx, name)
		if err != nil {
			return dataset.Dataset{}, err
		}
		out = dataset.FromTable(t)
	default:
		g, err := actx.Factory.NewGraph(ctx, name)
		if err != nil {
			return dataset.Dataset{}, err
		}
		out = dataset.FromGraph(g)
	}

	if err := input.CopyTo(ctx, out); err != nil {
		return dataset.Dataset{}, err
	}
	return out, nil
}
