package algorithm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/liliang-cn/sqdata/pkg/core"
	"github.com/liliang-cn/sqdata/pkg/dataset"
)

// InputKind declares which dataset kinds an algorithm accepts
type InputKind int

const (
	InputTabular InputKind = iota
	InputGraph
	InputAny
)

// String returns the string representation of the input kind
func (k InputKind) String() string {
	switch k {
	case InputTabular:
		return "tabular"
	case InputGraph:
		return "graph"
	case InputAny:
		return "any"
	default:
		return fmt.Sprintf("input(%d)", int(k))
	}
}

// Accepts reports whether a dataset of kind can be an input
func (k InputKind) Accepts(kind core.Kind) bool {
	switch k {
	case InputAny:
		return kind.Valid()
	case InputTabular:
		return kind == core.KindTabular
	case InputGraph:
		return kind == core.KindGraph
	default:
		return false
	}
}

// ParseInputKind parses tabular, graph or any
func ParseInputKind(s string) (InputKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "tabular", "table":
		return InputTabular, nil
	case "graph":
		return InputGraph, nil
	case "any", "":
		return InputAny, nil
	default:
		return InputAny, fmt.Errorf("%w: unknown input kind %q", core.ErrInvalidArgument, s)
	}
}

// ParamType is the expected type of a parameter value
type ParamType int

const (
	ParamNumber ParamType = iota
	ParamInt
	ParamBool
	ParamString
	ParamStrings
)

// String returns the string representation of the parameter type
func (t ParamType) String() string {
	switch t {
	case ParamNumber:
		return "number"
	case ParamInt:
		return "int"
	case ParamBool:
		return "bool"
	case ParamString:
		return "string"
	case ParamStrings:
		return "[]string"
	default:
		return "unknown"
	}
}

// Param describes one algorithm parameter
type Param struct {
	Name        string    `json:"name" yaml:"name"`
	Description string    `json:"description" yaml:"description"`
	Type        ParamType `json:"type" yaml:"type"`
	Required    bool      `json:"required" yaml:"required"`
	Default     any       `json:"default,omitempty" yaml:"default,omitempty"`
}

// Descriptor is the registry entry of an algorithm
type Descriptor struct {
	Name        string    `json:"name" yaml:"name"`
	Description string    `json:"description" yaml:"description"`
	Kind        InputKind `json:"kind" yaml:"kind"`
	Params      []Param   `json:"params" yaml:"params"`
}

// Param returns the descriptor of the named parameter
func (d Descriptor) Param(name string) (Param, bool) {
	for _, p := range d.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

// Algorithm is implemented by every analytics algorithm. Run is only called
// through Execute, which has already validated the input kind and the
// parameters.
type Algorithm interface {
	Descriptor() Descriptor
	Run(ctx context.Context, input dataset.Dataset, actx *Context) (Result, error)
}

// Metrics maps metric names to values
type Metrics map[string]any

// Result is the outcome of one algorithm execution. A zero Output means the
// run produced metrics only.
type Result struct {
	Success  bool
	Output   dataset.Dataset
	Metrics  Metrics
	Err      error
	Duration time.Duration
}

// HasOutput reports whether the run produced a dataset
func (r Result) HasOutput() bool {
	return !r.Output.IsZero()
}

// MetricsOnly builds a successful result without an output dataset
func MetricsOnly(m Metrics) Result {
	return Result{Success: true, Metrics: m}
}

// WithOutput builds a successful result with an output dataset
func WithOutput(out dataset.Dataset, m Metrics) Result {
	return Result{Success: true, Output: out, Metrics: m}
}
