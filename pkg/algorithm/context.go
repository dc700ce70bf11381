package algorithm

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/liliang-cn/sqdata/pkg/core"
	"github.com/liliang-cn/sqdata/pkg/dataset"
)

// Context carries parameters and collaborators into an algorithm run
type Context struct {
	params map[string]any

	// Factory creates output datasets; required unless inPlace is set
	Factory dataset.Factory
	// Logger defaults to a no-op logger
	Logger core.Logger
	// Events receives algorithm notifications; defaults to the input's emitter
	Events *core.Emitter
}

// NewContext creates a context over a copy of params
func NewContext(factory dataset.Factory, params map[string]any) *Context {
	return &Context{params: core.CloneProperties(params), Factory: factory}
}

// derive returns a copy of c with extra params layered on top
func (c *Context) derive(extra map[string]any) *Context {
	out := &Context{params: make(map[string]any)}
	if c != nil {
		for k, v := range c.params {
			out.params[k] = v
		}
		out.Factory, out.Logger, out.Events = c.Factory, c.Logger, c.Events
	}
	for k, v := range extra {
		out.params[k] = v
	}
	return out
}

// Set sets a parameter and returns c
func (c *Context) Set(name string, value any) *Context {
	if c.params == nil {
		c.params = make(map[string]any)
	}
	c.params[name] = value
	return c
}

// Has reports whether a non-nil parameter is set
func (c *Context) Has(name string) bool {
	if c == nil {
		return false
	}
	v, ok := c.params[name]
	return ok && v != nil
}

// Value returns the raw parameter value
func (c *Context) Value(name string) (any, bool) {
	if !c.Has(name) {
		return nil, false
	}
	return c.params[name], true
}

// Params returns a copy of all parameters
func (c *Context) Params() map[string]any {
	if c == nil {
		return map[string]any{}
	}
	return core.CloneProperties(c.params)
}

// Float returns a numeric parameter, or def when unset
func (c *Context) Float(name string, def float64) (float64, error) {
	v, ok := c.Value(name)
	if !ok {
		return def, nil
	}
	return toNumber(name, v)
}

// Int returns an integral parameter, or def when unset
func (c *Context) Int(name string, def int) (int, error) {
	v, ok := c.Value(name)
	if !ok {
		return def, nil
	}
	return toInt(name, v)
}

// Bool returns a boolean parameter, or def when unset
func (c *Context) Bool(name string, def bool) (bool, error) {
	v, ok := c.Value(name)
	if !ok {
		return def, nil
	}
	return toBool(name, v)
}

// String returns a string parameter, or def when unset
func (c *Context) String(name, def string) (string, error) {
	v, ok := c.Value(name)
	if !ok {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", paramError(name, "string", v)
	}
	return s, nil
}

// Strings returns a list parameter. A single string is split on commas.
func (c *Context) Strings(name string) ([]string, error) {
	v, ok := c.Value(name)
	if !ok {
		return nil, nil
	}
	return toStrings(name, v)
}

func (c *Context) logger() core.Logger {
	if c == nil || c.Logger == nil {
		return core.NopLogger()
	}
	return c.Logger
}

// checkType reports whether v can be read as t
func checkType(name string, t ParamType, v any) error {
	var err error
	switch t {
	case ParamNumber:
		_, err = toNumber(name, v)
	case ParamInt:
		_, err = toInt(name, v)
	case ParamBool:
		_, err = toBool(name, v)
	case ParamString:
		if _, ok := v.(string); !ok {
			err = paramError(name, "string", v)
		}
	case ParamStrings:
		_, err = toStrings(name, v)
	}
	return err
}

func toNumber(name string, v any) (float64, error) {
	if _, isBool := v.(bool); isBool {
		return 0, paramError(name, "number", v)
	}
	f, ok := core.ToFloat64(v)
	if !ok {
		return 0, paramError(name, "number", v)
	}
	return f, nil
}

func toInt(name string, v any) (int, error) {
	f, err := toNumber(name, v)
	if err != nil {
		return 0, paramError(name, "integer", v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, paramError(name, "integer", v)
	}
	return int(f), nil
}

func toBool(name string, v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		if err == nil {
			return parsed, nil
		}
	}
	return false, paramError(name, "bool", v)
}

func toStrings(name string, v any) ([]string, error) {
	switch list := v.(type) {
	case []string:
		return append([]string(nil), list...), nil
	case string:
		var out []string
		for _, part := range strings.Split(list, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out, nil
	case []any:
		out := make([]string, len(list))
		for i, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, paramError(name, "list of strings", v)
			}
			out[i] = s
		}
		return out, nil
	default:
		return nil, paramError(name, "list of strings", v)
	}
}

func paramError(name, want string, got any) error {
	return fmt.Errorf("%w: parameter '%s' must be a %s, got %T", core.ErrInvalidArgument, name, want, got)
}
