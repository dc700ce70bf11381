package query

import (
	"fmt"
	"math"
	"strings"

	"github.com/liliang-cn/sqdata/pkg/core"
)

// Epsilon is the default tolerance for numeric equality. Queries copy it when
// built; WithEpsilon overrides it per query.
var Epsilon = 1e-4

const (
	// NodeIDField addresses a graph node's id in conditions and sorting
	NodeIDField = "@id"
	// RowIndexField addresses a table row's index in conditions and sorting
	RowIndexField = "@row"
)

// Operator is a comparison applied by a Condition
type Operator string

const (
	OpEq         Operator = "="
	OpNe         Operator = "!="
	OpGt         Operator = ">"
	OpGte        Operator = ">="
	OpLt         Operator = "<"
	OpLte        Operator = "<="
	OpContains   Operator = "CONTAINS"
	OpStartsWith Operator = "STARTSWITH"
	OpEndsWith   Operator = "ENDSWITH"
	OpIsNull     Operator = "IS NULL"
	OpIsNotNull  Operator = "IS NOT NULL"
	OpBetween    Operator = "BETWEEN"
	OpIn         Operator = "IN"
)

// Condition is one filter predicate. Conditions in a query are ANDed.
type Condition struct {
	Field  string
	Op     Operator
	Value  any
	Values []any
}

// String renders the condition in ParseFilter syntax
func (c Condition) String() string {
	switch c.Op {
	case OpIsNull, OpIsNotNull:
		return c.Field + " " + string(c.Op)
	case OpBetween:
		if len(c.Values) == 2 {
			return fmt.Sprintf("%s BETWEEN %v AND %v", c.Field, c.Values[0], c.Values[1])
		}
	case OpIn:
		parts := make([]string, len(c.Values))
		for i, v := range c.Values {
			parts[i] = core.FormatValue(v)
		}
		return fmt.Sprintf("%s IN (%s)", c.Field, strings.Join(parts, ","))
	case OpContains, OpStartsWith, OpEndsWith:
		return fmt.Sprintf("%s %s %v", c.Field, c.Op, c.Value)
	}
	return fmt.Sprintf("%s%s%v", c.Field, c.Op, c.Value)
}

// Eq matches values equal to v; numbers compare within the query epsilon
func Eq(field string, v any) Condition { return Condition{Field: field, Op: OpEq, Value: v} }

// Ne matches values not equal to v, including nulls
func Ne(field string, v any) Condition { return Condition{Field: field, Op: OpNe, Value: v} }

// Gt matches values greater than v
func Gt(field string, v any) Condition { return Condition{Field: field, Op: OpGt, Value: v} }

// Gte matches values greater than or equal to v
func Gte(field string, v any) Condition { return Condition{Field: field, Op: OpGte, Value: v} }

// Lt matches values less than v
func Lt(field string, v any) Condition { return Condition{Field: field, Op: OpLt, Value: v} }

// Lte matches values less than or equal to v
func Lte(field string, v any) Condition { return Condition{Field: field, Op: OpLte, Value: v} }

// Contains matches values whose text contains s
func Contains(field, s string) Condition { return Condition{Field: field, Op: OpContains, Value: s} }

// StartsWith matches values whose text starts with s
func StartsWith(field, s string) Condition {
	return Condition{Field: field, Op: OpStartsWith, Value: s}
}

// EndsWith matches values whose text ends with s
func EndsWith(field, s string) Condition { return Condition{Field: field, Op: OpEndsWith, Value: s} }

// IsNull matches absent or null values
func IsNull(field string) Condition { return Condition{Field: field, Op: OpIsNull} }

// IsNotNull matches present, non-null values
func IsNotNull(field string) Condition { return Condition{Field: field, Op: OpIsNotNull} }

// Between matches lo <= value <= hi
func Between(field string, lo, hi any) Condition {
	return Condition{Field: field, Op: OpBetween, Values: []any{lo, hi}}
}

// In matches values equal to any of values
func In(field string, values ...any) Condition {
	return Condition{Field: field, Op: OpIn, Values: values}
}

func (c Condition) validate() error {
	if c.Field == "" {
		return fmt.Errorf("%w: condition without field", core.ErrInvalidArgument)
	}
	switch c.Op {
	case OpEq, OpNe, OpIsNull, OpIsNotNull, OpIn:
	case OpGt, OpGte, OpLt, OpLte, OpContains, OpStartsWith, OpEndsWith:
		if c.Value == nil {
			return fmt.Errorf("%w: %s on '%s' needs a value", core.ErrInvalidArgument, c.Op, c.Field)
		}
	case OpBetween:
		if len(c.Values) != 2 || c.Values[0] == nil || c.Values[1] == nil {
			return fmt.Errorf("%w: BETWEEN on '%s' needs two bounds", core.ErrInvalidArgument, c.Field)
		}
	default:
		return fmt.Errorf("%w: unknown operator %q", core.ErrInvalidArgument, c.Op)
	}
	return nil
}

// match evaluates the condition against a value that may be absent
func (c Condition) match(val any, present bool, eps float64) bool {
	null := !present || isNull(val)

	switch c.Op {
	case OpIsNull:
		return null
	case OpIsNotNull:
		return !null
	case OpEq:
		if c.Value == nil {
			return null
		}
		return !null && compare(val, c.Value, eps) == 0
	case OpNe:
		if c.Value == nil {
			return !null
		}
		return null || compare(val, c.Value, eps) != 0
	}

	if null {
		return false
	}

	switch c.Op {
	case OpGt:
		return compare(val, c.Value, eps) > 0
	case OpGte:
		return compare(val, c.Value, eps) >= 0
	case OpLt:
		return compare(val, c.Value, eps) < 0
	case OpLte:
		return compare(val, c.Value, eps) <= 0
	case OpBetween:
		return compare(val, c.Values[0], eps) >= 0 && compare(val, c.Values[1], eps) <= 0
	case OpIn:
		for _, v := range c.Values {
			if v != nil && compare(val, v, eps) == 0 {
				return true
			}
		}
		return false
	case OpContains:
		return strings.Contains(core.FormatValue(val), core.FormatValue(c.Value))
	case OpStartsWith:
		return strings.HasPrefix(core.FormatValue(val), core.FormatValue(c.Value))
	case OpEndsWith:
		return strings.HasSuffix(core.FormatValue(val), core.FormatValue(c.Value))
	default:
		return false
	}
}

// compare orders a against b: numerically when both are numbers (equal
// within eps), otherwise by their text
func compare(a, b any, eps float64) int {
	af, aNum := core.ToFloat64(a)
	bf, bNum := core.ToFloat64(b)
	if aNum && bNum {
		switch {
		case core.FloatEqual(af, bf, eps):
			return 0
		case math.IsNaN(af) || af < bf:
			return -1
		default:
			return 1
		}
	}
	return strings.Compare(core.FormatValue(a), core.FormatValue(b))
}

func isNull(v any) bool {
	return v == nil
}
