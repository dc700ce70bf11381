package query

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/liliang-cn/sqdata/pkg/core"
)

// ParseFilter parses a conjunction of conditions, e.g.
//
//	age>=30 AND city:Oslo AND score BETWEEN 1 AND 5 AND tag IN (a,b)
//
// Supported forms: = : != > >= < <=, CONTAINS, STARTSWITH, ENDSWITH,
// IS NULL, IS NOT NULL, BETWEEN x AND y, IN (...). Only AND is accepted.
func ParseFilter(expr string) ([]Condition, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil
	}
	stripped := strings.ReplaceAll(strings.ToUpper(expr), "IS NOT NULL", "")
	if containsWord(stripped, "OR") || containsWord(stripped, "NOT") {
		return nil, fmt.Errorf("%w: only AND composition is supported: %s", core.ErrInvalidArgument, expr)
	}

	var conds []Condition
	parts := splitAnd(expr)
	for i := 0; i < len(parts); i++ {
		part := strings.TrimSpace(parts[i])
		if hasKeyword(part, " BETWEEN ") {
			if i+1 >= len(parts) {
				return nil, fmt.Errorf("%w: invalid BETWEEN range: %s", core.ErrInvalidArgument, part)
			}
			part += " AND " + parts[i+1]
			i++
		}
		c, err := parseCondition(part)
		if err != nil {
			return nil, err
		}
		conds = append(conds, c)
	}
	return conds, nil
}

func parseCondition(expr string) (Condition, error) {
	expr = strings.TrimSpace(expr)
	upper := strings.ToUpper(expr)

	if field, ok := strings.CutSuffix(upper, " IS NOT NULL"); ok {
		return IsNotNull(strings.TrimSpace(expr[:len(field)])), nil
	}
	if field, ok := strings.CutSuffix(upper, " IS NULL"); ok {
		return IsNull(strings.TrimSpace(expr[:len(field)])), nil
	}

	if idx := strings.Index(upper, " BETWEEN "); idx > 0 {
		field := strings.TrimSpace(expr[:idx])
		rest := expr[idx+len(" BETWEEN "):]
		and := strings.Index(strings.ToUpper(rest), " AND ")
		if and < 0 {
			return Condition{}, fmt.Errorf("%w: invalid BETWEEN range: %s", core.ErrInvalidArgument, rest)
		}
		return Between(field, parseValue(rest[:and]), parseValue(rest[and+len(" AND "):])), nil
	}

	if idx := strings.Index(upper, " IN "); idx > 0 {
		field := strings.TrimSpace(expr[:idx])
		list := strings.TrimSpace(expr[idx+len(" IN "):])
		if !strings.HasPrefix(list, "(") || !strings.HasSuffix(list, ")") {
			return Condition{}, fmt.Errorf("%w: IN values must be in parentheses: %s", core.ErrInvalidArgument, list)
		}
		var values []any
		for _, v := range strings.Split(list[1:len(list)-1], ",") {
			values = append(values, parseValue(v))
		}
		return In(field, values...), nil
	}

	for _, op := range []Operator{OpContains, OpStartsWith, OpEndsWith} {
		kw := " " + string(op) + " "
		if idx := strings.Index(upper, kw); idx > 0 {
			value := parseValue(expr[idx+len(kw):])
			return Condition{Field: strings.TrimSpace(expr[:idx]), Op: op, Value: core.FormatValue(value)}, nil
		}
	}

	operators := []struct {
		token string
		op    Operator
	}{
		{">=", OpGte},
		{"<=", OpLte},
		{"!=", OpNe},
		{">", OpGt},
		{"<", OpLt},
		{"=", OpEq},
		{":", OpEq},
	}
	for _, o := range operators {
		if idx := strings.Index(expr, o.token); idx > 0 {
			field := strings.TrimSpace(expr[:idx])
			return Condition{Field: field, Op: o.op, Value: parseValue(expr[idx+len(o.token):])}, nil
		}
	}

	return Condition{}, fmt.Errorf("%w: invalid filter expression: %s", core.ErrInvalidArgument, expr)
}

// parseValue reads a quoted string, bool, null, number or bare word
func parseValue(s string) any {
	s = strings.TrimSpace(s)

	if len(s) >= 2 && (s[0] == '\'' && s[len(s)-1] == '\'' || s[0] == '"' && s[len(s)-1] == '"') {
		return s[1 : len(s)-1]
	}
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	case "null":
		return nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

func splitAnd(expr string) []string {
	var parts []string
	upper := strings.ToUpper(expr)
	for {
		idx := strings.Index(upper, " AND ")
		if idx < 0 {
			return append(parts, expr)
		}
		parts = append(parts, expr[:idx])
		expr, upper = expr[idx+5:], upper[idx+5:]
	}
}

func hasKeyword(s, kw string) bool {
	return strings.Contains(strings.ToUpper(s), kw)
}

func containsWord(s, word string) bool {
	for _, f := range strings.Fields(s) {
		if f == word {
			return true
		}
	}
	return false
}
