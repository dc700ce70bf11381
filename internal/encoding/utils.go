package encoding

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// ErrInvalidDocument is returned when a stored document cannot be decoded
var ErrInvalidDocument = errors.New("invalid document")

// nonFiniteKey marks a float that JSON cannot represent (NaN, +Inf, -Inf).
const nonFiniteKey = "$num"

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether name is safe to use as a SQL identifier
func ValidIdentifier(name string) bool {
	return identifierPattern.MatchString(name)
}

// ValidFieldPath reports whether a dotted document path only contains identifier segments
func ValidFieldPath(path string) bool {
	if path == "" {
		return false
	}
	for _, seg := range strings.Split(path, ".") {
		if !ValidIdentifier(seg) {
			return false
		}
	}
	return true
}

// EncodeDocument encodes a document to its stored JSON form.
// Non-finite floats are wrapped so they survive a round trip.
func EncodeDocument(doc map[string]any) (string, error) {
	if doc == nil {
		return "{}", nil
	}

	data, err := json.Marshal(wrapValue(doc))
	if err != nil {
		return "", fmt.Errorf("failed to encode document: %w", err)
	}

	return string(data), nil
}

// DecodeDocument decodes a stored JSON document. Integral numbers come back as
// int64, all other numbers as float64.
func DecodeDocument(data string) (map[string]any, error) {
	if data == "" {
		return map[string]any{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(data)))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if raw == nil {
		return map[string]any{}, nil
	}

	return unwrapValue(raw).(map[string]any), nil
}

// NormalizeValue converts numeric types to int64/float64 so that values
// compare the same before and after storage.
func NormalizeValue(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint:
		return unsignedValue(uint64(x))
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return unsignedValue(x)
	case float32:
		return float64(x)
	case json.Number:
		return numberValue(x)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = NormalizeValue(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = NormalizeValue(val)
		}
		return out
	default:
		return v
	}
}

// WrapValue replaces non-finite floats with a marker object so that v can be
// JSON encoded
func WrapValue(v any) any {
	return wrapValue(v)
}

// UnwrapValue reverses WrapValue and converts json.Number values
func UnwrapValue(v any) any {
	return unwrapValue(v)
}

func wrapValue(v any) any {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return map[string]any{nonFiniteKey: strconv.FormatFloat(x, 'g', -1, 64)}
		}
		return x
	case float32:
		return wrapValue(float64(x))
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = wrapValue(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = wrapValue(val)
		}
		return out
	case []float64:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = wrapValue(val)
		}
		return out
	default:
		return v
	}
}

func unwrapValue(v any) any {
	switch x := v.(type) {
	case json.Number:
		return numberValue(x)
	case map[string]any:
		if len(x) == 1 {
			if s, ok := x[nonFiniteKey].(string); ok {
				if f, err := strconv.ParseFloat(s, 64); err == nil {
					return f
				}
			}
		}
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = unwrapValue(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = unwrapValue(val)
		}
		return out
	default:
		return v
	}
}

func numberValue(n json.Number) any {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return s
	}
	return f
}

// unsignedValue keeps v as int64 when it fits and falls back to float64
func unsignedValue(v uint64) any {
	if v > math.MaxInt64 {
		return float64(v)
	}
	return int64(v)
}
