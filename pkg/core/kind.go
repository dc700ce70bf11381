package core

import (
	"fmt"
	"strings"
)

// Kind discriminates the two dataset shapes
type Kind int

const (
	// KindTabular is a columnar dataset stored as row documents
	KindTabular Kind = iota
	// KindGraph is a directed property graph
	KindGraph
)

// String returns the string representation of the kind
func (k Kind) String() string {
	switch k {
	case KindTabular:
		return "tabular"
	case KindGraph:
		return "graph"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Valid reports whether k is one of the known kinds
func (k Kind) Valid() bool {
	return k == KindTabular || k == KindGraph
}

// ParseKind parses "tabular" or "graph" (case-insensitive)
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "tabular", "table":
		return KindTabular, nil
	case "graph":
		return KindGraph, nil
	default:
		return 0, fmt.Errorf("%w: unknown dataset kind %q", ErrInvalidArgument, s)
	}
}

// MarshalText implements encoding.TextMarshaler
func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidArgument, int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
