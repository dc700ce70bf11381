package core

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// LogLevel represents the severity level of a log message
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLogLevel parses debug, info, warn or error. Empty means info.
func ParseLogLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("%w: unknown log level %q", ErrInvalidArgument, s)
	}
}

// Logger is the interface for logging operations. keyvals alternate keys and
// values; the store, catalog and datasets attach "component" and "dataset"
// through With.
type Logger interface {
	Debug(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Warn(msg string, keyvals ...any)
	Error(msg string, keyvals ...any)
	With(keyvals ...any) Logger
}

// textLogger writes one line per entry:
//
//	2006-01-02 15:04:05.000 WARN  catalog: idle eviction failed dataset=sales error="..."
//
// The component, when set through With, leads the message. Loggers derived
// with With share the writer's lock so lines never interleave.
type textLogger struct {
	mu        *sync.Mutex
	w         io.Writer
	min       LogLevel
	component string
	keyvals   []any
}

// NewLogger creates a logger writing entries at or above minLevel to w
func NewLogger(w io.Writer, minLevel LogLevel) Logger {
	return &textLogger{mu: new(sync.Mutex), w: w, min: minLevel}
}

// NewStdLogger creates a logger writing to stderr, leaving stdout to command
// output
func NewStdLogger(minLevel LogLevel) Logger {
	return NewLogger(os.Stderr, minLevel)
}

func (l *textLogger) Debug(msg string, keyvals ...any) { l.log(LevelDebug, msg, keyvals) }
func (l *textLogger) Info(msg string, keyvals ...any)  { l.log(LevelInfo, msg, keyvals) }
func (l *textLogger) Warn(msg string, keyvals ...any)  { l.log(LevelWarn, msg, keyvals) }
func (l *textLogger) Error(msg string, keyvals ...any) { l.log(LevelError, msg, keyvals) }

// With returns a logger that adds keyvals to every entry. A "component" key
// replaces the component instead.
func (l *textLogger) With(keyvals ...any) Logger {
	child := *l
	child.keyvals = append([]any(nil), l.keyvals...)
	for i := 0; i < len(keyvals); i += 2 {
		if i+1 < len(keyvals) && keyvals[i] == "component" {
			child.component = fmt.Sprint(keyvals[i+1])
			continue
		}
		child.keyvals = append(child.keyvals, keyvals[i:min(i+2, len(keyvals))]...)
	}
	return &child
}

func (l *textLogger) log(level LogLevel, msg string, keyvals []any) {
	if level < l.min {
		return
	}

	var sb strings.Builder
	sb.WriteString(time.Now().Format("2006-01-02 15:04:05.000"))
	fmt.Fprintf(&sb, " %-5s ", level)
	if l.component != "" {
		sb.WriteString(l.component)
		sb.WriteString(": ")
	}
	sb.WriteString(msg)
	writeKeyvals(&sb, l.keyvals)
	writeKeyvals(&sb, keyvals)
	sb.WriteByte('\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = io.WriteString(l.w, sb.String())
}

// writeKeyvals appends key=value pairs. A dangling key is written with
// value "<missing>".
func writeKeyvals(sb *strings.Builder, keyvals []any) {
	for i := 0; i < len(keyvals); i += 2 {
		var v any = "<missing>"
		if i+1 < len(keyvals) {
			v = keyvals[i+1]
		}
		fmt.Fprintf(sb, " %v=%s", keyvals[i], logValue(v))
	}
}

// logValue renders errors by message and quotes text that would break the
// key=value layout
func logValue(v any) string {
	var s string
	switch x := v.(type) {
	case error:
		s = x.Error()
	case fmt.Stringer:
		s = x.String()
	default:
		s = fmt.Sprint(v)
	}
	if s == "" || strings.ContainsAny(s, " =\"\n\t") {
		return fmt.Sprintf("%q", s)
	}
	return s
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

func (n nopLogger) With(...any) Logger { return n }

// NopLogger returns a logger that discards all messages
func NopLogger() Logger {
	return nopLogger{}
}
