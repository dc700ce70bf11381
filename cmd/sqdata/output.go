package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/liliang-cn/sqdata/pkg/core"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

var (
	red    = color.New(color.FgRed)
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	bold   = color.New(color.Bold)
	dim    = color.New(color.Faint)
)

func printError(err error) {
	_, _ = red.Fprintf(os.Stderr, "✗ %v\n", err)
}

func successf(format string, args ...any) {
	_, _ = green.Printf("✓ "+format+"\n", args...)
}

func warningf(format string, args ...any) {
	_, _ = yellow.Printf("⚠ "+format+"\n", args...)
}

func header(s string) {
	_, _ = bold.Println(s)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// addJSONFlag registers the shared --json output switch
func addJSONFlag(fs *pflag.FlagSet) {
	fs.Bool("json", false, "Output as JSON")
}

// addParamFlag registers the repeatable --param key=value flag
func addParamFlag(fs *pflag.FlagSet) {
	fs.StringArrayP("param", "p", nil, "Algorithm parameter as key=value (repeatable)")
}

// parseParams turns key=value pairs into typed parameters. Values are read as
// YAML scalars or flow lists, so 0.9, true and [a, b] keep their types.
func parseParams(pairs []string) (map[string]any, error) {
	params := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: parameter %q is not key=value", core.ErrInvalidArgument, pair)
		}
		var v any
		if err := yaml.Unmarshal([]byte(raw), &v); err != nil || v == nil {
			v = raw
		}
		params[key] = v
	}
	return params, nil
}

// writeRecords prints records as aligned columns; columns lists the order,
// with remaining keys appended sorted
func writeRecords(w io.Writer, columns []string, records []map[string]any) error {
	seen := make(map[string]bool, len(columns))
	for _, c := range columns {
		seen[c] = true
	}
	var extra []string
	for _, rec := range records {
		for k := range rec {
			if !seen[k] {
				seen[k] = true
				extra = append(extra, k)
			}
		}
	}
	sort.Strings(extra)
	columns = append(append([]string(nil), columns...), extra...)

	tw := tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(columns, "\t"))
	for _, rec := range records {
		cells := make([]string, len(columns))
		for i, c := range columns {
			if v, ok := rec[c]; ok && v != nil {
				cells[i] = core.FormatValue(v)
			} else {
				cells[i] = "null"
			}
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	return tw.Flush()
}

func printMetrics(metrics map[string]any) {
	keys := make([]string, 0, len(metrics))
	for k := range metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("  %s: %s\n", k, core.FormatValue(metrics[k]))
	}
}
