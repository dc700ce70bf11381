package tabular

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/liliang-cn/sqdata/pkg/core"
)

const (
	// InferSampleRows is how many data rows are sampled per column to infer its type
	InferSampleRows = 100

	// NumericThreshold is the share of non-empty samples that must parse as
	// numbers for a column to be inferred numeric
	NumericThreshold = 0.7
)

// CSVOptions controls CSV import
type CSVOptions struct {
	Delimiter rune
	HasHeader bool
	// Overwrite clears existing rows and columns, then loads the file with a
	// single bulk insert
	Overwrite bool
}

// ExportOptions controls CSV export
type ExportOptions struct {
	Delimiter     rune
	IncludeHeader bool
}

// ImportStats summarises an import
type ImportStats struct {
	Rows    int
	Columns []ColumnMeta
}

// DefaultCSVOptions returns comma-delimited, headered, append-mode options
func DefaultCSVOptions() CSVOptions {
	return CSVOptions{Delimiter: ',', HasHeader: true}
}

// ImportFromCSV imports CSV text into the table, appending rows
func (t *Table) ImportFromCSV(ctx context.Context, text string, hasHeader bool, delimiter rune) (ImportStats, error) {
	return t.ImportCSV(ctx, strings.NewReader(text), CSVOptions{Delimiter: delimiter, HasHeader: hasHeader})
}

// ImportCSV reads CSV from r. Column types are inferred from up to
// InferSampleRows data rows. In append mode columns already present keep
// their type and new header columns are added; in overwrite mode the table
// is replaced.
func (t *Table) ImportCSV(ctx context.Context, r io.Reader, opts CSVOptions) (ImportStats, error) {
	header, records, err := readCSV(r, opts)
	if err != nil {
		return ImportStats{}, core.WrapError("import_csv", err)
	}

	inferred := make([]ColumnMeta, len(header))
	for i, name := range header {
		inferred[i] = ColumnMeta{Name: name, Type: inferType(records, i), Ordinal: i}
	}

	if opts.Overwrite {
		data := buildRows(inferred, records)
		if err := t.replace(ctx, inferred, data); err != nil {
			return ImportStats{}, err
		}
		return ImportStats{Rows: len(data), Columns: inferred}, nil
	}

	return t.appendCSV(ctx, inferred, records)
}

// appendCSV adds the header columns the table lacks and the parsed rows in
// one transaction, so a failed import leaves the schema untouched
func (t *Table) appendCSV(ctx context.Context, inferred []ColumnMeta, records [][]string) (ImportStats, error) {
	defer t.lock()()

	next := t.cloneMeta()
	cols := make([]ColumnMeta, len(inferred))
	for i, c := range inferred {
		if existing, ok := t.columnLocked(c.Name); ok {
			c.Type = existing.Type
		} else {
			next.Columns = append(next.Columns, ColumnMeta{Name: c.Name, Type: c.Type, Ordinal: len(next.Columns)})
		}
		cols[i] = c
	}

	base := t.meta.RowCount
	data := buildRows(cols, records)
	docs := make([]core.Document, len(data))
	for i, values := range data {
		docs[i] = rowDoc(base+i, values)
	}
	next.RowCount += len(docs)

	if len(docs) == 0 && len(next.Columns) == len(t.meta.Columns) {
		return ImportStats{Columns: cols}, nil
	}

	err := t.mutate(ctx, "import_csv", next, true, func(tx *core.Tx) error {
		_, err := tx.Collection(t.rowsName()).InsertBulk(ctx, docs)
		return err
	})
	if err != nil {
		return ImportStats{}, err
	}
	return ImportStats{Rows: len(docs), Columns: cols}, nil
}

// ExportToCSV renders the table as CSV text
func (t *Table) ExportToCSV(ctx context.Context, delimiter rune, includeHeader bool) (string, error) {
	var sb strings.Builder
	if err := t.ExportCSV(ctx, &sb, ExportOptions{Delimiter: delimiter, IncludeHeader: includeHeader}); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// ExportCSV writes the table to w. A value is quoted only when it contains
// the delimiter, a quote or a line break; NaN is written as "NaN".
func (t *Table) ExportCSV(ctx context.Context, w io.Writer, opts ExportOptions) error {
	delim := opts.Delimiter
	if delim == 0 {
		delim = ','
	}

	bw := bufio.NewWriter(w)
	cols := t.Columns()

	if opts.IncludeHeader {
		for i, c := range cols {
			if i > 0 {
				_, _ = bw.WriteRune(delim)
			}
			_, _ = bw.WriteString(escapeCSV(c.Name, delim))
		}
		_ = bw.WriteByte('\n')
	}

	for row, err := range t.GetRows(ctx, 0, -1) {
		if err != nil {
			return core.WrapError("export_csv", err)
		}
		for i, c := range cols {
			if i > 0 {
				_, _ = bw.WriteRune(delim)
			}
			_, _ = bw.WriteString(escapeCSV(core.FormatValue(row.Data[c.Name]), delim))
		}
		_ = bw.WriteByte('\n')
	}

	if err := bw.Flush(); err != nil {
		return core.WrapError("export_csv", err)
	}
	return nil
}

// readCSV parses every record and settles the header. Short records are
// padded with empty cells, extra cells are dropped.
func readCSV(r io.Reader, opts CSVOptions) ([]string, [][]string, error) {
	reader := csv.NewReader(r)
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}
	reader.FieldsPerRecord = -1

	var records [][]string
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", core.ErrInvalidArgument, err)
		}
		records = append(records, rec)
	}

	var header []string
	if opts.HasHeader {
		if len(records) == 0 {
			return nil, nil, nil
		}
		header = uniqueNames(records[0])
		records = records[1:]
	} else {
		width := 0
		for _, rec := range records {
			width = max(width, len(rec))
		}
		header = make([]string, width)
		for i := range header {
			header[i] = syntheticName(i)
		}
	}

	for i, rec := range records {
		if len(rec) < len(header) {
			rec = append(rec, make([]string, len(header)-len(rec))...)
		}
		records[i] = rec[:len(header)]
	}
	return header, records, nil
}

func syntheticName(i int) string {
	return "Column" + strconv.Itoa(i+1)
}

// uniqueNames trims header cells, names blank ones and suffixes repeats
func uniqueNames(raw []string) []string {
	taken := make(map[string]bool, len(raw))
	out := make([]string, len(raw))
	for i, name := range raw {
		base := strings.TrimSpace(name)
		if base == "" {
			base = syntheticName(i)
		}
		name = base
		for n := 2; taken[name]; n++ {
			name = base + "_" + strconv.Itoa(n)
		}
		taken[name] = true
		out[i] = name
	}
	return out
}

func inferType(records [][]string, col int) ColumnType {
	nonEmpty, numeric := 0, 0
	for i := 0; i < len(records) && i < InferSampleRows; i++ {
		cell := strings.TrimSpace(records[i][col])
		if cell == "" {
			continue
		}
		nonEmpty++
		if _, err := strconv.ParseFloat(cell, 64); err == nil {
			numeric++
		}
	}
	if nonEmpty == 0 {
		return String
	}
	if float64(numeric)/float64(nonEmpty) >= NumericThreshold {
		return Numeric
	}
	return String
}

func buildRows(cols []ColumnMeta, records [][]string) []map[string]any {
	rows := make([]map[string]any, len(records))
	for i, rec := range records {
		data := make(map[string]any, len(cols))
		for j, c := range cols {
			if v := parseCell(rec[j], c.Type); v != nil {
				data[c.Name] = v
			}
		}
		rows[i] = data
	}
	return rows
}

// parseCell turns an empty cell into null and an unparsable numeric cell into NaN
func parseCell(cell string, typ ColumnType) any {
	if typ == String {
		if cell == "" {
			return nil
		}
		return cell
	}

	trimmed := strings.TrimSpace(cell)
	if trimmed == "" {
		return nil
	}
	f, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return math.NaN()
	}
	return f
}

func escapeCSV(value string, delim rune) string {
	if !strings.ContainsRune(value, delim) && !strings.ContainsAny(value, "\"\r\n") {
		return value
	}
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}
