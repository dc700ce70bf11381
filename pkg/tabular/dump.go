package tabular

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/liliang-cn/sqdata/internal/encoding"
	"github.com/liliang-cn/sqdata/pkg/core"
)

// DumpFormat tags tabular JSON dumps
const DumpFormat = "sqdata-table-v1"

type dumpColumn struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type dump struct {
	Format  string       `json:"format"`
	Kind    core.Kind    `json:"kind"`
	Name    string       `json:"name"`
	Columns []dumpColumn `json:"columns"`
	Rows    []any        `json:"rows"`
}

// ExportJSON writes columns and rows as one JSON document. Non-finite numbers
// are kept as {"$num": "NaN"} markers.
func (t *Table) ExportJSON(ctx context.Context, w io.Writer) error {
	d := dump{Format: DumpFormat, Kind: core.KindTabular, Name: t.Name(), Rows: []any{}}
	for _, c := range t.Columns() {
		d.Columns = append(d.Columns, dumpColumn{Name: c.Name, Type: c.Type.String()})
	}

	for row, err := range t.GetRows(ctx, 0, -1) {
		if err != nil {
			return core.WrapError("export_json", err)
		}
		d.Rows = append(d.Rows, encoding.WrapValue(row.Data))
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(d); err != nil {
		return core.WrapError("export_json", fmt.Errorf("failed to encode JSON: %w", err))
	}
	return nil
}

// ImportJSON replaces the table's contents with a dump written by ExportJSON
func (t *Table) ImportJSON(ctx context.Context, r io.Reader) error {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var d dump
	if err := dec.Decode(&d); err != nil {
		return core.WrapError("import_json", fmt.Errorf("%w: failed to decode JSON: %v", core.ErrInvalidArgument, err))
	}
	if d.Kind != core.KindTabular {
		return core.WrapError("import_json", fmt.Errorf("%w: dump holds a %s dataset", core.ErrKindMismatch, d.Kind))
	}

	cols := make([]ColumnMeta, len(d.Columns))
	for i, c := range d.Columns {
		typ, err := ParseColumnType(c.Type)
		if err != nil {
			return core.WrapError("import_json", err)
		}
		cols[i] = ColumnMeta{Name: c.Name, Type: typ, Ordinal: i}
	}

	data := make([]map[string]any, len(d.Rows))
	for i, raw := range d.Rows {
		values, _ := encoding.UnwrapValue(raw).(map[string]any)
		row := make(map[string]any, len(values))
		for _, c := range cols {
			v, err := coerceValue(c, values[c.Name])
			if err != nil {
				return core.WrapError("import_json", fmt.Errorf("row %d: %w", i, err))
			}
			if v != nil {
				row[c.Name] = v
			}
		}
		data[i] = row
	}

	return t.replace(ctx, cols, data)
}
