package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/liliang-cn/sqdata/pkg/core"
	"github.com/liliang-cn/sqdata/pkg/dataset"
	"github.com/liliang-cn/sqdata/pkg/graph"
	"github.com/liliang-cn/sqdata/pkg/tabular"
)

// File formats understood by Save and Load
const (
	FormatCSV     = ".csv"
	FormatJSON    = ".json"
	FormatGraphML = ".graphml"
)

// Save writes the dataset to path: CSV for tables with a .csv extension,
// GraphML for graphs with a .graphml extension, otherwise a JSON dump. The
// record remembers the path.
func (c *Catalog) Save(ctx context.Context, name, path string) error {
	d, err := c.resolve(ctx, name)
	if err != nil {
		return core.WrapError("save", err)
	}
	if err := d.Flush(ctx); err != nil {
		return core.WrapError("save", err)
	}

	if err := writeFileAtomic(path, func(f *os.File) error { return exportFile(ctx, d, path, f) }); err != nil {
		return core.WrapError("save", err)
	}

	size, mod, err := statFile(path)
	if err != nil {
		return core.WrapError("save", err)
	}

	c.mu.Lock()
	if e, ok := c.entries[name]; ok {
		e.record.FilePath, e.record.FileSize, e.record.LastModified = path, size, mod
		err = c.updateRecord(ctx, e)
	}
	c.mu.Unlock()
	if err != nil {
		return core.WrapError("save", err)
	}

	c.logger.Info("dataset saved", "dataset", name, "path", path, "bytes", size)
	c.events.EmitDataset(core.EventDatasetSaved, name, d.Kind())
	return nil
}

// Load reads a .csv, .graphml or .json file into a dataset called name, or the file's
// base name when name is empty. An existing dataset of that name is replaced.
func (c *Catalog) Load(ctx context.Context, path, name string) (dataset.Dataset, error) {
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	kind, err := detectKind(path)
	if err != nil {
		return dataset.Dataset{}, core.WrapError("load", err)
	}

	var d dataset.Dataset
	switch kind {
	case core.KindTabular:
		t, err := c.NewTabular(ctx, name)
		if err != nil {
			return dataset.Dataset{}, core.WrapError("load", err)
		}
		d = dataset.FromTable(t)
	default:
		g, err := c.NewGraph(ctx, name)
		if err != nil {
			return dataset.Dataset{}, core.WrapError("load", err)
		}
		d = dataset.FromGraph(g)
	}

	if err := importFile(ctx, d, path); err != nil {
		if _, delErr := c.Delete(ctx, name); delErr != nil {
			c.logger.Warn("failed to remove dataset after load error", "dataset", name, "error", delErr)
		}
		return dataset.Dataset{}, core.WrapError("load", err)
	}

	size, mod, err := statFile(path)
	if err == nil {
		c.mu.Lock()
		if e, ok := c.entries[name]; ok {
			e.record.FilePath, e.record.FileSize, e.record.LastModified = path, size, mod
			err = c.updateRecord(ctx, e)
		}
		c.mu.Unlock()
	}
	if err != nil {
		return dataset.Dataset{}, core.WrapError("load", err)
	}

	c.logger.Info("dataset loaded from file", "dataset", name, "path", path, "kind", kind)
	c.events.EmitDataset(core.EventDatasetLoaded, name, kind)
	return d, nil
}

// detectKind maps .csv to tabular, .graphml to graph and reads the kind
// field of a .json dump
func detectKind(path string) (core.Kind, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case FormatCSV:
		return core.KindTabular, nil
	case FormatGraphML:
		return core.KindGraph, nil
	case FormatJSON:
		f, err := os.Open(path)
		if err != nil {
			return 0, err
		}
		defer func() { _ = f.Close() }()

		var header struct {
			Kind core.Kind `json:"kind"`
		}
		if err := json.NewDecoder(f).Decode(&header); err != nil {
			return 0, fmt.Errorf("%w: %s is not a dataset dump: %v", core.ErrInvalidArgument, path, err)
		}
		return header.Kind, nil
	default:
		return 0, fmt.Errorf("%w: unsupported file type %q", core.ErrInvalidArgument, filepath.Ext(path))
	}
}

func importFile(ctx context.Context, d dataset.Dataset, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	ext := strings.ToLower(filepath.Ext(path))

	return dataset.Match(d,
		func(t *tabular.Table) error {
			switch ext {
			case FormatCSV:
				opts := tabular.DefaultCSVOptions()
				opts.Overwrite = true
				_, err := t.ImportCSV(ctx, bytes.NewReader(raw), opts)
				return err
			case FormatJSON:
				return t.ImportJSON(ctx, bytes.NewReader(raw))
			}
			return fmt.Errorf("%w: unsupported file type %q", core.ErrInvalidArgument, ext)
		},
		func(g *graph.Graph) error {
			switch ext {
			case FormatGraphML:
				return g.ImportGraphML(ctx, bytes.NewReader(raw))
			case FormatJSON:
				return g.ImportJSON(ctx, bytes.NewReader(raw))
			}
			return fmt.Errorf("%w: unsupported file type %q for a graph", core.ErrInvalidArgument, ext)
		},
		func() error { return fmt.Errorf("%w: empty dataset", core.ErrInvalidArgument) })
}

func exportFile(ctx context.Context, d dataset.Dataset, path string, f *os.File) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case FormatCSV:
		t, err := d.AsTable()
		if err != nil {
			return fmt.Errorf("%w: only tables export to CSV", err)
		}
		return t.ExportCSV(ctx, f, tabular.ExportOptions{Delimiter: ',', IncludeHeader: true})
	case FormatGraphML:
		g, err := d.AsGraph()
		if err != nil {
			return fmt.Errorf("%w: only graphs export to GraphML", err)
		}
		return g.ExportGraphML(ctx, f)
	}
	return d.ExportJSON(ctx, f)
}

// writeFileAtomic writes through a temp file in the target directory and
// renames it into place
func writeFileAtomic(path string, write func(f *os.File) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".sqdata-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := write(tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func statFile(path string) (int64, time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, time.Time{}, err
	}
	return info.Size(), info.ModTime().UTC(), nil
}
