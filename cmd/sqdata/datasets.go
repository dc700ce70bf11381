package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/liliang-cn/sqdata/pkg/catalog"
	"github.com/liliang-cn/sqdata/pkg/core"
	"github.com/liliang-cn/sqdata/pkg/graph"
	"github.com/liliang-cn/sqdata/pkg/tabular"
	"github.com/spf13/cobra"
)

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import a .csv or .json file as a dataset",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")

		db, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		d, err := db.Import(context.Background(), args[0], name)
		if err != nil {
			return fmt.Errorf("failed to import %s: %w", args[0], err)
		}
		successf("Imported %s dataset '%s' (%d %s)", d.Kind(), d.Name(), d.Size(), sizeUnit(d.Kind()))
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <dataset> <file>",
	Short: "Export a dataset to a .csv or .json file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		if err := db.Export(context.Background(), args[0], args[1]); err != nil {
			return fmt.Errorf("failed to export '%s': %w", args[0], err)
		}
		successf("Exported '%s' to %s", args[0], args[1])
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List datasets, or algorithms with --algorithms",
	RunE: func(cmd *cobra.Command, args []string) error {
		outputJSON, _ := cmd.Flags().GetBool("json")
		algorithms, _ := cmd.Flags().GetBool("algorithms")

		db, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		if algorithms {
			descs := db.Algorithms().List()
			if outputJSON {
				return printJSON(descs)
			}
			for _, d := range descs {
				_, _ = bold.Printf("%s", d.Name)
				fmt.Printf(" (%s) %s\n", d.Kind, d.Description)
				for _, p := range d.Params {
					req := ""
					if p.Required {
						req = " required"
					}
					fmt.Printf("    %s %s%s: %s\n", p.Name, p.Type, req, dim.Sprint(p.Description))
				}
			}
			return nil
		}

		records := db.Catalog().Records()
		if outputJSON {
			return printJSON(records)
		}
		if len(records) == 0 {
			warningf("No datasets in %s", db.Config().Path)
			return nil
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tKIND\tLOADED\tFILE")
		for _, r := range records {
			fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", r.Name, r.Kind, r.IsLoaded, r.FilePath)
		}
		return tw.Flush()
	},
}

// datasetInfo is the info command's view of one dataset
type datasetInfo struct {
	Record  catalog.Record    `json:"record"`
	Tabular *tabular.Metadata `json:"tabular,omitempty"`
	Graph   *graph.Metadata   `json:"graph,omitempty"`
}

var infoCmd = &cobra.Command{
	Use:   "info <dataset>",
	Short: "Show a dataset's catalog record and metadata",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		outputJSON, _ := cmd.Flags().GetBool("json")

		db, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		d, err := db.Dataset(context.Background(), args[0])
		if err != nil {
			return err
		}
		rec, _ := db.Catalog().GetMetadata(args[0])
		info := datasetInfo{Record: rec}
		if t, ok := d.Table(); ok {
			meta := t.Metadata()
			info.Tabular = &meta
		}
		if g, ok := d.Graph(); ok {
			meta := g.Metadata()
			info.Graph = &meta
		}

		if outputJSON {
			return printJSON(info)
		}
		header(fmt.Sprintf("Dataset %s", rec.Name))
		fmt.Printf("  Kind: %s\n", rec.Kind)
		if rec.FilePath != "" {
			fmt.Printf("  File: %s (%d bytes)\n", rec.FilePath, rec.FileSize)
		}
		if info.Tabular != nil {
			fmt.Printf("  Rows: %d\n", info.Tabular.RowCount)
			fmt.Printf("  Modified: %s\n", info.Tabular.ModifiedAt.Format("2006-01-02 15:04:05"))
			fmt.Println("  Columns:")
			for _, c := range info.Tabular.Columns {
				fmt.Printf("    %s (%s)\n", c.Name, c.Type)
			}
		}
		if info.Graph != nil {
			fmt.Printf("  Nodes: %d\n", info.Graph.NodeCount)
			fmt.Printf("  Edges: %d\n", info.Graph.EdgeCount)
			fmt.Printf("  Modified: %s\n", info.Graph.ModifiedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats [dataset]",
	Short: "Show store statistics, or column/graph statistics of a dataset",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		outputJSON, _ := cmd.Flags().GetBool("json")

		db, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()
		ctx := context.Background()

		if len(args) == 0 {
			stats, err := db.Stats(ctx)
			if err != nil {
				return fmt.Errorf("failed to get stats: %w", err)
			}
			if outputJSON {
				return printJSON(stats)
			}
			header("Store Statistics:")
			fmt.Printf("  Path: %s\n", stats.Path)
			fmt.Printf("  Collections: %d\n", stats.Collections)
			fmt.Printf("  Datasets: %d\n", len(db.Catalog().Names()))
			fmt.Printf("  Size: %d bytes (%d pages of %d)\n", stats.Size, stats.PageCount, stats.PageSize)
			return nil
		}

		d, err := db.Dataset(ctx, args[0])
		if err != nil {
			return err
		}
		if g, ok := d.Graph(); ok {
			stats, err := g.Stats(ctx)
			if err != nil {
				return fmt.Errorf("failed to get stats: %w", err)
			}
			if outputJSON {
				return printJSON(stats)
			}
			header("Graph Statistics:")
			fmt.Printf("  Node Count: %d\n", stats.NodeCount)
			fmt.Printf("  Edge Count: %d\n", stats.EdgeCount)
			fmt.Printf("  Average Out-Degree: %.2f\n", stats.AverageDegree)
			fmt.Printf("  Density: %.4f\n", stats.Density)
			fmt.Printf("  Max Out/In Degree: %d/%d\n", stats.MaxOutDegree, stats.MaxInDegree)
			return nil
		}

		t, _ := d.Table()
		var all []tabular.ColumnStats
		for _, c := range t.Columns() {
			if c.Type != tabular.Numeric {
				continue
			}
			s, err := t.Describe(ctx, c.Name)
			if err != nil {
				return fmt.Errorf("failed to describe '%s': %w", c.Name, err)
			}
			all = append(all, s)
		}
		if outputJSON {
			return printJSON(all)
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
		fmt.Fprintln(tw, "COLUMN\tCOUNT\tNULLS\tMEAN\tSTD\tMIN\tMAX\tSUM")
		for _, s := range all {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%.4g\t%.4g\t%.4g\t%.4g\t%.4g\n",
				s.Column, s.Count, s.Nulls, s.Mean, s.Std, s.Min, s.Max, s.Sum)
		}
		return tw.Flush()
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <dataset>",
	Short: "Delete a dataset and its catalog record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		deleted, err := db.Catalog().Delete(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("failed to delete '%s': %w", args[0], err)
		}
		if !deleted {
			return fmt.Errorf("dataset '%s': %w", args[0], core.ErrDatasetNotFound)
		}
		successf("Deleted '%s'", args[0])
		return nil
	},
}

var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Flush dataset metadata and reclaim free space",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		ctx := context.Background()
		before, err := db.Stats(ctx)
		if err != nil {
			return err
		}
		if err := db.Compact(ctx); err != nil {
			return fmt.Errorf("failed to compact: %w", err)
		}
		after, err := db.Stats(ctx)
		if err != nil {
			return err
		}
		successf("Compacted %s: %d -> %d bytes", after.Path, before.Size, after.Size)
		return nil
	},
}

func sizeUnit(kind core.Kind) string {
	if kind == core.KindGraph {
		return "nodes"
	}
	return "rows"
}

func init() {
	importCmd.Flags().String("name", "", "Dataset name (default: file base name)")

	addJSONFlag(listCmd.Flags())
	listCmd.Flags().Bool("algorithms", false, "List registered algorithms instead of datasets")

	addJSONFlag(infoCmd.Flags())
	addJSONFlag(statsCmd.Flags())
}
