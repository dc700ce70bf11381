package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/liliang-cn/sqdata/pkg/core"
	"github.com/liliang-cn/sqdata/pkg/query"
	"github.com/spf13/cobra"
)

var queryCmd = &cobra.Command{
	Use:   "query <dataset>",
	Short: "Filter, sort and page a dataset's rows or nodes",
	Long: `Run a query over a tabular or graph dataset.

Filters use the expression syntax of the query package and are ANDed:
  sqdata query people --where "age >= 30" --where "city = Oslo" --order-by age --desc
  sqdata query web --from home --direction out --max-depth 2 --where "pagerank > 0.1"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		where, _ := flags.GetStringArray("where")
		orderBy, _ := flags.GetString("order-by")
		desc, _ := flags.GetBool("desc")
		skip, _ := flags.GetInt("skip")
		limit, _ := flags.GetInt("limit")
		countOnly, _ := flags.GetBool("count")
		outputJSON, _ := flags.GetBool("json")

		db, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()
		ctx := context.Background()

		d, err := db.Dataset(ctx, args[0])
		if err != nil {
			return err
		}

		var (
			records []map[string]any
			columns []string
			count   int
		)
		switch d.Kind() {
		case core.KindTabular:
			q, err := db.QueryTable(ctx, args[0])
			if err != nil {
				return err
			}
			for _, expr := range where {
				q = q.Filter(expr)
			}
			if sel, _ := flags.GetStringSlice("select"); len(sel) > 0 {
				q = q.Select(sel...)
				columns = sel
			} else {
				t, _ := d.Table()
				for _, c := range t.Columns() {
					columns = append(columns, c.Name)
				}
			}
			if orderBy != "" {
				if desc {
					q = q.OrderByDescending(orderBy)
				} else {
					q = q.OrderBy(orderBy)
				}
			}
			q = q.Skip(skip)
			if limit > 0 {
				q = q.Limit(limit)
			}
			if countOnly {
				count, err = q.Count(ctx)
			} else {
				records, err = q.ToRecords(ctx)
			}
			if err != nil {
				return err
			}

		default:
			q, err := db.QueryGraph(ctx, args[0])
			if err != nil {
				return err
			}
			if from, _ := flags.GetString("from"); from != "" {
				q = q.From(from)
				direction, _ := flags.GetString("direction")
				switch strings.ToLower(direction) {
				case "out":
					q = q.TraverseOut()
				case "in":
					q = q.TraverseIn()
				case "both", "":
					q = q.TraverseOut().TraverseIn()
				default:
					return fmt.Errorf("%w: direction must be out, in or both", core.ErrInvalidArgument)
				}
				if depth, _ := flags.GetInt("max-depth"); depth >= 0 {
					q = q.MaxDepth(depth)
				}
			}
			for _, expr := range where {
				q = q.Filter(expr)
			}
			if orderBy != "" {
				if desc {
					q = q.OrderByDescending(orderBy)
				} else {
					q = q.OrderBy(orderBy)
				}
			}
			q = q.Skip(skip)
			if limit > 0 {
				q = q.Limit(limit)
			}
			columns = []string{query.NodeIDField}
			if countOnly {
				count, err = q.Count(ctx)
			} else {
				records, err = q.ToRecords(ctx)
			}
			if err != nil {
				return err
			}
		}

		if countOnly {
			if outputJSON {
				return printJSON(map[string]int{"count": count})
			}
			fmt.Println(count)
			return nil
		}
		if outputJSON {
			return printJSON(records)
		}
		if len(records) == 0 {
			warningf("No matches")
			return nil
		}
		return writeRecords(os.Stdout, columns, records)
	},
}

func init() {
	flags := queryCmd.Flags()
	flags.StringArrayP("where", "w", nil, "Filter expression (repeatable, ANDed)")
	flags.String("order-by", "", "Sort field")
	flags.Bool("desc", false, "Sort descending")
	flags.Int("skip", 0, "Skip this many matches")
	flags.IntP("limit", "l", 0, "Return at most this many matches")
	flags.StringSlice("select", nil, "Columns to return (tabular)")
	flags.String("from", "", "Start node for traversal (graph)")
	flags.String("direction", "both", "Traversal direction (out/in/both)")
	flags.Int("max-depth", -1, "Maximum traversal depth, -1 for unbounded (graph)")
	flags.Bool("count", false, "Print only the number of matches")
	addJSONFlag(flags)
}
