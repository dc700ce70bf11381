// Package query builds lazy, AND-only filter/sort/page pipelines over tables
// and graphs.
//
//	adults, err := query.Table(people).
//		Where(query.Gte("age", 18), query.StartsWith("name", "A")).
//		OrderByDescending("age").
//		Limit(10).
//		ToRecords(ctx)
//
// Graph queries can traverse from a start node:
//
//	ids, err := query.Graph(g).From("alice").TraverseOut().MaxDepth(2).ToNodeIds(ctx)
package query
