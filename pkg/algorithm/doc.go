// Package algorithm runs analytics over tables and graphs.
//
// Algorithms declare the dataset kind they accept and their parameters in a
// Descriptor. Execute checks both before calling Run and turns every failure,
// panics included, into a Result with Err set. Pipelines chain executions,
// feeding each step's output to the next and stopping at the first failure.
//
//	p := algorithm.NewPipeline("rank").
//		Add(algorithm.NewPageRank(), map[string]any{"dampingFactor": 0.9}).
//		Add(algorithm.NewConnectedComponents(), nil)
//	res := p.Run(ctx, dataset.FromGraph(g), algorithm.NewContext(catalog, nil))
package algorithm
