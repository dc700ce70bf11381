package main

import (
	"context"
	"fmt"

	"github.com/liliang-cn/sqdata/pkg/algorithm"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run <algorithm> <dataset>",
	Short: "Run a registered algorithm over a dataset",
	Long: `Run an algorithm. Parameters are passed as key=value pairs:
  sqdata run PageRank web -p dampingFactor=0.9 -p maxIterations=50
  sqdata run MinMaxNormalize scores -p columns=[a,b] --output scores_scaled`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		params, err := runParams(cmd)
		if err != nil {
			return err
		}
		outputJSON, _ := cmd.Flags().GetBool("json")

		db, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		res, err := db.Run(context.Background(), args[0], args[1], params)
		if err != nil {
			return err
		}
		if outputJSON {
			if err := printJSON(resultView(args[0], res)); err != nil {
				return err
			}
		}
		if !res.Success {
			return runFailed{fmt.Errorf("%s failed after %s: %w", args[0], res.Duration, res.Err)}
		}
		if outputJSON {
			return nil
		}

		successf("%s finished in %s", args[0], res.Duration)
		if res.HasOutput() {
			fmt.Printf("  output: %s\n", res.Output.Name())
		}
		printMetrics(res.Metrics)
		return nil
	},
}

var pipelineCmd = &cobra.Command{
	Use:   "pipeline <file.yaml> <dataset>",
	Short: "Run a YAML pipeline over a dataset",
	Long: `Run the steps of a YAML pipeline in order:

  name: rank-and-group
  steps:
    - algorithm: PageRank
      params: {dampingFactor: 0.85}
    - algorithm: ConnectedComponents`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		params, err := runParams(cmd)
		if err != nil {
			return err
		}
		outputJSON, _ := cmd.Flags().GetBool("json")

		db, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		res, err := db.RunPipelineFile(context.Background(), args[0], args[1], params)
		if err != nil {
			return err
		}

		if outputJSON {
			steps := make([]map[string]any, len(res.Steps))
			for i, s := range res.Steps {
				steps[i] = resultView(s.Name, s.Result)
			}
			if err := printJSON(map[string]any{
				"success":         res.Success(),
				"failedStepIndex": res.FailedStepIndex,
				"finalOutput":     res.FinalOutput.Name(),
				"durationMs":      res.TotalDuration.Milliseconds(),
				"steps":           steps,
			}); err != nil {
				return err
			}
		} else {
			for i, s := range res.Steps {
				if s.Result.Success {
					successf("step %d %s (%s) in %s", i+1, s.Name, s.Algorithm, s.Result.Duration)
				} else {
					_, _ = red.Printf("✗ step %d %s (%s): %v\n", i+1, s.Name, s.Algorithm, s.Result.Err)
				}
				printMetrics(s.Result.Metrics)
			}
			if res.Success() {
				fmt.Printf("final output: %s\n", res.FinalOutput.Name())
			}
		}
		if !res.Success() {
			return runFailed{fmt.Errorf("pipeline failed at step %d: %w", res.FailedStepIndex+1, res.Err())}
		}
		return nil
	},
}

// runParams collects --param pairs plus the --output and --in-place shortcuts
func runParams(cmd *cobra.Command) (map[string]any, error) {
	pairs, _ := cmd.Flags().GetStringArray("param")
	params, err := parseParams(pairs)
	if err != nil {
		return nil, err
	}
	if output, _ := cmd.Flags().GetString("output"); output != "" {
		params[algorithm.ParamOutput] = output
	}
	if inPlace, _ := cmd.Flags().GetBool("in-place"); inPlace {
		params[algorithm.ParamInPlace] = true
	}
	return params, nil
}

func resultView(name string, res algorithm.Result) map[string]any {
	view := map[string]any{
		"algorithm":  name,
		"success":    res.Success,
		"durationMs": res.Duration.Milliseconds(),
		"metrics":    res.Metrics,
	}
	if res.HasOutput() {
		view["output"] = res.Output.Name()
	}
	if res.Err != nil {
		view["error"] = res.Err.Error()
	}
	return view
}

func init() {
	for _, c := range []*cobra.Command{runCmd, pipelineCmd} {
		addParamFlag(c.Flags())
		addJSONFlag(c.Flags())
	}
	runCmd.Flags().String("output", "", "Output dataset name")
	runCmd.Flags().Bool("in-place", false, "Write results into the input dataset")
}
