package algorithm

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/liliang-cn/sqdata/pkg/core"
	"github.com/liliang-cn/sqdata/pkg/dataset"
)

// Step is one algorithm in a pipeline. Params are layered over the
// pipeline context's parameters for this step only.
type Step struct {
	Name      string
	Algorithm Algorithm
	Params    map[string]any
}

// StepResult is the result of one executed step
type StepResult struct {
	Name      string
	Algorithm string
	Result
}

// PipelineResult is the outcome of a pipeline run
type PipelineResult struct {
	Steps           []StepResult
	FinalOutput     dataset.Dataset
	FailedStepIndex int
	TotalDuration   time.Duration
}

// Success reports whether every step succeeded
func (r PipelineResult) Success() bool {
	return r.FailedStepIndex < 0
}

// Err returns the error of the failed step, if any
func (r PipelineResult) Err() error {
	if r.FailedStepIndex < 0 || r.FailedStepIndex >= len(r.Steps) {
		return nil
	}
	return r.Steps[r.FailedStepIndex].Err
}

// AllMetrics flattens the metrics of every executed step into one map keyed
// "<step>.<metric>"
func (r PipelineResult) AllMetrics() map[string]any {
	out := make(map[string]any)
	for _, s := range r.Steps {
		for k, v := range s.Metrics {
			out[s.Name+"."+k] = v
		}
	}
	return out
}

// Pipeline chains algorithms over one current dataset. A step's output
// becomes the next step's input; a metrics-only step passes its input on.
type Pipeline struct {
	Name  string
	steps []Step
}

// NewPipeline creates an empty pipeline
func NewPipeline(name string) *Pipeline {
	return &Pipeline{Name: name}
}

// Add appends alg as a step named after the algorithm
func (p *Pipeline) Add(alg Algorithm, params map[string]any) *Pipeline {
	name := ""
	if alg != nil {
		name = alg.Descriptor().Name
	}
	return p.AddNamed(name, alg, params)
}

// AddNamed appends alg as a step with an explicit name. Repeated names get
// a numeric suffix so their metrics stay apart.
func (p *Pipeline) AddNamed(name string, alg Algorithm, params map[string]any) *Pipeline {
	p.steps = append(p.steps, Step{Name: p.uniqueName(name), Algorithm: alg, Params: params})
	return p
}

// Steps returns the pipeline's steps
func (p *Pipeline) Steps() []Step {
	return append([]Step(nil), p.steps...)
}

// Len returns the number of steps
func (p *Pipeline) Len() int {
	return len(p.steps)
}

// Run executes the steps in order, stopping at the first failure. Datasets
// written by steps that already ran are kept.
func (p *Pipeline) Run(ctx context.Context, input dataset.Dataset, actx *Context) PipelineResult {
	start := time.Now()
	result := PipelineResult{FailedStepIndex: -1, FinalOutput: input}

	base := actx.derive(nil)
	events := base.Events
	if events == nil {
		events = input.Events()
		base.Events = events
	}
	logger := base.logger().With("pipeline", p.Name)

	current := input
	for i, step := range p.steps {
		if err := ctx.Err(); err != nil {
			result.Steps = append(result.Steps, StepResult{Name: step.Name, Result: Result{Metrics: Metrics{}, Err: err}})
			result.FailedStepIndex = i
			break
		}

		res := Execute(ctx, step.Algorithm, current, base.derive(step.Params))
		algName := ""
		if step.Algorithm != nil {
			algName = step.Algorithm.Descriptor().Name
		}
		result.Steps = append(result.Steps, StepResult{Name: step.Name, Algorithm: algName, Result: res})

		if !res.Success {
			result.FailedStepIndex = i
			logger.Warn("pipeline step failed", "step", step.Name, "index", i, "error", res.Err)
			break
		}
		if res.HasOutput() {
			current = res.Output
		}
	}

	result.FinalOutput = current
	result.TotalDuration = time.Since(start)

	observePipeline(result.Success(), result.TotalDuration)
	events.Emit(core.Event{
		Type:     core.EventPipelineCompleted,
		Name:     p.Name,
		Dataset:  input.Name(),
		Kind:     input.Kind(),
		Duration: result.TotalDuration,
		Success:  result.Success(),
		Err:      result.Err(),
	})
	return result
}

func (p *Pipeline) uniqueName(name string) string {
	if name == "" {
		name = fmt.Sprintf("step%d", len(p.steps)+1)
	}
	taken := func(n string) bool {
		for _, s := range p.steps {
			if s.Name == n {
				return true
			}
		}
		return false
	}
	if !taken(name) {
		return name
	}
	for i := 2; ; i++ {
		if candidate := fmt.Sprintf("%s_%d", name, i); !taken(candidate) {
			return candidate
		}
	}
}

// PipelineSpec is the YAML form of a pipeline
type PipelineSpec struct {
	Name  string     `yaml:"name"`
	Steps []StepSpec `yaml:"steps"`
}

// StepSpec is the YAML form of a pipeline step
type StepSpec struct {
	Algorithm string         `yaml:"algorithm"`
	Name      string         `yaml:"name,omitempty"`
	Params    map[string]any `yaml:"params,omitempty"`
}

// ParsePipeline builds a pipeline from YAML, resolving algorithm names in reg
//
//	name: rank-and-group
//	steps:
//	  - algorithm: PageRank
//	    params: {dampingFactor: 0.9}
//	  - algorithm: ConnectedComponents
//	    name: groups
func ParsePipeline(data []byte, reg *Registry) (*Pipeline, error) {
	var spec PipelineSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("%w: invalid pipeline YAML: %v", core.ErrInvalidArgument, err)
	}
	return spec.Build(reg)
}

// LoadPipeline reads a YAML pipeline file
func LoadPipeline(path string, reg *Registry) (*Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline: %w", err)
	}
	return ParsePipeline(data, reg)
}

// Build resolves each step's algorithm in reg
func (s PipelineSpec) Build(reg *Registry) (*Pipeline, error) {
	if reg == nil {
		reg = Default()
	}
	if len(s.Steps) == 0 {
		return nil, fmt.Errorf("%w: pipeline '%s' has no steps", core.ErrInvalidArgument, s.Name)
	}

	p := NewPipeline(s.Name)
	for i, st := range s.Steps {
		name := strings.TrimSpace(st.Algorithm)
		alg, ok := reg.Get(name)
		if !ok {
			return nil, fmt.Errorf("step %d: algorithm '%s': %w", i, name, core.ErrNotFound)
		}
		stepName := st.Name
		if stepName == "" {
			stepName = name
		}
		p.AddNamed(stepName, alg, st.Params)
	}
	return p, nil
}
