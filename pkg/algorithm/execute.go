package algorithm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/liliang-cn/sqdata/pkg/core"
	"github.com/liliang-cn/sqdata/pkg/dataset"
)

// ErrNotCompatible is returned when an algorithm cannot take the input's kind
var ErrNotCompatible = errors.New("not compatible")

// ErrMissingParameter is returned when a required parameter is absent
var ErrMissingParameter = errors.New("missing required parameter")

// Execute validates input and parameters, then runs alg. It never panics and
// never returns an error: every failure is reported in Result.Err.
func Execute(ctx context.Context, alg Algorithm, input dataset.Dataset, actx *Context) (result Result) {
	if alg == nil {
		return Result{Err: fmt.Errorf("%w: nil algorithm", core.ErrInvalidArgument)}
	}
	if actx == nil {
		actx = NewContext(nil, nil)
	}

	desc := alg.Descriptor()
	events := actx.Events
	if events == nil {
		events = input.Events()
	}
	logger := actx.logger().With("algorithm", desc.Name)

	start := time.Now()
	events.Emit(core.Event{
		Type:    core.EventAlgorithmStarted,
		Name:    desc.Name,
		Dataset: input.Name(),
		Kind:    input.Kind(),
		Success: true,
	})

	defer func() {
		if p := recover(); p != nil {
			result = Result{Err: fmt.Errorf("algorithm %s panicked: %v", desc.Name, p)}
		}
		result.Duration = time.Since(start)
		result.Success = result.Err == nil
		if result.Metrics == nil {
			result.Metrics = Metrics{}
		}
		if !result.Success {
			result.Output = dataset.Dataset{}
			logger.Warn("algorithm failed", "dataset", input.Name(), "error", result.Err)
		}

		observeAlgorithm(desc.Name, result.Success, result.Duration)
		events.Emit(core.Event{
			Type:     core.EventAlgorithmCompleted,
			Name:     desc.Name,
			Dataset:  input.Name(),
			Kind:     input.Kind(),
			Duration: result.Duration,
			Success:  result.Success,
			Err:      result.Err,
		})
	}()

	if err := validate(desc, input, actx); err != nil {
		return Result{Err: err}
	}

	res, err := alg.Run(ctx, input, actx)
	if err != nil {
		return Result{Err: err, Metrics: res.Metrics}
	}
	return res
}

// validate checks the input kind, then required parameters, then the types
// of the parameters that are set
func validate(desc Descriptor, input dataset.Dataset, actx *Context) error {
	if input.IsZero() {
		return fmt.Errorf("%w: algorithm %s got no input dataset", core.ErrInvalidArgument, desc.Name)
	}
	if !desc.Kind.Accepts(input.Kind()) {
		return fmt.Errorf("algorithm %s is %w with %s dataset '%s': %w",
			desc.Name, ErrNotCompatible, input.Kind(), input.Name(), core.ErrKindMismatch)
	}

	var errs []error
	for _, p := range desc.Params {
		if !actx.Has(p.Name) {
			if p.Required {
				errs = append(errs, fmt.Errorf("%w '%s': %w", ErrMissingParameter, p.Name, core.ErrInvalidArgument))
			}
			continue
		}
		v, _ := actx.Value(p.Name)
		if err := checkType(p.Name, p.Type, v); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
