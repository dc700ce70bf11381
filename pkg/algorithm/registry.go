package algorithm

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/liliang-cn/sqdata/pkg/core"
	"github.com/liliang-cn/sqdata/pkg/dataset"
)

// Registry maps algorithm names to implementations
type Registry struct {
	mu   sync.RWMutex
	algs map[string]Algorithm
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{algs: make(map[string]Algorithm)}
}

var (
	defaultRegistry *Registry
	defaultOnce     sync.Once
)

// Default returns the process-wide registry holding the built-in algorithms
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry()
		RegisterBuiltins(defaultRegistry)
	})
	return defaultRegistry
}

// RegisterBuiltins adds PageRank, ConnectedComponents and MinMaxNormalize
func RegisterBuiltins(r *Registry) {
	r.MustRegister(NewPageRank())
	r.MustRegister(NewConnectedComponents())
	r.MustRegister(NewMinMaxNormalize())
}

// Register adds alg under its descriptor name
func (r *Registry) Register(alg Algorithm) error {
	if alg == nil {
		return fmt.Errorf("%w: nil algorithm", core.ErrInvalidArgument)
	}
	name := alg.Descriptor().Name
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: algorithm without name", core.ErrInvalidName)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.algs[name]; ok {
		return fmt.Errorf("algorithm '%s' %w", name, core.ErrAlreadyExists)
	}
	r.algs[name] = alg
	return nil
}

// MustRegister is Register that panics on error
func (r *Registry) MustRegister(alg Algorithm) {
	if err := r.Register(alg); err != nil {
		panic(err)
	}
}

// Get looks an algorithm up by exact name
func (r *Registry) Get(name string) (Algorithm, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	alg, ok := r.algs[name]
	return alg, ok
}

// List returns every descriptor ordered by name
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.algs))
	for _, alg := range r.algs {
		out = append(out, alg.Descriptor())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ByKind returns the descriptors of algorithms that accept datasets of kind
func (r *Registry) ByKind(kind core.Kind) []Descriptor {
	var out []Descriptor
	for _, d := range r.List() {
		if d.Kind.Accepts(kind) {
			out = append(out, d)
		}
	}
	return out
}

// Execute looks name up and runs it through Execute. An unknown name is a
// failed result.
func (r *Registry) Execute(ctx context.Context, name string, input dataset.Dataset, actx *Context) Result {
	alg, ok := r.Get(name)
	if !ok {
		return Result{Metrics: Metrics{}, Err: fmt.Errorf("algorithm '%s': %w", name, core.ErrNotFound)}
	}
	return Execute(ctx, alg, input, actx)
}
