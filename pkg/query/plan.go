package query

import (
	"context"
	"fmt"
	"iter"
	"math"
	"sort"
	"time"

	"github.com/liliang-cn/sqdata/pkg/core"
)

// item is one candidate record: a table row or a graph node
type item struct {
	index  int
	id     string
	values map[string]any
}

func (it item) get(field string) (any, bool) {
	switch field {
	case RowIndexField:
		return it.index, true
	case NodeIDField:
		return it.id, true
	}
	v, ok := it.values[field]
	return v, ok
}

// plan holds the builder state shared by table and graph queries. Builder
// errors are kept and reported by the first terminal call.
type plan struct {
	conds   []Condition
	sortBy  string
	desc    bool
	skip    int
	limit   int
	epsilon float64
	err     error
}

func newPlan() plan {
	return plan{limit: -1, epsilon: Epsilon}
}

func (p *plan) where(conds []Condition) {
	for _, c := range conds {
		if err := c.validate(); err != nil {
			p.fail(err)
			return
		}
		p.conds = append(p.conds, c)
	}
}

func (p *plan) orderBy(field string, desc bool) {
	if field == "" {
		p.fail(fmt.Errorf("%w: empty sort field", core.ErrInvalidArgument))
		return
	}
	p.sortBy, p.desc = field, desc
}

func (p *plan) setSkip(n int) {
	if n < 0 {
		p.fail(fmt.Errorf("%w: negative skip %d", core.ErrInvalidArgument, n))
		return
	}
	p.skip = n
}

func (p *plan) setLimit(n int) {
	if n < 0 {
		p.fail(fmt.Errorf("%w: negative limit %d", core.ErrInvalidArgument, n))
		return
	}
	p.limit = n
}

// page is 1-based
func (p *plan) page(number, size int) {
	if number < 1 || size < 1 {
		p.fail(fmt.Errorf("%w: page %d of size %d", core.ErrInvalidArgument, number, size))
		return
	}
	p.skip = (number - 1) * size
	p.limit = size
}

func (p *plan) setEpsilon(eps float64) {
	if eps < 0 || math.IsNaN(eps) {
		p.fail(fmt.Errorf("%w: epsilon %v", core.ErrInvalidArgument, eps))
		return
	}
	p.epsilon = eps
}

func (p *plan) fail(err error) {
	if p.err == nil {
		p.err = err
	}
}

func (p *plan) matches(it item) bool {
	for _, c := range p.conds {
		v, ok := it.get(c.Field)
		if !c.match(v, ok, p.epsilon) {
			return false
		}
	}
	return true
}

// apply filters, sorts and pages src. Without a sort key the source is
// consumed only as far as the page needs.
func (p *plan) apply(src iter.Seq2[item, error]) iter.Seq2[item, error] {
	return func(yield func(item, error) bool) {
		if p.limit == 0 {
			return
		}

		if p.sortBy == "" {
			skipped, emitted := 0, 0
			for it, err := range src {
				if err != nil {
					yield(item{}, err)
					return
				}
				if !p.matches(it) {
					continue
				}
				if skipped < p.skip {
					skipped++
					continue
				}
				if !yield(it, nil) {
					return
				}
				emitted++
				if p.limit > 0 && emitted >= p.limit {
					return
				}
			}
			return
		}

		var matched []item
		for it, err := range src {
			if err != nil {
				yield(item{}, err)
				return
			}
			if p.matches(it) {
				matched = append(matched, it)
			}
		}
		p.sort(matched)

		if p.skip >= len(matched) {
			return
		}
		matched = matched[p.skip:]
		if p.limit > 0 && p.limit < len(matched) {
			matched = matched[:p.limit]
		}
		for _, it := range matched {
			if !yield(it, nil) {
				return
			}
		}
	}
}

// sort is stable; nulls and NaN go last in either direction
func (p *plan) sort(items []item) {
	sort.SliceStable(items, func(i, j int) bool {
		a, aok := items[i].get(p.sortBy)
		b, bok := items[j].get(p.sortBy)
		aNull, bNull := sortNull(a, aok), sortNull(b, bok)
		switch {
		case aNull && bNull:
			return false
		case aNull:
			return false
		case bNull:
			return true
		}
		c := compare(a, b, 0)
		if p.desc {
			return c > 0
		}
		return c < 0
	})
}

func sortNull(v any, present bool) bool {
	if !present || v == nil {
		return true
	}
	f, ok := v.(float64)
	return ok && math.IsNaN(f)
}

// aggregate folds the numeric values of field across items
type aggregate struct {
	count int
	sum   float64
	min   float64
	max   float64
}

func (a *aggregate) add(v any) {
	f, ok := core.ToFloat64(v)
	if !ok || math.IsNaN(f) {
		return
	}
	if a.count == 0 {
		a.min, a.max = f, f
	} else {
		a.min, a.max = math.Min(a.min, f), math.Max(a.max, f)
	}
	a.count++
	a.sum += f
}

func (a *aggregate) mean() float64 {
	if a.count == 0 {
		return math.NaN()
	}
	return a.sum / float64(a.count)
}

func (a *aggregate) minimum() float64 {
	if a.count == 0 {
		return math.NaN()
	}
	return a.min
}

func (a *aggregate) maximum() float64 {
	if a.count == 0 {
		return math.NaN()
	}
	return a.max
}

// distinct keeps first appearances. Numbers are keyed by their float64 value
// so 2 and 2.0 collapse.
func distinct(values []any) []any {
	out := []any{}
	seen := make(map[string]bool)
	for _, v := range values {
		key := "s:" + core.FormatValue(v)
		switch {
		case v == nil:
			key = "null"
		case core.IsNumeric(v):
			f, _ := core.ToFloat64(v)
			key = "n:" + core.FormatValue(f)
		}
		if !seen[key] {
			seen[key] = true
			out = append(out, v)
		}
	}
	return out
}

func emitQueried(e *core.Emitter, name string, kind core.Kind, start time.Time, err error) {
	e.Emit(core.Event{
		Type:     core.EventDatasetQueried,
		Dataset:  name,
		Kind:     kind,
		Duration: time.Since(start),
		Success:  err == nil,
		Err:      err,
	})
}

func collectItems(ctx context.Context, seq iter.Seq2[item, error]) ([]item, error) {
	var out []item
	for it, err := range seq {
		if err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, nil
}
