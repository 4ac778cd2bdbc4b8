// Package filter holds the composable list filters applied to query
// results. A Filter decides from the criteria value whether it takes part
// and, if so, narrows the slice; a Chain folds its applicable filters in
// registration order.
package filter

// Filter narrows items of type T using criteria C.
type Filter[T any, C any] interface {
	Applicable(criteria C) bool
	Apply(items []T, criteria C) []T
}

// Chain applies every applicable filter in order, each one consuming the
// previous output.
type Chain[T any, C any] []Filter[T, C]

func (c Chain[T, C]) Apply(items []T, criteria C) []T {
	out := items
	for _, f := range c {
		if !f.Applicable(criteria) {
			continue
		}
		out = f.Apply(out, criteria)
	}
	return out
}

// Func adapts a predicate pair into a Filter.
type Func[T any, C any] struct {
	When  func(C) bool
	Match func(T, C) bool
}

func (f Func[T, C]) Applicable(criteria C) bool {
	return f.When(criteria)
}

func (f Func[T, C]) Apply(items []T, criteria C) []T {
	out := make([]T, 0, len(items))
	for _, it := range items {
		if f.Match(it, criteria) {
			out = append(out, it)
		}
	}
	return out
}
