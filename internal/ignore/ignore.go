// Package ignore decides which source entries are left out of a sync.
package ignore

import (
	"fmt"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/samber/lo"
)

// Kind tags the variant held by a Filter.
type Kind int

const (
	// KindNone ignores nothing. It is the zero value.
	KindNone Kind = iota
	// KindPredicate delegates to a caller-supplied function.
	KindPredicate
	// KindNames matches entry base names exactly, in any directory.
	KindNames
)

// String returns a short name for the kind.
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindPredicate:
		return "predicate"
	case KindNames:
		return "names"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Func reports whether the entry name inside dir should be ignored.
type Func func(dir, name string) bool

// Filter is either a predicate or a fixed set of names. The zero value
// ignores nothing.
type Filter struct {
	kind  Kind
	fn    Func
	names map[string]struct{}
}

// None returns a filter that ignores nothing
func None() Filter {
	return Filter{}
}

// Predicate wraps fn. A nil fn yields a filter that ignores nothing.
func Predicate(fn Func) Filter {
	if fn == nil {
		return Filter{}
	}
	return Filter{kind: KindPredicate, fn: fn}
}

// Names ignores entries whose base name equals one of names.
func Names(names ...string) Filter {
	if len(names) == 0 {
		return Filter{}
	}
	return Filter{kind: KindNames, names: lo.SliceToMap(names, func(n string) (string, struct{}) {
		return n, struct{}{}
	})}
}

// Patterns ignores entries whose base name matches one of the doublestar
// patterns. Invalid patterns are rejected here rather than at match time.
func Patterns(patterns ...string) (Filter, error) {
	if len(patterns) == 0 {
		return Filter{}, nil
	}
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return Filter{}, fmt.Errorf("invalid ignore pattern %q", p)
		}
	}

	patterns = append([]string(nil), patterns...)
	return Predicate(func(_, name string) bool {
		return lo.SomeBy(patterns, func(p string) bool {
			matched, _ := doublestar.Match(p, name)
			return matched
		})
	}), nil
}

// Any ignores an entry when at least one of filters does.
func Any(filters ...Filter) Filter {
	active := lo.Filter(filters, func(f Filter, _ int) bool {
		return f.kind != KindNone
	})
	switch len(active) {
	case 0:
		return Filter{}
	case 1:
		return active[0]
	}
	return Predicate(func(dir, name string) bool {
		return lo.SomeBy(active, func(f Filter) bool {
			return f.ShouldIgnore(dir, name)
		})
	})
}

// Kind returns the variant held by f.
func (f Filter) Kind() Kind {
	return f.kind
}

// ShouldIgnore reports whether name, listed inside dir, is excluded.
func (f Filter) ShouldIgnore(dir, name string) bool {
	switch f.kind {
	case KindPredicate:
		return f.fn(dir, name)
	case KindNames:
		_, ok := f.names[name]
		return ok
	default:
		return false
	}
}
