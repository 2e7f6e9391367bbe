package discovery

import (
	"fmt"

	"github.com/bmatcuk/doublestar/v4"
)

// Filter selects which discovered topic names enter the registry.
// A name is kept when it matches at least one include pattern (or there are
// none) and matches no exclude pattern. The zero Filter keeps everything.
type Filter struct {
	include []string
	exclude []string
}

// NewFilter validates the patterns and returns a Filter.
func NewFilter(include, exclude []string) (Filter, error) {
	for _, p := range append(append([]string{}, include...), exclude...) {
		if !doublestar.ValidatePattern(p) {
			return Filter{}, fmt.Errorf("discovery: invalid topic pattern %q", p)
		}
	}
	return Filter{include: include, exclude: exclude}, nil
}

// Allow reports whether name passes the filter.
func (f Filter) Allow(name string) bool {
	if len(f.include) > 0 && !matchAny(f.include, name) {
		return false
	}
	return !matchAny(f.exclude, name)
}

func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		// Patterns are validated in NewFilter, so Match cannot fail here.
		if ok, _ := doublestar.Match(p, name); ok {
			return true
		}
	}
	return false
}
