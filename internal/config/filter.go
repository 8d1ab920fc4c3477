package config

import (
	"fmt"

	"github.com/gobwas/glob"
)

// JobFilter selects which jobs get entities
type JobFilter struct {
	patterns []glob.Glob
}

// NewJobFilter compiles include patterns such as "thumbnail*"
func NewJobFilter(patterns []string) (*JobFilter, error) {
	f := &JobFilter{}
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid job pattern %q: %w", p, err)
		}
		f.patterns = append(f.patterns, g)
	}
	return f, nil
}

// Match reports whether any pattern matches name. A filter without
// patterns matches everything.
func (f *JobFilter) Match(name string) bool {
	if f == nil || len(f.patterns) == 0 {
		return true
	}
	for _, g := range f.patterns {
		if g.Match(name) {
			return true
		}
	}
	return false
}
