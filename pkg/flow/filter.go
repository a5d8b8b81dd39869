package flow

import (
	"fmt"

	"github.com/gobwas/glob"
)

// TagFilter selects configurations by tag. Patterns are globs, so
// "smoke*" matches "smoke" and "smoke-login".
type TagFilter struct {
	include []glob.Glob
	exclude []glob.Glob
}

// NewTagFilter compiles include and exclude patterns.
func NewTagFilter(include, exclude []string) (*TagFilter, error) {
	f := &TagFilter{}
	for _, p := range include {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid include tag %q: %w", p, err)
		}
		f.include = append(f.include, g)
	}
	for _, p := range exclude {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid exclude tag %q: %w", p, err)
		}
		f.exclude = append(f.exclude, g)
	}
	return f, nil
}

// Match reports whether a configuration with tags passes the filter: at
// least one tag matches an include pattern (when any are given) and no tag
// matches an exclude pattern.
func (f *TagFilter) Match(tags []string) bool {
	if len(f.include) > 0 && !anyMatch(f.include, tags) {
		return false
	}
	return !anyMatch(f.exclude, tags)
}

func anyMatch(patterns []glob.Glob, tags []string) bool {
	for _, tag := range tags {
		for _, p := range patterns {
			if p.Match(tag) {
				return true
			}
		}
	}
	return false
}

// FilterByTags returns the configurations that pass the filter, preserving order.
func FilterByTags(configs []*TestConfig, include, exclude []string) ([]*TestConfig, error) {
	f, err := NewTagFilter(include, exclude)
	if err != nil {
		return nil, err
	}
	out := make([]*TestConfig, 0, len(configs))
	for _, cfg := range configs {
		if f.Match(cfg.Tags) {
			out = append(out, cfg)
		}
	}
	return out, nil
}
