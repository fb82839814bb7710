package match

import (
	"errors"
	"fmt"

	"github.com/bmatcuk/doublestar/v4"
)

// Selector decides which object keys a bulk command operates on.
//
// A key is selected when it matches at least one include glob, matches
// no exclude glob, and carries no dot-prefixed segment unless
// MatchHidden was set. Keys are bucket-relative, exactly as the listing
// engine reports them. A Selector is safe for concurrent use.
type Selector struct {
	include     []string
	exclude     []string
	matchHidden bool
}

// Rules configures Compile.
type Rules struct {
	// Include globs; a key must match at least one. Required.
	Include []string

	// Exclude globs; a matching key is dropped even when included.
	Exclude []string

	// MatchHidden also selects keys with dot-prefixed segments.
	MatchHidden bool
}

var (
	// ErrNoInclude is returned by Compile when Rules carries no include
	// globs.
	ErrNoInclude = errors.New("at least one include pattern is required")

	// ErrBadPattern is returned by Compile for a glob doublestar cannot
	// parse.
	ErrBadPattern = errors.New("invalid glob pattern")
)

// Compile validates and normalizes the rules into a Selector.
func Compile(r Rules) (*Selector, error) {
	include, err := compileGlobs(r.Include)
	if err != nil {
		return nil, err
	}
	if len(include) == 0 {
		return nil, ErrNoInclude
	}
	exclude, err := compileGlobs(r.Exclude)
	if err != nil {
		return nil, err
	}
	return &Selector{
		include:     include,
		exclude:     exclude,
		matchHidden: r.MatchHidden,
	}, nil
}

func compileGlobs(raw []string) ([]string, error) {
	globs := make([]string, 0, len(raw))
	for _, r := range raw {
		g := normalizePattern(r)
		if !doublestar.ValidatePattern(g) {
			return nil, fmt.Errorf("%w: %q", ErrBadPattern, r)
		}
		globs = append(globs, g)
	}
	return globs, nil
}

// Match reports whether key is selected.
func (s *Selector) Match(key string) bool {
	if !s.matchHidden && hiddenKey(key) {
		return false
	}
	return matchesAny(s.include, key) && !matchesAny(s.exclude, key)
}

func matchesAny(globs []string, key string) bool {
	for _, g := range globs {
		// Globs were validated in Compile, so Match cannot fail here.
		if ok, _ := doublestar.Match(g, key); ok {
			return true
		}
	}
	return false
}
