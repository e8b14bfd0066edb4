package sweep

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxPatternLength is the longest safe-mode pattern accepted.
const MaxPatternLength = 200

// ErrFilterTooLong is returned for patterns over MaxPatternLength characters.
var ErrFilterTooLong = errors.New("filter pattern exceeds 200 characters")

// PatternMode selects how a pattern is interpreted.
type PatternMode string

const (
	PatternGlob  PatternMode = "glob"
	PatternRegex PatternMode = "regex"
)

// MatchScope selects what part of a path the pattern is tested against.
type MatchScope string

const (
	ScopeBasename MatchScope = "basename"
	ScopePath     MatchScope = "path"
)

// FilterSpec is the safe-mode configuration of a request.
type FilterSpec struct {
	Enabled         bool        `json:"enabled"`
	Pattern         string      `json:"pattern,omitempty"`
	PatternMode     PatternMode `json:"patternMode,omitempty"`
	MatchScope      MatchScope  `json:"matchScope,omitempty"`
	CaseInsensitive bool        `json:"caseInsensitive,omitempty"`
}

// FilterState tags a compiled filter.
type FilterState int

const (
	// FilterDisabled lets every candidate through.
	FilterDisabled FilterState = iota
	// FilterActive restricts candidates to matching paths.
	FilterActive
	// FilterInvalid marks a pattern that could not be compiled.
	FilterInvalid
)

func (s FilterState) String() string {
	switch s {
	case FilterActive:
		return "active"
	case FilterInvalid:
		return "invalid"
	default:
		return "disabled"
	}
}

// Filter is a compiled FilterSpec.
type Filter struct {
	state FilterState
	re    *regexp.Regexp
	scope MatchScope
	err   error
}

// CompileFilter compiles spec. It never panics; failures come back as a
// FilterInvalid filter carrying the error.
func CompileFilter(spec FilterSpec) Filter {
	if !spec.Enabled || spec.Pattern == "" {
		return Filter{state: FilterDisabled}
	}
	if utf8.RuneCountInString(spec.Pattern) > MaxPatternLength {
		return Filter{state: FilterInvalid, err: ErrFilterTooLong}
	}

	expr := spec.Pattern
	switch spec.PatternMode {
	case PatternRegex:
	case PatternGlob, "":
		expr = globToRegex(spec.Pattern)
	default:
		return Filter{state: FilterInvalid, err: errors.New("unknown pattern mode " + string(spec.PatternMode))}
	}
	if spec.CaseInsensitive {
		expr = "(?i)" + expr
	}

	re, err := regexp.Compile(expr)
	if err != nil {
		return Filter{state: FilterInvalid, err: err}
	}

	scope := spec.MatchScope
	if scope != ScopePath {
		scope = ScopeBasename
	}
	return Filter{state: FilterActive, re: re, scope: scope}
}

// globToRegex translates * and ? and escapes everything else, anchored.
func globToRegex(glob string) string {
	var b strings.Builder
	b.WriteByte('^')
	for _, r := range glob {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteByte('.')
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteByte('$')
	return b.String()
}

// State returns the filter tag.
func (f Filter) State() FilterState { return f.state }

// Err returns the compile error of an invalid filter.
func (f Filter) Err() error { return f.err }

// Match reports whether path passes the filter. Disabled filters pass
// everything; invalid filters pass nothing.
func (f Filter) Match(path string) bool {
	switch f.state {
	case FilterDisabled:
		return true
	case FilterActive:
		subject := path
		if f.scope == ScopeBasename {
			if i := strings.LastIndexByte(path, '/'); i >= 0 {
				subject = path[i+1:]
			}
		}
		return f.re.MatchString(subject)
	default:
		return false
	}
}

// Apply derives a plan holding only the candidates that pass the filter.
func (f Filter) Apply(plan *SweepPlan) *SweepPlan {
	if f.state == FilterDisabled {
		return plan.derive(plan.CandidatesByBucket)
	}
	filtered := make(map[string][]string, len(plan.CandidatesByBucket))
	for bucket, paths := range plan.CandidatesByBucket {
		kept := make([]string, 0, len(paths))
		for _, p := range paths {
			if f.Match(p) {
				kept = append(kept, p)
			}
		}
		filtered[bucket] = kept
	}
	return plan.derive(filtered)
}
