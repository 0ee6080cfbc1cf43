// Package filter maintains the include/exclude rule lists and answers
// the pattern matching requests for file and function names. Due to
// the possible include/exclude combinations, rules must be evaluated
// in sequential order; the last matching rule determines the outcome.
package filter

import (
	"github.com/gobwas/glob"

	"github.com/behrlich/go-measure/internal/logging"
)

// Rule is one include or exclude pattern.
type Rule struct {
	Pattern   string
	IsExclude bool
	IsMangled bool

	// compiled is nil when the pattern failed to compile; such a rule
	// never matches (filter errors propagate as "no match").
	compiled glob.Glob
}

func (r *Rule) match(name string) bool {
	if r.compiled == nil {
		return false
	}
	return r.compiled.Match(name)
}

// matchFunction matches against the mangled name when the rule asks
// for it and a mangled name is available.
func (r *Rule) matchFunction(name, mangled string) bool {
	if r.IsMangled && mangled != "" {
		return r.match(mangled)
	}
	return r.match(name)
}

// Filter holds the ordered rule lists, one for file names and one for
// function names.
type Filter struct {
	fileRules     []*Rule
	functionRules []*Rule
}

// New creates an empty filter that excludes nothing.
func New() *Filter {
	return &Filter{}
}

func newRule(pattern string, isExclude, isMangled bool) (*Rule, bool) {
	if pattern == "" {
		return nil, false
	}
	r := &Rule{
		Pattern:   pattern,
		IsExclude: isExclude,
		IsMangled: isMangled,
	}
	g, err := glob.Compile(pattern)
	if err != nil {
		logging.Warnf("Error in pattern '%s' of filter rule, rule will never match: %v",
			pattern, err)
	} else {
		r.compiled = g
	}
	return r, true
}

// AddFileRule appends a file-name rule. Empty patterns are rejected.
func (f *Filter) AddFileRule(pattern string, isExclude bool) bool {
	r, ok := newRule(pattern, isExclude, false)
	if ok {
		f.fileRules = append(f.fileRules, r)
	}
	return ok
}

// AddFunctionRule appends a function-name rule. Empty patterns are
// rejected.
func (f *Filter) AddFunctionRule(pattern string, isExclude, isMangled bool) bool {
	r, ok := newRule(pattern, isExclude, isMangled)
	if ok {
		f.functionRules = append(f.functionRules, r)
	}
	return ok
}

// MatchFile reports whether fileName is excluded by the file rules.
func (f *Filter) MatchFile(fileName string) bool {
	excluded := false
	if fileName == "" {
		return false
	}
	for _, r := range f.fileRules {
		if !excluded && r.IsExclude && r.match(fileName) {
			excluded = true
		} else if excluded && !r.IsExclude && r.match(fileName) {
			excluded = false
		}
	}
	return excluded
}

// MatchFunction reports whether the function is excluded by the
// function rules. Rules marked mangled match mangledName when one is
// provided.
func (f *Filter) MatchFunction(functionName, mangledName string) bool {
	excluded := false
	if functionName == "" {
		return false
	}
	for _, r := range f.functionRules {
		if !excluded && r.IsExclude && r.matchFunction(functionName, mangledName) {
			excluded = true
		} else if excluded && !r.IsExclude && r.matchFunction(functionName, mangledName) {
			excluded = false
		}
	}
	return excluded
}

// IncludeFunction reports whether the function is explicitly included:
// not excluded by the rules and named by an include rule other than a
// bare "*". An early "INCLUDE *" therefore does not count as an
// explicit inclusion.
func (f *Filter) IncludeFunction(functionName, mangledName string) bool {
	excluded := false
	explicitlyIncluded := false
	if functionName == "" {
		return true
	}
	for _, r := range f.functionRules {
		matched := r.matchFunction(functionName, mangledName)
		if matched {
			if r.IsExclude {
				explicitlyIncluded = false
			} else if r.Pattern != "*" {
				explicitlyIncluded = true
			}
		}

		if !excluded && r.IsExclude {
			excluded = matched
		} else if excluded && !r.IsExclude {
			excluded = !matched
		}
	}
	return !excluded && explicitlyIncluded
}

// ForAllFileRules visits every file rule in order.
func (f *Filter) ForAllFileRules(cb func(pattern string, isExclude, isMangled bool)) {
	for _, r := range f.fileRules {
		cb(r.Pattern, r.IsExclude, r.IsMangled)
	}
}

// ForAllFunctionRules visits every function rule in order.
func (f *Filter) ForAllFunctionRules(cb func(pattern string, isExclude, isMangled bool)) {
	for _, r := range f.functionRules {
		cb(r.Pattern, r.IsExclude, r.IsMangled)
	}
}
