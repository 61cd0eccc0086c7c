// Package match selects notification values by exact equality, prefix, or
// regular expression.
package match

import (
	"fmt"
	"regexp"

	"github.com/c360/semsensors/errors"
)

// Type names a matching strategy.
type Type string

const (
	// Exact matches values equal to the pattern.
	Exact Type = "exact"
	// Partial matches values that start with the pattern. The pattern is a
	// regular expression anchored at the start of the value.
	Partial Type = "partial"
	// Regex matches values whose start matches the pattern. The match is
	// not anchored at the end.
	Regex Type = "regex"
)

// Spec is the configuration form of a matcher.
type Spec struct {
	Type    Type   `json:"type"`
	Pattern string `json:"pattern"`
}

// Matcher is a compiled Spec. The zero value matches nothing.
type Matcher struct {
	spec Spec
	re   *regexp.Regexp
}

// New compiles a matcher. Unknown types and patterns that do not compile
// fail with a config validation error.
func New(kind Type, pattern string) (*Matcher, error) {
	m := &Matcher{spec: Spec{Type: kind, Pattern: pattern}}

	switch kind {
	case Exact:
		return m, nil
	case Partial, Regex:
		expr := "^(?:" + pattern + ")"
		if kind == Partial {
			expr += ".*"
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, errors.ConfigValidation(err, "match", "New", fmt.Sprintf("compile %s pattern %q", kind, pattern))
		}
		m.re = re
		return m, nil
	default:
		return nil, errors.ConfigValidationf("match", "New", "unknown matcher type %q", kind)
	}
}

// Compile is New applied to a Spec.
func Compile(spec Spec) (*Matcher, error) {
	return New(spec.Type, spec.Pattern)
}

// Type returns the matching strategy.
func (m *Matcher) Type() Type {
	return m.spec.Type
}

// Pattern returns the configured pattern.
func (m *Matcher) Pattern() string {
	return m.spec.Pattern
}

// Spec returns the configuration form of the matcher.
func (m *Matcher) Spec() Spec {
	return m.spec
}

// Matches reports whether value satisfies the matcher.
func (m *Matcher) Matches(value string) bool {
	if m == nil {
		return false
	}
	switch m.spec.Type {
	case Exact:
		return value == m.spec.Pattern
	case Partial, Regex:
		return m.re != nil && m.re.MatchString(value)
	default:
		return false
	}
}

// String renders the matcher for logs.
func (m *Matcher) String() string {
	if m == nil {
		return "any"
	}
	return fmt.Sprintf("%s(%s)", m.spec.Type, m.spec.Pattern)
}

// Optional reports whether value satisfies m, treating an absent matcher as
// matching everything.
func Optional(m *Matcher, value string) bool {
	if m == nil {
		return true
	}
	return m.Matches(value)
}
