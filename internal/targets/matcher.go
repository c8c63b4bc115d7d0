package targets

import (
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

type MatchKind string

const (
	MatchExact    MatchKind = "exact"
	MatchContains MatchKind = "contains"
	MatchRegex    MatchKind = "regex"
)

// Matcher accepts a single process field (name, command line or binary path).
type Matcher struct {
	Kind  MatchKind `yaml:"kind"`
	Value string    `yaml:"value"`

	regex *regexp.Regexp
}

func Exact(value string) *Matcher {
	return &Matcher{Kind: MatchExact, Value: value}
}

func Contains(value string) *Matcher {
	return &Matcher{Kind: MatchContains, Value: value}
}

func Regex(value string) *Matcher {
	return &Matcher{Kind: MatchRegex, Value: value}
}

func (m *Matcher) compile() error {
	switch m.Kind {
	case MatchExact, MatchContains:
		return nil
	case MatchRegex:
		regex, err := regexp.Compile(m.Value)
		if err != nil {
			return errors.WithMessagef(err, "compile regex '%s'", m.Value)
		}
		m.regex = regex
		return nil
	default:
		return errors.Errorf("unknown match kind '%s'", m.Kind)
	}
}

func (m *Matcher) Match(value string) bool {
	if m == nil {
		return false
	}

	switch m.Kind {
	case MatchExact:
		return value == m.Value
	case MatchContains:
		return strings.Contains(value, m.Value)
	case MatchRegex:
		return m.regex != nil && m.regex.MatchString(value)
	default:
		return false
	}
}

func (m *Matcher) equal(other *Matcher) bool {
	if m == nil || other == nil {
		return m == other
	}
	return m.Kind == other.Kind && m.Value == other.Value
}
