package files

import (
	"path/filepath"
	"regexp"

	"github.com/pkg/errors"
)

type Action int

const (
	ActionNone Action = iota
	ActionUpload
)

func (a Action) String() string {
	if a == ActionUpload {
		return "upload"
	}
	return "none"
}

// Pattern decides whether a file belongs to the watched set.
type Pattern interface {
	Match(directory, name, path string) bool
}

// DirectoryPath matches files whose containing directory equals the literal path.
type DirectoryPath string

func (d DirectoryPath) Match(directory, name, path string) bool {
	return filepath.Clean(string(d)) == filepath.Clean(directory)
}

// FilenameMatch matches the base name against a regular expression.
type FilenameMatch struct {
	*regexp.Regexp
}

func (f FilenameMatch) Match(directory, name, path string) bool {
	return f.MatchString(name)
}

// PathMatch matches the full path against a regular expression.
type PathMatch struct {
	*regexp.Regexp
}

func (p PathMatch) Match(directory, name, path string) bool {
	return p.MatchString(path)
}

// Rule pairs a pattern with the action recorded for the files it matches. When several rules
// match one file, the last one wins.
type Rule struct {
	Pattern Pattern
	Action  Action
}

func NewFilenameRule(expression string, action Action) (Rule, error) {
	regex, err := regexp.Compile(expression)
	if err != nil {
		return Rule{}, errors.WithMessagef(err, "compile filename pattern '%s'", expression)
	}
	return Rule{Pattern: FilenameMatch{regex}, Action: action}, nil
}

func NewPathRule(expression string, action Action) (Rule, error) {
	regex, err := regexp.Compile(expression)
	if err != nil {
		return Rule{}, errors.WithMessagef(err, "compile path pattern '%s'", expression)
	}
	return Rule{Pattern: PathMatch{regex}, Action: action}, nil
}

func NewDirectoryRule(directory string, action Action) Rule {
	return Rule{Pattern: DirectoryPath(directory), Action: action}
}

// DefaultRules are the pipeline outputs uploaded out of the box.
func DefaultRules() []Rule {
	return []Rule{
		{Pattern: FilenameMatch{regexp.MustCompile(`Log\.final\.out`)}, Action: ActionUpload},
		{Pattern: FilenameMatch{regexp.MustCompile(`\.narrowPeak`)}, Action: ActionUpload},
		{Pattern: FilenameMatch{regexp.MustCompile(`_counts\.summary`)}, Action: ActionUpload},
	}
}
