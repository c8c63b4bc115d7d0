package targets

import "github.com/pkg/errors"

// Target describes a tool process of interest.
type Target struct {
	Name               *Matcher    `yaml:"name,omitempty"`
	Command            *Matcher    `yaml:"command,omitempty"`
	Binary             *Matcher    `yaml:"binary,omitempty"`
	DisplayName        DisplayName `yaml:"display_name,omitempty"`
	MergeWithParents   bool        `yaml:"merge_with_parents"`
	ForceAncestorMatch bool        `yaml:"force_ancestor_match"`
}

func (t *Target) compile() error {
	if t.Name == nil && t.Command == nil && t.Binary == nil {
		return errors.New("target has no matcher")
	}

	for field, matcher := range map[string]*Matcher{"name": t.Name, "command": t.Command, "binary": t.Binary} {
		if matcher == nil {
			continue
		}
		if err := matcher.compile(); err != nil {
			return errors.WithMessagef(err, "%s matcher", field)
		}
	}

	return t.DisplayName.compile()
}

// Matches reports whether any configured matcher accepts its field.
func (t *Target) Matches(name, cmdline, exe string) bool {
	return t.Name.Match(name) || t.Command.Match(cmdline) || t.Binary.Match(exe)
}

func (t *Target) ResolveDisplayName(name string, args []string) (string, error) {
	return t.DisplayName.Resolve(name, args)
}

func (t *Target) Equal(other *Target) bool {
	return t.Name.equal(other.Name) &&
		t.Command.equal(other.Command) &&
		t.Binary.equal(other.Binary) &&
		t.DisplayName.equal(&other.DisplayName) &&
		t.MergeWithParents == other.MergeWithParents &&
		t.ForceAncestorMatch == other.ForceAncestorMatch
}
