package targets

import "github.com/pkg/errors"

// Catalog is an immutable, ordered set of targets. A reload replaces the whole catalog.
type Catalog struct {
	targets []*Target
}

func NewCatalog(targets []Target) (*Catalog, error) {
	compiled := make([]*Target, 0, len(targets))

	for i := range targets {
		target := targets[i]
		if err := target.compile(); err != nil {
			return nil, errors.WithMessagef(err, "compile target #%d", i)
		}
		compiled = append(compiled, &target)
	}

	return &Catalog{targets: compiled}, nil
}

// Match returns the first directly-matched target. Targets merged with their parents are
// resolved through the process tree instead and are skipped here.
func (c *Catalog) Match(name, cmdline, exe string) (*Target, bool) {
	for _, target := range c.targets {
		if target.MergeWithParents {
			continue
		}
		if target.Matches(name, cmdline, exe) {
			return target, true
		}
	}
	return nil, false
}

// MatchAny is like Match but also considers merge targets.
func (c *Catalog) MatchAny(name, cmdline, exe string) (*Target, bool) {
	for _, target := range c.targets {
		if target.Matches(name, cmdline, exe) {
			return target, true
		}
	}
	return nil, false
}

func (c *Catalog) MergeTargets() []*Target {
	merged := make([]*Target, 0)
	for _, target := range c.targets {
		if target.MergeWithParents {
			merged = append(merged, target)
		}
	}
	return merged
}

func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.targets)
}

func (c *Catalog) Equal(other *Catalog) bool {
	if c == nil || other == nil {
		return c == other
	}
	if len(c.targets) != len(other.targets) {
		return false
	}

	for i := range c.targets {
		if !c.targets[i].Equal(other.targets[i]) {
			return false
		}
	}
	return true
}
