// Package naming assigns collision-free common names to new directory entries.
//
// Names are derived from existing directory state only, so two runs writing
// the same directory at once can hand out the same suffix. Runs are expected
// to be serialized.
package naming

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	adldap "github.com/isometry/haridsync/internal/ldap"
)

// NameLookup lists the common names of kind that start with prefix.
type NameLookup interface {
	FindNamesWithPrefix(ctx context.Context, kind adldap.Kind, prefix string) ([]string, error)
}

// Disambiguator derives unique common names.
type Disambiguator struct {
	lookup NameLookup
}

// NewDisambiguator returns a Disambiguator backed by lookup.
func NewDisambiguator(lookup NameLookup) *Disambiguator {
	return &Disambiguator{lookup: lookup}
}

// Name returns the common name for e given the base name derived from its
// record. An existing entry already named base or base followed by digits
// keeps its name.
func (d *Disambiguator) Name(ctx context.Context, base string, e *adldap.Entry) (string, error) {
	if base == "" {
		base = e.Identifier
	}
	if base == "" {
		return "", fmt.Errorf("no base name for %s entry", e.Kind)
	}

	pattern := namePattern(base)
	if !e.IsNew() {
		if current := e.Name(); pattern.MatchString(current) {
			return current, nil
		}
	}

	existing, err := d.lookup.FindNamesWithPrefix(ctx, e.Kind, base)
	if err != nil {
		return "", fmt.Errorf("failed to look up names starting with %q: %w", base, err)
	}
	return NextName(base, existing), nil
}

// NextName returns base if no name in existing is base or base followed by
// digits, and otherwise base followed by one more than the highest suffix.
// The bare name counts as suffix 1.
func NextName(base string, existing []string) string {
	pattern := namePattern(base)

	highest := 0
	for _, name := range existing {
		m := pattern.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		seq := 1
		if m[1] != "" {
			n, err := strconv.Atoi(m[1])
			if err != nil {
				continue
			}
			seq = n
		}
		highest = max(highest, seq)
	}

	if highest == 0 {
		return base
	}
	return base + strconv.Itoa(highest+1)
}

func namePattern(base string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)^` + regexp.QuoteMeta(base) + `(\d*)$`)
}
