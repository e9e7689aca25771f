package mapping

import (
	"context"
	"errors"
	"fmt"
	"strings"

	adldap "github.com/isometry/haridsync/internal/ldap"
	"github.com/isometry/haridsync/internal/naming"
	"github.com/isometry/haridsync/internal/secret"
	"github.com/isometry/haridsync/internal/source"
)

// Assignment is one attribute value set produced by a rule.
type Assignment struct {
	Attribute string
	Values    []string
}

// MissingContextError reports a mapping attempted without its source record.
type MissingContextError struct {
	Kind       adldap.Kind
	Identifier string
}

func (e *MissingContextError) Error() string {
	return fmt.Sprintf("cannot map %s %q: no source record", e.Kind, e.Identifier)
}

// Input is what a computed rule sees.
type Input struct {
	Kind   adldap.Kind
	Record source.Record
	Entry  *adldap.Entry
}

// ComputeFunc derives the values of one attribute. ok is false when the
// attribute should be left untouched.
type ComputeFunc func(ctx context.Context, in Input) (values []string, ok bool, err error)

// Config wires the collaborators of computed rules. Empty group scope and
// category produce global security groups.
type Config struct {
	BaseDN        string
	GroupScope    adldap.GroupScope
	GroupCategory adldap.GroupCategory
	Names         *naming.Disambiguator
	Secrets       *secret.Decryptor
	Members       *MemberResolver
}

// Mapper applies a Table to records.
type Mapper struct {
	config   Config
	registry map[RuleID]ComputeFunc
}

// NewMapper creates a mapper with the standard rule registry.
func NewMapper(config Config) *Mapper {
	if config.GroupScope == "" {
		config.GroupScope = adldap.GroupScopeGlobal
	}
	if config.GroupCategory == "" {
		config.GroupCategory = adldap.GroupCategorySecurity
	}
	m := &Mapper{config: config}
	m.registry = map[RuleID]ComputeFunc{
		RuleFullName:       computeFullName,
		RuleGecos:          computeGecos,
		RuleAccountControl: computeAccountControl,
		RulePersonCategory: m.category("Person"),
		RuleGroupCategory:  m.category("Group"),
		RuleGroupType:      m.computeGroupType,
		RuleCommonName:     m.computeCommonName,
		RulePassword:       m.computePassword,
		RuleMembers:        m.computeMembers,
	}
	return m
}

// Reset drops cached lookups from a previous run.
func (m *Mapper) Reset() {
	m.config.Members.Purge()
}

// Forget drops the cached member DN of a user written during the run.
func (m *Mapper) Forget(uid string) {
	m.config.Members.Forget(uid)
}

// Map returns the assignments of rec for e in table order. A credential that
// fails to decrypt skips only the password assignment: the remaining
// assignments are returned together with the error.
func (m *Mapper) Map(ctx context.Context, kind adldap.Kind, rec source.Record, e *adldap.Entry) ([]Assignment, error) {
	if rec == nil || e == nil {
		id := ""
		if e != nil {
			id = e.Identifier
		}
		return nil, &MissingContextError{Kind: kind, Identifier: id}
	}

	in := Input{Kind: kind, Record: rec, Entry: e}
	var (
		out  []Assignment
		errs []error
	)

	for _, rule := range TableFor(kind) {
		if !rule.IsComputed() {
			// Blank is absent: the directory rejects zero-length values.
			if v, ok := rec.String(rule.Field); ok && strings.TrimSpace(v) != "" {
				out = append(out, Assignment{Attribute: rule.Attribute, Values: []string{v}})
			}
			continue
		}

		fn, found := m.registry[rule.Computed]
		if !found {
			return nil, fmt.Errorf("no computed rule registered for %q", rule.Computed)
		}

		values, ok, err := fn(ctx, in)
		if err != nil {
			var decErr *secret.DecryptionError
			if errors.As(err, &decErr) {
				errs = append(errs, fmt.Errorf("%s: %w", rule.Attribute, err))
				continue
			}
			return nil, fmt.Errorf("failed to compute %s: %w", rule.Attribute, err)
		}
		if ok {
			out = append(out, Assignment{Attribute: rule.Attribute, Values: values})
		}
	}

	return out, errors.Join(errs...)
}

// Apply queues assignments on e.
func Apply(e *adldap.Entry, assignments []Assignment) {
	for _, a := range assignments {
		e.Set(a.Attribute, a.Values)
	}
}
