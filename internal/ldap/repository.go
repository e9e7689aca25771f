package ldap

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
)

// Default object classes of synchronized entries.
var (
	DefaultUserClasses     = []string{"top", "person", "organizationalPerson", "user"}
	DefaultUserAuxClasses  = []string{"posixAccount"}
	DefaultGroupClasses    = []string{"top", "group"}
	DefaultGroupAuxClasses = []string{"posixGroup"}
)

// dnValuedAttributes compare case-insensitively.
var dnValuedAttributes = map[string]bool{
	"member":         true,
	"objectcategory": true,
	"manager":        true,
}

// RepositoryConfig configures an EntryRepository.
type RepositoryConfig struct {
	BaseDN          string
	UserClasses     []string
	UserAuxClasses  []string
	GroupClasses    []string
	GroupAuxClasses []string
}

// PersistError reports a failed write of one entry.
type PersistError struct {
	Kind       Kind
	Identifier string
	DN         string
	Operation  string
	Err        error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("failed to %s %s %q (%s): %v", e.Operation, e.Kind, e.Identifier, e.DN, e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}

// EntryRepository loads and stores users and groups through a Client.
type EntryRepository struct {
	client Client
	config RepositoryConfig
}

// NewEntryRepository creates a repository rooted at config.BaseDN.
// Empty class lists take the package defaults.
func NewEntryRepository(client Client, config RepositoryConfig) *EntryRepository {
	if config.UserClasses == nil {
		config.UserClasses = DefaultUserClasses
	}
	if config.UserAuxClasses == nil {
		config.UserAuxClasses = DefaultUserAuxClasses
	}
	if config.GroupClasses == nil {
		config.GroupClasses = DefaultGroupClasses
	}
	if config.GroupAuxClasses == nil {
		config.GroupAuxClasses = DefaultGroupAuxClasses
	}
	return &EntryRepository{client: client, config: config}
}

// BaseDN returns the search root of the repository.
func (r *EntryRepository) BaseDN() string {
	return r.config.BaseDN
}

func (r *EntryRepository) baseClasses(kind Kind) []string {
	if kind == KindGroup {
		return r.config.GroupClasses
	}
	return r.config.UserClasses
}

// AuxiliaryClasses returns the auxiliary classes every entry of kind carries.
func (r *EntryRepository) AuxiliaryClasses(kind Kind) []string {
	if kind == KindGroup {
		return slices.Clone(r.config.GroupAuxClasses)
	}
	return slices.Clone(r.config.UserAuxClasses)
}

// FindByIdentifier looks up the entry of kind whose sAMAccountName is id.
// It returns nil, nil when none exists. Multiple matches are logged and the
// first one wins.
func (r *EntryRepository) FindByIdentifier(ctx context.Context, kind Kind, id string) (*Entry, error) {
	filter := AndFilter(
		EqualityFilter("objectClass", kind.ObjectClass()),
		EqualityFilter("sAMAccountName", id),
	)

	result, err := r.client.Search(ctx, &SearchRequest{
		BaseDN:     r.config.BaseDN,
		Scope:      ScopeWholeSubtree,
		Filter:     filter,
		Attributes: []string{"*", "objectGUID", "objectSid"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to look up %s %q: %w", kind, id, err)
	}

	switch len(result.Entries) {
	case 0:
		return nil, nil
	case 1:
	default:
		dns := make([]string, len(result.Entries))
		for i, e := range result.Entries {
			dns[i] = e.DN
		}
		Subsystem(ctx, "ldap").Warn("Multiple directory entries match identifier, using the first",
			"kind", kind.String(),
			"identifier", id,
			"matches", dns)
	}

	return entryFromLDAP(kind, id, result.Entries[0]), nil
}

// FindNamesWithPrefix returns the cn of every entry of kind whose cn starts with prefix.
func (r *EntryRepository) FindNamesWithPrefix(ctx context.Context, kind Kind, prefix string) ([]string, error) {
	result, err := r.client.Search(ctx, &SearchRequest{
		BaseDN:     r.config.BaseDN,
		Scope:      ScopeWholeSubtree,
		Filter:     AndFilter(EqualityFilter("objectClass", kind.ObjectClass()), PrefixFilter("cn", prefix)),
		Attributes: []string{"cn"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search names starting with %q: %w", prefix, err)
	}

	names := make([]string, 0, len(result.Entries))
	for _, e := range result.Entries {
		if cn := e.GetAttributeValue("cn"); cn != "" {
			names = append(names, cn)
		}
	}
	return names, nil
}

// Create returns an unsaved entry to be added under parentDN.
func (r *EntryRepository) Create(kind Kind, identifier, parentDN string) *Entry {
	return newEntry(kind, identifier, parentDN)
}

// Persist writes the pending state of e.
func (r *EntryRepository) Persist(ctx context.Context, e *Entry) error {
	if e.IsNew() {
		return r.add(ctx, e)
	}
	return r.update(ctx, e)
}

func (r *EntryRepository) add(ctx context.Context, e *Entry) error {
	cn := e.Identifier
	if values, ok := e.pendingValue("cn"); ok && len(values) > 0 {
		cn = values[0]
	}
	dn := JoinDN(CNRDN(cn), e.parent)

	attrs := map[string][]string{
		"objectClass": append(slices.Clone(r.baseClasses(e.Kind)), e.PendingClasses()...),
	}
	for _, a := range e.pending {
		if len(a.Values) == 0 {
			continue
		}
		attrs[a.Name] = a.Values
	}
	if _, ok := attrs["cn"]; !ok {
		attrs["cn"] = []string{cn}
	}

	err := LogOperation(ctx, "ldap", "add_entry", map[string]any{
		"kind":       e.Kind.String(),
		"identifier": e.Identifier,
		"dn":         dn,
	}, func() error {
		return r.client.Add(ctx, &AddRequest{DN: dn, Attributes: attrs})
	})
	if err != nil {
		return &PersistError{Kind: e.Kind, Identifier: e.Identifier, DN: dn, Operation: "add", Err: err}
	}

	e.DN = dn
	e.markPersisted()
	return nil
}

func (r *EntryRepository) update(ctx context.Context, e *Entry) error {
	if values, ok := e.pendingValue("cn"); ok && len(values) > 0 && values[0] != e.Name() {
		newRDN := CNRDN(values[0])
		err := r.client.ModifyDN(ctx, &ModifyDNRequest{
			DN:           e.DN,
			NewRDN:       newRDN,
			DeleteOldRDN: true,
		})
		if err != nil {
			return &PersistError{Kind: e.Kind, Identifier: e.Identifier, DN: e.DN, Operation: "rename", Err: err}
		}
		e.setLocation(JoinDN(newRDN, e.Parent()))
	}

	req := r.buildModify(e)
	if req.IsEmpty() {
		Subsystem(ctx, "ldap").Debug("Entry already up to date", "dn", e.DN)
		e.markPersisted()
		return nil
	}

	err := LogOperation(ctx, "ldap", "modify_entry", map[string]any{
		"kind":       e.Kind.String(),
		"identifier": e.Identifier,
		"dn":         e.DN,
		"changed":    changedNames(req),
	}, func() error {
		return r.client.Modify(ctx, req)
	})
	if err != nil {
		return &PersistError{Kind: e.Kind, Identifier: e.Identifier, DN: e.DN, Operation: "modify", Err: err}
	}

	e.markPersisted()
	return nil
}

// buildModify diffs the pending state of e against its stored values.
func (r *EntryRepository) buildModify(e *Entry) *ModifyRequest {
	req := &ModifyRequest{DN: e.DN}

	if len(e.addClasses) > 0 {
		req.AddAttributes = map[string][]string{"objectClass": e.PendingClasses()}
	}

	for _, a := range e.pending {
		key := strings.ToLower(a.Name)
		if key == "cn" {
			continue // handled by rename
		}

		current := e.Get(a.Name)
		switch {
		case key == "unicodepwd":
			if len(a.Values) > 0 {
				if req.ReplaceAttributes == nil {
					req.ReplaceAttributes = make(map[string][]string)
				}
				req.ReplaceAttributes[a.Name] = a.Values
			}
		case len(a.Values) == 0:
			if len(current) > 0 {
				req.DeleteAttributes = append(req.DeleteAttributes, a.Name)
			}
		case !sameValues(current, a.Values, dnValuedAttributes[key]):
			if req.ReplaceAttributes == nil {
				req.ReplaceAttributes = make(map[string][]string)
			}
			req.ReplaceAttributes[a.Name] = a.Values
		}
	}

	return req
}

// sameValues compares two value sets ignoring order.
func sameValues(a, b []string, foldCase bool) bool {
	if len(a) != len(b) {
		return false
	}
	norm := func(values []string) []string {
		out := slices.Clone(values)
		if foldCase {
			for i := range out {
				out[i] = strings.ToLower(out[i])
			}
		}
		slices.Sort(out)
		return out
	}
	return slices.Equal(norm(a), norm(b))
}

// changedNames lists the attributes touched by req, for logging. Values are never logged.
func changedNames(req *ModifyRequest) []string {
	var names []string
	for name := range req.AddAttributes {
		names = append(names, name)
	}
	for name := range req.ReplaceAttributes {
		names = append(names, name)
	}
	names = append(names, req.DeleteAttributes...)
	slices.Sort(names)
	return names
}

// Relocate moves the entry at dn under newBase with newRDN.
func (r *EntryRepository) Relocate(ctx context.Context, dn, newRDN, newBase string) error {
	return LogOperation(ctx, "ldap", "relocate_entry", map[string]any{
		"dn":           dn,
		"new_rdn":      newRDN,
		"new_superior": newBase,
	}, func() error {
		return r.client.ModifyDN(ctx, &ModifyDNRequest{
			DN:           dn,
			NewRDN:       newRDN,
			DeleteOldRDN: true,
			NewSuperior:  newBase,
		})
	})
}

// MoveEntry relocates e and updates its DN.
func (r *EntryRepository) MoveEntry(ctx context.Context, e *Entry, newBase string) error {
	newRDN := CNRDN(e.Name())
	if err := r.Relocate(ctx, e.DN, newRDN, newBase); err != nil {
		return err
	}
	e.setLocation(JoinDN(newRDN, newBase))
	return nil
}

// DeleteMatching deletes every entry of kind matching filter and returns how
// many were deleted.
func (r *EntryRepository) DeleteMatching(ctx context.Context, kind Kind, filter string) (int, error) {
	result, err := r.client.Search(ctx, &SearchRequest{
		BaseDN:     r.config.BaseDN,
		Scope:      ScopeWholeSubtree,
		Filter:     AndFilter(EqualityFilter("objectClass", kind.ObjectClass()), filter),
		Attributes: []string{"sAMAccountName", "objectGUID", "objectSid"},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to search %s entries to delete: %w", kind, err)
	}

	deleted := 0
	for _, e := range result.Entries {
		fields := map[string]any{
			"kind": kind.String(),
			"dn":   e.DN,
		}
		// Keep the identity of the removed entry in the log.
		if id := entryGUID(e); id != uuid.Nil {
			fields["guid"] = id.String()
		}
		if sid := entrySID(e); sid != "" {
			fields["sid"] = sid
		}
		err := LogOperation(ctx, "ldap", "delete_entry", fields, func() error {
			return r.client.Delete(ctx, e.DN)
		})
		if IsNotFoundError(err) {
			continue // removed since the search
		}
		if err != nil {
			return deleted, &PersistError{
				Kind:       kind,
				Identifier: e.GetAttributeValue("sAMAccountName"),
				DN:         e.DN,
				Operation:  "delete",
				Err:        err,
			}
		}
		deleted++
	}

	return deleted, nil
}
