package ldap

import (
	"fmt"
	"slices"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/google/uuid"
)

// Kind distinguishes the two directory object types that are synchronized.
type Kind int

const (
	KindUser Kind = iota
	KindGroup
)

func (k Kind) String() string {
	switch k {
	case KindUser:
		return "user"
	case KindGroup:
		return "group"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ObjectClass returns the structural object class used to search for k.
func (k Kind) ObjectClass() string {
	if k == KindGroup {
		return "group"
	}
	return "user"
}

// NumberAttribute returns the POSIX id attribute of k.
func (k Kind) NumberAttribute() string {
	if k == KindGroup {
		return "gidNumber"
	}
	return "uidNumber"
}

// Attribute is a named set of values.
type Attribute struct {
	Name   string
	Values []string
}

// Entry is a directory object being reconciled. It carries the values read
// from the directory and the assignments not yet persisted.
type Entry struct {
	Kind       Kind
	Identifier string    // sAMAccountName
	DN         string    // current location, empty until a new entry is persisted
	GUID       uuid.UUID // decoded objectGUID, uuid.Nil for new entries
	SID        string    // decoded objectSid

	attributes    map[string]Attribute // keyed by lower-case name
	objectClasses []string
	pending       []Attribute
	addClasses    []string
	isNew         bool
	parent        string // target container of a new entry
}

// newEntry creates an unsaved entry that will be added under parent.
func newEntry(kind Kind, identifier, parent string) *Entry {
	return &Entry{
		Kind:       kind,
		Identifier: identifier,
		attributes: make(map[string]Attribute),
		isNew:      true,
		parent:     parent,
	}
}

// entryFromLDAP converts a search result into an Entry.
func entryFromLDAP(kind Kind, identifier string, src *ldap.Entry) *Entry {
	e := &Entry{
		Kind:       kind,
		Identifier: identifier,
		DN:         src.DN,
		GUID:       entryGUID(src),
		SID:        entrySID(src),
		attributes: make(map[string]Attribute, len(src.Attributes)),
	}

	for _, attr := range src.Attributes {
		switch strings.ToLower(attr.Name) {
		case "objectguid", "objectsid":
			continue
		case "objectclass":
			e.objectClasses = slices.Clone(attr.Values)
			continue
		}
		e.attributes[strings.ToLower(attr.Name)] = Attribute{
			Name:   attr.Name,
			Values: slices.Clone(attr.Values),
		}
	}

	return e
}

// IsNew reports whether the entry has never been persisted.
func (e *Entry) IsNew() bool {
	return e.isNew
}

// Name returns the entry's stored common name.
func (e *Entry) Name() string {
	if v := e.First("cn"); v != "" {
		return v
	}
	if e.DN == "" {
		return ""
	}
	name, err := FirstRDNValue(e.DN)
	if err != nil {
		return ""
	}
	return name
}

// Parent returns the container DN of the entry.
func (e *Entry) Parent() string {
	if e.DN == "" {
		return e.parent
	}
	parent, err := GetDNParent(e.DN)
	if err != nil {
		return ""
	}
	return parent
}

// Get returns the stored values of attr. Attribute names are case-insensitive.
func (e *Entry) Get(attr string) []string {
	return e.attributes[strings.ToLower(attr)].Values
}

// First returns the first stored value of attr, or "".
func (e *Entry) First(attr string) string {
	values := e.Get(attr)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// ObjectClasses returns the stored and pending object classes.
func (e *Entry) ObjectClasses() []string {
	return append(slices.Clone(e.objectClasses), e.addClasses...)
}

// HasObjectClass reports whether class is stored or pending on the entry.
func (e *Entry) HasObjectClass(class string) bool {
	for _, c := range e.objectClasses {
		if strings.EqualFold(c, class) {
			return true
		}
	}
	for _, c := range e.addClasses {
		if strings.EqualFold(c, class) {
			return true
		}
	}
	return false
}

// AddObjectClass queues an auxiliary class. Adding a present class is a no-op.
func (e *Entry) AddObjectClass(class string) {
	if class == "" || e.HasObjectClass(class) {
		return
	}
	e.addClasses = append(e.addClasses, class)
}

// PendingClasses returns the auxiliary classes not yet persisted.
func (e *Entry) PendingClasses() []string {
	return slices.Clone(e.addClasses)
}

// Set queues an assignment. A later Set of the same attribute replaces the earlier one.
func (e *Entry) Set(attr string, values []string) {
	values = slices.Clone(values)
	for i := range e.pending {
		if strings.EqualFold(e.pending[i].Name, attr) {
			e.pending[i].Values = values
			return
		}
	}
	e.pending = append(e.pending, Attribute{Name: attr, Values: values})
}

// Pending returns the queued assignments in the order they were first set.
func (e *Entry) Pending() []Attribute {
	out := make([]Attribute, len(e.pending))
	for i, a := range e.pending {
		out[i] = Attribute{Name: a.Name, Values: slices.Clone(a.Values)}
	}
	return out
}

// pendingValue returns the queued values of attr.
func (e *Entry) pendingValue(attr string) ([]string, bool) {
	for _, a := range e.pending {
		if strings.EqualFold(a.Name, attr) {
			return a.Values, true
		}
	}
	return nil, false
}

// setLocation records a new DN after a rename or move.
func (e *Entry) setLocation(dn string) {
	e.DN = dn
	if cn, err := FirstRDNValue(dn); err == nil && cn != "" {
		e.attributes["cn"] = Attribute{Name: "cn", Values: []string{cn}}
	}
}

// markPersisted folds pending state into the stored state.
func (e *Entry) markPersisted() {
	for _, a := range e.pending {
		key := strings.ToLower(a.Name)
		if key == "unicodepwd" {
			continue // write-only
		}
		if len(a.Values) == 0 {
			delete(e.attributes, key)
			continue
		}
		e.attributes[key] = a
	}
	e.objectClasses = append(e.objectClasses, e.addClasses...)
	e.pending = nil
	e.addClasses = nil
	e.isNew = false
	e.parent = ""
}
