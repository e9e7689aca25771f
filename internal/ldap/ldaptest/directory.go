// Package ldaptest provides an in-memory directory implementing ldap.Client
// for repository and engine tests.
package ldaptest

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/go-ldap/ldap/v3"
	"github.com/google/uuid"

	adldap "github.com/isometry/haridsync/internal/ldap"
)

// Op records one write made against the directory. Values are omitted.
type Op struct {
	Type       string // add, modify, modify_dn, delete
	DN         string
	NewDN      string   // modify_dn only
	Attributes []string // names touched, sorted
}

// Directory is an in-memory directory tree. The zero value is not usable; use New.
type Directory struct {
	mu        sync.Mutex
	entries   map[string]*ldap.Entry // keyed by normalized lower-case DN
	passwords map[string][]byte
	failures  map[string]error
	ops       []Op
	searches  int
	closed    bool
}

var _ adldap.Client = (*Directory)(nil)

// New returns an empty directory.
func New() *Directory {
	return &Directory{
		entries:   make(map[string]*ldap.Entry),
		passwords: make(map[string][]byte),
		failures:  make(map[string]error),
	}
}

func key(dn string) string {
	norm, err := adldap.NormalizeDNCase(dn)
	if err != nil {
		norm = strings.TrimSpace(dn)
	}
	return strings.ToLower(norm)
}

// Seed stores an entry without recording an operation. An objectGUID is
// generated when attrs carries none.
func (d *Directory) Seed(dn string, attrs map[string][]string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[key(dn)] = buildEntry(dn, attrs)
}

// FailOn makes the next operation of the given type on dn return err.
// Use "search" with the base DN to fail searches.
func (d *Directory) FailOn(opType, dn string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[opType+"|"+key(dn)] = err
}

func (d *Directory) failure(opType, dn string) error {
	k := opType + "|" + key(dn)
	if err, ok := d.failures[k]; ok {
		delete(d.failures, k)
		return err
	}
	return nil
}

// Entry returns a copy of the entry at dn, or nil.
func (d *Directory) Entry(dn string) *ldap.Entry {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[key(dn)]
	if !ok {
		return nil
	}
	return cloneEntry(e)
}

// Find returns a copy of the entry whose sAMAccountName is id, or nil.
func (d *Directory) Find(id string) *ldap.Entry {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, e := range d.entries {
		if strings.EqualFold(e.GetAttributeValue("sAMAccountName"), id) {
			return cloneEntry(e)
		}
	}
	return nil
}

// DNs returns the DNs of all stored entries, sorted.
func (d *Directory) DNs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	dns := make([]string, 0, len(d.entries))
	for _, e := range d.entries {
		dns = append(dns, e.DN)
	}
	slices.Sort(dns)
	return dns
}

// Password returns the last unicodePwd value written to dn.
func (d *Directory) Password(dn string) ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	pw, ok := d.passwords[key(dn)]
	return pw, ok
}

// Ops returns the recorded write operations.
func (d *Directory) Ops() []Op {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.ops)
}

// ResetOps clears the operation log.
func (d *Directory) ResetOps() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ops = nil
}

// Searches returns how many searches were served.
func (d *Directory) Searches() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.searches
}

func (d *Directory) Connect(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = false
	return nil
}

func (d *Directory) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *Directory) Ping(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return adldap.NewConnectionError("connection closed", false, nil)
	}
	return nil
}

func (d *Directory) Search(_ context.Context, req *adldap.SearchRequest) (*adldap.SearchResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.failure("search", req.BaseDN); err != nil {
		return nil, err
	}

	f, err := parseFilter(req.Filter)
	if err != nil {
		return nil, ldap.NewError(ldap.LDAPResultFilterError, err)
	}

	base := key(req.BaseDN)
	var matches []*ldap.Entry
	for k, e := range d.entries {
		if !inScope(k, base, req.Scope) || !f.match(e) {
			continue
		}
		matches = append(matches, cloneEntry(e))
	}
	slices.SortFunc(matches, func(a, b *ldap.Entry) int {
		return strings.Compare(strings.ToLower(a.DN), strings.ToLower(b.DN))
	})
	if req.SizeLimit > 0 && len(matches) > req.SizeLimit {
		matches = matches[:req.SizeLimit]
	}

	d.searches++
	return &adldap.SearchResult{Entries: matches, Total: len(matches)}, nil
}

func inScope(k, base string, scope adldap.SearchScope) bool {
	switch scope {
	case adldap.ScopeBaseObject:
		return k == base
	case adldap.ScopeSingleLevel:
		if base == "" {
			return !strings.Contains(k, ",")
		}
		rest, ok := strings.CutSuffix(k, ","+base)
		return ok && !strings.Contains(rest, ",")
	default:
		return base == "" || k == base || strings.HasSuffix(k, ","+base)
	}
}

func (d *Directory) Add(_ context.Context, req *adldap.AddRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.failure("add", req.DN); err != nil {
		return err
	}

	k := key(req.DN)
	if _, exists := d.entries[k]; exists {
		return ldap.NewError(ldap.LDAPResultEntryAlreadyExists, fmt.Errorf("entry %s already exists", req.DN))
	}

	attrs := maps.Clone(req.Attributes)
	for name, values := range attrs {
		if strings.EqualFold(name, "unicodePwd") {
			d.passwords[k] = []byte(strings.Join(values, ""))
			delete(attrs, name)
		}
	}

	d.entries[k] = buildEntry(req.DN, attrs)
	d.ops = append(d.ops, Op{Type: "add", DN: req.DN, Attributes: sortedNames(req.Attributes)})
	return nil
}

func (d *Directory) Modify(_ context.Context, req *adldap.ModifyRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.failure("modify", req.DN); err != nil {
		return err
	}

	k := key(req.DN)
	e, ok := d.entries[k]
	if !ok {
		return ldap.NewError(ldap.LDAPResultNoSuchObject, fmt.Errorf("no such object %s", req.DN))
	}

	var touched []string
	for _, name := range slices.Sorted(maps.Keys(req.AddAttributes)) {
		touched = append(touched, name)
		attr := attribute(e, name)
		for _, v := range req.AddAttributes[name] {
			if attr != nil && slices.ContainsFunc(attr.Values, func(s string) bool { return strings.EqualFold(s, v) }) {
				return ldap.NewError(ldap.LDAPResultAttributeOrValueExists, fmt.Errorf("%s already has value %s", name, v))
			}
		}
		if attr == nil {
			e.Attributes = append(e.Attributes, newAttribute(name, req.AddAttributes[name]))
			continue
		}
		attr.Values = append(attr.Values, req.AddAttributes[name]...)
		attr.ByteValues = toBytes(attr.Values)
	}

	for _, name := range slices.Sorted(maps.Keys(req.ReplaceAttributes)) {
		touched = append(touched, name)
		values := req.ReplaceAttributes[name]
		if strings.EqualFold(name, "unicodePwd") {
			d.passwords[k] = []byte(strings.Join(values, ""))
			continue
		}
		removeAttribute(e, name)
		if len(values) > 0 {
			e.Attributes = append(e.Attributes, newAttribute(name, values))
		}
	}

	for _, name := range req.DeleteAttributes {
		touched = append(touched, name)
		removeAttribute(e, name)
	}

	slices.Sort(touched)
	d.ops = append(d.ops, Op{Type: "modify", DN: e.DN, Attributes: touched})
	return nil
}

func (d *Directory) ModifyDN(_ context.Context, req *adldap.ModifyDNRequest) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.failure("modify_dn", req.DN); err != nil {
		return err
	}

	k := key(req.DN)
	e, ok := d.entries[k]
	if !ok {
		return ldap.NewError(ldap.LDAPResultNoSuchObject, fmt.Errorf("no such object %s", req.DN))
	}

	superior := req.NewSuperior
	if superior == "" {
		parent, err := adldap.GetDNParent(e.DN)
		if err != nil {
			return ldap.NewError(ldap.LDAPResultInvalidDNSyntax, err)
		}
		superior = parent
	}
	newDN := adldap.JoinDN(req.NewRDN, superior)
	newKey := key(newDN)
	if _, exists := d.entries[newKey]; exists && newKey != k {
		return ldap.NewError(ldap.LDAPResultEntryAlreadyExists, fmt.Errorf("entry %s already exists", newDN))
	}

	oldDN := e.DN
	delete(d.entries, k)
	e.DN = newDN
	if cn, err := adldap.FirstRDNValue(newDN); err == nil {
		removeAttribute(e, "cn")
		e.Attributes = append(e.Attributes, newAttribute("cn", []string{cn}))
	}
	d.entries[newKey] = e
	if pw, ok := d.passwords[k]; ok {
		delete(d.passwords, k)
		d.passwords[newKey] = pw
	}

	d.ops = append(d.ops, Op{Type: "modify_dn", DN: oldDN, NewDN: newDN})
	return nil
}

func (d *Directory) Delete(_ context.Context, dn string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.failure("delete", dn); err != nil {
		return err
	}

	k := key(dn)
	e, ok := d.entries[k]
	if !ok {
		return ldap.NewError(ldap.LDAPResultNoSuchObject, fmt.Errorf("no such object %s", dn))
	}
	delete(d.entries, k)
	delete(d.passwords, k)
	d.ops = append(d.ops, Op{Type: "delete", DN: e.DN})
	return nil
}

// ErrConnectionLost is a transport failure for FailOn.
var ErrConnectionLost = adldap.NewConnectionError("connection lost", false, errors.New("broken pipe"))

func buildEntry(dn string, attrs map[string][]string) *ldap.Entry {
	e := &ldap.Entry{DN: dn}
	hasGUID := false
	for _, name := range slices.Sorted(maps.Keys(attrs)) {
		if strings.EqualFold(name, "objectGUID") {
			hasGUID = true
		}
		e.Attributes = append(e.Attributes, newAttribute(name, attrs[name]))
	}
	if !hasGUID {
		guid := adldap.EncodeGUID(uuid.New())
		e.Attributes = append(e.Attributes, &ldap.EntryAttribute{
			Name:       "objectGUID",
			Values:     []string{string(guid)},
			ByteValues: [][]byte{guid},
		})
	}
	return e
}

func newAttribute(name string, values []string) *ldap.EntryAttribute {
	return &ldap.EntryAttribute{
		Name:       name,
		Values:     slices.Clone(values),
		ByteValues: toBytes(values),
	}
}

func toBytes(values []string) [][]byte {
	out := make([][]byte, len(values))
	for i, v := range values {
		out[i] = []byte(v)
	}
	return out
}

func attribute(e *ldap.Entry, name string) *ldap.EntryAttribute {
	for _, a := range e.Attributes {
		if strings.EqualFold(a.Name, name) {
			return a
		}
	}
	return nil
}

func removeAttribute(e *ldap.Entry, name string) {
	e.Attributes = slices.DeleteFunc(e.Attributes, func(a *ldap.EntryAttribute) bool {
		return strings.EqualFold(a.Name, name)
	})
}

func cloneEntry(e *ldap.Entry) *ldap.Entry {
	out := &ldap.Entry{DN: e.DN, Attributes: make([]*ldap.EntryAttribute, len(e.Attributes))}
	for i, a := range e.Attributes {
		byteValues := make([][]byte, len(a.ByteValues))
		for j, b := range a.ByteValues {
			byteValues[j] = slices.Clone(b)
		}
		out.Attributes[i] = &ldap.EntryAttribute{
			Name:       a.Name,
			Values:     slices.Clone(a.Values),
			ByteValues: byteValues,
		}
	}
	return out
}

func sortedNames(attrs map[string][]string) []string {
	return slices.Sorted(maps.Keys(attrs))
}
