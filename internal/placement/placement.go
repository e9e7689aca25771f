// Package placement decides which container an entry belongs in and moves
// it there.
package placement

import (
	"context"
	"fmt"
	"strings"

	adldap "github.com/isometry/haridsync/internal/ldap"
	"github.com/isometry/haridsync/internal/source"
)

// DefaultPrefix is the container used when a record names no OU.
const DefaultPrefix = "CN=Users"

// OUField is the record field holding the OU path relative to the base DN.
const OUField = "ou"

// Mover relocates an entry under a new parent and updates its DN.
type Mover interface {
	MoveEntry(ctx context.Context, e *adldap.Entry, newBase string) error
}

// Resolver computes desired locations relative to BaseDN.
type Resolver struct {
	BaseDN        string
	DefaultPrefix string
	mover         Mover
}

// NewResolver returns a resolver. An empty defaultPrefix uses DefaultPrefix.
func NewResolver(baseDN, defaultPrefix string, mover Mover) *Resolver {
	if defaultPrefix == "" {
		defaultPrefix = DefaultPrefix
	}
	return &Resolver{BaseDN: baseDN, DefaultPrefix: defaultPrefix, mover: mover}
}

// Desired returns the normalized parent DN rec should live under.
func (r *Resolver) Desired(rec source.Record) (string, error) {
	prefix, ok := rec.String(OUField)
	if !ok || strings.TrimSpace(prefix) == "" {
		prefix = r.DefaultPrefix
	}

	dn, err := adldap.NormalizeDNCase(adldap.JoinDN(strings.TrimSpace(prefix), r.BaseDN))
	if err != nil {
		return "", fmt.Errorf("invalid OU %q: %w", prefix, err)
	}
	return dn, nil
}

// Capture returns the parent of e before any mutation. It is empty for
// entries that have never been persisted.
func Capture(e *adldap.Entry) string {
	if e.IsNew() {
		return ""
	}
	return e.Parent()
}

// Ensure moves e under the desired location of rec when that differs from
// previous, the location captured before e was mapped and persisted.
// A previous of "" means e was just created in its desired location.
func (r *Resolver) Ensure(ctx context.Context, e *adldap.Entry, rec source.Record, previous string) (bool, error) {
	if previous == "" {
		return false, nil
	}

	desired, err := r.Desired(rec)
	if err != nil {
		return false, err
	}
	if adldap.EqualDN(desired, previous) {
		return false, nil
	}

	if err := r.mover.MoveEntry(ctx, e, desired); err != nil {
		return false, fmt.Errorf("failed to move %s %q to %s: %w", e.Kind, e.Identifier, desired, err)
	}
	return true, nil
}
