package mapping

import (
	"context"
	"fmt"
	"slices"

	lru "github.com/hashicorp/golang-lru/v2"

	adldap "github.com/isometry/haridsync/internal/ldap"
)

// DefaultMemberCacheSize bounds the uid to DN cache.
const DefaultMemberCacheSize = 4096

// UserLookup finds a user by sAMAccountName.
type UserLookup interface {
	FindByIdentifier(ctx context.Context, kind adldap.Kind, id string) (*adldap.Entry, error)
}

// MemberResolver turns member uids into user DNs. Unknown uids resolve to
// nothing and are cached as such.
type MemberResolver struct {
	lookup UserLookup
	cache  *lru.Cache[string, string]
}

// NewMemberResolver returns a resolver caching up to size lookups.
func NewMemberResolver(lookup UserLookup, size int) (*MemberResolver, error) {
	if size <= 0 {
		size = DefaultMemberCacheSize
	}
	cache, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create member cache: %w", err)
	}
	return &MemberResolver{lookup: lookup, cache: cache}, nil
}

// Resolve returns the sorted, de-duplicated DNs of the users in uids.
func (r *MemberResolver) Resolve(ctx context.Context, uids []string) ([]string, error) {
	dns := make([]string, 0, len(uids))
	for _, uid := range uids {
		if uid == "" {
			continue
		}
		dn, err := r.resolve(ctx, uid)
		if err != nil {
			return nil, err
		}
		if dn != "" {
			dns = append(dns, dn)
		}
	}
	slices.Sort(dns)
	return slices.Compact(dns), nil
}

func (r *MemberResolver) resolve(ctx context.Context, uid string) (string, error) {
	if dn, ok := r.cache.Get(uid); ok {
		return dn, nil
	}

	e, err := r.lookup.FindByIdentifier(ctx, adldap.KindUser, uid)
	if err != nil {
		return "", fmt.Errorf("failed to resolve member %q: %w", uid, err)
	}

	dn := ""
	if e != nil {
		// member values compare against DNs built by this service
		if dn, err = adldap.NormalizeDNCase(e.DN); err != nil {
			return "", fmt.Errorf("failed to resolve member %q: %w", uid, err)
		}
	}
	r.cache.Add(uid, dn)
	return dn, nil
}

// Forget drops the cached DN of uid, e.g. after the user moved.
func (r *MemberResolver) Forget(uid string) {
	if r != nil {
		r.cache.Remove(uid)
	}
}

// Purge empties the cache.
func (r *MemberResolver) Purge() {
	if r != nil {
		r.cache.Purge()
	}
}
