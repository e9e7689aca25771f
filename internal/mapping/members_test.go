package mapping

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	adldap "github.com/isometry/haridsync/internal/ldap"
	"github.com/isometry/haridsync/internal/ldap/ldaptest"
)

type mockLookup struct {
	mock.Mock
}

func (m *mockLookup) FindByIdentifier(ctx context.Context, kind adldap.Kind, id string) (*adldap.Entry, error) {
	args := m.Called(kind, id)
	if e := args.Get(0); e != nil {
		return e.(*adldap.Entry), args.Error(1)
	}
	return nil, args.Error(1)
}

func TestMemberResolverCaches(t *testing.T) {
	dir := ldaptest.New()
	dir.Seed("CN=John Smith,OU=Staff,DC=example,DC=com", map[string][]string{
		"objectClass":    {"top", "person", "organizationalPerson", "user"},
		"cn":             {"John Smith"},
		"sAMAccountName": {"jsmith"},
	})
	repo := adldap.NewEntryRepository(dir, adldap.RepositoryConfig{BaseDN: baseDN})
	jsmith, err := repo.FindByIdentifier(context.Background(), adldap.KindUser, "jsmith")
	require.NoError(t, err)

	lookup := &mockLookup{}
	lookup.On("FindByIdentifier", adldap.KindUser, "jsmith").Return(jsmith, nil).Once()
	lookup.On("FindByIdentifier", adldap.KindUser, "ghost").Return(nil, nil).Once()

	r, err := NewMemberResolver(lookup, 0)
	require.NoError(t, err)

	for range 3 {
		dns, err := r.Resolve(context.Background(), []string{"ghost", "jsmith", ""})
		require.NoError(t, err)
		assert.Equal(t, []string{"CN=John Smith,OU=Staff,DC=example,DC=com"}, dns)
	}
	lookup.AssertExpectations(t)

	r.Forget("jsmith")
	lookup.On("FindByIdentifier", adldap.KindUser, "jsmith").Return(jsmith, nil).Once()
	_, err = r.Resolve(context.Background(), []string{"jsmith"})
	require.NoError(t, err)
	lookup.AssertNumberOfCalls(t, "FindByIdentifier", 3)
}

func TestMemberResolverNormalizesDNCase(t *testing.T) {
	tests := []struct {
		name    string
		dn      string
		want    []string
		wantErr bool
	}{
		{"lowercase types", "cn=John Smith,ou=Staff,dc=example,dc=com", []string{"CN=John Smith,OU=Staff,DC=example,DC=com"}, false},
		{"surrounding space", "  cn=John Smith,ou=Staff,dc=example,dc=com ", []string{"CN=John Smith,OU=Staff,DC=example,DC=com"}, false},
		{"escaped value", "cn=Smith\\, John,ou=Staff,dc=example,dc=com", []string{"CN=Smith\\, John,OU=Staff,DC=example,DC=com"}, false},
		{"invalid", "not a dn", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lookup := &mockLookup{}
			lookup.On("FindByIdentifier", adldap.KindUser, "jsmith").
				Return(&adldap.Entry{Kind: adldap.KindUser, Identifier: "jsmith", DN: tt.dn}, nil)

			r, err := NewMemberResolver(lookup, 0)
			require.NoError(t, err)

			dns, err := r.Resolve(context.Background(), []string{"jsmith"})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, dns)
		})
	}
}

func TestMemberResolverError(t *testing.T) {
	lookup := &mockLookup{}
	lookup.On("FindByIdentifier", adldap.KindUser, "jsmith").Return(nil, errors.New("server down"))

	r, err := NewMemberResolver(lookup, 8)
	require.NoError(t, err)

	_, err = r.Resolve(context.Background(), []string{"jsmith"})
	assert.ErrorContains(t, err, "server down")

	r.Purge()
	var nilResolver *MemberResolver
	nilResolver.Purge()
}
