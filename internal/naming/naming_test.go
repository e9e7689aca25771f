package naming

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	adldap "github.com/isometry/haridsync/internal/ldap"
	"github.com/isometry/haridsync/internal/ldap/ldaptest"
)

func TestNextName(t *testing.T) {
	tests := []struct {
		name     string
		existing []string
		want     string
	}{
		{name: "no namesakes", existing: nil, want: "John Smith"},
		{name: "unrelated prefix match", existing: []string{"John Smithers"}, want: "John Smith"},
		{name: "bare namesake", existing: []string{"John Smith"}, want: "John Smith2"},
		{name: "highest suffix wins", existing: []string{"John Smith", "John Smith2", "John Smith7"}, want: "John Smith8"},
		{name: "suffix without bare", existing: []string{"John Smith3"}, want: "John Smith4"},
		{name: "case insensitive", existing: []string{"john smith"}, want: "John Smith2"},
		{name: "huge suffix ignored", existing: []string{"John Smith99999999999999999999999"}, want: "John Smith"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NextName("John Smith", tt.existing))
		})
	}
}

func TestNextNameQuotesBase(t *testing.T) {
	assert.Equal(t, "a.b", NextName("a.b", []string{"aXb"}))
	assert.Equal(t, "C++ Team2", NextName("C++ Team", []string{"C++ Team"}))
}

type lookupFunc func(ctx context.Context, kind adldap.Kind, prefix string) ([]string, error)

func (f lookupFunc) FindNamesWithPrefix(ctx context.Context, kind adldap.Kind, prefix string) ([]string, error) {
	return f(ctx, kind, prefix)
}

func TestName(t *testing.T) {
	ctx := context.Background()
	dir := ldaptest.New()
	repo := adldap.NewEntryRepository(dir, adldap.RepositoryConfig{BaseDN: "DC=example,DC=com"})
	d := NewDisambiguator(repo)

	dir.Seed("CN=John Smith,CN=Users,DC=example,DC=com", map[string][]string{
		"objectClass":    {"top", "person", "organizationalPerson", "user"},
		"cn":             {"John Smith"},
		"sAMAccountName": {"jsmith"},
	})
	dir.Seed("CN=John Smith3,CN=Users,DC=example,DC=com", map[string][]string{
		"objectClass":    {"top", "person", "organizationalPerson", "user"},
		"cn":             {"John Smith3"},
		"sAMAccountName": {"jsmith3"},
	})

	t.Run("new entry takes the next suffix", func(t *testing.T) {
		name, err := d.Name(ctx, "John Smith", repo.Create(adldap.KindUser, "jsmith4", "CN=Users,DC=example,DC=com"))
		require.NoError(t, err)
		assert.Equal(t, "John Smith4", name)
	})

	t.Run("existing matching entry keeps its name", func(t *testing.T) {
		e, err := repo.FindByIdentifier(ctx, adldap.KindUser, "jsmith3")
		require.NoError(t, err)
		name, err := d.Name(ctx, "John Smith", e)
		require.NoError(t, err)
		assert.Equal(t, "John Smith3", name)
	})

	t.Run("existing entry with a different name is renamed", func(t *testing.T) {
		e, err := repo.FindByIdentifier(ctx, adldap.KindUser, "jsmith")
		require.NoError(t, err)
		name, err := d.Name(ctx, "Johnny Smith", e)
		require.NoError(t, err)
		assert.Equal(t, "Johnny Smith", name)
	})

	t.Run("empty base falls back to identifier", func(t *testing.T) {
		name, err := d.Name(ctx, "", repo.Create(adldap.KindUser, "jdoe", "CN=Users,DC=example,DC=com"))
		require.NoError(t, err)
		assert.Equal(t, "jdoe", name)
	})
}

func TestNameLookupError(t *testing.T) {
	d := NewDisambiguator(lookupFunc(func(context.Context, adldap.Kind, string) ([]string, error) {
		return nil, errors.New("server down")
	}))
	repo := adldap.NewEntryRepository(ldaptest.New(), adldap.RepositoryConfig{})

	_, err := d.Name(context.Background(), "John Smith", repo.Create(adldap.KindUser, "jsmith", ""))
	assert.ErrorContains(t, err, "server down")
}
