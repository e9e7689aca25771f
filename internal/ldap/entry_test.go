package ldap

import (
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
)

func sampleLDAPEntry() *ldap.Entry {
	return ldap.NewEntry("CN=John Smith,OU=Staff,DC=example,DC=com", map[string][]string{
		"cn":             {"John Smith"},
		"sAMAccountName": {"jsmith"},
		"objectClass":    {"top", "person", "organizationalPerson", "user"},
		"mail":           {"jsmith@example.com"},
	})
}

func TestEntryFromLDAP(t *testing.T) {
	e := entryFromLDAP(KindUser, "jsmith", sampleLDAPEntry())

	assert.False(t, e.IsNew())
	assert.Equal(t, "John Smith", e.Name())
	assert.Equal(t, "OU=Staff,DC=example,DC=com", e.Parent())
	assert.Equal(t, []string{"jsmith@example.com"}, e.Get("MAIL"))
	assert.Equal(t, "jsmith", e.First("samaccountname"))
	assert.True(t, e.HasObjectClass("User"))
	assert.False(t, e.HasObjectClass("posixAccount"))
	assert.Nil(t, e.Get("objectClass"), "object classes are kept apart from attributes")
}

func TestNewEntry(t *testing.T) {
	e := newEntry(KindGroup, "staff", "OU=Groups,DC=example,DC=com")

	assert.True(t, e.IsNew())
	assert.Equal(t, "", e.DN)
	assert.Equal(t, "", e.Name())
	assert.Equal(t, "OU=Groups,DC=example,DC=com", e.Parent())
}

func TestEntryAddObjectClassIsIdempotent(t *testing.T) {
	e := entryFromLDAP(KindUser, "jsmith", sampleLDAPEntry())

	e.AddObjectClass("user")
	e.AddObjectClass("posixAccount")
	e.AddObjectClass("POSIXACCOUNT")

	assert.Equal(t, []string{"posixAccount"}, e.PendingClasses())
	assert.True(t, e.HasObjectClass("posixaccount"))
}

func TestEntrySetReplacesEarlierAssignment(t *testing.T) {
	e := newEntry(KindUser, "jsmith", "CN=Users,DC=example,DC=com")

	e.Set("mail", []string{"a@example.com"})
	e.Set("sn", []string{"Smith"})
	e.Set("Mail", []string{"b@example.com"})

	assert.Equal(t, []Attribute{
		{Name: "mail", Values: []string{"b@example.com"}},
		{Name: "sn", Values: []string{"Smith"}},
	}, e.Pending())
}

func TestEntryMarkPersisted(t *testing.T) {
	e := entryFromLDAP(KindUser, "jsmith", sampleLDAPEntry())
	e.AddObjectClass("posixAccount")
	e.Set("mail", nil)
	e.Set("uidNumber", []string{"1042"})
	e.Set("unicodePwd", []string{"secret"})

	e.markPersisted()

	assert.Empty(t, e.Pending())
	assert.Empty(t, e.PendingClasses())
	assert.True(t, e.HasObjectClass("posixAccount"))
	assert.Nil(t, e.Get("mail"))
	assert.Equal(t, []string{"1042"}, e.Get("uidNumber"))
	assert.Nil(t, e.Get("unicodePwd"), "unicodePwd is write-only")
}

func TestKind(t *testing.T) {
	assert.Equal(t, "user", KindUser.String())
	assert.Equal(t, "group", KindGroup.String())
	assert.Equal(t, "uidNumber", KindUser.NumberAttribute())
	assert.Equal(t, "gidNumber", KindGroup.NumberAttribute())
	assert.Equal(t, "group", KindGroup.ObjectClass())
}
