// Package mapping translates source records into directory attribute
// assignments.
//
// A Table is plain data: every rule either copies one record field or names
// a computed rule that the Mapper dispatches through its registry.
package mapping

import (
	adldap "github.com/isometry/haridsync/internal/ldap"
)

// RuleID names a computed rule.
type RuleID string

const (
	RuleFullName       RuleID = "fullName"
	RuleGecos          RuleID = "gecos"
	RuleAccountControl RuleID = "accountControl"
	RulePersonCategory RuleID = "personCategory"
	RuleGroupCategory  RuleID = "groupCategory"
	RuleGroupType      RuleID = "groupType"
	RuleCommonName     RuleID = "commonName"
	RulePassword       RuleID = "password"
	RuleMembers        RuleID = "members"
)

// Rule maps one directory attribute. Exactly one of Field and Computed is set.
type Rule struct {
	Attribute string
	Field     string
	Computed  RuleID
}

// IsComputed reports whether the rule is dispatched through the registry.
func (r Rule) IsComputed() bool {
	return r.Computed != ""
}

// DirectCopy copies field into attribute. An absent or null field skips the attribute.
func DirectCopy(attribute, field string) Rule {
	return Rule{Attribute: attribute, Field: field}
}

// Computed derives attribute from the record and entry with rule id.
func Computed(attribute string, id RuleID) Rule {
	return Rule{Attribute: attribute, Computed: id}
}

// Table is an ordered list of rules.
type Table []Rule

// UserTable maps user records.
var UserTable = Table{
	DirectCopy("uid", "uid"),
	DirectCopy("sAMAccountName", "uid"),
	DirectCopy("uidNumber", "uid_number"),
	DirectCopy("gidNumber", "gid_number"),
	Computed("cn", RuleCommonName),
	DirectCopy("givenName", "first_name"),
	DirectCopy("sn", "last_name"),
	Computed("displayName", RuleFullName),
	DirectCopy("telephoneNumber", "phone"),
	DirectCopy("mail", "email"),
	Computed("unicodePwd", RulePassword),
	DirectCopy("unixHomeDirectory", "unix_home_directory"),
	DirectCopy("loginShell", "shell"),
	Computed("gecos", RuleGecos),
	Computed("objectCategory", RulePersonCategory),
	Computed("userAccountControl", RuleAccountControl),
}

// GroupTable maps group records.
var GroupTable = Table{
	DirectCopy("cn", "name"),
	DirectCopy("sAMAccountName", "name"),
	DirectCopy("gidNumber", "gid_number"),
	DirectCopy("description", "description"),
	Computed("member", RuleMembers),
	Computed("objectCategory", RuleGroupCategory),
	Computed("groupType", RuleGroupType),
}

// TableFor returns the table of kind.
func TableFor(kind adldap.Kind) Table {
	if kind == adldap.KindGroup {
		return GroupTable
	}
	return UserTable
}
