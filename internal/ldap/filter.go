package ldap

import (
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// EqualityFilter returns "(attr=value)" with value escaped.
func EqualityFilter(attr, value string) string {
	return fmt.Sprintf("(%s=%s)", attr, ldap.EscapeFilter(value))
}

// PrefixFilter returns "(attr=value*)" with value escaped.
func PrefixFilter(attr, prefix string) string {
	return fmt.Sprintf("(%s=%s*)", attr, ldap.EscapeFilter(prefix))
}

// AndFilter joins filter parts with "&". A single part is returned as is.
func AndFilter(parts ...string) string {
	var filterParts []string
	for _, p := range parts {
		if p != "" {
			filterParts = append(filterParts, p)
		}
	}

	switch len(filterParts) {
	case 0:
		return "(objectClass=*)"
	case 1:
		return filterParts[0]
	default:
		return fmt.Sprintf("(&%s)", strings.Join(filterParts, ""))
	}
}
