package ldap

import (
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// NormalizeDNCase normalizes the attribute type descriptors in a Distinguished Name
// to uppercase to match Active Directory's canonical format.
//
// Input:  "cn=john,ou=users,dc=example,dc=com"
// Output: "CN=john,OU=users,DC=example,DC=com"
//
// Values keep their case and are re-escaped per RFC 4514, so the result
// is always a valid DN.
func NormalizeDNCase(dn string) (string, error) {
	dn = strings.TrimSpace(dn)
	if dn == "" {
		return "", nil
	}

	parsedDN, err := ldap.ParseDN(dn)
	if err != nil {
		return "", fmt.Errorf("invalid DN syntax: %w", err)
	}

	return formatDN(parsedDN.RDNs), nil
}

// formatDN rebuilds a DN with uppercase attribute types and escaped values.
func formatDN(rdns []*ldap.RelativeDN) string {
	rdnStrings := make([]string, 0, len(rdns))

	for _, rdn := range rdns {
		attrStrings := make([]string, 0, len(rdn.Attributes))
		for _, attr := range rdn.Attributes {
			attrStrings = append(attrStrings, strings.ToUpper(attr.Type)+"="+EscapeDNValue(attr.Value))
		}
		rdnStrings = append(rdnStrings, strings.Join(attrStrings, "+"))
	}

	return strings.Join(rdnStrings, ",")
}

// EqualDN reports whether two DNs name the same entry, ignoring case and formatting.
func EqualDN(a, b string) bool {
	na, errA := NormalizeDNCase(a)
	nb, errB := NormalizeDNCase(b)
	if errA != nil || errB != nil {
		return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
	}
	return strings.EqualFold(na, nb)
}

// GetDNParent returns the parent DN by removing the first RDN component.
// For example, "CN=John,OU=Users,DC=example,DC=com" becomes "OU=Users,DC=example,DC=com".
func GetDNParent(dn string) (string, error) {
	if dn == "" {
		return "", fmt.Errorf("DN cannot be empty")
	}

	parsedDN, err := ldap.ParseDN(dn)
	if err != nil {
		return "", fmt.Errorf("invalid DN syntax: %w", err)
	}

	if len(parsedDN.RDNs) <= 1 {
		return "", fmt.Errorf("DN has no parent: %s", dn)
	}

	return formatDN(parsedDN.RDNs[1:]), nil
}

// FirstRDNValue returns the unescaped value of the leading RDN,
// e.g. "John, Doe" for "CN=John\, Doe,OU=Users,DC=example,DC=com".
func FirstRDNValue(dn string) (string, error) {
	if dn == "" {
		return "", fmt.Errorf("DN cannot be empty")
	}

	parsedDN, err := ldap.ParseDN(dn)
	if err != nil {
		return "", fmt.Errorf("invalid DN syntax: %w", err)
	}

	if len(parsedDN.RDNs) == 0 || len(parsedDN.RDNs[0].Attributes) == 0 {
		return "", fmt.Errorf("DN has no RDN: %s", dn)
	}

	return parsedDN.RDNs[0].Attributes[0].Value, nil
}

// CNRDN builds the relative DN "CN=<escaped value>".
func CNRDN(cn string) string {
	return "CN=" + EscapeDNValue(cn)
}

// JoinDN appends rdn to parent.
func JoinDN(rdn, parent string) string {
	if parent == "" {
		return rdn
	}
	return rdn + "," + parent
}

// EscapeDNValue escapes special characters in a DN attribute value according to RFC 4514.
//
// Examples:
//   - "John Doe" → "John Doe" (no change)
//   - "Doe, John" → "Doe\, John" (comma escaped)
//   - " John " → "\ John\ " (leading/trailing spaces escaped)
//   - "#123" → "\#123" (leading # escaped)
func EscapeDNValue(value string) string {
	if value == "" {
		return value
	}

	var result strings.Builder
	result.Grow(len(value) + 10)

	for i, r := range value {
		switch r {
		case ',', '+', '"', '\\', '<', '>', ';':
			result.WriteRune('\\')
			result.WriteRune(r)
		case '#':
			if i == 0 {
				result.WriteRune('\\')
			}
			result.WriteRune(r)
		case ' ':
			if i == 0 || i == len(value)-1 {
				result.WriteRune('\\')
			}
			result.WriteRune(r)
		case 0:
			result.WriteString("\\00")
		default:
			result.WriteRune(r)
		}
	}

	return result.String()
}
