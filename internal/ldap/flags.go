package ldap

import "strings"

// userAccountControl flags written by the synchronization.
const (
	UACAccountDisabled      int32 = 0x00000002 // Account is disabled
	UACPasswordNotRequired  int32 = 0x00000020 // No password required
	UACNormalAccount        int32 = 0x00000200 // Normal user account
	UACPasswordNeverExpires int32 = 0x00010000 // Password never expires
)

// AccountControl returns the userAccountControl value of a normal account,
// with the disabled bit set unless active.
func AccountControl(active bool) int32 {
	uac := UACNormalAccount
	if !active {
		uac |= UACAccountDisabled
	}
	return uac
}

// AccountEnabled reports whether uac leaves the account enabled.
func AccountEnabled(uac int32) bool {
	return uac&UACAccountDisabled == 0
}

// GroupScope represents the scope of an Active Directory group.
type GroupScope string

const (
	GroupScopeGlobal      GroupScope = "Global"      // Global groups can contain members from the same domain
	GroupScopeUniversal   GroupScope = "Universal"   // Universal groups can contain members from any domain in the forest
	GroupScopeDomainLocal GroupScope = "DomainLocal" // Domain Local groups can contain members from any domain
)

// GroupCategory represents the category of an Active Directory group.
type GroupCategory string

const (
	GroupCategorySecurity     GroupCategory = "Security"     // Security group for access control
	GroupCategoryDistribution GroupCategory = "Distribution" // Distribution group for email distribution lists
)

// Active Directory group type bit flags.
const (
	// Group scope flags (mutually exclusive).
	GroupTypeFlagGlobal      int32 = 0x00000002 // ADS_GROUP_TYPE_GLOBAL_GROUP
	GroupTypeFlagDomainLocal int32 = 0x00000004 // ADS_GROUP_TYPE_DOMAIN_LOCAL_GROUP
	GroupTypeFlagUniversal   int32 = 0x00000008 // ADS_GROUP_TYPE_UNIVERSAL_GROUP

	// Group category flag.
	GroupTypeFlagSecurity int32 = -2147483648 // ADS_GROUP_TYPE_SECURITY_ENABLED (0x80000000 as signed int32)
)

// ParseGroupScope accepts a scope name in any case. Unknown names yield Global.
func ParseGroupScope(s string) GroupScope {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "universal":
		return GroupScopeUniversal
	case "domainlocal", "domain_local":
		return GroupScopeDomainLocal
	default:
		return GroupScopeGlobal
	}
}

// ParseGroupCategory accepts a category name in any case. Unknown names yield Security.
func ParseGroupCategory(s string) GroupCategory {
	if strings.EqualFold(strings.TrimSpace(s), string(GroupCategoryDistribution)) {
		return GroupCategoryDistribution
	}
	return GroupCategorySecurity
}

// CalculateGroupType calculates the Active Directory groupType value from scope and category.
func CalculateGroupType(scope GroupScope, category GroupCategory) int32 {
	var groupType int32

	switch scope {
	case GroupScopeDomainLocal:
		groupType |= GroupTypeFlagDomainLocal
	case GroupScopeUniversal:
		groupType |= GroupTypeFlagUniversal
	default:
		groupType |= GroupTypeFlagGlobal
	}

	if category == GroupCategorySecurity {
		groupType |= GroupTypeFlagSecurity
	}

	return groupType
}

// ParseGroupType extracts scope and category from an Active Directory groupType value.
func ParseGroupType(groupType int32) (GroupScope, GroupCategory) {
	var scope GroupScope
	switch {
	case groupType&GroupTypeFlagDomainLocal != 0:
		scope = GroupScopeDomainLocal
	case groupType&GroupTypeFlagUniversal != 0:
		scope = GroupScopeUniversal
	default:
		scope = GroupScopeGlobal
	}

	category := GroupCategoryDistribution
	if groupType&GroupTypeFlagSecurity != 0 {
		category = GroupCategorySecurity
	}

	return scope, category
}
