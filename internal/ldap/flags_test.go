package ldap

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAccountControl(t *testing.T) {
	assert.Equal(t, int32(0x200), AccountControl(true))
	assert.Equal(t, int32(0x202), AccountControl(false))
	assert.True(t, AccountEnabled(AccountControl(true)))
	assert.False(t, AccountEnabled(AccountControl(false)))
}

func TestCalculateGroupType(t *testing.T) {
	tests := []struct {
		name         string
		scope        GroupScope
		category     GroupCategory
		expectedType int32
	}{
		{
			name:         "Global Security",
			scope:        GroupScopeGlobal,
			category:     GroupCategorySecurity,
			expectedType: -2147483646,
		},
		{
			name:         "Global Distribution",
			scope:        GroupScopeGlobal,
			category:     GroupCategoryDistribution,
			expectedType: GroupTypeFlagGlobal,
		},
		{
			name:         "Universal Security",
			scope:        GroupScopeUniversal,
			category:     GroupCategorySecurity,
			expectedType: GroupTypeFlagUniversal | GroupTypeFlagSecurity,
		},
		{
			name:         "Domain Local Distribution",
			scope:        GroupScopeDomainLocal,
			category:     GroupCategoryDistribution,
			expectedType: GroupTypeFlagDomainLocal,
		},
		{
			name:         "Unknown scope defaults to Global",
			scope:        GroupScope("Galactic"),
			category:     GroupCategorySecurity,
			expectedType: GroupTypeFlagGlobal | GroupTypeFlagSecurity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CalculateGroupType(tt.scope, tt.category)
			assert.Equal(t, tt.expectedType, result, "Group type calculation mismatch")

			scope, category := ParseGroupType(result)
			if tt.scope == GroupScope("Galactic") {
				assert.Equal(t, GroupScopeGlobal, scope)
			} else {
				assert.Equal(t, tt.scope, scope)
			}
			assert.Equal(t, tt.category, category)
		})
	}
}

func TestParseGroupScopeAndCategory(t *testing.T) {
	assert.Equal(t, GroupScopeUniversal, ParseGroupScope("UNIVERSAL"))
	assert.Equal(t, GroupScopeDomainLocal, ParseGroupScope("domainlocal"))
	assert.Equal(t, GroupScopeGlobal, ParseGroupScope(""))
	assert.Equal(t, GroupCategoryDistribution, ParseGroupCategory("distribution"))
	assert.Equal(t, GroupCategorySecurity, ParseGroupCategory("anything"))
}
