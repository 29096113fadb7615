package pipeline

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAuthorizerDenyOverridesBlocksOnExplicitDeny(t *testing.T) {
	rules := []Rule{
		{Name: "allow-all", Effect: EffectAllow, Priority: 1, Resources: []string{"*"}},
		{Name: "deny-admin", Effect: EffectDeny, Priority: 10, Resources: []string{"/admin/*"}},
	}
	az := NewAuthorizer(rules, CombinatorDenyOverrides, nil)

	req := httptest.NewRequest(http.MethodGet, "/admin/users", nil)
	if az.Authorize(req, Principal{}) {
		t.Error("expected deny-overrides to block a path matching an explicit deny")
	}

	req2 := httptest.NewRequest(http.MethodGet, "/public", nil)
	if !az.Authorize(req2, Principal{}) {
		t.Error("expected deny-overrides to allow a path not matching any deny")
	}
}

func TestAuthorizerSuperAdminBypassesRules(t *testing.T) {
	rules := []Rule{{Name: "deny-all", Effect: EffectDeny, Resources: []string{"*"}}}
	az := NewAuthorizer(rules, CombinatorDenyOverrides, []string{"superadmin"})

	req := httptest.NewRequest(http.MethodGet, "/anything", nil)
	if !az.Authorize(req, Principal{Roles: []string{"superadmin"}}) {
		t.Error("expected super-admin role to bypass all rules")
	}
}

func TestHierarchicalPermissionWildcardGrantsSubPermission(t *testing.T) {
	rules := []Rule{{Name: "needs-perm", Effect: EffectAllow, Resources: []string{"*"}, Permissions: []string{"orders:read"}}}
	az := NewAuthorizer(rules, CombinatorFirstApplicable, nil)

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	if !az.Authorize(req, Principal{Permissions: []string{"orders:*"}}) {
		t.Error("expected orders:* to grant orders:read")
	}
}

func TestFirstApplicableStopsAtFirstMatch(t *testing.T) {
	rules := []Rule{
		{Name: "deny", Effect: EffectDeny, Priority: 5, Resources: []string{"/x"}},
		{Name: "allow", Effect: EffectAllow, Priority: 1, Resources: []string{"/x"}},
	}
	az := NewAuthorizer(rules, CombinatorFirstApplicable, nil)

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	if az.Authorize(req, Principal{}) {
		t.Error("expected the higher-priority deny rule to win under first-applicable")
	}
}
