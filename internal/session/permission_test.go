package session

import (
	"encoding/json"
	"testing"
)

func TestHasPermission(t *testing.T) {
	cases := []struct {
		name      string
		role      Role
		names     []string
		perms     []Permission
		requested string
		want      bool
	}{
		{"super admin unconditional", RoleSuperAdmin, nil, nil, "product.delete", true},
		{"super admin mixed case", Role("Super_Admin"), []string{"product.read"}, nil, "product.delete", true},
		{"admin legacy fallback", RoleAdmin, nil, nil, "product.delete", true},
		{"explicit names override fallback", RoleAdmin, []string{"product.read"}, nil, "product.delete", false},
		{"explicit perms override fallback", RoleAdmin, nil, []Permission{{Token: "product.read"}}, "product.delete", false},
		{"descriptor record match", RoleModerator, nil, []Permission{{Token: "order.update"}}, "order.update", true},
		{"name match", RoleInspector, []string{"user.approve"}, nil, "user.approve", true},
		{"no fallback for moderator", RoleModerator, nil, nil, "order.update", false},
		{"customer without data", RoleCustomer, nil, nil, "order.read", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := HasPermission(tc.role, tc.names, tc.perms, tc.requested)
			if got != tc.want {
				t.Fatalf("HasPermission(%q, %v, %v, %q) = %v, want %v", tc.role, tc.names, tc.perms, tc.requested, got, tc.want)
			}
		})
	}
}

func TestIdentityDecodesMixedPermissionEntries(t *testing.T) {
	raw := `{"id":"u-1","name":"Mod","email":"mod@example.com","role":"MODERATOR",
		"permissions":["product.read",{"name":"order.update","description":"update orders"}]}`
	var id Identity
	if err := json.Unmarshal([]byte(raw), &id); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if id.Role != RoleModerator {
		t.Fatalf("expected role moderator, got %q", id.Role)
	}
	if len(id.Permissions) != 2 || id.Permissions[0].Token != "product.read" || id.Permissions[1].Token != "order.update" {
		t.Fatalf("unexpected permissions: %+v", id.Permissions)
	}
	if !id.Can("order.update") {
		t.Fatalf("expected order.update to be granted")
	}
	if id.Can("order.delete") {
		t.Fatalf("expected order.delete to be denied")
	}
}

func TestIdentityCanNil(t *testing.T) {
	var id *Identity
	if id.Can("product.read") {
		t.Fatalf("nil identity must not hold permissions")
	}
}

func TestParseCapability(t *testing.T) {
	subject, action, err := ParseCapability("user.approve")
	if err != nil {
		t.Fatalf("ParseCapability() error: %v", err)
	}
	if subject != "user" || action != "approve" {
		t.Fatalf("got %q.%q", subject, action)
	}
	for _, bad := range []string{"", "user", ".approve", "user.", "user/x.approve"} {
		if _, _, err := ParseCapability(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestRoleHelpers(t *testing.T) {
	if !ParseRole(" Admin ").Is(RoleAdmin) {
		t.Fatalf("expected ParseRole to normalize")
	}
	if Role("owner").Known() {
		t.Fatalf("owner is not a known role")
	}
	if RoleCustomer.Staff() || Role("").Staff() {
		t.Fatalf("customer and empty roles are not staff")
	}
	if !Role("INSPECTOR").Staff() {
		t.Fatalf("inspector is staff")
	}
}
