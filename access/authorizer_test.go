package access

import (
	"context"
	"fmt"
	"testing"

	"github.com/substratehq/substrate/internal/vpath"
)

type mapRoles map[string]*Role

func (m mapRoles) Role(_ context.Context, id string) (*Role, error) {
	if r, ok := m[id]; ok {
		return r, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrRoleNotFound, id)
}

type testSubject struct {
	id    string
	roles []string
}

func (s *testSubject) SubjectID() string { return s.id }
func (s *testSubject) RoleIDs() []string { return s.roles }

func TestMatchPattern(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"/data/x", "/data/x", true},
		{"/data/x", "/data/y", false},
		{"/data/*", "/data/x", true},
		{"/data/*", "/data/x/y", false},
		{"/data/**", "/data/x/y", true},
		{"/data/**", "/data", true},
		{"/data/**", "/data/", true},
		{"/data/**", "/other", false},
		{"/**", "/anything/at/all", true},
		{"/*/settings", "/app/settings", true},
		{"/*/settings", "/app/deep/settings", false},
		{"/**/secret", "/a/b/secret", true},
		{"/**/secret", "/secret", true},
		{"/Data/X", "/data/x", true},
		{"/data/x", "/DATA/X", true},
		{"/data", "/data/", true},
		{"/", "/", true},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+" vs "+tt.path, func(t *testing.T) {
			p := vpath.MustParse(tt.path)
			if got := matchPattern(tt.pattern, p); got != tt.want {
				t.Errorf("matchPattern(%q, %q) = %v, want %v", tt.pattern, tt.path, got, tt.want)
			}
		})
	}
}

func TestDenyByDefault(t *testing.T) {
	a := NewAuthorizer(mapRoles{}, nil, nil, nil)
	if a.HasAccess(context.Background(), nil, vpath.MustParse("/data/x"), PermRead) {
		t.Error("anonymous subject with no grants must be denied")
	}

	user := &testSubject{id: "u", roles: []string{"missing-role"}}
	if a.HasAccess(context.Background(), user, vpath.MustParse("/data/x"), PermRead) {
		t.Error("unresolvable roles must not grant access")
	}
}

func TestGrantResolution(t *testing.T) {
	roles := mapRoles{
		"reader": {
			ID: "reader",
			Grants: []Grant{
				{Pattern: "/data/**", Permission: PermRead},
				{Pattern: "/data/", Permission: PermSearch},
			},
		},
	}
	a := NewAuthorizer(roles, nil, nil, nil)
	user := &testSubject{id: "u", roles: []string{"reader"}}
	ctx := context.Background()

	if !a.HasAccess(ctx, user, vpath.MustParse("/data/sub/x.json"), PermRead) {
		t.Error("subtree grant should cover nested object")
	}
	if a.HasAccess(ctx, user, vpath.MustParse("/data/sub/x.json"), PermWrite) {
		t.Error("write was never granted")
	}
	if a.HasAccess(ctx, user, vpath.MustParse("/other/x"), PermRead) {
		t.Error("grant must not leak outside its pattern")
	}
	if !a.HasAccess(ctx, user, vpath.MustParse("/data/"), PermSearch) {
		t.Error("search grant on the index should match")
	}
}

func TestCustomPermissionNames(t *testing.T) {
	roles := mapRoles{
		"special": {ID: "special", Grants: []Grant{{Pattern: "/things/**", Permission: "custom-one"}}},
	}
	a := NewAuthorizer(roles, nil, nil, nil)
	user := &testSubject{id: "u", roles: []string{"special"}}

	if !a.HasAccess(context.Background(), user, vpath.MustParse("/things/a"), "custom-one") {
		t.Error("custom permission should evaluate like a built-in")
	}
	if a.HasAccess(context.Background(), user, vpath.MustParse("/things/a"), "custom-two") {
		t.Error("unrelated custom permission must be denied")
	}
}

func TestAnonymousRoles(t *testing.T) {
	roles := mapRoles{
		"public": {ID: "public", Grants: []Grant{{Pattern: "/public/**", Permission: PermRead}}},
	}
	a := NewAuthorizer(roles, nil, []string{"public"}, nil)

	if !a.HasAccess(context.Background(), nil, vpath.MustParse("/public/page"), PermRead) {
		t.Error("anonymous grant should apply to nil subject")
	}
	user := &testSubject{id: "u"}
	if !a.HasAccess(context.Background(), user, vpath.MustParse("/public/page"), PermRead) {
		t.Error("anonymous grant should apply to authenticated subjects too")
	}
}

func TestViaConstraint(t *testing.T) {
	roles := mapRoles{
		"indirect": {
			ID: "indirect",
			Grants: []Grant{
				{Pattern: "/connections/db", Permission: PermRead, Via: "proc/A"},
			},
		},
	}
	user := &testSubject{id: "u", roles: []string{"indirect"}}
	target := vpath.MustParse("/connections/db")
	ctx := context.Background()

	chain := func(names ...string) ChainFunc {
		return func(context.Context) []string { return names }
	}

	// Direct external access: empty chain.
	a := NewAuthorizer(roles, chain(), nil, nil)
	if a.HasAccess(ctx, user, target, PermRead) {
		t.Error("via-constrained grant must deny outside the call chain")
	}

	// Inside the approved procedure, including nested indirection.
	a = NewAuthorizer(roles, chain("inner/helper", "proc/A"), nil, nil)
	if !a.HasAccess(ctx, user, target, PermRead) {
		t.Error("via-constrained grant must allow inside the named procedure's chain")
	}

	// An unrelated procedure does not satisfy the constraint.
	a = NewAuthorizer(roles, chain("proc/B"), nil, nil)
	if a.HasAccess(ctx, user, target, PermRead) {
		t.Error("unrelated procedure must not satisfy the via constraint")
	}
}

func TestHasAccessVia(t *testing.T) {
	roles := mapRoles{
		"indirect": {
			ID: "indirect",
			Grants: []Grant{
				{Pattern: "/connections/db", Permission: PermRead, Via: "proc/A"},
			},
		},
	}
	user := &testSubject{id: "u", roles: []string{"indirect"}}
	target := vpath.MustParse("/connections/db")
	ctx := context.Background()

	// The hypothetical check ignores the actual (empty) chain.
	a := NewAuthorizer(roles, nil, nil, nil)
	if !a.HasAccessVia(ctx, user, target, PermRead, "proc/A") {
		t.Error("access through the named procedure should be possible")
	}
	if a.HasAccessVia(ctx, user, target, PermRead, "proc/B") {
		t.Error("access through an unrelated procedure should not be possible")
	}
	if a.HasAccessVia(ctx, user, target, PermRead, "") {
		t.Error("empty via should fall back to the real chain, which is empty")
	}
}

func TestRequire(t *testing.T) {
	a := NewAuthorizer(mapRoles{}, nil, nil, nil)
	err := a.Require(context.Background(), nil, vpath.MustParse("/x"), PermRead)
	if err == nil {
		t.Fatal("expected ErrAccessDenied")
	}
}

func TestRoleDictRoundTrip(t *testing.T) {
	role := &Role{
		ID:          "ops",
		Description: "operations",
		Grants: []Grant{
			{Pattern: "/apps/**", Permission: PermWrite},
			{Pattern: "/connections/http", Permission: PermRead, Via: "system/fetch"},
		},
	}

	var again Role
	if err := again.FromDict(role.StoreDict()); err != nil {
		t.Fatalf("FromDict: %v", err)
	}
	if again.ID != role.ID || len(again.Grants) != 2 {
		t.Fatalf("round trip lost data: %+v", again)
	}
	if again.Grants[1].Via != "system/fetch" {
		t.Errorf("via lost: %+v", again.Grants[1])
	}
}
