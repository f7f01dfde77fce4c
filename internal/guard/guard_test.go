package guard

import (
	"testing"

	"github.com/connectmytask/taskui/internal/identity"
)

func TestAuthorize_RoleFlagMatrix(t *testing.T) {
	roles := []identity.Role{identity.RoleUser, identity.RoleProvider, identity.RoleAdmin}
	flags := []struct {
		name   string
		claims identity.Claims
		grants identity.Role
	}{
		{"user flag", identity.Claims{IsUser: true}, identity.RoleUser},
		{"provider flag", identity.Claims{IsProvider: true}, identity.RoleProvider},
		{"admin flag", identity.Claims{IsAdmin: true}, identity.RoleAdmin},
	}

	for _, f := range flags {
		for _, role := range roles {
			t.Run(f.name+"/"+string(role), func(t *testing.T) {
				c := f.claims
				got := Authorize(role, &c)
				wantAllow := role == f.grants
				if got.Allow != wantAllow {
					t.Errorf("Authorize(%s, %+v).Allow = %v, want %v", role, c, got.Allow, wantAllow)
				}
				if !wantAllow && got.Target != LoginPath {
					t.Errorf("Target = %q, want %q", got.Target, LoginPath)
				}
			})
		}
	}
}

func TestAuthorize_AllFalse(t *testing.T) {
	for _, role := range []identity.Role{identity.RoleUser, identity.RoleProvider, identity.RoleAdmin} {
		got := Authorize(role, &identity.Claims{})
		if got.Allow || got.Target != LoginPath {
			t.Errorf("Authorize(%s, all false) = %+v, want redirect to login", role, got)
		}
	}
}

func TestAuthorize_AbsentClaims(t *testing.T) {
	for _, role := range []identity.Role{identity.RoleUser, identity.RoleProvider, identity.RoleAdmin, "other"} {
		if got := Authorize(role, nil); got.Allow {
			t.Errorf("Authorize(%s, nil) allowed", role)
		}
	}
}

func TestAuthorize_UnknownRole(t *testing.T) {
	all := identity.Claims{IsUser: true, IsProvider: true, IsAdmin: true}
	for _, role := range []identity.Role{"", "guest", "ADMIN"} {
		if got := Authorize(role, &all); got.Allow {
			t.Errorf("Authorize(%q, all true) allowed", role)
		}
	}
}

func TestAuthorize_NoHierarchy(t *testing.T) {
	admin := identity.Claims{IsAdmin: true}
	if Authorize(identity.RoleUser, &admin).Allow {
		t.Error("admin flag must not grant user role")
	}
	if Authorize(identity.RoleProvider, &admin).Allow {
		t.Error("admin flag must not grant provider role")
	}

	both := identity.Claims{IsAdmin: true, IsUser: true}
	if !Authorize(identity.RoleUser, &both).Allow {
		t.Error("user flag should grant user role")
	}
}

func TestGuard_Check_FollowsContext(t *testing.T) {
	ident := identity.NewContext()
	g := New(ident)

	if g.Check(identity.RoleUser).Allow {
		t.Fatal("allowed before sign-in")
	}

	ident.Set(identity.Claims{IsUser: true})
	if !g.Check(identity.RoleUser).Allow {
		t.Fatal("denied after sign-in")
	}

	ident.Clear()
	if !g.Check(identity.RoleUser).Redirect() {
		t.Fatal("allowed after sign-out")
	}
}

func TestGuard_NilContext(t *testing.T) {
	if New(nil).Check(identity.RoleAdmin).Allow {
		t.Error("nil context allowed")
	}
}
