// Package guard decides whether a protected view renders for the current
// viewer or the viewer is sent to the login page.
package guard

import "github.com/connectmytask/taskui/internal/identity"

// LoginPath is the only redirect target the guard ever issues.
const LoginPath = "/login"

// Decision is the outcome of one authorization check.
type Decision struct {
	Allow  bool
	Target string // set when Allow is false
}

// Redirect reports whether the decision sends the viewer elsewhere.
func (d Decision) Redirect() bool { return !d.Allow }

var (
	allow    = Decision{Allow: true}
	redirect = Decision{Target: LoginPath}
)

// Authorize checks role against claims. Each role is granted only by its own
// flag; an admin is not implicitly a user or provider. Nil claims and unknown
// roles are always redirected.
func Authorize(role identity.Role, claims *identity.Claims) Decision {
	if claims == nil {
		return redirect
	}
	switch role {
	case identity.RoleUser:
		if claims.IsUser {
			return allow
		}
	case identity.RoleProvider:
		if claims.IsProvider {
			return allow
		}
	case identity.RoleAdmin:
		if claims.IsAdmin {
			return allow
		}
	}
	return redirect
}

// Guard binds Authorize to a live identity context.
type Guard struct {
	ident *identity.Context
}

// New returns a Guard reading from ident. A nil ident behaves as a context
// with no claims.
func New(ident *identity.Context) *Guard {
	return &Guard{ident: ident}
}

// Check evaluates role against the claims held at the time of the call.
func (g *Guard) Check(role identity.Role) Decision {
	if g == nil || g.ident == nil {
		return redirect
	}
	return Authorize(role, g.ident.Current())
}
