package identity

// Role names a protected area of the UI.
type Role string

const (
	RoleUser     Role = "user"
	RoleProvider Role = "provider"
	RoleAdmin    Role = "admin"
)

// Claims holds the viewer's role flags. The flags are independent: no flag
// implies another.
type Claims struct {
	IsUser     bool `json:"isUser"`
	IsProvider bool `json:"isProvider"`
	IsAdmin    bool `json:"isAdmin"`
}

// Any reports whether at least one role flag is set.
func (c Claims) Any() bool {
	return c.IsUser || c.IsProvider || c.IsAdmin
}

// Roles lists the roles whose flag is set, in user/provider/admin order.
func (c Claims) Roles() []Role {
	var roles []Role
	if c.IsUser {
		roles = append(roles, RoleUser)
	}
	if c.IsProvider {
		roles = append(roles, RoleProvider)
	}
	if c.IsAdmin {
		roles = append(roles, RoleAdmin)
	}
	return roles
}
