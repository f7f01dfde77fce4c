package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrNoToken is returned when there is no credential to decode.
	ErrNoToken = errors.New("no token")
	// ErrTokenExpired is returned for a token whose exp claim has passed.
	ErrTokenExpired = errors.New("token expired")
)

// tokenClaims is the payload shape issued by the marketplace API. Role flags
// may arrive either as booleans or as a single role name.
type tokenClaims struct {
	User     bool   `json:"user,omitempty"`
	Provider bool   `json:"provider,omitempty"`
	Admin    bool   `json:"admin,omitempty"`
	Role     string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// ClaimsFromToken decodes the role flags carried by a session token.
//
// The signature is not verified: the token was issued to this client and is
// only read to decide what to render. The server re-checks every request.
func ClaimsFromToken(token string, now time.Time) (Claims, error) {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	if token == "" {
		return Claims{}, ErrNoToken
	}

	var tc tokenClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &tc); err != nil {
		return Claims{}, fmt.Errorf("decoding token: %w", err)
	}

	exp, err := tc.GetExpirationTime()
	if err != nil {
		return Claims{}, fmt.Errorf("reading exp claim: %w", err)
	}
	if exp != nil && !exp.After(now) {
		return Claims{}, ErrTokenExpired
	}

	c := Claims{IsUser: tc.User, IsProvider: tc.Provider, IsAdmin: tc.Admin}
	switch Role(strings.ToLower(tc.Role)) {
	case RoleUser:
		c.IsUser = true
	case RoleProvider:
		c.IsProvider = true
	case RoleAdmin:
		c.IsAdmin = true
	}
	return c, nil
}

// Refresh decodes token and stores the result in ctx. Any decode failure,
// including expiry, clears ctx so that guards fail closed.
func Refresh(ctx *Context, token string, now time.Time) error {
	c, err := ClaimsFromToken(token, now)
	if err != nil {
		ctx.Clear()
		return err
	}
	ctx.Set(c)
	return nil
}
