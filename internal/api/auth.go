package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/connectmytask/taskui/internal/guard"
	"github.com/connectmytask/taskui/internal/identity"
)

// RequireRole lets the request through only when g allows role. Otherwise
// the viewer is redirected to the login page.
func RequireRole(g *guard.Guard, role identity.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := g.Check(role)
			if d.Redirect() {
				http.Redirect(w, r, d.Target, http.StatusFound)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type loginRequest struct {
	Token string `json:"token"`
}

type whoamiResponse struct {
	Authenticated bool             `json:"authenticated"`
	Roles         []identity.Role  `json:"roles"`
	Claims        *identity.Claims `json:"claims,omitempty"`
}

func handleLoginPage(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"view":    "login",
		"message": "POST a session token to /login to sign in",
	})
}

func handleLogin(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
		defer r.Body.Close()

		var req loginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		if err := identity.Refresh(deps.Identity, req.Token, deps.now()); err != nil {
			if errors.Is(err, identity.ErrNoToken) {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "token is required")
				return
			}
			httpError(w, http.StatusUnauthorized, "authentication_error", "rejected token: %v", err)
			return
		}

		if deps.Credentials != nil {
			if err := deps.Credentials.SetToken(req.Token); err != nil {
				deps.Identity.Clear()
				httpError(w, http.StatusInternalServerError, "api_error", "failed to store token: %v", err)
				return
			}
		}

		resp := whoami(deps.Identity)
		deps.logger().Info("signed in", "roles", resp.Roles)
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleLogout(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deps.Identity.Clear()
		if deps.Credentials != nil {
			if err := deps.Credentials.DeleteToken(); err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to remove token: %v", err)
				return
			}
		}
		deps.logger().Info("signed out")
		writeJSON(w, http.StatusOK, map[string]string{"status": "signed_out"})
	}
}

func handleWhoami(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, whoami(deps.Identity))
	}
}

func whoami(ident *identity.Context) whoamiResponse {
	c := ident.Current()
	if c == nil {
		return whoamiResponse{Roles: []identity.Role{}}
	}
	roles := c.Roles()
	if roles == nil {
		roles = []identity.Role{}
	}
	return whoamiResponse{Authenticated: true, Roles: roles, Claims: c}
}
