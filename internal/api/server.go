// Package api serves the local UI: sign-in, the role-gated views and the
// profile editor endpoints.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/connectmytask/taskui/internal/geocode"
	"github.com/connectmytask/taskui/internal/guard"
	"github.com/connectmytask/taskui/internal/identity"
	"github.com/connectmytask/taskui/internal/preview"
	"github.com/connectmytask/taskui/internal/profile"
	"github.com/connectmytask/taskui/internal/storage"
)

const maxJSONBodySize = 1 << 20 // 1MB

// Credentials persists the viewer's session token.
type Credentials interface {
	Token() (string, error)
	SetToken(token string) error
	DeleteToken() error
}

type Deps struct {
	Identity    *identity.Context
	Credentials Credentials
	Geocoder    geocode.Resolver
	Updater     profile.Updater
	Previews    *preview.Store
	Store       *storage.Store // optional; submission history is skipped if nil
	Logger      *slog.Logger
	Now         func() time.Time
}

func (d Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// NewHandler builds the UI router. The returned Editors registry owns every
// open editor session; call CloseAll on shutdown.
func NewHandler(deps Deps) (http.Handler, *Editors) {
	if deps.Identity == nil {
		deps.Identity = identity.NewContext()
	}
	if deps.Previews == nil {
		deps.Previews = preview.NewStore(0)
	}
	g := guard.New(deps.Identity)
	editors := newEditors(deps)

	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Get(guard.LoginPath, handleLoginPage)
	r.Post(guard.LoginPath, handleLogin(deps))
	r.Post("/logout", handleLogout(deps))
	r.Get("/whoami", handleWhoami(deps))
	r.Get(preview.URLPrefix+"{id}", handlePreview(deps.Previews))

	r.Route("/user", func(r chi.Router) {
		r.Use(RequireRole(g, identity.RoleUser))
		r.Get("/", handleView(identity.RoleUser))
		r.Route("/profile/editor", editors.routes(identity.RoleUser))
	})
	r.Route("/provider", func(r chi.Router) {
		r.Use(RequireRole(g, identity.RoleProvider))
		r.Get("/", handleView(identity.RoleProvider))
		r.Route("/profile/editor", editors.routes(identity.RoleProvider))
	})
	r.Route("/admin", func(r chi.Router) {
		r.Use(RequireRole(g, identity.RoleAdmin))
		r.Get("/", handleView(identity.RoleAdmin))
		r.Get("/submissions", handleListSubmissions(deps))
	})

	return r, editors
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleView(role identity.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"view": string(role) + "_dashboard",
			"role": string(role),
		})
	}
}

func handlePreview(store *preview.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, ok := store.Open(chi.URLParam(r, "id"))
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "preview not found")
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Write(data)
	}
}

func handleListSubmissions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Store == nil {
			writeJSON(w, http.StatusOK, []storage.Submission{})
			return
		}
		limit := parseIntParam(r, "limit", 20, 100)
		subs, err := deps.Store.ListSubmissions(r.URL.Query().Get("profile_id"), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list submissions: %v", err)
			return
		}
		if subs == nil {
			subs = []storage.Submission{}
		}
		writeJSON(w, http.StatusOK, subs)
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
