package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/connectmytask/taskui/internal/identity"
	"github.com/connectmytask/taskui/internal/profile"
)

const maxPhotoSize = 10 << 20 // 10MB

// Editors tracks the open profile editor sessions.
type Editors struct {
	deps   Deps
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*editor
}

// editor is one open session. It is reachable only through the role group
// that opened it. lastUsed is guarded by Editors.mu.
type editor struct {
	id       string
	role     identity.Role
	session  *profile.Session
	notices  *noticeBuffer
	lastUsed time.Time
}

func newEditors(deps Deps) *Editors {
	return &Editors{
		deps:     deps,
		logger:   deps.logger(),
		sessions: make(map[string]*editor),
	}
}

// Len returns the number of open sessions.
func (e *Editors) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}

// CloseAll closes every open session.
func (e *Editors) CloseAll() {
	e.mu.Lock()
	open := make([]*editor, 0, len(e.sessions))
	for id, ed := range e.sessions {
		open = append(open, ed)
		delete(e.sessions, id)
	}
	e.mu.Unlock()

	for _, ed := range open {
		ed.session.Close()
	}
}

// CloseIdle closes sessions not used for longer than maxIdle and returns
// how many were closed.
func (e *Editors) CloseIdle(maxIdle time.Duration) int {
	cutoff := e.deps.now().Add(-maxIdle)

	e.mu.Lock()
	var idle []*editor
	for id, ed := range e.sessions {
		if ed.lastUsed.Before(cutoff) {
			idle = append(idle, ed)
			delete(e.sessions, id)
		}
	}
	e.mu.Unlock()

	for _, ed := range idle {
		ed.session.Close()
		e.logger.Info("editor expired", "editor", ed.id, "idle_since", ed.lastUsed)
	}
	return len(idle)
}

func (e *Editors) open(role identity.Role, seed profile.Snapshot) *editor {
	ed := &editor{
		id:       uuid.New().String(),
		role:     role,
		notices:  &noticeBuffer{},
		lastUsed: e.deps.now(),
	}
	ed.session = profile.Open(profile.Options{
		Geocoder:    e.deps.Geocoder,
		Updater:     e.deps.Updater,
		Credentials: e.deps.Credentials,
		Previews:    e.deps.Previews,
		Notifier:    ed.notices.notifier(),
		Journal:     e.journal(),
		Logger:      e.logger.With("editor", ed.id),
		// A saved editor closes itself.
		OnClose: func() { e.remove(ed.id) },
	}, seed)

	e.mu.Lock()
	e.sessions[ed.id] = ed
	e.mu.Unlock()
	return ed
}

func (e *Editors) journal() profile.Journal {
	if e.deps.Store == nil {
		return nil
	}
	return e.deps.Store
}

func (e *Editors) get(role identity.Role, id string) (*editor, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ed, ok := e.sessions[id]
	if !ok || ed.role != role {
		return nil, false
	}
	ed.lastUsed = e.deps.now()
	return ed, true
}

func (e *Editors) remove(id string) {
	e.mu.Lock()
	ed, ok := e.sessions[id]
	delete(e.sessions, id)
	e.mu.Unlock()
	if ok {
		ed.session.Close()
	}
}

// routes mounts the editor endpoints for one role group. Sessions opened
// here are not visible to other groups.
func (e *Editors) routes(role identity.Role) func(chi.Router) {
	with := func(h func(http.ResponseWriter, *http.Request, *editor)) http.HandlerFunc {
		return e.withEditor(role, h)
	}
	return func(r chi.Router) {
		r.Post("/", e.handleOpen(role))
		r.Route("/{sid}", func(r chi.Router) {
			r.Get("/", with(e.handleGet))
			r.Patch("/", with(e.handleEdit))
			r.Delete("/", with(e.handleClose))
			r.Put("/country", with(e.handleCountry))
			r.Post("/photo", with(e.handlePhoto))
			r.Post("/submit", with(e.handleSubmit))
			r.Get("/notices", with(e.handleNotices))
		})
	}
}

func (e *Editors) withEditor(role identity.Role, h func(http.ResponseWriter, *http.Request, *editor)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ed, ok := e.get(role, chi.URLParam(r, "sid"))
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "editor session not found")
			return
		}
		h(w, r, ed)
	}
}

type locationView struct {
	Country string   `json:"country"`
	Lat     *float64 `json:"lat"`
	Lng     *float64 `json:"lng"`
}

type editorView struct {
	ID        string        `json:"id"`
	State     profile.State `json:"state"`
	CanSubmit bool          `json:"canSubmit"`
	ProfileID string        `json:"profileId"`
	Name      string        `json:"name"`
	Email     string        `json:"email"`
	Photo     string        `json:"photo"`
	PhotoKind string        `json:"photoKind"`
	Location  locationView  `json:"location"`
}

func (ed *editor) view() editorView {
	d := ed.session.Draft()
	return editorView{
		ID:        ed.id,
		State:     ed.session.State(),
		CanSubmit: ed.session.CanSubmit(),
		ProfileID: d.ProfileID,
		Name:      d.Name,
		Email:     d.Email,
		Photo:     ed.session.PreviewURL(),
		PhotoKind: d.Photo.Kind.String(),
		Location: locationView{
			Country: d.Location.Country,
			Lat:     d.Location.Lat,
			Lng:     d.Location.Lng,
		},
	}
}

func (e *Editors) handleOpen(role identity.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
		defer r.Body.Close()

		var seed profile.Snapshot
		if err := json.NewDecoder(r.Body).Decode(&seed); err != nil && !errors.Is(err, io.EOF) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		ed := e.open(role, seed)
		e.logger.Info("editor opened", "editor", ed.id, "role", role, "profile_id", seed.ID)
		writeJSON(w, http.StatusCreated, ed.view())
	}
}

func (e *Editors) handleGet(w http.ResponseWriter, r *http.Request, ed *editor) {
	writeJSON(w, http.StatusOK, ed.view())
}

func (e *Editors) handleEdit(w http.ResponseWriter, r *http.Request, ed *editor) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
	defer r.Body.Close()

	var fields map[string]string
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return
	}

	if err := ed.session.EditFields(fields); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ed.view())
}

type countryRequest struct {
	Country string `json:"country"`
}

// handleCountry starts a lookup and answers 202 at once. With ?wait=1 it
// answers only after the lookup has been applied or discarded.
func (e *Editors) handleCountry(w http.ResponseWriter, r *http.Request, ed *editor) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
	defer r.Body.Close()

	var req countryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return
	}

	l, err := ed.session.SelectCountry(req.Country)
	if err != nil {
		writeSessionError(w, err)
		return
	}

	if r.URL.Query().Get("wait") == "" {
		writeJSON(w, http.StatusAccepted, ed.view())
		return
	}
	if err := l.Wait(r.Context()); err != nil {
		httpError(w, http.StatusGatewayTimeout, "api_error", "country lookup did not finish: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, ed.view())
}

func (e *Editors) handlePhoto(w http.ResponseWriter, r *http.Request, ed *editor) {
	r.Body = http.MaxBytesReader(w, r.Body, maxPhotoSize+(1<<20))
	if err := r.ParseMultipartForm(maxPhotoSize); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid multipart body: %v", err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	f, hdr, err := r.FormFile("profilePhoto")
	if err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "profilePhoto file is required")
		return
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxPhotoSize))
	if err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "reading upload: %v", err)
		return
	}

	if _, err := ed.session.SelectPhoto(profile.Upload{
		Filename:    hdr.Filename,
		ContentType: hdr.Header.Get("Content-Type"),
		Data:        data,
	}); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ed.view())
}

// submitResponse carries the notices raised by the submit, since a saved
// editor is gone by the time the client could poll for them.
type submitResponse struct {
	State   profile.State   `json:"state"`
	Profile json.RawMessage `json:"profile,omitempty"`
	Notices []notice        `json:"notices"`
}

func (e *Editors) handleSubmit(w http.ResponseWriter, r *http.Request, ed *editor) {
	out, err := ed.session.Submit(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, submitResponse{State: out.State, Profile: out.Profile, Notices: ed.notices.drain()})
	case out.State == profile.StateFailed:
		httpError(w, http.StatusBadGateway, "api_error", "%v", err)
	default:
		writeSessionError(w, err)
	}
}

func (e *Editors) handleClose(w http.ResponseWriter, r *http.Request, ed *editor) {
	e.remove(ed.id)
	e.logger.Info("editor closed", "editor", ed.id)
	w.WriteHeader(http.StatusNoContent)
}

func (e *Editors) handleNotices(w http.ResponseWriter, r *http.Request, ed *editor) {
	writeJSON(w, http.StatusOK, ed.notices.drain())
}

func writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, profile.ErrReadOnlyField):
		httpError(w, http.StatusUnprocessableEntity, "read_only_field", "%v", err)
	case errors.Is(err, profile.ErrUnknownField):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, profile.ErrGeocodePending), errors.Is(err, profile.ErrSubmitting):
		httpError(w, http.StatusConflict, "conflict", "%v", err)
	case errors.Is(err, profile.ErrClosed):
		httpError(w, http.StatusGone, "gone", "%v", err)
	default:
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	}
}
