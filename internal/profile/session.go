// Package profile implements the profile editor: a draft of the viewer's
// profile plus the state machine that coordinates country lookups, photo
// previews and the final update request.
package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/connectmytask/taskui/internal/backend"
	"github.com/connectmytask/taskui/internal/geocode"
	"github.com/connectmytask/taskui/internal/preview"
	"github.com/connectmytask/taskui/internal/storage"
)

const (
	FieldName  = "name"
	FieldEmail = "email"
)

// User-facing notices.
const (
	msgSaved        = "Profile updated successfully!"
	msgSaveFailed   = "Failed to update profile."
	msgGeocodeError = "Could not locate %s. You can still save without coordinates."
)

var (
	ErrReadOnlyField  = errors.New("field is read-only")
	ErrUnknownField   = errors.New("unknown field")
	ErrGeocodePending = errors.New("country lookup in progress")
	ErrSubmitting     = errors.New("submission in progress")
	ErrClosed         = errors.New("editor session closed")
)

// Updater sends the profile update. Implemented by backend.Client.
type Updater interface {
	UpdateProfile(ctx context.Context, id, token string, u backend.Update) (json.RawMessage, error)
}

// CredentialSource yields the authorization token attached to updates.
type CredentialSource interface {
	Token() (string, error)
}

// TokenFunc adapts a function to CredentialSource.
type TokenFunc func() (string, error)

func (f TokenFunc) Token() (string, error) { return f() }

// PreviewStore renders and releases local photo previews. Implemented by
// preview.Store.
type PreviewStore interface {
	Create(data []byte) (preview.Handle, error)
	Release(id string) bool
}

// Journal records submission outcomes. Implemented by storage.Store.
type Journal interface {
	SaveSubmission(sub storage.Submission) error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Options wires a Session to its collaborators. Geocoder and Updater are
// required; the rest have usable defaults.
type Options struct {
	Geocoder    geocode.Resolver
	Updater     Updater
	Credentials CredentialSource
	Previews    PreviewStore
	Notifier    Notifier
	Journal     Journal
	Clock       Clock
	Logger      *slog.Logger

	// OnSave receives the server's profile after a successful update.
	OnSave func(profile json.RawMessage)
	// OnClose is called after OnSave to tell the host to close the editor.
	OnClose func()
}

// Outcome is the result of one Submit call.
type Outcome struct {
	State   State
	Profile json.RawMessage
	Err     error
}

// Session owns one open editor. All state lives behind mu; lookups run on
// their own goroutines and re-enter under mu, where the sequence number
// decides whether their result still applies.
type Session struct {
	opts   Options
	logger *slog.Logger

	mu        sync.Mutex
	state     State
	draft     Draft
	handle    preview.Handle
	geoSeq    uint64
	geoCancel context.CancelFunc
	closed    bool
}

// NewSession creates an idle session with an empty draft.
func NewSession(opts Options) *Session {
	if opts.Previews == nil {
		opts.Previews = preview.NewStore(0)
	}
	if opts.Notifier == nil {
		opts.Notifier = LogNotifier{Logger: opts.Logger}
	}
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{opts: opts, logger: logger}
}

// Open creates a session and seeds it.
func Open(opts Options, seed Snapshot) *Session {
	s := NewSession(opts)
	s.Initialize(seed)
	return s
}

// Initialize replaces the draft with seed. Any live preview is released and
// outstanding lookups stop applying. It fails only while a submission is in
// flight or after Close.
func (s *Session) Initialize(seed Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.state == StateSubmitting {
		return ErrSubmitting
	}

	s.abandonLookupLocked()
	s.releasePreviewLocked()
	s.draft = draftFromSnapshot(seed)
	s.state = StateIdle
	return nil
}

// EditField sets a text field on the draft. Email is shown but never
// editable.
func (s *Session) EditField(name, value string) error {
	return s.EditFields(map[string]string{name: value})
}

// EditFields applies several field edits at once. Every name is checked
// before anything is written, so a rejected call leaves the draft as it was.
func (s *Session) EditFields(fields map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	for _, name := range slices.Sorted(maps.Keys(fields)) {
		if err := checkEditable(name); err != nil {
			return err
		}
	}
	if v, ok := fields[FieldName]; ok {
		s.draft.Name = v
	}
	return nil
}

func checkEditable(name string) error {
	switch name {
	case FieldName:
		return nil
	case FieldEmail:
		return fmt.Errorf("%w: %s", ErrReadOnlyField, name)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownField, name)
	}
}

// SelectPhoto makes u the draft's photo and returns a local preview of it.
// The previous preview is released. If u cannot be rendered the draft is
// left unchanged.
func (s *Session) SelectPhoto(u Upload) (preview.Handle, error) {
	h, err := s.opts.Previews.Create(u.Data)
	if err != nil {
		return preview.Handle{}, fmt.Errorf("rendering preview: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.opts.Previews.Release(h.ID)
		return preview.Handle{}, ErrClosed
	}
	old := s.handle
	s.handle = h
	u.Data = append([]byte(nil), u.Data...)
	s.draft.Photo = Photo{Kind: PhotoUpload, Upload: &u}
	s.mu.Unlock()

	if old.Valid() {
		s.opts.Previews.Release(old.ID)
	}
	return h, nil
}

// SelectCountry sets the draft's country, forgets its coordinates and
// starts one lookup. Only the most recent selection's result is applied;
// earlier lookups are cancelled and their results discarded whenever they
// arrive.
func (s *Session) SelectCountry(country string) (*Lookup, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if s.state == StateSubmitting {
		s.mu.Unlock()
		return nil, ErrSubmitting
	}

	s.abandonLookupLocked()
	seq := s.geoSeq
	ctx, cancel := context.WithCancel(context.Background())
	s.geoCancel = cancel

	s.draft.Location = Location{Country: country}
	s.state = StateGeocodePending
	l := newLookup(country)
	s.mu.Unlock()

	go s.resolve(ctx, seq, l)
	return l, nil
}

func (s *Session) resolve(ctx context.Context, seq uint64, l *Lookup) {
	coords, err := s.opts.Geocoder.Resolve(ctx, l.Country)

	s.mu.Lock()
	current := !s.closed && seq == s.geoSeq
	if current {
		s.geoCancel()
		s.geoCancel = nil
		if err == nil {
			lat, lng := coords.Lat, coords.Lng
			s.draft.Location.Lat = &lat
			s.draft.Location.Lng = &lng
		}
		s.state = StateIdle
	}
	s.mu.Unlock()

	switch {
	case !current:
		s.logger.Debug("discarding stale country lookup", "country", l.Country)
	case err != nil:
		s.logger.Warn("country lookup failed", "country", l.Country, "error", err)
		s.opts.Notifier.Error(fmt.Sprintf(msgGeocodeError, l.Country))
	default:
		s.logger.Debug("country resolved", "country", l.Country, "lat", coords.Lat, "lng", coords.Lng)
	}
	l.finish(current, coords, err)
}

// Submit sends the whole draft as one update request. It is rejected
// without side effects while a lookup or another submission is pending.
// On failure the draft is kept so the user can fix it and submit again.
func (s *Session) Submit(ctx context.Context) (Outcome, error) {
	s.mu.Lock()
	if s.closed {
		st := s.state
		s.mu.Unlock()
		return Outcome{State: st}, ErrClosed
	}
	switch s.state {
	case StateGeocodePending:
		s.mu.Unlock()
		return Outcome{State: StateGeocodePending}, ErrGeocodePending
	case StateSubmitting:
		s.mu.Unlock()
		return Outcome{State: StateSubmitting}, ErrSubmitting
	}
	s.state = StateSubmitting
	draft := deepCopyDraft(s.draft)
	s.mu.Unlock()

	raw, err := s.send(ctx, draft)

	s.mu.Lock()
	if err != nil {
		s.state = StateFailed
	} else {
		s.state = StateSucceeded
	}
	s.mu.Unlock()

	s.record(draft, err)

	if err != nil {
		s.logger.Error("profile update failed", "profile_id", draft.ProfileID, "error", err)
		s.opts.Notifier.Error(msgSaveFailed)
		return Outcome{State: StateFailed, Err: err}, fmt.Errorf("updating profile: %w", err)
	}

	s.logger.Info("profile updated", "profile_id", draft.ProfileID)
	s.opts.Notifier.Success(msgSaved)
	if s.opts.OnSave != nil {
		s.opts.OnSave(raw)
	}
	if s.opts.OnClose != nil {
		s.opts.OnClose()
	}
	return Outcome{State: StateSucceeded, Profile: raw}, nil
}

func (s *Session) send(ctx context.Context, d Draft) (json.RawMessage, error) {
	var token string
	if s.opts.Credentials != nil {
		t, err := s.opts.Credentials.Token()
		if err != nil {
			return nil, fmt.Errorf("reading credential: %w", err)
		}
		token = t
	}
	return s.opts.Updater.UpdateProfile(ctx, d.ProfileID, token, toUpdate(d))
}

func toUpdate(d Draft) backend.Update {
	u := backend.Update{
		Name:  d.Name,
		Email: d.Email,
		Location: backend.Location{
			Country: d.Location.Country,
			Lat:     d.Location.Lat,
			Lng:     d.Location.Lng,
		},
	}
	// An existing photo reference is never re-sent.
	if d.Photo.Kind == PhotoUpload && d.Photo.Upload != nil {
		u.Photo = &backend.File{
			Filename:    d.Photo.Upload.Filename,
			ContentType: d.Photo.Upload.ContentType,
			Data:        d.Photo.Upload.Data,
		}
	}
	return u
}

func (s *Session) record(d Draft, err error) {
	if s.opts.Journal == nil {
		return
	}
	sub := storage.Submission{
		ID:            uuid.New().String(),
		ProfileID:     d.ProfileID,
		SubmittedAt:   s.opts.Clock.Now(),
		Status:        storage.SubmissionSucceeded,
		Country:       d.Location.Country,
		PhotoUploaded: d.Photo.Kind == PhotoUpload,
	}
	if err != nil {
		sub.Status = storage.SubmissionFailed
		sub.Error = err.Error()
	}
	if jerr := s.opts.Journal.SaveSubmission(sub); jerr != nil {
		s.logger.Warn("recording submission failed", "error", jerr)
	}
}

// Close ends the session: the live preview is released and pending lookups
// are abandoned. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.abandonLookupLocked()
	s.releasePreviewLocked()
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CanSubmit reports whether Submit would be accepted now.
func (s *Session) CanSubmit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && s.state != StateGeocodePending && s.state != StateSubmitting
}

// Draft returns a copy of the current draft.
func (s *Session) Draft() Draft {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deepCopyDraft(s.draft)
}

// PreviewURL returns what the avatar should show: the live preview if a
// photo was selected, otherwise the stored photo reference.
func (s *Session) PreviewURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle.Valid() {
		return s.handle.URL
	}
	if s.draft.Photo.Kind == PhotoExisting {
		return s.draft.Photo.Ref
	}
	return ""
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) abandonLookupLocked() {
	s.geoSeq++
	if s.geoCancel != nil {
		s.geoCancel()
		s.geoCancel = nil
	}
}

func (s *Session) releasePreviewLocked() {
	if s.handle.Valid() {
		s.opts.Previews.Release(s.handle.ID)
		s.handle = preview.Handle{}
	}
}
