package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/connectmytask/taskui/internal/backend"
	"github.com/connectmytask/taskui/internal/geocode"
	"github.com/connectmytask/taskui/internal/identity"
	"github.com/connectmytask/taskui/internal/preview"
	"github.com/connectmytask/taskui/internal/storage"
)

var testNow = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

type memCredentials struct {
	mu     sync.Mutex
	token  string
	setErr error
}

func (c *memCredentials) Token() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == "" {
		return "", errors.New("no token stored")
	}
	return c.token, nil
}

func (c *memCredentials) SetToken(token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setErr != nil {
		return c.setErr
	}
	c.token = token
	return nil
}

func (c *memCredentials) DeleteToken() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	return nil
}

// mapGeocoder answers from a fixed table. When gate is set, every lookup
// waits on it first.
type mapGeocoder struct {
	coords map[string]geocode.Coordinates
	gate   chan struct{}
}

func (g *mapGeocoder) Resolve(ctx context.Context, country string) (geocode.Coordinates, error) {
	if g.gate != nil {
		select {
		case <-g.gate:
		case <-ctx.Done():
			return geocode.Coordinates{}, ctx.Err()
		}
	}
	c, ok := g.coords[country]
	if !ok {
		return geocode.Coordinates{}, geocode.ErrNotFound
	}
	return c, nil
}

type recordingUpdater struct {
	mu      sync.Mutex
	updates []backend.Update
	tokens  []string
	err     error
}

func (u *recordingUpdater) UpdateProfile(ctx context.Context, id, token string, upd backend.Update) (json.RawMessage, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.updates = append(u.updates, upd)
	u.tokens = append(u.tokens, token)
	if u.err != nil {
		return nil, u.err
	}
	return json.RawMessage(`{"_id":"` + id + `","name":"` + upd.Name + `"}`), nil
}

func (u *recordingUpdater) count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.updates)
}

type testServer struct {
	handler  http.Handler
	editors  *Editors
	ident    *identity.Context
	creds    *memCredentials
	geo      *mapGeocoder
	upd      *recordingUpdater
	previews *preview.Store
	store    *storage.Store
	now      time.Time
}

func setupServer(t *testing.T, claims *identity.Claims) *testServer {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	ts := &testServer{
		ident: identity.NewContext(),
		creds: &memCredentials{token: "tok"},
		geo: &mapGeocoder{coords: map[string]geocode.Coordinates{
			"Uganda": {Lat: 1.37, Lng: 32.29},
			"Japan":  {Lat: 35.68, Lng: 139.69},
		}},
		upd:      &recordingUpdater{},
		previews: preview.NewStore(32),
		store:    store,
		now:      testNow,
	}
	if claims != nil {
		ts.ident.Set(*claims)
	}

	ts.handler, ts.editors = NewHandler(Deps{
		Identity:    ts.ident,
		Credentials: ts.creds,
		Geocoder:    ts.geo,
		Updater:     ts.upd,
		Previews:    ts.previews,
		Store:       store,
		Now:         func() time.Time { return ts.now },
	})
	t.Cleanup(ts.editors.CloseAll)
	return ts
}

func (ts *testServer) do(method, url, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rr.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response %q: %v", rr.Body.String(), err)
	}
	return v
}

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	if err != nil {
		t.Fatal(err)
	}
	return tok
}
