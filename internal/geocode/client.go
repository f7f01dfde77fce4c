// Package geocode resolves a country name to a representative coordinate.
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/connectmytask/taskui/internal/storage"
)

const (
	DefaultBaseURL = "https://nominatim.openstreetmap.org"
	defaultTimeout = 10 * time.Second
	maxRetries     = 3
	initialBackoff = 500 * time.Millisecond
	maxErrorBody   = 4 << 10
)

var (
	// ErrNotFound is returned when the service knows no place by that name.
	ErrNotFound = errors.New("country not found")
	// ErrEmptyCountry is returned for a blank country.
	ErrEmptyCountry = errors.New("country is empty")
)

// Coordinates is a resolved latitude/longitude pair.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Resolver looks up coordinates for a country. Implementations may be slow
// and may fail; callers must not assume either way.
type Resolver interface {
	Resolve(ctx context.Context, country string) (Coordinates, error)
}

// Cache persists earlier resolutions. Implemented by storage.Store.
type Cache interface {
	GetGeocode(country string) (storage.GeocodeEntry, error)
	PutGeocode(e storage.GeocodeEntry) error
}

// Client resolves countries against a Nominatim-compatible search API.
// Concurrent lookups for the same country share one request.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	logger     *slog.Logger

	cache    Cache
	cacheTTL time.Duration
	now      func() time.Time

	group singleflight.Group
}

// NewClient creates a Client. An empty baseURL selects DefaultBaseURL and a
// non-positive timeout selects 10s.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		userAgent:  "taskui (+https://connectmytask.xyz)",
		httpClient: &http.Client{Timeout: timeout},
		logger:     slog.Default(),
		now:        time.Now,
	}
}

// WithCache enables the persistent cache. Entries older than ttl are
// refreshed; a ttl <= 0 keeps entries forever.
func (c *Client) WithCache(cache Cache, ttl time.Duration) *Client {
	c.cache = cache
	c.cacheTTL = ttl
	return c
}

// Resolve returns coordinates for country.
func (c *Client) Resolve(ctx context.Context, country string) (Coordinates, error) {
	key := normalize(country)
	if key == "" {
		return Coordinates{}, ErrEmptyCountry
	}

	if coords, ok := c.cached(key); ok {
		return coords, nil
	}

	// The shared fetch must outlive any single caller's cancellation; each
	// caller still stops waiting when its own ctx ends.
	ch := c.group.DoChan(key, func() (any, error) {
		return c.fetch(context.WithoutCancel(ctx), strings.TrimSpace(country))
	})

	select {
	case <-ctx.Done():
		return Coordinates{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Coordinates{}, res.Err
		}
		coords := res.Val.(Coordinates)
		c.store(key, coords)
		return coords, nil
	}
}

func (c *Client) cached(key string) (Coordinates, bool) {
	if c.cache == nil {
		return Coordinates{}, false
	}
	e, err := c.cache.GetGeocode(key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			c.logger.Warn("geocode cache read failed", "country", key, "error", err)
		}
		return Coordinates{}, false
	}
	if c.cacheTTL > 0 && c.now().After(e.ResolvedAt.Add(c.cacheTTL)) {
		return Coordinates{}, false
	}
	return Coordinates{Lat: e.Lat, Lng: e.Lng}, true
}

func (c *Client) store(key string, coords Coordinates) {
	if c.cache == nil {
		return
	}
	err := c.cache.PutGeocode(storage.GeocodeEntry{
		Country:    key,
		Lat:        coords.Lat,
		Lng:        coords.Lng,
		ResolvedAt: c.now(),
	})
	if err != nil {
		c.logger.Warn("geocode cache write failed", "country", key, "error", err)
	}
}

func (c *Client) fetch(ctx context.Context, country string) (Coordinates, error) {
	var lastErr error
	for attempt := range maxRetries {
		coords, err := c.doSearch(ctx, country)
		if err == nil {
			return coords, nil
		}

		if !isRateLimit(err) {
			return Coordinates{}, err
		}

		lastErr = err
		if attempt < maxRetries-1 {
			backoff := time.Duration(float64(initialBackoff) * math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				return Coordinates{}, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return Coordinates{}, fmt.Errorf("rate limited after %d retries: %w", maxRetries, lastErr)
}

// rateLimitError is returned on HTTP 429.
type rateLimitError struct {
	status int
}

func (e *rateLimitError) Error() string {
	return fmt.Sprintf("rate limited (HTTP %d)", e.status)
}

func isRateLimit(err error) bool {
	var rl *rateLimitError
	return errors.As(err, &rl)
}

type searchResult struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

func (c *Client) doSearch(ctx context.Context, country string) (Coordinates, error) {
	q := url.Values{}
	q.Set("country", country)
	q.Set("format", "jsonv2")
	q.Set("limit", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return Coordinates{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Coordinates{}, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return Coordinates{}, &rateLimitError{status: resp.StatusCode}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return Coordinates{}, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var results []searchResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return Coordinates{}, fmt.Errorf("decoding search results: %w", err)
	}
	if len(results) == 0 {
		return Coordinates{}, fmt.Errorf("%w: %q", ErrNotFound, country)
	}

	lat, err := strconv.ParseFloat(results[0].Lat, 64)
	if err != nil {
		return Coordinates{}, fmt.Errorf("parsing lat %q: %w", results[0].Lat, err)
	}
	lng, err := strconv.ParseFloat(results[0].Lon, 64)
	if err != nil {
		return Coordinates{}, fmt.Errorf("parsing lon %q: %w", results[0].Lon, err)
	}
	return Coordinates{Lat: lat, Lng: lng}, nil
}

func normalize(country string) string {
	return strings.ToLower(strings.TrimSpace(country))
}
