// Package backend talks to the marketplace API's profile endpoints.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultBaseURL  = "https://api.connectmytask.xyz"
	defaultTimeout  = 30 * time.Second
	maxResponseSize = 5 << 20
	maxErrorBody    = 4 << 10
)

// Location is the structure sent, JSON-encoded, in the location field.
// Nil coordinates are sent as null.
type Location struct {
	Country string   `json:"country"`
	Lat     *float64 `json:"lat"`
	Lng     *float64 `json:"lng"`
}

// File is a binary upload.
type File struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Update is one profile update request. Photo is nil unless a new photo
// was chosen.
type Update struct {
	Name     string
	Email    string
	Photo    *File
	Location Location
}

// StatusError is returned when the API answers with a non-2xx status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.Code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// Client calls the profile endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Client. An empty baseURL selects DefaultBaseURL and a
// non-positive timeout selects 30s.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     slog.Default(),
	}
}

// UpdateProfile sends u as a single multipart PUT and returns the updated
// profile exactly as the server sent it. It never retries.
func (c *Client) UpdateProfile(ctx context.Context, id, token string, u Update) (json.RawMessage, error) {
	body, contentType, err := EncodeUpdate(u)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.profileURL(id), body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	setAuth(req, token)

	c.logger.Debug("sending profile update", "id", id, "photo", u.Photo != nil, "country", u.Location.Country)
	return c.do(req)
}

// GetProfile fetches the current profile representation.
func (c *Client) GetProfile(ctx context.Context, id, token string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.profileURL(id), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	setAuth(req, token)
	return c.do(req)
}

func (c *Client) profileURL(id string) string {
	return c.baseURL + "/api/auth/profile/" + url.PathEscape(id)
}

func (c *Client) do(req *http.Request) (json.RawMessage, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("response is not valid JSON")
	}
	return json.RawMessage(data), nil
}

// The API expects the stored token verbatim, without a scheme prefix.
func setAuth(req *http.Request, token string) {
	if token != "" {
		req.Header.Set("Authorization", token)
	}
}

// EncodeUpdate renders u as multipart/form-data with the fields name, email,
// profilePhoto (only when u.Photo is set) and location.
func EncodeUpdate(u Update) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("name", u.Name); err != nil {
		return nil, "", fmt.Errorf("writing name: %w", err)
	}
	if err := w.WriteField("email", u.Email); err != nil {
		return nil, "", fmt.Errorf("writing email: %w", err)
	}

	if u.Photo != nil {
		filename := u.Photo.Filename
		if filename == "" {
			filename = "photo"
		}
		contentType := u.Photo.ContentType
		if contentType == "" {
			contentType = http.DetectContentType(u.Photo.Data)
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="profilePhoto"; filename=%q`, filename))
		h.Set("Content-Type", contentType)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", fmt.Errorf("creating photo part: %w", err)
		}
		if _, err := part.Write(u.Photo.Data); err != nil {
			return nil, "", fmt.Errorf("writing photo: %w", err)
		}
	}

	loc, err := json.Marshal(u.Location)
	if err != nil {
		return nil, "", fmt.Errorf("marshalling location: %w", err)
	}
	if err := w.WriteField("location", string(loc)); err != nil {
		return nil, "", fmt.Errorf("writing location: %w", err)
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("closing multipart body: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}
