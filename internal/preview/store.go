// Package preview renders uploaded photos into small local thumbnails and
// keeps them addressable until they are released.
package preview

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif" // register gif
	"image/jpeg"
	_ "image/png" // register png
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/image/draw"
)

const (
	// DefaultMaxDim bounds the longer edge of a thumbnail.
	DefaultMaxDim = 256
	// URLPrefix is where the UI server serves live previews.
	URLPrefix = "/previews/"

	jpegQuality = 85

	// Decoders allocate the full pixel buffer up front, so uploads are
	// rejected on their declared size before decoding.
	maxSide   = 12000
	maxPixels = 40_000_000
)

var (
	// ErrNotImage is returned when an upload cannot be decoded as an image.
	ErrNotImage = errors.New("not a decodable image")
	// ErrTooLarge is returned, wrapping ErrNotImage, for images whose
	// declared dimensions exceed what a preview will decode.
	ErrTooLarge = fmt.Errorf("%w: image too large", ErrNotImage)
)

// Handle identifies one live preview.
type Handle struct {
	ID  string
	URL string
}

// Valid reports whether h refers to a created preview.
func (h Handle) Valid() bool { return h.ID != "" }

// Store owns rendered previews. Every Handle returned by Create must be
// passed to Release once it is superseded or its owner goes away.
type Store struct {
	maxDim int
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string][]byte
}

// NewStore creates a Store. If maxDim is <= 0, it defaults to DefaultMaxDim.
func NewStore(maxDim int) *Store {
	if maxDim <= 0 {
		maxDim = DefaultMaxDim
	}
	return &Store{
		maxDim:  maxDim,
		logger:  slog.Default(),
		entries: make(map[string][]byte),
	}
}

// Create renders data into a JPEG thumbnail and registers it. Rendering is
// entirely local.
func (s *Store) Create(data []byte) (Handle, error) {
	thumb, err := Thumbnail(data, s.maxDim)
	if err != nil {
		return Handle{}, err
	}

	id := uuid.New().String()
	s.mu.Lock()
	s.entries[id] = thumb
	s.mu.Unlock()

	s.logger.Debug("preview created", "id", id, "bytes", len(thumb))
	return Handle{ID: id, URL: URLPrefix + id}, nil
}

// Open returns the rendered JPEG for id.
func (s *Store) Open(id string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.entries[id]
	return b, ok
}

// Release frees the preview. Releasing an unknown or already released id is
// a no-op; the return value reports whether anything was freed.
func (s *Store) Release(id string) bool {
	if id == "" {
		return false
	}
	s.mu.Lock()
	_, ok := s.entries[id]
	delete(s.entries, id)
	s.mu.Unlock()
	if ok {
		s.logger.Debug("preview released", "id", id)
	}
	return ok
}

// Len returns the number of live previews.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Thumbnail decodes data and scales it so neither edge exceeds maxDim,
// preserving aspect ratio. Images already within bounds are re-encoded at
// their own size.
func Thumbnail(data []byte, maxDim int) ([]byte, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotImage, err)
	}
	if cfg.Width > maxSide || cfg.Height > maxSide || cfg.Width*cfg.Height > maxPixels {
		return nil, fmt.Errorf("%w (%dx%d)", ErrTooLarge, cfg.Width, cfg.Height)
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotImage, err)
	}

	w, h := fit(src.Bounds().Dx(), src.Bounds().Dy(), maxDim)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encoding thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

func fit(w, h, maxDim int) (int, int) {
	if w <= maxDim && h <= maxDim {
		return max(w, 1), max(h, 1)
	}
	if w >= h {
		return maxDim, max(h*maxDim/w, 1)
	}
	return max(w*maxDim/h, 1), maxDim
}
