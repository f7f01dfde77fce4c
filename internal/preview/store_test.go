package preview

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"strings"
	"testing"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 0x80, A: 0xff})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestCreateOpenRelease(t *testing.T) {
	s := NewStore(64)

	h, err := s.Create(pngBytes(t, 200, 100))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !h.Valid() || !strings.HasPrefix(h.URL, URLPrefix) {
		t.Errorf("handle = %+v", h)
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}

	data, ok := s.Open(h.ID)
	if !ok {
		t.Fatal("Open: not found")
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("thumbnail is not JPEG: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 64 || b.Dy() != 32 {
		t.Errorf("thumbnail size = %dx%d, want 64x32", b.Dx(), b.Dy())
	}

	if !s.Release(h.ID) {
		t.Error("first Release should report true")
	}
	if s.Release(h.ID) {
		t.Error("second Release should report false")
	}
	if _, ok := s.Open(h.ID); ok {
		t.Error("Open after Release should fail")
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d, want 0", s.Len())
	}
}

func TestCreate_NotImage(t *testing.T) {
	s := NewStore(0)
	_, err := s.Create([]byte("definitely not an image"))
	if !errors.Is(err, ErrNotImage) {
		t.Fatalf("err = %v, want ErrNotImage", err)
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d after failed Create, want 0", s.Len())
	}
}

// pngHeader returns a PNG that declares w x h RGBA pixels but carries no
// pixel data.
func pngHeader(w, h uint32) []byte {
	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	chunk := func(typ string, data []byte) {
		binary.Write(&buf, binary.BigEndian, uint32(len(data)))
		body := append([]byte(typ), data...)
		buf.Write(body)
		binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(body))
	}
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:], w)
	binary.BigEndian.PutUint32(ihdr[4:], h)
	ihdr[8] = 8 // bit depth
	ihdr[9] = 6 // RGBA
	chunk("IHDR", ihdr)
	chunk("IDAT", nil)
	chunk("IEND", nil)
	return buf.Bytes()
}

func TestCreate_DeclaredSizeTooLarge(t *testing.T) {
	tests := []struct {
		name string
		w, h uint32
	}{
		{"huge square", 20000, 20000},
		{"one side over", 12001, 10},
		{"too many pixels", 8000, 6000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStore(0)
			data := pngHeader(tt.w, tt.h)
			_, err := s.Create(data)
			if !errors.Is(err, ErrTooLarge) {
				t.Fatalf("err = %v, want ErrTooLarge", err)
			}
			if !errors.Is(err, ErrNotImage) {
				t.Errorf("err = %v, want it to wrap ErrNotImage", err)
			}
			if s.Len() != 0 {
				t.Errorf("Len = %d, want 0", s.Len())
			}
		})
	}
}

func TestFit(t *testing.T) {
	tests := []struct {
		w, h, max     int
		wantW, wantH int
	}{
		{100, 50, 256, 100, 50},
		{512, 256, 256, 256, 128},
		{256, 512, 256, 128, 256},
		{1000, 1, 100, 100, 1},
	}
	for _, tt := range tests {
		gw, gh := fit(tt.w, tt.h, tt.max)
		if gw != tt.wantW || gh != tt.wantH {
			t.Errorf("fit(%d,%d,%d) = %d,%d want %d,%d", tt.w, tt.h, tt.max, gw, gh, tt.wantW, tt.wantH)
		}
	}
}
