package imaging

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"server/internal/domain"
)

func pngDataURI(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func decodeResult(t *testing.T, uri string) image.Image {
	t.Helper()
	if !strings.HasPrefix(uri, "data:image/jpeg;base64,") {
		t.Fatalf("result is not a JPEG data URI: %.40q", uri)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(uri, "data:image/jpeg;base64,"))
	if err != nil {
		t.Fatalf("decode base64: %v", err)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("decode result image: %v", err)
	}
	return img
}

func TestNormalizeBoundsLandscape(t *testing.T) {
	out, err := Normalize(pngDataURI(t, 2048, 1024), 0.85)
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}
	got := decodeResult(t, out).Bounds()
	if got.Dx() != 1024 || got.Dy() != 512 {
		t.Fatalf("dimensions = %dx%d, want 1024x512", got.Dx(), got.Dy())
	}
}

func TestNormalizeBoundsPortrait(t *testing.T) {
	out, err := Normalize(pngDataURI(t, 500, 2000), 0.85)
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}
	got := decodeResult(t, out).Bounds()
	if got.Dx() != 256 || got.Dy() != 1024 {
		t.Fatalf("dimensions = %dx%d, want 256x1024", got.Dx(), got.Dy())
	}
}

func TestNormalizeDoesNotUpscale(t *testing.T) {
	out, err := Normalize(pngDataURI(t, 640, 480), 0)
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}
	got := decodeResult(t, out).Bounds()
	if got.Dx() != 640 || got.Dy() != 480 {
		t.Fatalf("dimensions = %dx%d, want 640x480 unchanged", got.Dx(), got.Dy())
	}
}

func TestNormalizeRejectsGarbage(t *testing.T) {
	cases := []struct {
		name string
		uri  string
	}{
		{"not a data uri", "https://example.com/cat.png"},
		{"no comma", "data:image/png;base64"},
		{"not base64", "data:image/png;base64,!!!not-base64!!!"},
		{"not an image", "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("hello"))},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Normalize(tc.uri, 0.85); !errors.Is(err, domain.ErrImageDecode) {
				t.Fatalf("error = %v, want ErrImageDecode", err)
			}
		})
	}
}
