// Package imaging bounds the size of generated product photos before they are
// shipped to the save endpoint. Provider output can be multi-megabyte PNGs;
// the save endpoint receives bounded JPEG data URIs instead.
package imaging

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"strings"

	xdraw "golang.org/x/image/draw"

	"server/internal/domain"

	_ "image/gif"
	_ "image/png"
)

// MaxDimension is the bound on either side of a normalized image.
const MaxDimension = 1024

// DefaultQuality is the JPEG quality used when the caller passes a
// non-positive value.
const DefaultQuality = 0.85

// Normalize decodes a data-URI image, scales it so neither dimension exceeds
// MaxDimension while preserving aspect ratio, and re-encodes it as a JPEG
// data URI at the given quality in (0,1]. Images already inside the bound are
// not upscaled, only re-encoded.
func Normalize(dataURI string, quality float64) (string, error) {
	if quality <= 0 {
		quality = DefaultQuality
	}
	if quality > 1 {
		quality = 1
	}

	raw, err := decodeDataURI(dataURI)
	if err != nil {
		return "", err
	}

	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrImageDecode, err)
	}

	bounds := src.Bounds()
	width, height := fit(bounds.Dx(), bounds.Dy())

	out := src
	if width != bounds.Dx() || height != bounds.Dy() {
		dst := image.NewRGBA(image.Rect(0, 0, width, height))
		xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, xdraw.Over, nil)
		out = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: int(quality*100 + 0.5)}); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrImageEncode, err)
	}

	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// fit scales (w, h) down so max(w, h) <= MaxDimension, preserving the aspect
// ratio. Dimensions already inside the bound pass through unchanged.
func fit(w, h int) (int, int) {
	if w <= MaxDimension && h <= MaxDimension {
		return w, h
	}
	if w > h {
		return MaxDimension, scaled(h, w)
	}
	return scaled(w, h), MaxDimension
}

func scaled(minor, major int) int {
	s := int(float64(minor)*float64(MaxDimension)/float64(major) + 0.5)
	if s < 1 {
		s = 1
	}
	return s
}

func decodeDataURI(uri string) ([]byte, error) {
	if !strings.HasPrefix(uri, "data:") {
		return nil, fmt.Errorf("%w: not a data URI", domain.ErrImageDecode)
	}
	idx := strings.Index(uri, ",")
	if idx < 0 {
		return nil, fmt.Errorf("%w: malformed data URI", domain.ErrImageDecode)
	}
	meta, payload := uri[len("data:"):idx], uri[idx+1:]
	if !strings.HasSuffix(meta, ";base64") {
		return nil, fmt.Errorf("%w: data URI is not base64 encoded", domain.ErrImageDecode)
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrImageDecode, err)
	}
	return raw, nil
}
