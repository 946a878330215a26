// Package framecodec decodes inbound browser frames and renders the
// annotated feedback frame returned to the client.
package framecodec

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"strings"

	_ "image/jpeg"
	_ "image/png"

	xdraw "golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// DecodeError reason codes
const (
	ReasonTooLarge    = "too_large"
	ReasonBadEncoding = "bad_encoding"
	ReasonBadMetadata = "bad_metadata"
)

// DecodeError reports why an inbound frame was rejected. A frame that fails
// to decode is dropped before it can touch any session state.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode frame (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("decode frame (%s)", e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Decoder converts encoded browser payloads into bounded raster images.
type Decoder struct {
	maxBytes     int
	maxDimension int
}

// NewDecoder creates a Decoder enforcing the given payload size (bytes) and
// long-edge pixel limits.
func NewDecoder(maxBytes, maxDimension int) *Decoder {
	return &Decoder{maxBytes: maxBytes, maxDimension: maxDimension}
}

// Decode accepts a browser data URL ("data:image/...;base64,...") or bare
// base64 and returns the decoded raster, downscaled if it exceeds the
// dimension bound.
func (d *Decoder) Decode(payload string) (image.Image, error) {
	if payload == "" {
		return nil, &DecodeError{Reason: ReasonBadMetadata, Err: fmt.Errorf("empty frame payload")}
	}

	b64 := payload
	if strings.HasPrefix(payload, "data:") {
		idx := strings.Index(payload, ",")
		if idx < 0 || !strings.Contains(payload[:idx], "base64") {
			return nil, &DecodeError{Reason: ReasonBadEncoding, Err: fmt.Errorf("malformed data URL header")}
		}
		b64 = payload[idx+1:]
	}

	// Reject before decoding: base64 expands 3 bytes to 4 characters.
	if len(b64)/4*3 > d.maxBytes {
		return nil, &DecodeError{Reason: ReasonTooLarge, Err: fmt.Errorf("payload %d bytes exceeds limit %d", len(b64)/4*3, d.maxBytes)}
	}

	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		if raw, err = base64.RawStdEncoding.DecodeString(b64); err != nil {
			return nil, &DecodeError{Reason: ReasonBadEncoding, Err: err}
		}
	}
	return d.DecodeBytes(raw)
}

// DecodeBytes decodes a raw encoded image (JPEG, PNG, WebP, or BMP).
func (d *Decoder) DecodeBytes(raw []byte) (image.Image, error) {
	if len(raw) == 0 {
		return nil, &DecodeError{Reason: ReasonBadMetadata, Err: fmt.Errorf("empty frame payload")}
	}
	if len(raw) > d.maxBytes {
		return nil, &DecodeError{Reason: ReasonTooLarge, Err: fmt.Errorf("payload %d bytes exceeds limit %d", len(raw), d.maxBytes)}
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, &DecodeError{Reason: ReasonBadEncoding, Err: err}
	}
	return d.bound(img), nil
}

// bound downscales img so its long edge does not exceed maxDimension.
func (d *Decoder) bound(img image.Image) image.Image {
	if d.maxDimension <= 0 {
		return img
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	long := w
	if h > long {
		long = h
	}
	if long <= d.maxDimension {
		return img
	}

	scale := float64(d.maxDimension) / float64(long)
	dst := image.NewRGBA(image.Rect(0, 0, int(float64(w)*scale), int(float64(h)*scale)))
	xdraw.NearestNeighbor.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
	return dst
}
