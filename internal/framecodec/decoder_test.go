package framecodec

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"strings"
	"testing"

	"github.com/eduvision/focus-server/pkg/types"
)

func encodeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 7), G: uint8(y * 11), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

func reason(t *testing.T, err error) string {
	t.Helper()
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("error %v is not a DecodeError", err)
	}
	return de.Reason
}

func TestDecodeDataURL(t *testing.T) {
	d := NewDecoder(512*1024, 1280)
	raw := encodeJPEG(t, 64, 48)
	payload := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(raw)

	img, err := d.Decode(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 64 || b.Dy() != 48 {
		t.Fatalf("bounds = %v, want 64x48", b)
	}
}

func TestDecodeBareBase64(t *testing.T) {
	d := NewDecoder(512*1024, 1280)
	raw := encodeJPEG(t, 32, 32)

	if _, err := d.Decode(base64.StdEncoding.EncodeToString(raw)); err != nil {
		t.Fatalf("decode bare base64: %v", err)
	}
}

func TestDecodePNG(t *testing.T) {
	d := NewDecoder(512*1024, 1280)
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 16, 16))); err != nil {
		t.Fatalf("encode png: %v", err)
	}

	if _, err := d.DecodeBytes(buf.Bytes()); err != nil {
		t.Fatalf("decode png: %v", err)
	}
}

func TestRejectsOversizedPayload(t *testing.T) {
	d := NewDecoder(1024, 1280)
	raw := encodeJPEG(t, 200, 200)
	if len(raw) <= 1024 {
		t.Skipf("test image only %d bytes", len(raw))
	}

	_, err := d.DecodeBytes(raw)
	if got := reason(t, err); got != ReasonTooLarge {
		t.Fatalf("reason = %q, want %q", got, ReasonTooLarge)
	}

	// The base64 path rejects before decoding.
	_, err = d.Decode(base64.StdEncoding.EncodeToString(raw))
	if got := reason(t, err); got != ReasonTooLarge {
		t.Fatalf("base64 path reason = %q, want %q", got, ReasonTooLarge)
	}
}

func TestRejectsGarbage(t *testing.T) {
	d := NewDecoder(512*1024, 1280)

	_, err := d.Decode("data:image/jpeg;base64,!!!not-base64!!!")
	if got := reason(t, err); got != ReasonBadEncoding {
		t.Fatalf("reason = %q, want %q", got, ReasonBadEncoding)
	}

	_, err = d.DecodeBytes([]byte("definitely not an image"))
	if got := reason(t, err); got != ReasonBadEncoding {
		t.Fatalf("reason = %q, want %q", got, ReasonBadEncoding)
	}

	_, err = d.Decode("")
	if got := reason(t, err); got != ReasonBadMetadata {
		t.Fatalf("reason = %q, want %q", got, ReasonBadMetadata)
	}

	_, err = d.Decode("data:image/jpeg;nonsense")
	if got := reason(t, err); got != ReasonBadEncoding {
		t.Fatalf("data URL without base64 marker: reason = %q", got)
	}
}

func TestDownscalesOversizedDimensions(t *testing.T) {
	d := NewDecoder(512*1024, 40)
	raw := encodeJPEG(t, 160, 80)

	img, err := d.DecodeBytes(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	b := img.Bounds()
	if b.Dx() > 40 || b.Dy() > 40 {
		t.Fatalf("bounds = %v, want long edge <= 40", b)
	}
	if b.Dx() != 40 || b.Dy() != 20 {
		t.Fatalf("bounds = %v, want aspect preserved at 40x20", b)
	}
}

func TestRenderIndicatorProducesDataURL(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))

	for _, state := range []types.FocusState{types.StateFocused, types.StateUnfocused, types.StateUndetermined} {
		rendered, err := RenderIndicator(img, state)
		if err != nil {
			t.Fatalf("render %v: %v", state, err)
		}
		if !strings.HasPrefix(rendered, "data:image/jpeg;base64,") {
			t.Fatalf("rendered frame missing data URL prefix: %.40s", rendered)
		}

		d := NewDecoder(512*1024, 1280)
		out, err := d.Decode(rendered)
		if err != nil {
			t.Fatalf("rendered frame does not round-trip: %v", err)
		}
		if out.Bounds() != img.Bounds() {
			t.Fatalf("rendered bounds = %v, want %v", out.Bounds(), img.Bounds())
		}
	}
}
