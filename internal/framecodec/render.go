package framecodec

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"

	xdraw "golang.org/x/image/draw"

	"github.com/eduvision/focus-server/pkg/types"
)

const (
	borderThickness = 8
	renderQuality   = 70
)

var stateColors = map[types.FocusState]color.RGBA{
	types.StateFocused:      {R: 46, G: 204, B: 64, A: 255},   // Green
	types.StateUnfocused:    {R: 255, G: 65, B: 54, A: 255},   // Red
	types.StateUndetermined: {R: 170, G: 170, B: 170, A: 255}, // Gray
}

// RenderIndicator draws a focus-state border around the frame and returns it
// as a JPEG data URL for the client UI.
func RenderIndicator(img image.Image, state types.FocusState) (string, error) {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.Copy(dst, image.Point{}, img, b, xdraw.Src, nil)

	edge := stateColors[state]
	w, h := b.Dx(), b.Dy()
	t := borderThickness
	if t*2 > w || t*2 > h {
		t = 1
	}

	fill := image.NewUniform(edge)
	xdraw.Draw(dst, image.Rect(0, 0, w, t), fill, image.Point{}, xdraw.Src)
	xdraw.Draw(dst, image.Rect(0, h-t, w, h), fill, image.Point{}, xdraw.Src)
	xdraw.Draw(dst, image.Rect(0, 0, t, h), fill, image.Point{}, xdraw.Src)
	xdraw.Draw(dst, image.Rect(w-t, 0, w, h), fill, image.Point{}, xdraw.Src)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: renderQuality}); err != nil {
		return "", fmt.Errorf("encode rendered frame: %w", err)
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
