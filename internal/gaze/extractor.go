// Package gaze defines the attention-signal extraction boundary. The real
// face-mesh model lives behind the Extractor interface; the built-in
// heuristic keeps the pipeline runnable and deterministic without it.
package gaze

import (
	"context"
	"errors"
	"image"

	"github.com/eduvision/focus-server/pkg/types"
)

// ErrExtractionTimeout is returned when an extractor call exceeds its budget.
// Callers treat the frame as an Undetermined signal rather than an error.
var ErrExtractionTimeout = errors.New("gaze: extraction timed out")

// Extractor maps a raster frame to an attention signal. Implementations must
// return DetectedFace=false for "no face found" rather than an error, and
// must classify the same image the same way on every call.
type Extractor interface {
	Extract(ctx context.Context, img image.Image) (types.AttentionSignal, error)
}

// Func adapts a plain function to the Extractor interface.
type Func func(ctx context.Context, img image.Image) (types.AttentionSignal, error)

// Extract implements Extractor.
func (f Func) Extract(ctx context.Context, img image.Image) (types.AttentionSignal, error) {
	return f(ctx, img)
}
