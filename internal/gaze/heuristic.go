package gaze

import (
	"context"
	"image"
	"math"

	"github.com/eduvision/focus-server/pkg/types"
)

// HeuristicExtractor is the built-in Extractor. It classifies a frame from
// luminance statistics of the center region: a textured, brighter-than-
// background center reads as a face looking at the screen. It is a stand-in
// for an external face-mesh capability, deterministic for a given image.
type HeuristicExtractor struct {
	// MinContrast is the luminance standard deviation below which the
	// center region is considered empty (no face).
	MinContrast float64
	// FocusThreshold is the minimum score classified as focused.
	FocusThreshold float64
}

// NewHeuristicExtractor returns a HeuristicExtractor with default thresholds.
func NewHeuristicExtractor() *HeuristicExtractor {
	return &HeuristicExtractor{
		MinContrast:    12.0,
		FocusThreshold: 0.5,
	}
}

// Extract implements Extractor.
func (h *HeuristicExtractor) Extract(_ context.Context, img image.Image) (types.AttentionSignal, error) {
	center, centerDev := regionLuminance(img, centerRegion(img.Bounds()))
	full, _ := regionLuminance(img, img.Bounds())

	// A flat center region means nothing is in front of the camera.
	if centerDev < h.MinContrast {
		return types.AttentionSignal{DetectedFace: false}, nil
	}

	// Score from how strongly the center stands out against the scene,
	// mapped into [0,1]. A face filling the center and lit by the screen
	// is brighter and more textured than the background.
	contrast := (center - full) / 255.0
	score := clamp01(0.5 + contrast*2.0)

	return types.AttentionSignal{
		DetectedFace: true,
		Focused:      score >= h.FocusThreshold,
		Score:        score,
	}, nil
}

// centerRegion returns the middle third of the bounds in both axes.
func centerRegion(b image.Rectangle) image.Rectangle {
	w, h := b.Dx(), b.Dy()
	return image.Rect(
		b.Min.X+w/3, b.Min.Y+h/3,
		b.Min.X+2*w/3, b.Min.Y+2*h/3,
	)
}

// regionLuminance returns the mean and standard deviation of pixel luminance
// over the region, sampled on a stride to bound cost on large frames.
func regionLuminance(img image.Image, region image.Rectangle) (mean, stddev float64) {
	region = region.Intersect(img.Bounds())
	if region.Empty() {
		return 0, 0
	}

	stride := (region.Dx() + 63) / 64
	if stride < 1 {
		stride = 1
	}

	var sum, sumSq float64
	var n int
	for y := region.Min.Y; y < region.Max.Y; y += stride {
		for x := region.Min.X; x < region.Max.X; x += stride {
			r, g, b, _ := img.At(x, y).RGBA()
			// Rec. 601 luma, 16-bit channels scaled to 8-bit range.
			lum := (0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)) / 257.0
			sum += lum
			sumSq += lum * lum
			n++
		}
	}
	if n == 0 {
		return 0, 0
	}

	mean = sum / float64(n)
	variance := sumSq/float64(n) - mean*mean
	if variance > 0 {
		stddev = math.Sqrt(variance)
	}
	return mean, stddev
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
