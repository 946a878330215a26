package gaze

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/eduvision/focus-server/pkg/types"
)

// flatImage is a uniform gray frame: nothing in front of the camera.
func flatImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 120, 90))
	for y := 0; y < 90; y++ {
		for x := 0; x < 120; x++ {
			img.Set(x, y, color.RGBA{R: 80, G: 80, B: 80, A: 255})
		}
	}
	return img
}

// litCenterImage has a bright, textured center over a dark background,
// approximating a screen-lit face.
func litCenterImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 120, 90))
	for y := 0; y < 90; y++ {
		for x := 0; x < 120; x++ {
			c := color.RGBA{R: 20, G: 20, B: 20, A: 255}
			if x >= 40 && x < 80 && y >= 30 && y < 60 {
				v := uint8(150 + 40*((x+y)%2))
				c = color.RGBA{R: v, G: v, B: v, A: 255}
			}
			img.Set(x, y, c)
		}
	}
	return img
}

func TestFlatFrameHasNoFace(t *testing.T) {
	sig, err := NewHeuristicExtractor().Extract(context.Background(), flatImage())
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if sig.DetectedFace {
		t.Fatalf("flat frame classified with a face: %+v", sig)
	}
}

func TestLitCenterReadsFocused(t *testing.T) {
	sig, err := NewHeuristicExtractor().Extract(context.Background(), litCenterImage())
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !sig.DetectedFace {
		t.Fatalf("textured center not detected: %+v", sig)
	}
	if !sig.Focused {
		t.Fatalf("bright centered subject classified unfocused: %+v", sig)
	}
	if sig.Score < 0 || sig.Score > 1 {
		t.Fatalf("score %v outside [0,1]", sig.Score)
	}
}

func TestClassificationIsDeterministic(t *testing.T) {
	e := NewHeuristicExtractor()
	img := litCenterImage()

	first, err := e.Extract(context.Background(), img)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := e.Extract(context.Background(), img)
		if err != nil {
			t.Fatalf("extract: %v", err)
		}
		if again != first {
			t.Fatalf("classification changed between calls: %+v vs %+v", first, again)
		}
	}
}

func TestTimeoutYieldsUndetermined(t *testing.T) {
	slow := Func(func(ctx context.Context, _ image.Image) (types.AttentionSignal, error) {
		select {
		case <-time.After(time.Second):
			return types.AttentionSignal{DetectedFace: true, Focused: true}, nil
		case <-ctx.Done():
			return types.AttentionSignal{}, ctx.Err()
		}
	})

	start := time.Now()
	sig, err := WithTimeout(slow, 20*time.Millisecond).Extract(context.Background(), flatImage())
	if !errors.Is(err, ErrExtractionTimeout) {
		t.Fatalf("err = %v, want ErrExtractionTimeout", err)
	}
	if sig.DetectedFace {
		t.Fatalf("timed-out extraction returned a face signal: %+v", sig)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("timeout wrapper blocked for %v", elapsed)
	}
}

func TestFastExtractorPassesThrough(t *testing.T) {
	want := types.AttentionSignal{DetectedFace: true, Focused: true, Score: 0.8}
	fast := Func(func(context.Context, image.Image) (types.AttentionSignal, error) {
		return want, nil
	})

	sig, err := WithTimeout(fast, time.Second).Extract(context.Background(), flatImage())
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if sig != want {
		t.Fatalf("signal = %+v, want %+v", sig, want)
	}
}
