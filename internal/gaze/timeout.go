package gaze

import (
	"context"
	"image"
	"time"

	"github.com/eduvision/focus-server/pkg/types"
)

// WithTimeout bounds each Extract call at d. A call that runs past the
// deadline yields ErrExtractionTimeout and a no-face signal; the slow
// extraction keeps running in its own goroutine and its result is discarded,
// so one hung model call never stalls unrelated sessions.
func WithTimeout(inner Extractor, d time.Duration) Extractor {
	if d <= 0 {
		return inner
	}
	return Func(func(ctx context.Context, img image.Image) (types.AttentionSignal, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()

		type result struct {
			sig types.AttentionSignal
			err error
		}
		ch := make(chan result, 1)
		go func() {
			sig, err := inner.Extract(ctx, img)
			ch <- result{sig, err}
		}()

		select {
		case r := <-ch:
			return r.sig, r.err
		case <-ctx.Done():
			return types.AttentionSignal{DetectedFace: false}, ErrExtractionTimeout
		}
	})
}
