package embedding

import (
	"context"
	"fmt"
	"time"
)

// TimeoutExtractor bounds each extraction. Extractors that ignore their context (cgo
// inference) are abandoned on timeout and finish in the background.
type TimeoutExtractor struct {
	Extractor
	timeout time.Duration
}

// NewTimeoutExtractor wraps inner; a non-positive timeout disables the bound.
func NewTimeoutExtractor(inner Extractor, timeout time.Duration) *TimeoutExtractor {
	return &TimeoutExtractor{Extractor: inner, timeout: timeout}
}

// Extract runs the wrapped extraction and gives up after the configured timeout.
func (t *TimeoutExtractor) Extract(ctx context.Context, imagePath, text string) ([]float32, error) {
	if t.timeout <= 0 {
		return t.Extractor.Extract(ctx, imagePath, text)
	}
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	type result struct {
		vec []float32
		err error
	}
	ch := make(chan result, 1)
	go func() {
		vec, err := t.Extractor.Extract(ctx, imagePath, text)
		ch <- result{vec, err}
	}()
	select {
	case r := <-ch:
		return r.vec, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("extraction did not finish within %s: %w", t.timeout, ctx.Err())
	}
}
