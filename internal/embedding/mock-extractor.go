package embedding

import (
	"context"
	"hash/fnv"
	"math/rand/v2"
)

// MockExtractor is a deterministic extractor for tests. Text and image path each map to a
// pseudo-random unit vector seeded by their hash; when both are given the image vector is
// weighted at half the text vector, so a caption query lands nearest the photo captioned with it.
// Image files are never opened.
type MockExtractor struct {
	dimensions int
}

// NewMockExtractor returns an extractor that produces deterministic vectors of the given dimensions.
func NewMockExtractor(dimensions int) *MockExtractor {
	if dimensions <= 0 {
		dimensions = 512
	}
	return &MockExtractor{dimensions: dimensions}
}

// Extract returns a deterministic unit vector for the input pair.
func (e *MockExtractor) Extract(ctx context.Context, imagePath, text string) ([]float32, error) {
	if imagePath == "" && text == "" {
		return nil, ErrEmptyInput
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]float32, e.dimensions)
	if text != "" {
		addSeeded(out, "text:"+text, 1)
	}
	if imagePath != "" {
		weight := float32(1)
		if text != "" {
			weight = 0.5
		}
		addSeeded(out, "image:"+imagePath, weight)
	}
	NormalizeL2Slice(out)
	return out, nil
}

func addSeeded(dst []float32, key string, weight float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	seed := h.Sum64()
	rng := rand.New(rand.NewPCG(seed, seed>>1|1))
	v := make([]float32, len(dst))
	for i := range v {
		v[i] = float32(rng.NormFloat64())
	}
	NormalizeL2Slice(v)
	for i := range dst {
		dst[i] += weight * v[i]
	}
}

// Dimensions returns the vector dimension.
func (e *MockExtractor) Dimensions() int {
	return e.dimensions
}

// Close is a no-op for MockExtractor.
func (e *MockExtractor) Close() error {
	return nil
}
