// Package embedding turns photos and caption text into vectors in one shared space.
package embedding

import (
	"context"
	"errors"
	"math"
)

var (
	// ErrEmptyInput is returned when neither an image nor text is given.
	ErrEmptyInput = errors.New("embedding: empty input")
	// ErrUnsupportedInput is returned when an extractor cannot handle the requested modality.
	ErrUnsupportedInput = errors.New("embedding: unsupported input")
)

// Extractor embeds an image, a text, or both into a single fixed-length vector.
// Either imagePath or text may be empty, not both.
type Extractor interface {
	Extract(ctx context.Context, imagePath, text string) ([]float32, error)
	Dimensions() int
	Close() error
}

// NormalizeL2Slice normalizes the slice in place to unit L2 norm.
func NormalizeL2Slice(x []float32) {
	var sum float32
	for _, v := range x {
		sum += v * v
	}
	if sum == 0 {
		return
	}
	norm := float32(1.0 / math.Sqrt(float64(sum)))
	for i := range x {
		x[i] *= norm
	}
}

// fuse combines image and text embeddings by averaging their unit vectors.
func fuse(image, text []float32) []float32 {
	switch {
	case image == nil:
		return text
	case text == nil:
		return image
	}
	NormalizeL2Slice(image)
	NormalizeL2Slice(text)
	out := make([]float32, len(image))
	for i := range out {
		out[i] = image[i] + text[i]
	}
	NormalizeL2Slice(out)
	return out
}
