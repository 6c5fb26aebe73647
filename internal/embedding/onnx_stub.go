//go:build !cgo
// +build !cgo

package embedding

import (
	"context"
	"errors"
)

var errONNXUnavailable = errors.New("ONNX extractor requires CGO; build with CGO_ENABLED=1 and onnxruntime")

// ONNXConfig locates the text and (optional) vision towers of a dual-encoder model.
type ONNXConfig struct {
	TextModelPath  string
	ImageModelPath string
	Dimensions     int
	MaxTokens      int
	ImageSize      int
}

// ONNXExtractor stub type when built without CGO (see onnx.go for real implementation).
type ONNXExtractor struct{}

// NewONNXExtractor returns an error when built without CGO (ONNX not available).
func NewONNXExtractor(_ ONNXConfig) (*ONNXExtractor, error) {
	return nil, errONNXUnavailable
}

// Extract is not available without CGO.
func (e *ONNXExtractor) Extract(_ context.Context, _, _ string) ([]float32, error) {
	return nil, errONNXUnavailable
}

// Dimensions returns 0 without CGO.
func (e *ONNXExtractor) Dimensions() int { return 0 }

// Close is a no-op without CGO.
func (e *ONNXExtractor) Close() error { return nil }
