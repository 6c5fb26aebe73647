//go:build !faiss || !cgo
// +build !faiss !cgo

package vector

import (
	"errors"
	"io"
)

var errFAISSUnavailable = errors.New("FAISS not available: build with -tags=faiss and install FAISS library")

// FAISSIndex is a stub that returns an error when FAISS is not available.
// Build with -tags=faiss to enable FAISS support.
type FAISSIndex struct{}

var _ Index = (*FAISSIndex)(nil)

// NewFAISSIndex returns an error because FAISS is not available.
func NewFAISSIndex(_ int, _ HNSWParams) (*FAISSIndex, error) {
	return nil, errFAISSUnavailable
}

// LoadFAISS returns an error because FAISS is not available.
func LoadFAISS(_ io.Reader) (*FAISSIndex, error) {
	return nil, errFAISSUnavailable
}

// Insert is not implemented without FAISS.
func (f *FAISSIndex) Insert(_ []float32) error { return errFAISSUnavailable }

// Search is not implemented without FAISS.
func (f *FAISSIndex) Search(_ []float32, _ int) ([]Neighbor, error) { return nil, errFAISSUnavailable }

// Len returns 0 without FAISS.
func (f *FAISSIndex) Len() int { return 0 }

// Dimensions returns 0 without FAISS.
func (f *FAISSIndex) Dimensions() int { return 0 }

// Save is not implemented without FAISS.
func (f *FAISSIndex) Save(_ io.Writer) error { return errFAISSUnavailable }

// Close is a no-op without FAISS.
func (f *FAISSIndex) Close() error { return nil }
