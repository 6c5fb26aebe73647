package vector

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
)

// Backend names an index implementation.
type Backend string

const (
	// BackendHNSW is the in-process graph index. Default.
	BackendHNSW Backend = "hnsw"
	// BackendFlat is exact brute-force search.
	BackendFlat Backend = "flat"
	// BackendFAISS uses FAISS IndexHNSWFlat. Requires -tags=faiss and the FAISS C library.
	BackendFAISS Backend = "faiss"
)

// Builder creates, rebuilds and deserializes indexes with one configured backend.
type Builder struct {
	backend Backend
	params  HNSWParams
}

// NewBuilder validates backend and returns a Builder. Supported: "hnsw" (default), "flat", "faiss".
func NewBuilder(backend string, params HNSWParams) (*Builder, error) {
	params.setDefaults()
	switch Backend(backend) {
	case BackendHNSW, "":
		return &Builder{backend: BackendHNSW, params: params}, nil
	case BackendFlat:
		return &Builder{backend: BackendFlat, params: params}, nil
	case BackendFAISS:
		if params.Metric != MetricL2 {
			return nil, fmt.Errorf("faiss backend supports only the l2 metric")
		}
		return &Builder{backend: BackendFAISS, params: params}, nil
	default:
		return nil, fmt.Errorf("unknown index backend: %s (supported: hnsw, flat, faiss)", backend)
	}
}

// Backend returns the configured backend.
func (b *Builder) Backend() Backend {
	return b.backend
}

// Params returns the configured graph parameters.
func (b *Builder) Params() HNSWParams {
	return b.params
}

// Empty returns an index with no vectors.
func (b *Builder) Empty(dim int) (Index, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("dimensions must be positive, got %d", dim)
	}
	switch b.backend {
	case BackendFlat:
		return NewFlatIndex(dim, b.params.Metric)
	case BackendFAISS:
		return NewFAISSIndex(dim, b.params)
	default:
		return NewHNSW(dim, b.params), nil
	}
}

// Build returns a new index holding vectors in order, so position i is vectors[i].
// Every vector must have length dim.
func (b *Builder) Build(dim int, vectors [][]float32) (Index, error) {
	idx, err := b.Empty(dim)
	if err != nil {
		return nil, err
	}
	for i, vec := range vectors {
		if err := idx.Insert(vec); err != nil {
			_ = idx.Close()
			return nil, fmt.Errorf("insert vector %d: %w", i, err)
		}
	}
	return idx, nil
}

// Load reads a blob written by any backend's Save, dispatching on its magic bytes.
func (b *Builder) Load(r io.Reader) (Index, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("read index header: %w", err)
	}
	switch {
	case bytes.Equal(magic, hnswMagic[:]):
		return LoadHNSW(br)
	case bytes.Equal(magic, flatMagic[:]):
		return LoadFlat(br)
	default:
		return LoadFAISS(br)
	}
}

// IsFAISSAvailable returns true if FAISS support is compiled in.
// This is determined by the build tag -tags=faiss.
func IsFAISSAvailable() bool {
	idx, err := NewFAISSIndex(1, HNSWParams{})
	if err != nil {
		return false
	}
	_ = idx.Close()
	return true
}
