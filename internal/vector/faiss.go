//go:build faiss && cgo
// +build faiss,cgo

package vector

/*
#cgo CFLAGS: -I/opt/homebrew/include -I/usr/local/include
#cgo LDFLAGS: -L/opt/homebrew/lib -L/usr/local/lib -lfaiss_c

#include <stdlib.h>
#include <faiss/c_api/Index_c.h>
#include <faiss/c_api/index_factory_c.h>
#include <faiss/c_api/index_io_c.h>
#include <faiss/c_api/AutoTune_c.h>
#include <faiss/c_api/error_c.h>
*/
import "C"

import (
	"fmt"
	"io"
	"os"
	"sync"
	"unsafe"
)

// FAISSIndex wraps a FAISS IndexHNSWFlat. Labels are insertion positions, which is what
// FAISS assigns when vectors are added without explicit ids.
type FAISSIndex struct {
	index      *C.FaissIndex
	dimensions int
	mu         sync.RWMutex
}

var _ Index = (*FAISSIndex)(nil)

// NewFAISSIndex creates an empty "HNSW<M>,Flat" index with L2 distance. FAISS keeps its own
// efConstruction default; efSearch is applied through the parameter space.
func NewFAISSIndex(dimensions int, params HNSWParams) (*FAISSIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	params.setDefaults()
	if params.Metric != MetricL2 {
		return nil, fmt.Errorf("FAISS backend supports only the l2 metric")
	}

	desc := C.CString(fmt.Sprintf("HNSW%d,Flat", params.M))
	defer C.free(unsafe.Pointer(desc))

	var index *C.FaissIndex
	if ret := C.faiss_index_factory(&index, C.int(dimensions), desc, C.METRIC_L2); ret != 0 {
		return nil, fmt.Errorf("failed to create FAISS index: %s", faissLastError())
	}
	if err := setEfSearch(index, params.EfSearch); err != nil {
		C.faiss_Index_free(index)
		return nil, err
	}
	return &FAISSIndex{index: index, dimensions: dimensions}, nil
}

func setEfSearch(index *C.FaissIndex, ef int) error {
	var space *C.FaissParameterSpace
	if ret := C.faiss_ParameterSpace_new(&space); ret != 0 {
		return fmt.Errorf("failed to create FAISS parameter space: %s", faissLastError())
	}
	defer C.faiss_ParameterSpace_free(space)

	name := C.CString("efSearch")
	defer C.free(unsafe.Pointer(name))
	if ret := C.faiss_ParameterSpace_set_index_parameter(space, index, name, C.double(ef)); ret != 0 {
		return fmt.Errorf("failed to set efSearch: %s", faissLastError())
	}
	return nil
}

// faissLastError returns the last FAISS error message.
func faissLastError() string {
	cErr := C.faiss_get_last_error()
	if cErr == nil {
		return "unknown error"
	}
	return C.GoString(cErr)
}

// Insert appends vec.
func (f *FAISSIndex) Insert(vec []float32) error {
	if len(vec) != f.dimensions {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), f.dimensions)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if ret := C.faiss_Index_add(f.index, 1, (*C.float)(unsafe.Pointer(&vec[0]))); ret != 0 {
		return fmt.Errorf("failed to add vector to FAISS index: %s", faissLastError())
	}
	return nil
}

// Search returns k slots; FAISS reports unfilled slots with label -1, which is NoMatch.
func (f *FAISSIndex) Search(query []float32, k int) ([]Neighbor, error) {
	if len(query) != f.dimensions {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(query), f.dimensions)
	}
	if k <= 0 {
		return nil, nil
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	if int(C.faiss_Index_ntotal(f.index)) == 0 {
		return padNeighbors(nil, k), nil
	}

	distances := make([]float32, k)
	labels := make([]int64, k)
	ret := C.faiss_Index_search(
		f.index,
		1,
		(*C.float)(unsafe.Pointer(&query[0])),
		C.idx_t(k),
		(*C.float)(unsafe.Pointer(&distances[0])),
		(*C.idx_t)(unsafe.Pointer(&labels[0])),
	)
	if ret != 0 {
		return nil, fmt.Errorf("FAISS search failed: %s", faissLastError())
	}

	results := make([]Neighbor, 0, k)
	for i := 0; i < k; i++ {
		if labels[i] < 0 {
			continue
		}
		results = append(results, Neighbor{Position: int(labels[i]), Distance: distances[i]})
	}
	return padNeighbors(results, k), nil
}

// Len returns the number of vectors in the index.
func (f *FAISSIndex) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return int(C.faiss_Index_ntotal(f.index))
}

// Dimensions returns the vector dimension.
func (f *FAISSIndex) Dimensions() int {
	return f.dimensions
}

// Save writes the native FAISS file format to w. The C API only writes to named files,
// so the blob passes through a temporary file.
func (f *FAISSIndex) Save(w io.Writer) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	tmp, err := os.CreateTemp("", "kioku-faiss-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	name := tmp.Name()
	tmp.Close()
	defer os.Remove(name)

	cPath := C.CString(name)
	defer C.free(unsafe.Pointer(cPath))
	if ret := C.faiss_write_index_fname(f.index, cPath); ret != 0 {
		return fmt.Errorf("failed to save FAISS index: %s", faissLastError())
	}

	in, err := os.Open(name)
	if err != nil {
		return fmt.Errorf("open temp file: %w", err)
	}
	defer in.Close()
	if _, err := io.Copy(w, in); err != nil {
		return fmt.Errorf("copy FAISS index: %w", err)
	}
	return nil
}

// LoadFAISS reads a native FAISS blob.
func LoadFAISS(r io.Reader) (*FAISSIndex, error) {
	tmp, err := os.CreateTemp("", "kioku-faiss-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	name := tmp.Name()
	defer os.Remove(name)
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("copy FAISS index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close temp file: %w", err)
	}

	cPath := C.CString(name)
	defer C.free(unsafe.Pointer(cPath))
	var index *C.FaissIndex
	if ret := C.faiss_read_index_fname(cPath, 0, &index); ret != 0 {
		return nil, fmt.Errorf("failed to load FAISS index: %s", faissLastError())
	}
	return &FAISSIndex{index: index, dimensions: int(C.faiss_Index_d(index))}, nil
}

// Close frees the FAISS index resources.
func (f *FAISSIndex) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.index != nil {
		C.faiss_Index_free(f.index)
		f.index = nil
	}
	return nil
}
