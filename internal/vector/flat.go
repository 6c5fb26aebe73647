package vector

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"
	"sync"
)

var flatMagic = [4]byte{'F', 'L', 'A', 'T'}

const flatVersion uint32 = 1

// FlatIndex is an exact brute-force index. Suitable for small galleries and as a recall
// baseline for the graph index.
type FlatIndex struct {
	dimensions int
	metric     Metric
	vectors    [][]float32
	mu         sync.RWMutex
}

var _ Index = (*FlatIndex)(nil)

// NewFlatIndex creates an empty exact index with the given dimension.
func NewFlatIndex(dimensions int, metric Metric) (*FlatIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	if metric == "" {
		metric = MetricL2
	}
	return &FlatIndex{dimensions: dimensions, metric: metric}, nil
}

// Insert appends vec.
func (f *FlatIndex) Insert(vec []float32) error {
	if len(vec) != f.dimensions {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), f.dimensions)
	}
	v := make([]float32, f.dimensions)
	copy(v, vec)
	f.mu.Lock()
	f.vectors = append(f.vectors, v)
	f.mu.Unlock()
	return nil
}

// Search scans every vector and returns the k nearest.
func (f *FlatIndex) Search(query []float32, k int) ([]Neighbor, error) {
	if len(query) != f.dimensions {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(query), f.dimensions)
	}
	if k <= 0 {
		return nil, nil
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	results := make([]Neighbor, len(f.vectors))
	for i, vec := range f.vectors {
		results[i] = Neighbor{Position: i, Distance: f.metric.Distance(query, vec)}
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Distance < results[j].Distance })
	if len(results) > k {
		results = results[:k]
	}
	return padNeighbors(results, k), nil
}

// Len returns the number of vectors in the index.
func (f *FlatIndex) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.vectors)
}

// Dimensions returns the vector dimension.
func (f *FlatIndex) Dimensions() int {
	return f.dimensions
}

// Close is a no-op for FlatIndex.
func (f *FlatIndex) Close() error {
	return nil
}

// Save writes magic, version, dimension, metric, count, then the raw vectors.
func (f *FlatIndex) Save(w io.Writer) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	bw := bufio.NewWriter(w)
	if _, err := bw.Write(flatMagic[:]); err != nil {
		return fmt.Errorf("write magic: %w", err)
	}
	for _, v := range []any{flatVersion, uint32(f.dimensions), f.metric.code(), uint32(len(f.vectors))} {
		if err := binary.Write(bw, binary.LittleEndian, v); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	for _, vec := range f.vectors {
		if _, err := bw.Write(float32SliceToBytes(vec)); err != nil {
			return fmt.Errorf("write vector: %w", err)
		}
	}
	return bw.Flush()
}

// LoadFlat reads an index written by FlatIndex.Save.
func LoadFlat(r io.Reader) (*FlatIndex, error) {
	br := bufio.NewReader(r)
	var magic [4]byte
	if _, err := io.ReadFull(br, magic[:]); err != nil {
		return nil, fmt.Errorf("read magic: %w", err)
	}
	if magic != flatMagic {
		return nil, fmt.Errorf("invalid flat index magic %q", magic[:])
	}
	var (
		version, dim, n uint32
		metricCode      uint8
	)
	for _, v := range []any{&version, &dim, &metricCode, &n} {
		if err := binary.Read(br, binary.LittleEndian, v); err != nil {
			return nil, fmt.Errorf("read header: %w", err)
		}
	}
	if version != flatVersion {
		return nil, fmt.Errorf("unsupported flat index version %d", version)
	}
	if dim > MaxDimensions {
		return nil, fmt.Errorf("invalid dimension %d in serialized index", dim)
	}
	metric, err := metricFromCode(metricCode)
	if err != nil {
		return nil, err
	}
	idx, err := NewFlatIndex(int(dim), metric)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, int(dim)*4)
	idx.vectors = make([][]float32, 0, min(n, loadChunk))
	for i := uint32(0); i < n; i++ {
		if _, err := io.ReadFull(br, buf); err != nil {
			return nil, fmt.Errorf("read vector %d: %w", i, err)
		}
		idx.vectors = append(idx.vectors, bytesToFloat32Slice(buf))
	}
	return idx, nil
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
