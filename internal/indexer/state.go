package indexer

import (
	"sync"
	"sync/atomic"

	"github.com/hyperjump/kioku/internal/vector"
)

// Materialization sources reported in stats and metrics.
const (
	sourceLoaded    = "loaded"
	sourceCreated   = "created"
	sourceRecovered = "recovered"
)

// userState is one user's index-aligned record store: vectors[i], paths[i] and the
// index position i describe the same photo, and positions maps each path back to i.
type userState struct {
	dim       int
	vectors   [][]float32
	paths     []string
	positions map[string]int
	captions  map[string]string
	index     vector.Index
	source    string
}

// newUserState takes ownership of the given collections. paths must be unique.
func newUserState(dim int, vectors [][]float32, paths []string, captions map[string]string, idx vector.Index) *userState {
	positions := make(map[string]int, len(paths))
	for i, p := range paths {
		positions[p] = i
	}
	if captions == nil {
		captions = make(map[string]string, len(paths))
	}
	for _, p := range paths {
		if _, ok := captions[p]; !ok {
			captions[p] = ""
		}
	}
	return &userState{
		dim:       dim,
		vectors:   vectors,
		paths:     paths,
		positions: positions,
		captions:  captions,
		index:     idx,
	}
}

func (s *userState) len() int {
	return len(s.paths)
}

// without returns copies of the collections with position pos removed.
func (s *userState) without(pos int) ([][]float32, []string, map[string]string) {
	vectors := make([][]float32, 0, len(s.vectors)-1)
	vectors = append(vectors, s.vectors[:pos]...)
	vectors = append(vectors, s.vectors[pos+1:]...)
	paths := make([]string, 0, len(s.paths)-1)
	paths = append(paths, s.paths[:pos]...)
	paths = append(paths, s.paths[pos+1:]...)
	captions := make(map[string]string, len(paths))
	for _, p := range paths {
		captions[p] = s.captions[p]
	}
	return vectors, paths, captions
}

// replacing returns copies of the collections with position pos holding vec and caption.
func (s *userState) replacing(pos int, vec []float32, caption string) ([][]float32, []string, map[string]string) {
	vectors := make([][]float32, len(s.vectors))
	copy(vectors, s.vectors)
	vectors[pos] = vec
	paths := make([]string, len(s.paths))
	copy(paths, s.paths)
	captions := make(map[string]string, len(paths))
	for _, p := range paths {
		captions[p] = s.captions[p]
	}
	captions[paths[pos]] = caption
	return vectors, paths, captions
}

// collection returns copies of the vector and path lists.
func (s *userState) collection() *Collection {
	c := &Collection{
		Vectors: make([][]float32, len(s.vectors)),
		Paths:   make([]string, len(s.paths)),
	}
	for i, v := range s.vectors {
		c.Vectors[i] = append([]float32(nil), v...)
	}
	copy(c.Paths, s.paths)
	return c
}

func (s *userState) close() {
	if s.index != nil {
		_ = s.index.Close()
	}
}

// userEntry guards one user's state. A nil state means not yet materialized.
// An evicted entry is no longer in the manager's map and must not be used.
type userEntry struct {
	mu       sync.RWMutex
	state    *userState
	evicted  bool
	lastUsed atomic.Int64
}

// Collection is a copy of a user's vectors and paths, index-aligned.
type Collection struct {
	Vectors [][]float32
	Paths   []string
}

// dedupe keeps the last vector for each repeated path, at the path's first position.
func dedupe(vectors [][]float32, paths []string) ([][]float32, []string) {
	seen := make(map[string]int, len(paths))
	outV := make([][]float32, 0, len(vectors))
	outP := make([]string, 0, len(paths))
	for i, p := range paths {
		if j, ok := seen[p]; ok {
			outV[j] = vectors[i]
			continue
		}
		seen[p] = len(outP)
		outP = append(outP, p)
		outV = append(outV, vectors[i])
	}
	return outV, outP
}
