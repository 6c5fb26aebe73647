// Package vector provides positional nearest-neighbour indexes over fixed-dimension vectors.
//
// Every index addresses its vectors by insertion position: the i-th inserted vector is
// position i. Indexes never delete; removing a vector means building a new index.
package vector

import (
	"errors"
	"io"
)

// MaxDimensions is the largest vector dimension an index accepts.
const MaxDimensions = 1 << 16

// NoMatch is the position reported for result slots the index could not fill.
const NoMatch = -1

// ErrDimensionMismatch is returned when a vector's length differs from the index dimension.
var ErrDimensionMismatch = errors.New("vector: dimension mismatch")

// Neighbor is one search result slot.
type Neighbor struct {
	Position int
	Distance float32
}

// Index is an append-only positional vector index.
type Index interface {
	// Insert appends vec at position Len().
	Insert(vec []float32) error
	// Search returns exactly k slots ordered by ascending distance. Slots beyond the
	// number of reachable vectors carry Position NoMatch.
	Search(query []float32, k int) ([]Neighbor, error)
	Len() int
	Dimensions() int
	// Save writes a self-describing blob readable by Builder.Load.
	Save(w io.Writer) error
	Close() error
}
