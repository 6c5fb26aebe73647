package vector

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
)

var hnswMagic = [4]byte{'H', 'N', 'S', 'W'}

const hnswVersion uint32 = 1

// Save serializes the graph to w.
//
// Format (little endian):
//
//	[4B magic "HNSW"] [4B version]
//	[4B dim] [4B M] [4B efConstruction] [4B efSearch] [1B metric] [8B seed]
//	[4B count] [4B maxLevel] [4B entryID]
//	per node, in position order:
//	  [4B level] [dim x 4B vector]
//	  per layer 0..level: [4B numFriends] [numFriends x 4B position]
func (h *HNSW) Save(w io.Writer) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	bw := bufio.NewWriter(w)
	le := binary.LittleEndian
	write := func(v any) error { return binary.Write(bw, le, v) }

	if _, err := bw.Write(hnswMagic[:]); err != nil {
		return fmt.Errorf("vector: save magic: %w", err)
	}
	header := []any{
		hnswVersion,
		uint32(h.dim),
		uint32(h.params.M),
		uint32(h.params.EfConstruction),
		uint32(h.params.EfSearch),
		h.params.Metric.code(),
		h.params.Seed,
		uint32(len(h.nodes)),
		uint32(h.maxLevel),
		h.entryID,
	}
	for _, v := range header {
		if err := write(v); err != nil {
			return fmt.Errorf("vector: save header: %w", err)
		}
	}

	for _, nd := range h.nodes {
		if err := write(uint32(nd.level)); err != nil {
			return err
		}
		if err := write(nd.vector); err != nil {
			return err
		}
		for lev := 0; lev <= nd.level; lev++ {
			var friends []uint32
			if lev < len(nd.friends) {
				friends = nd.friends[lev]
			}
			if err := write(uint32(len(friends))); err != nil {
				return err
			}
			if len(friends) > 0 {
				if err := write(friends); err != nil {
					return err
				}
			}
		}
	}
	return bw.Flush()
}

// LoadHNSW deserializes a graph written by Save.
func LoadHNSW(r io.Reader) (*HNSW, error) {
	br := bufio.NewReader(r)
	le := binary.LittleEndian
	read := func(v any) error { return binary.Read(br, le, v) }

	var magic [4]byte
	if _, err := io.ReadFull(br, magic[:]); err != nil {
		return nil, fmt.Errorf("vector: load magic: %w", err)
	}
	if magic != hnswMagic {
		return nil, fmt.Errorf("vector: invalid hnsw magic %q", magic[:])
	}
	var version uint32
	if err := read(&version); err != nil {
		return nil, fmt.Errorf("vector: load version: %w", err)
	}
	if version != hnswVersion {
		return nil, fmt.Errorf("vector: unsupported hnsw version %d (want %d)", version, hnswVersion)
	}

	var (
		dim, m, efC, efS uint32
		metricCode       uint8
		seed             uint64
		count, maxLev    uint32
		entryID          int32
	)
	for _, v := range []any{&dim, &m, &efC, &efS, &metricCode, &seed, &count, &maxLev, &entryID} {
		if err := read(v); err != nil {
			return nil, fmt.Errorf("vector: load header: %w", err)
		}
	}
	if dim == 0 || dim > MaxDimensions {
		return nil, fmt.Errorf("vector: invalid dimension %d in serialized index", dim)
	}
	metric, err := metricFromCode(metricCode)
	if err != nil {
		return nil, fmt.Errorf("vector: load header: %w", err)
	}
	if count > 0 && (entryID < 0 || uint32(entryID) >= count) {
		return nil, fmt.Errorf("vector: entry point %d out of range for %d nodes", entryID, count)
	}

	// Header counts are untrusted: allocations grow with the bytes actually read.
	nodes := make([]*hnswNode, 0, min(count, loadChunk))
	for i := uint32(0); i < count; i++ {
		var level uint32
		if err := read(&level); err != nil {
			return nil, fmt.Errorf("vector: load node %d: %w", i, err)
		}
		if level > 31 {
			return nil, fmt.Errorf("vector: node %d has invalid level %d", i, level)
		}
		vec := make([]float32, dim)
		if err := read(vec); err != nil {
			return nil, fmt.Errorf("vector: load node %d: %w", i, err)
		}
		friends := make([][]uint32, level+1)
		for lev := range friends {
			var nf uint32
			if err := read(&nf); err != nil {
				return nil, fmt.Errorf("vector: load node %d: %w", i, err)
			}
			if nf == 0 {
				continue
			}
			if nf > count {
				return nil, fmt.Errorf("vector: node %d has %d links for %d nodes", i, nf, count)
			}
			if friends[lev], err = readUint32s(br, nf); err != nil {
				return nil, fmt.Errorf("vector: load node %d: %w", i, err)
			}
			for _, f := range friends[lev] {
				if f >= count {
					return nil, fmt.Errorf("vector: node %d links to missing node %d", i, f)
				}
			}
		}
		nodes = append(nodes, &hnswNode{vector: vec, level: int(level), friends: friends})
	}
	if count > 0 && int(maxLev) != nodes[entryID].level {
		return nil, fmt.Errorf("vector: max level %d disagrees with entry point level %d", maxLev, nodes[entryID].level)
	}

	params := HNSWParams{
		M:              int(m),
		EfConstruction: int(efC),
		EfSearch:       int(efS),
		Metric:         metric,
		Seed:           seed,
	}
	params.setDefaults()

	h := &HNSW{
		dim:      int(dim),
		params:   params,
		nodes:    nodes,
		entryID:  entryID,
		maxLevel: int(maxLev),
		levelMul: 1.0 / math.Log(float64(params.M)),
		rng:      rand.New(rand.NewPCG(seed^uint64(count), seed^0x9e3779b97f4a7c15)),
	}
	if count == 0 {
		h.entryID = -1
		h.maxLevel = 0
	}
	return h, nil
}

// loadChunk bounds any single allocation driven by a count read from a blob.
const loadChunk = 4096

// readUint32s reads n values in bounded chunks, so a corrupt n fails at EOF instead of
// allocating n values up front.
func readUint32s(r io.Reader, n uint32) ([]uint32, error) {
	out := make([]uint32, 0, min(n, loadChunk))
	for uint32(len(out)) < n {
		chunk := make([]uint32, min(n-uint32(len(out)), loadChunk))
		if err := binary.Read(r, binary.LittleEndian, chunk); err != nil {
			return nil, err
		}
		out = append(out, chunk...)
	}
	return out, nil
}
