package vector

import (
	"container/heap"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"sync"
)

// HNSWParams configures graph construction and search.
type HNSWParams struct {
	// M is the maximum number of links per node on layers above 0; layer 0 allows 2*M.
	M int
	// EfConstruction is the candidate list size while inserting.
	EfConstruction int
	// EfSearch is the candidate list size while searching; raised to k when smaller.
	EfSearch int
	Metric   Metric
	// Seed fixes level assignment so rebuilding the same vectors yields the same graph.
	Seed uint64
}

func (p *HNSWParams) setDefaults() {
	if p.M < 2 {
		p.M = 16
	}
	if p.EfConstruction <= 0 {
		p.EfConstruction = 200
	}
	if p.EfSearch <= 0 {
		p.EfSearch = 50
	}
	if p.Metric == "" {
		p.Metric = MetricL2
	}
}

func (p *HNSWParams) maxConns(layer int) int {
	if layer == 0 {
		return p.M * 2
	}
	return p.M
}

type distItem struct {
	id   uint32
	dist float32
}

// minDistHeap pops the closest item first.
type minDistHeap []distItem

func (h minDistHeap) Len() int           { return len(h) }
func (h minDistHeap) Less(i, j int) bool { return h[i].dist < h[j].dist }
func (h minDistHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *minDistHeap) Push(x any)        { *h = append(*h, x.(distItem)) }
func (h *minDistHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// maxDistHeap pops the farthest item first.
type maxDistHeap []distItem

func (h maxDistHeap) Len() int           { return len(h) }
func (h maxDistHeap) Less(i, j int) bool { return h[i].dist > h[j].dist }
func (h maxDistHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *maxDistHeap) Push(x any)        { *h = append(*h, x.(distItem)) }
func (h *maxDistHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

type hnswNode struct {
	vector  []float32
	level   int
	friends [][]uint32
}

// HNSW is a hierarchical navigable small world graph. Node ids are insertion positions.
// Safe for concurrent searches; inserts take an exclusive lock.
type HNSW struct {
	mu       sync.RWMutex
	dim      int
	params   HNSWParams
	nodes    []*hnswNode
	entryID  int32
	maxLevel int
	levelMul float64
	rng      *rand.Rand
}

var _ Index = (*HNSW)(nil)

// NewHNSW returns an empty graph. Panics if dim is not positive.
func NewHNSW(dim int, params HNSWParams) *HNSW {
	if dim <= 0 {
		panic("vector: HNSW dimension must be positive")
	}
	params.setDefaults()
	return &HNSW{
		dim:      dim,
		params:   params,
		entryID:  -1,
		levelMul: 1.0 / math.Log(float64(params.M)),
		rng:      rand.New(rand.NewPCG(params.Seed, params.Seed^0x9e3779b97f4a7c15)),
	}
}

// Params returns the construction parameters.
func (h *HNSW) Params() HNSWParams {
	return h.params
}

// Len returns the number of vectors in the graph.
func (h *HNSW) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.nodes)
}

// Dimensions returns the vector dimension.
func (h *HNSW) Dimensions() int {
	return h.dim
}

// Close is a no-op.
func (h *HNSW) Close() error { return nil }

func (h *HNSW) distance(a, b []float32) float32 {
	return h.params.Metric.Distance(a, b)
}

// Insert links vector into the graph at position Len().
func (h *HNSW) Insert(vector []float32) error {
	if len(vector) != h.dim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vector), h.dim)
	}
	vec := make([]float32, len(vector))
	copy(vec, vector)

	h.mu.Lock()
	defer h.mu.Unlock()

	idx := uint32(len(h.nodes))
	level := h.randomLevel()
	nd := &hnswNode{vector: vec, level: level, friends: make([][]uint32, level+1)}
	h.nodes = append(h.nodes, nd)

	if h.entryID < 0 {
		h.entryID = int32(idx)
		h.maxLevel = level
		return nil
	}

	cur := h.greedyDescend(vec, uint32(h.entryID), h.maxLevel, level)

	top := min(level, h.maxLevel)
	ep := []uint32{cur}
	for lev := top; lev >= 0; lev-- {
		candidates := h.searchLayer(vec, ep, h.params.EfConstruction, lev)
		maxC := h.params.maxConns(lev)
		neighbors := h.selectClosest(vec, candidates, maxC)
		nd.friends[lev] = neighbors

		for _, nID := range neighbors {
			nn := h.nodes[nID]
			if lev >= len(nn.friends) {
				continue
			}
			nn.friends[lev] = append(nn.friends[lev], idx)
			if len(nn.friends[lev]) > maxC {
				nn.friends[lev] = h.selectClosest(nn.vector, nn.friends[lev], maxC)
			}
		}
		ep = candidates
	}

	if level > h.maxLevel {
		h.entryID = int32(idx)
		h.maxLevel = level
	}
	return nil
}

// Search returns k slots ordered by ascending distance.
func (h *HNSW) Search(query []float32, k int) ([]Neighbor, error) {
	if len(query) != h.dim {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(query), h.dim)
	}
	if k <= 0 {
		return nil, nil
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.nodes) == 0 {
		return padNeighbors(nil, k), nil
	}

	ef := max(h.params.EfSearch, k)
	cur := h.greedyDescend(query, uint32(h.entryID), h.maxLevel, 0)
	candidates := h.searchLayer(query, []uint32{cur}, ef, 0)

	results := make([]Neighbor, 0, len(candidates))
	for _, id := range candidates {
		results = append(results, Neighbor{Position: int(id), Distance: h.distance(query, h.nodes[id].vector)})
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Distance == results[j].Distance {
			return results[i].Position < results[j].Position
		}
		return results[i].Distance < results[j].Distance
	})
	if len(results) > k {
		results = results[:k]
	}
	return padNeighbors(results, k), nil
}

// greedyDescend walks from the entry point down to layer stop+1, keeping the single closest node.
func (h *HNSW) greedyDescend(query []float32, cur uint32, from, stop int) uint32 {
	curDist := h.distance(query, h.nodes[cur].vector)
	for lev := from; lev > stop; lev-- {
		changed := true
		for changed {
			changed = false
			nd := h.nodes[cur]
			if lev >= len(nd.friends) {
				break
			}
			for _, fID := range nd.friends[lev] {
				d := h.distance(query, h.nodes[fID].vector)
				if d < curDist {
					cur = fID
					curDist = d
					changed = true
				}
			}
		}
	}
	return cur
}

// randomLevel draws from P(level >= l) = exp(-l * ln(M)).
func (h *HNSW) randomLevel() int {
	r := max(h.rng.Float64(), math.SmallestNonzeroFloat64)
	return min(int(-math.Log(r)*h.levelMul), 31)
}

// searchLayer runs a beam search on one layer and returns up to ef node ids.
func (h *HNSW) searchLayer(query []float32, entryPoints []uint32, ef int, layer int) []uint32 {
	visited := make(map[uint32]struct{}, ef*2)

	var candidates minDistHeap
	var results maxDistHeap

	for _, ep := range entryPoints {
		if _, seen := visited[ep]; seen {
			continue
		}
		visited[ep] = struct{}{}
		d := h.distance(query, h.nodes[ep].vector)
		heap.Push(&candidates, distItem{id: ep, dist: d})
		heap.Push(&results, distItem{id: ep, dist: d})
		if results.Len() > ef {
			heap.Pop(&results)
		}
	}

	for candidates.Len() > 0 {
		closest := heap.Pop(&candidates).(distItem)
		if results.Len() >= ef && closest.dist > results[0].dist {
			break
		}

		nd := h.nodes[closest.id]
		if layer >= len(nd.friends) {
			continue
		}
		for _, fID := range nd.friends[layer] {
			if _, seen := visited[fID]; seen {
				continue
			}
			visited[fID] = struct{}{}

			d := h.distance(query, h.nodes[fID].vector)
			if results.Len() < ef || d < results[0].dist {
				heap.Push(&candidates, distItem{id: fID, dist: d})
				heap.Push(&results, distItem{id: fID, dist: d})
				if results.Len() > ef {
					heap.Pop(&results)
				}
			}
		}
	}

	out := make([]uint32, results.Len())
	for i := range out {
		out[i] = results[i].id
	}
	return out
}

// selectClosest keeps the maxN candidates nearest to query.
func (h *HNSW) selectClosest(query []float32, candidates []uint32, maxN int) []uint32 {
	if len(candidates) <= maxN {
		out := make([]uint32, len(candidates))
		copy(out, candidates)
		return out
	}
	items := make([]distItem, len(candidates))
	for i, id := range candidates {
		items[i] = distItem{id: id, dist: h.distance(query, h.nodes[id].vector)}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].dist < items[j].dist })
	out := make([]uint32, maxN)
	for i := range out {
		out[i] = items[i].id
	}
	return out
}
