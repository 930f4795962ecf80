package database

import (
	"cmp"
	"errors"
	"slices"
	"sync"

	"github.com/coder/hnsw"

	"github.com/kozaktomas/face-greeter/internal/facematch"
)

// Neighbor is one reference embedding close to a query.
type Neighbor struct {
	Index    int // position in the snapshot the index was built from
	Identity *facematch.Identity
	Distance float64 // Euclidean
}

// ReferenceIndex is an approximate nearest-neighbour index over a snapshot, used for "who does
// this face resemble" queries. Recognition itself always uses the exact matcher.
type ReferenceIndex struct {
	mu       sync.RWMutex
	graph    *hnsw.Graph[int]
	snap     *facematch.Snapshot
	distance hnsw.DistanceFunc
}

// NewReferenceIndex creates an empty index.
func NewReferenceIndex() *ReferenceIndex {
	return &ReferenceIndex{distance: hnsw.EuclideanDistance}
}

// Build replaces the index contents with every entry of snap.
func (r *ReferenceIndex) Build(snap *facematch.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.snap = snap
	if snap == nil || snap.Len() == 0 {
		r.graph = nil
		return
	}

	g := hnsw.NewGraph[int]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors) // Standard HNSW formula
	g.EfSearch = HNSWEfSearch
	g.Distance = r.distance

	for i, e := range snap.Entries() {
		g.Add(hnsw.MakeNode(i, e.Embedding))
	}
	r.graph = g
}

// Len returns the number of indexed embeddings.
func (r *ReferenceIndex) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.graph == nil {
		return 0
	}
	return r.graph.Len()
}

// Search returns up to k neighbours of query, closest first.
func (r *ReferenceIndex) Search(query []float32, k int) ([]Neighbor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.graph == nil {
		return nil, errors.New("index not initialized")
	}
	if len(query) != r.snap.Dim() {
		return nil, facematch.ErrDimensionMismatch
	}
	if k <= 0 {
		return nil, nil
	}

	nodes := r.graph.Search(query, k)
	out := make([]Neighbor, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, Neighbor{
			Index:    n.Key,
			Identity: r.snap.Entry(n.Key).Identity,
			Distance: facematch.EuclideanDistance(query, n.Value),
		})
	}
	slices.SortStableFunc(out, func(a, b Neighbor) int {
		return cmp.Compare(a.Distance, b.Distance)
	})
	return out, nil
}
