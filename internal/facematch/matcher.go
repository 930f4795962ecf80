package facematch

import "math"

// DefaultThreshold is the maximum Euclidean distance between 128-d dlib embeddings that still
// counts as the same person.
const DefaultThreshold = 0.6

// Match is the outcome of comparing one query embedding with a snapshot.
type Match struct {
	Identity *Identity // nil means Unknown
	Distance float64   // distance to the closest entry, +Inf when nothing was compared
	Index    int       // index of the closest entry, -1 when nothing was compared
}

// Known reports whether the match resolved to an identity.
func (m Match) Known() bool {
	return m.Identity != nil
}

// Matcher classifies embeddings by brute-force nearest neighbour over a snapshot.
type Matcher struct {
	threshold float64
}

// NewMatcher creates a matcher. A non-positive threshold selects DefaultThreshold.
func NewMatcher(threshold float64) *Matcher {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Matcher{threshold: threshold}
}

// Threshold returns the acceptance distance.
func (m *Matcher) Threshold() float64 {
	return m.threshold
}

// Match finds the closest entry to query. The first entry wins exact ties.
// An empty snapshot, an empty query or a query of the wrong dimension yields Unknown.
func (m *Matcher) Match(query []float32, snap *Snapshot) Match {
	unknown := Match{Distance: math.Inf(1), Index: -1}
	if snap == nil || snap.Len() == 0 || len(query) == 0 || len(query) != snap.dim {
		return unknown
	}

	best := -1
	bestDist := math.Inf(1)
	for i := range snap.entries {
		d := EuclideanDistance(query, snap.entries[i].Embedding)
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	if best < 0 {
		return unknown
	}

	result := Match{Distance: bestDist, Index: best}
	if bestDist <= m.threshold && m.compare(bestDist) {
		result.Identity = snap.entries[best].Identity
	}
	return result
}

// MatchAll classifies every query against the same snapshot.
func (m *Matcher) MatchAll(queries [][]float32, snap *Snapshot) []Match {
	out := make([]Match, len(queries))
	for i, q := range queries {
		out[i] = m.Match(q, snap)
	}
	return out
}

// compare is the per-entry "is this the same face" test: distance within tolerance.
func (m *Matcher) compare(distance float64) bool {
	return !math.IsNaN(distance) && distance <= m.threshold
}
