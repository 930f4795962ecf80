package facematch

import "math"

// EuclideanDistance computes the L2 distance between two embeddings.
// Returns +Inf for vectors of different or zero length so they never match.
func EuclideanDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.Inf(1)
	}

	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}

	return math.Sqrt(sum)
}

// Distances returns the distance from query to every entry of the snapshot, in snapshot order.
func Distances(query []float32, snap *Snapshot) []float64 {
	if snap == nil {
		return nil
	}
	out := make([]float64, len(snap.entries))
	for i := range snap.entries {
		out[i] = EuclideanDistance(query, snap.entries[i].Embedding)
	}
	return out
}
