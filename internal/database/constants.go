package database

// HNSW index parameters for the reference index over 128-dim face embeddings
const (
	// HNSWMaxNeighbors (M) is the maximum number of neighbors per node.
	// Higher values improve recall but increase memory and build time.
	HNSWMaxNeighbors = 16

	// HNSWEfSearch is the search candidate pool size.
	// Higher values improve recall but slow down search.
	HNSWEfSearch = 100
)

// snapshotFileMode is the permission of snapshot files written by FileSnapshotStore.
const snapshotFileMode = 0o600
