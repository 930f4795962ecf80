// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

import "time"

// Face matching constants
const (
	// DefaultDistanceThreshold is the default maximum Euclidean distance for a face match.
	// Lower values = stricter matching
	DefaultDistanceThreshold = 0.6

	// DefaultEmbeddingDim is the embedding length produced by the dlib ResNet encoder
	DefaultEmbeddingDim = 128
)

// Frame processing constants
const (
	// DefaultFrameScale is the integer factor frames are downsampled by before detection
	DefaultFrameScale = 4

	// DefaultFrameTimeout bounds one detector call on the live path
	DefaultFrameTimeout = 5 * time.Second

	// CaptureRetryDelay is how long the frame loop waits after a failed capture
	CaptureRetryDelay = 200 * time.Millisecond

	// FPSWindow is the interval the frame rate meter averages over
	FPSWindow = time.Second
)

// Announcement constants
const (
	// DefaultAnnounceTemplate is the spoken message for a recognized person
	DefaultAnnounceTemplate = "Name: {name}, Age: {age}, Occupation: {occupation}"

	// DefaultSpeechRate is the espeak words-per-minute rate
	DefaultSpeechRate = 150
)

// Training constants
const (
	// DefaultTrainingWorkers is the default number of parallel encoder calls during training
	DefaultTrainingWorkers = 4

	// DefaultDatasetDir is where captured training images are stored, one folder per person
	DefaultDatasetDir = "dataset"

	// MetadataFileName is the per-person metadata file inside a dataset folder
	MetadataFileName = "metadata.json"

	// DefaultSnapshotPath is where the reference set is stored by the file backend
	DefaultSnapshotPath = "encodings.gob"

	// WatchDebounce is how long file watchers wait for writes to settle
	WatchDebounce = 500 * time.Millisecond
)

// Query constants
const (
	// DefaultQueryLimit is the number of nearest reference embeddings the query command prints
	DefaultQueryLimit = 5
)
