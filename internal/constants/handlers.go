package constants

// Event channel constants
const (
	// EventChannelBuffer is the buffer size for event channels
	EventChannelBuffer = 100
)

// Job retention constants
const (
	// MaxRetainedJobs is the number of finished training jobs kept for status queries
	MaxRetainedJobs = 20
)
