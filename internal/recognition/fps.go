package recognition

import (
	"sync"
	"time"

	"github.com/kozaktomas/face-greeter/internal/constants"
)

// FrameRateMeter reports processed frames per second over windows of at least one second.
// It is purely observational and never throttles the loop.
type FrameRateMeter struct {
	mu         sync.Mutex
	now        func() time.Time
	frames     int
	windowFrom time.Time
	fps        float64
}

// NewFrameRateMeter creates a meter. A nil clock uses time.Now.
func NewFrameRateMeter(clock func() time.Time) *FrameRateMeter {
	if clock == nil {
		clock = time.Now
	}
	return &FrameRateMeter{now: clock, windowFrom: clock()}
}

// Tick records one frame and returns the latest fps estimate. The estimate changes only when a
// window of at least one second closes; before the first window closes it is 0.
func (m *FrameRateMeter) Tick() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.frames++
	now := m.now()
	elapsed := now.Sub(m.windowFrom)
	if elapsed >= constants.FPSWindow {
		m.fps = float64(m.frames) / elapsed.Seconds()
		m.frames = 0
		m.windowFrom = now
	}
	return m.fps
}

// FPS returns the last estimate without recording a frame.
func (m *FrameRateMeter) FPS() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fps
}
