// Package recognition runs the per-frame pipeline: capture, downsample, detect and encode,
// match every face against the current reference snapshot, and hand known identities to a
// notifier.
package recognition

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kozaktomas/face-greeter/internal/camera"
	"github.com/kozaktomas/face-greeter/internal/constants"
	"github.com/kozaktomas/face-greeter/internal/detector"
	"github.com/kozaktomas/face-greeter/internal/facematch"
	"github.com/kozaktomas/face-greeter/internal/logging"
)

// ErrDetectorPanic wraps a panic raised by the detector while processing a frame.
var ErrDetectorPanic = errors.New("detector panicked")

// State is the stage the frame loop is currently in.
type State int32

const (
	StateIdle State = iota
	StateCapturing
	StateDetecting
	StateMatching
	StateAnnotated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCapturing:
		return "capturing"
	case StateDetecting:
		return "detecting"
	case StateMatching:
		return "matching"
	case StateAnnotated:
		return "annotated"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Result is one recognized (or unknown) face, with the box in full-resolution coordinates.
type Result struct {
	Box      facematch.Box
	Identity *facematch.Identity // nil means Unknown
	Distance float64
}

// Known reports whether the face matched a reference identity.
func (r Result) Known() bool {
	return r.Identity != nil
}

// Label is the text drawn next to the box.
func (r Result) Label() string {
	return r.Identity.DisplayName()
}

// FrameResult is everything recognized in one frame.
type FrameResult struct {
	Seq             uint64
	CapturedAt      time.Time
	Bounds          image.Rectangle // full-resolution frame bounds
	Faces           []Result
	SnapshotVersion uint64
}

// Notifier receives every known identity seen in a frame, in detection order.
// Notify must not block.
type Notifier interface {
	Notify(identity *facematch.Identity)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(identity *facematch.Identity)

func (f NotifierFunc) Notify(identity *facematch.Identity) { f(identity) }

// Stats is a point-in-time view of the loop counters.
type Stats struct {
	State           string    `json:"state"`
	Frames          uint64    `json:"frames"`
	Dropped         uint64    `json:"dropped"`
	Faces           uint64    `json:"faces"`
	Recognized      uint64    `json:"recognized"`
	FPS             float64   `json:"fps"`
	LastFrameAt     time.Time `json:"last_frame_at"`
	SnapshotVersion uint64    `json:"snapshot_version"`
	SnapshotSize    int       `json:"snapshot_size"`
}

// Option configures a Processor.
type Option func(*Processor)

// WithLogger sets the logger. Nil means no logging.
func WithLogger(l *zap.Logger) Option {
	return func(p *Processor) { p.logger = logging.OrNop(l) }
}

// WithNotifier sets where known identities are sent.
func WithNotifier(n Notifier) Option {
	return func(p *Processor) { p.notifier = n }
}

// WithScale sets the downsample factor applied before detection.
func WithScale(scale int) Option {
	return func(p *Processor) {
		if scale >= 1 {
			p.scale = scale
		}
	}
}

// WithFrameTimeout bounds each detector call. Zero disables the timeout.
func WithFrameTimeout(d time.Duration) Option {
	return func(p *Processor) { p.frameTimeout = d }
}

// WithMaxFPS paces the loop. Zero runs as fast as capture and detection allow.
func WithMaxFPS(fps float64) Option {
	return func(p *Processor) {
		if fps > 0 {
			p.limiter = rate.NewLimiter(rate.Limit(fps), 1)
		} else {
			p.limiter = nil
		}
	}
}

// WithOnFrame registers a callback invoked with every completed frame from Run.
func WithOnFrame(fn func(FrameResult)) Option {
	return func(p *Processor) { p.onFrame = fn }
}

// WithClock replaces time.Now for the frame rate meter and timestamps.
func WithClock(clock func() time.Time) Option {
	return func(p *Processor) { p.now = clock }
}

// Processor owns the live recognition loop. ProcessFrame may be called concurrently, Run must
// only be running once.
type Processor struct {
	detector     detector.Detector
	store        *facematch.Store
	matcher      *facematch.Matcher
	notifier     Notifier
	logger       *zap.Logger
	scale        int
	frameTimeout time.Duration
	limiter      *rate.Limiter
	onFrame      func(FrameResult)
	now          func() time.Time
	meter        *FrameRateMeter

	state      atomic.Int32
	seq        atomic.Uint64
	frames     atomic.Uint64
	dropped    atomic.Uint64
	faces      atomic.Uint64
	recognized atomic.Uint64

	lastMu      sync.Mutex
	lastFrameAt time.Time

	// snapshot version an empty-store warning was last logged for, -1 = never
	emptyWarned atomic.Int64
}

// NewProcessor creates a processor matching against store with matcher.
func NewProcessor(det detector.Detector, store *facematch.Store, matcher *facematch.Matcher, opts ...Option) *Processor {
	p := &Processor{
		detector:     det,
		store:        store,
		matcher:      matcher,
		logger:       zap.NewNop(),
		scale:        constants.DefaultFrameScale,
		frameTimeout: constants.DefaultFrameTimeout,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.meter = NewFrameRateMeter(p.now)
	p.emptyWarned.Store(-1)
	return p
}

// State returns the stage the loop is in.
func (p *Processor) State() State {
	return State(p.state.Load())
}

func (p *Processor) setState(s State) {
	p.state.Store(int32(s))
}

// ProcessFrame recognizes every face in a full-resolution frame. A detector error drops the
// frame: it is counted and returned, and no partial result is produced.
func (p *Processor) ProcessFrame(ctx context.Context, frame image.Image) (FrameResult, error) {
	result := FrameResult{
		Seq:        p.seq.Add(1),
		CapturedAt: p.now(),
		Bounds:     frame.Bounds(),
	}

	p.setState(StateDetecting)
	small := detector.Downsample(frame, p.scale)

	dctx := ctx
	if p.frameTimeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, p.frameTimeout)
		defer cancel()
	}
	faces, err := p.detect(dctx, small)
	if err != nil {
		p.dropped.Add(1)
		p.setState(StateIdle)
		return FrameResult{}, fmt.Errorf("frame %d: detect: %w", result.Seq, err)
	}

	p.setState(StateMatching)
	// One snapshot for the whole frame, so a concurrent publish cannot mix reference sets.
	snap := p.store.Load()
	result.SnapshotVersion = snap.Version()
	if snap.Len() == 0 && len(faces) > 0 {
		p.warnEmpty(snap)
	}

	result.Faces = make([]Result, 0, len(faces))
	for _, f := range faces {
		m := p.matcher.Match(f.Embedding, snap)
		result.Faces = append(result.Faces, Result{
			Box:      f.Box.Scale(p.scale),
			Identity: m.Identity,
			Distance: m.Distance,
		})
		if m.Known() {
			p.recognized.Add(1)
		}
	}

	p.faces.Add(uint64(len(faces)))
	p.frames.Add(1)
	p.lastMu.Lock()
	p.lastFrameAt = result.CapturedAt
	p.lastMu.Unlock()
	p.setState(StateAnnotated)

	return result, nil
}

// detect calls the detector and turns a panic inside it into an error.
func (p *Processor) detect(ctx context.Context, img image.Image) (faces []detector.Face, err error) {
	defer func() {
		if r := recover(); r != nil {
			faces, err = nil, fmt.Errorf("%w: %v", ErrDetectorPanic, r)
		}
	}()
	return p.detector.DetectAndEncode(ctx, img)
}

func (p *Processor) warnEmpty(snap *facematch.Snapshot) {
	v := int64(snap.Version())
	if p.emptyWarned.Swap(v) == v {
		return
	}
	p.logger.Warn("reference set is empty, every face is unknown; run training",
		zap.Uint64("snapshot_version", snap.Version()))
}

// Run captures and processes frames until ctx is cancelled or a finite camera runs out.
// Collaborator failures drop the frame and the loop continues; Run only returns an error
// for a misconfigured processor.
func (p *Processor) Run(ctx context.Context, cam camera.Camera) error {
	if cam == nil {
		return errors.New("recognition: nil camera")
	}
	defer p.setState(StateIdle)

	for {
		if ctx.Err() != nil {
			return nil
		}
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return nil
			}
		}

		p.setState(StateCapturing)
		frame, err := cam.Capture(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, camera.ErrExhausted) {
				p.logger.Info("camera exhausted, stopping frame loop", zap.Uint64("frames", p.frames.Load()))
				return nil
			}
			p.dropped.Add(1)
			p.logger.Warn("capture failed, dropping frame", zap.Error(err))
			p.setState(StateIdle)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(constants.CaptureRetryDelay):
			}
			continue
		}

		result, err := p.ProcessFrame(ctx, frame)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.logger.Warn("dropping frame", zap.Error(err))
			continue
		}

		p.dispatch(result)
		fps := p.meter.Tick()
		p.logger.Debug("frame processed",
			zap.Uint64("seq", result.Seq),
			zap.Int("faces", len(result.Faces)),
			zap.Float64("fps", fps),
		)
		if p.onFrame != nil {
			p.onFrame(result)
		}
		p.setState(StateIdle)
	}
}

func (p *Processor) dispatch(result FrameResult) {
	if p.notifier == nil {
		return
	}
	for _, face := range result.Faces {
		if face.Known() {
			p.notifier.Notify(face.Identity)
		}
	}
}

// Stats returns the current counters.
func (p *Processor) Stats() Stats {
	snap := p.store.Load()
	p.lastMu.Lock()
	last := p.lastFrameAt
	p.lastMu.Unlock()

	return Stats{
		State:           p.State().String(),
		Frames:          p.frames.Load(),
		Dropped:         p.dropped.Load(),
		Faces:           p.faces.Load(),
		Recognized:      p.recognized.Load(),
		FPS:             p.meter.FPS(),
		LastFrameAt:     last,
		SnapshotVersion: snap.Version(),
		SnapshotSize:    snap.Len(),
	}
}
