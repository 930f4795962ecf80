// Package announce turns recognized identities into spoken announcements without ever blocking
// the frame loop.
package announce

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/kozaktomas/face-greeter/internal/constants"
	"github.com/kozaktomas/face-greeter/internal/facematch"
	"github.com/kozaktomas/face-greeter/internal/logging"
)

// ErrWorkerRunning is returned when Run is called while another Run is active.
var ErrWorkerRunning = errors.New("announce: worker already running")

// Format renders template for identity, replacing {name}, {age} and {occupation}.
// Missing fields render as "Unknown".
func Format(template string, identity *facematch.Identity) string {
	r := strings.NewReplacer(
		"{name}", identity.DisplayName(),
		"{age}", identity.AgeString(),
		"{occupation}", identity.OccupationString(),
	)
	return r.Replace(template)
}

type message struct {
	key  string
	text string
}

// Option configures a Debouncer.
type Option func(*Debouncer)

// WithLogger sets the logger. Nil means no logging.
func WithLogger(l *zap.Logger) Option {
	return func(d *Debouncer) { d.logger = logging.OrNop(l) }
}

// WithTemplate sets the announcement template.
func WithTemplate(template string) Option {
	return func(d *Debouncer) {
		if template != "" {
			d.template = template
		}
	}
}

// Debouncer suppresses repeated announcements of the same person and feeds a single speech
// worker in FIFO order. Suppression compares against the most recently enqueued identity, so a
// person flickering in and out of view is announced once.
type Debouncer struct {
	speaker  Speaker
	template string
	logger   *zap.Logger

	mu         sync.Mutex
	queue      []message
	last       string // key of the most recently enqueued identity
	hasLast    bool
	lastName   string
	speaking   string // text currently being spoken, "" when idle
	wake       chan struct{}
	running    atomic.Bool
	spoken     atomic.Uint64
	failed     atomic.Uint64
	enqueued   atomic.Uint64
	suppressed atomic.Uint64
}

// NewDebouncer creates a debouncer delivering to speaker. Start the worker with Run.
func NewDebouncer(speaker Speaker, opts ...Option) *Debouncer {
	d := &Debouncer{
		speaker:  speaker,
		template: constants.DefaultAnnounceTemplate,
		logger:   zap.NewNop(),
		wake:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Notify enqueues an announcement for identity unless it is Unknown (nil) or the same person as
// the last enqueued one. It never blocks on speech and reports whether a message was enqueued.
func (d *Debouncer) Notify(identity *facematch.Identity) bool {
	if identity == nil {
		return false
	}
	key := identity.Key()

	d.mu.Lock()
	if d.hasLast && key == d.last {
		d.mu.Unlock()
		d.suppressed.Add(1)
		return false
	}
	d.queue = append(d.queue, message{key: key, text: Format(d.template, identity)})
	d.last, d.hasLast = key, true
	d.lastName = identity.DisplayName()
	d.mu.Unlock()

	d.enqueued.Add(1)
	select {
	case d.wake <- struct{}{}:
	default:
		// worker already has a pending wake-up
	}
	return true
}

// dequeue pops the oldest message.
func (d *Debouncer) dequeue() (message, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 {
		return message{}, false
	}
	msg := d.queue[0]
	d.queue[0] = message{}
	d.queue = d.queue[1:]
	d.speaking = msg.text
	return msg, true
}

// Run is the speech worker. It speaks queued messages one at a time until ctx is cancelled; a
// message already being spoken is finished first. Messages still queued at that point are
// dropped.
func (d *Debouncer) Run(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return ErrWorkerRunning
	}
	defer d.running.Store(false)

	// Speech outlives cancellation so the current utterance is never cut off mid-sentence.
	speakCtx := context.WithoutCancel(ctx)

	for {
		if ctx.Err() != nil {
			return nil
		}

		msg, ok := d.dequeue()
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-d.wake:
			}
			continue
		}

		d.speak(speakCtx, msg)
	}
}

func (d *Debouncer) speak(ctx context.Context, msg message) {
	defer func() {
		d.mu.Lock()
		d.speaking = ""
		d.mu.Unlock()
	}()

	if err := d.speaker.Speak(ctx, msg.text); err != nil {
		d.failed.Add(1)
		d.logger.Warn("announcement failed", zap.String("text", msg.text), zap.Error(err))
		return
	}
	d.spoken.Add(1)
	d.logger.Debug("announced", zap.String("text", msg.text))
}

// Pending returns the number of queued messages not yet picked up by the worker.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// LastAnnounced returns the display name of the most recently enqueued identity.
func (d *Debouncer) LastAnnounced() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastName
}

// Speaking returns the text currently being spoken, or "".
func (d *Debouncer) Speaking() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.speaking
}

// Spoken returns how many messages were delivered successfully.
func (d *Debouncer) Spoken() uint64 { return d.spoken.Load() }

// Failed returns how many messages the speaker rejected.
func (d *Debouncer) Failed() uint64 { return d.failed.Load() }

// Enqueued returns how many messages Notify accepted.
func (d *Debouncer) Enqueued() uint64 { return d.enqueued.Load() }

// Suppressed returns how many Notify calls were dropped as repeats.
func (d *Debouncer) Suppressed() uint64 { return d.suppressed.Load() }
