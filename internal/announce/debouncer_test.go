package announce

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kozaktomas/face-greeter/internal/facematch"
)

var (
	alice = &facematch.Identity{PersonID: 1, Name: "Alice", Age: 30, Occupation: "Engineer"}
	bob   = &facematch.Identity{PersonID: 2, Name: "Bob"}
)

// recordingSpeaker records every utterance and optionally blocks or fails.
type recordingSpeaker struct {
	mu      sync.Mutex
	texts   []string
	release chan struct{} // when non-nil, Speak waits for a value
	started chan string   // when non-nil, receives each text as speaking starts
	failOn  map[string]bool
}

func (s *recordingSpeaker) Speak(ctx context.Context, text string) error {
	if s.started != nil {
		s.started <- text
	}
	if s.release != nil {
		<-s.release
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, text)
	if s.failOn[text] {
		return errors.New("audio device busy")
	}
	return nil
}

func (s *recordingSpeaker) spoken() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestFormat(t *testing.T) {
	tests := []struct {
		name     string
		template string
		identity *facematch.Identity
		expected string
	}{
		{"full record", "Name: {name}, Age: {age}, Occupation: {occupation}", alice,
			"Name: Alice, Age: 30, Occupation: Engineer"},
		{"missing fields", "Name: {name}, Age: {age}, Occupation: {occupation}", bob,
			"Name: Bob, Age: Unknown, Occupation: Unknown"},
		{"custom template", "Hello {name}!", alice, "Hello Alice!"},
		{"repeated placeholder", "{name} {name}", bob, "Bob Bob"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Format(tt.template, tt.identity); got != tt.expected {
				t.Errorf("Format() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestNotify_SuppressesRepeats(t *testing.T) {
	d := NewDebouncer(Silent)

	if !d.Notify(alice) {
		t.Fatal("first notify should enqueue")
	}
	if d.Notify(alice) {
		t.Error("repeat notify should be suppressed")
	}
	// Same person with different casing and diacritics is the same key.
	if d.Notify(&facematch.Identity{Name: "alicé"}) {
		t.Error("normalized duplicate should be suppressed")
	}

	if d.Pending() != 1 {
		t.Errorf("expected 1 pending, got %d", d.Pending())
	}
	if d.Suppressed() != 2 {
		t.Errorf("expected 2 suppressed, got %d", d.Suppressed())
	}
}

func TestNotify_UnknownIsNoop(t *testing.T) {
	d := NewDebouncer(Silent)

	d.Notify(alice)
	if d.Notify(nil) {
		t.Error("unknown must not enqueue")
	}
	// Unknown does not reset suppression.
	if d.Notify(alice) {
		t.Error("alice after unknown should still be suppressed")
	}
	if d.Pending() != 1 || d.LastAnnounced() != "Alice" {
		t.Errorf("unexpected state: pending=%d last=%q", d.Pending(), d.LastAnnounced())
	}
}

func TestNotify_NamelessPersonsAreDistinct(t *testing.T) {
	d := NewDebouncer(Silent)

	if !d.Notify(&facematch.Identity{PersonID: 1}) {
		t.Fatal("first nameless person should enqueue")
	}
	if !d.Notify(&facematch.Identity{PersonID: 2}) {
		t.Error("a different nameless person should enqueue")
	}
	if d.Notify(&facematch.Identity{PersonID: 2}) {
		t.Error("repeat of the same nameless person should be suppressed")
	}
	if d.Pending() != 2 {
		t.Errorf("expected 2 pending, got %d", d.Pending())
	}
}

func TestNotify_AlternatingIdentitiesKeepOrder(t *testing.T) {
	speaker := &recordingSpeaker{}
	d := NewDebouncer(speaker, WithTemplate("{name}"))

	d.Notify(alice)
	d.Notify(bob)
	d.Notify(alice)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	waitFor(t, func() bool { return d.Spoken() == 3 })
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := speaker.spoken()
	want := []string{"Alice", "Bob", "Alice"}
	if len(got) != len(want) {
		t.Fatalf("spoken %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("message %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestNotify_NonBlockingWhileSpeaking(t *testing.T) {
	speaker := &recordingSpeaker{
		release: make(chan struct{}),
		started: make(chan string, 128),
	}
	d := NewDebouncer(speaker, WithTemplate("{name}"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	d.Notify(alice)
	if got := <-speaker.started; got != "Alice" {
		t.Fatalf("expected Alice to start, got %q", got)
	}

	// The worker is stuck mid-utterance; Notify must still return immediately.
	start := time.Now()
	for i := range 100 {
		if i%2 == 0 {
			d.Notify(bob)
		} else {
			d.Notify(alice)
		}
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Notify blocked for %v", elapsed)
	}
	if d.Pending() != 100 {
		t.Errorf("expected 100 pending, got %d", d.Pending())
	}
	if d.Speaking() != "Alice" {
		t.Errorf("expected Alice being spoken, got %q", d.Speaking())
	}

	close(speaker.release)
	waitFor(t, func() bool { return d.Spoken() == 101 })
	cancel()
	<-done
}

func TestRun_SpeakerFailureContinues(t *testing.T) {
	speaker := &recordingSpeaker{failOn: map[string]bool{"Alice": true}}
	d := NewDebouncer(speaker, WithTemplate("{name}"))

	d.Notify(alice)
	d.Notify(bob)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	waitFor(t, func() bool { return d.Spoken()+d.Failed() == 2 })
	cancel()
	<-done

	if d.Failed() != 1 || d.Spoken() != 1 {
		t.Errorf("expected 1 failed and 1 spoken, got %d/%d", d.Failed(), d.Spoken())
	}
	if got := speaker.spoken(); len(got) != 2 || got[1] != "Bob" {
		t.Errorf("expected Bob to be attempted after the failure, got %v", got)
	}
}

func TestRun_CancelFinishesCurrentMessage(t *testing.T) {
	speaker := &recordingSpeaker{
		release: make(chan struct{}),
		started: make(chan string, 10),
	}
	var speakCtxErr error
	var mu sync.Mutex
	wrapped := SpeakerFunc(func(ctx context.Context, text string) error {
		err := speaker.Speak(ctx, text)
		mu.Lock()
		speakCtxErr = ctx.Err()
		mu.Unlock()
		return err
	})
	d := NewDebouncer(wrapped, WithTemplate("{name}"))
	d.Notify(alice)
	d.Notify(bob)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	<-speaker.started
	cancel()
	close(speaker.release)

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("expected nil, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}

	if got := speaker.spoken(); len(got) != 1 || got[0] != "Alice" {
		t.Errorf("expected only Alice to be spoken, got %v", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if speakCtxErr != nil {
		t.Errorf("speech context should not be cancelled, got %v", speakCtxErr)
	}
}

func TestRun_IdleWorkerWakesUp(t *testing.T) {
	speaker := &recordingSpeaker{}
	d := NewDebouncer(speaker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	d.Notify(bob)
	waitFor(t, func() bool { return d.Spoken() == 1 })

	if got := speaker.spoken()[0]; got != "Name: Bob, Age: Unknown, Occupation: Unknown" {
		t.Errorf("unexpected message %q", got)
	}
}

func TestRun_SecondWorkerRejected(t *testing.T) {
	d := NewDebouncer(Silent)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(ctx) }()
	waitFor(t, func() bool { return d.running.Load() })

	if err := d.Run(ctx); !errors.Is(err, ErrWorkerRunning) {
		t.Errorf("expected ErrWorkerRunning, got %v", err)
	}
}
