package announce

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/kozaktomas/face-greeter/internal/config"
)

func TestEspeakSpeaker_Args(t *testing.T) {
	tests := []struct {
		name    string
		speaker *EspeakSpeaker
		want    []string
	}{
		{"defaults", NewEspeakSpeaker("", "", 0), []string{"-s", "150", "--", "hi"}},
		{"voice and rate", NewEspeakSpeaker("espeak-ng", "en-us", 120), []string{"-s", "120", "-v", "en-us", "--", "hi"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.speaker.args("hi"); !slices.Equal(got, tt.want) {
				t.Errorf("args = %v, want %v", got, tt.want)
			}
		})
	}

	if NewEspeakSpeaker("", "", 0).binary != "espeak" {
		t.Error("expected espeak as the default binary")
	}
}

func TestEspeakSpeaker_MissingBinary(t *testing.T) {
	s := NewEspeakSpeaker("/nonexistent/espeak-binary", "", 0)
	if err := s.Speak(context.Background(), "hello"); err == nil {
		t.Error("expected error for missing binary")
	}
}

func TestLogSpeaker(t *testing.T) {
	if err := NewLogSpeaker(nil).Speak(context.Background(), "hello"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := Silent.Speak(context.Background(), "hello"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

// fakeToken is a completed mqtt.Token.
type fakeToken struct {
	err  error
	done chan struct{}
}

func newFakeToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type fakePublisher struct {
	topic   string
	qos     byte
	payload []byte
	err     error
}

func (p *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	p.topic = topic
	p.qos = qos
	p.payload, _ = payload.([]byte)
	return newFakeToken(p.err)
}

func TestMQTTSpeaker_Speak(t *testing.T) {
	pub := &fakePublisher{}
	s := NewMQTTSpeaker(config.MQTTConfig{Topic: "greeter/say", QoS: 1}, nil)
	s.pub = pub

	if err := s.Speak(context.Background(), "Name: Alice"); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if pub.topic != "greeter/say" || pub.qos != 1 {
		t.Errorf("published to %s qos %d", pub.topic, pub.qos)
	}

	var a Announcement
	if err := json.Unmarshal(pub.payload, &a); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if a.Text != "Name: Alice" || a.Timestamp.IsZero() {
		t.Errorf("unexpected payload %+v", a)
	}
	if s.Published() != 1 {
		t.Errorf("expected 1 published, got %d", s.Published())
	}
}

func TestMQTTSpeaker_Errors(t *testing.T) {
	s := NewMQTTSpeaker(config.MQTTConfig{Topic: "t"}, nil)
	if err := s.Speak(context.Background(), "x"); err == nil {
		t.Error("expected error before Connect")
	}

	boom := errors.New("not authorized")
	s.pub = &fakePublisher{err: boom}
	if err := s.Speak(context.Background(), "x"); !errors.Is(err, boom) {
		t.Errorf("expected publish error, got %v", err)
	}
	if s.Published() != 0 {
		t.Error("failed publish must not be counted")
	}
}
