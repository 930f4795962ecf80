package announce

import (
	"context"

	"go.uber.org/zap"

	"github.com/kozaktomas/face-greeter/internal/logging"
)

// Speaker delivers one announcement. Speak blocks until the utterance is finished.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// SpeakerFunc adapts a function to Speaker.
type SpeakerFunc func(ctx context.Context, text string) error

func (f SpeakerFunc) Speak(ctx context.Context, text string) error {
	return f(ctx, text)
}

// LogSpeaker writes announcements to the log instead of a sound device.
type LogSpeaker struct {
	logger *zap.Logger
}

func NewLogSpeaker(logger *zap.Logger) *LogSpeaker {
	return &LogSpeaker{logger: logging.OrNop(logger)}
}

func (s *LogSpeaker) Speak(_ context.Context, text string) error {
	s.logger.Info("announcement", zap.String("text", text))
	return nil
}

// Silent discards every announcement.
var Silent Speaker = SpeakerFunc(func(context.Context, string) error { return nil })
