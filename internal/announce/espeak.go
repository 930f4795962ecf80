package announce

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/kozaktomas/face-greeter/internal/constants"
)

// EspeakSpeaker speaks through the espeak (or espeak-ng) command line synthesizer.
type EspeakSpeaker struct {
	binary string
	voice  string
	rate   int
}

// NewEspeakSpeaker creates a speaker. Empty binary means "espeak", a non-positive rate uses the
// default words per minute.
func NewEspeakSpeaker(binary, voice string, rate int) *EspeakSpeaker {
	if binary == "" {
		binary = "espeak"
	}
	if rate <= 0 {
		rate = constants.DefaultSpeechRate
	}
	return &EspeakSpeaker{binary: binary, voice: voice, rate: rate}
}

func (s *EspeakSpeaker) args(text string) []string {
	args := []string{"-s", strconv.Itoa(s.rate)}
	if s.voice != "" {
		args = append(args, "-v", s.voice)
	}
	// "--" keeps text starting with a dash from being read as a flag.
	return append(args, "--", text)
}

func (s *EspeakSpeaker) Speak(ctx context.Context, text string) error {
	cmd := exec.CommandContext(ctx, s.binary, s.args(text)...) //nolint:gosec // binary comes from configuration
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s: %w: %s", s.binary, err, msg)
		}
		return fmt.Errorf("%s: %w", s.binary, err)
	}
	return nil
}
