// Package speech connects the agent to a voice: text goes out through a
// TTS provider and the speaker, and utterances come in through a realtime
// transcription session fed by the microphone.
package speech

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/teslashibe/go-neurobridge/pkg/tts"
)

// Speaker renders text as audible speech and blocks until it has played.
type Speaker interface {
	Say(ctx context.Context, text string) error
}

// Transcriber listens for one utterance and returns its text.
type Transcriber interface {
	ListenAndTranscribe(ctx context.Context) (string, error)
}

// Player plays a PCM16 buffer. audio.Player implements it.
type Player interface {
	PlayPCM(ctx context.Context, pcm []byte, sampleRate int) error
}

// Recorder streams PCM16 chunks. audio.Recorder implements it.
type Recorder interface {
	SampleRate() int
	Stream(ctx context.Context, fn func(chunk []byte) error) error
}

// TTSSpeaker synthesizes with a tts.Provider and plays the result.
type TTSSpeaker struct {
	provider tts.Provider
	player   Player
	logger   *slog.Logger
}

// NewTTSSpeaker creates a speaker.
func NewTTSSpeaker(provider tts.Provider, player Player, logger *slog.Logger) *TTSSpeaker {
	if logger == nil {
		logger = slog.Default()
	}
	return &TTSSpeaker{
		provider: provider,
		player:   player,
		logger:   logger.With("component", "speech.speaker"),
	}
}

// Say implements Speaker.
func (s *TTSSpeaker) Say(ctx context.Context, text string) error {
	start := time.Now()
	result, err := s.provider.Synthesize(ctx, text)
	if err != nil {
		return fmt.Errorf("synthesize: %w", err)
	}
	if !result.Format.PCM() {
		return fmt.Errorf("unsupported audio encoding %q", result.Format.Encoding)
	}

	s.logger.Debug("synthesized",
		"provider", s.provider.Name(),
		"bytes", len(result.Audio),
		"duration", result.Duration,
		"latency", time.Since(start),
	)

	if err := s.player.PlayPCM(ctx, result.Audio, result.Format.SampleRate); err != nil {
		return fmt.Errorf("play: %w", err)
	}
	return nil
}

var _ Speaker = (*TTSSpeaker)(nil)
