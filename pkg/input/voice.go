package input

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/teslashibe/go-neurobridge/pkg/queue"
	"github.com/teslashibe/go-neurobridge/pkg/server"
	"github.com/teslashibe/go-neurobridge/pkg/speech"
)

// Voice collector defaults.
const (
	DefaultGatePoll = 100 * time.Millisecond
	DefaultCooldown = 5 * time.Second
)

// VoiceConfig tunes the voice loop.
type VoiceConfig struct {
	// GatePoll is how often a lowered input gate is checked. It is also
	// the back-off after a failed transcription.
	GatePoll time.Duration

	// Cooldown follows every enqueued utterance so trailing audio is not
	// captured twice.
	Cooldown time.Duration
}

// DefaultVoiceConfig returns the defaults.
func DefaultVoiceConfig() VoiceConfig {
	return VoiceConfig{GatePoll: DefaultGatePoll, Cooldown: DefaultCooldown}
}

// Voice turns transcribed speech into queries.
type Voice struct {
	sink        Sink
	state       *server.State
	transcriber speech.Transcriber
	cfg         VoiceConfig
	logger      *slog.Logger
}

// NewVoice creates a voice collector. A zero GatePoll takes the default.
func NewVoice(sink Sink, state *server.State, tr speech.Transcriber, cfg VoiceConfig, logger *slog.Logger) *Voice {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultVoiceConfig()
	if cfg.GatePoll <= 0 {
		cfg.GatePoll = def.GatePoll
	}
	if cfg.Cooldown < 0 {
		cfg.Cooldown = 0
	}
	return &Voice{
		sink:        sink,
		state:       state,
		transcriber: tr,
		cfg:         cfg,
		logger:      logger.With("component", "input.voice"),
	}
}

// Run listens until the exit word, the stop flag or ctx.
func (v *Voice) Run(ctx context.Context) error {
	v.logger.Info("listening")
	for {
		if v.state.Stopped() || ctx.Err() != nil {
			return nil
		}
		if !v.state.InputReady() {
			if !pause(ctx, v.state, v.cfg.GatePoll) {
				return nil
			}
			continue
		}

		raw, err := v.transcriber.ListenAndTranscribe(ctx)
		if err != nil {
			if ctx.Err() != nil || v.state.Stopped() {
				return nil
			}
			v.logger.Warn("transcription failed", "error", err)
			if !pause(ctx, v.state, v.cfg.GatePoll) {
				return nil
			}
			continue
		}

		text := Clean(raw)
		if text == "" {
			if !pause(ctx, v.state, v.cfg.GatePoll) {
				return nil
			}
			continue
		}
		if IsExit(text) {
			v.logger.Info("exit requested", "word", strings.ToLower(text))
			v.state.Stop()
			return nil
		}

		q, err := v.sink.Enqueue(text, SourceVoice)
		if errors.Is(err, queue.ErrClosed) {
			v.logger.Warn("queue closed, input dropped", "text", text)
			return nil
		}
		if err != nil {
			v.logger.Error("enqueue failed", "error", err)
		} else {
			v.logger.Info("heard", "seq", q.Seq, "text", text)
		}

		if v.cfg.Cooldown > 0 && !pause(ctx, v.state, v.cfg.Cooldown) {
			return nil
		}
	}
}
