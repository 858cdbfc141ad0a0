package audio

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"
)

// Player plays PCM16 buffers one at a time.
type Player struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex // one buffer at a time
	speaking atomic.Bool

	// Callbacks
	OnPlaybackStart func()
	OnPlaybackEnd   func()
}

// NewPlayer creates a player.
func NewPlayer(cfg Config, logger *slog.Logger) (*Player, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Player{
		cfg:    cfg,
		logger: logger.With("component", "audio.player"),
	}, nil
}

// PlayPCM plays mono PCM16 at sampleRate and blocks until playback ends.
// Cancelling ctx kills the playback process.
func (p *Player) PlayPCM(ctx context.Context, pcm []byte, sampleRate int) error {
	if len(pcm) == 0 {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	rate := sampleRate
	if p.cfg.OutputRate > 0 && p.cfg.OutputRate != sampleRate {
		pcm = NewResampler(sampleRate, p.cfg.OutputRate).Bytes(pcm)
		rate = p.cfg.OutputRate
	}

	args := expand(p.cfg.PlayCommand, rate, p.cfg.Device)
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdin = bytes.NewReader(pcm)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	p.speaking.Store(true)
	if p.OnPlaybackStart != nil {
		p.OnPlaybackStart()
	}
	defer func() {
		p.speaking.Store(false)
		if p.OnPlaybackEnd != nil {
			p.OnPlaybackEnd()
		}
	}()

	p.logger.Debug("playing", "bytes", len(pcm), "rate", rate)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("playback %s: %w: %s", args[0], err, bytes.TrimSpace(stderr.Bytes()))
	}
	return nil
}

// IsSpeaking returns whether a buffer is playing.
func (p *Player) IsSpeaking() bool {
	return p.speaking.Load()
}
