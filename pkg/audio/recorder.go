package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
)

// Recorder captures microphone audio as PCM16 chunks.
type Recorder struct {
	cfg    Config
	logger *slog.Logger
}

// NewRecorder creates a recorder.
func NewRecorder(cfg Config, logger *slog.Logger) (*Recorder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		cfg:    cfg,
		logger: logger.With("component", "audio.recorder"),
	}, nil
}

// SampleRate returns the capture rate.
func (r *Recorder) SampleRate() int {
	return r.cfg.SampleRate
}

// Stream records until ctx ends, fn returns an error, or the recording
// process exits. Each call to fn receives one full chunk; a short final
// chunk is delivered too. The chunk buffer is not reused.
func (r *Recorder) Stream(ctx context.Context, fn func(chunk []byte) error) error {
	args := expand(r.cfg.RecordCommand, r.cfg.SampleRate, r.cfg.Device)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", args[0], err)
	}
	r.logger.Debug("recording started", "rate", r.cfg.SampleRate, "chunk_bytes", r.cfg.ChunkBytes())

	var streamErr error
	size := r.cfg.ChunkBytes()
	for {
		chunk := make([]byte, size)
		n, err := io.ReadFull(stdout, chunk)
		if n > 0 {
			if ferr := fn(chunk[:n]); ferr != nil {
				streamErr = ferr
				break
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) && ctx.Err() == nil {
				streamErr = fmt.Errorf("read audio: %w", err)
			}
			break
		}
	}

	cancel()
	_ = cmd.Wait()
	r.logger.Debug("recording stopped")
	return streamErr
}
