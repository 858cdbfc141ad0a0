package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/teslashibe/go-neurobridge/internal/httpc"
)

// synthClient posts synthesis requests and returns the raw audio body.
// ElevenLabs and OpenAI differ only in auth header and error shape.
type synthClient struct {
	name   string
	cfg    Config
	http   *http.Client
	header http.Header
	logger *slog.Logger

	// detail pulls the human message out of an error body.
	detail func(body string) string
}

func newSynthClient(name string, cfg Config, header http.Header, detail func(string) string) *synthClient {
	return &synthClient{
		name:   name,
		cfg:    cfg,
		http:   httpc.NewClient(cfg.Timeout),
		header: header,
		logger: cfg.Logger.With("component", "tts."+name),
		detail: detail,
	}
}

func (s *synthClient) synthesize(ctx context.Context, url string, payload any) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		audio, err := s.once(ctx, url, payload)
		if err == nil {
			return audio, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) && !apiErr.Temporary() {
			return nil, err
		}
		if attempt >= s.cfg.Retries {
			return nil, err
		}

		wait := s.cfg.RetryDelay * time.Duration(attempt+1)
		if apiErr != nil && apiErr.RetryAfter > 0 {
			wait = apiErr.RetryAfter
		}
		if s.cfg.MaxRetryWait > 0 && wait > s.cfg.MaxRetryWait {
			wait = s.cfg.MaxRetryWait
		}
		s.logger.Warn("synthesis failed, retrying", "attempt", attempt+1, "wait", wait, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (s *synthClient) once(ctx context.Context, url string, payload any) ([]byte, error) {
	resp, err := httpc.SendJSON(ctx, s.http, http.MethodPost, url, payload, s.header)
	if err != nil {
		var se *httpc.StatusError
		if errors.As(err, &se) {
			msg := se.Body
			if d := s.detail(se.Body); d != "" {
				msg = d
			}
			return nil, &APIError{
				Provider:   s.name,
				StatusCode: se.StatusCode,
				Message:    msg,
				RetryAfter: httpc.RetryAfter(se.Header.Get("Retry-After"), time.Now()),
			}
		}
		return nil, fmt.Errorf("tts %s: %w", s.name, err)
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("tts %s: read audio: %w", s.name, err)
	}
	return audio, nil
}

func (s *synthClient) result(text string, audio []byte, format AudioFormat, start time.Time) *AudioResult {
	r := &AudioResult{
		Audio:    audio,
		Format:   format,
		Duration: pcmDuration(len(audio), format),
		Latency:  time.Since(start),
	}
	s.logger.Debug("synthesized",
		"chars", len(text),
		"bytes", len(audio),
		"audio", r.Duration,
		"latency_ms", r.Latency.Milliseconds(),
	)
	return r
}

func checkText(provider, text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("tts %s: %w", provider, ErrEmptyText)
	}
	return nil
}
