package tts

import (
	"context"
	"sync"
	"time"
)

// Mock implements Provider for testing.
type Mock struct {
	// SynthesizeFunc overrides Synthesize. If nil, returns 20ms of
	// silence per character at 24kHz.
	SynthesizeFunc func(ctx context.Context, text string) (*AudioResult, error)

	// Latency is applied before Synthesize returns.
	Latency time.Duration

	mu     sync.Mutex
	texts  []string
	closed bool
}

// NewMock creates a mock provider.
func NewMock() *Mock {
	return &Mock{}
}

// WithError makes every Synthesize call fail with err.
func (m *Mock) WithError(err error) *Mock {
	m.SynthesizeFunc = func(context.Context, string) (*AudioResult, error) {
		return nil, err
	}
	return m
}

// Name implements Provider.
func (m *Mock) Name() string { return "mock" }

// Synthesize records text and returns silence.
func (m *Mock) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	m.mu.Lock()
	m.texts = append(m.texts, text)
	m.mu.Unlock()

	if m.Latency > 0 {
		select {
		case <-time.After(m.Latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.SynthesizeFunc != nil {
		return m.SynthesizeFunc(ctx, text)
	}

	format := formatFor(EncodingPCM24)
	audio := make([]byte, len(text)*960)
	return &AudioResult{
		Audio:    audio,
		Format:   format,
		Duration: pcmDuration(len(audio), format),
		Latency:  m.Latency,
	}, nil
}

// Close implements Provider.
func (m *Mock) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Texts returns every text passed to Synthesize.
func (m *Mock) Texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.texts...)
}

// Closed reports whether Close was called.
func (m *Mock) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

var _ Provider = (*Mock)(nil)
