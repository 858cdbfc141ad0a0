package speech

import (
	"context"
	"sync"
	"time"
)

// MockSpeaker records every utterance.
type MockSpeaker struct {
	// Delay simulates playback time.
	Delay time.Duration
	Err   error

	mu    sync.Mutex
	texts []string
}

// Say implements Speaker.
func (m *MockSpeaker) Say(ctx context.Context, text string) error {
	m.mu.Lock()
	m.texts = append(m.texts, text)
	m.mu.Unlock()

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return m.Err
}

// Texts returns what was said, in order.
func (m *MockSpeaker) Texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.texts...)
}

// MockTranscriber returns scripted utterances in order, then blocks until
// ctx ends.
type MockTranscriber struct {
	mu    sync.Mutex
	texts []string
	errs  []error
	calls int
}

// NewMockTranscriber creates a transcriber that hears texts.
func NewMockTranscriber(texts ...string) *MockTranscriber {
	return &MockTranscriber{texts: texts}
}

// FailNext makes the next call return err before any scripted text.
func (m *MockTranscriber) FailNext(err error) {
	m.mu.Lock()
	m.errs = append(m.errs, err)
	m.mu.Unlock()
}

// ListenAndTranscribe implements Transcriber.
func (m *MockTranscriber) ListenAndTranscribe(ctx context.Context) (string, error) {
	m.mu.Lock()
	m.calls++
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		m.mu.Unlock()
		return "", err
	}
	if len(m.texts) > 0 {
		text := m.texts[0]
		m.texts = m.texts[1:]
		m.mu.Unlock()
		return text, nil
	}
	m.mu.Unlock()

	<-ctx.Done()
	return "", ctx.Err()
}

// Calls returns how many times ListenAndTranscribe ran.
func (m *MockTranscriber) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
