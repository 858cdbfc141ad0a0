// Package vision defines the object detection interface used by the
// detection skill, plus a Gemini-backed open-vocabulary detector.
package vision

import (
	"context"
	"image"
	"strings"
	"sync"
)

// Detection is one object found in a frame. Box is in frame pixels.
type Detection struct {
	Box        image.Rectangle `json:"box"`
	Confidence float64         `json:"confidence"`
	Label      string          `json:"label"`
}

// Detector finds objects matching a free-text prompt in a JPEG frame.
type Detector interface {
	DetectObjects(ctx context.Context, frame []byte, prompt string) ([]Detection, error)
}

// MatchesPrompt reports whether label answers prompt. Matching is
// case-insensitive on whole words, so "bottle" matches "wine bottle"
// but not "bottleneck".
func MatchesPrompt(label, prompt string) bool {
	label = strings.ToLower(strings.TrimSpace(label))
	prompt = strings.ToLower(strings.TrimSpace(prompt))
	if prompt == "" || prompt == "object" || prompt == "objects" {
		return true
	}
	if label == prompt {
		return true
	}
	words := strings.Fields(label)
	for _, p := range strings.FieldsFunc(prompt, func(r rune) bool { return r == ',' || r == '.' }) {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if label == p {
			return true
		}
		for _, w := range words {
			if w == p || strings.TrimSuffix(p, "s") == w {
				return true
			}
		}
	}
	return false
}

// Mock is a Detector for tests.
type Mock struct {
	mu         sync.Mutex
	Detections []Detection
	Err        error
	calls      []string
}

// DetectObjects records prompt and returns the configured result.
func (m *Mock) DetectObjects(ctx context.Context, frame []byte, prompt string) ([]Detection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, prompt)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.Detections, m.Err
}

// Calls returns the prompts seen so far.
func (m *Mock) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}
