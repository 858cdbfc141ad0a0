// Package input holds the collectors that feed user queries into the shared
// queue: the terminal line reader and the voice transcription loop. The web
// collector lives with the dashboard in pkg/web.
package input

import (
	"context"
	"strings"
	"time"

	"github.com/teslashibe/go-neurobridge/pkg/queue"
	"github.com/teslashibe/go-neurobridge/pkg/server"
)

// Sources recorded on enqueued queries.
const (
	SourceTerminal = "terminal"
	SourceVoice    = "voice"
	SourceWeb      = "web"
)

// Sink accepts queries. *queue.Queue implements it.
type Sink interface {
	Enqueue(text, source string) (queue.Query, error)
}

// IsExit reports whether text is one of the exit words.
func IsExit(text string) bool {
	text = strings.TrimSpace(text)
	return strings.EqualFold(text, "exit") || strings.EqualFold(text, "quit")
}

// Clean trims whitespace and trailing punctuation from a transcript.
func Clean(text string) string {
	return strings.TrimSpace(strings.TrimRight(strings.TrimSpace(text), ".!?,"))
}

// pause sleeps for d and reports false if ctx ended or the stop flag was
// raised first.
func pause(ctx context.Context, state *server.State, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return !state.Stopped()
	case <-ctx.Done():
		return false
	case <-state.Done():
		return false
	}
}
