package tts

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	ErrNoAPIKey    = errors.New("tts: API key required")
	ErrNoVoiceID   = errors.New("tts: voice ID required")
	ErrEmptyText   = errors.New("tts: empty text")
	ErrNoProviders = errors.New("tts: no providers")
)

// APIError is a non-2xx reply from a synthesis endpoint.
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tts %s: status %d: %s", e.Provider, e.StatusCode, e.Message)
}

// Temporary reports rate limiting and server faults.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Unauthorized reports a rejected key.
func (e *APIError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}
