package inference

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	ErrNoModel     = errors.New("inference: model required")
	ErrNoProviders = errors.New("inference: no providers")
)

// APIError is a non-2xx reply from an endpoint.
type APIError struct {
	Provider   string
	StatusCode int
	Type       string
	Code       string
	Message    string

	// RetryAfter is the server's requested backoff, zero when absent.
	RetryAfter time.Duration

	// FailedGeneration holds the model output Groq rejected in JSON
	// mode.
	FailedGeneration string
}

func (e *APIError) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = e.Code + ": " + msg
	}
	return fmt.Sprintf("inference %s: status %d: %s", e.Provider, e.StatusCode, msg)
}

// Temporary reports whether the same request may succeed later.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Unauthorized reports a rejected key.
func (e *APIError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

func isTemporary(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return true
}
