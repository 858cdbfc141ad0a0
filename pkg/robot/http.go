package robot

import (
	"context"
	"fmt"
	"time"

	"github.com/teslashibe/go-neurobridge/internal/httpc"
)

// httpClient is a shared HTTP client with timeout to prevent blocking.
// Used by all HTTPActuator instances.
var httpClient = httpc.NewClient(2 * time.Second)

// DefaultMoveDuration is the time the daemon takes to reach a target.
const DefaultMoveDuration = 0.5

// HTTPActuator moves joints through the robot daemon's HTTP API.
type HTTPActuator struct {
	BaseURL  string
	Duration float64 // seconds per move
}

// NewHTTPActuator creates an actuator for the daemon at baseURL
// (e.g. "http://192.168.1.20:8000").
func NewHTTPActuator(baseURL string) *HTTPActuator {
	return &HTTPActuator{BaseURL: baseURL, Duration: DefaultMoveDuration}
}

// MoveJoint posts {"motor", "position", "duration"} to /api/move/joint.
func (r *HTTPActuator) MoveJoint(ctx context.Context, motor string, position float64) error {
	resp, err := httpc.PostJSON(ctx, httpClient, r.BaseURL+"/api/move/joint", map[string]any{
		"motor":    motor,
		"position": position,
		"duration": r.Duration,
	})
	if err != nil {
		return fmt.Errorf("move %s: %w", motor, err)
	}
	resp.Body.Close()
	return nil
}

// Status returns the robot daemon status.
func (r *HTTPActuator) Status(ctx context.Context) (string, error) {
	var status struct {
		State string `json:"state"`
	}
	if err := httpc.GetJSON(ctx, httpClient, r.BaseURL+"/api/daemon/status", &status); err != nil {
		return "", fmt.Errorf("daemon status: %w", err)
	}
	return status.State, nil
}

// Close is a no-op; the shared client owns the connections.
func (r *HTTPActuator) Close() error { return nil }
