package camera

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// FrameSource is a capture device. Read returns one JPEG-encoded frame.
type FrameSource interface {
	Open(cfg Config) error
	Read() ([]byte, error)
	Close() error
}

// State of the capture session.
type State int

const (
	StateIdle State = iota
	StateCapturing
)

func (s State) String() string {
	if s == StateCapturing {
		return "capturing"
	}
	return "idle"
}

var (
	// ErrSessionActive is returned by Run when a session is already open.
	ErrSessionActive = errors.New("camera: session already active")
	// ErrTooManyReadErrors ends a session whose device stopped delivering.
	ErrTooManyReadErrors = errors.New("camera: too many read errors")
)

// Capture owns one FrameSource and runs at most one session at a time.
type Capture struct {
	src    FrameSource
	logger *slog.Logger

	mu       sync.RWMutex
	config   Config
	state    State
	stop     chan struct{} // closed by Stop; nil while idle
	changed  chan struct{} // closed and replaced on every state change
	frame    []byte
	frameSeq uint64
	frameAt  time.Time

	// OnStateChange is called after every transition.
	OnStateChange func(State)
}

// NewCapture creates an idle capture over src.
func NewCapture(src FrameSource, cfg Config, logger *slog.Logger) *Capture {
	if logger == nil {
		logger = slog.Default()
	}
	return &Capture{
		src:     src,
		config:  cfg,
		changed: make(chan struct{}),
		logger:  logger.With("component", "camera.capture"),
	}
}

// GetConfig returns the current configuration.
func (c *Capture) GetConfig() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.config
}

// SetConfig replaces the configuration. It takes effect on the next session.
func (c *Capture) SetConfig(cfg Config) error {
	if errs := cfg.Validate(); len(errs) > 0 {
		return fmt.Errorf("validation failed: %v", errs)
	}
	c.mu.Lock()
	c.config = cfg
	c.mu.Unlock()
	return nil
}

// UpdateConfig applies a partial update keyed by JSON field name.
func (c *Capture) UpdateConfig(params map[string]any) error {
	cfg, err := c.GetConfig().apply(params)
	if err != nil {
		return err
	}
	return c.SetConfig(cfg)
}

// State returns the session state.
func (c *Capture) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Run opens the device and reads frames until Stop is called, ctx ends or
// the device fails. It blocks for the whole session.
func (c *Capture) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.stop != nil {
		c.mu.Unlock()
		return ErrSessionActive
	}
	stop := make(chan struct{})
	c.stop = stop
	cfg := c.config
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.stop = nil
		c.frame = nil
		c.mu.Unlock()
		c.setState(StateIdle)
	}()

	if err := c.src.Open(cfg); err != nil {
		return fmt.Errorf("open device %d: %w", cfg.DeviceID, err)
	}
	defer func() {
		if err := c.src.Close(); err != nil {
			c.logger.Warn("close device", "error", err)
		}
	}()

	c.setState(StateCapturing)
	c.logger.Info("capture started", "device", cfg.DeviceID, "width", cfg.Width, "height", cfg.Height)

	ticker := time.NewTicker(cfg.FrameInterval())
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-stop:
			c.logger.Info("capture stopped")
			return nil
		case <-ctx.Done():
			c.logger.Info("capture cancelled")
			return nil
		case <-ticker.C:
		}

		frame, err := c.src.Read()
		if err != nil || len(frame) == 0 {
			failures++
			c.logger.Debug("frame read failed", "error", err, "consecutive", failures)
			if failures >= cfg.MaxReadErrors {
				return ErrTooManyReadErrors
			}
			continue
		}
		failures = 0

		c.mu.Lock()
		c.frame = frame
		c.frameSeq++
		c.frameAt = time.Now()
		c.mu.Unlock()
	}
}

// Stop ends the active session. It returns false when idle.
func (c *Capture) Stop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop == nil {
		return false
	}
	select {
	case <-c.stop:
		return false
	default:
		close(c.stop)
		return true
	}
}

// WaitCapturing blocks until the session is Capturing or ctx ends.
func (c *Capture) WaitCapturing(ctx context.Context) error {
	for {
		c.mu.RLock()
		state, changed := c.state, c.changed
		c.mu.RUnlock()
		if state == StateCapturing {
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Latest returns the newest frame and its sequence number. ok is false
// until the first frame of the session arrives.
func (c *Capture) Latest() (frame []byte, seq uint64, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.frame == nil {
		return nil, c.frameSeq, false
	}
	return c.frame, c.frameSeq, true
}

// Snapshot is the dashboard view of the capture.
type Snapshot struct {
	State     string    `json:"state"`
	Frames    uint64    `json:"frames"`
	LastFrame time.Time `json:"last_frame,omitempty"`
	Config    Config    `json:"config"`
}

// Snapshot returns the current capture status.
func (c *Capture) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{
		State:     c.state.String(),
		Frames:    c.frameSeq,
		LastFrame: c.frameAt,
		Config:    c.config,
	}
}

func (c *Capture) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	close(c.changed)
	c.changed = make(chan struct{})
	callback := c.OnStateChange
	c.mu.Unlock()

	if callback != nil {
		callback(s)
	}
}
