// Package agent wires the conversational loop: input collectors feed the
// shared queue, a single processor resolves each query through the
// reasoning backend, and the dispatcher turns the reply into supervised
// skill tasks.
package agent

import (
	"io"
	"time"

	"github.com/teslashibe/go-neurobridge/pkg/camera"
	"github.com/teslashibe/go-neurobridge/pkg/input"
	"github.com/teslashibe/go-neurobridge/pkg/reasoning"
	"github.com/teslashibe/go-neurobridge/pkg/robot"
	"github.com/teslashibe/go-neurobridge/pkg/server"
	"github.com/teslashibe/go-neurobridge/pkg/speech"
	"github.com/teslashibe/go-neurobridge/pkg/vision"
)

// Default lifecycle values.
const (
	DefaultShutdownGrace  = 3 * time.Second
	DefaultStatusInterval = 500 * time.Millisecond
	DefaultFrameInterval  = 100 * time.Millisecond

	// overlayTTL is how long the last detection boxes stay on the feed.
	overlayTTL = 2 * time.Second
)

// Config holds everything the App runs with. Flag parsing and hardware
// setup are done in cmd/neurobridge; this struct is data only. Nil
// components mean the hardware is absent and the matching skills no-op.
type Config struct {
	// Toggles are the startup feature switches.
	Toggles server.Toggles

	// Backend answers queries. It is the only required component.
	Backend reasoning.Backend

	Speaker     speech.Speaker
	Transcriber speech.Transcriber
	Capture     *camera.Capture
	Detector    vision.Detector
	Actuator    robot.Actuator

	// Annotate draws detections onto a JPEG frame for the dashboard
	// camera feed. Nil streams raw frames.
	Annotate func(frame []byte, dets []vision.Detection) ([]byte, error)

	// Session and Preamble are passed to the processor.
	Session  string
	Preamble string

	// Dashboard is the listen address of the web dashboard. Empty
	// disables it.
	Dashboard string

	// Voice tunes the voice collector.
	Voice input.VoiceConfig

	// Stdin and Stdout back the terminal collector. Nil means the
	// process streams.
	Stdin  io.Reader
	Stdout io.Writer

	// TerminalPoll is the terminal collector's stop-check interval.
	TerminalPoll time.Duration

	// ShutdownGrace bounds how long running skills get to finish after
	// the collectors and the processor have stopped.
	ShutdownGrace time.Duration

	// StatusInterval paces dashboard status pushes.
	StatusInterval time.Duration

	// FrameInterval paces camera frames to the dashboard.
	FrameInterval time.Duration
}

// DefaultConfig returns a config with the default intervals and no
// components.
func DefaultConfig() Config {
	return Config{
		Session:        reasoning.DefaultSession,
		Voice:          input.DefaultVoiceConfig(),
		TerminalPoll:   input.DefaultPollInterval,
		ShutdownGrace:  DefaultShutdownGrace,
		StatusInterval: DefaultStatusInterval,
		FrameInterval:  DefaultFrameInterval,
	}
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Backend == nil {
		return &ConfigError{Field: "Backend", Message: "a reasoning backend is required (set GROQ_API_KEY or OPENAI_API_KEY)"}
	}
	if c.ShutdownGrace < 0 {
		return &ConfigError{Field: "ShutdownGrace", Message: "shutdown grace must not be negative"}
	}
	return nil
}

// withDefaults fills zero intervals.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Session == "" {
		c.Session = def.Session
	}
	if c.TerminalPoll <= 0 {
		c.TerminalPoll = def.TerminalPoll
	}
	if c.ShutdownGrace == 0 {
		c.ShutdownGrace = def.ShutdownGrace
	}
	if c.StatusInterval <= 0 {
		c.StatusInterval = def.StatusInterval
	}
	if c.FrameInterval <= 0 {
		c.FrameInterval = def.FrameInterval
	}
	return c
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Message
}
