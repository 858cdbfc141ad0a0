// Package camera runs capture sessions against a local video device and
// keeps the most recent frame for the detection skill.
package camera

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config holds capture settings. Fields can be changed at runtime through
// the dashboard; a new value applies to the next session.
type Config struct {
	// DeviceID is the OpenCV device index (0 is the default webcam).
	DeviceID int `json:"device_id" yaml:"device_id"`

	Width     int `json:"width" yaml:"width"`
	Height    int `json:"height" yaml:"height"`
	Framerate int `json:"framerate" yaml:"framerate"`
	Quality   int `json:"quality" yaml:"quality"` // JPEG quality 1-100

	// DetectInterval is the pause between detection passes.
	DetectInterval time.Duration `json:"detect_interval" yaml:"detect_interval"`

	// DetectWait bounds how long object detection waits for a session
	// to reach Capturing.
	DetectWait time.Duration `json:"detect_wait" yaml:"detect_wait"`

	// MaxReadErrors ends a session after this many consecutive failed reads.
	MaxReadErrors int `json:"max_read_errors" yaml:"max_read_errors"`
}

// DefaultConfig returns 640x480 at 15 FPS.
func DefaultConfig() Config {
	return Config{
		DeviceID:       0,
		Width:          640,
		Height:         480,
		Framerate:      15,
		Quality:        85,
		DetectInterval: 500 * time.Millisecond,
		DetectWait:     5 * time.Second,
		MaxReadErrors:  10,
	}
}

// Validate checks if the config values are within valid ranges.
// Returns a list of validation errors, or nil if valid.
func (c *Config) Validate() []string {
	var errors []string

	if c.DeviceID < 0 {
		errors = append(errors, "device_id must be >= 0")
	}
	if c.Width < 160 || c.Width > 4096 {
		errors = append(errors, "width must be between 160 and 4096")
	}
	if c.Height < 120 || c.Height > 2160 {
		errors = append(errors, "height must be between 120 and 2160")
	}
	if c.Framerate < 1 || c.Framerate > 120 {
		errors = append(errors, "framerate must be between 1 and 120")
	}
	if c.Quality < 1 || c.Quality > 100 {
		errors = append(errors, "quality must be between 1 and 100")
	}
	if c.DetectInterval < 10*time.Millisecond {
		errors = append(errors, "detect_interval must be at least 10ms")
	}
	if c.DetectWait <= 0 {
		errors = append(errors, "detect_wait must be positive")
	}
	if c.MaxReadErrors < 1 {
		errors = append(errors, "max_read_errors must be at least 1")
	}

	return errors
}

// FrameInterval is the time between reads at the configured framerate.
func (c *Config) FrameInterval() time.Duration {
	if c.Framerate <= 0 {
		return time.Second
	}
	return time.Second / time.Duration(c.Framerate)
}

// apply merges a partial update given as field name to value.
func (c Config) apply(params map[string]any) (Config, error) {
	for key, value := range params {
		var ok bool
		switch key {
		case "device_id":
			c.DeviceID, ok = toInt(value)
		case "width":
			c.Width, ok = toInt(value)
		case "height":
			c.Height, ok = toInt(value)
		case "framerate":
			c.Framerate, ok = toInt(value)
		case "quality":
			c.Quality, ok = toInt(value)
		case "max_read_errors":
			c.MaxReadErrors, ok = toInt(value)
		case "detect_interval":
			c.DetectInterval, ok = toDuration(value)
		case "detect_wait":
			c.DetectWait, ok = toDuration(value)
		default:
			return c, fmt.Errorf("unknown field: %s", key)
		}
		if !ok {
			return c, fmt.Errorf("invalid value for %s: %v", key, value)
		}
	}
	return c, nil
}

func toInt(v any) (int, bool) {
	switch val := v.(type) {
	case int:
		return val, true
	case int64:
		return int(val), true
	case float64:
		return int(val), true
	case json.Number:
		i, err := val.Int64()
		if err == nil {
			return int(i), true
		}
	}
	return 0, false
}

// toDuration accepts "250ms" or a number of milliseconds.
func toDuration(v any) (time.Duration, bool) {
	if s, ok := v.(string); ok {
		d, err := time.ParseDuration(s)
		return d, err == nil
	}
	if ms, ok := toInt(v); ok {
		return time.Duration(ms) * time.Millisecond, true
	}
	return 0, false
}
