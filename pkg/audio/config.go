// Package audio plays and records raw PCM16 through the host's ALSA tools.
//
// Playback pipes mono little-endian PCM16 into aplay. Recording reads the
// same format from arecord in fixed-size chunks. Both commands can be
// overridden, which is how tests and non-ALSA hosts plug in.
package audio

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Config holds audio configuration.
type Config struct {
	// SampleRate is the capture rate in Hz.
	// Default: 24000 (realtime transcription requirement)
	SampleRate int `yaml:"sample_rate" json:"sample_rate"`

	// OutputRate, when set, resamples every buffer to this rate before
	// playback. Zero plays at the buffer's own rate.
	OutputRate int `yaml:"output_rate" json:"output_rate"`

	// ChunkDuration is the size of each recorded chunk.
	// Default: 20ms (480 samples at 24kHz)
	ChunkDuration time.Duration `yaml:"chunk_duration" json:"chunk_duration"`

	// Device is the ALSA device, e.g. "default", "plughw:1,0".
	Device string `yaml:"device" json:"device"`

	// PlayCommand and RecordCommand replace aplay and arecord.
	// "{rate}" and "{device}" are substituted in every argument.
	PlayCommand   []string `yaml:"play_command" json:"play_command"`
	RecordCommand []string `yaml:"record_command" json:"record_command"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SampleRate:    24000,
		ChunkDuration: 20 * time.Millisecond,
		Device:        "default",
		PlayCommand:   []string{"aplay", "-q", "-t", "raw", "-f", "S16_LE", "-c", "1", "-r", "{rate}", "-D", "{device}", "-"},
		RecordCommand: []string{"arecord", "-q", "-t", "raw", "-f", "S16_LE", "-c", "1", "-r", "{rate}", "-D", "{device}"},
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.OutputRate < 0 {
		return fmt.Errorf("output_rate must not be negative, got %d", c.OutputRate)
	}
	if c.ChunkDuration <= 0 {
		return fmt.Errorf("chunk_duration must be positive, got %v", c.ChunkDuration)
	}
	if len(c.PlayCommand) == 0 || len(c.RecordCommand) == 0 {
		return fmt.Errorf("play_command and record_command are required")
	}
	return nil
}

// ChunkBytes returns the size of one recorded chunk in bytes.
func (c *Config) ChunkBytes() int {
	samples := int(float64(c.SampleRate) * c.ChunkDuration.Seconds())
	return samples * 2
}

func expand(tmpl []string, rate int, device string) []string {
	if device == "" {
		device = "default"
	}
	r := strings.NewReplacer("{rate}", strconv.Itoa(rate), "{device}", device)
	out := make([]string, len(tmpl))
	for i, arg := range tmpl {
		out[i] = r.Replace(arg)
	}
	return out
}
