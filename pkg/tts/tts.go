// Package tts turns the agent's replies into audio.
//
// Providers share one interface so the speech skill can switch between
// ElevenLabs and OpenAI, or chain them for fallback:
//
//	eleven, _ := tts.NewElevenLabs(
//	    tts.WithAPIKey(os.Getenv("ELEVENLABS_API_KEY")),
//	    tts.WithVoice(tts.ResolveVoice("robot_warm", os.Getenv)),
//	)
//	provider, _ := tts.NewChain(logger, eleven, openai)
//	result, _ := provider.Synthesize(ctx, "Hello there")
package tts

import (
	"context"
	"time"
)

// Provider synthesizes one utterance at a time.
type Provider interface {
	Name() string
	Synthesize(ctx context.Context, text string) (*AudioResult, error)
	Close() error
}

// AudioResult is one synthesized utterance.
type AudioResult struct {
	Audio    []byte
	Format   AudioFormat
	Duration time.Duration // estimated playback time
	Latency  time.Duration
}

// AudioFormat describes raw audio.
type AudioFormat struct {
	Encoding   Encoding
	SampleRate int
	Channels   int
	BitDepth   int
}

// PCM reports whether the audio is raw signed 16-bit samples.
func (f AudioFormat) PCM() bool {
	switch f.Encoding {
	case EncodingPCM16, EncodingPCM22, EncodingPCM24, EncodingPCM44:
		return true
	}
	return false
}

// Encoding names an output format. Values match the ElevenLabs
// output_format parameter.
type Encoding string

const (
	EncodingPCM16 Encoding = "pcm_16000"
	EncodingPCM22 Encoding = "pcm_22050"
	EncodingPCM24 Encoding = "pcm_24000"
	EncodingPCM44 Encoding = "pcm_44100"
	EncodingMP3   Encoding = "mp3_44100_128"
)

// SampleRateFromEncoding extracts the sample rate from an encoding type.
func SampleRateFromEncoding(enc Encoding) int {
	switch enc {
	case EncodingPCM16:
		return 16000
	case EncodingPCM22:
		return 22050
	case EncodingPCM44, EncodingMP3:
		return 44100
	default:
		return 24000
	}
}

// formatFor returns mono 16-bit metadata for enc.
func formatFor(enc Encoding) AudioFormat {
	return AudioFormat{
		Encoding:   enc,
		SampleRate: SampleRateFromEncoding(enc),
		Channels:   1,
		BitDepth:   16,
	}
}

// pcmDuration estimates playback time of mono PCM16 audio.
func pcmDuration(n int, f AudioFormat) time.Duration {
	if !f.PCM() || f.SampleRate == 0 {
		return 0
	}
	samples := n / 2
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// VoiceSettings tunes ElevenLabs voices.
type VoiceSettings struct {
	// Stability: lower is more expressive, higher is more consistent.
	Stability float64 `yaml:"stability"`

	// SimilarityBoost: how closely output follows the source voice.
	SimilarityBoost float64 `yaml:"similarity_boost"`

	Style        float64 `yaml:"style"`
	Speed        float64 `yaml:"speed"`
	SpeakerBoost bool    `yaml:"speaker_boost"`
}

// DefaultVoiceSettings returns a steady, slightly slow delivery that
// carries well from a robot speaker.
func DefaultVoiceSettings() VoiceSettings {
	return VoiceSettings{
		Stability:       0.4,
		SimilarityBoost: 0.9,
		Style:           0,
		Speed:           0.9,
		SpeakerBoost:    true,
	}
}
