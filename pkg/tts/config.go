package tts

import (
	"log/slog"
	"time"
)

// Config is shared by the HTTP providers. Fields a provider has no use
// for are ignored.
type Config struct {
	APIKey  string
	BaseURL string // empty uses the provider's public endpoint

	VoiceID       string
	ModelID       string
	VoiceSettings VoiceSettings
	OutputFormat  Encoding

	Timeout time.Duration

	// Retries applies to 429 and 5xx replies. Retry-After is honored up
	// to MaxRetryWait.
	Retries      int
	RetryDelay   time.Duration
	MaxRetryWait time.Duration

	Logger *slog.Logger
}

// Option configures a provider.
type Option func(*Config)

func WithAPIKey(key string) Option { return func(c *Config) { c.APIKey = key } }
func WithBaseURL(url string) Option { return func(c *Config) { c.BaseURL = url } }
func WithVoice(voiceID string) Option { return func(c *Config) { c.VoiceID = voiceID } }
func WithModel(modelID string) Option { return func(c *Config) { c.ModelID = modelID } }
func WithOutputFormat(enc Encoding) Option { return func(c *Config) { c.OutputFormat = enc } }
func WithVoiceSettings(vs VoiceSettings) Option { return func(c *Config) { c.VoiceSettings = vs } }
func WithTimeout(d time.Duration) Option { return func(c *Config) { c.Timeout = d } }
func WithLogger(l *slog.Logger) Option { return func(c *Config) { c.Logger = l } }

// WithRetry sets the retry count and the base delay between attempts.
func WithRetry(retries int, delay time.Duration) Option {
	return func(c *Config) {
		c.Retries = retries
		c.RetryDelay = delay
	}
}

func newConfig(base Config, opts []Option) Config {
	for _, opt := range opts {
		opt(&base)
	}
	if base.Logger == nil {
		base.Logger = slog.Default()
	}
	return base
}

func defaultConfig() Config {
	return Config{
		OutputFormat:  EncodingPCM24,
		VoiceSettings: DefaultVoiceSettings(),
		Timeout:       30 * time.Second,
		Retries:       2,
		RetryDelay:    200 * time.Millisecond,
		MaxRetryWait:  3 * time.Second,
	}
}
