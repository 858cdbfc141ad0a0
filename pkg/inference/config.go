package inference

import (
	"log/slog"
	"time"
)

// Endpoints the agent knows by name.
const (
	OpenAIBaseURL = "https://api.openai.com/v1"
	GroqBaseURL   = "https://api.groq.com/openai/v1"
	OllamaBaseURL = "http://localhost:11434/v1"
)

// Config configures a Client.
type Config struct {
	BaseURL string
	APIKey  string // empty for local servers
	Model   string

	MaxTokens   int
	Temperature float64
	Timeout     time.Duration

	// Retries is how many times a temporary failure is retried. The
	// delay grows linearly from RetryDelay unless the server sends
	// Retry-After, which is honored up to MaxRetryWait.
	Retries      int
	RetryDelay   time.Duration
	MaxRetryWait time.Duration

	Logger *slog.Logger
}

// Option configures a Client.
type Option func(*Config)

func WithBaseURL(url string) Option { return func(c *Config) { c.BaseURL = url } }
func WithAPIKey(key string) Option { return func(c *Config) { c.APIKey = key } }
func WithModel(model string) Option { return func(c *Config) { c.Model = model } }
func WithMaxTokens(n int) Option { return func(c *Config) { c.MaxTokens = n } }
func WithTemperature(t float64) Option { return func(c *Config) { c.Temperature = t } }
func WithTimeout(d time.Duration) Option { return func(c *Config) { c.Timeout = d } }
func WithLogger(l *slog.Logger) Option { return func(c *Config) { c.Logger = l } }
func WithMaxRetryWait(d time.Duration) Option { return func(c *Config) { c.MaxRetryWait = d } }

// WithRetry sets the retry count and base delay.
func WithRetry(retries int, delay time.Duration) Option {
	return func(c *Config) {
		c.Retries = retries
		c.RetryDelay = delay
	}
}

// DefaultConfig targets Groq.
func DefaultConfig() Config {
	return Config{
		BaseURL:      GroqBaseURL,
		Model:        "llama-3.3-70b-versatile",
		MaxTokens:    1024,
		Temperature:  0.7,
		Timeout:      30 * time.Second,
		Retries:      2,
		RetryDelay:   250 * time.Millisecond,
		MaxRetryWait: 5 * time.Second,
	}
}
