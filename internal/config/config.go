// Package config loads the neurobridge configuration file.
//
// Values are layered: built-in defaults, then the YAML file, then the
// environment, then command-line flags (applied by cmd/neurobridge).
// A missing file is not an error.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-neurobridge/pkg/audio"
	"github.com/teslashibe/go-neurobridge/pkg/camera"
	"github.com/teslashibe/go-neurobridge/pkg/inference"
	"github.com/teslashibe/go-neurobridge/pkg/reasoning"
	"github.com/teslashibe/go-neurobridge/pkg/robot"
)

// DefaultPath is the config file looked up when --config is not given.
const DefaultPath = "neurobridge.yaml"

// DefaultPersonality selects prompts/personality_robot_friendly.txt.
const DefaultPersonality = "robot_friendly"

// File is the on-disk configuration.
type File struct {
	LogLevel  string `yaml:"log_level"`
	Dashboard string `yaml:"dashboard"` // listen address, empty disables

	Reasoning Reasoning    `yaml:"reasoning"`
	Speech    Speech       `yaml:"speech"`
	Audio     audio.Config `yaml:"audio"`
	Camera    Camera       `yaml:"camera"`
	Robot     Robot        `yaml:"robot"`

	Keys Keys `yaml:"-"`
}

// Reasoning configures the chat backend.
type Reasoning struct {
	BaseURL     string                `yaml:"base_url"`
	Model       string                `yaml:"model"`
	MaxTokens   int                   `yaml:"max_tokens"`
	Temperature float64               `yaml:"temperature"`
	Timeout     time.Duration         `yaml:"timeout"`
	JSONMode    bool                  `yaml:"json_mode"`
	MaxTurns    int                   `yaml:"max_turns"`
	Session     string                `yaml:"session"`
	Preamble    string                `yaml:"preamble"`
	Personality string                `yaml:"personality"`
	Prompts     reasoning.PromptFiles `yaml:"prompts"`

	// Fallback is tried when the primary endpoint fails. Empty BaseURL
	// disables it.
	Fallback Endpoint `yaml:"fallback"`
}

// Endpoint is a secondary chat endpoint. The key is picked from Keys by
// host.
type Endpoint struct {
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// Speech configures voice output and input.
type Speech struct {
	Output   bool          `yaml:"output"`
	Input    bool          `yaml:"input"`
	Provider string        `yaml:"provider"` // elevenlabs, openai
	Voice    string        `yaml:"voice"`    // keyword or raw voice id
	Cooldown time.Duration `yaml:"cooldown"`
	GatePoll time.Duration `yaml:"gate_poll"`
}

// Camera configures capture and detection.
type Camera struct {
	Enabled  bool          `yaml:"enabled"`
	Detector string        `yaml:"detector"` // gemini, yolo, none
	Capture  camera.Config `yaml:"capture"`
	YOLO     YOLO          `yaml:"yolo"`
}

// YOLO locates the local detection model. Zero values take the
// detector's defaults.
type YOLO struct {
	ModelPath  string  `yaml:"model_path"`
	Confidence float32 `yaml:"confidence"`
}

// Robot configures the actuator.
type Robot struct {
	Enabled bool                   `yaml:"enabled"`
	Port    string                 `yaml:"port"`
	Limits  map[string]robot.Limit `yaml:"limits"`
}

// Keys are credentials. They only come from the environment.
type Keys struct {
	Groq       string
	OpenAI     string
	ElevenLabs string
	Google     string
}

// Default returns the built-in configuration.
func Default() File {
	llm := inference.DefaultConfig()
	return File{
		LogLevel: "info",
		Reasoning: Reasoning{
			BaseURL:     llm.BaseURL,
			Model:       llm.Model,
			MaxTokens:   llm.MaxTokens,
			Temperature: llm.Temperature,
			Timeout:     llm.Timeout,
			JSONMode:    true,
			MaxTurns:    20,
			Session:     reasoning.DefaultSession,
			Personality: DefaultPersonality,
			Prompts:     reasoning.DefaultPromptFiles(),
		},
		Speech: Speech{
			Provider: "elevenlabs",
			Cooldown: 5 * time.Second,
			GatePoll: 100 * time.Millisecond,
		},
		Audio: audio.DefaultConfig(),
		Camera: Camera{
			Detector: "gemini",
			Capture:  camera.DefaultConfig(),
			YOLO:     YOLO{ModelPath: "models/yolov8n.onnx"},
		},
	}
}

// Load reads path over the defaults and applies the environment.
// A missing file yields the defaults.
func Load(path string) (File, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}
	cfg.ApplyEnv(os.Getenv)
	return cfg, nil
}

// ApplyEnv overrides values from the environment through getenv.
func (f *File) ApplyEnv(getenv func(string) string) {
	f.Keys = Keys{
		Groq:       getenv("GROQ_API_KEY"),
		OpenAI:     getenv("OPENAI_API_KEY"),
		ElevenLabs: getenv("ELEVENLABS_API_KEY"),
		Google:     getenv("GOOGLE_API_KEY"),
	}
	if v := getenv("LLM_BASE_URL"); v != "" {
		f.Reasoning.BaseURL = v
	}
	if v := getenv("LLM_MODEL"); v != "" {
		f.Reasoning.Model = v
	}
	if v := getenv("LLM_FALLBACK_URL"); v != "" {
		f.Reasoning.Fallback.BaseURL = v
	}
	if v := getenv("LLM_FALLBACK_MODEL"); v != "" {
		f.Reasoning.Fallback.Model = v
	}
	if v := getenv("ROBOT_PORT"); v != "" {
		f.Robot.Port = v
	}
	if v := getenv("ELEVENLABS_VOICE_ID"); v != "" && f.Speech.Voice == "" {
		f.Speech.Voice = v
	}
}

// ReasoningKey is KeyFor the primary endpoint.
func (f *File) ReasoningKey() string {
	return f.KeyFor(f.Reasoning.BaseURL)
}

// KeyFor returns the key matching a chat endpoint: the Groq key for Groq,
// none for Ollama, the OpenAI key for everything else.
func (f *File) KeyFor(baseURL string) string {
	if strings.Contains(baseURL, "groq.com") {
		return f.Keys.Groq
	}
	if IsLocal(baseURL) {
		return ""
	}
	return f.Keys.OpenAI
}

// IsLocal reports an endpoint that needs no key.
func IsLocal(baseURL string) bool {
	return strings.HasPrefix(baseURL, inference.OllamaBaseURL)
}

// PersonalityFile resolves a personality name to its prompt file. Values
// that look like paths are used as given.
func (f *File) PersonalityFile() string {
	p := strings.TrimSpace(f.Reasoning.Personality)
	if p == "" {
		p = DefaultPersonality
	}
	if strings.ContainsRune(p, os.PathSeparator) || strings.HasSuffix(p, ".txt") {
		return p
	}
	dir := filepath.Dir(f.Reasoning.Prompts.Template)
	if f.Reasoning.Prompts.Template == "" {
		dir = "prompts"
	}
	return filepath.Join(dir, "personality_"+p+".txt")
}

// VoiceKeyword picks the voice: the configured one, or the personality's
// matching keyword.
func (f *File) VoiceKeyword() string {
	if f.Speech.Voice != "" {
		return f.Speech.Voice
	}
	if strings.Contains(f.Reasoning.Personality, "cold") {
		return "robot_cold"
	}
	return "robot_warm"
}

// Validate reports every invalid value at once.
func (f *File) Validate() error {
	var errs []error
	if f.Reasoning.Model == "" {
		errs = append(errs, errors.New("reasoning.model is required"))
	}
	if f.Reasoning.BaseURL == "" {
		errs = append(errs, errors.New("reasoning.base_url is required"))
	}
	if f.Reasoning.Fallback.BaseURL != "" && f.Reasoning.Fallback.Model == "" {
		errs = append(errs, errors.New("reasoning.fallback.model is required with a fallback base_url"))
	}
	switch f.Speech.Provider {
	case "elevenlabs", "openai":
	default:
		errs = append(errs, fmt.Errorf("speech.provider %q: want elevenlabs or openai", f.Speech.Provider))
	}
	switch f.Camera.Detector {
	case "gemini", "yolo", "none":
	default:
		errs = append(errs, fmt.Errorf("camera.detector %q: want gemini, yolo or none", f.Camera.Detector))
	}
	if f.Camera.Enabled {
		for _, msg := range f.Camera.Capture.Validate() {
			errs = append(errs, fmt.Errorf("camera: %s", msg))
		}
	}
	if f.Robot.Enabled && f.Robot.Port == "" {
		errs = append(errs, errors.New("robot.port is required when the robot is enabled"))
	}
	if err := f.Audio.Validate(); err != nil && (f.Speech.Output || f.Speech.Input) {
		errs = append(errs, fmt.Errorf("audio: %w", err))
	}
	return errors.Join(errs...)
}
