package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/teslashibe/go-neurobridge/internal/config"
	"github.com/teslashibe/go-neurobridge/internal/log"
	"github.com/teslashibe/go-neurobridge/pkg/agent"
	"github.com/teslashibe/go-neurobridge/pkg/audio"
	"github.com/teslashibe/go-neurobridge/pkg/camera"
	"github.com/teslashibe/go-neurobridge/pkg/camera/opencv"
	"github.com/teslashibe/go-neurobridge/pkg/inference"
	"github.com/teslashibe/go-neurobridge/pkg/input"
	"github.com/teslashibe/go-neurobridge/pkg/reasoning"
	"github.com/teslashibe/go-neurobridge/pkg/robot"
	"github.com/teslashibe/go-neurobridge/pkg/server"
	"github.com/teslashibe/go-neurobridge/pkg/speech"
	"github.com/teslashibe/go-neurobridge/pkg/tts"
	"github.com/teslashibe/go-neurobridge/pkg/vision"
	"github.com/teslashibe/go-neurobridge/pkg/vision/yolo"
)

// hardware is everything built from the config. Optional parts that fail
// to initialize are logged and left nil; their skills then no-op.
type hardware struct {
	backend     reasoning.Backend
	speaker     speech.Speaker
	transcriber speech.Transcriber
	capture     *camera.Capture
	detector    vision.Detector
	actuator    robot.Actuator
	annotate    func([]byte, []vision.Detection) ([]byte, error)

	closers []io.Closer
}

func build(cfg config.File, logger *slog.Logger) (*hardware, error) {
	hw := &hardware{}

	backend, err := buildBackend(hw, cfg, logger)
	if err != nil {
		return nil, err
	}
	hw.backend = backend

	if cfg.Speech.Output || cfg.Speech.Input {
		buildSpeech(hw, cfg, logger)
	}
	if cfg.Camera.Enabled {
		buildCamera(hw, cfg, logger)
	}
	if cfg.Robot.Enabled {
		buildRobot(hw, cfg, logger)
	}
	return hw, nil
}

// buildBackend is the one step that cannot degrade: without a reasoning
// backend there is nothing to run. A fallback endpoint that cannot be
// built is only logged.
func buildBackend(hw *hardware, cfg config.File, logger *slog.Logger) (reasoning.Backend, error) {
	r := cfg.Reasoning
	key := cfg.ReasoningKey()
	if key == "" && !config.IsLocal(r.BaseURL) {
		return nil, &agent.ConfigError{
			Field:   "ReasoningKey",
			Message: fmt.Sprintf("no API key for %s (set GROQ_API_KEY or OPENAI_API_KEY)", r.BaseURL),
		}
	}

	primary, err := newChatClient(cfg, r.BaseURL, r.Model, key, logger)
	if err != nil {
		return nil, fmt.Errorf("reasoning client: %w", err)
	}
	var provider inference.Provider = primary

	if fb := r.Fallback; fb.BaseURL != "" {
		fbKey := cfg.KeyFor(fb.BaseURL)
		if fbKey == "" && !config.IsLocal(fb.BaseURL) {
			logger.Warn("fallback endpoint disabled: no API key", "base_url", fb.BaseURL)
		} else if secondary, err := newChatClient(cfg, fb.BaseURL, fb.Model, fbKey, logger); err != nil {
			logger.Warn("fallback endpoint disabled", "base_url", fb.BaseURL, "error", err)
		} else if provider, err = inference.NewChain(logger, primary, secondary); err != nil {
			return nil, err
		}
	}
	hw.closers = append(hw.closers, provider)

	files := r.Prompts
	files.Personality = cfg.PersonalityFile()
	prompt := reasoning.LoadSystemPrompt(files, logger)
	if prompt == "" {
		logger.Warn("system prompt is empty", "hardware", files.Hardware, "template", files.Template, "personality", files.Personality)
	}

	return reasoning.NewAgent(provider, prompt,
		reasoning.WithMaxTurns(r.MaxTurns),
		reasoning.WithJSONMode(r.JSONMode),
		reasoning.WithLogger(logger),
	), nil
}

func newChatClient(cfg config.File, baseURL, model, key string, logger *slog.Logger) (*inference.Client, error) {
	r := cfg.Reasoning
	return inference.NewClient(
		inference.WithBaseURL(baseURL),
		inference.WithAPIKey(key),
		inference.WithModel(model),
		inference.WithMaxTokens(r.MaxTokens),
		inference.WithTemperature(r.Temperature),
		inference.WithTimeout(r.Timeout),
		inference.WithLogger(logger),
	)
}

func buildSpeech(hw *hardware, cfg config.File, logger *slog.Logger) {
	if cfg.Speech.Output {
		provider, err := buildTTS(cfg, logger)
		if err != nil {
			logger.Warn("speech output disabled", "error", err)
		} else if player, err := audio.NewPlayer(cfg.Audio, logger); err != nil {
			logger.Warn("speech output disabled", "error", err)
		} else {
			hw.speaker = speech.NewTTSSpeaker(provider, player, logger)
			hw.closers = append(hw.closers, provider)
		}
	}

	if cfg.Speech.Input {
		recorder, err := audio.NewRecorder(cfg.Audio, logger)
		if err != nil {
			logger.Warn("speech input disabled", "error", err)
			return
		}
		tr, err := speech.NewRealtimeTranscriber(cfg.Keys.OpenAI, recorder, logger)
		if err != nil {
			logger.Warn("speech input disabled", "error", err)
			return
		}
		hw.transcriber = tr
	}
}

// buildTTS puts the configured provider first and the other one, when
// its key is present, behind it.
func buildTTS(cfg config.File, logger *slog.Logger) (tts.Provider, error) {
	var providers []tts.Provider
	var errs []error

	elevenLabs := func() {
		voice := tts.ResolveVoice(cfg.VoiceKeyword(), os.Getenv)
		if voice == "" {
			errs = append(errs, fmt.Errorf("elevenlabs: no voice id for %q", cfg.VoiceKeyword()))
			return
		}
		p, err := tts.NewElevenLabs(
			tts.WithAPIKey(cfg.Keys.ElevenLabs),
			tts.WithVoice(voice),
			tts.WithLogger(logger),
		)
		if err != nil {
			errs = append(errs, fmt.Errorf("elevenlabs: %w", err))
			return
		}
		providers = append(providers, p)
	}
	openAI := func() {
		p, err := tts.NewOpenAI(tts.WithAPIKey(cfg.Keys.OpenAI), tts.WithLogger(logger))
		if err != nil {
			errs = append(errs, fmt.Errorf("openai: %w", err))
			return
		}
		providers = append(providers, p)
	}

	if cfg.Speech.Provider == "openai" {
		openAI()
		if cfg.Keys.ElevenLabs != "" {
			elevenLabs()
		}
	} else {
		elevenLabs()
		if cfg.Keys.OpenAI != "" {
			openAI()
		}
	}

	switch len(providers) {
	case 0:
		return nil, errors.Join(errs...)
	case 1:
		return providers[0], nil
	default:
		return tts.NewChain(logger, providers...)
	}
}

func buildCamera(hw *hardware, cfg config.File, logger *slog.Logger) {
	hw.capture = camera.NewCapture(opencv.New(), cfg.Camera.Capture, logger)
	hw.annotate = opencv.Annotate

	switch cfg.Camera.Detector {
	case "gemini":
		d, err := vision.NewGeminiDetector(cfg.Keys.Google, logger)
		if err != nil {
			logger.Warn("object detection disabled", "error", err)
			return
		}
		hw.detector = d
	case "yolo":
		ycfg := yolo.DefaultConfig()
		if cfg.Camera.YOLO.ModelPath != "" {
			ycfg.ModelPath = cfg.Camera.YOLO.ModelPath
		}
		if cfg.Camera.YOLO.Confidence > 0 {
			ycfg.ConfidenceThresh = cfg.Camera.YOLO.Confidence
		}
		d, err := yolo.New(ycfg, logger)
		if err != nil {
			logger.Warn("object detection disabled", "error", err)
			return
		}
		hw.detector = d
		hw.closers = append(hw.closers, d)
	}
}

func buildRobot(hw *hardware, cfg config.File, logger *slog.Logger) {
	ctrl, err := robot.New(cfg.Robot.Port)
	if err != nil {
		logger.Warn("robot disabled", "port", cfg.Robot.Port, "error", err)
		return
	}
	hw.actuator = robot.NewGuard(ctrl, cfg.Robot.Limits, logger)
	hw.closers = append(hw.closers, ctrl)
}

// agentConfig maps the built hardware onto agent.Config. Toggles follow
// what actually came up, not what was requested.
func (hw *hardware) agentConfig(cfg config.File, verbose bool) agent.Config {
	ac := agent.DefaultConfig()
	ac.Toggles = server.Toggles{
		SpeechOutput:  hw.speaker != nil,
		SpeechInput:   hw.transcriber != nil,
		RobotAttached: hw.actuator != nil,
		Verbose:       verbose,
	}
	ac.Backend = hw.backend
	ac.Speaker = hw.speaker
	ac.Transcriber = hw.transcriber
	ac.Capture = hw.capture
	ac.Detector = hw.detector
	ac.Actuator = hw.actuator
	ac.Annotate = hw.annotate
	ac.Session = cfg.Reasoning.Session
	ac.Preamble = cfg.Reasoning.Preamble
	ac.Dashboard = cfg.Dashboard
	ac.Voice = input.VoiceConfig{GatePoll: cfg.Speech.GatePoll, Cooldown: cfg.Speech.Cooldown}
	return ac
}

func (hw *hardware) close() {
	logger := log.For("cmd.neurobridge")
	for i := len(hw.closers) - 1; i >= 0; i-- {
		if err := hw.closers[i].Close(); err != nil {
			logger.Warn("close", "error", err)
		}
	}
}
