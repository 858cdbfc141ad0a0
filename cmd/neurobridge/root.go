package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-neurobridge/internal/config"
	"github.com/teslashibe/go-neurobridge/internal/log"
	"github.com/teslashibe/go-neurobridge/pkg/agent"
)

// flags holds the command-line overrides. Only flags the user set are
// applied over the config file.
type flags struct {
	configPath   string
	enableCamera bool
	cameraID     int
	enableTTS    bool
	enableSTT    bool
	useRobot     bool
	robotPort    string
	personality  string
	verbose      bool
	dashboard    string
}

func rootCmd() *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:   "neurobridge",
		Short: "Conversational robot agent",
		Long: `Conversational robot agent.

Queries typed in the terminal, spoken into the microphone or sent from the
web dashboard are answered by an LLM. Replies are spoken and their skills
run against the camera and the robot.

Credentials come from the environment:
  GROQ_API_KEY or OPENAI_API_KEY   reasoning backend (required)
  ELEVENLABS_API_KEY               speech output
  OPENAI_API_KEY                   speech input
  GOOGLE_API_KEY                   object detection with Gemini`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, f)
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&f.configPath, "config", config.DefaultPath, "config file")
	fs.BoolVar(&f.enableCamera, "enable-camera", false, "enable the camera skills")
	fs.IntVar(&f.cameraID, "camera-id", 0, "camera device index")
	fs.BoolVar(&f.enableTTS, "enable-tts", false, "speak replies")
	fs.BoolVar(&f.enableSTT, "enable-stt", false, "take queries from the microphone")
	fs.BoolVar(&f.useRobot, "use-robot", false, "send joint moves to the robot")
	fs.StringVar(&f.robotPort, "robot-port", "", "robot address (http://host:8000 or tcp://broker:1883/prefix)")
	fs.StringVar(&f.personality, "personality", "", "personality name or prompt file")
	fs.BoolVarP(&f.verbose, "verbose", "v", false, "debug logging")
	fs.StringVar(&f.dashboard, "dashboard", "", "dashboard listen address, e.g. :8181")
	return cmd
}

// apply overlays the flags the user set on cfg.
func (f flags) apply(cmd *cobra.Command, cfg *config.File) {
	changed := cmd.Flags().Changed
	if changed("enable-camera") {
		cfg.Camera.Enabled = f.enableCamera
	}
	if changed("camera-id") {
		cfg.Camera.Capture.DeviceID = f.cameraID
	}
	if changed("enable-tts") {
		cfg.Speech.Output = f.enableTTS
	}
	if changed("enable-stt") {
		cfg.Speech.Input = f.enableSTT
	}
	if changed("use-robot") {
		cfg.Robot.Enabled = f.useRobot
	}
	if changed("robot-port") {
		cfg.Robot.Port = f.robotPort
	}
	if changed("personality") {
		cfg.Reasoning.Personality = f.personality
	}
	if changed("dashboard") {
		cfg.Dashboard = f.dashboard
	}
	if f.verbose {
		cfg.LogLevel = "debug"
	}
}

func run(cmd *cobra.Command, f flags) error {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return err
	}
	f.apply(cmd, &cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}

	logger := log.Init(cfg.LogLevel)

	hw, err := build(cfg, logger)
	if err != nil {
		return err
	}
	defer hw.close()

	app, err := agent.New(hw.agentConfig(cfg, f.verbose), logger)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	fmt.Fprintln(os.Stderr, "neurobridge ready. Type \"exit\" or \"quit\" to stop.")
	return app.Run(ctx)
}
