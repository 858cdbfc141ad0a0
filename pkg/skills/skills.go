// Package skills executes what the reasoning backend asks the robot to do.
//
// Every skill runs as its own task and takes the hardware it needs from a
// resource.Coordinator for exactly as long as it works. Hardware that is not
// configured turns the matching skill into a no-op reported as
// ErrNotConfigured.
package skills

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/teslashibe/go-neurobridge/pkg/camera"
	"github.com/teslashibe/go-neurobridge/pkg/resource"
	"github.com/teslashibe/go-neurobridge/pkg/response"
	"github.com/teslashibe/go-neurobridge/pkg/robot"
	"github.com/teslashibe/go-neurobridge/pkg/server"
	"github.com/teslashibe/go-neurobridge/pkg/speech"
	"github.com/teslashibe/go-neurobridge/pkg/vision"
)

var (
	// ErrNotConfigured means the hardware a skill needs is absent.
	ErrNotConfigured = errors.New("skills: not configured")
	// ErrUnknownSkill is returned for KindUnrecognized invocations.
	ErrUnknownSkill = errors.New("skills: unknown skill")
	// ErrNotCapturing is returned when detection gives up waiting for the camera.
	ErrNotCapturing = errors.New("skills: camera not capturing")
)

// DefaultDetectPrompt is used when object_detection has no "object" param.
const DefaultDetectPrompt = "object"

// Handler runs one skill invocation.
type Handler func(ctx context.Context, inv response.Invocation) error

// Config wires an Executor to the hardware. Nil fields mean absent.
type Config struct {
	Resources *resource.Coordinator
	State     *server.State

	Capture  *camera.Capture
	Detector vision.Detector
	Speaker  speech.Speaker
	Actuator robot.Actuator

	// OnDetection receives the matches of every detection pass.
	OnDetection func(prompt string, dets []vision.Detection)

	Logger *slog.Logger
}

// Executor maps skill kinds to handlers.
type Executor struct {
	res      *resource.Coordinator
	state    *server.State
	capture  *camera.Capture
	detector vision.Detector
	speaker  speech.Speaker
	actuator robot.Actuator

	onDetection func(string, []vision.Detection)
	handlers    map[response.Kind]Handler
	logger      *slog.Logger
}

// New creates an executor.
func New(cfg Config) *Executor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	res := cfg.Resources
	if res == nil {
		res = resource.New(logger)
	}
	state := cfg.State
	if state == nil {
		state = server.New(server.Toggles{})
	}

	e := &Executor{
		res:         res,
		state:       state,
		capture:     cfg.Capture,
		detector:    cfg.Detector,
		speaker:     cfg.Speaker,
		actuator:    cfg.Actuator,
		onDetection: cfg.OnDetection,
		logger:      logger.With("component", "skills.executor"),
	}
	e.handlers = map[response.Kind]Handler{
		response.KindCameraEnable:    e.cameraEnable,
		response.KindCameraDisable:   e.cameraDisable,
		response.KindObjectDetection: e.objectDetection,
	}
	return e
}

// Execute runs inv with the handler registered for its kind.
func (e *Executor) Execute(ctx context.Context, inv response.Invocation) error {
	h, ok := e.handlers[inv.Kind]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSkill, inv.Name)
	}
	return h(ctx, inv)
}

// Known reports whether kind has a handler.
func (e *Executor) Known(kind response.Kind) bool {
	_, ok := e.handlers[kind]
	return ok
}

// Say speaks text. Concurrent calls are serialized on the speech resource
// and input is gated for as long as the speaker plays.
func (e *Executor) Say(ctx context.Context, text string) error {
	if e.speaker == nil {
		return ErrNotConfigured
	}
	release, err := e.res.Acquire(ctx, resource.ResourceSpeech, "say")
	if err != nil {
		return err
	}
	defer release()

	e.state.SetInputReady(false)
	defer e.state.SetInputReady(true)

	return e.speaker.Say(ctx, text)
}

// Move drives one joint. Without an actuator the command is dropped.
func (e *Executor) Move(ctx context.Context, cmd response.MovementCommand) error {
	if e.actuator == nil {
		e.logger.Info("no actuator attached, dropping movement",
			"group", cmd.Group, "motor", cmd.Motor, "position", cmd.Position)
		return ErrNotConfigured
	}
	release, err := e.res.Acquire(ctx, resource.ResourceActuator, "move:"+cmd.Motor)
	if err != nil {
		return err
	}
	defer release()

	e.logger.Debug("moving joint", "group", cmd.Group, "motor", cmd.Motor, "position", cmd.Position)
	return e.actuator.MoveJoint(ctx, cmd.Motor, cmd.Position)
}

// cameraEnable holds the camera for a whole capture session. It returns
// when the session ends: camera_disable, shutdown or device failure.
func (e *Executor) cameraEnable(ctx context.Context, _ response.Invocation) error {
	if e.capture == nil {
		return ErrNotConfigured
	}
	release, err := e.res.Acquire(ctx, resource.ResourceCamera, "camera_enable")
	if err != nil {
		return err
	}
	defer release()

	e.state.SetCameraEnabled(true)
	defer e.state.SetCameraEnabled(false)

	return e.capture.Run(ctx)
}

func (e *Executor) cameraDisable(_ context.Context, _ response.Invocation) error {
	if e.capture == nil {
		return ErrNotConfigured
	}
	if !e.capture.Stop() {
		e.logger.Info("camera already idle")
	}
	return nil
}

// objectDetection waits for a capture session and then runs the detector
// on each new frame until the session ends.
func (e *Executor) objectDetection(ctx context.Context, inv response.Invocation) error {
	if e.capture == nil || e.detector == nil {
		return ErrNotConfigured
	}
	prompt := inv.StringParam("object", DefaultDetectPrompt)
	cfg := e.capture.GetConfig()

	waitCtx, cancel := context.WithTimeout(ctx, cfg.DetectWait)
	err := e.capture.WaitCapturing(waitCtx)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w after %v", ErrNotCapturing, cfg.DetectWait)
	}

	e.logger.Info("detection started", "object", prompt)
	ticker := time.NewTicker(cfg.DetectInterval)
	defer ticker.Stop()

	var lastSeq uint64
	passes := 0
	for {
		if e.capture.State() != camera.StateCapturing {
			e.logger.Info("detection stopped", "object", prompt, "passes", passes)
			return nil
		}

		if frame, seq, ok := e.capture.Latest(); ok && seq != lastSeq {
			lastSeq = seq
			passes++
			e.detect(ctx, frame, prompt)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (e *Executor) detect(ctx context.Context, frame []byte, prompt string) {
	dets, err := e.detector.DetectObjects(ctx, frame, prompt)
	if err != nil {
		if ctx.Err() == nil {
			e.logger.Warn("detection failed", "object", prompt, "error", err)
		}
		return
	}

	matches := dets[:0:0]
	for _, d := range dets {
		if vision.MatchesPrompt(d.Label, prompt) {
			matches = append(matches, d)
		}
	}
	for _, d := range matches {
		e.logger.Info("object detected",
			"label", d.Label,
			"confidence", fmt.Sprintf("%.2f", d.Confidence),
			"box", d.Box.String(),
		)
	}
	if e.onDetection != nil {
		e.onDetection(prompt, matches)
	}
}
