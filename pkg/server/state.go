// Package server holds the process-wide runtime state shared by every
// component of the agent: feature toggles, the speech input gate and the
// single shutdown flag.
//
// All fields are accessed through methods backed by atomics, so a *State can
// be handed to any goroutine without extra locking.
package server

import (
	"sync"
	"sync/atomic"
)

// Toggles are the feature switches chosen at startup.
type Toggles struct {
	CameraEnabled bool `json:"camera_enabled"` // capture session running
	SpeechOutput  bool `json:"speech_output"`  // speak responses (TTS)
	SpeechInput   bool `json:"speech_input"`   // voice collector instead of terminal
	RobotAttached bool `json:"robot_attached"` // actuator present
	Verbose       bool `json:"verbose"`
}

// State is the shared runtime context.
type State struct {
	cameraEnabled atomic.Bool
	speechOutput  atomic.Bool
	speechInput   atomic.Bool
	robotAttached atomic.Bool
	verbose       atomic.Bool

	// inputReady is lowered while speech is playing so the voice
	// collector does not transcribe the agent's own voice.
	inputReady atomic.Bool

	stopped  atomic.Bool
	done     chan struct{}
	stopOnce sync.Once

	hooksMu sync.Mutex
	onStop  []func()
}

// New creates a State from the startup toggles.
func New(t Toggles) *State {
	s := &State{done: make(chan struct{})}
	s.cameraEnabled.Store(t.CameraEnabled)
	s.speechOutput.Store(t.SpeechOutput)
	s.speechInput.Store(t.SpeechInput)
	s.robotAttached.Store(t.RobotAttached)
	s.verbose.Store(t.Verbose)
	s.inputReady.Store(true)
	return s
}

// CameraEnabled reports whether a capture session is allowed/active.
func (s *State) CameraEnabled() bool { return s.cameraEnabled.Load() }

// SetCameraEnabled is called by the camera skills on enable/disable.
func (s *State) SetCameraEnabled(v bool) { s.cameraEnabled.Store(v) }

// SpeechOutput reports whether responses are spoken.
func (s *State) SpeechOutput() bool { return s.speechOutput.Load() }

// SpeechInput reports whether the voice collector is selected.
func (s *State) SpeechInput() bool { return s.speechInput.Load() }

// RobotAttached reports whether an actuator is configured.
func (s *State) RobotAttached() bool { return s.robotAttached.Load() }

// Verbose reports whether debug output was requested.
func (s *State) Verbose() bool { return s.verbose.Load() }

// InputReady reports whether the voice collector may listen.
func (s *State) InputReady() bool { return s.inputReady.Load() }

// SetInputReady raises or lowers the input gate.
func (s *State) SetInputReady(v bool) { s.inputReady.Store(v) }

// Toggles returns a snapshot of the current switches.
func (s *State) Toggles() Toggles {
	return Toggles{
		CameraEnabled: s.CameraEnabled(),
		SpeechOutput:  s.SpeechOutput(),
		SpeechInput:   s.SpeechInput(),
		RobotAttached: s.RobotAttached(),
		Verbose:       s.Verbose(),
	}
}

// Stop sets the shutdown flag. Safe to call from any goroutine, any number
// of times; hooks registered with OnStop run once, on the first call.
func (s *State) Stop() {
	s.stopOnce.Do(func() {
		s.stopped.Store(true)
		close(s.done)

		s.hooksMu.Lock()
		hooks := s.onStop
		s.onStop = nil
		s.hooksMu.Unlock()

		for _, fn := range hooks {
			fn()
		}
	})
}

// Stopped reports whether shutdown was requested.
func (s *State) Stopped() bool { return s.stopped.Load() }

// Done is closed when shutdown is requested.
func (s *State) Done() <-chan struct{} { return s.done }

// OnStop registers fn to run when Stop is first called. If the state is
// already stopped, fn runs immediately.
func (s *State) OnStop(fn func()) {
	s.hooksMu.Lock()
	if !s.stopped.Load() {
		s.onStop = append(s.onStop, fn)
		s.hooksMu.Unlock()
		return
	}
	s.hooksMu.Unlock()
	fn()
}
