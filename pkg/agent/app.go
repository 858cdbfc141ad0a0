package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-neurobridge/pkg/camera"
	"github.com/teslashibe/go-neurobridge/pkg/dispatch"
	"github.com/teslashibe/go-neurobridge/pkg/input"
	"github.com/teslashibe/go-neurobridge/pkg/queue"
	"github.com/teslashibe/go-neurobridge/pkg/resource"
	"github.com/teslashibe/go-neurobridge/pkg/server"
	"github.com/teslashibe/go-neurobridge/pkg/skills"
	"github.com/teslashibe/go-neurobridge/pkg/vision"
	"github.com/teslashibe/go-neurobridge/pkg/web"
)

// App is the running agent. It owns the queue, the server state, the
// resource coordinator and the task supervisor, and implements
// web.Backend for the dashboard.
type App struct {
	config Config
	logger *slog.Logger

	state     *server.State
	queue     *queue.Queue
	resources *resource.Coordinator

	tasks       *dispatch.Supervisor
	cancelTasks context.CancelFunc

	executor   *skills.Executor
	dispatcher *dispatch.Dispatcher
	processor  *Processor
	webServer  *web.Server

	overlayMu sync.Mutex
	overlay   []vision.Detection
	overlayAt time.Time

	started time.Time
}

var _ web.Backend = (*App)(nil)

// New creates the application with the given configuration.
func New(cfg Config, logger *slog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	a := &App{
		config:    cfg,
		logger:    logger.With("component", "agent.app"),
		state:     server.New(cfg.Toggles),
		queue:     queue.New(),
		resources: resource.New(logger),
		started:   time.Now(),
	}
	a.state.OnStop(a.queue.Close)
	if cfg.Capture != nil {
		a.state.OnStop(func() { cfg.Capture.Stop() })
	}

	taskCtx, cancel := context.WithCancel(context.Background())
	a.tasks = dispatch.NewSupervisor(taskCtx, logger)
	a.cancelTasks = cancel

	if cfg.Dashboard != "" {
		a.webServer = web.NewServer(cfg.Dashboard, a, logger)
		a.tasks.OnResult(a.publishResult)
	}

	a.executor = skills.New(skills.Config{
		Resources:   a.resources,
		State:       a.state,
		Capture:     cfg.Capture,
		Detector:    cfg.Detector,
		Speaker:     cfg.Speaker,
		Actuator:    cfg.Actuator,
		OnDetection: a.publishDetection,
		Logger:      logger,
	})
	a.dispatcher = dispatch.New(a.executor, a.state, a.tasks, logger)
	a.processor = NewProcessor(ProcessorConfig{
		Queue:      a.queue,
		State:      a.state,
		Backend:    cfg.Backend,
		Dispatcher: a.dispatcher,
		Session:    cfg.Session,
		Preamble:   cfg.Preamble,
		Logger:     logger,
	})
	a.processor.Observer = a.publishExchange
	return a, nil
}

// Run starts the collectors, the processor and the dashboard, and blocks
// until the stop flag is raised or ctx ends. It then waits up to the
// shutdown grace for running skills before cancelling them.
func (a *App) Run(ctx context.Context) error {
	stopOnCancel := context.AfterFunc(ctx, a.state.Stop)
	defer stopOnCancel()

	// Collectors and the dashboard end on stop. The processor does not
	// watch the stop flag through its context: a reply already in flight
	// is delivered, and the closed queue ends the loop.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	a.state.OnStop(cancel)

	a.logger.Info("agent started",
		"speech_output", a.state.SpeechOutput(),
		"speech_input", a.state.SpeechInput(),
		"robot", a.state.RobotAttached(),
		"camera", a.config.Capture != nil,
		"dashboard", a.config.Dashboard,
	)

	g, gctx := errgroup.WithContext(ctx)
	a.goStopping(g, "processor", func() error { return a.processor.Run(gctx) })
	a.goStopping(g, "collector", func() error {
		if err := a.collector().Run(runCtx); err != nil {
			return err
		}
		// Closed stdin leaves the dashboard as the only input.
		if a.webServer == nil {
			a.state.Stop()
		}
		return nil
	})
	if a.webServer != nil {
		a.goStopping(g, "dashboard", func() error { return a.webServer.Run(runCtx) })
		g.Go(func() error { a.pumpDashboard(runCtx); return nil })
	}

	err := g.Wait()

	if left := a.queue.Drain(); len(left) > 0 {
		for _, q := range left {
			a.logger.Info("stopping, query dropped", "seq", q.Seq, "source", q.Source, "text", q.Text)
		}
	}
	a.shutdownTasks()
	a.logger.Info("agent stopped", "processed", a.processor.Processed())
	return err
}

// goStopping runs fn in g and raises the stop flag if it fails.
func (a *App) goStopping(g *errgroup.Group, name string, fn func() error) {
	g.Go(func() error {
		err := fn()
		if err != nil {
			a.logger.Error(name+" failed", "error", err)
			a.state.Stop()
			return fmt.Errorf("%s: %w", name, err)
		}
		return nil
	})
}

// collector picks the input loop: voice when speech input is on and a
// transcriber is configured, the terminal otherwise.
func (a *App) collector() interface{ Run(context.Context) error } {
	if a.state.SpeechInput() {
		if a.config.Transcriber != nil {
			return input.NewVoice(a.queue, a.state, a.config.Transcriber, a.config.Voice, a.logger)
		}
		a.logger.Warn("speech input enabled without a transcriber, using the terminal")
	}
	opts := []input.TerminalOption{
		input.WithPollInterval(a.config.TerminalPoll),
		input.WithTerminalLogger(a.logger),
	}
	if a.config.Stdin != nil {
		opts = append(opts, input.WithInput(a.config.Stdin))
	}
	if a.config.Stdout != nil {
		opts = append(opts, input.WithOutput(a.config.Stdout))
	}
	return input.NewTerminal(a.queue, a.state, opts...)
}

func (a *App) shutdownTasks() {
	if running := a.tasks.Running(); len(running) > 0 {
		a.logger.Info("waiting for running skills", "tasks", running, "grace", a.config.ShutdownGrace)
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.config.ShutdownGrace)
	defer cancel()
	err := a.tasks.Wait(ctx)
	a.cancelTasks()
	if err != nil {
		a.logger.Warn("cancelling skills", "error", err)
		final, done := context.WithTimeout(context.Background(), time.Second)
		defer done()
		if err := a.tasks.Wait(final); err != nil {
			a.logger.Error("skills did not stop", "error", err)
		}
	}
}

// pumpDashboard pushes status and camera frames until ctx ends.
func (a *App) pumpDashboard(ctx context.Context) {
	status := time.NewTicker(a.config.StatusInterval)
	defer status.Stop()
	frames := time.NewTicker(a.config.FrameInterval)
	defer frames.Stop()

	var lastSeq uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-status.C:
			a.webServer.PublishStatus()
		case <-frames.C:
			if a.config.Capture == nil {
				continue
			}
			frame, seq, ok := a.config.Capture.Latest()
			if ok && seq != lastSeq {
				lastSeq = seq
				a.webServer.SendCameraFrame(a.cameraFrame(frame))
			}
		}
	}
}

// State returns the server state.
func (a *App) State() *server.State { return a.state }

// Queue returns the shared query queue.
func (a *App) Queue() *queue.Queue { return a.queue }

// Status implements web.Backend.
func (a *App) Status() web.Status {
	st := web.Status{
		Toggles:    a.state.Toggles(),
		InputReady: a.state.InputReady(),
		Stopping:   a.state.Stopped(),
		Processing: a.processor.Busy(),
		QueueLen:   a.queue.Len(),
		Resources:  a.resources.Snapshot(),
		Tasks:      a.tasks.Running(),
		Uptime:     time.Since(a.started).Round(time.Second).String(),
	}
	if a.config.Capture != nil {
		snap := a.config.Capture.Snapshot()
		st.Camera = &snap
	}
	return st
}

// Submit implements web.Backend.
func (a *App) Submit(text, source string) (queue.Query, error) {
	return a.queue.Enqueue(text, source)
}

// Stop raises the stop flag.
func (a *App) Stop() {
	a.state.Stop()
}

// CameraConfig implements web.Backend.
func (a *App) CameraConfig() (camera.Config, error) {
	if a.config.Capture == nil {
		return camera.Config{}, web.ErrNoCamera
	}
	return a.config.Capture.GetConfig(), nil
}

// UpdateCameraConfig implements web.Backend.
func (a *App) UpdateCameraConfig(params map[string]any) (camera.Config, error) {
	if a.config.Capture == nil {
		return camera.Config{}, web.ErrNoCamera
	}
	if err := a.config.Capture.UpdateConfig(params); err != nil {
		return camera.Config{}, err
	}
	return a.config.Capture.GetConfig(), nil
}

func (a *App) publishExchange(ex Exchange) {
	if a.webServer == nil {
		return
	}
	a.webServer.AddConversation("user", ex.Query.Source, ex.Query.Text)
	if ex.Err != nil {
		a.webServer.AddEvent("error", "backend: "+ex.Err.Error())
	}
	if ex.Response.Message != nil && ex.Response.Message.Text != "" {
		a.webServer.AddConversation("ai", "", ex.Response.Message.Text)
	}
	if ex.Response.Action != nil {
		for _, entry := range ex.Response.Action.Entries {
			var names []string
			for _, inv := range entry.Skills {
				names = append(names, inv.Name)
			}
			for _, cmd := range entry.Movements {
				names = append(names, "move:"+cmd.Motor)
			}
			a.webServer.AddEvent("response", fmt.Sprintf("%s: %s", entry.Name, strings.Join(names, ", ")))
		}
	}
}

func (a *App) publishResult(r dispatch.Result) {
	switch {
	case r.Err == nil:
		a.webServer.AddEvent("skill", fmt.Sprintf("%s done in %s", r.Name, r.Duration.Round(time.Millisecond)))
	case errors.Is(r.Err, skills.ErrNotConfigured):
	default:
		a.webServer.AddEvent("error", fmt.Sprintf("%s: %s", r.Name, r.Error))
	}
}

// publishDetection keeps the matches for the camera overlay and reports
// them as a dashboard event. An empty pass clears the overlay.
func (a *App) publishDetection(prompt string, dets []vision.Detection) {
	a.overlayMu.Lock()
	a.overlay = dets
	a.overlayAt = time.Now()
	a.overlayMu.Unlock()

	if a.webServer == nil || len(dets) == 0 {
		return
	}
	labels := make([]string, 0, len(dets))
	for _, d := range dets {
		labels = append(labels, fmt.Sprintf("%s %.0f%%", d.Label, d.Confidence*100))
	}
	a.webServer.AddDetection(fmt.Sprintf("%s: %s", prompt, strings.Join(labels, ", ")), dets)
}

// cameraFrame draws the latest detection boxes on frame while they are
// fresh. Frames that fail to annotate are sent raw.
func (a *App) cameraFrame(frame []byte) []byte {
	if a.config.Annotate == nil {
		return frame
	}
	a.overlayMu.Lock()
	dets, at := a.overlay, a.overlayAt
	a.overlayMu.Unlock()
	if len(dets) == 0 || time.Since(at) > overlayTTL {
		return frame
	}
	out, err := a.config.Annotate(frame, dets)
	if err != nil {
		a.logger.Debug("annotate frame", "error", err)
		return frame
	}
	return out
}
