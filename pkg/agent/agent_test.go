package agent

import (
	"context"
	"errors"
	"image"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/teslashibe/go-neurobridge/pkg/camera"
	"github.com/teslashibe/go-neurobridge/pkg/queue"
	"github.com/teslashibe/go-neurobridge/pkg/response"
	"github.com/teslashibe/go-neurobridge/pkg/server"
	"github.com/teslashibe/go-neurobridge/pkg/speech"
	"github.com/teslashibe/go-neurobridge/pkg/vision"
	"github.com/teslashibe/go-neurobridge/pkg/web"
)

// scriptedBackend answers by query text and tracks concurrent calls.
type scriptedBackend struct {
	replies map[string]string
	err     error
	gate    chan struct{} // when set, every call waits for a receive

	mu       sync.Mutex
	queries  []string
	sessions []string

	inFlight atomic.Int32
	peak     atomic.Int32
}

func (b *scriptedBackend) Query(ctx context.Context, text, sessionID string) (string, error) {
	n := b.inFlight.Add(1)
	defer b.inFlight.Add(-1)
	for {
		p := b.peak.Load()
		if n <= p || b.peak.CompareAndSwap(p, n) {
			break
		}
	}

	b.mu.Lock()
	b.queries = append(b.queries, text)
	b.sessions = append(b.sessions, sessionID)
	b.mu.Unlock()

	if b.gate != nil {
		select {
		case <-b.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if b.err != nil {
		return "", b.err
	}
	if reply, ok := b.replies[text]; ok {
		return reply, nil
	}
	return `{"Message":{"message_1":"ok"}}`, nil
}

func (b *scriptedBackend) Queries() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.queries...)
}

type recordingDispatcher struct {
	mu    sync.Mutex
	resps []response.Response
}

func (d *recordingDispatcher) Dispatch(_ context.Context, resp response.Response) {
	d.mu.Lock()
	d.resps = append(d.resps, resp)
	d.mu.Unlock()
}

func (d *recordingDispatcher) Responses() []response.Response {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]response.Response(nil), d.resps...)
}

func newProcessor(b *scriptedBackend, d Dispatcher, preamble string) (*Processor, *queue.Queue, *server.State) {
	q := queue.New()
	state := server.New(server.Toggles{})
	p := NewProcessor(ProcessorConfig{
		Queue:      q,
		State:      state,
		Backend:    b,
		Dispatcher: d,
		Preamble:   preamble,
	})
	return p, q, state
}

func TestProcessor_InOrderOneAtATime(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := &scriptedBackend{gate: make(chan struct{})}
	d := &recordingDispatcher{}
	p, q, _ := newProcessor(b, d, "")

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()

	for _, text := range []string{"one", "two", "three"} {
		_, err := q.Enqueue(text, "terminal")
		require.NoError(t, err)
	}

	for i := 0; i < 3; i++ {
		require.Eventually(t, p.Busy, time.Second, time.Millisecond)
		b.gate <- struct{}{}
	}
	require.Eventually(t, func() bool { return p.Processed() == 3 }, time.Second, time.Millisecond)

	q.Close()
	require.NoError(t, <-done)

	assert.Equal(t, []string{"one", "two", "three"}, b.Queries())
	assert.EqualValues(t, 1, b.peak.Load(), "at most one backend call in flight")
	assert.Len(t, d.Responses(), 3)
}

func TestProcessor_Preamble(t *testing.T) {
	b := &scriptedBackend{}
	d := &recordingDispatcher{}
	p, _, _ := newProcessor(b, d, "Reply in JSON.")

	p.Process(context.Background(), queue.Query{Seq: 1, Text: "hello", Source: "terminal"})

	assert.Equal(t, []string{"Reply in JSON.\nhello"}, b.Queries())
	assert.Equal(t, []string{"default_thread"}, b.sessions)
}

func TestProcessor_BackendFailureUsesFallback(t *testing.T) {
	b := &scriptedBackend{err: errors.New("503 upstream")}
	d := &recordingDispatcher{}
	p, _, _ := newProcessor(b, d, "")

	var seen []Exchange
	p.Observer = func(ex Exchange) { seen = append(seen, ex) }
	p.Process(context.Background(), queue.Query{Seq: 1, Text: "hello"})

	resps := d.Responses()
	require.Len(t, resps, 1)
	require.NotNil(t, resps[0].Message)
	assert.Equal(t, response.FallbackText, resps[0].Message.Text)

	require.Len(t, seen, 1)
	assert.Error(t, seen[0].Err)
}

func TestProcessor_ParseFailureUsesFallback(t *testing.T) {
	b := &scriptedBackend{replies: map[string]string{"hello": "I am not JSON at all"}}
	d := &recordingDispatcher{}
	p, _, _ := newProcessor(b, d, "")

	p.Process(context.Background(), queue.Query{Seq: 1, Text: "hello"})

	resps := d.Responses()
	require.Len(t, resps, 1)
	require.NotNil(t, resps[0].Message)
	assert.Equal(t, response.FallbackText, resps[0].Message.Text)
}

func TestProcessor_DropsAfterStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := &scriptedBackend{}
	d := &recordingDispatcher{}
	p, q, state := newProcessor(b, d, "")

	_, _ = q.Enqueue("late", "web")
	state.Stop()

	require.NoError(t, p.Run(context.Background()))
	assert.Empty(t, b.Queries())
	assert.Empty(t, d.Responses())
}

func TestProcessor_StopWakesIdleRun(t *testing.T) {
	defer goleak.VerifyNone(t)

	b := &scriptedBackend{}
	d := &recordingDispatcher{}
	p, q, state := newProcessor(b, d, "")

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	state.Stop()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}

	_, err := q.Enqueue("too late", "web")
	require.NoError(t, err, "the queue itself stays open")
	assert.Empty(t, b.Queries())
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.Validate()
	var cerr *ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "Backend", cerr.Field)

	cfg.Backend = &scriptedBackend{}
	assert.NoError(t, cfg.Validate())

	cfg.ShutdownGrace = -time.Second
	assert.ErrorAs(t, cfg.Validate(), &cerr)

	_, err = New(Config{}, nil)
	assert.ErrorAs(t, err, &cerr)
}

// runApp starts a, returning a channel that receives Run's result.
func runApp(a *App) <-chan error {
	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background()) }()
	return done
}

func waitDone(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("app did not stop")
	}
}

func TestApp_BottleScenario(t *testing.T) {
	defer goleak.VerifyNone(t)

	src := camera.NewMockSource([]byte("jpeg"))
	camCfg := camera.DefaultConfig()
	camCfg.Framerate = 100
	camCfg.DetectInterval = 10 * time.Millisecond
	capture := camera.NewCapture(src, camCfg, nil)
	detector := &vision.Mock{Detections: []vision.Detection{
		{Label: "bottle", Confidence: 0.93, Box: image.Rect(5, 5, 60, 200)},
		{Label: "cup", Confidence: 0.7, Box: image.Rect(70, 5, 120, 60)},
	}}
	speaker := &speech.MockSpeaker{}
	backend := &scriptedBackend{replies: map[string]string{
		"find the bottle": `{"Message":{"message_1":"Looking for the bottle."},` +
			`"Action":{"a1":{"skills":{"camera_enable":{},"object_detection":{"object":"bottle"}}}}}`,
	}}

	stdin, typed := io.Pipe()
	cfg := DefaultConfig()
	cfg.Toggles = server.Toggles{SpeechOutput: true}
	cfg.Backend = backend
	cfg.Speaker = speaker
	cfg.Capture = capture
	cfg.Detector = detector
	cfg.Stdin = stdin
	cfg.Stdout = io.Discard
	cfg.ShutdownGrace = time.Second

	a, err := New(cfg, nil)
	require.NoError(t, err)
	done := runApp(a)

	_, err = io.WriteString(typed, "find the bottle\n")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return capture.State() == camera.StateCapturing }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(detector.Calls()) >= 2 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, a.State().CameraEnabled())
	require.Eventually(t, func() bool { return len(speaker.Texts()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "Looking for the bottle.", speaker.Texts()[0])

	_, err = io.WriteString(typed, "quit\n")
	require.NoError(t, err)
	waitDone(t, done)
	typed.Close()

	assert.Equal(t, camera.StateIdle, capture.State())
	assert.False(t, a.State().CameraEnabled())
	opens, _, closes := src.Counts()
	assert.Equal(t, 1, opens)
	assert.Equal(t, 1, closes)
	for _, p := range detector.Calls() {
		assert.Equal(t, "bottle", p)
	}
}

func TestApp_QuitDropsPending(t *testing.T) {
	defer goleak.VerifyNone(t)

	backend := &scriptedBackend{gate: make(chan struct{})}
	stdin, typed := io.Pipe()
	cfg := DefaultConfig()
	cfg.Backend = backend
	cfg.Stdin = stdin
	cfg.Stdout = io.Discard

	a, err := New(cfg, nil)
	require.NoError(t, err)
	done := runApp(a)

	_, err = io.WriteString(typed, "first\nsecond\nthird\n")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(backend.Queries()) == 1 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return a.Queue().Len() == 2 }, time.Second, time.Millisecond)

	_, err = io.WriteString(typed, "quit\n")
	require.NoError(t, err)
	require.Eventually(t, a.State().Stopped, time.Second, time.Millisecond)

	_, err = a.Submit("after quit", "web")
	assert.ErrorIs(t, err, queue.ErrClosed, "nothing is accepted after quit")

	// The reply in flight is still delivered.
	backend.gate <- struct{}{}
	waitDone(t, done)
	typed.Close()

	assert.Equal(t, []string{"first"}, backend.Queries())
	assert.Zero(t, a.Queue().Len())
	assert.EqualValues(t, 1, backend.peak.Load())
}

func TestApp_VoiceInput(t *testing.T) {
	defer goleak.VerifyNone(t)

	backend := &scriptedBackend{}
	cfg := DefaultConfig()
	cfg.Toggles = server.Toggles{SpeechInput: true}
	cfg.Backend = backend
	cfg.Transcriber = speech.NewMockTranscriber("What time is it?", "Exit.")
	cfg.Voice.Cooldown = 0

	a, err := New(cfg, nil)
	require.NoError(t, err)
	done := runApp(a)

	waitDone(t, done)
	assert.True(t, a.State().Stopped())
	assert.LessOrEqual(t, len(backend.Queries()), 1)
	for _, q := range backend.Queries() {
		assert.Equal(t, "What time is it", q)
	}
}

func TestApp_ContextCancelStops(t *testing.T) {
	defer goleak.VerifyNone(t)

	stdin, typed := io.Pipe()
	cfg := DefaultConfig()
	cfg.Backend = &scriptedBackend{}
	cfg.Stdin = stdin
	cfg.Stdout = io.Discard

	a, err := New(cfg, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	waitDone(t, done)
	typed.Close()
	assert.True(t, a.State().Stopped())
}

func TestApp_SkillsWaitForGrace(t *testing.T) {
	defer goleak.VerifyNone(t)

	speaker := &speech.MockSpeaker{Delay: 5 * time.Second}
	backend := &scriptedBackend{}
	stdin, typed := io.Pipe()
	cfg := DefaultConfig()
	cfg.Toggles = server.Toggles{SpeechOutput: true}
	cfg.Backend = backend
	cfg.Speaker = speaker
	cfg.Stdin = stdin
	cfg.Stdout = io.Discard
	cfg.ShutdownGrace = 50 * time.Millisecond

	a, err := New(cfg, nil)
	require.NoError(t, err)
	done := runApp(a)

	_, _ = io.WriteString(typed, "talk to me\n")
	require.Eventually(t, func() bool { return len(speaker.Texts()) == 1 }, time.Second, time.Millisecond)
	assert.False(t, a.State().InputReady(), "input is gated while speaking")

	start := time.Now()
	_, _ = io.WriteString(typed, "exit\n")
	waitDone(t, done)
	typed.Close()

	assert.Less(t, time.Since(start), 2*time.Second, "long skills are cancelled after the grace")
	assert.True(t, a.State().InputReady())
}

func TestApp_WebBackend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend = &scriptedBackend{}
	cfg.Dashboard = "127.0.0.1:0"

	a, err := New(cfg, nil)
	require.NoError(t, err)

	_, err = a.CameraConfig()
	assert.ErrorIs(t, err, web.ErrNoCamera)
	_, err = a.UpdateCameraConfig(map[string]any{"width": 800})
	assert.ErrorIs(t, err, web.ErrNoCamera)

	q, err := a.Submit("hello", "web")
	require.NoError(t, err)
	assert.EqualValues(t, 1, q.Seq)

	st := a.Status()
	assert.Equal(t, 1, st.QueueLen)
	assert.Nil(t, st.Camera)
	assert.False(t, st.Stopping)

	a.publishExchange(Exchange{
		Query:    q,
		Response: response.Response{Message: &response.Message{Text: "hi"}},
	})
	conv := a.webServer.Conversation()
	require.Len(t, conv, 2)
	assert.Equal(t, "web", conv[0].Source)
	assert.Equal(t, "hi", conv[1].Message)

	a.Stop()
	assert.True(t, a.Status().Stopping)
	assert.True(t, a.Queue().Closed())
}

func TestApp_CameraConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend = &scriptedBackend{}
	cfg.Capture = camera.NewCapture(camera.NewMockSource(nil), camera.DefaultConfig(), nil)

	a, err := New(cfg, nil)
	require.NoError(t, err)

	got, err := a.UpdateCameraConfig(map[string]any{"width": 1280, "height": 720})
	require.NoError(t, err)
	assert.Equal(t, 1280, got.Width)

	_, err = a.UpdateCameraConfig(map[string]any{"width": 1})
	assert.Error(t, err)

	st := a.Status()
	require.NotNil(t, st.Camera)
	assert.Equal(t, "idle", st.Camera.State)
}

func TestApp_CameraFrameOverlay(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend = &scriptedBackend{}
	cfg.Dashboard = "127.0.0.1:0"
	var drawn []vision.Detection
	cfg.Annotate = func(frame []byte, dets []vision.Detection) ([]byte, error) {
		drawn = dets
		return append([]byte("boxed:"), frame...), nil
	}

	a, err := New(cfg, nil)
	require.NoError(t, err)

	assert.Equal(t, "raw", string(a.cameraFrame([]byte("raw"))), "no detections yet")

	bottle := vision.Detection{Box: image.Rect(1, 2, 30, 40), Label: "bottle", Confidence: 0.9}
	a.publishDetection("bottle", []vision.Detection{bottle})
	assert.Equal(t, "boxed:raw", string(a.cameraFrame([]byte("raw"))))
	assert.Equal(t, []vision.Detection{bottle}, drawn)

	events := a.webServer.Events()
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, "detection", last.Type)
	assert.Equal(t, []vision.Detection{bottle}, last.Detections)

	a.overlayMu.Lock()
	a.overlayAt = time.Now().Add(-overlayTTL - time.Second)
	a.overlayMu.Unlock()
	assert.Equal(t, "raw", string(a.cameraFrame([]byte("raw"))), "stale boxes are not drawn")

	a.publishDetection("bottle", nil)
	assert.Equal(t, "raw", string(a.cameraFrame([]byte("raw"))), "an empty pass clears the overlay")

	a.config.Annotate = func([]byte, []vision.Detection) ([]byte, error) { return nil, errors.New("bad jpeg") }
	a.publishDetection("bottle", []vision.Detection{bottle})
	assert.Equal(t, "raw", string(a.cameraFrame([]byte("raw"))), "annotation failures fall back to the raw frame")
}
