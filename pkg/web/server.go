// Package web provides the real-time dashboard: runtime status, resource
// holders, the conversation, a live event feed, camera settings and a text
// box that submits queries to the shared queue.
package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/filesystem"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-neurobridge/pkg/camera"
	"github.com/teslashibe/go-neurobridge/pkg/hub"
	"github.com/teslashibe/go-neurobridge/pkg/queue"
	"github.com/teslashibe/go-neurobridge/pkg/resource"
	"github.com/teslashibe/go-neurobridge/pkg/server"
	"github.com/teslashibe/go-neurobridge/pkg/vision"
)

//go:embed static
var static embed.FS

// ErrNoCamera is returned by Backend camera methods when no camera is
// configured.
var ErrNoCamera = errors.New("web: no camera configured")

const (
	maxEvents       = 500
	maxConversation = 100
)

// Status is the dashboard view of the running agent.
type Status struct {
	Toggles    server.Toggles   `json:"toggles"`
	InputReady bool             `json:"input_ready"`
	Stopping   bool             `json:"stopping"`
	Processing bool             `json:"processing"`
	QueueLen   int              `json:"queue_len"`
	Resources  []resource.State `json:"resources"`
	Tasks      []string         `json:"tasks"`
	Camera     *camera.Snapshot `json:"camera,omitempty"`
	Uptime     string           `json:"uptime"`
}

// Backend is what the dashboard reads from and writes to.
type Backend interface {
	Status() Status
	Submit(text, source string) (queue.Query, error)
	Stop()
	CameraConfig() (camera.Config, error)
	UpdateCameraConfig(params map[string]any) (camera.Config, error)
}

// Event is one line of the live feed.
type Event struct {
	Time    time.Time `json:"time"`
	Type    string    `json:"type"` // query, response, skill, detection, error, info
	Message string    `json:"message"`

	// Detections carries the boxes of a detection event, in frame pixels.
	Detections []vision.Detection `json:"detections,omitempty"`
}

// ConversationEntry is one message in the conversation.
type ConversationEntry struct {
	Time    time.Time `json:"time"`
	Role    string    `json:"role"` // user, ai
	Source  string    `json:"source,omitempty"`
	Message string    `json:"message"`
}

// Server is the web dashboard server.
type Server struct {
	app     *fiber.App
	addr    string
	backend Backend
	logger  *slog.Logger

	events   []Event
	eventsMu sync.RWMutex

	conversation   []ConversationEntry
	conversationMu sync.RWMutex

	// Hubs for websocket broadcast
	statusHub *hub.Hub
	eventHub  *hub.Hub
	cameraHub *hub.Hub
}

// NewServer creates a dashboard listening on addr (e.g. ":8181").
func NewServer(addr string, backend Backend, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		addr:         addr,
		backend:      backend,
		logger:       logger.With("component", "web.server"),
		events:       make([]Event, 0, maxEvents),
		conversation: make([]ConversationEntry, 0, maxConversation),
		statusHub:    hub.New("status", logger),
		eventHub:     hub.New("events", logger),
		cameraHub:    hub.New("camera", logger, hub.WithBuffer(2), hub.Latest()),
	}
	s.statusHub.OnConnect = s.statusGreeting
	s.eventHub.OnConnect = s.eventGreeting

	app := fiber.New(fiber.Config{
		AppName:               "neurobridge dashboard",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
	})

	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/events", s.handleEvents)
	api.Get("/conversation", s.handleConversation)
	api.Post("/query", s.handleQuery)
	api.Get("/camera/config", s.handleGetCameraConfig)
	api.Put("/camera/config", s.handleUpdateCameraConfig)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/status", websocket.New(s.serveHub(s.statusHub)))
	app.Get("/ws/events", websocket.New(s.serveHub(s.eventHub)))
	app.Get("/ws/camera", websocket.New(s.serveHub(s.cameraHub)))

	root, _ := fs.Sub(static, "static")
	app.Use("/", filesystem.New(filesystem.Config{
		Root:  http.FS(root),
		Index: "index.html",
	}))

	s.app = app
	return s
}

// Run serves until ctx ends, then shuts the server down.
func (s *Server) Run(ctx context.Context) error {
	hubCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for _, h := range []*hub.Hub{s.statusHub, s.eventHub, s.cameraHub} {
		go h.Run(hubCtx)
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("dashboard listening", "addr", s.addr)
		errc <- s.app.Listen(s.addr)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), 3*time.Second)
	defer done()
	if err := s.app.ShutdownWithContext(shutdownCtx); err != nil {
		s.logger.Warn("dashboard shutdown", "error", err)
	}
	return nil
}

// PublishStatus broadcasts the current status.
func (s *Server) PublishStatus() {
	if err := s.statusHub.BroadcastJSON(s.backend.Status()); err != nil {
		s.logger.Warn("encode status", "error", err)
	}
}

// AddEvent records an event and broadcasts it.
func (s *Server) AddEvent(kind, message string) {
	s.addEvent(Event{Time: time.Now(), Type: kind, Message: message})
}

// AddDetection records a detection event with its boxes.
func (s *Server) AddDetection(message string, dets []vision.Detection) {
	s.addEvent(Event{Time: time.Now(), Type: "detection", Message: message, Detections: dets})
}

func (s *Server) addEvent(entry Event) {
	s.eventsMu.Lock()
	s.events = append(s.events, entry)
	if len(s.events) > maxEvents {
		s.events = s.events[1:]
	}
	s.eventsMu.Unlock()

	if msg, err := hub.NewEnvelope("event", entry); err == nil {
		s.eventHub.Broadcast(msg)
	}
}

// AddConversation records a conversation entry and broadcasts it.
func (s *Server) AddConversation(role, source, message string) {
	entry := ConversationEntry{Time: time.Now(), Role: role, Source: source, Message: message}

	s.conversationMu.Lock()
	s.conversation = append(s.conversation, entry)
	if len(s.conversation) > maxConversation {
		s.conversation = s.conversation[1:]
	}
	s.conversationMu.Unlock()

	if msg, err := hub.NewEnvelope("conversation", entry); err == nil {
		s.eventHub.Broadcast(msg)
	}
}

// SendCameraFrame sends a JPEG frame to every camera viewer.
func (s *Server) SendCameraFrame(jpeg []byte) {
	if s.cameraHub.ClientCount() == 0 {
		return
	}
	s.cameraHub.BroadcastBinary(jpeg)
}

// Events returns a copy of the recorded events.
func (s *Server) Events() []Event {
	s.eventsMu.RLock()
	defer s.eventsMu.RUnlock()
	return append([]Event(nil), s.events...)
}

// Conversation returns a copy of the recorded conversation.
func (s *Server) Conversation() []ConversationEntry {
	s.conversationMu.RLock()
	defer s.conversationMu.RUnlock()
	return append([]ConversationEntry(nil), s.conversation...)
}

func (s *Server) statusGreeting() []hub.Message {
	data, err := json.Marshal(s.backend.Status())
	if err != nil {
		return nil
	}
	return []hub.Message{hub.NewJSONMessage(data)}
}

// eventGreeting replays the tail of the feed to a new client.
func (s *Server) eventGreeting() []hub.Message {
	events := s.Events()
	if len(events) > 100 {
		events = events[len(events)-100:]
	}
	var out []hub.Message
	for _, e := range events {
		if msg, err := hub.NewEnvelope("event", e); err == nil {
			out = append(out, msg)
		}
	}
	return out
}
