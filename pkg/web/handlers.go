package web

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-neurobridge/pkg/hub"
	"github.com/teslashibe/go-neurobridge/pkg/input"
	"github.com/teslashibe/go-neurobridge/pkg/queue"
)

// QueryRequest is the body of POST /api/query.
type QueryRequest struct {
	Text string `json:"text"`
}

// handleStatus returns the current status
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.backend.Status())
}

// handleEvents returns recent events
func (s *Server) handleEvents(c *fiber.Ctx) error {
	return c.JSON(s.Events())
}

// handleConversation returns the recent conversation
func (s *Server) handleConversation(c *fiber.Ctx) error {
	return c.JSON(s.Conversation())
}

// handleQuery is the web input collector. The exit words stop the agent
// like they do on the terminal.
func (s *Server) handleQuery(c *fiber.Ctx) error {
	var req QueryRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "text is required"})
	}

	if input.IsExit(text) {
		s.logger.Info("exit requested from dashboard")
		s.backend.Stop()
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"stopping": true})
	}

	q, err := s.backend.Submit(text, input.SourceWeb)
	if errors.Is(err, queue.ErrClosed) {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "shutting down"})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"seq": q.Seq})
}

func (s *Server) handleGetCameraConfig(c *fiber.Ctx) error {
	cfg, err := s.backend.CameraConfig()
	if errors.Is(err, ErrNoCamera) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(cfg)
}

// handleUpdateCameraConfig applies a partial update. The new values take
// effect at the next capture session.
func (s *Server) handleUpdateCameraConfig(c *fiber.Ctx) error {
	var params map[string]any
	if err := c.BodyParser(&params); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}
	cfg, err := s.backend.UpdateCameraConfig(params)
	switch {
	case errors.Is(err, ErrNoCamera):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	case err != nil:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	s.AddEvent("info", "camera config updated")
	return c.JSON(cfg)
}

// serveHub registers a websocket connection with h for its lifetime.
func (s *Server) serveHub(h *hub.Hub) func(*websocket.Conn) {
	return func(conn *websocket.Conn) {
		client := hub.NewClient(h, conn)
		if client == nil {
			conn.Close()
			return
		}
		client.Run()
	}
}
