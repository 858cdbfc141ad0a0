// Package reasoning turns a user query into the raw JSON reply the robot
// acts on. Agent keeps a short per-session history in memory and sends it,
// behind a composed system prompt, to a chat completion provider.
package reasoning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/teslashibe/go-neurobridge/pkg/inference"
)

// Backend answers one query within a conversation session.
type Backend interface {
	Query(ctx context.Context, text, sessionID string) (string, error)
}

// DefaultSession is used when the caller has no session of its own.
const DefaultSession = "default_thread"

// ErrEmptyReply is returned when the provider answers with no content.
var ErrEmptyReply = errors.New("reasoning: empty reply")

// PromptFiles locate the parts of the system prompt. They are joined in
// this order with a blank line between them.
type PromptFiles struct {
	Hardware    string `yaml:"hardware"`
	Template    string `yaml:"template"`
	Personality string `yaml:"personality"`
}

// DefaultPromptFiles returns the layout shipped under prompts/.
func DefaultPromptFiles() PromptFiles {
	return PromptFiles{
		Hardware:    "prompts/hardware_specs.txt",
		Template:    "prompts/message_template.txt",
		Personality: "prompts/personality_robot_friendly.txt",
	}
}

// LoadSystemPrompt reads and joins the prompt files. Missing or unreadable
// files are logged and skipped.
func LoadSystemPrompt(files PromptFiles, logger *slog.Logger) string {
	if logger == nil {
		logger = slog.Default()
	}
	var parts []string
	for _, f := range []struct{ name, path string }{
		{"hardware", files.Hardware},
		{"template", files.Template},
		{"personality", files.Personality},
	} {
		if f.path == "" {
			continue
		}
		data, err := os.ReadFile(f.path)
		if err != nil {
			logger.Warn("prompt file unavailable", "part", f.name, "path", f.path, "error", err)
			continue
		}
		if text := strings.TrimSpace(string(data)); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n")
}

// Agent is a Backend over an inference.Provider.
type Agent struct {
	provider     inference.Provider
	systemPrompt string
	maxTurns     int
	jsonMode     bool
	logger       *slog.Logger

	mu       sync.Mutex
	sessions map[string][]inference.Message
}

// Option configures an Agent.
type Option func(*Agent)

// WithMaxTurns bounds how many question/answer pairs each session keeps.
// Zero keeps no history.
func WithMaxTurns(n int) Option {
	return func(a *Agent) { a.maxTurns = n }
}

// WithJSONMode asks the provider for a JSON object reply.
func WithJSONMode(on bool) Option {
	return func(a *Agent) { a.jsonMode = on }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) { a.logger = l }
}

// NewAgent creates an agent with the given system prompt.
func NewAgent(provider inference.Provider, systemPrompt string, opts ...Option) *Agent {
	a := &Agent{
		provider:     provider,
		systemPrompt: systemPrompt,
		maxTurns:     20,
		logger:       slog.Default(),
		sessions:     make(map[string][]inference.Message),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("component", "reasoning.agent")
	return a
}

// Query implements Backend. History is only extended when the provider
// answers, so a failed call leaves the session unchanged.
func (a *Agent) Query(ctx context.Context, text, sessionID string) (string, error) {
	if sessionID == "" {
		sessionID = DefaultSession
	}

	a.mu.Lock()
	history := append([]inference.Message(nil), a.sessions[sessionID]...)
	a.mu.Unlock()

	messages := make([]inference.Message, 0, len(history)+2)
	if a.systemPrompt != "" {
		messages = append(messages, inference.NewSystemMessage(a.systemPrompt))
	}
	messages = append(messages, history...)
	user := inference.NewUserMessage(text)
	messages = append(messages, user)

	resp, err := a.provider.Chat(ctx, &inference.ChatRequest{
		Messages: messages,
		JSONMode: a.jsonMode,
	})
	if err != nil {
		return "", fmt.Errorf("query: %w", err)
	}

	reply := strings.TrimSpace(resp.Message.Content)
	if reply == "" {
		return "", ErrEmptyReply
	}

	a.logger.Debug("reply received",
		"session", sessionID,
		"provider", resp.Provider,
		"latency_ms", resp.Latency.Milliseconds(),
		"tokens", resp.Usage.TotalTokens,
	)
	if resp.FinishReason == inference.FinishRecovered {
		a.logger.Info("reply failed server-side JSON validation, passing it on for repair", "session", sessionID)
	}

	a.remember(sessionID, user, inference.NewAssistantMessage(reply))
	return reply, nil
}

func (a *Agent) remember(sessionID string, turn ...inference.Message) {
	if a.maxTurns <= 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	h := append(a.sessions[sessionID], turn...)
	if limit := a.maxTurns * 2; len(h) > limit {
		h = append([]inference.Message(nil), h[len(h)-limit:]...)
	}
	a.sessions[sessionID] = h
}

// History returns a copy of a session's remembered messages.
func (a *Agent) History(sessionID string) []inference.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]inference.Message(nil), a.sessions[sessionID]...)
}

// Clear forgets every session.
func (a *Agent) Clear() {
	a.mu.Lock()
	a.sessions = make(map[string][]inference.Message)
	a.mu.Unlock()
}

var _ Backend = (*Agent)(nil)
