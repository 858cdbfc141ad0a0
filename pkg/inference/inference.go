// Package inference talks to OpenAI-compatible chat completion endpoints
// (Groq, OpenAI, Ollama) on behalf of the reasoning agent.
//
// A Client covers one endpoint. A Chain puts a fallback endpoint behind
// the primary one:
//
//	primary, _ := inference.NewClient(inference.WithAPIKey(groqKey))
//	local, _ := inference.NewClient(
//	    inference.WithBaseURL(inference.OllamaBaseURL),
//	    inference.WithModel("llama3.2"),
//	)
//	llm, _ := inference.NewChain(logger, primary, local)
package inference

import (
	"context"
	"time"
)

// Provider answers chat requests.
type Provider interface {
	// Name identifies the provider in logs and errors.
	Name() string
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	Close() error
}

// Role is the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a conversation, in wire form.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

func NewSystemMessage(content string) Message { return Message{Role: RoleSystem, Content: content} }
func NewUserMessage(content string) Message { return Message{Role: RoleUser, Content: content} }
func NewAssistantMessage(content string) Message { return Message{Role: RoleAssistant, Content: content} }

// ChatRequest is one completion call. Zero MaxTokens and Temperature take
// the client defaults.
type ChatRequest struct {
	Messages    []Message
	Model       string
	MaxTokens   int
	Temperature float64

	// JSONMode asks for a single JSON object reply.
	JSONMode bool
}

// ChatResponse is the first choice of a completion.
type ChatResponse struct {
	Message      Message
	FinishReason string
	Model        string
	Provider     string
	Usage        Usage
	Latency      time.Duration
}

// FinishRecovered marks a reply taken from a JSON-mode validation error.
// The text is the model's raw output and may need repair.
const FinishRecovered = "json_validate_failed"

// Usage is the token accounting reported by the server.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
