package inference

import (
	"context"
	"errors"
	"sync"
)

// Mock is a scripted Provider for tests.
type Mock struct {
	// ChatFunc answers each request. Nil fails every call.
	ChatFunc func(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// ProviderName defaults to "mock".
	ProviderName string

	mu       sync.Mutex
	requests []*ChatRequest
	closed   bool
}

// NewMock answers every request with content.
func NewMock(content string) *Mock {
	return &Mock{ChatFunc: func(context.Context, *ChatRequest) (*ChatResponse, error) {
		return &ChatResponse{
			Message:      NewAssistantMessage(content),
			FinishReason: "stop",
			Provider:     "mock",
			Usage:        Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		}, nil
	}}
}

// WithError fails every request with err.
func WithError(err error) *Mock {
	return &Mock{ChatFunc: func(context.Context, *ChatRequest) (*ChatResponse, error) {
		return nil, err
	}}
}

func (m *Mock) Name() string {
	if m.ProviderName == "" {
		return "mock"
	}
	return m.ProviderName
}

func (m *Mock) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	if m.ChatFunc == nil {
		return nil, errors.New("inference: mock has no ChatFunc")
	}
	return m.ChatFunc(ctx, req)
}

func (m *Mock) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Requests returns the requests received so far.
func (m *Mock) Requests() []*ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*ChatRequest(nil), m.requests...)
}

// Calls is len(Requests()).
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Closed reports whether Close was called.
func (m *Mock) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

var _ Provider = (*Mock)(nil)
