package inference

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// endpoint serves /chat/completions with handler and decodes each body.
func endpoint(t *testing.T, handler func(w http.ResponseWriter, p chatPayload)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		var p chatPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		handler(w, p)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func reply(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"model": "llama-3.3-70b-versatile",
		"choices": []any{map[string]any{
			"message":       map[string]any{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
		"usage": map[string]any{"prompt_tokens": 12, "completion_tokens": 4, "total_tokens": 16},
	})
}

func newTestClient(t *testing.T, url string, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{
		WithBaseURL(url),
		WithAPIKey("gsk-test"),
		WithRetry(2, time.Millisecond),
		WithLogger(quiet),
	}, opts...)
	c, err := NewClient(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClient_Chat(t *testing.T) {
	var auth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		var p chatPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		assert.Equal(t, "llama-3.3-70b-versatile", p.Model)
		assert.Equal(t, 1024, p.MaxTokens)
		require.NotNil(t, p.ResponseFormat)
		assert.Equal(t, "json_object", p.ResponseFormat.Type)
		require.Len(t, p.Messages, 2)
		assert.Equal(t, RoleSystem, p.Messages[0].Role)
		assert.Equal(t, "pick up the bottle", p.Messages[1].Content)
		reply(w, `{"Message":{"message_1":"On it."}}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL+"/")
	resp, err := c.Chat(context.Background(), &ChatRequest{
		Messages: []Message{NewSystemMessage("You are a robot."), NewUserMessage("pick up the bottle")},
		JSONMode: true,
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer gsk-test", auth.Load())
	assert.Equal(t, RoleAssistant, resp.Message.Role)
	assert.Equal(t, `{"Message":{"message_1":"On it."}}`, resp.Message.Content)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 16, resp.Usage.TotalTokens)
	assert.Equal(t, c.Name(), resp.Provider)
	assert.Positive(t, resp.Latency)
}

func TestClient_OmitsUnsetFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var raw map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		assert.NotContains(t, raw, "response_format")
		assert.NotContains(t, raw, "temperature")
		assert.Empty(t, r.Header.Get("Authorization"))
		reply(w, "plain")
	}))
	defer srv.Close()

	c, err := NewClient(WithBaseURL(srv.URL), WithTemperature(0), WithLogger(quiet))
	require.NoError(t, err)
	_, err = c.Chat(context.Background(), &ChatRequest{Messages: []Message{NewUserMessage("hi")}})
	require.NoError(t, err)
}

func TestClient_RetriesTemporaryFailures(t *testing.T) {
	var calls atomic.Int32
	srv := endpoint(t, func(w http.ResponseWriter, _ chatPayload) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		reply(w, "third time")
	})

	resp, err := newTestClient(t, srv.URL).Chat(context.Background(), &ChatRequest{Messages: []Message{NewUserMessage("x")}})
	require.NoError(t, err)
	assert.Equal(t, "third time", resp.Message.Content)
	assert.EqualValues(t, 3, calls.Load())
}

func TestClient_GivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	srv := endpoint(t, func(w http.ResponseWriter, _ chatPayload) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"tokens","code":"rate_limit_exceeded"}}`))
	})

	_, err := newTestClient(t, srv.URL).Chat(context.Background(), &ChatRequest{Messages: []Message{NewUserMessage("x")}})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.StatusCode)
	assert.Equal(t, "rate_limit_exceeded", apiErr.Code)
	assert.Equal(t, "slow down", apiErr.Message)
	assert.True(t, apiErr.Temporary())
	assert.EqualValues(t, 3, calls.Load())
}

func TestClient_NoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := endpoint(t, func(w http.ResponseWriter, _ chatPayload) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Invalid API Key","type":"invalid_request_error","code":"invalid_api_key"}}`))
	})

	_, err := newTestClient(t, srv.URL).Chat(context.Background(), &ChatRequest{Messages: []Message{NewUserMessage("x")}})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.True(t, apiErr.Unauthorized())
	assert.EqualValues(t, 1, calls.Load())
}

func TestClient_HonorsRetryAfter(t *testing.T) {
	var calls atomic.Int32
	var first, second atomic.Int64
	srv := endpoint(t, func(w http.ResponseWriter, _ chatPayload) {
		if calls.Add(1) == 1 {
			first.Store(time.Now().UnixNano())
			w.Header().Set("Retry-After", "0.2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		second.Store(time.Now().UnixNano())
		reply(w, "ok")
	})

	_, err := newTestClient(t, srv.URL).Chat(context.Background(), &ChatRequest{Messages: []Message{NewUserMessage("x")}})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Duration(second.Load()-first.Load()), 150*time.Millisecond)
}

func TestClient_RecoversFailedGeneration(t *testing.T) {
	srv := endpoint(t, func(w http.ResponseWriter, _ chatPayload) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Failed to generate JSON.","type":"invalid_request_error","code":"json_validate_failed","failed_generation":"{\"Message\": {\"message_1\": \"hi\",}}"}}`))
	})

	resp, err := newTestClient(t, srv.URL).Chat(context.Background(), &ChatRequest{
		Messages: []Message{NewUserMessage("x")},
		JSONMode: true,
	})
	require.NoError(t, err)
	assert.Equal(t, FinishRecovered, resp.FinishReason)
	assert.Equal(t, `{"Message": {"message_1": "hi",}}`, resp.Message.Content)
}

func TestClient_ContextCancelStopsRetries(t *testing.T) {
	srv := endpoint(t, func(w http.ResponseWriter, _ chatPayload) {
		w.Header().Set("Retry-After", "10")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	c := newTestClient(t, srv.URL, WithMaxRetryWait(time.Minute))
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.Chat(ctx, &ChatRequest{Messages: []Message{NewUserMessage("x")}})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestClient_NoChoices(t *testing.T) {
	srv := endpoint(t, func(w http.ResponseWriter, _ chatPayload) {
		_, _ = w.Write([]byte(`{"model":"m","choices":[]}`))
	})
	_, err := newTestClient(t, srv.URL).Chat(context.Background(), &ChatRequest{Messages: []Message{NewUserMessage("x")}})
	assert.ErrorContains(t, err, "no choices")
}

func TestNewClient_RequiresModel(t *testing.T) {
	_, err := NewClient(WithModel(""))
	assert.ErrorIs(t, err, ErrNoModel)
}

func TestClient_NameIsHost(t *testing.T) {
	c, err := NewClient(WithBaseURL(GroqBaseURL))
	require.NoError(t, err)
	assert.Equal(t, "api.groq.com", c.Name())
}

func TestBackoffCapped(t *testing.T) {
	c := &Client{cfg: Config{RetryDelay: 100 * time.Millisecond, MaxRetryWait: time.Second}}
	assert.Equal(t, 100*time.Millisecond, c.backoff(0, io.EOF))
	assert.Equal(t, 300*time.Millisecond, c.backoff(2, io.EOF))
	assert.Equal(t, time.Second, c.backoff(0, &APIError{RetryAfter: time.Hour}))
}
