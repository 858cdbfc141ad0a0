package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/teslashibe/go-neurobridge/internal/httpc"
)

// Client is a Provider for one OpenAI-compatible endpoint.
type Client struct {
	cfg    Config
	name   string
	url    string
	header http.Header
	http   *http.Client
	logger *slog.Logger
}

// NewClient builds a client from DefaultConfig and opts.
func NewClient(opts ...Option) (*Client, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Model == "" {
		return nil, ErrNoModel
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	base := strings.TrimSuffix(cfg.BaseURL, "/")
	name := base
	if u, err := url.Parse(base); err == nil && u.Host != "" {
		name = u.Host
	}

	header := http.Header{}
	if cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+cfg.APIKey)
	}

	return &Client{
		cfg:    cfg,
		name:   name,
		url:    base + "/chat/completions",
		header: header,
		http:   httpc.NewClient(cfg.Timeout),
		logger: cfg.Logger.With("component", "inference.client", "provider", name),
	}, nil
}

// Name is the endpoint host.
func (c *Client) Name() string { return c.name }

// Model is the default model.
func (c *Client) Model() string { return c.cfg.Model }

// Chat posts the request, retrying temporary failures. A JSON-mode
// validation failure that carries the rejected generation is returned as
// a reply with FinishReason FinishRecovered.
func (c *Client) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	start := time.Now()
	payload := c.payload(req)

	var err error
	for attempt := 0; ; attempt++ {
		var resp *ChatResponse
		resp, err = c.once(ctx, payload)
		if err == nil {
			resp.Latency = time.Since(start)
			c.logger.Debug("chat complete",
				"model", resp.Model,
				"latency_ms", resp.Latency.Milliseconds(),
				"tokens", resp.Usage.TotalTokens,
				"attempts", attempt+1,
			)
			return resp, nil
		}

		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.FailedGeneration != "" {
			c.logger.Warn("json validation failed, using raw generation", "code", apiErr.Code)
			return &ChatResponse{
				Message:      NewAssistantMessage(apiErr.FailedGeneration),
				FinishReason: FinishRecovered,
				Model:        payload.Model,
				Provider:     c.name,
				Latency:      time.Since(start),
			}, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt >= c.cfg.Retries || !isTemporary(err) {
			return nil, err
		}

		wait := c.backoff(attempt, err)
		c.logger.Warn("chat failed, retrying", "attempt", attempt+1, "wait", wait, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Close drops idle connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

func (c *Client) once(ctx context.Context, payload chatPayload) (*ChatResponse, error) {
	resp, err := httpc.SendJSON(ctx, c.http, http.MethodPost, c.url, payload, c.header)
	if err != nil {
		var se *httpc.StatusError
		if errors.As(err, &se) {
			return nil, c.apiError(se)
		}
		return nil, fmt.Errorf("inference %s: %w", c.name, err)
	}
	defer resp.Body.Close()

	var body chatCompletion
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("inference %s: decode response: %w", c.name, err)
	}
	if len(body.Choices) == 0 {
		return nil, fmt.Errorf("inference %s: no choices in response", c.name)
	}

	choice := body.Choices[0]
	return &ChatResponse{
		Message:      NewAssistantMessage(choice.Message.Content),
		FinishReason: choice.FinishReason,
		Model:        body.Model,
		Provider:     c.name,
		Usage:        body.Usage,
	}, nil
}

func (c *Client) payload(req *ChatRequest) chatPayload {
	p := chatPayload{
		Model:       req.Model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if p.Model == "" {
		p.Model = c.cfg.Model
	}
	if p.MaxTokens == 0 {
		p.MaxTokens = c.cfg.MaxTokens
	}
	if p.Temperature == 0 {
		p.Temperature = c.cfg.Temperature
	}
	if req.JSONMode {
		p.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	return p
}

func (c *Client) backoff(attempt int, err error) time.Duration {
	wait := c.cfg.RetryDelay * time.Duration(attempt+1)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
		wait = apiErr.RetryAfter
	}
	if c.cfg.MaxRetryWait > 0 && wait > c.cfg.MaxRetryWait {
		wait = c.cfg.MaxRetryWait
	}
	return wait
}

func (c *Client) apiError(se *httpc.StatusError) *APIError {
	e := &APIError{
		Provider:   c.name,
		StatusCode: se.StatusCode,
		Message:    se.Body,
		RetryAfter: httpc.RetryAfter(se.Header.Get("Retry-After"), time.Now()),
	}
	var body errorBody
	if json.Unmarshal([]byte(se.Body), &body) == nil && body.Error.Message != "" {
		e.Message = body.Error.Message
		e.Type = body.Error.Type
		e.FailedGeneration = body.Error.FailedGeneration
		if body.Error.Code != nil {
			e.Code = fmt.Sprint(body.Error.Code)
		}
	}
	return e
}

type chatPayload struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    float64         `json:"temperature,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatCompletion struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

type errorBody struct {
	Error struct {
		Message          string `json:"message"`
		Type             string `json:"type"`
		Code             any    `json:"code"`
		FailedGeneration string `json:"failed_generation"`
	} `json:"error"`
}

var _ Provider = (*Client)(nil)
