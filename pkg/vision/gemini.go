package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/teslashibe/go-neurobridge/internal/httpc"
)

// DefaultGeminiURL is the generateContent endpoint base.
const DefaultGeminiURL = "https://generativelanguage.googleapis.com/v1beta/models"

// DefaultGeminiModel is a fast model with bounding-box support.
const DefaultGeminiModel = "gemini-2.0-flash"

// ErrNoAPIKey is returned when the Gemini key is missing.
var ErrNoAPIKey = errors.New("vision: GOOGLE_API_KEY not set")

// GeminiDetector asks Gemini for bounding boxes of the prompted objects.
// Gemini reports boxes as [ymin, xmin, ymax, xmax] on a 0-1000 grid.
type GeminiDetector struct {
	APIKey  string
	Model   string
	BaseURL string

	client *http.Client
	logger *slog.Logger
}

// NewGeminiDetector creates a detector with default endpoint and model.
func NewGeminiDetector(apiKey string, logger *slog.Logger) (*GeminiDetector, error) {
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GeminiDetector{
		APIKey:  apiKey,
		Model:   DefaultGeminiModel,
		BaseURL: DefaultGeminiURL,
		client:  httpc.NewClient(15 * time.Second),
		logger:  logger.With("component", "vision.gemini"),
	}, nil
}

// DetectObjects implements Detector.
func (g *GeminiDetector) DetectObjects(ctx context.Context, frame []byte, prompt string) ([]Detection, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	instruction := fmt.Sprintf(
		"Detect every %s in the image. Reply with a JSON array only. "+
			`Each element: {"box_2d": [ymin, xmin, ymax, xmax], "label": "<name>", "confidence": <0-1>}, `+
			"box coordinates normalized to 0-1000.", prompt)

	payload := map[string]any{
		"contents": []map[string]any{
			{
				"parts": []map[string]any{
					{"text": instruction},
					{"inline_data": map[string]string{
						"mime_type": "image/jpeg",
						"data":      base64.StdEncoding.EncodeToString(frame),
					}},
				},
			},
		},
		"generationConfig": map[string]any{
			"temperature":      0.1,
			"maxOutputTokens":  1000,
			"responseMimeType": "application/json",
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/%s:generateContent?key=%s",
		strings.TrimSuffix(g.BaseURL, "/"), g.Model, url.QueryEscape(g.APIKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("Gemini API error (status %d): %s", resp.StatusCode, truncate(string(bodyBytes), 200))
	}

	var result geminiResponse
	if err := json.Unmarshal(bodyBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w (body: %s)", err, truncate(string(bodyBytes), 200))
	}
	if result.Error.Message != "" {
		return nil, fmt.Errorf("Gemini error: %s", result.Error.Message)
	}
	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		return nil, nil
	}

	text := result.Candidates[0].Content.Parts[0].Text
	var boxes []geminiBox
	if err := json.Unmarshal([]byte(stripFence(text)), &boxes); err != nil {
		return nil, fmt.Errorf("decode boxes: %w (text: %s)", err, truncate(text, 200))
	}

	dets := make([]Detection, 0, len(boxes))
	for _, b := range boxes {
		if len(b.Box) != 4 {
			g.logger.Debug("skipping malformed box", "label", b.Label)
			continue
		}
		conf := b.Confidence
		if conf <= 0 {
			conf = 1
		}
		dets = append(dets, Detection{
			Box: image.Rect(
				scale(b.Box[1], cfg.Width), scale(b.Box[0], cfg.Height),
				scale(b.Box[3], cfg.Width), scale(b.Box[2], cfg.Height),
			),
			Confidence: conf,
			Label:      b.Label,
		})
	}
	return dets, nil
}

type geminiBox struct {
	Box        []float64 `json:"box_2d"`
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
}

// geminiResponse is the response structure from Gemini API.
type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func scale(v float64, size int) int {
	return int(v / 1000 * float64(size))
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// truncate shortens a string to maxLen characters.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
