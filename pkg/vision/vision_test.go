package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchesPrompt(t *testing.T) {
	tests := []struct {
		label, prompt string
		want          bool
	}{
		{"bottle", "bottle", true},
		{"wine bottle", "bottle", true},
		{"Bottle", "BOTTLE", true},
		{"bottle", "bottles", true},
		{"bottleneck", "bottle", false},
		{"cup", "bottle", false},
		{"cup", "bottle, cup", true},
		{"anything", "object", true},
		{"anything", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.label+"/"+tt.prompt, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchesPrompt(tt.label, tt.prompt))
		})
	}
}

func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, h/2, color.White)
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestGeminiDetector_DetectObjects(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-2.0-flash:generateContent", r.URL.Path)
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		contents := req["contents"].([]any)
		parts := contents[0].(map[string]any)["parts"].([]any)
		assert.True(t, strings.Contains(parts[0].(map[string]any)["text"].(string), "bottle"))

		boxes := "```json\n[{\"box_2d\": [100, 250, 500, 750], \"label\": \"bottle\", \"confidence\": 0.9}, {\"box_2d\": [1, 2], \"label\": \"bad\"}]\n```"
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []any{
				map[string]any{"content": map[string]any{"parts": []any{map[string]any{"text": boxes}}}},
			},
		})
	}))
	defer server.Close()

	d, err := NewGeminiDetector("test-key", nil)
	require.NoError(t, err)
	d.BaseURL = server.URL + "/models"

	dets, err := d.DetectObjects(context.Background(), testJPEG(t, 200, 100), "bottle")
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, "bottle", dets[0].Label)
	assert.Equal(t, 0.9, dets[0].Confidence)
	assert.Equal(t, image.Rect(50, 10, 150, 50), dets[0].Box)
}

func TestGeminiDetector_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"quota"}}`))
	}))
	defer server.Close()

	d, err := NewGeminiDetector("k", nil)
	require.NoError(t, err)
	d.BaseURL = server.URL

	_, err = d.DetectObjects(context.Background(), testJPEG(t, 10, 10), "cup")
	assert.ErrorContains(t, err, "status 429")
}

func TestGeminiDetector_BadFrame(t *testing.T) {
	d, err := NewGeminiDetector("k", nil)
	require.NoError(t, err)
	_, err = d.DetectObjects(context.Background(), []byte("not a jpeg"), "cup")
	assert.ErrorContains(t, err, "decode frame")
}

func TestNewGeminiDetector_NoKey(t *testing.T) {
	_, err := NewGeminiDetector("", nil)
	assert.ErrorIs(t, err, ErrNoAPIKey)
}
