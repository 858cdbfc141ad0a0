package speech

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-neurobridge/pkg/audio"
)

const (
	RealtimeURL   = "wss://api.openai.com/v1/realtime"
	RealtimeModel = "gpt-4o-realtime-preview-2024-12-17"

	// realtimeRate is the only input rate the API accepts for pcm16.
	realtimeRate = 24000
)

// ErrNoAPIKey is returned when the realtime key is missing.
var ErrNoAPIKey = errors.New("speech: OPENAI_API_KEY not set")

// RealtimeTranscriber opens a realtime session per utterance, streams the
// microphone into it and returns the first completed transcript. Server
// side VAD decides where the utterance ends.
type RealtimeTranscriber struct {
	URL   string
	Model string

	// MaxListen bounds one ListenAndTranscribe call.
	MaxListen time.Duration

	apiKey   string
	recorder Recorder
	dialer   websocket.Dialer
	logger   *slog.Logger
}

// NewRealtimeTranscriber creates a transcriber reading from recorder.
func NewRealtimeTranscriber(apiKey string, recorder Recorder, logger *slog.Logger) (*RealtimeTranscriber, error) {
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RealtimeTranscriber{
		URL:       RealtimeURL,
		Model:     RealtimeModel,
		MaxListen: 30 * time.Second,
		apiKey:    apiKey,
		recorder:  recorder,
		dialer:    websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger:    logger.With("component", "speech.realtime"),
	}, nil
}

// ListenAndTranscribe implements Transcriber. It returns an empty string
// when the session ends without speech.
func (t *RealtimeTranscriber) ListenAndTranscribe(ctx context.Context) (string, error) {
	if t.MaxListen > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.MaxListen)
		defer cancel()
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+t.apiKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	conn, _, err := t.dialer.DialContext(ctx, fmt.Sprintf("%s?model=%s", t.URL, t.Model), header)
	if err != nil {
		return "", fmt.Errorf("connect realtime: %w", err)
	}
	defer conn.Close()

	var wmu sync.Mutex
	send := func(v any) error {
		wmu.Lock()
		defer wmu.Unlock()
		return conn.WriteJSON(v)
	}

	if err := send(sessionUpdate()); err != nil {
		return "", fmt.Errorf("configure session: %w", err)
	}

	streamCtx, stopStream := context.WithCancel(ctx)
	recDone := make(chan error, 1)
	go func() {
		rs := audio.NewResampler(t.recorder.SampleRate(), realtimeRate)
		recDone <- t.recorder.Stream(streamCtx, func(chunk []byte) error {
			chunk = rs.Bytes(chunk)
			if len(chunk) == 0 {
				return nil
			}
			return send(map[string]string{
				"type":  "input_audio_buffer.append",
				"audio": base64.StdEncoding.EncodeToString(chunk),
			})
		})
	}()
	defer func() {
		stopStream()
		if err := <-recDone; err != nil && !errors.Is(err, context.Canceled) {
			t.logger.Debug("recorder ended", "error", err)
		}
	}()

	// ReadMessage does not take a context; closing the connection
	// unblocks it.
	go func() {
		<-streamCtx.Done()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					return "", nil
				}
				return "", ctx.Err()
			}
			return "", fmt.Errorf("read realtime: %w", err)
		}

		var ev realtimeEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}

		switch ev.Type {
		case "input_audio_buffer.speech_started":
			t.logger.Debug("speech started")
		case "input_audio_buffer.speech_stopped":
			t.logger.Debug("speech stopped")
		case "conversation.item.input_audio_transcription.completed":
			return ev.Transcript, nil
		case "conversation.item.input_audio_transcription.failed", "error":
			msg := "unknown error"
			if ev.Error != nil && ev.Error.Message != "" {
				msg = ev.Error.Message
			}
			return "", fmt.Errorf("realtime %s: %s", ev.Type, msg)
		}
	}
}

type realtimeEvent struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript"`
	Error      *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

// sessionUpdate configures transcription only: server VAD segments the
// audio and no model response is generated.
func sessionUpdate() map[string]any {
	return map[string]any{
		"type": "session.update",
		"session": map[string]any{
			"modalities":         []string{"text"},
			"input_audio_format": "pcm16",
			"input_audio_transcription": map[string]any{
				"model": "whisper-1",
			},
			"turn_detection": map[string]any{
				"type":                "server_vad",
				"threshold":           0.5,
				"prefix_padding_ms":   300,
				"silence_duration_ms": 500,
				"create_response":     false,
			},
		},
	}
}

var _ Transcriber = (*RealtimeTranscriber)(nil)
