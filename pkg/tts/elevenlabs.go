package tts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const elevenLabsBaseURL = "https://api.elevenlabs.io/v1"

// ElevenLabs model IDs.
const (
	ModelFlashV2        = "eleven_flash_v2"
	ModelFlashV2_5      = "eleven_flash_v2_5"
	ModelTurboV2_5      = "eleven_turbo_v2_5"
	ModelMultilingualV2 = "eleven_multilingual_v2"
)

// ElevenLabs synthesizes with a single configured voice.
type ElevenLabs struct {
	cfg      Config
	endpoint string
	client   *synthClient
}

// NewElevenLabs needs an API key and a voice ID. Output defaults to 24kHz
// PCM with the flash model.
func NewElevenLabs(opts ...Option) (*ElevenLabs, error) {
	base := defaultConfig()
	base.ModelID = ModelFlashV2
	base.BaseURL = elevenLabsBaseURL
	cfg := newConfig(base, opts)

	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	if cfg.VoiceID == "" {
		return nil, ErrNoVoiceID
	}

	q := url.Values{"output_format": {string(cfg.OutputFormat)}}
	endpoint := strings.TrimSuffix(cfg.BaseURL, "/") + "/text-to-speech/" + url.PathEscape(cfg.VoiceID) + "?" + q.Encode()

	return &ElevenLabs{
		cfg:      cfg,
		endpoint: endpoint,
		client:   newSynthClient("elevenlabs", cfg, http.Header{"Xi-Api-Key": {cfg.APIKey}}, elevenLabsDetail),
	}, nil
}

func (e *ElevenLabs) Name() string { return "elevenlabs" }

// VoiceID is the voice every utterance is spoken in.
func (e *ElevenLabs) VoiceID() string { return e.cfg.VoiceID }

func (e *ElevenLabs) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	if err := checkText(e.Name(), text); err != nil {
		return nil, err
	}
	start := time.Now()

	vs := e.cfg.VoiceSettings
	audio, err := e.client.synthesize(ctx, e.endpoint, elevenLabsRequest{
		Text:    text,
		ModelID: e.cfg.ModelID,
		VoiceSettings: elevenLabsVoice{
			Stability:       vs.Stability,
			SimilarityBoost: vs.SimilarityBoost,
			Style:           vs.Style,
			Speed:           vs.Speed,
			SpeakerBoost:    vs.SpeakerBoost,
		},
	})
	if err != nil {
		return nil, err
	}
	return e.client.result(text, audio, formatFor(e.cfg.OutputFormat), start), nil
}

func (e *ElevenLabs) Close() error {
	e.client.http.CloseIdleConnections()
	return nil
}

type elevenLabsRequest struct {
	Text          string          `json:"text"`
	ModelID       string          `json:"model_id"`
	VoiceSettings elevenLabsVoice `json:"voice_settings"`
}

type elevenLabsVoice struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	Speed           float64 `json:"speed"`
	SpeakerBoost    bool    `json:"use_speaker_boost"`
}

// elevenLabsDetail reads {"detail":{"message":...}}. Validation errors
// send detail as a string instead.
func elevenLabsDetail(body string) string {
	var e struct {
		Detail json.RawMessage `json:"detail"`
	}
	if json.Unmarshal([]byte(body), &e) != nil || len(e.Detail) == 0 {
		return ""
	}
	var obj struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(e.Detail, &obj) == nil && obj.Message != "" {
		return obj.Message
	}
	var s string
	if json.Unmarshal(e.Detail, &s) == nil {
		return s
	}
	return ""
}

var _ Provider = (*ElevenLabs)(nil)
