package tts

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

const openAISpeechURL = "https://api.openai.com/v1/audio/speech"

// OpenAI voices and models.
const (
	VoiceAlloy   = "alloy"
	VoiceNova    = "nova"
	VoiceShimmer = "shimmer"

	ModelTTS1   = "tts-1"
	ModelTTS1HD = "tts-1-hd"
)

// OpenAI synthesizes through /audio/speech. Output is always 24kHz PCM so
// it plays through the same path as ElevenLabs.
type OpenAI struct {
	cfg    Config
	client *synthClient
}

// NewOpenAI needs an API key. BaseURL, when set, is the full speech
// endpoint.
func NewOpenAI(opts ...Option) (*OpenAI, error) {
	base := defaultConfig()
	base.ModelID = ModelTTS1
	base.VoiceID = VoiceShimmer
	base.BaseURL = openAISpeechURL
	cfg := newConfig(base, opts)
	cfg.OutputFormat = EncodingPCM24

	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	if cfg.VoiceID == "" {
		cfg.VoiceID = VoiceShimmer
	}

	header := http.Header{"Authorization": {"Bearer " + cfg.APIKey}}
	return &OpenAI{cfg: cfg, client: newSynthClient("openai", cfg, header, openAIDetail)}, nil
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) Synthesize(ctx context.Context, text string) (*AudioResult, error) {
	if err := checkText(o.Name(), text); err != nil {
		return nil, err
	}
	start := time.Now()

	audio, err := o.client.synthesize(ctx, o.cfg.BaseURL, openAIRequest{
		Model:  o.cfg.ModelID,
		Voice:  o.cfg.VoiceID,
		Input:  text,
		Format: "pcm",
		Speed:  o.cfg.VoiceSettings.Speed,
	})
	if err != nil {
		return nil, err
	}
	return o.client.result(text, audio, formatFor(EncodingPCM24), start), nil
}

func (o *OpenAI) Close() error {
	o.client.http.CloseIdleConnections()
	return nil
}

type openAIRequest struct {
	Model  string  `json:"model"`
	Voice  string  `json:"voice"`
	Input  string  `json:"input"`
	Format string  `json:"response_format"`
	Speed  float64 `json:"speed,omitempty"`
}

func openAIDetail(body string) string {
	var e struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal([]byte(body), &e) == nil {
		return e.Error.Message
	}
	return ""
}

var _ Provider = (*OpenAI)(nil)
