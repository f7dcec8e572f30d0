// Package elevenlabs is the HTTP client for the ElevenLabs text-to-speech API.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/deneee3444-wq/api/internal/config"
	"github.com/deneee3444-wq/api/pkg/models"
)

var (
	ErrNotConfigured = errors.New("elevenlabs api key not configured")
	ErrAPI           = errors.New("elevenlabs api error")
	ErrUnreachable   = errors.New("elevenlabs unreachable")
)

// Defaults applied to unset request fields.
const (
	DefaultVoiceID         = "EXAVITQu4vr4xnSDxMaL"
	DefaultModelID         = "eleven_multilingual_v2"
	DefaultStability       = 0.5
	DefaultSimilarityBoost = 0.75
)

// Client implements models.SpeechSynthesizer.
type Client struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewClient(cfg config.ElevenLabsConfig) *Client {
	return &Client{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

// Configured reports whether an API key is present.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

// Synthesize renders text to MPEG audio in a single call.
func (c *Client) Synthesize(ctx context.Context, req models.SpeechRequest) ([]byte, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	settings := voiceSettings{
		Stability:       req.Stability,
		SimilarityBoost: req.SimilarityBoost,
		Style:           req.Style,
		UseSpeakerBoost: req.SpeakerBoost,
	}
	if req.Speed != 0 && req.Speed != 1.0 {
		speed := req.Speed
		settings.Speed = &speed
	}
	body, err := json.Marshal(ttsRequest{
		Text:          req.Text,
		ModelID:       orDefault(req.ModelID, DefaultModelID),
		VoiceSettings: settings,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding tts request: %w", err)
	}

	u := fmt.Sprintf("%s/text-to-speech/%s", c.baseURL, url.PathEscape(orDefault(req.VoiceID, DefaultVoiceID)))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Accept", "audio/mpeg")
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("xi-api-key", c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: %d - %s", ErrAPI, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading audio: %w", err)
	}
	return audio, nil
}

// Voices lists the voice catalogue available to the API key.
func (c *Client) Voices(ctx context.Context) ([]models.Voice, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/voices", nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("xi-api-key", c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrAPI, resp.StatusCode)
	}

	var out voicesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding voices response: %w", err)
	}
	voices := make([]models.Voice, 0, len(out.Voices))
	for _, v := range out.Voices {
		voices = append(voices, models.Voice{Name: v.Name, VoiceID: v.VoiceID})
	}
	return voices, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

type ttsRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

type voiceSettings struct {
	Stability       float64  `json:"stability"`
	SimilarityBoost float64  `json:"similarity_boost"`
	Style           float64  `json:"style"`
	UseSpeakerBoost bool     `json:"use_speaker_boost"`
	Speed           *float64 `json:"speed,omitempty"`
}

type voicesResponse struct {
	Voices []struct {
		Name    string `json:"name"`
		VoiceID string `json:"voice_id"`
	} `json:"voices"`
}

// Compile-time check that Client implements SpeechSynthesizer.
var _ models.SpeechSynthesizer = (*Client)(nil)
