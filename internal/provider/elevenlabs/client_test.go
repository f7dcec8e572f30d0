package elevenlabs

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/deneee3444-wq/api/internal/config"
	"github.com/deneee3444-wq/api/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, apiKey string, handler http.HandlerFunc) *Client {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return NewClient(config.ElevenLabsConfig{APIKey: apiKey, BaseURL: ts.URL + "/v1/", Timeout: 5 * time.Second})
}

func TestSynthesize_Success(t *testing.T) {
	c := newTestClient(t, "xi-key", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/text-to-speech/voice-9", r.URL.Path)
		assert.Equal(t, "xi-key", r.Header.Get("xi-api-key"))
		assert.Equal(t, "audio/mpeg", r.Header.Get("Accept"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hello", body["text"])
		assert.Equal(t, DefaultModelID, body["model_id"])
		vs := body["voice_settings"].(map[string]any)
		assert.Equal(t, 0.4, vs["stability"])
		assert.Equal(t, true, vs["use_speaker_boost"])
		assert.Equal(t, 1.2, vs["speed"])

		_, _ = w.Write([]byte("ID3-audio"))
	})

	audio, err := c.Synthesize(context.Background(), models.SpeechRequest{
		Text: "hello", VoiceID: "voice-9", Stability: 0.4, SpeakerBoost: true, Speed: 1.2,
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("ID3-audio"), audio)
}

func TestSynthesize_DefaultVoiceAndNormalSpeedOmitted(t *testing.T) {
	c := newTestClient(t, "xi-key", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/text-to-speech/"+DefaultVoiceID, r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		vs := body["voice_settings"].(map[string]any)
		assert.NotContains(t, vs, "speed")
		_, _ = w.Write([]byte("a"))
	})

	_, err := c.Synthesize(context.Background(), models.SpeechRequest{Text: "hello", Speed: 1.0})
	require.NoError(t, err)
}

func TestSynthesize_APIError(t *testing.T) {
	c := newTestClient(t, "xi-key", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"detail":"invalid key"}`)
	})

	_, err := c.Synthesize(context.Background(), models.SpeechRequest{Text: "hello"})
	require.ErrorIs(t, err, ErrAPI)
	assert.Contains(t, err.Error(), "401")
	assert.Contains(t, err.Error(), "invalid key")
}

func TestSynthesize_NotConfigured(t *testing.T) {
	c := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})

	assert.False(t, c.Configured())
	_, err := c.Synthesize(context.Background(), models.SpeechRequest{Text: "hello"})
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = c.Voices(context.Background())
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestVoices(t *testing.T) {
	c := newTestClient(t, "xi-key", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/voices", r.URL.Path)
		_, _ = io.WriteString(w, `{"voices":[{"name":"Sarah","voice_id":"v1","category":"premade"},{"name":"Adam","voice_id":"v2"}]}`)
	})

	voices, err := c.Voices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []models.Voice{{Name: "Sarah", VoiceID: "v1"}, {Name: "Adam", VoiceID: "v2"}}, voices)
}

func TestVoices_Unreachable(t *testing.T) {
	c := NewClient(config.ElevenLabsConfig{APIKey: "k", BaseURL: "http://127.0.0.1:1", Timeout: time.Second})

	_, err := c.Voices(context.Background())
	assert.ErrorIs(t, err, ErrUnreachable)
}
