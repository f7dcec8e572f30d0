// Package provider wires the configured external generation services.
package provider

import (
	"fmt"

	"github.com/deneee3444-wq/api/internal/config"
	"github.com/deneee3444-wq/api/internal/provider/deevid"
	"github.com/deneee3444-wq/api/internal/provider/elevenlabs"
	"github.com/deneee3444-wq/api/internal/provider/mock"
	"github.com/deneee3444-wq/api/pkg/models"
)

// NewGenerationProvider constructs the image/video provider selected by config.
// Called once at server startup.
func NewGenerationProvider(cfg *config.Config) (models.GenerationProvider, error) {
	switch cfg.Provider {
	case "deevid":
		return deevid.NewClient(cfg.Deevid), nil
	case "mock":
		return mock.NewMockProvider(), nil
	default:
		return nil, fmt.Errorf("unknown generation provider %q: must be one of deevid, mock", cfg.Provider)
	}
}

// NewSpeechSynthesizer returns the text-to-speech backend, or nil when speech
// synthesis is not configured.
func NewSpeechSynthesizer(cfg *config.Config) models.SpeechSynthesizer {
	if cfg.Provider == "mock" {
		return &mock.MockSynthesizer{}
	}
	if cfg.ElevenLabs.APIKey == "" {
		return nil
	}
	return elevenlabs.NewClient(cfg.ElevenLabs)
}
