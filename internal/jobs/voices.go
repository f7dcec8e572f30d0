package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/deneee3444-wq/api/internal/cache"
	"github.com/deneee3444-wq/api/pkg/models"
)

// VoicesTTL is how long the voice catalogue stays cached.
const VoicesTTL = 10 * time.Minute

// Voices returns the speech voice catalogue. Concurrent misses share one
// upstream fetch and the result is cached for VoicesTTL.
func (s *Service) Voices(ctx context.Context) ([]models.Voice, error) {
	if s.speech == nil {
		return nil, ErrSpeechUnavailable
	}

	if raw, ok, err := s.cache.Get(ctx, cache.VoicesKey()); err == nil && ok {
		var voices []models.Voice
		if err := json.Unmarshal(raw, &voices); err == nil {
			return voices, nil
		}
	}

	v, err, _ := s.voices.Do(cache.VoicesKey(), func() (interface{}, error) {
		voices, err := s.speech.Voices(ctx)
		if err != nil {
			return nil, err
		}
		if raw, err := json.Marshal(voices); err == nil {
			if err := s.cache.Set(ctx, cache.VoicesKey(), raw, VoicesTTL); err != nil {
				s.logger.Warn("caching voices", "error", err)
			}
		}
		return voices, nil
	})
	if err != nil {
		return nil, fmt.Errorf("fetching voices: %w", err)
	}
	return v.([]models.Voice), nil
}
