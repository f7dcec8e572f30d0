package handler

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/deneee3444-wq/api/internal/api/response"
	"github.com/deneee3444-wq/api/internal/jobs"
	"github.com/deneee3444-wq/api/internal/provider/elevenlabs"
	"github.com/deneee3444-wq/api/pkg/models"
)

// Speech setting defaults for fields the caller leaves out.
const (
	defaultStyle        = 0.0
	defaultSpeed        = 1.0
	defaultSpeakerBoost = true
)

type generateRequest struct {
	Prompt     string   `json:"prompt"     validate:"required,max=8000"`
	Model      string   `json:"model"      validate:"max=64"`
	ImageSize  string   `json:"image_size" validate:"max=64"`
	Resolution string   `json:"resolution" validate:"max=16"`
	Size       string   `json:"size"       validate:"max=64"`
	Images     []string `json:"images"     validate:"max=8,dive,required"`
	Image      string   `json:"image"`
}

type speechRequest struct {
	Text            string   `json:"text"              validate:"required,max=10000"`
	VoiceID         string   `json:"voice_id"          validate:"max=64"`
	ModelID         string   `json:"model_id"          validate:"max=64"`
	Stability       *float64 `json:"stability"         validate:"omitempty,gte=0,lte=1"`
	SimilarityBoost *float64 `json:"similarity_boost"  validate:"omitempty,gte=0,lte=1"`
	Style           *float64 `json:"style"             validate:"omitempty,gte=0,lte=1"`
	UseSpeakerBoost *bool    `json:"use_speaker_boost"`
	Speed           *float64 `json:"speed"             validate:"omitempty,gt=0,lte=4"`
}

type submitResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// NewGenerateHandler returns the handler for POST /api/v1/generate/{kind}.
// The job is admitted and runs in the background; the response carries its id.
func NewGenerateHandler(svc JobService, kind models.JobKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := tenantFrom(w, r)
		if !ok {
			return
		}

		var req jobs.Request
		if kind == models.JobKindTTS {
			var body speechRequest
			if !decodeAndValidate(w, r, &body) {
				return
			}
			req = body.toJobRequest()
		} else {
			var body generateRequest
			if !decodeAndValidate(w, r, &body) {
				return
			}
			var err error
			if req, err = body.toJobRequest(kind); err != nil {
				response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, err.Error(), nil)
				return
			}
		}

		job, err := svc.Submit(r.Context(), tenantID, req)
		if err != nil {
			writeSubmitError(w, r, err)
			return
		}
		response.Accepted(w, submitResponse{JobID: job.ID.String(), Status: job.Status})
	}
}

func (b generateRequest) toJobRequest(kind models.JobKind) (jobs.Request, error) {
	encoded := b.Images
	if len(encoded) == 0 && b.Image != "" {
		encoded = []string{b.Image}
	}
	images := make([][]byte, 0, len(encoded))
	for i, s := range encoded {
		img, err := decodeImage(s)
		if err != nil {
			return jobs.Request{}, fmt.Errorf("image %d is not valid base64", i+1)
		}
		images = append(images, img)
	}
	return jobs.Request{
		Kind:       kind,
		Prompt:     b.Prompt,
		Model:      b.Model,
		ImageSize:  b.ImageSize,
		Resolution: b.Resolution,
		Size:       b.Size,
		Images:     images,
	}, nil
}

func (b speechRequest) toJobRequest() jobs.Request {
	return jobs.Request{
		Kind: models.JobKindTTS,
		Speech: models.SpeechRequest{
			Text:            b.Text,
			VoiceID:         b.VoiceID,
			ModelID:         b.ModelID,
			Stability:       floatOr(b.Stability, elevenlabs.DefaultStability),
			SimilarityBoost: floatOr(b.SimilarityBoost, elevenlabs.DefaultSimilarityBoost),
			Style:           floatOr(b.Style, defaultStyle),
			Speed:           floatOr(b.Speed, defaultSpeed),
			SpeakerBoost:    boolOr(b.UseSpeakerBoost, defaultSpeakerBoost),
		},
	}
}

// decodeImage accepts raw base64 or a data URL.
func decodeImage(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		if _, payload, ok := strings.Cut(s, ","); ok {
			s = payload
		}
	}
	return base64.StdEncoding.DecodeString(strings.TrimSpace(s))
}

func writeSubmitError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, jobs.ErrInvalidInput):
		response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, err.Error(), nil)
	case errors.Is(err, jobs.ErrNoCredentials):
		response.Error(w, http.StatusServiceUnavailable, response.CodeNoCredentials,
			"No credentials available for this API key", nil)
	case errors.Is(err, jobs.ErrAtCapacity):
		response.Error(w, http.StatusTooManyRequests, response.CodeAtCapacity,
			"Maximum concurrent jobs reached", nil)
	case errors.Is(err, jobs.ErrSpeechUnavailable):
		response.Error(w, http.StatusServiceUnavailable, response.CodeSpeechUnavailable,
			"Speech synthesis is not configured", nil)
	default:
		response.Internal(w, r, err)
	}
}

func floatOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
