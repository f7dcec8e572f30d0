package models

import (
	"context"
	"errors"
)

// ErrSubmissionRejected matches provider errors that explicitly refuse work,
// as opposed to transport or protocol failures.
var ErrSubmissionRejected = errors.New("submission rejected by provider")

// GenerationProvider is the contract for the external image/video service.
// Never call a concrete provider directly; always inject this interface.
type GenerationProvider interface {
	// Login exchanges a pooled credential for a session token.
	Login(ctx context.Context, identifier, secret string) (string, error)
	// UploadImage stores an input image and returns the provider's image id.
	UploadImage(ctx context.Context, token string, image []byte) (string, error)
	// Submit hands the work to the provider and returns its correlation id.
	Submit(ctx context.Context, token string, req SubmitRequest) (string, error)
	// Poll reports the provider-side state of previously submitted work.
	Poll(ctx context.Context, token string, kind JobKind, correlationID string) (PollResult, error)
	// Name returns the provider identifier (e.g., "deevid").
	Name() string
}

// SubmitRequest is the provider-neutral description of a generation request.
type SubmitRequest struct {
	Kind       JobKind
	Prompt     string
	Model      string
	ImageSize  string
	Resolution string
	Size       string
	ImageIDs   []string
}

// PollState is the provider-side progress of submitted work.
type PollState string

const (
	PollPending   PollState = "pending"
	PollSucceeded PollState = "succeeded"
	PollFailed    PollState = "failed"
)

// PollResult is one observation of submitted work. ResultLocator is set only
// when State is PollSucceeded.
type PollResult struct {
	State         PollState
	ResultLocator string
}

// SpeechSynthesizer is the contract for the single-call text-to-speech service.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, req SpeechRequest) ([]byte, error)
	Voices(ctx context.Context) ([]Voice, error)
}

// SpeechRequest carries the text and voice settings for one synthesis call.
type SpeechRequest struct {
	Text            string
	VoiceID         string
	ModelID         string
	Stability       float64
	SimilarityBoost float64
	Style           float64
	Speed           float64
	SpeakerBoost    bool
}

// Voice is one entry of the speech service's voice catalogue.
type Voice struct {
	Name    string `json:"name"`
	VoiceID string `json:"voice_id"`
}
