package jobs

import "errors"

// Admission rejections returned by Service.Submit.
var (
	ErrNoCredentials     = errors.New("no credentials configured")
	ErrAtCapacity        = errors.New("maximum concurrent jobs reached")
	ErrInvalidInput      = errors.New("invalid job input")
	ErrSpeechUnavailable = errors.New("speech synthesis is not configured")
)
