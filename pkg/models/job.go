package models

import (
	"time"

	"github.com/google/uuid"
)

// JobKind selects the generation pipeline a job runs through.
type JobKind string

const (
	JobKindImage JobKind = "image"
	JobKindVideo JobKind = "video"
	JobKindTTS   JobKind = "tts"
)

// Valid reports whether k is a known job kind.
func (k JobKind) Valid() bool {
	switch k {
	case JobKindImage, JobKindVideo, JobKindTTS:
		return true
	}
	return false
}

// UsesCredentials reports whether jobs of this kind claim a pooled credential.
// Speech synthesis uses a service key instead.
func (k JobKind) UsesCredentials() bool {
	return k == JobKindImage || k == JobKindVideo
}

const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusTimeout   = "timeout"
	JobStatusError     = "error"
)

// IsTerminalStatus reports whether no further transition may leave status.
func IsTerminalStatus(status string) bool {
	switch status {
	case JobStatusCompleted, JobStatusFailed, JobStatusTimeout, JobStatusError:
		return true
	}
	return false
}

// LogEntry is one timestamped line of a job's log trail.
type LogEntry struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

// Job tracks one asynchronous generation request. The API returns the job id on
// POST /api/v1/generate/{kind}; the client polls GET /api/v1/jobs/{id} until the
// status is terminal.
//
// CorrelationID is set only once the provider has accepted the work. It is the
// sole signal recovery uses to tell a resumable job from an orphan.
type Job struct {
	ID                 uuid.UUID  `db:"id"                   json:"id"`
	TenantID           uuid.UUID  `db:"tenant_id"            json:"-"`
	Kind               JobKind    `db:"kind"                 json:"kind"`
	Status             string     `db:"status"               json:"status"`
	Prompt             string     `db:"prompt"               json:"prompt"`
	CorrelationID      *string    `db:"correlation_id"       json:"correlation_id,omitempty"`
	AuthToken          *string    `db:"auth_token"           json:"-"`
	AssignedCredential *string    `db:"assigned_credential"  json:"assigned_credential,omitempty"`
	ResultLocator      *string    `db:"result_locator"       json:"result_locator,omitempty"`
	Logs               []LogEntry `db:"logs"                 json:"logs"`
	CreatedAt          time.Time  `db:"created_at"           json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at"           json:"updated_at"`
}

// Terminal reports whether the job has reached a final status.
func (j *Job) Terminal() bool {
	return IsTerminalStatus(j.Status)
}

// Resumable reports whether the provider accepted the job before the process
// that ran it stopped.
func (j *Job) Resumable() bool {
	return j.CorrelationID != nil && *j.CorrelationID != ""
}
