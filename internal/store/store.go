package store

import (
	"context"
	"errors"

	"github.com/deneee3444-wq/api/pkg/models"
	"github.com/google/uuid"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")
var ErrInvalidTransition = errors.New("invalid job status transition")

// Store is the data access interface. All database operations go through here.
//
// Credential methods operate on sealed secrets; opening them is the pool's job.
type Store interface {
	Ping(ctx context.Context) error

	GetOrCreateTenant(ctx context.Context, keyHash, keyPrefix string) (*models.Tenant, error)
	GetTenant(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
	DeleteTenant(ctx context.Context, id uuid.UUID) error

	InsertCredential(ctx context.Context, cred *models.Credential) error
	DeleteCredential(ctx context.Context, tenantID uuid.UUID, identifier string) error
	ListCredentials(ctx context.Context, tenantID uuid.UUID) ([]*models.Credential, error)
	ClaimCredential(ctx context.Context, tenantID uuid.UUID) (*models.Credential, bool, error)
	ReleaseCredential(ctx context.Context, tenantID uuid.UUID, identifier string) error
	CountAvailableCredentials(ctx context.Context, tenantID uuid.UUID) (int, error)
	ResetCredentials(ctx context.Context, tenantID *uuid.UUID) (int64, error)

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.Job, error)
	ListJobs(ctx context.Context, tenantID uuid.UUID) ([]*models.Job, error)
	CountActiveJobs(ctx context.Context) (int, error)
	UpdateJobStatus(ctx context.Context, id uuid.UUID, status string, opts ...JobUpdateOption) error
	AppendJobLog(ctx context.Context, id uuid.UUID, message string) error
	SetJobCredential(ctx context.Context, id uuid.UUID, identifier *string) error
	SetJobExternal(ctx context.Context, id uuid.UUID, correlationID, authToken string) error
	ReleaseJobCredential(ctx context.Context, id uuid.UUID) error
	FailOrphanJobs(ctx context.Context, message string) ([]*models.Job, error)
	ListResumableJobs(ctx context.Context) ([]*models.Job, error)

	DeleteTenantData(ctx context.Context, tenantID uuid.UUID) error
	DeleteAllData(ctx context.Context) error
}

// validTransitions is the job state machine. Terminal states have no entry.
var validTransitions = map[string][]string{
	models.JobStatusPending: {models.JobStatusRunning},
	models.JobStatusRunning: {
		models.JobStatusCompleted,
		models.JobStatusFailed,
		models.JobStatusTimeout,
		models.JobStatusError,
	},
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to string) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

type jobUpdateParams struct {
	ResultLocator *string
	LogMessage    *string
}

type JobUpdateOption func(*jobUpdateParams)

func WithResultLocator(locator string) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.ResultLocator = &locator
	}
}

// WithLogEntry appends msg to the job's log trail in the same write as the
// status change.
func WithLogEntry(msg string) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.LogMessage = &msg
	}
}

// ApplyJobUpdateOptions resolves opts into their values. Exposed for test doubles.
func ApplyJobUpdateOptions(opts ...JobUpdateOption) (resultLocator, logMessage *string) {
	params := &jobUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}
	return params.ResultLocator, params.LogMessage
}
