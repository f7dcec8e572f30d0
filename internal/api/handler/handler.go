// Package handler implements the HTTP endpoints. Each constructor takes the
// narrow interface it depends on and returns an http.HandlerFunc.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	mw "github.com/deneee3444-wq/api/internal/api/middleware"
	"github.com/deneee3444-wq/api/internal/api/response"
	"github.com/deneee3444-wq/api/internal/cache"
	"github.com/deneee3444-wq/api/internal/jobs"
	"github.com/deneee3444-wq/api/internal/pool"
	"github.com/deneee3444-wq/api/pkg/models"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// maxBodyBytes bounds request bodies; base64 images make generate bodies large.
const maxBodyBytes = 32 << 20

var validate = validator.New()

// JobService is what the job endpoints need from jobs.Service.
type JobService interface {
	Submit(ctx context.Context, tenantID uuid.UUID, req jobs.Request) (*models.Job, error)
	Get(ctx context.Context, tenantID, jobID uuid.UUID) (*models.Job, error)
	List(ctx context.Context, tenantID uuid.UUID) ([]*models.Job, error)
	Status(ctx context.Context, tenantID, jobID uuid.UUID) (*cache.JobSnapshot, error)
	Quota(ctx context.Context, tenantID uuid.UUID) (*jobs.Quota, error)
	Voices(ctx context.Context) ([]models.Voice, error)
	RunningCount(ctx context.Context) (int, error)
}

// CredentialPool is what the credential endpoints need from pool.Pool.
type CredentialPool interface {
	List(ctx context.Context, tenantID uuid.UUID) ([]*models.Credential, error)
	Add(ctx context.Context, tenantID uuid.UUID, identifier, secret string) (bool, error)
	AddAccounts(ctx context.Context, tenantID uuid.UUID, accounts []string) (*pool.AddResult, error)
	Remove(ctx context.Context, tenantID uuid.UUID, identifier string) (bool, error)
	Reset(ctx context.Context, tenantID *uuid.UUID) (int64, error)
	CountAvailable(ctx context.Context, tenantID uuid.UUID) (int, error)
}

// Pinger is a dependency the health check probes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// decodeAndValidate reads a JSON body into v and runs its validate tags.
// On failure it writes the 400 response and returns false.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "Invalid JSON body", nil)
		return false
	}
	if err := validate.Struct(v); err != nil {
		writeValidationError(w, err)
		return false
	}
	return true
}

func writeValidationError(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, err.Error(), nil)
		return
	}
	details := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		details[fe.Field()] = fe.Tag()
	}
	response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "Request validation failed", details)
}

// tenantFrom returns the authenticated tenant, writing a 401 when absent.
func tenantFrom(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	tenantID, ok := mw.GetTenantID(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing tenant", nil)
	}
	return tenantID, ok
}

// uuidParam parses a UUID path parameter, writing a 400 when malformed.
func uuidParam(w http.ResponseWriter, raw, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, name+" must be a UUID", nil)
		return uuid.Nil, false
	}
	return id, true
}

// queryInt reads a positive integer query parameter, falling back to def.
func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v < 1 {
		return def
	}
	return v
}
