package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/deneee3444-wq/api/internal/api/response"
	"github.com/deneee3444-wq/api/internal/pool"
	"github.com/deneee3444-wq/api/pkg/models"
	"github.com/go-chi/chi/v5"
)

type addCredentialsRequest struct {
	// Each entry is either "identifier:secret" or {"identifier", "secret"}.
	Accounts []json.RawMessage `json:"accounts" validate:"required,min=1,max=1000"`
}

type accountObject struct {
	Identifier string `json:"identifier" validate:"required,max=320"`
	Secret     string `json:"secret"     validate:"required,max=1024"`
}

type addCredentialsResponse struct {
	*pool.AddResult
	Available int `json:"available"`
}

type credentialsResponse struct {
	Credentials []*models.Credential `json:"credentials"`
	Total       int                  `json:"total"`
	Available   int                  `json:"available"`
}

// NewListCredentialsHandler returns the handler for GET /api/v1/credentials.
// Secrets are never included.
func NewListCredentialsHandler(p CredentialPool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := tenantFrom(w, r)
		if !ok {
			return
		}
		creds, err := p.List(r.Context(), tenantID)
		if err != nil {
			response.Internal(w, r, err)
			return
		}
		if creds == nil {
			creds = []*models.Credential{}
		}
		available := 0
		for _, c := range creds {
			if !c.Claimed() {
				available++
			}
		}
		response.JSON(w, credentialsResponse{Credentials: creds, Total: len(creds), Available: available})
	}
}

// NewAddCredentialsHandler returns the handler for POST /api/v1/credentials.
func NewAddCredentialsHandler(p CredentialPool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := tenantFrom(w, r)
		if !ok {
			return
		}

		var req addCredentialsRequest
		if !decodeAndValidate(w, r, &req) {
			return
		}

		var lines []string
		var objects []accountObject
		for i, raw := range req.Accounts {
			raw = bytes.TrimSpace(raw)
			if len(raw) > 0 && raw[0] == '"' {
				var line string
				if err := json.Unmarshal(raw, &line); err != nil {
					response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "Malformed account entry", map[string]int{"index": i})
					return
				}
				lines = append(lines, line)
				continue
			}
			var obj accountObject
			if err := json.Unmarshal(raw, &obj); err != nil {
				response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "Malformed account entry", map[string]int{"index": i})
				return
			}
			if err := validate.Struct(obj); err != nil {
				writeValidationError(w, err)
				return
			}
			objects = append(objects, obj)
		}

		res, err := p.AddAccounts(r.Context(), tenantID, lines)
		if err != nil {
			response.Internal(w, r, err)
			return
		}
		for _, obj := range objects {
			added, err := p.Add(r.Context(), tenantID, obj.Identifier, obj.Secret)
			if errors.Is(err, pool.ErrInvalidAccount) {
				res.Invalid = append(res.Invalid, obj.Identifier)
				continue
			}
			if err != nil {
				response.Internal(w, r, err)
				return
			}
			if added {
				res.Added = append(res.Added, obj.Identifier)
			} else {
				res.Skipped = append(res.Skipped, obj.Identifier)
			}
		}

		available, err := p.CountAvailable(r.Context(), tenantID)
		if err != nil {
			response.Internal(w, r, err)
			return
		}
		response.JSON(w, addCredentialsResponse{AddResult: res, Available: available})
	}
}

// NewDeleteCredentialHandler returns the handler for
// DELETE /api/v1/credentials/{identifier}.
func NewDeleteCredentialHandler(p CredentialPool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := tenantFrom(w, r)
		if !ok {
			return
		}
		identifier := chi.URLParam(r, "identifier")

		removed, err := p.Remove(r.Context(), tenantID, identifier)
		if err != nil {
			response.Internal(w, r, err)
			return
		}
		if !removed {
			response.Error(w, http.StatusNotFound, response.CodeNotFound, "Credential not found", nil)
			return
		}
		response.JSON(w, map[string]string{"deleted": identifier})
	}
}

// NewResetCredentialsHandler returns the handler for
// POST /api/v1/credentials/reset, which frees the caller's claimed credentials.
func NewResetCredentialsHandler(p CredentialPool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := tenantFrom(w, r)
		if !ok {
			return
		}
		n, err := p.Reset(r.Context(), &tenantID)
		if err != nil {
			response.Internal(w, r, err)
			return
		}
		response.JSON(w, map[string]int64{"reset": n})
	}
}
