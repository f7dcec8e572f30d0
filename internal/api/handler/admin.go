package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/deneee3444-wq/api/internal/api/response"
	"github.com/deneee3444-wq/api/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// TenantData is the destructive subset of the store used by admin endpoints.
type TenantData interface {
	DeleteTenant(ctx context.Context, id uuid.UUID) error
	DeleteTenantData(ctx context.Context, tenantID uuid.UUID) error
	DeleteAllData(ctx context.Context) error
}

// ArtifactCleaner removes stored artifacts alongside deleted jobs.
type ArtifactCleaner interface {
	DeleteTenant(tenantID uuid.UUID) error
	DeleteAll() error
}

// Admin groups the operator endpoints.
type Admin struct {
	pool      CredentialPool
	data      TenantData
	artifacts ArtifactCleaner
	jobs      JobService
}

func NewAdmin(p CredentialPool, data TenantData, artifacts ArtifactCleaner, jobs JobService) *Admin {
	return &Admin{pool: p, data: data, artifacts: artifacts, jobs: jobs}
}

// ResetPool handles POST /api/v1/admin/credentials/reset: every claimed
// credential of every tenant becomes available again.
func (a *Admin) ResetPool(w http.ResponseWriter, r *http.Request) {
	n, err := a.pool.Reset(r.Context(), nil)
	if err != nil {
		response.Internal(w, r, err)
		return
	}
	slog.Warn("credential pool reset", "scope", "all", "reset", n)
	response.JSON(w, map[string]int64{"reset": n})
}

// DeleteTenant handles DELETE /api/v1/admin/tenants/{tenantID}.
func (a *Admin) DeleteTenant(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := uuidParam(w, chi.URLParam(r, "tenantID"), "tenantID")
	if !ok {
		return
	}
	err := a.data.DeleteTenant(r.Context(), tenantID)
	if errors.Is(err, store.ErrNotFound) {
		response.Error(w, http.StatusNotFound, response.CodeNotFound, "Tenant not found", nil)
		return
	}
	if err != nil {
		response.Internal(w, r, err)
		return
	}
	a.removeArtifacts(tenantID)
	slog.Warn("tenant deleted", "tenant_id", tenantID)
	response.JSON(w, map[string]string{"deleted": tenantID.String()})
}

// DeleteTenantData handles DELETE /api/v1/admin/tenants/{tenantID}/data. The
// tenant row survives; its jobs and credentials do not.
func (a *Admin) DeleteTenantData(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := uuidParam(w, chi.URLParam(r, "tenantID"), "tenantID")
	if !ok {
		return
	}
	if err := a.data.DeleteTenantData(r.Context(), tenantID); err != nil {
		response.Internal(w, r, err)
		return
	}
	a.removeArtifacts(tenantID)
	slog.Warn("tenant data cleared", "tenant_id", tenantID)
	response.JSON(w, map[string]string{"cleared": tenantID.String()})
}

// DeleteAllData handles DELETE /api/v1/admin/data.
func (a *Admin) DeleteAllData(w http.ResponseWriter, r *http.Request) {
	if err := a.data.DeleteAllData(r.Context()); err != nil {
		response.Internal(w, r, err)
		return
	}
	if err := a.artifacts.DeleteAll(); err != nil {
		slog.Error("removing artifacts", "error", err)
	}
	slog.Warn("all data cleared")
	response.JSON(w, map[string]string{"cleared": "all"})
}

// Stats handles GET /api/v1/admin/stats.
func (a *Admin) Stats(w http.ResponseWriter, r *http.Request) {
	running, err := a.jobs.RunningCount(r.Context())
	if err != nil {
		response.Internal(w, r, err)
		return
	}
	response.JSON(w, map[string]int{"running_jobs": running})
}

func (a *Admin) removeArtifacts(tenantID uuid.UUID) {
	if err := a.artifacts.DeleteTenant(tenantID); err != nil {
		slog.Error("removing tenant artifacts", "tenant_id", tenantID, "error", err)
	}
}
