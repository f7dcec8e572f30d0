package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/deneee3444-wq/api/internal/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockTenantData struct {
	tenants      map[uuid.UUID]bool
	clearedData  []uuid.UUID
	clearedAll   bool
	deleteAllErr error
}

func (m *mockTenantData) DeleteTenant(_ context.Context, id uuid.UUID) error {
	if !m.tenants[id] {
		return store.ErrNotFound
	}
	delete(m.tenants, id)
	return nil
}

func (m *mockTenantData) DeleteTenantData(_ context.Context, id uuid.UUID) error {
	m.clearedData = append(m.clearedData, id)
	return nil
}

func (m *mockTenantData) DeleteAllData(_ context.Context) error {
	if m.deleteAllErr != nil {
		return m.deleteAllErr
	}
	m.clearedAll = true
	return nil
}

type mockArtifacts struct {
	tenants []uuid.UUID
	all     bool
	err     error
}

func (m *mockArtifacts) DeleteTenant(id uuid.UUID) error {
	m.tenants = append(m.tenants, id)
	return m.err
}

func (m *mockArtifacts) DeleteAll() error {
	m.all = true
	return m.err
}

type adminFixture struct {
	pool      *mockPool
	data      *mockTenantData
	artifacts *mockArtifacts
	admin     *Admin
}

func newAdminFixture() *adminFixture {
	f := &adminFixture{
		pool:      newMockPool(),
		data:      &mockTenantData{tenants: map[uuid.UUID]bool{}},
		artifacts: &mockArtifacts{},
	}
	f.admin = NewAdmin(f.pool, f.data, f.artifacts, &mockJobs{running: 7})
	return f
}

func TestAdmin_ResetPoolIsGlobal(t *testing.T) {
	f := newAdminFixture()
	f.pool.claimed["a"] = true
	f.pool.claimed["b"] = true

	rec := httptest.NewRecorder()
	f.admin.ResetPool(rec, httptest.NewRequest(http.MethodPost, "/api/v1/admin/credentials/reset", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), decodeData(t, rec)["reset"])
	require.Len(t, f.pool.resetScope, 1)
	assert.Nil(t, f.pool.resetScope[0])
}

func TestAdmin_DeleteTenant(t *testing.T) {
	f := newAdminFixture()
	tenant := uuid.New()
	f.data.tenants[tenant] = true

	req := withURLParams(httptest.NewRequest(http.MethodDelete, "/", nil), "tenantID", tenant.String())
	rec := httptest.NewRecorder()
	f.admin.DeleteTenant(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, f.data.tenants)
	assert.Equal(t, []uuid.UUID{tenant}, f.artifacts.tenants)

	rec = httptest.NewRecorder()
	f.admin.DeleteTenant(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdmin_DeleteTenant_BadID(t *testing.T) {
	f := newAdminFixture()
	req := withURLParams(httptest.NewRequest(http.MethodDelete, "/", nil), "tenantID", "123")
	rec := httptest.NewRecorder()
	f.admin.DeleteTenant(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdmin_DeleteTenantData_ArtifactErrorDoesNotFail(t *testing.T) {
	f := newAdminFixture()
	f.artifacts.err = errors.New("read-only filesystem")
	tenant := uuid.New()

	req := withURLParams(httptest.NewRequest(http.MethodDelete, "/", nil), "tenantID", tenant.String())
	rec := httptest.NewRecorder()
	f.admin.DeleteTenantData(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []uuid.UUID{tenant}, f.data.clearedData)
}

func TestAdmin_DeleteAllData(t *testing.T) {
	f := newAdminFixture()
	rec := httptest.NewRecorder()
	f.admin.DeleteAllData(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/admin/data", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.data.clearedAll)
	assert.True(t, f.artifacts.all)
}

func TestAdmin_DeleteAllData_StoreErrorKeepsArtifacts(t *testing.T) {
	f := newAdminFixture()
	f.data.deleteAllErr = errors.New("connection refused")
	rec := httptest.NewRecorder()
	f.admin.DeleteAllData(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/admin/data", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.False(t, f.artifacts.all)
}

func TestAdmin_Stats(t *testing.T) {
	f := newAdminFixture()
	rec := httptest.NewRecorder()
	f.admin.Stats(rec, httptest.NewRequest(http.MethodGet, "/api/v1/admin/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(7), decodeData(t, rec)["running_jobs"])
}
