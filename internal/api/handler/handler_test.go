package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	mw "github.com/deneee3444-wq/api/internal/api/middleware"
	"github.com/deneee3444-wq/api/internal/cache"
	"github.com/deneee3444-wq/api/internal/jobs"
	"github.com/deneee3444-wq/api/internal/pool"
	"github.com/deneee3444-wq/api/internal/store"
	"github.com/deneee3444-wq/api/pkg/models"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// --- mock JobService ---

type mockJobs struct {
	mu        sync.Mutex
	submitted []jobs.Request
	submitErr error
	jobs      []*models.Job
	snapshot  *cache.JobSnapshot
	quota     *jobs.Quota
	voices    []models.Voice
	voicesErr error
	running   int
}

func (m *mockJobs) Submit(_ context.Context, tenantID uuid.UUID, req jobs.Request) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.submitErr != nil {
		return nil, m.submitErr
	}
	m.submitted = append(m.submitted, req)
	return &models.Job{ID: uuid.New(), TenantID: tenantID, Kind: req.Kind, Status: models.JobStatusPending}, nil
}

func (m *mockJobs) Get(_ context.Context, tenantID, jobID uuid.UUID) (*models.Job, error) {
	for _, j := range m.jobs {
		if j.ID == jobID && j.TenantID == tenantID {
			return j, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *mockJobs) List(_ context.Context, tenantID uuid.UUID) ([]*models.Job, error) {
	var out []*models.Job
	for _, j := range m.jobs {
		if j.TenantID == tenantID {
			out = append(out, j)
		}
	}
	return out, nil
}

func (m *mockJobs) Status(_ context.Context, tenantID, _ uuid.UUID) (*cache.JobSnapshot, error) {
	if m.snapshot == nil || m.snapshot.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	return m.snapshot, nil
}

func (m *mockJobs) Quota(_ context.Context, _ uuid.UUID) (*jobs.Quota, error) {
	return m.quota, nil
}

func (m *mockJobs) Voices(_ context.Context) ([]models.Voice, error) {
	return m.voices, m.voicesErr
}

func (m *mockJobs) RunningCount(_ context.Context) (int, error) {
	return m.running, nil
}

// --- mock CredentialPool ---

type mockPool struct {
	creds      map[string]string
	claimed    map[string]bool
	resetScope []*uuid.UUID
}

func newMockPool() *mockPool {
	return &mockPool{creds: map[string]string{}, claimed: map[string]bool{}}
}

func (p *mockPool) List(_ context.Context, _ uuid.UUID) ([]*models.Credential, error) {
	var out []*models.Credential
	for id := range p.creds {
		state := models.CredentialAvailable
		if p.claimed[id] {
			state = models.CredentialClaimed
		}
		out = append(out, &models.Credential{Identifier: id, State: state})
	}
	return out, nil
}

func (p *mockPool) Add(_ context.Context, _ uuid.UUID, identifier, secret string) (bool, error) {
	if identifier == "" || secret == "" {
		return false, pool.ErrInvalidAccount
	}
	if _, ok := p.creds[identifier]; ok {
		return false, nil
	}
	p.creds[identifier] = secret
	return true, nil
}

func (p *mockPool) AddAccounts(ctx context.Context, tenantID uuid.UUID, accounts []string) (*pool.AddResult, error) {
	res := &pool.AddResult{Added: []string{}, Skipped: []string{}, Invalid: []string{}}
	for _, line := range accounts {
		id, secret, err := pool.ParseAccount(line)
		if err != nil {
			res.Invalid = append(res.Invalid, line)
			continue
		}
		added, _ := p.Add(ctx, tenantID, id, secret)
		if added {
			res.Added = append(res.Added, id)
		} else {
			res.Skipped = append(res.Skipped, id)
		}
	}
	return res, nil
}

func (p *mockPool) Remove(_ context.Context, _ uuid.UUID, identifier string) (bool, error) {
	if _, ok := p.creds[identifier]; !ok {
		return false, nil
	}
	delete(p.creds, identifier)
	return true, nil
}

func (p *mockPool) Reset(_ context.Context, tenantID *uuid.UUID) (int64, error) {
	p.resetScope = append(p.resetScope, tenantID)
	n := int64(len(p.claimed))
	p.claimed = map[string]bool{}
	return n, nil
}

func (p *mockPool) CountAvailable(_ context.Context, _ uuid.UUID) (int, error) {
	return len(p.creds) - len(p.claimed), nil
}

// --- helpers ---

func jsonRequest(t *testing.T, method, path string, body any, tenantID uuid.UUID) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	r := httptest.NewRequest(method, path, &buf)
	r.Header.Set("Content-Type", "application/json")
	return r.WithContext(mw.SetTenantID(r.Context(), tenantID))
}

// withURLParams attaches chi route parameters to a request served without a router.
func withURLParams(r *http.Request, kv ...string) *http.Request {
	rctx := chi.NewRouteContext()
	for i := 0; i+1 < len(kv); i += 2 {
		rctx.URLParams.Add(kv[i], kv[i+1])
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var env struct {
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env), rec.Body.String())
	return env.Data
}

func jsonDecode(rec *httptest.ResponseRecorder, v any) error {
	return json.NewDecoder(rec.Body).Decode(v)
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) (string, map[string]any) {
	t.Helper()
	var env struct {
		Error struct {
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env), rec.Body.String())
	return env.Error.Code, env.Error.Details
}

func jobAt(tenantID uuid.UUID, age time.Duration) *models.Job {
	return &models.Job{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Kind:      models.JobKindImage,
		Status:    models.JobStatusCompleted,
		Logs:      []models.LogEntry{},
		CreatedAt: time.Now().Add(-age),
	}
}
