package jobs_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/deneee3444-wq/api/internal/cache"
	"github.com/deneee3444-wq/api/internal/store"
	"github.com/deneee3444-wq/api/pkg/models"
	"github.com/google/uuid"
)

// --- mocks ---

// memStore is an in-memory store.Store covering what the job service uses.
// Unused methods fall through to the nil embedded interface.
type memStore struct {
	store.Store

	mu       sync.Mutex
	creds    []*models.Credential
	jobs     map[uuid.UUID]*models.Job
	statuses map[uuid.UUID][]string

	// failReleases is the number of upcoming ReleaseCredential calls that fail.
	failReleases int
	// failRecord makes SetJobCredential fail.
	failRecord bool
	// failJobRelease makes ReleaseJobCredential fail.
	failJobRelease bool
}

var errStoreDown = errors.New("store unavailable")

func newMemStore() *memStore {
	return &memStore{
		jobs:     make(map[uuid.UUID]*models.Job),
		statuses: make(map[uuid.UUID][]string),
	}
}

func copyJob(j *models.Job) *models.Job {
	cp := *j
	cp.Logs = append([]models.LogEntry{}, j.Logs...)
	return &cp
}

func (s *memStore) findCred(tenantID uuid.UUID, identifier string) *models.Credential {
	for _, c := range s.creds {
		if c.TenantID == tenantID && c.Identifier == identifier {
			return c
		}
	}
	return nil
}

func (s *memStore) InsertCredential(_ context.Context, cred *models.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findCred(cred.TenantID, cred.Identifier) != nil {
		return store.ErrDuplicateKey
	}
	c := *cred
	s.creds = append(s.creds, &c)
	return nil
}

func (s *memStore) ClaimCredential(_ context.Context, tenantID uuid.UUID) (*models.Credential, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.creds {
		if c.TenantID == tenantID && c.State == models.CredentialAvailable {
			c.State = models.CredentialClaimed
			// Least recently claimed first, like the claim query.
			s.creds = append(append(s.creds[:i:i], s.creds[i+1:]...), c)
			cp := *c
			return &cp, true, nil
		}
	}
	return nil, false, nil
}

func (s *memStore) ReleaseCredential(_ context.Context, tenantID uuid.UUID, identifier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failReleases > 0 {
		s.failReleases--
		return errStoreDown
	}
	if c := s.findCred(tenantID, identifier); c != nil {
		c.State = models.CredentialAvailable
	}
	return nil
}

func (s *memStore) CountAvailableCredentials(_ context.Context, tenantID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.creds {
		if c.TenantID == tenantID && c.State == models.CredentialAvailable {
			n++
		}
	}
	return n, nil
}

// releaseRecorded frees the credential recorded on j. Callers hold mu.
func (s *memStore) releaseRecorded(j *models.Job) {
	if j.AssignedCredential == nil {
		return
	}
	if c := s.findCred(j.TenantID, *j.AssignedCredential); c != nil {
		c.State = models.CredentialAvailable
	}
	j.AssignedCredential = nil
}

// claimed returns the identifiers currently claimed, sorted.
func (s *memStore) claimed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []string{}
	for _, c := range s.creds {
		if c.State == models.CredentialClaimed {
			out = append(out, c.Identifier)
		}
	}
	sort.Strings(out)
	return out
}

// setClaimed marks a credential claimed directly, as a crashed process would
// have left it.
func (s *memStore) setClaimed(tenantID uuid.UUID, identifier string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c := s.findCred(tenantID, identifier); c != nil {
		c.State = models.CredentialClaimed
	}
}

func (s *memStore) CreateJob(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = copyJob(job)
	s.statuses[job.ID] = append(s.statuses[job.ID], job.Status)
	return nil
}

func (s *memStore) GetJob(_ context.Context, id uuid.UUID, tenantID uuid.UUID) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	return copyJob(j), nil
}

func (s *memStore) ListJobs(_ context.Context, tenantID uuid.UUID) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Job
	for _, j := range s.jobs {
		if j.TenantID == tenantID {
			out = append(out, copyJob(j))
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	return out, nil
}

func (s *memStore) CountActiveJobs(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, j := range s.jobs {
		if !j.Terminal() {
			n++
		}
	}
	return n, nil
}

func (s *memStore) UpdateJobStatus(_ context.Context, id uuid.UUID, status string, opts ...store.JobUpdateOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	if !store.CanTransition(j.Status, status) {
		return store.ErrInvalidTransition
	}
	locator, msg := store.ApplyJobUpdateOptions(opts...)
	j.Status = status
	if locator != nil {
		j.ResultLocator = locator
	}
	if msg != nil {
		j.Logs = append(j.Logs, models.LogEntry{Time: time.Now().UTC(), Message: *msg})
	}
	if models.IsTerminalStatus(status) {
		s.releaseRecorded(j)
		j.AuthToken = nil
	}
	j.UpdatedAt = time.Now().UTC()
	s.statuses[id] = append(s.statuses[id], status)
	return nil
}

func (s *memStore) AppendJobLog(_ context.Context, id uuid.UUID, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	j.Logs = append(j.Logs, models.LogEntry{Time: time.Now().UTC(), Message: message})
	return nil
}

func (s *memStore) SetJobCredential(_ context.Context, id uuid.UUID, identifier *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failRecord {
		return errStoreDown
	}
	j, ok := s.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	j.AssignedCredential = identifier
	return nil
}

func (s *memStore) ReleaseJobCredential(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failJobRelease {
		return errStoreDown
	}
	j, ok := s.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	s.releaseRecorded(j)
	return nil
}

func (s *memStore) SetJobExternal(_ context.Context, id uuid.UUID, correlationID, authToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	j.CorrelationID = &correlationID
	j.AuthToken = &authToken
	return nil
}

func (s *memStore) FailOrphanJobs(_ context.Context, message string) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Job
	for _, j := range s.jobs {
		if j.Terminal() || j.Resumable() {
			continue
		}
		out = append(out, copyJob(j))
		j.Status = models.JobStatusFailed
		s.releaseRecorded(j)
		j.AuthToken = nil
		j.Logs = append(j.Logs, models.LogEntry{Time: time.Now().UTC(), Message: message})
		s.statuses[j.ID] = append(s.statuses[j.ID], j.Status)
	}
	return out, nil
}

func (s *memStore) ListResumableJobs(_ context.Context) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Job
	for _, j := range s.jobs {
		if !j.Terminal() && j.Resumable() {
			out = append(out, copyJob(j))
		}
	}
	return out, nil
}

// job returns a snapshot of the stored job.
func (s *memStore) job(id uuid.UUID) *models.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyJob(s.jobs[id])
}

func (s *memStore) statusHistory(id uuid.UUID) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.statuses[id]...)
}

// seedJob stores a job as a previous process would have left it.
func (s *memStore) seedJob(j *models.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j.Logs == nil {
		j.Logs = []models.LogEntry{}
	}
	s.jobs[j.ID] = copyJob(j)
	s.statuses[j.ID] = append(s.statuses[j.ID], j.Status)
}

// memCache is an in-memory cache.Cache.
type memCache struct {
	mu        sync.Mutex
	values    map[string][]byte
	counters  map[string]int64
	snapshots map[uuid.UUID]cache.JobSnapshot
}

func newMemCache() *memCache {
	return &memCache{
		values:    make(map[string][]byte),
		counters:  make(map[string]int64),
		snapshots: make(map[uuid.UUID]cache.JobSnapshot),
	}
}

func (c *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
	return nil
}

func (c *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	return v, ok, nil
}

func (c *memCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, key)
	return nil
}

func (c *memCache) Ping(_ context.Context) error { return nil }

func (c *memCache) SetJobSnapshot(_ context.Context, jobID uuid.UUID, snap cache.JobSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshots[jobID] = snap
	return nil
}

func (c *memCache) GetJobSnapshot(_ context.Context, jobID uuid.UUID) (*cache.JobSnapshot, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap, ok := c.snapshots[jobID]
	if !ok {
		return nil, false, nil
	}
	return &snap, true, nil
}

func (c *memCache) IncrWithExpiry(_ context.Context, key string, _ time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[key]++
	return c.counters[key], nil
}

// memArtifacts records written artifacts.
type memArtifacts struct {
	mu   sync.Mutex
	data map[string][]byte
	err  error
}

func (a *memArtifacts) Put(_ context.Context, key string, data []byte) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.data == nil {
		a.data = make(map[string][]byte)
	}
	a.data[key] = data
	return "https://files.test/" + key, nil
}
