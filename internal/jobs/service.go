// Package jobs runs generation jobs end to end: admission, execution against
// the provider, and startup recovery of work left behind by a previous process.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/deneee3444-wq/api/internal/cache"
	"github.com/deneee3444-wq/api/internal/config"
	"github.com/deneee3444-wq/api/internal/pool"
	"github.com/deneee3444-wq/api/internal/store"
	"github.com/deneee3444-wq/api/pkg/models"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// ArtifactWriter stores produced media and returns its public URL.
type ArtifactWriter interface {
	Put(ctx context.Context, key string, data []byte) (string, error)
}

// Request holds validated parameters for one submission.
type Request struct {
	Kind   models.JobKind
	Prompt string

	// Provider options. Empty values select the provider defaults.
	Model      string
	ImageSize  string
	Resolution string
	Size       string
	Images     [][]byte

	Speech models.SpeechRequest
}

// Quota is the per-tenant capacity view.
type Quota struct {
	AvailableCredentials int `json:"available_credentials"`
	RunningJobs          int `json:"running_jobs"`
	MaxConcurrent        int `json:"max_concurrent"`
	AvailableSlots       int `json:"available_slots"`
}

// Deps are the collaborators a Service drives.
type Deps struct {
	Store     store.Store
	Pool      *pool.Pool
	Cache     cache.Cache
	Provider  models.GenerationProvider
	Speech    models.SpeechSynthesizer // nil disables tts jobs
	Artifacts ArtifactWriter
	Logger    *slog.Logger
}

// Service admits jobs and owns the executors running them.
type Service struct {
	store     store.Store
	pool      *pool.Pool
	cache     cache.Cache
	provider  models.GenerationProvider
	speech    models.SpeechSynthesizer
	artifacts ArtifactWriter
	logger    *slog.Logger
	cfg       config.JobsConfig

	// Executors run on ctx, which outlives the request that admitted them and
	// is cancelled by Shutdown.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	voices singleflight.Group
}

// NewService creates a Service.
func NewService(deps Deps, cfg config.JobsConfig) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		store:     deps.Store,
		pool:      deps.Pool,
		cache:     deps.Cache,
		provider:  deps.Provider,
		speech:    deps.Speech,
		artifacts: deps.Artifacts,
		logger:    logger,
		cfg:       cfg,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Submit admits a job, records it as pending and starts its executor.
// It returns the job as recorded, before the executor has touched it.
func (s *Service) Submit(ctx context.Context, tenantID uuid.UUID, req Request) (*models.Job, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if req.Kind == models.JobKindTTS && s.speech == nil {
		return nil, ErrSpeechUnavailable
	}

	if req.Kind.UsesCredentials() {
		available, err := s.pool.CountAvailable(ctx, tenantID)
		if err != nil {
			return nil, fmt.Errorf("counting credentials: %w", err)
		}
		if available == 0 {
			return nil, ErrNoCredentials
		}
	}

	running, err := s.store.CountActiveJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting active jobs: %w", err)
	}
	if running >= s.cfg.MaxConcurrent {
		return nil, ErrAtCapacity
	}

	now := time.Now().UTC()
	job := &models.Job{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Kind:      req.Kind,
		Status:    models.JobStatusPending,
		Prompt:    jobPrompt(req),
		Logs:      []models.LogEntry{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}
	s.mirror(ctx, job.ID, tenantID, models.JobStatusPending, "")

	s.logger.Info("job admitted", "job_id", job.ID, "tenant_id", tenantID, "kind", job.Kind)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.execute(newExecution(s, job), req)
	}()

	return job, nil
}

// Get returns one of the tenant's jobs, or store.ErrNotFound.
func (s *Service) Get(ctx context.Context, tenantID, jobID uuid.UUID) (*models.Job, error) {
	return s.store.GetJob(ctx, jobID, tenantID)
}

// List returns the tenant's jobs, newest first.
func (s *Service) List(ctx context.Context, tenantID uuid.UUID) ([]*models.Job, error) {
	return s.store.ListJobs(ctx, tenantID)
}

// Status answers from the cache mirror and falls back to the store.
func (s *Service) Status(ctx context.Context, tenantID, jobID uuid.UUID) (*cache.JobSnapshot, error) {
	snap, ok, err := s.cache.GetJobSnapshot(ctx, jobID)
	if err != nil {
		s.logger.Warn("job snapshot lookup failed", "job_id", jobID, "error", err)
	}
	if ok && snap.TenantID == tenantID {
		return snap, nil
	}

	job, err := s.store.GetJob(ctx, jobID, tenantID)
	if err != nil {
		return nil, err
	}
	snap = &cache.JobSnapshot{TenantID: tenantID, Status: job.Status, UpdatedAt: job.UpdatedAt}
	if job.ResultLocator != nil {
		snap.ResultLocator = *job.ResultLocator
	}
	return snap, nil
}

// RunningCount is the number of pending and running jobs across all tenants.
func (s *Service) RunningCount(ctx context.Context) (int, error) {
	return s.store.CountActiveJobs(ctx)
}

// Quota reports the tenant's credential and concurrency headroom.
func (s *Service) Quota(ctx context.Context, tenantID uuid.UUID) (*Quota, error) {
	available, err := s.pool.CountAvailable(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("counting credentials: %w", err)
	}
	running, err := s.store.CountActiveJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting active jobs: %w", err)
	}
	return &Quota{
		AvailableCredentials: available,
		RunningJobs:          running,
		MaxConcurrent:        s.cfg.MaxConcurrent,
		AvailableSlots:       max(s.cfg.MaxConcurrent-running, 0),
	}, nil
}

// SpeechEnabled reports whether tts jobs are accepted.
func (s *Service) SpeechEnabled() bool {
	return s.speech != nil
}

// Wait blocks until every executor started so far has returned.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Shutdown stops executors at their next sleep or provider call and waits
// for them to return. Interrupted jobs keep their status for the next
// recovery pass.
func (s *Service) Shutdown(ctx context.Context) error {
	s.cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for executors: %w", ctx.Err())
	}
}

// mirror writes the job status to the cache. Cache failures are logged only;
// the store remains the source of truth.
func (s *Service) mirror(ctx context.Context, jobID, tenantID uuid.UUID, status, locator string) {
	err := s.cache.SetJobSnapshot(ctx, jobID, cache.JobSnapshot{
		TenantID:      tenantID,
		Status:        status,
		ResultLocator: locator,
		UpdatedAt:     time.Now().UTC(),
	})
	if err != nil {
		s.logger.Warn("mirroring job status", "job_id", jobID, "status", status, "error", err)
	}
}

func validateRequest(req Request) error {
	if !req.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidInput, req.Kind)
	}
	switch req.Kind {
	case models.JobKindTTS:
		if strings.TrimSpace(req.Speech.Text) == "" {
			return fmt.Errorf("%w: text is required", ErrInvalidInput)
		}
	default:
		if strings.TrimSpace(req.Prompt) == "" {
			return fmt.Errorf("%w: prompt is required", ErrInvalidInput)
		}
	}
	if req.Kind == models.JobKindVideo && len(req.Images) > 1 {
		return fmt.Errorf("%w: video accepts at most one reference image", ErrInvalidInput)
	}
	for i, img := range req.Images {
		if len(img) == 0 {
			return fmt.Errorf("%w: image %d is empty", ErrInvalidInput, i)
		}
	}
	return nil
}

func jobPrompt(req Request) string {
	if req.Kind == models.JobKindTTS {
		return req.Speech.Text
	}
	return req.Prompt
}
