package jobs

import (
	"context"
	"fmt"

	"github.com/deneee3444-wq/api/pkg/models"
)

// orphanMessage is logged on jobs that never reached the provider before the
// process running them stopped.
const orphanMessage = "Interrupted before the provider accepted the job."

// RecoveryResult summarises one recovery pass.
type RecoveryResult struct {
	Orphaned int
	Resumed  int
	// Deferred jobs kept their recorded credential because releasing it
	// failed; the next pass retries them.
	Deferred int
}

// Recover reconciles jobs left pending or running by a previous process. It
// must run once, before Submit is first called.
//
// Jobs without a correlation id are failed and their recorded credential is
// released in the same store write. Jobs with one resume polling in the
// background after a fresh login; they are never submitted again. Their stale
// credentials are all released before any of them logs in.
func (s *Service) Recover(ctx context.Context) (*RecoveryResult, error) {
	orphans, err := s.store.FailOrphanJobs(ctx, orphanMessage)
	if err != nil {
		return nil, fmt.Errorf("failing orphan jobs: %w", err)
	}
	for _, job := range orphans {
		s.mirror(ctx, job.ID, job.TenantID, models.JobStatusFailed, "")
		if job.AssignedCredential != nil {
			s.logger.Info("released orphaned credential", "job_id", job.ID, "credential", *job.AssignedCredential)
		}
	}

	resumable, err := s.store.ListResumableJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing resumable jobs: %w", err)
	}

	res := &RecoveryResult{Orphaned: len(orphans)}
	ready := resumable[:0]
	for _, job := range resumable {
		if job.AssignedCredential != nil {
			if err := s.store.ReleaseJobCredential(ctx, job.ID); err != nil {
				s.logger.Error("releasing stale credential, job left for the next recovery",
					"job_id", job.ID, "credential", *job.AssignedCredential, "error", err)
				res.Deferred++
				continue
			}
			job.AssignedCredential = nil
		}
		ready = append(ready, job)
	}

	for _, job := range ready {
		job := job
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.resume(newExecution(s, job), job)
		}()
	}

	res.Resumed = len(ready)
	s.logger.Info("recovery complete", "orphaned", res.Orphaned, "resumed", res.Resumed, "deferred", res.Deferred)
	return res, nil
}

// resume re-authenticates a job the provider already accepted and polls it to
// a terminal status.
func (s *Service) resume(e *execution, job *models.Job) {
	ctx := s.ctx
	defer e.recoverPanic(ctx)

	if job.Status == models.JobStatusPending {
		if err := e.transition(ctx, models.JobStatusRunning); err != nil {
			e.logger.Error("marking resumed job running", "error", err)
			return
		}
	}

	e.appendLog(ctx, "Resuming after restart.")
	if !e.authenticate(ctx) {
		return
	}

	correlationID := *job.CorrelationID
	if err := s.store.SetJobExternal(ctx, job.ID, correlationID, e.token); err != nil {
		e.fail(ctx, fmt.Errorf("recording refreshed token: %w", err))
		return
	}

	e.poll(ctx, correlationID)
}
