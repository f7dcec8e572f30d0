package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/deneee3444-wq/api/internal/artifact"
	"github.com/deneee3444-wq/api/internal/config"
	"github.com/deneee3444-wq/api/internal/pool"
	"github.com/deneee3444-wq/api/internal/store"
	"github.com/deneee3444-wq/api/pkg/models"
	"github.com/google/uuid"
)

// finalWriteTimeout bounds the terminal write, which runs even after the
// executor context is cancelled.
const finalWriteTimeout = 10 * time.Second

// execution is the state of one executor run. It is owned by a single
// goroutine; nothing else writes the job while it runs.
type execution struct {
	svc      *Service
	jobID    uuid.UUID
	tenantID uuid.UUID
	kind     models.JobKind
	logger   *slog.Logger

	held     *models.Credential
	recorded bool // held is stored on the job row
	token    string
	finished bool
}

func newExecution(s *Service, job *models.Job) *execution {
	return &execution{
		svc:      s,
		jobID:    job.ID,
		tenantID: job.TenantID,
		kind:     job.Kind,
		logger:   s.logger.With("job_id", job.ID, "tenant_id", job.TenantID, "kind", job.Kind),
	}
}

// execute runs a freshly admitted job to a terminal status.
func (s *Service) execute(e *execution, req Request) {
	ctx := s.ctx
	defer e.recoverPanic(ctx)

	if err := e.transition(ctx, models.JobStatusRunning); err != nil {
		// The job stays pending without a correlation id; the next recovery
		// pass fails it.
		e.logger.Error("marking job running", "error", err)
		return
	}

	if e.kind == models.JobKindTTS {
		e.runSpeech(ctx, req.Speech)
		return
	}
	e.runGeneration(ctx, req)
}

func (e *execution) runGeneration(ctx context.Context, req Request) {
	if !e.authenticate(ctx) {
		return
	}

	imageIDs := make([]string, 0, len(req.Images))
	for i, img := range req.Images {
		id, err := e.svc.provider.UploadImage(ctx, e.token, img)
		if err != nil {
			if ctx.Err() != nil {
				e.abandon(ctx)
				return
			}
			e.finish(ctx, models.JobStatusFailed, fmt.Sprintf("Image %d upload failed: %v", i+1, err))
			return
		}
		e.appendLog(ctx, fmt.Sprintf("Uploaded image %d (id %s).", i+1, id))
		imageIDs = append(imageIDs, id)
	}

	e.appendLog(ctx, "Submitting to "+e.svc.provider.Name()+".")
	correlationID, err := e.svc.provider.Submit(ctx, e.token, models.SubmitRequest{
		Kind:       e.kind,
		Prompt:     req.Prompt,
		Model:      req.Model,
		ImageSize:  req.ImageSize,
		Resolution: req.Resolution,
		Size:       req.Size,
		ImageIDs:   imageIDs,
	})
	switch {
	case err == nil:
	case ctx.Err() != nil:
		e.abandon(ctx)
		return
	case errors.Is(err, models.ErrSubmissionRejected):
		e.finish(ctx, models.JobStatusFailed, fmt.Sprintf("Submission rejected: %v", err))
		return
	default:
		e.fail(ctx, fmt.Errorf("submitting: %w", err))
		return
	}

	if err := e.svc.store.SetJobExternal(ctx, e.jobID, correlationID, e.token); err != nil {
		e.fail(ctx, fmt.Errorf("recording provider task id: %w", err))
		return
	}
	e.appendLog(ctx, "Accepted with task id "+correlationID+".")

	e.poll(ctx, correlationID)
}

// authenticate claims credentials until a login succeeds. The number of
// attempts is fixed by the available count at entry. It returns false when
// the job has been finished or abandoned.
func (e *execution) authenticate(ctx context.Context) bool {
	attempts, err := e.svc.pool.CountAvailable(ctx, e.tenantID)
	if err != nil {
		e.fail(ctx, fmt.Errorf("counting credentials: %w", err))
		return false
	}

	for i := 0; i < attempts; i++ {
		cred, ok, err := e.svc.pool.Claim(ctx, e.tenantID)
		if errors.Is(err, pool.ErrUnsealable) {
			e.appendLog(ctx, fmt.Sprintf("Skipped credential: %v", err))
			continue
		}
		if err != nil {
			e.fail(ctx, fmt.Errorf("claiming credential: %w", err))
			return false
		}
		if !ok {
			break
		}

		token, err := e.svc.provider.Login(ctx, cred.Identifier, cred.Secret)
		if err == nil {
			e.held = cred
			e.token = token
			break
		}

		if relErr := e.svc.pool.Release(context.WithoutCancel(ctx), e.tenantID, cred.Identifier); relErr != nil {
			e.held = cred
			e.fail(ctx, fmt.Errorf("releasing %s after failed login: %w", cred.Identifier, relErr))
			return false
		}
		if ctx.Err() != nil {
			e.abandon(ctx)
			return false
		}
		e.logger.Warn("provider login failed", "credential", cred.Identifier, "error", err)
		e.appendLog(ctx, fmt.Sprintf("Login failed for %s: %v", cred.Identifier, err))
	}

	if e.held == nil {
		e.finish(ctx, models.JobStatusFailed, "No credential could log in.")
		return false
	}

	ident := e.held.Identifier
	if err := e.svc.store.SetJobCredential(ctx, e.jobID, &ident); err != nil {
		e.fail(ctx, fmt.Errorf("recording credential: %w", err))
		return false
	}
	e.recorded = true
	e.appendLog(ctx, "Logged in as "+ident+".")
	return true
}

// poll checks the provider until the job settles or the kind's budget runs out.
func (e *execution) poll(ctx context.Context, correlationID string) {
	budget := e.budget()
	for i := 0; i < budget.MaxIterations; i++ {
		if err := sleep(ctx, budget.Interval); err != nil {
			e.abandon(ctx)
			return
		}

		res, err := e.svc.provider.Poll(ctx, e.token, e.kind, correlationID)
		if err != nil {
			if ctx.Err() != nil {
				e.abandon(ctx)
				return
			}
			e.logger.Warn("poll failed", "attempt", i+1, "error", err)
			e.appendLog(ctx, fmt.Sprintf("Poll %d failed: %v", i+1, err))
			continue
		}

		switch res.State {
		case models.PollSucceeded:
			if res.ResultLocator == "" {
				continue
			}
			e.finish(ctx, models.JobStatusCompleted, "Completed.", store.WithResultLocator(res.ResultLocator))
			return
		case models.PollFailed:
			e.finish(ctx, models.JobStatusFailed, "Provider reported the job as failed.")
			return
		}
	}

	e.finish(ctx, models.JobStatusTimeout, fmt.Sprintf("No result after %d polls.", budget.MaxIterations))
}

func (e *execution) runSpeech(ctx context.Context, req models.SpeechRequest) {
	e.appendLog(ctx, "Synthesizing speech with voice "+req.VoiceID+".")

	audio, err := e.svc.speech.Synthesize(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			e.abandon(ctx)
			return
		}
		e.finish(ctx, models.JobStatusFailed, fmt.Sprintf("Speech synthesis failed: %v", err))
		return
	}

	url, err := e.svc.artifacts.Put(ctx, artifact.SpeechKey(e.tenantID, e.jobID), audio)
	if err != nil {
		if ctx.Err() != nil {
			e.abandon(ctx)
			return
		}
		e.fail(ctx, fmt.Errorf("storing audio: %w", err))
		return
	}

	e.finish(ctx, models.JobStatusCompleted, "Speech generated.", store.WithResultLocator(url))
}

func (e *execution) budget() config.PollBudget {
	if e.kind == models.JobKindVideo {
		return e.svc.cfg.VideoPoll
	}
	return e.svc.cfg.ImagePoll
}

// transition writes a non-terminal status.
func (e *execution) transition(ctx context.Context, status string) error {
	if err := e.svc.store.UpdateJobStatus(ctx, e.jobID, status); err != nil {
		return err
	}
	e.svc.mirror(ctx, e.jobID, e.tenantID, status, "")
	return nil
}

// finish writes the terminal status with msg appended to the log. The store
// releases the credential recorded on the job in the same write, so a claim
// not yet recorded is recorded first. It runs detached from cancellation so a
// shutdown racing the final write does not leave the credential claimed.
func (e *execution) finish(ctx context.Context, status, msg string, opts ...store.JobUpdateOption) {
	if e.finished {
		return
	}
	e.finished = true

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalWriteTimeout)
	defer cancel()

	if e.held != nil && !e.recorded {
		e.recordHeld(ctx)
	}

	opts = append(opts, store.WithLogEntry(msg))
	if err := e.svc.store.UpdateJobStatus(ctx, e.jobID, status, opts...); err != nil {
		// A recorded credential stays on the unfinished job for recovery.
		e.logger.Error("writing terminal status", "status", status, "error", err)
		if errors.Is(err, store.ErrNotFound) {
			e.releaseHeld(ctx)
		}
		return
	}
	e.held = nil

	locator, _ := store.ApplyJobUpdateOptions(opts...)
	var loc string
	if locator != nil {
		loc = *locator
	}
	e.svc.mirror(ctx, e.jobID, e.tenantID, status, loc)
	e.logger.Info("job finished", "status", status)
}

// fail maps an unexpected failure to the error status. Failures caused by
// shutdown abandon the run instead.
func (e *execution) fail(ctx context.Context, err error) {
	if ctx.Err() != nil {
		e.abandon(ctx)
		return
	}
	e.logger.Error("job execution error", "error", err)
	e.finish(ctx, models.JobStatusError, "Unexpected error: "+err.Error())
}

// abandon stops the run on shutdown without touching the job status. A
// credential already recorded on the job is left for recovery to release;
// one that is not is released here, or recorded when that fails.
func (e *execution) abandon(ctx context.Context) {
	e.finished = true
	if e.held != nil && !e.recorded {
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalWriteTimeout)
		defer cancel()
		e.releaseHeld(relCtx)
		if e.held != nil {
			e.recordHeld(relCtx)
		}
	}
	e.logger.Info("execution interrupted", "error", context.Cause(ctx))
}

// recordHeld stores the held credential on the job so that the terminal
// write or recovery releases it. If that fails it is released directly.
func (e *execution) recordHeld(ctx context.Context) {
	ident := e.held.Identifier
	err := e.svc.store.SetJobCredential(ctx, e.jobID, &ident)
	if err == nil {
		e.recorded = true
		return
	}
	e.logger.Error("recording held credential", "credential", ident, "error", err)
	e.releaseHeld(ctx)
}

func (e *execution) releaseHeld(ctx context.Context) {
	if e.held == nil {
		return
	}
	if err := e.svc.pool.Release(ctx, e.tenantID, e.held.Identifier); err != nil {
		e.logger.Error("releasing credential", "credential", e.held.Identifier, "error", err)
		return
	}
	e.held = nil
}

// appendLog adds a line to the job's log trail. Failures are logged only.
func (e *execution) appendLog(ctx context.Context, msg string) {
	if err := e.svc.store.AppendJobLog(ctx, e.jobID, msg); err != nil && ctx.Err() == nil {
		e.logger.Warn("appending job log", "error", err)
	}
}

func (e *execution) recoverPanic(ctx context.Context) {
	r := recover()
	if r == nil {
		return
	}
	e.logger.Error("panic in job executor", "panic", r, "stack", string(debug.Stack()))
	e.finish(ctx, models.JobStatusError, fmt.Sprintf("Unexpected error: panic: %v", r))
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
