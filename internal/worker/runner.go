package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"league-jobs-service/internal/entity"
	"league-jobs-service/internal/jobs"
)

// Store is the persistence surface the runner needs: the claim protocol,
// finalization, and the per-phase updates handlers perform through the
// embedded jobs.JobStore.
type Store interface {
	jobs.JobStore
	ClaimPending(ctx context.Context, limit int) ([]*entity.Job, error)
	ClaimStale(ctx context.Context, olderThan time.Duration, limit int) ([]*entity.Job, error)
	MarkCompleted(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, code, message string) error
	MarkRetrying(ctx context.Context, id uuid.UUID, code, message string, runAfter time.Time) error
}

type Config struct {
	Workers    int
	ClaimBatch int
	StaleAfter time.Duration
}

// Runner claims a bounded batch of jobs and drives each through its
// handler. Runners are stateless: any number of them may tick concurrently
// against the same store, coordinated only by the claim protocol.
type Runner struct {
	store    Store
	registry *jobs.Registry
	notifier jobs.Notifier
	log      *slog.Logger

	workers    int
	claimBatch int
	staleAfter time.Duration
}

func NewRunner(store Store, registry *jobs.Registry, notifier jobs.Notifier, log *slog.Logger, cfg Config) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.ClaimBatch <= 0 {
		cfg.ClaimBatch = cfg.Workers
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 10 * time.Minute
	}
	return &Runner{
		store:      store,
		registry:   registry,
		notifier:   notifier,
		log:        log,
		workers:    cfg.Workers,
		claimBatch: cfg.ClaimBatch,
		staleAfter: cfg.StaleAfter,
	}
}

// RunOnce performs one tick: claim a batch, execute it, finalize every job.
// Fresh jobs take precedence; only an empty claim falls back to recovering
// stale running jobs from crashed runners. Returns how many jobs ran.
func (r *Runner) RunOnce(ctx context.Context) (int, error) {
	claimed, err := r.store.ClaimPending(ctx, r.claimBatch)
	if err != nil {
		return 0, err
	}
	if len(claimed) == 0 {
		claimed, err = r.store.ClaimStale(ctx, r.staleAfter, r.claimBatch)
		if err != nil {
			return 0, err
		}
		if len(claimed) > 0 {
			r.log.Info("recovered stale jobs", "count", len(claimed))
		}
	}
	if len(claimed) == 0 {
		return 0, nil
	}

	g := new(errgroup.Group)
	g.SetLimit(r.workers)
	for _, job := range claimed {
		job := job
		g.Go(func() error {
			r.process(ctx, job)
			return nil
		})
	}
	_ = g.Wait()
	return len(claimed), nil
}

// process executes one claimed job to a terminal or retryable state. All
// failures are settled here; nothing propagates to the tick.
func (r *Runner) process(ctx context.Context, job *entity.Job) {
	start := time.Now()
	log := r.log.With("job_id", job.ID, "type", job.Type, "attempt", job.Attempts)

	handler, ok := r.registry.Get(job.Type)
	if !ok {
		// Configuration error, never retried.
		log.Error("no handler registered")
		r.finalize(ctx, job, entity.StatusFailed, func() error {
			return r.store.MarkFailed(ctx, job.ID, "unknown_type", "no handler registered for type "+job.Type)
		})
		return
	}

	ex := jobs.NewExecution(job, handler.Plan(), r.store, r.notifier)
	err := handler.Run(ctx, ex)

	switch {
	case err == nil:
		r.finalize(ctx, job, entity.StatusCompleted, func() error {
			return r.store.MarkCompleted(ctx, job.ID)
		})
		log.Info("job completed", "duration_ms", time.Since(start).Milliseconds())

	case errors.Is(err, jobs.ErrCancelled):
		// The cancel endpoint already flipped the row; just stop working.
		log.Info("job cancelled between phases")

	case errors.Is(err, jobs.ErrPaused):
		log.Info("job paused between phases")

	default:
		category, code := jobs.Classify(err)
		if category.Retryable() && job.Attempts < job.MaxAttempts {
			runAfter := time.Now().Add(category.Delay(job.Attempts))
			r.finalize(ctx, job, entity.StatusRetrying, func() error {
				return r.store.MarkRetrying(ctx, job.ID, code, err.Error(), runAfter)
			})
			log.Warn("job failed, will retry",
				"category", category, "error_code", code, "run_after", runAfter, "error", err)
		} else {
			r.finalize(ctx, job, entity.StatusFailed, func() error {
				return r.store.MarkFailed(ctx, job.ID, code, err.Error())
			})
			log.Error("job failed terminally",
				"category", category, "error_code", code, "error", err)
		}
	}
}

// finalize applies the terminal update and publishes the resulting state.
// The updates are conditional on the row still being running, so a job
// cancelled mid-flight is not overwritten.
func (r *Runner) finalize(ctx context.Context, job *entity.Job, status entity.JobStatus, update func() error) {
	if err := update(); err != nil {
		r.log.Warn("finalize skipped", "job_id", job.ID, "status", status, "error", err)
		return
	}
	if r.notifier != nil {
		prog := job.Progress
		if status == entity.StatusCompleted {
			prog = 100
		}
		_ = r.notifier.Notify(ctx, jobs.Event{
			JobID:    job.ID,
			Type:     job.Type,
			Status:   status,
			Progress: prog,
		})
	}
}
