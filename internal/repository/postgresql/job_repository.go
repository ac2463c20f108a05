package postgresql

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"league-jobs-service/internal/entity"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrDuplicateDedupe means another job with the same (type, dedupe_key)
	// was inserted concurrently. Callers re-query and reuse that job.
	ErrDuplicateDedupe = errors.New("duplicate dedupe key")
)

const jobColumns = `
id, type, status, priority, payload, progress, phase, phase_progress,
attempts, max_attempts, dedupe_key, artifact_path, artifact_type,
error_code, error_message, run_after, started_at, finished_at,
created_at, updated_at`

type JobRepository struct {
	pool *pgxpool.Pool
}

func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

func scanJob(row pgx.Row) (*entity.Job, error) {
	var (
		job     entity.Job
		status  string
		payload []byte
	)
	if err := row.Scan(
		&job.ID,
		&job.Type,
		&status,
		&job.Priority,
		&payload,
		&job.Progress,
		&job.Phase,
		&job.PhaseProgress,
		&job.Attempts,
		&job.MaxAttempts,
		&job.DedupeKey,
		&job.ArtifactPath,
		&job.ArtifactType,
		&job.ErrorCode,
		&job.ErrorMessage,
		&job.RunAfter,
		&job.StartedAt,
		&job.FinishedAt,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	job.Status = entity.JobStatus(status)
	job.Payload = json.RawMessage(payload)
	return &job, nil
}

func collectJobs(rows pgx.Rows) ([]*entity.Job, error) {
	defer rows.Close()

	var out []*entity.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (r *JobRepository) Create(ctx context.Context, j *entity.Job) error {
	if len(j.Payload) == 0 {
		j.Payload = json.RawMessage(`{}`)
	}

	const q = `
INSERT INTO jobs (id, type, status, priority, payload, max_attempts, dedupe_key)
VALUES ($1, $2, 'pending', $3, $4, $5, $6)
RETURNING status, run_after, created_at, updated_at;
`
	var status string
	err := r.pool.QueryRow(ctx, q,
		j.ID, j.Type, j.Priority, j.Payload, j.MaxAttempts, j.DedupeKey,
	).Scan(&status, &j.RunAfter, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateDedupe
		}
		return err
	}
	j.Status = entity.JobStatus(status)
	return nil
}

func (r *JobRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	const q = `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1;`

	j, err := scanJob(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return j, nil
}

func (r *JobRepository) GetStatus(ctx context.Context, id uuid.UUID) (entity.JobStatus, error) {
	const q = `SELECT status FROM jobs WHERE id = $1;`

	var status string
	if err := r.pool.QueryRow(ctx, q, id).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return entity.JobStatus(status), nil
}

// FindActiveByDedupe returns the job of the given type holding the dedupe
// key, among jobs that still count for idempotent submission (anything not
// failed or cancelled).
func (r *JobRepository) FindActiveByDedupe(ctx context.Context, typ, key string) (*entity.Job, error) {
	const q = `
SELECT ` + jobColumns + `
FROM jobs
WHERE type = $1
  AND dedupe_key = $2
  AND status IN ('pending', 'running', 'retrying', 'completed')
LIMIT 1;
`
	j, err := scanJob(r.pool.QueryRow(ctx, q, typ, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return j, nil
}

// ClaimPending atomically flips up to limit claimable jobs to running and
// returns them, ordered by priority desc then created_at asc. The inner
// SELECT ... FOR UPDATE SKIP LOCKED plus the status condition make the flip
// a true compare-and-set under concurrent runners: each row goes to exactly
// one of them. Attempts count running episodes, so they increment here.
func (r *JobRepository) ClaimPending(ctx context.Context, limit int) ([]*entity.Job, error) {
	const q = `
WITH claimed AS (
    UPDATE jobs
    SET status = 'running',
        attempts = attempts + 1,
        started_at = now(),
        updated_at = now()
    WHERE id IN (
        SELECT id FROM jobs
        WHERE status IN ('pending', 'retrying')
          AND run_after <= now()
        ORDER BY priority DESC, created_at ASC
        FOR UPDATE SKIP LOCKED
        LIMIT $1
    )
    RETURNING ` + jobColumns + `
)
SELECT * FROM claimed ORDER BY priority DESC, created_at ASC;
`
	rows, err := r.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	return collectJobs(rows)
}

// ClaimStale re-claims running jobs whose last update is older than the
// threshold (a runner died or timed out mid-execution) and that still have
// attempts left. Incrementing attempts here bounds how often a crashing
// job gets re-run.
func (r *JobRepository) ClaimStale(ctx context.Context, olderThan time.Duration, limit int) ([]*entity.Job, error) {
	const q = `
WITH claimed AS (
    UPDATE jobs
    SET attempts = attempts + 1,
        started_at = now(),
        updated_at = now()
    WHERE id IN (
        SELECT id FROM jobs
        WHERE status = 'running'
          AND updated_at < now() - $1::interval
          AND attempts < max_attempts
        ORDER BY priority DESC, created_at ASC
        FOR UPDATE SKIP LOCKED
        LIMIT $2
    )
    RETURNING ` + jobColumns + `
)
SELECT * FROM claimed ORDER BY priority DESC, created_at ASC;
`
	rows, err := r.pool.Query(ctx, q, olderThan.String(), limit)
	if err != nil {
		return nil, err
	}
	return collectJobs(rows)
}

func (r *JobRepository) SetPhase(ctx context.Context, id uuid.UUID, phase string, overall int) error {
	const q = `
UPDATE jobs
SET phase = $2, phase_progress = 0, progress = GREATEST(progress, $3), updated_at = now()
WHERE id = $1;
`
	return r.exec(ctx, q, id, phase, overall)
}

func (r *JobRepository) SetPhaseProgress(ctx context.Context, id uuid.UUID, phasePct, overall int) error {
	const q = `
UPDATE jobs
SET phase_progress = $2, progress = GREATEST(progress, $3), updated_at = now()
WHERE id = $1;
`
	return r.exec(ctx, q, id, phasePct, overall)
}

func (r *JobRepository) SetArtifact(ctx context.Context, id uuid.UUID, path, contentType string) error {
	const q = `
UPDATE jobs
SET artifact_path = $2, artifact_type = $3, updated_at = now()
WHERE id = $1;
`
	return r.exec(ctx, q, id, path, contentType)
}

func (r *JobRepository) UpdatePayload(ctx context.Context, id uuid.UUID, payload json.RawMessage) error {
	const q = `UPDATE jobs SET payload = $2, updated_at = now() WHERE id = $1;`
	return r.exec(ctx, q, id, payload)
}

func (r *JobRepository) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	const q = `
UPDATE jobs
SET status = 'completed', progress = 100, phase_progress = 100,
    error_code = NULL, error_message = NULL,
    finished_at = now(), updated_at = now()
WHERE id = $1 AND status = 'running';
`
	return r.exec(ctx, q, id)
}

func (r *JobRepository) MarkFailed(ctx context.Context, id uuid.UUID, code, message string) error {
	const q = `
UPDATE jobs
SET status = 'failed', error_code = $2, error_message = $3,
    finished_at = now(), updated_at = now()
WHERE id = $1 AND status = 'running';
`
	return r.exec(ctx, q, id, code, message)
}

// MarkRetrying returns a recoverable failure to the queue. The job becomes
// claimable again once run_after passes; the error fields stay visible
// until the next attempt overwrites them.
func (r *JobRepository) MarkRetrying(ctx context.Context, id uuid.UUID, code, message string, runAfter time.Time) error {
	const q = `
UPDATE jobs
SET status = 'retrying', error_code = $2, error_message = $3,
    run_after = $4, updated_at = now()
WHERE id = $1 AND status = 'running';
`
	return r.exec(ctx, q, id, code, message, runAfter)
}

func (r *JobRepository) MarkCancelled(ctx context.Context, id uuid.UUID) error {
	const q = `
UPDATE jobs
SET status = 'cancelled', finished_at = now(), updated_at = now()
WHERE id = $1 AND status NOT IN ('completed', 'failed', 'cancelled');
`
	return r.exec(ctx, q, id)
}

func (r *JobRepository) List(ctx context.Context, status entity.JobStatus, limit, offset int) ([]*entity.Job, error) {
	const q = `
SELECT ` + jobColumns + `
FROM jobs
WHERE ($1 = '' OR status = $1)
ORDER BY created_at DESC
LIMIT $2 OFFSET $3;
`
	rows, err := r.pool.Query(ctx, q, string(status), limit, offset)
	if err != nil {
		return nil, err
	}
	return collectJobs(rows)
}

// ReapExhausted fails running jobs that went stale after their last allowed
// attempt. ClaimStale skips them, so without this janitor they would sit
// in running forever.
func (r *JobRepository) ReapExhausted(ctx context.Context, olderThan time.Duration) (int64, error) {
	const q = `
UPDATE jobs
SET status = 'failed', error_code = 'stale_timeout',
    error_message = 'runner stopped reporting progress and no attempts remain',
    finished_at = now(), updated_at = now()
WHERE status = 'running'
  AND updated_at < now() - $1::interval
  AND attempts >= max_attempts;
`
	tag, err := r.pool.Exec(ctx, q, olderThan.String())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DeleteTerminalBefore removes completed, failed and cancelled jobs whose
// last update predates the retention window. Items go with them via cascade.
func (r *JobRepository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	const q = `
DELETE FROM jobs
WHERE status IN ('completed', 'failed', 'cancelled')
  AND updated_at < $1;
`
	tag, err := r.pool.Exec(ctx, q, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *JobRepository) exec(ctx context.Context, q string, args ...any) error {
	tag, err := r.pool.Exec(ctx, q, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
