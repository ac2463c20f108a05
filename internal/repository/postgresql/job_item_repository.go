package postgresql

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"league-jobs-service/internal/entity"
)

const itemColumns = `
id, job_id, seq, status, target, error_code, error_message, started_at, finished_at`

type JobItemRepository struct {
	pool *pgxpool.Pool
}

func NewJobItemRepository(pool *pgxpool.Pool) *JobItemRepository {
	return &JobItemRepository{pool: pool}
}

func scanItem(row pgx.Row) (*entity.JobItem, error) {
	var (
		item   entity.JobItem
		status string
		target []byte
	)
	if err := row.Scan(
		&item.ID,
		&item.JobID,
		&item.Seq,
		&status,
		&target,
		&item.ErrorCode,
		&item.ErrorMessage,
		&item.StartedAt,
		&item.FinishedAt,
	); err != nil {
		return nil, err
	}
	item.Status = entity.ItemStatus(status)
	item.Target = json.RawMessage(target)
	return &item, nil
}

func collectItems(rows pgx.Rows) ([]*entity.JobItem, error) {
	defer rows.Close()

	var out []*entity.JobItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// CreateBatch fans a job out into one pending item per target. The call is
// idempotent: if the job already has items (a re-claimed stale job repeats
// its prepare phase) nothing is inserted, and ON CONFLICT (job_id, seq)
// DO NOTHING covers the race between that check and the insert.
func (r *JobItemRepository) CreateBatch(ctx context.Context, jobID uuid.UUID, targets []json.RawMessage) (int64, error) {
	const countQ = `SELECT count(*) FROM job_items WHERE job_id = $1;`

	var existing int64
	if err := r.pool.QueryRow(ctx, countQ, jobID).Scan(&existing); err != nil {
		return 0, err
	}
	if existing > 0 {
		return 0, nil
	}

	const q = `
INSERT INTO job_items (id, job_id, seq, status, target)
VALUES ($1, $2, $3, 'pending', $4)
ON CONFLICT (job_id, seq) DO NOTHING;
`
	batch := &pgx.Batch{}
	for i, target := range targets {
		if len(target) == 0 {
			target = json.RawMessage(`{}`)
		}
		batch.Queue(q, uuid.New(), jobID, i+1, target)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	var inserted int64
	for range targets {
		tag, err := br.Exec()
		if err != nil {
			return inserted, err
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}

func (r *JobItemRepository) ListByJob(ctx context.Context, jobID uuid.UUID) ([]*entity.JobItem, error) {
	const q = `SELECT ` + itemColumns + ` FROM job_items WHERE job_id = $1 ORDER BY seq;`

	rows, err := r.pool.Query(ctx, q, jobID)
	if err != nil {
		return nil, err
	}
	return collectItems(rows)
}

// ListPending returns the items a resumed run still has to process. Items
// already completed, failed or skipped by an earlier attempt stay untouched,
// which is what makes re-claiming a stale bulk job safe.
func (r *JobItemRepository) ListPending(ctx context.Context, jobID uuid.UUID) ([]*entity.JobItem, error) {
	const q = `
SELECT ` + itemColumns + `
FROM job_items
WHERE job_id = $1 AND status IN ('pending', 'running')
ORDER BY seq;
`
	rows, err := r.pool.Query(ctx, q, jobID)
	if err != nil {
		return nil, err
	}
	return collectItems(rows)
}

func (r *JobItemRepository) MarkRunning(ctx context.Context, id uuid.UUID) error {
	const q = `
UPDATE job_items
SET status = 'running', started_at = COALESCE(started_at, now())
WHERE id = $1;
`
	return r.execItem(ctx, q, id)
}

func (r *JobItemRepository) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	const q = `
UPDATE job_items
SET status = 'completed', finished_at = now()
WHERE id = $1;
`
	return r.execItem(ctx, q, id)
}

func (r *JobItemRepository) MarkFailed(ctx context.Context, id uuid.UUID, code, message string) error {
	const q = `
UPDATE job_items
SET status = 'failed', error_code = $2, error_message = $3, finished_at = now()
WHERE id = $1;
`
	return r.execItem(ctx, q, id, code, message)
}

func (r *JobItemRepository) MarkSkipped(ctx context.Context, id uuid.UUID, code, message string) error {
	const q = `
UPDATE job_items
SET status = 'skipped', error_code = $2, error_message = $3, finished_at = now()
WHERE id = $1;
`
	return r.execItem(ctx, q, id, code, message)
}

func (r *JobItemRepository) CountByStatus(ctx context.Context, jobID uuid.UUID) (map[entity.ItemStatus]int, error) {
	const q = `SELECT status, count(*) FROM job_items WHERE job_id = $1 GROUP BY status;`

	rows, err := r.pool.Query(ctx, q, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[entity.ItemStatus]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[entity.ItemStatus(status)] = n
	}
	return counts, rows.Err()
}

func (r *JobItemRepository) execItem(ctx context.Context, q string, args ...any) error {
	tag, err := r.pool.Exec(ctx, q, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
